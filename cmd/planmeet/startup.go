package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"

	"github.com/planmeet/planmeet/internal/config"
	"github.com/planmeet/planmeet/internal/identity"
	"github.com/planmeet/planmeet/internal/server"
)

const startupRetries = 6

// retryStartup runs op with exponential backoff until it succeeds, the
// retries run out or ctx is done.
func retryStartup(ctx context.Context, logger *zap.Logger, what string, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	b := backoff.WithContext(backoff.WithMaxRetries(bo, startupRetries), ctx)
	return backoff.RetryNotify(op, b, func(err error, next time.Duration) {
		logger.Warn("startup step failed, retrying", zap.String("step", what), zap.Error(err), zap.Duration("in", next))
	})
}

// newActorReader builds the claims reader for cfg.Identity.Mode.
func newActorReader(ctx context.Context, cfg *config.Config, logger *zap.Logger) (server.ActorReader, error) {
	policy := cfg.Policy()
	if cfg.Identity.Mode == config.ModeDecode {
		logger.Warn("token signatures are not verified by this service")
		return identity.NewDecodingReader(policy), nil
	}

	issuer := cfg.IssuerURL()
	var verifier *oidc.IDTokenVerifier
	err := retryStartup(ctx, logger, "oidc discovery", func() error {
		discoverCtx, cancel := context.WithTimeout(ctx, cfg.Identity.Timeout)
		defer cancel()
		v, err := identity.NewProviderVerifier(discoverCtx, issuer, cfg.Identity.ClientID)
		if err != nil {
			return err
		}
		verifier = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover issuer %s: %w", issuer, err)
	}
	return identity.NewVerifyingReader(policy, verifier, cfg.Identity.Timeout), nil
}
