package identity

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt"

	"github.com/planmeet/planmeet/internal/apperr"
)

const opRead = "identity.read"

// Valid implements jwt.Claims. Only expiry is checked; everything else is the
// provider's job.
func (c *Claims) Valid() error {
	if c.ExpiresAt != 0 && time.Now().Unix() > c.ExpiresAt {
		return jwt.NewValidationError("token is expired", jwt.ValidationErrorExpired)
	}
	return nil
}

// Verifier checks a raw token and returns its verified form.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*oidc.IDToken, error)
}

// Reader reads an Actor out of a bearer credential.
type Reader struct {
	policy   Policy
	verifier Verifier
	parser   *jwt.Parser
	timeout  time.Duration
}

// NewDecodingReader returns a Reader that parses tokens without checking the
// signature. Signature validation is left to the provider in front of the
// service.
func NewDecodingReader(policy Policy) *Reader {
	return &Reader{policy: policy, parser: &jwt.Parser{}}
}

// NewVerifyingReader returns a Reader that verifies every token with v.
func NewVerifyingReader(policy Policy, v Verifier, timeout time.Duration) *Reader {
	return &Reader{policy: policy, verifier: v, timeout: timeout}
}

// NewProviderVerifier discovers the issuer and returns a verifier bound to
// its key set. An empty clientID disables the audience check.
func NewProviderVerifier(ctx context.Context, issuerURL, clientID string) (*oidc.IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, err
	}
	return provider.Verifier(&oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: clientID == "",
	}), nil
}

// Read returns the actor the credential belongs to.
func (r *Reader) Read(ctx context.Context, credential string) (Actor, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Actor{}, apperr.Unauthenticated(opRead, "missing credential")
	}

	claims, err := r.claims(ctx, credential)
	if err != nil {
		return Actor{}, err
	}
	return r.policy.Actor(claims), nil
}

func (r *Reader) claims(ctx context.Context, credential string) (*Claims, error) {
	claims := &Claims{}
	if r.verifier == nil {
		if _, _, err := r.parser.ParseUnverified(credential, claims); err != nil {
			return nil, apperr.Wrap(apperr.KindUnauthenticated, opRead, "", err)
		}
		if err := claims.Valid(); err != nil {
			return nil, apperr.Wrap(apperr.KindUnauthenticated, opRead, "", err)
		}
		return claims, nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	token, err := r.verifier.Verify(ctx, credential)
	if err != nil {
		if unreachable(ctx, err) {
			return nil, apperr.Wrap(apperr.KindIdentityUnavailable, opRead, "", err)
		}
		return nil, apperr.Wrap(apperr.KindUnauthenticated, opRead, "", err)
	}
	if err := token.Claims(claims); err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthenticated, opRead, "", err)
	}
	return claims, nil
}

func unreachable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ExtractBearer returns the token of an "Authorization: Bearer <token>"
// header value, or "" when the header has another shape.
func ExtractBearer(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
