package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/planmeet/planmeet/internal/authgw"
	"github.com/planmeet/planmeet/internal/config"
	"github.com/planmeet/planmeet/internal/server"
)

// authCmd builds the "auth" subcommand.
func (a *app) authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Serve the authentication gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if err := cfg.ValidateGateway(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runGateway(ctx, cfg, logger.Named("auth"))
		},
	}
	cmd.Flags().String("addr", "", "listen address")
	_ = a.v.BindPFlag("gateway.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

// runGateway serves the gateway until ctx is done.
func runGateway(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	reader, err := newActorReader(ctx, cfg, logger)
	if err != nil {
		return err
	}

	client := authgw.NewClient(authgw.Options{
		URL:          cfg.Keycloak.URL,
		Realm:        cfg.Keycloak.Realm,
		ClientID:     cfg.Keycloak.ClientID,
		ClientSecret: cfg.Keycloak.ClientSecret,
		Timeout:      cfg.Keycloak.Timeout,
	}, logger)

	r := server.NewEngine(server.EngineOptions{
		Service:        "auth",
		Logger:         logger,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		Health:         "Authentication Service is Running",
	})
	authgw.NewHandler(client, logger).Register(r, reader)

	logger.Info("starting authentication gateway",
		zap.String("addr", cfg.Gateway.Addr), zap.String("realm", cfg.Keycloak.Realm))
	return server.Run(ctx, server.NewHTTPServer(cfg.Gateway, r), logger, cfg.Gateway.ShutdownTimeout)
}
