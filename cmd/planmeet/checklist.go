package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/planmeet/planmeet/internal/checklist"
	"github.com/planmeet/planmeet/internal/checklist/dynamostore"
	"github.com/planmeet/planmeet/internal/checklist/redisstore"
	"github.com/planmeet/planmeet/internal/config"
	"github.com/planmeet/planmeet/internal/server"
)

// checklistCmd builds the "checklist" subcommand.
func (a *app) checklistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checklist",
		Short: "Serve the checklist board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if err := cfg.ValidateChecklist(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runChecklist(ctx, cfg, logger.Named("checklist"))
		},
	}
	cmd.Flags().String("addr", "", "listen address")
	_ = a.v.BindPFlag("checklist.addr", cmd.Flags().Lookup("addr"))
	cmd.Flags().String("store", "", "store driver (redis, dynamodb)")
	_ = a.v.BindPFlag("store.driver", cmd.Flags().Lookup("store"))
	return cmd
}

// runChecklist serves the checklist board until ctx is done.
func runChecklist(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	err = retryStartup(ctx, logger, "store ping", func() error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Store.Timeout)
		defer cancel()
		return store.Ping(pingCtx)
	})
	if err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}

	reader, err := newActorReader(ctx, cfg, logger)
	if err != nil {
		return err
	}

	svc := checklist.NewService(store, logger, checklist.WithStoreTimeout(cfg.Store.Timeout))
	r := server.NewEngine(server.EngineOptions{
		Service:        "checklist",
		Logger:         logger,
		AllowedOrigins: cfg.Checklist.AllowedOrigins,
		Health:         "Checklist service is running",
	})
	server.NewChecklistHandler(svc, logger).Register(r, reader)

	logger.Info("starting checklist service",
		zap.String("addr", cfg.Checklist.Addr), zap.String("store", cfg.Store.Driver), zap.String("identity", cfg.Identity.Mode))
	return server.Run(ctx, server.NewHTTPServer(cfg.Checklist, r), logger, cfg.Checklist.ShutdownTimeout)
}

// openStore builds the configured store. The returned func releases it.
func openStore(cfg *config.Config) (checklist.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		return redisstore.New(client), func() { _ = client.Close() }, nil
	case config.DriverDynamoDB:
		awsCfg := aws.NewConfig()
		if cfg.Store.DynamoDB.Region != "" {
			awsCfg = awsCfg.WithRegion(cfg.Store.DynamoDB.Region)
		}
		if cfg.Store.DynamoDB.Endpoint != "" {
			awsCfg = awsCfg.WithEndpoint(cfg.Store.DynamoDB.Endpoint)
		}
		sess, err := session.NewSessionWithOptions(session.Options{
			Config:            *awsCfg,
			SharedConfigState: session.SharedConfigEnable,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create aws session: %w", err)
		}
		return dynamostore.New(dynamodb.New(sess), cfg.Store.DynamoDB.Table), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
