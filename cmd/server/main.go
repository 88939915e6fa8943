// Package main is the entry point for the inventory server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/vyrodovalexey/inventory-tracker/internal/auth"
	"github.com/vyrodovalexey/inventory-tracker/internal/config"
	"github.com/vyrodovalexey/inventory-tracker/internal/inventory"
	"github.com/vyrodovalexey/inventory-tracker/internal/server"
	"github.com/vyrodovalexey/inventory-tracker/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		basicLogger, _ := zap.NewProduction()
		basicLogger.Error("failed to load configuration", zap.Error(err))
		return 1
	}

	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		basicLogger, _ := zap.NewProduction()
		basicLogger.Error("failed to initialize logger", zap.Error(err))
		return 1
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("configuration loaded",
		zap.Int("server_port", cfg.ServerPort),
		zap.Int("probe_port", cfg.ProbePort),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("shutdown_timeout", cfg.ShutdownTimeout),
		zap.Bool("metrics_enabled", cfg.MetricsEnabled),
		zap.String("auth_mode", cfg.AuthMode),
		zap.String("store_driver", cfg.StoreDriver),
		zap.Duration("search_debounce", cfg.SearchDebounce),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}

// serve runs the API server, the probe server and the store watcher until
// ctx is cancelled or one of them fails.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	authenticator, err := createAuthenticator(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating authenticator: %w", err)
	}

	backend, closeBackend, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	if cfg.SeedFile != "" {
		n, err := store.Seed(ctx, backend, cfg.SeedFile)
		if err != nil {
			return fmt.Errorf("seeding store: %w", err)
		}
		logger.Info("store seeded", zap.String("file", cfg.SeedFile), zap.Int("items", n))
	}

	live := store.NewLive(backend, logger)
	registry := inventory.NewRegistry(live, inventory.Options{
		Logger:      logger,
		ErrorBuffer: cfg.MutationErrorBuffer,
		QueueSize:   cfg.MutationQueueSize,
	})
	defer registry.Close()

	srv := server.New(cfg, logger, server.Deps{
		Live:          live,
		Registry:      registry,
		Authenticator: authenticator,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(srv.StartProbe)
	g.Go(func() error {
		return live.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown started")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStore connects the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreMemory, "":
		logger.Info("using in-memory store")
		return store.NewMemoryStore(), func() {}, nil
	case config.StorePostgres:
		pg, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres store: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("opening postgres store: %w", err)
		}
		logger.Info("using postgres store")
		return pg, pg.Close, nil
	case config.StoreRedis:
		rs, err := store.NewRedisStore(store.RedisConfig{
			Addrs:     cfg.RedisAddrs,
			Username:  cfg.RedisUsername,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("opening redis store: %w", err)
		}
		logger.Info("using redis store", zap.Strings("addrs", cfg.RedisAddrs))
		return rs, rs.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver: %s", cfg.StoreDriver)
	}
}

// initLogger initializes a JSON zap logger with the specified log level.
func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	zapConfig := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapConfig.Build()
}

// createAuthenticator builds the write authenticator for the auth mode.
// It returns nil when writes are open.
func createAuthenticator(cfg *config.Config, logger *zap.Logger) (auth.Authenticator, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone, "":
		logger.Warn("authentication disabled, writes are open")
		return nil, nil
	case config.AuthModeBasic:
		logger.Info("authentication mode: basic auth")
		return auth.NewBasicAuthenticator(cfg.BasicAuthUsers)
	case config.AuthModeAPIKey:
		logger.Info("authentication mode: API key")
		return auth.NewAPIKeyAuthenticator(cfg.APIKeys)
	case config.AuthModeMulti:
		logger.Info("authentication mode: multi")
		return createMultiAuthenticator(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown auth mode: %s", cfg.AuthMode)
	}
}

// createMultiAuthenticator accepts API keys first, then Basic credentials.
func createMultiAuthenticator(cfg *config.Config, logger *zap.Logger) (auth.Authenticator, error) {
	var authenticators []auth.Authenticator

	if cfg.APIKeys != "" {
		ak, err := auth.NewAPIKeyAuthenticator(cfg.APIKeys)
		if err != nil {
			return nil, fmt.Errorf("creating API key authenticator: %w", err)
		}
		authenticators = append(authenticators, ak)
		logger.Info("multi-auth: API key auth enabled")
	}

	if cfg.BasicAuthUsers != "" {
		ba, err := auth.NewBasicAuthenticator(cfg.BasicAuthUsers)
		if err != nil {
			return nil, fmt.Errorf("creating basic authenticator: %w", err)
		}
		authenticators = append(authenticators, ba)
		logger.Info("multi-auth: basic auth enabled")
	}

	if len(authenticators) == 0 {
		return nil, errors.New("multi auth mode requires at least one authenticator")
	}

	return auth.NewMultiAuthenticator(authenticators...), nil
}
