// Package main is the entry point for the ratewall service.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/valexry/ratewall/internal/config"
	"github.com/valexry/ratewall/internal/health"
	"github.com/valexry/ratewall/internal/observability"
	"github.com/valexry/ratewall/internal/ratelimit"
	"github.com/valexry/ratewall/internal/ratelimit/store"
	"github.com/valexry/ratewall/internal/server"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)

	run(cfg, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("RATEWALL_CONFIG_PATH", "configs/ratewall.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("RATEWALL_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("RATEWALL_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("ratewall version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting ratewall",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	if err := config.Validate(cfg); err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.String("strategy", cfg.Limiter.Strategy),
		observability.Int("max_requests", cfg.Limiter.MaxRequests),
		observability.Duration("window", cfg.Limiter.Window.Duration()),
		observability.String("failure_policy", cfg.Limiter.FailurePolicy),
		observability.Bool("fallback_enabled", cfg.Limiter.FallbackEnabled),
	)

	return cfg
}

// buildLimiter constructs the configured limiter over the given store.
func buildLimiter(cfg *config.Config, s store.Store, logger observability.Logger) (ratelimit.Limiter, error) {
	return ratelimit.New(&ratelimit.FactoryConfig{
		Strategy:        ratelimit.Strategy(cfg.Limiter.Strategy),
		MaxRequests:     cfg.Limiter.MaxRequests,
		Window:          cfg.Limiter.Window.Duration(),
		FallbackEnabled: cfg.Limiter.FallbackEnabled,
		Logger:          logger.Zap(),
	}, s)
}

// run wires the store, limiter, and server together and blocks until
// shutdown.
func run(cfg *config.Config, configPath string, logger observability.Logger) {
	redisStore, err := store.NewRedisStore(&store.RedisConfig{
		Address:      cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		Prefix:       cfg.Redis.Prefix,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout.Duration(),
		ReadTimeout:  cfg.Redis.ReadTimeout.Duration(),
		WriteTimeout: cfg.Redis.WriteTimeout.Duration(),
		Logger:       logger.Zap(),
	})
	if err != nil {
		logger.Fatal("failed to connect to counter store", observability.Error(err))
	}
	defer func() { _ = redisStore.Close() }()

	limiter, err := buildLimiter(cfg, redisStore, logger)
	if err != nil {
		logger.Fatal("failed to build limiter", observability.Error(err))
	}

	// Hot reload swaps the limiter on quota changes without dropping
	// in-flight checks.
	dynamic := ratelimit.NewDynamicLimiter(limiter)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		replacement, buildErr := buildLimiter(next, redisStore, logger)
		if buildErr != nil {
			logger.Error("config reload kept previous limiter", observability.Error(buildErr))
			return
		}
		// The previous limiter may own an in-process fallback store whose
		// cleanup goroutine must not outlive the swap.
		if prev, ok := dynamic.Swap(replacement).(io.Closer); ok {
			_ = prev.Close()
		}
		logger.Info("limiter configuration reloaded",
			observability.String("strategy", next.Limiter.Strategy),
			observability.Int("max_requests", next.Limiter.MaxRequests),
			observability.Duration("window", next.Limiter.Window.Duration()),
		)
	}, config.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to create config watcher", observability.Error(err))
	}
	if err := watcher.Start(ctx); err != nil {
		logger.Fatal("failed to start config watcher", observability.Error(err))
	}
	defer func() { _ = watcher.Stop() }()

	healthHandler := health.NewHandler(logger.Zap())
	healthHandler.AddCheck(health.NewCheckFunc("redis", redisStore.Ping))

	srv := server.New(&server.Config{
		Address:         cfg.Server.Address,
		ReadTimeout:     cfg.Server.ReadTimeout.Duration(),
		WriteTimeout:    cfg.Server.WriteTimeout.Duration(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
		FailOpen:        cfg.Limiter.FailurePolicy == config.FailOpen,
		GuardRPS:        100,
		GuardBurst:      200,
	}, dynamic, healthHandler, logger.Zap())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", observability.Error(err))
		}
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("graceful shutdown failed", observability.Error(err))
	}

	logger.Info("ratewall stopped")
}

// getEnvOrDefault returns the environment value or a default.
func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
