package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/minyanly/dirclient/internal/cache"
	"github.com/minyanly/dirclient/internal/client"
	"github.com/minyanly/dirclient/internal/config"
	"github.com/minyanly/dirclient/internal/directory"
	"github.com/minyanly/dirclient/internal/logging"
	"github.com/minyanly/dirclient/internal/metrics"
	"github.com/minyanly/dirclient/internal/observability"
)

var (
	cfgPath   string
	baseURL   string
	authToken string
	logLevel  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dirctl",
		Short: "dirctl - community directory API client",
		Long:  "Ops CLI for the Minyanly directory backend: fetch listings, inspect the request pipeline, manage the response cache",
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Backend base URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		getCmd(),
		listCmd(),
		requestCmd(),
		statusCmd(),
		invalidateCmd(),
		metricsCmd(),
		configCmd(),
	)

	err := rootCmd.Execute()
	if serr := observability.Shutdown(context.Background()); serr != nil {
		logging.Op().Warn("telemetry shutdown failed", "error", serr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if cfgPath != "" {
		loaded, err := config.LoadFromFile(cfgPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)

	if baseURL != "" {
		cfg.Backend.BaseURL = baseURL
	}
	if authToken != "" {
		cfg.Backend.AuthToken = authToken
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// newClient builds the pipeline from config and initializes logging and
// tracing for the lifetime of the command.
func newClient(ctx context.Context) (*client.Client, *directory.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logging.InitStructured(cfg.Log.Format, cfg.Log.Level)

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,
	}); err != nil {
		logging.Op().Warn("telemetry init failed, tracing disabled", "error", err)
	}
	if observability.Enabled() {
		logging.Op().Debug("tracing enabled", "endpoint", cfg.Telemetry.Endpoint)
	}

	var opts []client.Option
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		l1 := cache.NewInMemoryCache(cfg.Cache.MaxEntries)
		l2 := cache.NewRedisCacheFromClient(rdb, "")
		opts = append(opts,
			client.WithCache(cache.NewTieredCache(l1, l2, cfg.Cache.L1TTL)),
			client.WithInvalidator(cache.NewInvalidator(l1, rdb)),
		)
	}
	if cfg.Metrics.SinkURL != "" {
		rec := metrics.NewRecorder(&metrics.HTTPSink{URL: cfg.Metrics.SinkURL},
			cfg.Metrics.FlushInterval, cfg.Metrics.MaxQueue)
		rec.Start()
		opts = append(opts, client.WithRecorder(rec))
	}

	c := client.New(cfg, opts...)
	return c, directory.NewService(c), nil
}
