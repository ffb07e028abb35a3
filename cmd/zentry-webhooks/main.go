package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zentryhq/zentry-webhooks/internal/api"
	"github.com/zentryhq/zentry-webhooks/internal/config"
	"github.com/zentryhq/zentry-webhooks/internal/delivery"
	"github.com/zentryhq/zentry-webhooks/internal/observability"
	"github.com/zentryhq/zentry-webhooks/internal/registry"
	"github.com/zentryhq/zentry-webhooks/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "zentry-webhooks",
		Short:        "Zentry webhook notifications for chat destinations",
		SilenceUsage: true,
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(integrationCmd(&configPath))
	rootCmd.AddCommand(testCmd(&configPath))
	rootCmd.AddCommand(attemptsCmd(&configPath))
	rootCmd.AddCommand(retryCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// components is the wired delivery engine shared by serve and the operator
// commands.
type components struct {
	cfg        *config.Config
	log        zerolog.Logger
	store      storage.Storage
	registry   *registry.Registry
	dispatcher *delivery.Dispatcher
	retrier    *delivery.Retrier
}

func (c *components) Close() {
	c.store.Close()
}

func buildComponents(ctx context.Context, configPath string) (*components, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)

	store, err := setupStorage(ctx, cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	reg := registry.New(store, log)
	sender := delivery.NewSender(cfg.Delivery.Timeout, cfg.Delivery.RateLimit, cfg.Delivery.RateBurst)
	dispatcher := delivery.NewDispatcher(reg, store, sender, cfg.Delivery.Parallelism, log)
	retrier := delivery.NewRetrier(store, dispatcher, cfg.Delivery.AutoRetry.Schedule, log)

	return &components{
		cfg:        cfg,
		log:        log,
		store:      store,
		registry:   reg,
		dispatcher: dispatcher,
		retrier:    retrier,
	}, nil
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook dispatcher and management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			c, err := buildComponents(ctx, *configPath)
			if err != nil {
				return err
			}
			defer c.Close()
			cfg, log := c.cfg, c.log

			if cfg.Metrics.Enabled {
				observability.Register(prometheus.DefaultRegisterer)
			}

			pool := delivery.NewPool(cfg.Delivery, c.dispatcher, c.retrier, log)
			pool.Start(ctx)

			server := api.NewServer(cfg.Server, cfg.Metrics, api.Dependencies{
				Store:      c.store,
				Registry:   c.registry,
				Dispatcher: c.dispatcher,
				Retrier:    c.retrier,
				Events:     pool,
			}, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Int("workers", cfg.Delivery.Workers).
				Str("storage", cfg.Storage.Driver).
				Bool("auto_retry", cfg.Delivery.AutoRetry.Enabled).
				Msg("zentry-webhooks is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			pool.Stop()

			log.Info().Msg("zentry-webhooks stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildComponents(context.Background(), *configPath)
			if err != nil {
				return err
			}
			defer c.Close()

			c.log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func testCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <integration_id>",
		Short: "Send a test notification to an integration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")

			c, err := buildComponents(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer c.Close()

			a, err := c.dispatcher.TestIntegration(cmd.Context(), args[0], message)
			if err != nil {
				return err
			}
			return printJSON(a)
		},
	}
	cmd.Flags().String("message", "", "message to include (default \""+delivery.DefaultTestMessage+"\")")
	return cmd
}

func retryCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <attempt_id>",
		Short: "Retry a failed delivery attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildComponents(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer c.Close()

			a, err := c.retrier.Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(a)
		},
	}
}

func statsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show delivery stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, _ := cmd.Flags().GetString("project")

			c, err := buildComponents(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer c.Close()

			stats, err := c.store.GetStats(cmd.Context(), project)
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}
			return printJSON(stats)
		},
	}
	cmd.Flags().String("project", "", "restrict to one project")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("zentry-webhooks v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func setupStorage(ctx context.Context, cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return nil, fmt.Errorf("storage.postgres.dsn is required for the postgres driver")
		}
		log.Info().Int32("max_conns", cfg.Postgres.MaxConns).Msg("using PostgreSQL storage")
		return storage.NewPostgres(ctx, cfg.Postgres.DSN, storage.PoolOptions{
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			MaxConnIdleTime: cfg.Postgres.MaxConnIdleTime,
		})
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
