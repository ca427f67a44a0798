package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/capital-g/dyngend/internal/config"
	"github.com/capital-g/dyngend/internal/domain"
	"github.com/capital-g/dyngend/internal/dyngen"
	"github.com/capital-g/dyngend/internal/logging"
	"github.com/capital-g/dyngend/internal/metrics"
	"github.com/capital-g/dyngend/internal/observability"
	"github.com/capital-g/dyngend/internal/pubsub"
	"github.com/capital-g/dyngend/internal/rpc"
	"github.com/capital-g/dyngend/internal/scriptstore"
	"github.com/capital-g/dyngend/internal/store"
	"github.com/capital-g/dyngend/internal/vm"
)

func serveCmd() *cobra.Command {
	var (
		httpAddr    string
		nrtWorkers  int
		pgDSN       string
		redisAddr   string
		logLevel    string
		preloadPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dyngend daemon (scheduler + HTTP control surface)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("http") {
				cfg.HTTP.Addr = httpAddr
			}
			if cmd.Flags().Changed("nrt-workers") {
				cfg.Scheduler.NRTWorkers = nrtWorkers
			}
			if cmd.Flags().Changed("pg-dsn") {
				cfg.Postgres.DSN = pgDSN
			}
			if cmd.Flags().Changed("redis-addr") {
				cfg.Redis.Addr = redisAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Observability.Logging.Level = logLevel
			}

			logging.SetLevelFromString(cfg.Observability.Logging.Level)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)
			logging.SetIncludeTraceID(cfg.Observability.Logging.IncludeTraceID)

			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(
					cfg.Observability.Metrics.Namespace,
					cfg.Observability.Metrics.HistogramBuckets,
				)
			}

			factory := vm.NewGojaFactory()
			svc := dyngen.Start(factory, cfg.Scheduler.NRTWorkers)

			if cfg.Postgres.DSN != "" {
				pgStore, err := store.Open(context.Background(), cfg.Postgres.DSN)
				if err != nil {
					return fmt.Errorf("connect postgres: %w", err)
				}
				svc.WithPersistence(pgStore)
				if err := svc.Rehydrate(context.Background()); err != nil {
					logging.Op().Warn("rehydrate from postgres failed", "error", err)
				}
			}

			if cfg.Redis.Addr != "" {
				client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
				svc.WithBroadcaster(pubsub.NewRedisBroadcaster(client))
			} else {
				svc.WithBroadcaster(pubsub.NewLocalBroadcaster())
			}

			if preloadPath != "" {
				manifest, err := config.LoadPreloadManifest(preloadPath)
				if err != nil {
					return fmt.Errorf("load preload manifest: %w", err)
				}
				loader := scriptstore.NewLoader()
				for _, b := range manifest.Scripts {
					source, err := loader.Load(context.Background(), b.Path)
					if err != nil {
						logging.Op().Warn("preload script failed", "hash", b.Hash, "path", b.Path, "error", err)
						continue
					}
					svc.AddScript(domain.ScriptHash(b.Hash), source, b.Params)
				}
			}

			server := rpc.NewServer(svc)
			httpServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: server.Handler()}

			go func() {
				logging.Op().Info("dyngend HTTP control surface started", "addr", cfg.HTTP.Addr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Op().Error("http server error", "error", err)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logging.Op().Info("shutdown signal received")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(ctx)
			svc.Close()
			return nil
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", ":8090", "HTTP control surface address")
	cmd.Flags().IntVar(&nrtWorkers, "nrt-workers", 0, "NRT worker pool size (0 = GOMAXPROCS)")
	cmd.Flags().StringVar(&pgDSN, "pg-dsn", "", "Postgres DSN for the optional durability side-channel")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "", "Redis address for cross-process script fanout (empty = in-process only)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&preloadPath, "preload", "", "YAML manifest of scripts to publish at startup")

	return cmd
}
