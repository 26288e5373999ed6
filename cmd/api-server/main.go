package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hackgods/tenant-resource-scheduling/internal/api"
	"github.com/hackgods/tenant-resource-scheduling/internal/audit"
	"github.com/hackgods/tenant-resource-scheduling/internal/config"
	"github.com/hackgods/tenant-resource-scheduling/internal/db"
	"github.com/hackgods/tenant-resource-scheduling/internal/logger"
	redisclient "github.com/hackgods/tenant-resource-scheduling/internal/redis"
	"github.com/hackgods/tenant-resource-scheduling/internal/scheduling"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "api-server",
		Short: "Multi-tenant resource scheduling API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			log := logger.New(cfg.Env, cfg.LogLevel, "migrate")

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return fmt.Errorf("postgres connection: %w", err)
			}
			defer pool.Close()

			applied, err := db.Migrate(ctx, pool)
			if err != nil {
				return err
			}
			log.Info().Strs("applied", applied).Msg("migrations complete")
			return nil
		},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	log := logger.New(cfg.Env, cfg.LogLevel, "api-server")
	log.Info().Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

	// The emitter outlives the HTTP server so in-flight audit events are
	// flushed to the outbox after the last request finishes.
	emitterCtx, stopEmitter := context.WithCancel(context.Background())
	emitter := audit.NewAsyncEmitter(audit.NewPgOutbox(pgPool), cfg.AuditBufferSize, log)
	go emitter.Run(emitterCtx)

	svc := scheduling.NewService(
		scheduling.NewPgRepository(pgPool),
		redisclient.NewRedisSubjectLocker(rdb, cfg.LockTTL),
		emitter,
		log,
		scheduling.WithIntervalPolicy(scheduling.IntervalPolicy{
			RejectPast:  cfg.RejectPastBookings,
			MaxDuration: cfg.MaxBookingDuration,
		}),
	)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service:            svc,
			PgPool:             pgPool,
			Redis:              rdb,
			Logger:             log,
			Env:                cfg.Env,
			Version:            version,
			RateLimitPerMinute: cfg.RateLimitPerMinute,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutting down api-server")
	case err := <-serveErr:
		if err != nil {
			stopEmitter()
			<-emitter.Done()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}

	stopEmitter()
	select {
	case <-emitter.Done():
	case <-shutdownCtx.Done():
		log.Warn().Msg("audit emitter did not drain before shutdown timeout")
	}

	log.Info().Msg("api-server stopped")
	return nil
}
