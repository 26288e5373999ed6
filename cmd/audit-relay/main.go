package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hackgods/tenant-resource-scheduling/internal/audit"
	"github.com/hackgods/tenant-resource-scheduling/internal/config"
	"github.com/hackgods/tenant-resource-scheduling/internal/db"
	"github.com/hackgods/tenant-resource-scheduling/internal/logger"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx); err != nil {
		bootLog := logger.New("", "info", "audit-relay")
		bootLog.Error().Err(err).Msg("audit-relay failed")
		stop()
		os.Exit(1)
	}
}

// run blocks until ctx ends, relaying outbox events to RabbitMQ.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	log := logger.New(cfg.Env, cfg.LogLevel, "audit-relay")
	log.Info().
		Dur("interval", cfg.RelayInterval).
		Int("batch_size", cfg.RelayBatchSize).
		Msg("audit-relay starting up")

	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return fmt.Errorf("rabbitmq connection: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Error().Err(err).Msg("error closing rabbitmq connection")
		}
	}()

	publisher, err := audit.NewAMQPPublisher(conn, cfg.AuditExchange, cfg.AuditRoutingKey)
	if err != nil {
		return fmt.Errorf("rabbitmq publisher setup: %w", err)
	}
	defer publisher.Close()
	log.Info().
		Str("exchange", cfg.AuditExchange).
		Str("routing_key", cfg.AuditRoutingKey).
		Msg("connected to RabbitMQ")

	relay := audit.NewRelay(audit.NewPgOutbox(pgPool), publisher, cfg.RelayBatchSize, log)
	relay.Run(ctx, cfg.RelayInterval)
	return nil
}
