package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/safar/order-lifecycle/internal/config"
	"github.com/safar/order-lifecycle/internal/database"
	"github.com/safar/order-lifecycle/internal/logging"
	"github.com/safar/order-lifecycle/internal/notify"
	"github.com/safar/order-lifecycle/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "notifier: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	publisher, err := notify.DialAMQP(cfg.RabbitMQ)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer publisher.Close()

	dispatcher := notify.NewDispatcher(store.NewPostgresRepository(db), publisher, cfg.Outbox, logger)

	// Runs never overlap.
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.Outbox.Schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, cfg.Outbox.RunTimeout)
		defer cancel()
		if _, err := dispatcher.RunOnce(runCtx); err != nil {
			logger.Error("outbox run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", cfg.Outbox.Schedule, err)
	}

	c.Start()
	logger.Info("notifier started", zap.String("schedule", cfg.Outbox.Schedule))

	<-ctx.Done()
	logger.Info("shutting down")
	<-c.Stop().Done()
	return nil
}
