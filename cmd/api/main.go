package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/safar/order-lifecycle/internal/api"
	"github.com/safar/order-lifecycle/internal/config"
	"github.com/safar/order-lifecycle/internal/database"
	"github.com/safar/order-lifecycle/internal/idempotency"
	"github.com/safar/order-lifecycle/internal/logging"
	"github.com/safar/order-lifecycle/internal/service"
	"github.com/safar/order-lifecycle/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
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
	logger.Info("connected to database")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	deps := service.Deps{
		Repo:           store.NewPostgresRepository(db),
		Idempotency:    idempotency.NewRedisStore(rdb),
		IdempotencyTTL: cfg.Redis.IdempotencyTTL,
		Pricing: service.Pricing{
			DeliveryCharge: cfg.Lifecycle.DeliveryCharge,
			TaxRate:        cfg.Lifecycle.TaxRate,
		},
		RefundWindow: cfg.Lifecycle.RefundWindow,
		Currency:     cfg.Lifecycle.Currency,
		Logger:       logger,
	}
	orders, err := service.NewOrderService(deps)
	if err != nil {
		return err
	}
	refunds, err := service.NewRefundService(deps)
	if err != nil {
		return err
	}

	gin.SetMode(cfg.Server.GinMode)
	router := api.NewRouter(api.NewHandler(orders, refunds), api.RouterConfig{
		JWTSecret: cfg.Auth.JWTSecret,
		Logger:    logger,
		Ping:      db.PingContext,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
