package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/safar/order-lifecycle/internal/config"
	"github.com/safar/order-lifecycle/internal/metrics"
	"github.com/safar/order-lifecycle/internal/models"
	"github.com/safar/order-lifecycle/internal/store"
)

// Outbox is the storage the dispatcher needs. store.Repository satisfies it.
type Outbox interface {
	InTx(ctx context.Context, fn func(store.Tx) error) error
}

// Dispatcher publishes due outbox rows. It only ever touches the
// notifications table.
type Dispatcher struct {
	outbox      Outbox
	publisher   Publisher
	batchSize   int
	maxAttempts int
	baseBackoff time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

func NewDispatcher(outbox Outbox, publisher Publisher, cfg config.OutboxConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		outbox:      outbox,
		publisher:   publisher,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		now:         time.Now,
		logger:      logger,
	}
}

// Result counts what one RunOnce did.
type Result struct {
	Sent    int
	Retried int
	Failed  int
}

// RunOnce claims one batch and publishes it. Rows stay locked until the batch
// is recorded, so concurrent dispatchers never publish the same row twice.
func (d *Dispatcher) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	err := d.outbox.InTx(ctx, func(tx store.Tx) error {
		res = Result{}
		now := d.now()
		batch, err := tx.ClaimPendingNotifications(ctx, now, d.batchSize)
		if err != nil {
			return err
		}

		for _, n := range batch {
			if err := d.deliver(ctx, tx, n, now, &res); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("dispatch notifications: %w", err)
	}
	return res, nil
}

func (d *Dispatcher) deliver(ctx context.Context, tx store.Tx, n models.Notification, now time.Time, res *Result) error {
	log := d.logger.With(
		zap.String("notification_id", n.ID.String()),
		zap.String("kind", string(n.Kind)),
	)

	pubErr := d.publisher.Publish(ctx, n)
	if pubErr == nil {
		if err := tx.MarkNotificationSent(ctx, n.ID, now); err != nil {
			return err
		}
		res.Sent++
		metrics.RecordNotification(string(n.Kind), "sent")
		log.Debug("notification published")
		return nil
	}

	attempts := n.Attempts + 1
	if attempts >= d.maxAttempts {
		if err := tx.MarkNotificationFailed(ctx, n.ID, pubErr.Error()); err != nil {
			return err
		}
		res.Failed++
		metrics.RecordNotification(string(n.Kind), "failed")
		log.Error("notification abandoned", zap.Int("attempts", attempts), zap.Error(pubErr))
		return nil
	}

	next := now.Add(Backoff(d.baseBackoff, attempts))
	if err := tx.MarkNotificationRetry(ctx, n.ID, pubErr.Error(), next); err != nil {
		return err
	}
	res.Retried++
	metrics.RecordNotification(string(n.Kind), "retry")
	log.Warn("notification publish failed",
		zap.Int("attempts", attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(pubErr),
	)
	return nil
}

// Backoff is base doubled for every attempt after the first.
func Backoff(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	shift := min(attempts-1, 20)
	return base * time.Duration(1<<shift)
}
