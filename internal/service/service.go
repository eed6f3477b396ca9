// Package service runs the order and refund operations: load the aggregate,
// ask lifecycle whether the change is allowed, persist it with its history
// and queue the customer notification, all in one transaction.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/safar/order-lifecycle/internal/database"
	"github.com/safar/order-lifecycle/internal/idempotency"
	"github.com/safar/order-lifecycle/internal/models"
	"github.com/safar/order-lifecycle/internal/store"
)

var (
	ErrForbidden        = errors.New("forbidden")
	ErrConflict         = errors.New("the record was changed by another request, reload and try again")
	ErrDuplicateRequest = errors.New("a request with this idempotency key was already received")
)

// Actor is the authenticated caller.
type Actor struct {
	UserID int64
	Role   models.Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// Pricing is applied to every checkout.
type Pricing struct {
	DeliveryCharge decimal.Decimal
	TaxRate        decimal.Decimal
}

type Deps struct {
	Repo           store.Repository
	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration
	Pricing        Pricing
	RefundWindow   time.Duration
	Currency       string
	Clock          func() time.Time
	Logger         *zap.Logger
}

type base struct {
	repo           store.Repository
	idem           idempotency.Store
	idempotencyTTL time.Duration
	clock          func() time.Time
	logger         *zap.Logger
}

func newBase(deps Deps) (base, error) {
	if deps.Repo == nil {
		return base{}, errors.New("service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	idem := deps.Idempotency
	if idem == nil {
		idem = idempotency.NewMemoryStore()
	}

	return base{
		repo:           deps.Repo,
		idem:           idem,
		idempotencyTTL: deps.IdempotencyTTL,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// reserve claims an idempotency key. The returned release frees it again and
// must be called when the request fails.
func (b *base) reserve(ctx context.Context, scope, key string) (func(), error) {
	if key == "" {
		return func() {}, nil
	}
	ok, err := b.idem.Reserve(ctx, scope, key, b.idempotencyTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDuplicateRequest
	}
	return func() {
		if err := b.idem.Release(context.WithoutCancel(ctx), scope, key); err != nil {
			b.logger.Warn("release idempotency key", zap.String("scope", scope), zap.Error(err))
		}
	}, nil
}

// translate maps storage errors callers can act on.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrOptimisticLockFailed), errors.Is(err, database.ErrLockTimeout),
		errors.Is(err, database.ErrDuplicateOrderNumber):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func requireAdmin(actor Actor) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// canSee lets admins see everything and customers only their own records.
func canSee(actor Actor, ownerID int64) error {
	if actor.IsAdmin() || actor.UserID == ownerID {
		return nil
	}
	return ErrForbidden
}

type statusChange struct {
	kind    models.NotificationKind
	status  string
	amount  decimal.Decimal
	reason  string
	warning string
}

// notify queues the customer email for a status change on order.
func notify(ctx context.Context, tx store.Tx, order *models.Order, change statusChange) error {
	customer, err := tx.GetUser(ctx, order.UserID)
	if err != nil {
		return fmt.Errorf("load customer: %w", err)
	}

	payload, err := json.Marshal(models.StatusChangePayload{
		OrderNumber:  order.DisplayNumber,
		CustomerName: customer.Name,
		NewStatus:    change.status,
		Amount:       change.amount,
		Reason:       change.reason,
		Warning:      change.warning,
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	return tx.EnqueueNotification(ctx, &models.Notification{
		Kind:           change.kind,
		RecipientEmail: customer.Email,
		Payload:        payload,
	})
}

