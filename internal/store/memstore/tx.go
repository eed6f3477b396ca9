package memstore

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/safar/order-lifecycle/internal/database"
	"github.com/safar/order-lifecycle/internal/models"
)

// tx runs with Store.mu held by InTx.
type tx struct {
	s *Store
}

func (t *tx) GetUser(_ context.Context, id int64) (*models.User, error) {
	return t.s.state.getUser(id)
}

func (t *tx) GetOrderForUpdate(_ context.Context, id int64) (*models.Order, error) {
	return t.s.state.getOrder(id)
}

func (t *tx) UpdateOrder(_ context.Context, order *models.Order) error {
	current, ok := t.s.state.orders[order.ID]
	if !ok || current.Version != order.Version {
		return database.ErrOptimisticLockFailed
	}

	updated := cloneOrder(*order)
	updated.Version++
	updated.UpdatedAt = t.s.now()
	updated.Items = current.Items
	updated.DeliveryHistory = current.DeliveryHistory
	t.s.state.orders[order.ID] = updated

	order.Version = updated.Version
	order.UpdatedAt = updated.UpdatedAt
	return nil
}

func (t *tx) AppendDeliveryHistory(_ context.Context, h *models.OrderDeliveryHistory) error {
	o, ok := t.s.state.orders[h.OrderID]
	if !ok {
		return database.ErrOrderNotFound
	}
	h.ID = t.s.state.next("order_delivery_history")
	h.CreatedAt = t.s.now()
	o.DeliveryHistory = append(o.DeliveryHistory, *h)
	t.s.state.orders[h.OrderID] = o
	return nil
}

func (t *tx) TakeStock(_ context.Context, productID int64, quantity int) error {
	p, ok := t.s.state.products[productID]
	if !ok {
		return database.ErrProductNotFound
	}
	if p.StockQuantity < quantity {
		return database.ErrInsufficientStock
	}
	p.StockQuantity -= quantity
	p.Version++
	t.s.state.products[productID] = p
	return nil
}

func (t *tx) RestockProduct(_ context.Context, productID int64, quantity int) error {
	p, ok := t.s.state.products[productID]
	if !ok {
		return database.ErrProductNotFound
	}
	p.StockQuantity += quantity
	p.Version++
	t.s.state.products[productID] = p
	return nil
}

func (t *tx) ListRefundsByOrder(_ context.Context, orderID int64) ([]models.Refund, error) {
	return t.s.state.refundsByOrder(orderID), nil
}

func (t *tx) CreateRefund(_ context.Context, r *models.Refund) error {
	now := t.s.now()
	r.ID = t.s.state.next("refunds")
	r.CreatedAt = now
	r.UpdatedAt = now
	r.Version = 1
	if r.EvidenceURLs == nil {
		r.EvidenceURLs = []string{}
	}
	t.s.state.refunds[r.ID] = cloneRefund(*r)
	return nil
}

func (t *tx) GetRefundForUpdate(_ context.Context, id int64) (*models.Refund, error) {
	return t.s.state.getRefund(id)
}

func (t *tx) UpdateRefund(_ context.Context, r *models.Refund) error {
	current, ok := t.s.state.refunds[r.ID]
	if !ok || current.Version != r.Version {
		return database.ErrOptimisticLockFailed
	}

	updated := cloneRefund(*r)
	updated.Version++
	updated.UpdatedAt = t.s.now()
	updated.History = current.History
	t.s.state.refunds[r.ID] = updated

	r.Version = updated.Version
	r.UpdatedAt = updated.UpdatedAt
	return nil
}

func (t *tx) AppendRefundHistory(_ context.Context, h *models.RefundHistory) error {
	r, ok := t.s.state.refunds[h.RefundID]
	if !ok {
		return database.ErrRefundNotFound
	}
	h.ID = t.s.state.next("refund_history")
	h.CreatedAt = t.s.now()
	r.History = append(r.History, *h)
	t.s.state.refunds[h.RefundID] = r
	return nil
}

func (t *tx) EnqueueNotification(_ context.Context, n *models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	now := t.s.now()
	n.Status = models.NotificationStatusPending
	n.Attempts = 0
	n.NextAttemptAt = now
	n.CreatedAt = now
	t.s.state.notifications = append(t.s.state.notifications, *n)
	return nil
}

func (t *tx) ClaimPendingNotifications(_ context.Context, now time.Time, limit int) ([]models.Notification, error) {
	var due []models.Notification
	for _, n := range t.s.state.notifications {
		if n.Status == models.NotificationStatusPending && !n.NextAttemptAt.After(now) {
			due = append(due, n)
		}
	}
	slices.SortStableFunc(due, func(a, b models.Notification) int {
		return cmp.Compare(a.NextAttemptAt.UnixNano(), b.NextAttemptAt.UnixNano())
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (t *tx) update(id uuid.UUID, fn func(*models.Notification)) {
	for i := range t.s.state.notifications {
		if t.s.state.notifications[i].ID == id {
			fn(&t.s.state.notifications[i])
			return
		}
	}
}

func (t *tx) MarkNotificationSent(_ context.Context, id uuid.UUID, sentAt time.Time) error {
	t.update(id, func(n *models.Notification) {
		n.Status = models.NotificationStatusSent
		n.Attempts++
		n.LastError = ""
		n.SentAt = &sentAt
	})
	return nil
}

func (t *tx) MarkNotificationRetry(_ context.Context, id uuid.UUID, lastErr string, nextAttemptAt time.Time) error {
	t.update(id, func(n *models.Notification) {
		n.Attempts++
		n.LastError = lastErr
		n.NextAttemptAt = nextAttemptAt
	})
	return nil
}

func (t *tx) MarkNotificationFailed(_ context.Context, id uuid.UUID, lastErr string) error {
	t.update(id, func(n *models.Notification) {
		n.Status = models.NotificationStatusFailed
		n.Attempts++
		n.LastError = lastErr
	})
	return nil
}
