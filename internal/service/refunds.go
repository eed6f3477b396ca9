package service

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/safar/order-lifecycle/internal/lifecycle"
	"github.com/safar/order-lifecycle/internal/metrics"
	"github.com/safar/order-lifecycle/internal/models"
	"github.com/safar/order-lifecycle/internal/store"
)

const (
	maxEvidenceURLs = 3
	defaultCurrency = "USD"
)

type RefundService struct {
	base
	refundWindow time.Duration
	currency     string
}

func NewRefundService(deps Deps) (*RefundService, error) {
	b, err := newBase(deps)
	if err != nil {
		return nil, err
	}
	currency := deps.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	return &RefundService{base: b, refundWindow: deps.RefundWindow, currency: currency}, nil
}

// CreateRefundInput is a customer's refund request. No Items means the whole
// order.
type CreateRefundInput struct {
	Reason         models.RefundReason
	Items          []lifecycle.RequestedItem
	EvidenceURLs   []string
	CustomerNote   string
	IdempotencyKey string
}

func validateEvidence(urls []string) error {
	if len(urls) > maxEvidenceURLs {
		return lifecycle.Invalid("At most %d evidence links can be attached to a refund.", maxEvidenceURLs)
	}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return lifecycle.Invalid("Evidence link %q is not a valid http(s) URL.", raw)
		}
	}
	return nil
}

// CreateRefund files a pending refund on the caller's order. The amount is
// derived from the order, never taken from the request.
func (s *RefundService) CreateRefund(ctx context.Context, actor Actor, orderID int64, in CreateRefundInput) (*models.Refund, error) {
	if !in.Reason.IsValid() {
		return nil, lifecycle.Invalid("Unknown refund reason %q.", in.Reason)
	}
	if err := validateEvidence(in.EvidenceURLs); err != nil {
		return nil, err
	}

	release, err := s.reserve(ctx, fmt.Sprintf("refund:%d:%d", actor.UserID, orderID), in.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	var refund *models.Refund
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		// The order lock serializes refund requests for the capacity check.
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != actor.UserID {
			return ErrForbidden
		}
		existing, err := tx.ListRefundsByOrder(ctx, orderID)
		if err != nil {
			return err
		}

		check := lifecycle.CheckRefundRequest(
			eligibilityInput(order, existing, s.clock(), s.refundWindow), in.Reason, in.Items)
		if err := checked(metrics.MachineRefund, "", string(models.RefundStatusPending), check); err != nil {
			return err
		}

		lines, amount := lifecycle.PriceRefund(in.Items, order.Items, order.TotalAmount)
		r := &models.Refund{
			OrderID:       order.ID,
			CustomerID:    actor.UserID,
			Status:        models.RefundStatusPending,
			Reason:        in.Reason,
			Amount:        amount,
			Currency:      s.currency,
			RefundedItems: lines,
			Payment:       models.RefundPayment{Status: models.RefundPaymentStatusPending},
			EvidenceURLs:  in.EvidenceURLs,
			CustomerNote:  in.CustomerNote,
		}
		if err := tx.CreateRefund(ctx, r); err != nil {
			return err
		}

		h := &models.RefundHistory{
			RefundID:   r.ID,
			FromStatus: models.RefundStatusPending,
			ToStatus:   models.RefundStatusPending,
			Notes:      "Refund requested",
			ChangedBy:  actor.UserID,
		}
		if err := tx.AppendRefundHistory(ctx, h); err != nil {
			return err
		}
		r.History = []models.RefundHistory{*h}

		refund = r
		return notify(ctx, tx, order, statusChange{
			kind:   models.NotificationRefundStatus,
			status: string(r.Status),
			amount: r.Amount,
			reason: string(r.Reason),
		})
	})
	if err != nil {
		release()
		return nil, translate(err)
	}

	s.logger.Info("refund requested",
		zap.Int64("refund_id", refund.ID),
		zap.Int64("order_id", orderID),
		zap.Int64("user_id", actor.UserID),
		zap.Bool("full", refund.IsFullRefund()),
		zap.String("amount", refund.Amount.StringFixed(2)),
	)
	return refund, nil
}

func (s *RefundService) GetRefund(ctx context.Context, actor Actor, refundID int64) (*models.Refund, error) {
	refund, err := s.repo.GetRefund(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if err := canSee(actor, refund.CustomerID); err != nil {
		return nil, err
	}
	return refund, nil
}

func (s *RefundService) ListOrderRefunds(ctx context.Context, actor Actor, orderID int64) ([]models.Refund, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := canSee(actor, order.UserID); err != nil {
		return nil, err
	}
	return s.repo.ListRefundsByOrder(ctx, orderID)
}

// UpdateStatus is the admin decision on a refund. Approval re-checks
// capacity against the other active refunds of the order.
func (s *RefundService) UpdateStatus(ctx context.Context, actor Actor, refundID int64, to models.RefundStatus, note string) (*models.Refund, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var refund *models.Refund
	var from models.RefundStatus
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		r, order, err := loadRefund(ctx, tx, refundID)
		if err != nil {
			return err
		}
		from = r.Status

		check := lifecycle.CheckRefundTransition(r.Status, to)
		if check == nil && to == models.RefundStatusApproved {
			all, err := tx.ListRefundsByOrder(ctx, order.ID)
			if err != nil {
				return err
			}
			check = lifecycle.CheckApprovalCapacity(r, all, order.Items)
		}
		if err := checked(metrics.MachineRefund, string(from), string(to), check); err != nil {
			return err
		}

		if err := s.applyRefundStatus(ctx, tx, actor, r, order, to, note); err != nil {
			return err
		}
		refund = r
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("refund status changed",
		zap.Int64("refund_id", refundID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int64("admin_id", actor.UserID),
	)
	return refund, nil
}

type RefundPaymentUpdate struct {
	Status        models.RefundPaymentStatus
	Method        models.PaymentMethod
	AmountPaid    *decimal.Decimal
	TransactionID string
	FailureReason string
}

// UpdatePayment records the payout of an approved refund. Paid completes the
// refund; failed moves it to failed so it can be approved and retried.
func (s *RefundService) UpdatePayment(ctx context.Context, actor Actor, refundID int64, in RefundPaymentUpdate) (*models.Refund, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if in.Method != "" && !in.Method.IsValid() {
		return nil, lifecycle.Invalid("Unknown payment method %q.", in.Method)
	}
	if in.AmountPaid != nil && in.AmountPaid.IsNegative() {
		return nil, lifecycle.Invalid("Amount paid cannot be negative.")
	}

	var refund *models.Refund
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		r, order, err := loadRefund(ctx, tx, refundID)
		if err != nil {
			return err
		}

		to, check := lifecycle.RefundStatusForPayment(r, in.Status)
		if err := checked(metrics.MachineRefund, string(r.Status), string(to), check); err != nil {
			return err
		}
		if in.AmountPaid != nil && in.AmountPaid.GreaterThan(r.Amount) {
			return lifecycle.Invalid("Amount paid %s cannot exceed the refund amount %s.",
				in.AmountPaid.StringFixed(2), r.Amount.StringFixed(2))
		}

		r.Payment.Status = in.Status
		if in.Method != "" {
			r.Payment.Method = in.Method
		}
		if in.TransactionID != "" {
			r.Payment.TransactionID = in.TransactionID
		}
		switch in.Status {
		case models.RefundPaymentStatusPaid:
			now := s.clock()
			r.Payment.PaidAt = &now
			r.Payment.AmountPaid = r.Amount
			if in.AmountPaid != nil {
				r.Payment.AmountPaid = *in.AmountPaid
			}
			r.Payment.FailureReason = ""
		case models.RefundPaymentStatusFailed:
			r.Payment.FailureReason = in.FailureReason
		}

		note := "Refund payment " + string(in.Status)
		if in.FailureReason != "" {
			note += ": " + in.FailureReason
		}
		if err := s.applyRefundStatus(ctx, tx, actor, r, order, to, note); err != nil {
			return err
		}
		refund = r
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("refund payment recorded",
		zap.Int64("refund_id", refundID),
		zap.String("payment_status", string(in.Status)),
		zap.Int64("admin_id", actor.UserID),
	)
	return refund, nil
}

func loadRefund(ctx context.Context, tx store.Tx, refundID int64) (*models.Refund, *models.Order, error) {
	r, err := tx.GetRefundForUpdate(ctx, refundID)
	if err != nil {
		return nil, nil, err
	}
	order, err := tx.GetOrderForUpdate(ctx, r.OrderID)
	if err != nil {
		return nil, nil, err
	}
	return r, order, nil
}

// applyRefundStatus persists a checked refund transition, appends its
// history, recomputes the order refund status and queues the notification.
func (s *RefundService) applyRefundStatus(ctx context.Context, tx store.Tx, actor Actor, r *models.Refund, order *models.Order, to models.RefundStatus, note string) error {
	from := r.Status
	now := s.clock()
	adminID := actor.UserID

	r.Status = to
	r.ProcessedByID = &adminID
	r.ProcessedAt = &now
	if note != "" {
		r.AdminNote = note
	}
	if err := tx.UpdateRefund(ctx, r); err != nil {
		return err
	}

	h := &models.RefundHistory{
		RefundID:   r.ID,
		FromStatus: from,
		ToStatus:   to,
		Notes:      note,
		ChangedBy:  actor.UserID,
	}
	if err := tx.AppendRefundHistory(ctx, h); err != nil {
		return err
	}
	r.History = append(r.History, *h)

	all, err := tx.ListRefundsByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	if derived := lifecycle.ComputeOrderRefundStatus(all, order.Items); derived != order.RefundStatus {
		order.RefundStatus = derived
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
	}

	return notify(ctx, tx, order, statusChange{
		kind:   models.NotificationRefundStatus,
		status: string(to),
		amount: r.Amount,
		reason: note,
	})
}
