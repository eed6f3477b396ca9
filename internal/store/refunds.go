package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/safar/order-lifecycle/internal/database"
	"github.com/safar/order-lifecycle/internal/models"
)

const refundColumns = `id, order_id, customer_id, processed_by_id, status, reason, amount, currency,
		refunded_items, payment_method, payment_status, payment_amount_paid, transaction_id, paid_at,
		failure_reason, evidence_urls, customer_note, admin_note, processed_at, created_at, updated_at, version`

func scanRefund(row rowScanner, r *models.Refund) error {
	var items []byte
	err := row.Scan(
		&r.ID,
		&r.OrderID,
		&r.CustomerID,
		&r.ProcessedByID,
		&r.Status,
		&r.Reason,
		&r.Amount,
		&r.Currency,
		&items,
		&r.Payment.Method,
		&r.Payment.Status,
		&r.Payment.AmountPaid,
		&r.Payment.TransactionID,
		&r.Payment.PaidAt,
		&r.Payment.FailureReason,
		pq.Array(&r.EvidenceURLs),
		&r.CustomerNote,
		&r.AdminNote,
		&r.ProcessedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.Version,
	)
	if err != nil {
		return err
	}

	r.RefundedItems = nil
	if len(items) > 0 {
		if err := json.Unmarshal(items, &r.RefundedItems); err != nil {
			return fmt.Errorf("decode refunded items: %w", err)
		}
	}
	return nil
}

// encodeRefundedItems stores a full-order refund as NULL.
func encodeRefundedItems(items []models.RefundItem) (any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode refunded items: %w", err)
	}
	return string(data), nil
}

func evidenceArray(urls []string) pq.StringArray {
	if urls == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(urls)
}

func CreateRefund(ctx context.Context, q Querier, r *models.Refund) error {
	items, err := encodeRefundedItems(r.RefundedItems)
	if err != nil {
		return err
	}

	err = q.QueryRowContext(ctx,
		`INSERT INTO refunds (order_id, customer_id, status, reason, amount, currency, refunded_items,
		                      payment_status, evidence_urls, customer_note, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW(), 1)
		 RETURNING id, created_at, updated_at, version`,
		r.OrderID, r.CustomerID, r.Status, r.Reason, r.Amount, r.Currency, items,
		r.Payment.Status, evidenceArray(r.EvidenceURLs), r.CustomerNote,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt, &r.Version)
	if err != nil {
		return fmt.Errorf("create refund: %w", err)
	}
	return nil
}

// GetRefund loads a refund with its status history.
func GetRefund(ctx context.Context, q Querier, id int64) (*models.Refund, error) {
	return getRefund(ctx, q, id, false)
}

func GetRefundForUpdate(ctx context.Context, q Querier, id int64) (*models.Refund, error) {
	return getRefund(ctx, q, id, true)
}

func getRefund(ctx context.Context, q Querier, id int64, lock bool) (*models.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	refund := &models.Refund{}
	if err := scanRefund(q.QueryRowContext(ctx, query, id), refund); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrRefundNotFound
		}
		return nil, fmt.Errorf("get refund: %w", err)
	}

	history, err := ListRefundHistory(ctx, q, id)
	if err != nil {
		return nil, err
	}
	refund.History = history

	return refund, nil
}

// ListRefundsByOrder returns every refund of the order, oldest first, without
// history.
func ListRefundsByOrder(ctx context.Context, q Querier, orderID int64) ([]models.Refund, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+refundColumns+`
		 FROM refunds
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	refunds := []models.Refund{}
	for rows.Next() {
		var r models.Refund
		if err := scanRefund(rows, &r); err != nil {
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		refunds = append(refunds, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return refunds, nil
}

// UpdateRefund is the refund counterpart of UpdateOrder.
func UpdateRefund(ctx context.Context, q Querier, r *models.Refund) error {
	err := q.QueryRowContext(ctx,
		`UPDATE refunds
		 SET status = $1,
		     processed_by_id = $2,
		     processed_at = $3,
		     admin_note = $4,
		     payment_method = $5,
		     payment_status = $6,
		     payment_amount_paid = $7,
		     transaction_id = $8,
		     paid_at = $9,
		     failure_reason = $10,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $11 AND version = $12
		 RETURNING version, updated_at`,
		r.Status, r.ProcessedByID, r.ProcessedAt, r.AdminNote,
		r.Payment.Method, r.Payment.Status, r.Payment.AmountPaid, r.Payment.TransactionID,
		r.Payment.PaidAt, r.Payment.FailureReason,
		r.ID, r.Version,
	).Scan(&r.Version, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.ErrOptimisticLockFailed
		}
		return fmt.Errorf("update refund: %w", err)
	}
	return nil
}

func AppendRefundHistory(ctx context.Context, q Querier, h *models.RefundHistory) error {
	err := q.QueryRowContext(ctx,
		`INSERT INTO refund_history (refund_id, from_status, to_status, notes, changed_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 RETURNING id, created_at`,
		h.RefundID, h.FromStatus, h.ToStatus, h.Notes, h.ChangedBy,
	).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return fmt.Errorf("append refund history: %w", err)
	}
	return nil
}

func ListRefundHistory(ctx context.Context, q Querier, refundID int64) ([]models.RefundHistory, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, refund_id, from_status, to_status, notes, changed_by, created_at
		 FROM refund_history
		 WHERE refund_id = $1
		 ORDER BY id`,
		refundID)
	if err != nil {
		return nil, fmt.Errorf("list refund history: %w", err)
	}
	defer rows.Close()

	var history []models.RefundHistory
	for rows.Next() {
		var h models.RefundHistory
		if err := rows.Scan(&h.ID, &h.RefundID, &h.FromStatus, &h.ToStatus, &h.Notes, &h.ChangedBy, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan refund history: %w", err)
		}
		history = append(history, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return history, nil
}
