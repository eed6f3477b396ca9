package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/safar/order-lifecycle/internal/models"
)

const notificationColumns = `id, kind, recipient_email, payload, status, attempts, last_error,
		next_attempt_at, created_at, sent_at`

// EnqueueNotification writes an outbox row. Call it with the transaction that
// made the change being announced.
func EnqueueNotification(ctx context.Context, q Querier, n *models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	n.Status = models.NotificationStatusPending

	err := q.QueryRowContext(ctx,
		`INSERT INTO notifications (id, kind, recipient_email, payload, status, attempts, next_attempt_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, 0, NOW(), NOW())
		 RETURNING next_attempt_at, created_at`,
		n.ID, n.Kind, n.RecipientEmail, string(n.Payload), n.Status,
	).Scan(&n.NextAttemptAt, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// ClaimPendingNotifications locks up to limit due notifications. Rows locked
// by another dispatcher are skipped, so several dispatchers can run at once.
// The locks last until the caller's transaction ends.
func ClaimPendingNotifications(ctx context.Context, q Querier, now time.Time, limit int) ([]models.Notification, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+notificationColumns+`
		 FROM notifications
		 WHERE status = $1 AND next_attempt_at <= $2
		 ORDER BY next_attempt_at, created_at
		 LIMIT $3
		 FOR UPDATE SKIP LOCKED`,
		models.NotificationStatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim notifications: %w", err)
	}
	defer rows.Close()

	var claimed []models.Notification
	for rows.Next() {
		var n models.Notification
		var payload []byte
		err := rows.Scan(&n.ID, &n.Kind, &n.RecipientEmail, &payload, &n.Status, &n.Attempts,
			&n.LastError, &n.NextAttemptAt, &n.CreatedAt, &n.SentAt)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Payload = payload
		claimed = append(claimed, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return claimed, nil
}

func MarkNotificationSent(ctx context.Context, q Querier, id uuid.UUID, sentAt time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE notifications SET status = $1, sent_at = $2, attempts = attempts + 1, last_error = ''
		 WHERE id = $3`,
		models.NotificationStatusSent, sentAt, id)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// MarkNotificationRetry records a failed attempt and schedules the next one.
func MarkNotificationRetry(ctx context.Context, q Querier, id uuid.UUID, lastErr string, nextAttemptAt time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE notifications SET attempts = attempts + 1, last_error = $1, next_attempt_at = $2
		 WHERE id = $3`,
		lastErr, nextAttemptAt, id)
	if err != nil {
		return fmt.Errorf("mark notification retry: %w", err)
	}
	return nil
}

// MarkNotificationFailed gives up on a notification for good.
func MarkNotificationFailed(ctx context.Context, q Querier, id uuid.UUID, lastErr string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE notifications SET status = $1, attempts = attempts + 1, last_error = $2
		 WHERE id = $3`,
		models.NotificationStatusFailed, lastErr, id)
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}
