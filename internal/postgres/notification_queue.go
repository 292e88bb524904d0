package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salonbook/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const notificationColumns = `id, kind, appointment_id, payload::text, dedupe_key, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func (s *Store) EnqueueNotification(ctx context.Context, task *models.NotificationTask) (bool, error) {
	return enqueueNotification(ctx, s.pool, task)
}

func enqueueNotification(ctx context.Context, db querier, task *models.NotificationTask) (bool, error) {
	if task.DedupeKey == "" {
		task.DedupeKey = fmt.Sprintf("%s:%s:%s", task.Kind, task.AppointmentID, uuid.NewString())
	}
	if task.Status == "" {
		task.Status = models.TaskPending
	}

	err := db.QueryRow(ctx,
		`INSERT INTO notification_queue (kind, appointment_id, payload, dedupe_key, status, retry_count, next_retry_at)
         VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7)
         ON CONFLICT (dedupe_key) DO NOTHING
         RETURNING id, created_at`,
		task.Kind, task.AppointmentID, task.Payload, task.DedupeKey, task.Status, task.RetryCount, task.NextRetryAt,
	).Scan(&task.ID, &task.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("enqueue notification: %w", translate(err))
	}
	return true, nil
}

func (s *Store) GetNotification(ctx context.Context, id int64) (*models.NotificationTask, error) {
	task, err := scanNotification(s.pool.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notification_queue WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get notification %d: %w", id, translate(err))
	}
	return task, nil
}

func (s *Store) GetPendingNotifications(ctx context.Context, limit int) ([]*models.NotificationTask, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+notificationColumns+` FROM notification_queue
         WHERE status = $1
            OR (status IN ($2, $3) AND (next_retry_at IS NULL OR next_retry_at <= now()))
         ORDER BY id
         LIMIT $4`,
		models.TaskPending, models.TaskRetry, models.TaskProcessing, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending notifications: %w", translate(err))
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.NotificationTask, error) {
		return scanNotification(row)
	})
}

// ClaimNotification leases a due task. Concurrent workers race on the
// conditional UPDATE, only one sees a row affected.
func (s *Store) ClaimNotification(ctx context.Context, id int64, lease time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notification_queue
         SET status = $1, next_retry_at = now() + make_interval(secs => $2)
         WHERE id = $3 AND (
            status = $4
            OR (status = $5 AND (next_retry_at IS NULL OR next_retry_at <= now()))
            OR (status = $1 AND next_retry_at <= now()))`,
		models.TaskProcessing, lease.Seconds(), id, models.TaskPending, models.TaskRetry)
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", translate(err))
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) UpdateNotificationStatus(ctx context.Context, id int64, status, lastError string, nextRetryAt *time.Time) error {
	var lastErr *string
	if lastError != "" {
		lastErr = &lastError
	}

	var (
		sql  string
		args []any
	)
	switch status {
	case models.TaskRetry:
		sql = `UPDATE notification_queue SET status = $1, last_error = $2, retry_count = retry_count + 1, next_retry_at = $3 WHERE id = $4`
		args = []any{status, lastErr, nextRetryAt, id}
	case models.TaskCompleted, models.TaskFailed:
		sql = `UPDATE notification_queue SET status = $1, last_error = $2, processed_at = now(), next_retry_at = NULL WHERE id = $3`
		args = []any{status, lastErr, id}
	default:
		sql = `UPDATE notification_queue SET status = $1, last_error = $2, next_retry_at = $3 WHERE id = $4`
		args = []any{status, lastErr, nextRetryAt, id}
	}

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update notification status: %w", translate(err))
	}
	return requireOneRow(tag, fmt.Sprintf("notification %d", id))
}

func scanNotification(row pgx.Row) (*models.NotificationTask, error) {
	var t models.NotificationTask
	err := row.Scan(&t.ID, &t.Kind, &t.AppointmentID, &t.Payload, &t.DedupeKey, &t.Status,
		&t.RetryCount, &t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
