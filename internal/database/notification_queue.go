package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"salonbook/internal/models"

	"github.com/google/uuid"
)

const notificationColumns = `id, kind, appointment_id, payload, dedupe_key, status, retry_count, last_error, created_at, processed_at, next_retry_at`

// EnqueueNotification adds a task to the outbox. A task whose dedupe key is
// already stored is skipped and reported with false.
func (db *DB) EnqueueNotification(ctx context.Context, task *models.NotificationTask) (bool, error) {
	return enqueueNotification(ctx, db, task)
}

func enqueueNotification(ctx context.Context, q querier, task *models.NotificationTask) (bool, error) {
	if task.DedupeKey == "" {
		task.DedupeKey = fmt.Sprintf("%s:%s:%s", task.Kind, task.AppointmentID, uuid.NewString())
	}
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	res, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO notification_queue (kind, appointment_id, payload, dedupe_key, status, retry_count, created_at, next_retry_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.Kind, task.AppointmentID, task.Payload, task.DedupeKey, task.Status, task.RetryCount,
		formatTime(task.CreatedAt), nullableTime(task.NextRetryAt))
	if err != nil {
		return false, fmt.Errorf("failed to enqueue notification: %w", translate(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if id, err := res.LastInsertId(); err == nil {
		task.ID = id
	}
	return true, nil
}

func (db *DB) GetNotification(ctx context.Context, id int64) (*models.NotificationTask, error) {
	task, err := scanNotification(db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notification_queue WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get notification %d: %w", id, translate(err))
	}
	return task, nil
}

// GetPendingNotifications returns tasks that are due: new ones, retries whose
// backoff elapsed and processing ones whose lease expired.
func (db *DB) GetPendingNotifications(ctx context.Context, limit int) ([]*models.NotificationTask, error) {
	if limit <= 0 {
		limit = 10
	}
	now := formatTime(time.Now())
	rows, err := db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notification_queue
         WHERE status = ?
            OR (status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?))
         ORDER BY id
         LIMIT ?`,
		models.TaskPending, models.TaskRetry, models.TaskProcessing, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending notifications: %w", translate(err))
	}
	defer rows.Close()

	var tasks []*models.NotificationTask
	for rows.Next() {
		task, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ClaimNotification moves a due task to processing. next_retry_at doubles as
// the lease deadline so a crashed worker's task becomes due again.
func (db *DB) ClaimNotification(ctx context.Context, id int64, lease time.Duration) (bool, error) {
	now := time.Now()
	res, err := db.ExecContext(ctx,
		`UPDATE notification_queue SET status = ?, next_retry_at = ?
         WHERE id = ? AND (
            status = ?
            OR (status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?))
            OR (status = ? AND next_retry_at <= ?))`,
		models.TaskProcessing, formatTime(now.Add(lease)),
		id, models.TaskPending, models.TaskRetry, formatTime(now), models.TaskProcessing, formatTime(now))
	if err != nil {
		return false, fmt.Errorf("failed to claim notification: %w", translate(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (db *DB) UpdateNotificationStatus(ctx context.Context, id int64, status, lastError string, nextRetryAt *time.Time) error {
	var lastErr any
	if lastError != "" {
		lastErr = lastError
	}

	var (
		query string
		args  []any
	)
	switch status {
	case models.TaskRetry:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, retry_count = retry_count + 1, next_retry_at = ? WHERE id = ?`
		args = []any{status, lastErr, nullableTime(nextRetryAt), id}
	case models.TaskCompleted, models.TaskFailed:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, processed_at = ?, next_retry_at = NULL WHERE id = ?`
		args = []any{status, lastErr, formatTime(time.Now()), id}
	default:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []any{status, lastErr, nullableTime(nextRetryAt), id}
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update notification status: %w", translate(err))
	}
	return requireOneRow(res, fmt.Sprintf("notification %d", id))
}

func scanNotification(row rowScanner) (*models.NotificationTask, error) {
	var (
		task                 models.NotificationTask
		lastError            sql.NullString
		createdAt            string
		processedAt, nextTry sql.NullString
	)
	err := row.Scan(&task.ID, &task.Kind, &task.AppointmentID, &task.Payload, &task.DedupeKey,
		&task.Status, &task.RetryCount, &lastError, &createdAt, &processedAt, &nextTry)
	if err != nil {
		return nil, err
	}
	if lastError.Valid {
		task.LastError = &lastError.String
	}
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if task.ProcessedAt, err = parseNullTime(processedAt); err != nil {
		return nil, err
	}
	if task.NextRetryAt, err = parseNullTime(nextTry); err != nil {
		return nil, err
	}
	return &task, nil
}
