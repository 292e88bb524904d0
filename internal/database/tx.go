package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"
)

// WithinTx runs fn in a single transaction. The DSN opens transactions with
// BEGIN IMMEDIATE, so the write lock is taken before fn reads anything.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", translate(err))
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(ctx, &sqliteTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translate(err))
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

// LockStylist touches the stylist's lock row. With immediate transactions the
// database is already write-locked, the row makes the intent explicit and
// keeps the sequence identical to the Postgres store.
func (t *sqliteTx) LockStylist(ctx context.Context, stylistID string) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO stylist_locks (stylist_id, locked_at) VALUES (?, ?)
         ON CONFLICT(stylist_id) DO UPDATE SET locked_at = excluded.locked_at`,
		stylistID, formatTime(time.Now()))
	if err != nil {
		return translate(err)
	}
	return nil
}

func (t *sqliteTx) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	appt, err := scanAppointment(t.tx.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment %s: %w", id, translate(err))
	}
	return appt, nil
}

func (t *sqliteTx) FindOverlapping(ctx context.Context, stylistID string, start, end time.Time, statuses []string, excludeID string) ([]*models.Appointment, error) {
	return findOverlapping(ctx, t.tx, stylistID, start, end, statuses, excludeID)
}

func (t *sqliteTx) InsertAppointment(ctx context.Context, appt *models.Appointment) error {
	return insertAppointment(ctx, t.tx, appt)
}

func (t *sqliteTx) UpdateAppointment(ctx context.Context, appt *models.Appointment) error {
	return updateAppointment(ctx, t.tx, appt)
}

func (t *sqliteTx) DeleteAppointment(ctx context.Context, id string) error {
	return deleteAppointment(ctx, t.tx, id)
}

func (t *sqliteTx) EnqueueNotification(ctx context.Context, task *models.NotificationTask) (bool, error) {
	return enqueueNotification(ctx, t.tx, task)
}
