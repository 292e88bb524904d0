package postgres

import (
	"context"
	"testing"
	"time"

	"salonbook/internal/booking"
	"salonbook/internal/domain"
	"salonbook/internal/models"
	"salonbook/internal/retry"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appointmentCols = []string{
	"id", "client_id", "stylist_id", "service_id", "start_at", "end_at",
	"duration_minutes", "status", "notes", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return New(mock, 2*time.Second, nil), mock
}

func sampleAppointment() *models.Appointment {
	start := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	return &models.Appointment{
		ID: "appt-1", ClientID: "c1", StylistID: "st-1", ServiceID: "svc-1",
		Start: start, End: start.Add(time.Hour), DurationMinutes: 60, Status: models.StatusAccepted,
	}
}

func TestReserve_Conflict(t *testing.T) {
	store, mock := newMockStore(t)
	appt := sampleAppointment()
	other := appt.Start.Add(30 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config").WithArgs("2000ms").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("st-1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT (.+) FROM appointments").
		WithArgs("st-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(appointmentCols).
			AddRow("other", "c2", "st-1", "svc-1", other, other.Add(time.Hour), 60, models.StatusPending, "", other, other))
	mock.ExpectRollback()

	err := booking.NewGuard(store, retry.Policy{}, nil).Reserve(context.Background(), appt)
	require.ErrorIs(t, err, domain.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserve_LockTimeoutRetried(t *testing.T) {
	store, mock := newMockStore(t)
	appt := sampleAppointment()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config").WithArgs("2000ms").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("st-1").
		WillReturnError(&pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config").WithArgs("2000ms").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("st-1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT (.+) FROM appointments").
		WithArgs("st-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(appointmentCols))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(appt.ID, appt.ClientID, appt.StylistID, appt.ServiceID, appt.Start, appt.End,
			appt.DurationMinutes, appt.Status, appt.Notes).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectQuery("INSERT INTO notification_queue").
		WithArgs(models.NotificationConfirmation, appt.ID, "{}", pgxmock.AnyArg(), models.TaskPending, 0, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(42), now))
	mock.ExpectCommit()

	task := &models.NotificationTask{Kind: models.NotificationConfirmation, AppointmentID: appt.ID, Payload: "{}"}
	g := booking.NewGuard(store, retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond}, nil)
	require.NoError(t, g.Reserve(context.Background(), appt, task))
	assert.Equal(t, int64(42), task.ID)
	assert.Equal(t, now, appt.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

// The row is re-read with FOR UPDATE after the stylist lock; a version that
// moved on since the caller's read is rejected before any write.
func TestAmend_RowChangedSinceRead(t *testing.T) {
	store, mock := newMockStore(t)
	read := sampleAppointment()
	read.UpdatedAt = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	moved := read.Start.Add(4 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config").WithArgs("2000ms").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("st-1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT (.+) FROM appointments WHERE id = \$1 FOR UPDATE`).
		WithArgs("appt-1").
		WillReturnRows(pgxmock.NewRows(appointmentCols).
			AddRow("appt-1", "c1", "st-1", "svc-1", moved, moved.Add(time.Hour), 60, models.StatusAccepted, "",
				read.UpdatedAt, read.UpdatedAt.Add(time.Minute)))
	mock.ExpectRollback()

	edit := *read
	edit.Notes = "late by 10 minutes"
	err := booking.NewGuard(store, retry.Policy{}, nil).Amend(context.Background(), read, &edit)
	require.ErrorIs(t, err, booking.ErrStale)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAmend_WritesOntoCurrentRow(t *testing.T) {
	store, mock := newMockStore(t)
	read := sampleAppointment()
	read.UpdatedAt = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	written := read.UpdatedAt.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config").WithArgs("2000ms").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("st-1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("appt-1").
		WillReturnRows(pgxmock.NewRows(appointmentCols).
			AddRow("appt-1", "c1", "st-1", "svc-1", read.Start, read.End, 60, models.StatusAccepted, "",
				read.UpdatedAt, read.UpdatedAt))
	mock.ExpectQuery("SELECT (.+) FROM appointments").
		WithArgs("st-1", read.End, read.Start, models.ActiveStatuses, "appt-1").
		WillReturnRows(pgxmock.NewRows(appointmentCols))
	mock.ExpectQuery("UPDATE appointments").
		WithArgs("st-1", "svc-1", read.Start, read.End, 60, models.StatusAccepted, "late by 10 minutes", "appt-1").
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(written))
	mock.ExpectCommit()

	edit := *read
	edit.Start = read.Start.Add(-time.Hour)
	edit.Notes = "late by 10 minutes"
	require.NoError(t, booking.NewGuard(store, retry.Policy{}, nil).Amend(context.Background(), read, &edit))
	assert.Equal(t, read.Start, edit.Start)
	assert.Equal(t, written, edit.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueNotification_Duplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO notification_queue").
		WithArgs(models.NotificationReminder, "appt-1", "{}", "reminder:appt-1", models.TaskPending, 0, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}))

	ok, err := store.EnqueueNotification(context.Background(), &models.NotificationTask{
		Kind: models.NotificationReminder, AppointmentID: "appt-1", Payload: "{}", DedupeKey: "reminder:appt-1",
	})
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListClientAppointments_Window(t *testing.T) {
	store, mock := newMockStore(t)
	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`WHERE client_id = \$1 AND start_at >= \$2 ORDER BY start_at`).
		WithArgs("c1", from).
		WillReturnRows(pgxmock.NewRows(appointmentCols))

	list, err := store.ListClientAppointments(context.Background(), "c1", models.TimeRange{From: from})
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAppointment_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config").WithArgs("2000ms").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("DELETE FROM appointments").WithArgs("gone").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	err := booking.NewGuard(store, retry.Policy{}, nil).Release(context.Background(), "gone")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTranslate(t *testing.T) {
	assert.ErrorIs(t, translate(&pgconn.PgError{Code: "23505"}), domain.ErrValidation)
	assert.ErrorIs(t, translate(&pgconn.PgError{Code: "23514"}), domain.ErrValidation)
	assert.ErrorIs(t, translate(&pgconn.PgError{Code: "40P01"}), domain.ErrTransient)
	assert.ErrorIs(t, translate(context.DeadlineExceeded), domain.ErrTransient)
	assert.Nil(t, translate(nil))
}

func TestMigrationURL(t *testing.T) {
	got, err := migrationURL("postgres://u:p@db:5432/salon?sslmode=disable", "salon_migrations")
	require.NoError(t, err)
	assert.Equal(t, "pgx5://u:p@db:5432/salon?sslmode=disable&x-migrations-table=salon_migrations", got)

	_, err = migrationURL("mysql://db/salon", "")
	assert.Error(t, err)
}
