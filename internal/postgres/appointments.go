package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"salonbook/internal/models"

	"github.com/jackc/pgx/v5"
)

const appointmentColumns = `id, client_id, stylist_id, service_id, start_at, end_at, duration_minutes, status, notes, created_at, updated_at`

func (s *Store) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	appt, err := scanAppointment(s.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, translate(err))
	}
	return appt, nil
}

func (s *Store) ListStylistAppointments(ctx context.Context, stylistID string, from, to time.Time, statuses []string) ([]*models.Appointment, error) {
	return findOverlapping(ctx, s.pool, stylistID, from, to, statuses, "")
}

func (s *Store) ListClientAppointments(ctx context.Context, clientID string, window models.TimeRange) ([]*models.Appointment, error) {
	q := newQuery(`SELECT `+appointmentColumns+` FROM appointments WHERE client_id = $1`, clientID)
	q.window(window)
	q.sql.WriteString(` ORDER BY start_at`)
	return queryAppointments(ctx, s.pool, q.sql.String(), q.args...)
}

func (s *Store) ListAppointments(ctx context.Context, window models.TimeRange) ([]*models.Appointment, error) {
	q := newQuery(`SELECT ` + appointmentColumns + ` FROM appointments WHERE TRUE`)
	q.window(window)
	q.sql.WriteString(` ORDER BY start_at`)
	return queryAppointments(ctx, s.pool, q.sql.String(), q.args...)
}

func (s *Store) ListStartingBetween(ctx context.Context, from, to time.Time, statuses []string) ([]*models.Appointment, error) {
	q := newQuery(`SELECT `+appointmentColumns+` FROM appointments WHERE start_at >= $1 AND start_at < $2`, from.UTC(), to.UTC())
	q.statuses(statuses)
	q.sql.WriteString(` ORDER BY start_at`)
	return queryAppointments(ctx, s.pool, q.sql.String(), q.args...)
}

// query accumulates SQL text with numbered placeholders.
type query struct {
	sql  strings.Builder
	args []any
}

func newQuery(base string, args ...any) *query {
	q := &query{args: args}
	q.sql.WriteString(base)
	return q
}

func (q *query) add(clause string, arg any) {
	q.args = append(q.args, arg)
	fmt.Fprintf(&q.sql, clause, len(q.args))
}

func (q *query) window(w models.TimeRange) {
	if !w.From.IsZero() {
		q.add(` AND start_at >= $%d`, w.From.UTC())
	}
	if !w.To.IsZero() {
		q.add(` AND start_at < $%d`, w.To.UTC())
	}
}

func (q *query) statuses(statuses []string) {
	if len(statuses) > 0 {
		q.add(` AND status = ANY($%d)`, statuses)
	}
}

func findOverlapping(ctx context.Context, db querier, stylistID string, start, end time.Time, statuses []string, excludeID string) ([]*models.Appointment, error) {
	q := newQuery(`SELECT `+appointmentColumns+` FROM appointments
         WHERE stylist_id = $1 AND start_at < $2 AND end_at > $3`, stylistID, end.UTC(), start.UTC())
	q.statuses(statuses)
	if excludeID != "" {
		q.add(` AND id <> $%d`, excludeID)
	}
	q.sql.WriteString(` ORDER BY start_at`)
	return queryAppointments(ctx, db, q.sql.String(), q.args...)
}

func insertAppointment(ctx context.Context, db querier, appt *models.Appointment) error {
	if appt.Status == "" {
		appt.Status = models.StatusAccepted
	}
	err := db.QueryRow(ctx,
		`INSERT INTO appointments (id, client_id, stylist_id, service_id, start_at, end_at, duration_minutes, status, notes)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
         RETURNING created_at, updated_at`,
		appt.ID, appt.ClientID, appt.StylistID, appt.ServiceID, appt.Start.UTC(), appt.End.UTC(),
		appt.DurationMinutes, appt.Status, appt.Notes,
	).Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", translate(err))
	}
	return nil
}

func updateAppointment(ctx context.Context, db querier, appt *models.Appointment) error {
	err := db.QueryRow(ctx,
		`UPDATE appointments
         SET stylist_id = $1, service_id = $2, start_at = $3, end_at = $4, duration_minutes = $5, status = $6, notes = $7, updated_at = now()
         WHERE id = $8
         RETURNING updated_at`,
		appt.StylistID, appt.ServiceID, appt.Start.UTC(), appt.End.UTC(), appt.DurationMinutes, appt.Status, appt.Notes, appt.ID,
	).Scan(&appt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update appointment %s: %w", appt.ID, translate(err))
	}
	return nil
}

func deleteAppointment(ctx context.Context, db querier, id string) error {
	tag, err := db.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", translate(err))
	}
	return requireOneRow(tag, "appointment "+id)
}

func queryAppointments(ctx context.Context, db querier, sql string, args ...any) ([]*models.Appointment, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", translate(err))
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Appointment, error) {
		return scanAppointment(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan appointments: %w", translate(err))
	}
	if out == nil {
		out = []*models.Appointment{}
	}
	return out, nil
}

func scanAppointment(row pgx.Row) (*models.Appointment, error) {
	var a models.Appointment
	err := row.Scan(&a.ID, &a.ClientID, &a.StylistID, &a.ServiceID, &a.Start, &a.End,
		&a.DurationMinutes, &a.Status, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Start, a.End = a.Start.UTC(), a.End.UTC()
	return &a, nil
}
