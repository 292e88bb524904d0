package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"
)

const appointmentColumns = `id, client_id, stylist_id, service_id, start_at, end_at, duration_minutes, status, notes, created_at, updated_at`

func (db *DB) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	appt, err := scanAppointment(db.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment %s: %w", id, translate(err))
	}
	return appt, nil
}

func (db *DB) ListStylistAppointments(ctx context.Context, stylistID string, from, to time.Time, statuses []string) ([]*models.Appointment, error) {
	return findOverlapping(ctx, db, stylistID, from, to, statuses, "")
}

func (db *DB) ListClientAppointments(ctx context.Context, clientID string, window models.TimeRange) ([]*models.Appointment, error) {
	where, args := windowFilter(window)
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE client_id = ?` + where + ` ORDER BY start_at`
	return queryAppointments(ctx, db, query, append([]any{clientID}, args...)...)
}

func (db *DB) ListAppointments(ctx context.Context, window models.TimeRange) ([]*models.Appointment, error) {
	where, args := windowFilter(window)
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE 1 = 1` + where + ` ORDER BY start_at`
	return queryAppointments(ctx, db, query, args...)
}

// ListStartingBetween returns appointments with from <= start < to.
func (db *DB) ListStartingBetween(ctx context.Context, from, to time.Time, statuses []string) ([]*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE start_at >= ? AND start_at < ?`
	args := []any{formatTime(from), formatTime(to)}
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses)) + `)`
		args = append(args, stringArgs(statuses)...)
	}
	query += ` ORDER BY start_at`
	return queryAppointments(ctx, db, query, args...)
}

// windowFilter restricts by start time; zero bounds are open.
func windowFilter(w models.TimeRange) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)
	if !w.From.IsZero() {
		sb.WriteString(` AND start_at >= ?`)
		args = append(args, formatTime(w.From))
	}
	if !w.To.IsZero() {
		sb.WriteString(` AND start_at < ?`)
		args = append(args, formatTime(w.To))
	}
	return sb.String(), args
}

func findOverlapping(ctx context.Context, q querier, stylistID string, start, end time.Time, statuses []string, excludeID string) ([]*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments
              WHERE stylist_id = ? AND start_at < ? AND end_at > ?`
	args := []any{stylistID, formatTime(end), formatTime(start)}
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses)) + `)`
		args = append(args, stringArgs(statuses)...)
	}
	if excludeID != "" {
		query += ` AND id <> ?`
		args = append(args, excludeID)
	}
	query += ` ORDER BY start_at`
	return queryAppointments(ctx, q, query, args...)
}

func insertAppointment(ctx context.Context, q querier, appt *models.Appointment) error {
	now := storedNow()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now
	if appt.Status == "" {
		appt.Status = models.StatusAccepted
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO appointments (`+appointmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		appt.ID, appt.ClientID, appt.StylistID, appt.ServiceID,
		formatTime(appt.Start), formatTime(appt.End), appt.DurationMinutes,
		appt.Status, appt.Notes, formatTime(appt.CreatedAt), formatTime(appt.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert appointment: %w", translate(err))
	}
	return nil
}

func updateAppointment(ctx context.Context, q querier, appt *models.Appointment) error {
	appt.UpdatedAt = storedNow()
	res, err := q.ExecContext(ctx,
		`UPDATE appointments
         SET stylist_id = ?, service_id = ?, start_at = ?, end_at = ?, duration_minutes = ?, status = ?, notes = ?, updated_at = ?
         WHERE id = ?`,
		appt.StylistID, appt.ServiceID, formatTime(appt.Start), formatTime(appt.End), appt.DurationMinutes,
		appt.Status, appt.Notes, formatTime(appt.UpdatedAt), appt.ID)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", translate(err))
	}
	return requireOneRow(res, "appointment "+appt.ID)
}

// storedNow matches timeLayout precision, so the struct equals its stored row.
func storedNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func deleteAppointment(ctx context.Context, q querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM appointments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete appointment: %w", translate(err))
	}
	return requireOneRow(res, "appointment "+id)
}

func queryAppointments(ctx context.Context, q querier, query string, args ...any) ([]*models.Appointment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query appointments: %w", translate(err))
	}
	defer rows.Close()

	out := make([]*models.Appointment, 0)
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		out = append(out, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func scanAppointment(row rowScanner) (*models.Appointment, error) {
	var (
		a                                models.Appointment
		start, end, createdAt, updatedAt string
	)
	err := row.Scan(&a.ID, &a.ClientID, &a.StylistID, &a.ServiceID, &start, &end,
		&a.DurationMinutes, &a.Status, &a.Notes, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst *time.Time
		raw string
	}{{&a.Start, start}, {&a.End, end}, {&a.CreatedAt, createdAt}, {&a.UpdatedAt, updatedAt}} {
		if *f.dst, err = parseTime(f.raw); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

var _ domain.AppointmentRepository = (*DB)(nil)
