package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"

	"github.com/google/uuid"
)

const userColumns = `id, name, email, role, work_start, work_end, off_days, created_at, updated_at`

// UpsertUser inserts the user or updates the row with the same email.
// The stored id is written back to user.ID.
func (db *DB) UpsertUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = models.RoleClient
	}
	offDays, err := encodeList(user.OffDays)
	if err != nil {
		return fmt.Errorf("encode off days: %w", err)
	}

	now := formatTime(time.Now())
	query := `INSERT INTO users (` + userColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(email) DO UPDATE SET
                name = excluded.name,
                role = excluded.role,
                work_start = excluded.work_start,
                work_end = excluded.work_end,
                off_days = excluded.off_days,
                updated_at = excluded.updated_at
              RETURNING id`
	err = db.QueryRowContext(ctx, query,
		user.ID, user.Name, user.Email, user.Role, user.WorkStart, user.WorkEnd, offDays, now, now,
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", translate(err))
	}
	return nil
}

func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := db.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if u.ServiceIDs, err = db.serviceIDs(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := db.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	if err != nil {
		return nil, err
	}
	if u.ServiceIDs, err = db.serviceIDs(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

func (db *DB) ListStylists(ctx context.Context) ([]*models.User, error) {
	return db.listUsers(ctx, `SELECT `+userColumns+` FROM users WHERE role = ? ORDER BY name`, models.RoleStylist)
}

func (db *DB) ListStylistsByService(ctx context.Context, serviceID string) ([]*models.User, error) {
	query := `SELECT u.id, u.name, u.email, u.role, u.work_start, u.work_end, u.off_days, u.created_at, u.updated_at
              FROM users u
              JOIN stylist_services ss ON ss.stylist_id = u.id
              WHERE u.role = ? AND ss.service_id = ?
              ORDER BY u.name`
	return db.listUsers(ctx, query, models.RoleStylist, serviceID)
}

func (db *DB) UpdateSchedule(ctx context.Context, stylistID, workStart, workEnd string, offDays []string) error {
	encoded, err := encodeList(offDays)
	if err != nil {
		return fmt.Errorf("encode off days: %w", err)
	}
	res, err := db.ExecContext(ctx,
		`UPDATE users SET work_start = ?, work_end = ?, off_days = ?, updated_at = ? WHERE id = ? AND role = ?`,
		workStart, workEnd, encoded, formatTime(time.Now()), stylistID, models.RoleStylist)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", translate(err))
	}
	return requireOneRow(res, "stylist")
}

// AssignServices replaces the stylist's service links.
func (db *DB) AssignServices(ctx context.Context, stylistID string, serviceIDs []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", translate(err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var role string
	if err := tx.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, stylistID).Scan(&role); err != nil {
		return fmt.Errorf("load stylist: %w", translate(err))
	}
	if role != models.RoleStylist {
		return domain.NotFoundf("stylist %s", stylistID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stylist_services WHERE stylist_id = ?`, stylistID); err != nil {
		return fmt.Errorf("clear services: %w", translate(err))
	}
	for _, id := range serviceIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO stylist_services (stylist_id, service_id) VALUES (?, ?)`, stylistID, id); err != nil {
			return fmt.Errorf("link service %s: %w", id, translate(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", translate(err))
	}
	return nil
}

func (db *DB) queryUser(ctx context.Context, query string, args ...any) (*models.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", translate(err))
	}
	return u, nil
}

func (db *DB) listUsers(ctx context.Context, query string, args ...any) ([]*models.User, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", translate(err))
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, u := range users {
		if u.ServiceIDs, err = db.serviceIDs(ctx, u.ID); err != nil {
			return nil, err
		}
	}
	return users, nil
}

func (db *DB) serviceIDs(ctx context.Context, stylistID string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT service_id FROM stylist_services WHERE stylist_id = ? ORDER BY service_id`, stylistID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stylist services: %w", translate(err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                    models.User
		offDays              string
		createdAt, updatedAt string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.WorkStart, &u.WorkEnd, &offDays, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if u.OffDays, err = decodeList(offDays); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func requireOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.NotFoundf("%s", what)
	}
	return nil
}
