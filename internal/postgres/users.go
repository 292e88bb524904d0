package postgres

import (
	"context"
	"fmt"

	"salonbook/internal/domain"
	"salonbook/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, name, email, role, work_start, work_end, off_days, created_at, updated_at`

func (s *Store) UpsertUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = models.RoleClient
	}
	offDays := user.OffDays
	if offDays == nil {
		offDays = []string{}
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, name, email, role, work_start, work_end, off_days)
         VALUES ($1, $2, $3, $4, $5, $6, $7)
         ON CONFLICT (email) DO UPDATE SET
            name = EXCLUDED.name,
            role = EXCLUDED.role,
            work_start = EXCLUDED.work_start,
            work_end = EXCLUDED.work_end,
            off_days = EXCLUDED.off_days,
            updated_at = now()
         RETURNING id, created_at, updated_at`,
		user.ID, user.Name, user.Email, user.Role, user.WorkStart, user.WorkEnd, offDays,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert user: %w", translate(err))
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (s *Store) getUser(ctx context.Context, query string, arg string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, fmt.Errorf("get user: %w", translate(err))
	}
	if u.ServiceIDs, err = s.serviceIDs(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) ListStylists(ctx context.Context) ([]*models.User, error) {
	return s.listUsers(ctx, `SELECT `+userColumns+` FROM users WHERE role = $1 ORDER BY name`, models.RoleStylist)
}

func (s *Store) ListStylistsByService(ctx context.Context, serviceID string) ([]*models.User, error) {
	return s.listUsers(ctx,
		`SELECT u.id, u.name, u.email, u.role, u.work_start, u.work_end, u.off_days, u.created_at, u.updated_at
         FROM users u JOIN stylist_services ss ON ss.stylist_id = u.id
         WHERE u.role = $1 AND ss.service_id = $2
         ORDER BY u.name`,
		models.RoleStylist, serviceID)
}

func (s *Store) UpdateSchedule(ctx context.Context, stylistID, workStart, workEnd string, offDays []string) error {
	if offDays == nil {
		offDays = []string{}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET work_start = $1, work_end = $2, off_days = $3, updated_at = now()
         WHERE id = $4 AND role = $5`,
		workStart, workEnd, offDays, stylistID, models.RoleStylist)
	if err != nil {
		return fmt.Errorf("update schedule: %w", translate(err))
	}
	return requireOneRow(tag, "stylist")
}

func (s *Store) AssignServices(ctx context.Context, stylistID string, serviceIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", translate(err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var role string
	if err := tx.QueryRow(ctx, `SELECT role FROM users WHERE id = $1 FOR UPDATE`, stylistID).Scan(&role); err != nil {
		return fmt.Errorf("load stylist: %w", translate(err))
	}
	if role != models.RoleStylist {
		return domain.NotFoundf("stylist %s", stylistID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM stylist_services WHERE stylist_id = $1`, stylistID); err != nil {
		return fmt.Errorf("clear services: %w", translate(err))
	}
	if len(serviceIDs) > 0 {
		_, err := tx.Exec(ctx,
			`INSERT INTO stylist_services (stylist_id, service_id)
             SELECT $1, unnest($2::text[])
             ON CONFLICT DO NOTHING`,
			stylistID, serviceIDs)
		if err != nil {
			return fmt.Errorf("link services: %w", translate(err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", translate(err))
	}
	return nil
}

func (s *Store) listUsers(ctx context.Context, query string, args ...any) ([]*models.User, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", translate(err))
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.User, error) {
		return scanUser(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	for _, u := range users {
		if u.ServiceIDs, err = s.serviceIDs(ctx, u.ID); err != nil {
			return nil, err
		}
	}
	return users, nil
}

func (s *Store) serviceIDs(ctx context.Context, stylistID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT service_id FROM stylist_services WHERE stylist_id = $1 ORDER BY service_id`, stylistID)
	if err != nil {
		return nil, fmt.Errorf("list stylist services: %w", translate(err))
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan stylist services: %w", err)
	}
	return ids, nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.WorkStart, &u.WorkEnd, &u.OffDays, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
