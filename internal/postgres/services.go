package postgres

import (
	"context"
	"fmt"

	"salonbook/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const serviceColumns = `id, name, category, duration_minutes, price, created_at, updated_at`

func (s *Store) CreateService(ctx context.Context, svc *models.Service) error {
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO services (id, name, category, duration_minutes, price)
         VALUES ($1, $2, $3, $4, $5)
         RETURNING created_at, updated_at`,
		svc.ID, svc.Name, svc.Category, svc.DurationMinutes, svc.Price,
	).Scan(&svc.CreatedAt, &svc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create service: %w", translate(err))
	}
	return nil
}

func (s *Store) UpdateService(ctx context.Context, svc *models.Service) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE services SET name = $1, category = $2, duration_minutes = $3, price = $4, updated_at = now()
         WHERE id = $5`,
		svc.Name, svc.Category, svc.DurationMinutes, svc.Price, svc.ID)
	if err != nil {
		return fmt.Errorf("update service: %w", translate(err))
	}
	return requireOneRow(tag, "service "+svc.ID)
}

func (s *Store) DeleteService(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM services WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete service: %w", translate(err))
	}
	return requireOneRow(tag, "service "+id)
}

func (s *Store) GetService(ctx context.Context, id string) (*models.Service, error) {
	svc, err := scanService(s.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get service %s: %w", id, translate(err))
	}
	return svc, nil
}

func (s *Store) GetServiceByName(ctx context.Context, name string) (*models.Service, error) {
	svc, err := scanService(s.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE name = $1`, name))
	if err != nil {
		return nil, fmt.Errorf("get service %q: %w", name, translate(err))
	}
	return svc, nil
}

func (s *Store) ListServices(ctx context.Context) ([]*models.Service, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY category, name`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", translate(err))
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Service, error) {
		return scanService(row)
	})
}

func (s *Store) CountServices(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM services WHERE id = ANY($1)`, ids).Scan(&n); err != nil {
		return 0, fmt.Errorf("count services: %w", translate(err))
	}
	return n, nil
}

func scanService(row pgx.Row) (*models.Service, error) {
	var svc models.Service
	if err := row.Scan(&svc.ID, &svc.Name, &svc.Category, &svc.DurationMinutes, &svc.Price, &svc.CreatedAt, &svc.UpdatedAt); err != nil {
		return nil, err
	}
	return &svc, nil
}
