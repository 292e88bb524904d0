package database

import (
	"context"
	"fmt"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"

	"github.com/google/uuid"
)

const serviceColumns = `id, name, category, duration_minutes, price, created_at, updated_at`

func (db *DB) CreateService(ctx context.Context, svc *models.Service) error {
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	svc.CreatedAt, svc.UpdatedAt = now, now

	_, err := db.ExecContext(ctx,
		`INSERT INTO services (`+serviceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		svc.ID, svc.Name, svc.Category, svc.DurationMinutes, svc.Price, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", translate(err))
	}
	return nil
}

func (db *DB) UpdateService(ctx context.Context, svc *models.Service) error {
	svc.UpdatedAt = time.Now().UTC()
	res, err := db.ExecContext(ctx,
		`UPDATE services SET name = ?, category = ?, duration_minutes = ?, price = ?, updated_at = ? WHERE id = ?`,
		svc.Name, svc.Category, svc.DurationMinutes, svc.Price, formatTime(svc.UpdatedAt), svc.ID)
	if err != nil {
		return fmt.Errorf("failed to update service: %w", translate(err))
	}
	return requireOneRow(res, "service "+svc.ID)
}

func (db *DB) DeleteService(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM services WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete service: %w", translate(err))
	}
	return requireOneRow(res, "service "+id)
}

func (db *DB) GetService(ctx context.Context, id string) (*models.Service, error) {
	svc, err := scanService(db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get service %s: %w", id, translate(err))
	}
	return svc, nil
}

func (db *DB) GetServiceByName(ctx context.Context, name string) (*models.Service, error) {
	svc, err := scanService(db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE name = ?`, name))
	if err != nil {
		return nil, fmt.Errorf("failed to get service %q: %w", name, translate(err))
	}
	return svc, nil
}

func (db *DB) ListServices(ctx context.Context) ([]*models.Service, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY category, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", translate(err))
	}
	defer rows.Close()

	var out []*models.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

// CountServices returns how many of ids exist.
func (db *DB) CountServices(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int
	query := `SELECT COUNT(*) FROM services WHERE id IN (` + placeholders(len(ids)) + `)`
	if err := db.QueryRowContext(ctx, query, stringArgs(ids)...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count services: %w", translate(err))
	}
	return n, nil
}

func scanService(row rowScanner) (*models.Service, error) {
	var (
		svc                  models.Service
		createdAt, updatedAt string
	)
	if err := row.Scan(&svc.ID, &svc.Name, &svc.Category, &svc.DurationMinutes, &svc.Price, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if svc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if svc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &svc, nil
}

var _ domain.Store = (*DB)(nil)
