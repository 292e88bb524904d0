// Package postgres is the multi-instance store backed by PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salonbook/internal/config"
	"salonbook/internal/domain"
	"salonbook/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// querier is implemented by the pool, pgx.Tx and pgxmock.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pool interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements domain.Store on a pgx pool.
type Store struct {
	pool        pool
	lockTimeout time.Duration
	logger      zerolog.Logger
}

var _ domain.Store = (*Store)(nil)

// Open connects to Postgres, optionally applying migrations first.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zerolog.Logger) (*Store, error) {
	dsn := cfg.Postgres.DSN()
	if cfg.Postgres.MigrateOnStart {
		if err := RunMigrations(dsn, cfg.Postgres.MigrationTable); err != nil {
			return nil, err
		}
	}

	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.Postgres.MaxConnections > 0 {
		pcfg.MaxConns = int32(cfg.Postgres.MaxConnections)
	}
	if cfg.Postgres.MinConnections > 0 {
		pcfg.MinConns = int32(cfg.Postgres.MinConnections)
	}
	pcfg.MaxConnLifetime = 30 * time.Minute
	pcfg.MaxConnIdleTime = 5 * time.Minute

	p, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := New(p, cfg.LockTimeout, logger)
	s.logger.Info().Str("host", cfg.Postgres.Host).Str("db", cfg.Postgres.DBName).Msg("postgres store ready")
	return s, nil
}

// New wraps an existing pool.
func New(p pool, lockTimeout time.Duration, logger *zerolog.Logger) *Store {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "postgres").Logger()
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Store{pool: p, lockTimeout: lockTimeout, logger: l}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// WithinTx runs fn in a read-committed transaction with a bounded lock wait.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", translate(err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set lock timeout: %w", translate(err))
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", translate(err))
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

// LockStylist takes a transaction-scoped advisory lock keyed by the stylist id.
func (t *pgTx) LockStylist(ctx context.Context, stylistID string) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, stylistID); err != nil {
		return translate(err)
	}
	return nil
}

// GetAppointment reads the row with FOR UPDATE, so it stays put until commit.
func (t *pgTx) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	appt, err := scanAppointment(t.tx.QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, translate(err))
	}
	return appt, nil
}

func (t *pgTx) FindOverlapping(ctx context.Context, stylistID string, start, end time.Time, statuses []string, excludeID string) ([]*models.Appointment, error) {
	return findOverlapping(ctx, t.tx, stylistID, start, end, statuses, excludeID)
}

func (t *pgTx) InsertAppointment(ctx context.Context, appt *models.Appointment) error {
	return insertAppointment(ctx, t.tx, appt)
}

func (t *pgTx) UpdateAppointment(ctx context.Context, appt *models.Appointment) error {
	return updateAppointment(ctx, t.tx, appt)
}

func (t *pgTx) DeleteAppointment(ctx context.Context, id string) error {
	return deleteAppointment(ctx, t.tx, id)
}

func (t *pgTx) EnqueueNotification(ctx context.Context, task *models.NotificationTask) (bool, error) {
	return enqueueNotification(ctx, t.tx, task)
}

// translate maps pgx errors onto domain sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "57014", "40001", "40P01": // lock_not_available, query_canceled, serialization, deadlock
			return fmt.Errorf("%w: %s", domain.ErrTransient, pgErr.Message)
		case "23505":
			return fmt.Errorf("%w: already exists", domain.ErrValidation)
		case "23503", "23514", "22P02":
			return fmt.Errorf("%w: %s", domain.ErrValidation, pgErr.Message)
		}
	}
	return err
}

func requireOneRow(tag pgconn.CommandTag, what string) error {
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("%s", what)
	}
	return nil
}
