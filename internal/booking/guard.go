// Package booking serializes writes to a stylist's calendar.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/metrics"
	"salonbook/internal/models"
	"salonbook/internal/retry"

	"github.com/rs/zerolog"
)

// Guard runs check-and-write sequences under a per-stylist transaction lock,
// so two overlapping active appointments can never both commit.
type Guard struct {
	store  domain.TxRunner
	policy retry.Policy
	logger zerolog.Logger
}

func NewGuard(store domain.TxRunner, policy retry.Policy, logger *zerolog.Logger) *Guard {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "booking_guard").Logger()
	}
	return &Guard{store: store, policy: policy, logger: l}
}

// ErrStale rejects a write whose caller read an older version of the row.
var ErrStale = fmt.Errorf("%w: appointment was changed by another request", domain.ErrConflict)

// Reserve inserts appt and the notification tasks atomically, unless an
// active appointment of the same stylist overlaps [appt.Start, appt.End).
func (g *Guard) Reserve(ctx context.Context, appt *models.Appointment, tasks ...*models.NotificationTask) error {
	return g.run(ctx, "reserve", appt, nil, tasks, func(ctx context.Context, tx domain.Tx, _ *models.Appointment) error {
		return tx.InsertAppointment(ctx, appt)
	})
}

// Reschedule replaces the row read as before with after. Both stylists are
// locked, the row is re-read and must still match before, and the new
// interval is checked against everything except the row itself.
func (g *Guard) Reschedule(ctx context.Context, before, after *models.Appointment, tasks ...*models.NotificationTask) error {
	if err := sameRow(before, after); err != nil {
		return err
	}
	return g.run(ctx, "reschedule", after, before, tasks, func(ctx context.Context, tx domain.Tx, _ *models.Appointment) error {
		return tx.UpdateAppointment(ctx, after)
	})
}

// Amend writes status and notes of after onto the row read as before.
// Placement columns always come from the row inside the transaction.
func (g *Guard) Amend(ctx context.Context, before, after *models.Appointment, tasks ...*models.NotificationTask) error {
	if err := sameRow(before, after); err != nil {
		return err
	}
	target := *before
	target.Status, target.Notes = after.Status, after.Notes

	return g.run(ctx, "amend", &target, before, tasks, func(ctx context.Context, tx domain.Tx, fresh *models.Appointment) error {
		row := *fresh
		row.Status, row.Notes = after.Status, after.Notes
		if err := tx.UpdateAppointment(ctx, &row); err != nil {
			return err
		}
		*after = row
		return nil
	})
}

// Release deletes the appointment and enqueues the tasks in one transaction.
func (g *Guard) Release(ctx context.Context, id string, tasks ...*models.NotificationTask) error {
	return g.withRetry(ctx, func(ctx context.Context) error {
		return g.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			if err := tx.DeleteAppointment(ctx, id); err != nil {
				return fmt.Errorf("delete appointment: %w", err)
			}
			return enqueue(ctx, tx, tasks)
		})
	})
}

func sameRow(before, after *models.Appointment) error {
	if before == nil || after == nil || after.ID == "" {
		return domain.Validationf("appointment id is required")
	}
	if before.ID != after.ID {
		return domain.Validationf("appointment id mismatch: %s != %s", before.ID, after.ID)
	}
	return nil
}

// run locks the stylists involved, verifies that prev (when set) is still
// the stored version, rejects overlaps of an active appt and then writes.
func (g *Guard) run(
	ctx context.Context,
	op string,
	appt *models.Appointment,
	prev *models.Appointment,
	tasks []*models.NotificationTask,
	write func(ctx context.Context, tx domain.Tx, fresh *models.Appointment) error,
) error {
	if appt == nil || appt.StylistID == "" {
		return domain.Validationf("stylist is required")
	}
	if !appt.End.After(appt.Start) {
		return domain.Validationf("appointment must end after it starts")
	}

	stylists := []string{appt.StylistID}
	excludeID := ""
	if prev != nil {
		stylists = lockOrder(prev.StylistID, appt.StylistID)
		excludeID = prev.ID
	}
	// пустой статус сохраняется как accepted
	blocking := appt.Status == "" || appt.IsActive()

	err := g.withRetry(ctx, func(ctx context.Context) error {
		return g.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			started := time.Now()
			for _, id := range stylists {
				if err := tx.LockStylist(ctx, id); err != nil {
					return fmt.Errorf("lock stylist %s: %w", id, err)
				}
			}
			metrics.ObserveLockWait(time.Since(started))

			var fresh *models.Appointment
			if prev != nil {
				current, err := tx.GetAppointment(ctx, prev.ID)
				if err != nil {
					return fmt.Errorf("reload appointment: %w", err)
				}
				if !current.SameRevision(prev) {
					return ErrStale
				}
				fresh = current
			}

			if blocking {
				clash, err := tx.FindOverlapping(ctx, appt.StylistID, appt.Start, appt.End, models.ActiveStatuses, excludeID)
				if err != nil {
					return fmt.Errorf("find overlapping: %w", err)
				}
				if len(clash) > 0 {
					return fmt.Errorf("%w: overlaps appointment %s", domain.ErrConflict, clash[0].ID)
				}
			}

			if err := write(ctx, tx, fresh); err != nil {
				return err
			}
			return enqueue(ctx, tx, tasks)
		})
	})

	switch {
	case err == nil:
		metrics.IncAppointment(op, "ok")
	case errors.Is(err, ErrStale):
		metrics.IncAppointment(op, "stale")
		g.logger.Info().Str("appointment_id", prev.ID).Msg("write rejected: row changed since it was read")
	case errors.Is(err, domain.ErrConflict):
		metrics.IncAppointment(op, "conflict")
		g.logger.Info().
			Str("stylist_id", appt.StylistID).
			Time("start", appt.Start).
			Time("end", appt.End).
			Msg("booking rejected: slot taken")
	case errors.Is(err, domain.ErrTransient):
		metrics.IncAppointment(op, "transient")
		g.logger.Warn().Err(err).Str("stylist_id", appt.StylistID).Msg("booking lock unavailable")
	default:
		metrics.IncAppointment(op, "error")
	}
	return err
}

// lockOrder returns the distinct stylist ids sorted, so two moves between
// the same pair of calendars take the locks in the same order.
func lockOrder(a, b string) []string {
	switch {
	case a == b || a == "":
		return []string{b}
	case b == "":
		return []string{a}
	case a < b:
		return []string{a, b}
	default:
		return []string{b, a}
	}
}

func (g *Guard) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, g.policy, domain.IsRetryable, fn)
}

func enqueue(ctx context.Context, tx domain.Tx, tasks []*models.NotificationTask) error {
	for _, task := range tasks {
		if task == nil {
			continue
		}
		if _, err := tx.EnqueueNotification(ctx, task); err != nil {
			return fmt.Errorf("enqueue %s notification: %w", task.Kind, err)
		}
	}
	return nil
}
