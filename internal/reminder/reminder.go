// Package reminder periodically queues reminder emails for upcoming
// appointments.
package reminder

import (
	"context"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/metrics"
	"salonbook/internal/models"
	"salonbook/internal/notify"

	"github.com/rs/zerolog"
)

// Store is what the scheduler reads and writes.
type Store interface {
	notify.Directory
	ListStartingBetween(ctx context.Context, from, to time.Time, statuses []string) ([]*models.Appointment, error)
	EnqueueNotification(ctx context.Context, task *models.NotificationTask) (bool, error)
}

type Scheduler struct {
	store    Store
	signaler domain.NotificationSignaler
	interval time.Duration
	window   time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

func NewScheduler(store Store, signaler domain.NotificationSignaler, interval, window time.Duration, logger *zerolog.Logger) *Scheduler {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "reminders").Logger()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if window <= 0 {
		window = interval
	}
	return &Scheduler{
		store:    store,
		signaler: signaler,
		interval: interval,
		window:   window,
		now:      time.Now,
		logger:   l,
	}
}

// Start runs one pass immediately and then every interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("reminder pass failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// RunOnce queues a reminder for every active appointment starting in
// [now, now+window). Appointments already reminded for the same start are
// skipped by the dedupe key. Returns the number of new tasks.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	from := s.now().UTC()
	to := from.Add(s.window)

	appts, err := s.store.ListStartingBetween(ctx, from, to, models.ActiveStatuses)
	if err != nil {
		return 0, err
	}

	var ids []int64
	for _, appt := range appts {
		payload, err := notify.BuildPayload(ctx, s.store, appt)
		if err != nil {
			s.logger.Error().Err(err).Str("appointment_id", appt.ID).Msg("reminder: build payload")
			continue
		}
		task, err := notify.NewTask(models.NotificationReminder, notify.ReminderKey(appt), payload)
		if err != nil {
			s.logger.Error().Err(err).Str("appointment_id", appt.ID).Msg("reminder: build task")
			continue
		}
		created, err := s.store.EnqueueNotification(ctx, task)
		if err != nil {
			s.logger.Error().Err(err).Str("appointment_id", appt.ID).Msg("reminder: enqueue")
			continue
		}
		if created {
			ids = append(ids, task.ID)
		}
	}

	if len(ids) > 0 {
		metrics.IncReminders(len(ids))
		if s.signaler != nil {
			s.signaler.Signal(ctx, ids...)
		}
	}
	s.logger.Debug().Int("candidates", len(appts)).Int("queued", len(ids)).Time("from", from).Time("to", to).Msg("reminder pass done")
	return len(ids), nil
}
