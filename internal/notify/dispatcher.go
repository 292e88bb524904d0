package notify

import (
	"context"

	"salonbook/internal/calendar"
	"salonbook/internal/domain"
	"salonbook/internal/metrics"
	"salonbook/internal/models"

	"github.com/rs/zerolog"
)

// Alerter posts a short message about a booking change to staff.
type Alerter interface {
	Alert(ctx context.Context, kind string, p *models.NotificationPayload) error
}

// Mirror reflects a booking change in an external calendar.
type Mirror interface {
	Sync(ctx context.Context, kind string, p *models.NotificationPayload) error
}

// Dispatcher implements domain.Notifier. The client email decides the outcome
// of a task; staff alerts and the calendar mirror are best effort and only run
// on the first attempt so retries do not repeat them.
type Dispatcher struct {
	email    EmailSender
	alerter  Alerter
	mirror   Mirror
	resolver *calendar.Resolver
	logger   zerolog.Logger
}

type DispatcherOption func(*Dispatcher)

func WithStaffAlerts(a Alerter) DispatcherOption {
	return func(d *Dispatcher) { d.alerter = a }
}

func WithCalendarMirror(m Mirror) DispatcherOption {
	return func(d *Dispatcher) { d.mirror = m }
}

func NewDispatcher(email EmailSender, resolver *calendar.Resolver, logger *zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		email:    email,
		resolver: resolver,
		logger:   componentLogger(logger, "notify"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ domain.Notifier = (*Dispatcher)(nil)

func (d *Dispatcher) Deliver(ctx context.Context, task *models.NotificationTask, payload *models.NotificationPayload) error {
	if payload == nil {
		return domain.Validationf("notification %d has no payload", task.ID)
	}

	if task.RetryCount == 0 {
		d.sideChannels(ctx, task.Kind, payload)
	}

	msg, err := RenderEmail(task.Kind, payload, d.resolver)
	if err != nil {
		return err
	}
	if err := d.email.Send(ctx, msg); err != nil {
		return err
	}
	return nil
}

func (d *Dispatcher) sideChannels(ctx context.Context, kind string, p *models.NotificationPayload) {
	if d.alerter != nil {
		if err := d.alerter.Alert(ctx, kind, p); err != nil {
			metrics.IncNotification(kind, "telegram_failed")
			d.logger.Warn().Err(err).Str("appointment_id", p.AppointmentID).Msg("staff alert not delivered")
		}
	}
	if d.mirror != nil {
		if err := d.mirror.Sync(ctx, kind, p); err != nil {
			metrics.IncNotification(kind, "calendar_failed")
			d.logger.Warn().Err(err).Str("appointment_id", p.AppointmentID).Msg("calendar mirror not updated")
		}
	}
}
