package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"salonbook/internal/booking"
	"salonbook/internal/calendar"
	"salonbook/internal/domain"
	"salonbook/internal/events"
	"salonbook/internal/models"
	"salonbook/internal/notify"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type CreateAppointmentRequest struct {
	// ClientID is honoured for admins only; everyone else books for themselves.
	ClientID  string
	StylistID string
	ServiceID string
	Start     time.Time
	Notes     string
}

// UpdateAppointmentRequest holds the fields to change; nil means unchanged.
type UpdateAppointmentRequest struct {
	StylistID *string
	ServiceID *string
	Start     *time.Time
	Status    *string
	Notes     *string
}

// AppointmentService validates and applies appointment changes. Every change
// of stylist, start or duration goes through the booking guard.
type AppointmentService struct {
	store    domain.Store
	guard    *booking.Guard
	resolver *calendar.Resolver
	cache    domain.SlotCache
	eventBus domain.EventPublisher
	signaler domain.NotificationSignaler
	notify   bool
	now      func() time.Time
	logger   *zerolog.Logger
}

type AppointmentOption func(*AppointmentService)

func WithSlotCache(cache domain.SlotCache) AppointmentOption {
	return func(s *AppointmentService) { s.cache = cache }
}

func WithEventBus(bus domain.EventPublisher) AppointmentOption {
	return func(s *AppointmentService) { s.eventBus = bus }
}

func WithSignaler(sig domain.NotificationSignaler) AppointmentOption {
	return func(s *AppointmentService) { s.signaler = sig }
}

// WithNotifications toggles writing notification tasks to the outbox.
func WithNotifications(enabled bool) AppointmentOption {
	return func(s *AppointmentService) { s.notify = enabled }
}

func NewAppointmentService(store domain.Store, guard *booking.Guard, resolver *calendar.Resolver, logger *zerolog.Logger, opts ...AppointmentOption) *AppointmentService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &AppointmentService{
		store:    store,
		guard:    guard,
		resolver: resolver,
		notify:   true,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AppointmentService) Create(ctx context.Context, auth models.AuthContext, req CreateAppointmentRequest) (*models.Appointment, error) {
	if auth.SubjectID == "" {
		return nil, domain.Forbiddenf("authentication required")
	}
	if strings.TrimSpace(req.StylistID) == "" {
		return nil, domain.Validationf("stylist id is required")
	}
	if strings.TrimSpace(req.ServiceID) == "" {
		return nil, domain.Validationf("service is required")
	}
	if req.Start.IsZero() {
		return nil, domain.Validationf("date is required and must be valid")
	}

	clientID := auth.SubjectID
	if auth.IsAdmin() && req.ClientID != "" {
		clientID = req.ClientID
	}

	stylist, err := s.loadStylist(ctx, req.StylistID)
	if err != nil {
		return nil, err
	}
	if err := s.checkWorkingTime(stylist, req.Start); err != nil {
		return nil, err
	}
	svc, err := s.store.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", req.ServiceID, err)
	}

	start := req.Start.UTC()
	appt := &models.Appointment{
		ID:              uuid.NewString(),
		ClientID:        clientID,
		StylistID:       stylist.ID,
		ServiceID:       svc.ID,
		Start:           start,
		End:             start.Add(svc.Duration()),
		DurationMinutes: svc.DurationMinutes,
		Status:          models.StatusAccepted,
		Notes:           strings.TrimSpace(req.Notes),
	}

	task, err := s.task(ctx, models.NotificationConfirmation, models.NotificationConfirmation+":"+appt.ID, appt)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Reserve(ctx, appt, task); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", appt.ID).
		Str("stylist_id", appt.StylistID).
		Time("start", appt.Start).
		Msg("appointment created")
	s.afterCommit(ctx, events.EventAppointmentCreated, appt, auth, []*models.Appointment{appt}, task)
	return appt, nil
}

func (s *AppointmentService) Update(ctx context.Context, auth models.AuthContext, id string, req UpdateAppointmentRequest) (*models.Appointment, error) {
	current, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.IsAdmin() && !auth.IsStylist() && !auth.Owns(current) {
		return nil, domain.Forbiddenf("unauthorized to update this appointment")
	}
	if !current.IsActive() {
		return nil, domain.Validationf("appointment is %s and cannot be changed", current.Status)
	}

	updated := *current
	moved := false

	if req.StylistID != nil && *req.StylistID != current.StylistID {
		updated.StylistID = *req.StylistID
		moved = true
	}
	if req.ServiceID != nil && *req.ServiceID != current.ServiceID {
		svc, err := s.store.GetService(ctx, *req.ServiceID)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", *req.ServiceID, err)
		}
		updated.ServiceID = svc.ID
		updated.DurationMinutes = svc.DurationMinutes
		moved = true
	}
	if req.Start != nil && !req.Start.Equal(current.Start) {
		if req.Start.IsZero() {
			return nil, domain.Validationf("date must be valid")
		}
		updated.Start = req.Start.UTC()
		moved = true
	}
	updated.End = updated.Start.Add(time.Duration(updated.DurationMinutes) * time.Minute)

	if moved {
		stylist, err := s.loadStylist(ctx, updated.StylistID)
		if err != nil {
			return nil, err
		}
		if err := s.checkWorkingTime(stylist, updated.Start); err != nil {
			return nil, err
		}
	}

	statusChanged := false
	if req.Status != nil && *req.Status != current.Status {
		if !models.IsValidStatus(*req.Status) {
			return nil, domain.Validationf("invalid status %q", *req.Status)
		}
		if !models.CanTransition(current.Status, *req.Status) {
			return nil, domain.Validationf("cannot change status from %s to %s", current.Status, *req.Status)
		}
		updated.Status = *req.Status
		statusChanged = true
	}
	if req.Notes != nil {
		updated.Notes = strings.TrimSpace(*req.Notes)
	}

	if !updated.IsActive() && moved {
		// отклонённую или отменённую запись не переносим
		updated.StylistID, updated.ServiceID = current.StylistID, current.ServiceID
		updated.Start, updated.End, updated.DurationMinutes = current.Start, current.End, current.DurationMinutes
		moved = false
	}

	var (
		task      *models.NotificationTask
		eventType = events.EventAppointmentUpdated
	)
	switch {
	case !updated.IsActive():
		// отмена или отклонение через изменение статуса
		task, err = s.task(ctx, models.NotificationCancellation, models.NotificationCancellation+":"+updated.ID, &updated)
		eventType = events.EventAppointmentStatusChanged
	case moved:
		task, err = s.task(ctx, models.NotificationConfirmation, "", &updated)
		eventType = events.EventAppointmentRescheduled
	case statusChanged:
		eventType = events.EventAppointmentStatusChanged
	}
	if err != nil {
		return nil, err
	}

	// guard сверяет current со строкой в транзакции: устаревший снимок даст ErrConflict
	if moved && updated.IsActive() {
		err = s.guard.Reschedule(ctx, current, &updated, task)
	} else {
		err = s.guard.Amend(ctx, current, &updated, task)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", updated.ID).
		Str("status", updated.Status).
		Bool("moved", moved).
		Msg("appointment updated")
	s.afterCommit(ctx, eventType, &updated, auth, []*models.Appointment{current, &updated}, task)
	return &updated, nil
}

// Cancel deletes the appointment. Only admins and the owning client may cancel.
func (s *AppointmentService) Cancel(ctx context.Context, auth models.AuthContext, id string) error {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return err
	}
	if !auth.IsAdmin() && !auth.Owns(appt) {
		return domain.Forbiddenf("unauthorized to delete this appointment")
	}

	var task *models.NotificationTask
	if appt.IsActive() {
		task, err = s.task(ctx, models.NotificationCancellation, models.NotificationCancellation+":"+appt.ID, appt)
		if err != nil {
			// отмену не блокируем из-за уведомления
			s.logger.Warn().Err(err).Str("appointment_id", appt.ID).Msg("cancellation notice skipped")
			task = nil
		}
	}

	if err := s.guard.Release(ctx, appt.ID, task); err != nil {
		return err
	}

	s.logger.Info().Str("appointment_id", appt.ID).Str("by", auth.SubjectID).Msg("appointment cancelled")
	s.afterCommit(ctx, events.EventAppointmentCancelled, appt, auth, []*models.Appointment{appt}, task)
	return nil
}

// Get returns one appointment to an admin, any stylist or its client.
func (s *AppointmentService) Get(ctx context.Context, auth models.AuthContext, id string) (*models.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.IsAdmin() && !auth.IsStylist() && !auth.Owns(appt) {
		return nil, domain.Forbiddenf("unauthorized to view this appointment")
	}
	return appt, nil
}

// Mine lists the caller's appointments. filter is "", "past" or "future",
// split at local midnight today.
func (s *AppointmentService) Mine(ctx context.Context, auth models.AuthContext, filter string) ([]*models.Appointment, error) {
	if auth.SubjectID == "" {
		return nil, domain.Forbiddenf("authentication required")
	}
	today := s.resolver.StartOfToday(s.now())

	var window models.TimeRange
	switch filter {
	case "":
	case "past":
		window.To = today
	case "future":
		window.From = today
	default:
		return nil, domain.Validationf("unknown filter %q, expected past or future", filter)
	}
	return s.store.ListClientAppointments(ctx, auth.SubjectID, window)
}

// ListAll is the admin view; empty dates leave the range open.
func (s *AppointmentService) ListAll(ctx context.Context, auth models.AuthContext, fromDate, toDate string) ([]*models.Appointment, error) {
	if !auth.IsAdmin() {
		return nil, domain.Forbiddenf("admin access required")
	}
	var window models.TimeRange
	if fromDate != "" {
		from, _, err := s.resolver.DayRangeUTC(fromDate)
		if err != nil {
			return nil, err
		}
		window.From = from
	}
	if toDate != "" {
		_, to, err := s.resolver.DayRangeUTC(toDate)
		if err != nil {
			return nil, err
		}
		window.To = to
	}
	if !window.From.IsZero() && !window.To.IsZero() && !window.To.After(window.From) {
		return nil, domain.Validationf("empty date range %s..%s", fromDate, toDate)
	}
	return s.store.ListAppointments(ctx, window)
}

// StylistDay lists a stylist's appointments on a local date. Stylists see
// their own calendar, admins see any.
func (s *AppointmentService) StylistDay(ctx context.Context, auth models.AuthContext, stylistID, date string) ([]*models.Appointment, error) {
	if !auth.IsAdmin() && !(auth.IsStylist() && auth.SubjectID == stylistID) {
		return nil, domain.Forbiddenf("unauthorized to view this schedule")
	}
	from, to, err := s.resolver.DayRangeUTC(date)
	if err != nil {
		return nil, err
	}
	return s.store.ListStylistAppointments(ctx, stylistID, from, to, nil)
}

func (s *AppointmentService) loadStylist(ctx context.Context, id string) (*models.User, error) {
	stylist, err := s.store.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFoundf("stylist not found")
		}
		return nil, err
	}
	if !stylist.IsStylist() {
		return nil, domain.NotFoundf("stylist not found")
	}
	return stylist, nil
}

// checkWorkingTime rejects starts on an off-day or outside [workStart, workEnd)
// of the salon-local day.
func (s *AppointmentService) checkWorkingTime(stylist *models.User, start time.Time) error {
	if stylist.IsOff(s.resolver.WeekdayName(start), s.resolver.LocalDate(start)) {
		return domain.Validationf("stylist is off on this day")
	}
	open, err := calendar.ParseClock(stylist.WorkStart)
	if err != nil {
		return err
	}
	closeAt, err := calendar.ParseClock(stylist.WorkEnd)
	if err != nil {
		return err
	}
	minutes := s.resolver.MinutesOfDay(start)
	if minutes < open || minutes >= closeAt {
		return domain.Validationf("appointment time is outside stylist working hours")
	}
	return nil
}

func (s *AppointmentService) task(ctx context.Context, kind, dedupeKey string, appt *models.Appointment) (*models.NotificationTask, error) {
	if !s.notify {
		return nil, nil
	}
	payload, err := notify.BuildPayload(ctx, s.store, appt)
	if err != nil {
		return nil, err
	}
	return notify.NewTask(kind, dedupeKey, payload)
}

// afterCommit runs the side effects of a committed change. None of them can
// fail the operation.
func (s *AppointmentService) afterCommit(
	ctx context.Context,
	eventType string,
	appt *models.Appointment,
	auth models.AuthContext,
	touched []*models.Appointment,
	task *models.NotificationTask,
) {
	if s.cache != nil {
		seen := make(map[string]bool)
		for _, a := range touched {
			date := s.resolver.LocalDate(a.Start)
			key := a.StylistID + "|" + date
			if seen[key] {
				continue
			}
			seen[key] = true
			if err := s.cache.InvalidateDay(ctx, a.StylistID, date); err != nil {
				s.logger.Warn().Err(err).Str("stylist_id", a.StylistID).Str("date", date).Msg("slot cache invalidation failed")
			}
		}
	}

	if s.eventBus != nil {
		payload := events.AppointmentEventPayload{
			AppointmentID: appt.ID,
			ClientID:      appt.ClientID,
			StylistID:     appt.StylistID,
			ServiceID:     appt.ServiceID,
			Start:         appt.Start,
			End:           appt.End,
			Status:        appt.Status,
			ChangedBy:     auth.SubjectID,
			ChangedByRole: auth.Role,
		}
		if len(touched) > 0 && touched[0].Status != appt.Status {
			payload.PreviousStatus = touched[0].Status
		}
		if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
			s.logger.Warn().Err(err).Str("event", eventType).Str("appointment_id", appt.ID).Msg("publish event failed")
		}
	}

	if s.signaler != nil && task != nil && task.ID != 0 {
		s.signaler.Signal(ctx, task.ID)
	}
}
