package notify

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"salonbook/internal/calendar"
	"salonbook/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// CalendarMirror keeps a shared Google Calendar in step with accepted
// appointments.
type CalendarMirror struct {
	service    *gcal.Service
	calendarID string
	resolver   *calendar.Resolver
	logger     zerolog.Logger
}

func NewCalendarMirror(ctx context.Context, credentialsFile, calendarID string, resolver *calendar.Resolver, logger *zerolog.Logger) (*CalendarMirror, error) {
	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(credentialsJSON, gcal.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := gcal.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}

	return newCalendarMirror(srv, calendarID, resolver, logger), nil
}

func newCalendarMirror(srv *gcal.Service, calendarID string, resolver *calendar.Resolver, logger *zerolog.Logger) *CalendarMirror {
	return &CalendarMirror{
		service:    srv,
		calendarID: calendarID,
		resolver:   resolver,
		logger:     componentLogger(logger, "calendar_mirror"),
	}
}

// Sync applies one notification to the mirror: confirmations upsert the
// event, cancellations remove it.
func (m *CalendarMirror) Sync(ctx context.Context, kind string, p *models.NotificationPayload) error {
	switch kind {
	case models.NotificationConfirmation:
		return m.upsert(ctx, p)
	case models.NotificationCancellation:
		return m.remove(ctx, p.AppointmentID)
	default:
		return nil
	}
}

func (m *CalendarMirror) upsert(ctx context.Context, p *models.NotificationPayload) error {
	ev := m.event(p)

	_, err := m.service.Events.Insert(m.calendarID, ev).Context(ctx).Do()
	if err == nil {
		m.logger.Debug().Str("appointment_id", p.AppointmentID).Msg("calendar event inserted")
		return nil
	}
	if apiStatus(err) != http.StatusConflict {
		return fmt.Errorf("insert calendar event: %w", err)
	}

	// событие уже есть (повтор или перенос)
	if _, err := m.service.Events.Update(m.calendarID, ev.Id, ev).Context(ctx).Do(); err != nil {
		return fmt.Errorf("update calendar event: %w", err)
	}
	m.logger.Debug().Str("appointment_id", p.AppointmentID).Msg("calendar event updated")
	return nil
}

func (m *CalendarMirror) remove(ctx context.Context, appointmentID string) error {
	err := m.service.Events.Delete(m.calendarID, eventID(appointmentID)).Context(ctx).Do()
	switch apiStatus(err) {
	case 0, http.StatusNotFound, http.StatusGone:
		if err == nil {
			m.logger.Debug().Str("appointment_id", appointmentID).Msg("calendar event deleted")
		}
		return nil
	default:
		return fmt.Errorf("delete calendar event: %w", err)
	}
}

func (m *CalendarMirror) event(p *models.NotificationPayload) *gcal.Event {
	tz := m.resolver.Location().String()
	desc := fmt.Sprintf("Client: %s", p.ClientName)
	if p.ClientEmail != "" {
		desc += fmt.Sprintf(" <%s>", p.ClientEmail)
	}
	if p.Notes != "" {
		desc += "\nNotes: " + p.Notes
	}
	return &gcal.Event{
		Id:          eventID(p.AppointmentID),
		Summary:     fmt.Sprintf("%s with %s", p.ServiceName, p.StylistName),
		Description: desc,
		Start:       &gcal.EventDateTime{DateTime: p.Start.In(m.resolver.Location()).Format(time.RFC3339), TimeZone: tz},
		End:         &gcal.EventDateTime{DateTime: p.End.In(m.resolver.Location()).Format(time.RFC3339), TimeZone: tz},
	}
}

// eventID maps an appointment id onto the base32hex alphabet Calendar
// requires for client-supplied ids.
func eventID(appointmentID string) string {
	return hex.EncodeToString([]byte(appointmentID))
}

// apiStatus returns the HTTP status of a Google API error, 0 for nil and -1
// for errors that did not come from the API.
func apiStatus(err error) int {
	if err == nil {
		return 0
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return -1
}
