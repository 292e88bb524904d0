package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"salonbook/internal/domain"
	"salonbook/internal/models"
)

// Directory resolves the names a notification needs.
type Directory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetService(ctx context.Context, id string) (*models.Service, error)
}

// BuildPayload snapshots the appointment with the client, stylist and
// service names. A missing client or service is an error; a missing stylist
// only leaves the name empty.
func BuildPayload(ctx context.Context, dir Directory, appt *models.Appointment) (*models.NotificationPayload, error) {
	client, err := dir.GetUser(ctx, appt.ClientID)
	if err != nil {
		return nil, fmt.Errorf("load client %s: %w", appt.ClientID, err)
	}
	svc, err := dir.GetService(ctx, appt.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("load service %s: %w", appt.ServiceID, err)
	}

	p := &models.NotificationPayload{
		AppointmentID: appt.ID,
		ClientID:      client.ID,
		ClientName:    client.Name,
		ClientEmail:   client.Email,
		StylistID:     appt.StylistID,
		ServiceName:   svc.Name,
		Start:         appt.Start,
		End:           appt.End,
		Notes:         appt.Notes,
	}
	if stylist, err := dir.GetUser(ctx, appt.StylistID); err == nil {
		p.StylistName = stylist.Name
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load stylist %s: %w", appt.StylistID, err)
	}
	return p, nil
}

// NewTask renders the payload into an outbox row. With an empty dedupeKey
// the store assigns a unique one.
func NewTask(kind, dedupeKey string, p *models.NotificationPayload) (*models.NotificationTask, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return &models.NotificationTask{
		Kind:          kind,
		AppointmentID: p.AppointmentID,
		Payload:       string(data),
		DedupeKey:     dedupeKey,
		Status:        models.TaskPending,
	}, nil
}

// ReminderKey identifies the reminder for one appointment start; a
// rescheduled appointment gets a fresh reminder.
func ReminderKey(appt *models.Appointment) string {
	return fmt.Sprintf("%s:%s:%d", models.NotificationReminder, appt.ID, appt.Start.Unix())
}
