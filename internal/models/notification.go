package models

import "time"

// NotificationTask is an outbox row written in the same transaction as the
// appointment change it describes.
type NotificationTask struct {
	ID            int64      `json:"id"`
	Kind          string     `json:"kind"`
	AppointmentID string     `json:"appointment_id"`
	Payload       string     `json:"payload"`
	DedupeKey     string     `json:"dedupe_key"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastError     *string    `json:"last_error"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
	NextRetryAt   *time.Time `json:"next_retry_at"`
}

// NotificationPayload is the snapshot rendered into NotificationTask.Payload.
// Names are resolved at enqueue time so a cancelled (deleted) appointment
// can still be described.
type NotificationPayload struct {
	AppointmentID string    `json:"appointment_id"`
	ClientID      string    `json:"client_id"`
	ClientName    string    `json:"client_name"`
	ClientEmail   string    `json:"client_email"`
	StylistID     string    `json:"stylist_id"`
	StylistName   string    `json:"stylist_name"`
	ServiceName   string    `json:"service_name"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Notes         string    `json:"notes,omitempty"`
}
