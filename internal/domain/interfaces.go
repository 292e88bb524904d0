package domain

import (
	"context"
	"time"

	"salonbook/internal/models"
)

type UserRepository interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpsertUser(ctx context.Context, user *models.User) error
	ListStylists(ctx context.Context) ([]*models.User, error)
	ListStylistsByService(ctx context.Context, serviceID string) ([]*models.User, error)
	UpdateSchedule(ctx context.Context, stylistID, workStart, workEnd string, offDays []string) error
	AssignServices(ctx context.Context, stylistID string, serviceIDs []string) error
}

type ServiceRepository interface {
	GetService(ctx context.Context, id string) (*models.Service, error)
	GetServiceByName(ctx context.Context, name string) (*models.Service, error)
	ListServices(ctx context.Context) ([]*models.Service, error)
	CountServices(ctx context.Context, ids []string) (int, error)
	CreateService(ctx context.Context, svc *models.Service) error
	UpdateService(ctx context.Context, svc *models.Service) error
	DeleteService(ctx context.Context, id string) error
}

type AppointmentRepository interface {
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
	// ListStylistAppointments returns appointments of the stylist whose
	// [start, end) intersects [from, to) and whose status is in statuses.
	ListStylistAppointments(ctx context.Context, stylistID string, from, to time.Time, statuses []string) ([]*models.Appointment, error)
	ListClientAppointments(ctx context.Context, clientID string, window models.TimeRange) ([]*models.Appointment, error)
	ListAppointments(ctx context.Context, window models.TimeRange) ([]*models.Appointment, error)
	ListStartingBetween(ctx context.Context, from, to time.Time, statuses []string) ([]*models.Appointment, error)
}

type NotificationQueue interface {
	// EnqueueNotification stores the task unless its dedupe key already exists.
	EnqueueNotification(ctx context.Context, task *models.NotificationTask) (bool, error)
	GetNotification(ctx context.Context, id int64) (*models.NotificationTask, error)
	GetPendingNotifications(ctx context.Context, limit int) ([]*models.NotificationTask, error)
	// ClaimNotification marks a task as processing until lease expires.
	ClaimNotification(ctx context.Context, id int64, lease time.Duration) (bool, error)
	UpdateNotificationStatus(ctx context.Context, id int64, status, lastError string, nextRetryAt *time.Time) error
}

// Tx is the set of operations that participate in a booking transaction.
type Tx interface {
	// LockStylist acquires an exclusive lock on the stylist's calendar that is
	// released when the transaction ends.
	LockStylist(ctx context.Context, stylistID string) error
	// GetAppointment reads the row as the transaction sees it.
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
	FindOverlapping(ctx context.Context, stylistID string, start, end time.Time, statuses []string, excludeID string) ([]*models.Appointment, error)
	InsertAppointment(ctx context.Context, appt *models.Appointment) error
	UpdateAppointment(ctx context.Context, appt *models.Appointment) error
	DeleteAppointment(ctx context.Context, id string) error
	EnqueueNotification(ctx context.Context, task *models.NotificationTask) (bool, error)
}

type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store is the full persistence surface a backend provides.
type Store interface {
	UserRepository
	ServiceRepository
	AppointmentRepository
	NotificationQueue
	TxRunner
	Ping(ctx context.Context) error
	Close() error
}

type SlotCache interface {
	GetSlots(ctx context.Context, stylistID, date string, duration int) ([]string, bool, error)
	SetSlots(ctx context.Context, stylistID, date string, duration int, slots []string, ttl time.Duration) error
	InvalidateDay(ctx context.Context, stylistID, date string) error
}

type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Notifier delivers one outbox task through a channel (email, chat, calendar).
type Notifier interface {
	Deliver(ctx context.Context, task *models.NotificationTask, payload *models.NotificationPayload) error
}

// NotificationSignaler wakes the delivery worker after a commit.
type NotificationSignaler interface {
	Signal(ctx context.Context, taskIDs ...int64)
}
