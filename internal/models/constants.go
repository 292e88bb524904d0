package models

const (
	StatusPending   = "pending"
	StatusAccepted  = "accepted"
	StatusDeclined  = "declined"
	StatusCancelled = "cancelled"
)

// ActiveStatuses are the statuses that occupy a stylist's calendar.
var ActiveStatuses = []string{StatusPending, StatusAccepted}

const (
	RoleClient  = "client"
	RoleStylist = "stylist"
	RoleAdmin   = "admin"
)

const (
	NotificationConfirmation = "confirmation"
	NotificationCancellation = "cancellation"
	NotificationReminder     = "reminder"
)

const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskRetry      = "retry"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

const (
	// DefaultTimezone часовой пояс салона по умолчанию
	DefaultTimezone = "America/New_York"

	// DefaultSlotMinutes шаг сетки слотов, если услуга не указана
	DefaultSlotMinutes = 60

	// MinServiceDuration минимальная длительность услуги в минутах
	MinServiceDuration = 15

	// DateLayout формат календарной даты
	DateLayout = "2006-01-02"

	// ClockLayout формат времени суток
	ClockLayout = "15:04"
)

// Weekdays lists the accepted weekday names for off-days.
var Weekdays = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// IsValidStatus reports whether s is a known appointment status.
func IsValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDeclined, StatusCancelled:
		return true
	}
	return false
}

// IsActiveStatus reports whether s blocks the stylist's calendar.
func IsActiveStatus(s string) bool {
	return s == StatusPending || s == StatusAccepted
}

// CanTransition reports whether an appointment may move from one status to another.
func CanTransition(from, to string) bool {
	if from == to {
		return IsValidStatus(from)
	}
	switch from {
	case StatusPending:
		return to == StatusAccepted || to == StatusDeclined || to == StatusCancelled
	case StatusAccepted:
		return to == StatusPending || to == StatusCancelled
	default:
		return false
	}
}

// IsValidRole reports whether r is a known user role.
func IsValidRole(r string) bool {
	return r == RoleClient || r == RoleStylist || r == RoleAdmin
}
