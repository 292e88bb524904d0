package models

import "time"

type Appointment struct {
	ID              string    `json:"id"`
	ClientID        string    `json:"client_id"`
	StylistID       string    `json:"stylist_id"`
	ServiceID       string    `json:"service_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"` // pending, accepted, declined, cancelled
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IsActive reports whether the appointment blocks the stylist's calendar.
func (a *Appointment) IsActive() bool {
	return IsActiveStatus(a.Status)
}

// SameRevision reports whether b is the same version of the row as a:
// placement, status, notes and last write time all match.
func (a *Appointment) SameRevision(b *Appointment) bool {
	return a.ID == b.ID &&
		a.StylistID == b.StylistID &&
		a.ServiceID == b.ServiceID &&
		a.Start.Equal(b.Start) &&
		a.End.Equal(b.End) &&
		a.Status == b.Status &&
		a.Notes == b.Notes &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

// Overlaps applies the half-open interval test against [start, end).
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return Overlaps(a.Start, a.End, start, end)
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// Touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// TimeRange is an optional [From, To) filter; zero bounds are open.
type TimeRange struct {
	From time.Time
	To   time.Time
}
