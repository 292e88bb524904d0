package models

import "time"

// User is a salon account. Stylist-only fields are empty for clients and admins.
type User struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	Email      string    `json:"email" yaml:"email"`
	Role       string    `json:"role" yaml:"role"`
	WorkStart  string    `json:"work_start,omitempty" yaml:"work_start"`
	WorkEnd    string    `json:"work_end,omitempty" yaml:"work_end"`
	OffDays    []string  `json:"off_days,omitempty" yaml:"off_days"`
	ServiceIDs []string  `json:"service_ids,omitempty" yaml:"-"`
	CreatedAt  time.Time `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"-"`
}

func (u *User) IsStylist() bool {
	return u != nil && u.Role == RoleStylist
}

// IsOff reports whether the weekday name or the literal date is an off-day.
func (u *User) IsOff(weekday, date string) bool {
	for _, d := range u.OffDays {
		if d == weekday || d == date {
			return true
		}
	}
	return false
}
