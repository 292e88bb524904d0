package models

import "time"

// Service is a catalog entry. Duration drives the slot grid and appointment end time.
type Service struct {
	ID              string    `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name"`
	Category        string    `json:"category" yaml:"category"`
	DurationMinutes int       `json:"duration_minutes" yaml:"duration"`
	Price           float64   `json:"price" yaml:"price"`
	CreatedAt       time.Time `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"-"`
}

func (s *Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}
