package availability

import (
	"context"
	"fmt"
	"time"

	"salonbook/internal/calendar"
	"salonbook/internal/domain"
	"salonbook/internal/metrics"
	"salonbook/internal/models"

	"github.com/rs/zerolog"
)

// AppointmentLister is the read side of the appointment store used here.
type AppointmentLister interface {
	ListStylistAppointments(ctx context.Context, stylistID string, from, to time.Time, statuses []string) ([]*models.Appointment, error)
}

// Calculator filters the slot grid against booked appointments. Results are
// advisory; the booking guard re-checks under lock.
type Calculator struct {
	resolver *calendar.Resolver
	appts    AppointmentLister
	cache    domain.SlotCache
	cacheTTL time.Duration
	logger   *zerolog.Logger
}

func NewCalculator(resolver *calendar.Resolver, appts AppointmentLister, logger *zerolog.Logger) *Calculator {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Calculator{resolver: resolver, appts: appts, logger: logger}
}

// WithCache enables a read-through slot cache.
func (c *Calculator) WithCache(cache domain.SlotCache, ttl time.Duration) *Calculator {
	c.cache = cache
	c.cacheTTL = ttl
	return c
}

// AvailableSlots returns free "HH:MM" slots for the stylist on the local date.
// svc may be nil, in which case the default one-hour grid is used.
func (c *Calculator) AvailableSlots(ctx context.Context, stylist *models.User, svc *models.Service, date string) ([]string, error) {
	if stylist == nil {
		return nil, domain.NotFoundf("stylist not found")
	}
	day, err := c.resolver.ParseDate(date)
	if err != nil {
		return nil, err
	}
	date = day.Format(models.DateLayout)
	if stylist.IsOff(c.resolver.WeekdayName(day), date) {
		return []string{}, nil
	}

	duration := models.DefaultSlotMinutes
	if svc != nil {
		duration = svc.DurationMinutes
	}

	if c.cache != nil {
		if cached, ok, err := c.cache.GetSlots(ctx, stylist.ID, date, duration); err != nil {
			c.logger.Warn().Err(err).Str("stylist_id", stylist.ID).Msg("slot cache read failed")
		} else if ok {
			metrics.IncSlotCache(true)
			return cached, nil
		}
		metrics.IncSlotCache(false)
	}

	from, to, err := c.resolver.DayRangeUTC(date)
	if err != nil {
		return nil, err
	}
	booked, err := c.appts.ListStylistAppointments(ctx, stylist.ID, from, to, models.ActiveStatuses)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	candidates, err := GenerateSlots(stylist.WorkStart, stylist.WorkEnd, duration)
	if err != nil {
		return nil, err
	}

	free := make([]string, 0, len(candidates))
	for _, slot := range candidates {
		minutes, err := calendar.ParseClock(slot)
		if err != nil {
			return nil, err
		}
		slotStart, err := c.resolver.At(date, minutes)
		if err != nil {
			return nil, err
		}
		slotEnd := slotStart.Add(time.Duration(duration) * time.Minute)
		if !collides(booked, slotStart, slotEnd) {
			free = append(free, slot)
		}
	}

	if c.cache != nil {
		if err := c.cache.SetSlots(ctx, stylist.ID, date, duration, free, c.cacheTTL); err != nil {
			c.logger.Warn().Err(err).Str("stylist_id", stylist.ID).Msg("slot cache write failed")
		}
	}
	return free, nil
}

func collides(booked []*models.Appointment, start, end time.Time) bool {
	for _, a := range booked {
		if a.Overlaps(start, end) {
			return true
		}
	}
	return false
}
