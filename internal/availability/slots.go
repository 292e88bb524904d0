// Package availability computes the free appointment slots of a stylist.
package availability

import (
	"salonbook/internal/calendar"
	"salonbook/internal/domain"
)

// GenerateSlots returns "HH:MM" start times from workStart, one per interval,
// keeping only slots that finish by workEnd.
func GenerateSlots(workStart, workEnd string, intervalMinutes int) ([]string, error) {
	if intervalMinutes <= 0 {
		return nil, domain.Validationf("slot interval must be positive, got %d", intervalMinutes)
	}
	start, err := calendar.ParseClock(workStart)
	if err != nil {
		return nil, err
	}
	end, err := calendar.ParseClock(workEnd)
	if err != nil {
		return nil, err
	}

	var slots []string
	for m := start; m+intervalMinutes <= end; m += intervalMinutes {
		slots = append(slots, calendar.FormatClock(m))
	}
	if slots == nil {
		slots = []string{}
	}
	return slots, nil
}
