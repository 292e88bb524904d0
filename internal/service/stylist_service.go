package service

import (
	"context"
	"errors"
	"strings"

	"salonbook/internal/availability"
	"salonbook/internal/calendar"
	"salonbook/internal/domain"
	"salonbook/internal/models"

	"github.com/rs/zerolog"
)

// ScheduleRequest replaces working hours and/or off-days; nil leaves a
// field as is, an empty OffDays slice clears them.
type ScheduleRequest struct {
	WorkStart *string
	WorkEnd   *string
	OffDays   []string
}

type StylistService struct {
	users    domain.UserRepository
	services domain.ServiceRepository
	calc     *availability.Calculator
	resolver *calendar.Resolver
	logger   *zerolog.Logger
}

func NewStylistService(users domain.UserRepository, services domain.ServiceRepository, calc *availability.Calculator, resolver *calendar.Resolver, logger *zerolog.Logger) *StylistService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &StylistService{users: users, services: services, calc: calc, resolver: resolver, logger: logger}
}

func (s *StylistService) List(ctx context.Context) ([]*models.User, error) {
	return s.users.ListStylists(ctx)
}

func (s *StylistService) Get(ctx context.Context, id string) (*models.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFoundf("stylist not found")
		}
		return nil, err
	}
	if !u.IsStylist() {
		return nil, domain.NotFoundf("stylist not found")
	}
	return u, nil
}

// ByService lists the stylists who offer the service.
func (s *StylistService) ByService(ctx context.Context, serviceID string) ([]*models.User, error) {
	if _, err := s.services.GetService(ctx, serviceID); err != nil {
		return nil, err
	}
	return s.users.ListStylistsByService(ctx, serviceID)
}

func (s *StylistService) UpdateSchedule(ctx context.Context, auth models.AuthContext, stylistID string, req ScheduleRequest) (*models.User, error) {
	if !auth.IsAdmin() {
		return nil, domain.Forbiddenf("admin access required")
	}
	stylist, err := s.Get(ctx, stylistID)
	if err != nil {
		return nil, err
	}

	workStart, workEnd := stylist.WorkStart, stylist.WorkEnd
	if req.WorkStart != nil {
		workStart = strings.TrimSpace(*req.WorkStart)
	}
	if req.WorkEnd != nil {
		workEnd = strings.TrimSpace(*req.WorkEnd)
	}
	open, err := calendar.ParseClock(workStart)
	if err != nil {
		return nil, err
	}
	closeAt, err := calendar.ParseClock(workEnd)
	if err != nil {
		return nil, err
	}
	if open >= closeAt {
		return nil, domain.Validationf("working hours start %s must be before end %s", workStart, workEnd)
	}

	offDays := stylist.OffDays
	if req.OffDays != nil {
		offDays = make([]string, 0, len(req.OffDays))
		for _, d := range req.OffDays {
			d = strings.TrimSpace(d)
			if !calendar.IsWeekdayName(d) {
				if _, err := s.resolver.ParseDate(d); err != nil {
					return nil, domain.Validationf("off day %q must be a weekday name or YYYY-MM-DD", d)
				}
			}
			offDays = append(offDays, d)
		}
	}

	if err := s.users.UpdateSchedule(ctx, stylistID, workStart, workEnd, offDays); err != nil {
		return nil, err
	}
	stylist.WorkStart, stylist.WorkEnd, stylist.OffDays = workStart, workEnd, offDays
	// кэш слотов догонит изменения по TTL
	s.logger.Info().Str("stylist_id", stylistID).Str("work_start", workStart).Str("work_end", workEnd).Strs("off_days", offDays).Msg("schedule updated")
	return stylist, nil
}

func (s *StylistService) AssignServices(ctx context.Context, auth models.AuthContext, stylistID string, serviceIDs []string) (*models.User, error) {
	if !auth.IsAdmin() {
		return nil, domain.Forbiddenf("admin access required")
	}
	if _, err := s.Get(ctx, stylistID); err != nil {
		return nil, err
	}

	ids := dedupe(serviceIDs)
	if len(ids) > 0 {
		n, err := s.services.CountServices(ctx, ids)
		if err != nil {
			return nil, err
		}
		if n != len(ids) {
			return nil, domain.Validationf("one or more service ids do not exist")
		}
	}
	if err := s.users.AssignServices(ctx, stylistID, ids); err != nil {
		return nil, err
	}
	return s.Get(ctx, stylistID)
}

// AvailableSlots returns free start times on a local date. An empty
// serviceID selects the default one-hour grid.
func (s *StylistService) AvailableSlots(ctx context.Context, stylistID, serviceID, date string) ([]string, error) {
	if strings.TrimSpace(date) == "" {
		return nil, domain.Validationf("date not found")
	}
	stylist, err := s.Get(ctx, stylistID)
	if err != nil {
		return nil, err
	}
	var svc *models.Service
	if serviceID != "" {
		if svc, err = s.services.GetService(ctx, serviceID); err != nil {
			return nil, err
		}
	}
	return s.calc.AvailableSlots(ctx, stylist, svc, date)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
