package service

import (
	"context"
	"strings"

	"salonbook/internal/domain"
	"salonbook/internal/models"

	"github.com/rs/zerolog"
)

// ServicePatch carries a partial service update; nil fields are unchanged.
type ServicePatch struct {
	Name            *string
	Category        *string
	DurationMinutes *int
	Price           *float64
}

type CatalogService struct {
	repo   domain.ServiceRepository
	logger *zerolog.Logger
}

func NewCatalogService(repo domain.ServiceRepository, logger *zerolog.Logger) *CatalogService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &CatalogService{repo: repo, logger: logger}
}

func (s *CatalogService) List(ctx context.Context) ([]*models.Service, error) {
	return s.repo.ListServices(ctx)
}

func (s *CatalogService) Get(ctx context.Context, id string) (*models.Service, error) {
	return s.repo.GetService(ctx, id)
}

func (s *CatalogService) Create(ctx context.Context, auth models.AuthContext, svc *models.Service) error {
	if !auth.IsAdmin() {
		return domain.Forbiddenf("admin access required")
	}
	svc.Name = strings.TrimSpace(svc.Name)
	svc.Category = strings.TrimSpace(svc.Category)
	if err := validateService(svc); err != nil {
		return err
	}
	if err := s.repo.CreateService(ctx, svc); err != nil {
		return err
	}
	s.logger.Info().Str("service_id", svc.ID).Str("name", svc.Name).Msg("service created")
	return nil
}

func (s *CatalogService) Update(ctx context.Context, auth models.AuthContext, id string, patch ServicePatch) (*models.Service, error) {
	if !auth.IsAdmin() {
		return nil, domain.Forbiddenf("admin access required")
	}
	svc, err := s.repo.GetService(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		svc.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Category != nil {
		svc.Category = strings.TrimSpace(*patch.Category)
	}
	if patch.DurationMinutes != nil {
		svc.DurationMinutes = *patch.DurationMinutes
	}
	if patch.Price != nil {
		svc.Price = *patch.Price
	}
	if err := validateService(svc); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateService(ctx, svc); err != nil {
		return nil, err
	}
	return svc, nil
}

// Delete removes the service. Existing appointments keep their service id.
func (s *CatalogService) Delete(ctx context.Context, auth models.AuthContext, id string) error {
	if !auth.IsAdmin() {
		return domain.Forbiddenf("admin access required")
	}
	if err := s.repo.DeleteService(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("service_id", id).Msg("service deleted")
	return nil
}

func validateService(svc *models.Service) error {
	if svc.Name == "" {
		return domain.Validationf("service name is required")
	}
	if svc.DurationMinutes < models.MinServiceDuration {
		return domain.Validationf("duration must be at least fifteen minutes")
	}
	if svc.Price <= 0 {
		return domain.Validationf("price must be a positive number")
	}
	return nil
}
