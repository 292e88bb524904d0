package service

import (
	"context"

	"salonbook/internal/domain"
	"salonbook/internal/models"

	"github.com/rs/zerolog"
)

type UserService struct {
	repo   domain.UserRepository
	logger *zerolog.Logger
}

func NewUserService(repo domain.UserRepository, logger *zerolog.Logger) *UserService {
	return &UserService{repo: repo, logger: logger}
}

// Profile returns the account behind the verified token.
func (s *UserService) Profile(ctx context.Context, auth models.AuthContext) (*models.User, error) {
	if auth.SubjectID == "" {
		return nil, domain.Forbiddenf("authentication required")
	}
	return s.repo.GetUser(ctx, auth.SubjectID)
}
