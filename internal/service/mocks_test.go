package service

import (
	"context"
	"time"

	"salonbook/internal/models"

	"github.com/stretchr/testify/mock"
)

// MockRepository covers the user and service repositories.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetUser(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockRepository) UpsertUser(ctx context.Context, user *models.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockRepository) ListStylists(ctx context.Context) ([]*models.User, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*models.User), args.Error(1)
}

func (m *MockRepository) ListStylistsByService(ctx context.Context, serviceID string) ([]*models.User, error) {
	args := m.Called(ctx, serviceID)
	return args.Get(0).([]*models.User), args.Error(1)
}

func (m *MockRepository) UpdateSchedule(ctx context.Context, stylistID, workStart, workEnd string, offDays []string) error {
	return m.Called(ctx, stylistID, workStart, workEnd, offDays).Error(0)
}

func (m *MockRepository) AssignServices(ctx context.Context, stylistID string, serviceIDs []string) error {
	return m.Called(ctx, stylistID, serviceIDs).Error(0)
}

func (m *MockRepository) GetService(ctx context.Context, id string) (*models.Service, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Service), args.Error(1)
}

func (m *MockRepository) GetServiceByName(ctx context.Context, name string) (*models.Service, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Service), args.Error(1)
}

func (m *MockRepository) ListServices(ctx context.Context) ([]*models.Service, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*models.Service), args.Error(1)
}

func (m *MockRepository) CountServices(ctx context.Context, ids []string) (int, error) {
	args := m.Called(ctx, ids)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) CreateService(ctx context.Context, svc *models.Service) error {
	return m.Called(ctx, svc).Error(0)
}

func (m *MockRepository) UpdateService(ctx context.Context, svc *models.Service) error {
	return m.Called(ctx, svc).Error(0)
}

func (m *MockRepository) DeleteService(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type MockAppointments struct {
	mock.Mock
}

func (m *MockAppointments) ListStylistAppointments(ctx context.Context, stylistID string, from, to time.Time, statuses []string) ([]*models.Appointment, error) {
	args := m.Called(ctx, stylistID, from, to, statuses)
	return args.Get(0).([]*models.Appointment), args.Error(1)
}
