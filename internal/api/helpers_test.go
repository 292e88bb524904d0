package api

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"salonbook/internal/availability"
	"salonbook/internal/booking"
	"salonbook/internal/calendar"
	"salonbook/internal/config"
	"salonbook/internal/database"
	"salonbook/internal/export"
	"salonbook/internal/models"
	"salonbook/internal/repository"
	"salonbook/internal/retry"
	"salonbook/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret"
	testIssuer = "salonbook"
)

// monday 2024-06-03 10:00 in New York
var mondayTen = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

type testEnv struct {
	db      *database.DB
	cfg     config.APIConfig
	deps    Deps
	client  *models.User
	other   *models.User
	admin   *models.User
	stylist *models.User
	haircut *models.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.NewDB(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	env := &testEnv{
		db: db,
		cfg: config.APIConfig{
			Enabled: true,
			HTTP:    config.APIHTTPConfig{Enabled: true},
			Auth:    config.APIAuthConfig{Enabled: true, JWTSecret: testSecret, JWTIssuer: testIssuer},
		},
		client:  &models.User{Name: "Jane", Email: "jane@mail.test", Role: models.RoleClient},
		other:   &models.User{Name: "Mark", Email: "mark@mail.test", Role: models.RoleClient},
		admin:   &models.User{Name: "Boss", Email: "boss@salon.test", Role: models.RoleAdmin},
		stylist: &models.User{Name: "Anna", Email: "anna@salon.test", Role: models.RoleStylist, WorkStart: "09:00", WorkEnd: "17:00", OffDays: []string{"Sunday"}},
		haircut: &models.Service{Name: "Haircut", Category: "Hair", DurationMinutes: 60, Price: 45},
	}
	for _, u := range []*models.User{env.client, env.other, env.admin, env.stylist} {
		require.NoError(t, db.UpsertUser(ctx, u))
	}
	require.NoError(t, db.CreateService(ctx, env.haircut))
	require.NoError(t, db.AssignServices(ctx, env.stylist.ID, []string{env.haircut.ID}))

	resolver, err := calendar.NewResolver("America/New_York")
	require.NoError(t, err)
	logger := zerolog.Nop()
	cache := repository.NewMemoryCache()

	guard := booking.NewGuard(db, retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond}, &logger)
	calc := availability.NewCalculator(resolver, db, &logger).WithCache(cache, time.Minute)

	env.deps = Deps{
		Appointments: service.NewAppointmentService(db, guard, resolver, &logger, service.WithSlotCache(cache)),
		Catalog:      service.NewCatalogService(db, &logger),
		Stylists:     service.NewStylistService(db, db, calc, resolver, &logger),
		Users:        service.NewUserService(db, &logger),
		Exporter:     export.NewScheduleExporter(db, resolver, t.TempDir(), &logger),
		Names:        db,
		Health:       db.Ping,
	}
	return env
}

func (e *testEnv) server(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zerolog.Nop()
	srv := NewHTTPServer(e.cfg, e.deps, &logger)
	ts := httptest.NewServer(srv.server.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func (e *testEnv) token(t *testing.T, u *models.User) string {
	t.Helper()
	return signToken(t, testSecret, testIssuer, u.ID, u.Role, time.Now().Add(time.Hour))
}

func signToken(t *testing.T, secret, issuer, subject, role string, expires time.Time) string {
	t.Helper()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}
