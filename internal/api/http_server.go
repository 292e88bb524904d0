package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"salonbook/internal/config"
	"salonbook/internal/domain"
	"salonbook/internal/export"
	"salonbook/internal/metrics"
	"salonbook/internal/models"
	"salonbook/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// NameResolver looks up display names for appointment responses.
type NameResolver interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetService(ctx context.Context, id string) (*models.Service, error)
}

// Deps are the application services behind the HTTP API.
type Deps struct {
	Appointments *service.AppointmentService
	Catalog      *service.CatalogService
	Stylists     *service.StylistService
	Users        *service.UserService
	Exporter     *export.ScheduleExporter
	Names        NameResolver
	Limiter      domain.RateLimiter
	Health       func(ctx context.Context) error
}

// HTTPServer exposes the booking API.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	server *http.Server
	auth   *HTTPAuth
	log    zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{cfg: cfg, deps: deps, log: zerolog.Nop()}
	if logger != nil {
		srv.log = logger.With().Str("component", "http").Logger()
	}
	srv.auth = NewHTTPAuth(cfg, deps.Limiter, logger)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.auth.Wrap)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		// публичные маршруты
		r.Get("/services", s.handleListServices)
		r.Get("/services/{id}", s.handleGetService)
		r.Get("/stylists", s.handleListStylists)
		r.Get("/stylists/by-service/{serviceID}", s.handleStylistsByService)
		r.Get("/stylists/{id}", s.handleGetStylist)
		r.Get("/stylists/{id}/available-slots", s.handleAvailableSlots)

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth)

			r.Get("/profile", s.handleProfile)

			r.Post("/services", s.handleCreateService)
			r.Put("/services/{id}", s.handleUpdateService)
			r.Delete("/services/{id}", s.handleDeleteService)

			r.Put("/stylists/{id}/schedule", s.handleUpdateSchedule)
			r.Post("/stylists/{id}/services", s.handleAssignServices)
			r.Get("/stylists/{id}/appointments", s.handleStylistDay)

			r.Post("/appointments", s.handleCreateAppointment)
			r.Get("/appointments", s.handleListAppointments)
			r.Get("/appointments/user", s.handleMyAppointments)
			r.Get("/appointments/{id}", s.handleGetAppointment)
			r.Put("/appointments/{id}", s.handleUpdateAppointment)
			r.Delete("/appointments/{id}", s.handleCancelAppointment)

			if s.deps.Exporter != nil {
				r.Get("/admin/export", s.handleExport)
			}
		})
	})

	return r
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HTTPAuth verifies bearer tokens and applies per-subject rate limits.
// Requests without a token pass through anonymously; RequireAuth guards
// the routes that need an identity.
type HTTPAuth struct {
	cfg      config.APIConfig
	verifier *TokenVerifier
	limiter  *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig, remote domain.RateLimiter, logger *zerolog.Logger) *HTTPAuth {
	return &HTTPAuth{
		cfg:      cfg,
		verifier: NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),
		limiter:  newRateLimiter(cfg.RateLimit, remote, logger),
	}
}

const (
	// Заголовки доверенного шлюза, используются только при auth.enabled=false
	headerSubjectID   = "X-Subject-ID"
	headerSubjectRole = "X-Subject-Role"
)

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, ok, err := a.identify(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		ctx := r.Context()
		if ok {
			ctx = withAuth(ctx, auth)
		}

		if !a.limiter.Allow(ctx, "http:"+a.clientKey(r, auth)) {
			writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *HTTPAuth) identify(r *http.Request) (models.AuthContext, bool, error) {
	if !a.cfg.Auth.Enabled {
		subject := strings.TrimSpace(r.Header.Get(headerSubjectID))
		role := strings.TrimSpace(r.Header.Get(headerSubjectRole))
		if subject == "" || !models.IsValidRole(role) {
			return models.AuthContext{}, false, nil
		}
		return models.AuthContext{SubjectID: subject, Role: role}, true, nil
	}

	raw, err := bearerToken(r.Header.Get("Authorization"))
	if errors.Is(err, errMissingToken) {
		return models.AuthContext{}, false, nil
	}
	if err != nil {
		return models.AuthContext{}, false, err
	}

	auth, err := a.verifier.Verify(raw)
	if err != nil {
		return models.AuthContext{}, false, err
	}
	return auth, true, nil
}

func (a *HTTPAuth) clientKey(r *http.Request, auth models.AuthContext) string {
	if auth.SubjectID != "" {
		return "subject:" + auth.SubjectID
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return "ip:" + host
	}
	if r.RemoteAddr != "" {
		return "ip:" + r.RemoteAddr
	}
	return clientKeyUnknown
}

// RequireAuth rejects anonymous requests with 401.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := AuthFromContext(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, errMissingToken.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		metrics.IncHTTP(route, status)

		s.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// fail maps err onto the response. Unclassified errors are logged and
// reported as 500 without details.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatus(err)
	if code == http.StatusInternalServerError {
		s.log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeError(w, code, publicMessage(err, code))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return domain.Validationf("invalid JSON body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
