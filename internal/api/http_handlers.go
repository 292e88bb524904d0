package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"salonbook/internal/export"
	"salonbook/internal/models"
	"salonbook/internal/service"

	"github.com/go-chi/chi/v5"
)

type appointmentView struct {
	*models.Appointment
	ClientName  string `json:"client_name,omitempty"`
	StylistName string `json:"stylist_name,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

type createAppointmentBody struct {
	ClientID  string    `json:"client_id"`
	StylistID string    `json:"stylist_id"`
	ServiceID string    `json:"service_id"`
	Start     time.Time `json:"start"`
	Notes     string    `json:"notes"`
}

type updateAppointmentBody struct {
	StylistID *string    `json:"stylist_id"`
	ServiceID *string    `json:"service_id"`
	Start     *time.Time `json:"start"`
	Status    *string    `json:"status"`
	Notes     *string    `json:"notes"`
}

type serviceBody struct {
	Name            *string  `json:"name"`
	Category        *string  `json:"category"`
	DurationMinutes *int     `json:"duration_minutes"`
	Price           *float64 `json:"price"`
}

type scheduleBody struct {
	WorkStart *string  `json:"work_start"`
	WorkEnd   *string  `json:"work_end"`
	OffDays   []string `json:"off_days"`
}

type assignServicesBody struct {
	ServiceIDs []string `json:"service_ids"`
}

func authFrom(r *http.Request) models.AuthContext {
	auth, _ := AuthFromContext(r.Context())
	return auth
}

// --- catalog ---

func (s *HTTPServer) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.deps.Catalog.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (s *HTTPServer) handleGetService(w http.ResponseWriter, r *http.Request) {
	svc, err := s.deps.Catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *HTTPServer) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var body serviceBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	svc := &models.Service{}
	if body.Name != nil {
		svc.Name = *body.Name
	}
	if body.Category != nil {
		svc.Category = *body.Category
	}
	if body.DurationMinutes != nil {
		svc.DurationMinutes = *body.DurationMinutes
	}
	if body.Price != nil {
		svc.Price = *body.Price
	}

	if err := s.deps.Catalog.Create(r.Context(), authFrom(r), svc); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, svc)
}

func (s *HTTPServer) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	var body serviceBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	svc, err := s.deps.Catalog.Update(r.Context(), authFrom(r), chi.URLParam(r, "id"), service.ServicePatch{
		Name:            body.Name,
		Category:        body.Category,
		DurationMinutes: body.DurationMinutes,
		Price:           body.Price,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *HTTPServer) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Catalog.Delete(r.Context(), authFrom(r), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "service deleted"})
}

// --- stylists ---

func (s *HTTPServer) handleListStylists(w http.ResponseWriter, r *http.Request) {
	stylists, err := s.deps.Stylists.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stylists": stylists})
}

func (s *HTTPServer) handleStylistsByService(w http.ResponseWriter, r *http.Request) {
	stylists, err := s.deps.Stylists.ByService(r.Context(), chi.URLParam(r, "serviceID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stylists": stylists})
}

func (s *HTTPServer) handleGetStylist(w http.ResponseWriter, r *http.Request) {
	stylist, err := s.deps.Stylists.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stylist)
}

func (s *HTTPServer) handleAvailableSlots(w http.ResponseWriter, r *http.Request) {
	stylistID := chi.URLParam(r, "id")
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	serviceID := strings.TrimSpace(r.URL.Query().Get("service"))

	slots, err := s.deps.Stylists.AvailableSlots(r.Context(), stylistID, serviceID, date)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := map[string]any{
		"stylist_id":      stylistID,
		"date":            date,
		"available_slots": slots,
	}
	if len(slots) == 0 {
		resp["message"] = "no free slots on this day"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var body scheduleBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	stylist, err := s.deps.Stylists.UpdateSchedule(r.Context(), authFrom(r), chi.URLParam(r, "id"), service.ScheduleRequest{
		WorkStart: body.WorkStart,
		WorkEnd:   body.WorkEnd,
		OffDays:   body.OffDays,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stylist)
}

func (s *HTTPServer) handleAssignServices(w http.ResponseWriter, r *http.Request) {
	var body assignServicesBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	stylist, err := s.deps.Stylists.AssignServices(r.Context(), authFrom(r), chi.URLParam(r, "id"), body.ServiceIDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stylist)
}

func (s *HTTPServer) handleStylistDay(w http.ResponseWriter, r *http.Request) {
	appts, err := s.deps.Appointments.StylistDay(r.Context(), authFrom(r), chi.URLParam(r, "id"), strings.TrimSpace(r.URL.Query().Get("date")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": s.views(r.Context(), appts)})
}

// --- appointments ---

func (s *HTTPServer) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	var body createAppointmentBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	appt, err := s.deps.Appointments.Create(r.Context(), authFrom(r), service.CreateAppointmentRequest{
		ClientID:  body.ClientID,
		StylistID: body.StylistID,
		ServiceID: body.ServiceID,
		Start:     body.Start,
		Notes:     body.Notes,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":     "appointment booked",
		"appointment": s.view(r.Context(), appt, nil),
	})
}

// handleListAppointments is the admin view with optional from/to local
// dates and a comma separated status filter.
func (s *HTTPServer) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	appts, err := s.deps.Appointments.ListAll(r.Context(), authFrom(r), strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to")))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if statuses := splitCSV(q.Get("status")); len(statuses) > 0 {
		filtered := appts[:0]
		for _, a := range appts {
			for _, st := range statuses {
				if a.Status == st {
					filtered = append(filtered, a)
					break
				}
			}
		}
		appts = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": s.views(r.Context(), appts)})
}

func (s *HTTPServer) handleMyAppointments(w http.ResponseWriter, r *http.Request) {
	appts, err := s.deps.Appointments.Mine(r.Context(), authFrom(r), strings.TrimSpace(r.URL.Query().Get("filter")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": s.views(r.Context(), appts)})
}

func (s *HTTPServer) handleGetAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := s.deps.Appointments.Get(r.Context(), authFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(r.Context(), appt, nil))
}

func (s *HTTPServer) handleUpdateAppointment(w http.ResponseWriter, r *http.Request) {
	var body updateAppointmentBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	appt, err := s.deps.Appointments.Update(r.Context(), authFrom(r), chi.URLParam(r, "id"), service.UpdateAppointmentRequest{
		StylistID: body.StylistID,
		ServiceID: body.ServiceID,
		Start:     body.Start,
		Status:    body.Status,
		Notes:     body.Notes,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "appointment updated",
		"appointment": s.view(r.Context(), appt, nil),
	})
}

func (s *HTTPServer) handleCancelAppointment(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Appointments.Cancel(r.Context(), authFrom(r), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "appointment cancelled"})
}

// --- profile & admin ---

func (s *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.deps.Users.Profile(r.Context(), authFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if !authFrom(r).IsAdmin() {
		writeError(w, http.StatusForbidden, "admin access required")
		return
	}

	from := strings.TrimSpace(r.URL.Query().Get("from"))
	to := strings.TrimSpace(r.URL.Query().Get("to"))
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "from and to dates are required")
		return
	}

	var buf bytes.Buffer
	if err := s.deps.Exporter.Write(r.Context(), &buf, from, to); err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(from, to)))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// --- views ---

type nameCache struct {
	users    map[string]string
	services map[string]string
}

func (s *HTTPServer) views(ctx context.Context, appts []*models.Appointment) []appointmentView {
	cache := &nameCache{users: map[string]string{}, services: map[string]string{}}
	out := make([]appointmentView, 0, len(appts))
	for _, a := range appts {
		out = append(out, s.view(ctx, a, cache))
	}
	return out
}

// view fills display names read-through; lookup failures leave them empty.
func (s *HTTPServer) view(ctx context.Context, appt *models.Appointment, cache *nameCache) appointmentView {
	v := appointmentView{Appointment: appt}
	if s.deps.Names == nil {
		return v
	}
	if cache == nil {
		cache = &nameCache{users: map[string]string{}, services: map[string]string{}}
	}
	v.ClientName = s.userName(ctx, appt.ClientID, cache)
	v.StylistName = s.userName(ctx, appt.StylistID, cache)

	if name, ok := cache.services[appt.ServiceID]; ok {
		v.ServiceName = name
	} else if svc, err := s.deps.Names.GetService(ctx, appt.ServiceID); err == nil {
		v.ServiceName = svc.Name
		cache.services[appt.ServiceID] = svc.Name
	}
	return v
}

func (s *HTTPServer) userName(ctx context.Context, id string, cache *nameCache) string {
	if name, ok := cache.users[id]; ok {
		return name
	}
	u, err := s.deps.Names.GetUser(ctx, id)
	if err != nil {
		return ""
	}
	cache.users[id] = u.Name
	return u.Name
}
