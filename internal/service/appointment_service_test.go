package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"salonbook/internal/booking"
	"salonbook/internal/calendar"
	"salonbook/internal/database"
	"salonbook/internal/domain"
	"salonbook/internal/events"
	"salonbook/internal/models"
	"salonbook/internal/repository"
	"salonbook/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBus struct {
	mu    sync.Mutex
	types []string
}

func (b *recordingBus) PublishJSON(eventType string, _ interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.types = append(b.types, eventType)
	return nil
}

type recordingSignaler struct {
	mu  sync.Mutex
	ids []int64
}

func (r *recordingSignaler) Signal(_ context.Context, ids ...int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, ids...)
}

type fixture struct {
	db       *database.DB
	svc      *AppointmentService
	cache    *repository.MemoryCache
	bus      *recordingBus
	signals  *recordingSignaler
	client   *models.User
	other    *models.User
	stylist  *models.User
	haircut  *models.Service
	coloring *models.Service
}

// monday 2024-06-03 10:00 in New York
var mondayTen = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewDB(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	f := &fixture{
		db:       db,
		cache:    repository.NewMemoryCache(),
		bus:      &recordingBus{},
		signals:  &recordingSignaler{},
		client:   &models.User{Name: "Jane", Email: "jane@mail.test", Role: models.RoleClient},
		other:    &models.User{Name: "Mark", Email: "mark@mail.test", Role: models.RoleClient},
		stylist:  &models.User{Name: "Anna", Email: "anna@salon.test", Role: models.RoleStylist, WorkStart: "09:00", WorkEnd: "17:00", OffDays: []string{"Sunday", "2024-06-10"}},
		haircut:  &models.Service{Name: "Haircut", Category: "Hair", DurationMinutes: 60, Price: 45},
		coloring: &models.Service{Name: "Coloring", Category: "Hair", DurationMinutes: 120, Price: 110},
	}
	for _, u := range []*models.User{f.client, f.other, f.stylist} {
		require.NoError(t, db.UpsertUser(ctx, u))
	}
	require.NoError(t, db.CreateService(ctx, f.haircut))
	require.NoError(t, db.CreateService(ctx, f.coloring))

	resolver, err := calendar.NewResolver("America/New_York")
	require.NoError(t, err)
	guard := booking.NewGuard(db, retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond}, nil)
	f.svc = NewAppointmentService(db, guard, resolver, nil,
		WithSlotCache(f.cache), WithEventBus(f.bus), WithSignaler(f.signals))
	f.svc.now = func() time.Time { return mondayTen.Add(-24 * time.Hour) }
	return f
}

func (f *fixture) as(u *models.User) models.AuthContext {
	return models.AuthContext{SubjectID: u.ID, Role: u.Role}
}

func (f *fixture) book(t *testing.T, start time.Time, svc *models.Service) *models.Appointment {
	t.Helper()
	appt, err := f.svc.Create(context.Background(), f.as(f.client), CreateAppointmentRequest{
		StylistID: f.stylist.ID, ServiceID: svc.ID, Start: start,
	})
	require.NoError(t, err)
	return appt
}

func TestCreateAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.SetSlots(ctx, f.stylist.ID, "2024-06-03", 60, []string{"10:00"}, time.Minute))

	appt, err := f.svc.Create(ctx, f.as(f.client), CreateAppointmentRequest{
		StylistID: f.stylist.ID, ServiceID: f.haircut.ID, Start: mondayTen, Notes: "  short please ",
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC), appt.End)
	assert.Equal(t, 60, appt.DurationMinutes)
	assert.Equal(t, models.StatusAccepted, appt.Status)
	assert.Equal(t, f.client.ID, appt.ClientID)
	assert.Equal(t, "short please", appt.Notes)

	stored, err := f.db.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.True(t, stored.End.Equal(appt.End))

	require.Len(t, f.signals.ids, 1)
	task, err := f.db.GetNotification(ctx, f.signals.ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.NotificationConfirmation, task.Kind)
	assert.Equal(t, "confirmation:"+appt.ID, task.DedupeKey)
	assert.Contains(t, task.Payload, `"client_email":"jane@mail.test"`)

	assert.Equal(t, []string{events.EventAppointmentCreated}, f.bus.types)

	_, ok, _ := f.cache.GetSlots(ctx, f.stylist.ID, "2024-06-03", 60)
	assert.False(t, ok, "slot cache should be invalidated")
}

func TestCreateAppointmentConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, mondayTen, f.haircut)

	_, err := f.svc.Create(ctx, f.as(f.other), CreateAppointmentRequest{
		StylistID: f.stylist.ID, ServiceID: f.haircut.ID, Start: mondayTen.Add(30 * time.Minute),
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	// касание границ не конфликт
	_, err = f.svc.Create(ctx, f.as(f.other), CreateAppointmentRequest{
		StylistID: f.stylist.ID, ServiceID: f.haircut.ID, Start: mondayTen.Add(time.Hour),
	})
	assert.NoError(t, err)
	_, err = f.svc.Create(ctx, f.as(f.other), CreateAppointmentRequest{
		StylistID: f.stylist.ID, ServiceID: f.haircut.ID, Start: mondayTen.Add(-time.Hour),
	})
	assert.NoError(t, err)
}

func TestCreateAppointmentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	auth := f.as(f.client)

	cases := []struct {
		name string
		req  CreateAppointmentRequest
		want error
	}{
		{"missing stylist", CreateAppointmentRequest{ServiceID: f.haircut.ID, Start: mondayTen}, domain.ErrValidation},
		{"missing service", CreateAppointmentRequest{StylistID: f.stylist.ID, Start: mondayTen}, domain.ErrValidation},
		{"missing date", CreateAppointmentRequest{StylistID: f.stylist.ID, ServiceID: f.haircut.ID}, domain.ErrValidation},
		{"weekday off", CreateAppointmentRequest{StylistID: f.stylist.ID, ServiceID: f.haircut.ID, Start: mondayTen.AddDate(0, 0, -1)}, domain.ErrValidation},
		{"date off", CreateAppointmentRequest{StylistID: f.stylist.ID, ServiceID: f.haircut.ID, Start: mondayTen.AddDate(0, 0, 7)}, domain.ErrValidation},
		{"before opening", CreateAppointmentRequest{StylistID: f.stylist.ID, ServiceID: f.haircut.ID, Start: mondayTen.Add(-2 * time.Hour)}, domain.ErrValidation},
		{"at closing", CreateAppointmentRequest{StylistID: f.stylist.ID, ServiceID: f.haircut.ID, Start: mondayTen.Add(7 * time.Hour)}, domain.ErrValidation},
		{"not a stylist", CreateAppointmentRequest{StylistID: f.other.ID, ServiceID: f.haircut.ID, Start: mondayTen}, domain.ErrNotFound},
		{"unknown stylist", CreateAppointmentRequest{StylistID: "nobody", ServiceID: f.haircut.ID, Start: mondayTen}, domain.ErrNotFound},
		{"unknown service", CreateAppointmentRequest{StylistID: f.stylist.ID, ServiceID: "nothing", Start: mondayTen}, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, auth, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	list, err := f.db.ListAppointments(ctx, models.TimeRange{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.signals.ids)
}

func TestCreateAppointmentOnBehalf(t *testing.T) {
	f := newFixture(t)
	admin := models.AuthContext{SubjectID: "admin-1", Role: models.RoleAdmin}

	appt, err := f.svc.Create(context.Background(), admin, CreateAppointmentRequest{
		ClientID: f.other.ID, StylistID: f.stylist.ID, ServiceID: f.haircut.ID, Start: mondayTen,
	})
	require.NoError(t, err)
	assert.Equal(t, f.other.ID, appt.ClientID)

	// клиент не может записать другого клиента
	appt, err = f.svc.Create(context.Background(), f.as(f.client), CreateAppointmentRequest{
		ClientID: f.other.ID, StylistID: f.stylist.ID, ServiceID: f.haircut.ID, Start: mondayTen.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, f.client.ID, appt.ClientID)
}

func TestUpdateAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, mondayTen, f.haircut)
	blocker := f.book(t, mondayTen.Add(3*time.Hour), f.haircut)

	t.Run("forbidden for other client", func(t *testing.T) {
		notes := "x"
		_, err := f.svc.Update(ctx, f.as(f.other), appt.ID, UpdateAppointmentRequest{Notes: &notes})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("service change recomputes end", func(t *testing.T) {
		id := f.coloring.ID
		got, err := f.svc.Update(ctx, f.as(f.client), appt.ID, UpdateAppointmentRequest{ServiceID: &id})
		require.NoError(t, err)
		assert.Equal(t, 120, got.DurationMinutes)
		assert.Equal(t, mondayTen.Add(2*time.Hour), got.End)
	})

	t.Run("move keeps duration", func(t *testing.T) {
		start := mondayTen.Add(-time.Hour)
		got, err := f.svc.Update(ctx, f.as(f.stylist), appt.ID, UpdateAppointmentRequest{Start: &start})
		require.NoError(t, err)
		assert.Equal(t, 120, got.DurationMinutes)
		assert.Equal(t, start.Add(2*time.Hour), got.End)
	})

	t.Run("move onto another booking", func(t *testing.T) {
		start := blocker.Start.Add(-time.Hour)
		_, err := f.svc.Update(ctx, f.as(f.client), appt.ID, UpdateAppointmentRequest{Start: &start})
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("move outside hours", func(t *testing.T) {
		start := mondayTen.Add(-3 * time.Hour)
		_, err := f.svc.Update(ctx, f.as(f.client), appt.ID, UpdateAppointmentRequest{Start: &start})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("status transitions", func(t *testing.T) {
		pending := models.StatusPending
		got, err := f.svc.Update(ctx, f.as(f.stylist), appt.ID, UpdateAppointmentRequest{Status: &pending})
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, got.Status)

		bogus := "done"
		_, err = f.svc.Update(ctx, f.as(f.stylist), appt.ID, UpdateAppointmentRequest{Status: &bogus})
		assert.ErrorIs(t, err, domain.ErrValidation)

		declined := models.StatusDeclined
		got, err = f.svc.Update(ctx, f.as(f.stylist), appt.ID, UpdateAppointmentRequest{Status: &declined})
		require.NoError(t, err)
		assert.Equal(t, models.StatusDeclined, got.Status)

		accepted := models.StatusAccepted
		_, err = f.svc.Update(ctx, f.as(f.stylist), appt.ID, UpdateAppointmentRequest{Status: &accepted})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("declined frees the slot", func(t *testing.T) {
		_, err := f.svc.Create(ctx, f.as(f.other), CreateAppointmentRequest{
			StylistID: f.stylist.ID, ServiceID: f.haircut.ID, Start: mondayTen,
		})
		assert.NoError(t, err)
	})

	pending, err := f.db.GetPendingNotifications(ctx, 50)
	require.NoError(t, err)
	kinds := map[string]int{}
	for _, task := range pending {
		kinds[task.Kind]++
	}
	// 3 записи + 2 переноса, одно отклонение
	assert.Equal(t, 5, kinds[models.NotificationConfirmation])
	assert.Equal(t, 1, kinds[models.NotificationCancellation])
	assert.Contains(t, f.bus.types, events.EventAppointmentRescheduled)
	assert.Contains(t, f.bus.types, events.EventAppointmentStatusChanged)
}

func TestUpdateAppointmentStylistChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	second := &models.User{Name: "Bea", Email: "bea@salon.test", Role: models.RoleStylist, WorkStart: "12:00", WorkEnd: "20:00"}
	require.NoError(t, f.db.UpsertUser(ctx, second))
	appt := f.book(t, mondayTen, f.haircut)

	id := second.ID
	_, err := f.svc.Update(ctx, f.as(f.client), appt.ID, UpdateAppointmentRequest{StylistID: &id})
	assert.ErrorIs(t, err, domain.ErrValidation, "10:00 is before Bea opens")

	start := mondayTen.Add(3 * time.Hour)
	got, err := f.svc.Update(ctx, f.as(f.client), appt.ID, UpdateAppointmentRequest{StylistID: &id, Start: &start})
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.StylistID)

	stored, err := f.db.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, stored.StylistID)
}

// pausingStore runs hook once, right after the first appointment read,
// so another request can commit between the read and the write.
type pausingStore struct {
	domain.Store
	once sync.Once
	hook func()
}

func (p *pausingStore) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	appt, err := p.Store.GetAppointment(ctx, id)
	p.once.Do(p.hook)
	return appt, err
}

func (f *fixture) pausedService(t *testing.T, hook func()) *AppointmentService {
	t.Helper()
	resolver, err := calendar.NewResolver("America/New_York")
	require.NoError(t, err)
	guard := booking.NewGuard(f.db, retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond}, nil)
	svc := NewAppointmentService(&pausingStore{Store: f.db, hook: hook}, guard, resolver, nil)
	svc.now = f.svc.now
	return svc
}

func TestUpdateAppointmentConcurrentChange(t *testing.T) {
	ctx := context.Background()

	t.Run("notes edit after move and rebooking", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t, mondayTen, f.haircut)

		slow := f.pausedService(t, func() {
			later := mondayTen.Add(4 * time.Hour)
			_, err := f.svc.Update(ctx, f.as(f.stylist), appt.ID, UpdateAppointmentRequest{Start: &later})
			require.NoError(t, err)
			_, err = f.svc.Create(ctx, f.as(f.other), CreateAppointmentRequest{
				StylistID: f.stylist.ID, ServiceID: f.haircut.ID, Start: mondayTen,
			})
			require.NoError(t, err)
		})

		notes := "short on the sides"
		_, err := slow.Update(ctx, f.as(f.client), appt.ID, UpdateAppointmentRequest{Notes: &notes})
		assert.ErrorIs(t, err, domain.ErrConflict)

		active, err := f.db.ListStylistAppointments(ctx, f.stylist.ID,
			mondayTen.Add(-12*time.Hour), mondayTen.Add(12*time.Hour), models.ActiveStatuses)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.False(t, active[0].Overlaps(active[1].Start, active[1].End))

		stored, err := f.db.GetAppointment(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, mondayTen.Add(4*time.Hour), stored.Start)
		assert.Empty(t, stored.Notes)

		// повтор с актуальным чтением проходит и не трогает время
		got, err := f.svc.Update(ctx, f.as(f.client), appt.ID, UpdateAppointmentRequest{Notes: &notes})
		require.NoError(t, err)
		assert.Equal(t, notes, got.Notes)
		assert.Equal(t, mondayTen.Add(4*time.Hour), got.Start)
	})

	t.Run("declined row is not revived", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t, mondayTen, f.haircut)

		slow := f.pausedService(t, func() {
			declined := models.StatusDeclined
			_, err := f.svc.Update(ctx, f.as(f.stylist), appt.ID, UpdateAppointmentRequest{Status: &declined})
			require.NoError(t, err)
		})

		later := mondayTen.Add(time.Hour)
		_, err := slow.Update(ctx, f.as(f.client), appt.ID, UpdateAppointmentRequest{Start: &later})
		assert.ErrorIs(t, err, domain.ErrConflict)

		stored, err := f.db.GetAppointment(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusDeclined, stored.Status)
		assert.Equal(t, mondayTen, stored.Start)
	})
}

func TestCancelAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, mondayTen, f.haircut)

	assert.ErrorIs(t, f.svc.Cancel(ctx, f.as(f.other), appt.ID), domain.ErrForbidden)
	assert.ErrorIs(t, f.svc.Cancel(ctx, f.as(f.stylist), appt.ID), domain.ErrForbidden)

	require.NoError(t, f.svc.Cancel(ctx, f.as(f.client), appt.ID))
	_, err := f.db.GetAppointment(ctx, appt.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, f.svc.Cancel(ctx, f.as(f.client), appt.ID), domain.ErrNotFound)

	require.Len(t, f.signals.ids, 2)
	task, err := f.db.GetNotification(ctx, f.signals.ids[1])
	require.NoError(t, err)
	assert.Equal(t, models.NotificationCancellation, task.Kind)
	assert.Equal(t, events.EventAppointmentCancelled, f.bus.types[len(f.bus.types)-1])

	// слот снова свободен
	f.book(t, mondayTen, f.haircut)
}

func TestAppointmentQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := f.book(t, mondayTen, f.haircut)
	future := f.book(t, mondayTen.AddDate(0, 0, 2), f.haircut)
	f.svc.now = func() time.Time { return mondayTen.AddDate(0, 0, 1) }

	list, err := f.svc.Mine(ctx, f.as(f.client), "past")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, past.ID, list[0].ID)

	list, err = f.svc.Mine(ctx, f.as(f.client), "future")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, future.ID, list[0].ID)

	list, err = f.svc.Mine(ctx, f.as(f.client), "")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = f.svc.Mine(ctx, f.as(f.client), "soon")
	assert.ErrorIs(t, err, domain.ErrValidation)

	list, err = f.svc.Mine(ctx, f.as(f.other), "")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.svc.ListAll(ctx, f.as(f.client), "", "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	admin := models.AuthContext{SubjectID: "admin-1", Role: models.RoleAdmin}
	list, err = f.svc.ListAll(ctx, admin, "2024-06-04", "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, future.ID, list[0].ID)

	_, err = f.svc.ListAll(ctx, admin, "2024-06-05", "2024-06-01")
	assert.ErrorIs(t, err, domain.ErrValidation)

	day, err := f.svc.StylistDay(ctx, f.as(f.stylist), f.stylist.ID, "2024-06-03")
	require.NoError(t, err)
	assert.Len(t, day, 1)
	_, err = f.svc.StylistDay(ctx, f.as(f.client), f.stylist.ID, "2024-06-03")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := f.svc.Get(ctx, f.as(f.client), past.ID)
	require.NoError(t, err)
	assert.Equal(t, past.ID, got.ID)
	_, err = f.svc.Get(ctx, f.as(f.other), past.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
