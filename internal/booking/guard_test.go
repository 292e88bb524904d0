package booking

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"
	"salonbook/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a transactional in-memory store: writes are buffered per
// transaction and applied on commit, stylist locks are held until the end.
type memStore struct {
	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	appts     map[string]*models.Appointment
	tasks     []*models.NotificationTask
	lockErr   error
	lockCalls int
}

func newMemStore() *memStore {
	return &memStore{locks: map[string]*sync.Mutex{}, appts: map[string]*models.Appointment{}}
}

type memTx struct {
	s       *memStore
	held    []*sync.Mutex
	puts    map[string]*models.Appointment
	deletes []string
	tasks   []*models.NotificationTask
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx := &memTx{s: s, puts: map[string]*models.Appointment{}}
	defer func() {
		for _, m := range tx.held {
			m.Unlock()
		}
	}()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range tx.puts {
		s.appts[id] = a
	}
	for _, id := range tx.deletes {
		delete(s.appts, id)
	}
	s.tasks = append(s.tasks, tx.tasks...)
	return nil
}

func (t *memTx) LockStylist(_ context.Context, stylistID string) error {
	t.s.mu.Lock()
	t.s.lockCalls++
	if t.s.lockErr != nil {
		err := t.s.lockErr
		t.s.mu.Unlock()
		return err
	}
	m, ok := t.s.locks[stylistID]
	if !ok {
		m = &sync.Mutex{}
		t.s.locks[stylistID] = m
	}
	t.s.mu.Unlock()
	m.Lock()
	t.held = append(t.held, m)
	return nil
}

func (t *memTx) GetAppointment(_ context.Context, id string) (*models.Appointment, error) {
	if a, ok := t.puts[id]; ok {
		cp := *a
		return &cp, nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	a, ok := t.s.appts[id]
	if !ok {
		return nil, domain.NotFoundf("appointment %s", id)
	}
	cp := *a
	return &cp, nil
}

func (t *memTx) FindOverlapping(_ context.Context, stylistID string, start, end time.Time, statuses []string, excludeID string) ([]*models.Appointment, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var out []*models.Appointment
	for id, a := range t.s.appts {
		if id == excludeID || a.StylistID != stylistID || !a.IsActive() {
			continue
		}
		if a.Overlaps(start, end) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *memTx) InsertAppointment(_ context.Context, appt *models.Appointment) error {
	cp := *appt
	t.puts[appt.ID] = &cp
	return nil
}

func (t *memTx) UpdateAppointment(_ context.Context, appt *models.Appointment) error {
	t.s.mu.Lock()
	_, ok := t.s.appts[appt.ID]
	t.s.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}
	cp := *appt
	t.puts[appt.ID] = &cp
	return nil
}

func (t *memTx) DeleteAppointment(_ context.Context, id string) error {
	t.deletes = append(t.deletes, id)
	return nil
}

func (t *memTx) EnqueueNotification(_ context.Context, task *models.NotificationTask) (bool, error) {
	t.tasks = append(t.tasks, task)
	return true, nil
}

var base = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

func appt(id, stylist string, startMin, durMin int) *models.Appointment {
	start := base.Add(time.Duration(startMin) * time.Minute)
	return &models.Appointment{
		ID:              id,
		StylistID:       stylist,
		Start:           start,
		End:             start.Add(time.Duration(durMin) * time.Minute),
		DurationMinutes: durMin,
		Status:          models.StatusAccepted,
	}
}

func TestGuard_Reserve(t *testing.T) {
	ctx := context.Background()

	t.Run("InsertsWithTasks", func(t *testing.T) {
		s := newMemStore()
		g := NewGuard(s, retry.Policy{}, nil)
		task := &models.NotificationTask{Kind: models.NotificationConfirmation, AppointmentID: "a1"}

		require.NoError(t, g.Reserve(ctx, appt("a1", "st", 0, 60), task))
		assert.Len(t, s.appts, 1)
		assert.Len(t, s.tasks, 1)
	})

	t.Run("ConflictWritesNothing", func(t *testing.T) {
		s := newMemStore()
		g := NewGuard(s, retry.Policy{}, nil)
		require.NoError(t, g.Reserve(ctx, appt("a1", "st", 0, 60)))

		err := g.Reserve(ctx, appt("a2", "st", 30, 60), &models.NotificationTask{Kind: models.NotificationConfirmation})
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.Len(t, s.appts, 1)
		assert.Empty(t, s.tasks)
	})

	t.Run("TouchingIsAllowed", func(t *testing.T) {
		s := newMemStore()
		g := NewGuard(s, retry.Policy{}, nil)
		require.NoError(t, g.Reserve(ctx, appt("a1", "st", 60, 60)))
		assert.NoError(t, g.Reserve(ctx, appt("a2", "st", 0, 60)))
		assert.NoError(t, g.Reserve(ctx, appt("a3", "st", 120, 60)))
	})

	t.Run("OtherStylistIndependent", func(t *testing.T) {
		s := newMemStore()
		g := NewGuard(s, retry.Policy{}, nil)
		require.NoError(t, g.Reserve(ctx, appt("a1", "st-1", 0, 60)))
		assert.NoError(t, g.Reserve(ctx, appt("a2", "st-2", 0, 60)))
	})

	t.Run("InactiveDoesNotBlock", func(t *testing.T) {
		s := newMemStore()
		cancelled := appt("a1", "st", 0, 60)
		cancelled.Status = models.StatusCancelled
		s.appts["a1"] = cancelled
		g := NewGuard(s, retry.Policy{}, nil)
		assert.NoError(t, g.Reserve(ctx, appt("a2", "st", 0, 60)))
	})

	t.Run("InvalidInterval", func(t *testing.T) {
		g := NewGuard(newMemStore(), retry.Policy{}, nil)
		assert.ErrorIs(t, g.Reserve(ctx, appt("a1", "st", 0, 0)), domain.ErrValidation)
		assert.ErrorIs(t, g.Reserve(ctx, appt("a1", "", 0, 60)), domain.ErrValidation)
	})
}

func TestGuard_TransientRetried(t *testing.T) {
	s := newMemStore()
	s.lockErr = fmt.Errorf("%w: lock timeout", domain.ErrTransient)
	g := NewGuard(s, retry.Policy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil)

	err := g.Reserve(context.Background(), appt("a1", "st", 0, 60))
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, 3, s.lockCalls)
	assert.Empty(t, s.appts)
}

// snapshot returns a copy of the stored row, as a caller would have read it.
func (s *memStore) snapshot(id string) *models.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.appts[id]
	return &cp
}

func TestGuard_Reschedule(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	g := NewGuard(s, retry.Policy{}, nil)
	require.NoError(t, g.Reserve(ctx, appt("a1", "st", 0, 60)))
	require.NoError(t, g.Reserve(ctx, appt("a2", "st", 120, 60)))

	// Moving within its own old interval only collides with itself.
	assert.NoError(t, g.Reschedule(ctx, s.snapshot("a1"), appt("a1", "st", 30, 60)))
	assert.Equal(t, base.Add(30*time.Minute), s.appts["a1"].Start)

	err := g.Reschedule(ctx, s.snapshot("a1"), appt("a1", "st", 100, 60))
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, base.Add(30*time.Minute), s.appts["a1"].Start)

	assert.ErrorIs(t, g.Reschedule(ctx, s.snapshot("a1"), appt("", "st", 0, 60)), domain.ErrValidation)
	assert.ErrorIs(t, g.Reschedule(ctx, s.snapshot("a1"), appt("a2", "st", 0, 60)), domain.ErrValidation)
}

func TestGuard_RescheduleAcrossStylists(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	g := NewGuard(s, retry.Policy{}, nil)
	require.NoError(t, g.Reserve(ctx, appt("a1", "st-b", 0, 60)))
	require.NoError(t, g.Reserve(ctx, appt("a2", "st-a", 0, 60)))

	err := g.Reschedule(ctx, s.snapshot("a1"), appt("a1", "st-a", 30, 60))
	assert.ErrorIs(t, err, domain.ErrConflict)

	require.NoError(t, g.Reschedule(ctx, s.snapshot("a1"), appt("a1", "st-a", 60, 60)))
	assert.Equal(t, "st-a", s.appts["a1"].StylistID)
	assert.Equal(t, []string{"st-a", "st-b"}, lockOrder("st-b", "st-a"))
	assert.Equal(t, []string{"st-a"}, lockOrder("st-a", "st-a"))
}

func TestGuard_ReleaseAndAmend(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	g := NewGuard(s, retry.Policy{}, nil)
	require.NoError(t, g.Reserve(ctx, appt("a1", "st", 0, 60)))

	updated := appt("a1", "st", 0, 60)
	updated.Notes = "bring photos"
	require.NoError(t, g.Amend(ctx, s.snapshot("a1"), updated))
	assert.Equal(t, "bring photos", s.appts["a1"].Notes)

	require.NoError(t, g.Release(ctx, "a1", &models.NotificationTask{Kind: models.NotificationCancellation}))
	assert.Empty(t, s.appts)
	assert.Len(t, s.tasks, 1)
}

// A notes edit prepared from an old read must not put the appointment back
// into a slot that was freed and booked in the meantime.
func TestGuard_AmendFromOldReadRejected(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	g := NewGuard(s, retry.Policy{}, nil)
	require.NoError(t, g.Reserve(ctx, appt("a1", "st", 0, 60)))

	old := s.snapshot("a1")

	require.NoError(t, g.Reschedule(ctx, s.snapshot("a1"), appt("a1", "st", 240, 60)))
	require.NoError(t, g.Reserve(ctx, appt("a2", "st", 0, 60)))

	edit := *old
	edit.Notes = "allergic to ammonia"
	err := g.Amend(ctx, old, &edit, &models.NotificationTask{Kind: models.NotificationConfirmation})
	assert.ErrorIs(t, err, ErrStale)
	assert.ErrorIs(t, err, domain.ErrConflict)

	assert.Equal(t, base.Add(240*time.Minute), s.appts["a1"].Start)
	assert.Empty(t, s.appts["a1"].Notes)
	assert.Empty(t, s.tasks)
	assert.False(t, s.appts["a1"].Overlaps(s.appts["a2"].Start, s.appts["a2"].End))

	// перечитали и повторили
	fresh := s.snapshot("a1")
	edit = *fresh
	edit.Start = base // caller-side placement is ignored
	edit.Notes = "allergic to ammonia"
	require.NoError(t, g.Amend(ctx, fresh, &edit))
	assert.Equal(t, base.Add(240*time.Minute), s.appts["a1"].Start)
	assert.Equal(t, base.Add(240*time.Minute), edit.Start)
	assert.Equal(t, "allergic to ammonia", s.appts["a1"].Notes)
}

func TestGuard_DeclinedRowStaysDeclined(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	g := NewGuard(s, retry.Policy{}, nil)
	require.NoError(t, g.Reserve(ctx, appt("a1", "st", 0, 60)))

	old := s.snapshot("a1")

	declined := s.snapshot("a1")
	declined.Status = models.StatusDeclined
	require.NoError(t, g.Amend(ctx, s.snapshot("a1"), declined))

	assert.ErrorIs(t, g.Reschedule(ctx, old, appt("a1", "st", 60, 60)), ErrStale)
	assert.ErrorIs(t, g.Amend(ctx, old, appt("a1", "st", 0, 60)), ErrStale)
	assert.Equal(t, models.StatusDeclined, s.appts["a1"].Status)
	assert.Equal(t, base, s.appts["a1"].Start)
}

func TestGuard_ConcurrentReserve(t *testing.T) {
	s := newMemStore()
	g := NewGuard(s, retry.Policy{}, nil)

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, conflicts int
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := g.Reserve(context.Background(), appt(fmt.Sprintf("a%d", i), "st", i%3*10, 60))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, conflicts)
}

// Random reservations must leave the active set pairwise disjoint.
func TestGuard_NonOverlapInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := newMemStore()
	g := NewGuard(s, retry.Policy{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 300; i++ {
		a := appt(fmt.Sprintf("a%d", i), fmt.Sprintf("st-%d", rng.Intn(3)), rng.Intn(600), 15+rng.Intn(120))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Reserve(context.Background(), a)
		}()
	}
	wg.Wait()

	var all []*models.Appointment
	for _, a := range s.appts {
		all = append(all, a)
	}
	for i := range all {
		for j := i + 1; j < len(all); j++ {
			if all[i].StylistID != all[j].StylistID {
				continue
			}
			assert.False(t, all[i].Overlaps(all[j].Start, all[j].End), "%s overlaps %s", all[i].ID, all[j].ID)
		}
	}
}
