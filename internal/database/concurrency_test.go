package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"salonbook/internal/booking"
	"salonbook/internal/domain"
	"salonbook/internal/models"
	"salonbook/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Несколько горутин бронируют один и тот же слот через файловую БД,
// каждая на своём соединении.
func TestConcurrentReserveSameSlot(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "salon.db"), nil, WithBusyTimeout(10*time.Second))
	require.NoError(t, err)
	defer db.Close()

	guard := booking.NewGuard(db, retry.Policy{MaxRetries: 5, InitialDelay: 10 * time.Millisecond}, nil)
	start := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
		other     []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			appt := &models.Appointment{
				ID:              fmt.Sprintf("appt-%d", i),
				ClientID:        fmt.Sprintf("client-%d", i),
				StylistID:       "st-1",
				ServiceID:       "svc-1",
				Start:           start.Add(time.Duration(i%3) * 15 * time.Minute),
				DurationMinutes: 60,
				Status:          models.StatusAccepted,
			}
			appt.End = appt.Start.Add(time.Hour)
			task := &models.NotificationTask{Kind: models.NotificationConfirmation, AppointmentID: appt.ID, Payload: "{}"}

			err := guard.Reserve(context.Background(), appt, task)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, conflicts)

	ctx := context.Background()
	list, err := db.ListStylistAppointments(ctx, "st-1", start.Add(-time.Hour), start.Add(3*time.Hour), models.ActiveStatuses)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	tasks, err := db.GetPendingNotifications(ctx, 100)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, list[0].ID, tasks[0].AppointmentID)
}
