package export

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"salonbook/internal/calendar"
	"salonbook/internal/database"
	"salonbook/internal/domain"
	"salonbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func setup(t *testing.T) *ScheduleExporter {
	t.Helper()
	db, err := database.NewDB(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	client := &models.User{Name: "Jane", Email: "jane@mail.test"}
	stylist := &models.User{Name: "Anna", Email: "anna@salon.test", Role: models.RoleStylist, WorkStart: "09:00", WorkEnd: "17:00"}
	require.NoError(t, db.UpsertUser(ctx, client))
	require.NoError(t, db.UpsertUser(ctx, stylist))
	svc := &models.Service{Name: "Haircut", Category: "Hair", DurationMinutes: 60, Price: 45}
	require.NoError(t, db.CreateService(ctx, svc))

	start := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	require.NoError(t, db.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.InsertAppointment(ctx, &models.Appointment{
			ID: "a1", ClientID: client.ID, StylistID: stylist.ID, ServiceID: svc.ID,
			Start: start, End: start.Add(time.Hour), DurationMinutes: 60, Status: models.StatusAccepted,
		}); err != nil {
			return err
		}
		return tx.InsertAppointment(ctx, &models.Appointment{
			ID: "a2", ClientID: client.ID, StylistID: stylist.ID, ServiceID: svc.ID,
			Start: start.Add(48 * time.Hour), End: start.Add(49 * time.Hour), DurationMinutes: 60, Status: models.StatusDeclined,
		})
	}))

	r, err := calendar.NewResolver("America/New_York")
	require.NoError(t, err)
	return NewScheduleExporter(db, r, t.TempDir(), nil)
}

func TestWrite(t *testing.T) {
	e := setup(t)

	var buf bytes.Buffer
	require.NoError(t, e.Write(context.Background(), &buf, "2024-06-03", "2024-06-05"))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{listSheet, gridSheet}, f.GetSheetList())

	rows, err := f.GetRows(listSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"2024-06-03", "10:00", "11:00", "Anna", "Jane", "Haircut", "accepted"}, rows[2][:7])
	assert.Equal(t, "declined", rows[3][6])

	header, err := f.GetRows(gridSheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "2024-06-03", "2024-06-04", "2024-06-05"}, header[0])

	cell, err := f.GetCellValue(gridSheet, "B2")
	require.NoError(t, err)
	assert.Contains(t, cell, "10:00 Jane (Haircut)")

	// отклоненная запись в сетку не попадает
	cell, err = f.GetCellValue(gridSheet, "D2")
	require.NoError(t, err)
	assert.Empty(t, cell)
}

func TestSaveFile(t *testing.T) {
	e := setup(t)

	path, err := e.SaveFile(context.Background(), "2024-06-03", "2024-06-03")
	require.NoError(t, err)
	assert.Contains(t, path, "schedule_2024-06-03_to_2024-06-03.xlsx")
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestInvalidRange(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.SaveFile(ctx, "2024-06-05", "2024-06-03")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.SaveFile(ctx, "2024-01-01", "2024-12-31")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.SaveFile(ctx, "06/03/2024", "2024-06-05")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
