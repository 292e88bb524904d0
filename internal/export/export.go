// Package export builds xlsx reports of the salon schedule.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"salonbook/internal/calendar"
	"salonbook/internal/domain"
	"salonbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	listSheet = "Appointments"
	gridSheet = "By stylist"

	maxRangeDays = 93
)

// Store is the read side the report needs.
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetService(ctx context.Context, id string) (*models.Service, error)
	ListStylists(ctx context.Context) ([]*models.User, error)
	ListAppointments(ctx context.Context, window models.TimeRange) ([]*models.Appointment, error)
}

type ScheduleExporter struct {
	store    Store
	resolver *calendar.Resolver
	dir      string
	logger   zerolog.Logger
}

func NewScheduleExporter(store Store, resolver *calendar.Resolver, dir string, logger *zerolog.Logger) *ScheduleExporter {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "export").Logger()
	}
	return &ScheduleExporter{store: store, resolver: resolver, dir: dir, logger: l}
}

// SaveFile writes the report for local dates [fromDate, toDate] into the
// export directory and returns the file path.
func (e *ScheduleExporter) SaveFile(ctx context.Context, fromDate, toDate string) (string, error) {
	// Создаем папку для экспорта, если не существует
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := e.build(ctx, fromDate, toDate)
	if err != nil {
		return "", err
	}
	defer f.Close()

	filePath := filepath.Join(e.dir, FileName(fromDate, toDate))
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Msg("schedule export created")
	return filePath, nil
}

// Write streams the report for local dates [fromDate, toDate] to w.
func (e *ScheduleExporter) Write(ctx context.Context, w io.Writer, fromDate, toDate string) error {
	f, err := e.build(ctx, fromDate, toDate)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func FileName(fromDate, toDate string) string {
	return fmt.Sprintf("schedule_%s_to_%s.xlsx", fromDate, toDate)
}

type row struct {
	appt    *models.Appointment
	date    string
	stylist string
	client  string
	service string
}

func (e *ScheduleExporter) build(ctx context.Context, fromDate, toDate string) (*excelize.File, error) {
	from, _, err := e.resolver.DayRangeUTC(fromDate)
	if err != nil {
		return nil, err
	}
	_, to, err := e.resolver.DayRangeUTC(toDate)
	if err != nil {
		return nil, err
	}
	if !to.After(from) {
		return nil, domain.Validationf("export range %s..%s is empty", fromDate, toDate)
	}
	if to.Sub(from) > maxRangeDays*24*time.Hour {
		return nil, domain.Validationf("export range is limited to %d days", maxRangeDays)
	}

	appts, err := e.store.ListAppointments(ctx, models.TimeRange{From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("error getting appointments: %w", err)
	}
	stylists, err := e.store.ListStylists(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting stylists: %w", err)
	}

	rows := e.resolveRows(ctx, appts)
	dates := e.dates(fromDate, toDate)

	f := excelize.NewFile()
	if err := e.writeList(f, rows, fromDate, toDate); err != nil {
		f.Close()
		return nil, err
	}
	if err := e.writeGrid(f, rows, stylists, dates); err != nil {
		f.Close()
		return nil, err
	}
	// Удаляем стандартный лист
	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

func (e *ScheduleExporter) resolveRows(ctx context.Context, appts []*models.Appointment) []row {
	users := make(map[string]string)
	services := make(map[string]string)

	userName := func(id string) string {
		if name, ok := users[id]; ok {
			return name
		}
		name := id
		if u, err := e.store.GetUser(ctx, id); err == nil {
			name = u.Name
		} else {
			e.logger.Warn().Err(err).Str("user_id", id).Msg("export: unknown user")
		}
		users[id] = name
		return name
	}
	serviceName := func(id string) string {
		if name, ok := services[id]; ok {
			return name
		}
		name := id
		if s, err := e.store.GetService(ctx, id); err == nil {
			name = s.Name
		}
		services[id] = name
		return name
	}

	rows := make([]row, 0, len(appts))
	for _, a := range appts {
		rows = append(rows, row{
			appt:    a,
			date:    e.resolver.LocalDate(a.Start),
			stylist: userName(a.StylistID),
			client:  userName(a.ClientID),
			service: serviceName(a.ServiceID),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].appt.Start.Before(rows[j].appt.Start) })
	return rows
}

func (e *ScheduleExporter) dates(fromDate, toDate string) []string {
	start, _ := e.resolver.ParseDate(fromDate)
	end, _ := e.resolver.ParseDate(toDate)
	var out []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(models.DateLayout))
	}
	return out
}

func (e *ScheduleExporter) writeList(f *excelize.File, rows []row, fromDate, toDate string) error {
	index, err := f.NewSheet(listSheet)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(listSheet, "A1", fmt.Sprintf("Schedule %s - %s", fromDate, toDate))
	_ = f.MergeCell(listSheet, "A1", "H1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(listSheet, "A1", "A1", titleStyle)

	headers := []string{"Date", "Start", "End", "Stylist", "Client", "Service", "Status", "Notes"}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(listSheet, cell, h)
		_ = f.SetCellStyle(listSheet, cell, cell, headerStyle)
	}

	for i, r := range rows {
		values := []any{
			r.date,
			e.resolver.LocalTimeOfDay(r.appt.Start),
			e.resolver.LocalTimeOfDay(r.appt.End),
			r.stylist,
			r.client,
			r.service,
			r.appt.Status,
			r.appt.Notes,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+3)
		if err := f.SetSheetRow(listSheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+3, err)
		}
	}

	_ = f.SetColWidth(listSheet, "A", "C", 12)
	_ = f.SetColWidth(listSheet, "D", "F", 22)
	_ = f.SetColWidth(listSheet, "G", "G", 12)
	_ = f.SetColWidth(listSheet, "H", "H", 40)
	return nil
}

// writeGrid puts stylists in rows and dates in columns; each cell lists the
// day's active appointments.
func (e *ScheduleExporter) writeGrid(f *excelize.File, rows []row, stylists []*models.User, dates []string) error {
	if _, err := f.NewSheet(gridSheet); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}

	dateCol := make(map[string]int, len(dates))
	for i, d := range dates {
		col := i + 2
		dateCol[d] = col
		cell, _ := excelize.CoordinatesToCellName(col, 1)
		_ = f.SetCellValue(gridSheet, cell, d)
	}
	stylistRow := make(map[string]int, len(stylists))
	for i, s := range stylists {
		r := i + 2
		stylistRow[s.ID] = r
		cell, _ := excelize.CoordinatesToCellName(1, r)
		_ = f.SetCellValue(gridSheet, cell, s.Name)
	}

	cells := make(map[string]string)
	pending := make(map[string]bool)
	for _, r := range rows {
		if !r.appt.IsActive() {
			continue
		}
		rowIdx, ok := stylistRow[r.appt.StylistID]
		if !ok {
			continue
		}
		col, ok := dateCol[r.date]
		if !ok {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(col, rowIdx)
		cells[cell] += fmt.Sprintf("%s %s (%s)\n", e.resolver.LocalTimeOfDay(r.appt.Start), r.client, r.service)
		if r.appt.Status == models.StatusPending {
			pending[cell] = true
		}
	}

	wrap := &excelize.Alignment{Horizontal: "left", Vertical: "top", WrapText: true}
	accepted, _ := f.NewStyle(&excelize.Style{Fill: excelize.Fill{Type: "pattern", Color: []string{"#C6EFCE"}, Pattern: 1}, Alignment: wrap})
	waiting, _ := f.NewStyle(&excelize.Style{Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFEB9C"}, Pattern: 1}, Alignment: wrap})
	for cell, text := range cells {
		_ = f.SetCellValue(gridSheet, cell, text)
		style := accepted
		if pending[cell] {
			style = waiting
		}
		_ = f.SetCellStyle(gridSheet, cell, cell, style)
	}

	_ = f.SetColWidth(gridSheet, "A", "A", 22)
	if len(dates) > 0 {
		last, _ := excelize.ColumnNumberToName(len(dates) + 1)
		_ = f.SetColWidth(gridSheet, "B", last, 28)
	}
	return nil
}
