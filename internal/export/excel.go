package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tripline/internal/domain"
	"tripline/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// ExcelExporter выгружает бронирования и сводку по дням в Excel файл.
type ExcelExporter struct {
	repo   domain.Ledger
	path   string
	logger *zerolog.Logger
}

func NewExcelExporter(repo domain.Ledger, path string, logger *zerolog.Logger) *ExcelExporter {
	return &ExcelExporter{repo: repo, path: path, logger: logger}
}

// ExportBookings создает Excel файл со всеми бронированиями.
func (e *ExcelExporter) ExportBookings(ctx context.Context) (string, error) {
	// Создаем папку для экспорта, если не существует
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	bookings, err := e.repo.ListBookings(ctx)
	if err != nil {
		return "", fmt.Errorf("error getting bookings: %v", err)
	}

	trips, err := e.repo.ListTrips(ctx)
	if err != nil {
		return "", fmt.Errorf("error getting trips: %v", err)
	}
	tripTitles := make(map[int64]string, len(trips))
	for _, trip := range trips {
		tripTitles[trip.ID] = trip.Title
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Бронирования"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	// Заголовки
	headers := []string{
		"ID", "Ref", "Тур", "Клиент", "Email", "Телефон",
		"Человек", "Статус", "Сумма", "Дата создания",
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	// Данные бронирований
	for i, booking := range bookings {
		row := i + 2
		title := tripTitles[booking.TripID]
		if title == "" {
			title = fmt.Sprintf("#%d", booking.TripID)
		}
		_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), booking.ID)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), booking.Ref)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), title)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), booking.CustomerName)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), booking.Email)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), booking.Phone)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), booking.NumPersons)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("H%d", row), statusLabel(booking.Status))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("I%d", row), booking.AmountPaid)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("J%d", row), booking.CreatedAt.Format("02.01.2006 15:04"))
	}

	e.writeRollupSheet(ctx, f, bookings)

	// Настраиваем ширину колонок
	_ = f.SetColWidth(sheetName, "A", "A", 8)
	_ = f.SetColWidth(sheetName, "B", "B", 38)
	_ = f.SetColWidth(sheetName, "C", "D", 25)
	_ = f.SetColWidth(sheetName, "E", "F", 20)
	_ = f.SetColWidth(sheetName, "G", "I", 12)
	_ = f.SetColWidth(sheetName, "J", "J", 18)

	// Удаляем стандартный лист
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("bookings_export_%s.xlsx", time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("bookings", len(bookings)).Msg("Excel file created")
	return filePath, nil
}

// writeRollupSheet добавляет лист со сводкой по датам из таблицы analytics.
func (e *ExcelExporter) writeRollupSheet(ctx context.Context, f *excelize.File, bookings []models.Booking) {
	sheetName := "Сводка"
	if _, err := f.NewSheet(sheetName); err != nil {
		e.logger.Error().Err(err).Msg("error creating rollup sheet")
		return
	}

	headers := []string{"Дата", "Бронирований", "Выручка"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
	}

	// Собираем уникальные даты из бронирований
	seen := make(map[string]bool)
	var dates []string
	for _, booking := range bookings {
		key := models.DateKey(booking.CreatedAt)
		if !seen[key] {
			seen[key] = true
			dates = append(dates, key)
		}
	}

	row := 2
	for _, dateKey := range dates {
		bucket, err := e.repo.GetAnalytics(ctx, dateKey)
		if err != nil {
			e.logger.Error().Err(err).Str("date", dateKey).Msg("error getting analytics bucket")
			continue
		}
		_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), dateKey)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), bucket.TotalBookings)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), bucket.TotalRevenue)
		row++
	}

	_ = f.SetColWidth(sheetName, "A", "C", 15)
}

// statusLabel преобразует статус в подпись для отчета
func statusLabel(status models.BookingStatus) string {
	switch status {
	case models.StatusConfirmed:
		return "Подтверждено"
	case models.StatusPending:
		return "Ожидает"
	case models.StatusCancelled:
		return "Отменено"
	default:
		return string(status)
	}
}
