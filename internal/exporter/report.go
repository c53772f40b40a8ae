package exporter

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"chainintel/internal/forecast"
)

const dateLayout = "2006-01-02"

// ReportExporter writes forecast results as report files.
type ReportExporter struct {
	baseDir string
	csv     *CSVWriter
	logger  *slog.Logger
}

// NewReportExporter creates a report exporter rooted at baseDir.
func NewReportExporter(baseDir string, logger *slog.Logger) *ReportExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportExporter{
		baseDir: baseDir,
		csv:     NewCSVWriter(baseDir),
		logger:  logger.With(slog.String("component", "report_exporter")),
	}
}

// forecastHeaders is the column layout of the predictions CSV.
func forecastHeaders() []string {
	return []string{"date", "predicted_value", "lower_bound", "upper_bound", "confidence_level"}
}

func pointToRow(p forecast.ForecastPoint) []string {
	return []string{
		p.Date.Format(dateLayout),
		formatFloat(p.PredictedValue),
		formatFloat(p.LowerBound),
		formatFloat(p.UpperBound),
		formatFloat(p.ConfidenceLevel),
	}
}

// ExportCSV writes the forecast points of a run to forecast_<run_id>.csv and
// returns the file path.
func (e *ReportExporter) ExportCSV(result *forecast.ForecastResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("export csv: nil result")
	}

	name := fmt.Sprintf("forecast_%s.csv", result.RunID)
	records := make([][]string, 0, len(result.Points))
	for _, p := range result.Points {
		records = append(records, pointToRow(p))
	}

	if err := e.csv.WriteSimpleCSV(name, forecastHeaders(), records); err != nil {
		return "", fmt.Errorf("export csv: %w", err)
	}

	path := filepath.Join(e.baseDir, name)
	e.logger.Info("forecast CSV exported",
		slog.String("run_id", result.RunID),
		slog.String("path", path))
	return path, nil
}

// ExportXLSX writes a multi-sheet workbook for a run: predictions,
// milestones, and a summary sheet with validation and trend figures.
// It returns the file path.
func (e *ReportExporter) ExportXLSX(result *forecast.ForecastResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("export xlsx: nil result")
	}

	if err := os.MkdirAll(e.baseDir, 0755); err != nil {
		return "", fmt.Errorf("export xlsx: create dir: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	const forecastSheet = "Forecast"
	if err := f.SetSheetName("Sheet1", forecastSheet); err != nil {
		return "", fmt.Errorf("export xlsx: rename sheet: %w", err)
	}

	if err := writeRow(f, forecastSheet, 1, toInterfaces(forecastHeaders())); err != nil {
		return "", err
	}
	for i, p := range result.Points {
		row := []interface{}{
			p.Date.Format(dateLayout),
			p.PredictedValue,
			p.LowerBound,
			p.UpperBound,
			p.ConfidenceLevel,
		}
		if err := writeRow(f, forecastSheet, i+2, row); err != nil {
			return "", err
		}
	}

	const milestoneSheet = "Milestones"
	if _, err := f.NewSheet(milestoneSheet); err != nil {
		return "", fmt.Errorf("export xlsx: new sheet: %w", err)
	}
	if err := writeRow(f, milestoneSheet, 1, []interface{}{"horizon_days", "predicted_value", "absolute_growth", "growth_percentage"}); err != nil {
		return "", err
	}
	for i, m := range result.Milestones {
		row := []interface{}{m.HorizonDays, m.PredictedValue, m.AbsoluteGrowth, m.GrowthPercentage}
		if err := writeRow(f, milestoneSheet, i+2, row); err != nil {
			return "", err
		}
	}

	const summarySheet = "Summary"
	if _, err := f.NewSheet(summarySheet); err != nil {
		return "", fmt.Errorf("export xlsx: new sheet: %w", err)
	}
	summary := [][]interface{}{
		{"run_id", result.RunID},
		{"generated_at", result.GeneratedAt.Format("2006-01-02 15:04:05")},
		{"model_type", result.ModelType},
		{"horizon_days", result.HorizonDays},
		{"current_value", result.CurrentValue},
		{"current_date", result.CurrentDate.Format(dateLayout)},
		{"avg_daily_growth", result.AvgDailyGrowth},
		{"confidence_level", result.ConfidenceLevel},
		{"validation_mae", result.Validation.MAE},
		{"validation_rmse", result.Validation.RMSE},
		{"validation_mape", result.Validation.MAPE},
		{"validation_window", result.Validation.TestWindowSize},
		{"trend_direction", result.Trend.Direction},
		{"trend_momentum_pct", result.Trend.MomentumPercentage},
	}
	for i, row := range summary {
		if err := writeRow(f, summarySheet, i+1, row); err != nil {
			return "", err
		}
	}

	path := filepath.Join(e.baseDir, fmt.Sprintf("forecast_%s.xlsx", result.RunID))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("export xlsx: save: %w", err)
	}

	e.logger.Info("forecast workbook exported",
		slog.String("run_id", result.RunID),
		slog.String("path", path))
	return path, nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("export xlsx: cell name: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("export xlsx: write row %d: %w", row, err)
	}
	return nil
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
