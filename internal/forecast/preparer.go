package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// SeriesPreparer normalizes raw daily records into a clean, date-ordered
// numeric series suitable for trend fitting. It performs no value
// transformation: anomalies in the input are faithfully propagated.
type SeriesPreparer struct {
	logger *slog.Logger
}

// NewSeriesPreparer creates a new series preparer.
func NewSeriesPreparer(logger *slog.Logger) *SeriesPreparer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SeriesPreparer{logger: logger}
}

// Prepare converts records into a Series: deduplicated by date (last write
// wins), sorted ascending. Fails with ErrInsufficientData when fewer than two
// distinct dates are supplied.
func (p *SeriesPreparer) Prepare(ctx context.Context, records []HistoricalRecord) (*Series, error) {
	if len(records) < 2 {
		return nil, fmt.Errorf("prepare series: need at least 2 records, got %d: %w", len(records), ErrInsufficientData)
	}

	byDate := make(map[time.Time]Point, len(records))
	for _, rec := range records {
		date := normalizeDate(rec.Date)
		if _, exists := byDate[date]; exists {
			p.logger.WarnContext(ctx, "duplicate record date, keeping latest",
				slog.String("date", date.Format("2006-01-02")))
		}
		byDate[date] = Point{Date: date, Value: float64(rec.TotalDevices)}
	}

	if len(byDate) < 2 {
		return nil, fmt.Errorf("prepare series: need at least 2 distinct dates, got %d: %w", len(byDate), ErrInsufficientData)
	}

	points := make([]Point, 0, len(byDate))
	for _, pt := range byDate {
		points = append(points, pt)
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})

	p.logger.InfoContext(ctx, "series prepared",
		slog.Int("points", len(points)),
		slog.String("from", points[0].Date.Format("2006-01-02")),
		slog.String("to", points[len(points)-1].Date.Format("2006-01-02")))

	return &Series{Points: points}, nil
}

// normalizeDate truncates a timestamp to UTC midnight so records observed at
// different times of day collapse onto their calendar date.
func normalizeDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
