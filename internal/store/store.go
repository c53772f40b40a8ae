// Package store persists historical network metrics and forecast results in
// PostgreSQL. The forecasting core never touches it directly; services feed
// records in and read them back across the §6-style boundary: data available
// or data unavailable, nothing else.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"chainintel/internal/forecast"
)

// ErrNotFound signals an empty read: no rows for the requested range.
var ErrNotFound = errors.New("not found")

// Defaults applied when the corresponding Config fields are unset.
const (
	DefaultMaxOpenConns    = 10
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 30 * time.Minute
)

// Config configures the database connection.
type Config struct {
	DSN             string        `yaml:"dsn" envconfig:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME"`
}

// Store provides database operations for metrics and forecasts.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store: no DSN configured")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return New(db, logger), nil
}

// New wraps an existing database handle.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports database reachability, used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// schema is applied at startup; idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS historical_metrics (
	id BIGSERIAL PRIMARY KEY,
	date DATE NOT NULL UNIQUE,
	total_devices BIGINT NOT NULL,
	new_devices BIGINT NOT NULL DEFAULT 0,
	observed_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS forecasts (
	id BIGSERIAL PRIMARY KEY,
	run_id UUID NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL,
	model_type VARCHAR(50) NOT NULL,
	forecast_horizon INTEGER NOT NULL,
	result JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_historical_metrics_date ON historical_metrics(date DESC);
CREATE INDEX IF NOT EXISTS idx_forecasts_generated_at ON forecasts(generated_at DESC);
`

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	s.logger.InfoContext(ctx, "database schema ensured")
	return nil
}

// SaveHistory upserts daily records by date; the newest write for a date wins.
func (s *Store) SaveHistory(ctx context.Context, records []forecast.HistoricalRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save history: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO historical_metrics (date, total_devices, new_devices, observed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (date) DO UPDATE SET
			total_devices = EXCLUDED.total_devices,
			new_devices = EXCLUDED.new_devices,
			observed_at = EXCLUDED.observed_at`)
	if err != nil {
		return fmt.Errorf("save history: prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.Date, rec.TotalDevices, rec.NewDevices, rec.ObservedAt); err != nil {
			return fmt.Errorf("save history: insert %s: %w", rec.Date.Format("2006-01-02"), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save history: commit: %w", err)
	}

	s.logger.InfoContext(ctx, "historical records stored", slog.Int("count", len(records)))
	return nil
}

// History returns up to days of trailing records ordered ascending by date.
// An empty range yields ErrNotFound: absence of history is "data unavailable",
// never a zero-device network.
func (s *Store) History(ctx context.Context, days int) ([]forecast.HistoricalRecord, error) {
	if days <= 0 {
		days = 90
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, total_devices, new_devices, observed_at
		FROM historical_metrics
		WHERE date >= $1
		ORDER BY date ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []forecast.HistoricalRecord
	for rows.Next() {
		var rec forecast.HistoricalRecord
		if err := rows.Scan(&rec.Date, &rec.TotalDevices, &rec.NewDevices, &rec.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no historical records in the last %d days: %w", days, ErrNotFound)
	}
	return records, nil
}

// SaveForecast stores a completed forecast result as JSONB.
func (s *Store) SaveForecast(ctx context.Context, result *forecast.ForecastResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("save forecast: marshal: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO forecasts (run_id, generated_at, model_type, forecast_horizon, result)
		VALUES ($1, $2, $3, $4, $5)`,
		result.RunID, result.GeneratedAt, result.ModelType, result.HorizonDays, payload)
	if err != nil {
		return fmt.Errorf("save forecast: insert: %w", err)
	}

	s.logger.InfoContext(ctx, "forecast stored",
		slog.String("run_id", result.RunID),
		slog.Int("horizon_days", result.HorizonDays))
	return nil
}

// LatestForecast returns the most recently generated forecast, or ErrNotFound.
func (s *Store) LatestForecast(ctx context.Context) (*forecast.ForecastResult, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT result FROM forecasts
		ORDER BY generated_at DESC
		LIMIT 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no forecasts stored: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query latest forecast: %w", err)
	}

	var result forecast.ForecastResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode stored forecast: %w", err)
	}
	return &result, nil
}
