// Command simulate generates synthetic device-count history. It prints the
// records as CSV, optionally writes them to a file, and can seed the
// configured database so the web service has history to forecast from.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"chainintel/internal/config"
	"chainintel/internal/exporter"
	"chainintel/internal/forecast"
	"chainintel/internal/infrastructure"
	"chainintel/internal/simulator"
	"chainintel/internal/store"
)

func main() {
	days := flag.Int("days", simulator.DefaultDays, "number of days of history to generate")
	seed := flag.Int64("seed", simulator.DefaultSeed, "random seed (same seed, same series)")
	total := flag.Int64("total", simulator.DefaultCurrentTotal, "device count on the final day")
	growth := flag.Int64("growth", simulator.DefaultBaseDailyGrowth, "base daily growth")
	variance := flag.Int64("variance", simulator.DefaultMaxVariance, "max random variance per day")
	out := flag.String("out", "", "write CSV to this file instead of stdout")
	persist := flag.Bool("persist", false, "save generated history to the configured database")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		slog.Error("failed to initialize logger", slog.String("error", err.Error()))
		os.Exit(1)
	}

	generator := simulator.New(simulator.Config{
		Seed:            *seed,
		Days:            *days,
		CurrentTotal:    *total,
		BaseDailyGrowth: *growth,
		MaxVariance:     *variance,
	}, logger)

	ctx := context.Background()
	records := generator.Generate(ctx, *days, time.Now().UTC())

	logger.Info("history generated",
		slog.Int("records", len(records)),
		slog.Int64("seed", *seed),
		slog.Int64("final_total", records[len(records)-1].TotalDevices))

	if err := writeCSV(*out, records); err != nil {
		logger.Error("failed to write CSV", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if *persist {
		if cfg.Database.DSN == "" {
			logger.Error("persist requested but no database DSN configured")
			os.Exit(1)
		}
		if err := persistHistory(ctx, cfg.Database, records, logger); err != nil {
			logger.Error("failed to persist history", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("history persisted", slog.Int("records", len(records)))
	}
}

func writeCSV(path string, records []forecast.HistoricalRecord) error {
	headers := []string{"date", "total_devices", "new_devices"}

	if path == "" {
		w := csv.NewWriter(os.Stdout)
		if err := w.Write(headers); err != nil {
			return err
		}
		for _, rec := range records {
			if err := w.Write(historyRow(rec)); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	}

	sw, err := exporter.NewCSVWriter(".").CreateStreamWriter(path, headers)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	for _, rec := range records {
		if err := sw.WriteRecord(historyRow(rec)); err != nil {
			sw.Close()
			return err
		}
	}
	return sw.Close()
}

func historyRow(rec forecast.HistoricalRecord) []string {
	return []string{
		rec.Date.Format("2006-01-02"),
		strconv.FormatInt(rec.TotalDevices, 10),
		strconv.FormatInt(rec.NewDevices, 10),
	}
}

func persistHistory(ctx context.Context, cfg store.Config, records []forecast.HistoricalRecord, logger *slog.Logger) error {
	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}
	return st.SaveHistory(ctx, records)
}
