package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainintel/internal/config"
	"chainintel/internal/forecast"
	"chainintel/internal/simulator"
	"chainintel/internal/store"
	"chainintel/internal/telemetry"
)

// fakeStore implements HistoryStore in memory.
type fakeStore struct {
	mu       sync.Mutex
	history  []forecast.HistoricalRecord
	saved    []*forecast.ForecastResult
	savedCh  chan struct{}
	histErr  error
	saveErr  error
	latest   *forecast.ForecastResult
	latestEr error
}

func newFakeStore(history []forecast.HistoricalRecord) *fakeStore {
	return &fakeStore{history: history, savedCh: make(chan struct{}, 8)}
}

func (f *fakeStore) History(ctx context.Context, days int) ([]forecast.HistoricalRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.histErr != nil {
		return nil, f.histErr
	}
	if len(f.history) == 0 {
		return nil, store.ErrNotFound
	}
	return f.history, nil
}

func (f *fakeStore) SaveHistory(ctx context.Context, records []forecast.HistoricalRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.history = append(f.history, records...)
	return nil
}

func (f *fakeStore) SaveForecast(ctx context.Context, result *forecast.ForecastResult) error {
	f.mu.Lock()
	f.saved = append(f.saved, result)
	f.mu.Unlock()
	select {
	case f.savedCh <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeStore) LatestForecast(ctx context.Context) (*forecast.ForecastResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestEr != nil {
		return nil, f.latestEr
	}
	if f.latest == nil {
		return nil, store.ErrNotFound
	}
	return f.latest, nil
}

// fakeEvents records broadcast events in order.
type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEvents) BroadcastEvent(event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeEvents) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func testForecastConfig() config.ForecastConfig {
	return config.ForecastConfig{
		ChangepointFlexibility:  0.001,
		IntervalWidth:           0.90,
		DefaultHorizonDays:      180,
		DefaultValidationWindow: 14,
		HistoryDays:             90,
		MaxConcurrentFits:       2,
	}
}

func linearHistory(n int, base, slope int64) []forecast.HistoricalRecord {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records := make([]forecast.HistoricalRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, forecast.HistoricalRecord{
			Date:         start.AddDate(0, 0, i),
			TotalDevices: base + int64(i)*slope,
			NewDevices:   slope,
			ObservedAt:   start.AddDate(0, 0, i),
		})
	}
	return records
}

func TestForecastServiceRun(t *testing.T) {
	st := newFakeStore(linearHistory(60, 140000, 150))
	events := &fakeEvents{}
	svc := NewForecastService(testForecastConfig(), ForecastDeps{
		Store:  st,
		Events: events,
	})

	result, err := svc.Run(context.Background(), forecast.RunOptions{HorizonDays: 90, ValidationWindow: 14})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 90, result.HorizonDays)
	assert.Len(t, result.Points, 90)
	assert.InDelta(t, 150, result.AvgDailyGrowth, 5)

	// Result is persisted in the background.
	select {
	case <-st.savedCh:
	case <-time.After(5 * time.Second):
		t.Fatal("forecast was not persisted")
	}

	names := events.names()
	require.Len(t, names, 2)
	assert.Equal(t, "forecast:started", names[0])
	assert.Equal(t, "forecast:completed", names[1])
}

func TestForecastServiceRunUsesConfiguredDefaults(t *testing.T) {
	st := newFakeStore(linearHistory(60, 140000, 150))
	cfg := testForecastConfig()
	cfg.DefaultHorizonDays = 30
	cfg.DefaultValidationWindow = 7
	svc := NewForecastService(cfg, ForecastDeps{Store: st})

	result, err := svc.Run(context.Background(), forecast.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 30, result.HorizonDays)
	assert.Len(t, result.Points, 30)
	assert.Equal(t, 7, result.Validation.TestWindowSize)
}

func TestApplyDefaults(t *testing.T) {
	cfg := testForecastConfig()
	cfg.DefaultHorizonDays = 30
	cfg.DefaultValidationWindow = 7
	svc := NewForecastService(cfg, ForecastDeps{})

	// Unset fields take the configured defaults, so an empty request and
	// the spelled-out equivalent produce the same singleflight key.
	got := svc.applyDefaults(forecast.RunOptions{})
	assert.Equal(t, forecast.RunOptions{HorizonDays: 30, ValidationWindow: 7}, got)

	// Explicit values survive.
	got = svc.applyDefaults(forecast.RunOptions{HorizonDays: 90, ValidationWindow: 21})
	assert.Equal(t, forecast.RunOptions{HorizonDays: 90, ValidationWindow: 21}, got)
}

func TestForecastServiceRunDetachedFromCallerCancel(t *testing.T) {
	st := newFakeStore(linearHistory(60, 140000, 150))
	svc := NewForecastService(testForecastConfig(), ForecastDeps{Store: st})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A shared run must not die with the caller that started it.
	result, err := svc.Run(ctx, forecast.RunOptions{HorizonDays: 30, ValidationWindow: 7})
	require.NoError(t, err)
	assert.Equal(t, 30, result.HorizonDays)
}

func TestForecastServiceRunSimulatorFallback(t *testing.T) {
	st := newFakeStore(nil)
	gen := simulator.New(simulator.Config{}, nil)
	svc := NewForecastService(testForecastConfig(), ForecastDeps{
		Store:             st,
		Generator:         gen,
		SimulationEnabled: true,
	})

	result, err := svc.Run(context.Background(), forecast.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, forecast.DefaultHorizonDays, result.HorizonDays)

	// Generated history was persisted for subsequent reads.
	st.mu.Lock()
	persisted := len(st.history)
	st.mu.Unlock()
	assert.Greater(t, persisted, 1)
}

func TestForecastServiceRunNoDataNoSimulation(t *testing.T) {
	st := newFakeStore(nil)
	svc := NewForecastService(testForecastConfig(), ForecastDeps{Store: st})

	_, err := svc.Run(context.Background(), forecast.RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, forecast.ErrInsufficientData)
}

func TestForecastServiceRunFailureBroadcastsEvent(t *testing.T) {
	// Two records pass preparation but cannot support fitting a model with
	// a validation window.
	st := newFakeStore(linearHistory(2, 140000, 150))
	events := &fakeEvents{}
	svc := NewForecastService(testForecastConfig(), ForecastDeps{
		Store:  st,
		Events: events,
	})

	_, err := svc.Run(context.Background(), forecast.RunOptions{ValidationWindow: 14})
	require.Error(t, err)

	names := events.names()
	require.Len(t, names, 2)
	assert.Equal(t, "forecast:started", names[0])
	assert.Equal(t, "forecast:failed", names[1])
}

func TestForecastServiceLatest(t *testing.T) {
	st := newFakeStore(nil)
	st.latest = &forecast.ForecastResult{RunID: "run-1"}
	svc := NewForecastService(testForecastConfig(), ForecastDeps{Store: st})

	got, err := svc.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
}

func TestForecastServiceLatestNoStore(t *testing.T) {
	svc := NewForecastService(testForecastConfig(), ForecastDeps{})

	_, err := svc.Latest(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGrowthRate(t *testing.T) {
	st := newFakeStore(linearHistory(31, 100000, 200))
	svc := NewForecastService(testForecastConfig(), ForecastDeps{Store: st})

	report, err := svc.GrowthRate(context.Background(), 30)
	require.NoError(t, err)

	assert.InDelta(t, 200, report.AvgDailyGrowth, 0.001)
	assert.InDelta(t, float64(200*30)/100000*100, report.GrowthRatePct, 0.001)
	assert.Equal(t, float64(100000), report.StartValue)
	assert.Equal(t, float64(100000+200*30), report.EndValue)
}

func TestGrowthRateWindowTooSmall(t *testing.T) {
	svc := NewForecastService(testForecastConfig(), ForecastDeps{})

	_, err := svc.GrowthRate(context.Background(), 1)
	assert.Error(t, err)
}

func TestGrowthRateZeroStartValue(t *testing.T) {
	st := newFakeStore(linearHistory(10, 0, 50))
	svc := NewForecastService(testForecastConfig(), ForecastDeps{Store: st})

	report, err := svc.GrowthRate(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, report.GrowthRatePct)
	assert.InDelta(t, 50, report.AvgDailyGrowth, 0.001)
}

func TestSummarize(t *testing.T) {
	st := newFakeStore(linearHistory(60, 140000, 150))
	st.latest = &forecast.ForecastResult{
		RunID:       "run-2",
		GeneratedAt: time.Date(2025, 4, 29, 12, 0, 0, 0, time.UTC),
		Milestones: []forecast.GrowthMilestone{
			{HorizonDays: 30},
		},
	}
	svc := NewForecastService(testForecastConfig(), ForecastDeps{Store: st})

	summary, err := svc.Summarize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, float64(140000+59*150), summary.CurrentValue)
	assert.Equal(t, 60, summary.Observations)
	require.NotNil(t, summary.MonthlyGrowth)
	assert.InDelta(t, 150, summary.MonthlyGrowth.AvgDailyGrowth, 0.001)
	require.Len(t, summary.LatestMilestones, 1)
	require.NotNil(t, summary.LatestGeneratedAt)
}

// sanity check the interface bindings against the real implementations
var (
	_ HistoryStore    = (*store.Store)(nil)
	_ TelemetrySource = (*telemetry.Client)(nil)
)
