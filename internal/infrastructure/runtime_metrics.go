package infrastructure

import (
	"context"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// RuntimeMetrics exposes Go runtime gauges on the shared meter.
type RuntimeMetrics struct {
	meter metric.Meter

	goroutines    metric.Int64Gauge
	heapAlloc     metric.Int64Gauge
	memorySystem  metric.Int64Gauge
	gcCount       metric.Int64Counter
	lastNumGC     uint32
	processUptime metric.Float64Gauge
}

// NewRuntimeMetrics registers the runtime instruments on the meter.
func NewRuntimeMetrics(meter metric.Meter) (*RuntimeMetrics, error) {
	goroutines, err := meter.Int64Gauge(
		"runtime_goroutines",
		metric.WithDescription("Number of active goroutines"),
	)
	if err != nil {
		return nil, err
	}

	heapAlloc, err := meter.Int64Gauge(
		"runtime_heap_alloc_bytes",
		metric.WithDescription("Heap memory allocated by the Go runtime in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	memorySystem, err := meter.Int64Gauge(
		"runtime_memory_system_bytes",
		metric.WithDescription("Memory obtained from the OS in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	gcCount, err := meter.Int64Counter(
		"runtime_gc_count_total",
		metric.WithDescription("Total number of garbage collections"),
	)
	if err != nil {
		return nil, err
	}

	processUptime, err := meter.Float64Gauge(
		"process_uptime_seconds",
		metric.WithDescription("Process uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &RuntimeMetrics{
		meter:         meter,
		goroutines:    goroutines,
		heapAlloc:     heapAlloc,
		memorySystem:  memorySystem,
		gcCount:       gcCount,
		processUptime: processUptime,
	}, nil
}

// Collect records a snapshot of the runtime state.
func (rm *RuntimeMetrics) Collect(ctx context.Context, startTime time.Time) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	rm.goroutines.Record(ctx, int64(runtime.NumGoroutine()))
	rm.heapAlloc.Record(ctx, int64(stats.HeapAlloc))
	rm.memorySystem.Record(ctx, int64(stats.Sys))
	rm.processUptime.Record(ctx, time.Since(startTime).Seconds())

	if stats.NumGC > rm.lastNumGC {
		rm.gcCount.Add(ctx, int64(stats.NumGC-rm.lastNumGC))
		rm.lastNumGC = stats.NumGC
	}
}

// RuntimeMetricsCollector periodically collects runtime metrics.
type RuntimeMetricsCollector struct {
	metrics   *RuntimeMetrics
	interval  time.Duration
	startTime time.Time
	stop      chan struct{}
}

// NewRuntimeMetricsCollector builds a collector with the given interval.
func NewRuntimeMetricsCollector(meter metric.Meter, interval time.Duration) (*RuntimeMetricsCollector, error) {
	metrics, err := NewRuntimeMetrics(meter)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RuntimeMetricsCollector{
		metrics:   metrics,
		interval:  interval,
		startTime: time.Now(),
		stop:      make(chan struct{}),
	}, nil
}

// Start runs the collection loop until Stop is called or ctx is canceled.
func (c *RuntimeMetricsCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.metrics.Collect(ctx, c.startTime)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.metrics.Collect(ctx, c.startTime)
		}
	}
}

// Stop terminates the collection loop.
func (c *RuntimeMetricsCollector) Stop() {
	close(c.stop)
}
