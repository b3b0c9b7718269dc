package telemetry

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	meterProvider *sdkmetric.MeterProvider

	// Meter creates this service's instruments; nil until InitMetrics
	// succeeds, which is what IsEnabled reports.
	Meter metric.Meter

	// lastSuccessTimestamp is the Unix time of the last refresh cycle in
	// which every stop succeeded.
	lastSuccessTimestamp atomic.Int64
)

// Refresh cycle instruments.
var (
	// CyclesTotal counts completed refresh cycles.
	CyclesTotal metric.Int64Counter

	// CyclesSkipped counts ticks dropped because the previous cycle was
	// still in flight.
	CyclesSkipped metric.Int64Counter

	// CycleDuration measures wall time per refresh cycle.
	CycleDuration metric.Float64Histogram

	// StopsRefreshed counts per-stop refreshes that produced new state.
	StopsRefreshed metric.Int64Counter

	// StopsFailed counts per-stop refreshes that kept previous state.
	StopsFailed metric.Int64Counter
)

// InitMetrics initializes OTLP metric export. Returns a shutdown
// function to call on exit. Export failures degrade to noop rather
// than blocking startup; an arrival board must come up without its
// collector.
func InitMetrics() (func(), error) {
	if !MetricsExportEnabled() {
		slog.Debug("OpenTelemetry metrics disabled")
		return func() {}, nil
	}

	ctx := context.Background()
	cfg := ExporterConfigFor(SignalMetrics)

	exporter, err := NewMetricExporter(ctx, cfg)
	if err != nil {
		slog.Warn("failed to create OTLP metric exporter, using noop", "error", err)
		return func() {}, nil
	}

	res, err := NewResource()
	if err != nil {
		slog.Warn("failed to create telemetry resource, using noop", "error", err)
		return func() {}, nil
	}

	meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(60*time.Second),
			),
		),
		sdkmetric.WithResource(res),
	)
	otelapi.SetMeterProvider(meterProvider)
	Meter = meterProvider.Meter(ServiceName)

	if err := initInstruments(); err != nil {
		slog.Error("failed to initialize metric instruments", "error", err)
		Meter = nil
		return func() {}, nil
	}
	if err := registerRuntimeGauges(); err != nil {
		slog.Warn("failed to register runtime gauges", "error", err)
	}

	slog.Debug("OpenTelemetry metrics initialized",
		"endpoint", cfg.Endpoint,
		"protocol", cfg.Protocol,
	)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(ctx); err != nil {
			slog.Error("error shutting down meter provider", "error", err)
		}
	}, nil
}

func initInstruments() error {
	var err error

	CyclesTotal, err = Meter.Int64Counter(
		"board.cycles.total",
		metric.WithDescription("Completed refresh cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return err
	}

	CyclesSkipped, err = Meter.Int64Counter(
		"board.cycles.skipped",
		metric.WithDescription("Ticks skipped because a cycle was still in flight"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return err
	}

	CycleDuration, err = Meter.Float64Histogram(
		"board.cycle.duration",
		metric.WithDescription("Duration of refresh cycles"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		return err
	}

	StopsRefreshed, err = Meter.Int64Counter(
		"board.stops.refreshed",
		metric.WithDescription("Stop refreshes that produced new state"),
		metric.WithUnit("{stop}"),
	)
	if err != nil {
		return err
	}

	StopsFailed, err = Meter.Int64Counter(
		"board.stops.failed",
		metric.WithDescription("Stop refreshes that kept previous state"),
		metric.WithUnit("{stop}"),
	)
	return err
}

func registerRuntimeGauges() error {
	_, err := Meter.Int64ObservableGauge(
		"runtime.go.goroutines",
		metric.WithDescription("Number of goroutines"),
		metric.WithUnit("{goroutine}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(runtime.NumGoroutine()))
			return nil
		}),
	)
	if err != nil {
		return err
	}

	_, err = Meter.Int64ObservableGauge(
		"board.last_success.timestamp",
		metric.WithDescription("Unix timestamp of the last fully successful refresh cycle"),
		metric.WithUnit("s"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			if ts := lastSuccessTimestamp.Load(); ts > 0 {
				o.Observe(ts)
			}
			return nil
		}),
	)
	if err != nil {
		return err
	}

	_, err = Meter.Int64ObservableGauge(
		"runtime.go.mem.heap_alloc",
		metric.WithDescription("Heap memory allocated"),
		metric.WithUnit("By"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			o.Observe(int64(m.HeapAlloc))
			return nil
		}),
	)
	return err
}

// RecordLastSuccess marks now as the last fully successful cycle. Also
// feeds the health endpoint, so it is tracked even when export is off.
func RecordLastSuccess() {
	lastSuccessTimestamp.Store(time.Now().Unix())
}

// LastSuccess returns the Unix time of the last fully successful
// cycle, zero if none yet.
func LastSuccess() int64 {
	return lastSuccessTimestamp.Load()
}

// IsEnabled reports whether metric instruments are live.
func IsEnabled() bool {
	return Meter != nil
}
