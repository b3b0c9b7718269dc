package aggregator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"muni2board/pkg/config"
	"muni2board/pkg/estimator"
	"muni2board/pkg/parser"
	"muni2board/pkg/telemetry"
	"muni2board/pkg/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Fetcher fetches the raw feed response for one stop.
type Fetcher interface {
	FetchStopVisits(ctx context.Context, agency, stopCode string) ([]byte, error)
}

// RefreshResult reports the outcome of one stop's refresh. On failure
// State carries the stop's previous (retained) state, which may be nil
// before the first successful fetch.
type RefreshResult struct {
	State *types.StopState
	Err   error
}

// Aggregator owns the polling loop and the per-stop state cache. It is
// the only writer of StopState; consumers read through Snapshot or a
// subscription.
type Aggregator struct {
	fetcher   Fetcher
	parser    *parser.FeedParser
	estimator *estimator.Estimator
	stops     []types.StopConfig
	interval  time.Duration
	tracer    trace.Tracer

	mu        sync.RWMutex
	states    map[string]*types.StopState
	lastErrs  map[string]error
	lastCycle time.Time

	// inFlight guards against overlapping refresh cycles: a tick that
	// fires while the previous cycle is still fetching is skipped.
	inFlight atomic.Bool

	subMu       sync.Mutex
	subscribers []func(Snapshot)
}

// New creates an aggregator over the configured stops. Nothing is
// fetched until Run or RefreshAll is called.
func New(fetcher Fetcher, feedParser *parser.FeedParser, est *estimator.Estimator, cfg *config.Config) *Aggregator {
	return &Aggregator{
		fetcher:   fetcher,
		parser:    feedParser,
		estimator: est,
		stops:     cfg.Stops,
		interval:  cfg.Feed.PollInterval(),
		tracer:    otel.Tracer("aggregator"),
		states:    make(map[string]*types.StopState),
		lastErrs:  make(map[string]error),
	}
}

// Subscribe registers a callback invoked once per completed refresh
// cycle with the fresh snapshot. The callback runs on the aggregator's
// goroutine; subscribers own marshaling onto their own thread.
func (a *Aggregator) Subscribe(fn func(Snapshot)) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	a.subscribers = append(a.subscribers, fn)
}

// Run drives refresh cycles on a fixed interval until ctx is done. An
// immediate cycle runs before the first tick.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	slog.Info("aggregator started", "stops", len(a.stops), "interval", a.interval)

	a.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("aggregator stopped")
			return ctx.Err()
		case <-ticker.C:
			a.runCycle(ctx)
		}
	}
}

// runCycle executes one refresh cycle unless the previous one is still
// in flight, in which case the tick is skipped rather than interleaved.
func (a *Aggregator) runCycle(ctx context.Context) {
	if !a.inFlight.CompareAndSwap(false, true) {
		slog.Warn("previous refresh cycle still running, skipping tick")
		if telemetry.IsEnabled() {
			telemetry.CyclesSkipped.Add(ctx, 1)
		}
		return
	}
	defer a.inFlight.Store(false)

	start := time.Now()
	results := a.RefreshAll(ctx)

	failed := 0
	for code, res := range results {
		if res.Err != nil {
			failed++
			slog.Error("stop refresh failed, keeping previous state", "stop", code, "error", res.Err)
		}
	}

	if telemetry.IsEnabled() {
		telemetry.CyclesTotal.Add(ctx, 1)
		telemetry.CycleDuration.Record(ctx, time.Since(start).Seconds())
		telemetry.StopsRefreshed.Add(ctx, int64(len(results)-failed))
		telemetry.StopsFailed.Add(ctx, int64(failed))
	}
	if failed == 0 {
		telemetry.RecordLastSuccess()
	}

	snap := a.Snapshot()
	a.notify(snap)
}

// RefreshAll fetches, parses and filters every configured stop and
// swaps each stop's cached state in full. Stops are refreshed
// concurrently; one stop's failure never blocks the others, and a
// failed stop retains its previous state untouched.
func (a *Aggregator) RefreshAll(ctx context.Context) map[string]RefreshResult {
	ctx, span := a.tracer.Start(ctx, "aggregator.refresh_all",
		trace.WithAttributes(attribute.Int("stops_count", len(a.stops))),
	)
	defer span.End()

	type stopOutcome struct {
		code  string
		state *types.StopState
		err   error
	}

	outcomes := make(chan stopOutcome, len(a.stops))

	for _, stop := range a.stops {
		go func(stop types.StopConfig) {
			state, err := a.refreshStop(ctx, stop)
			outcomes <- stopOutcome{code: stop.Code, state: state, err: err}
		}(stop)
	}

	results := make(map[string]RefreshResult, len(a.stops))
	for range a.stops {
		o := <-outcomes

		a.mu.Lock()
		if o.err == nil {
			a.states[o.code] = o.state
			delete(a.lastErrs, o.code)
		} else {
			// Keep last known good state; report the failure.
			o.state = a.states[o.code]
			a.lastErrs[o.code] = o.err
		}
		a.mu.Unlock()

		results[o.code] = RefreshResult{State: o.state, Err: o.err}
	}

	a.mu.Lock()
	a.lastCycle = time.Now()
	a.mu.Unlock()

	span.SetAttributes(attribute.Int("stops_refreshed", len(results)))
	return results
}

// refreshStop runs fetch -> parse -> filter for one stop and builds its
// replacement state.
func (a *Aggregator) refreshStop(ctx context.Context, stop types.StopConfig) (*types.StopState, error) {
	ctx, span := a.tracer.Start(ctx, "aggregator.refresh_stop",
		trace.WithAttributes(
			attribute.String("stop_code", stop.Code),
			attribute.String("agency", stop.Agency),
		),
	)
	defer span.End()

	payload, err := a.fetcher.FetchStopVisits(ctx, stop.Agency, stop.Code)
	if err != nil {
		telemetry.RecordSpanError(span, err, telemetry.ErrorTypeTransport)
		return nil, err
	}

	arrivals, err := a.parser.Parse(ctx, payload)
	if err != nil {
		telemetry.RecordSpanError(span, err, telemetry.ErrorTypeDecode)
		return nil, err
	}

	filtered := stop.FilterArrivals(arrivals)

	span.SetAttributes(
		attribute.Int("arrivals_parsed", len(arrivals)),
		attribute.Int("arrivals_retained", len(filtered)),
	)

	return &types.StopState{
		Code:        stop.Code,
		Arrivals:    filtered,
		RefreshedAt: time.Now(),
	}, nil
}

func (a *Aggregator) notify(snap Snapshot) {
	a.subMu.Lock()
	subs := make([]func(Snapshot), len(a.subscribers))
	copy(subs, a.subscribers)
	a.subMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
