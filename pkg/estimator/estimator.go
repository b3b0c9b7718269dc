package estimator

import (
	"log/slog"
	"time"

	"muni2board/pkg/config"
	"muni2board/pkg/types"
)

// Estimator turns the latest per-stop state into a single estimated
// arrival time at the commute destination. It holds no state of its
// own; every call recomputes from scratch.
type Estimator struct {
	model config.CommuteConfig

	// now is replaceable in tests.
	now func() time.Time
}

// New creates an estimator for the given leg model.
func New(model config.CommuteConfig) *Estimator {
	return &Estimator{
		model: model,
		now:   time.Now,
	}
}

// Estimate sums the leg model over the given states. If any leg's
// required stops have no qualifying arrival, or anything at all goes
// wrong mid-computation, the result degrades to Calculating — the
// estimate must never crash an unattended display.
func (e *Estimator) Estimate(states map[string]*types.StopState) (est types.CommuteEstimate) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("commute estimate panicked, degrading to calculating", "panic", r)
			est = types.CommuteEstimate{Status: types.CommuteCalculating}
		}
	}()

	total := 0
	for _, leg := range e.model.Legs {
		minutes, ok := e.legMinutes(leg, states)
		if !ok {
			return types.CommuteEstimate{Status: types.CommuteCalculating}
		}
		total += minutes
	}

	now := e.now()
	eta := now.Add(time.Duration(total) * time.Minute)

	return types.CommuteEstimate{
		Status:       types.CommuteReady,
		ETA:          eta,
		TotalMinutes: total,
		Severity:     e.severity(eta),
	}
}

// legMinutes resolves one leg: a fixed duration, or the minimum of
// next-arrival plus offset across the leg's alternative stops. Every
// stop a leg references is required; one stop without data makes the
// whole estimate Calculating, even when an alternative has a value.
func (e *Estimator) legMinutes(leg config.Leg, states map[string]*types.StopState) (int, bool) {
	if len(leg.Options) == 0 {
		return leg.FixedMinutes, true
	}

	best := 0
	for i, opt := range leg.Options {
		next, ok := states[opt.Stop].NextMinutes()
		if !ok {
			return 0, false
		}
		candidate := next + opt.ExtraMinutes
		if i == 0 || candidate < best {
			best = candidate
		}
	}
	return best, true
}

// severity buckets the estimated arrival clock time against the
// configured boundaries. Evaluated fresh on every cycle because it
// depends on the current wall clock date.
func (e *Estimator) severity(eta time.Time) types.Severity {
	minute := eta.Hour()*60 + eta.Minute()

	if e.model.Severity.EarlyBefore != "" {
		if early, err := config.ParseClock(e.model.Severity.EarlyBefore); err == nil && minute < early.MinuteOfDay() {
			return types.SeverityEarly
		}
	}
	if e.model.Severity.LateAfter != "" {
		if late, err := config.ParseClock(e.model.Severity.LateAfter); err == nil && minute > late.MinuteOfDay() {
			return types.SeverityLate
		}
	}
	return types.SeverityWarning
}
