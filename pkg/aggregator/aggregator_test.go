package aggregator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"muni2board/pkg/config"
	"muni2board/pkg/estimator"
	"muni2board/pkg/parser"
	"muni2board/pkg/types"
)

// fakeFetcher serves canned payloads or errors per stop code.
type fakeFetcher struct {
	payloads map[string][]byte
	errs     map[string]error
}

func (f *fakeFetcher) FetchStopVisits(_ context.Context, _, stopCode string) ([]byte, error) {
	if err := f.errs[stopCode]; err != nil {
		return nil, err
	}
	payload, ok := f.payloads[stopCode]
	if !ok {
		return nil, &types.TransportError{Err: errors.New("no payload configured")}
	}
	return payload, nil
}

// visitPayload builds a minimal feed response with one arrival per
// given minutes-from-now.
func visitPayload(route string, minutesFromNow ...int) []byte {
	visits := ""
	for i, m := range minutesFromNow {
		if i > 0 {
			visits += ","
		}
		arrival := time.Now().Add(time.Duration(m)*time.Minute + 30*time.Second).UTC().Format(time.RFC3339)
		visits += fmt.Sprintf(`{
			"MonitoredVehicleJourney": {
				"PublishedLineName": %q,
				"DestinationName": "Downtown",
				"MonitoredCall": {"ExpectedArrivalTime": %q}
			}
		}`, route, arrival)
	}
	return []byte(fmt.Sprintf(`{
		"ServiceDelivery": {
			"StopMonitoringDelivery": {
				"MonitoredStopVisit": [%s]
			}
		}
	}`, visits))
}

func testConfig(stops ...types.StopConfig) *config.Config {
	return &config.Config{
		Feed:  config.FeedConfig{Agency: "SF", PollIntervalSeconds: 1},
		Stops: stops,
	}
}

func newTestAggregator(fetcher Fetcher, cfg *config.Config) *Aggregator {
	return New(fetcher, parser.NewFeedParser(), estimator.New(cfg.Commute), cfg)
}

func TestRefreshAllSwapsState(t *testing.T) {
	fetcher := &fakeFetcher{
		payloads: map[string][]byte{
			"17874": visitPayload("THIRD", 5, 12),
			"16524": visitPayload("STOCKTON", 3),
		},
	}
	cfg := testConfig(
		types.StopConfig{Code: "17874", Name: "Union Square"},
		types.StopConfig{Code: "16524", Name: "Stockton & Sutter"},
	)
	a := newTestAggregator(fetcher, cfg)

	results := a.RefreshAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("RefreshAll() returned %d results, want 2", len(results))
	}
	for code, res := range results {
		if res.Err != nil {
			t.Errorf("stop %s: unexpected error %v", code, res.Err)
		}
		if res.State == nil || len(res.State.Arrivals) == 0 {
			t.Errorf("stop %s: no state", code)
		}
	}

	next, ok := results["16524"].State.NextMinutes()
	if !ok || next != 3 {
		t.Errorf("stop 16524 next = %d, %v, want 3", next, ok)
	}
}

func TestRefreshAllAppliesStopFilter(t *testing.T) {
	fetcher := &fakeFetcher{
		payloads: map[string][]byte{
			"17874": visitPayload("THIRD", 2, 6, 9),
		},
	}
	cfg := testConfig(types.StopConfig{Code: "17874", MinMinutes: 4})
	a := newTestAggregator(fetcher, cfg)

	results := a.RefreshAll(context.Background())
	state := results["17874"].State
	if len(state.Arrivals) != 2 {
		t.Fatalf("filter not applied: %v", state.Arrivals)
	}
	if next, _ := state.NextMinutes(); next != 6 {
		t.Errorf("next = %d, want 6", next)
	}
}

func TestRefreshAllKeepsStateOnFailure(t *testing.T) {
	fetcher := &fakeFetcher{
		payloads: map[string][]byte{
			"17874": visitPayload("THIRD", 5),
			"16524": visitPayload("STOCKTON", 3),
		},
		errs: map[string]error{},
	}
	cfg := testConfig(
		types.StopConfig{Code: "17874"},
		types.StopConfig{Code: "16524"},
	)
	a := newTestAggregator(fetcher, cfg)

	a.RefreshAll(context.Background())

	// Second cycle: one stop starts failing, the other keeps working.
	fetcher.errs["16524"] = &types.TransportError{Err: errors.New("connection refused")}
	fetcher.payloads["17874"] = visitPayload("THIRD", 2)

	results := a.RefreshAll(context.Background())

	if results["16524"].Err == nil {
		t.Fatal("expected error for failing stop")
	}
	if results["16524"].State == nil {
		t.Fatal("failing stop lost its previous state")
	}
	if next, ok := results["16524"].State.NextMinutes(); !ok || next != 3 {
		t.Errorf("failing stop state changed: next = %d, %v", next, ok)
	}
	if next, _ := results["17874"].State.NextMinutes(); next != 2 {
		t.Errorf("healthy stop not refreshed: next = %d", next)
	}

	snap := a.Snapshot()
	if !snap.Stops["16524"].Stale {
		t.Error("failing stop not marked stale in snapshot")
	}
	if snap.Stops["17874"].Stale {
		t.Error("healthy stop marked stale")
	}
}

func TestRefreshAllFailureBeforeFirstSuccess(t *testing.T) {
	fetcher := &fakeFetcher{
		errs: map[string]error{
			"17874": &types.TransportError{Err: errors.New("timeout")},
		},
	}
	cfg := testConfig(types.StopConfig{Code: "17874", Name: "Union Square"})
	a := newTestAggregator(fetcher, cfg)

	results := a.RefreshAll(context.Background())
	if results["17874"].Err == nil {
		t.Fatal("expected error")
	}
	if results["17874"].State != nil {
		t.Error("state should be nil before any success")
	}

	snap := a.Snapshot()
	view := snap.Stops["17874"]
	if view.HasData {
		t.Error("view claims data with none fetched")
	}
	if len(view.Arrivals) != 0 {
		t.Errorf("view has arrivals: %v", view.Arrivals)
	}
}

func TestRunCycleNotifiesSubscribers(t *testing.T) {
	fetcher := &fakeFetcher{
		payloads: map[string][]byte{"17874": visitPayload("THIRD", 5)},
	}
	cfg := testConfig(types.StopConfig{Code: "17874"})
	a := newTestAggregator(fetcher, cfg)

	var got []Snapshot
	a.Subscribe(func(snap Snapshot) {
		got = append(got, snap)
	})

	a.runCycle(context.Background())
	if len(got) != 1 {
		t.Fatalf("subscriber called %d times, want 1", len(got))
	}
	if !got[0].Stops["17874"].HasData {
		t.Error("snapshot missing refreshed stop data")
	}
}

func TestRunCycleSkipsWhenInFlight(t *testing.T) {
	fetcher := &fakeFetcher{
		payloads: map[string][]byte{"17874": visitPayload("THIRD", 5)},
	}
	cfg := testConfig(types.StopConfig{Code: "17874"})
	a := newTestAggregator(fetcher, cfg)

	called := 0
	a.Subscribe(func(Snapshot) { called++ })

	a.inFlight.Store(true)
	a.runCycle(context.Background())
	if called != 0 {
		t.Error("overlapping cycle was not skipped")
	}

	a.inFlight.Store(false)
	a.runCycle(context.Background())
	if called != 1 {
		t.Errorf("subscriber called %d times after unblock, want 1", called)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	fetcher := &fakeFetcher{
		payloads: map[string][]byte{"17874": visitPayload("THIRD", 5)},
	}
	cfg := testConfig(types.StopConfig{Code: "17874"})
	a := newTestAggregator(fetcher, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}
