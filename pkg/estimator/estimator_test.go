package estimator

import (
	"testing"
	"time"

	"muni2board/pkg/config"
	"muni2board/pkg/types"
)

func commuteModel() config.CommuteConfig {
	return config.CommuteConfig{
		Legs: []config.Leg{
			{Name: "walk-to-muni", FixedMinutes: 13},
			{Name: "muni", Options: []config.LegOption{
				{Stop: "17874", ExtraMinutes: 15},
				{Stop: "16524", ExtraMinutes: 10},
			}},
			{Name: "caltrain", Options: []config.LegOption{
				{Stop: "70011", ExtraMinutes: 49},
			}},
			{Name: "walk-to-office", FixedMinutes: 7},
		},
	}
}

func stateWithNext(code string, minutes int) *types.StopState {
	return &types.StopState{
		Code:     code,
		Arrivals: []types.ArrivalRecord{{Route: "X", Minutes: minutes}},
	}
}

func TestEstimateTotals(t *testing.T) {
	e := New(commuteModel())
	e.now = func() time.Time {
		return time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	}

	states := map[string]*types.StopState{
		"17874": stateWithNext("17874", 5),
		"16524": stateWithNext("16524", 8),
		"70011": stateWithNext("70011", 20),
	}

	est := e.Estimate(states)
	if est.Status != types.CommuteReady {
		t.Fatalf("Status = %v, want ready", est.Status)
	}
	// 13 + min(5+15, 8+10) + (20+49) + 7 = 13 + 18 + 69 + 7
	if est.TotalMinutes != 107 {
		t.Errorf("TotalMinutes = %d, want 107", est.TotalMinutes)
	}
	wantETA := time.Date(2025, 3, 10, 9, 47, 0, 0, time.UTC)
	if !est.ETA.Equal(wantETA) {
		t.Errorf("ETA = %v, want %v", est.ETA, wantETA)
	}
}

func TestEstimateCalculating(t *testing.T) {
	tests := []struct {
		name   string
		states map[string]*types.StopState
	}{
		{
			name:   "no states at all",
			states: map[string]*types.StopState{},
		},
		{
			name: "one referenced stop missing entirely",
			states: map[string]*types.StopState{
				"17874": stateWithNext("17874", 5),
				"16524": stateWithNext("16524", 8),
			},
		},
		{
			// An alternative with data does not rescue a leg whose other
			// option has none.
			name: "one alternative empty",
			states: map[string]*types.StopState{
				"17874": stateWithNext("17874", 5),
				"16524": {Code: "16524"},
				"70011": stateWithNext("70011", 20),
			},
		},
		{
			name: "referenced stop is nil",
			states: map[string]*types.StopState{
				"17874": stateWithNext("17874", 5),
				"16524": stateWithNext("16524", 8),
				"70011": nil,
			},
		},
	}

	e := New(commuteModel())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := e.Estimate(tt.states)
			if est.Status != types.CommuteCalculating {
				t.Errorf("Status = %v, want calculating", est.Status)
			}
			if est.TotalMinutes != 0 || !est.ETA.IsZero() {
				t.Errorf("calculating estimate carries values: %+v", est)
			}
		})
	}
}

func TestEstimatePicksCheapestOption(t *testing.T) {
	model := config.CommuteConfig{
		Legs: []config.Leg{
			{Name: "muni", Options: []config.LegOption{
				{Stop: "17874", ExtraMinutes: 15},
				{Stop: "16524", ExtraMinutes: 10},
			}},
		},
	}
	e := New(model)
	e.now = func() time.Time { return time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC) }

	states := map[string]*types.StopState{
		"17874": stateWithNext("17874", 1), // 1+15 = 16
		"16524": stateWithNext("16524", 3), // 3+10 = 13
	}
	est := e.Estimate(states)
	if est.TotalMinutes != 13 {
		t.Errorf("TotalMinutes = %d, want 13", est.TotalMinutes)
	}
}

func TestEstimateRecoversFromPanic(t *testing.T) {
	e := New(config.CommuteConfig{
		Legs: []config.Leg{{Name: "walk", FixedMinutes: 10}},
	})
	e.now = nil // forces a panic mid-computation

	est := e.Estimate(map[string]*types.StopState{})
	if est.Status != types.CommuteCalculating {
		t.Errorf("Status = %v, want calculating after panic", est.Status)
	}
}

func TestSeverity(t *testing.T) {
	model := commuteModel()
	model.Severity = config.SeverityConfig{
		EarlyBefore: "09:15",
		LateAfter:   "09:45",
	}

	tests := []struct {
		name     string
		now      time.Time
		expected types.Severity
	}{
		// Fixed legs only would move the ETA with now; use a now that
		// lands the 107-minute total at known clock times.
		{"arrives before early boundary", time.Date(2025, 3, 10, 7, 0, 0, 0, time.Local), types.SeverityEarly},
		{"arrives between boundaries", time.Date(2025, 3, 10, 7, 45, 0, 0, time.Local), types.SeverityWarning},
		{"arrives on late boundary", time.Date(2025, 3, 10, 7, 58, 0, 0, time.Local), types.SeverityWarning},
		{"arrives after late boundary", time.Date(2025, 3, 10, 8, 30, 0, 0, time.Local), types.SeverityLate},
	}

	states := map[string]*types.StopState{
		"17874": stateWithNext("17874", 5),
		"16524": stateWithNext("16524", 8),
		"70011": stateWithNext("70011", 20),
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(model)
			e.now = func() time.Time { return tt.now }
			est := e.Estimate(states)
			if est.Severity != tt.expected {
				t.Errorf("Severity = %v (ETA %v), want %v", est.Severity, est.ETA, tt.expected)
			}
		})
	}
}

func TestSeverityUnconfigured(t *testing.T) {
	e := New(commuteModel())
	e.now = func() time.Time { return time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC) }

	states := map[string]*types.StopState{
		"17874": stateWithNext("17874", 5),
		"16524": stateWithNext("16524", 8),
		"70011": stateWithNext("70011", 20),
	}
	est := e.Estimate(states)
	if est.Severity != types.SeverityWarning {
		t.Errorf("Severity = %v, want warning default", est.Severity)
	}
}
