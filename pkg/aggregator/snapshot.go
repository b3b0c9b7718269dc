package aggregator

import (
	"time"

	"muni2board/pkg/types"
)

// StopView is the presentation-ready slice of one stop's state:
// filtered, sorted, capped at the display limit.
type StopView struct {
	Code     string                `json:"code"`
	Name     string                `json:"name"`
	Arrivals []types.ArrivalRecord `json:"arrivals"`

	// HasData is false when the stop has no qualifying arrivals or its
	// last fetch failed; the display renders an explicit no-data state
	// instead of stale or blank output.
	HasData     bool      `json:"has_data"`
	Stale       bool      `json:"stale"`
	RefreshedAt time.Time `json:"refreshed_at,omitempty"`
}

// Snapshot is the full board state handed to consumers once per cycle.
type Snapshot struct {
	Stops     map[string]StopView   `json:"stops"`
	Estimate  types.CommuteEstimate `json:"estimate"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Snapshot assembles the current presentation state: capped per-stop
// arrival lists plus a freshly computed commute estimate.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()

	states := make(map[string]*types.StopState, len(a.states))
	views := make(map[string]StopView, len(a.stops))
	for _, stop := range a.stops {
		state := a.states[stop.Code]
		_, hasNext := state.NextMinutes()
		stale := a.lastErrs[stop.Code] != nil
		view := StopView{
			Code:     stop.Code,
			Name:     stop.Name,
			Arrivals: state.Display(),
			HasData:  hasNext && !stale,
			Stale:    stale,
		}
		if state != nil {
			view.RefreshedAt = state.RefreshedAt
			states[stop.Code] = state
		}
		views[stop.Code] = view
	}
	updated := a.lastCycle

	a.mu.RUnlock()

	return Snapshot{
		Stops:     views,
		Estimate:  a.estimator.Estimate(states),
		UpdatedAt: updated,
	}
}
