package types

import "time"

// CommuteStatus reports whether the commute estimate could be computed.
type CommuteStatus string

const (
	// CommuteCalculating means at least one required stop has no
	// qualifying arrival yet.
	CommuteCalculating CommuteStatus = "calculating"
	// CommuteReady means every required stop contributed a value.
	CommuteReady CommuteStatus = "ready"
)

// Severity categorizes the estimated arrival clock time for display
// coloring. It carries no scheduling semantics.
type Severity string

const (
	SeverityEarly   Severity = "early"
	SeverityWarning Severity = "warning"
	SeverityLate    Severity = "late"
)

// CommuteEstimate is the derived arrival-at-destination figure.
// Recomputed from scratch on every refresh cycle, never persisted.
type CommuteEstimate struct {
	Status       CommuteStatus `json:"status"`
	ETA          time.Time     `json:"eta,omitempty"`
	TotalMinutes int           `json:"total_minutes,omitempty"`
	Severity     Severity      `json:"severity,omitempty"`
}
