package types

import (
	"time"
)

// DisplayLimit is the maximum number of arrivals handed to the
// presentation layer per stop. The cached state keeps the full list.
const DisplayLimit = 6

// ArrivalRecord is one predicted vehicle visit at a stop. Records are
// built fresh on every parse and replaced wholesale; they are never
// merged with a previous cycle's data.
type ArrivalRecord struct {
	Route       string `json:"route"`
	Minutes     int    `json:"minutes"`
	Destination string `json:"destination"`
}

// StopConfig is the operator-supplied configuration for one monitored
// stop. It is immutable for the process lifetime.
type StopConfig struct {
	Code   string `yaml:"code" json:"code" validate:"required"`
	Name   string `yaml:"name" json:"name"`
	Agency string `yaml:"agency" json:"agency"`

	// Routes lists route identifiers to retain. Empty means no route
	// filtering for this stop.
	Routes []string `yaml:"routes" json:"routes,omitempty"`

	// SkipRouteFilter disables route filtering even when Routes is set.
	// Some agencies publish line names that don't match the configured
	// identifiers, so their stops are configured to pass everything.
	SkipRouteFilter bool `yaml:"skipRouteFilter" json:"skip_route_filter,omitempty"`

	BlockedDestinations []string `yaml:"blockedDestinations" json:"blocked_destinations,omitempty"`

	// MinMinutes/MaxMinutes bound the arrival window, inclusive.
	// MaxMinutes == 0 means unbounded.
	MinMinutes int `yaml:"minMinutes" json:"min_minutes" validate:"gte=0"`
	MaxMinutes int `yaml:"maxMinutes" json:"max_minutes" validate:"gte=0"`
}

// FilterArrivals applies the stop's selection policy: route allowed,
// destination not blocked, minutes within the configured window.
// Input order is preserved, so an already-sorted slice stays sorted,
// and filtering an already-filtered slice is a no-op.
func (s StopConfig) FilterArrivals(arrivals []ArrivalRecord) []ArrivalRecord {
	out := make([]ArrivalRecord, 0, len(arrivals))
	for _, a := range arrivals {
		if !s.routeAllowed(a.Route) {
			continue
		}
		if s.destinationBlocked(a.Destination) {
			continue
		}
		if a.Minutes < s.MinMinutes {
			continue
		}
		if s.MaxMinutes > 0 && a.Minutes > s.MaxMinutes {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (s StopConfig) routeAllowed(route string) bool {
	if s.SkipRouteFilter || len(s.Routes) == 0 {
		return true
	}
	for _, r := range s.Routes {
		if r == route {
			return true
		}
	}
	return false
}

func (s StopConfig) destinationBlocked(destination string) bool {
	for _, d := range s.BlockedDestinations {
		if d == destination {
			return true
		}
	}
	return false
}

// StopState is the latest filtered result for one stop. It is written
// only by the aggregator, at most once per refresh cycle.
type StopState struct {
	Code        string          `json:"code"`
	Arrivals    []ArrivalRecord `json:"arrivals"`
	RefreshedAt time.Time       `json:"refreshed_at"`
}

// NextMinutes returns the minutes-until of the soonest qualifying
// arrival. The second return is false when no arrival qualifies or the
// stop has never been refreshed.
func (s *StopState) NextMinutes() (int, bool) {
	if s == nil || len(s.Arrivals) == 0 {
		return 0, false
	}
	return s.Arrivals[0].Minutes, true
}

// Display returns the arrivals capped at DisplayLimit for handoff to
// the presentation layer.
func (s *StopState) Display() []ArrivalRecord {
	if s == nil {
		return nil
	}
	if len(s.Arrivals) > DisplayLimit {
		return s.Arrivals[:DisplayLimit]
	}
	return s.Arrivals
}
