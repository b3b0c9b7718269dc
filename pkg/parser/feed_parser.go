package parser

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"muni2board/pkg/types"

	"github.com/clbanning/mxj/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// FeedParser decodes StopMonitoring responses into arrival records.
// No field in the payload is trusted to be present: missing nodes mean
// zero visits, and a single bad visit never aborts the parse.
type FeedParser struct {
	tracer trace.Tracer

	// now is replaceable in tests so minutes-until math is exact.
	now func() time.Time
}

// NewFeedParser creates a parser using the wall clock.
func NewFeedParser() *FeedParser {
	return &FeedParser{
		tracer: otel.Tracer("feed-parser"),
		now:    time.Now,
	}
}

// Parse decodes one feed response into records sorted ascending by
// minutes-until (stable for ties). A structurally invalid payload
// returns an empty slice and a *types.DecodeError; visits with missing
// or unparsable timestamps are skipped individually.
func (p *FeedParser) Parse(ctx context.Context, payload []byte) ([]types.ArrivalRecord, error) {
	_, span := p.tracer.Start(ctx, "parser.parse_feed",
		trace.WithAttributes(attribute.Int("payload_size_bytes", len(payload))),
	)
	defer span.End()

	// 511.org responses arrive with a UTF-8 byte-order mark.
	payload = bytes.TrimPrefix(payload, utf8BOM)

	doc, err := mxj.NewMapJson(payload)
	if err != nil {
		decodeErr := &types.DecodeError{Err: fmt.Errorf("parse feed payload: %w", err)}
		span.RecordError(decodeErr)
		return []types.ArrivalRecord{}, decodeErr
	}

	now := p.now()
	records, skipped := p.extractVisits(doc.Old(), now)

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Minutes < records[j].Minutes
	})

	span.SetAttributes(
		attribute.Int("visits_extracted", len(records)),
		attribute.Int("visits_skipped", skipped),
	)

	return records, nil
}

// extractVisits walks ServiceDelivery -> StopMonitoringDelivery ->
// MonitoredStopVisit. A missing node at any level means zero visits,
// not an error.
func (p *FeedParser) extractVisits(doc map[string]interface{}, now time.Time) ([]types.ArrivalRecord, int) {
	records := []types.ArrivalRecord{}

	serviceDelivery, ok := doc["ServiceDelivery"].(map[string]interface{})
	if !ok {
		return records, 0
	}

	stopMonitoring, ok := serviceDelivery["StopMonitoringDelivery"].(map[string]interface{})
	if !ok {
		return records, 0
	}

	// MonitoredStopVisit can be a single item or an array.
	var visits []interface{}
	switch v := stopMonitoring["MonitoredStopVisit"].(type) {
	case []interface{}:
		visits = v
	case map[string]interface{}:
		visits = []interface{}{v}
	default:
		return records, 0
	}

	skipped := 0
	for _, visit := range visits {
		visitMap, ok := visit.(map[string]interface{})
		if !ok {
			continue
		}
		record, ok := p.parseVisit(visitMap, now)
		if !ok {
			skipped++
			continue
		}
		records = append(records, record)
	}

	return records, skipped
}

// parseVisit builds one record from a MonitoredStopVisit. The second
// return is false when the visit carries no usable arrival time.
func (p *FeedParser) parseVisit(visit map[string]interface{}, now time.Time) (types.ArrivalRecord, bool) {
	journey, ok := visit["MonitoredVehicleJourney"].(map[string]interface{})
	if !ok {
		return types.ArrivalRecord{}, false
	}

	route := stringField(journey, "PublishedLineName")
	if route == "" {
		route = stringField(journey, "LineRef")
	}

	destination := stringField(journey, "DestinationName")
	if destination == "" {
		destination = stringField(journey, "DirectionRef")
	}

	call, _ := journey["MonitoredCall"].(map[string]interface{})
	arrivalText := stringField(call, "ExpectedArrivalTime")
	if arrivalText == "" {
		arrivalText = stringField(call, "AimedArrivalTime")
	}
	if arrivalText == "" {
		// Routine for vehicles without predictions; not an error.
		return types.ArrivalRecord{}, false
	}

	arrival, err := time.Parse(time.RFC3339, arrivalText)
	if err != nil {
		slog.Warn("skipping visit with unparsable arrival time",
			"arrival_time", arrivalText, "route", route, "error", err)
		return types.ArrivalRecord{}, false
	}

	return types.ArrivalRecord{
		Route:       route,
		Minutes:     minutesUntil(arrival, now),
		Destination: destination,
	}, true
}

// minutesUntil floors the remaining time to whole minutes and clamps
// at zero so a vehicle that just left never shows a negative count.
func minutesUntil(arrival, now time.Time) int {
	minutes := int(arrival.Sub(now) / time.Minute)
	if minutes < 0 {
		return 0
	}
	return minutes
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
