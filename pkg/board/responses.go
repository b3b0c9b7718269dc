package board

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"muni2board/pkg/aggregator"
	"muni2board/pkg/types"
)

// boardResponse is the full-board payload. The estimate carries a
// display color derived from its severity so frontends stay free of
// scheduling logic.
type boardResponse struct {
	Stops     map[string]aggregator.StopView `json:"stops"`
	Estimate  estimateView                   `json:"estimate"`
	UpdatedAt time.Time                      `json:"updated_at"`
}

type estimateView struct {
	types.CommuteEstimate
	Color string `json:"color,omitempty"`
}

func newBoardResponse(snap aggregator.Snapshot) boardResponse {
	resp := boardResponse{
		Stops:     snap.Stops,
		Estimate:  estimateView{CommuteEstimate: snap.Estimate},
		UpdatedAt: snap.UpdatedAt,
	}
	if snap.Estimate.Status == types.CommuteReady {
		resp.Estimate.Color = severityColor(snap.Estimate.Severity)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
