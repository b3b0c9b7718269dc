package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"muni2board/pkg/aggregator"
	"muni2board/pkg/telemetry"
	"muni2board/pkg/types"

	"github.com/julienschmidt/httprouter"
)

// SnapshotSource provides the current board state. Satisfied by
// *aggregator.Aggregator.
type SnapshotSource interface {
	Snapshot() aggregator.Snapshot
}

// Server exposes the board state over HTTP for display frontends.
type Server struct {
	source SnapshotSource
	addr   string
}

// NewServer creates a board server reading from source.
func NewServer(source SnapshotSource, port int) *Server {
	return &Server{
		source: source,
		addr:   fmt.Sprintf(":%d", port),
	}
}

// Routes builds the request router.
func (s *Server) Routes() http.Handler {
	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/api/board", s.handleBoard)
	router.HandlerFunc(http.MethodGet, "/api/board/stops/:code", s.handleStop)
	router.HandlerFunc(http.MethodGet, "/api/health", s.handleHealth)
	return router
}

// Serve runs the HTTP server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("board server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("board server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("board server: %w", err)
	}
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Snapshot()
	writeJSON(w, http.StatusOK, newBoardResponse(snap))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	code := httprouter.ParamsFromContext(r.Context()).ByName("code")

	snap := s.source.Snapshot()
	view, ok := snap.Stops[code]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown stop code"})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleHealth reports liveness plus the age of the last fully
// successful refresh cycle, so an external watchdog can tell a running
// process from a healthy one.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	last := telemetry.LastSuccess()
	status := "ok"
	if last == 0 {
		status = "starting"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:           status,
		LastSuccessEpoch: last,
	})
}

type healthResponse struct {
	Status           string `json:"status"`
	LastSuccessEpoch int64  `json:"last_success_epoch"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// severityColor maps the commute severity onto the hint a display
// frontend renders the estimate with.
func severityColor(sev types.Severity) string {
	switch sev {
	case types.SeverityEarly:
		return "green"
	case types.SeverityLate:
		return "red"
	case types.SeverityWarning:
		return "orange"
	default:
		return ""
	}
}
