// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	service "github.com/okian/vigil/internal/app"
	"github.com/okian/vigil/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// SeenAndRecord and Unrecord implement event ID idempotency.
	SeenAndRecord(ctx context.Context, id string) bool
	Unrecord(ctx context.Context, id string)

	// Enqueue pushes an event for async processing. Returns false on backpressure.
	Enqueue(ctx context.Context, e model.PresenceEvent) bool

	// Read operations expose accumulated presence time.
	TopN(ctx context.Context, group string, n int) ([]model.Total, error)
	Total(ctx context.Context, group, user string) (model.Total, error)

	// Admin operations.
	ResetUser(ctx context.Context, group, user string) (bool, error)
	ForceReconcile(ctx context.Context, group string) (map[string]service.ReconcileSummary, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	eventsHandler      *EventsHandler
	leaderboardHandler *LeaderboardHandler
	totalHandler       *TotalHandler
	adminHandler       *AdminHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxLimit int) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		eventsHandler:      NewEventsHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, maxLimit),
		totalHandler:       NewTotalHandler(deps),
		adminHandler:       NewAdminHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/events", MetricsMiddleware(s.eventsHandler.HandlePostEvent, "events"))
	mux.HandleFunc("/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("/total", MetricsMiddleware(s.totalHandler.HandleGetTotal, "total"))
	mux.HandleFunc("/admin/reset", MetricsMiddleware(s.adminHandler.HandleReset, "admin_reset"))
	mux.HandleFunc("/admin/reconcile", MetricsMiddleware(s.adminHandler.HandleReconcile, "admin_reconcile"))
}

// presenceState mirrors the wire shape of a user's presence flags.
type presenceState struct {
	InChannel    bool `json:"in_channel"`
	Broadcasting bool `json:"broadcasting"`
}

// eventRequest mirrors the OpenAPI schema for POST /events.
type eventRequest struct {
	EventID string        `json:"event_id"`
	GroupID string        `json:"group_id"`
	UserID  string        `json:"user_id"`
	Before  presenceState `json:"before"`
	After   presenceState `json:"after"`
	TS      string        `json:"ts"`
}

func (e eventRequest) validate() error {
	switch {
	case strings.TrimSpace(e.EventID) == "":
		return errors.New("missing event_id")
	case strings.TrimSpace(e.GroupID) == "":
		return errors.New("missing group_id")
	case strings.TrimSpace(e.UserID) == "":
		return errors.New("missing user_id")
	case strings.TrimSpace(e.TS) == "":
		return errors.New("missing ts")
	}
	if _, err := time.Parse(time.RFC3339, e.TS); err != nil {
		return errors.New("invalid ts; must be RFC3339")
	}
	return nil
}

// toModel converts the wire request to the domain event. validate must
// have passed, so the timestamp parse cannot fail here.
func (e eventRequest) toModel() model.PresenceEvent {
	ts, _ := time.Parse(time.RFC3339, e.TS)
	return model.PresenceEvent{
		EventID: e.EventID,
		GroupID: e.GroupID,
		UserID:  e.UserID,
		Before:  model.PresenceState(e.Before),
		After:   model.PresenceState(e.After),
		TS:      ts,
	}
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry struct {
	Rank        int       `json:"rank"`
	UserID      string    `json:"user_id"`
	Seconds     int64     `json:"seconds"`
	LastUpdated time.Time `json:"last_updated"`
}

func toEntries(totals []model.Total) []Entry {
	entries := make([]Entry, len(totals))
	for i, t := range totals {
		entries[i] = Entry{
			Rank:        i + 1,
			UserID:      t.UserID,
			Seconds:     t.Seconds,
			LastUpdated: t.LastUpdated,
		}
	}
	return entries
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
