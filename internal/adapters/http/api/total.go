// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/okian/vigil/internal/adapters/repository"
	"github.com/okian/vigil/internal/domain/model"
)

// TotalDependencies defines the interface for single-user lookups.
type TotalDependencies interface {
	Total(ctx context.Context, group, user string) (model.Total, error)
}

// TotalHandler handles per-user total requests.
type TotalHandler struct {
	deps TotalDependencies
}

// NewTotalHandler creates a new total handler.
func NewTotalHandler(deps TotalDependencies) *TotalHandler {
	return &TotalHandler{deps: deps}
}

type totalResponse struct {
	GroupID     string `json:"group_id"`
	UserID      string `json:"user_id"`
	Seconds     int64  `json:"seconds"`
	LastUpdated string `json:"last_updated"`
}

// HandleGetTotal handles GET /total?group=G&user=U requests.
func (h *TotalHandler) HandleGetTotal(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_total"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	group := strings.TrimSpace(r.URL.Query().Get("group"))
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if group == "" || user == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	total, err := h.deps.Total(r.Context(), group, user)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", Wrap(op, err))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, totalResponse{
		GroupID:     total.GroupID,
		UserID:      total.UserID,
		Seconds:     total.Seconds,
		LastUpdated: total.LastUpdated.UTC().Format(time.RFC3339),
	})
}
