// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	service "github.com/okian/vigil/internal/app"
)

// AdminDependencies defines the interface for administrative operations.
type AdminDependencies interface {
	ResetUser(ctx context.Context, group, user string) (bool, error)
	ForceReconcile(ctx context.Context, group string) (map[string]service.ReconcileSummary, error)
}

// AdminHandler handles administrative requests.
type AdminHandler struct {
	deps AdminDependencies
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(deps AdminDependencies) *AdminHandler {
	return &AdminHandler{deps: deps}
}

type resetResponse struct {
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
	Removed bool   `json:"removed"`
}

// HandleReset handles POST /admin/reset?group=G&user=U requests.
func (h *AdminHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_reset"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	group := strings.TrimSpace(r.URL.Query().Get("group"))
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if group == "" || user == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	removed, err := h.deps.ResetUser(r.Context(), group, user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, resetResponse{GroupID: group, UserID: user, Removed: removed})
}

// HandleReconcile handles POST /admin/reconcile?group=G requests. Without a
// group it runs one pass per configured group; per-group failures are
// reported inside the summaries, not as a request failure.
func (h *AdminHandler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_reconcile"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	group := strings.TrimSpace(r.URL.Query().Get("group"))
	summaries, err := h.deps.ForceReconcile(r.Context(), group)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrReconcileDisabled):
			writeError(w, http.StatusConflict, "reconcile_disabled", Wrap(op, err))
		case errors.Is(err, service.ErrUnknownGroup):
			writeError(w, http.StatusNotFound, "unknown_group", Wrap(op, err))
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		}
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}
