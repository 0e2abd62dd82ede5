package audit

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/triage/pkg/handlers"
	"github.com/JaimeStill/triage/pkg/routes"
)

// Handler provides read-only HTTP endpoints over the audit trail.
type Handler struct {
	trail  Trail
	logger *slog.Logger
}

func NewHandler(trail Trail, logger *slog.Logger) *Handler {
	return &Handler{
		trail:  trail,
		logger: logger.With("handler", "audit"),
	}
}

// Routes returns the route group definition for audit endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/audit",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.ByRange},
			{Method: "GET", Pattern: "/{session_id}", Handler: h.BySession},
		},
	}
}

// BySession returns the full entry sequence for one session.
func (h *Handler) BySession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("session_id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	entries, err := h.trail.BySession(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, entries)
}

// ByRange returns entries within the from/to query window. Both bounds are
// RFC 3339 timestamps; to defaults to now and from to 24 hours before to.
func (h *Handler) ByRange(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	to := time.Now().UTC()
	if raw := query.Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("invalid to: %w", err))
			return
		}
		to = parsed
	}

	from := to.Add(-24 * time.Hour)
	if raw := query.Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("invalid from: %w", err))
			return
		}
		from = parsed
	}

	entries, err := h.trail.ByTimeRange(r.Context(), from, to)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, entries)
}
