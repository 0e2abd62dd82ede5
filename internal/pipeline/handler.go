package pipeline

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/JaimeStill/triage/internal/agents"
	"github.com/JaimeStill/triage/internal/inference"
	"github.com/JaimeStill/triage/internal/intake"
	"github.com/JaimeStill/triage/internal/sessions"
	"github.com/JaimeStill/triage/pkg/handlers"
	"github.com/JaimeStill/triage/pkg/routes"
)

// Handler exposes the intake endpoints that feed the pipeline.
type Handler struct {
	pipeline *Pipeline
	maxBody  int64
	logger   *slog.Logger
}

// IntakeResponse acknowledges an accepted input.
type IntakeResponse struct {
	SessionID uuid.UUID `json:"session_id"`
}

// EmailRequest is the JSON body for the email intake endpoint.
type EmailRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Source  string `json:"source"`
}

func NewHandler(pipeline *Pipeline, maxBody int64, logger *slog.Logger) *Handler {
	return &Handler{
		pipeline: pipeline,
		maxBody:  maxBody,
		logger:   logger.With("handler", "intake"),
	}
}

// Routes returns the route group definition for intake endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/intake",
		Routes: []routes.Route{
			{Method: "POST", Pattern: "/file", Handler: h.File},
			{Method: "POST", Pattern: "/email", Handler: h.Email},
			{Method: "POST", Pattern: "/json", Handler: h.JSON},
			{Method: "POST", Pattern: "/{id}/extract/{agent}", Handler: h.Extract},
		},
	}
}

// Extract re-runs one extraction agent against a stored session's payload
// and returns the committed result.
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	result, err := h.pipeline.Extract(r.Context(), id, r.PathValue("agent"))
	if err != nil {
		handlers.RespondError(w, h.logger, mapStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// File accepts a multipart upload under the "file" form field.
func (h *Handler) File(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	file, header, err := r.FormFile("file")
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	id, err := h.pipeline.Intake(r.Context(), raw, header.Header.Get("Content-Type"), header.Filename, "")
	h.respond(w, id, err)
}

// Email accepts an email payload as JSON with subject, body, and source.
func (h *Handler) Email(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	source := req.Source
	if source == "" {
		source = "email"
	}

	id, err := h.pipeline.Intake(r.Context(), []byte(req.Body), "message/rfc822", source, req.Subject)
	h.respond(w, id, err)
}

// JSON accepts a raw structured payload.
func (h *Handler) JSON(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	id, err := h.pipeline.Intake(r.Context(), raw, "application/json", "json", "")
	h.respond(w, id, err)
}

func (h *Handler) respond(w http.ResponseWriter, id uuid.UUID, err error) {
	if err != nil {
		handlers.RespondError(w, h.logger, mapStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusAccepted, IntakeResponse{SessionID: id})
}

// mapStatus resolves the HTTP status across the error domains an intake can
// surface. Inference outages and exhausted storage retries are retryable.
func mapStatus(err error) int {
	if errors.Is(err, inference.ErrUnavailable) {
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, agents.ErrUnknownAgent) {
		return http.StatusBadRequest
	}
	if status := intake.MapHTTPStatus(err); status != http.StatusInternalServerError {
		return status
	}
	return sessions.MapHTTPStatus(err)
}
