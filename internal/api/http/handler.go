package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/veranemoloko/study-downloader/internal/domain"
	errpkg "github.com/veranemoloko/study-downloader/internal/errors"
	"github.com/veranemoloko/study-downloader/internal/validation"
)

// SessionServiceI defines the session operations exposed over HTTP.
type SessionServiceI interface {
	CreateSession(ctx context.Context, req *domain.CreateSessionRequest) (*domain.SessionRecord, error)
	GetSession(ctx context.Context, id uuid.UUID) (*domain.SessionResponse, error)
	CancelSession(ctx context.Context, id uuid.UUID) error
}

// SessionHandler handles HTTP requests for download sessions.
type SessionHandler struct {
	sessionService SessionServiceI
	validator      *validator.Validate
	logger         *slog.Logger
}

// NewSessionHandler creates a new SessionHandler with the provided service and logger.
func NewSessionHandler(sessionService SessionServiceI, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		validator:      validation.New(),
		logger:         logger,
	}
}

// CreateSession handles POST /sessions and starts downloading a study.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, err := h.sessionService.CreateSession(ctx, &req)
	if err != nil {
		if errors.Is(err, errpkg.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": record.ID,
	})
}

// GetSession handles GET /sessions/{sessionID}. Status messages are returned
// once; the next poll only carries messages published after this one.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	resp, err := h.sessionService.GetSession(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, id, "failed to get session", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// CancelSession handles POST /sessions/{sessionID}/cancel.
func (h *SessionHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	if err := h.sessionService.CancelSession(r.Context(), id); err != nil {
		h.writeServiceError(w, id, "failed to cancel session", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"session_id": id,
	})
}

func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *SessionHandler) writeServiceError(w http.ResponseWriter, id uuid.UUID, msg string, err error) {
	if errors.Is(err, errpkg.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	h.logger.Error(msg, "session_id", id, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
