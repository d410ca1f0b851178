package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/omnirouter/internal/knowledge"
	"github.com/eldtechnologies/omnirouter/internal/models"
	"github.com/eldtechnologies/omnirouter/internal/store"
	"github.com/eldtechnologies/omnirouter/internal/triage"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	redis         *store.RedisStore
	kb            knowledge.Store
	router        *triage.Router
	inboundStream string
	logger        zerolog.Logger
}

// NewHandler creates a new Handler. kb may be nil when no knowledge backend
// is configured.
func NewHandler(redis *store.RedisStore, kb knowledge.Store, router *triage.Router, inboundStream string, logger zerolog.Logger) *Handler {
	return &Handler{
		redis:         redis,
		kb:            kb,
		router:        router,
		inboundStream: inboundStream,
		logger:        logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// IssueResponse is one field-level validation failure.
type IssueResponse struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationErrorResponse lists every field that failed validation.
type ValidationErrorResponse struct {
	Error  string          `json:"error"`
	Issues []IssueResponse `json:"issues"`
}

// readInbound reads the request body and coerces it into an inbound
// envelope, writing the error response itself on failure.
func (h *Handler) readInbound(w http.ResponseWriter, r *http.Request) (models.InboundEnvelope, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "could not read body")
		return models.InboundEnvelope{}, false
	}

	env, err := models.CoerceInbound(body)
	if err != nil {
		var ve *models.ValidationError
		if !errors.As(err, &ve) {
			h.logger.Error().Err(err).Msg("coerce inbound failed")
			h.Error(w, http.StatusInternalServerError, "internal error")
			return models.InboundEnvelope{}, false
		}
		resp := ValidationErrorResponse{Error: ve.Error(), Issues: make([]IssueResponse, 0, len(ve.Issues))}
		for _, is := range ve.Issues {
			resp.Issues = append(resp.Issues, IssueResponse{Field: is.Path, Reason: is.Reason})
		}
		h.JSON(w, http.StatusUnprocessableEntity, resp)
		return models.InboundEnvelope{}, false
	}
	return env, true
}
