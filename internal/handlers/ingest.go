package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/omnirouter/internal/metrics"
	"github.com/eldtechnologies/omnirouter/internal/store"
)

// IngestResponse is returned once a message is on the inbound stream.
type IngestResponse struct {
	EntryID   string `json:"entry_id"`
	MessageID string `json:"message_id"`
}

// Ingest validates a channel web-hook payload and appends the normalized
// message to the inbound stream. Routing happens asynchronously.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	env, ok := h.readInbound(w, r)
	if !ok {
		return
	}

	payload, err := json.Marshal(env.Message)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to encode message")
		return
	}

	entryID, err := h.redis.Append(r.Context(), h.inboundStream, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("message_id", env.Message.ID).Msg("ingest append failed")
		h.Error(w, http.StatusServiceUnavailable, "failed to enqueue message")
		return
	}

	metrics.MessagesIngested.WithLabelValues(string(env.Message.Channel)).Inc()
	h.JSON(w, http.StatusAccepted, IngestResponse{
		EntryID:   entryID,
		MessageID: env.Message.ID,
	})
}

// Status returns the processing status recorded for an inbound entry.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "id")

	fields, err := h.redis.GetFields(r.Context(), store.StatusKey(entryID))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to read status")
		return
	}
	if fields == nil {
		h.Error(w, http.StatusNotFound, "no status for entry")
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"entry_id": entryID,
		"fields":   fields,
	})
}
