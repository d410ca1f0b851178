package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/omnirouter/internal/models"
)

// TriageResponse carries the reply produced by the direct path.
type TriageResponse struct {
	Reply models.Message `json:"reply"`
}

// logSender stands in for a channel reply handler: the direct path has no
// transport of its own, so replies are only logged.
type logSender struct {
	logger zerolog.Logger
}

func (s logSender) Send(_ context.Context, env models.OutboundEnvelope) error {
	s.logger.Info().
		Str("message_id", env.Message.ID).
		Str("channel", string(env.Message.Channel)).
		Str("to", env.Message.To.ID).
		Msg("direct reply")
	return nil
}

// Triage routes one message synchronously and returns the reply. Nothing is
// written to the outbound stream.
func (h *Handler) Triage(w http.ResponseWriter, r *http.Request) {
	env, ok := h.readInbound(w, r)
	if !ok {
		return
	}

	out, err := h.router.Triage(r.Context(), env, logSender{logger: h.logger})
	if err != nil {
		h.logger.Error().Err(err).Str("message_id", env.Message.ID).Msg("triage failed")
		h.Error(w, http.StatusInternalServerError, "triage failed")
		return
	}

	h.JSON(w, http.StatusOK, TriageResponse{Reply: out.Message})
}
