// Package triage turns an inbound message into the reply the customer sees.
package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/omnirouter/internal/knowledge"
	"github.com/eldtechnologies/omnirouter/internal/metrics"
	"github.com/eldtechnologies/omnirouter/internal/models"
	"github.com/eldtechnologies/omnirouter/internal/policy"
)

// ReplySuffix is appended to the inbound id to form the reply id, so
// reprocessing the same inbound entry yields the same outbound id.
const ReplySuffix = ":reply"

// Fixed replies.
const (
	GreetingReply = "Olá! Como posso ajudar você hoje?"
	SalesFallback = "Ótimo! Vou encaminhar você para o nosso time comercial, que vai preparar uma proposta sob medida."
	NoResultReply = "Não encontrei nada relevante sobre isso. Pode reformular a pergunta ou pedir para falar com um atendente?"
)

// SalesReplier produces the sales handoff text for budget inquiries.
type SalesReplier func(ctx context.Context) (string, error)

// StaticSales returns a SalesReplier that always answers text.
func StaticSales(text string) SalesReplier {
	return func(context.Context) (string, error) {
		return text, nil
	}
}

// Sender delivers a reply directly on its channel, bypassing the outbound
// stream. Only the synchronous Triage path uses it.
type Sender interface {
	Send(ctx context.Context, env models.OutboundEnvelope) error
}

// Config holds the contact details quoted in support handoffs.
type Config struct {
	SupportPhone   string
	SupportEmail   string
	KnowledgeLimit int
}

// Router classifies inbound messages and builds replies. It keeps no state
// between calls.
type Router struct {
	kb     knowledge.Searcher
	sales  SalesReplier
	cfg    Config
	logger zerolog.Logger
}

// New creates a Router. kb and sales may be nil; the fixed fallbacks are
// used instead.
func New(kb knowledge.Searcher, sales SalesReplier, cfg Config, logger zerolog.Logger) *Router {
	if cfg.KnowledgeLimit <= 0 {
		cfg.KnowledgeLimit = 3
	}
	return &Router{kb: kb, sales: sales, cfg: cfg, logger: logger}
}

// Route returns the replies for in. It currently yields exactly one.
func (r *Router) Route(ctx context.Context, in models.InboundEnvelope) ([]models.OutboundEnvelope, error) {
	out, err := r.reply(ctx, in)
	if err != nil {
		return nil, err
	}
	return []models.OutboundEnvelope{out}, nil
}

// Triage is the direct-invocation path: it builds the reply and hands it to
// send immediately. It does not touch the outbound stream and carries none
// of its delivery guarantees.
func (r *Router) Triage(ctx context.Context, in models.InboundEnvelope, send Sender) (models.OutboundEnvelope, error) {
	out, err := r.reply(ctx, in)
	if err != nil {
		return models.OutboundEnvelope{}, err
	}
	if send != nil {
		if err := send.Send(ctx, out); err != nil {
			return out, fmt.Errorf("send reply %s: %w", out.Message.ID, err)
		}
	}
	return out, nil
}

func (r *Router) reply(ctx context.Context, in models.InboundEnvelope) (models.OutboundEnvelope, error) {
	msg := in.Message
	intent := policy.Classify(msg.Text)
	metrics.IntentsClassified.WithLabelValues(string(intent)).Inc()

	var text string
	switch intent {
	case policy.IntentGreeting:
		text = GreetingReply
	case policy.IntentBudget:
		text = r.salesReply(ctx, msg)
	case policy.IntentStatus, policy.IntentHuman:
		text = r.supportReply()
	default:
		text = r.knowledgeReply(ctx, msg)
	}

	metadata := map[string]any{
		"intent":    string(intent),
		"inReplyTo": msg.ID,
	}
	if locale := msg.MetadataString("locale"); locale != "" {
		metadata["locale"] = locale
	}

	return models.CoerceOutbound(models.Message{
		ID:             msg.ID + ReplySuffix,
		Channel:        msg.Channel,
		ConversationID: msg.ConversationID,
		From:           msg.To,
		To:             msg.From,
		Timestamp:      time.Now().UnixMilli(),
		Text:           text,
		Metadata:       metadata,
	})
}

func (r *Router) salesReply(ctx context.Context, msg models.Message) string {
	if r.sales == nil {
		return SalesFallback
	}
	text, err := r.sales(ctx)
	if err != nil || strings.TrimSpace(text) == "" {
		r.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("sales reply unavailable, using fallback")
		return SalesFallback
	}
	return text
}

func (r *Router) supportReply() string {
	var contacts []string
	if r.cfg.SupportPhone != "" {
		contacts = append(contacts, "WhatsApp "+r.cfg.SupportPhone)
	}
	if r.cfg.SupportEmail != "" {
		contacts = append(contacts, "e-mail "+r.cfg.SupportEmail)
	}
	text := "Vou conectar você com o nosso time de suporte."
	if len(contacts) > 0 {
		text += " Você também pode falar com a gente por " + strings.Join(contacts, " ou ") + "."
	}
	return text
}

func (r *Router) knowledgeReply(ctx context.Context, msg models.Message) string {
	if r.kb == nil || strings.TrimSpace(msg.Text) == "" {
		return NoResultReply
	}
	results, err := r.kb.Search(ctx, msg.Text, r.cfg.KnowledgeLimit)
	if err != nil {
		r.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("knowledge lookup failed")
		return NoResultReply
	}
	if len(results) == 0 || strings.TrimSpace(results[0].Snippet) == "" {
		return NoResultReply
	}
	return results[0].Snippet
}
