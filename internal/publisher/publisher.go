// Package publisher delivers replies to the outbound stream at most once
// per message id.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/omnirouter/internal/bus"
	"github.com/eldtechnologies/omnirouter/internal/metrics"
	"github.com/eldtechnologies/omnirouter/internal/models"
	"github.com/eldtechnologies/omnirouter/internal/store"
)

const (
	// UnknownRecipient is used for legacy replies that name no recipient.
	UnknownRecipient = "unknown"
	// DefaultSender is the contact replies are sent from.
	DefaultSender = "agent:bot"

	dedupSentinel = "1"
)

// Locker takes the dedup lock for a message id. Delete releases it when the
// publish it guarded did not go through.
type Locker interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Config controls publishing.
type Config struct {
	Stream       string
	DedupEnabled bool
	DedupTTL     time.Duration
	// FailOpen publishes anyway when the dedup lock cannot be checked.
	// When false, the store error is returned and nothing is published.
	FailOpen bool
	Retry    bus.RetryPolicy
}

// Reply is the legacy convenience shape: a channel, a recipient id and text.
type Reply struct {
	Channel        models.Channel
	To             string
	Text           string
	ConversationID string
}

// Publisher performs dedup-then-publish.
type Publisher struct {
	log    bus.Appender
	locker Locker
	cfg    Config
	logger zerolog.Logger
}

// New creates a Publisher. locker may be nil, which disables dedup.
func New(log bus.Appender, locker Locker, cfg Config, logger zerolog.Logger) *Publisher {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 600 * time.Second
	}
	return &Publisher{log: log, locker: locker, cfg: cfg, logger: logger}
}

// Publish normalizes v into an outbound envelope and appends it to the
// outbound stream unless a publish for the same message id already holds
// the dedup lock. It returns the message id whether the reply was appended
// or suppressed as a duplicate, and "" with the error otherwise.
func (p *Publisher) Publish(ctx context.Context, v any) (string, error) {
	env, err := p.normalize(v)
	if err != nil {
		return "", err
	}
	id := env.Message.ID

	if !p.cfg.DedupEnabled || p.locker == nil {
		if err := p.append(ctx, env, "published"); err != nil {
			return "", err
		}
		return id, nil
	}

	acquired, err := p.locker.SetIfAbsent(ctx, store.DedupKey(id), dedupSentinel, p.cfg.DedupTTL)
	switch {
	case err != nil && p.cfg.FailOpen:
		p.logger.Warn().Err(err).Str("message_id", id).Msg("dedup check failed, publishing anyway")
		if err := p.append(ctx, env, "fail_open"); err != nil {
			return "", err
		}
		return id, nil
	case err != nil:
		return "", fmt.Errorf("dedup check for %s: %w", id, err)
	case !acquired:
		metrics.PublishTotal.WithLabelValues("duplicate").Inc()
		p.logger.Debug().Str("message_id", id).Msg("duplicate publish suppressed")
		return id, nil
	}

	if err := p.append(ctx, env, "published"); err != nil {
		// Let a redelivery retry the publish instead of being suppressed.
		if delErr := p.locker.Delete(context.WithoutCancel(ctx), store.DedupKey(id)); delErr != nil {
			p.logger.Warn().Err(delErr).Str("message_id", id).Msg("release dedup lock")
		}
		return "", err
	}
	return id, nil
}

func (p *Publisher) append(ctx context.Context, env models.OutboundEnvelope, result string) error {
	entryID, err := bus.PublishWithRetry(ctx, p.log, p.cfg.Stream, env, p.cfg.Retry, p.logger)
	if err != nil {
		var busErr *bus.BusError
		if errors.As(err, &busErr) {
			p.logger.Error().Err(err).Str("message_id", env.Message.ID).Msg("outbound publish failed")
		}
		return err
	}
	metrics.PublishTotal.WithLabelValues(result).Inc()
	p.logger.Debug().
		Str("message_id", env.Message.ID).
		Str("entry_id", entryID).
		Str("channel", string(env.Message.Channel)).
		Msg("reply published")
	return nil
}

func (p *Publisher) normalize(v any) (models.OutboundEnvelope, error) {
	switch r := v.(type) {
	case Reply:
		return models.CoerceOutbound(r.message())
	case *Reply:
		if r == nil {
			return models.OutboundEnvelope{}, errors.New("nil reply")
		}
		return models.CoerceOutbound(r.message())
	default:
		return models.CoerceOutbound(v)
	}
}

func (r Reply) message() map[string]any {
	to := r.To
	if to == "" {
		to = UnknownRecipient
	}
	msg := map[string]any{
		"channel": string(r.Channel),
		"from":    map[string]any{"id": DefaultSender},
		"to":      map[string]any{"id": to},
		"text":    r.Text,
	}
	if r.ConversationID != "" {
		msg["conversationId"] = r.ConversationID
	}
	return msg
}
