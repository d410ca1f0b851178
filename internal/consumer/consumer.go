// Package consumer drains the inbound stream through a consumer group,
// reclaiming entries abandoned by crashed workers.
package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/omnirouter/internal/metrics"
	"github.com/eldtechnologies/omnirouter/internal/models"
	"github.com/eldtechnologies/omnirouter/internal/store"
)

// Entry status values written to the status store.
const (
	StatusProcessed = "processed"
	StatusMalformed = "malformed"
)

// Router produces the replies for an inbound envelope.
type Router interface {
	Route(ctx context.Context, in models.InboundEnvelope) ([]models.OutboundEnvelope, error)
}

// Publisher delivers one reply.
type Publisher interface {
	Publish(ctx context.Context, v any) (string, error)
}

// Config controls the consumer loop.
type Config struct {
	Stream       string
	Group        string
	Name         string
	Poll         time.Duration // max wait for a new entry per cycle
	ReclaimIdle  time.Duration // pending entries idle this long are reclaimed
	ReclaimBatch int64
	StatusTTL    time.Duration
	RestartDelay time.Duration // pause after a failed cycle
}

// Consumer processes inbound entries one at a time.
type Consumer struct {
	log    store.StreamLog
	kv     store.KeyValue
	router Router
	pub    Publisher
	cfg    Config
	logger zerolog.Logger
}

// New creates a Consumer, filling unset durations with defaults.
func New(log store.StreamLog, kv store.KeyValue, router Router, pub Publisher, cfg Config, logger zerolog.Logger) *Consumer {
	if cfg.Poll <= 0 {
		cfg.Poll = 250 * time.Millisecond
	}
	if cfg.ReclaimIdle <= 0 {
		cfg.ReclaimIdle = 5 * time.Second
	}
	if cfg.ReclaimBatch <= 0 {
		cfg.ReclaimBatch = 100
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = time.Second
	}
	return &Consumer{
		log:    log,
		kv:     kv,
		router: router,
		pub:    pub,
		cfg:    cfg,
		logger: logger.With().Str("stream", cfg.Stream).Str("group", cfg.Group).Str("consumer", cfg.Name).Logger(),
	}
}

// Init creates the consumer group from the start of the stream so no
// backlog is lost. An existing group is not an error.
func (c *Consumer) Init(ctx context.Context) error {
	err := c.log.CreateGroup(ctx, c.cfg.Stream, c.cfg.Group, "0")
	if errors.Is(err, store.ErrGroupExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create group %s on %s: %w", c.cfg.Group, c.cfg.Stream, err)
	}
	c.logger.Info().Msg("consumer group created")
	return nil
}

// RunOnce performs one cycle: reclaim stalled entries, then wait up to Poll
// for one new entry. Any processing error aborts the cycle and leaves the
// entry pending for a later reclaim.
func (c *Consumer) RunOnce(ctx context.Context) error {
	stalled, err := c.log.AutoClaim(ctx, c.cfg.Stream, c.cfg.Group, c.cfg.Name, c.cfg.ReclaimIdle, c.cfg.ReclaimBatch)
	if err != nil {
		return fmt.Errorf("reclaim: %w", err)
	}
	for _, e := range stalled {
		metrics.MessagesReclaimed.Inc()
		c.logger.Info().Str("entry_id", e.ID).Msg("reclaimed stalled entry")
		if err := c.process(ctx, e); err != nil {
			return err
		}
	}

	fresh, err := c.log.ReadGroup(ctx, c.cfg.Stream, c.cfg.Group, c.cfg.Name, 1, c.cfg.Poll)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	for _, e := range fresh {
		if err := c.process(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Run repeats RunOnce until ctx is cancelled. A failed cycle is logged and
// retried after RestartDelay.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().
		Dur("poll", c.cfg.Poll).
		Dur("reclaim_idle", c.cfg.ReclaimIdle).
		Msg("consumer started")

	for {
		if ctx.Err() != nil {
			c.logger.Info().Msg("consumer stopped")
			return nil
		}

		err := c.RunOnce(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			c.logger.Info().Msg("consumer stopped")
			return nil
		}

		metrics.CycleErrors.Inc()
		c.logger.Error().Err(err).Dur("retry_in", c.cfg.RestartDelay).Msg("consumer cycle failed")
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("consumer stopped")
			return nil
		case <-time.After(c.cfg.RestartDelay):
		}
	}
}

func (c *Consumer) process(ctx context.Context, e store.Entry) error {
	start := time.Now()
	log := c.logger.With().Str("entry_id", e.ID).Logger()

	payload, err := decodePayload(e.Values)
	if err != nil {
		log.Warn().Err(err).Msg("malformed payload, dropping")
		metrics.MessagesFailed.WithLabelValues("malformed").Inc()
		if err := c.setStatus(ctx, e.ID, map[string]any{"status": StatusMalformed, "error": err.Error()}); err != nil {
			return err
		}
		return c.ack(ctx, e.ID)
	}

	defaultMessageID(payload, e.ID)
	env, err := models.CoerceInbound(payload)
	if err != nil {
		metrics.MessagesFailed.WithLabelValues("invalid").Inc()
		return fmt.Errorf("entry %s: %w", e.ID, err)
	}
	msg := env.Message
	log = log.With().Str("message_id", msg.ID).Str("channel", string(msg.Channel)).Logger()

	replies, err := c.router.Route(ctx, env)
	if err != nil {
		metrics.MessagesFailed.WithLabelValues("route").Inc()
		return fmt.Errorf("entry %s: route: %w", e.ID, err)
	}

	// Replies to one message are published in order.
	for _, reply := range replies {
		if _, err := c.pub.Publish(ctx, reply); err != nil {
			metrics.MessagesFailed.WithLabelValues("publish").Inc()
			return fmt.Errorf("entry %s: publish %s: %w", e.ID, reply.Message.ID, err)
		}
	}

	if err := c.setStatus(ctx, e.ID, map[string]any{
		"status":     StatusProcessed,
		"message_id": msg.ID,
		"replies":    len(replies),
	}); err != nil {
		return err
	}
	if err := c.ack(ctx, e.ID); err != nil {
		return err
	}

	elapsed := time.Since(start)
	metrics.MessagesProcessed.WithLabelValues(string(msg.Channel)).Inc()
	metrics.ProcessingDuration.Observe(elapsed.Seconds())
	metrics.ChannelProcessingDuration.WithLabelValues(string(msg.Channel)).Observe(elapsed.Seconds())
	log.Info().Int("replies", len(replies)).Dur("latency", elapsed).Msg("message processed")
	return nil
}

func (c *Consumer) setStatus(ctx context.Context, entryID string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UnixMilli()
	if err := c.kv.SetFields(ctx, store.StatusKey(entryID), fields, c.cfg.StatusTTL); err != nil {
		metrics.MessagesFailed.WithLabelValues("status").Inc()
		return fmt.Errorf("entry %s: write status: %w", entryID, err)
	}
	return nil
}

func (c *Consumer) ack(ctx context.Context, entryID string) error {
	if err := c.log.Ack(ctx, c.cfg.Stream, c.cfg.Group, entryID); err != nil {
		return fmt.Errorf("entry %s: ack: %w", entryID, err)
	}
	return nil
}

// defaultMessageID gives an id-less payload the stream entry id, so every
// delivery of the entry yields the same message id and reply id.
func defaultMessageID(payload map[string]any, entryID string) {
	target := payload
	if inner, ok := payload["message"].(map[string]any); ok {
		target = inner
	}
	switch id := target["id"].(type) {
	case nil:
		target["id"] = entryID
	case string:
		if strings.TrimSpace(id) == "" {
			target["id"] = entryID
		}
	}
}

// decodePayload parses the entry's payload field (or the older data field)
// into a JSON object.
func decodePayload(values map[string]any) (map[string]any, error) {
	raw, ok := values[store.PayloadField]
	if !ok {
		raw, ok = values["data"]
	}
	if !ok {
		return nil, errors.New("no payload field")
	}

	var data []byte
	switch t := raw.(type) {
	case string:
		data = []byte(t)
	case []byte:
		data = t
	default:
		return nil, fmt.Errorf("payload has type %T", raw)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode payload: trailing data after JSON value")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("payload is not a JSON object")
	}
	return obj, nil
}
