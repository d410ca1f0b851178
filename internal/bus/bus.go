// Package bus appends messages to the outbound stream with bounded retry.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/omnirouter/internal/metrics"
	"github.com/eldtechnologies/omnirouter/internal/models"
)

// Appender writes one payload to a stream and returns the entry id.
type Appender interface {
	Append(ctx context.Context, stream string, payload []byte) (string, error)
}

// RetryPolicy bounds PublishWithRetry.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, including the first
	Backoff     time.Duration // delay before the second attempt; doubles after
}

// DefaultRetryPolicy is used when a zero policy is supplied.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 50 * time.Millisecond}

// BusError means an append still failed after every retry.
type BusError struct {
	Stream   string
	Attempts int
	Err      error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("append to %s failed after %d attempts: %v", e.Stream, e.Attempts, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

// PublishWithRetry appends env's message to stream, retrying failed appends
// with exponential backoff and jitter. It returns the stream entry id, or a
// *BusError once the policy is exhausted. A cancelled ctx stops the retries
// and is returned as is.
func PublishWithRetry(ctx context.Context, log Appender, stream string, env models.OutboundEnvelope, policy RetryPolicy, logger zerolog.Logger) (string, error) {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy
	}

	payload, err := json.Marshal(env.Message)
	if err != nil {
		return "", fmt.Errorf("encode message %s: %w", env.Message.ID, err)
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := backoff(policy.Backoff, attempt-1)
			metrics.BusAppendRetries.WithLabelValues(stream).Inc()
			logger.Warn().
				Err(lastErr).
				Str("stream", stream).
				Str("message_id", env.Message.ID).
				Int("attempt", attempt).
				Dur("backoff", wait).
				Msg("retrying stream append")
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		id, err := log.Append(ctx, stream, payload)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}

	return "", &BusError{Stream: stream, Attempts: policy.MaxAttempts, Err: lastErr}
}

// backoff returns base*2^(n-1) plus up to 50% jitter.
func backoff(base time.Duration, n int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base << (n - 1)
	return d + time.Duration(rand.Int63n(int64(d/2)+1))
}
