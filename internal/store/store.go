package store

import (
	"context"
	"errors"
	"time"

	"github.com/eldtechnologies/omnirouter/internal/knowledge"
)

// ErrGroupExists is returned by CreateGroup when the consumer group is
// already registered on the stream.
var ErrGroupExists = errors.New("consumer group already exists")

// Entry is one record read from a stream.
type Entry struct {
	ID     string
	Values map[string]any
}

// StreamLog is a durable append-only log with consumer groups.
// RedisStore implements it on Redis Streams.
type StreamLog interface {
	Append(ctx context.Context, stream string, payload []byte) (string, error)
	CreateGroup(ctx context.Context, stream, group, start string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error)
	AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, batch int64) ([]Entry, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
}

// KeyValue holds the dedup locks and per-entry status records.
type KeyValue interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	SetFields(ctx context.Context, key string, fields map[string]any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

var (
	_ StreamLog       = (*RedisStore)(nil)
	_ KeyValue        = (*RedisStore)(nil)
	_ knowledge.Store = (*RedisStore)(nil)
	_ knowledge.Store = (*PostgresStore)(nil)
	_ knowledge.Store = (*SQLiteStore)(nil)
)
