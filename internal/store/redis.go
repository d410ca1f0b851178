package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/omnirouter/internal/knowledge"
	"github.com/eldtechnologies/omnirouter/internal/metrics"
)

// PayloadField is the stream entry field carrying the message JSON.
const PayloadField = "payload"

// maxQueryTokens bounds the number of index keys touched per search.
const maxQueryTokens = 5

// RedisStore handles Redis operations: streams, dedup/status keys and the
// knowledge word index.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for middleware that needs raw commands.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// DedupKey returns the publish lock key for an outbound message id.
func DedupKey(messageID string) string {
	return fmt.Sprintf("omni:dedup:%s", messageID)
}

// StatusKey returns the status record key for an inbound stream entry.
func StatusKey(entryID string) string {
	return fmt.Sprintf("omni:status:%s", entryID)
}

func kbArticleKey(id string) string {
	return fmt.Sprintf("kb:article:%s", id)
}

func kbWordKey(word string) string {
	return fmt.Sprintf("kb:words:%s", strings.ToLower(word))
}

const kbArticlesKey = "kb:articles"

func observe(start time.Time) {
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
}

// Append adds payload to stream and returns the entry id.
func (s *RedisStore) Append(ctx context.Context, stream string, payload []byte) (string, error) {
	defer observe(time.Now())
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{PayloadField: string(payload)},
	}).Result()
}

// CreateGroup registers group on stream, creating the stream if needed.
// It returns ErrGroupExists if the group is already there.
func (s *RedisStore) CreateGroup(ctx context.Context, stream, group, start string) error {
	defer observe(time.Now())
	err := s.client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return ErrGroupExists
	}
	return err
}

// ReadGroup blocks up to block for new entries delivered to consumer.
// A timeout yields no entries and no error.
func (s *RedisStore) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	defer observe(time.Now())
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, st := range streams {
		entries = append(entries, toEntries(st.Messages)...)
	}
	return entries, nil
}

// AutoClaim transfers to consumer every pending entry idle for at least
// minIdle, paging through the pending list batch entries at a time.
func (s *RedisStore) AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, batch int64) ([]Entry, error) {
	defer observe(time.Now())
	if batch <= 0 {
		batch = 100
	}

	var entries []Entry
	cursor := "0-0"
	for {
		msgs, next, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    group,
			Consumer: consumer,
			MinIdle:  minIdle,
			Start:    cursor,
			Count:    batch,
		}).Result()
		if err != nil {
			return entries, err
		}
		entries = append(entries, toEntries(msgs)...)
		if next == "" || next == "0-0" || next == cursor {
			return entries, nil
		}
		cursor = next
	}
}

// Ack removes ids from the group's pending list.
func (s *RedisStore) Ack(ctx context.Context, stream, group string, ids ...string) error {
	defer observe(time.Now())
	return s.client.XAck(ctx, stream, group, ids...).Err()
}

// Latest returns up to count of the newest entries of stream, newest first.
func (s *RedisStore) Latest(ctx context.Context, stream string, count int64) ([]Entry, error) {
	msgs, err := s.client.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		return nil, err
	}
	return toEntries(msgs), nil
}

func toEntries(msgs []redis.XMessage) []Entry {
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, Entry{ID: m.ID, Values: m.Values})
	}
	return entries
}

// SetIfAbsent sets key to value with a TTL only if it does not exist.
// It reports whether this call created the key.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	defer observe(time.Now())
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	defer observe(time.Now())
	return s.client.Del(ctx, key).Err()
}

// SetFields overwrites fields of the hash at key and refreshes its TTL.
func (s *RedisStore) SetFields(ctx context.Context, key string, fields map[string]any, ttl time.Duration) error {
	defer observe(time.Now())
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// GetFields returns the hash at key, or nil if it does not exist.
func (s *RedisStore) GetFields(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// AddArticle stores an article and indexes its title, body and tags.
// Title and tag words weigh more than body words.
func (s *RedisStore) AddArticle(ctx context.Context, a knowledge.Article) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}

	weights := make(map[string]float64)
	for _, w := range knowledge.Tokenize(a.Body, 0) {
		weights[w] += 1
	}
	for _, w := range knowledge.Tokenize(a.Title+" "+strings.Join(a.Tags, " "), 0) {
		weights[w] += 3
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, kbArticleKey(a.ID), data, 0)
	pipe.SAdd(ctx, kbArticlesKey, a.ID)
	for word, weight := range weights {
		pipe.ZAdd(ctx, kbWordKey(word), redis.Z{Score: weight, Member: a.ID})
	}
	_, err = pipe.Exec(ctx)
	return err
}

// CountArticles returns the number of indexed articles.
func (s *RedisStore) CountArticles(ctx context.Context) (int64, error) {
	return s.client.SCard(ctx, kbArticlesKey).Result()
}

// Search ranks articles by summed word weight over the query terms.
func (s *RedisStore) Search(ctx context.Context, query string, limit int) ([]knowledge.Result, error) {
	defer observe(time.Now())
	tokens := knowledge.Tokenize(query, maxQueryTokens)
	if len(tokens) == 0 || limit <= 0 {
		return []knowledge.Result{}, nil
	}

	keys := make([]string, len(tokens))
	for i, t := range tokens {
		keys[i] = kbWordKey(t)
	}

	var ranked []redis.Z
	var err error
	if len(keys) == 1 {
		ranked, err = s.client.ZRevRangeWithScores(ctx, keys[0], 0, int64(limit)-1).Result()
	} else {
		tempKey := fmt.Sprintf("kb:temp:%d", time.Now().UnixNano())
		pipe := s.client.TxPipeline()
		pipe.ZUnionStore(ctx, tempKey, &redis.ZStore{Keys: keys, Aggregate: "SUM"})
		rangeCmd := pipe.ZRevRangeWithScores(ctx, tempKey, 0, int64(limit)-1)
		pipe.Del(ctx, tempKey)
		if _, err = pipe.Exec(ctx); err == nil {
			ranked = rangeCmd.Val()
		}
	}
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return []knowledge.Result{}, nil
	}

	articleKeys := make([]string, len(ranked))
	for i, z := range ranked {
		articleKeys[i] = kbArticleKey(fmt.Sprint(z.Member))
	}
	docs, err := s.client.MGet(ctx, articleKeys...).Result()
	if err != nil {
		return nil, err
	}

	results := make([]knowledge.Result, 0, len(docs))
	for i, doc := range docs {
		raw, ok := doc.(string)
		if !ok {
			continue // Article removed since indexing
		}
		var a knowledge.Article
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			continue
		}
		results = append(results, knowledge.ResultFor(a, ranked[i].Score))
	}
	return results, nil
}
