package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/omnirouter/internal/knowledge"
)

func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client)
}

func TestStreamGroupLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t)

	if err := s.CreateGroup(ctx, "in", "router", "0"); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := s.CreateGroup(ctx, "in", "router", "0"); !errors.Is(err, ErrGroupExists) {
		t.Fatalf("second CreateGroup = %v, want ErrGroupExists", err)
	}

	id, err := s.Append(ctx, "in", []byte(`{"id":"m-1"}`))
	if err != nil {
		t.Fatal(err)
	}

	entries, err := s.ReadGroup(ctx, "in", "router", "c1", 10, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != id {
		t.Fatalf("ReadGroup = %+v", entries)
	}
	if entries[0].Values[PayloadField] != `{"id":"m-1"}` {
		t.Fatalf("payload = %v", entries[0].Values[PayloadField])
	}

	entries, err = s.ReadGroup(ctx, "in", "router", "c1", 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("empty ReadGroup: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no new entries, got %d", len(entries))
	}

	if err := s.Ack(ctx, "in", "router", id); err != nil {
		t.Fatal(err)
	}
	pending, err := s.Client().XPending(ctx, "in", "router").Result()
	if err != nil {
		t.Fatal(err)
	}
	if pending.Count != 0 {
		t.Fatalf("pending = %d after ack", pending.Count)
	}
}

func TestAutoClaimIdleEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t)

	if err := s.CreateGroup(ctx, "in", "router", "0"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Append(ctx, "in", []byte(`{}`)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.ReadGroup(ctx, "in", "router", "crashed", 10, 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.AutoClaim(ctx, "in", "router", "c2", time.Hour, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Fatalf("claimed %d entries that are not idle yet", len(claimed))
	}

	time.Sleep(30 * time.Millisecond)
	claimed, err = s.AutoClaim(ctx, "in", "router", "c2", 10*time.Millisecond, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 3 {
		t.Fatalf("claimed %d entries, want 3", len(claimed))
	}
}

func TestLatest(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t)

	first, _ := s.Append(ctx, "out", []byte(`1`))
	second, _ := s.Append(ctx, "out", []byte(`2`))

	entries, err := s.Latest(ctx, "out", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].ID != second || entries[1].ID != first {
		t.Fatalf("Latest = %+v", entries)
	}
}

func TestSetIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t)

	ok, err := s.SetIfAbsent(ctx, DedupKey("m-1"), "1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetIfAbsent = %v, %v", ok, err)
	}
	ok, err = s.SetIfAbsent(ctx, DedupKey("m-1"), "1", time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetIfAbsent = %v, %v", ok, err)
	}
	if DedupKey("m-1") != "omni:dedup:m-1" {
		t.Fatalf("DedupKey = %q", DedupKey("m-1"))
	}
}

func TestFields(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t)

	key := StatusKey("1-0")
	if err := s.SetFields(ctx, key, map[string]any{"status": "processed", "replies": 1}, time.Hour); err != nil {
		t.Fatal(err)
	}
	fields, err := s.GetFields(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if fields["status"] != "processed" || fields["replies"] != "1" {
		t.Fatalf("fields = %v", fields)
	}
	ttl, err := s.Client().TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		t.Fatalf("ttl = %v, %v", ttl, err)
	}

	missing, err := s.GetFields(ctx, StatusKey("9-9"))
	if err != nil || missing != nil {
		t.Fatalf("missing status = %v, %v", missing, err)
	}
}

var testArticles = []knowledge.Article{
	{ID: "shipping", Title: "Prazo de entrega", Body: "Entregamos em até 5 dias úteis para todo o Brasil.", Tags: []string{"frete"}},
	{ID: "returns", Title: "Trocas e devoluções", Body: "Você pode devolver o produto em 30 dias."},
	{ID: "billing", Title: "Segunda via do boleto", Body: "Acesse a área do cliente para emitir a segunda via. A entrega do boleto é por e-mail."},
}

func TestRedisKnowledgeSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t)

	if err := knowledge.Seed(ctx, s, testArticles); err != nil {
		t.Fatal(err)
	}
	if n, err := s.CountArticles(ctx); err != nil || n != 3 {
		t.Fatalf("CountArticles = %d, %v", n, err)
	}

	results, err := s.Search(ctx, "qual o prazo de entrega?", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results: %+v", len(results), results)
	}
	if results[0].ArticleID != "shipping" {
		t.Fatalf("top result = %s, want shipping", results[0].ArticleID)
	}

	results, err = s.Search(ctx, "devoluções", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ArticleID != "returns" {
		t.Fatalf("single-term results = %+v", results)
	}

	results, err = s.Search(ctx, "de o", 3)
	if err != nil || len(results) != 0 {
		t.Fatalf("stop-word search = %+v, %v", results, err)
	}
}
