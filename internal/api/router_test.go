package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/omnirouter/internal/api/middleware"
	"github.com/eldtechnologies/omnirouter/internal/handlers"
	"github.com/eldtechnologies/omnirouter/internal/metrics"
	"github.com/eldtechnologies/omnirouter/internal/store"
	"github.com/eldtechnologies/omnirouter/internal/triage"
)

const inbox = "omni:inbox"

const validBody = `{"message":{"channel":"web","from":{"id":"visitor:42"},"to":{"id":"agent:bot"},"text":"Oi"}}`

func newTestServer(t *testing.T, limits middleware.RateLimiterConfig) (http.Handler, *store.RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rs := store.NewRedisStoreFromClient(client)

	router := triage.New(rs, nil, triage.Config{SupportEmail: "suporte@example.com"}, zerolog.Nop())
	h := handlers.NewHandler(rs, rs, router, inbox, zerolog.Nop())
	return NewRouter(zerolog.Nop(), h, rs, limits), rs
}

func post(t *testing.T, srv http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, srv http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestIngestAppendsToInbound(t *testing.T) {
	srv, rs := newTestServer(t, middleware.RateLimiterConfig{})

	rec := post(t, srv, "/ingest", validBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp handlers.IngestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.EntryID == "" || resp.MessageID == "" {
		t.Fatalf("response = %+v", resp)
	}

	entries, err := rs.Latest(context.Background(), inbox, 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("inbound = %v, %v", entries, err)
	}
	if entries[0].ID != resp.EntryID {
		t.Fatalf("entry id %q, response %q", entries[0].ID, resp.EntryID)
	}
	payload, _ := entries[0].Values[store.PayloadField].(string)
	if !strings.Contains(payload, `"direction":"in"`) || !strings.Contains(payload, resp.MessageID) {
		t.Fatalf("payload = %s", payload)
	}
}

func TestIngestRejectsInvalid(t *testing.T) {
	srv, rs := newTestServer(t, middleware.RateLimiterConfig{})

	rec := post(t, srv, "/ingest", `{"from":"bob","to":{"id":"agent:bot"}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp handlers.ValidationErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	fields := map[string]bool{}
	for _, is := range resp.Issues {
		fields[is.Field] = true
	}
	if !fields["channel"] || !fields["from"] {
		t.Fatalf("issues = %+v", resp.Issues)
	}

	if n := rs.Client().XLen(context.Background(), inbox).Val(); n != 0 {
		t.Fatalf("invalid message appended (%d entries)", n)
	}
}

func TestIngestRequiresJSON(t *testing.T) {
	srv, _ := newTestServer(t, middleware.RateLimiterConfig{})

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader("text=oi"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTriageRepliesDirectly(t *testing.T) {
	srv, rs := newTestServer(t, middleware.RateLimiterConfig{})

	rec := post(t, srv, "/triage", validBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp handlers.TriageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Reply.Text != triage.GreetingReply || resp.Reply.To.ID != "visitor:42" {
		t.Fatalf("reply = %+v", resp.Reply)
	}
	if n := rs.Client().Exists(context.Background(), inbox).Val(); n != 0 {
		t.Fatal("triage wrote to the inbound stream")
	}
}

func TestStatus(t *testing.T) {
	srv, rs := newTestServer(t, middleware.RateLimiterConfig{})

	if rec := get(t, srv, "/status/1-0"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing status code = %d", rec.Code)
	}

	err := rs.SetFields(context.Background(), store.StatusKey("1-0"), map[string]any{"status": "processed"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	rec := get(t, srv, "/status/1-0")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"processed"`) {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	if n := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/status/{id}", "404")); n < 1 {
		t.Fatalf("route-labelled 404 count = %v", n)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, middleware.RateLimiterConfig{})

	rec := get(t, srv, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp handlers.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" || resp.Checks["redis"].Status != "pass" || resp.Checks["knowledge"].Status != "pass" {
		t.Fatalf("health = %+v", resp)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers missing")
	}
}

func TestIngestRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, middleware.RateLimiterConfig{IngestPerMinute: 2})

	for i := 0; i < 2; i++ {
		if rec := post(t, srv, "/ingest", validBody); rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	rec := post(t, srv, "/ingest", validBody)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After missing")
	}

	if rec := get(t, srv, "/health"); rec.Code != http.StatusOK {
		t.Fatalf("health was rate limited: %d", rec.Code)
	}
}

func TestIngestWhitelistBypassesLimit(t *testing.T) {
	srv, _ := newTestServer(t, middleware.RateLimiterConfig{IngestPerMinute: 1, Whitelist: []string{"192.0.2.0/24"}})

	for i := 0; i < 3; i++ {
		if rec := post(t, srv, "/ingest", validBody); rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
}
