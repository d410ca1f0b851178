package triage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/omnirouter/internal/knowledge"
	"github.com/eldtechnologies/omnirouter/internal/models"
)

type fakeSearcher struct {
	results []knowledge.Result
	err     error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) ([]knowledge.Result, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

type recordingSender struct {
	sent []models.OutboundEnvelope
	err  error
}

func (s *recordingSender) Send(_ context.Context, env models.OutboundEnvelope) error {
	s.sent = append(s.sent, env)
	return s.err
}

func inbound(t *testing.T, text string) models.InboundEnvelope {
	t.Helper()
	env, err := models.CoerceInbound(map[string]any{
		"id":             "m-1",
		"channel":        "whatsapp",
		"conversationId": "conv-1",
		"from":           map[string]any{"id": "user:123", "phone": "+5511999999999"},
		"to":             map[string]any{"id": "agent:bot"},
		"text":           text,
		"metadata":       map[string]any{"locale": "pt-BR"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func routeOne(t *testing.T, r *Router, text string) models.Message {
	t.Helper()
	out, err := r.Route(context.Background(), inbound(t, text))
	if err != nil {
		t.Fatalf("Route(%q): %v", text, err)
	}
	if len(out) != 1 {
		t.Fatalf("Route(%q) returned %d replies", text, len(out))
	}
	return out[0].Message
}

func TestRouteGreeting(t *testing.T) {
	r := New(nil, nil, Config{}, zerolog.Nop())
	m := routeOne(t, r, "Oi")

	if m.Text != GreetingReply {
		t.Fatalf("text = %q", m.Text)
	}
	if m.ID != "m-1"+ReplySuffix {
		t.Fatalf("id = %q", m.ID)
	}
	if m.Direction != models.DirectionOut || m.Channel != models.ChannelWhatsApp {
		t.Fatalf("direction/channel = %s/%s", m.Direction, m.Channel)
	}
	if m.From.ID != "agent:bot" || m.To.ID != "user:123" || m.To.Phone != "+5511999999999" {
		t.Fatalf("contacts not swapped: from=%+v to=%+v", m.From, m.To)
	}
	if m.ConversationID != "conv-1" {
		t.Fatalf("conversationId = %q", m.ConversationID)
	}
	if m.MetadataString("intent") != "greeting" || m.MetadataString("inReplyTo") != "m-1" || m.MetadataString("locale") != "pt-BR" {
		t.Fatalf("metadata = %v", m.Metadata)
	}
}

func TestRouteIsDeterministic(t *testing.T) {
	r := New(nil, nil, Config{}, zerolog.Nop())
	a := routeOne(t, r, "quanto custa?")
	b := routeOne(t, r, "quanto custa?")
	if a.ID != b.ID || a.Text != b.Text {
		t.Fatalf("replies differ: %+v vs %+v", a, b)
	}
}

func TestRouteBudget(t *testing.T) {
	if m := routeOne(t, New(nil, nil, Config{}, zerolog.Nop()), "quanto custa o plano?"); m.Text != SalesFallback {
		t.Fatalf("fallback text = %q", m.Text)
	}

	sales := StaticSales("Nosso plano começa em R$ 99.")
	if m := routeOne(t, New(nil, sales, Config{}, zerolog.Nop()), "quanto custa o plano?"); m.Text != "Nosso plano começa em R$ 99." {
		t.Fatalf("sales text = %q", m.Text)
	}

	broken := func(context.Context) (string, error) { return "", errors.New("crm down") }
	if m := routeOne(t, New(nil, broken, Config{}, zerolog.Nop()), "quanto custa o plano?"); m.Text != SalesFallback {
		t.Fatalf("broken sales text = %q", m.Text)
	}
}

func TestRouteSupport(t *testing.T) {
	r := New(nil, nil, Config{SupportPhone: "+55 11 4000-0000", SupportEmail: "suporte@example.com"}, zerolog.Nop())

	for _, text := range []string{"Qual o status do meu pedido?", "quero falar com um atendente"} {
		m := routeOne(t, r, text)
		if !strings.Contains(m.Text, "WhatsApp +55 11 4000-0000") || !strings.Contains(m.Text, "e-mail suporte@example.com") {
			t.Fatalf("support reply for %q = %q", text, m.Text)
		}
	}

	bare := routeOne(t, New(nil, nil, Config{}, zerolog.Nop()), "quero falar com um atendente")
	if strings.Contains(bare.Text, "WhatsApp") || bare.Text == "" {
		t.Fatalf("support reply without contacts = %q", bare.Text)
	}
}

func TestRouteKnowledge(t *testing.T) {
	kb := &fakeSearcher{results: []knowledge.Result{
		{ArticleID: "billing", Snippet: "Acesse a área do cliente para emitir a segunda via."},
		{ArticleID: "other", Snippet: "ignored"},
	}}
	r := New(kb, nil, Config{}, zerolog.Nop())

	m := routeOne(t, r, "o boleto venceu")
	if m.Text != "Acesse a área do cliente para emitir a segunda via." {
		t.Fatalf("text = %q", m.Text)
	}
	if m.MetadataString("intent") != "unknown" {
		t.Fatalf("intent = %q", m.MetadataString("intent"))
	}
	if len(kb.queries) != 1 || kb.queries[0] != "o boleto venceu" {
		t.Fatalf("queries = %v", kb.queries)
	}
}

func TestRouteKnowledgeFallback(t *testing.T) {
	tests := map[string]knowledge.Searcher{
		"no results": &fakeSearcher{},
		"error":      &fakeSearcher{err: errors.New("timeout")},
		"no store":   nil,
	}
	for name, kb := range tests {
		t.Run(name, func(t *testing.T) {
			m := routeOne(t, New(kb, nil, Config{}, zerolog.Nop()), "o boleto venceu")
			if m.Text != NoResultReply {
				t.Fatalf("text = %q", m.Text)
			}
		})
	}
}

func TestTriageSends(t *testing.T) {
	r := New(nil, nil, Config{}, zerolog.Nop())
	sender := &recordingSender{}

	out, err := r.Triage(context.Background(), inbound(t, "Oi"), sender)
	if err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 1 || sender.sent[0].Message.ID != out.Message.ID {
		t.Fatalf("sent = %+v", sender.sent)
	}

	failing := &recordingSender{err: errors.New("provider down")}
	if _, err := r.Triage(context.Background(), inbound(t, "Oi"), failing); err == nil {
		t.Fatal("expected send error")
	}

	if _, err := r.Triage(context.Background(), inbound(t, "Oi"), nil); err != nil {
		t.Fatalf("Triage without sender: %v", err)
	}
}
