// Package policy classifies customer text into a routing intent.
package policy

import (
	"regexp"
	"strings"
)

// Intent is the routing category of an inbound message.
type Intent string

const (
	IntentGreeting Intent = "greeting"
	IntentBudget   Intent = "budget"
	IntentStatus   Intent = "status"
	IntentHuman    Intent = "human"
	IntentUnknown  Intent = "unknown"
)

type rule struct {
	intent  Intent
	pattern *regexp.Regexp
}

// phrases builds a case-insensitive pattern matching any of the phrases as
// whole words. Go's \b is ASCII-only, so letter boundaries are spelled out.
func phrases(list ...string) *regexp.Regexp {
	quoted := make([]string, len(list))
	for i, p := range list {
		quoted[i] = strings.ReplaceAll(regexp.QuoteMeta(p), " ", `\s+`)
	}
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(?:` + strings.Join(quoted, "|") + `)(?:$|[^\p{L}\p{N}])`)
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{IntentGreeting, phrases("oi", "olá", "ola", "bom dia", "boa tarde", "boa noite", "hello", "hi", "hey", "good morning")},
	{IntentBudget, phrases("orçamento", "orcamento", "preço", "preco", "preços", "precos", "quanto custa", "valor", "valores", "cotação", "cotacao", "budget", "price", "prices", "pricing", "quote", "how much")},
	{IntentStatus, phrases("status", "pedido", "rastreio", "rastreamento", "andamento", "entrega", "where is my order", "tracking", "order")},
	{IntentHuman, phrases("humano", "atendente", "falar com alguém", "falar com alguem", "pessoa", "human", "agent", "representative", "real person")},
}

// Classify maps text to the first matching intent, or IntentUnknown.
func Classify(text string) Intent {
	text = strings.TrimSpace(text)
	if text == "" {
		return IntentUnknown
	}
	for _, r := range rules {
		if r.pattern.MatchString(text) {
			return r.intent
		}
	}
	return IntentUnknown
}
