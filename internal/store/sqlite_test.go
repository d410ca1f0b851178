package store

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/eldtechnologies/omnirouter/internal/knowledge"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "kb.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestSQLiteKnowledgeSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

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
	if len(results) != 2 || results[0].ArticleID != "shipping" {
		t.Fatalf("results = %+v", results)
	}
	if len(results[0].Snippet) == 0 {
		t.Fatal("empty snippet")
	}

	results, err = s.Search(ctx, "prazo", 0)
	if err != nil || len(results) != 0 {
		t.Fatalf("zero-limit search = %+v, %v", results, err)
	}
}

func TestSQLiteUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	a := knowledge.Article{ID: "shipping", Title: "Prazo", Body: "antigo", Tags: []string{"frete", "prazo"}}
	if err := s.AddArticle(ctx, a); err != nil {
		t.Fatal(err)
	}
	a.Body = "Entregamos em até 5 dias úteis."
	if err := s.AddArticle(ctx, a); err != nil {
		t.Fatal(err)
	}

	if n, _ := s.CountArticles(ctx); n != 1 {
		t.Fatalf("CountArticles = %d after upsert", n)
	}
	results, err := s.Search(ctx, "frete", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Snippet != "Entregamos em até 5 dias úteis." {
		t.Fatalf("results = %+v", results)
	}
}

func TestRankQueryPlaceholders(t *testing.T) {
	q, args := rankQuery([]string{"prazo", "entrega"}, func(n int) string { return "$" + strconv.Itoa(n) })
	if len(args) != 2 || args[0] != "%prazo%" {
		t.Fatalf("args = %v", args)
	}
	for _, p := range []string{"$1", "$2", "LIMIT $3"} {
		if !strings.Contains(q, p) {
			t.Fatalf("query missing %q:\n%s", p, q)
		}
	}
}
