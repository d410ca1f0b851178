// Package knowledge holds the help-center articles the triage router falls
// back to when a message matches no known intent.
package knowledge

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// SnippetLength is the maximum number of runes returned in a Result snippet.
const SnippetLength = 280

// Article is one knowledge base entry.
type Article struct {
	ID    string   `yaml:"id" json:"id"`
	Title string   `yaml:"title" json:"title"`
	Body  string   `yaml:"body" json:"body"`
	Tags  []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// Result is a ranked search hit.
type Result struct {
	ArticleID string  `json:"article_id"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score,omitempty"`
}

// Searcher looks up articles relevant to free text.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// Store is a knowledge backend. RedisStore, PostgresStore and SQLiteStore
// in the store package implement it.
type Store interface {
	Searcher
	Ping(ctx context.Context) error
	AddArticle(ctx context.Context, a Article) error
	CountArticles(ctx context.Context) (int64, error)
}

var wordRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// stopWords are common English and Portuguese words excluded from indexing.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"to": true, "of": true, "in": true, "for": true, "on": true,
	"it": true, "that": true, "this": true, "with": true, "at": true,
	"by": true, "from": true, "as": true, "into": true, "like": true,
	"os": true, "um": true, "uma": true,
	"de": true, "do": true, "da": true, "dos": true, "das": true,
	"em": true, "no": true, "na": true, "para": true,
	"por": true, "com": true, "que": true, "se": true, "meu": true,
	"minha": true, "como": true, "eu": true, "voce": true, "você": true,
}

// Tokenize extracts lower-cased, de-duplicated search terms from text,
// keeping at most max terms (0 means no limit).
func Tokenize(text string, max int) []string {
	words := wordRegex.FindAllString(strings.ToLower(text), -1)

	seen := make(map[string]bool)
	result := make([]string, 0, len(words))
	for _, w := range words {
		if utf8.RuneCountInString(w) < 2 || seen[w] || stopWords[w] {
			continue
		}
		seen[w] = true
		result = append(result, w)
		if max > 0 && len(result) == max {
			break
		}
	}
	return result
}

// Snippet trims an article body to SnippetLength runes on a word boundary.
func Snippet(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	if utf8.RuneCountInString(body) <= SnippetLength {
		return body
	}
	runes := []rune(body)[:SnippetLength]
	cut := string(runes)
	if i := strings.LastIndex(cut, " "); i > SnippetLength/2 {
		cut = cut[:i]
	}
	return cut + "…"
}

// ResultFor builds a Result from an article.
func ResultFor(a Article, score float64) Result {
	return Result{ArticleID: a.ID, Title: a.Title, Snippet: Snippet(a.Body), Score: score}
}

type seedFile struct {
	Articles []Article `yaml:"articles"`
}

// LoadFile reads articles from a YAML seed file of the form
//
//	articles:
//	  - id: shipping
//	    title: Shipping times
//	    body: ...
func LoadFile(path string) ([]Article, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, a := range f.Articles {
		if strings.TrimSpace(a.ID) == "" {
			return nil, fmt.Errorf("parse %s: article %d has no id", path, i)
		}
	}
	return f.Articles, nil
}

// Seed adds every article to s.
func Seed(ctx context.Context, s Store, articles []Article) error {
	for _, a := range articles {
		if err := s.AddArticle(ctx, a); err != nil {
			return fmt.Errorf("add article %s: %w", a.ID, err)
		}
	}
	return nil
}
