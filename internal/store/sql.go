package store

import (
	"fmt"
	"strings"

	"github.com/eldtechnologies/omnirouter/internal/knowledge"
)

// The SQL knowledge stores keep a lower-cased search_text column computed
// in Go so both backends match Unicode text the same way.

func searchText(a knowledge.Article) string {
	return strings.ToLower(strings.Join([]string{a.Title, a.Body, strings.Join(a.Tags, " ")}, " "))
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// rankQuery builds a query scoring each article by the number of tokens its
// search_text contains. placeholder renders the n-th (1-based) bind marker.
func rankQuery(tokens []string, placeholder func(n int) string) (string, []any) {
	terms := make([]string, len(tokens))
	args := make([]any, 0, len(tokens)+1)
	for i, t := range tokens {
		terms[i] = fmt.Sprintf("(CASE WHEN search_text LIKE %s THEN 1 ELSE 0 END)", placeholder(i+1))
		args = append(args, "%"+t+"%")
	}
	query := fmt.Sprintf(`
		SELECT id, title, body, tags, score FROM (
			SELECT id, title, body, tags, %s AS score FROM kb_articles
		) ranked
		WHERE score > 0
		ORDER BY score DESC, id
		LIMIT %s`, strings.Join(terms, " + "), placeholder(len(tokens)+1))
	return query, args
}
