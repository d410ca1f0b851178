package store

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/omnirouter/internal/knowledge"
	"github.com/eldtechnologies/omnirouter/internal/metrics"
)

// PostgresStore serves the knowledge base from PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and makes sure the kb_articles table exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS kb_articles (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '',
			search_text TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// AddArticle inserts or replaces an article.
func (s *PostgresStore) AddArticle(ctx context.Context, a knowledge.Article) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kb_articles (id, title, body, tags, search_text, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			tags = EXCLUDED.tags,
			search_text = EXCLUDED.search_text,
			updated_at = now()
	`, a.ID, a.Title, a.Body, joinTags(a.Tags), searchText(a))
	return err
}

// CountArticles returns the number of stored articles.
func (s *PostgresStore) CountArticles(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM kb_articles`).Scan(&count)
	return count, err
}

// Search ranks articles by how many query terms they contain.
func (s *PostgresStore) Search(ctx context.Context, query string, limit int) ([]knowledge.Result, error) {
	start := time.Now()
	defer func() { metrics.PostgresLatency.Observe(time.Since(start).Seconds()) }()

	tokens := knowledge.Tokenize(query, maxQueryTokens)
	if len(tokens) == 0 || limit <= 0 {
		return []knowledge.Result{}, nil
	}

	sql, args := rankQuery(tokens, func(n int) string { return "$" + strconv.Itoa(n) })
	rows, err := s.pool.Query(ctx, sql, append(args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []knowledge.Result{}
	for rows.Next() {
		var a knowledge.Article
		var tags string
		var score int64
		if err := rows.Scan(&a.ID, &a.Title, &a.Body, &tags, &score); err != nil {
			return nil, err
		}
		a.Tags = splitTags(tags)
		results = append(results, knowledge.ResultFor(a, float64(score)))
	}
	return results, rows.Err()
}
