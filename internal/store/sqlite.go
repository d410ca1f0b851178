package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/omnirouter/internal/knowledge"
)

// SQLiteStore serves the knowledge base from a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/knowledge.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/knowledge.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kb_articles (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '',
		search_text TEXT NOT NULL DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AddArticle inserts or replaces an article.
func (s *SQLiteStore) AddArticle(ctx context.Context, a knowledge.Article) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kb_articles (id, title, body, tags, search_text, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			tags = excluded.tags,
			search_text = excluded.search_text,
			updated_at = excluded.updated_at
	`, a.ID, a.Title, a.Body, joinTags(a.Tags), searchText(a), time.Now())
	return err
}

// CountArticles returns the number of stored articles.
func (s *SQLiteStore) CountArticles(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kb_articles`).Scan(&count)
	return count, err
}

// Search ranks articles by how many query terms they contain.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]knowledge.Result, error) {
	tokens := knowledge.Tokenize(query, maxQueryTokens)
	if len(tokens) == 0 || limit <= 0 {
		return []knowledge.Result{}, nil
	}

	q, args := rankQuery(tokens, func(int) string { return "?" })
	rows, err := s.db.QueryContext(ctx, q, append(args, limit)...)
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
