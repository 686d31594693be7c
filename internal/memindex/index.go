// Package memindex provides the sqlite-backed prior-knowledge index. It
// serves double duty: the memory-context collaborator consulted during
// prompt assembly, and the search surface behind the memory_search tool.
package memindex

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one stored memory fact.
type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"` // role | fact
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Index is a sqlite-backed memory store.
type Index struct {
	db *sql.DB
}

// Open opens (or creates) the index database at path and runs migrations.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time keeps modernc/sqlite happy under concurrency.
	db.SetMaxOpenConns(1)

	ix := &Index{db: db}
	if err := ix.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return ix, nil
}

func (ix *Index) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memory_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_user ON memory_entries(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_memory_kind ON memory_entries(kind);
	`
	_, err := ix.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// DB exposes the underlying handle for the db_* tool backends.
func (ix *Index) DB() *sql.DB {
	return ix.db
}

// Add stores a new entry.
func (ix *Index) Add(ctx context.Context, userID, kind, content string) error {
	_, err := ix.db.ExecContext(ctx,
		`INSERT INTO memory_entries (id, user_id, kind, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), userID, kind, content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert memory entry: %w", err)
	}
	return nil
}

// Search returns entries whose content matches the query, newest first.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := ix.db.QueryContext(ctx,
		`SELECT id, user_id, kind, content, created_at FROM memory_entries
		 WHERE content LIKE ? ORDER BY created_at DESC LIMIT ?`,
		"%"+strings.TrimSpace(query)+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Context returns the stored role classification and a prior-knowledge
// summary for a user. An empty role means the user has no classification
// on record. Implements types.MemoryContext.
func (ix *Index) Context(ctx context.Context, userID string) (string, string, error) {
	var role string
	err := ix.db.QueryRowContext(ctx,
		`SELECT content FROM memory_entries WHERE user_id = ? AND kind = 'role'
		 ORDER BY created_at DESC LIMIT 1`, userID,
	).Scan(&role)
	if err != nil && err != sql.ErrNoRows {
		return "", "", fmt.Errorf("load role: %w", err)
	}

	rows, err := ix.db.QueryContext(ctx,
		`SELECT content FROM memory_entries WHERE user_id = ? AND kind = 'fact'
		 ORDER BY created_at DESC LIMIT 20`, userID,
	)
	if err != nil {
		return "", "", fmt.Errorf("load facts: %w", err)
	}
	defer rows.Close()

	var facts []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return "", "", fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, "- "+content)
	}
	if err := rows.Err(); err != nil {
		return "", "", err
	}
	return role, strings.Join(facts, "\n"), nil
}
