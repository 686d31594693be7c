package tools

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const (
	dbTimeout  = 10 * time.Second
	maxDBRows  = 100
	maxCellLen = 500
)

// DBQuery runs a read-only SQL query against the service database.
type DBQuery struct {
	db *sql.DB
}

func NewDBQuery(db *sql.DB) *DBQuery { return &DBQuery{db: db} }

func (q *DBQuery) Name() string           { return "db_query" }
func (q *DBQuery) Aliases() []string      { return []string{"db"} }
func (q *DBQuery) Timeout() time.Duration { return dbTimeout }

func (q *DBQuery) Execute(ctx context.Context, params string) (any, error) {
	query := strings.TrimSpace(params)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	lowered := strings.ToLower(query)
	if !strings.HasPrefix(lowered, "select") && !strings.HasPrefix(lowered, "with") {
		return nil, fmt.Errorf("only read-only queries are allowed")
	}
	return runQuery(ctx, q.db, query)
}

func runQuery(ctx context.Context, db *sql.DB, query string, args ...any) (any, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		if len(out) >= maxDBRows {
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			if s, ok := v.(string); ok && len(s) > maxCellLen {
				v = s[:maxCellLen] + "…"
			}
			row[col] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return map[string]any{"columns": cols, "rows": out, "row_count": len(out)}, nil
}

// DBSchema lists the tables and their DDL.
type DBSchema struct {
	db *sql.DB
}

func NewDBSchema(db *sql.DB) *DBSchema { return &DBSchema{db: db} }

func (s *DBSchema) Name() string           { return "db_schema" }
func (s *DBSchema) Aliases() []string      { return []string{"schema"} }
func (s *DBSchema) Timeout() time.Duration { return dbTimeout }

func (s *DBSchema) Execute(ctx context.Context, _ string) (any, error) {
	return runQuery(ctx, s.db,
		`SELECT name, sql FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
}

// ProjectStats reports row counts per table.
type ProjectStats struct {
	db *sql.DB
}

func NewProjectStats(db *sql.DB) *ProjectStats { return &ProjectStats{db: db} }

func (p *ProjectStats) Name() string           { return "project_stats" }
func (p *ProjectStats) Aliases() []string      { return []string{"stats"} }
func (p *ProjectStats) Timeout() time.Duration { return dbTimeout }

func (p *ProjectStats) Execute(ctx context.Context, _ string) (any, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := make(map[string]int64, len(tables))
	for _, table := range tables {
		var count int64
		// Table names come from sqlite_master, not user input.
		if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		stats[table] = count
	}
	return stats, nil
}
