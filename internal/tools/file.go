// Package tools implements the backend collaborators behind the tool
// invocation engine: file access, database queries, shell execution (local
// and remote), memory search, and service introspection.
package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	maxFileBytes  = 64 * 1024
	maxSearchHits = 50
	fileIOTimeout = 10 * time.Second
)

// resolvePath joins a workspace-relative path and rejects escapes.
func resolvePath(root, rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		rel = "."
	}
	abs := filepath.Join(root, filepath.Clean("/"+rel))
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return abs, nil
}

// ReadFile reads a file from the workspace.
type ReadFile struct {
	root string
}

func NewReadFile(root string) *ReadFile { return &ReadFile{root: root} }

func (r *ReadFile) Name() string           { return "read_file" }
func (r *ReadFile) Aliases() []string      { return []string{"read"} }
func (r *ReadFile) Timeout() time.Duration { return fileIOTimeout }

func (r *ReadFile) Execute(_ context.Context, params string) (any, error) {
	path, err := resolvePath(r.root, params)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	truncated := false
	if len(data) > maxFileBytes {
		data = data[:maxFileBytes]
		truncated = true
	}
	return map[string]any{
		"path":      strings.TrimSpace(params),
		"content":   string(data),
		"truncated": truncated,
	}, nil
}

// ListDir lists a workspace directory.
type ListDir struct {
	root string
}

func NewListDir(root string) *ListDir { return &ListDir{root: root} }

func (l *ListDir) Name() string           { return "list_dir" }
func (l *ListDir) Aliases() []string      { return []string{"ls"} }
func (l *ListDir) Timeout() time.Duration { return fileIOTimeout }

func (l *ListDir) Execute(_ context.Context, params string) (any, error) {
	path, err := resolvePath(l.root, params)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// SearchCode walks the workspace looking for lines containing the query.
type SearchCode struct {
	root string
}

func NewSearchCode(root string) *SearchCode { return &SearchCode{root: root} }

func (s *SearchCode) Name() string           { return "search_code" }
func (s *SearchCode) Aliases() []string      { return []string{"search"} }
func (s *SearchCode) Timeout() time.Duration { return fileIOTimeout }

type searchHit struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (s *SearchCode) Execute(ctx context.Context, params string) (any, error) {
	query := strings.TrimSpace(params)
	if query == "" {
		return nil, fmt.Errorf("search query is required")
	}
	needle := strings.ToLower(query)

	var hits []searchHit
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if name := d.Name(); name == ".git" || name == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if len(hits) >= maxSearchHits {
			return filepath.SkipAll
		}
		info, err := d.Info()
		if err != nil || info.Size() > 1<<20 {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || strings.ContainsRune(string(data[:min(len(data), 512)]), 0) {
			return nil
		}
		rel, _ := filepath.Rel(s.root, path)
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(strings.ToLower(line), needle) {
				hits = append(hits, searchHit{Path: rel, Line: i + 1, Text: strings.TrimSpace(line)})
				if len(hits) >= maxSearchHits {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return hits, nil
}
