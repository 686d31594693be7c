// internal/state/thought.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/warroom/internal/types"
)

// ThoughtStore is a JSONL-backed append-only thought log, one file per
// session at sessions/<sessionID>/thoughts.jsonl. Thoughts are diagnostic
// records; nothing ever rewrites this file.
type ThoughtStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
}

// NewThoughtStore creates a new file-backed ThoughtStore rooted at the given directory.
func NewThoughtStore(root string) *ThoughtStore {
	return &ThoughtStore{
		root:  root,
		locks: make(map[types.SessionID]*sync.Mutex),
	}
}

func (t *ThoughtStore) getLock(sessionID types.SessionID) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	if lock, ok := t.locks[sessionID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	t.locks[sessionID] = lock
	return lock
}

func (t *ThoughtStore) thoughtsPath(sessionID types.SessionID) string {
	return filepath.Join(t.root, "sessions", string(sessionID), "thoughts.jsonl")
}

// Append adds a thought to the session's log, stamping ID and time if unset.
func (t *ThoughtStore) Append(_ context.Context, thought *types.Thought) error {
	lock := t.getLock(thought.SessionID)
	lock.Lock()
	defer lock.Unlock()

	if thought.ID == "" {
		thought.ID = types.NewThoughtID()
	}
	if thought.At.IsZero() {
		thought.At = time.Now()
	}

	path := t.thoughtsPath(thought.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.Marshal(thought)
	if err != nil {
		return fmt.Errorf("marshal thought: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open thoughts file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write thought: %w", err)
	}
	return nil
}

// List returns the session's thoughts in order, optionally filtered by kind
// (empty means all kinds). limit > 0 keeps only the newest entries.
func (t *ThoughtStore) List(_ context.Context, sessionID types.SessionID, kind types.ThoughtKind, limit int) ([]*types.Thought, error) {
	lock := t.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(t.thoughtsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open thoughts file: %w", err)
	}
	defer f.Close()

	var thoughts []*types.Thought
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var thought types.Thought
		if err := json.Unmarshal(scanner.Bytes(), &thought); err != nil {
			return nil, fmt.Errorf("unmarshal thought: %w", err)
		}
		if kind != "" && thought.Kind != kind {
			continue
		}
		thoughts = append(thoughts, &thought)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan thoughts file: %w", err)
	}

	if limit > 0 && len(thoughts) > limit {
		thoughts = thoughts[len(thoughts)-limit:]
	}
	return thoughts, nil
}
