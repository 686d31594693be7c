// internal/state/checkpoint.go
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

// CheckpointStore is a single JSONL-backed append-only checkpoint log at
// checkpoints.jsonl. Checkpoints are immutable snapshots of message-ID
// sequences; lookups scan the file, which stays small because snapshots
// carry IDs only.
type CheckpointStore struct {
	root string
	mu   sync.Mutex
}

// NewCheckpointStore creates a new file-backed CheckpointStore rooted at the given directory.
func NewCheckpointStore(root string) *CheckpointStore {
	return &CheckpointStore{root: root}
}

func (c *CheckpointStore) path() string {
	return filepath.Join(c.root, "checkpoints.jsonl")
}

// readAll loads every checkpoint in file order. Caller must hold the lock.
func (c *CheckpointStore) readAll() ([]*types.Checkpoint, error) {
	f, err := os.Open(c.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open checkpoints file: %w", err)
	}
	defer f.Close()

	var cps []*types.Checkpoint
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var cp types.Checkpoint
		if err := json.Unmarshal(scanner.Bytes(), &cp); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
		}
		cps = append(cps, &cp)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan checkpoints file: %w", err)
	}
	return cps, nil
}

// Append adds a checkpoint, stamping ID and time if unset.
func (c *CheckpointStore) Append(_ context.Context, cp *types.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cp.ID == "" {
		cp.ID = types.NewCheckpointID()
	}
	if cp.At.IsZero() {
		cp.At = time.Now()
	}

	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	f, err := os.OpenFile(c.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open checkpoints file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Get returns the checkpoint with the given ID.
func (c *CheckpointStore) Get(_ context.Context, id types.CheckpointID) (*types.Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cps, err := c.readAll()
	if err != nil {
		return nil, err
	}
	for _, cp := range cps {
		if cp.ID == id {
			return cp, nil
		}
	}
	return nil, fmt.Errorf("checkpoint not found: %s", id)
}

// List returns all checkpoints for a session in creation order.
func (c *CheckpointStore) List(_ context.Context, sessionID types.SessionID) ([]*types.Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cps, err := c.readAll()
	if err != nil {
		return nil, err
	}
	var out []*types.Checkpoint
	for _, cp := range cps {
		if cp.SessionID == sessionID {
			out = append(out, cp)
		}
	}
	return out, nil
}
