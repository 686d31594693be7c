// internal/state/message.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/warroom/internal/types"
)

// MessageStore is a JSONL-backed message log, one file per session at
// sessions/<sessionID>/messages.jsonl. Messages are append-only; revert
// flips the revoked flag on a suffix by atomically rewriting the file, so
// the audit history survives.
type MessageStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
}

// NewMessageStore creates a new file-backed MessageStore rooted at the given directory.
func NewMessageStore(root string) *MessageStore {
	return &MessageStore{
		root:  root,
		locks: make(map[types.SessionID]*sync.Mutex),
	}
}

// getLock returns the per-session mutex, creating one if it doesn't exist.
func (m *MessageStore) getLock(sessionID types.SessionID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lock, ok := m.locks[sessionID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	m.locks[sessionID] = lock
	return lock
}

func (m *MessageStore) messagesPath(sessionID types.SessionID) string {
	return filepath.Join(m.root, "sessions", string(sessionID), "messages.jsonl")
}

// readAll loads every message in file order. Caller must hold the session lock.
func (m *MessageStore) readAll(sessionID types.SessionID) ([]*types.Message, error) {
	f, err := os.Open(m.messagesPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	var msgs []*types.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var msg types.Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan messages file: %w", err)
	}
	return msgs, nil
}

// writeAll atomically rewrites the session's message file. Caller must hold
// the session lock.
func (m *MessageStore) writeAll(sessionID types.SessionID, msgs []*types.Message) error {
	path := m.messagesPath(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp messages file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("marshal message: %w", err)
		}
		data = append(data, '\n')
		if _, err := w.Write(data); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("write message: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush messages: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp messages file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp messages file: %w", err)
	}
	return nil
}

// Append adds a message to the session's log with an auto-incremented
// sequence number.
func (m *MessageStore) Append(_ context.Context, msg *types.Message) error {
	lock := m.getLock(msg.SessionID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.readAll(msg.SessionID)
	if err != nil {
		return err
	}
	msg.Seq = int64(len(existing)) + 1

	path := m.messagesPath(msg.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// List returns the effective (non-revoked) history in order.
func (m *MessageStore) List(_ context.Context, sessionID types.SessionID) ([]*types.Message, error) {
	lock := m.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	all, err := m.readAll(sessionID)
	if err != nil {
		return nil, err
	}
	effective := make([]*types.Message, 0, len(all))
	for _, msg := range all {
		if !msg.Revoked {
			effective = append(effective, msg)
		}
	}
	return effective, nil
}

// ListAll returns every message including revoked ones, for audit.
func (m *MessageStore) ListAll(_ context.Context, sessionID types.SessionID) ([]*types.Message, error) {
	lock := m.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return m.readAll(sessionID)
}

// RevokeAfter marks every message with Seq > afterSeq as revoked and
// returns how many were flipped.
func (m *MessageStore) RevokeAfter(_ context.Context, sessionID types.SessionID, afterSeq int64) (int, error) {
	lock := m.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	all, err := m.readAll(sessionID)
	if err != nil {
		return 0, err
	}

	revoked := 0
	for _, msg := range all {
		if msg.Seq > afterSeq && !msg.Revoked {
			msg.Revoked = true
			revoked++
		}
	}
	if revoked == 0 {
		return 0, nil
	}
	if err := m.writeAll(sessionID, all); err != nil {
		return 0, err
	}
	return revoked, nil
}
