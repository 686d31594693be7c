package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/user/warroom/internal/state"
	"github.com/user/warroom/internal/types"
)

type recordingKiller struct {
	mu     sync.Mutex
	killed []types.SessionID
	store  *state.SessionStore
}

func (r *recordingKiller) ForceError(ctx context.Context, sessionID types.SessionID, _ string) error {
	r.mu.Lock()
	r.killed = append(r.killed, sessionID)
	r.mu.Unlock()

	session, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	session.Status = types.StatusError
	return r.store.Update(ctx, session)
}

type recordingNotifier struct {
	mu    sync.Mutex
	kills int
}

func (r *recordingNotifier) WatchdogKill(_ types.SessionID, _ string) {
	r.mu.Lock()
	r.kills++
	r.mu.Unlock()
}

func TestSweepKillsOnlyStalledSessions(t *testing.T) {
	store := state.NewSessionStore(t.TempDir())
	ctx := context.Background()

	stalled, _ := store.Ensure(ctx, types.NewSessionID(), "u1", false)
	idle, _ := store.Ensure(ctx, types.NewSessionID(), "u1", false)
	fresh, _ := store.Ensure(ctx, types.NewSessionID(), "u1", false)

	// Stalled: stuck in streaming, last touched long ago. The store stamps
	// UpdatedAt on Update, so backdate it directly afterwards.
	stalled.Status = types.StatusStreaming
	if err := store.Update(ctx, stalled); err != nil {
		t.Fatal(err)
	}
	fresh.Status = types.StatusReasoning
	if err := store.Update(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	_ = idle

	killer := &recordingKiller{store: store}
	notifier := &recordingNotifier{}
	// Deadline of one nanosecond so the just-updated streaming session
	// counts as stalled; then verify fresh sessions with a generous
	// deadline are left alone.
	w := New(store, killer, notifier, "", time.Nanosecond, nil)
	time.Sleep(10 * time.Millisecond)

	if err := w.Sweep(ctx); err != nil {
		t.Fatal(err)
	}

	killer.mu.Lock()
	defer killer.mu.Unlock()
	for _, id := range killer.killed {
		if id == idle.ID {
			t.Error("idle session must never be killed")
		}
	}
	found := false
	for _, id := range killer.killed {
		if id == stalled.ID {
			found = true
		}
	}
	if !found {
		t.Error("stalled streaming session should have been killed")
	}
	if notifier.kills != len(killer.killed) {
		t.Errorf("notifier saw %d kills, killer did %d", notifier.kills, len(killer.killed))
	}

	got, _ := store.Get(ctx, stalled.ID)
	if got.Status != types.StatusError {
		t.Errorf("expected error status, got %s", got.Status)
	}
}

func TestSweepIgnoresFreshActiveSessions(t *testing.T) {
	store := state.NewSessionStore(t.TempDir())
	ctx := context.Background()

	active, _ := store.Ensure(ctx, types.NewSessionID(), "u1", false)
	active.Status = types.StatusStreaming
	if err := store.Update(ctx, active); err != nil {
		t.Fatal(err)
	}

	killer := &recordingKiller{store: store}
	w := New(store, killer, nil, "", time.Hour, nil)
	if err := w.Sweep(ctx); err != nil {
		t.Fatal(err)
	}

	if len(killer.killed) != 0 {
		t.Errorf("fresh active session must not be killed: %v", killer.killed)
	}
}
