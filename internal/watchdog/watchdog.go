// internal/watchdog/watchdog.go
// Package watchdog sweeps for sessions stuck outside a rest state. A
// session left in reasoning or streaming past the stall deadline is a
// correctness bug somewhere in the pipeline; the watchdog forces it to the
// error state so callers and watchers are never left hanging.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/warroom/internal/types"
)

// Killer forces a stalled session into the error state. Implemented by the
// control plane.
type Killer interface {
	ForceError(ctx context.Context, sessionID types.SessionID, reason string) error
}

// Notifier receives alerts for watchdog interventions. May be nil.
type Notifier interface {
	WatchdogKill(sessionID types.SessionID, reason string)
}

// Watchdog runs a cron-scheduled stall sweep.
type Watchdog struct {
	sessions types.SessionStore
	killer   Killer
	notifier Notifier
	deadline time.Duration
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

// New creates a watchdog. schedule is a standard cron expression (default
// every minute); deadline is how long a session may sit in a non-rest state
// before it is declared stalled.
func New(sessions types.SessionStore, killer Killer, notifier Notifier, schedule string, deadline time.Duration, logger *slog.Logger) *Watchdog {
	if schedule == "" {
		schedule = "* * * * *"
	}
	if deadline <= 0 {
		deadline = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		sessions: sessions,
		killer:   killer,
		notifier: notifier,
		deadline: deadline,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start registers the sweep and starts the cron ticker.
func (w *Watchdog) Start(ctx context.Context) error {
	_, err := w.cron.AddFunc(w.schedule, func() {
		if err := w.Sweep(ctx); err != nil {
			w.logger.Error("watchdog sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule watchdog: %w", err)
	}
	w.cron.Start()
	w.logger.Info("watchdog started", "schedule", w.schedule, "deadline", w.deadline)
	return nil
}

// Stop stops the cron ticker.
func (w *Watchdog) Stop() {
	w.cron.Stop()
}

// Sweep scans all sessions once and kills the stalled ones. Exposed for
// direct invocation in tests and on demand.
func (w *Watchdog) Sweep(ctx context.Context) error {
	sessions, err := w.sessions.List(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	now := time.Now()
	for _, session := range sessions {
		if !w.stalled(session, now) {
			continue
		}
		reason := fmt.Sprintf("stuck in %s for %s", session.Status, now.Sub(session.UpdatedAt).Round(time.Second))
		w.logger.Warn("killing stalled session", "session", session.ID, "status", session.Status)
		if err := w.killer.ForceError(ctx, session.ID, reason); err != nil {
			w.logger.Error("force error failed", "session", session.ID, "error", err)
			continue
		}
		if w.notifier != nil {
			w.notifier.WatchdogKill(session.ID, reason)
		}
	}
	return nil
}

// stalled reports whether a session sits in an active state past the
// deadline. Idle and terminal states are rest states and never stall.
func (w *Watchdog) stalled(session *types.Session, now time.Time) bool {
	if session.Status == types.StatusIdle || session.Status.Terminal() {
		return false
	}
	return now.Sub(session.UpdatedAt) > w.deadline
}
