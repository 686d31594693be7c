// internal/control/plane.go
// Package control is the conversation control plane: it owns the session
// state machine, serializes turns per session, logs thoughts, checkpoints
// completed turns, and pushes live events to watchers.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	convctx "github.com/user/warroom/internal/context"
	"github.com/user/warroom/internal/policy"
	"github.com/user/warroom/internal/router"
	"github.com/user/warroom/internal/toolcall"
	"github.com/user/warroom/internal/types"
)

// Notifier pushes operator alerts. Implementations must tolerate being
// called from the turn pipeline; a nil Notifier disables alerts.
type Notifier interface {
	TurnError(sessionID types.SessionID, message string)
	Disclosure(sessionID types.SessionID, userID string)
}

// Config wires a Plane to its collaborators.
type Config struct {
	Sessions    types.SessionStore
	Messages    types.MessageStore
	Thoughts    types.ThoughtStore
	Checkpoints types.CheckpointStore
	Router      *router.Router
	Prompts     *convctx.Engine
	Tools       *toolcall.Engine
	Filter      *policy.Filter
	Notifier    Notifier
	Logger      *slog.Logger
	// MaxConcurrent caps simultaneous turns across all sessions.
	MaxConcurrent int64
}

// Plane runs the turn pipeline. Each session is single-writer: its turns
// run strictly in order, so the state machine never races itself.
type Plane struct {
	sessions    types.SessionStore
	messages    types.MessageStore
	thoughts    types.ThoughtStore
	checkpoints types.CheckpointStore
	router      *router.Router
	prompts     *convctx.Engine
	tools       *toolcall.Engine
	filter      *policy.Filter
	notifier    Notifier
	logger      *slog.Logger

	hub   *Hub
	queue *Queue

	mu    sync.Mutex
	stops map[types.SessionID]bool
}

// New creates a control plane from the given wiring.
func New(cfg Config) *Plane {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	p := &Plane{
		sessions:    cfg.Sessions,
		messages:    cfg.Messages,
		thoughts:    cfg.Thoughts,
		checkpoints: cfg.Checkpoints,
		router:      cfg.Router,
		prompts:     cfg.Prompts,
		tools:       cfg.Tools,
		filter:      cfg.Filter,
		notifier:    cfg.Notifier,
		logger:      cfg.Logger,
		hub:         NewHub(),
		queue:       NewQueue(cfg.MaxConcurrent),
		stops:       make(map[types.SessionID]bool),
	}
	p.queue.SetProcessor(p.process)
	return p
}

// Start begins draining the turn queue. Must be called before Submit.
func (p *Plane) Start(ctx context.Context) {
	p.queue.Start(ctx)
}

// Stop shuts down the queue and waits for in-flight turns.
func (p *Plane) Stop() {
	p.queue.Stop()
}

// Hub exposes the watcher hub for the push stream.
func (p *Plane) Hub() *Hub { return p.hub }

// Active returns the number of turns currently in flight.
func (p *Plane) Active() int { return p.queue.Active() }

// Submit enqueues one turn and blocks until its outcome or ctx cancel.
func (p *Plane) Submit(ctx context.Context, req *types.TurnRequest, userID string, privileged bool) (*types.TurnResponse, error) {
	if req.SessionID == "" {
		return nil, errors.New("session_id is required")
	}
	turn := NewTurn(req, userID, privileged)
	if err := p.queue.Enqueue(turn); err != nil {
		return nil, err
	}
	select {
	case out := <-turn.reply:
		return out.resp, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RequestStop raises the session's stop flag. The flag is consumed by the
// next suspension point; if no turn is in flight it survives to veto the
// next turn's pre-checks. Returns false for unknown sessions.
func (p *Plane) RequestStop(ctx context.Context, sessionID types.SessionID) bool {
	if _, err := p.sessions.Get(ctx, sessionID); err != nil {
		return false
	}
	p.mu.Lock()
	p.stops[sessionID] = true
	p.mu.Unlock()
	p.logger.Info("stop requested", "session", sessionID)
	return true
}

// consumeStop checks and clears the stop flag in one step, so a single
// stop request halts exactly one turn.
func (p *Plane) consumeStop(sessionID types.SessionID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stops[sessionID] {
		delete(p.stops, sessionID)
		return true
	}
	return false
}

// process runs one turn end to end. Runs on a queue lane goroutine, one
// turn at a time per session.
func (p *Plane) process(ctx context.Context, turn *Turn) {
	session, err := p.sessions.Ensure(ctx, turn.SessionID, turn.UserID, turn.Privileged)
	if err != nil {
		turn.deliver(nil, fmt.Errorf("ensure session: %w", err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.failTurn(ctx, session, fmt.Sprintf("panic: %v", r))
			turn.deliver(nil, errors.New("internal error processing turn"))
		}
	}()

	start := time.Now()
	session.LastTurnAt = start
	p.setStatus(ctx, session, types.StatusReasoning)

	userMsg := &types.Message{
		ID:        types.NewMessageID(),
		SessionID: session.ID,
		Role:      "user",
		Content:   turn.Request.Content,
		CreatedAt: time.Now(),
	}
	if err := p.messages.Append(ctx, userMsg); err != nil {
		p.failTurn(ctx, session, fmt.Sprintf("record user message: %v", err))
		turn.deliver(nil, errors.New("internal error processing turn"))
		return
	}
	p.hub.Publish(session.ID, Event{Type: EventMessage, Data: map[string]any{
		"role": "user", "message_id": string(userMsg.ID),
	}})

	// Suspension point 1: the user message is durable.
	if p.consumeStop(session.ID) {
		p.finishStopped(ctx, session, turn, userMsg)
		return
	}

	if p.filter != nil && p.filter.ShouldDisclose(turn.Privileged, turn.Request.Content) {
		p.discloseTurn(ctx, session, turn, userMsg, start)
		return
	}

	p.thought(ctx, session.ID, types.ThoughtReasoning, "assembling prompt", userMsg.ID)

	history, err := p.messages.List(ctx, session.ID)
	if err != nil {
		p.failTurn(ctx, session, fmt.Sprintf("load history: %v", err))
		turn.deliver(nil, errors.New("internal error processing turn"))
		return
	}
	var toolNames []string
	if turn.Privileged && p.tools != nil {
		toolNames = p.tools.Names()
	}
	system, msgs, err := p.prompts.BuildPrompt(ctx, session, history, turn.Request.AttachmentIDs, toolNames)
	if err != nil {
		p.failTurn(ctx, session, fmt.Sprintf("build prompt: %v", err))
		turn.deliver(nil, errors.New("internal error processing turn"))
		return
	}
	if turn.Privileged {
		system += "\n\n" + policy.Addendum
	}

	// Suspension point 2: immediately before model dispatch.
	if p.consumeStop(session.ID) {
		p.finishStopped(ctx, session, turn, userMsg)
		return
	}

	p.setStatus(ctx, session, types.StatusStreaming)
	result := p.router.Complete(ctx, &router.Request{
		Preferred:  turn.Request.Model,
		System:     system,
		Messages:   msgs,
		Privileged: turn.Privileged,
		Trace: func(kind types.ThoughtKind, text string) {
			p.thought(ctx, session.ID, kind, text, userMsg.ID)
		},
	})
	if result.ModelID == router.SentinelModel && p.notifier != nil {
		p.notifier.TurnError(session.ID, "all model backends unavailable")
	}

	assistant := &types.Message{
		ID:            types.NewMessageID(),
		SessionID:     session.ID,
		Role:          "assistant",
		Content:       result.Content,
		ModelUsed:     result.ModelLabel,
		TokensUsed:    result.TokensUsed,
		ToolsExecuted: result.ToolsExecuted,
		ElapsedMs:     time.Since(start).Milliseconds(),
		CreatedAt:     time.Now(),
	}
	if err := p.messages.Append(ctx, assistant); err != nil {
		p.failTurn(ctx, session, fmt.Sprintf("record assistant message: %v", err))
		turn.deliver(nil, errors.New("internal error processing turn"))
		return
	}
	p.hub.Publish(session.ID, Event{Type: EventMessage, Data: map[string]any{
		"role": "assistant", "message_id": string(assistant.ID), "model": assistant.ModelUsed,
	}})

	p.checkpoint(ctx, session, assistant)
	p.setStatus(ctx, session, types.StatusCompleted)
	turn.deliver(&types.TurnResponse{UserMessage: userMsg, AssistantMessage: assistant}, nil)
}

// discloseTurn serves an identity disclosure without touching the router.
func (p *Plane) discloseTurn(ctx context.Context, session *types.Session, turn *Turn, userMsg *types.Message, start time.Time) {
	p.thought(ctx, session.ID, types.ThoughtReasoning, "identity disclosure triggered", userMsg.ID)
	p.setStatus(ctx, session, types.StatusStreaming)

	preferred := turn.Request.Model
	if preferred == "" {
		preferred = router.DefaultPriority[0]
	}
	doc := p.filter.Disclose(ctx, session, preferred)

	assistant := &types.Message{
		ID:        types.NewMessageID(),
		SessionID: session.ID,
		Role:      "assistant",
		Content:   doc,
		ModelUsed: "disclosure",
		ElapsedMs: time.Since(start).Milliseconds(),
		CreatedAt: time.Now(),
	}
	if err := p.messages.Append(ctx, assistant); err != nil {
		p.failTurn(ctx, session, fmt.Sprintf("record disclosure: %v", err))
		turn.deliver(nil, errors.New("internal error processing turn"))
		return
	}
	p.hub.Publish(session.ID, Event{Type: EventMessage, Data: map[string]any{
		"role": "assistant", "message_id": string(assistant.ID), "model": assistant.ModelUsed,
	}})
	if p.notifier != nil {
		p.notifier.Disclosure(session.ID, session.UserID)
	}

	p.checkpoint(ctx, session, assistant)
	p.setStatus(ctx, session, types.StatusCompleted)
	turn.deliver(&types.TurnResponse{UserMessage: userMsg, AssistantMessage: assistant}, nil)
}

// finishStopped honors a stop: the user message stays recorded, no
// assistant message is produced, and the consumed flag does not bleed into
// the next turn.
func (p *Plane) finishStopped(ctx context.Context, session *types.Session, turn *Turn, userMsg *types.Message) {
	p.thought(ctx, session.ID, types.ThoughtReflection, "stop honored before dispatch", userMsg.ID)
	p.setStatus(ctx, session, types.StatusStopped)
	p.hub.Publish(session.ID, Event{Type: EventStopped})
	turn.deliver(&types.TurnResponse{UserMessage: userMsg, Stopped: true}, nil)
}

// failTurn records a reflection and forces the session to a terminal state
// so it is never left hanging mid-pipeline.
func (p *Plane) failTurn(ctx context.Context, session *types.Session, detail string) {
	p.logger.Error("turn failed", "session", session.ID, "detail", detail)
	p.thought(ctx, session.ID, types.ThoughtReflection, "turn failed: "+detail, "")
	p.setStatus(ctx, session, types.StatusCompleted)
	if p.notifier != nil {
		p.notifier.TurnError(session.ID, detail)
	}
}

// ForceError moves a stalled session to the error state. Used by the
// watchdog for sessions stuck outside a rest state.
func (p *Plane) ForceError(ctx context.Context, sessionID types.SessionID, reason string) error {
	session, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	p.thought(ctx, sessionID, types.ThoughtReflection, "session forced to error: "+reason, "")
	p.setStatus(ctx, session, types.StatusError)
	return nil
}

func (p *Plane) setStatus(ctx context.Context, session *types.Session, status types.SessionStatus) {
	session.Status = status
	if err := p.sessions.Update(ctx, session); err != nil {
		p.logger.Error("update session status", "session", session.ID, "status", status, "error", err)
	}
	p.hub.Publish(session.ID, Event{Type: EventStatus, Data: map[string]any{
		"status": string(status),
	}})
}

// thought appends to the diagnostic log and pushes it to watchers
// fire-and-forget.
func (p *Plane) thought(ctx context.Context, sessionID types.SessionID, kind types.ThoughtKind, text string, related types.MessageID) {
	t := &types.Thought{
		SessionID:        sessionID,
		Kind:             kind,
		Text:             text,
		RelatedMessageID: related,
	}
	if err := p.thoughts.Append(ctx, t); err != nil {
		p.logger.Warn("append thought", "session", sessionID, "error", err)
	}
	p.hub.Publish(sessionID, Event{Type: EventThought, Data: map[string]any{
		"kind": string(kind), "text": text,
	}})
}

// checkpoint snapshots the effective message-ID sequence after a completed
// turn. Checkpoint failures are logged, not fatal: the turn already
// happened.
func (p *Plane) checkpoint(ctx context.Context, session *types.Session, last *types.Message) {
	effective, err := p.messages.List(ctx, session.ID)
	if err != nil {
		p.logger.Warn("checkpoint skipped", "session", session.ID, "error", err)
		return
	}
	ids := make([]types.MessageID, len(effective))
	for i, msg := range effective {
		ids[i] = msg.ID
	}
	cp := &types.Checkpoint{
		SessionID:  session.ID,
		MessageID:  last.ID,
		MessageIDs: ids,
		CreatedBy:  "system",
		Automatic:  true,
	}
	if err := p.checkpoints.Append(ctx, cp); err != nil {
		p.logger.Warn("checkpoint failed", "session", session.ID, "error", err)
	}
}
