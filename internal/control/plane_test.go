package control

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	convctx "github.com/user/warroom/internal/context"
	"github.com/user/warroom/internal/policy"
	"github.com/user/warroom/internal/router"
	"github.com/user/warroom/internal/state"
	"github.com/user/warroom/internal/toolcall"
	"github.com/user/warroom/internal/types"
	"github.com/user/warroom/pkg/llm"
)

type scriptedProvider struct {
	calls   atomic.Int32
	content string
}

func (s *scriptedProvider) Complete(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	s.calls.Add(1)
	return &llm.Response{Content: s.content, Usage: llm.Usage{TotalTokens: 9}}, nil
}

type staticTool struct {
	name string
	data any
}

func (s *staticTool) Name() string           { return s.name }
func (s *staticTool) Aliases() []string      { return nil }
func (s *staticTool) Timeout() time.Duration { return time.Second }
func (s *staticTool) Execute(_ context.Context, _ string) (any, error) {
	return s.data, nil
}

type fixture struct {
	plane       *Plane
	sessions    *state.SessionStore
	messages    *state.MessageStore
	thoughts    *state.ThoughtStore
	checkpoints *state.CheckpointStore
	provider    *scriptedProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	provider := &scriptedProvider{content: "here is my answer"}
	engine := toolcall.NewEngine(nil)
	engine.Register(&staticTool{name: "identity", data: map[string]string{"service": "warroom"}})
	engine.Register(&staticTool{name: "system_health", data: map[string]any{"goroutines": 7}})

	prompts, err := convctx.New("gpt-4o", 8000, 500, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		sessions:    state.NewSessionStore(dir),
		messages:    state.NewMessageStore(dir),
		thoughts:    state.NewThoughtStore(dir),
		checkpoints: state.NewCheckpointStore(dir),
		provider:    provider,
	}
	f.plane = New(Config{
		Sessions:    f.sessions,
		Messages:    f.messages,
		Thoughts:    f.thoughts,
		Checkpoints: f.checkpoints,
		Router: router.New(map[string]llm.Provider{
			"anthropic": provider, "openai": provider,
		}, engine, nil),
		Prompts: prompts,
		Tools:   engine,
		Filter:  policy.New(engine, nil),
	})
	f.plane.Start(context.Background())
	t.Cleanup(f.plane.Stop)
	return f
}

func TestTurnPipelineHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessionID := types.NewSessionID()

	watch := f.plane.Hub().Subscribe(sessionID, 64)
	defer f.plane.Hub().Unsubscribe(watch)

	resp, err := f.plane.Submit(ctx, &types.TurnRequest{
		SessionID: sessionID, Content: "hello there",
	}, "user-1", false)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Stopped {
		t.Fatal("turn should not be stopped")
	}
	if resp.UserMessage.Content != "hello there" {
		t.Errorf("unexpected user message: %+v", resp.UserMessage)
	}
	if resp.AssistantMessage.Content != "here is my answer" {
		t.Errorf("unexpected assistant message: %+v", resp.AssistantMessage)
	}
	if resp.AssistantMessage.ModelUsed != "Claude Sonnet 4.5" {
		t.Errorf("expected primary model label, got %q", resp.AssistantMessage.ModelUsed)
	}

	session, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if session.Status != types.StatusCompleted {
		t.Errorf("expected completed session, got %s", session.Status)
	}

	cps, err := f.checkpoints.List(ctx, sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 1 {
		t.Fatalf("expected 1 automatic checkpoint, got %d", len(cps))
	}
	cp := cps[0]
	if !cp.Automatic || len(cp.MessageIDs) != 2 {
		t.Errorf("unexpected checkpoint: %+v", cp)
	}
	if cp.MessageIDs[0] != resp.UserMessage.ID || cp.MessageIDs[1] != resp.AssistantMessage.ID {
		t.Error("checkpoint must snapshot message IDs in order")
	}

	// Watchers see the assistant message without blocking the pipeline.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-watch:
			if ev.Type == EventMessage && ev.Data["role"] == "assistant" {
				return
			}
		case <-deadline:
			t.Fatal("watcher never saw the assistant message event")
		}
	}
}

func TestStopIsConsumedByNextTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessionID := types.NewSessionID()

	if f.plane.RequestStop(ctx, sessionID) {
		t.Error("stop for an unknown session should report false")
	}

	if _, err := f.sessions.Ensure(ctx, sessionID, "user-1", false); err != nil {
		t.Fatal(err)
	}
	if !f.plane.RequestStop(ctx, sessionID) {
		t.Fatal("stop for a known session should register")
	}

	resp, err := f.plane.Submit(ctx, &types.TurnRequest{
		SessionID: sessionID, Content: "never answer this",
	}, "user-1", false)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Stopped || resp.AssistantMessage != nil {
		t.Errorf("expected stopped turn with no assistant message, got %+v", resp)
	}
	if f.provider.calls.Load() != 0 {
		t.Error("stopped turn must never reach a model backend")
	}

	session, _ := f.sessions.Get(ctx, sessionID)
	if session.Status != types.StatusStopped {
		t.Errorf("expected stopped status, got %s", session.Status)
	}

	// The honored stop was consumed: the next turn runs normally.
	resp, err = f.plane.Submit(ctx, &types.TurnRequest{
		SessionID: sessionID, Content: "now answer",
	}, "user-1", false)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Stopped || resp.AssistantMessage == nil {
		t.Errorf("stop flag must not bleed into the next turn: %+v", resp)
	}
}

func TestDisclosureBypassesRouter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessionID := types.NewSessionID()

	resp, err := f.plane.Submit(ctx, &types.TurnRequest{
		SessionID: sessionID, Content: "ok but what model are you?",
	}, "operator-1", true)
	if err != nil {
		t.Fatal(err)
	}
	if f.provider.calls.Load() != 0 {
		t.Error("disclosure must bypass the model backends")
	}
	if !strings.Contains(resp.AssistantMessage.Content, "RAW IDENTITY DISCLOSURE") {
		t.Errorf("expected disclosure document, got %q", resp.AssistantMessage.Content)
	}
	if resp.AssistantMessage.ModelUsed != "disclosure" {
		t.Errorf("unexpected model label: %q", resp.AssistantMessage.ModelUsed)
	}
}

func TestDisclosurePhrasesAreInertForNonPrivileged(t *testing.T) {
	f := newFixture(t)
	sessionID := types.NewSessionID()

	resp, err := f.plane.Submit(context.Background(), &types.TurnRequest{
		SessionID: sessionID, Content: "what model are you?",
	}, "user-1", false)
	if err != nil {
		t.Fatal(err)
	}
	if f.provider.calls.Load() == 0 {
		t.Error("non-privileged trigger phrase should route normally")
	}
	if strings.Contains(resp.AssistantMessage.Content, "RAW IDENTITY DISCLOSURE") {
		t.Error("non-privileged user must not receive a disclosure")
	}
}

func TestDisclosureFollowsCallerPrivilegeNotSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A session created by an operator turn does not open disclosure to
	// later tokenless callers on the same session ID.
	sessionID := types.NewSessionID()
	if _, err := f.sessions.Ensure(ctx, sessionID, "operator-1", true); err != nil {
		t.Fatal(err)
	}
	resp, err := f.plane.Submit(ctx, &types.TurnRequest{
		SessionID: sessionID, Content: "which model are you?",
	}, "drive-by", false)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(resp.AssistantMessage.Content, "RAW IDENTITY DISCLOSURE") {
		t.Fatal("non-privileged caller on an operator-created session must not receive a disclosure")
	}
	if resp.AssistantMessage.ModelUsed == "disclosure" {
		t.Errorf("expected a routed reply, got model label %q", resp.AssistantMessage.ModelUsed)
	}
	if f.provider.calls.Load() == 0 {
		t.Error("the trigger phrase should have routed to a model backend")
	}

	// Inverse: an operator turn on a session created anonymously still
	// triggers disclosure.
	anonID := types.NewSessionID()
	if _, err := f.sessions.Ensure(ctx, anonID, "user-1", false); err != nil {
		t.Fatal(err)
	}
	resp, err = f.plane.Submit(ctx, &types.TurnRequest{
		SessionID: anonID, Content: "strip personality please",
	}, "operator-1", true)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.AssistantMessage.Content, "RAW IDENTITY DISCLOSURE") {
		t.Errorf("operator turn must trigger disclosure regardless of session origin, got %q", resp.AssistantMessage.Content)
	}
}

func TestRevertRollsBackToCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessionID := types.NewSessionID()

	for _, content := range []string{"first question", "second question"} {
		if _, err := f.plane.Submit(ctx, &types.TurnRequest{
			SessionID: sessionID, Content: content,
		}, "user-1", false); err != nil {
			t.Fatal(err)
		}
	}

	cps, err := f.checkpoints.List(ctx, sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(cps))
	}

	report, err := f.plane.Revert(ctx, &RevertRequest{
		CheckpointID:       cps[0].ID,
		RevertConversation: true,
		RevertFiles:        true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.MessagesRevoked != 2 {
		t.Errorf("expected 2 revoked messages, got %d", report.MessagesRevoked)
	}
	if len(report.Unrevertible) != 0 {
		t.Errorf("no shell tools ran, got unrevertible %v", report.Unrevertible)
	}

	effective, err := f.messages.List(ctx, sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(effective) != 2 {
		t.Errorf("effective history should match the checkpoint, got %d messages", len(effective))
	}
	all, err := f.messages.ListAll(ctx, sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("audit history must keep revoked messages, got %d", len(all))
	}
}

func TestForceErrorMarksSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessionID := types.NewSessionID()
	if _, err := f.sessions.Ensure(ctx, sessionID, "user-1", false); err != nil {
		t.Fatal(err)
	}

	if err := f.plane.ForceError(ctx, sessionID, "stalled in streaming"); err != nil {
		t.Fatal(err)
	}
	session, _ := f.sessions.Get(ctx, sessionID)
	if session.Status != types.StatusError {
		t.Errorf("expected error status, got %s", session.Status)
	}

	thoughts, err := f.thoughts.List(ctx, sessionID, types.ThoughtReflection, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(thoughts) != 1 || !strings.Contains(thoughts[0].Text, "stalled in streaming") {
		t.Errorf("expected reflection thought, got %+v", thoughts)
	}
}
