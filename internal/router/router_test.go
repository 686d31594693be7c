package router

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/warroom/internal/toolcall"
	"github.com/user/warroom/pkg/llm"
)

type reply struct {
	resp *llm.Response
	err  error
}

// fakeProvider replays scripted replies in order, repeating the last one
// once the script runs out.
type fakeProvider struct {
	mu      sync.Mutex
	calls   []*llm.Request
	replies []reply
}

func (f *fakeProvider) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	i := len(f.calls) - 1
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	return f.replies[i].resp, f.replies[i].err
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func ok(content string, tokens int) reply {
	return reply{resp: &llm.Response{Content: content, Usage: llm.Usage{TotalTokens: tokens}}}
}

type echoTool struct{ name string }

func (e *echoTool) Name() string           { return e.name }
func (e *echoTool) Aliases() []string      { return nil }
func (e *echoTool) Timeout() time.Duration { return time.Second }
func (e *echoTool) Execute(_ context.Context, params string) (any, error) {
	return "echo:" + params, nil
}

func newTestEngine(names ...string) *toolcall.Engine {
	engine := toolcall.NewEngine(nil)
	for _, n := range names {
		engine.Register(&echoTool{name: n})
	}
	return engine
}

func TestCandidatesPreferredFirstWithDedup(t *testing.T) {
	r := New(nil, nil, nil)

	got := r.candidates("gpt-4o")
	want := []string{"gpt-4o", "claude-sonnet-4-5", "claude-3-5-haiku-latest", "gpt-4o-mini"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("candidates(gpt-4o) = %v, want %v", got, want)
	}

	if got := r.candidates(""); !reflect.DeepEqual(got, DefaultPriority) {
		t.Errorf("candidates(\"\") = %v, want default priority", got)
	}

	got = r.candidates("claude-opus-next")
	if got[0] != "claude-opus-next" || len(got) != len(DefaultPriority)+1 {
		t.Errorf("unknown preferred model should be prepended, got %v", got)
	}
}

func TestCompleteFallsThroughOnRateLimit(t *testing.T) {
	anthropic := &fakeProvider{replies: []reply{
		{err: &llm.APIError{Status: 429, Body: "rate limited"}},
	}}
	openai := &fakeProvider{replies: []reply{ok("fallback answer", 42)}}

	r := New(map[string]llm.Provider{"anthropic": anthropic, "openai": openai}, nil, nil)
	res := r.Complete(context.Background(), &Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})

	if res.ModelID != "gpt-4o" {
		t.Errorf("expected fallback to gpt-4o, got %s", res.ModelID)
	}
	if res.Content != "fallback answer" || res.TokensUsed != 42 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCompleteToolRoundTripIsBounded(t *testing.T) {
	first := "Checking now. [[TOOL:read_file:main.go]] [[TOOL:list_dir:internal]] [[TOOL:system_health]]"
	// The follow-up contains tool syntax, which must be passed through
	// without a second round trip.
	second := "Done. Next time run [[TOOL:system_health]] yourself."
	anthropic := &fakeProvider{replies: []reply{ok(first, 10), ok(second, 5)}}

	r := New(map[string]llm.Provider{"anthropic": anthropic},
		newTestEngine("read_file", "list_dir", "system_health"), nil)
	res := r.Complete(context.Background(), &Request{
		Privileged: true,
		Messages:   []llm.Message{{Role: "user", Content: "check the repo"}},
	})

	if got := anthropic.callCount(); got != 2 {
		t.Fatalf("expected exactly 2 provider calls, got %d", got)
	}
	if res.Content != second {
		t.Errorf("expected follow-up content, got %q", res.Content)
	}
	if want := []string{"read_file", "list_dir", "system_health"}; !reflect.DeepEqual(res.ToolsExecuted, want) {
		t.Errorf("tools executed = %v, want %v", res.ToolsExecuted, want)
	}
	if res.TokensUsed != 15 {
		t.Errorf("token usage should sum both calls, got %d", res.TokensUsed)
	}

	followUp := anthropic.calls[1]
	last := followUp.Messages[len(followUp.Messages)-1]
	if last.Role != "user" || !strings.Contains(last.Content, "echo:main.go") {
		t.Errorf("follow-up should carry tool results, got %+v", last)
	}
}

func TestCompleteNonPrivilegedPassesToolSyntaxThrough(t *testing.T) {
	content := "You could try [[TOOL:terminal:rm -rf /]] but I won't."
	anthropic := &fakeProvider{replies: []reply{ok(content, 1)}}

	r := New(map[string]llm.Provider{"anthropic": anthropic},
		newTestEngine("terminal"), nil)
	res := r.Complete(context.Background(), &Request{
		Privileged: false,
		Messages:   []llm.Message{{Role: "user", Content: "hi"}},
	})

	if anthropic.callCount() != 1 {
		t.Errorf("non-privileged request must not trigger a follow-up, got %d calls", anthropic.callCount())
	}
	if res.Content != content {
		t.Errorf("tool syntax must pass through literally, got %q", res.Content)
	}
	if len(res.ToolsExecuted) != 0 {
		t.Errorf("no tools should run, got %v", res.ToolsExecuted)
	}
}

func TestCompleteFollowUpFailureKeepsOriginal(t *testing.T) {
	first := "Looking. [[TOOL:read_file:go.mod]]"
	anthropic := &fakeProvider{replies: []reply{
		ok(first, 7),
		{err: &llm.APIError{Status: 500, Body: "upstream exploded"}},
	}}

	r := New(map[string]llm.Provider{"anthropic": anthropic},
		newTestEngine("read_file"), nil)
	res := r.Complete(context.Background(), &Request{
		Privileged: true,
		Messages:   []llm.Message{{Role: "user", Content: "read go.mod"}},
	})

	if res.Content != first {
		t.Errorf("failed follow-up should keep the first completion, got %q", res.Content)
	}
	if len(res.ToolsExecuted) != 1 {
		t.Errorf("tool should still have executed, got %v", res.ToolsExecuted)
	}
}

func TestCompleteExhaustionReturnsSentinel(t *testing.T) {
	down := func() *fakeProvider {
		return &fakeProvider{replies: []reply{
			{err: &llm.APIError{Status: 503, Body: "down"}},
		}}
	}
	anthropic, openai := down(), down()

	r := New(map[string]llm.Provider{"anthropic": anthropic, "openai": openai}, nil, nil)
	res := r.Complete(context.Background(), &Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})

	if res.ModelID != SentinelModel || res.ModelLabel != SentinelModel {
		t.Errorf("expected sentinel model label, got %s/%s", res.ModelID, res.ModelLabel)
	}
	if res.Content != unavailableReply {
		t.Errorf("expected canned reply, got %q", res.Content)
	}
	// Chain (4) plus the legacy retry per provider (2).
	if total := anthropic.callCount() + openai.callCount(); total != 6 {
		t.Errorf("expected 6 attempts, got %d", total)
	}
}
