package context

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/user/warroom/internal/types"
)

type fakeMemory struct {
	role    string
	summary string
}

func (f *fakeMemory) Context(_ context.Context, _ string) (string, string, error) {
	return f.role, f.summary, nil
}

type fakeAttachments struct {
	byID map[types.AttachmentID]*types.Attachment
}

func (f *fakeAttachments) Get(_ context.Context, id types.AttachmentID) (*types.Attachment, error) {
	att, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("attachment not found: %s", id)
	}
	return att, nil
}

func testSession() *types.Session {
	return &types.Session{
		ID:        "sess-1",
		UserID:    "u1",
		Status:    types.StatusIdle,
		CreatedAt: time.Now(),
	}
}

func testHistory(contents ...string) []*types.Message {
	msgs := make([]*types.Message, len(contents))
	for i, c := range contents {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs[i] = &types.Message{Role: role, Content: c, Seq: int64(i + 1)}
	}
	return msgs
}

func TestBuildPromptIncludesMemoryAndTools(t *testing.T) {
	engine, err := New("gpt-4o", 8000, 500, &fakeMemory{role: "operator", summary: "- runs the fleet"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	system, msgs, err := engine.BuildPrompt(context.Background(), testSession(),
		testHistory("hello"), nil, []string{"read_file", "db_query"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(system, "operator") || !strings.Contains(system, "runs the fleet") {
		t.Errorf("system prompt missing memory context: %q", system)
	}
	if !strings.Contains(system, "[[TOOL:") {
		t.Errorf("system prompt missing tool grammar: %q", system)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Errorf("unexpected messages: %+v", msgs)
	}
}

func TestBuildPromptBudgetDropsOldest(t *testing.T) {
	engine, err := New("gpt-4o", 120, 20, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	long := strings.Repeat("alpha beta gamma delta ", 30)
	system, msgs, err := engine.BuildPrompt(context.Background(), testSession(),
		testHistory(long, "short reply", "latest question"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = system
	if len(msgs) == 0 {
		t.Fatal("expected at least the newest message to survive")
	}
	if msgs[len(msgs)-1].Content != "latest question" {
		t.Errorf("newest message must be kept, got %+v", msgs)
	}
	for _, m := range msgs {
		if m.Content == long {
			t.Error("oldest oversized message should have been dropped")
		}
	}
}

func TestBuildPromptAttachmentsConverted(t *testing.T) {
	atts := &fakeAttachments{byID: map[types.AttachmentID]*types.Attachment{
		"a1": {ID: "a1", Name: "listing.html", MediaType: "text/html",
			Content: "<html><body><h1>Blue Bike</h1><p>Like new</p></body></html>"},
	}}
	engine, err := New("gpt-4o", 8000, 500, nil, atts)
	if err != nil {
		t.Fatal(err)
	}

	_, msgs, err := engine.BuildPrompt(context.Background(), testSession(),
		testHistory("what is this listing?"), []types.AttachmentID{"a1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	last := msgs[len(msgs)-1].Content
	if !strings.Contains(last, "Blue Bike") {
		t.Errorf("attachment content missing: %q", last)
	}
	if strings.Contains(last, "<h1>") {
		t.Errorf("HTML should have been converted to markdown: %q", last)
	}
}
