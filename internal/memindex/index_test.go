package memindex

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestSearchMatchesAndOrders(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	for _, content := range []string{
		"prefers terse answers",
		"works on the pricing service",
		"pricing review every friday",
	} {
		if err := ix.Add(ctx, "u1", "fact", content); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := ix.Search(ctx, "pricing", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(entries))
	}
}

func TestContextRoleAndSummary(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	if err := ix.Add(ctx, "u1", "role", "operator"); err != nil {
		t.Fatal(err)
	}
	if err := ix.Add(ctx, "u1", "fact", "runs the fleet dashboard"); err != nil {
		t.Fatal(err)
	}
	if err := ix.Add(ctx, "u2", "fact", "unrelated user"); err != nil {
		t.Fatal(err)
	}

	role, summary, err := ix.Context(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if role != "operator" {
		t.Errorf("expected role operator, got %q", role)
	}
	if !strings.Contains(summary, "fleet dashboard") {
		t.Errorf("summary missing fact: %q", summary)
	}
	if strings.Contains(summary, "unrelated") {
		t.Errorf("summary leaked another user's fact: %q", summary)
	}
}

func TestContextNoRole(t *testing.T) {
	ix := openTestIndex(t)

	role, summary, err := ix.Context(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if role != "" || summary != "" {
		t.Errorf("expected empty context, got role=%q summary=%q", role, summary)
	}
}
