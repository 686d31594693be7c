package tools

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/user/warroom/internal/buildinfo"
	"github.com/user/warroom/internal/memindex"
)

// SystemHealth reports live process and service health numbers.
type SystemHealth struct {
	activeSessions func() int
}

// NewSystemHealth creates the health tool. activeSessions reports the number
// of conversations currently in flight; nil is treated as zero.
func NewSystemHealth(activeSessions func() int) *SystemHealth {
	return &SystemHealth{activeSessions: activeSessions}
}

func (h *SystemHealth) Name() string           { return "system_health" }
func (h *SystemHealth) Aliases() []string      { return []string{"health"} }
func (h *SystemHealth) Timeout() time.Duration { return 5 * time.Second }

func (h *SystemHealth) Execute(_ context.Context, _ string) (any, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	active := 0
	if h.activeSessions != nil {
		active = h.activeSessions()
	}

	return map[string]any{
		"uptime":          buildinfo.Uptime().String(),
		"goroutines":      runtime.NumGoroutine(),
		"heap_alloc_mb":   mem.HeapAlloc / (1 << 20),
		"num_gc":          mem.NumGC,
		"active_sessions": active,
		"pid":             os.Getpid(),
		"go_version":      runtime.Version(),
	}, nil
}

// Identity discloses the raw service identity: build metadata, host, and
// process details. No persona, no model voice.
type Identity struct{}

func NewIdentity() *Identity { return &Identity{} }

func (i *Identity) Name() string           { return "identity" }
func (i *Identity) Aliases() []string      { return []string{"id"} }
func (i *Identity) Timeout() time.Duration { return 5 * time.Second }

func (i *Identity) Execute(_ context.Context, _ string) (any, error) {
	hostname, _ := os.Hostname()
	info := buildinfo.Info()
	info["service"] = "warroom"
	info["hostname"] = hostname
	info["pid"] = strconv.Itoa(os.Getpid())
	return info, nil
}

// MemorySearch searches the embedded prior-knowledge index.
type MemorySearch struct {
	index *memindex.Index
}

func NewMemorySearch(index *memindex.Index) *MemorySearch {
	return &MemorySearch{index: index}
}

func (m *MemorySearch) Name() string           { return "memory_search" }
func (m *MemorySearch) Aliases() []string      { return nil }
func (m *MemorySearch) Timeout() time.Duration { return 10 * time.Second }

func (m *MemorySearch) Execute(ctx context.Context, params string) (any, error) {
	query := strings.TrimSpace(params)
	if query == "" {
		return nil, fmt.Errorf("search query is required")
	}
	entries, err := m.index.Search(ctx, query, 10)
	if err != nil {
		return nil, err
	}
	return entries, nil
}
