// internal/toolcall/engine.go
package toolcall

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Tool is an executable backend for one canonical tool name. Side effects
// (file reads, queries, shell commands) live behind this interface; the
// engine only dispatches and shapes results.
type Tool interface {
	Name() string
	Aliases() []string
	// Timeout bounds a single execution. Zero means the engine default.
	Timeout() time.Duration
	Execute(ctx context.Context, params string) (any, error)
}

// Result is the structured outcome of one tool call. Failures are data,
// never errors: nothing thrown by a tool escapes the engine.
type Result struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

const defaultTimeout = 10 * time.Second

// Engine resolves parsed commands against registered tools via a
// case-insensitive alias table and executes them with per-tool timeouts.
// The engine performs no retries; a failed call is reported as data.
type Engine struct {
	tools   map[string]Tool   // canonical name -> tool
	aliases map[string]string // alias -> canonical name
	logger  *slog.Logger
}

// NewEngine creates an empty engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		tools:   make(map[string]Tool),
		aliases: make(map[string]string),
		logger:  logger,
	}
}

// Register adds a tool under its canonical name and all of its aliases.
func (e *Engine) Register(t Tool) {
	name := strings.ToLower(t.Name())
	e.tools[name] = t
	e.aliases[name] = name
	for _, a := range t.Aliases() {
		e.aliases[strings.ToLower(a)] = name
	}
}

// Resolve maps a (possibly aliased) name to its tool.
func (e *Engine) Resolve(name string) (Tool, bool) {
	canonical, ok := e.aliases[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	t, ok := e.tools[canonical]
	return t, ok
}

// Names returns the canonical names of all registered tools, sorted so the
// system prompt is stable across runs.
func (e *Engine) Names() []string {
	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs a single command and captures its outcome.
func (e *Engine) Execute(ctx context.Context, cmd Command) Result {
	tool, ok := e.Resolve(cmd.Name)
	if !ok {
		return Result{Tool: cmd.Name, Success: false, Error: fmt.Sprintf("unknown tool %q", cmd.Name)}
	}

	timeout := tool.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	data, err := tool.Execute(ctx, cmd.Params)
	elapsed := time.Since(start)

	if err != nil {
		e.logger.Warn("tool call failed", "tool", tool.Name(), "elapsed", elapsed, "error", err)
		return Result{Tool: tool.Name(), Success: false, Error: err.Error()}
	}
	e.logger.Debug("tool call completed", "tool", tool.Name(), "elapsed", elapsed)
	return Result{Tool: tool.Name(), Success: true, Data: data}
}

// ExecuteAll runs commands in order, one result per command.
func (e *Engine) ExecuteAll(ctx context.Context, cmds []Command) []Result {
	results := make([]Result, 0, len(cmds))
	for _, cmd := range cmds {
		results = append(results, e.Execute(ctx, cmd))
	}
	return results
}
