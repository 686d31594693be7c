// internal/router/router.go
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/warroom/internal/toolcall"
	"github.com/user/warroom/internal/types"
	"github.com/user/warroom/pkg/llm"
)

// SentinelModel is the model label recorded when every backend failed and
// the canned apology was served instead of a completion.
const SentinelModel = "unavailable"

const unavailableReply = "All model backends are currently unavailable. " +
	"Your message has been saved; please try again in a moment."

const attemptTimeout = 2 * time.Minute

// Trace receives router-internal events (model attempts, tool calls) so the
// caller can persist them as thoughts. May be nil.
type Trace func(kind types.ThoughtKind, text string)

// Request is one completion to route. Messages are chronological, newest
// last. Privileged gates the tool round trip: for non-privileged sessions
// tool syntax in the output is passed through as literal text.
type Request struct {
	Preferred  string
	System     string
	Messages   []llm.Message
	Privileged bool
	Trace      Trace
}

func (r *Request) trace(kind types.ThoughtKind, format string, args ...any) {
	if r.Trace != nil {
		r.Trace(kind, fmt.Sprintf(format, args...))
	}
}

// Result is the outcome of routing one request. Complete never returns an
// error: exhaustion yields the sentinel label and a canned reply.
type Result struct {
	Content       string
	ModelID       string
	ModelLabel    string
	TokensUsed    int
	ToolsExecuted []string
	ToolResults   []toolcall.Result
}

// Router walks a static fallback chain of model backends and performs at
// most one tool round trip per completion.
type Router struct {
	providers map[string]llm.Provider // provider name -> client
	priority  []string
	engine    *toolcall.Engine
	logger    *slog.Logger
}

// New creates a router over the configured provider clients. engine may be
// nil, which disables the tool round trip entirely.
func New(providers map[string]llm.Provider, engine *toolcall.Engine, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		providers: providers,
		priority:  DefaultPriority,
		engine:    engine,
		logger:    logger,
	}
}

// candidates builds the attempt order: the preferred model first, then the
// static priority list with the preferred model deduplicated out.
func (r *Router) candidates(preferred string) []string {
	if preferred == "" {
		return r.priority
	}
	out := make([]string, 0, len(r.priority)+1)
	out = append(out, preferred)
	for _, id := range r.priority {
		if id != preferred {
			out = append(out, id)
		}
	}
	return out
}

// Complete routes the request down the fallback chain. Rate limits and
// transport failures fall through to the next candidate; after the chain is
// exhausted a legacy pass retries the cheapest model per provider. The
// caller always gets a usable Result.
func (r *Router) Complete(ctx context.Context, req *Request) *Result {
	for _, id := range r.candidates(req.Preferred) {
		if res, ok := r.attempt(ctx, req, id, true); ok {
			return res
		}
	}

	// Legacy pass: one more shot at the cheapest model per provider, no
	// tool round trip. Transient failures early in the chain often clear
	// by the time we get here.
	for _, id := range legacyModels {
		req.trace(types.ThoughtReasoning, "fallback chain exhausted, legacy retry on %s", id)
		if res, ok := r.attempt(ctx, req, id, false); ok {
			return res
		}
	}

	r.logger.Error("all model backends unavailable", "preferred", req.Preferred)
	return &Result{
		Content:    unavailableReply,
		ModelID:    SentinelModel,
		ModelLabel: SentinelModel,
	}
}

func (r *Router) attempt(ctx context.Context, req *Request, modelID string, allowTools bool) (*Result, bool) {
	provider, ok := r.providerFor(modelID)
	if !ok {
		r.logger.Debug("no provider configured for model", "model", modelID)
		return nil, false
	}

	req.trace(types.ThoughtReasoning, "attempting model %s", modelID)
	resp, err := r.invoke(ctx, provider, modelID, req.System, req.Messages)
	if err != nil {
		if llm.IsRateLimited(err) {
			r.logger.Warn("model rate limited, falling through", "model", modelID)
			req.trace(types.ThoughtReasoning, "model %s rate limited", modelID)
		} else {
			r.logger.Warn("model attempt failed, falling through", "model", modelID, "error", err)
			req.trace(types.ThoughtReasoning, "model %s failed: %v", modelID, err)
		}
		return nil, false
	}

	res := &Result{
		Content:    resp.Content,
		ModelID:    modelID,
		ModelLabel: Label(modelID),
		TokensUsed: resp.Usage.TotalTokens,
	}

	if allowTools && req.Privileged && r.engine != nil {
		r.runToolRound(ctx, req, provider, modelID, res)
	}
	return res, true
}

// runToolRound scans the completion for tool commands, executes them, and
// makes exactly one follow-up call carrying the results. Follow-up output is
// never re-scanned, which bounds every turn at one round trip. A failed
// follow-up keeps the original completion.
func (r *Router) runToolRound(ctx context.Context, req *Request, provider llm.Provider, modelID string, res *Result) {
	cmds := toolcall.Parse(res.Content)
	if len(cmds) == 0 {
		return
	}

	for _, cmd := range cmds {
		req.trace(types.ThoughtToolCall, "invoking %s(%s)", cmd.Name, cmd.Params)
	}
	results := r.engine.ExecuteAll(ctx, cmds)
	for _, tr := range results {
		res.ToolsExecuted = append(res.ToolsExecuted, tr.Tool)
		if tr.Success {
			req.trace(types.ThoughtToolResult, "%s succeeded", tr.Tool)
		} else {
			req.trace(types.ThoughtToolResult, "%s failed: %s", tr.Tool, tr.Error)
		}
	}
	res.ToolResults = results

	followUp := append(append([]llm.Message{}, req.Messages...),
		llm.Message{Role: "assistant", Content: res.Content},
		llm.Message{Role: "user", Content: renderToolResults(results)},
	)
	resp, err := r.invoke(ctx, provider, modelID, req.System, followUp)
	if err != nil {
		r.logger.Warn("tool follow-up failed, keeping original completion",
			"model", modelID, "error", err)
		return
	}
	res.Content = resp.Content
	res.TokensUsed += resp.Usage.TotalTokens
}

func (r *Router) invoke(ctx context.Context, provider llm.Provider, modelID, system string, messages []llm.Message) (*llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()
	return provider.Complete(ctx, &llm.Request{
		Model:    modelID,
		System:   system,
		Messages: messages,
	})
}

func (r *Router) providerFor(modelID string) (llm.Provider, bool) {
	desc, ok := Describe(modelID)
	if !ok {
		// Unknown preferred models route to the primary provider so an
		// operator can pin a model the table has not caught up with.
		desc.Provider = "anthropic"
	}
	p, ok := r.providers[desc.Provider]
	return p, ok && p != nil
}

func renderToolResults(results []toolcall.Result) string {
	payload, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		payload = []byte(fmt.Sprintf("%+v", results))
	}
	return "Tool results:\n" + string(payload) +
		"\n\nAnswer the user using only this data. Do not emit tool syntax again."
}
