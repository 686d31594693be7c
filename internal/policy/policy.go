// internal/policy/policy.go
// Package policy implements the identity disclosure filter. Privileged users
// can demand the service's raw identity; everyone else gets the persona, and
// every privileged prompt carries the anti-fabrication instruction block.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/warroom/internal/router"
	"github.com/user/warroom/internal/toolcall"
	"github.com/user/warroom/internal/types"
)

// triggerPhrases are matched case-insensitively as substrings of the user
// message. Any hit on a privileged session bypasses the router entirely.
var triggerPhrases = []string{
	"who are you really",
	"which model",
	"what model are you",
	"strip personality",
	"raw identity",
}

// Addendum is appended to the system prompt of every privileged turn that is
// not an identity disclosure.
const Addendum = "Non-negotiable: when you need live data, emit the exact " +
	"syntax [[TOOL:<name>:<params>]] and wait for results. Never invent " +
	"tool output, fabricate file contents, query results, or system metrics. " +
	"If a tool fails, say so plainly."

// Filter decides when a turn is an identity disclosure and builds the
// disclosure document from real tool output.
type Filter struct {
	engine *toolcall.Engine
	logger *slog.Logger
}

func New(engine *toolcall.Engine, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{engine: engine, logger: logger}
}

// Trigger returns the matched trigger phrase, if any.
func Trigger(content string) (string, bool) {
	lower := strings.ToLower(content)
	for _, phrase := range triggerPhrases {
		if strings.Contains(lower, phrase) {
			return phrase, true
		}
	}
	return "", false
}

// ShouldDisclose reports whether this turn bypasses the router. privileged
// is the calling request's privilege, the same gate that controls tool
// access; session-level flags play no part. For non-privileged callers the
// phrases are ordinary text.
func (f *Filter) ShouldDisclose(privileged bool, content string) bool {
	if !privileged {
		return false
	}
	_, hit := Trigger(content)
	return hit
}

// Disclose runs the identity and system_health tools synchronously and
// renders the fixed-format disclosure document. preferredModel names the
// model the session would have used; its descriptor is included so the
// reader sees what is actually behind the persona.
func (f *Filter) Disclose(ctx context.Context, session *types.Session, preferredModel string) string {
	identity := f.engine.Execute(ctx, toolcall.Command{Name: "identity"})
	health := f.engine.Execute(ctx, toolcall.Command{Name: "system_health"})

	var b strings.Builder
	b.WriteString("RAW IDENTITY DISCLOSURE\n")
	b.WriteString("=======================\n\n")
	b.WriteString("You are talking to a service, not a person. No persona applies to this reply.\n\n")

	b.WriteString("Service identity:\n")
	b.WriteString(renderResult(identity))

	b.WriteString("\nLive system health:\n")
	b.WriteString(renderResult(health))

	b.WriteString("\nModel backend for this session:\n")
	if desc, ok := router.Describe(preferredModel); ok {
		fmt.Fprintf(&b, "  id: %s\n  name: %s\n  family: %s\n  provider: %s\n  mode: %s\n",
			desc.ID, desc.DisplayName, desc.Family, desc.Provider, desc.Mode)
	} else {
		fmt.Fprintf(&b, "  id: %s (not in the descriptor table)\n", preferredModel)
	}

	fmt.Fprintf(&b, "\nSession %s, generated %s.\n",
		session.ID, time.Now().UTC().Format(time.RFC3339))

	f.logger.Info("identity disclosure served", "session", session.ID, "user", session.UserID)
	return b.String()
}

func renderResult(res toolcall.Result) string {
	if !res.Success {
		return fmt.Sprintf("  (tool %s failed: %s)\n", res.Tool, res.Error)
	}
	payload, err := json.MarshalIndent(res.Data, "  ", "  ")
	if err != nil {
		return fmt.Sprintf("  %+v\n", res.Data)
	}
	return "  " + string(payload) + "\n"
}
