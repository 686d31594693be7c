// internal/router/models.go
package router

import "github.com/user/warroom/internal/types"

// Models is the static, read-only descriptor table for every backend the
// fallback chain can reach.
var Models = []types.ModelDescriptor{
	{ID: "claude-sonnet-4-5", DisplayName: "Claude Sonnet 4.5", Family: "claude", Provider: "anthropic", Mode: "messages"},
	{ID: "gpt-4o", DisplayName: "GPT-4o", Family: "gpt", Provider: "openai", Mode: "chat"},
	{ID: "claude-3-5-haiku-latest", DisplayName: "Claude 3.5 Haiku", Family: "claude", Provider: "anthropic", Mode: "messages"},
	{ID: "gpt-4o-mini", DisplayName: "GPT-4o mini", Family: "gpt", Provider: "openai", Mode: "chat"},
}

// DefaultPriority is the static fallback order: primary first, then cheap
// fallbacks alternating across providers so one provider's outage never
// exhausts the whole chain.
var DefaultPriority = []string{
	"claude-sonnet-4-5",
	"gpt-4o",
	"claude-3-5-haiku-latest",
	"gpt-4o-mini",
}

// legacyModels lists the cheapest model per provider, tried directly as the
// last resort after the candidate chain is exhausted.
var legacyModels = []string{
	"gpt-4o-mini",
	"claude-3-5-haiku-latest",
}

// Describe resolves a model ID against the static table.
func Describe(id string) (types.ModelDescriptor, bool) {
	for _, m := range Models {
		if m.ID == id {
			return m, true
		}
	}
	return types.ModelDescriptor{}, false
}

// Label returns the human-facing label for a model ID.
func Label(id string) string {
	if m, ok := Describe(id); ok {
		return m.DisplayName
	}
	return id
}
