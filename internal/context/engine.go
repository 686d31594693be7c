// internal/context/engine.go
package context

import (
	"context"
	"fmt"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/pkoukk/tiktoken-go"

	"github.com/user/warroom/internal/types"
	"github.com/user/warroom/pkg/llm"
)

const maxAttachmentChars = 20000

// Engine assembles token-budgeted prompts for the router.
type Engine struct {
	tokenizer   *tiktoken.Tiktoken
	maxTokens   int
	reserve     int
	memory      types.MemoryContext
	attachments types.AttachmentStore
}

// New creates a context engine with the specified token budget.
// model selects the tokenizer (cl100k_base fallback for unknown models).
// maxTokens is the smallest context window in the fallback chain; reserve
// is held back for the model's response.
func New(model string, maxTokens, reserve int, memory types.MemoryContext, attachments types.AttachmentStore) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Engine{
		tokenizer:   enc,
		maxTokens:   maxTokens,
		reserve:     reserve,
		memory:      memory,
		attachments: attachments,
	}, nil
}

func (e *Engine) countTokens(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

// BuildPrompt assembles the system prompt and message list for one turn.
// history is the session's effective message list, newest last, already
// including the current user message. Attachment bodies are resolved,
// HTML normalized to markdown, and appended to the final user message.
func (e *Engine) BuildPrompt(
	ctx context.Context,
	session *types.Session,
	history []*types.Message,
	attachmentIDs []types.AttachmentID,
	toolNames []string,
) (string, []llm.Message, error) {
	system := e.buildSystemPrompt(ctx, session, toolNames)
	budget := e.maxTokens - e.reserve - e.countTokens(system)

	attachmentBlock, err := e.renderAttachments(ctx, attachmentIDs)
	if err != nil {
		return "", nil, err
	}

	// Keep the newest messages that fit the budget.
	var kept []llm.Message
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		content := m.Content
		if i == len(history)-1 && attachmentBlock != "" {
			content += "\n\n" + attachmentBlock
		}
		msgTokens := e.countTokens(content)
		if used+msgTokens > budget && len(kept) > 0 {
			break
		}
		kept = append(kept, llm.Message{Role: m.Role, Content: content})
		used += msgTokens
	}

	// Reverse back into chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	return system, kept, nil
}

func (e *Engine) buildSystemPrompt(ctx context.Context, session *types.Session, toolNames []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the assistant behind a supervised operations console. Current time: %s. Session: %s.",
		time.Now().Format(time.RFC3339), session.ID)

	if e.memory != nil {
		role, summary, err := e.memory.Context(ctx, session.UserID)
		if err == nil {
			if role != "" {
				fmt.Fprintf(&b, "\n\nThe user's role: %s.", role)
			}
			if summary != "" {
				fmt.Fprintf(&b, "\n\nWhat you already know about this user:\n%s", summary)
			}
		}
	}

	if len(toolNames) > 0 {
		fmt.Fprintf(&b, "\n\nYou can request real data by emitting tool commands in your reply using the exact syntax [[TOOL:<name>:<params>]]. Available tools: %s.",
			strings.Join(toolNames, ", "))
	}

	return b.String()
}

func (e *Engine) renderAttachments(ctx context.Context, ids []types.AttachmentID) (string, error) {
	if len(ids) == 0 || e.attachments == nil {
		return "", nil
	}
	var parts []string
	for _, id := range ids {
		att, err := e.attachments.Get(ctx, id)
		if err != nil {
			return "", fmt.Errorf("resolve attachment %s: %w", id, err)
		}
		content := att.Content
		if strings.Contains(att.MediaType, "html") {
			if md, err := htmltomarkdown.ConvertString(content); err == nil {
				content = md
			}
		}
		if len(content) > maxAttachmentChars {
			content = content[:maxAttachmentChars] + "\n[truncated]"
		}
		parts = append(parts, fmt.Sprintf("Attachment %q:\n%s", att.Name, content))
	}
	return strings.Join(parts, "\n\n"), nil
}
