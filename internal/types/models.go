// internal/types/models.go
package types

import "time"

// SessionStatus is the lifecycle state of a conversation session.
// Sessions are never deleted; they only move between soft states.
type SessionStatus string

const (
	StatusIdle      SessionStatus = "idle"
	StatusReasoning SessionStatus = "reasoning"
	StatusStreaming SessionStatus = "streaming"
	StatusCompleted SessionStatus = "completed"
	StatusStopped   SessionStatus = "stopped"
	StatusError     SessionStatus = "error"
)

// Terminal reports whether a status ends a turn. Completed, stopped and
// error are rest states equivalent to idle for the purpose of starting
// the next turn.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusStopped || s == StatusError
}

type Session struct {
	ID     SessionID `json:"id"`
	UserID string    `json:"user_id"`
	// Privileged records whether the creating caller held the operator
	// token. Audit metadata only: per-turn authorization always comes from
	// the request, never from this flag.
	Privileged bool          `json:"privileged"`
	Status     SessionStatus `json:"status"`
	LastTurnAt time.Time     `json:"last_turn_at,omitzero"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

type Message struct {
	ID        MessageID `json:"id"`
	SessionID SessionID `json:"session_id"`
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"` // user | assistant
	Content   string    `json:"content"`
	// Turn metadata, populated on assistant messages.
	ModelUsed     string   `json:"model_used,omitempty"`
	TokensUsed    int      `json:"tokens_used,omitempty"`
	ToolsExecuted []string `json:"tools_executed,omitempty"`
	ElapsedMs     int64    `json:"elapsed_ms,omitempty"`
	// Revoked messages stay on disk for audit but are invisible to
	// future turns. Set by revert, never unset.
	Revoked   bool      `json:"revoked,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ThoughtKind classifies entries in the append-only thought log.
type ThoughtKind string

const (
	ThoughtReasoning  ThoughtKind = "reasoning"
	ThoughtToolCall   ThoughtKind = "tool_call"
	ThoughtToolResult ThoughtKind = "tool_result"
	ThoughtReflection ThoughtKind = "reflection"
)

type Thought struct {
	ID               ThoughtID   `json:"id"`
	SessionID        SessionID   `json:"session_id"`
	Kind             ThoughtKind `json:"kind"`
	Text             string      `json:"text"`
	RelatedMessageID MessageID   `json:"related_message_id,omitempty"`
	At               time.Time   `json:"at"`
}

// Checkpoint is an immutable snapshot of a session's effective message
// sequence. It references message IDs only; bodies live in the message store.
type Checkpoint struct {
	ID         CheckpointID `json:"id"`
	SessionID  SessionID    `json:"session_id"`
	MessageID  MessageID    `json:"message_id"` // last message covered
	MessageIDs []MessageID  `json:"message_ids"`
	CreatedBy  string       `json:"created_by"`
	Automatic  bool         `json:"automatic"`
	At         time.Time    `json:"at"`
}

type Attachment struct {
	ID        AttachmentID `json:"id"`
	Name      string       `json:"name"`
	MediaType string       `json:"media_type"`
	Content   string       `json:"content"`
}

// ModelDescriptor is a static, read-only table entry describing one model
// backend in the fallback chain.
type ModelDescriptor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Family      string `json:"family"`
	Provider    string `json:"provider"`
	Mode        string `json:"mode"` // invocation mode: chat | messages
}

// TurnRequest is one inbound user turn.
type TurnRequest struct {
	SessionID     SessionID      `json:"session_id"`
	Content       string         `json:"content"`
	AttachmentIDs []AttachmentID `json:"attachment_ids,omitempty"`
	Model         string         `json:"model,omitempty"`
}

// TurnResponse carries either a full exchange or a stop marker.
type TurnResponse struct {
	UserMessage      *Message `json:"user_message"`
	AssistantMessage *Message `json:"assistant_message,omitempty"`
	Stopped          bool     `json:"stopped,omitempty"`
}
