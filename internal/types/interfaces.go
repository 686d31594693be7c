// internal/types/interfaces.go
package types

import "context"

// SessionStore tracks session records. Sessions are created once per chat
// thread and move between soft lifecycle states; they are never deleted.
type SessionStore interface {
	Ensure(ctx context.Context, id SessionID, userID string, privileged bool) (*Session, error)
	Get(ctx context.Context, id SessionID) (*Session, error)
	List(ctx context.Context) ([]*Session, error)
	Update(ctx context.Context, session *Session) error
}

// MessageStore holds the ordered message history per session. Appends only;
// revert soft-revokes a suffix instead of deleting it.
type MessageStore interface {
	Append(ctx context.Context, msg *Message) error
	// List returns the effective (non-revoked) history in order.
	List(ctx context.Context, sessionID SessionID) ([]*Message, error)
	// ListAll includes revoked messages, for audit.
	ListAll(ctx context.Context, sessionID SessionID) ([]*Message, error)
	// RevokeAfter marks every message with Seq > afterSeq as revoked.
	RevokeAfter(ctx context.Context, sessionID SessionID, afterSeq int64) (int, error)
}

// ThoughtStore is the append-only diagnostic log consumed by watchers and
// the revert/audit path.
type ThoughtStore interface {
	Append(ctx context.Context, thought *Thought) error
	List(ctx context.Context, sessionID SessionID, kind ThoughtKind, limit int) ([]*Thought, error)
}

type CheckpointStore interface {
	Append(ctx context.Context, cp *Checkpoint) error
	Get(ctx context.Context, id CheckpointID) (*Checkpoint, error)
	List(ctx context.Context, sessionID SessionID) ([]*Checkpoint, error)
}

// AttachmentStore resolves attachment IDs from the turn request. Upload
// handling lives outside this service.
type AttachmentStore interface {
	Get(ctx context.Context, id AttachmentID) (*Attachment, error)
}

// MemoryContext supplies the role classification and prior-knowledge summary
// injected into the system prompt for a user.
type MemoryContext interface {
	Context(ctx context.Context, userID string) (role string, summary string, err error)
}
