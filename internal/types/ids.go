// internal/types/ids.go
package types

import "github.com/google/uuid"

type SessionID string
type MessageID string
type ThoughtID string
type CheckpointID string
type AttachmentID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewThoughtID() ThoughtID {
	return ThoughtID(uuid.New().String())
}

func NewCheckpointID() CheckpointID {
	return CheckpointID(uuid.New().String())
}
