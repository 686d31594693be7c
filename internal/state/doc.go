// Package state provides filesystem-backed storage implementations.
package state

import "github.com/user/warroom/internal/types"

// Compile-time interface compliance checks.
var _ types.SessionStore = (*SessionStore)(nil)
var _ types.MessageStore = (*MessageStore)(nil)
var _ types.ThoughtStore = (*ThoughtStore)(nil)
var _ types.CheckpointStore = (*CheckpointStore)(nil)
var _ types.AttachmentStore = (*AttachmentStore)(nil)
