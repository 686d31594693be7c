// internal/control/revert.go
package control

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/warroom/internal/types"
)

// RevertRequest asks to roll a session back to a checkpoint.
type RevertRequest struct {
	CheckpointID       types.CheckpointID `json:"checkpoint_id"`
	RevertConversation bool               `json:"revert_conversation"`
	RevertFiles        bool               `json:"revert_files"`
}

// RevertReport describes what a revert actually did. Side effects from
// shell and remote execution cannot be undone; they are reported, not
// silently dropped.
type RevertReport struct {
	CheckpointID    types.CheckpointID `json:"checkpoint_id"`
	SessionID       types.SessionID    `json:"session_id"`
	MessagesRevoked int                `json:"messages_revoked"`
	Unrevertible    []string           `json:"unrevertible,omitempty"`
}

// sideEffectTools are tool calls whose effects outlive the conversation.
var sideEffectTools = []string{"terminal", "exec", "vps", "ssh"}

// Revert rolls the session's effective history back to the checkpoint by
// soft-revoking every message after the snapshot. The audit trail keeps the
// revoked messages. With RevertFiles set, tool calls made after the
// checkpoint are audited and the unrevertible ones reported.
func (p *Plane) Revert(ctx context.Context, req *RevertRequest) (*RevertReport, error) {
	cp, err := p.checkpoints.Get(ctx, req.CheckpointID)
	if err != nil {
		return nil, fmt.Errorf("resolve checkpoint: %w", err)
	}

	report := &RevertReport{CheckpointID: cp.ID, SessionID: cp.SessionID}

	if req.RevertConversation {
		afterSeq, err := p.checkpointSeq(ctx, cp)
		if err != nil {
			return nil, err
		}
		revoked, err := p.messages.RevokeAfter(ctx, cp.SessionID, afterSeq)
		if err != nil {
			return nil, fmt.Errorf("revoke messages: %w", err)
		}
		report.MessagesRevoked = revoked
	}

	if req.RevertFiles {
		unrevertible, err := p.auditSideEffects(ctx, cp)
		if err != nil {
			return nil, err
		}
		report.Unrevertible = unrevertible
	}

	p.thought(ctx, cp.SessionID, types.ThoughtReflection,
		fmt.Sprintf("reverted to checkpoint %s (%d messages revoked)", cp.ID, report.MessagesRevoked), cp.MessageID)
	p.hub.Publish(cp.SessionID, Event{Type: EventReverted, Data: map[string]any{
		"checkpoint_id":    string(cp.ID),
		"messages_revoked": report.MessagesRevoked,
	}})
	return report, nil
}

// checkpointSeq resolves the sequence number of the last message the
// checkpoint covers, scanning the audit history so reverts to an already
// partly revoked point still work.
func (p *Plane) checkpointSeq(ctx context.Context, cp *types.Checkpoint) (int64, error) {
	all, err := p.messages.ListAll(ctx, cp.SessionID)
	if err != nil {
		return 0, fmt.Errorf("load history: %w", err)
	}
	for _, msg := range all {
		if msg.ID == cp.MessageID {
			return msg.Seq, nil
		}
	}
	return 0, fmt.Errorf("checkpoint message %s not found in session %s", cp.MessageID, cp.SessionID)
}

// auditSideEffects lists tool calls made after the checkpoint whose effects
// cannot be rolled back (shell and remote execution).
func (p *Plane) auditSideEffects(ctx context.Context, cp *types.Checkpoint) ([]string, error) {
	calls, err := p.thoughts.List(ctx, cp.SessionID, types.ThoughtToolCall, 0)
	if err != nil {
		return nil, fmt.Errorf("load tool calls: %w", err)
	}
	var unrevertible []string
	for _, call := range calls {
		if !call.At.After(cp.At) {
			continue
		}
		for _, name := range sideEffectTools {
			if strings.HasPrefix(call.Text, "invoking "+name+"(") {
				unrevertible = append(unrevertible, call.Text)
				break
			}
		}
	}
	return unrevertible, nil
}
