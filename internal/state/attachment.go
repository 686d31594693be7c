// internal/state/attachment.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/user/warroom/internal/types"
)

// AttachmentStore resolves attachments dropped into attachments/<id>.json
// by whatever ingests uploads. This service only reads them.
type AttachmentStore struct {
	root string
}

// NewAttachmentStore creates a read-only attachment resolver rooted at the given directory.
func NewAttachmentStore(root string) *AttachmentStore {
	return &AttachmentStore{root: root}
}

func (a *AttachmentStore) attachmentPath(id types.AttachmentID) string {
	return filepath.Join(a.root, "attachments", string(id)+".json")
}

// Get returns the attachment with the given ID.
func (a *AttachmentStore) Get(_ context.Context, id types.AttachmentID) (*types.Attachment, error) {
	data, err := os.ReadFile(a.attachmentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("attachment not found: %s", id)
		}
		return nil, fmt.Errorf("read attachment: %w", err)
	}

	var att types.Attachment
	if err := json.Unmarshal(data, &att); err != nil {
		return nil, fmt.Errorf("unmarshal attachment: %w", err)
	}
	if att.ID == "" {
		att.ID = id
	}
	return &att, nil
}
