package engine

import (
	"context"
	"fmt"

	"syncservice/internal/model"
)

// APIDeviceID is recorded as the device of changes made through the web API.
const APIDeviceID int64 = 0

// Outcomes produced by the API helpers in addition to validator rejections.
var (
	fileExists   = &model.CommitInfo{ErrorCode: 400, Description: "File already exists."}
	folderExists = &model.CommitInfo{ErrorCode: 400, Description: "Folder already exists."}
	emptyFolder  = &model.CommitInfo{ErrorCode: 400, Description: "Folder name cannot be empty."}
)

// PutFile stores file metadata under parentID in the user's personal
// workspace. With overwrite set, an existing file of the same name gets a new
// version; otherwise such a file makes the call fail with 400.
func (h *Handler) PutFile(ctx context.Context, userID string, file *model.Item, parentID *int64, overwrite bool) (*model.CommitInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ws, err := h.personalWorkspace(ctx, userID)
	if err != nil {
		return nil, err
	}

	item := file.Clone()
	item.ID = 0
	item.Version = 0
	item.IsFolder = false
	item.Status = model.StatusNew
	if item.LastModified.IsZero() {
		item.LastModified = h.clock.Now()
	}
	if err := h.attachParent(ctx, item, parentID); err != nil {
		return nil, err
	}

	existing, err := h.findSibling(ctx, ws.ID, parentID, item.Filename, false)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !overwrite {
			return copyInfo(fileExists, existing), nil
		}
		item.ID = existing.ID
		item.Status = model.StatusChanged
	}

	infos, err := h.commitBatch(ctx, ws.ID, APIDeviceID, []*model.Item{item})
	if err != nil {
		return nil, err
	}
	return infos[0], nil
}

// CreateFolder creates a folder under parentID in the user's personal workspace.
func (h *Handler) CreateFolder(ctx context.Context, userID string, name string, parentID *int64) (*model.CommitInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if name == "" {
		return copyInfo(emptyFolder, nil), nil
	}

	ws, err := h.personalWorkspace(ctx, userID)
	if err != nil {
		return nil, err
	}

	existing, err := h.findSibling(ctx, ws.ID, parentID, name, true)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return copyInfo(folderExists, existing), nil
	}

	item := &model.Item{
		Filename:     name,
		IsFolder:     true,
		Status:       model.StatusNew,
		Mimetype:     "inode/directory",
		LastModified: h.clock.Now(),
	}
	if err := h.attachParent(ctx, item, parentID); err != nil {
		return nil, err
	}

	infos, err := h.commitBatch(ctx, ws.ID, APIDeviceID, []*model.Item{item})
	if err != nil {
		return nil, err
	}
	return infos[0], nil
}

// DeleteItem writes a DELETED version of an item. Folders are deleted with
// their whole subtree, children first, in one batch. The outcomes are in
// batch order, so the last one is for itemID itself.
func (h *Handler) DeleteItem(ctx context.Context, userID string, itemID int64) ([]*model.CommitInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	item, err := h.storage.GetItem(ctx, itemID)
	if err != nil {
		return nil, storageErr("loading item", err)
	}
	if item == nil || item.IsDeleted() {
		return nil, fmt.Errorf("item %d: %w", itemID, ErrItemNotFound)
	}
	if _, err := h.requireMember(ctx, userID, item.WorkspaceID); err != nil {
		return nil, fmt.Errorf("item %d: %w", itemID, ErrItemNotFound)
	}

	var tombstones []*model.Item
	if err := h.collectTombstones(ctx, item, &tombstones); err != nil {
		return nil, err
	}

	return h.commitBatch(ctx, item.WorkspaceID, APIDeviceID, tombstones)
}

// collectTombstones appends deletions for item's live subtree, children before parents.
func (h *Handler) collectTombstones(ctx context.Context, item *model.Item, out *[]*model.Item) error {
	if item.IsFolder {
		children, err := h.storage.GetChildren(ctx, item.WorkspaceID, model.Int64(item.ID), false)
		if err != nil {
			return storageErr("listing children", err)
		}
		for _, child := range children {
			if err := h.collectTombstones(ctx, child, out); err != nil {
				return err
			}
		}
	}

	t := item.Clone()
	t.Version = item.Version + 1
	t.Status = model.StatusDeleted
	t.LastModified = h.clock.Now()
	*out = append(*out, t)
	return nil
}

// attachParent sets ParentID and the parent's current version on item.
// A missing parent is left for the validator to reject.
func (h *Handler) attachParent(ctx context.Context, item *model.Item, parentID *int64) error {
	item.ParentID = nil
	item.ParentVersion = nil
	if parentID == nil {
		return nil
	}
	item.ParentID = model.Int64(*parentID)
	parent, err := h.storage.GetItem(ctx, *parentID)
	if err != nil {
		return storageErr("loading parent", err)
	}
	if parent != nil {
		item.ParentVersion = model.Int64(parent.Version)
	}
	return nil
}

func (h *Handler) findSibling(ctx context.Context, workspaceID int64, parentID *int64, name string, folder bool) (*model.Item, error) {
	siblings, err := h.storage.GetChildren(ctx, workspaceID, parentID, false)
	if err != nil {
		return nil, storageErr("listing siblings", err)
	}
	for _, s := range siblings {
		if s.Filename == name && s.IsFolder == folder {
			return s, nil
		}
	}
	return nil, nil
}

func copyInfo(tmpl *model.CommitInfo, current *model.Item) *model.CommitInfo {
	info := *tmpl
	if current != nil {
		info.Version = current.Version
		info.Item = current.Clone()
	}
	return &info
}
