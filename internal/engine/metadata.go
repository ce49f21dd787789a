package engine

import (
	"context"
	"fmt"

	"syncservice/internal/model"
)

// MetadataOptions controls what GetMetadata returns.
type MetadataOptions struct {
	IncludeList    bool
	IncludeDeleted bool
	IncludeChunks  bool
	// Version selects a historical version; nil means latest.
	Version *int64
}

// Metadata is a single item plus, optionally, its children.
// Root is set when the item is the synthetic root of the personal workspace.
type Metadata struct {
	Item     *model.Item
	Children []*model.Item
	Root     bool
}

// GetChanges returns the change feed for a workspace. A zero cursor returns
// the full current tree; otherwise only items whose latest version is newer.
func (h *Handler) GetChanges(ctx context.Context, userID string, workspaceID int64, cursor int64) ([]*model.Item, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.requireMember(ctx, userID, workspaceID); err != nil {
		return nil, err
	}

	items, err := h.storage.GetChangesSince(ctx, workspaceID, cursor)
	if err != nil {
		return nil, storageErr("listing changes", err)
	}

	h.logger.Debug("changes listed", "workspace", workspaceID, "cursor", cursor, "count", len(items))
	return items, nil
}

// GetWorkspaces returns the workspaces a user belongs to.
func (h *Handler) GetWorkspaces(ctx context.Context, userID string) ([]*model.Workspace, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	workspaces, err := h.storage.GetWorkspacesForUser(ctx, userID)
	if err != nil {
		return nil, storageErr("listing workspaces", err)
	}
	if len(workspaces) == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNoWorkspacesFound)
	}
	return workspaces, nil
}

// GetMetadata returns one item of the user's tree. A nil itemID addresses the
// root of the user's personal workspace, which always lists its children.
func (h *Handler) GetMetadata(ctx context.Context, userID string, itemID *int64, opts MetadataOptions) (*Metadata, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if itemID == nil {
		ws, err := h.personalWorkspace(ctx, userID)
		if err != nil {
			return nil, err
		}
		children, err := h.storage.GetChildren(ctx, ws.ID, nil, opts.IncludeDeleted)
		if err != nil {
			return nil, storageErr("listing root children", err)
		}
		root := &model.Item{
			WorkspaceID: ws.ID,
			Filename:    "root",
			IsFolder:    true,
			Status:      model.StatusNew,
		}
		return &Metadata{Item: root, Children: trimChunks(children, opts.IncludeChunks), Root: true}, nil
	}

	var (
		item *model.Item
		err  error
	)
	if opts.Version != nil {
		item, err = h.storage.GetItemVersion(ctx, *itemID, *opts.Version)
	} else {
		item, err = h.storage.GetItem(ctx, *itemID)
	}
	if err != nil {
		return nil, storageErr("loading item", err)
	}
	if item == nil {
		return nil, fmt.Errorf("item %d: %w", *itemID, ErrItemNotFound)
	}
	if _, err := h.requireMember(ctx, userID, item.WorkspaceID); err != nil {
		return nil, fmt.Errorf("item %d: %w", *itemID, ErrItemNotFound)
	}
	if item.IsDeleted() && !opts.IncludeDeleted {
		return nil, fmt.Errorf("item %d is deleted: %w", *itemID, ErrItemNotFound)
	}

	md := &Metadata{Item: trimChunks([]*model.Item{item}, opts.IncludeChunks)[0]}
	if opts.IncludeList && item.IsFolder {
		children, err := h.storage.GetChildren(ctx, item.WorkspaceID, itemID, opts.IncludeDeleted)
		if err != nil {
			return nil, storageErr("listing children", err)
		}
		md.Children = trimChunks(children, opts.IncludeChunks)
	}
	return md, nil
}

// GetVersions returns the version history of an item, newest first.
func (h *Handler) GetVersions(ctx context.Context, userID string, itemID int64) ([]*model.Item, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	versions, err := h.storage.GetItemVersions(ctx, itemID)
	if err != nil {
		return nil, storageErr("listing versions", err)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("item %d: %w", itemID, ErrItemNotFound)
	}
	if _, err := h.requireMember(ctx, userID, versions[0].WorkspaceID); err != nil {
		return nil, fmt.Errorf("item %d: %w", itemID, ErrItemNotFound)
	}

	// Reverse to newest first
	for i, j := 0, len(versions)-1; i < j; i, j = i+1, j-1 {
		versions[i], versions[j] = versions[j], versions[i]
	}
	return versions, nil
}

// RestoreMetadata re-materializes an old version as a new current version.
// The old attributes go through the normal commit path, so the restored
// version is validated like any other change (its parent must still exist).
// The returned CommitInfo may be a rejection.
func (h *Handler) RestoreMetadata(ctx context.Context, userID string, deviceID int64, itemID int64, version int64) (*model.CommitInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	target, err := h.storage.GetItemVersion(ctx, itemID, version)
	if err != nil {
		return nil, storageErr("loading version", err)
	}
	if target == nil {
		return nil, fmt.Errorf("item %d version %d: %w", itemID, version, ErrVersionNotFound)
	}
	if _, err := h.requireMember(ctx, userID, target.WorkspaceID); err != nil {
		return nil, err
	}

	restored := target.Clone()
	restored.Version = 0
	restored.Status = model.StatusRestored
	restored.ParentVersion = nil
	if restored.ParentID != nil {
		parent, err := h.storage.GetItem(ctx, *restored.ParentID)
		if err != nil {
			return nil, storageErr("loading parent", err)
		}
		if parent != nil {
			restored.ParentVersion = model.Int64(parent.Version)
		}
	}

	infos, err := h.commitBatch(ctx, target.WorkspaceID, deviceID, []*model.Item{restored})
	if err != nil {
		return nil, err
	}

	h.logger.Info("item restored", "item", itemID, "from_version", version, "committed", infos[0].Committed)
	return infos[0], nil
}

// NotificationGroup returns the group that hears about changes in a
// workspace: its own group when shared, the owner's personal group otherwise.
func (h *Handler) NotificationGroup(ctx context.Context, workspaceID int64) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ws, err := h.storage.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return "", storageErr("loading workspace", err)
	}
	if ws == nil {
		return "", fmt.Errorf("workspace %d: %w", workspaceID, ErrWorkspaceNotFound)
	}
	return model.ChangeGroup(ws), nil
}

func (h *Handler) requireUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := h.storage.GetUser(ctx, userID)
	if err != nil {
		return nil, storageErr("loading user", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %s: %w", userID, ErrUserNotFound)
	}
	return user, nil
}

func (h *Handler) personalWorkspace(ctx context.Context, userID string) (*model.Workspace, error) {
	ws, err := h.storage.GetPersonalWorkspace(ctx, userID)
	if err != nil {
		return nil, storageErr("loading personal workspace", err)
	}
	if ws == nil {
		return nil, fmt.Errorf("personal workspace of %s: %w", userID, ErrWorkspaceNotFound)
	}
	return ws, nil
}

// trimChunks returns copies of items with chunk lists removed unless keep is set.
func trimChunks(items []*model.Item, keep bool) []*model.Item {
	out := make([]*model.Item, len(items))
	for i, item := range items {
		c := item.Clone()
		if !keep {
			c.Chunks = nil
		}
		out[i] = c
	}
	return out
}
