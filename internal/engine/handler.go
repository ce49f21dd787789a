package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"syncservice/internal/model"
)

// Handler is the commit engine bound to one pooled storage connection.
// It keeps no tree state between requests; every validation re-reads
// through storage. Calls on one Handler are serialized.
type Handler struct {
	id      int
	storage Storage
	logger  Logger
	clock   Clock
	idgen   IDGenerator
	mu      sync.Mutex
}

// NewHandler creates a Handler bound to storage.
// idgen is used for user ids created through CreateUser.
func NewHandler(id int, storage Storage, logger Logger, clock Clock, idgen IDGenerator) *Handler {
	return &Handler{
		id:      id,
		storage: storage,
		logger:  logger,
		clock:   clock,
		idgen:   idgen,
	}
}

// ID returns the handler's position in its pool.
func (h *Handler) ID() int { return h.id }

// Storage returns the connection the handler is bound to.
func (h *Handler) Storage() Storage { return h.storage }

// Commit validates and persists a batch for one device, in submission order.
// Rejections are reported per item and do not stop the batch; later items see
// versions assigned to earlier ones. A storage failure aborts the request and
// leaves the remaining items unwritten.
func (h *Handler) Commit(ctx context.Context, userID string, workspaceID int64, deviceID int64, items []*model.Item) ([]*model.CommitInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.requireMember(ctx, userID, workspaceID); err != nil {
		return nil, err
	}

	return h.commitBatch(ctx, workspaceID, deviceID, items)
}

func (h *Handler) commitBatch(ctx context.Context, workspaceID int64, deviceID int64, items []*model.Item) ([]*model.CommitInfo, error) {
	view := newBatchView(h.storage)
	infos := make([]*model.CommitInfo, 0, len(items))
	accepted := 0

	for _, submitted := range items {
		info, err := h.commitOne(ctx, view, workspaceID, deviceID, submitted)
		if err != nil {
			h.logger.Error("commit aborted", "workspace", workspaceID, "processed", len(infos), "error", err)
			return nil, err
		}
		if info.Committed {
			accepted++
		}
		infos = append(infos, info)
	}

	h.logger.Info("commit processed", "handler", h.id, "workspace", workspaceID, "device", deviceID,
		"items", len(items), "accepted", accepted)
	return infos, nil
}

// commitOne validates a single item against the batch view and persists it if accepted.
func (h *Handler) commitOne(ctx context.Context, view *batchView, workspaceID int64, deviceID int64, submitted *model.Item) (*model.CommitInfo, error) {
	item := submitted.Clone()
	item.WorkspaceID = workspaceID
	item.DeviceID = deviceID

	var current *model.Item
	if item.ID != 0 {
		c, err := view.current(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		if c != nil && c.WorkspaceID != workspaceID {
			// The id belongs to another workspace; never leak its metadata.
			h.logger.Warn("item belongs to another workspace", "item", item.ID, "workspace", workspaceID)
			return rejected(RejectVersionConflict, nil), nil
		}
		current = c
	}

	var parent *model.Item
	if item.ParentID != nil {
		p, err := view.current(ctx, *item.ParentID)
		if err != nil {
			return nil, err
		}
		if p != nil && p.WorkspaceID == workspaceID {
			parent = p
		}
	}

	decision := Validate(item, current, parent)
	if decision.Accepted() && current != nil && item.IsFolder && !item.IsDeleted() && parent != nil {
		cycle, err := view.isAncestor(ctx, item.ID, parent)
		if err != nil {
			return nil, err
		}
		if cycle {
			decision = Decision{Reject: RejectIncorrectParent}
		}
	}
	if !decision.Accepted() {
		h.logger.Debug("item rejected", "item", item.String(), "reason", decision.Reject.String())
		return rejected(decision.Reject, current), nil
	}

	item.Version = decision.Version
	if item.Status == "" {
		if item.Version == 1 {
			item.Status = model.StatusNew
		} else {
			item.Status = model.StatusChanged
		}
	}
	if item.IsFolder {
		item.Chunks = nil
	}
	item.CommittedAt = h.clock.Now()

	if err := h.storage.PutItemVersion(ctx, item); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			// Another connection won the race between our read and write.
			latest, gerr := h.storage.GetItem(ctx, item.ID)
			if gerr != nil {
				return nil, storageErr("reloading conflicting item", gerr)
			}
			h.logger.Debug("item lost version race", "item", item.ID, "version", item.Version)
			return rejected(RejectVersionConflict, latest), nil
		}
		return nil, storageErr("persisting item version", err)
	}

	view.accept(item)
	h.logger.Debug("item committed", "item", item.String())
	return &model.CommitInfo{
		Committed: true,
		Version:   item.Version,
		Item:      item.Clone(),
	}, nil
}

func rejected(reason Reject, current *model.Item) *model.CommitInfo {
	info := &model.CommitInfo{
		Committed:   false,
		ErrorCode:   reason.Code(),
		Description: reason.Description(),
	}
	if current != nil {
		info.Version = current.Version
		info.Item = current.Clone()
	}
	return info
}

// requireMember loads the workspace and checks that the user belongs to it.
func (h *Handler) requireMember(ctx context.Context, userID string, workspaceID int64) (*model.Workspace, error) {
	ws, err := h.storage.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, storageErr("loading workspace", err)
	}
	if ws == nil || !isMember(ws, userID) {
		return nil, fmt.Errorf("workspace %d for user %s: %w", workspaceID, userID, ErrWorkspaceNotFound)
	}
	return ws, nil
}

// isMember counts pending invitees as members. There is no accept step, so a
// share proposal grants access as soon as it is created.
func isMember(ws *model.Workspace, userID string) bool {
	if ws.OwnerID == userID {
		return true
	}
	for _, m := range ws.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// batchView overlays items accepted earlier in the batch on top of storage.
type batchView struct {
	storage  Storage
	accepted map[int64]*model.Item
}

func newBatchView(storage Storage) *batchView {
	return &batchView{storage: storage, accepted: make(map[int64]*model.Item)}
}

func (v *batchView) current(ctx context.Context, itemID int64) (*model.Item, error) {
	if item, ok := v.accepted[itemID]; ok {
		return item, nil
	}
	item, err := v.storage.GetItem(ctx, itemID)
	if err != nil {
		return nil, storageErr("loading item", err)
	}
	return item, nil
}

// isAncestor reports whether itemID is the item from or one of its ancestors. A folder
// moved under such a parent would make the tree a cycle.
func (v *batchView) isAncestor(ctx context.Context, itemID int64, from *model.Item) (bool, error) {
	seen := make(map[int64]bool)
	for node := from; node != nil; {
		if node.ID == itemID {
			return true, nil
		}
		if node.ParentID == nil || seen[node.ID] {
			return false, nil
		}
		seen[node.ID] = true
		next, err := v.current(ctx, *node.ParentID)
		if err != nil {
			return false, err
		}
		node = next
	}
	return false, nil
}

func (v *batchView) accept(item *model.Item) {
	v.accepted[item.ID] = item
}
