package testutil

import (
	"context"
	"testing"

	"syncservice/internal/cache"
	"syncservice/internal/engine"
	"syncservice/internal/model"
)

// NewTestHandler creates a Handler over an in-memory store with a fixed
// clock and sequential user ids.
func NewTestHandler() *engine.Handler {
	return engine.NewHandler(0, NewTestStore(), engine.NewNopLogger(), FixedClock(), NewPrefixedIDGenerator("user"))
}

// NewTestPool creates a HandlerPool of size handlers sharing one in-memory
// dataset, with a fixed clock and sequential user ids.
func NewTestPool(t *testing.T, size int) *engine.HandlerPool {
	t.Helper()
	pool, err := engine.NewHandlerPool(cache.OpenPool(size), engine.NewNopLogger(), FixedClock(), NewPrefixedIDGenerator("user"))
	if err != nil {
		t.Fatalf("NewHandlerPool() error = %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

// MustCreateUser registers a user through h and fails the test on error.
func MustCreateUser(t *testing.T, h *engine.Handler, name, email string) (*model.User, *model.Workspace) {
	t.Helper()
	u, ws, err := h.CreateUser(context.Background(), name, email)
	if err != nil {
		t.Fatalf("CreateUser(%q) error = %v", email, err)
	}
	return u, ws
}

// MustCommit commits items and fails the test on a request-level error.
func MustCommit(t *testing.T, h *engine.Handler, userID string, workspaceID int64, items ...*model.Item) []*model.CommitInfo {
	t.Helper()
	infos, err := h.Commit(context.Background(), userID, workspaceID, 1, items)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if len(infos) != len(items) {
		t.Fatalf("Commit() returned %d infos for %d items", len(infos), len(items))
	}
	return infos
}

// NewFolder returns a submission for a new folder.
func NewFolder(name string, parent *model.Item) *model.Item {
	item := &model.Item{Filename: name, IsFolder: true, Status: model.StatusNew, Mimetype: "inode/directory"}
	attach(item, parent)
	return item
}

// NewFile returns a submission for a new file with one chunk.
func NewFile(name string, parent *model.Item) *model.Item {
	item := &model.Item{
		Filename: name,
		Status:   model.StatusNew,
		Mimetype: "text/plain",
		Checksum: int64(len(name)),
		Size:     int64(len(name)),
		Chunks:   []string{"chunk-" + name},
	}
	attach(item, parent)
	return item
}

func attach(item, parent *model.Item) {
	if parent != nil {
		item.ParentID = model.Int64(parent.ID)
		item.ParentVersion = model.Int64(parent.Version)
	}
}
