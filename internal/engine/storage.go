package engine

import (
	"context"

	"syncservice/internal/model"
)

// Storage is the capability the engine needs from a metadata backend.
// Lookups that find nothing return (nil, nil). Implementations must make
// PutItemVersion an atomic read-current-version/write-next-version step:
// it is the only thing standing between two pooled connections racing on
// the same item.
type Storage interface {
	// Item operations

	// GetItem returns the latest version of an item.
	GetItem(ctx context.Context, itemID int64) (*model.Item, error)

	// GetItemVersion returns one specific version of an item.
	GetItemVersion(ctx context.Context, itemID, version int64) (*model.Item, error)

	// GetItemVersions returns every version of an item, oldest first.
	GetItemVersions(ctx context.Context, itemID int64) ([]*model.Item, error)

	// GetCurrentVersion returns the latest version number, or 0 if the item does not exist.
	GetCurrentVersion(ctx context.Context, itemID int64) (int64, error)

	// PutItemVersion appends item as a new version. item.Version must be the
	// stored version plus one (1 for a new item), otherwise ErrVersionConflict
	// is returned and nothing is written. An item with ID 0 gets a fresh id.
	// On success ID and Seq are set on item.
	PutItemVersion(ctx context.Context, item *model.Item) error

	// GetChildren returns the latest versions of the items whose latest
	// version points at parentID. A nil parentID lists root-level items.
	GetChildren(ctx context.Context, workspaceID int64, parentID *int64, includeDeleted bool) ([]*model.Item, error)

	// GetChangesSince returns the latest version of every item in the
	// workspace whose latest version has Seq > cursor, ordered by Seq.
	GetChangesSince(ctx context.Context, workspaceID int64, cursor int64) ([]*model.Item, error)

	// User operations

	GetUser(ctx context.Context, userID string) (*model.User, error)
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	CreateUser(ctx context.Context, user *model.User) error

	// Workspace operations

	// GetWorkspace returns a workspace with its Members populated.
	GetWorkspace(ctx context.Context, workspaceID int64) (*model.Workspace, error)

	// GetWorkspacesForUser returns every workspace the user is a member of.
	GetWorkspacesForUser(ctx context.Context, userID string) ([]*model.Workspace, error)

	// GetPersonalWorkspace returns the user's non-shared workspace.
	GetPersonalWorkspace(ctx context.Context, userID string) (*model.Workspace, error)

	// CreateWorkspace inserts the workspace and its Members, setting ws.ID.
	CreateWorkspace(ctx context.Context, ws *model.Workspace) error

	// Device operations

	GetDevice(ctx context.Context, deviceID int64) (*model.Device, error)

	// UpsertDevice inserts the device when ID is 0 (setting ID) or updates it.
	UpsertDevice(ctx context.Context, device *model.Device) error

	// Close releases the underlying connection.
	Close() error
}
