package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"syncservice/internal/engine"
	"syncservice/internal/model"
)

// storeData is the state shared by every Store opened on it.
type storeData struct {
	mu         sync.RWMutex
	versions   map[int64][]*model.Item // item id -> versions, oldest first
	users      map[string]*model.User
	workspaces map[int64]*model.Workspace
	devices    map[int64]*model.Device
	nextItem   int64
	nextSeq    int64
	nextWS     int64
	nextDevice int64
}

func newStoreData() *storeData {
	return &storeData{
		versions:   make(map[int64][]*model.Item),
		users:      make(map[string]*model.User),
		workspaces: make(map[int64]*model.Workspace),
		devices:    make(map[int64]*model.Device),
	}
}

// Store is an in-memory implementation of engine.Storage.
// Stores opened by OpenPool share one dataset, the way pooled SQL
// connections share one database. Safe for concurrent use.
type Store struct {
	data *storeData
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{data: newStoreData()}
}

// OpenPool returns size stores over one shared dataset.
func OpenPool(size int) []engine.Storage {
	data := newStoreData()
	stores := make([]engine.Storage, size)
	for i := range stores {
		stores[i] = &Store{data: data}
	}
	return stores
}

func (s *Store) latest(itemID int64) *model.Item {
	vs := s.data.versions[itemID]
	if len(vs) == 0 {
		return nil
	}
	return vs[len(vs)-1]
}

func (s *Store) GetItem(_ context.Context, itemID int64) (*model.Item, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	return s.latest(itemID).Clone(), nil
}

func (s *Store) GetItemVersion(_ context.Context, itemID, version int64) (*model.Item, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	vs := s.data.versions[itemID]
	if version < 1 || version > int64(len(vs)) {
		return nil, nil
	}
	return vs[version-1].Clone(), nil
}

func (s *Store) GetItemVersions(_ context.Context, itemID int64) ([]*model.Item, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	vs := s.data.versions[itemID]
	out := make([]*model.Item, len(vs))
	for i, v := range vs {
		out[i] = v.Clone()
	}
	return out, nil
}

func (s *Store) GetCurrentVersion(_ context.Context, itemID int64) (int64, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	return int64(len(s.data.versions[itemID])), nil
}

// PutItemVersion appends a version under the write lock, which makes the
// version check and the append one step.
func (s *Store) PutItemVersion(_ context.Context, item *model.Item) error {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()

	if item.ID == 0 {
		if item.Version != 1 {
			return fmt.Errorf("new item with version %d: %w", item.Version, engine.ErrVersionConflict)
		}
		s.data.nextItem++
		item.ID = s.data.nextItem
	}

	current := int64(len(s.data.versions[item.ID]))
	if item.Version != current+1 {
		return fmt.Errorf("item %d at version %d, got %d: %w", item.ID, current, item.Version, engine.ErrVersionConflict)
	}
	if item.ID > s.data.nextItem {
		s.data.nextItem = item.ID
	}

	s.data.nextSeq++
	item.Seq = s.data.nextSeq
	s.data.versions[item.ID] = append(s.data.versions[item.ID], item.Clone())
	return nil
}

func (s *Store) GetChildren(_ context.Context, workspaceID int64, parentID *int64, includeDeleted bool) ([]*model.Item, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	var out []*model.Item
	for id := range s.data.versions {
		item := s.latest(id)
		if item.WorkspaceID != workspaceID {
			continue
		}
		if parentID == nil && item.ParentID != nil {
			continue
		}
		if parentID != nil && (item.ParentID == nil || *item.ParentID != *parentID) {
			continue
		}
		if item.IsDeleted() && !includeDeleted {
			continue
		}
		out = append(out, item.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetChangesSince(_ context.Context, workspaceID int64, cursor int64) ([]*model.Item, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	var out []*model.Item
	for id := range s.data.versions {
		item := s.latest(id)
		if item.WorkspaceID == workspaceID && item.Seq > cursor {
			out = append(out, item.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// User operations

func (s *Store) GetUser(_ context.Context, userID string) (*model.User, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	u, ok := s.data.users[userID]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	for _, u := range s.data.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (s *Store) CreateUser(_ context.Context, user *model.User) error {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()

	if _, ok := s.data.users[user.ID]; ok {
		return fmt.Errorf("user %s already exists", user.ID)
	}
	for _, u := range s.data.users {
		if u.Email == user.Email {
			return fmt.Errorf("email %s already in use", user.Email)
		}
	}
	c := *user
	s.data.users[user.ID] = &c
	return nil
}

// Workspace operations

func cloneWorkspace(ws *model.Workspace) *model.Workspace {
	c := *ws
	c.Members = make([]*model.Member, len(ws.Members))
	for i, mem := range ws.Members {
		mc := *mem
		c.Members[i] = &mc
	}
	return &c
}

func (s *Store) GetWorkspace(_ context.Context, workspaceID int64) (*model.Workspace, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	ws, ok := s.data.workspaces[workspaceID]
	if !ok {
		return nil, nil
	}
	return cloneWorkspace(ws), nil
}

func (s *Store) GetWorkspacesForUser(_ context.Context, userID string) ([]*model.Workspace, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	var out []*model.Workspace
	for _, ws := range s.data.workspaces {
		for _, mem := range ws.Members {
			if mem.UserID == userID {
				out = append(out, cloneWorkspace(ws))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetPersonalWorkspace(_ context.Context, userID string) (*model.Workspace, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	var found *model.Workspace
	for _, ws := range s.data.workspaces {
		if ws.OwnerID == userID && !ws.Shared && (found == nil || ws.ID < found.ID) {
			found = ws
		}
	}
	if found == nil {
		return nil, nil
	}
	return cloneWorkspace(found), nil
}

func (s *Store) CreateWorkspace(_ context.Context, ws *model.Workspace) error {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()

	if _, ok := s.data.users[ws.OwnerID]; !ok {
		return fmt.Errorf("workspace owner %s does not exist", ws.OwnerID)
	}
	s.data.nextWS++
	ws.ID = s.data.nextWS
	s.data.workspaces[ws.ID] = cloneWorkspace(ws)
	return nil
}

// Device operations

func (s *Store) GetDevice(_ context.Context, deviceID int64) (*model.Device, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	d, ok := s.data.devices[deviceID]
	if !ok {
		return nil, nil
	}
	c := *d
	return &c, nil
}

func (s *Store) UpsertDevice(_ context.Context, device *model.Device) error {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()

	if device.ID == 0 {
		s.data.nextDevice++
		device.ID = s.data.nextDevice
	} else if _, ok := s.data.devices[device.ID]; !ok {
		return fmt.Errorf("device %d does not exist", device.ID)
	}
	c := *device
	s.data.devices[device.ID] = &c
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Compile-time check that Store implements engine.Storage
var _ engine.Storage = (*Store)(nil)
