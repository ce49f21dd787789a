package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"syncservice/internal/engine"
	"syncservice/internal/model"
)

// StorageContract runs the behaviour every engine.Storage implementation
// must share. open must return an empty, ready-to-use store.
func StorageContract(t *testing.T, open func(t *testing.T) engine.Storage) {
	t.Helper()
	ctx := context.Background()
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	seed := func(t *testing.T) (engine.Storage, *model.Workspace) {
		t.Helper()
		s := open(t)
		u := &model.User{ID: "u1", Name: "Ann", Email: "ann@example.com", CreatedAt: ts}
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
		ws := &model.Workspace{Name: "default", OwnerID: "u1", CreatedAt: ts,
			Members: []*model.Member{{UserID: "u1", Accepted: true}}}
		if err := s.CreateWorkspace(ctx, ws); err != nil {
			t.Fatalf("CreateWorkspace() error = %v", err)
		}
		return s, ws
	}

	put := func(t *testing.T, s engine.Storage, item *model.Item) *model.Item {
		t.Helper()
		if item.LastModified.IsZero() {
			item.LastModified = ts
		}
		if item.CommittedAt.IsZero() {
			item.CommittedAt = ts
		}
		if err := s.PutItemVersion(ctx, item); err != nil {
			t.Fatalf("PutItemVersion(%s) error = %v", item, err)
		}
		return item
	}

	t.Run("new item gets id and seq", func(t *testing.T) {
		s, ws := seed(t)

		item := put(t, s, &model.Item{Version: 1, WorkspaceID: ws.ID, Status: model.StatusNew,
			Filename: "a.txt", Chunks: []string{"c1", "c2"}, Size: 10})
		if item.ID == 0 {
			t.Fatal("PutItemVersion() did not assign an id")
		}
		if item.Seq == 0 {
			t.Fatal("PutItemVersion() did not assign a seq")
		}

		got, err := s.GetItem(ctx, item.ID)
		if err != nil {
			t.Fatalf("GetItem() error = %v", err)
		}
		if got == nil {
			t.Fatal("GetItem() = nil")
		}
		if !got.SameContent(item) {
			t.Errorf("GetItem() = %s, want content of %s", got, item)
		}
		if !got.LastModified.Equal(ts) {
			t.Errorf("LastModified = %v, want %v", got.LastModified, ts)
		}

		v, err := s.GetCurrentVersion(ctx, item.ID)
		if err != nil || v != 1 {
			t.Errorf("GetCurrentVersion() = %d, %v; want 1, nil", v, err)
		}
	})

	t.Run("missing lookups return nil", func(t *testing.T) {
		s, _ := seed(t)

		if got, err := s.GetItem(ctx, 999); got != nil || err != nil {
			t.Errorf("GetItem(999) = %v, %v; want nil, nil", got, err)
		}
		if got, err := s.GetItemVersion(ctx, 999, 1); got != nil || err != nil {
			t.Errorf("GetItemVersion(999, 1) = %v, %v; want nil, nil", got, err)
		}
		if v, err := s.GetCurrentVersion(ctx, 999); v != 0 || err != nil {
			t.Errorf("GetCurrentVersion(999) = %d, %v; want 0, nil", v, err)
		}
		if got, err := s.GetUser(ctx, "nobody"); got != nil || err != nil {
			t.Errorf("GetUser(nobody) = %v, %v; want nil, nil", got, err)
		}
		if got, err := s.GetWorkspace(ctx, 999); got != nil || err != nil {
			t.Errorf("GetWorkspace(999) = %v, %v; want nil, nil", got, err)
		}
		if got, err := s.GetDevice(ctx, 999); got != nil || err != nil {
			t.Errorf("GetDevice(999) = %v, %v; want nil, nil", got, err)
		}
	})

	t.Run("versions append and keep history", func(t *testing.T) {
		s, ws := seed(t)

		item := put(t, s, &model.Item{Version: 1, WorkspaceID: ws.ID, Status: model.StatusNew, Filename: "a.txt"})
		v2 := item.Clone()
		v2.Version = 2
		v2.Status = model.StatusRenamed
		v2.Filename = "b.txt"
		put(t, s, v2)

		versions, err := s.GetItemVersions(ctx, item.ID)
		if err != nil {
			t.Fatalf("GetItemVersions() error = %v", err)
		}
		if len(versions) != 2 || versions[0].Version != 1 || versions[1].Version != 2 {
			t.Fatalf("GetItemVersions() = %v, want versions 1 then 2", versions)
		}

		old, err := s.GetItemVersion(ctx, item.ID, 1)
		if err != nil || old == nil || old.Filename != "a.txt" {
			t.Errorf("GetItemVersion(1) = %v, %v; want a.txt", old, err)
		}
		latest, _ := s.GetItem(ctx, item.ID)
		if latest.Filename != "b.txt" || latest.Version != 2 {
			t.Errorf("GetItem() = %s, want b.txt at version 2", latest)
		}
	})

	t.Run("wrong version is a conflict", func(t *testing.T) {
		s, ws := seed(t)

		item := put(t, s, &model.Item{Version: 1, WorkspaceID: ws.ID, Status: model.StatusNew, Filename: "a.txt"})

		tests := []struct {
			name    string
			version int64
		}{
			{"replayed version", 1},
			{"skipped version", 3},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				c := item.Clone()
				c.Version = tt.version
				c.CommittedAt = ts
				err := s.PutItemVersion(ctx, c)
				if !errors.Is(err, engine.ErrVersionConflict) {
					t.Errorf("PutItemVersion(v%d) error = %v, want ErrVersionConflict", tt.version, err)
				}
			})
		}

		v, _ := s.GetCurrentVersion(ctx, item.ID)
		if v != 1 {
			t.Errorf("current version after conflicts = %d, want 1", v)
		}

		fresh := &model.Item{Version: 2, WorkspaceID: ws.ID, Status: model.StatusNew, Filename: "x", CommittedAt: ts}
		if err := s.PutItemVersion(ctx, fresh); !errors.Is(err, engine.ErrVersionConflict) {
			t.Errorf("new item at version 2 error = %v, want ErrVersionConflict", err)
		}
	})

	t.Run("children and changes use latest versions", func(t *testing.T) {
		s, ws := seed(t)

		folder := put(t, s, &model.Item{Version: 1, WorkspaceID: ws.ID, Status: model.StatusNew, Filename: "docs", IsFolder: true})
		file := put(t, s, &model.Item{Version: 1, WorkspaceID: ws.ID, Status: model.StatusNew, Filename: "a.txt",
			ParentID: model.Int64(folder.ID), ParentVersion: model.Int64(1)})
		gone := put(t, s, &model.Item{Version: 1, WorkspaceID: ws.ID, Status: model.StatusNew, Filename: "b.txt",
			ParentID: model.Int64(folder.ID), ParentVersion: model.Int64(1)})
		cursor := gone.Seq

		tomb := gone.Clone()
		tomb.Version = 2
		tomb.Status = model.StatusDeleted
		put(t, s, tomb)

		root, err := s.GetChildren(ctx, ws.ID, nil, false)
		if err != nil {
			t.Fatalf("GetChildren(root) error = %v", err)
		}
		if len(root) != 1 || root[0].ID != folder.ID {
			t.Errorf("GetChildren(root) = %v, want only the folder", root)
		}

		live, _ := s.GetChildren(ctx, ws.ID, model.Int64(folder.ID), false)
		if len(live) != 1 || live[0].ID != file.ID {
			t.Errorf("GetChildren(folder) = %v, want only a.txt", live)
		}
		all, _ := s.GetChildren(ctx, ws.ID, model.Int64(folder.ID), true)
		if len(all) != 2 {
			t.Errorf("GetChildren(folder, includeDeleted) returned %d items, want 2", len(all))
		}

		full, _ := s.GetChangesSince(ctx, ws.ID, 0)
		if len(full) != 3 {
			t.Errorf("GetChangesSince(0) returned %d items, want 3", len(full))
		}
		changed, _ := s.GetChangesSince(ctx, ws.ID, cursor)
		if len(changed) != 1 || changed[0].ID != gone.ID || !changed[0].IsDeleted() {
			t.Errorf("GetChangesSince(%d) = %v, want only the tombstone", cursor, changed)
		}
	})

	t.Run("users", func(t *testing.T) {
		s, _ := seed(t)

		got, err := s.FindUserByEmail(ctx, "ann@example.com")
		if err != nil || got == nil || got.ID != "u1" {
			t.Fatalf("FindUserByEmail() = %v, %v; want u1", got, err)
		}
		if !got.CreatedAt.Equal(ts) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, ts)
		}
		dup := &model.User{ID: "u2", Name: "Other", Email: "ann@example.com", CreatedAt: ts}
		if err := s.CreateUser(ctx, dup); err == nil {
			t.Error("CreateUser() with duplicate email expected error")
		}
	})

	t.Run("workspaces", func(t *testing.T) {
		s, personal := seed(t)

		bob := &model.User{ID: "u2", Name: "Bob", Email: "bob@example.com", CreatedAt: ts}
		if err := s.CreateUser(ctx, bob); err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
		shared := &model.Workspace{Name: "project", OwnerID: "u1", Shared: true, CreatedAt: ts,
			Members: []*model.Member{{UserID: "u1", Accepted: true}, {UserID: "u2", Accepted: false}}}
		if err := s.CreateWorkspace(ctx, shared); err != nil {
			t.Fatalf("CreateWorkspace() error = %v", err)
		}
		if shared.ID == 0 || shared.ID == personal.ID {
			t.Fatalf("CreateWorkspace() assigned id %d", shared.ID)
		}

		got, _ := s.GetWorkspace(ctx, shared.ID)
		if got == nil || len(got.Members) != 2 || !got.Shared {
			t.Fatalf("GetWorkspace() = %+v, want shared workspace with 2 members", got)
		}

		p, _ := s.GetPersonalWorkspace(ctx, "u1")
		if p == nil || p.ID != personal.ID {
			t.Errorf("GetPersonalWorkspace(u1) = %+v, want workspace %d", p, personal.ID)
		}
		if p, _ := s.GetPersonalWorkspace(ctx, "u2"); p != nil {
			t.Errorf("GetPersonalWorkspace(u2) = %+v, want nil", p)
		}

		forAnn, _ := s.GetWorkspacesForUser(ctx, "u1")
		if len(forAnn) != 2 {
			t.Errorf("GetWorkspacesForUser(u1) returned %d, want 2", len(forAnn))
		}
		forBob, _ := s.GetWorkspacesForUser(ctx, "u2")
		if len(forBob) != 1 || forBob[0].ID != shared.ID {
			t.Errorf("GetWorkspacesForUser(u2) = %v, want only the shared workspace", forBob)
		}
	})

	t.Run("devices", func(t *testing.T) {
		s, _ := seed(t)

		d := &model.Device{UserID: "u1", Name: "laptop", OS: "linux", UpdatedAt: ts}
		if err := s.UpsertDevice(ctx, d); err != nil {
			t.Fatalf("UpsertDevice(insert) error = %v", err)
		}
		if d.ID == 0 {
			t.Fatal("UpsertDevice(insert) did not assign an id")
		}

		d.AppVersion = "2.0"
		d.UpdatedAt = ts.Add(time.Hour)
		if err := s.UpsertDevice(ctx, d); err != nil {
			t.Fatalf("UpsertDevice(update) error = %v", err)
		}

		got, _ := s.GetDevice(ctx, d.ID)
		if got == nil || got.AppVersion != "2.0" || !got.UpdatedAt.Equal(d.UpdatedAt) {
			t.Errorf("GetDevice() = %+v, want updated device", got)
		}

		missing := &model.Device{ID: 999, UserID: "u1", Name: "ghost", UpdatedAt: ts}
		if err := s.UpsertDevice(ctx, missing); err == nil {
			t.Error("UpsertDevice() of unknown id expected error")
		}
	})
}
