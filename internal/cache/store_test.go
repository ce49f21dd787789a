package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"syncservice/internal/cache"
	"syncservice/internal/engine"
	"syncservice/internal/model"
	"syncservice/internal/testutil"
)

func TestStore_Contract(t *testing.T) {
	testutil.StorageContract(t, func(t *testing.T) engine.Storage {
		return cache.NewStore()
	})
}

func TestOpenPool_SharesData(t *testing.T) {
	ctx := context.Background()
	stores := cache.OpenPool(3)
	if len(stores) != 3 {
		t.Fatalf("OpenPool(3) returned %d stores", len(stores))
	}

	u := &model.User{ID: "u1", Name: "Ann", Email: "ann@example.com", CreatedAt: time.Now()}
	if err := stores[0].CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	for i, s := range stores {
		got, err := s.GetUser(ctx, "u1")
		if err != nil || got == nil {
			t.Errorf("store %d GetUser() = %v, %v; want user", i, got, err)
		}
	}
}

func TestStore_ConcurrentVersionRace(t *testing.T) {
	ctx := context.Background()
	stores := cache.OpenPool(4)
	u := &model.User{ID: "u1", Name: "Ann", Email: "ann@example.com"}
	if err := stores[0].CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	ws := &model.Workspace{Name: "default", OwnerID: "u1", Members: []*model.Member{{UserID: "u1", Accepted: true}}}
	if err := stores[0].CreateWorkspace(ctx, ws); err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	item := &model.Item{Version: 1, WorkspaceID: ws.ID, Status: model.StatusNew, Filename: "a.txt"}
	if err := stores[0].PutItemVersion(ctx, item); err != nil {
		t.Fatalf("PutItemVersion() error = %v", err)
	}

	// Every store tries to write version 2; exactly one may win.
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, s := range stores {
		wg.Add(1)
		go func(s engine.Storage) {
			defer wg.Done()
			c := item.Clone()
			c.Version = 2
			if err := s.PutItemVersion(ctx, c); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d writers won the race for version 2, want 1", wins)
	}
}
