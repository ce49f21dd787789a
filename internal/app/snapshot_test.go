package app

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"syncservice/internal/archive"
	"syncservice/internal/config"
	"syncservice/internal/database"
	"syncservice/internal/encryption"
	"syncservice/internal/testutil"
)

func TestSnapshotName(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	name := SnapshotName("5f1c-node", ts)
	if name != "5f1c-node-20240615T143045Z.snapshot" {
		t.Fatalf("SnapshotName() = %q", name)
	}

	instance, got, err := ParseSnapshotName(name)
	if err != nil {
		t.Fatalf("ParseSnapshotName() error = %v", err)
	}
	if instance != "5f1c-node" || !got.Equal(ts) {
		t.Errorf("ParseSnapshotName() = %q, %v; want %q, %v", instance, got, "5f1c-node", ts)
	}
}

func TestParseSnapshotName_Invalid(t *testing.T) {
	tests := []string{
		"",
		"node-20240615T143045Z.db",
		"20240615T143045Z.snapshot",
		"node-yesterday.snapshot",
	}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			if _, _, err := ParseSnapshotName(name); err == nil {
				t.Errorf("ParseSnapshotName(%q) expected error", name)
			}
		})
	}
}

// newSnapshotFixture migrates a sqlite store holding one user.
func newSnapshotFixture(t *testing.T) *config.Config {
	t.Helper()
	ctx := context.Background()

	cfg := newTestConfig(t)
	cfg.Storage.Type = "sqlite"
	if err := Migrate(ctx, cfg); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	a, err := NewSyncApp(ctx, cfg)
	if err != nil {
		t.Fatalf("NewSyncApp() error = %v", err)
	}
	if _, _, err := a.CreateUser(ctx, "alice", "alice@example.com"); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return cfg
}

func assertHasAlice(t *testing.T, path string) {
	t.Helper()
	stores, err := database.OpenSQLitePool(context.Background(), path, database.PoolOptions{Size: 1})
	if err != nil {
		t.Fatalf("opening restored database: %v", err)
	}
	defer stores[0].Close()

	u, err := stores[0].FindUserByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("FindUserByEmail() error = %v", err)
	}
	if u == nil || u.Name != "alice" {
		t.Errorf("restored user = %+v, want alice", u)
	}
}

func TestSnapshotManager_PushPull(t *testing.T) {
	ctx := context.Background()
	cfg := newSnapshotFixture(t)
	arch := archive.NewMemoryArchive("test")
	clock := testutil.FixedClock()
	m := NewSnapshotManager(cfg, arch, testutil.NewTestEncryptor(), clock)

	name, err := m.Push(ctx)
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if want := SnapshotName("test-instance", clock.Now()); name != want {
		t.Errorf("Push() name = %q, want %q", name, want)
	}

	// Foreign objects in the archive are not snapshots.
	if err := arch.Put(ctx, "README", strings.NewReader("hi"), 2); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	entries, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name != name {
		t.Fatalf("List() = %+v, want only %s", entries, name)
	}

	dest := filepath.Join(t.TempDir(), "restored.db")
	if err := m.Pull(ctx, name, dest, ""); err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	assertHasAlice(t, dest)

	if err := m.Pull(ctx, name, dest, ""); err == nil {
		t.Error("Pull() onto existing destination should fail")
	}
}

func TestSnapshotManager_Pull_UnknownName(t *testing.T) {
	m := NewSnapshotManager(newTestConfig(t), archive.NewMemoryArchive("test"), testutil.NewTestEncryptor(), testutil.FixedClock())

	dest := filepath.Join(t.TempDir(), "restored.db")
	if err := m.Pull(context.Background(), "node-20240101T000000Z.snapshot", dest, ""); err == nil {
		t.Fatal("expected error for missing snapshot")
	}
}

func TestSnapshotManager_PushRefusals(t *testing.T) {
	t.Run("memory storage", func(t *testing.T) {
		m := NewSnapshotManager(newTestConfig(t), archive.NewMemoryArchive("test"), testutil.NewTestEncryptor(), testutil.FixedClock())
		if _, err := m.Push(context.Background()); err == nil {
			t.Fatal("expected error for memory storage")
		}
	})

	t.Run("keys missing", func(t *testing.T) {
		cfg := newSnapshotFixture(t)
		m := NewSnapshotManager(cfg, archive.NewMemoryArchive("test"), encryption.NewAgeEncryptor(cfg.Encryption), testutil.FixedClock())
		_, err := m.Push(context.Background())
		if err == nil || !strings.Contains(err.Error(), "keygen") {
			t.Fatalf("Push() error = %v, want keygen hint", err)
		}
	})
}

func TestSnapshotManager_AgeRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := newSnapshotFixture(t)
	arch := archive.NewMemoryArchive("test")
	m := NewSnapshotManager(cfg, arch, encryption.NewAgeEncryptor(cfg.Encryption), testutil.FixedClock())

	if err := m.Keygen("correct horse"); err != nil {
		t.Fatalf("Keygen() error = %v", err)
	}
	name, err := m.Push(ctx)
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	var sealed bytes.Buffer
	if err := arch.Get(ctx, name, &sealed); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if bytes.Contains(sealed.Bytes(), []byte("alice@example.com")) {
		t.Error("archived snapshot contains plaintext")
	}

	dir := t.TempDir()
	if err := m.Pull(ctx, name, filepath.Join(dir, "wrong.db"), "battery staple"); err == nil {
		t.Error("Pull() with wrong passphrase should fail")
	}

	dest := filepath.Join(dir, "restored.db")
	if err := m.Pull(ctx, name, dest, "correct horse"); err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	assertHasAlice(t, dest)
}
