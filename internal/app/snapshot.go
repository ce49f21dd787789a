package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"syncservice/internal/archive"
	"syncservice/internal/config"
	"syncservice/internal/database"
	"syncservice/internal/encryption"
	"syncservice/internal/engine"
)

const (
	snapshotTimeFormat = "20060102T150405Z"
	snapshotSuffix     = ".snapshot"
)

// SnapshotName returns the archive name of a snapshot taken by instance at t:
// <instance>-<20060102T150405Z>.snapshot. Names sort by time per instance.
func SnapshotName(instance string, t time.Time) string {
	return instance + "-" + t.UTC().Format(snapshotTimeFormat) + snapshotSuffix
}

// ParseSnapshotName splits a snapshot name into its instance and time.
func ParseSnapshotName(name string) (string, time.Time, error) {
	base, ok := strings.CutSuffix(name, snapshotSuffix)
	if !ok {
		return "", time.Time{}, fmt.Errorf("not a snapshot name: %q", name)
	}
	i := strings.LastIndex(base, "-")
	if i <= 0 {
		return "", time.Time{}, fmt.Errorf("snapshot name without instance: %q", name)
	}
	t, err := time.Parse(snapshotTimeFormat, base[i+1:])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("snapshot name %q: %w", name, err)
	}
	return base[:i], t, nil
}

// SnapshotManager copies the SQLite metadata store to an archive, encrypted,
// and restores it from there.
type SnapshotManager struct {
	cfg       *config.Config
	archive   archive.Archive
	encryptor encryption.Encryptor
	clock     engine.Clock
}

func NewSnapshotManager(cfg *config.Config, arch archive.Archive, enc encryption.Encryptor, clock engine.Clock) *SnapshotManager {
	return &SnapshotManager{cfg: cfg, archive: arch, encryptor: enc, clock: clock}
}

// NewSnapshotManagerFromConfig builds the archive and encryptor named by cfg.
func NewSnapshotManagerFromConfig(ctx context.Context, cfg *config.Config) (*SnapshotManager, error) {
	arch, err := archive.NewArchiveFromConfig(ctx, cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	return NewSnapshotManager(cfg, arch, enc, engine.RealClock{}), nil
}

// Keygen creates the snapshot key pair, protecting the private key with passphrase.
func (m *SnapshotManager) Keygen(passphrase string) error {
	return m.encryptor.Setup(passphrase)
}

// Encryptor returns the encryptor snapshots are sealed with.
func (m *SnapshotManager) Encryptor() encryption.Encryptor {
	return m.encryptor
}

// Push copies the live database, encrypts the copy and uploads it.
// It returns the name the snapshot was stored under.
func (m *SnapshotManager) Push(ctx context.Context) (string, error) {
	if m.cfg.Storage.Type != "sqlite" {
		return "", fmt.Errorf("snapshots are only supported for sqlite storage, not %q", m.cfg.Storage.Type)
	}
	if !m.encryptor.IsConfigured() {
		return "", fmt.Errorf("encryption is not configured (run snapshot keygen)")
	}
	if err := m.archive.ValidateSetup(ctx); err != nil {
		return "", fmt.Errorf("archive not usable: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "syncservice-snapshot-*")
	if err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := database.OpenMigrationTarget(ctx, m.cfg.Storage, engine.NewNopLogger())
	if err != nil {
		return "", fmt.Errorf("opening storage: %w", err)
	}
	plainPath := filepath.Join(tmpDir, database.DBFileName)
	err = store.BackupTo(ctx, plainPath)
	store.Close()
	if err != nil {
		return "", err
	}

	sealedPath := filepath.Join(tmpDir, "sealed")
	size, err := m.seal(plainPath, sealedPath)
	if err != nil {
		return "", err
	}

	sealed, err := os.Open(sealedPath)
	if err != nil {
		return "", fmt.Errorf("opening sealed snapshot: %w", err)
	}
	defer sealed.Close()

	name := SnapshotName(m.cfg.InstanceID, m.clock.Now())
	if err := m.archive.Put(ctx, name, sealed, size); err != nil {
		return "", fmt.Errorf("uploading snapshot %s: %w", name, err)
	}
	return name, nil
}

func (m *SnapshotManager) seal(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("opening database copy: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("creating sealed snapshot: %w", err)
	}
	if err := m.encryptor.Encrypt(in, out); err != nil {
		out.Close()
		return 0, fmt.Errorf("encrypting snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("closing sealed snapshot: %w", err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return 0, fmt.Errorf("stat sealed snapshot: %w", err)
	}
	return info.Size(), nil
}

// Pull downloads snapshot name and writes the decrypted database to dest.
// dest must not exist; the live database is never overwritten in place.
func (m *SnapshotManager) Pull(ctx context.Context, name, dest, passphrase string) error {
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("destination %s already exists", dest)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking destination: %w", err)
	}

	dec, err := m.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}

	sealed, err := os.CreateTemp("", "syncservice-pull-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(sealed.Name())
	defer sealed.Close()

	if err := m.archive.Get(ctx, name, sealed); err != nil {
		return fmt.Errorf("downloading snapshot %s: %w", name, err)
	}
	if _, err := sealed.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding snapshot: %w", err)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if err := dec.Decrypt(sealed, out); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("decrypting snapshot %s: %w", name, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return fmt.Errorf("closing %s: %w", dest, err)
	}
	return nil
}

// List returns the archive's snapshots, skipping entries that are not snapshots.
func (m *SnapshotManager) List(ctx context.Context) ([]archive.Entry, error) {
	entries, err := m.archive.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	var out []archive.Entry
	for _, e := range entries {
		if _, _, err := ParseSnapshotName(e.Name); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
