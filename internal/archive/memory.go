package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// MemoryArchive keeps snapshots in memory. Safe for concurrent use.
type MemoryArchive struct {
	name    string
	mu      sync.RWMutex
	blobs   map[string][]byte
	modTime map[string]time.Time
}

func NewMemoryArchive(name string) *MemoryArchive {
	return &MemoryArchive{
		name:    name,
		blobs:   make(map[string][]byte),
		modTime: make(map[string]time.Time),
	}
}

func (m *MemoryArchive) Put(_ context.Context, name string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = data
	m.modTime[name] = time.Now().UTC()
	return nil
}

func (m *MemoryArchive) Get(_ context.Context, name string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (m *MemoryArchive) List(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]Entry, 0, len(m.blobs))
	for name, data := range m.blobs {
		entries = append(entries, Entry{Name: name, Size: int64(len(data)), ModTime: m.modTime[name]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// ValidateSetup always succeeds for an in-memory archive.
func (m *MemoryArchive) ValidateSetup(context.Context) error {
	return nil
}

// Compile-time check that MemoryArchive implements Archive
var _ Archive = (*MemoryArchive)(nil)
