// Package archive stores metadata snapshots away from the server.
package archive

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Get when no snapshot has the given name.
var ErrNotFound = errors.New("snapshot not found")

// Entry describes one stored snapshot.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Archive is a flat namespace of named snapshot blobs.
// All operations stream through io.Reader/io.Writer.
type Archive interface {
	// Put stores r under name, replacing any previous snapshot of that name.
	// size is the number of bytes that will be read from r.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Get writes the snapshot called name to w.
	Get(ctx context.Context, name string, w io.Writer) error

	// List returns all snapshots sorted by name.
	List(ctx context.Context) ([]Entry, error)

	// ValidateSetup verifies that the archive is reachable and usable.
	ValidateSetup(ctx context.Context) error
}
