package model

import (
	"strconv"
	"time"
)

// Status is the lifecycle state recorded on each item version.
type Status string

const (
	StatusNew      Status = "NEW"
	StatusChanged  Status = "CHANGED"
	StatusRenamed  Status = "RENAMED"
	StatusMoved    Status = "MOVED"
	StatusDeleted  Status = "DELETED"
	StatusRestored Status = "RESTORED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusChanged, StatusRenamed, StatusMoved, StatusDeleted, StatusRestored:
		return true
	}
	return false
}

// Item is one version of a file or folder in a workspace tree.
// Versions are append-only: a change produces a new Item row with Version+1,
// earlier rows are kept for history and restore.
type Item struct {
	ID          int64 `json:"id"`
	Version     int64 `json:"version"`
	WorkspaceID int64 `json:"workspace_id"`
	DeviceID    int64 `json:"device_id"`

	// ParentID and ParentVersion pin the exact parent version this item was
	// created against. A nil ParentID marks a root-level item.
	ParentID      *int64 `json:"parent_id,omitempty"`
	ParentVersion *int64 `json:"parent_version,omitempty"`

	Status       Status    `json:"status"`
	Filename     string    `json:"filename"`
	IsFolder     bool      `json:"is_folder"`
	Checksum     int64     `json:"checksum"`
	Size         int64     `json:"size"`
	Mimetype     string    `json:"mimetype"`
	LastModified time.Time `json:"last_modified"`
	Chunks       []string  `json:"chunks,omitempty"`

	// Set by storage.
	CommittedAt time.Time `json:"committed_at"`
	Seq         int64     `json:"seq"`
}

// IsRoot reports whether the item has no parent.
func (i *Item) IsRoot() bool {
	return i.ParentID == nil
}

// IsDeleted reports whether this version is a tombstone.
func (i *Item) IsDeleted() bool {
	return i.Status == StatusDeleted
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	c := *i
	if i.ParentID != nil {
		c.ParentID = Int64(*i.ParentID)
	}
	if i.ParentVersion != nil {
		c.ParentVersion = Int64(*i.ParentVersion)
	}
	if i.Chunks != nil {
		c.Chunks = append([]string(nil), i.Chunks...)
	}
	return &c
}

// SameContent reports whether two versions carry the same user-visible
// attributes. Identity, version and storage bookkeeping are excluded.
func (i *Item) SameContent(o *Item) bool {
	if i.Filename != o.Filename ||
		i.IsFolder != o.IsFolder ||
		i.Checksum != o.Checksum ||
		i.Size != o.Size ||
		i.Mimetype != o.Mimetype ||
		!i.LastModified.Equal(o.LastModified) ||
		!equalInt64Ptr(i.ParentID, o.ParentID) ||
		len(i.Chunks) != len(o.Chunks) {
		return false
	}
	for k := range i.Chunks {
		if i.Chunks[k] != o.Chunks[k] {
			return false
		}
	}
	return true
}

func (i *Item) String() string {
	parent := "root"
	if i.ParentID != nil {
		parent = strconv.FormatInt(*i.ParentID, 10)
	}
	return "item{id=" + strconv.FormatInt(i.ID, 10) +
		" v=" + strconv.FormatInt(i.Version, 10) +
		" parent=" + parent +
		" name=" + strconv.Quote(i.Filename) +
		" status=" + string(i.Status) + "}"
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

func equalInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
