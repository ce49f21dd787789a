package engine

import "syncservice/internal/model"

// Reject identifies why an item was not accepted. The zero value means accepted.
type Reject int

const (
	RejectNone Reject = iota
	RejectParentNotFound
	RejectIncorrectParent
	RejectParentDeleted
	RejectParentConflict
	RejectVersionConflict
)

// Code returns the HTTP-like status reported to clients.
func (r Reject) Code() int {
	switch r {
	case RejectNone:
		return 0
	case RejectParentNotFound:
		return 404
	case RejectIncorrectParent, RejectParentDeleted:
		return 400
	default:
		return 409
	}
}

// Description returns the user-facing message for the rejection.
func (r Reject) Description() string {
	switch r {
	case RejectNone:
		return ""
	case RejectParentNotFound:
		return "Parent not found."
	case RejectIncorrectParent:
		return "Incorrect parent."
	case RejectParentDeleted:
		return "Parent is deleted."
	case RejectParentConflict:
		return "Parent version conflict."
	default:
		return "Version conflict."
	}
}

func (r Reject) String() string {
	switch r {
	case RejectNone:
		return "Accepted"
	case RejectParentNotFound:
		return "ParentNotFound"
	case RejectIncorrectParent:
		return "IncorrectParent"
	case RejectParentDeleted:
		return "ParentDeleted"
	case RejectParentConflict:
		return "ParentConflict"
	default:
		return "VersionConflict"
	}
}

// Decision is the validator's verdict on one submitted item.
type Decision struct {
	Reject Reject
	// Version is the version to assign when accepted.
	Version int64
}

// Accepted reports whether the item may be persisted.
func (d Decision) Accepted() bool { return d.Reject == RejectNone }

// Validate decides whether item can be committed on top of the current tree.
//
// current is the latest known version of the same item (nil when the item is
// new) and parent is the latest known version of item.ParentID (nil when the
// item is root-level or the parent does not exist). Both must already reflect
// earlier accepted items of the same batch.
//
// Checks run in a fixed order so the client gets the most precise error:
// existence, type, deleted state, parent version, item version.
func Validate(item, current, parent *model.Item) Decision {
	tombstone := item.IsDeleted() && current != nil

	if !item.IsRoot() {
		if parent == nil {
			return Decision{Reject: RejectParentNotFound}
		}
		if !parent.IsFolder {
			return Decision{Reject: RejectIncorrectParent}
		}
		if parent.IsDeleted() && !tombstone {
			return Decision{Reject: RejectParentDeleted}
		}
		if !tombstone && (item.ParentVersion == nil || *item.ParentVersion != parent.Version) {
			return Decision{Reject: RejectParentConflict}
		}
	}

	next := int64(1)
	if current != nil {
		next = current.Version + 1
	}
	// Version 0 means the client has no expectation. Anything else must be
	// exactly the next version, which is what turns a replayed batch into
	// conflicts instead of duplicates.
	if item.Version != 0 && item.Version != next {
		return Decision{Reject: RejectVersionConflict}
	}
	// Deleting something the server never saw.
	if item.IsDeleted() && current == nil {
		return Decision{Reject: RejectVersionConflict}
	}

	return Decision{Version: next}
}
