package engine

import (
	"errors"
	"fmt"
)

// ErrVersionConflict is returned by Storage.PutItemVersion when the stored
// version moved since it was read. The engine reports it per item.
var ErrVersionConflict = errors.New("version conflict")

// Identity and lookup failures raised by read-side and administrative
// operations. Facades report them by Category.
var (
	ErrUserNotFound            = errors.New("user not found")
	ErrDeviceNotValid          = errors.New("device not valid")
	ErrDeviceNotUpdated        = errors.New("device not updated")
	ErrNoWorkspacesFound       = errors.New("no workspaces found")
	ErrShareProposalNotCreated = errors.New("share proposal not created")
	ErrWorkspaceNotFound       = errors.New("workspace not found")
	ErrItemNotFound            = errors.New("item not found")
	ErrVersionNotFound         = errors.New("version not found")
)

// StorageError is a connector I/O failure or constraint violation.
// It fails the whole request.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// Category returns the named failure category for an error returned by a
// Handler. Identity categories take precedence over StorageError so that a
// wrapped ErrDeviceNotUpdated still reads as such.
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUserNotFound):
		return "UserNotFound"
	case errors.Is(err, ErrDeviceNotValid):
		return "DeviceNotValid"
	case errors.Is(err, ErrDeviceNotUpdated):
		return "DeviceNotUpdated"
	case errors.Is(err, ErrNoWorkspacesFound):
		return "NoWorkspacesFound"
	case errors.Is(err, ErrShareProposalNotCreated):
		return "ShareProposalNotCreated"
	case errors.Is(err, ErrWorkspaceNotFound):
		return "WorkspaceNotFound"
	case errors.Is(err, ErrItemNotFound):
		return "ItemNotFound"
	case errors.Is(err, ErrVersionNotFound):
		return "VersionNotFound"
	case IsStorageError(err):
		return "StorageError"
	default:
		return "InternalError"
	}
}
