package schema

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPath  = errors.New("invalid path")
	ErrNotFound     = errors.New("not found")
	ErrNameConflict = errors.New("name conflict")
	ErrPersistence  = errors.New("persistence failed")
	ErrScan         = errors.New("scan failed")
)

// InvalidPathError reports a path outside the workspace root or one that
// contains characters a note or folder name may not use.
type InvalidPathError struct {
	Path   string
	Reason string
}

func (e *InvalidPathError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid path %q", e.Path)
	}
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

func (e *InvalidPathError) Is(target error) bool {
	return target == ErrInvalidPath
}

// NotFoundError is returned when an operation targets a note or folder
// that no longer exists.
type NotFoundError struct {
	Kind string // "note" or "folder"
	ID   string
}

func (e *NotFoundError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "entity"
	}
	return fmt.Sprintf("%s not found: %s", kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NameConflictError is returned when a target name is taken at the moment
// of the filesystem operation, e.g. a file appeared between allocation
// and create.
type NameConflictError struct {
	Path string
}

func (e *NameConflictError) Error() string {
	return fmt.Sprintf("name conflict at %s", e.Path)
}

func (e *NameConflictError) Is(target error) bool {
	return target == ErrNameConflict
}

// PersistenceError wraps a failed disk write. The note stays dirty.
type PersistenceError struct {
	NoteID string
	Path   string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist note %s to %s: %v", e.NoteID, e.Path, e.Err)
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ScanError describes a single file skipped during a scan. It is recorded,
// never returned from Scan itself.
type ScanError struct {
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("skipped %s: %v", e.Path, e.Err)
}

func (e *ScanError) Is(target error) bool {
	return target == ErrScan
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// NoteNotFound is shorthand for a NotFoundError of kind "note".
func NoteNotFound(id string) error {
	return &NotFoundError{Kind: "note", ID: id}
}

// FolderNotFound is shorthand for a NotFoundError of kind "folder".
func FolderNotFound(id string) error {
	return &NotFoundError{Kind: "folder", ID: id}
}
