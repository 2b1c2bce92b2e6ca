package schema

import (
	"time"

	"github.com/google/uuid"
)

// DiagnosticKind classifies a recorded diagnostic.
type DiagnosticKind string

const (
	// DiagConflict: an external change arrived for a note with unsaved edits.
	DiagConflict DiagnosticKind = "conflict"
	// DiagDeletedWhileDirty: the file of a dirty note vanished from disk.
	DiagDeletedWhileDirty DiagnosticKind = "deleted_while_dirty"
	// DiagScanSkipped: a file could not be read during a scan.
	DiagScanSkipped DiagnosticKind = "scan_skipped"
	// DiagPersistFailed: a debounced or forced write failed.
	DiagPersistFailed DiagnosticKind = "persist_failed"
	// DiagEventDropped: a subscriber buffer was full.
	DiagEventDropped DiagnosticKind = "event_dropped"
	// DiagWatchError: the OS watcher reported an error.
	DiagWatchError DiagnosticKind = "watch_error"
)

// Diagnostic is a user-visible record of something the engine resolved on
// its own instead of failing a request.
type Diagnostic struct {
	ID      string         `json:"id"`
	Kind    DiagnosticKind `json:"kind"`
	NoteID  string         `json:"note_id,omitempty"`
	Path    string         `json:"path,omitempty"`
	Message string         `json:"message"`

	// ExternalModTime is the modification time of the external change
	// that was ignored (conflicts only).
	ExternalModTime time.Time `json:"external_mod_time,omitempty"`
	At              time.Time `json:"at"`
}

// NewDiagnostic stamps a diagnostic with a fresh id and the current time.
func NewDiagnostic(kind DiagnosticKind, noteID, path, message string) Diagnostic {
	return Diagnostic{
		ID:      uuid.NewString(),
		Kind:    kind,
		NoteID:  noteID,
		Path:    path,
		Message: message,
		At:      time.Now(),
	}
}
