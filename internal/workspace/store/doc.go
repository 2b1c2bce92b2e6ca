// Package store is the authoritative in-memory model of one workspace.
//
// A Store is opened on a workspace root, scans it into notes and folders,
// and from then on is the only writer of that model. Callers mutate it
// through its methods (create, rename, move, duplicate, delete, pin, edit)
// and observe it through snapshots and the event bus. External filesystem
// changes arrive from a watcher and are merged with ApplyEvent.
//
// # Note states
//
// Every note is Clean, Dirty or Saving. UpdateNoteContent changes memory
// only and schedules a debounced write, so typing never waits on disk.
// SaveNoteToFileSystem writes immediately and is a no-op when the content
// already matches what was last written. A failed write leaves the note
// Dirty and records a persist_failed diagnostic.
//
// # External changes
//
// Changes from disk go through the reconcile policy: a Clean note takes
// the external content, a Dirty or Saving note keeps its local edits and a
// conflict diagnostic is recorded. A Dirty note whose file is deleted is
// kept and its next save recreates the file.
//
// # Sequencing
//
// Operations on the same note never interleave. Each note id and each
// folder ("dir:<folder>", the root is "dir:") has a lock. Operations take
// folder locks first, in one sorted call, then note locks. The disk writer
// holds only the note lock, so unrelated notes never block each other.
//
// # Bulk operations
//
// RunBulk pauses the watcher around many filesystem writes and rescans
// afterwards. Events that occur while paused are dropped; the rescan
// resynchronizes the model and derived folder counts.
package store
