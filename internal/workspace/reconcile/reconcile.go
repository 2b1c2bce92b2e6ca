// Package reconcile decides how an external filesystem change is merged
// into a note the store already holds. The policy is local-edits-win: a
// note with unsaved edits never has its content replaced from disk.
package reconcile

// State is the conceptual save state of a note.
type State int

const (
	// Clean: memory matches disk.
	Clean State = iota
	// Dirty: memory holds an edit not yet written.
	Dirty
	// Saving: a write is in flight.
	Saving
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case Saving:
		return "saving"
	default:
		return "unknown"
	}
}

// Local is the store's view of a note when an external change arrives.
type Local struct {
	State   State
	Content string
	// Saved is the content last read from or written to disk by the store.
	Saved string
}

// ChangeKind is the kind of external change.
type ChangeKind int

const (
	Changed ChangeKind = iota
	Deleted
)

// External describes a change observed on disk. Content is empty for
// deletions.
type External struct {
	Kind    ChangeKind
	Content string
}

// Action is what the store should do.
type Action int

const (
	// Ignore: nothing to do (no difference, or an echo of our own write).
	Ignore Action = iota
	// Accept: replace memory with the external content.
	Accept
	// MarkClean: disk already holds the local content; the note is clean.
	MarkClean
	// Conflict: keep local content, record the external change.
	Conflict
	// Remove: drop the note from memory.
	Remove
	// KeepDeleted: keep the unsaved note, remember its file is gone so the
	// next save recreates it.
	KeepDeleted
)

func (a Action) String() string {
	switch a {
	case Ignore:
		return "ignore"
	case Accept:
		return "accept"
	case MarkClean:
		return "mark_clean"
	case Conflict:
		return "conflict"
	case Remove:
		return "remove"
	case KeepDeleted:
		return "keep_deleted"
	default:
		return "unknown"
	}
}

// Decide returns the action for ext given local. It never fails.
func Decide(local Local, ext External) Action {
	if ext.Kind == Deleted {
		if local.State == Clean {
			return Remove
		}
		return KeepDeleted
	}

	if local.State == Clean {
		if ext.Content == local.Content {
			return Ignore
		}
		return Accept
	}

	switch ext.Content {
	case local.Content:
		return MarkClean
	case local.Saved:
		return Ignore
	default:
		return Conflict
	}
}
