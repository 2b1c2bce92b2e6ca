package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/steveyegge/notesync/internal/workspace/events"
	"github.com/steveyegge/notesync/internal/workspace/identity"
	"github.com/steveyegge/notesync/internal/workspace/reconcile"
	"github.com/steveyegge/notesync/internal/workspace/scanner"
	"github.com/steveyegge/notesync/internal/workspace/schema"
	"github.com/steveyegge/notesync/internal/workspace/watch"
)

// ApplyEvent merges one coalesced watcher event into the model. It is
// called by the watch loop and may be called directly with synthetic
// events.
func (s *Store) ApplyEvent(ev watch.Event) {
	if s.checkOpen() != nil {
		return
	}
	switch ev.Kind {
	case watch.FileAdded, watch.FileChanged:
		s.applyFileChange(ev.RelPath, ev.AbsPath)
	case watch.FileDeleted:
		s.applyFileDelete(ev.RelPath, ev.AbsPath)
	case watch.FolderAdded:
		s.applyFolderAdd(ev.RelPath, ev.AbsPath)
	case watch.FolderDeleted:
		s.applyFolderDelete(ev.RelPath, ev.AbsPath)
	}
}

func (s *Store) lockNote(id string) func() {
	folderID, _ := identity.Split(id)
	unlockDir := s.seq.LockMany(dirKey(folderID))
	unlockNote := s.seq.Lock(id)
	return func() {
		unlockNote()
		unlockDir()
	}
}

func (s *Store) applyFileChange(id, path string) {
	unlock := s.lockNote(id)
	defer unlock()

	scanned, err := s.scanner.ReadEntry(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.applyDeleteLocked(id, path)
		return
	}
	if err != nil {
		scanErr := &schema.ScanError{Path: path, Err: err}
		s.recordDiag(schema.NewDiagnostic(schema.DiagScanSkipped, id, path, scanErr.Error()))
		return
	}

	s.mu.Lock()
	e, known := s.notes[id]
	if !known {
		folderAdded := s.ensureFolderLocked(scanned.Note.FolderID)
		s.notes[id] = newEntry(scanned)
		note := s.notes[id].note
		s.mu.Unlock()

		s.logger.Printf("External add %s", id)
		if folderAdded {
			s.publishFolder(events.FolderAdded, note.FolderID, "")
		}
		s.publishNote(events.NoteAdded, note, "")
		if note.FolderID != "" {
			s.publishFolder(events.FolderChanged, note.FolderID, "")
		}
		return
	}
	action := s.mergeLocked(e, scanned)
	note := e.note
	s.mu.Unlock()

	s.afterMerge(id, note, action, scanned)
}

// mergeLocked applies an external read of e's file and returns the
// action taken. The caller holds s.mu.
func (s *Store) mergeLocked(e *entry, scanned scanner.Entry) reconcile.Action {
	// A file that reappears is no longer missing; the content decides.
	e.deletedOnDisk = false

	action := reconcile.Decide(
		reconcile.Local{State: e.state, Content: e.note.Content, Saved: e.saved},
		reconcile.External{Kind: reconcile.Changed, Content: scanned.Note.Content},
	)
	switch action {
	case reconcile.Accept:
		e.note.Content = scanned.Note.Content
		e.note.Title = scanned.Note.Title
		e.note.UpdatedAt = scanned.ModTime
		e.header = scanned.Header
		e.saved = scanned.Note.Content
		e.modTime = scanned.ModTime
	case reconcile.MarkClean:
		e.saved = scanned.Note.Content
		e.modTime = scanned.ModTime
		e.state = reconcile.Clean
	case reconcile.Conflict:
		e.externalModTime = scanned.ModTime
	case reconcile.Ignore:
		if e.state == reconcile.Clean {
			// Same body; the metadata block may still have changed.
			e.header = scanned.Header
			e.note.Title = scanned.Note.Title
			e.modTime = scanned.ModTime
		}
	}
	return action
}

// afterMerge publishes and records what mergeLocked decided. No lock on
// s.mu is held.
func (s *Store) afterMerge(id string, note schema.Note, action reconcile.Action, scanned scanner.Entry) {
	switch action {
	case reconcile.Accept:
		s.logger.Printf("External change %s accepted", id)
		s.publishNote(events.NoteChanged, note, "")
	case reconcile.MarkClean:
		s.queue.Cancel(id)
		s.publishNote(events.NoteChanged, note, "")
	case reconcile.Conflict:
		d := schema.NewDiagnostic(schema.DiagConflict, id, note.FilePath,
			fmt.Sprintf("%s changed on disk while it had unsaved edits; keeping local content", id))
		d.ExternalModTime = scanned.ModTime
		s.recordDiag(d)
	}
}

func (s *Store) isPinnedLocked(id string) bool {
	for _, p := range s.pins {
		if p == id {
			return true
		}
	}
	return false
}

// ensureFolderLocked adds folderID to the model if it is missing and
// reports whether it did.
func (s *Store) ensureFolderLocked(folderID string) bool {
	if folderID == "" {
		return false
	}
	if _, ok := s.folders[folderID]; ok {
		return false
	}
	f := s.newFolderLocked(folderID)
	f.IsRss = s.side.HasSubscription(f.Path)
	s.folders[folderID] = f
	return true
}

func (s *Store) applyFileDelete(id, path string) {
	unlock := s.lockNote(id)
	defer unlock()
	s.applyDeleteLocked(id, path)
}

// applyDeleteLocked handles a vanished file. The caller holds the folder
// and note locks.
func (s *Store) applyDeleteLocked(id, path string) {
	// Atomic replaces surface as delete-then-create; trust the disk.
	if _, err := s.fs.Stat(path); err == nil {
		return
	}

	s.mu.Lock()
	e, ok := s.notes[id]
	if !ok || e.deletedOnDisk {
		s.mu.Unlock()
		return
	}
	action := reconcile.Decide(
		reconcile.Local{State: e.state, Content: e.note.Content, Saved: e.saved},
		reconcile.External{Kind: reconcile.Deleted},
	)
	if action == reconcile.KeepDeleted {
		e.deletedOnDisk = true
	}
	s.mu.Unlock()

	switch action {
	case reconcile.Remove:
		s.logger.Printf("External delete %s", id)
		s.dropNote(id)
	case reconcile.KeepDeleted:
		s.recordDiag(schema.NewDiagnostic(schema.DiagDeletedWhileDirty, id, path,
			fmt.Sprintf("%s was deleted on disk while it had unsaved edits; saving will recreate it", id)))
	}
}

func (s *Store) applyFolderAdd(name, path string) {
	unlock := s.seq.LockMany(dirKey(""), dirKey(name))
	defer unlock()

	info, err := s.fs.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	s.mu.Lock()
	added := s.ensureFolderLocked(name)
	s.mu.Unlock()
	if added {
		s.logger.Printf("External folder add %s", name)
		s.publishFolder(events.FolderAdded, name, "")
	}
}

func (s *Store) applyFolderDelete(name, path string) {
	unlockDirs := s.seq.LockMany(dirKey(""), dirKey(name))
	defer unlockDirs()

	if info, err := s.fs.Stat(path); err == nil && info.IsDir() {
		return
	}

	s.mu.RLock()
	_, known := s.folders[name]
	ids := s.noteIDsLocked(name)
	s.mu.RUnlock()
	if !known {
		return
	}

	unlockNotes := s.seq.LockMany(ids...)
	defer unlockNotes()

	var removed, kept []string
	pinsChanged := false
	s.mu.Lock()
	for _, id := range ids {
		e, ok := s.notes[id]
		if !ok {
			continue
		}
		action := reconcile.Decide(
			reconcile.Local{State: e.state, Content: e.note.Content, Saved: e.saved},
			reconcile.External{Kind: reconcile.Deleted},
		)
		if action == reconcile.KeepDeleted {
			if !e.deletedOnDisk {
				e.deletedOnDisk = true
				kept = append(kept, id)
			}
			continue
		}
		delete(s.notes, id)
		if s.removePinLocked(id) {
			pinsChanged = true
		}
		if s.selected == id {
			s.selected = ""
		}
		removed = append(removed, id)
	}
	folderGone := len(s.noteIDsLocked(name)) == 0
	if folderGone {
		delete(s.folders, name)
	}
	s.mu.Unlock()

	for _, id := range removed {
		s.queue.Cancel(id)
	}
	if pinsChanged {
		s.savePinsOrRecord()
	}

	s.logger.Printf("External folder delete %s (%d removed, %d kept)", name, len(removed), len(kept))
	for _, id := range removed {
		s.bus.Publish(events.Event{Kind: events.NoteDeleted, ID: id})
	}
	for _, id := range kept {
		s.recordDiag(schema.NewDiagnostic(schema.DiagDeletedWhileDirty, id, "",
			fmt.Sprintf("%s was deleted on disk while it had unsaved edits; saving will recreate it", id)))
	}
	if folderGone {
		s.bus.Publish(events.Event{Kind: events.FolderDeleted, ID: name})
	} else {
		s.publishFolder(events.FolderChanged, name, "")
	}
}

// Rescan reads the whole workspace again and merges it into the model
// with the same policy as watcher events: clean notes follow the disk,
// notes with unsaved edits keep them. Pins, selection and folder counts
// are brought in line with what is on disk.
//
// The caller must not hold any note or folder lock.
func (s *Store) Rescan(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.mu.RLock()
	dirs := []string{dirKey("")}
	for id := range s.folders {
		dirs = append(dirs, dirKey(id))
	}
	ids := make([]string, 0, len(s.notes))
	for id := range s.notes {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	unlockDirs := s.seq.LockMany(dirs...)
	defer unlockDirs()

	// Notes created between the snapshot above and the dir locks are
	// picked up as well.
	s.mu.RLock()
	for id := range s.notes {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	unlockNotes := s.seq.LockMany(ids...)
	defer unlockNotes()

	res, err := s.scanner.Scan(ctx)
	if err != nil {
		return err
	}
	s.merge(res)
	return nil
}

type pendingNote struct {
	note   schema.Note
	action reconcile.Action
	entry  scanner.Entry
}

func (s *Store) merge(res *scanner.Result) {
	scanned := make(map[string]scanner.Entry, len(res.Entries))
	for _, e := range res.Entries {
		scanned[e.Note.ID] = e
	}
	onDisk := make(map[string]schema.Folder, len(res.Folders))
	for _, f := range res.Folders {
		onDisk[f.ID] = f
	}

	var (
		added       []schema.Note
		changed     []pendingNote
		removed     []string
		kept        []schema.Note
		touched     = make(map[string]bool)
		foldersNew  []string
		foldersMod  []string
		foldersGone []string
		pinsChanged bool
	)

	s.mu.Lock()
	for id, e := range s.notes {
		entry, ok := scanned[id]
		if ok {
			before := e.note
			action := s.mergeLocked(e, entry)
			if action != reconcile.Ignore || before.Title != e.note.Title {
				changed = append(changed, pendingNote{note: e.note, action: action, entry: entry})
			}
			continue
		}
		if e.deletedOnDisk {
			continue
		}
		action := reconcile.Decide(
			reconcile.Local{State: e.state, Content: e.note.Content, Saved: e.saved},
			reconcile.External{Kind: reconcile.Deleted},
		)
		if action == reconcile.KeepDeleted {
			e.deletedOnDisk = true
			kept = append(kept, e.note)
			continue
		}
		delete(s.notes, id)
		if s.removePinLocked(id) {
			pinsChanged = true
		}
		if s.selected == id {
			s.selected = ""
		}
		removed = append(removed, id)
		touched[e.note.FolderID] = true
	}

	for id, entry := range scanned {
		if _, ok := s.notes[id]; ok {
			continue
		}
		ne := newEntry(entry)
		ne.note.IsPinned = s.isPinnedLocked(id)
		s.notes[id] = ne
		added = append(added, ne.note)
		touched[entry.Note.FolderID] = true
	}

	for id, f := range onDisk {
		cur, ok := s.folders[id]
		if !ok {
			folder := f
			s.folders[id] = &folder
			foldersNew = append(foldersNew, id)
			continue
		}
		if cur.IsRss != f.IsRss {
			cur.IsRss = f.IsRss
			foldersMod = append(foldersMod, id)
		}
	}
	for id := range s.folders {
		if _, ok := onDisk[id]; ok {
			continue
		}
		if len(s.noteIDsLocked(id)) > 0 {
			// Still holds notes whose files are gone but have unsaved edits.
			continue
		}
		delete(s.folders, id)
		foldersGone = append(foldersGone, id)
	}

	for _, d := range res.Diagnostics {
		s.appendDiagLocked(d)
	}
	s.mu.Unlock()

	for _, id := range removed {
		s.queue.Cancel(id)
	}
	if pinsChanged {
		s.savePinsOrRecord()
	}

	sort.Strings(foldersNew)
	sort.Strings(foldersGone)
	sort.Strings(removed)
	sort.Slice(added, func(i, j int) bool { return added[i].ID < added[j].ID })

	for _, id := range foldersNew {
		s.publishFolder(events.FolderAdded, id, "")
	}
	for _, id := range removed {
		s.bus.Publish(events.Event{Kind: events.NoteDeleted, ID: id})
	}
	for _, n := range added {
		s.publishNote(events.NoteAdded, n, "")
	}
	for _, p := range changed {
		if p.action == reconcile.Ignore {
			s.publishNote(events.NoteChanged, p.note, "")
			continue
		}
		s.afterMerge(p.note.ID, p.note, p.action, p.entry)
	}
	for _, n := range kept {
		s.recordDiag(schema.NewDiagnostic(schema.DiagDeletedWhileDirty, n.ID, n.FilePath,
			fmt.Sprintf("%s was deleted on disk while it had unsaved edits; saving will recreate it", n.ID)))
	}
	for _, id := range foldersGone {
		s.bus.Publish(events.Event{Kind: events.FolderDeleted, ID: id})
		delete(touched, id)
	}
	for _, id := range foldersMod {
		touched[id] = true
	}
	for _, id := range foldersNew {
		delete(touched, id)
	}
	delete(touched, "")
	var folderIDs []string
	for id := range touched {
		folderIDs = append(folderIDs, id)
	}
	sort.Strings(folderIDs)
	for _, id := range folderIDs {
		s.publishFolder(events.FolderChanged, id, "")
	}

	s.logger.Printf("Rescan: +%d -%d ~%d notes, %d kept deleted", len(added), len(removed), len(changed), len(kept))
	s.bus.Publish(events.Event{Kind: events.Rescanned})
}
