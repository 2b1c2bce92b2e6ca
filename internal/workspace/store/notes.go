package store

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/notesync/internal/workspace/events"
	"github.com/steveyegge/notesync/internal/workspace/frontmatter"
	"github.com/steveyegge/notesync/internal/workspace/identity"
	"github.com/steveyegge/notesync/internal/workspace/reconcile"
	"github.com/steveyegge/notesync/internal/workspace/schema"
)

// createAttempts bounds retries when a freshly allocated name is taken by
// the time the file is created.
const createAttempts = 3

// writeNote is the persistence queue's writer. The content argument is
// ignored: the current in-memory content is written instead, so an older
// scheduled write can never land after a newer one.
func (s *Store) writeNote(id, _ string) error {
	unlock := s.seq.Lock(id)
	defer unlock()
	return s.persistLocked(id)
}

// persistLocked writes the in-memory content of id to disk. The caller
// holds the note lock for id.
func (s *Store) persistLocked(id string) error {
	s.mu.Lock()
	e, ok := s.notes[id]
	if !ok {
		// Deleted since the write was scheduled.
		s.mu.Unlock()
		return nil
	}
	content := e.note.Content
	if content == e.saved && !e.deletedOnDisk {
		e.state = reconcile.Clean
		s.mu.Unlock()
		return nil
	}
	header, path := e.header, e.note.FilePath
	recreate := e.deletedOnDisk
	e.state = reconcile.Saving
	s.mu.Unlock()

	mtime, err := s.fs.Write(path, frontmatter.Compose(header, content))

	s.mu.Lock()
	if err != nil {
		e.state = reconcile.Dirty
		s.mu.Unlock()
		return &schema.PersistenceError{NoteID: id, Path: path, Err: err}
	}
	e.saved = content
	e.modTime = mtime
	e.deletedOnDisk = false
	if e.note.Content == content {
		e.state = reconcile.Clean
	} else {
		// Edited again while the write was in flight.
		e.state = reconcile.Dirty
	}
	stale := e.state == reconcile.Dirty
	latest := e.note.Content
	folderID := e.note.FolderID
	_, folderKnown := s.folders[folderID]
	if recreate && folderID != "" && !folderKnown {
		s.folders[folderID] = s.newFolderLocked(folderID)
	}
	s.mu.Unlock()

	if stale && !s.queue.Pending(id) {
		// A closed queue is fine: Close sweeps unsaved notes itself.
		_ = s.queue.Schedule(id, latest)
	}

	if recreate {
		s.logger.Printf("Recreated %s", id)
		if folderID != "" && !folderKnown {
			s.publishFolder(events.FolderAdded, folderID, "")
		}
	}
	return nil
}

func (s *Store) newFolderLocked(id string) *schema.Folder {
	path, _ := s.codec.FolderPath(id)
	return &schema.Folder{ID: id, Name: id, Path: path}
}

// SelectNote makes id the selected note. Pending edits of the previously
// selected note are flushed; a flush failure is recorded as a diagnostic.
func (s *Store) SelectNote(id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.notes[id]; !ok {
		s.mu.Unlock()
		return schema.NoteNotFound(id)
	}
	prev := s.selected
	s.selected = id
	s.mu.Unlock()

	if prev != "" && prev != id {
		if err := s.queue.Flush(prev); err != nil {
			s.onPersistError(prev, err)
		}
	}
	return nil
}

// UpdateNoteContent replaces the content of id in memory and schedules a
// debounced write. It never touches disk itself.
func (s *Store) UpdateNoteContent(id, text string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.mu.Lock()
	e, ok := s.notes[id]
	if !ok {
		s.mu.Unlock()
		return schema.NoteNotFound(id)
	}
	if e.note.Content == text {
		s.mu.Unlock()
		return nil
	}
	e.note.Content = text
	e.note.Title = titleFor(e.note.FileName, e.header, text)
	e.note.UpdatedAt = time.Now()
	// While a write is in flight saved is about to change, so the edit
	// must always be queued.
	backToSaved := text == e.saved && !e.deletedOnDisk && e.state != reconcile.Saving
	if backToSaved {
		e.state = reconcile.Clean
	} else if e.state == reconcile.Clean {
		e.state = reconcile.Dirty
	}
	note := e.note
	s.mu.Unlock()

	if backToSaved {
		s.queue.Cancel(id)
	} else if err := s.queue.Schedule(id, text); err != nil {
		return err
	}
	s.publishNote(events.NoteChanged, note, "")
	return nil
}

// SaveNoteToFileSystem sets the content of id and writes it immediately,
// cancelling any pending debounced write. Saving content identical to the
// last write does nothing.
func (s *Store) SaveNoteToFileSystem(id, text string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	unlock := s.seq.Lock(id)
	defer unlock()

	s.mu.Lock()
	e, ok := s.notes[id]
	if !ok {
		s.mu.Unlock()
		return schema.NoteNotFound(id)
	}
	changed := e.note.Content != text
	if changed {
		e.note.Content = text
		e.note.Title = titleFor(e.note.FileName, e.header, text)
		e.note.UpdatedAt = time.Now()
		e.state = reconcile.Dirty
	}
	s.mu.Unlock()

	s.queue.Cancel(id)
	if err := s.persistLocked(id); err != nil {
		s.onPersistError(id, err)
		return err
	}
	if changed {
		if n, err := s.Note(id); err == nil {
			s.publishNote(events.NoteChanged, n, "")
		}
	}
	return nil
}

// Flush writes the pending content of id now, if any.
func (s *Store) Flush(id string) error {
	return s.queue.Flush(id)
}

// FlushAll writes every note whose memory differs from disk, whether or
// not a debounced write is still pending for it, and returns all failures
// joined. Failed notes stay Dirty.
func (s *Store) FlushAll() error {
	s.mu.RLock()
	unsaved := make(map[string]bool)
	for id, e := range s.notes {
		if e.state != reconcile.Clean || e.deletedOnDisk {
			unsaved[id] = true
		}
	}
	s.mu.RUnlock()
	for _, id := range s.queue.IDs() {
		unsaved[id] = true
	}
	ids := make([]string, 0, len(unsaved))
	for id := range unsaved {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		s.queue.Cancel(id)
		if err := s.writeNote(id, ""); err != nil {
			s.onPersistError(id, err)
			errs = append(errs, fmt.Errorf("flush %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// CreateNote creates an empty note in folderID ("" for the root) named
// after title, or "untitled" when title is empty.
func (s *Store) CreateNote(folderID, title string) (schema.Note, error) {
	if err := s.checkOpen(); err != nil {
		return schema.Note{}, err
	}
	unlockDir := s.seq.Lock(dirKey(folderID))
	defer unlockDir()

	dir, err := s.folderDir(folderID)
	if err != nil {
		return schema.Note{}, err
	}
	base := identity.SanitizeName(title)

	for attempt := 0; ; attempt++ {
		s.mu.RLock()
		reserved := s.memoryNamesLocked(folderID)
		s.mu.RUnlock()

		name, err := s.codec.NextAvailableName(dir, base, identity.DefaultExtension, reserved...)
		if err != nil {
			return schema.Note{}, err
		}
		id := identity.Join(folderID, name)
		path := filepath.Join(dir, name)

		unlock := s.seq.Lock(id)
		mtime, err := s.fs.CreateExclusive(path, "")
		if err != nil {
			unlock()
			if errors.Is(err, schema.ErrNameConflict) && attempt+1 < createAttempts {
				continue
			}
			return schema.Note{}, err
		}

		note := s.insertNote(id, path, "", "", mtime)
		unlock()

		s.logger.Printf("Created note %s", id)
		s.publishNote(events.NoteAdded, note, "")
		if folderID != "" {
			s.publishFolder(events.FolderChanged, folderID, "")
		}
		return note, nil
	}
}

// folderDir returns the directory of folderID after checking the folder
// exists in the model.
func (s *Store) folderDir(folderID string) (string, error) {
	if folderID != "" {
		s.mu.RLock()
		_, ok := s.folders[folderID]
		s.mu.RUnlock()
		if !ok {
			return "", schema.FolderNotFound(folderID)
		}
	}
	return s.codec.FolderPath(folderID)
}

// insertNote adds a clean note to the model and returns it.
func (s *Store) insertNote(id, path, header, content string, mtime time.Time) schema.Note {
	folderID, fileName := identity.Split(id)
	e := &entry{
		note: schema.Note{
			ID:        id,
			Title:     titleFor(fileName, header, content),
			Content:   content,
			FileName:  fileName,
			FilePath:  path,
			FolderID:  folderID,
			CreatedAt: mtime,
			UpdatedAt: mtime,
		},
		state:   reconcile.Clean,
		header:  header,
		saved:   content,
		modTime: mtime,
	}
	s.mu.Lock()
	s.notes[id] = e
	s.mu.Unlock()
	return e.note
}

// RenameNote gives id a new file name derived from newTitle in the same
// folder. The id changes; pins and selection follow it.
func (s *Store) RenameNote(id, newTitle string) (schema.Note, error) {
	folderID, fileName := identity.Split(id)
	base := identity.SanitizeName(newTitle)
	return s.relocate(id, folderID, func(dir string, reserved []string) (string, error) {
		ext := filepath.Ext(fileName)
		if strings.EqualFold(base+ext, fileName) {
			// Unchanged, or a case-only rename of the same file.
			return base + ext, nil
		}
		return s.codec.NextAvailableName(dir, base, ext, reserved...)
	})
}

// MoveNote moves id into folderID ("" for the root), keeping its file name
// unless it collides.
func (s *Store) MoveNote(id, folderID string) (schema.Note, error) {
	src, fileName := identity.Split(id)
	if src == folderID {
		return s.Note(id)
	}
	ext := filepath.Ext(fileName)
	base := identity.TrimExt(fileName)
	return s.relocate(id, folderID, func(dir string, reserved []string) (string, error) {
		return s.codec.NextAvailableName(dir, base, ext, reserved...)
	})
}

// relocate renames or moves a note. pick returns the new file name given
// the target directory and names reserved in memory there.
func (s *Store) relocate(id, targetFolder string, pick func(dir string, reserved []string) (string, error)) (schema.Note, error) {
	if err := s.checkOpen(); err != nil {
		return schema.Note{}, err
	}
	srcFolder, oldName := identity.Split(id)

	unlockDirs := s.seq.LockMany(dirKey(srcFolder), dirKey(targetFolder))
	defer unlockDirs()
	unlockOld := s.seq.Lock(id)
	defer unlockOld()

	if _, err := s.Note(id); err != nil {
		return schema.Note{}, err
	}
	dir, err := s.folderDir(targetFolder)
	if err != nil {
		return schema.Note{}, err
	}

	s.mu.RLock()
	var reserved []string
	for _, name := range s.memoryNamesLocked(targetFolder) {
		if !(targetFolder == srcFolder && name == oldName) {
			reserved = append(reserved, name)
		}
	}
	s.mu.RUnlock()

	newName, err := pick(dir, reserved)
	if err != nil {
		return schema.Note{}, err
	}
	newID := identity.Join(targetFolder, newName)
	if newID == id {
		return s.Note(id)
	}

	unlockNew := s.seq.Lock(newID)
	defer unlockNew()

	// Pending edits land under the old name first so the rename moves
	// a complete file.
	s.queue.Cancel(id)
	if err := s.persistLocked(id); err != nil {
		s.onPersistError(id, err)
		return schema.Note{}, err
	}

	oldPath, _ := s.codec.ToPath(id)
	newPath := filepath.Join(dir, newName)
	if err := s.fs.Rename(oldPath, newPath); err != nil {
		return schema.Note{}, err
	}

	s.mu.Lock()
	e := s.notes[id]
	delete(s.notes, id)
	e.note.ID = newID
	e.note.FileName = newName
	e.note.FilePath = newPath
	e.note.FolderID = targetFolder
	e.note.Title = titleFor(newName, e.header, e.note.Content)
	s.notes[newID] = e
	pinned := false
	for i, p := range s.pins {
		if p == id {
			s.pins[i] = newID
			pinned = true
		}
	}
	if s.selected == id {
		s.selected = newID
	}
	note := e.note
	unsaved := e.state != reconcile.Clean
	s.mu.Unlock()

	// An edit that arrived after the flush above was queued under the old
	// id, which no longer resolves.
	if _, queued := s.queue.Cancel(id); queued || unsaved {
		if err := s.queue.Schedule(newID, note.Content); err != nil {
			s.logger.Printf("Warning: could not queue %s after rename: %v", newID, err)
		}
	}

	if pinned {
		s.savePinsOrRecord()
	}

	s.logger.Printf("Renamed %s -> %s", id, newID)
	s.publishNote(events.NoteRenamed, note, id)
	if srcFolder != targetFolder {
		if srcFolder != "" {
			s.publishFolder(events.FolderChanged, srcFolder, "")
		}
		if targetFolder != "" {
			s.publishFolder(events.FolderChanged, targetFolder, "")
		}
	}
	return note, nil
}

// DuplicateNote copies id to a new note in the same folder.
func (s *Store) DuplicateNote(id string) (schema.Note, error) {
	if err := s.checkOpen(); err != nil {
		return schema.Note{}, err
	}
	folderID, fileName := identity.Split(id)

	unlockDir := s.seq.Lock(dirKey(folderID))
	defer unlockDir()
	unlockSrc := s.seq.Lock(id)
	defer unlockSrc()

	s.mu.RLock()
	e, ok := s.notes[id]
	var header, content string
	if ok {
		header, content = e.header, e.note.Content
	}
	reserved := s.memoryNamesLocked(folderID)
	s.mu.RUnlock()
	if !ok {
		return schema.Note{}, schema.NoteNotFound(id)
	}

	dir, err := s.folderDir(folderID)
	if err != nil {
		return schema.Note{}, err
	}
	ext := filepath.Ext(fileName)
	base := identity.TrimExt(fileName)

	for attempt := 0; ; attempt++ {
		name, err := s.codec.NextAvailableName(dir, base, ext, reserved...)
		if err != nil {
			return schema.Note{}, err
		}
		newID := identity.Join(folderID, name)
		path := filepath.Join(dir, name)

		unlock := s.seq.Lock(newID)
		mtime, err := s.fs.CreateExclusive(path, frontmatter.Compose(header, content))
		if err != nil {
			unlock()
			if errors.Is(err, schema.ErrNameConflict) && attempt+1 < createAttempts {
				reserved = append(reserved, name)
				continue
			}
			return schema.Note{}, err
		}
		note := s.insertNote(newID, path, header, content, mtime)
		unlock()

		s.logger.Printf("Duplicated %s -> %s", id, newID)
		s.publishNote(events.NoteAdded, note, "")
		if folderID != "" {
			s.publishFolder(events.FolderChanged, folderID, "")
		}
		return note, nil
	}
}

// DeleteNote removes id from disk and from the model.
func (s *Store) DeleteNote(id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	folderID, _ := identity.Split(id)

	unlockDir := s.seq.Lock(dirKey(folderID))
	defer unlockDir()
	unlock := s.seq.Lock(id)
	defer unlock()

	s.mu.RLock()
	e, ok := s.notes[id]
	var path string
	var onDisk bool
	if ok {
		path, onDisk = e.note.FilePath, !e.deletedOnDisk
	}
	s.mu.RUnlock()
	if !ok {
		return schema.NoteNotFound(id)
	}

	s.queue.Cancel(id)
	if onDisk {
		if err := s.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}
	}

	s.dropNote(id)
	s.logger.Printf("Deleted note %s", id)
	return nil
}

// dropNote removes id from the model, its pin and the selection, and
// publishes the deletion. The caller holds the note lock.
func (s *Store) dropNote(id string) {
	s.mu.Lock()
	e, ok := s.notes[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.notes, id)
	unpinned := s.removePinLocked(id)
	if s.selected == id {
		s.selected = ""
	}
	folderID := e.note.FolderID
	s.mu.Unlock()

	s.queue.Cancel(id)
	if unpinned {
		s.savePinsOrRecord()
	}
	s.bus.Publish(events.Event{Kind: events.NoteDeleted, ID: id})
	if folderID != "" {
		s.publishFolder(events.FolderChanged, folderID, "")
	}
}

// TogglePinNote flips the pin state of id and persists the pin list.
// It returns the new state.
func (s *Store) TogglePinNote(id string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	s.mu.Lock()
	e, ok := s.notes[id]
	if !ok {
		s.mu.Unlock()
		return false, schema.NoteNotFound(id)
	}
	pinned := !e.note.IsPinned
	e.note.IsPinned = pinned
	if pinned {
		s.pins = append(s.pins, id)
	} else {
		s.removePinLocked(id)
	}
	note := e.note
	s.mu.Unlock()

	if err := s.savePins(); err != nil {
		s.mu.Lock()
		if e, ok := s.notes[id]; ok {
			e.note.IsPinned = !pinned
		}
		if pinned {
			s.removePinLocked(id)
		} else {
			s.pins = append(s.pins, id)
		}
		s.mu.Unlock()
		return !pinned, err
	}

	s.publishNote(events.NoteChanged, note, "")
	return pinned, nil
}
