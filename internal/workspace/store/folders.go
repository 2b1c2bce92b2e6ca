package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/steveyegge/notesync/internal/workspace/events"
	"github.com/steveyegge/notesync/internal/workspace/identity"
	"github.com/steveyegge/notesync/internal/workspace/schema"
)

// CreateFolder creates a first-level folder named after name, suffixed
// "-2", "-3" and so on if taken.
func (s *Store) CreateFolder(name string) (schema.Folder, error) {
	if err := s.checkOpen(); err != nil {
		return schema.Folder{}, err
	}
	unlockRoot := s.seq.Lock(dirKey(""))
	defer unlockRoot()

	base := identity.SanitizeName(name)
	var reserved []string
	for attempt := 0; ; attempt++ {
		s.mu.RLock()
		for id := range s.folders {
			reserved = append(reserved, id)
		}
		s.mu.RUnlock()

		folderName, err := s.codec.NextAvailableName(s.codec.Root(), base, "", reserved...)
		if err != nil {
			return schema.Folder{}, err
		}
		path := filepath.Join(s.codec.Root(), folderName)
		if err := s.fs.Mkdir(path); err != nil {
			if errors.Is(err, schema.ErrNameConflict) && attempt+1 < createAttempts {
				reserved = append(reserved, folderName)
				continue
			}
			return schema.Folder{}, err
		}

		s.mu.Lock()
		s.folders[folderName] = &schema.Folder{ID: folderName, Name: folderName, Path: path}
		s.mu.Unlock()

		s.logger.Printf("Created folder %s", folderName)
		s.publishFolder(events.FolderAdded, folderName, "")
		return s.Folder(folderName)
	}
}

// RenameFolder renames folder id. Every note inside gets a new id; pins
// and selection follow.
func (s *Store) RenameFolder(id, newName string) (schema.Folder, error) {
	if err := s.checkOpen(); err != nil {
		return schema.Folder{}, err
	}

	var renamed string
	err := s.RunBulk(context.Background(), "rename folder "+id, func(ctx context.Context) error {
		var err error
		renamed, err = s.renameFolder(id, newName)
		return err
	})
	if err != nil {
		return schema.Folder{}, err
	}
	return s.Folder(renamed)
}

func (s *Store) renameFolder(id, newName string) (string, error) {
	unlockDirs := s.seq.LockMany(dirKey(""), dirKey(id))
	defer unlockDirs()

	s.mu.RLock()
	_, ok := s.folders[id]
	var reserved []string
	for other := range s.folders {
		if other != id {
			reserved = append(reserved, other)
		}
	}
	s.mu.RUnlock()
	if !ok {
		return "", schema.FolderNotFound(id)
	}

	base := identity.SanitizeName(newName)
	target := base
	if !strings.EqualFold(base, id) {
		var err error
		target, err = s.codec.NextAvailableName(s.codec.Root(), base, "", reserved...)
		if err != nil {
			return "", err
		}
	}
	if target == id {
		return id, nil
	}

	unlockNew := s.seq.Lock(dirKey(target))
	defer unlockNew()

	s.mu.RLock()
	ids := s.noteIDsLocked(id)
	s.mu.RUnlock()
	unlockNotes := s.seq.LockMany(ids...)
	defer unlockNotes()

	for _, noteID := range ids {
		s.queue.Cancel(noteID)
		if err := s.persistLocked(noteID); err != nil {
			s.onPersistError(noteID, err)
			return "", err
		}
	}

	oldPath, _ := s.codec.FolderPath(id)
	newPath := filepath.Join(s.codec.Root(), target)
	if err := s.fs.Rename(oldPath, newPath); err != nil {
		return "", err
	}

	type move struct{ from, to string }
	var moves []move
	pinsChanged := false

	s.mu.Lock()
	f := s.folders[id]
	delete(s.folders, id)
	f.ID, f.Name, f.Path = target, target, newPath
	s.folders[target] = f
	for _, noteID := range ids {
		e := s.notes[noteID]
		delete(s.notes, noteID)
		newID := identity.Join(target, e.note.FileName)
		e.note.ID = newID
		e.note.FolderID = target
		e.note.FilePath = filepath.Join(newPath, e.note.FileName)
		s.notes[newID] = e
		for i, p := range s.pins {
			if p == noteID {
				s.pins[i] = newID
				pinsChanged = true
			}
		}
		if s.selected == noteID {
			s.selected = newID
		}
		moves = append(moves, move{noteID, newID})
	}
	s.mu.Unlock()

	if pinsChanged {
		s.savePinsOrRecord()
	}

	s.logger.Printf("Renamed folder %s -> %s", id, target)
	s.publishFolder(events.FolderChanged, target, id)
	for _, m := range moves {
		if n, err := s.Note(m.to); err == nil {
			s.publishNote(events.NoteRenamed, n, m.from)
		}
	}
	return target, nil
}

// DeleteFolder removes folder id and every note in it, from disk and from
// the model. It returns the number of notes removed.
func (s *Store) DeleteFolder(id string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var removed int
	err := s.RunBulk(context.Background(), "delete folder "+id, func(ctx context.Context) error {
		var err error
		removed, err = s.deleteFolder(id)
		return err
	})
	return removed, err
}

func (s *Store) deleteFolder(id string) (int, error) {
	unlockDirs := s.seq.LockMany(dirKey(""), dirKey(id))
	defer unlockDirs()

	s.mu.RLock()
	f, ok := s.folders[id]
	var path string
	if ok {
		path = f.Path
	}
	ids := s.noteIDsLocked(id)
	s.mu.RUnlock()
	if !ok {
		return 0, schema.FolderNotFound(id)
	}

	unlockNotes := s.seq.LockMany(ids...)
	defer unlockNotes()

	for _, noteID := range ids {
		s.queue.Cancel(noteID)
	}
	if err := s.fs.RemoveAll(path); err != nil {
		return 0, fmt.Errorf("failed to delete folder %s: %w", path, err)
	}

	pinsChanged := false
	s.mu.Lock()
	for _, noteID := range ids {
		delete(s.notes, noteID)
		if s.removePinLocked(noteID) {
			pinsChanged = true
		}
		if s.selected == noteID {
			s.selected = ""
		}
	}
	delete(s.folders, id)
	s.mu.Unlock()

	if pinsChanged {
		s.savePinsOrRecord()
	}

	s.logger.Printf("Deleted folder %s (%d notes)", id, len(ids))
	for _, noteID := range ids {
		s.bus.Publish(events.Event{Kind: events.NoteDeleted, ID: noteID})
	}
	s.bus.Publish(events.Event{Kind: events.FolderDeleted, ID: id})
	return len(ids), nil
}
