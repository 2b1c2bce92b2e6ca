// Package schema provides the note and folder records held by a workspace.
package schema

import (
	"fmt"
	"sort"
	"time"
)

// Note is a single plain-text document inside the workspace.
//
// ID is the slash-separated path relative to the workspace root
// (e.g. "Work/plan.md"). It is the join key shared by the UI, the
// persistence queue and watcher events, and it changes on rename/move.
type Note struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`

	// FolderID is empty for notes at the workspace root.
	FolderID string `json:"folder_id,omitempty"`
	IsPinned bool   `json:"is_pinned"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the Note has consistent field values.
func (n *Note) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	if n.FileName == "" {
		return fmt.Errorf("file_name is required")
	}
	if n.FilePath == "" {
		return fmt.Errorf("file_path is required")
	}
	want := n.FileName
	if n.FolderID != "" {
		want = n.FolderID + "/" + n.FileName
	}
	if want != n.ID {
		return fmt.Errorf("id %q does not match folder %q and file %q", n.ID, n.FolderID, n.FileName)
	}
	return nil
}

// Folder is a first-level subdirectory of the workspace root.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`

	// NoteCount is derived from the notes snapshot every time a folder
	// is read; it is never stored.
	NoteCount int  `json:"note_count"`
	IsRss     bool `json:"is_rss"`
}

// Snapshot is the full note/folder view of one workspace.
type Snapshot struct {
	Root    string   `json:"root"`
	Folders []Folder `json:"folders"`
	Notes   []Note   `json:"notes"`
}

// CountNotes recomputes NoteCount on every folder from the notes slice.
func (s *Snapshot) CountNotes() {
	counts := make(map[string]int, len(s.Folders))
	for i := range s.Notes {
		if s.Notes[i].FolderID != "" {
			counts[s.Notes[i].FolderID]++
		}
	}
	for i := range s.Folders {
		s.Folders[i].NoteCount = counts[s.Folders[i].ID]
	}
}

// Sort orders folders by name and notes by id so snapshots compare stably.
func (s *Snapshot) Sort() {
	sort.Slice(s.Folders, func(i, j int) bool { return s.Folders[i].ID < s.Folders[j].ID })
	sort.Slice(s.Notes, func(i, j int) bool { return s.Notes[i].ID < s.Notes[j].ID })
}

// RootNotes returns the notes that live directly under the workspace root.
func (s *Snapshot) RootNotes() []Note {
	var out []Note
	for _, n := range s.Notes {
		if n.FolderID == "" {
			out = append(out, n)
		}
	}
	return out
}

// NotesIn returns the notes whose FolderID equals folderID.
func (s *Snapshot) NotesIn(folderID string) []Note {
	var out []Note
	for _, n := range s.Notes {
		if n.FolderID == folderID && folderID != "" {
			out = append(out, n)
		}
	}
	return out
}
