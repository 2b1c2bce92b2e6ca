// Package sidecar persists workspace metadata that is not note content:
// the ordered pin list in <root>/.notesync/workspace.toml and per-folder
// RSS subscription state in <folder>/.rss.json.
//
// Every write replaces the whole file atomically. Every read that fails to
// parse degrades to a default record instead of returning an error, so a
// corrupted sidecar never blocks opening a workspace.
package sidecar

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/steveyegge/notesync/internal/workspace/notefs"
)

const (
	// Dir is the per-workspace metadata directory under the root.
	Dir = ".notesync"
	// WorkspaceFile holds workspace-level settings such as pins.
	WorkspaceFile = "workspace.toml"
	// RSSFile marks a folder as an RSS subscription.
	RSSFile = ".rss.json"

	subscriptionType = "rss"
)

// Workspace is the content of workspace.toml.
type Workspace struct {
	Pinned []string `toml:"pinned"`
}

// Item is one feed entry already imported into a folder.
type Item struct {
	GUID      string `json:"guid"`
	Link      string `json:"link"`
	Published string `json:"published"`
	Title     string `json:"title"`
}

// Key is the de-duplication key of an item: its guid, or its link when
// the feed supplies no guid.
func (i Item) Key() string {
	if i.GUID != "" {
		return i.GUID
	}
	return i.Link
}

// Subscription is the content of a folder's .rss.json.
type Subscription struct {
	Type        string    `json:"type"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	LastFetched time.Time `json:"lastFetched"`
	Items       []Item    `json:"items"`
}

// Seen returns the set of item keys already recorded.
func (s *Subscription) Seen() map[string]bool {
	seen := make(map[string]bool, len(s.Items))
	for _, item := range s.Items {
		if key := item.Key(); key != "" {
			seen[key] = true
		}
	}
	return seen
}

// Manager reads and writes sidecar files for one workspace root.
type Manager struct {
	root   string
	fs     notefs.FS
	logger *log.Logger
}

// New returns a Manager for root doing its I/O through fsys. A nil fsys
// uses the local filesystem and a nil logger logs to stderr.
func New(root string, fsys notefs.FS, logger *log.Logger) *Manager {
	if fsys == nil {
		fsys = notefs.OS{}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[sidecar] ", log.LstdFlags)
	}
	return &Manager{root: root, fs: fsys, logger: logger}
}

// MetaDir returns <root>/.notesync.
func (m *Manager) MetaDir() string {
	return filepath.Join(m.root, Dir)
}

// WorkspacePath returns the path of workspace.toml.
func (m *Manager) WorkspacePath() string {
	return filepath.Join(m.MetaDir(), WorkspaceFile)
}

// LoadWorkspace reads workspace.toml. A missing or unparsable file yields
// the zero Workspace.
func (m *Manager) LoadWorkspace() Workspace {
	f, err := m.fs.Read(m.WorkspacePath())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.Printf("Warning: failed to read %s: %v", m.WorkspacePath(), err)
		}
		return Workspace{}
	}
	var ws Workspace
	if _, err := toml.Decode(f.Content, &ws); err != nil {
		m.logger.Printf("Warning: ignoring unparsable %s: %v", m.WorkspacePath(), err)
		return Workspace{}
	}
	return ws
}

// SaveWorkspace replaces workspace.toml.
func (m *Manager) SaveWorkspace(ws Workspace) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(ws); err != nil {
		return fmt.Errorf("failed to encode workspace settings: %w", err)
	}
	return m.writeFile(m.WorkspacePath(), buf.Bytes())
}

// LoadPins returns the ordered pinned note ids.
func (m *Manager) LoadPins() []string {
	return m.LoadWorkspace().Pinned
}

// SavePins replaces the ordered pin list, keeping other workspace settings.
func (m *Manager) SavePins(ids []string) error {
	ws := m.LoadWorkspace()
	ws.Pinned = append([]string(nil), ids...)
	return m.SaveWorkspace(ws)
}

// HasSubscription reports whether folderPath carries an .rss.json file.
func (m *Manager) HasSubscription(folderPath string) bool {
	info, err := m.fs.Stat(filepath.Join(folderPath, RSSFile))
	return err == nil && !info.IsDir()
}

// LoadSubscription reads folderPath/.rss.json. It returns nil when the
// folder has no subscription and an empty record when the file exists but
// cannot be parsed.
func (m *Manager) LoadSubscription(folderPath string) *Subscription {
	path := filepath.Join(folderPath, RSSFile)
	f, err := m.fs.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.Printf("Warning: failed to read %s: %v", path, err)
			return &Subscription{Type: subscriptionType}
		}
		return nil
	}
	var sub Subscription
	if err := json.Unmarshal([]byte(f.Content), &sub); err != nil {
		m.logger.Printf("Warning: ignoring unparsable %s: %v", path, err)
		return &Subscription{Type: subscriptionType}
	}
	if sub.Type == "" {
		sub.Type = subscriptionType
	}
	return &sub
}

// UpsertSubscription replaces folderPath/.rss.json with sub.
func (m *Manager) UpsertSubscription(folderPath string, sub *Subscription) error {
	if sub == nil {
		return fmt.Errorf("subscription cannot be nil")
	}
	record := *sub
	record.Type = subscriptionType
	if record.Items == nil {
		record.Items = []Item{}
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode subscription: %w", err)
	}
	return m.writeFile(filepath.Join(folderPath, RSSFile), append(data, '\n'))
}

func (m *Manager) writeFile(path string, data []byte) error {
	if _, err := m.fs.Write(path, string(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
