package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/steveyegge/notesync/internal/workspace/identity"
)

// Kind is the normalized operation of an Event.
type Kind int

const (
	// FileAdded indicates a note file appeared.
	FileAdded Kind = iota
	// FileChanged indicates an existing note file was written.
	FileChanged
	// FileDeleted indicates a note file was removed or renamed away.
	FileDeleted
	// FolderAdded indicates a first-level directory appeared.
	FolderAdded
	// FolderDeleted indicates a first-level directory was removed or
	// renamed away.
	FolderDeleted
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case FileAdded:
		return "file_added"
	case FileChanged:
		return "file_changed"
	case FileDeleted:
		return "file_deleted"
	case FolderAdded:
		return "folder_added"
	case FolderDeleted:
		return "folder_deleted"
	default:
		return "unknown"
	}
}

// IsFolder reports whether the kind concerns a folder.
func (k Kind) IsFolder() bool {
	return k == FolderAdded || k == FolderDeleted
}

// Event is a normalized filesystem event.
type Event struct {
	Kind Kind
	// RelPath is the workspace id: "a.md", "Work/b.md" or "Work".
	RelPath string
	// AbsPath is the absolute path on disk.
	AbsPath string
}

// merge folds next into an event still waiting in the coalesce queue.
func merge(prev, next Kind) Kind {
	switch {
	case prev == FileAdded && next == FileChanged:
		return FileAdded
	case prev == FileDeleted && (next == FileAdded || next == FileChanged):
		return FileChanged
	default:
		return next
	}
}

// Config holds watcher configuration.
type Config struct {
	// Coalesce is the quiet period an id must see before its event is
	// released.
	Coalesce time.Duration

	// Extensions are the note file extensions; empty means
	// identity.DefaultExtensions.
	Extensions []string

	// Logger for watcher activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Coalesce:   100 * time.Millisecond,
		Extensions: identity.DefaultExtensions,
		Logger:     log.New(os.Stderr, "[watch] ", log.LstdFlags),
	}
}

type pendingEvent struct {
	event  Event
	seq    uint64
	queued time.Time
}

// FileWatcher watches a workspace root and its first-level folders.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	config  *Config
	codec   *identity.Codec

	events chan Event
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopped bool
	folders map[string]bool

	paused atomic.Bool

	changeQueue   map[string]pendingEvent
	changeQueueMu sync.Mutex
	seq           uint64
}

// NewFileWatcher creates a new FileWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewFileWatcher(config *Config) (*FileWatcher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Coalesce <= 0 {
		config.Coalesce = DefaultConfig().Coalesce
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[watch] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher:     watcher,
		config:      config,
		events:      make(chan Event, 256),
		errors:      make(chan error, 16),
		done:        make(chan struct{}),
		folders:     make(map[string]bool),
		changeQueue: make(map[string]pendingEvent),
	}, nil
}

// Start begins watching root and every visible first-level directory in it.
func (fw *FileWatcher) Start(root string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}
	if fw.stopped {
		return fmt.Errorf("watcher already stopped")
	}

	codec, err := identity.New(root)
	if err != nil {
		return err
	}
	fw.codec = codec

	if err := fw.watcher.Add(codec.Root()); err != nil {
		return fmt.Errorf("failed to watch workspace root %s: %w", codec.Root(), err)
	}

	entries, err := os.ReadDir(codec.Root())
	if err != nil {
		fw.watcher.Remove(codec.Root())
		return fmt.Errorf("failed to list workspace root %s: %w", codec.Root(), err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || identity.ValidateName(entry.Name()) != nil {
			continue
		}
		dir := filepath.Join(codec.Root(), entry.Name())
		if err := fw.watcher.Add(dir); err != nil {
			fw.config.Logger.Printf("Warning: failed to watch folder %s: %v", dir, err)
			continue
		}
		fw.folders[entry.Name()] = true
	}

	fw.running = true
	fw.wg.Add(2)
	go fw.processEvents()
	go fw.processChangeQueue()

	return nil
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutines have exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if fw.stopped {
		fw.mu.Unlock()
		return nil
	}
	wasRunning := fw.running
	fw.running = false
	fw.stopped = true
	fw.mu.Unlock()

	close(fw.done)

	// Close the underlying watcher (this will unblock the event loop)
	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	if wasRunning {
		close(fw.events)
		close(fw.errors)
	}
	return nil
}

// Events returns the channel that emits normalized events.
// This channel is closed when a started watcher is stopped.
func (fw *FileWatcher) Events() <-chan Event {
	return fw.events
}

// Errors returns the channel that emits watcher errors.
// This channel is closed when a started watcher is stopped.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

// Pause stops event delivery and discards anything waiting to be
// delivered.
func (fw *FileWatcher) Pause() {
	fw.paused.Store(true)

	fw.changeQueueMu.Lock()
	dropped := len(fw.changeQueue)
	fw.changeQueue = make(map[string]pendingEvent)
	fw.changeQueueMu.Unlock()

	if dropped > 0 {
		fw.config.Logger.Printf("Paused, dropped %d pending event(s)", dropped)
	}
}

// Resume re-enables event delivery. Events seen while paused are not
// replayed.
func (fw *FileWatcher) Resume() {
	fw.paused.Store(false)
}

// IsPaused reports whether delivery is paused.
func (fw *FileWatcher) IsPaused() bool {
	return fw.paused.Load()
}

// processEvents is the main event loop that normalizes fsnotify events
// and queues them for coalescing.
func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			for _, ev := range fw.convertEvent(event) {
				fw.queueChange(ev)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent converts an fsnotify event into zero or more normalized
// events. A new folder yields FolderAdded plus FileAdded for notes already
// inside it, since they may have been written before the watch was added.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) []Event {
	rel, err := fw.codec.ToID(event.Name)
	if err != nil {
		return nil
	}
	depth := identity.Depth(rel)
	abs := filepath.Join(fw.codec.Root(), filepath.FromSlash(rel))

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(abs)
		if err != nil {
			// Gone again before we looked; a Remove follows.
			return nil
		}
		if info.IsDir() {
			if depth != 1 {
				return nil
			}
			return fw.addFolder(rel, abs)
		}
		if !fw.isNote(rel) {
			return nil
		}
		return []Event{{Kind: FileAdded, RelPath: rel, AbsPath: abs}}

	case event.Has(fsnotify.Write):
		if !fw.isNote(rel) {
			return nil
		}
		return []Event{{Kind: FileChanged, RelPath: rel, AbsPath: abs}}

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// Treat rename as delete (the new name will trigger a create)
		if depth == 1 && fw.forgetFolder(rel, abs) {
			return []Event{{Kind: FolderDeleted, RelPath: rel, AbsPath: abs}}
		}
		if !fw.isNote(rel) {
			return nil
		}
		return []Event{{Kind: FileDeleted, RelPath: rel, AbsPath: abs}}

	default:
		// Ignore chmod and other events
		return nil
	}
}

func (fw *FileWatcher) isNote(rel string) bool {
	_, name := identity.Split(rel)
	return identity.IsNoteName(name, fw.config.Extensions)
}

func (fw *FileWatcher) addFolder(rel, abs string) []Event {
	fw.mu.Lock()
	if err := fw.watcher.Add(abs); err != nil {
		fw.mu.Unlock()
		if !errors.Is(err, fs.ErrNotExist) {
			fw.config.Logger.Printf("Warning: failed to watch folder %s: %v", abs, err)
		}
		return nil
	}
	fw.folders[rel] = true
	fw.mu.Unlock()

	out := []Event{{Kind: FolderAdded, RelPath: rel, AbsPath: abs}}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return out
	}
	for _, entry := range entries {
		if entry.IsDir() || !identity.IsNoteName(entry.Name(), fw.config.Extensions) {
			continue
		}
		id := identity.Join(rel, entry.Name())
		out = append(out, Event{Kind: FileAdded, RelPath: id, AbsPath: filepath.Join(abs, entry.Name())})
	}
	return out
}

func (fw *FileWatcher) forgetFolder(rel, abs string) bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if !fw.folders[rel] {
		return false
	}
	delete(fw.folders, rel)
	// fsnotify drops the watch on its own for removals but not renames.
	_ = fw.watcher.Remove(abs)
	return true
}

// queueChange adds an event to the change queue, folding it into any
// event already waiting for the same id.
func (fw *FileWatcher) queueChange(ev Event) {
	if fw.paused.Load() {
		return
	}

	fw.changeQueueMu.Lock()
	defer fw.changeQueueMu.Unlock()

	now := time.Now()
	if prev, ok := fw.changeQueue[ev.RelPath]; ok {
		ev.Kind = merge(prev.event.Kind, ev.Kind)
		fw.changeQueue[ev.RelPath] = pendingEvent{event: ev, seq: prev.seq, queued: now}
		return
	}
	fw.seq++
	fw.changeQueue[ev.RelPath] = pendingEvent{event: ev, seq: fw.seq, queued: now}
}

// processChangeQueue releases coalesced events on a ticker.
func (fw *FileWatcher) processChangeQueue() {
	defer fw.wg.Done()

	interval := fw.config.Coalesce / 2
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-fw.done:
			return

		case <-ticker.C:
			for _, ev := range fw.readyChanges() {
				if fw.paused.Load() {
					break
				}
				select {
				case fw.events <- ev:
				case <-fw.done:
					return
				}
			}
		}
	}
}

// readyChanges removes and returns queued events that have been quiet for
// a full coalesce window, in first-seen order.
func (fw *FileWatcher) readyChanges() []Event {
	fw.changeQueueMu.Lock()
	defer fw.changeQueueMu.Unlock()

	now := time.Now()
	var ready []pendingEvent
	for path, p := range fw.changeQueue {
		if now.Sub(p.queued) < fw.config.Coalesce {
			continue
		}
		ready = append(ready, p)
		delete(fw.changeQueue, path)
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].seq < ready[j].seq })

	out := make([]Event, len(ready))
	for i, p := range ready {
		out[i] = p.event
	}
	return out
}
