package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/notesync/internal/workspace/events"
	"github.com/steveyegge/notesync/internal/workspace/frontmatter"
	"github.com/steveyegge/notesync/internal/workspace/identity"
	"github.com/steveyegge/notesync/internal/workspace/keylock"
	"github.com/steveyegge/notesync/internal/workspace/notefs"
	"github.com/steveyegge/notesync/internal/workspace/persist"
	"github.com/steveyegge/notesync/internal/workspace/reconcile"
	"github.com/steveyegge/notesync/internal/workspace/scanner"
	"github.com/steveyegge/notesync/internal/workspace/schema"
	"github.com/steveyegge/notesync/internal/workspace/sidecar"
	"github.com/steveyegge/notesync/internal/workspace/watch"
)

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("store closed")

// maxDiagnostics bounds the diagnostics ring.
const maxDiagnostics = 256

// pinsKey serializes writes of the pin sidecar. Nothing is locked while
// it is held.
const pinsKey = "pins"

// Watcher is the filesystem event source the store consumes.
// *watch.FileWatcher implements it.
type Watcher interface {
	Events() <-chan watch.Event
	Errors() <-chan error
	Pause()
	Resume()
	Stop() error
}

// Options configures Open.
type Options struct {
	// FS defaults to notefs.OS{}.
	FS notefs.FS

	// Extensions are the note file extensions; empty means
	// identity.DefaultExtensions.
	Extensions []string

	// Debounce is the quiet period before an edited note is written.
	Debounce time.Duration

	// Coalesce is the watcher's burst window.
	Coalesce time.Duration

	// Watch starts an fsnotify watcher on the root.
	Watch bool

	// Watcher, if set, is used instead of starting one. The store owns it
	// and stops it on Close.
	Watcher Watcher

	// Logger for store activity
	Logger *log.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		FS:         notefs.OS{},
		Extensions: identity.DefaultExtensions,
		Debounce:   persist.DefaultConfig().Debounce,
		Coalesce:   watch.DefaultConfig().Coalesce,
		Watch:      true,
		Logger:     log.New(os.Stderr, "[store] ", log.LstdFlags),
	}
}

// entry is a note plus the file state tracked next to it.
type entry struct {
	note  schema.Note
	state reconcile.State

	// header is a hidden metadata block re-attached on every write.
	header string
	// saved is the content last read from or written to disk.
	saved   string
	modTime time.Time

	// externalModTime is the mtime of the last external change ignored
	// in favour of local edits.
	externalModTime time.Time
	deletedOnDisk   bool
}

// Store owns the note/folder model of one workspace.
type Store struct {
	codec   *identity.Codec
	fs      notefs.FS
	scanner *scanner.Scanner
	side    *sidecar.Manager
	queue   *persist.Queue
	watcher Watcher
	bus     *events.Bus
	logger  *log.Logger

	seq keylock.Map

	mu       sync.RWMutex
	notes    map[string]*entry
	folders  map[string]*schema.Folder
	pins     []string
	selected string
	diags    []schema.Diagnostic
	closed   bool

	pauseMu    sync.Mutex
	pauseDepth int

	done chan struct{}
	wg   sync.WaitGroup
}

// Open scans root and returns a live Store.
func Open(ctx context.Context, root string, opts Options) (*Store, error) {
	if opts.FS == nil {
		opts.FS = notefs.OS{}
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = identity.DefaultExtensions
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	codec, err := identity.New(root, identity.WithReadDir(opts.FS.ReadDir))
	if err != nil {
		return nil, err
	}
	info, err := opts.FS.Stat(codec.Root())
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace %s: %w", codec.Root(), err)
	}
	if !info.IsDir() {
		return nil, &schema.InvalidPathError{Path: codec.Root(), Reason: "workspace root is not a directory"}
	}

	s := &Store{
		codec:   codec,
		fs:      opts.FS,
		side:    sidecar.New(codec.Root(), opts.FS, opts.Logger),
		logger:  opts.Logger,
		notes:   make(map[string]*entry),
		folders: make(map[string]*schema.Folder),
		done:    make(chan struct{}),
	}
	s.scanner = scanner.New(codec, scanner.Options{
		FS:         opts.FS,
		Extensions: opts.Extensions,
		Sidecar:    s.side,
		Logger:     opts.Logger,
	})
	s.bus = events.NewBus(opts.Logger, s.onEventDropped)
	s.queue = persist.New(s.writeNote, &persist.Config{
		Debounce: opts.Debounce,
		OnError:  s.onPersistError,
		Logger:   opts.Logger,
	})

	// The watcher starts before the scan so nothing written in between is
	// missed; its events queue up until the loop below runs.
	s.watcher = opts.Watcher
	if s.watcher == nil && opts.Watch {
		fw, err := watch.NewFileWatcher(&watch.Config{
			Coalesce:   opts.Coalesce,
			Extensions: opts.Extensions,
			Logger:     opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		if err := fw.Start(codec.Root()); err != nil {
			fw.Stop()
			return nil, err
		}
		s.watcher = fw
	}

	res, err := s.scanner.Scan(ctx)
	if err != nil {
		if s.watcher != nil {
			s.watcher.Stop()
		}
		return nil, err
	}
	s.load(res)

	if s.watcher != nil {
		s.wg.Add(1)
		go s.watchLoop()
	}

	s.logger.Printf("Opened workspace %s (%d folders, %d notes)", codec.Root(), len(s.folders), len(s.notes))
	return s, nil
}

func (s *Store) load(res *scanner.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range res.Folders {
		f := res.Folders[i]
		s.folders[f.ID] = &f
	}
	for _, e := range res.Entries {
		s.notes[e.Note.ID] = newEntry(e)
	}
	s.pins = append([]string(nil), res.Pins...)
	for _, d := range res.Diagnostics {
		s.appendDiagLocked(d)
	}
}

func newEntry(e scanner.Entry) *entry {
	return &entry{
		note:    e.Note,
		state:   reconcile.Clean,
		header:  e.Header,
		saved:   e.Note.Content,
		modTime: e.ModTime,
	}
}

// watchLoop applies watcher events until Close.
func (s *Store) watchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return

		case ev, ok := <-s.watcher.Events():
			if !ok {
				return
			}
			s.ApplyEvent(ev)

		case err, ok := <-s.watcher.Errors():
			if !ok {
				return
			}
			s.recordDiag(schema.NewDiagnostic(schema.DiagWatchError, "", "", err.Error()))
		}
	}
}

// Close writes every unsaved note, stops the watcher and closes the event
// bus. Flush failures are returned joined.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)

	var errs []error
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	s.wg.Wait()

	if err := s.FlushAll(); err != nil {
		errs = append(errs, err)
	}
	if err := s.queue.Close(); err != nil {
		errs = append(errs, err)
	}
	s.bus.Close()

	s.logger.Printf("Closed workspace %s", s.codec.Root())
	return errors.Join(errs...)
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Root returns the absolute workspace root.
func (s *Store) Root() string {
	return s.codec.Root()
}

// Codec returns the path codec of the workspace.
func (s *Store) Codec() *identity.Codec {
	return s.codec
}

// FS returns the filesystem the store writes through.
func (s *Store) FS() notefs.FS {
	return s.fs
}

// Sidecar returns the metadata sidecar manager.
func (s *Store) Sidecar() *sidecar.Manager {
	return s.side
}

// Subscribe registers for change events.
func (s *Store) Subscribe(buffer int) *events.Subscription {
	return s.bus.Subscribe(buffer)
}

// Handle registers per-kind callbacks; call the returned func to stop.
func (s *Store) Handle(h events.Handlers) (cancel func()) {
	return s.bus.Handle(h)
}

// Snapshot returns a copy of the full model with note counts derived.
func (s *Store) Snapshot() schema.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := schema.Snapshot{
		Root:    s.codec.Root(),
		Folders: make([]schema.Folder, 0, len(s.folders)),
		Notes:   make([]schema.Note, 0, len(s.notes)),
	}
	for _, f := range s.folders {
		snap.Folders = append(snap.Folders, *f)
	}
	for _, e := range s.notes {
		snap.Notes = append(snap.Notes, e.note)
	}
	snap.CountNotes()
	snap.Sort()
	return snap
}

// Notes returns all notes ordered by id.
func (s *Store) Notes() []schema.Note {
	return s.Snapshot().Notes
}

// Folders returns all folders ordered by id with current note counts.
func (s *Store) Folders() []schema.Folder {
	return s.Snapshot().Folders
}

// Note returns the note with id.
func (s *Store) Note(id string) (schema.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.notes[id]
	if !ok {
		return schema.Note{}, schema.NoteNotFound(id)
	}
	return e.note, nil
}

// Folder returns the folder with id and its current note count.
func (s *Store) Folder(id string) (schema.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.folderLocked(id)
	if !ok {
		return schema.Folder{}, schema.FolderNotFound(id)
	}
	return f, nil
}

func (s *Store) folderLocked(id string) (schema.Folder, bool) {
	f, ok := s.folders[id]
	if !ok {
		return schema.Folder{}, false
	}
	out := *f
	out.NoteCount = 0
	for _, e := range s.notes {
		if e.note.FolderID == id {
			out.NoteCount++
		}
	}
	return out, true
}

// State returns the save state of a note.
func (s *Store) State(id string) (reconcile.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.notes[id]
	if !ok {
		return reconcile.Clean, schema.NoteNotFound(id)
	}
	return e.state, nil
}

// DeletedOnDisk reports whether a note is held only in memory because its
// file was removed while it had unsaved edits.
func (s *Store) DeletedOnDisk(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.notes[id]
	if !ok {
		return false, schema.NoteNotFound(id)
	}
	return e.deletedOnDisk, nil
}

// ExternalModTime returns the mtime of the last external change that was
// ignored in favour of local edits, or the zero time.
func (s *Store) ExternalModTime(id string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.notes[id]
	if !ok {
		return time.Time{}, schema.NoteNotFound(id)
	}
	return e.externalModTime, nil
}

// Selected returns the selected note id, or "".
func (s *Store) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Pinned returns the pinned note ids in pin order.
func (s *Store) Pinned() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.pins...)
}

// Diagnostics returns the recorded diagnostics, oldest first.
func (s *Store) Diagnostics() []schema.Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]schema.Diagnostic(nil), s.diags...)
}

func (s *Store) appendDiagLocked(d schema.Diagnostic) {
	s.diags = append(s.diags, d)
	if over := len(s.diags) - maxDiagnostics; over > 0 {
		s.diags = append([]schema.Diagnostic(nil), s.diags[over:]...)
	}
}

// recordDiag logs, stores and publishes a diagnostic.
func (s *Store) recordDiag(d schema.Diagnostic) {
	s.logger.Printf("Diagnostic %s: %s", d.Kind, d.Message)
	s.mu.Lock()
	s.appendDiagLocked(d)
	s.mu.Unlock()
	s.bus.Publish(events.Event{Kind: events.Diagnostic, ID: d.NoteID, Diagnostic: &d})
}

func (s *Store) onEventDropped(ev events.Event) {
	// Stored but not published: publishing here would drop again.
	d := schema.NewDiagnostic(schema.DiagEventDropped, ev.ID, "",
		fmt.Sprintf("subscriber missed %s event", ev.Kind))
	s.mu.Lock()
	s.appendDiagLocked(d)
	s.mu.Unlock()
}

func (s *Store) onPersistError(id string, err error) {
	path := ""
	var perr *schema.PersistenceError
	if errors.As(err, &perr) {
		path = perr.Path
	}
	s.recordDiag(schema.NewDiagnostic(schema.DiagPersistFailed, id, path, err.Error()))
}

func (s *Store) publishNote(kind events.Kind, n schema.Note, oldID string) {
	s.bus.Publish(events.Event{Kind: kind, ID: n.ID, OldID: oldID, Note: &n})
}

func (s *Store) publishFolder(kind events.Kind, id, oldID string) {
	ev := events.Event{Kind: kind, ID: id, OldID: oldID}
	if kind != events.FolderDeleted {
		s.mu.RLock()
		f, ok := s.folderLocked(id)
		s.mu.RUnlock()
		if !ok {
			return
		}
		ev.Folder = &f
	}
	s.bus.Publish(ev)
}

// titleFor derives a note title: a metadata title wins, otherwise the
// file name without extension.
func titleFor(fileName, header, content string) string {
	if title := frontmatter.Parse(header + content).Meta.Title; title != "" {
		return title
	}
	return identity.TrimExt(fileName)
}

func dirKey(folderID string) string {
	return "dir:" + folderID
}

// noteIDsLocked returns the ids of notes in folderID, sorted.
func (s *Store) noteIDsLocked(folderID string) []string {
	var ids []string
	for id, e := range s.notes {
		if e.note.FolderID == folderID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// memoryNamesLocked returns the file names held in memory for folderID,
// including notes whose file is currently gone.
func (s *Store) memoryNamesLocked(folderID string) []string {
	var names []string
	for _, e := range s.notes {
		if e.note.FolderID == folderID {
			names = append(names, e.note.FileName)
		}
	}
	return names
}

// removePinLocked drops id from the pin list and reports whether it was
// there.
func (s *Store) removePinLocked(id string) bool {
	for i, p := range s.pins {
		if p == id {
			s.pins = append(s.pins[:i:i], s.pins[i+1:]...)
			return true
		}
	}
	return false
}

// savePins writes the current pin list. Writes are serialized and each
// one copies the list after taking the lock, so the last write holds the
// latest list.
func (s *Store) savePins() error {
	unlock := s.seq.Lock(pinsKey)
	defer unlock()

	pins := s.Pinned()
	if err := s.side.SavePins(pins); err != nil {
		return fmt.Errorf("failed to save pins: %w", err)
	}
	return nil
}

// savePinsOrRecord saves pins after a structural change where the change
// itself already happened on disk; a failure becomes a diagnostic.
func (s *Store) savePinsOrRecord() {
	if err := s.savePins(); err != nil {
		s.recordDiag(schema.NewDiagnostic(schema.DiagPersistFailed, "", s.side.WorkspacePath(), err.Error()))
	}
}

// pauseWatcher and resumeWatcher nest; only the outermost pair reaches
// the watcher.
func (s *Store) pauseWatcher() {
	if s.watcher == nil {
		return
	}
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if s.pauseDepth == 0 {
		s.watcher.Pause()
	}
	s.pauseDepth++
}

func (s *Store) resumeWatcher() {
	if s.watcher == nil {
		return
	}
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	s.pauseDepth--
	if s.pauseDepth == 0 {
		s.watcher.Resume()
	}
}

// RunBulk runs fn with the watcher paused, then rescans so the model
// reflects everything fn wrote. name is used for logging.
func (s *Store) RunBulk(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.logger.Printf("Bulk %s: start", name)

	s.pauseWatcher()
	err := fn(ctx)
	s.resumeWatcher()

	if rerr := s.Rescan(ctx); rerr != nil {
		err = errors.Join(err, fmt.Errorf("rescan after %s: %w", name, rerr))
	}
	s.logger.Printf("Bulk %s: done", name)
	return err
}
