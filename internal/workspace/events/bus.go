// Package events is the typed publish/subscribe channel the store uses to
// tell collaborators (UI, catalog indexer, dashboard) about changes.
package events

import (
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/steveyegge/notesync/internal/workspace/schema"
)

// Kind identifies what changed.
type Kind string

const (
	NoteAdded     Kind = "note_added"
	NoteChanged   Kind = "note_changed"
	NoteRenamed   Kind = "note_renamed"
	NoteDeleted   Kind = "note_deleted"
	FolderAdded   Kind = "folder_added"
	FolderChanged Kind = "folder_changed"
	FolderDeleted Kind = "folder_deleted"
	Diagnostic    Kind = "diagnostic"
	// Rescanned follows a full or targeted rescan; subscribers holding
	// derived state should reload the snapshot.
	Rescanned Kind = "rescanned"
)

// Event is one change notification. Note or Folder carries the state after
// the change; deletions carry only the id.
type Event struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id,omitempty"`
	// OldID is set on NoteRenamed and on FolderChanged caused by a rename.
	OldID      string             `json:"old_id,omitempty"`
	Note       *schema.Note       `json:"note,omitempty"`
	Folder     *schema.Folder     `json:"folder,omitempty"`
	Diagnostic *schema.Diagnostic `json:"diagnostic,omitempty"`
	At         time.Time          `json:"at"`
}

// DefaultBuffer is the subscription buffer used by Handle.
const DefaultBuffer = 256

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	logger *log.Logger
	onDrop func(Event)
}

// NewBus creates a bus. onDrop, if set, is called for every event a
// subscriber missed; it must not publish.
func NewBus(logger *log.Logger, onDrop func(Event)) *Bus {
	if logger == nil {
		logger = log.New(os.Stderr, "[events] ", log.LstdFlags)
	}
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		logger: logger,
		onDrop: onDrop,
	}
}

// Subscription is a live registration on a Bus.
type Subscription struct {
	id      uint64
	ch      chan Event
	bus     *Bus
	once    sync.Once
	dropped atomic.Int64
}

// C returns the event channel. It is closed on Cancel or when the bus
// closes.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Cancel unregisters the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.closeLocked()
}

// Dropped returns how many events this subscriber missed.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) closeLocked() {
	s.once.Do(func() {
		delete(s.bus.subs, s.id)
		close(s.ch)
	})
}

// Subscribe registers a subscriber with the given buffer size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, ch: make(chan Event, buffer), bus: b}
	if b.closed {
		sub.closeLocked()
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers ev to every subscriber that has room.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	var dropped int
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			dropped++
		}
	}
	b.mu.RUnlock()

	if dropped > 0 {
		b.logger.Printf("Warning: %d subscriber(s) full, dropped %s %s", dropped, ev.Kind, ev.ID)
		if b.onDrop != nil {
			b.onDrop(ev)
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close cancels every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.closeLocked()
	}
}

// Handlers are per-kind callbacks for Handle. Nil handlers are skipped.
type Handlers struct {
	// OnAdded receives NoteAdded and FolderAdded.
	OnAdded func(Event)
	// OnChanged receives NoteChanged, FolderChanged and Rescanned.
	OnChanged func(Event)
	// OnDeleted receives NoteDeleted and FolderDeleted.
	OnDeleted    func(Event)
	OnRenamed    func(Event)
	OnDiagnostic func(Event)
}

func (h Handlers) dispatch(ev Event) {
	var fn func(Event)
	switch ev.Kind {
	case NoteAdded, FolderAdded:
		fn = h.OnAdded
	case NoteChanged, FolderChanged, Rescanned:
		fn = h.OnChanged
	case NoteDeleted, FolderDeleted:
		fn = h.OnDeleted
	case NoteRenamed:
		fn = h.OnRenamed
	case Diagnostic:
		fn = h.OnDiagnostic
	}
	if fn != nil {
		fn(ev)
	}
}

// Handle subscribes and calls the matching handler for every event on a
// dedicated goroutine. The returned func unsubscribes and waits for the
// goroutine to finish.
func (b *Bus) Handle(h Handlers) (cancel func()) {
	sub := b.Subscribe(DefaultBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.C() {
			h.dispatch(ev)
		}
	}()
	return func() {
		sub.Cancel()
		<-done
	}
}
