package dashboard

import (
	"log"
	"sync"

	"github.com/steveyegge/notesync/internal/workspace/events"
	"github.com/steveyegge/notesync/internal/workspace/schema"
)

// Source is the store surface the Handler follows.
type Source interface {
	Snapshot() schema.Snapshot
	Subscribe(buffer int) *events.Subscription
}

// Handler subscribes to store events and broadcasts them as dashboard
// messages.
type Handler struct {
	server *Server
	source Source
	logger *log.Logger

	mu      sync.Mutex
	sub     *events.Subscription
	wg      sync.WaitGroup
	started bool
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, source Source, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, source: source, logger: logger}
}

// Start begins forwarding events until Stop.
func (h *Handler) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true
	h.sub = h.source.Subscribe(events.DefaultBuffer)

	h.wg.Add(1)
	go func(sub *events.Subscription) {
		defer h.wg.Done()
		for ev := range sub.C() {
			h.OnEvent(ev)
		}
	}(h.sub)
}

// Stop cancels the subscription and waits for the forwarder to exit.
func (h *Handler) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.started = false
	h.sub.Cancel()
	h.mu.Unlock()
	h.wg.Wait()
}

// OnEvent formats one store event and broadcasts it.
func (h *Handler) OnEvent(ev events.Event) {
	typ, data := Format(ev)
	if typ == "" {
		return
	}
	msg, err := NewMessage(typ, data)
	if err != nil {
		h.logger.Printf("Failed to format %s event: %v", ev.Kind, err)
		return
	}
	if !ev.At.IsZero() {
		msg.Timestamp = ev.At
	}
	h.server.Broadcast(msg)
}

// Format maps a store event to a message type and payload. Unknown kinds
// return an empty type.
func Format(ev events.Event) (MessageType, any) {
	switch ev.Kind {
	case events.NoteAdded, events.NoteChanged, events.NoteRenamed, events.NoteDeleted:
		data := NoteData{ID: ev.ID, OldID: ev.OldID}
		if n := ev.Note; n != nil {
			data.ID = n.ID
			data.Title = n.Title
			data.FolderID = n.FolderID
			data.IsPinned = n.IsPinned
			data.Updated = n.UpdatedAt
		}
		return MessageType(ev.Kind), data

	case events.FolderAdded, events.FolderChanged, events.FolderDeleted:
		data := FolderData{ID: ev.ID, OldID: ev.OldID}
		if f := ev.Folder; f != nil {
			data.ID = f.ID
			data.Name = f.Name
			data.NoteCount = f.NoteCount
			data.IsRss = f.IsRss
		}
		return MessageType(ev.Kind), data

	case events.Diagnostic:
		if ev.Diagnostic == nil {
			return "", nil
		}
		return MessageTypeDiagnostic, ev.Diagnostic

	case events.Rescanned:
		return MessageTypeRescanned, nil
	}
	return "", nil
}
