package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds a single frame write to one client.
const writeTimeout = 5 * time.Second

// hub tracks connected clients and fans queued messages out to them.
type hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}

	queue  chan Message
	logger *log.Logger
}

func newHub(buffer int, logger *log.Logger) *hub {
	return &hub{
		conns:  make(map[*websocket.Conn]struct{}),
		queue:  make(chan Message, buffer),
		logger: logger,
	}
}

func (h *hub) add(conn *websocket.Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
	return len(h.conns)
}

// remove drops conn and closes it with code. Removing an unknown
// connection is a no-op.
func (h *hub) remove(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	h.mu.Lock()
	_, ok := h.conns[conn]
	delete(h.conns, conn)
	left := len(h.conns)
	h.mu.Unlock()

	if !ok {
		return
	}
	_ = conn.Close(code, reason)
	h.logger.Printf("Client left (%d connected)", left)
}

func (h *hub) list() []*websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		out = append(out, conn)
	}
	return out
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// closeAll disconnects every client.
func (h *hub) closeAll(reason string) {
	for _, conn := range h.list() {
		h.remove(conn, websocket.StatusGoingAway, reason)
	}
}

// enqueue never blocks; a full queue drops msg.
func (h *hub) enqueue(ctx context.Context, msg Message) {
	select {
	case <-ctx.Done():
	case h.queue <- msg:
	default:
		h.logger.Printf("Warning: send queue full, dropping %s message", msg.Type)
	}
}

// run delivers queued messages until ctx ends. A client whose write fails
// is disconnected.
func (h *hub) run(ctx context.Context) {
	for {
		var msg Message
		select {
		case <-ctx.Done():
			return
		case msg = <-h.queue:
		}

		frame, err := json.Marshal(msg)
		if err != nil {
			h.logger.Printf("Failed to encode %s message: %v", msg.Type, err)
			continue
		}
		for _, conn := range h.list() {
			if err := send(ctx, conn, frame); err != nil {
				h.logger.Printf("Dropping client after write error: %v", err)
				h.remove(conn, websocket.StatusInternalError, "write failed")
			}
		}
	}
}

func send(ctx context.Context, conn *websocket.Conn, frame []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}
