// Package dashboard streams workspace changes to WebSocket clients.
//
// Every store event (note and folder changes, diagnostics, rescans) is sent
// to connected clients as one JSON message, so an editor UI stays current
// without polling. /api/snapshot returns the full model for a client's
// first load and after a rescanned message.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/steveyegge/notesync/internal/workspace/schema"
)

// MessageType names the payload carried by a Message.
type MessageType string

const (
	MessageTypeHello         MessageType = "hello"
	MessageTypeNoteAdded     MessageType = "note_added"
	MessageTypeNoteChanged   MessageType = "note_changed"
	MessageTypeNoteRenamed   MessageType = "note_renamed"
	MessageTypeNoteDeleted   MessageType = "note_deleted"
	MessageTypeFolderAdded   MessageType = "folder_added"
	MessageTypeFolderChanged MessageType = "folder_changed"
	MessageTypeFolderDeleted MessageType = "folder_deleted"
	MessageTypeDiagnostic    MessageType = "diagnostic"

	// MessageTypeRescanned tells clients to reload /api/snapshot.
	MessageTypeRescanned MessageType = "rescanned"
)

// Message is the envelope of every frame sent to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage builds a timestamped message carrying data as JSON.
func NewMessage(typ MessageType, data any) (Message, error) {
	msg := Message{Type: typ, Timestamp: time.Now()}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s data: %w", typ, err)
	}
	msg.Data = raw
	return msg, nil
}

// NoteData describes a changed note. Content is left out; clients read it
// from the snapshot.
type NoteData struct {
	ID       string    `json:"id"`
	OldID    string    `json:"old_id,omitempty"`
	Title    string    `json:"title,omitempty"`
	FolderID string    `json:"folder_id,omitempty"`
	IsPinned bool      `json:"is_pinned,omitempty"`
	Updated  time.Time `json:"updated_at,omitempty"`
}

// FolderData describes a changed folder.
type FolderData struct {
	ID        string `json:"id"`
	OldID     string `json:"old_id,omitempty"`
	Name      string `json:"name,omitempty"`
	NoteCount int    `json:"note_count"`
	IsRss     bool   `json:"is_rss,omitempty"`
}

// HelloData is the first message on every connection.
type HelloData struct {
	Root    string `json:"root"`
	Notes   int    `json:"notes"`
	Folders int    `json:"folders"`
	Clients int    `json:"clients"`
}

// Config configures a Server.
type Config struct {
	// Port to listen on; 0 picks a free port.
	Port int

	// Host to bind; empty means all interfaces.
	Host string

	// Snapshot backs /api/snapshot and the hello counts. Without it the
	// endpoint answers 503.
	Snapshot func() schema.Snapshot

	// Buffer is the send queue length (default 256).
	Buffer int

	Logger *log.Logger
}

// DefaultConfig returns the settings used by `notesync serve`.
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Buffer: 256,
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// Server accepts WebSocket clients and broadcasts messages to them.
type Server struct {
	addr     string
	snapshot func() schema.Snapshot
	hub      *hub
	logger   *log.Logger

	httpServer *http.Server
	listener   net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a Server; call Start to listen.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	buffer := config.Buffer
	if buffer <= 0 {
		buffer = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:     net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		snapshot: config.Snapshot,
		hub:      newHub(buffer, logger),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWebSocket)
	mux.HandleFunc("GET /health", s.serveHealth)
	mux.HandleFunc("GET /api/snapshot", s.serveSnapshot)
	mux.HandleFunc("GET /{$}", s.serveIndex)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.hub.run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Listening on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Serve failed: %v", err)
		}
	}()
	return nil
}

// Stop disconnects clients and shuts the listener down.
func (s *Server) Stop() error {
	s.cancel()
	s.hub.closeAll("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("dashboard shutdown: %w", err)
	}
	s.logger.Println("Stopped")
	return nil
}

// Broadcast queues msg for every connected client. It never blocks; a full
// queue drops the message.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.hub.enqueue(s.ctx, msg)
}

// BroadcastData wraps data in a message of type typ and broadcasts it.
func (s *Server) BroadcastData(typ MessageType, data any) error {
	msg, err := NewMessage(typ, data)
	if err != nil {
		return err
	}
	s.Broadcast(msg)
	return nil
}

// Addr returns the listening address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return s.hub.count()
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Editors run on local dev servers with arbitrary ports.
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("Upgrade failed: %v", err)
		return
	}

	n := s.hub.add(conn)
	s.logger.Printf("Client joined (%d connected)", n)

	hello := HelloData{Clients: n}
	if s.snapshot != nil {
		snap := s.snapshot()
		hello.Root, hello.Notes, hello.Folders = snap.Root, len(snap.Notes), len(snap.Folders)
	}
	if msg, err := NewMessage(MessageTypeHello, hello); err == nil {
		if frame, err := json.Marshal(msg); err == nil {
			_ = send(s.ctx, conn, frame)
		}
	}

	// Clients only listen; reading detects when they go away.
	go func() {
		defer s.hub.remove(conn, websocket.StatusNormalClosure, "")
		for {
			if _, _, err := conn.Read(s.ctx); err != nil {
				return
			}
		}
	}()
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "clients": s.ClientCount()})
}

func (s *Server) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshot == nil {
		http.Error(w, "snapshot not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>notesync</title></head>
<body>
  <h1>notesync</h1>
  <ul>
    <li>Events: <code>ws://%[1]s/ws</code></li>
    <li>Model: <a href="/api/snapshot">/api/snapshot</a></li>
    <li>Status: <a href="/health">/health</a></li>
  </ul>
</body>
</html>`, r.Host)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
