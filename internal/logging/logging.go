// Package logging builds the *log.Logger values handed to every component.
// Output goes to stderr and, when a log file is configured, to a rotating
// file as well.
package logging

import (
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/steveyegge/notesync/internal/config"
)

// Sink is the shared destination of all loggers built from one config.
type Sink struct {
	w    io.Writer
	file *lumberjack.Logger
	mu   sync.Mutex
}

// NewSink returns a sink writing to stderr plus the configured file.
func NewSink(cfg config.LogConfig) *Sink {
	return newSink(os.Stderr, cfg)
}

func newSink(stderr io.Writer, cfg config.LogConfig) *Sink {
	s := &Sink{w: stderr}
	if cfg.File != "" {
		s.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		s.w = io.MultiWriter(stderr, s.file)
	}
	return s
}

// Write serializes writes from loggers sharing the sink.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Logger returns a logger with a bracketed prefix, e.g. "[store] ".
func (s *Sink) Logger(name string) *log.Logger {
	return log.New(s, "["+name+"] ", log.LstdFlags)
}

// Close closes the log file, if any.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// Discard returns a logger that drops everything. Quiet commands hand it
// to components whose chatter would interleave with command output.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
