// Package persist batches per-note content writes. Each note has at most
// one pending write; scheduling again replaces its content and restarts
// its quiet-period timer, so a burst of edits produces a single write of
// the latest content.
package persist

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"
)

// ErrClosed is returned by Schedule after Close.
var ErrClosed = errors.New("persist queue closed")

// Writer performs the disk write for id with the latest scheduled content.
type Writer func(id, content string) error

// Config holds queue configuration.
type Config struct {
	// Debounce is the quiet period after the last Schedule before a write.
	Debounce time.Duration

	// OnError receives failures of timer-driven writes. Flush and FlushAll
	// return their errors instead.
	OnError func(id string, err error)

	// Logger for queue activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce: 750 * time.Millisecond,
		Logger:   log.New(os.Stderr, "[persist] ", log.LstdFlags),
	}
}

type pending struct {
	content string
	timer   *time.Timer
	gen     uint64
}

// Queue is a map of note id to cancellable pending write.
type Queue struct {
	write  Writer
	config *Config

	mu      sync.Mutex
	pending map[string]*pending
	gen     uint64
	closed  bool

	// timer callbacks currently writing
	wg sync.WaitGroup
}

// New creates a queue that writes through w.
func New(w Writer, config *Config) *Queue {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[persist] ", log.LstdFlags)
	}
	return &Queue{
		write:   w,
		config:  config,
		pending: make(map[string]*pending),
	}
}

// Schedule records content as the next write for id and restarts its
// timer, superseding any earlier pending content.
func (q *Queue) Schedule(id, content string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if p, ok := q.pending[id]; ok {
		p.timer.Stop()
	}
	q.gen++
	gen := q.gen
	q.pending[id] = &pending{
		content: content,
		gen:     gen,
		timer:   time.AfterFunc(q.config.Debounce, func() { q.fire(id, gen) }),
	}
	return nil
}

// fire runs on the timer goroutine. A superseded or cancelled entry has a
// different generation (or is gone) and is ignored.
func (q *Queue) fire(id string, gen uint64) {
	q.mu.Lock()
	p, ok := q.pending[id]
	if !ok || p.gen != gen {
		q.mu.Unlock()
		return
	}
	delete(q.pending, id)
	q.wg.Add(1)
	q.mu.Unlock()
	defer q.wg.Done()

	if err := q.write(id, p.content); err != nil {
		q.config.Logger.Printf("Write failed for %s: %v", id, err)
		if q.config.OnError != nil {
			q.config.OnError(id, err)
		}
	}
}

// Cancel drops the pending write for id without performing it and returns
// the content that was pending.
func (q *Queue) Cancel(id string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.pending[id]
	if !ok {
		return "", false
	}
	p.timer.Stop()
	delete(q.pending, id)
	return p.content, true
}

// Flush cancels the timer for id and writes its pending content now. It is
// a no-op when nothing is pending.
func (q *Queue) Flush(id string) error {
	content, ok := q.Cancel(id)
	if !ok {
		return nil
	}
	return q.write(id, content)
}

// FlushAll writes every pending entry now, in id order, and returns all
// failures joined.
func (q *Queue) FlushAll() error {
	var errs []error
	for _, id := range q.IDs() {
		if err := q.Flush(id); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Pending reports whether id has a scheduled write.
func (q *Queue) Pending(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[id]
	return ok
}

// IDs returns the ids with a scheduled write, sorted.
func (q *Queue) IDs() []string {
	q.mu.Lock()
	ids := make([]string, 0, len(q.pending))
	for id := range q.pending {
		ids = append(ids, id)
	}
	q.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of pending writes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close flushes everything, waits for in-flight timer writes and rejects
// later schedules.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	err := q.FlushAll()
	q.wg.Wait()
	return err
}
