package catalog

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/steveyegge/notesync/internal/workspace/events"
	"github.com/steveyegge/notesync/internal/workspace/schema"
)

// Source is what the Indexer follows. *store.Store implements it.
type Source interface {
	Snapshot() schema.Snapshot
	Subscribe(buffer int) *events.Subscription
}

// Indexer mirrors store events into the catalog.
type Indexer struct {
	db     *DB
	source Source
	logger *log.Logger

	mu      sync.Mutex
	sub     *events.Subscription
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewIndexer creates an Indexer for db following source.
func NewIndexer(db *DB, source Source, logger *log.Logger) *Indexer {
	if logger == nil {
		logger = log.New(os.Stderr, "[catalog] ", log.LstdFlags)
	}
	return &Indexer{db: db, source: source, logger: logger}
}

// Start subscribes to the source, loads the current snapshot and applies
// events in the background until Stop.
func (ix *Indexer) Start(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.running {
		return nil
	}

	// Subscribe before the snapshot so nothing between them is lost;
	// replaying an event already in the snapshot is harmless.
	sub := ix.source.Subscribe(events.DefaultBuffer)
	if err := ix.db.ReplaceAllContext(ctx, ix.source.Snapshot()); err != nil {
		sub.Cancel()
		return err
	}

	ix.sub = sub
	ix.done = make(chan struct{})
	ix.running = true
	ix.wg.Add(1)
	go ix.run(sub)
	return nil
}

// Stop ends event processing. It is safe to call more than once.
func (ix *Indexer) Stop() {
	ix.mu.Lock()
	if !ix.running {
		ix.mu.Unlock()
		return
	}
	ix.running = false
	close(ix.done)
	ix.sub.Cancel()
	ix.mu.Unlock()

	ix.wg.Wait()
}

func (ix *Indexer) run(sub *events.Subscription) {
	defer ix.wg.Done()
	var seen int64
	for {
		select {
		case <-ix.done:
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if dropped := sub.Dropped(); dropped > seen {
				seen = dropped
				ix.resync(sub)
				continue
			}
			if err := ix.Apply(context.Background(), ev); err != nil {
				ix.logger.Printf("Warning: failed to index %s %s: %v", ev.Kind, ev.ID, err)
			}
		}
	}
}

// resync reloads the whole snapshot after the subscription missed events.
// Buffered events are older than the snapshot and are discarded first.
func (ix *Indexer) resync(sub *events.Subscription) {
	for drained := false; !drained; {
		select {
		case _, ok := <-sub.C():
			drained = !ok
		default:
			drained = true
		}
	}
	ix.logger.Printf("Missed %d events, reloading index", sub.Dropped())
	if err := ix.db.ReplaceAllContext(context.Background(), ix.source.Snapshot()); err != nil {
		ix.logger.Printf("Warning: failed to reload index: %v", err)
	}
}

// Apply updates the index for one event.
func (ix *Indexer) Apply(ctx context.Context, ev events.Event) error {
	switch ev.Kind {
	case events.NoteAdded, events.NoteChanged:
		if ev.Note == nil {
			return nil
		}
		return ix.db.UpsertNoteContext(ctx, ev.Note)

	case events.NoteRenamed:
		if ev.Note == nil {
			return nil
		}
		return ix.db.RenameNoteContext(ctx, ev.OldID, ev.Note)

	case events.NoteDeleted:
		return ix.db.DeleteNoteContext(ctx, ev.ID)

	case events.FolderAdded, events.FolderChanged:
		if ev.OldID != "" && ev.OldID != ev.ID {
			if err := ix.db.DeleteFolderContext(ctx, ev.OldID); err != nil {
				return err
			}
		}
		if ev.Folder == nil {
			return nil
		}
		return ix.db.UpsertFolderContext(ctx, ev.Folder)

	case events.FolderDeleted:
		return ix.db.DeleteFolderContext(ctx, ev.ID)

	case events.Rescanned:
		return ix.db.ReplaceAllContext(ctx, ix.source.Snapshot())
	}
	return nil
}
