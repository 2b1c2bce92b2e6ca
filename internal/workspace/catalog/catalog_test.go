package catalog

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/steveyegge/notesync/internal/workspace/events"
	"github.com/steveyegge/notesync/internal/workspace/identity"
	"github.com/steveyegge/notesync/internal/workspace/schema"
	"github.com/steveyegge/notesync/internal/workspace/store"
)

// openTestDB returns an initialized catalog in a temp dir.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

func note(id, folderID, title, content string, pinned bool) *schema.Note {
	_, name := identity.Split(id)
	return &schema.Note{
		ID:        id,
		Title:     title,
		Content:   content,
		FileName:  name,
		FilePath:  "/ws/" + id,
		FolderID:  folderID,
		IsPinned:  pinned,
		UpdatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func searchIDs(t *testing.T, db *DB, query string, opts SearchOptions) []string {
	t.Helper()
	hits, err := db.Search(context.Background(), query, opts)
	if err != nil {
		t.Fatalf("Search(%q) failed: %v", query, err)
	}
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.InitSchema(); err != nil {
		t.Fatalf("second InitSchema() failed: %v", err)
	}
	for _, table := range []string{"notes", "folders"} {
		var count int
		err := db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("query table %s failed: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestDefaultPath(t *testing.T) {
	if got := DefaultPath("/ws"); got != filepath.Join("/ws", ".notesync", "index.db") {
		t.Errorf("DefaultPath() = %q", got)
	}
}

func TestSearch_PinnedFirst(t *testing.T) {
	db := openTestDB(t)
	for _, n := range []*schema.Note{
		note("a.md", "", "Alpha", "shared words", false),
		note("Work/b.md", "Work", "Beta", "more shared words", true),
		note("c.md", "", "Gamma", "nothing here", false),
	} {
		if err := db.UpsertNote(n); err != nil {
			t.Fatalf("UpsertNote() failed: %v", err)
		}
	}

	if got := searchIDs(t, db, "SHARED", SearchOptions{}); !equalIDs(got, []string{"Work/b.md", "a.md"}) {
		t.Errorf("Search() = %v, want pinned Work/b.md first", got)
	}
	if got := searchIDs(t, db, "gamma", SearchOptions{}); !equalIDs(got, []string{"c.md"}) {
		t.Errorf("title search = %v, want [c.md]", got)
	}
	if got := searchIDs(t, db, "shared", SearchOptions{FolderID: "Work"}); !equalIDs(got, []string{"Work/b.md"}) {
		t.Errorf("folder search = %v", got)
	}
	if got := searchIDs(t, db, "", SearchOptions{Limit: 2}); len(got) != 2 {
		t.Errorf("limit 2 returned %d hits", len(got))
	}
}

func TestSearch_EscapesWildcards(t *testing.T) {
	db := openTestDB(t)
	db.UpsertNote(note("a.md", "", "Discount", "100% off", false))
	db.UpsertNote(note("b.md", "", "Other", "1000 items", false))

	if got := searchIDs(t, db, "100%", SearchOptions{}); !equalIDs(got, []string{"a.md"}) {
		t.Errorf("Search(100%%) = %v, want [a.md]", got)
	}
}

func TestSearch_Snippet(t *testing.T) {
	db := openTestDB(t)
	db.UpsertNote(note("a.md", "", "A", "intro\n\nthe needle is here", false))

	hits, err := db.Search(context.Background(), "needle", SearchOptions{})
	if err != nil || len(hits) != 1 {
		t.Fatalf("Search() = %v, %v", hits, err)
	}
	if hits[0].Snippet != "intro the needle is here" {
		t.Errorf("snippet = %q", hits[0].Snippet)
	}
	if !hits[0].UpdatedAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("UpdatedAt = %v", hits[0].UpdatedAt)
	}
}

func TestRenameAndDelete(t *testing.T) {
	db := openTestDB(t)
	db.UpsertNote(note("a.md", "", "Alpha", "x", false))

	if err := db.RenameNote("a.md", note("Work/a.md", "Work", "Alpha", "x", false)); err != nil {
		t.Fatalf("RenameNote() failed: %v", err)
	}
	if got := searchIDs(t, db, "alpha", SearchOptions{}); !equalIDs(got, []string{"Work/a.md"}) {
		t.Errorf("after rename = %v", got)
	}

	db.UpsertFolder(&schema.Folder{ID: "Work", Name: "Work"})
	if err := db.DeleteFolder("Work"); err != nil {
		t.Fatalf("DeleteFolder() failed: %v", err)
	}
	if n, _ := db.Count(); n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
	if err := db.DeleteNote("missing.md"); err != nil {
		t.Errorf("DeleteNote(missing) failed: %v", err)
	}
}

func TestUpsertNote_RejectsInvalid(t *testing.T) {
	db := openTestDB(t)
	bad := note("a.md", "Work", "A", "", false)
	if err := db.UpsertNote(bad); err == nil {
		t.Error("UpsertNote() should reject a note whose id does not match its folder")
	}
}

func TestReplaceAll(t *testing.T) {
	db := openTestDB(t)
	db.UpsertNote(note("stale.md", "", "Stale", "", false))

	snap := schema.Snapshot{
		Folders: []schema.Folder{{ID: "Work", Name: "Work"}},
		Notes: []schema.Note{
			*note("a.md", "", "A", "", false),
			*note("Work/b.md", "Work", "B", "", false),
		},
	}
	if err := db.ReplaceAll(snap); err != nil {
		t.Fatalf("ReplaceAll() failed: %v", err)
	}
	if n, _ := db.Count(); n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
	if got := searchIDs(t, db, "stale", SearchOptions{}); len(got) != 0 {
		t.Errorf("stale note still indexed: %v", got)
	}
}

func TestIndexer_FollowsStore(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.md"), []byte("first note"), 0644); err != nil {
		t.Fatal(err)
	}
	logger := log.New(io.Discard, "", 0)
	st, err := store.Open(context.Background(), root, store.Options{Debounce: time.Hour, Logger: logger})
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	defer st.Close()

	db := openTestDB(t)
	ix := NewIndexer(db, st, logger)
	if err := ix.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer ix.Stop()

	if got := searchIDs(t, db, "first", SearchOptions{}); !equalIDs(got, []string{"a.md"}) {
		t.Fatalf("initial index = %v", got)
	}

	if err := st.UpdateNoteContent("a.md", "rewritten body"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.RenameNote("a.md", "renamed"); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		got := searchIDs(t, db, "rewritten", SearchOptions{})
		if equalIDs(got, []string{"renamed.md"}) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("index = %v, want [renamed.md]", got)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestIndexer_ApplyRescanned(t *testing.T) {
	db := openTestDB(t)
	src := &staticSource{snap: schema.Snapshot{Notes: []schema.Note{*note("x.md", "", "X", "", false)}}}
	ix := NewIndexer(db, src, log.New(io.Discard, "", 0))

	if err := ix.Apply(context.Background(), events.Event{Kind: events.Rescanned}); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if n, _ := db.Count(); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

type staticSource struct {
	snap schema.Snapshot
}

func (s *staticSource) Snapshot() schema.Snapshot { return s.snap }

func (s *staticSource) Subscribe(buffer int) *events.Subscription {
	return events.NewBus(log.New(io.Discard, "", 0), nil).Subscribe(buffer)
}

// burstSource overflows its small subscriber buffer while the first
// snapshot is taken, the way a large bulk operation does.
type burstSource struct {
	bus   *events.Bus
	notes []schema.Note
	calls atomic.Int32
}

func (s *burstSource) Subscribe(int) *events.Subscription { return s.bus.Subscribe(2) }

func (s *burstSource) Snapshot() schema.Snapshot {
	if s.calls.Add(1) == 1 {
		for i := range s.notes {
			n := s.notes[i]
			s.bus.Publish(events.Event{Kind: events.NoteAdded, ID: n.ID, Note: &n})
		}
		return schema.Snapshot{}
	}
	return schema.Snapshot{Notes: s.notes}
}

func TestIndexer_ReloadsAfterMissedEvents(t *testing.T) {
	db := openTestDB(t)
	src := &burstSource{bus: events.NewBus(log.New(io.Discard, "", 0), nil)}
	for _, id := range []string{"a.md", "b.md", "c.md", "d.md", "e.md"} {
		src.notes = append(src.notes, *note(id, "", id, "", false))
	}

	ix := NewIndexer(db, src, log.New(io.Discard, "", 0))
	if err := ix.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer ix.Stop()

	deadline := time.After(2 * time.Second)
	for {
		n, err := db.Count()
		if err != nil {
			t.Fatalf("Count() failed: %v", err)
		}
		if n == len(src.notes) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Count() = %d, want %d after reload", n, len(src.notes))
		case <-time.After(10 * time.Millisecond):
		}
	}
}
