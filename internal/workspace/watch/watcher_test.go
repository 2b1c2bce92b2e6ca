package watch

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testCoalesce = 30 * time.Millisecond

func newTestWatcher(t *testing.T) (*FileWatcher, string) {
	t.Helper()

	root := t.TempDir()
	fw, err := NewFileWatcher(&Config{
		Coalesce: testCoalesce,
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	t.Cleanup(func() { fw.Stop() })
	return fw, root
}

func startTestWatcher(t *testing.T) (*FileWatcher, string) {
	t.Helper()
	fw, root := newTestWatcher(t)
	if err := fw.Start(root); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	// Give fsnotify a moment to register the watches.
	time.Sleep(20 * time.Millisecond)
	return fw, root
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func waitEvent(t *testing.T, fw *FileWatcher, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-fw.Events():
			if match(ev) {
				return ev
			}
		case err := <-fw.Errors():
			t.Fatalf("Watcher error: %v", err)
		case <-timeout:
			t.Fatal("Timeout waiting for event")
		}
	}
}

func expectQuiet(t *testing.T, fw *FileWatcher, d time.Duration) {
	t.Helper()
	select {
	case ev := <-fw.Events():
		t.Fatalf("Unexpected event: %s %s", ev.Kind, ev.RelPath)
	case <-time.After(d):
	}
}

func forPath(rel string) func(Event) bool {
	return func(ev Event) bool { return ev.RelPath == rel }
}

// TestFileWatcher_StartStop verifies that the watcher can start and stop cleanly.
func TestFileWatcher_StartStop(t *testing.T) {
	fw, root := newTestWatcher(t)

	if fw.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}
	if err := fw.Start(root); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !fw.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}
	if err := fw.Start(root); err == nil {
		t.Error("Second Start() should fail")
	}
	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}
	if err := fw.Stop(); err != nil {
		t.Errorf("Second Stop() should be a no-op, got %v", err)
	}
	if _, ok := <-fw.Events(); ok {
		t.Error("Events channel should be closed after Stop()")
	}
}

func TestFileWatcher_StartMissingRoot(t *testing.T) {
	fw, root := newTestWatcher(t)
	if err := fw.Start(filepath.Join(root, "missing")); err == nil {
		t.Fatal("Start() on a missing root should fail")
	}
}

func TestFileWatcher_AddedThenChanged(t *testing.T) {
	fw, root := startTestWatcher(t)
	path := filepath.Join(root, "a.md")

	writeTestFile(t, path, "one")
	ev := waitEvent(t, fw, forPath("a.md"))
	if ev.Kind != FileAdded {
		t.Errorf("Kind = %s, want file_added (create+write coalesce to added)", ev.Kind)
	}
	if ev.AbsPath != filepath.Join(fw.codec.Root(), "a.md") {
		t.Errorf("AbsPath = %q", ev.AbsPath)
	}

	writeTestFile(t, path, "two")
	ev = waitEvent(t, fw, forPath("a.md"))
	if ev.Kind != FileChanged {
		t.Errorf("Kind = %s, want file_changed", ev.Kind)
	}
}

func TestFileWatcher_BurstCoalesces(t *testing.T) {
	fw, root := startTestWatcher(t)
	path := filepath.Join(root, "a.md")
	writeTestFile(t, path, "seed")
	waitEvent(t, fw, forPath("a.md"))

	for i := 0; i < 10; i++ {
		writeTestFile(t, path, "burst")
	}

	ev := waitEvent(t, fw, forPath("a.md"))
	if ev.Kind != FileChanged {
		t.Errorf("Kind = %s, want file_changed", ev.Kind)
	}
	expectQuiet(t, fw, 5*testCoalesce)
}

func TestFileWatcher_Delete(t *testing.T) {
	fw, root := startTestWatcher(t)
	path := filepath.Join(root, "a.md")
	writeTestFile(t, path, "x")
	waitEvent(t, fw, forPath("a.md"))

	if err := os.Remove(path); err != nil {
		t.Fatalf("Failed to remove: %v", err)
	}
	ev := waitEvent(t, fw, forPath("a.md"))
	if ev.Kind != FileDeleted {
		t.Errorf("Kind = %s, want file_deleted", ev.Kind)
	}
}

func TestFileWatcher_IgnoresNonNotes(t *testing.T) {
	fw, root := startTestWatcher(t)

	writeTestFile(t, filepath.Join(root, "image.png"), "png")
	writeTestFile(t, filepath.Join(root, ".hidden.md"), "h")
	writeTestFile(t, filepath.Join(root, "b.md123456"), "atomic temp")
	if err := os.MkdirAll(filepath.Join(root, ".notesync"), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	expectQuiet(t, fw, 5*testCoalesce)
}

func TestFileWatcher_FolderLifecycle(t *testing.T) {
	fw, root := startTestWatcher(t)
	dir := filepath.Join(root, "Work")

	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	ev := waitEvent(t, fw, forPath("Work"))
	if ev.Kind != FolderAdded {
		t.Errorf("Kind = %s, want folder_added", ev.Kind)
	}

	// The new folder is watched.
	writeTestFile(t, filepath.Join(dir, "b.md"), "b")
	ev = waitEvent(t, fw, forPath("Work/b.md"))
	if ev.Kind != FileAdded {
		t.Errorf("Kind = %s, want file_added", ev.Kind)
	}

	// Nothing below the first folder level is reported.
	if err := os.Mkdir(filepath.Join(dir, "Deep"), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	expectQuiet(t, fw, 5*testCoalesce)

	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	waitEvent(t, fw, func(ev Event) bool { return ev.RelPath == "Work" && ev.Kind == FolderDeleted })
}

func TestFileWatcher_ExistingFolderIsWatched(t *testing.T) {
	fw, root := newTestWatcher(t)
	if err := os.Mkdir(filepath.Join(root, "Work"), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := fw.Start(root); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	writeTestFile(t, filepath.Join(root, "Work", "b.md"), "b")
	waitEvent(t, fw, forPath("Work/b.md"))
}

func TestFileWatcher_PauseDropsResumeObserves(t *testing.T) {
	fw, root := startTestWatcher(t)

	fw.Pause()
	if !fw.IsPaused() {
		t.Fatal("IsPaused() should be true")
	}
	writeTestFile(t, filepath.Join(root, "quiet.md"), "during pause")
	expectQuiet(t, fw, 5*testCoalesce)

	fw.Resume()
	// Events that happened while paused are not replayed.
	expectQuiet(t, fw, 3*testCoalesce)

	writeTestFile(t, filepath.Join(root, "loud.md"), "after resume")
	ev := waitEvent(t, fw, func(Event) bool { return true })
	if ev.RelPath != "loud.md" {
		t.Errorf("first event after resume = %s %s, want loud.md", ev.Kind, ev.RelPath)
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		prev, next, want Kind
	}{
		{FileAdded, FileChanged, FileAdded},
		{FileChanged, FileChanged, FileChanged},
		{FileChanged, FileDeleted, FileDeleted},
		{FileDeleted, FileAdded, FileChanged},
		{FileAdded, FileDeleted, FileDeleted},
		{FolderDeleted, FolderAdded, FolderAdded},
	}
	for _, tt := range tests {
		if got := merge(tt.prev, tt.next); got != tt.want {
			t.Errorf("merge(%s, %s) = %s, want %s", tt.prev, tt.next, got, tt.want)
		}
	}
}

func TestKindString(t *testing.T) {
	if FileAdded.String() != "file_added" || FolderDeleted.String() != "folder_deleted" || Kind(99).String() != "unknown" {
		t.Error("Kind.String() mismatch")
	}
	if !FolderAdded.IsFolder() || FileChanged.IsFolder() {
		t.Error("Kind.IsFolder() mismatch")
	}
}
