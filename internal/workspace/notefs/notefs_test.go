package notefs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/steveyegge/notesync/internal/workspace/schema"
)

func TestOS_WriteRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Work", "b.md")

	var fsys OS
	mtime, err := fsys.Write(path, "hello")
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if mtime.IsZero() {
		t.Error("Write() returned zero mtime")
	}

	got, err := fsys.Read(path)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if got.Content != "hello" {
		t.Errorf("Content = %q, want hello", got.Content)
	}
	if !got.ModTime.Equal(mtime) {
		t.Errorf("ModTime = %v, want %v", got.ModTime, mtime)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != fileMode {
		t.Errorf("mode = %v, want %v", info.Mode().Perm(), os.FileMode(fileMode))
	}

	if _, err := fsys.Write(path, "replaced"); err != nil {
		t.Fatalf("second Write() failed: %v", err)
	}
	got, _ = fsys.Read(path)
	if got.Content != "replaced" {
		t.Errorf("Content = %q, want replaced", got.Content)
	}
}

func TestOS_ReadDirectoryFails(t *testing.T) {
	if _, err := (OS{}).Read(t.TempDir()); err == nil {
		t.Fatal("Read() of a directory should fail")
	}
}

func TestOS_CreateExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "untitled.md")

	var fsys OS
	if _, err := fsys.CreateExclusive(path, ""); err != nil {
		t.Fatalf("CreateExclusive() failed: %v", err)
	}
	_, err := fsys.CreateExclusive(path, "again")
	if !errors.Is(err, schema.ErrNameConflict) {
		t.Fatalf("CreateExclusive() on existing file = %v, want ErrNameConflict", err)
	}
}

func TestOS_Mkdir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Work")

	var fsys OS
	if err := fsys.Mkdir(path); err != nil {
		t.Fatalf("Mkdir() failed: %v", err)
	}
	if err := fsys.Mkdir(path); !errors.Is(err, schema.ErrNameConflict) {
		t.Fatalf("Mkdir() on existing dir = %v, want ErrNameConflict", err)
	}
}

func TestOS_Rename(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.md")
	dst := filepath.Join(dir, "Work", "a.md")
	taken := filepath.Join(dir, "c.md")

	var fsys OS
	for _, p := range []string{src, taken} {
		if _, err := fsys.Write(p, filepath.Base(p)); err != nil {
			t.Fatalf("Write() failed: %v", err)
		}
	}

	if err := fsys.Rename(src, taken); !errors.Is(err, schema.ErrNameConflict) {
		t.Fatalf("Rename() onto existing file = %v, want ErrNameConflict", err)
	}

	if err := fsys.Rename(src, dst); err != nil {
		t.Fatalf("Rename() failed: %v", err)
	}
	if _, err := fsys.Stat(src); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("source still exists: %v", err)
	}
	got, err := fsys.Read(dst)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if got.Content != "a.md" {
		t.Errorf("Content = %q", got.Content)
	}

	if err := fsys.Rename(src, filepath.Join(dir, "z.md")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Rename() of missing source = %v, want ErrNotExist", err)
	}
}
