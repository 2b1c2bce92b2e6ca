// Package notefs provides the content and directory primitives the store
// uses to touch disk. FS is the seam tests replace; OS is the real thing.
package notefs

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"github.com/steveyegge/notesync/internal/workspace/schema"
)

const (
	fileMode = 0644
	dirMode  = 0755
)

// File is the result of a read.
type File struct {
	Content string
	ModTime time.Time
}

// FS is the set of filesystem operations the engine depends on.
type FS interface {
	Read(path string) (File, error)
	// Write atomically replaces path with content, creating parent
	// directories as needed, and returns the new modification time.
	Write(path, content string) (time.Time, error)
	// CreateExclusive creates path and fails with a NameConflictError if
	// it already exists.
	CreateExclusive(path, content string) (time.Time, error)
	Mkdir(path string) error
	Remove(path string) error
	RemoveAll(path string) error
	// Rename moves oldPath to newPath and fails with a NameConflictError if
	// newPath exists.
	Rename(oldPath, newPath string) error
	Stat(path string) (fs.FileInfo, error)
	ReadDir(path string) ([]fs.DirEntry, error)
}

// OS implements FS on the local filesystem.
type OS struct{}

var _ FS = OS{}

func (OS) Read(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	return File{Content: string(data), ModTime: info.ModTime()}, nil
}

func (OS) Write(path, content string) (time.Time, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return time.Time{}, fmt.Errorf("failed to create parent of %s: %w", path, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader([]byte(content))); err != nil {
		return time.Time{}, fmt.Errorf("failed to write %s: %w", path, err)
	}
	// atomic.WriteFile leaves the temp file's 0600 mode in place.
	if err := os.Chmod(path, fileMode); err != nil {
		return time.Time{}, fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	return modTime(path)
}

func (OS) CreateExclusive(path, content string) (time.Time, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return time.Time{}, &schema.NameConflictError{Path: path}
		}
		return time.Time{}, err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return time.Time{}, fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return time.Time{}, fmt.Errorf("failed to close %s: %w", path, err)
	}
	return modTime(path)
}

func (OS) Mkdir(path string) error {
	if err := os.Mkdir(path, dirMode); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return &schema.NameConflictError{Path: path}
		}
		return err
	}
	return nil
}

func (OS) Remove(path string) error {
	return os.Remove(path)
}

func (OS) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (OS) Rename(oldPath, newPath string) error {
	oldInfo, err := os.Stat(oldPath)
	if err != nil {
		return err
	}
	// A case-only rename on a case-insensitive filesystem sees the
	// source as the target.
	if newInfo, err := os.Lstat(newPath); err == nil {
		if !os.SameFile(oldInfo, newInfo) {
			return &schema.NameConflictError{Path: newPath}
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(newPath), dirMode); err != nil {
		return err
	}
	return os.Rename(oldPath, newPath)
}

func (OS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func (OS) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}

func modTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
