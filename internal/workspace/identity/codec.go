// Package identity maps filesystem paths inside a workspace to the logical
// ids used by notes and folders, and allocates collision-free names.
//
// A note id is the slash-separated path relative to the workspace root:
// "a.md" for a root note, "Work/b.md" for a note inside folder "Work".
// A folder id is the folder's directory name. The model is two levels deep,
// so an id never has more than two segments.
package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/steveyegge/notesync/internal/workspace/schema"
)

// DefaultBaseName is used when a title sanitizes to nothing.
const DefaultBaseName = "untitled"

// DefaultExtension is given to notes created without an explicit one.
const DefaultExtension = ".md"

// DefaultExtensions are the file extensions treated as notes.
var DefaultExtensions = []string{".md", ".markdown", ".txt"}

// IsNoteName reports whether name is a visible file with one of exts
// (compared case-insensitively). An empty exts means DefaultExtensions.
func IsNoteName(name string, exts []string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range exts {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

// IsHidden reports whether a path segment is hidden (dot-prefixed).
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// TrimExt returns name without its extension.
func TrimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// disallowed are characters rejected in any name segment. They are invalid
// on at least one common filesystem.
const disallowed = `/\:*?"<>|`

// Codec converts between absolute paths and ids for one workspace root.
type Codec struct {
	root    string
	readDir func(dir string) ([]fs.DirEntry, error)
}

// Option configures a Codec.
type Option func(*Codec)

// WithReadDir makes NextAvailableName list directories with fn instead of
// os.ReadDir.
func WithReadDir(fn func(dir string) ([]fs.DirEntry, error)) Option {
	return func(c *Codec) {
		if fn != nil {
			c.readDir = fn
		}
	}
}

// New returns a Codec rooted at root. The root is made absolute and cleaned.
func New(root string, opts ...Option) (*Codec, error) {
	if strings.TrimSpace(root) == "" {
		return nil, &schema.InvalidPathError{Path: root, Reason: "workspace root is empty"}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &schema.InvalidPathError{Path: root, Reason: err.Error()}
	}
	c := &Codec{root: filepath.Clean(abs), readDir: os.ReadDir}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Root returns the absolute workspace root.
func (c *Codec) Root() string {
	return c.root
}

// ToID returns the id for an absolute path (or a path relative to the
// working directory) inside the workspace.
func (c *Codec) ToID(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &schema.InvalidPathError{Path: path, Reason: err.Error()}
	}
	rel, err := filepath.Rel(c.root, abs)
	if err != nil {
		return "", &schema.InvalidPathError{Path: path, Reason: "outside workspace root"}
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", &schema.InvalidPathError{Path: path, Reason: "outside workspace root"}
	}
	if err := validateID(rel); err != nil {
		return "", &schema.InvalidPathError{Path: path, Reason: err.Error()}
	}
	return rel, nil
}

// ToPath returns the absolute path for id.
func (c *Codec) ToPath(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", &schema.InvalidPathError{Path: id, Reason: err.Error()}
	}
	return filepath.Join(c.root, filepath.FromSlash(id)), nil
}

// FolderPath returns the directory for folderID; "" is the root itself.
func (c *Codec) FolderPath(folderID string) (string, error) {
	if folderID == "" {
		return c.root, nil
	}
	if strings.Contains(folderID, "/") {
		return "", &schema.InvalidPathError{Path: folderID, Reason: "folders cannot be nested"}
	}
	return c.ToPath(folderID)
}

// Depth returns 1 for root-level ids and 2 for ids inside a folder.
func Depth(id string) int {
	return strings.Count(id, "/") + 1
}

// Split returns the folder id (empty at the root) and the file name of a
// note id.
func Split(id string) (folderID, fileName string) {
	if idx := strings.Index(id, "/"); idx >= 0 {
		return id[:idx], id[idx+1:]
	}
	return "", id
}

// Join builds a note id from a folder id and a file name.
func Join(folderID, fileName string) string {
	if folderID == "" {
		return fileName
	}
	return folderID + "/" + fileName
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("empty id")
	}
	if strings.HasPrefix(id, "/") || filepath.IsAbs(id) {
		return fmt.Errorf("id must be relative")
	}
	segments := strings.Split(id, "/")
	if len(segments) > 2 {
		return fmt.Errorf("nested deeper than one folder")
	}
	for _, seg := range segments {
		if err := ValidateName(seg); err != nil {
			return err
		}
	}
	return nil
}

// ValidateName checks a single path segment (folder or file name).
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("reserved name %q", name)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("hidden name %q", name)
	}
	for _, r := range name {
		if strings.ContainsRune(disallowed, r) || unicode.IsControl(r) {
			return fmt.Errorf("name %q contains disallowed character %q", name, r)
		}
	}
	return nil
}

// SanitizeName turns a user-supplied title into a usable base name:
// disallowed characters become "-", surrounding whitespace and dots are
// trimmed, and an empty result becomes DefaultBaseName.
func SanitizeName(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case strings.ContainsRune(disallowed, r), unicode.IsControl(r):
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	name := strings.Trim(strings.TrimSpace(b.String()), ".")
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultBaseName
	}
	return name
}

// NextName returns base+ext if it is free, otherwise base-2+ext, base-3+ext
// and so on. The scan always restarts at 2, so the result depends only on
// the taken set.
func NextName(base, ext string, taken func(name string) bool) string {
	candidate := base + ext
	for n := 2; taken(candidate); n++ {
		candidate = base + "-" + strconv.Itoa(n) + ext
	}
	return candidate
}

// NextAvailableName lists dir and returns the first free name for base and
// ext. Names are compared case-insensitively so the result is also free on
// case-insensitive filesystems. A missing dir has no siblings. Names in
// reserved count as taken even when they are not on disk.
func (c *Codec) NextAvailableName(dir, base, ext string, reserved ...string) (string, error) {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if err := ValidateName(base + ext); err != nil {
		return "", &schema.InvalidPathError{Path: base + ext, Reason: err.Error()}
	}

	entries, err := c.readDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to list %s: %w", dir, err)
	}
	siblings := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		siblings[strings.ToLower(entry.Name())] = struct{}{}
	}
	for _, name := range reserved {
		siblings[strings.ToLower(name)] = struct{}{}
	}
	return NextName(base, ext, func(name string) bool {
		_, ok := siblings[strings.ToLower(name)]
		return ok
	}), nil
}
