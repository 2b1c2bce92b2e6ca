// Package scanner walks a workspace root once and builds the note/folder
// snapshot. The walk is exactly two levels deep: files at the root become
// root notes, first-level directories become folders, and files inside
// them become foldered notes. Anything deeper is ignored.
//
// A file that cannot be read is skipped and recorded as a diagnostic; only
// an unreadable root fails the scan.
package scanner

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/steveyegge/notesync/internal/workspace/frontmatter"
	"github.com/steveyegge/notesync/internal/workspace/identity"
	"github.com/steveyegge/notesync/internal/workspace/notefs"
	"github.com/steveyegge/notesync/internal/workspace/schema"
	"github.com/steveyegge/notesync/internal/workspace/sidecar"
)

// Options configures a Scanner.
type Options struct {
	// FS defaults to notefs.OS{}.
	FS notefs.FS
	// Extensions defaults to identity.DefaultExtensions.
	Extensions []string
	// Sidecar supplies pins and RSS markers; nil skips both.
	Sidecar *sidecar.Manager
	Logger  *log.Logger
}

// Entry is a scanned note with the file state the store tracks next to it.
type Entry struct {
	Note schema.Note
	// Header is the hidden metadata block stripped from Note.Content.
	Header  string
	ModTime time.Time
}

// Stats counts what a scan saw.
type Stats struct {
	Folders int
	Notes   int
	Skipped int
}

// Result is the outcome of one scan.
type Result struct {
	Root        string
	Folders     []schema.Folder
	Entries     []Entry
	Pins        []string
	Diagnostics []schema.Diagnostic
	Stats       Stats
}

// Snapshot returns the note/folder view of the result with derived note
// counts filled in.
func (r *Result) Snapshot() schema.Snapshot {
	snap := schema.Snapshot{
		Root:    r.Root,
		Folders: append([]schema.Folder(nil), r.Folders...),
		Notes:   make([]schema.Note, 0, len(r.Entries)),
	}
	for _, e := range r.Entries {
		snap.Notes = append(snap.Notes, e.Note)
	}
	snap.CountNotes()
	snap.Sort()
	return snap
}

// Scanner reads a workspace from disk.
type Scanner struct {
	codec *identity.Codec
	fs    notefs.FS
	exts  []string
	side  *sidecar.Manager

	logger *log.Logger
}

// New creates a Scanner for the codec's root.
func New(codec *identity.Codec, opts Options) *Scanner {
	if opts.FS == nil {
		opts.FS = notefs.OS{}
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = identity.DefaultExtensions
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[scanner] ", log.LstdFlags)
	}
	if opts.Sidecar == nil {
		opts.Sidecar = sidecar.New(codec.Root(), opts.FS, opts.Logger)
	}
	return &Scanner{
		codec:  codec,
		fs:     opts.FS,
		exts:   opts.Extensions,
		side:   opts.Sidecar,
		logger: opts.Logger,
	}
}

// IsNote reports whether name has one of the configured note extensions.
func (s *Scanner) IsNote(name string) bool {
	return identity.IsNoteName(name, s.exts)
}

// Scan walks the workspace root.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	root := s.codec.Root()
	entries, err := s.fs.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace root %s: %w", root, err)
	}

	res := &Result{Root: root}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if identity.IsHidden(name) {
			continue
		}
		if entry.IsDir() {
			if err := identity.ValidateName(name); err != nil {
				s.skip(res, filepath.Join(root, name), err)
				continue
			}
			s.scanFolder(ctx, res, name)
			continue
		}
		if !s.IsNote(name) {
			continue
		}
		s.scanFile(res, filepath.Join(root, name))
	}

	res.Pins = s.pins(res)

	s.logger.Printf("Scan complete: folders=%d notes=%d skipped=%d",
		res.Stats.Folders, res.Stats.Notes, res.Stats.Skipped)
	return res, nil
}

func (s *Scanner) scanFolder(ctx context.Context, res *Result, name string) {
	dir := filepath.Join(s.codec.Root(), name)
	folder := schema.Folder{
		ID:    name,
		Name:  name,
		Path:  dir,
		IsRss: s.side.HasSubscription(dir),
	}
	res.Folders = append(res.Folders, folder)
	res.Stats.Folders++

	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		s.skip(res, dir, err)
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		// Deeper directories are not part of the model.
		if entry.IsDir() || !s.IsNote(entry.Name()) {
			continue
		}
		s.scanFile(res, filepath.Join(dir, entry.Name()))
	}
}

func (s *Scanner) scanFile(res *Result, path string) {
	entry, err := s.ReadEntry(path)
	if err != nil {
		s.skip(res, path, err)
		return
	}
	res.Entries = append(res.Entries, entry)
	res.Stats.Notes++
}

func (s *Scanner) skip(res *Result, path string, err error) {
	scanErr := &schema.ScanError{Path: path, Err: err}
	s.logger.Printf("WARNING: %v", scanErr)
	res.Diagnostics = append(res.Diagnostics,
		schema.NewDiagnostic(schema.DiagScanSkipped, "", path, scanErr.Error()))
	res.Stats.Skipped++
}

// ReadEntry loads a single note file. Pin state is left unset.
func (s *Scanner) ReadEntry(path string) (Entry, error) {
	id, err := s.codec.ToID(path)
	if err != nil {
		return Entry{}, err
	}
	file, err := s.fs.Read(path)
	if err != nil {
		return Entry{}, err
	}
	if !utf8.ValidString(file.Content) || strings.ContainsRune(file.Content, 0) {
		return Entry{}, fmt.Errorf("not a text file")
	}
	return BuildEntry(id, path, file), nil
}

// BuildEntry derives a note from raw file text. The title comes from the
// metadata block if it has one, otherwise from the file name. CreatedAt
// honours a parsable published date.
func BuildEntry(id, path string, file notefs.File) Entry {
	folderID, fileName := identity.Split(id)
	doc := frontmatter.Parse(file.Content)

	title := doc.Meta.Title
	if title == "" {
		title = identity.TrimExt(fileName)
	}
	created := file.ModTime
	if published, ok := ParsePublished(doc.Meta.Published); ok {
		created = published
	}

	return Entry{
		Note: schema.Note{
			ID:        id,
			Title:     title,
			Content:   doc.Content(),
			FileName:  fileName,
			FilePath:  path,
			FolderID:  folderID,
			CreatedAt: created,
			UpdatedAt: file.ModTime,
		},
		Header:  doc.HiddenHeader(),
		ModTime: file.ModTime,
	}
}

var publishedLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParsePublished parses the date formats feeds commonly use.
func ParsePublished(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// pins loads the sidecar pin list, drops ids that no longer exist and marks
// the pinned entries.
func (s *Scanner) pins(res *Result) []string {
	index := make(map[string]int, len(res.Entries))
	for i, e := range res.Entries {
		index[e.Note.ID] = i
	}

	var pins []string
	seen := make(map[string]bool)
	for _, id := range s.side.LoadPins() {
		i, ok := index[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		res.Entries[i].Note.IsPinned = true
		pins = append(pins, id)
	}
	return pins
}
