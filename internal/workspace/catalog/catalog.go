// Package catalog keeps a SQLite search index of a workspace's notes.
//
// The index is a cache, never a source of truth: it can be deleted at any
// time and rebuilt from a store snapshot with ReplaceAll. An Indexer keeps
// it current by following the store's event bus.
//
// Architecture:
//   - Database file: <root>/.notesync/index.db
//   - WAL mode: concurrent readers during writes
//   - Schema: notes, folders tables
//   - Indexes: folder membership, pinned-first title ordering
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/notesync/internal/workspace/schema"
	"github.com/steveyegge/notesync/internal/workspace/sidecar"
)

// FileName is the index file inside the workspace metadata directory.
const FileName = "index.db"

// DefaultPath returns <root>/.notesync/index.db.
func DefaultPath(root string) string {
	return filepath.Join(root, sidecar.Dir, FileName)
}

// DB wraps the SQLite connection holding the index.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the index at path.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping catalog: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint catalog WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close catalog: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates the tables if they do not exist. It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the tables with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS folders (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_rss INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		folder_id TEXT NOT NULL DEFAULT '',  -- '' for root notes
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		pinned INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notes_folder ON notes(folder_id);
	CREATE INDEX IF NOT EXISTS idx_notes_order ON notes(pinned DESC, title);
	`
	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const upsertNoteQuery = `
	INSERT INTO notes (id, folder_id, title, content, pinned, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		folder_id = excluded.folder_id,
		title = excluded.title,
		content = excluded.content,
		pinned = excluded.pinned,
		updated_at = excluded.updated_at
	`

const upsertFolderQuery = `
	INSERT INTO folders (id, name, is_rss) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		is_rss = excluded.is_rss
	`

func upsertNote(ctx context.Context, ex execer, n *schema.Note) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("invalid note: %w", err)
	}
	_, err := ex.ExecContext(ctx, upsertNoteQuery,
		n.ID,
		n.FolderID,
		n.Title,
		n.Content,
		boolToInt(n.IsPinned),
		n.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert note %s: %w", n.ID, err)
	}
	return nil
}

func upsertFolder(ctx context.Context, ex execer, f *schema.Folder) error {
	if _, err := ex.ExecContext(ctx, upsertFolderQuery, f.ID, f.Name, boolToInt(f.IsRss)); err != nil {
		return fmt.Errorf("failed to upsert folder %s: %w", f.ID, err)
	}
	return nil
}

// UpsertNote inserts or updates a note.
func (db *DB) UpsertNote(n *schema.Note) error {
	return db.UpsertNoteContext(context.Background(), n)
}

// UpsertNoteContext inserts or updates a note with context support.
func (db *DB) UpsertNoteContext(ctx context.Context, n *schema.Note) error {
	return upsertNote(ctx, db.conn, n)
}

// DeleteNote removes a note. Deleting a missing note is not an error.
func (db *DB) DeleteNote(id string) error {
	return db.DeleteNoteContext(context.Background(), id)
}

// DeleteNoteContext removes a note with context support.
func (db *DB) DeleteNoteContext(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete note %s: %w", id, err)
	}
	return nil
}

// RenameNote replaces the row of oldID with n in one transaction.
func (db *DB) RenameNote(oldID string, n *schema.Note) error {
	return db.RenameNoteContext(context.Background(), oldID, n)
}

// RenameNoteContext renames a note with context support.
func (db *DB) RenameNoteContext(ctx context.Context, oldID string, n *schema.Note) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, oldID); err != nil {
		return fmt.Errorf("failed to delete note %s: %w", oldID, err)
	}
	if err := upsertNote(ctx, tx, n); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpsertFolder inserts or updates a folder.
func (db *DB) UpsertFolder(f *schema.Folder) error {
	return db.UpsertFolderContext(context.Background(), f)
}

// UpsertFolderContext inserts or updates a folder with context support.
func (db *DB) UpsertFolderContext(ctx context.Context, f *schema.Folder) error {
	return upsertFolder(ctx, db.conn, f)
}

// DeleteFolder removes a folder and every note in it.
func (db *DB) DeleteFolder(id string) error {
	return db.DeleteFolderContext(context.Background(), id)
}

// DeleteFolderContext removes a folder with context support.
func (db *DB) DeleteFolderContext(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE folder_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete notes of folder %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete folder %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ReplaceAll makes the index hold exactly the notes and folders of snap.
func (db *DB) ReplaceAll(snap schema.Snapshot) error {
	return db.ReplaceAllContext(context.Background(), snap)
}

// ReplaceAllContext replaces the index contents with context support.
func (db *DB) ReplaceAllContext(ctx context.Context, snap schema.Snapshot) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM notes`); err != nil {
		return fmt.Errorf("failed to clear notes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM folders`); err != nil {
		return fmt.Errorf("failed to clear folders: %w", err)
	}
	for i := range snap.Folders {
		if err := upsertFolder(ctx, tx, &snap.Folders[i]); err != nil {
			return err
		}
	}
	for i := range snap.Notes {
		if err := upsertNote(ctx, tx, &snap.Notes[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Count returns the number of indexed notes.
func (db *DB) Count() (int, error) {
	return db.CountContext(context.Background())
}

// CountContext returns the number of indexed notes with context support.
func (db *DB) CountContext(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM notes").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count notes: %w", err)
	}
	return count, nil
}

// Hit is one search result.
type Hit struct {
	ID        string
	FolderID  string
	Title     string
	Pinned    bool
	UpdatedAt time.Time
	// Snippet is a short excerpt of the content around the first match.
	Snippet string
}

// SearchOptions configures Search.
type SearchOptions struct {
	// FolderID restricts results to one folder ("" = all folders)
	FolderID string
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// Search finds notes whose title or content contains query, case
// insensitively. Pinned notes come first, then titles in order.
func (db *DB) Search(ctx context.Context, query string, opts SearchOptions) ([]Hit, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	conditions := []string{`(title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\')`}
	args := []any{pattern, pattern}

	if opts.FolderID != "" {
		conditions = append(conditions, "folder_id = ?")
		args = append(args, opts.FolderID)
	}

	q := `
		SELECT id, folder_id, title, content, pinned, updated_at
		FROM notes
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY pinned DESC, title COLLATE NOCASE ASC, id ASC
	`
	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search notes: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var hit Hit
		var content, updatedAt string
		var pinned int
		if err := rows.Scan(&hit.ID, &hit.FolderID, &hit.Title, &content, &pinned, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		hit.Pinned = pinned != 0
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			hit.UpdatedAt = t
		}
		hit.Snippet = snippet(content, query)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}
	return hits, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

const snippetRadius = 40

// snippet returns the text around the first case-insensitive match of
// query in content, on one line.
func snippet(content, query string) string {
	query = strings.TrimSpace(query)
	runes := []rune(content)
	lower := []rune(strings.ToLower(content))
	q := []rune(strings.ToLower(query))

	at := -1
	if len(q) > 0 && len(lower) == len(runes) {
		for i := 0; i+len(q) <= len(lower); i++ {
			if string(lower[i:i+len(q)]) == string(q) {
				at = i
				break
			}
		}
	}
	if at < 0 {
		at = 0
	}
	start := max(at-snippetRadius, 0)
	end := min(at+len(q)+snippetRadius, len(runes))
	out := strings.Join(strings.Fields(string(runes[start:end])), " ")
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
