package identity

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/steveyegge/notesync/internal/workspace/schema"
)

func newTestCodec(t *testing.T) (*Codec, string) {
	t.Helper()

	root := t.TempDir()
	codec, err := New(root)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return codec, codec.Root()
}

func TestCodec_ToIDAndBack(t *testing.T) {
	codec, root := newTestCodec(t)

	tests := []struct {
		name string
		path string
		want string
	}{
		{"root note", filepath.Join(root, "a.md"), "a.md"},
		{"folder note", filepath.Join(root, "Work", "b.md"), "Work/b.md"},
		{"folder", filepath.Join(root, "Work"), "Work"},
		{"unclean path", filepath.Join(root, "Work", "..", "c.md"), "c.md"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := codec.ToID(tt.path)
			if err != nil {
				t.Fatalf("ToID(%q) failed: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("ToID(%q) = %q, want %q", tt.path, got, tt.want)
			}
			back, err := codec.ToPath(got)
			if err != nil {
				t.Fatalf("ToPath(%q) failed: %v", got, err)
			}
			if back != filepath.Clean(tt.path) {
				t.Errorf("ToPath(%q) = %q, want %q", got, back, filepath.Clean(tt.path))
			}
		})
	}
}

func TestCodec_ToIDRejects(t *testing.T) {
	codec, root := newTestCodec(t)

	tests := []struct {
		name string
		path string
	}{
		{"root itself", root},
		{"outside root", filepath.Join(root, "..", "elsewhere.md")},
		{"too deep", filepath.Join(root, "a", "b", "c.md")},
		{"hidden file", filepath.Join(root, ".rss.json")},
		{"hidden folder", filepath.Join(root, ".notesync", "x.md")},
		{"disallowed char", filepath.Join(root, "what?.md")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.ToID(tt.path)
			if err == nil {
				t.Fatalf("ToID(%q) should fail", tt.path)
			}
			if !errors.Is(err, schema.ErrInvalidPath) {
				t.Errorf("ToID(%q) error = %v, want ErrInvalidPath", tt.path, err)
			}
		})
	}
}

func TestSplitJoin(t *testing.T) {
	folder, file := Split("Work/b.md")
	if folder != "Work" || file != "b.md" {
		t.Errorf("Split() = %q, %q", folder, file)
	}
	folder, file = Split("a.md")
	if folder != "" || file != "a.md" {
		t.Errorf("Split() = %q, %q", folder, file)
	}
	if got := Join("Work", "b.md"); got != "Work/b.md" {
		t.Errorf("Join() = %q", got)
	}
	if got := Join("", "a.md"); got != "a.md" {
		t.Errorf("Join() = %q", got)
	}
	if Depth("a.md") != 1 || Depth("Work/b.md") != 2 {
		t.Error("Depth() mismatch")
	}
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"":              DefaultBaseName,
		"   ":           DefaultBaseName,
		"Plan":          "Plan",
		"a/b":           "a-b",
		"what?":         "what-",
		"  .hidden.  ":  "hidden",
		"Q1: goals":     "Q1- goals",
		"tab\tinside":   "tab-inside",
	}
	for in, want := range tests {
		if got := SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNextName_NoCollisionAndStable(t *testing.T) {
	tests := []struct {
		name     string
		siblings []string
		want     string
	}{
		{"free", nil, "untitled.md"},
		{"first taken", []string{"untitled.md"}, "untitled-2.md"},
		{"gap reused from the start", []string{"untitled.md", "untitled-3.md"}, "untitled-2.md"},
		{"run of suffixes", []string{"untitled.md", "untitled-2.md", "untitled-3.md"}, "untitled-4.md"},
		{"other names ignored", []string{"notes.md", "untitled.txt"}, "untitled.md"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := map[string]bool{}
			for _, s := range tt.siblings {
				set[s] = true
			}
			taken := func(n string) bool { return set[n] }

			got := NextName("untitled", ".md", taken)
			if got != tt.want {
				t.Errorf("NextName() = %q, want %q", got, tt.want)
			}
			if set[got] {
				t.Errorf("NextName() returned taken name %q", got)
			}
			for i := 0; i < 3; i++ {
				if again := NextName("untitled", ".md", taken); again != got {
					t.Errorf("NextName() not stable: %q then %q", got, again)
				}
			}
		})
	}
}

func TestCodec_NextAvailableName(t *testing.T) {
	codec, root := newTestCodec(t)

	got, err := codec.NextAvailableName(root, "untitled", "md")
	if err != nil {
		t.Fatalf("NextAvailableName() failed: %v", err)
	}
	if got != "untitled.md" {
		t.Errorf("NextAvailableName() = %q, want untitled.md", got)
	}

	if err := os.WriteFile(filepath.Join(root, "Untitled.md"), []byte("x"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	got, err = codec.NextAvailableName(root, "untitled", ".md")
	if err != nil {
		t.Fatalf("NextAvailableName() failed: %v", err)
	}
	if got != "untitled-2.md" {
		t.Errorf("NextAvailableName() = %q, want untitled-2.md (case-insensitive collision)", got)
	}

	got, err = codec.NextAvailableName(root, "untitled", ".md", "untitled-2.md")
	if err != nil {
		t.Fatalf("NextAvailableName() failed: %v", err)
	}
	if got != "untitled-3.md" {
		t.Errorf("NextAvailableName() = %q, want untitled-3.md (reserved name skipped)", got)
	}

	got, err = codec.NextAvailableName(filepath.Join(root, "missing"), "Work", "")
	if err != nil {
		t.Fatalf("NextAvailableName() on missing dir failed: %v", err)
	}
	if got != "Work" {
		t.Errorf("NextAvailableName() = %q, want Work", got)
	}

	if _, err := codec.NextAvailableName(root, ".hidden", ".md"); !errors.Is(err, schema.ErrInvalidPath) {
		t.Errorf("hidden base should be rejected, got %v", err)
	}
}

func TestCodec_WithReadDir(t *testing.T) {
	listing := fstest.MapFS{
		"plan.md":   {Data: []byte("x")},
		"plan-2.md": {Data: []byte("x")},
	}
	var listed []string
	codec, err := New(t.TempDir(), WithReadDir(func(dir string) ([]fs.DirEntry, error) {
		listed = append(listed, dir)
		return fs.ReadDir(listing, ".")
	}))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	got, err := codec.NextAvailableName(codec.Root(), "plan", ".md")
	if err != nil {
		t.Fatalf("NextAvailableName() failed: %v", err)
	}
	if got != "plan-3.md" {
		t.Errorf("NextAvailableName() = %q, want plan-3.md", got)
	}
	if len(listed) != 1 || listed[0] != codec.Root() {
		t.Errorf("listed = %v, want [%s]", listed, codec.Root())
	}
}

func TestIsNoteName(t *testing.T) {
	tests := []struct {
		name string
		exts []string
		want bool
	}{
		{"a.md", nil, true},
		{"A.MD", nil, true},
		{"notes.markdown", nil, true},
		{"todo.txt", nil, true},
		{"image.png", nil, false},
		{".rss.json", nil, false},
		{".hidden.md", nil, false},
		{"b.md123456", nil, false},
		{"a.org", []string{".org"}, true},
		{"a.md", []string{".org"}, false},
	}
	for _, tt := range tests {
		if got := IsNoteName(tt.name, tt.exts); got != tt.want {
			t.Errorf("IsNoteName(%q, %v) = %v, want %v", tt.name, tt.exts, got, tt.want)
		}
	}
	if TrimExt("Work plan.md") != "Work plan" {
		t.Errorf("TrimExt() = %q", TrimExt("Work plan.md"))
	}
}
