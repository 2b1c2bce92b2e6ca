package ui

import "testing"

func TestRender_NoColor(t *testing.T) {
	prev := ColorEnabled()
	SetColor(false)
	defer SetColor(prev)

	if got := RenderPass("ok"); got != "ok" {
		t.Errorf("RenderPass() = %q, want plain text", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"a longer title", 8, "a longe…"},
		{"anything", 0, "anything"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.width); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestTable(t *testing.T) {
	prev := ColorEnabled()
	SetColor(false)
	defer SetColor(prev)

	got := Table([][]string{
		{"ID", "TITLE"},
		{"a.md", "Alpha"},
		{"Work/b.md", "Beta"},
	})
	want := "ID         TITLE\n" +
		"a.md       Alpha\n" +
		"Work/b.md  Beta\n"
	if got != want {
		t.Errorf("Table() =\n%s\nwant\n%s", got, want)
	}
}
