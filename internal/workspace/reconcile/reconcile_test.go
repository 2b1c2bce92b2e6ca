package reconcile

import "testing"

func TestDecide(t *testing.T) {
	tests := []struct {
		name  string
		local Local
		ext   External
		want  Action
	}{
		{
			name:  "clean accepts external content",
			local: Local{State: Clean, Content: "old", Saved: "old"},
			ext:   External{Kind: Changed, Content: "new"},
			want:  Accept,
		},
		{
			name:  "clean ignores identical content",
			local: Local{State: Clean, Content: "same", Saved: "same"},
			ext:   External{Kind: Changed, Content: "same"},
			want:  Ignore,
		},
		{
			name:  "dirty keeps local edits",
			local: Local{State: Dirty, Content: "local edit", Saved: "old"},
			ext:   External{Kind: Changed, Content: "someone else"},
			want:  Conflict,
		},
		{
			name:  "saving keeps local edits",
			local: Local{State: Saving, Content: "local edit", Saved: "old"},
			ext:   External{Kind: Changed, Content: "someone else"},
			want:  Conflict,
		},
		{
			name:  "dirty ignores echo of own earlier write",
			local: Local{State: Dirty, Content: "typing more", Saved: "typed"},
			ext:   External{Kind: Changed, Content: "typed"},
			want:  Ignore,
		},
		{
			name:  "dirty becomes clean when disk already matches",
			local: Local{State: Dirty, Content: "final", Saved: "old"},
			ext:   External{Kind: Changed, Content: "final"},
			want:  MarkClean,
		},
		{
			name:  "clean delete removes",
			local: Local{State: Clean, Content: "x", Saved: "x"},
			ext:   External{Kind: Deleted},
			want:  Remove,
		},
		{
			name:  "dirty delete keeps unsaved note",
			local: Local{State: Dirty, Content: "unsaved", Saved: "x"},
			ext:   External{Kind: Deleted},
			want:  KeepDeleted,
		},
		{
			name:  "saving delete keeps unsaved note",
			local: Local{State: Saving, Content: "unsaved", Saved: "x"},
			ext:   External{Kind: Deleted},
			want:  KeepDeleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.local, tt.ext); got != tt.want {
				t.Errorf("Decide() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStrings(t *testing.T) {
	if Dirty.String() != "dirty" || State(9).String() != "unknown" {
		t.Error("State.String() mismatch")
	}
	if KeepDeleted.String() != "keep_deleted" || Action(42).String() != "unknown" {
		t.Error("Action.String() mismatch")
	}
}
