package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/notesync/internal/ui"
	"github.com/steveyegge/notesync/internal/workspace/schema"
	"github.com/steveyegge/notesync/internal/workspace/store"
)

var scanCmd = &cobra.Command{
	Use:     "scan",
	GroupID: "sync",
	Short:   "Scan the workspace and list folders and notes",
	Long: `Scan the workspace root and print the resulting model.

Shows:
  - Folders with note counts (RSS folders are marked)
  - Notes with their id, title and pin state
  - Diagnostics for files that could not be read

Use --json to print the full snapshot instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		start := time.Now()

		return withStore(cmd.Context(), func(st *store.Store) error {
			snap := st.Snapshot()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			fmt.Fprintf(out, "%s Scanned %s in %v\n\n", ui.RenderPass("✓"), snap.Root, time.Since(start).Round(time.Millisecond))
			fmt.Fprint(out, folderTable(snap.Folders))
			fmt.Fprintln(out)
			fmt.Fprint(out, noteTable(snap.Notes))

			if diags := st.Diagnostics(); len(diags) > 0 {
				fmt.Fprintf(out, "\n%s %d file(s) skipped\n", ui.RenderWarn("⚠"), len(diags))
				for _, d := range diags {
					fmt.Fprintf(out, "   %s: %s\n", d.Path, d.Message)
				}
			}
			return nil
		})
	},
}

func folderTable(folders []schema.Folder) string {
	rows := [][]string{{"FOLDER", "NOTES", "TYPE"}}
	for _, f := range folders {
		kind := ""
		if f.IsRss {
			kind = "rss"
		}
		rows = append(rows, []string{f.ID, fmt.Sprint(f.NoteCount), kind})
	}
	return ui.Table(rows)
}

func noteTable(notes []schema.Note) string {
	width := max(ui.Width(100)-50, 20)
	rows := [][]string{{"NOTE", "TITLE", "PIN"}}
	for _, n := range notes {
		pin := ""
		if n.IsPinned {
			pin = "*"
		}
		rows = append(rows, []string{n.ID, ui.Truncate(n.Title, width), pin})
	}
	return ui.Table(rows)
}

func init() {
	scanCmd.Flags().Bool("json", false, "Print the snapshot as JSON")
	rootCmd.AddCommand(scanCmd)
}
