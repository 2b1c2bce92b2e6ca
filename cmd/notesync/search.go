package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/notesync/internal/ui"
	"github.com/steveyegge/notesync/internal/workspace/catalog"
	"github.com/steveyegge/notesync/internal/workspace/store"
)

var searchCmd = &cobra.Command{
	Use:     "search <query>",
	GroupID: "notes",
	Short:   "Search note titles and content",
	Long: `Search notes through the SQLite catalog (.notesync/index.db).

The catalog is refreshed from a fresh scan before searching, so results
match the files on disk. Pinned notes are listed first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, _ := cmd.Flags().GetString("folder")
		limit, _ := cmd.Flags().GetInt("limit")

		return withStore(cmd.Context(), func(st *store.Store) error {
			db, err := openCatalog(st.Root())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.ReplaceAllContext(cmd.Context(), st.Snapshot()); err != nil {
				return err
			}
			hits, err := db.Search(cmd.Context(), args[0], catalog.SearchOptions{FolderID: folder, Limit: limit})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(hits) == 0 {
				fmt.Fprintf(out, "%s No notes match %q\n", ui.RenderMuted("-"), args[0])
				return nil
			}
			width := max(ui.Width(100)-30, 20)
			for _, h := range hits {
				pin := " "
				if h.Pinned {
					pin = ui.RenderWarn("*")
				}
				fmt.Fprintf(out, "%s %s  %s\n", pin, ui.RenderAccent(h.ID), ui.RenderMuted(h.UpdatedAt.Local().Format(time.DateTime)))
				if h.Snippet != "" {
					fmt.Fprintf(out, "    %s\n", ui.Truncate(h.Snippet, width))
				}
			}
			return nil
		})
	},
}

// openCatalog opens and initializes the workspace catalog.
func openCatalog(root string) (*catalog.DB, error) {
	db, err := catalog.Open(catalog.DefaultPath(root))
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func init() {
	searchCmd.Flags().StringP("folder", "f", "", "Only search this folder")
	searchCmd.Flags().IntP("limit", "l", 20, "Maximum number of results")
	rootCmd.AddCommand(searchCmd)
}
