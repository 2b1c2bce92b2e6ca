package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/notesync/internal/ui"
	"github.com/steveyegge/notesync/internal/workspace/store"
)

var folderCmd = &cobra.Command{
	Use:     "folder",
	GroupID: "notes",
	Short:   "Create, rename and delete folders",
	Long: `Manage first-level folders. A folder id is its directory name.

Renaming or deleting a folder flushes pending edits of its notes first and
pauses the watcher while the directory changes.`,
}

var folderNewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create a folder; a taken name gets a numeric suffix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(st *store.Store) error {
			f, err := st.CreateFolder(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created folder %s\n", ui.RenderPass("✓"), f.ID)
			return nil
		})
	},
}

var folderRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a folder and re-key its notes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(st *store.Store) error {
			f, err := st.RenameFolder(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Renamed folder %s to %s (%d notes)\n",
				ui.RenderPass("✓"), args[0], f.ID, f.NoteCount)
			return nil
		})
	},
}

var folderDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a folder and every note in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return withStore(cmd.Context(), func(st *store.Store) error {
			f, err := st.Folder(args[0])
			if err != nil {
				return err
			}
			if f.NoteCount > 0 && !force {
				return fmt.Errorf("folder %s has %d notes; use --force to delete them", f.ID, f.NoteCount)
			}
			n, err := st.DeleteFolder(f.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted folder %s (%d notes)\n", ui.RenderPass("✓"), f.ID, n)
			return nil
		})
	},
}

func init() {
	folderDeleteCmd.Flags().Bool("force", false, "Delete a folder that still has notes")

	folderCmd.AddCommand(folderNewCmd, folderRenameCmd, folderDeleteCmd)
	rootCmd.AddCommand(folderCmd)
}
