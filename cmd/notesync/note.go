package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/steveyegge/notesync/internal/ui"
	"github.com/steveyegge/notesync/internal/workspace/schema"
	"github.com/steveyegge/notesync/internal/workspace/store"
)

var noteCmd = &cobra.Command{
	Use:     "note",
	GroupID: "notes",
	Short:   "Create, edit and organize notes",
	Long: `Manage individual notes. A note id is its path relative to the workspace
root, e.g. "ideas.md" or "Work/plan.md".`,
}

var noteNewCmd = &cobra.Command{
	Use:   "new [title]",
	Short: "Create a note (default title: untitled)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, _ := cmd.Flags().GetString("folder")
		content, _ := cmd.Flags().GetString("content")
		title := ""
		if len(args) == 1 {
			title = args[0]
		}
		return withStore(cmd.Context(), func(st *store.Store) error {
			n, err := st.CreateNote(folder, title)
			if err != nil {
				return err
			}
			if content != "" {
				if err := st.SaveNoteToFileSystem(n.ID, content); err != nil {
					return err
				}
			}
			printNote(cmd, "Created", n)
			return nil
		})
	},
}

var noteShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a note's content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(st *store.Store) error {
			n, err := st.Note(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), n.Content)
			return nil
		})
	},
}

var noteSaveCmd = &cobra.Command{
	Use:   "save <id>",
	Short: "Replace a note's content with stdin and write it immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		return withStore(cmd.Context(), func(st *store.Store) error {
			if err := st.SaveNoteToFileSystem(args[0], string(data)); err != nil {
				return err
			}
			n, err := st.Note(args[0])
			if err != nil {
				return err
			}
			printNote(cmd, "Saved", n)
			return nil
		})
	},
}

var noteRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Rename a note; a taken name gets a numeric suffix",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(st *store.Store) error {
			n, err := st.RenameNote(args[0], args[1])
			if err != nil {
				return err
			}
			printNote(cmd, "Renamed", n)
			return nil
		})
	},
}

var noteMoveCmd = &cobra.Command{
	Use:   "move <id> <folder>",
	Short: `Move a note into a folder ("." for the workspace root)`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder := args[1]
		if folder == "." || folder == "/" {
			folder = ""
		}
		return withStore(cmd.Context(), func(st *store.Store) error {
			n, err := st.MoveNote(args[0], folder)
			if err != nil {
				return err
			}
			printNote(cmd, "Moved", n)
			return nil
		})
	},
}

var noteDuplicateCmd = &cobra.Command{
	Use:   "duplicate <id>",
	Short: "Copy a note next to the original",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(st *store.Store) error {
			n, err := st.DuplicateNote(args[0])
			if err != nil {
				return err
			}
			printNote(cmd, "Duplicated", n)
			return nil
		})
	},
}

var noteDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a note file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(st *store.Store) error {
			if err := st.DeleteNote(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s\n", ui.RenderPass("✓"), args[0])
			return nil
		})
	},
}

var notePinCmd = &cobra.Command{
	Use:   "pin <id>",
	Short: "Toggle a note's pin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(st *store.Store) error {
			pinned, err := st.TogglePinNote(args[0])
			if err != nil {
				return err
			}
			state := "Unpinned"
			if pinned {
				state = "Pinned"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", ui.RenderPass("✓"), state, args[0])
			return nil
		})
	},
}

func printNote(cmd *cobra.Command, verb string, n schema.Note) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %s\n", ui.RenderPass("✓"), verb, n.ID, ui.RenderMuted("("+n.Title+")"))
}

func init() {
	noteNewCmd.Flags().StringP("folder", "f", "", "Folder to create the note in (default: root)")
	noteNewCmd.Flags().StringP("content", "c", "", "Initial content")

	noteCmd.AddCommand(noteNewCmd, noteShowCmd, noteSaveCmd, noteRenameCmd,
		noteMoveCmd, noteDuplicateCmd, noteDeleteCmd, notePinCmd)
	rootCmd.AddCommand(noteCmd)
}
