// Command notesync keeps a directory of notes and folders in sync with an
// in-memory model and exposes it to editors.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/notesync/internal/config"
	"github.com/steveyegge/notesync/internal/logging"
	"github.com/steveyegge/notesync/internal/ui"
	"github.com/steveyegge/notesync/internal/workspace/store"
)

var (
	cfg     *config.Config
	logSink *logging.Sink
)

var rootCmd = &cobra.Command{
	Use:   "notesync",
	Short: "Workspace sync engine for notes on disk",
	Long: `notesync keeps a workspace directory of notes and folders in sync with
an in-memory model.

A workspace is a root directory. Files with a note extension (.md,
.markdown, .txt) at the root or one folder deep are notes; first-level
directories are folders. Edits are written back after a short debounce,
external changes are merged without losing unsaved edits, and pins live
in .notesync/workspace.toml.

Settings come from notesync.toml (--config, <root>/.notesync or
$XDG_CONFIG_HOME/notesync), NOTESYNC_* environment variables and flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader()
		if err := loader.BindFlags(cmd.Flags()); err != nil {
			return err
		}
		path, _ := cmd.Flags().GetString("config")
		c, err := loader.Load(path)
		if err != nil {
			return err
		}
		cfg = c
		logSink = logging.NewSink(cfg.Log)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logSink != nil {
			return logSink.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "notes", Title: "Notes and folders:"},
		&cobra.Group{ID: "sync", Title: "Sync and services:"},
	)
	pf := rootCmd.PersistentFlags()
	pf.StringP("root", "r", ".", "Workspace root directory")
	pf.String("config", "", "Config file (default: search <root>/.notesync and $XDG_CONFIG_HOME/notesync)")
	pf.String("log-file", "", "Also write logs to this rotating file")
	pf.BoolP("verbose", "v", false, "Log store activity to stderr")
}

// logger returns the component logger, or a silent one unless --verbose
// or a log file is set.
func logger(name string) *log.Logger {
	if logSink == nil || (!cfg.Log.Verbose && cfg.Log.File == "") {
		return logging.Discard()
	}
	return logSink.Logger(name)
}

// openStore opens the configured workspace. One-shot commands pass
// watch=false; their writes are flushed by Close.
func openStore(ctx context.Context, watch bool) (*store.Store, error) {
	return store.Open(ctx, cfg.Root, store.Options{
		Extensions: cfg.Extensions,
		Debounce:   cfg.Debounce,
		Coalesce:   cfg.Coalesce,
		Watch:      watch,
		Logger:     logger("store"),
	})
}

// withStore runs fn against a store opened without a watcher and closes it
// afterwards, reporting a failed flush.
func withStore(ctx context.Context, fn func(st *store.Store) error) (err error) {
	st, err := openStore(ctx, false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to flush pending writes: %w", cerr)
		}
	}()
	return fn(st)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
