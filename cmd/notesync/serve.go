package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/notesync/internal/ui"
	"github.com/steveyegge/notesync/internal/workspace/catalog"
	"github.com/steveyegge/notesync/internal/workspace/dashboard"
	"github.com/steveyegge/notesync/internal/workspace/events"
	"github.com/steveyegge/notesync/internal/workspace/store"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Watch the workspace and stream changes to WebSocket clients",
	Long: `Open the workspace with a filesystem watcher and keep it in sync until
interrupted.

The server will:
  1. Scan the workspace and start watching it
  2. Keep the SQLite catalog current (unless catalog.enabled is false)
  3. Broadcast every change on ws://localhost:<port>/ws
  4. Serve the full model on /api/snapshot
  5. Refresh RSS folders every --rss-every, if set

On SIGINT/SIGTERM pending edits are flushed before exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rssEvery, _ := cmd.Flags().GetDuration("rss-every")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		st, err := openStore(ctx, true)
		if err != nil {
			return err
		}
		defer func() {
			if err := st.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "%s failed to flush pending writes: %v\n", ui.RenderWarn("⚠"), err)
			}
		}()

		stopDiag := st.Handle(events.Handlers{
			OnDiagnostic: func(ev events.Event) {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s: %s\n", ui.RenderWarn("⚠"), ev.Diagnostic.Kind, ev.Diagnostic.Message)
			},
		})
		defer stopDiag()

		if cfg.Catalog.Enabled {
			db, err := openCatalog(st.Root())
			if err != nil {
				return err
			}
			defer db.Close()
			ix := catalog.NewIndexer(db, st, logger("catalog"))
			if err := ix.Start(ctx); err != nil {
				return err
			}
			defer ix.Stop()
		}

		server := dashboard.NewServer(&dashboard.Config{
			Port:     cfg.Dashboard.Port,
			Snapshot: st.Snapshot,
			Logger:   logger("dashboard"),
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		defer server.Stop()
		handler := dashboard.NewHandler(server, st, logger("dashboard"))
		handler.Start()
		defer handler.Stop()

		if rssEvery > 0 {
			go refreshLoop(ctx, st, rssEvery)
		}

		snap := st.Snapshot()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Watching %s (%d folders, %d notes)\n", ui.RenderAccent("●"), snap.Root, len(snap.Folders), len(snap.Notes))
		fmt.Fprintf(out, "   WebSocket: ws://%s/ws\n", server.Addr())
		fmt.Fprintf(out, "   Snapshot:  http://%s/api/snapshot\n", server.Addr())
		fmt.Fprintf(out, "\nPress Ctrl+C to stop\n\n")

		<-ctx.Done()
		fmt.Fprintln(out, "\nShutting down...")
		return nil
	},
}

func refreshLoop(ctx context.Context, st *store.Store, every time.Duration) {
	svc := newRSSService(st)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.RefreshAll(ctx); err != nil {
				logger("rss").Printf("Warning: refresh failed: %v", err)
			}
		}
	}
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Dashboard port")
	serveCmd.Flags().Duration("rss-every", 0, "Refresh RSS folders at this interval (0 disables)")
	rootCmd.AddCommand(serveCmd)
}
