package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/notesync/internal/ui"
	"github.com/steveyegge/notesync/internal/workspace/rss"
	"github.com/steveyegge/notesync/internal/workspace/store"
)

var rssCmd = &cobra.Command{
	Use:     "rss",
	GroupID: "sync",
	Short:   "Subscribe folders to RSS/Atom feeds",
	Long: `Import feed items as hidden-header notes.

Each subscribed folder keeps its feed URL and the items already imported
in <folder>/.rss.json. A refresh only adds items whose guid (or link) is
not recorded there, so deleted item notes are not imported again.`,
}

func newRSSService(st *store.Store) *rss.Service {
	return rss.New(st, &rss.Config{
		Fetcher: rss.NewHTTPFetcher(cfg.RSS.Timeout, cfg.RSS.UserAgent),
		Logger:  logger("rss"),
	})
}

var rssSubscribeCmd = &cobra.Command{
	Use:   "subscribe <url>",
	Short: "Create a folder for a feed and import its items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		return withStore(cmd.Context(), func(st *store.Store) error {
			folder, res, err := newRSSService(st).Subscribe(cmd.Context(), args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Subscribed %s to %s (%d items)\n",
				ui.RenderPass("✓"), folder.ID, args[0], res.AddedCount)
			return nil
		})
	},
}

var rssRefreshCmd = &cobra.Command{
	Use:   "refresh [folder]",
	Short: "Fetch new items for one feed folder, or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(st *store.Store) error {
			svc := newRSSService(st)
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				res, err := svc.Refresh(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %s: %d new\n", ui.RenderPass("✓"), res.FolderID, res.AddedCount)
				return nil
			}

			results, err := svc.RefreshAll(cmd.Context())
			for _, res := range results {
				fmt.Fprintf(out, "%s %s: %d new\n", ui.RenderPass("✓"), res.FolderID, res.AddedCount)
			}
			if len(results) == 0 && err == nil {
				fmt.Fprintf(out, "%s No feed folders\n", ui.RenderMuted("-"))
			}
			return err
		})
	},
}

func init() {
	rssSubscribeCmd.Flags().StringP("name", "n", "", "Folder name (default: feed title)")

	rssCmd.AddCommand(rssSubscribeCmd, rssRefreshCmd)
	rootCmd.AddCommand(rssCmd)
}
