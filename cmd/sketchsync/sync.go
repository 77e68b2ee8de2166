package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sketchsync/sketchsync/internal/notify"
	"github.com/sketchsync/sketchsync/internal/orchestrator"
	"github.com/sketchsync/sketchsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync <project-id>",
	GroupID: "sync",
	Short:   "Run one sync cycle for a project",
	Long: `Run a sync cycle: pull remote changes into the local store, then
push the pending mutation queue. Conflicting local changes are
discarded in favor of the remote version and reported.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()
		ctx := context.Background()

		session := promptPassphrase()

		bus := notify.NewBus()
		events, cancel := bus.Subscribe()
		defer cancel()

		ocfg := orchestrator.DefaultConfig()
		ocfg.RemoteDir = cfg.RemoteDir
		ocfg.FileSuffix = cfg.FileSuffix
		ocfg.PollInterval = cfg.PollInterval
		ocfg.Logger = cfg.NewLogger("[sync] ")

		orch := orchestrator.New(s, newLayer(), session, bus, ocfg)

		fmt.Printf("%s Syncing...\n", ui.RenderAccent("🔄"))
		err := orch.SyncNow(ctx, args[0])

		// Report conflicts even when the cycle ultimately failed.
		for {
			var done bool
			select {
			case ev := <-events:
				if ev.Kind == notify.EventConflict {
					fmt.Printf("%s Conflict on %s: local change discarded, remote version kept\n",
						ui.RenderWarn("⚠"), ev.Title)
				}
			default:
				done = true
			}
			if done {
				break
			}
		}

		switch {
		case errors.Is(err, orchestrator.ErrNotConnected):
			fatalf("project is not connected; run 'sketchsync connect' first")
		case err != nil:
			fatalf("sync failed: %v", err)
		}
		fmt.Printf("%s Sync complete\n", ui.RenderPass("✓"))
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
