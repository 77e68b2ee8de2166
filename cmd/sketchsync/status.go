package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sketchsync/sketchsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status for all projects",
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()
		ctx := context.Background()

		projects, err := s.ListProjects(ctx)
		if err != nil {
			fatalf("listing projects: %v", err)
		}
		if len(projects) == 0 {
			fmt.Println("No projects.")
			return
		}

		fmt.Printf("\n%s\n\n", ui.RenderHeader("Sync Status"))
		for _, p := range projects {
			fmt.Printf("%s\n", ui.RenderAccent(p.Name))

			if p.Remote == nil {
				fmt.Printf("   %s\n", ui.RenderDim("local only"))
			} else {
				fmt.Printf("   Remote: %s %s/%s@%s\n",
					p.Remote.Provider, p.Remote.Owner, p.Remote.Repo, p.Remote.Branch)
				if p.LastSyncCommitSHA == "" {
					fmt.Printf("   Last sync: %s\n", ui.RenderWarn("never"))
				} else {
					fmt.Printf("   Last sync: %s\n", shortSHA(p.LastSyncCommitSHA))
				}
			}

			diagrams, err := s.DiagramsByProject(ctx, p.ID)
			if err != nil {
				fatalf("listing diagrams: %v", err)
			}
			synced := 0
			for _, d := range diagrams {
				if d.Synced() {
					synced++
				}
			}
			fmt.Printf("   Diagrams: %d (%d synced)\n", len(diagrams), synced)

			items, err := s.QueueByProject(ctx, p.ID)
			if err != nil {
				fatalf("reading queue: %v", err)
			}
			if len(items) == 0 {
				fmt.Printf("   Queue: %s\n", ui.RenderPass("empty"))
			} else {
				fmt.Printf("   Queue: %s\n", ui.RenderWarn(fmt.Sprintf("%d pending", len(items))))
				for _, it := range items {
					attempts := ""
					if it.Attempts > 0 {
						attempts = ui.RenderWarn(fmt.Sprintf(" (attempts: %d)", it.Attempts))
					}
					fmt.Printf("     %s %s%s\n", it.Action, it.Title, attempts)
				}
			}
			fmt.Println()
		}
	},
}

func shortSHA(sha string) string {
	if len(sha) > 10 {
		return sha[:10]
	}
	return sha
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
