package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sketchsync/sketchsync/internal/ui"
)

var projectCmd = &cobra.Command{
	Use:     "project",
	GroupID: "project",
	Short:   "Manage diagram projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new local project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()

		p, err := s.CreateProject(context.Background(), args[0])
		if err != nil {
			fatalf("creating project: %v", err)
		}
		fmt.Printf("%s Created project %q\n", ui.RenderPass("✓"), p.Name)
		fmt.Printf("   ID: %s\n", p.ID)
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all projects",
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()
		ctx := context.Background()

		projects, err := s.ListProjects(ctx)
		if err != nil {
			fatalf("listing projects: %v", err)
		}
		if len(projects) == 0 {
			fmt.Println("No projects. Create one with 'sketchsync project create <name>'.")
			return
		}

		for _, p := range projects {
			binding := ui.RenderDim("local only")
			if p.Remote != nil {
				binding = fmt.Sprintf("%s %s/%s@%s",
					p.Remote.Provider, p.Remote.Owner, p.Remote.Repo, p.Remote.Branch)
			}
			diagrams, _ := s.DiagramsByProject(ctx, p.ID)
			fmt.Printf("%s  %s\n", ui.RenderAccent(p.Name), binding)
			fmt.Printf("   ID: %s  diagrams: %d\n", p.ID, len(diagrams))
		}
	},
}

var projectRenameCmd = &cobra.Command{
	Use:   "rename <project-id> <new-name>",
	Short: "Rename a project",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()

		if err := s.RenameProject(context.Background(), args[0], args[1]); err != nil {
			fatalf("renaming project: %v", err)
		}
		fmt.Printf("%s Renamed project to %q\n", ui.RenderPass("✓"), args[1])
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <project-id>",
	Short: "Delete a project and its diagrams",
	Long: `Delete a project locally. Remote files are not touched; disconnect
first if you want to stop syncing without deleting anything.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()

		if err := s.DeleteProject(context.Background(), args[0]); err != nil {
			fatalf("deleting project: %v", err)
		}
		fmt.Printf("%s Deleted project\n", ui.RenderPass("✓"))
	},
}

var projectDisconnectCmd = &cobra.Command{
	Use:   "disconnect <project-id>",
	Short: "Remove a project's remote binding",
	Long: `Disconnect a project from its repository. Diagrams keep their last
content but stop syncing; the pending queue is discarded.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()

		if err := s.DisconnectProject(context.Background(), args[0]); err != nil {
			fatalf("disconnecting project: %v", err)
		}
		fmt.Printf("%s Disconnected project\n", ui.RenderPass("✓"))
	},
}

func init() {
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectRenameCmd)
	projectCmd.AddCommand(projectDeleteCmd)
	projectCmd.AddCommand(projectDisconnectCmd)
	rootCmd.AddCommand(projectCmd)
}
