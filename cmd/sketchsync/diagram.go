package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sketchsync/sketchsync/internal/ui"
)

var diagramContentFile string

var diagramCmd = &cobra.Command{
	Use:     "diagram",
	GroupID: "project",
	Short:   "Manage diagrams within a project",
}

// readContent returns the diagram payload from --file, or stdin when
// the flag is "-" or omitted with piped input.
func readContent() string {
	if diagramContentFile == "" || diagramContentFile == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fatalf("reading stdin: %v", err)
		}
		return string(data)
	}
	data, err := os.ReadFile(diagramContentFile)
	if err != nil {
		fatalf("reading %s: %v", diagramContentFile, err)
	}
	return string(data)
}

func requireSuffix(title string) {
	if !strings.HasSuffix(title, cfg.FileSuffix) {
		fatalf("diagram title must end in %s", cfg.FileSuffix)
	}
}

var diagramCreateCmd = &cobra.Command{
	Use:   "create <project-id> <title>",
	Short: "Create a diagram and queue it for sync",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		requireSuffix(args[1])
		content := readContent()

		s := openStore()
		defer s.Close()
		ctx := context.Background()

		d, err := s.CreateDiagram(ctx, args[0], args[1], content)
		if err != nil {
			fatalf("creating diagram: %v", err)
		}
		if _, err := s.EnqueueCreate(ctx, args[0], d.ID, d.Title, content); err != nil {
			fatalf("queueing create: %v", err)
		}
		fmt.Printf("%s Created %s\n", ui.RenderPass("✓"), d.Title)
		fmt.Printf("   ID: %s\n", d.ID)
	},
}

var diagramListCmd = &cobra.Command{
	Use:   "list <project-id>",
	Short: "List a project's diagrams",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()

		diagrams, err := s.DiagramsByProject(context.Background(), args[0])
		if err != nil {
			fatalf("listing diagrams: %v", err)
		}
		for _, d := range diagrams {
			marker := ui.RenderWarn("pending")
			if d.Synced() {
				marker = ui.RenderPass("synced")
			}
			fmt.Printf("%-30s %s  %s\n", d.Title, marker, ui.RenderDim(d.ID))
		}
	},
}

var diagramShowCmd = &cobra.Command{
	Use:   "show <diagram-id>",
	Short: "Print a diagram's content",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()

		d, err := s.GetDiagram(context.Background(), args[0])
		if err != nil {
			fatalf("fetching diagram: %v", err)
		}
		fmt.Print(d.Content)
	},
}

var diagramEditCmd = &cobra.Command{
	Use:   "edit <diagram-id>",
	Short: "Replace a diagram's content and queue the update",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		content := readContent()

		s := openStore()
		defer s.Close()
		ctx := context.Background()

		d, err := s.GetDiagram(ctx, args[0])
		if err != nil {
			fatalf("fetching diagram: %v", err)
		}
		if err := s.UpdateDiagramContent(ctx, d.ID, content); err != nil {
			fatalf("updating diagram: %v", err)
		}
		if _, err := s.EnqueueUpdate(ctx, d.ProjectID, d.ID, d.Title, content); err != nil {
			fatalf("queueing update: %v", err)
		}
		fmt.Printf("%s Updated %s\n", ui.RenderPass("✓"), d.Title)
	},
}

var diagramRenameCmd = &cobra.Command{
	Use:   "rename <diagram-id> <new-title>",
	Short: "Rename a diagram and queue the rename",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		requireSuffix(args[1])

		s := openStore()
		defer s.Close()
		ctx := context.Background()

		d, err := s.GetDiagram(ctx, args[0])
		if err != nil {
			fatalf("fetching diagram: %v", err)
		}
		if _, err := s.EnqueueRename(ctx, d.ProjectID, d.ID, d.Title, args[1]); err != nil {
			fatalf("queueing rename: %v", err)
		}
		if err := s.RenameDiagram(ctx, d.ID, args[1]); err != nil {
			fatalf("renaming diagram: %v", err)
		}
		fmt.Printf("%s Renamed %s to %s\n", ui.RenderPass("✓"), d.Title, args[1])
	},
}

var diagramDeleteCmd = &cobra.Command{
	Use:   "delete <diagram-id>",
	Short: "Delete a diagram and queue the remote deletion",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()
		ctx := context.Background()

		d, err := s.GetDiagram(ctx, args[0])
		if err != nil {
			fatalf("fetching diagram: %v", err)
		}
		if _, err := s.EnqueueDelete(ctx, d.ProjectID, d.ID, d.Title, d.RemoteBlobSHA); err != nil {
			fatalf("queueing delete: %v", err)
		}
		if err := s.DeleteDiagram(ctx, d.ID); err != nil {
			fatalf("deleting diagram: %v", err)
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), d.Title)
	},
}

func init() {
	for _, c := range []*cobra.Command{diagramCreateCmd, diagramEditCmd} {
		c.Flags().StringVarP(&diagramContentFile, "file", "f", "",
			"read content from file ('-' or empty reads stdin)")
	}

	diagramCmd.AddCommand(diagramCreateCmd)
	diagramCmd.AddCommand(diagramListCmd)
	diagramCmd.AddCommand(diagramShowCmd)
	diagramCmd.AddCommand(diagramEditCmd)
	diagramCmd.AddCommand(diagramRenameCmd)
	diagramCmd.AddCommand(diagramDeleteCmd)
	rootCmd.AddCommand(diagramCmd)
}
