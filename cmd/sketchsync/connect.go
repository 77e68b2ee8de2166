package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/sketchsync/sketchsync/internal/remote"
	"github.com/sketchsync/sketchsync/internal/store"
	"github.com/sketchsync/sketchsync/internal/ui"
)

var connectCmd = &cobra.Command{
	Use:     "connect <project-id>",
	GroupID: "sync",
	Short:   "Bind a project to a repository directory",
	Long: `Connect a project to a GitHub or GitLab repository. The access token
is encrypted with a passphrase before it is stored; the passphrase is
asked again on every sync.

Leaving the branch empty uses the repository's default branch.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()
		ctx := context.Background()

		p, err := s.GetProject(ctx, args[0])
		if err != nil {
			fatalf("fetching project: %v", err)
		}

		var provider, owner, repo, branch, token, passphrase string
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Provider").
					Options(
						huh.NewOption("GitHub", "github"),
						huh.NewOption("GitLab", "gitlab"),
					).
					Value(&provider),
				huh.NewInput().
					Title("Repository owner").
					Validate(notEmpty("owner")).
					Value(&owner),
				huh.NewInput().
					Title("Repository name").
					Validate(notEmpty("repository")).
					Value(&repo),
				huh.NewInput().
					Title("Branch").
					Description("empty uses the default branch").
					Value(&branch),
				huh.NewInput().
					Title("Access token").
					EchoMode(huh.EchoModePassword).
					Validate(notEmpty("token")).
					Value(&token),
				huh.NewInput().
					Title("Token passphrase").
					EchoMode(huh.EchoModePassword).
					Validate(notEmpty("passphrase")).
					Value(&passphrase),
			),
		)
		if err := form.Run(); err != nil {
			fatalf("reading connection details: %v", err)
		}

		prov, err := remote.ParseProvider(provider)
		if err != nil {
			fatalf("%v", err)
		}

		// Verify the token and resolve the default branch before
		// anything is persisted.
		layer := newLayer()
		if err := layer.Select(prov); err != nil {
			fatalf("selecting provider: %v", err)
		}
		info, err := layer.GetRepoInfo(ctx, owner, repo, token)
		if err != nil {
			fatalf("verifying repository access: %v", err)
		}
		if branch == "" {
			branch = info.DefaultBranch
		}

		session := newUnlockedSession(passphrase)
		encrypted, err := session.EncryptToken(token)
		if err != nil {
			fatalf("encrypting token: %v", err)
		}

		binding := &store.RemoteBinding{
			Provider: prov,
			Owner:    owner,
			Repo:     repo,
			Branch:   branch,
		}
		if err := s.ConnectProject(ctx, p.ID, binding, encrypted); err != nil {
			fatalf("connecting project: %v", err)
		}

		fmt.Printf("%s Connected %q to %s/%s@%s (%s)\n",
			ui.RenderPass("✓"), p.Name, owner, repo, branch, prov)
		fmt.Println("Run 'sketchsync sync' to perform the first sync.")
	},
}

func notEmpty(field string) func(string) error {
	return func(v string) error {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func init() {
	rootCmd.AddCommand(connectCmd)
}
