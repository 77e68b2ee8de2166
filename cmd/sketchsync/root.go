package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sketchsync/sketchsync/internal/config"
	"github.com/sketchsync/sketchsync/internal/creds"
	"github.com/sketchsync/sketchsync/internal/gal"
	"github.com/sketchsync/sketchsync/internal/remote"
	"github.com/sketchsync/sketchsync/internal/store"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sketchsync",
	Short: "Diagram sync between local projects and git hosting",
	Long: `sketchsync keeps projects of text diagrams in sync with a flat
directory in a GitHub or GitLab repository.

Diagrams are edited locally (CLI or mirror directory) and every change
is queued. A sync cycle pulls remote changes first, then pushes the
queue in order; conflicts resolve in favor of the remote version.`,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./sketchsync.yaml or ~/.sketchsync/sketchsync.yaml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "project", Title: "Project commands"},
		&cobra.Group{ID: "sync", Title: "Sync commands"},
	)
}

func initConfig() {
	c, err := config.Load(cfgFile)
	if err != nil {
		fatalf("loading config: %v", err)
	}
	cfg = c
}

// openStore opens the database and ensures the schema exists.
func openStore() *store.Store {
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		fatalf("opening database: %v", err)
	}
	if err := s.InitSchema(); err != nil {
		fatalf("initializing schema: %v", err)
	}
	return s
}

// newLayer builds the git abstraction layer with retry settings from
// the config.
func newLayer() *gal.Layer {
	return gal.New(remote.Options{
		Retry: remote.RetryConfig{
			MaxRetries: cfg.RetryAttempts,
			BaseDelay:  cfg.RetryBaseDelay,
		},
		Logger: cfg.NewLogger("[remote] "),
	})
}

// promptPassphrase reads the token passphrase without echo and unlocks
// a session with it.
func promptPassphrase() *creds.Session {
	fmt.Fprint(os.Stderr, "Passphrase: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fatalf("reading passphrase: %v", err)
	}

	return newUnlockedSession(string(raw))
}

func newUnlockedSession(passphrase string) *creds.Session {
	session := creds.NewSession()
	if err := session.Unlock(passphrase); err != nil {
		fatalf("unlocking session: %v", err)
	}
	return session
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
