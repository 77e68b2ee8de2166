package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sketchsync/sketchsync/internal/mirror"
	"github.com/sketchsync/sketchsync/internal/notify"
	"github.com/sketchsync/sketchsync/internal/orchestrator"
	"github.com/sketchsync/sketchsync/internal/ui"
)

var daemonNoMirror bool

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync daemon (foreground)",
	Long: `Run the sync daemon. It polls every connected project on an
interval, mirrors each project's diagrams into an editable directory,
and serves sync events over WebSocket for external tooling.

Press Ctrl+C to stop.`,
	Run: func(cmd *cobra.Command, args []string) {
		s := openStore()
		defer s.Close()

		session := promptPassphrase()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		bus := notify.NewBus()

		server := notify.NewServer(bus, &notify.ServerConfig{
			Port:   cfg.DashboardPort,
			Logger: cfg.NewLogger("[notify] "),
		})
		if err := server.Start(); err != nil {
			fatalf("starting event server: %v", err)
		}
		defer server.Stop()

		ocfg := orchestrator.DefaultConfig()
		ocfg.RemoteDir = cfg.RemoteDir
		ocfg.FileSuffix = cfg.FileSuffix
		ocfg.PollInterval = cfg.PollInterval
		ocfg.Logger = cfg.NewLogger("[sync] ")

		orch := orchestrator.New(s, newLayer(), session, bus, ocfg)

		// One mirror per project so edits in plain files feed the queue.
		var mirrors []*mirror.Mirror
		if !daemonNoMirror {
			projects, err := s.ListProjects(ctx)
			if err != nil {
				fatalf("listing projects: %v", err)
			}
			mcfg := mirror.DefaultConfig()
			mcfg.FileSuffix = cfg.FileSuffix
			mcfg.Logger = cfg.NewLogger("[mirror] ")

			for _, p := range projects {
				dir := filepath.Join(cfg.MirrorDir, p.Name)
				m, err := mirror.New(s, p.ID, dir, mcfg)
				if err != nil {
					fatalf("creating mirror for %s: %v", p.Name, err)
				}
				if err := m.Start(ctx); err != nil {
					fatalf("starting mirror for %s: %v", p.Name, err)
				}
				mirrors = append(mirrors, m)
				fmt.Printf("   Mirror: %s -> %s\n", p.Name, dir)
			}
		}
		defer func() {
			for _, m := range mirrors {
				m.Stop()
			}
		}()

		if err := orch.StartPolling(ctx); err != nil {
			fatalf("starting poller: %v", err)
		}
		defer orch.StopPolling()

		fmt.Printf("%s Daemon running\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Events: ws://localhost:%d/ws\n", cfg.DashboardPort)
		fmt.Printf("   Poll interval: %s\n", cfg.PollInterval)
		fmt.Println("\nPress Ctrl+C to stop")

		<-ctx.Done()
		fmt.Printf("\n%s Shutting down\n", ui.RenderAccent("⏹"))
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonNoMirror, "no-mirror", false,
		"disable the editable mirror directories")
	rootCmd.AddCommand(daemonCmd)
}
