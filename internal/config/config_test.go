package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.RemoteDir != "diagrams" {
		t.Errorf("expected default remote_dir diagrams, got %q", cfg.RemoteDir)
	}
	if cfg.FileSuffix != ".mmd" {
		t.Errorf("expected default file_suffix .mmd, got %q", cfg.FileSuffix)
	}
	if cfg.PollInterval != 5*time.Minute {
		t.Errorf("expected default poll_interval 5m, got %v", cfg.PollInterval)
	}
	if cfg.RetryAttempts != 3 {
		t.Errorf("expected default retry_attempts 3, got %d", cfg.RetryAttempts)
	}
	if cfg.DBPath == "" {
		t.Error("db_path default is empty")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sketchsync.yaml")
	content := "remote_dir: sketches\npoll_interval: 30s\ndashboard_port: 9000\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RemoteDir != "sketches" {
		t.Errorf("file value not applied: %q", cfg.RemoteDir)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("duration not parsed: %v", cfg.PollInterval)
	}
	if cfg.DashboardPort != 9000 {
		t.Errorf("port not applied: %d", cfg.DashboardPort)
	}
	// Unset keys keep their defaults.
	if cfg.FileSuffix != ".mmd" {
		t.Errorf("default lost: %q", cfg.FileSuffix)
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("SKETCHSYNC_REMOTE_DIR", "drawings")
	t.Setenv("SKETCHSYNC_RETRY_ATTEMPTS", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RemoteDir != "drawings" {
		t.Errorf("env override not applied: %q", cfg.RemoteDir)
	}
	if cfg.RetryAttempts != 5 {
		t.Errorf("env override not applied: %d", cfg.RetryAttempts)
	}
}

func TestMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestNewLoggerStderrByDefault(t *testing.T) {
	cfg := &Config{}
	logger := cfg.NewLogger("[test] ")
	if logger == nil {
		t.Fatal("nil logger")
	}
	logger.Println("stderr logger works")
}
