package mirror

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sketchsync/sketchsync/internal/store"
)

func setupMirror(t *testing.T) (*Mirror, *store.Store, *store.Project, string) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	p, err := s.CreateProject(context.Background(), "Test")
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "sketches")
	config := DefaultConfig()
	config.DebounceInterval = 50 * time.Millisecond
	config.Logger = log.New(os.Stderr, "[test] ", log.LstdFlags)

	m, err := New(s, p.ID, dir, config)
	if err != nil {
		t.Fatalf("failed to create mirror: %v", err)
	}
	return m, s, p, dir
}

func TestExportWritesFilesAndManifest(t *testing.T) {
	m, s, p, dir := setupMirror(t)
	ctx := context.Background()

	d1, _ := s.CreateDiagram(ctx, p.ID, "a.mmd", "graph TD")
	d2, _ := s.CreateDiagram(ctx, p.ID, "b.mmd", "graph LR")

	if err := m.Export(ctx); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "a.mmd"))
	if err != nil {
		t.Fatalf("exported file missing: %v", err)
	}
	if string(data) != "graph TD" {
		t.Errorf("exported content wrong: %q", data)
	}

	manifest, err := loadManifest(dir, p.ID)
	if err != nil {
		t.Fatalf("manifest unreadable: %v", err)
	}
	if manifest.Diagrams["a.mmd"] != d1.ID || manifest.Diagrams["b.mmd"] != d2.ID {
		t.Errorf("manifest mapping wrong: %+v", manifest.Diagrams)
	}
}

func TestReconcileNewFileCreatesDiagram(t *testing.T) {
	m, s, p, dir := setupMirror(t)
	ctx := context.Background()

	if err := m.Export(ctx); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "new.mmd"), []byte("graph TD"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := m.reconcileFile(ctx, "new.mmd"); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	d, err := s.GetDiagramByTitle(ctx, p.ID, "new.mmd")
	if err != nil {
		t.Fatalf("diagram not created: %v", err)
	}
	if d.Content != "graph TD" {
		t.Errorf("content wrong: %q", d.Content)
	}

	items, _ := s.QueueByProject(ctx, p.ID)
	if len(items) != 1 || items[0].Action != store.ActionCreate {
		t.Errorf("create not queued: %+v", items)
	}

	manifest, _ := loadManifest(dir, p.ID)
	if manifest.Diagrams["new.mmd"] != d.ID {
		t.Error("manifest not updated with new diagram")
	}
}

func TestReconcileEditQueuesUpdate(t *testing.T) {
	m, s, p, dir := setupMirror(t)
	ctx := context.Background()

	d, _ := s.CreateDiagram(ctx, p.ID, "a.mmd", "v1")
	if err := m.Export(ctx); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "a.mmd"), []byte("v2"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := m.reconcileFile(ctx, "a.mmd"); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	got, _ := s.GetDiagram(ctx, d.ID)
	if got.Content != "v2" {
		t.Errorf("store not updated: %q", got.Content)
	}
	items, _ := s.QueueByProject(ctx, p.ID)
	if len(items) != 1 || items[0].Action != store.ActionUpdate || items[0].Content != "v2" {
		t.Errorf("update not queued: %+v", items)
	}
}

func TestReconcileUnchangedFileIsNoop(t *testing.T) {
	m, s, p, _ := setupMirror(t)
	ctx := context.Background()

	if _, err := s.CreateDiagram(ctx, p.ID, "a.mmd", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Export(ctx); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	if err := m.reconcileFile(ctx, "a.mmd"); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	items, _ := s.QueueByProject(ctx, p.ID)
	if len(items) != 0 {
		t.Errorf("unchanged file produced queue items: %+v", items)
	}
}

func TestReconcileDeletionQueuesDelete(t *testing.T) {
	m, s, p, dir := setupMirror(t)
	ctx := context.Background()

	d, _ := s.MaterializeDiagram(ctx, p.ID, "a.mmd", "v1", "sha1")
	if err := m.Export(ctx); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	if err := os.Remove(filepath.Join(dir, "a.mmd")); err != nil {
		t.Fatal(err)
	}
	if err := m.reconcileFile(ctx, "a.mmd"); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if _, err := s.GetDiagram(ctx, d.ID); !errors.Is(err, store.ErrNotFound) {
		t.Error("diagram survived mirror deletion")
	}
	items, _ := s.QueueByProject(ctx, p.ID)
	if len(items) != 1 || items[0].Action != store.ActionDelete || items[0].BlobSHA != "sha1" {
		t.Errorf("delete not queued: %+v", items)
	}

	manifest, _ := loadManifest(dir, p.ID)
	if _, ok := manifest.Diagrams["a.mmd"]; ok {
		t.Error("deleted file still in manifest")
	}
}

func TestWatcherPicksUpEdits(t *testing.T) {
	m, s, p, dir := setupMirror(t)
	ctx := context.Background()

	d, _ := s.CreateDiagram(ctx, p.ID, "a.mmd", "v1")

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	if err := os.WriteFile(filepath.Join(dir, "a.mmd"), []byte("v2"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := s.GetDiagram(ctx, d.ID)
		if err == nil && got.Content == "v2" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("edit never reached the store")
}
