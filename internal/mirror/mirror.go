package mirror

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sketchsync/sketchsync/internal/store"
)

// Config holds mirror configuration.
type Config struct {
	// FileSuffix restricts which files in the directory are treated as
	// diagrams (default: ".mmd").
	FileSuffix string

	// DebounceInterval batches rapid editor saves into one change
	// (default: 200ms).
	DebounceInterval time.Duration

	// Logger for mirror activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		FileSuffix:       ".mmd",
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[mirror] ", log.LstdFlags),
	}
}

// Mirror links one project to one directory of diagram files.
type Mirror struct {
	store     *store.Store
	projectID string
	dir       string
	config    *Config

	watcher *fsnotify.Watcher

	// pending maps changed filenames to the time of their last event.
	pending   map[string]time.Time
	pendingMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a mirror for the project rooted at dir. The directory is
// created if missing.
func New(st *store.Store, projectID, dir string, config *Config) (*Mirror, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[mirror] ", log.LstdFlags)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}
	return &Mirror{
		store:     st,
		projectID: projectID,
		dir:       dir,
		config:    config,
		pending:   make(map[string]time.Time),
	}, nil
}

// Export writes every diagram of the project into the mirror directory
// and refreshes the manifest. Existing files are overwritten.
func (m *Mirror) Export(ctx context.Context) error {
	diagrams, err := m.store.DiagramsByProject(ctx, m.projectID)
	if err != nil {
		return err
	}

	manifest := newManifest(m.projectID)
	for _, d := range diagrams {
		path := filepath.Join(m.dir, d.Title)
		if err := os.WriteFile(path, []byte(d.Content), 0644); err != nil {
			return fmt.Errorf("failed to export %s: %w", d.Title, err)
		}
		manifest.Diagrams[d.Title] = d.ID
	}
	if err := manifest.save(m.dir); err != nil {
		return err
	}

	m.config.Logger.Printf("exported %d diagrams to %s", len(diagrams), m.dir)
	return nil
}

// Start exports the project and begins watching the directory. Edits,
// new files, and deletions flow back into the store and the sync queue.
func (m *Mirror) Start(ctx context.Context) error {
	if m.cancel != nil {
		return errors.New("mirror already started")
	}

	if err := m.Export(ctx); err != nil {
		return fmt.Errorf("initial export failed: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(m.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", m.dir, err)
	}
	m.watcher = watcher

	watchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(2)
	go m.watchLoop(watchCtx)
	go m.debounceLoop(watchCtx)

	m.config.Logger.Printf("watching %s", m.dir)
	return nil
}

// Stop stops watching and waits for in-flight processing.
func (m *Mirror) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	_ = m.watcher.Close()
	m.wg.Wait()
	m.cancel = nil
}

func (m *Mirror) watchLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if filepath.Ext(name) != m.config.FileSuffix {
				continue
			}
			// Rename delivers the old path; the new path arrives as a
			// separate create. Both reduce to "reconcile this name".
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			m.pendingMu.Lock()
			m.pending[name] = time.Now()
			m.pendingMu.Unlock()

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.config.Logger.Printf("watch error: %v", err)
		}
	}
}

func (m *Mirror) debounceLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.processPending(ctx)
		}
	}
}

// processPending reconciles every filename whose last event is older
// than the debounce interval.
func (m *Mirror) processPending(ctx context.Context) {
	now := time.Now()

	m.pendingMu.Lock()
	var ready []string
	for name, at := range m.pending {
		if now.Sub(at) >= m.config.DebounceInterval {
			ready = append(ready, name)
			delete(m.pending, name)
		}
	}
	m.pendingMu.Unlock()

	for _, name := range ready {
		if err := m.reconcileFile(ctx, name); err != nil {
			m.config.Logger.Printf("failed to reconcile %s: %v", name, err)
		}
	}
}

// reconcileFile brings the store in line with one file's current state
// on disk: present means create or update, absent means delete.
func (m *Mirror) reconcileFile(ctx context.Context, name string) error {
	manifest, err := loadManifest(m.dir, m.projectID)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Join(m.dir, name))
	switch {
	case os.IsNotExist(err):
		return m.applyDeletion(ctx, manifest, name)
	case err != nil:
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	return m.applyContent(ctx, manifest, name, string(data))
}

func (m *Mirror) applyContent(ctx context.Context, manifest *Manifest, name, content string) error {
	if id, ok := manifest.Diagrams[name]; ok {
		d, err := m.store.GetDiagram(ctx, id)
		if err != nil {
			return err
		}
		if d.Content == content {
			return nil
		}
		if err := m.store.UpdateDiagramContent(ctx, id, content); err != nil {
			return err
		}
		if _, err := m.store.EnqueueUpdate(ctx, m.projectID, id, name, content); err != nil {
			return err
		}
		m.config.Logger.Printf("updated %s from mirror", name)
		return nil
	}

	d, err := m.store.CreateDiagram(ctx, m.projectID, name, content)
	if err != nil {
		return err
	}
	if _, err := m.store.EnqueueCreate(ctx, m.projectID, d.ID, name, content); err != nil {
		return err
	}
	manifest.Diagrams[name] = d.ID
	if err := manifest.save(m.dir); err != nil {
		return err
	}
	m.config.Logger.Printf("created %s from mirror", name)
	return nil
}

func (m *Mirror) applyDeletion(ctx context.Context, manifest *Manifest, name string) error {
	id, ok := manifest.Diagrams[name]
	if !ok {
		return nil
	}

	d, err := m.store.GetDiagram(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		delete(manifest.Diagrams, name)
		return manifest.save(m.dir)
	}
	if err != nil {
		return err
	}

	if _, err := m.store.EnqueueDelete(ctx, m.projectID, id, name, d.RemoteBlobSHA); err != nil {
		return err
	}
	if err := m.store.DeleteDiagram(ctx, id); err != nil {
		return err
	}
	delete(manifest.Diagrams, name)
	if err := manifest.save(m.dir); err != nil {
		return err
	}
	m.config.Logger.Printf("deleted %s from mirror", name)
	return nil
}
