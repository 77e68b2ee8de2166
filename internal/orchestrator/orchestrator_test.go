package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sketchsync/sketchsync/internal/creds"
	"github.com/sketchsync/sketchsync/internal/gal"
	"github.com/sketchsync/sketchsync/internal/notify"
	"github.com/sketchsync/sketchsync/internal/remote"
	"github.com/sketchsync/sketchsync/internal/store"
)

type fakeFile struct {
	content string
	sha     string
}

// fakeRemote is an in-memory stand-in for a hosting provider. Writes
// honor the same optimistic-concurrency rules the real adapters map
// from provider responses.
type fakeRemote struct {
	mu      sync.Mutex
	files   map[string]fakeFile
	commit  int
	nextSHA int
	writes  int

	// writeErr, when set, fails every write and delete.
	writeErr error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{files: make(map[string]fakeFile)}
}

// seed places a file without advancing the commit counter, simulating
// state that existed before the test started observing.
func (f *fakeRemote) seed(path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSHA++
	f.files[path] = fakeFile{content: content, sha: fmt.Sprintf("blob-%d", f.nextSHA)}
}

// mutate changes a file's content and sha without advancing the commit
// counter, simulating an out-of-band change the head does not reflect.
func (f *fakeRemote) mutate(path, content string) {
	f.seed(path, content)
}

func (f *fakeRemote) file(path string) (fakeFile, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ff, ok := f.files[path]
	return ff, ok
}

func (f *fakeRemote) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeRemote) GetRepoInfo(ctx context.Context, owner, repo, token string) (*remote.RepoInfo, error) {
	return &remote.RepoInfo{DefaultBranch: "main"}, nil
}

func (f *fakeRemote) ListDirectory(ctx context.Context, owner, repo, branch, dir, token string) ([]remote.RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []remote.RemoteFile
	prefix := dir + "/"
	for p, ff := range f.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		name := strings.TrimPrefix(p, prefix)
		if strings.Contains(name, "/") {
			continue
		}
		out = append(out, remote.RemoteFile{Name: name, Path: p, SHA: ff.sha, Type: remote.EntryFile})
	}
	if len(out) == 0 {
		return nil, &remote.NotFoundError{Path: dir}
	}
	return out, nil
}

func (f *fakeRemote) ReadFile(ctx context.Context, owner, repo, branch, path, token string) (*remote.FileContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ff, ok := f.files[path]
	if !ok {
		return nil, &remote.NotFoundError{Path: path}
	}
	return &remote.FileContent{Content: ff.content, SHA: ff.sha}, nil
}

func (f *fakeRemote) WriteFile(ctx context.Context, owner, repo, branch, path, content, message, expectedSHA, token string) (*remote.WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return nil, f.writeErr
	}

	current, exists := f.files[path]
	if expectedSHA == "" && exists {
		return nil, &remote.ConflictError{Path: path, Message: "file already exists"}
	}
	if expectedSHA != "" && (!exists || current.sha != expectedSHA) {
		return nil, &remote.ConflictError{Path: path, Message: "sha mismatch"}
	}

	f.nextSHA++
	f.commit++
	f.writes++
	sha := fmt.Sprintf("blob-%d", f.nextSHA)
	f.files[path] = fakeFile{content: content, sha: sha}
	return &remote.WriteResult{SHA: sha}, nil
}

func (f *fakeRemote) DeleteFile(ctx context.Context, owner, repo, branch, path, message, expectedSHA, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return f.writeErr
	}

	current, exists := f.files[path]
	if !exists {
		return &remote.NotFoundError{Path: path}
	}
	if expectedSHA != "" && current.sha != expectedSHA {
		return &remote.ConflictError{Path: path, Message: "sha mismatch"}
	}
	f.commit++
	f.writes++
	delete(f.files, path)
	return nil
}

func (f *fakeRemote) LatestCommit(ctx context.Context, owner, repo, branch, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("commit-%d", f.commit), nil
}

var _ remote.Adapter = (*fakeRemote)(nil)

type fixture struct {
	orch    *Orchestrator
	store   *store.Store
	fake    *fakeRemote
	project *store.Project
	session *creds.Session
	events  <-chan notify.Event
}

func setup(t *testing.T) *fixture {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	session := creds.NewSession()
	session.SetWorkFactor(10)
	if err := session.Unlock("test-passphrase"); err != nil {
		t.Fatalf("failed to unlock session: %v", err)
	}
	enc, err := session.EncryptToken("ghp_test")
	if err != nil {
		t.Fatalf("failed to encrypt token: %v", err)
	}

	ctx := context.Background()
	p, err := s.CreateProject(ctx, "Test")
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	binding := &store.RemoteBinding{
		Provider: remote.ProviderGitHub,
		Owner:    "octo",
		Repo:     "sketches",
		Branch:   "main",
	}
	if err := s.ConnectProject(ctx, p.ID, binding, enc); err != nil {
		t.Fatalf("failed to connect project: %v", err)
	}

	fake := newFakeRemote()
	layer := gal.New(remote.Options{})
	layer.SetAdapter(remote.ProviderGitHub, fake)

	bus := notify.NewBus()
	events, cancel := bus.Subscribe()
	t.Cleanup(cancel)

	config := DefaultConfig()
	config.Logger = log.New(os.Stderr, "[test] ", log.LstdFlags)
	orch := New(s, layer, session, bus, config)

	return &fixture{
		orch:    orch,
		store:   s,
		fake:    fake,
		project: p,
		session: session,
		events:  events,
	}
}

// drainEvents collects everything published so far.
func (f *fixture) drainEvents() []notify.Event {
	var out []notify.Event
	for {
		select {
		case ev := <-f.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (f *fixture) hasEvent(kind notify.EventKind, evs []notify.Event) bool {
	for _, ev := range evs {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func TestSyncPushesPendingCreate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	d, _ := f.store.CreateDiagram(ctx, f.project.ID, "flow.mmd", "graph TD")
	if _, err := f.store.EnqueueCreate(ctx, f.project.ID, d.ID, d.Title, d.Content); err != nil {
		t.Fatal(err)
	}

	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	ff, ok := f.fake.file("diagrams/flow.mmd")
	if !ok {
		t.Fatal("diagram not written to remote")
	}
	if ff.content != "graph TD" {
		t.Errorf("remote content wrong: %q", ff.content)
	}

	got, _ := f.store.GetDiagram(ctx, d.ID)
	if !got.Synced() || got.RemoteBlobSHA != ff.sha {
		t.Errorf("local hash not recorded: %+v", got)
	}
	items, _ := f.store.QueueByProject(ctx, f.project.ID)
	if len(items) != 0 {
		t.Errorf("queue not drained: %d items", len(items))
	}

	p, _ := f.store.GetProject(ctx, f.project.ID)
	if p.LastSyncCommitSHA == "" {
		t.Error("last sync commit not recorded")
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	d, _ := f.store.CreateDiagram(ctx, f.project.ID, "flow.mmd", "graph TD")
	if _, err := f.store.EnqueueCreate(ctx, f.project.ID, d.ID, d.Title, d.Content); err != nil {
		t.Fatal(err)
	}

	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("first SyncNow failed: %v", err)
	}
	writesAfterFirst := f.fake.writeCount()

	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("second SyncNow failed: %v", err)
	}
	if f.fake.writeCount() != writesAfterFirst {
		t.Errorf("second cycle wrote to remote: %d -> %d writes",
			writesAfterFirst, f.fake.writeCount())
	}
}

func TestPullMaterializesRemoteFiles(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.fake.seed("diagrams/arch.mmd", "graph LR")
	f.fake.seed("diagrams/notes.txt", "not a diagram")

	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	d, err := f.store.GetDiagramByTitle(ctx, f.project.ID, "arch.mmd")
	if err != nil {
		t.Fatalf("remote file not materialized: %v", err)
	}
	if d.Content != "graph LR" || !d.Synced() {
		t.Errorf("materialized diagram wrong: %+v", d)
	}

	if _, err := f.store.GetDiagramByTitle(ctx, f.project.ID, "notes.txt"); !errors.Is(err, store.ErrNotFound) {
		t.Error("non-diagram file was materialized")
	}
}

func TestPullOverwritesDivergedDiagram(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.fake.seed("diagrams/arch.mmd", "v1")
	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("initial sync failed: %v", err)
	}

	// Someone else pushes v2; the head moves.
	f.fake.mutate("diagrams/arch.mmd", "v2")
	f.fake.mu.Lock()
	f.fake.commit++
	f.fake.mu.Unlock()

	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}

	d, _ := f.store.GetDiagramByTitle(ctx, f.project.ID, "arch.mmd")
	if d.Content != "v2" {
		t.Errorf("diverged diagram not overwritten: %q", d.Content)
	}
}

func TestPullSkippedWhenHeadUnchanged(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.fake.seed("diagrams/arch.mmd", "v1")
	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("initial sync failed: %v", err)
	}

	// Content changes but the head does not move; the pull gate keeps
	// the stale local copy until the head advances.
	f.fake.mutate("diagrams/arch.mmd", "v2")

	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	d, _ := f.store.GetDiagramByTitle(ctx, f.project.ID, "arch.mmd")
	if d.Content != "v1" {
		t.Errorf("pull ran despite unchanged head: %q", d.Content)
	}
}

func TestPullDeletesSyncedDiagramGoneRemotely(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.fake.seed("diagrams/.gitkeep", "")
	f.fake.seed("diagrams/arch.mmd", "v1")
	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("initial sync failed: %v", err)
	}

	d, _ := f.store.GetDiagramByTitle(ctx, f.project.ID, "arch.mmd")

	// Local edit queued, then the file is deleted remotely. Remote wins:
	// both the diagram and its pending edit go away.
	if _, err := f.store.EnqueueUpdate(ctx, f.project.ID, d.ID, d.Title, "local edit"); err != nil {
		t.Fatal(err)
	}
	f.fake.mu.Lock()
	delete(f.fake.files, "diagrams/arch.mmd")
	f.fake.commit++
	f.fake.mu.Unlock()

	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if _, err := f.store.GetDiagram(ctx, d.ID); !errors.Is(err, store.ErrNotFound) {
		t.Error("remotely deleted diagram survived locally")
	}
	items, _ := f.store.QueueByProject(ctx, f.project.ID)
	if len(items) != 0 {
		t.Errorf("pending edit for deleted diagram survived: %d items", len(items))
	}
}

func TestPullNeverDeletesUnsyncedDiagram(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.fake.seed("diagrams/.gitkeep", "")

	d, _ := f.store.CreateDiagram(ctx, f.project.ID, "new.mmd", "graph TD")
	if _, err := f.store.EnqueueCreate(ctx, f.project.ID, d.ID, d.Title, d.Content); err != nil {
		t.Fatal(err)
	}

	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if _, ok := f.fake.file("diagrams/new.mmd"); !ok {
		t.Error("unsynced diagram was not pushed")
	}
}

func TestConflictRemoteWins(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.fake.seed("diagrams/arch.mmd", "base")
	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("initial sync failed: %v", err)
	}
	f.drainEvents()

	d, _ := f.store.GetDiagramByTitle(ctx, f.project.ID, "arch.mmd")
	if _, err := f.store.EnqueueUpdate(ctx, f.project.ID, d.ID, d.Title, "local edit"); err != nil {
		t.Fatal(err)
	}
	if err := f.store.UpdateDiagramContent(ctx, d.ID, "local edit"); err != nil {
		t.Fatal(err)
	}

	// Remote moves out from under the queued edit, head unchanged so
	// the pull gate does not mask the conflict.
	f.fake.mutate("diagrams/arch.mmd", "their edit")

	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	got, _ := f.store.GetDiagram(ctx, d.ID)
	if got.Content != "their edit" {
		t.Errorf("remote did not win: %q", got.Content)
	}
	items, _ := f.store.QueueByProject(ctx, f.project.ID)
	if len(items) != 0 {
		t.Errorf("conflicting item not discarded: %d items", len(items))
	}
	ff, _ := f.fake.file("diagrams/arch.mmd")
	if ff.content != "their edit" {
		t.Errorf("local edit reached the remote despite conflict: %q", ff.content)
	}

	evs := f.drainEvents()
	if !f.hasEvent(notify.EventConflict, evs) {
		t.Error("no conflict event published")
	}
	if !f.hasEvent(notify.EventCycleSuccess, evs) {
		t.Error("cycle did not continue past the conflict")
	}
}

func TestBootstrapCreatesRemoteDirectory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if _, ok := f.fake.file("diagrams/.gitkeep"); !ok {
		t.Error("remote directory not bootstrapped")
	}
}

func TestTransientErrorRetainsQueue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.fake.seed("diagrams/.gitkeep", "")

	d, _ := f.store.CreateDiagram(ctx, f.project.ID, "a.mmd", "v1")
	if _, err := f.store.EnqueueCreate(ctx, f.project.ID, d.ID, d.Title, d.Content); err != nil {
		t.Fatal(err)
	}

	f.fake.mu.Lock()
	f.fake.writeErr = &remote.ProviderError{StatusCode: 500, Message: "boom"}
	f.fake.mu.Unlock()

	if err := f.orch.SyncNow(ctx, f.project.ID); err == nil {
		t.Fatal("expected cycle failure")
	}

	items, _ := f.store.QueueByProject(ctx, f.project.ID)
	if len(items) != 1 {
		t.Fatalf("queue item lost on transient failure: %d items", len(items))
	}
	if items[0].Attempts != 1 {
		t.Errorf("attempt not recorded: %d", items[0].Attempts)
	}
	if !f.hasEvent(notify.EventCycleError, f.drainEvents()) {
		t.Error("no cycle_error event published")
	}

	// Recovery: clearing the fault drains the queue.
	f.fake.mu.Lock()
	f.fake.writeErr = nil
	f.fake.mu.Unlock()

	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("recovery sync failed: %v", err)
	}
	items, _ = f.store.QueueByProject(ctx, f.project.ID)
	if len(items) != 0 {
		t.Errorf("queue not drained after recovery: %d items", len(items))
	}
}

func TestDeletePropagation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.fake.seed("diagrams/.gitkeep", "")
	f.fake.seed("diagrams/old.mmd", "v1")
	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("initial sync failed: %v", err)
	}

	d, _ := f.store.GetDiagramByTitle(ctx, f.project.ID, "old.mmd")
	if _, err := f.store.EnqueueDelete(ctx, f.project.ID, d.ID, d.Title, d.RemoteBlobSHA); err != nil {
		t.Fatal(err)
	}
	if err := f.store.DeleteDiagram(ctx, d.ID); err != nil {
		t.Fatal(err)
	}

	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if _, ok := f.fake.file("diagrams/old.mmd"); ok {
		t.Error("delete did not propagate to remote")
	}
}

func TestDeleteAlreadyGoneRemotely(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.fake.seed("diagrams/.gitkeep", "")
	f.fake.seed("diagrams/old.mmd", "v1")
	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("initial sync failed: %v", err)
	}

	d, _ := f.store.GetDiagramByTitle(ctx, f.project.ID, "old.mmd")
	if _, err := f.store.EnqueueDelete(ctx, f.project.ID, d.ID, d.Title, d.RemoteBlobSHA); err != nil {
		t.Fatal(err)
	}
	if err := f.store.DeleteDiagram(ctx, d.ID); err != nil {
		t.Fatal(err)
	}

	// Someone deletes it remotely first; head moves so the pull runs,
	// then the queued delete finds nothing and still succeeds.
	f.fake.mu.Lock()
	delete(f.fake.files, "diagrams/old.mmd")
	f.fake.commit++
	f.fake.mu.Unlock()

	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	items, _ := f.store.QueueByProject(ctx, f.project.ID)
	if len(items) != 0 {
		t.Errorf("delete item survived: %d items", len(items))
	}
}

func TestRenamePropagation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.fake.seed("diagrams/.gitkeep", "")
	f.fake.seed("diagrams/old.mmd", "v1")
	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("initial sync failed: %v", err)
	}

	d, _ := f.store.GetDiagramByTitle(ctx, f.project.ID, "old.mmd")
	if _, err := f.store.EnqueueRename(ctx, f.project.ID, d.ID, "old.mmd", "new.mmd"); err != nil {
		t.Fatal(err)
	}
	if err := f.store.RenameDiagram(ctx, d.ID, "new.mmd"); err != nil {
		t.Fatal(err)
	}

	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if _, ok := f.fake.file("diagrams/old.mmd"); ok {
		t.Error("old path still present after rename")
	}
	ff, ok := f.fake.file("diagrams/new.mmd")
	if !ok {
		t.Fatal("new path missing after rename")
	}
	got, _ := f.store.GetDiagram(ctx, d.ID)
	if got.RemoteBlobSHA != ff.sha {
		t.Errorf("renamed diagram hash not updated: %q != %q", got.RemoteBlobSHA, ff.sha)
	}
}

func TestLocalOnlyProjectIsSkipped(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	local, _ := f.store.CreateProject(ctx, "Local")
	if err := f.orch.SyncNow(ctx, local.ID); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestLockedSessionAbortsCycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.session.Lock()
	if err := f.orch.SyncNow(ctx, f.project.ID); !errors.Is(err, creds.ErrSessionLocked) {
		t.Errorf("expected ErrSessionLocked, got %v", err)
	}
}

func TestConcurrentSyncIsDropped(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.orch.syncing.Store(true)
	if err := f.orch.SyncNow(ctx, f.project.ID); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("expected ErrSyncInProgress, got %v", err)
	}
	f.orch.syncing.Store(false)

	if err := f.orch.SyncNow(ctx, f.project.ID); err != nil {
		t.Errorf("sync should run once the slot frees up: %v", err)
	}
}
