// Package orchestrator runs sync cycles: pull remote changes into the
// local store, then drain the pending mutation queue against the remote.
//
// A cycle is the only place sync decisions are made. The store owns
// persistence, the gal layer owns transport, and conflicts are resolved
// here with a single deterministic rule: the remote version wins and the
// losing local mutation is discarded.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sketchsync/sketchsync/internal/creds"
	"github.com/sketchsync/sketchsync/internal/gal"
	"github.com/sketchsync/sketchsync/internal/notify"
	"github.com/sketchsync/sketchsync/internal/remote"
	"github.com/sketchsync/sketchsync/internal/store"
)

var (
	// ErrSyncInProgress is returned when a cycle is already running.
	// The caller's request is dropped, not queued.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrNotConnected is returned for projects without a remote binding.
	ErrNotConnected = errors.New("project has no remote binding")
)

// placeholderFile is written to bootstrap the remote directory when it
// does not exist yet. Hosting providers cannot represent empty
// directories, so the first push creates this marker.
const placeholderFile = ".gitkeep"

// Config holds orchestrator configuration.
type Config struct {
	// RemoteDir is the repository directory that holds diagram files
	// (default: "diagrams").
	RemoteDir string

	// FileSuffix restricts which remote files are treated as diagrams
	// (default: ".mmd").
	FileSuffix string

	// PollInterval is the time between background cycles
	// (default: 5 minutes).
	PollInterval time.Duration

	// Logger for cycle activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RemoteDir:    "diagrams",
		FileSuffix:   ".mmd",
		PollInterval: 5 * time.Minute,
		Logger:       log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Orchestrator coordinates the store, the git abstraction layer, the
// credential session, and the event bus.
type Orchestrator struct {
	store   *store.Store
	layer   *gal.Layer
	session *creds.Session
	bus     *notify.Bus
	config  *Config

	// syncing is the cycle flag. Manual triggers and the poller both
	// go through it; a second trigger while set is dropped.
	syncing atomic.Bool

	pollCancel context.CancelFunc
	pollWG     sync.WaitGroup
}

// New creates an orchestrator. bus may be nil when no one listens.
func New(st *store.Store, layer *gal.Layer, session *creds.Session, bus *notify.Bus, config *Config) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if bus == nil {
		bus = notify.NewBus()
	}
	return &Orchestrator{
		store:   st,
		layer:   layer,
		session: session,
		bus:     bus,
		config:  config,
	}
}

// Syncing reports whether a cycle is currently running.
func (o *Orchestrator) Syncing() bool {
	return o.syncing.Load()
}

// SyncNow runs one sync cycle for the project. Returns
// ErrSyncInProgress if a cycle is already running, ErrNotConnected for
// local-only projects, and creds.ErrSessionLocked when no passphrase
// has been provided.
func (o *Orchestrator) SyncNow(ctx context.Context, projectID string) error {
	if !o.syncing.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer o.syncing.Store(false)

	return o.cycle(ctx, projectID)
}

func (o *Orchestrator) cycle(ctx context.Context, projectID string) error {
	p, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if p.Remote == nil {
		return ErrNotConnected
	}

	token, err := o.session.DecryptToken(p.EncryptedToken)
	if err != nil {
		return err
	}

	if err := o.layer.Select(p.Remote.Provider); err != nil {
		return err
	}

	o.bus.Publish(notify.Event{Kind: notify.EventCycleStart, ProjectID: p.ID})
	o.config.Logger.Printf("cycle start: project=%s provider=%s", p.Name, p.Remote.Provider)

	if err := o.runCycle(ctx, p, token); err != nil {
		o.bus.Publish(notify.Event{
			Kind:      notify.EventCycleError,
			ProjectID: p.ID,
			Error:     err.Error(),
		})
		o.config.Logger.Printf("cycle failed: project=%s: %v", p.Name, err)
		return err
	}

	o.bus.Publish(notify.Event{Kind: notify.EventCycleSuccess, ProjectID: p.ID})
	o.config.Logger.Printf("cycle complete: project=%s", p.Name)
	return nil
}

func (o *Orchestrator) runCycle(ctx context.Context, p *store.Project, token string) error {
	b := p.Remote

	head, err := o.layer.LatestCommit(ctx, b.Owner, b.Repo, b.Branch, token)
	if err != nil {
		return fmt.Errorf("failed to fetch remote head: %w", err)
	}

	// Pull only when the remote moved since the last reconciled commit.
	// The head may include commits outside the diagram directory; the
	// pull is then a no-op diff, which is correct, just not minimal.
	if head == "" || head != p.LastSyncCommitSHA {
		if err := o.pull(ctx, p, token); err != nil {
			return fmt.Errorf("pull failed: %w", err)
		}
	}

	if err := o.push(ctx, p, token); err != nil {
		return fmt.Errorf("push failed: %w", err)
	}

	// The head moved again if the push wrote anything; record whatever
	// the remote reports now as fully reconciled.
	head, err = o.layer.LatestCommit(ctx, b.Owner, b.Repo, b.Branch, token)
	if err != nil {
		return fmt.Errorf("failed to fetch remote head after push: %w", err)
	}
	if head != "" {
		if err := o.store.SetLastSyncCommit(ctx, p.ID, head); err != nil {
			return err
		}
	}
	return nil
}

// pull reconciles the local store with the remote directory listing:
// new remote files are materialized, diverged synced diagrams are
// overwritten, and synced diagrams gone from the remote are deleted.
// Never-synced local diagrams are untouched; they belong to the push.
func (o *Orchestrator) pull(ctx context.Context, p *store.Project, token string) error {
	b := p.Remote

	files, err := o.layer.ListDirectory(ctx, b.Owner, b.Repo, b.Branch, o.config.RemoteDir, token)
	if remote.IsNotFound(err) {
		if err := o.bootstrapRemoteDir(ctx, p, token); err != nil {
			return err
		}
		files = nil
	} else if err != nil {
		return err
	}

	remoteByTitle := make(map[string]remote.RemoteFile)
	for _, f := range files {
		if f.Type != remote.EntryFile {
			continue
		}
		if path.Ext(f.Name) != o.config.FileSuffix {
			continue
		}
		remoteByTitle[f.Name] = f
	}

	for title, rf := range remoteByTitle {
		local, err := o.store.GetDiagramByTitle(ctx, p.ID, title)
		switch {
		case errors.Is(err, store.ErrNotFound):
			fc, err := o.readRemote(ctx, p, title, token)
			if err != nil {
				return err
			}
			if _, err := o.store.MaterializeDiagram(ctx, p.ID, title, fc.Content, fc.SHA); err != nil {
				return err
			}
			o.config.Logger.Printf("pulled new diagram: %s", title)

		case err != nil:
			return err

		case local.Synced() && local.RemoteBlobSHA != rf.SHA:
			fc, err := o.readRemote(ctx, p, title, token)
			if err != nil {
				return err
			}
			if err := o.store.OverwriteFromRemote(ctx, local.ID, fc.Content, fc.SHA); err != nil {
				return err
			}
			o.config.Logger.Printf("pulled updated diagram: %s", title)
		}
	}

	// A synced diagram missing from the remote was deleted there.
	// Remote wins: drop it locally along with any pending mutations.
	locals, err := o.store.DiagramsByProject(ctx, p.ID)
	if err != nil {
		return err
	}
	for _, d := range locals {
		if !d.Synced() {
			continue
		}
		if _, ok := remoteByTitle[d.Title]; ok {
			continue
		}
		if err := o.dropQueueItemsFor(ctx, p.ID, d.ID); err != nil {
			return err
		}
		if err := o.store.DeleteDiagram(ctx, d.ID); err != nil {
			return err
		}
		o.config.Logger.Printf("pulled deletion: %s", d.Title)
	}

	return nil
}

// bootstrapRemoteDir creates the diagram directory by writing a
// placeholder file into it.
func (o *Orchestrator) bootstrapRemoteDir(ctx context.Context, p *store.Project, token string) error {
	b := p.Remote
	_, err := o.layer.WriteFile(ctx, b.Owner, b.Repo, b.Branch,
		path.Join(o.config.RemoteDir, placeholderFile), "",
		"sketchsync: initialize diagram directory", "", token)
	if err != nil && !remote.IsConflict(err) {
		return fmt.Errorf("failed to bootstrap remote directory: %w", err)
	}
	o.config.Logger.Printf("bootstrapped remote directory: %s", o.config.RemoteDir)
	return nil
}

// push drains the pending queue in FIFO order. Conflicts resolve the
// item remote-wins and continue; any other error increments the item's
// attempt counter and aborts the cycle, leaving the remainder queued.
func (o *Orchestrator) push(ctx context.Context, p *store.Project, token string) error {
	items, err := o.store.QueueByProject(ctx, p.ID)
	if err != nil {
		return err
	}

	for _, item := range items {
		err := o.applyItem(ctx, p, item, token)
		if err == nil {
			if err := o.store.RemoveQueueItem(ctx, item.ID); err != nil {
				return err
			}
			continue
		}
		if remote.IsConflict(err) {
			if err := o.resolveConflict(ctx, p, item, token); err != nil {
				return err
			}
			continue
		}
		if bumpErr := o.store.BumpAttempts(ctx, item.ID); bumpErr != nil {
			o.config.Logger.Printf("failed to record attempt for %s: %v", item.ID, bumpErr)
		}
		return fmt.Errorf("failed to apply %s of %q: %w", item.Action, item.Title, err)
	}
	return nil
}

func (o *Orchestrator) applyItem(ctx context.Context, p *store.Project, item *store.QueueItem, token string) error {
	b := p.Remote

	switch item.Action {
	case store.ActionCreate:
		res, err := o.layer.WriteFile(ctx, b.Owner, b.Repo, b.Branch,
			o.remotePath(item.Title), item.Content,
			o.commitMessage("create", item.Title), "", token)
		if err != nil {
			return err
		}
		return o.recordPushedSHA(ctx, item.DiagramID, res.SHA)

	case store.ActionUpdate:
		d, err := o.store.GetDiagram(ctx, item.DiagramID)
		if errors.Is(err, store.ErrNotFound) {
			// Diagram deleted locally after the edit was queued; the
			// delete item later in the queue handles the remote.
			return nil
		}
		if err != nil {
			return err
		}
		res, err := o.layer.WriteFile(ctx, b.Owner, b.Repo, b.Branch,
			o.remotePath(item.Title), item.Content,
			o.commitMessage("update", item.Title), d.RemoteBlobSHA, token)
		if err != nil {
			return err
		}
		return o.recordPushedSHA(ctx, item.DiagramID, res.SHA)

	case store.ActionDelete:
		err := o.layer.DeleteFile(ctx, b.Owner, b.Repo, b.Branch,
			o.remotePath(item.Title),
			o.commitMessage("delete", item.Title), item.BlobSHA, token)
		if remote.IsNotFound(err) {
			// Already gone remotely; the intent is satisfied.
			return nil
		}
		return err

	case store.ActionRename:
		d, err := o.store.GetDiagram(ctx, item.DiagramID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		err = o.layer.DeleteFile(ctx, b.Owner, b.Repo, b.Branch,
			o.remotePath(item.OldTitle),
			o.commitMessage("rename", item.OldTitle), d.RemoteBlobSHA, token)
		if err != nil && !remote.IsNotFound(err) {
			return err
		}
		res, err := o.layer.WriteFile(ctx, b.Owner, b.Repo, b.Branch,
			o.remotePath(item.Title), d.Content,
			o.commitMessage("rename", item.Title), "", token)
		if err != nil {
			return err
		}
		return o.recordPushedSHA(ctx, item.DiagramID, res.SHA)

	default:
		return fmt.Errorf("unknown queue action %q", item.Action)
	}
}

// resolveConflict applies the remote-wins rule: the local mutation is
// discarded and the current remote version replaces the local content.
// A conflicting delete where the remote file still exists resurrects
// the local diagram from the remote.
func (o *Orchestrator) resolveConflict(ctx context.Context, p *store.Project, item *store.QueueItem, token string) error {
	if err := o.store.RemoveQueueItem(ctx, item.ID); err != nil {
		return err
	}

	fc, err := o.readRemote(ctx, p, item.Title, token)
	switch {
	case remote.IsNotFound(err):
		// The file disappeared between the conflicting write and now.
		// The next pull reconciles; nothing to restore from.
	case err != nil:
		return err
	default:
		local, lerr := o.store.GetDiagramByTitle(ctx, p.ID, item.Title)
		switch {
		case errors.Is(lerr, store.ErrNotFound):
			if _, err := o.store.MaterializeDiagram(ctx, p.ID, item.Title, fc.Content, fc.SHA); err != nil {
				return err
			}
		case lerr != nil:
			return lerr
		default:
			if err := o.store.OverwriteFromRemote(ctx, local.ID, fc.Content, fc.SHA); err != nil {
				return err
			}
		}
	}

	o.bus.Publish(notify.Event{
		Kind:      notify.EventConflict,
		ProjectID: p.ID,
		Title:     item.Title,
	})
	o.config.Logger.Printf("conflict on %s: local %s discarded, remote version kept", item.Title, item.Action)
	return nil
}

func (o *Orchestrator) readRemote(ctx context.Context, p *store.Project, title, token string) (*remote.FileContent, error) {
	b := p.Remote
	return o.layer.ReadFile(ctx, b.Owner, b.Repo, b.Branch, o.remotePath(title), token)
}

// recordPushedSHA stores the hash confirmed by a write. The diagram may
// have been deleted locally while its item was queued; that is fine.
func (o *Orchestrator) recordPushedSHA(ctx context.Context, diagramID, sha string) error {
	err := o.store.SetDiagramSHA(ctx, diagramID, sha)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func (o *Orchestrator) dropQueueItemsFor(ctx context.Context, projectID, diagramID string) error {
	items, err := o.store.QueueByProject(ctx, projectID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.DiagramID != diagramID {
			continue
		}
		if err := o.store.RemoveQueueItem(ctx, it.ID); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) remotePath(title string) string {
	return path.Join(o.config.RemoteDir, title)
}

func (o *Orchestrator) commitMessage(action, title string) string {
	return fmt.Sprintf("sketchsync: %s %s", action, title)
}
