// Package gal is the git abstraction layer: a provider-agnostic facade
// over the remote adapters.
//
// The layer holds exactly one active (provider, adapter) pair at a time.
// The orchestrator selects the provider of the active project before
// running a cycle; every operation on an unselected layer fails with
// ErrNotConfigured. Switching providers is an explicit, synchronous step,
// never implicit in an operation.
package gal

import (
	"context"
	"errors"
	"sync"

	"github.com/sketchsync/sketchsync/internal/remote"
)

// ErrNotConfigured is returned by every operation before a provider has
// been selected.
var ErrNotConfigured = errors.New("no provider selected")

// Layer exposes the six adapter operations behind a single active
// provider binding.
type Layer struct {
	opts remote.Options

	mu       sync.RWMutex
	provider remote.Provider
	adapter  remote.Adapter
}

// New creates an unconfigured layer. opts are forwarded to adapter
// constructors on Select.
func New(opts remote.Options) *Layer {
	return &Layer{opts: opts}
}

// Select binds the layer to the given provider, building its adapter
// from the registry. Selecting the already-active provider is a no-op.
func (l *Layer) Select(p remote.Provider) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.provider == p && l.adapter != nil {
		return nil
	}
	adapter, err := remote.New(p, l.opts)
	if err != nil {
		return err
	}
	l.provider = p
	l.adapter = adapter
	return nil
}

// SetAdapter binds an explicit adapter instance, bypassing the registry.
func (l *Layer) SetAdapter(p remote.Provider, a remote.Adapter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.provider = p
	l.adapter = a
}

// Provider returns the active provider, or empty if unconfigured.
func (l *Layer) Provider() remote.Provider {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.provider
}

func (l *Layer) active() (remote.Adapter, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.adapter == nil {
		return nil, ErrNotConfigured
	}
	return l.adapter, nil
}

// GetRepoInfo forwards to the active adapter.
func (l *Layer) GetRepoInfo(ctx context.Context, owner, repo, token string) (*remote.RepoInfo, error) {
	a, err := l.active()
	if err != nil {
		return nil, err
	}
	return a.GetRepoInfo(ctx, owner, repo, token)
}

// ListDirectory forwards to the active adapter.
func (l *Layer) ListDirectory(ctx context.Context, owner, repo, branch, path, token string) ([]remote.RemoteFile, error) {
	a, err := l.active()
	if err != nil {
		return nil, err
	}
	return a.ListDirectory(ctx, owner, repo, branch, path, token)
}

// ReadFile forwards to the active adapter.
func (l *Layer) ReadFile(ctx context.Context, owner, repo, branch, path, token string) (*remote.FileContent, error) {
	a, err := l.active()
	if err != nil {
		return nil, err
	}
	return a.ReadFile(ctx, owner, repo, branch, path, token)
}

// WriteFile forwards to the active adapter.
func (l *Layer) WriteFile(ctx context.Context, owner, repo, branch, path, content, message, expectedSHA, token string) (*remote.WriteResult, error) {
	a, err := l.active()
	if err != nil {
		return nil, err
	}
	return a.WriteFile(ctx, owner, repo, branch, path, content, message, expectedSHA, token)
}

// DeleteFile forwards to the active adapter.
func (l *Layer) DeleteFile(ctx context.Context, owner, repo, branch, path, message, expectedSHA, token string) error {
	a, err := l.active()
	if err != nil {
		return err
	}
	return a.DeleteFile(ctx, owner, repo, branch, path, message, expectedSHA, token)
}

// LatestCommit forwards to the active adapter.
func (l *Layer) LatestCommit(ctx context.Context, owner, repo, branch, token string) (string, error) {
	a, err := l.active()
	if err != nil {
		return "", err
	}
	return a.LatestCommit(ctx, owner, repo, branch, token)
}
