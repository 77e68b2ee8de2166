package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/sketchsync/sketchsync/internal/creds"
)

// StartPolling launches the background cycle loop: one immediate pass
// over all connected projects, then one pass every PollInterval. Calling
// it twice without StopPolling is an error.
func (o *Orchestrator) StartPolling(ctx context.Context) error {
	if o.pollCancel != nil {
		return errors.New("polling already started")
	}

	pollCtx, cancel := context.WithCancel(ctx)
	o.pollCancel = cancel

	o.pollWG.Add(1)
	go func() {
		defer o.pollWG.Done()
		o.config.Logger.Printf("polling every %s", o.config.PollInterval)

		o.syncAll(pollCtx)

		ticker := time.NewTicker(o.config.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				o.syncAll(pollCtx)
			}
		}
	}()
	return nil
}

// StopPolling stops the background loop and waits for an in-flight pass
// to finish.
func (o *Orchestrator) StopPolling() {
	if o.pollCancel == nil {
		return
	}
	o.pollCancel()
	o.pollWG.Wait()
	o.pollCancel = nil
	o.config.Logger.Println("polling stopped")
}

// syncAll runs one cycle per connected project. Skips are silent:
// local-only projects have nothing to sync and an in-flight manual sync
// keeps its slot.
func (o *Orchestrator) syncAll(ctx context.Context) {
	projects, err := o.store.ListProjects(ctx)
	if err != nil {
		o.config.Logger.Printf("failed to list projects: %v", err)
		return
	}

	for _, p := range projects {
		if p.Remote == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		err := o.SyncNow(ctx, p.ID)
		switch {
		case err == nil:
		case errors.Is(err, ErrSyncInProgress):
		case errors.Is(err, creds.ErrSessionLocked):
			// No passphrase yet; every project would fail the same way.
			o.config.Logger.Println("session locked, skipping poll pass")
			return
		default:
			o.config.Logger.Printf("poll cycle failed for %s: %v", p.Name, err)
		}
	}
}
