package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action is the kind of pending local mutation a queue item records.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionRename Action = "rename"
)

// QueueItem is one persisted pending mutation awaiting remote
// application. Items are consumed strictly in Seq order.
type QueueItem struct {
	Seq       int64
	ID        string
	ProjectID string
	DiagramID string
	Action    Action

	// Title is the diagram filename the action targets. For renames it
	// is the new title and OldTitle holds the previous one.
	Title    string
	OldTitle string

	// Content is the payload for create/update actions.
	Content string

	// BlobSHA is the optimistic-concurrency token for delete actions.
	BlobSHA string

	Attempts  int
	CreatedAt time.Time
}

// EnqueueCreate appends a pending create for a new diagram.
func (s *Store) EnqueueCreate(ctx context.Context, projectID, diagramID, title, content string) (*QueueItem, error) {
	return s.insertQueueItem(ctx, &QueueItem{
		ProjectID: projectID,
		DiagramID: diagramID,
		Action:    ActionCreate,
		Title:     title,
		Content:   content,
	})
}

// EnqueueUpdate appends a pending update. If the diagram still has a
// pending create in the queue, the update is folded into that create's
// payload instead of appended, so an unsynced diagram reaches the remote
// in a single write.
func (s *Store) EnqueueUpdate(ctx context.Context, projectID, diagramID, title, content string) (*QueueItem, error) {
	pending, err := s.PendingCreate(ctx, diagramID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if pending != nil {
		_, err := s.conn.ExecContext(ctx,
			`UPDATE sync_queue SET title = ?, content = ? WHERE id = ?`,
			title, content, pending.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to fold update into pending create: %w", err)
		}
		pending.Title = title
		pending.Content = content
		return pending, nil
	}

	return s.insertQueueItem(ctx, &QueueItem{
		ProjectID: projectID,
		DiagramID: diagramID,
		Action:    ActionUpdate,
		Title:     title,
		Content:   content,
	})
}

// EnqueueDelete appends a pending delete. A diagram that was never
// synced has nothing remote to delete; its pending create/update items
// are removed instead and no new item is appended.
func (s *Store) EnqueueDelete(ctx context.Context, projectID, diagramID, title, blobSHA string) (*QueueItem, error) {
	if blobSHA == "" {
		if _, err := s.conn.ExecContext(ctx,
			`DELETE FROM sync_queue WHERE diagram_id = ?`, diagramID); err != nil {
			return nil, fmt.Errorf("failed to drop pending items for unsynced diagram: %w", err)
		}
		return nil, nil
	}

	return s.insertQueueItem(ctx, &QueueItem{
		ProjectID: projectID,
		DiagramID: diagramID,
		Action:    ActionDelete,
		Title:     title,
		BlobSHA:   blobSHA,
	})
}

// EnqueueRename appends a pending rename carrying both titles.
func (s *Store) EnqueueRename(ctx context.Context, projectID, diagramID, oldTitle, newTitle string) (*QueueItem, error) {
	// A rename of a not-yet-synced diagram only needs its pending
	// create retargeted to the new title.
	pending, err := s.PendingCreate(ctx, diagramID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if pending != nil {
		_, err := s.conn.ExecContext(ctx,
			`UPDATE sync_queue SET title = ? WHERE id = ?`, newTitle, pending.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to retarget pending create: %w", err)
		}
		pending.Title = newTitle
		return pending, nil
	}

	return s.insertQueueItem(ctx, &QueueItem{
		ProjectID: projectID,
		DiagramID: diagramID,
		Action:    ActionRename,
		Title:     newTitle,
		OldTitle:  oldTitle,
	})
}

// PendingCreate finds the outstanding create item for a diagram, if any.
// Backed by the (diagram_id, action) index, not a queue scan.
func (s *Store) PendingCreate(ctx context.Context, diagramID string) (*QueueItem, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT seq, id, project_id, diagram_id, action, title, old_title,
		       content, blob_sha, attempts, created_at
		FROM sync_queue WHERE diagram_id = ? AND action = ?`,
		diagramID, ActionCreate)
	return scanQueueItem(row)
}

// QueueByProject returns the project's pending items in FIFO order.
func (s *Store) QueueByProject(ctx context.Context, projectID string) ([]*QueueItem, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT seq, id, project_id, diagram_id, action, title, old_title,
		       content, blob_sha, attempts, created_at
		FROM sync_queue WHERE project_id = ? ORDER BY seq`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	var items []*QueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// RemoveQueueItem deletes one item after successful application,
// provider-confirmed absence, or conflict discard.
func (s *Store) RemoveQueueItem(ctx context.Context, id string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove queue item: %w", err)
	}
	return nil
}

// BumpAttempts increments the attempt counter after a transient failure.
// Retry itself remains cycle-driven; the counter is for observability.
func (s *Store) BumpAttempts(ctx context.Context, id string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE sync_queue SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to bump attempts: %w", err)
	}
	return nil
}

func (s *Store) insertQueueItem(ctx context.Context, it *QueueItem) (*QueueItem, error) {
	it.ID = uuid.NewString()
	now := nowRFC3339()
	it.CreatedAt = parseTime(now)

	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO sync_queue (id, project_id, diagram_id, action, title,
		                        old_title, content, blob_sha, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.ProjectID, it.DiagramID, it.Action, it.Title,
		nullable(it.OldTitle), nullable(it.Content), nullable(it.BlobSHA), now)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s for %q: %w", it.Action, it.Title, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue sequence: %w", err)
	}
	it.Seq = seq
	return it, nil
}

func scanQueueItem(row rowScanner) (*QueueItem, error) {
	var (
		it                          QueueItem
		oldTitle, content, blobSHA  sql.NullString
		createdAt                   string
	)
	err := row.Scan(&it.Seq, &it.ID, &it.ProjectID, &it.DiagramID, &it.Action,
		&it.Title, &oldTitle, &content, &blobSHA, &it.Attempts, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue item: %w", err)
	}
	it.OldTitle = oldTitle.String
	it.Content = content.String
	it.BlobSHA = blobSHA.String
	it.CreatedAt = parseTime(createdAt)
	return &it, nil
}
