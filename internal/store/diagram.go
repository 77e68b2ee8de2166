package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Diagram is one text document owned by a project. Title is unique
// within the project and carries the diagram file extension.
type Diagram struct {
	ID        string
	ProjectID string
	Title     string
	Content   string

	// RemoteBlobSHA is the content hash of the version last confirmed
	// present in the remote store; empty exactly when the diagram has
	// never been pushed or pulled.
	RemoteBlobSHA string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Synced reports whether this diagram has ever been reconciled with the
// remote store.
func (d *Diagram) Synced() bool {
	return d.RemoteBlobSHA != ""
}

// CreateDiagram creates a new, never-synced diagram.
func (s *Store) CreateDiagram(ctx context.Context, projectID, title, content string) (*Diagram, error) {
	if title == "" {
		return nil, fmt.Errorf("diagram title is required")
	}

	now := nowRFC3339()
	d := &Diagram{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Title:     title,
		Content:   content,
		CreatedAt: parseTime(now),
		UpdatedAt: parseTime(now),
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO diagrams (id, project_id, title, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.Title, d.Content, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create diagram %q: %w", title, err)
	}
	return d, nil
}

// MaterializeDiagram creates a diagram from a remote file observed
// during a pull, already carrying its content hash.
func (s *Store) MaterializeDiagram(ctx context.Context, projectID, title, content, blobSHA string) (*Diagram, error) {
	if blobSHA == "" {
		return nil, fmt.Errorf("blob sha is required to materialize %q", title)
	}

	now := nowRFC3339()
	d := &Diagram{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		Title:         title,
		Content:       content,
		RemoteBlobSHA: blobSHA,
		CreatedAt:     parseTime(now),
		UpdatedAt:     parseTime(now),
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO diagrams (id, project_id, title, content, remote_blob_sha, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.Title, d.Content, d.RemoteBlobSHA, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize diagram %q: %w", title, err)
	}
	return d, nil
}

// GetDiagram fetches one diagram by id.
func (s *Store) GetDiagram(ctx context.Context, id string) (*Diagram, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, project_id, title, content, remote_blob_sha, created_at, updated_at
		FROM diagrams WHERE id = ?`, id)
	return scanDiagram(row)
}

// GetDiagramByTitle fetches one diagram by project and title.
func (s *Store) GetDiagramByTitle(ctx context.Context, projectID, title string) (*Diagram, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, project_id, title, content, remote_blob_sha, created_at, updated_at
		FROM diagrams WHERE project_id = ? AND title = ?`, projectID, title)
	return scanDiagram(row)
}

// DiagramsByProject returns all diagrams of a project ordered by title.
func (s *Store) DiagramsByProject(ctx context.Context, projectID string) ([]*Diagram, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, project_id, title, content, remote_blob_sha, created_at, updated_at
		FROM diagrams WHERE project_id = ? ORDER BY title`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list diagrams: %w", err)
	}
	defer rows.Close()

	var diagrams []*Diagram
	for rows.Next() {
		d, err := scanDiagram(rows)
		if err != nil {
			return nil, err
		}
		diagrams = append(diagrams, d)
	}
	return diagrams, rows.Err()
}

// UpdateDiagramContent stores a local edit. The remote hash is left
// untouched; reconciliation happens in the push phase.
func (s *Store) UpdateDiagramContent(ctx context.Context, id, content string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE diagrams SET content = ?, updated_at = ? WHERE id = ?`,
		content, nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("failed to update diagram content: %w", err)
	}
	return requireRow(res)
}

// OverwriteFromRemote replaces content and hash with the remote version
// (remote wins).
func (s *Store) OverwriteFromRemote(ctx context.Context, id, content, blobSHA string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE diagrams SET content = ?, remote_blob_sha = ?, updated_at = ? WHERE id = ?`,
		content, blobSHA, nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("failed to overwrite diagram from remote: %w", err)
	}
	return requireRow(res)
}

// SetDiagramSHA records the content hash confirmed by a successful push.
func (s *Store) SetDiagramSHA(ctx context.Context, id, blobSHA string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE diagrams SET remote_blob_sha = ?, updated_at = ? WHERE id = ?`,
		nullable(blobSHA), nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("failed to store diagram hash: %w", err)
	}
	return requireRow(res)
}

// RenameDiagram changes the title.
func (s *Store) RenameDiagram(ctx context.Context, id, title string) error {
	if title == "" {
		return fmt.Errorf("diagram title is required")
	}
	res, err := s.conn.ExecContext(ctx,
		`UPDATE diagrams SET title = ?, updated_at = ? WHERE id = ?`,
		title, nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("failed to rename diagram: %w", err)
	}
	return requireRow(res)
}

// DeleteDiagram removes the diagram row. Queue entries referring to it
// are the orchestrator's concern.
func (s *Store) DeleteDiagram(ctx context.Context, id string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM diagrams WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete diagram: %w", err)
	}
	return nil
}

func scanDiagram(row rowScanner) (*Diagram, error) {
	var (
		d                  Diagram
		blobSHA            sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&d.ID, &d.ProjectID, &d.Title, &d.Content, &blobSHA, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan diagram: %w", err)
	}
	d.RemoteBlobSHA = blobSHA.String
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}
