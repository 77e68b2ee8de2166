package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sketchsync/sketchsync/internal/remote"
)

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// RemoteBinding ties a project to one remote repository. A binding is
// always fully populated; a project without remote sync has a nil
// binding, never a partial one.
type RemoteBinding struct {
	Provider remote.Provider
	Owner    string
	Repo     string
	Branch   string
}

// Validate checks that all binding fields are present.
func (b *RemoteBinding) Validate() error {
	if b.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if b.Owner == "" {
		return fmt.Errorf("repository owner is required")
	}
	if b.Repo == "" {
		return fmt.Errorf("repository name is required")
	}
	if b.Branch == "" {
		return fmt.Errorf("branch is required")
	}
	return nil
}

// Project groups diagrams and optionally binds them to a remote
// repository directory.
type Project struct {
	ID   string
	Name string

	// Remote is nil for purely local projects.
	Remote *RemoteBinding

	// EncryptedToken is the age-encrypted provider access token,
	// base64-encoded. Empty when Remote is nil.
	EncryptedToken string

	// LastSyncCommitSHA is the last remote commit fully reconciled,
	// empty before the first successful cycle.
	LastSyncCommitSHA string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateProject creates a local-only project.
func (s *Store) CreateProject(ctx context.Context, name string) (*Project, error) {
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}

	now := nowRFC3339()
	p := &Project{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: parseTime(now),
		UpdatedAt: parseTime(now),
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO projects (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return p, nil
}

// GetProject fetches one project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, name, provider, repo_owner, repo_name, branch,
		       encrypted_token, last_sync_commit_sha, created_at, updated_at
		FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// ListProjects returns all projects ordered by creation time.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, name, provider, repo_owner, repo_name, branch,
		       encrypted_token, last_sync_commit_sha, created_at, updated_at
		FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// RenameProject changes the display name.
func (s *Store) RenameProject(ctx context.Context, id, name string) error {
	if name == "" {
		return fmt.Errorf("project name is required")
	}
	res, err := s.conn.ExecContext(ctx,
		`UPDATE projects SET name = ?, updated_at = ? WHERE id = ?`,
		name, nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("failed to rename project: %w", err)
	}
	return requireRow(res)
}

// DeleteProject removes the project; diagrams and queue items cascade.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return nil
}

// ConnectProject stores a full remote binding plus the encrypted token.
func (s *Store) ConnectProject(ctx context.Context, id string, binding *RemoteBinding, encryptedToken string) error {
	if binding == nil {
		return fmt.Errorf("remote binding is required")
	}
	if err := binding.Validate(); err != nil {
		return fmt.Errorf("invalid remote binding: %w", err)
	}
	if encryptedToken == "" {
		return fmt.Errorf("encrypted token is required")
	}

	res, err := s.conn.ExecContext(ctx, `
		UPDATE projects
		SET provider = ?, repo_owner = ?, repo_name = ?, branch = ?,
		    encrypted_token = ?, last_sync_commit_sha = NULL, updated_at = ?
		WHERE id = ?`,
		binding.Provider.String(), binding.Owner, binding.Repo, binding.Branch,
		encryptedToken, nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("failed to connect project: %w", err)
	}
	return requireRow(res)
}

// DisconnectProject clears the remote binding, token, and sync marker.
// Diagrams keep their last pulled content but lose their remote hashes.
func (s *Store) DisconnectProject(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE projects
		SET provider = NULL, repo_owner = NULL, repo_name = NULL, branch = NULL,
		    encrypted_token = NULL, last_sync_commit_sha = NULL, updated_at = ?
		WHERE id = ?`,
		nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("failed to disconnect project: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE diagrams SET remote_blob_sha = NULL WHERE project_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear diagram hashes: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE project_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear sync queue: %w", err)
	}
	return nil
}

// SetLastSyncCommit persists the commit SHA last fully reconciled.
func (s *Store) SetLastSyncCommit(ctx context.Context, id, sha string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE projects SET last_sync_commit_sha = ?, updated_at = ? WHERE id = ?`,
		nullable(sha), nowRFC3339(), id)
	if err != nil {
		return fmt.Errorf("failed to store sync commit: %w", err)
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var (
		p                                    Project
		provider, owner, repo, branch        sql.NullString
		encToken, lastSHA, createdAt, updAt  sql.NullString
	)
	err := row.Scan(&p.ID, &p.Name, &provider, &owner, &repo, &branch,
		&encToken, &lastSHA, &createdAt, &updAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}

	if provider.Valid {
		p.Remote = &RemoteBinding{
			Provider: remote.Provider(provider.String),
			Owner:    owner.String,
			Repo:     repo.String,
			Branch:   branch.String,
		}
	}
	p.EncryptedToken = encToken.String
	p.LastSyncCommitSHA = lastSHA.String
	p.CreatedAt = parseTime(createdAt.String)
	p.UpdatedAt = parseTime(updAt.String)
	return &p, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
