// Package remote implements provider-specific adapters for hosted
// repository "contents" APIs.
//
// Each adapter translates the abstract repository operations used by the
// sync orchestrator (list a directory, read/write/delete a file, resolve
// the latest commit) into HTTP calls against one provider dialect. Two
// dialects are implemented:
//
//   - GitHub contents API (github.go)
//   - GitLab repository files API (gitlab.go)
//
// Adapters register themselves with the provider registry at init time;
// callers obtain instances through New(). All operations take the access
// token as an argument rather than holding it, so a single adapter can
// serve any project bound to its provider.
//
// Every call goes through a shared retrying HTTP client that backs off
// on rate-limit responses (see RetryConfig) and surfaces all other
// failures as typed errors (see errors.go).
package remote

import "context"

// Provider identifies a repository hosting dialect.
type Provider string

const (
	// ProviderGitHub selects the GitHub contents API dialect.
	ProviderGitHub Provider = "github"

	// ProviderGitLab selects the GitLab repository files API dialect.
	ProviderGitLab Provider = "gitlab"
)

// String returns the string representation of the provider.
func (p Provider) String() string {
	return string(p)
}

// ParseProvider converts a user-supplied name into a Provider.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderGitHub:
		return ProviderGitHub, nil
	case ProviderGitLab:
		return ProviderGitLab, nil
	default:
		return "", &ProviderError{Message: "unknown provider: " + s}
	}
}

// EntryType classifies a directory listing entry.
type EntryType string

const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "dir"
)

// RepoInfo describes a remote repository.
type RepoInfo struct {
	// DefaultBranch is the branch the provider considers primary.
	DefaultBranch string
}

// RemoteFile is one entry of a directory listing, normalized to a single
// shape regardless of provider-specific field names (sha vs blob_id,
// file vs blob).
type RemoteFile struct {
	// Name is the base filename.
	Name string

	// Path is the full path within the repository.
	Path string

	// SHA is the provider's content hash for the file's exact bytes.
	SHA string

	// Type is file or dir.
	Type EntryType
}

// FileContent is the decoded content of one remote file.
type FileContent struct {
	// Content is the plain-text file content, decoded from the wire
	// encoding (base64 over UTF-8).
	Content string

	// SHA is the content hash of this version.
	SHA string
}

// WriteResult reports the outcome of a successful write.
type WriteResult struct {
	// SHA is the content hash of the newly written version.
	SHA string
}

// Adapter is the provider-agnostic contract implemented once per dialect.
//
// Error contract:
//   - missing repository, directory, or file: *NotFoundError
//   - optimistic-lock failure on write/delete: *ConflictError
//   - rate-limit retries exhausted: *RateLimitError
//   - any other non-success status: *ProviderError
type Adapter interface {
	// GetRepoInfo resolves repository metadata, primarily the default
	// branch. Fails with *NotFoundError if the repository does not exist
	// or the token cannot read it.
	GetRepoInfo(ctx context.Context, owner, repo, token string) (*RepoInfo, error)

	// ListDirectory lists the entries of one directory on the given
	// branch. Fails with *NotFoundError if the directory does not exist;
	// callers treat that as a recoverable condition.
	ListDirectory(ctx context.Context, owner, repo, branch, path, token string) ([]RemoteFile, error)

	// ReadFile fetches one file and decodes its content to plain text.
	ReadFile(ctx context.Context, owner, repo, branch, path, token string) (*FileContent, error)

	// WriteFile creates or updates one file. An empty expectedSHA means
	// "create new file, must not already exist"; a non-empty expectedSHA
	// is the optimistic-concurrency token of the last known version, and
	// a mismatch fails with *ConflictError.
	WriteFile(ctx context.Context, owner, repo, branch, path, content, message, expectedSHA, token string) (*WriteResult, error)

	// DeleteFile removes one file. Fails with *NotFoundError if the file
	// is already absent.
	DeleteFile(ctx context.Context, owner, repo, branch, path, message, expectedSHA, token string) error

	// LatestCommit returns the SHA of the branch head commit.
	LatestCommit(ctx context.Context, owner, repo, branch, token string) (string, error)
}
