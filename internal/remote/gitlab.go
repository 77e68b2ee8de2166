package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const gitlabAPIBase = "https://gitlab.com/api/v4"

func init() {
	Register(ProviderGitLab, newGitLab)
}

// gitlabAdapter implements Adapter against the GitLab repository files
// API. GitLab reports rate limits with plain 429 and does not expose
// token scopes on responses.
type gitlabAdapter struct {
	base string
	http *httpClient
}

func newGitLab(opts Options) Adapter {
	base := opts.BaseURL
	if base == "" {
		base = gitlabAPIBase
	}
	return &gitlabAdapter{
		base: strings.TrimRight(base, "/"),
		http: newHTTPClient(opts, false, ""),
	}
}

func (g *gitlabAdapter) header(token string) http.Header {
	h := make(http.Header)
	h.Set("PRIVATE-TOKEN", token)
	h.Set("Content-Type", "application/json")
	return h
}

// projectID is the URL-encoded owner/repo pair GitLab uses in place of
// separate path segments.
func projectID(owner, repo string) string {
	return url.PathEscape(owner + "/" + repo)
}

func (g *gitlabAdapter) GetRepoInfo(ctx context.Context, owner, repo, token string) (*RepoInfo, error) {
	u := fmt.Sprintf("%s/projects/%s", g.base, projectID(owner, repo))
	resp, err := g.http.do(ctx, request{method: http.MethodGet, url: u, header: g.header(token)})
	if err != nil {
		return nil, err
	}
	if err := g.check(resp, owner+"/"+repo); err != nil {
		return nil, err
	}

	var payload struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode project info: %w", err)
	}
	return &RepoInfo{DefaultBranch: payload.DefaultBranch}, nil
}

func (g *gitlabAdapter) ListDirectory(ctx context.Context, owner, repo, branch, path, token string) ([]RemoteFile, error) {
	u := fmt.Sprintf("%s/projects/%s/repository/tree?path=%s&ref=%s&per_page=100",
		g.base, projectID(owner, repo), url.QueryEscape(path), url.QueryEscape(branch))
	resp, err := g.http.do(ctx, request{method: http.MethodGet, url: u, header: g.header(token)})
	if err != nil {
		return nil, err
	}
	if err := g.check(resp, path); err != nil {
		return nil, err
	}

	var entries []struct {
		ID   string `json:"id"` // blob SHA
		Name string `json:"name"`
		Path string `json:"path"`
		Type string `json:"type"` // blob or tree
	}
	if err := json.Unmarshal(resp.body, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode tree listing: %w", err)
	}

	// GitLab answers an empty list, not a 404, for a missing path on
	// some versions; normalize to the NotFoundError the orchestrator's
	// directory bootstrap expects.
	if len(entries) == 0 {
		return nil, &NotFoundError{Path: path, Message: "tree is empty or does not exist"}
	}

	files := make([]RemoteFile, 0, len(entries))
	for _, e := range entries {
		typ := EntryDir
		if e.Type == "blob" {
			typ = EntryFile
		}
		files = append(files, RemoteFile{Name: e.Name, Path: e.Path, SHA: e.ID, Type: typ})
	}
	return files, nil
}

func (g *gitlabAdapter) ReadFile(ctx context.Context, owner, repo, branch, path, token string) (*FileContent, error) {
	u := fmt.Sprintf("%s/projects/%s/repository/files/%s?ref=%s",
		g.base, projectID(owner, repo), url.PathEscape(path), url.QueryEscape(branch))
	resp, err := g.http.do(ctx, request{method: http.MethodGet, url: u, header: g.header(token)})
	if err != nil {
		return nil, err
	}
	if err := g.check(resp, path); err != nil {
		return nil, err
	}

	var payload struct {
		Content string `json:"content"`
		BlobID  string `json:"blob_id"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode file %s: %w", path, err)
	}
	content, err := decodeBase64(payload.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode content of %s: %w", path, err)
	}
	return &FileContent{Content: content, SHA: payload.BlobID}, nil
}

func (g *gitlabAdapter) WriteFile(ctx context.Context, owner, repo, branch, path, content, message, expectedSHA, token string) (*WriteResult, error) {
	body := map[string]string{
		"branch":         branch,
		"content":        encodeBase64(content),
		"encoding":       "base64",
		"commit_message": message,
	}
	method := http.MethodPost // create
	if expectedSHA != "" {
		method = http.MethodPut // update with optimistic lock
		body["last_commit_id"] = expectedSHA
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode write request: %w", err)
	}

	u := fmt.Sprintf("%s/projects/%s/repository/files/%s",
		g.base, projectID(owner, repo), url.PathEscape(path))
	resp, err := g.http.do(ctx, request{method: method, url: u, header: g.header(token), body: data})
	if err != nil {
		return nil, err
	}
	if g.isWriteConflict(resp) {
		return nil, &ConflictError{Path: path, Message: providerMessage(resp.body)}
	}
	if err := g.check(resp, path); err != nil {
		return nil, err
	}

	// The commit response carries no blob SHA; fetch the file metadata
	// to learn the content hash of the version just written.
	sha, err := g.blobID(ctx, owner, repo, branch, path, token)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blob id after write: %w", err)
	}
	return &WriteResult{SHA: sha}, nil
}

func (g *gitlabAdapter) DeleteFile(ctx context.Context, owner, repo, branch, path, message, expectedSHA, token string) error {
	body := map[string]string{
		"branch":         branch,
		"commit_message": message,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode delete request: %w", err)
	}

	u := fmt.Sprintf("%s/projects/%s/repository/files/%s",
		g.base, projectID(owner, repo), url.PathEscape(path))
	resp, err := g.http.do(ctx, request{method: http.MethodDelete, url: u, header: g.header(token), body: data})
	if err != nil {
		return err
	}
	if resp.status == http.StatusConflict {
		return &ConflictError{Path: path, Message: providerMessage(resp.body)}
	}
	return g.check(resp, path)
}

func (g *gitlabAdapter) LatestCommit(ctx context.Context, owner, repo, branch, token string) (string, error) {
	u := fmt.Sprintf("%s/projects/%s/repository/commits/%s",
		g.base, projectID(owner, repo), url.PathEscape(branch))
	resp, err := g.http.do(ctx, request{method: http.MethodGet, url: u, header: g.header(token)})
	if err != nil {
		return "", err
	}
	if err := g.check(resp, branch); err != nil {
		return "", err
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return "", fmt.Errorf("failed to decode commit response: %w", err)
	}
	return payload.ID, nil
}

// blobID fetches the content hash of a file via its metadata headers.
func (g *gitlabAdapter) blobID(ctx context.Context, owner, repo, branch, path, token string) (string, error) {
	u := fmt.Sprintf("%s/projects/%s/repository/files/%s?ref=%s",
		g.base, projectID(owner, repo), url.PathEscape(path), url.QueryEscape(branch))
	resp, err := g.http.do(ctx, request{method: http.MethodHead, url: u, header: g.header(token)})
	if err != nil {
		return "", err
	}
	if err := g.check(resp, path); err != nil {
		return "", err
	}
	id := resp.header.Get("X-Gitlab-Blob-Id")
	if id == "" {
		return "", &ProviderError{StatusCode: resp.status, Message: "missing X-Gitlab-Blob-Id header"}
	}
	return id, nil
}

// isWriteConflict recognizes both GitLab shapes of optimistic-lock
// failure: a plain 409, and the 400 carrying the last_commit_id
// mismatch message.
func (g *gitlabAdapter) isWriteConflict(resp *response) bool {
	if resp.status == http.StatusConflict {
		return true
	}
	if resp.status == http.StatusBadRequest {
		return strings.Contains(providerMessage(resp.body), "does not match")
	}
	return false
}

func (g *gitlabAdapter) check(resp *response, path string) error {
	switch {
	case resp.status >= 200 && resp.status < 300:
		return nil
	case resp.status == http.StatusNotFound:
		return &NotFoundError{Path: path, Message: providerMessage(resp.body)}
	default:
		return &ProviderError{StatusCode: resp.status, Message: providerMessage(resp.body)}
	}
}
