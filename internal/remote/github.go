package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const githubAPIBase = "https://api.github.com"

// githubScopesHeader reports the token's granted OAuth scopes on every
// GitHub API response.
const githubScopesHeader = "X-OAuth-Scopes"

func init() {
	Register(ProviderGitHub, newGitHub)
}

// githubAdapter implements Adapter against the GitHub contents API.
type githubAdapter struct {
	base string
	http *httpClient
}

func newGitHub(opts Options) Adapter {
	base := opts.BaseURL
	if base == "" {
		base = githubAPIBase
	}
	// GitHub overloads 403 for quota exhaustion.
	return &githubAdapter{
		base: strings.TrimRight(base, "/"),
		http: newHTTPClient(opts, true, githubScopesHeader),
	}
}

func (g *githubAdapter) header(token string) http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+token)
	h.Set("Accept", "application/vnd.github+json")
	return h
}

func (g *githubAdapter) GetRepoInfo(ctx context.Context, owner, repo, token string) (*RepoInfo, error) {
	u := fmt.Sprintf("%s/repos/%s/%s", g.base, owner, repo)
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
		return nil, fmt.Errorf("failed to decode repository info: %w", err)
	}
	return &RepoInfo{DefaultBranch: payload.DefaultBranch}, nil
}

func (g *githubAdapter) ListDirectory(ctx context.Context, owner, repo, branch, path, token string) ([]RemoteFile, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s",
		g.base, owner, repo, escapePath(path), url.QueryEscape(branch))
	resp, err := g.http.do(ctx, request{method: http.MethodGet, url: u, header: g.header(token)})
	if err != nil {
		return nil, err
	}
	if err := g.check(resp, path); err != nil {
		return nil, err
	}

	var entries []struct {
		Name string `json:"name"`
		Path string `json:"path"`
		SHA  string `json:"sha"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(resp.body, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode directory listing: %w", err)
	}

	files := make([]RemoteFile, 0, len(entries))
	for _, e := range entries {
		typ := EntryDir
		if e.Type == "file" {
			typ = EntryFile
		}
		files = append(files, RemoteFile{Name: e.Name, Path: e.Path, SHA: e.SHA, Type: typ})
	}
	return files, nil
}

func (g *githubAdapter) ReadFile(ctx context.Context, owner, repo, branch, path, token string) (*FileContent, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s",
		g.base, owner, repo, escapePath(path), url.QueryEscape(branch))
	resp, err := g.http.do(ctx, request{method: http.MethodGet, url: u, header: g.header(token)})
	if err != nil {
		return nil, err
	}
	if err := g.check(resp, path); err != nil {
		return nil, err
	}

	var payload struct {
		Content string `json:"content"`
		SHA     string `json:"sha"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode file %s: %w", path, err)
	}
	content, err := decodeBase64(payload.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode content of %s: %w", path, err)
	}
	return &FileContent{Content: content, SHA: payload.SHA}, nil
}

func (g *githubAdapter) WriteFile(ctx context.Context, owner, repo, branch, path, content, message, expectedSHA, token string) (*WriteResult, error) {
	body := map[string]string{
		"message": message,
		"content": encodeBase64(content),
		"branch":  branch,
	}
	if expectedSHA != "" {
		body["sha"] = expectedSHA
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode write request: %w", err)
	}

	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s", g.base, owner, repo, escapePath(path))
	resp, err := g.http.do(ctx, request{method: http.MethodPut, url: u, header: g.header(token), body: data})
	if err != nil {
		return nil, err
	}
	// 409 is the documented optimistic-lock failure; 422 is what GitHub
	// returns for a create against an existing path.
	if resp.status == http.StatusConflict || resp.status == http.StatusUnprocessableEntity {
		return nil, &ConflictError{Path: path, Message: providerMessage(resp.body)}
	}
	if err := g.check(resp, path); err != nil {
		return nil, err
	}

	var payload struct {
		Content struct {
			SHA string `json:"sha"`
		} `json:"content"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode write response for %s: %w", path, err)
	}
	return &WriteResult{SHA: payload.Content.SHA}, nil
}

func (g *githubAdapter) DeleteFile(ctx context.Context, owner, repo, branch, path, message, expectedSHA, token string) error {
	body := map[string]string{
		"message": message,
		"sha":     expectedSHA,
		"branch":  branch,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode delete request: %w", err)
	}

	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s", g.base, owner, repo, escapePath(path))
	resp, err := g.http.do(ctx, request{method: http.MethodDelete, url: u, header: g.header(token), body: data})
	if err != nil {
		return err
	}
	if resp.status == http.StatusConflict {
		return &ConflictError{Path: path, Message: providerMessage(resp.body)}
	}
	return g.check(resp, path)
}

func (g *githubAdapter) LatestCommit(ctx context.Context, owner, repo, branch, token string) (string, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/commits/%s", g.base, owner, repo, url.PathEscape(branch))
	resp, err := g.http.do(ctx, request{method: http.MethodGet, url: u, header: g.header(token)})
	if err != nil {
		return "", err
	}
	if err := g.check(resp, branch); err != nil {
		return "", err
	}

	var payload struct {
		SHA string `json:"sha"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return "", fmt.Errorf("failed to decode commit response: %w", err)
	}
	return payload.SHA, nil
}

// check maps non-success statuses to the shared error taxonomy.
// Rate limits never reach here; the HTTP client retries them.
func (g *githubAdapter) check(resp *response, path string) error {
	switch {
	case resp.status >= 200 && resp.status < 300:
		return nil
	case resp.status == http.StatusNotFound:
		return &NotFoundError{Path: path, Message: providerMessage(resp.body)}
	default:
		return &ProviderError{StatusCode: resp.status, Message: providerMessage(resp.body)}
	}
}

// escapePath escapes each path segment while keeping the separators.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// File content crosses the wire base64-encoded over UTF-8, so
// non-Latin1 text survives the round trip.
func encodeBase64(content string) string {
	return base64.StdEncoding.EncodeToString([]byte(content))
}

func decodeBase64(wire string) (string, error) {
	// Providers wrap encoded content with newlines.
	cleaned := strings.ReplaceAll(strings.ReplaceAll(wire, "\n", ""), "\r", "")
	raw, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
