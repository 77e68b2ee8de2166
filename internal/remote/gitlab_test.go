package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestGitLab(t *testing.T, handler http.Handler) (*gitlabAdapter, func()) {
	t.Helper()

	srv := httptest.NewServer(handler)
	adapter := newGitLab(Options{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	}).(*gitlabAdapter)
	adapter.http.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return adapter, srv.Close
}

func TestGitLabListDirectoryNormalizesEntries(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok := r.Header.Get("PRIVATE-TOKEN"); tok != "glpat-x" {
			t.Errorf("unexpected token header %q", tok)
		}
		if !strings.Contains(r.URL.Path, "/projects/group%2Fproj/repository/tree") &&
			!strings.Contains(r.URL.RawPath, "group%2Fproj") {
			t.Errorf("project id not URL-encoded: %s", r.URL.String())
		}
		json.NewEncoder(w).Encode([]map[string]string{
			{"id": "blob1", "name": "a.mmd", "path": "diagrams/a.mmd", "type": "blob"},
			{"id": "tree1", "name": "sub", "path": "diagrams/sub", "type": "tree"},
		})
	})

	adapter, closeSrv := newTestGitLab(t, handler)
	defer closeSrv()

	files, err := adapter.ListDirectory(context.Background(), "group", "proj", "main", "diagrams", "glpat-x")
	if err != nil {
		t.Fatalf("ListDirectory failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(files))
	}
	if files[0].Type != EntryFile || files[0].SHA != "blob1" {
		t.Errorf("blob entry not normalized: %+v", files[0])
	}
	if files[1].Type != EntryDir {
		t.Errorf("tree entry not normalized: %+v", files[1])
	}
}

func TestGitLabEmptyTreeIsNotFound(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{})
	})

	adapter, closeSrv := newTestGitLab(t, handler)
	defer closeSrv()

	_, err := adapter.ListDirectory(context.Background(), "group", "proj", "main", "diagrams", "tok")
	if !IsNotFound(err) {
		t.Fatalf("expected NotFoundError for empty tree, got %v", err)
	}
}

func TestGitLabWriteFileCreateVersusUpdate(t *testing.T) {
	var methods []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("X-Gitlab-Blob-Id", "blob-after")
			return
		}
		methods = append(methods, r.Method)

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		if body["encoding"] != "base64" {
			t.Errorf("expected base64 encoding, got %q", body["encoding"])
		}
		if r.Method == http.MethodPut && body["last_commit_id"] != "prevsha" {
			t.Errorf("update must carry last_commit_id, got %q", body["last_commit_id"])
		}
		if r.Method == http.MethodPost {
			if _, ok := body["last_commit_id"]; ok {
				t.Error("create must not carry last_commit_id")
			}
		}
		json.NewEncoder(w).Encode(map[string]string{"file_path": body["file_path"], "branch": "main"})
	})

	adapter, closeSrv := newTestGitLab(t, handler)
	defer closeSrv()

	ctx := context.Background()
	res, err := adapter.WriteFile(ctx, "group", "proj", "main", "diagrams/a.mmd", "graph TD", "create", "", "tok")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if res.SHA != "blob-after" {
		t.Errorf("expected blob id from metadata, got %q", res.SHA)
	}

	if _, err := adapter.WriteFile(ctx, "group", "proj", "main", "diagrams/a.mmd", "graph TD", "update", "prevsha", "tok"); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if len(methods) != 2 || methods[0] != http.MethodPost || methods[1] != http.MethodPut {
		t.Errorf("expected POST then PUT, got %v", methods)
	}
}

func TestGitLabWriteConflictShapes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   map[string]string
	}{
		{"plain 409", http.StatusConflict, map[string]string{"message": "conflict"}},
		{"400 lock mismatch", http.StatusBadRequest,
			map[string]string{"message": "You are attempting to update a file that has changed since you started editing it: last_commit_id does not match"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(tt.body)
			})

			adapter, closeSrv := newTestGitLab(t, handler)
			defer closeSrv()

			_, err := adapter.WriteFile(context.Background(),
				"group", "proj", "main", "diagrams/a.mmd", "x", "update", "prevsha", "tok")
			if !IsConflict(err) {
				t.Fatalf("expected ConflictError, got %v", err)
			}
		})
	}
}

func TestGitLabReadFileUsesBlobID(t *testing.T) {
	content := "flowchart LR\n  α --> β"
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"content": base64.StdEncoding.EncodeToString([]byte(content)),
			"blob_id": "deadbeef",
		})
	})

	adapter, closeSrv := newTestGitLab(t, handler)
	defer closeSrv()

	fc, err := adapter.ReadFile(context.Background(), "group", "proj", "main", "diagrams/f.mmd", "tok")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if fc.Content != content {
		t.Errorf("content mismatch: %q", fc.Content)
	}
	if fc.SHA != "deadbeef" {
		t.Errorf("expected blob_id as content hash, got %q", fc.SHA)
	}
}

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in      string
		want    Provider
		wantErr bool
	}{
		{"github", ProviderGitHub, false},
		{"gitlab", ProviderGitLab, false},
		{"bitbucket", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseProvider(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseProvider(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseProvider(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseProvider(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRegistryHasBothProviders(t *testing.T) {
	for _, p := range []Provider{ProviderGitHub, ProviderGitLab} {
		if !IsRegistered(p) {
			t.Errorf("provider %s not registered", p)
		}
		adapter, err := New(p, Options{})
		if err != nil {
			t.Errorf("New(%s) failed: %v", p, err)
		}
		if adapter == nil {
			t.Errorf("New(%s) returned nil adapter", p)
		}
	}
	if _, err := New(Provider("bitbucket"), Options{}); err == nil {
		t.Error("expected error for unregistered provider")
	}
}
