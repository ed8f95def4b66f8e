package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/gray247/gitbridge/internal/config"
	"github.com/gray247/gitbridge/internal/fileops"
	"github.com/gray247/gitbridge/internal/gitsync"
	"github.com/gray247/gitbridge/internal/logging"
	"github.com/gray247/gitbridge/internal/retry"
	pkgsync "github.com/gray247/gitbridge/pkg/sync"
)

type fakePublisher struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, message string) (pkgsync.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return 0, f.err
	}
	return pkgsync.Published, nil
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHealth struct {
	health gitsync.Health
	err    error
}

func (f *fakeHealth) Health(ctx context.Context) (gitsync.Health, error) {
	return f.health, f.err
}

func testPolicy() retry.Policy {
	return retry.Policy{
		Attempts:    3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  time.Millisecond,
		Sleep:       func(ctx context.Context, d time.Duration) error { return nil },
	}
}

func initTestServer(t *testing.T, publisher pkgsync.Publisher, safeMode bool) (*httptest.Server, string) {
	t.Helper()

	root := t.TempDir()
	store, err := fileops.NewStore(root, safeMode, nil, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Root{
		Profiles: map[string]*config.Profile{
			"prod":    {Name: "prod", Repo: "example/prod", LocalFolder: root},
			"staging": {Name: "staging", Repo: "example/staging", LocalFolder: root},
		},
		Active: "prod",
	}
	profile := cfg.Profiles["prod"]

	s := New(cfg, profile, store, publisher, logging.Discard()).WithRetryPolicy(testPolicy())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, root
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, ts.URL+path, bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, decoded
}

func TestServerFileLifecycle(t *testing.T) {
	publisher := &fakePublisher{}
	ts, _ := initTestServer(t, publisher, false)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		statusCode int
		result     map[string]any
	}{
		{
			name:       "upload",
			method:     "POST",
			path:       "/upload",
			body:       `{"path": "docs/a.txt", "content": "hello"}`,
			statusCode: 200,
			result:     map[string]any{"status": "ok", "path": "docs/a.txt", "sync": "published"},
		},
		{
			name:       "verify after upload",
			method:     "POST",
			path:       "/verify_upload",
			body:       `{"path": "docs/a.txt"}`,
			statusCode: 200,
			result:     nil, // modified timestamp varies
		},
		{
			name:       "move",
			method:     "POST",
			path:       "/move",
			body:       `{"src": "docs/a.txt", "dst": "docs/b.txt"}`,
			statusCode: 200,
			result:     map[string]any{"status": "ok", "from": "docs/a.txt", "to": "docs/b.txt", "sync": "published"},
		},
		{
			name:       "tree after move",
			method:     "GET",
			path:       "/tree",
			body:       "",
			statusCode: 200,
			result:     map[string]any{"files": []any{"docs/b.txt"}, "count": float64(1)},
		},
		{
			name:       "delete",
			method:     "POST",
			path:       "/delete",
			body:       `{"path": "docs/b.txt"}`,
			statusCode: 200,
			result:     map[string]any{"status": "ok", "path": "docs/b.txt", "sync": "published"},
		},
		{
			name:       "verify after delete",
			method:     "POST",
			path:       "/verify_upload",
			body:       `{"path": "docs/b.txt"}`,
			statusCode: 200,
			result:     map[string]any{"path": "docs/b.txt", "exists": false},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, result := doJSON(t, ts, tc.method, tc.path, tc.body)
			if code != tc.statusCode {
				t.Fatalf("status = %d, want %d (%v)", code, tc.statusCode, result)
			}
			if tc.result != nil {
				if diff := cmp.Diff(tc.result, result); diff != "" {
					t.Fatalf("unexpected response (-want +got):\n%s", diff)
				}
			}
		})
	}

	code, result := doJSON(t, ts, "POST", "/verify_upload", `{"path": "nope.txt"}`)
	if code != 200 || result["exists"] != false {
		t.Fatalf("verify of missing file: %d %v", code, result)
	}
}

func TestServerRejectsEscapingPaths(t *testing.T) {
	ts, _ := initTestServer(t, &fakePublisher{}, false)

	for _, body := range []string{
		`{"path": "../evil.txt", "content": "x"}`,
		`{"path": "/etc/passwd", "content": "x"}`,
		`{"path": "a|b.txt", "content": "x"}`,
	} {
		code, result := doJSON(t, ts, "POST", "/upload", body)
		if code != http.StatusBadRequest {
			t.Fatalf("upload %s: status = %d, want 400", body, code)
		}
		if result["code"] != "invalid_path" {
			t.Fatalf("upload %s: code = %v, want invalid_path", body, result["code"])
		}
	}
}

func TestServerDeleteSafeMode(t *testing.T) {
	ts, root := initTestServer(t, &fakePublisher{}, true)

	store, err := fileops.NewStore(root, true, nil, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Write(root+"/keep.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}

	code, result := doJSON(t, ts, "POST", "/delete", `{"path": "keep.txt"}`)
	if code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 (%v)", code, result)
	}
	if result["code"] != "delete_disabled" {
		t.Fatalf("code = %v, want delete_disabled", result["code"])
	}
}

func TestServerNotFound(t *testing.T) {
	ts, _ := initTestServer(t, &fakePublisher{}, false)

	code, result := doJSON(t, ts, "POST", "/move", `{"src": "missing.txt", "dst": "x.txt"}`)
	if code != http.StatusNotFound || result["code"] != "not_found" {
		t.Fatalf("move of missing file: %d %v", code, result)
	}

	code, result = doJSON(t, ts, "POST", "/delete", `{"path": "missing.txt"}`)
	if code != http.StatusNotFound || result["code"] != "not_found" {
		t.Fatalf("delete of missing file: %d %v", code, result)
	}
}

func TestServerMalformedBody(t *testing.T) {
	ts, _ := initTestServer(t, &fakePublisher{}, false)

	code, result := doJSON(t, ts, "POST", "/upload", `{"path": `)
	if code != http.StatusBadRequest || result["code"] != "bad_request" {
		t.Fatalf("malformed body: %d %v", code, result)
	}

	code, result = doJSON(t, ts, "POST", "/upload", `{"content": "x"}`)
	if code != http.StatusBadRequest || result["code"] != "bad_request" {
		t.Fatalf("missing path: %d %v", code, result)
	}

	// A missing content key is rejected; an explicit empty string is a
	// valid (empty) file.
	code, result = doJSON(t, ts, "POST", "/upload", `{"path": "a.txt"}`)
	if code != http.StatusBadRequest || result["code"] != "bad_request" {
		t.Fatalf("missing content: %d %v", code, result)
	}
	code, result = doJSON(t, ts, "POST", "/upload", `{"path": "a.txt", "content": ""}`)
	if code != http.StatusOK {
		t.Fatalf("empty content: %d %v", code, result)
	}
}

func TestServerPublishRetries(t *testing.T) {
	publisher := &fakePublisher{failures: 2, err: gitsync.ErrPublish}
	ts, _ := initTestServer(t, publisher, false)

	code, result := doJSON(t, ts, "POST", "/upload", `{"path": "a.txt", "content": "x"}`)
	if code != 200 {
		t.Fatalf("status = %d, want 200 (%v)", code, result)
	}
	if got := publisher.callCount(); got != 3 {
		t.Fatalf("publish calls = %d, want 3", got)
	}
}

func TestServerPublishExhaustsRetries(t *testing.T) {
	publisher := &fakePublisher{failures: 10, err: gitsync.ErrPublish}
	ts, _ := initTestServer(t, publisher, false)

	code, result := doJSON(t, ts, "POST", "/upload", `{"path": "a.txt", "content": "x"}`)
	if code != http.StatusInternalServerError || result["code"] != "internal_error" {
		t.Fatalf("exhausted retries: %d %v", code, result)
	}
	if got := publisher.callCount(); got != 3 {
		t.Fatalf("publish calls = %d, want 3", got)
	}
}

func TestServerPublishNonRetryableError(t *testing.T) {
	publisher := &fakePublisher{failures: 10, err: errors.New("corrupt repository")}
	ts, _ := initTestServer(t, publisher, false)

	code, _ := doJSON(t, ts, "POST", "/upload", `{"path": "a.txt", "content": "x"}`)
	if code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", code)
	}
	if got := publisher.callCount(); got != 1 {
		t.Fatalf("publish calls = %d, want 1", got)
	}
}

func TestServerHealth(t *testing.T) {
	ts, _ := initTestServer(t, &fakePublisher{}, false)

	// Without a reporter the endpoint stays up.
	code, result := doJSON(t, ts, "GET", "/health", "")
	if code != 200 || result["status"] != "ok" {
		t.Fatalf("health without reporter: %d %v", code, result)
	}
}

func TestServerHealthReporter(t *testing.T) {
	tests := []struct {
		name       string
		reporter   *fakeHealth
		statusCode int
		status     string
	}{
		{
			name:       "healthy",
			reporter:   &fakeHealth{health: gitsync.Health{GitStatus: "clean", Remote: "connected"}},
			statusCode: 200,
			status:     "ok",
		},
		{
			name:       "dirty working copy",
			reporter:   &fakeHealth{health: gitsync.Health{GitStatus: "dirty", Remote: "connected"}},
			statusCode: 200,
			status:     "degraded",
		},
		{
			name:       "remote timeout",
			reporter:   &fakeHealth{health: gitsync.Health{GitStatus: "clean", Remote: "timeout"}},
			statusCode: 500,
			status:     "degraded",
		},
		{
			name:       "remote disconnected",
			reporter:   &fakeHealth{health: gitsync.Health{GitStatus: "clean", Remote: "disconnected"}},
			statusCode: 500,
			status:     "degraded",
		},
		{
			name:       "probe failure",
			reporter:   &fakeHealth{err: errors.New("no working copy")},
			statusCode: 500,
			status:     "error",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			store, err := fileops.NewStore(root, false, nil, logging.Discard())
			if err != nil {
				t.Fatal(err)
			}
			cfg := &config.Root{Profiles: map[string]*config.Profile{"prod": {Name: "prod"}}, Active: "prod"}
			s := New(cfg, cfg.Profiles["prod"], store, &fakePublisher{}, logging.Discard()).WithHealthReporter(tc.reporter)
			ts := httptest.NewServer(s.Handler())
			defer ts.Close()

			code, result := doJSON(t, ts, "GET", "/health", "")
			if code != tc.statusCode || result["status"] != tc.status {
				t.Fatalf("health: %d %v, want %d %s", code, result, tc.statusCode, tc.status)
			}
		})
	}
}

func TestServerProfiles(t *testing.T) {
	ts, _ := initTestServer(t, &fakePublisher{}, false)

	code, result := doJSON(t, ts, "GET", "/profiles", "")
	if code != 200 {
		t.Fatalf("status = %d", code)
	}
	want := map[string]any{"profiles": []any{"prod", "staging"}, "active": "prod"}
	if diff := cmp.Diff(want, result); diff != "" {
		t.Fatalf("unexpected profiles (-want +got):\n%s", diff)
	}

	code, result = doJSON(t, ts, "POST", "/profiles/activate", `{"name": "nope"}`)
	if code != http.StatusNotFound || result["code"] != "not_found" {
		t.Fatalf("activate unknown: %d %v", code, result)
	}

	code, result = doJSON(t, ts, "POST", "/profiles/activate", `{"name": "staging"}`)
	if code != 200 || result["status"] != "restart required" {
		t.Fatalf("activate: %d %v", code, result)
	}

	_, result = doJSON(t, ts, "GET", "/profiles", "")
	if result["active"] != "staging" {
		t.Fatalf("active after activate = %v", result["active"])
	}
}

func TestServerProfilesConcurrentActivation(t *testing.T) {
	ts, _ := initTestServer(t, &fakePublisher{}, false)

	post := func(name string) error {
		resp, err := ts.Client().Post(ts.URL+"/profiles/activate", "application/json", bytes.NewBufferString(`{"name": "`+name+`"}`))
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}
	get := func() error {
		resp, err := ts.Client().Get(ts.URL + "/profiles")
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, name := range []string{"prod", "staging"} {
				if err := post(name); err != nil {
					errs[i] = err
					return
				}
				if err := get(); err != nil {
					errs[i] = err
					return
				}
			}
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	_, result := doJSON(t, ts, "GET", "/profiles", "")
	active, ok := result["active"].(string)
	if !ok || (active != "prod" && active != "staging") {
		t.Fatalf("active after concurrent activation = %v", result["active"])
	}
}

func TestServerIndex(t *testing.T) {
	ts, _ := initTestServer(t, &fakePublisher{}, false)

	code, result := doJSON(t, ts, "GET", "/", "")
	if code != 200 {
		t.Fatalf("status = %d", code)
	}
	if result["service"] != "gitbridge" || result["profile"] != "prod" {
		t.Fatalf("unexpected index payload: %v", result)
	}
}
