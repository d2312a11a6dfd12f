package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	gistgateway "github.com/nimbus-labs/gist-gateway"
	"github.com/nimbus-labs/gist-gateway/internal/cache"
	"github.com/nimbus-labs/gist-gateway/internal/ratelimit"
	"github.com/nimbus-labs/gist-gateway/upstream"
)

// stubFetcher is a scriptable upstream.Fetcher that records the last window
// it was asked for.
type stubFetcher struct {
	mu          sync.Mutex
	calls       int
	lastPage    int
	lastPerPage int
	listing     *upstream.Listing
	err         error
}

func (s *stubFetcher) UserGists(_ context.Context, _ string, page, perPage int) (*upstream.Listing, error) {
	s.mu.Lock()
	s.calls++
	s.lastPage = page
	s.lastPerPage = perPage
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	return s.listing, nil
}

func (s *stubFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubFetcher) lastWindow() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPage, s.lastPerPage
}

func stubListing(n int) *upstream.Listing {
	gists := make([]upstream.Gist, n)
	for i := range gists {
		gists[i] = upstream.Gist{
			ID:      fmt.Sprintf("gist%d", i),
			HTMLURL: fmt.Sprintf("https://gist.github.com/gist%d", i),
			Files:   map[string]upstream.GistFile{"notes.md": {Filename: "notes.md"}},
			Public:  true,
		}
	}
	return &upstream.Listing{Gists: gists}
}

func testRouter(fetcher upstream.Fetcher) http.Handler {
	gw := gistgateway.New(gistgateway.DefaultConfig(), fetcher)
	return newRouter(gw, nil, nil)
}

func doRequest(r http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListGists_MissThenHit(t *testing.T) {
	stub := &stubFetcher{listing: stubListing(2)}
	r := testRouter(stub)

	w := doRequest(r, "GET", "/octocat")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Cache-Status"); got != "MISS" {
		t.Errorf("X-Cache-Status = %q, want MISS", got)
	}

	var resp gistgateway.ListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Username != "octocat" {
		t.Errorf("username = %q, want octocat", resp.Username)
	}
	if resp.GistCount != 2 || len(resp.Gists) != 2 {
		t.Errorf("gist_count = %d (len %d), want 2", resp.GistCount, len(resp.Gists))
	}
	if resp.Page != 1 || resp.PerPage != 30 {
		t.Errorf("window = (%d, %d), want (1, 30)", resp.Page, resp.PerPage)
	}
	if resp.Cache.Hit {
		t.Error("cache.hit = true on first request, want false")
	}
	if resp.Cache.TTLSeconds != gistgateway.DefaultTTLSeconds {
		t.Errorf("cache.ttl_seconds = %d, want %d", resp.Cache.TTLSeconds, gistgateway.DefaultTTLSeconds)
	}

	w = doRequest(r, "GET", "/octocat")
	if got := w.Header().Get("X-Cache-Status"); got != "HIT" {
		t.Errorf("X-Cache-Status = %q, want HIT", got)
	}
	resp = gistgateway.ListResponse{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Cache.Hit {
		t.Error("cache.hit = false on second request, want true")
	}
	if stub.callCount() != 1 {
		t.Errorf("upstream calls = %d, want 1", stub.callCount())
	}
}

func TestListGists_PaginationParams(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		wantPage    int
		wantPerPage int
	}{
		{"explicit window", "/octocat?page=2&per_page=10", 2, 10},
		{"bad page defaults both", "/octocat?page=abc&per_page=10", 1, 30},
		{"bad per_page defaults both", "/octocat?page=2&per_page=xyz", 1, 30},
		{"clamped high", "/octocat?page=500&per_page=500", 100, 100},
		{"clamped low", "/octocat?page=0&per_page=-5", 1, 1},
		{"no params", "/octocat", 1, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubFetcher{listing: stubListing(0)}
			r := testRouter(stub)

			w := doRequest(r, "GET", tt.target)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			page, perPage := stub.lastWindow()
			if page != tt.wantPage || perPage != tt.wantPerPage {
				t.Errorf("fetched window = (%d, %d), want (%d, %d)", page, perPage, tt.wantPage, tt.wantPerPage)
			}

			var resp gistgateway.ListResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Page != tt.wantPage || resp.PerPage != tt.wantPerPage {
				t.Errorf("echoed window = (%d, %d), want (%d, %d)", resp.Page, resp.PerPage, tt.wantPage, tt.wantPerPage)
			}
		})
	}
}

func TestListGists_HasNext(t *testing.T) {
	stub := &stubFetcher{listing: stubListing(2)}
	r := testRouter(stub)

	w := doRequest(r, "GET", "/octocat?page=3&per_page=2")
	var resp gistgateway.ListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Pagination.HasNext {
		t.Error("has_next = false for a full page, want true")
	}
	if resp.Pagination.NextPage == nil || *resp.Pagination.NextPage != 4 {
		t.Errorf("next_page = %v, want 4", resp.Pagination.NextPage)
	}
	if resp.Pagination.PrevPage == nil || *resp.Pagination.PrevPage != 2 {
		t.Errorf("prev_page = %v, want 2", resp.Pagination.PrevPage)
	}
}

func TestListGists_NoCacheBypass(t *testing.T) {
	stub := &stubFetcher{listing: stubListing(1)}
	r := testRouter(stub)

	doRequest(r, "GET", "/octocat")

	// Case-insensitive bypass refetches but still refreshes the cache.
	w := doRequest(r, "GET", "/octocat?no_cache=TRUE")
	if got := w.Header().Get("X-Cache-Status"); got != "MISS" {
		t.Errorf("X-Cache-Status = %q on bypass, want MISS", got)
	}
	if stub.callCount() != 2 {
		t.Fatalf("upstream calls = %d, want 2", stub.callCount())
	}

	w = doRequest(r, "GET", "/octocat")
	if got := w.Header().Get("X-Cache-Status"); got != "HIT" {
		t.Errorf("X-Cache-Status = %q after bypass, want HIT", got)
	}
	if stub.callCount() != 2 {
		t.Errorf("upstream calls = %d, want 2", stub.callCount())
	}
}

func TestListGists_NotFound(t *testing.T) {
	stub := &stubFetcher{err: &upstream.NotFoundError{Username: "ghost"}}
	r := testRouter(stub)

	w := doRequest(r, "GET", "/ghost")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] != `User "ghost" not found` {
		t.Errorf("error = %q, want %q", body["error"], `User "ghost" not found`)
	}
}

func TestListGists_UpstreamError(t *testing.T) {
	stub := &stubFetcher{err: &upstream.APIError{StatusCode: 403, Message: "API rate limit exceeded"}}
	r := testRouter(stub)

	w := doRequest(r, "GET", "/octocat")
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] != "GitHub API error: 403" {
		t.Errorf("error = %q, want %q", body["error"], "GitHub API error: 403")
	}
}

func TestListGists_ServerError(t *testing.T) {
	stub := &stubFetcher{err: fmt.Errorf("connection reset")}
	r := testRouter(stub)

	w := doRequest(r, "GET", "/octocat")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] != "Server error: connection reset" {
		t.Errorf("error = %q, want %q", body["error"], "Server error: connection reset")
	}
}

func TestCacheStatsEndpoint(t *testing.T) {
	stub := &stubFetcher{listing: stubListing(1)}
	r := testRouter(stub)

	w := doRequest(r, "GET", "/cache")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var stats cache.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	want := cache.Stats{TTLSeconds: gistgateway.DefaultTTLSeconds}
	if stats != want {
		t.Errorf("empty stats = %+v, want %+v", stats, want)
	}
	// The stats route itself must not be treated as a username.
	if stub.callCount() != 0 {
		t.Errorf("upstream calls = %d, want 0", stub.callCount())
	}

	doRequest(r, "GET", "/octocat")
	w = doRequest(r, "GET", "/cache")
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalEntries != 1 || stats.ValidEntries != 1 || stats.ExpiredEntries != 0 {
		t.Errorf("stats after one listing = %+v, want 1 total, 1 valid", stats)
	}
}

func TestCacheClearEndpoint(t *testing.T) {
	stub := &stubFetcher{listing: stubListing(1)}
	r := testRouter(stub)

	doRequest(r, "GET", "/octocat")
	doRequest(r, "GET", "/hubot")

	w := doRequest(r, "GET", "/cache/clear")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode clear response: %v", err)
	}
	if body["message"] != "Cache cleared successfully" {
		t.Errorf("message = %v", body["message"])
	}
	if body["entries_removed"] != float64(2) {
		t.Errorf("entries_removed = %v, want 2", body["entries_removed"])
	}

	var stats cache.Stats
	w = doRequest(r, "GET", "/cache")
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalEntries != 0 {
		t.Errorf("total_entries after clear = %d, want 0", stats.TotalEntries)
	}
}

func TestCacheRemoveEndpoint(t *testing.T) {
	stub := &stubFetcher{listing: stubListing(1)}
	r := testRouter(stub)

	doRequest(r, "GET", "/octocat")

	w := doRequest(r, "DELETE", "/cache/octocat:page1:per_page30")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	// Removing an absent key is also fine.
	w = doRequest(r, "DELETE", "/cache/octocat:page1:per_page30")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status on absent key = %d, want 204", w.Code)
	}

	w = doRequest(r, "GET", "/octocat")
	if got := w.Header().Get("X-Cache-Status"); got != "MISS" {
		t.Errorf("X-Cache-Status after eviction = %q, want MISS", got)
	}
	if stub.callCount() != 2 {
		t.Errorf("upstream calls = %d, want 2", stub.callCount())
	}
}

func TestIndexPage(t *testing.T) {
	r := testRouter(&stubFetcher{listing: stubListing(0)})

	for _, target := range []string{"/", "/index.html"} {
		w := doRequest(r, "GET", target)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", target, w.Code)
		}
		if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
			t.Errorf("GET %s Content-Type = %q, want text/html", target, ct)
		}
		body := w.Body.String()
		if !strings.Contains(body, "Gist Gateway") {
			t.Errorf("GET %s help page missing title", target)
		}
		if !strings.Contains(body, "/cache") {
			t.Errorf("GET %s help page missing cache endpoints", target)
		}
		if !strings.Contains(body, "300 seconds") {
			t.Errorf("GET %s help page missing TTL", target)
		}
	}
}

func TestHealthz(t *testing.T) {
	r := testRouter(&stubFetcher{listing: stubListing(0)})

	w := doRequest(r, "GET", "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if _, ok := body["cache_entries"]; !ok {
		t.Error("health response missing cache_entries field")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := testRouter(&stubFetcher{listing: stubListing(0)})

	w := doRequest(r, "GET", "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "gistgw_cache_entries") {
		t.Error("metrics exposition missing gistgw_cache_entries")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gw := gistgateway.New(gistgateway.DefaultConfig(), &stubFetcher{listing: stubListing(0)})
	// A refill rate this slow cannot hand back a token mid-test.
	r := newRouter(gw, ratelimit.NewStore(0.001, 1), nil)

	w := doRequest(r, "GET", "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w.Code)
	}

	w = doRequest(r, "GET", "/healthz")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] != "Rate limit exceeded" {
		t.Errorf("error = %q, want %q", body["error"], "Rate limit exceeded")
	}
}

func TestRequestIDEcho(t *testing.T) {
	r := testRouter(&stubFetcher{listing: stubListing(0)})

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", "trace-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "trace-42" {
		t.Errorf("X-Request-ID = %q, want trace-42", got)
	}

	w = doRequest(r, "GET", "/healthz")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID missing when none was supplied")
	}
}

func TestResponsesAreIndented(t *testing.T) {
	r := testRouter(&stubFetcher{listing: stubListing(0)})

	w := doRequest(r, "GET", "/cache")
	if !strings.HasPrefix(w.Body.String(), "{\n  \"") {
		t.Errorf("body is not two-space indented: %q", w.Body.String()[:min(40, w.Body.Len())])
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
