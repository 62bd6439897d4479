package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"buzzwatch/telemetry"
	"buzzwatch/transcript"
	"buzzwatch/watch"
	"buzzwatch/youtubeapi"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	os.Exit(m.Run())
}

type stubSource struct{}

func (stubSource) VideoCount(context.Context, string) (int64, error) { return 5, nil }
func (stubSource) RecentUploads(context.Context, string, int) ([]watch.Upload, error) {
	return []watch.Upload{{ID: "baseline0001", DurationSeconds: 700}}, nil
}
func (stubSource) VideoDuration(context.Context, string) (int, error) { return 0, nil }

type stubFetcher struct{}

func (stubFetcher) Fetch(context.Context, string) (transcript.Result, error) {
	return transcript.Result{Status: transcript.StatusReady, Text: "text"}, nil
}

func testDeps() Deps {
	mgr := watch.NewManager(watch.Config{PollInterval: 5 * time.Millisecond}, watch.ManagerDeps{
		Source:      stubSource{},
		Transcripts: stubFetcher{},
	})
	return Deps{
		Manager:        mgr,
		Keys:           youtubeapi.NewKeyRotator([]string{"key-a", "key-b"}),
		DefaultChannel: "UCdefault001",
	}
}

func TestHealthzWithoutDB(t *testing.T) {
	mux := NewMux(context.Background(), testDeps())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("missing correlation id header")
	}
}

func TestCorrelationIDReused(t *testing.T) {
	mux := NewMux(context.Background(), testDeps())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Fatalf("correlation id = %q, want corr-123", got)
	}
}

func TestReadyzKeyPool(t *testing.T) {
	deps := testDeps()
	deps.DB = nil
	mux := NewMux(context.Background(), deps)

	// No database: not ready, and the failing check is named.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d, want 503", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["failed_check"] != "database" {
		t.Fatalf("failed_check = %q", body["failed_check"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	deps := testDeps()
	mux := NewMux(context.Background(), deps)
	defer deps.Manager.StopAll()

	if _, err := deps.Manager.Start(context.Background(), "UCabc", nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		DefaultChannel string                `json:"default_channel"`
		Active         int                   `json:"active_sessions"`
		Sessions       []watch.SessionStatus `json:"sessions"`
		APIKeys        map[string]int        `json:"api_keys"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.DefaultChannel != "UCdefault001" || body.Active != 1 || len(body.Sessions) != 1 {
		t.Fatalf("body = %+v", body)
	}
	if body.APIKeys["usable"] != 2 {
		t.Fatalf("api_keys = %v", body.APIKeys)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "sekrit")
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	deps := testDeps()
	mux := NewMux(context.Background(), deps)
	defer deps.Manager.StopAll()

	// Unauthenticated mutation rejected.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(`{}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated POST = %d, want 401", rec.Code)
	}

	// Authenticated start on the default channel.
	req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(`{}`))
	req.Header.Set("X-Admin-Token", "sekrit")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /sessions = %d: %s", rec.Code, rec.Body.String())
	}
	var created map[string]string
	_ = json.NewDecoder(rec.Body).Decode(&created)
	if created["session_id"] == "" || created["channel_id"] != "UCdefault001" {
		t.Fatalf("created = %v", created)
	}

	// Duplicate start conflicts.
	req = httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(`{"channel_id":"UCdefault001"}`))
	req.Header.Set("X-Admin-Token", "sekrit")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate POST = %d, want 409", rec.Code)
	}

	// Listing is public.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /sessions = %d", rec.Code)
	}

	// Stop it.
	req = httptest.NewRequest(http.MethodDelete, "/sessions/"+created["session_id"], nil)
	req.Header.Set("X-Admin-Token", "sekrit")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE = %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/sessions/"+created["session_id"], nil)
	req.Header.Set("X-Admin-Token", "sekrit")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second DELETE = %d, want 404", rec.Code)
	}
}

func TestKeysResetEndpoint(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	deps := testDeps()
	deps.Keys.MarkExhausted("key-a")
	mux := NewMux(context.Background(), deps)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/keys/reset", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("reset = %d", rec.Code)
	}
	var body map[string]int
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body["exhausted"] != 0 {
		t.Fatalf("exhausted = %d after reset", body["exhausted"])
	}
}

func TestVideosWithoutDB(t *testing.T) {
	mux := NewMux(context.Background(), testDeps())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/videos", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("videos without db = %d, want 503", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mux := NewMux(context.Background(), testDeps())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "buzzwatch_") {
		t.Fatal("metrics output missing application series")
	}
}
