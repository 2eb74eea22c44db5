package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deadlinecal/deadlinecal/internal/config"
	"github.com/deadlinecal/deadlinecal/internal/core"
	"github.com/deadlinecal/deadlinecal/internal/core/ratelimit"
	"github.com/deadlinecal/deadlinecal/internal/core/store"
	apperrors "github.com/deadlinecal/deadlinecal/internal/errors"
	"github.com/deadlinecal/deadlinecal/internal/feed"
	"github.com/deadlinecal/deadlinecal/internal/pathguard"
)

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Store:  config.StoreConfig{Driver: "sqlite"},
		RateLimit: config.RateLimitConfig{
			Enabled:       true,
			MaxRequests:   3,
			WindowSeconds: 60,
		},
		Feed: config.FeedConfig{
			Name:      "All Assignment Deadlines",
			GroupName: "%s Assignment Deadlines",
			Timezone:  "Europe/London",
			AllDay:    true,
			UIDDomain: "deadlines-calendar",
		},
		Health: config.HealthConfig{Enabled: true},
	}
}

func openStore(t *testing.T, cfg config.Config) *store.Store {
	t.Helper()
	dir := t.TempDir()
	path, err := pathguard.Validate(filepath.Join(dir, "deadlines.db"), dir)
	require.NoError(t, err)

	ctx := context.Background()
	s, err := store.Open(ctx, cfg.Store, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	_, err = s.Upsert(ctx, []core.Deadline{
		{ID: "X1", Title: "CM1 X1 deadline", Due: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), AllDay: true, Category: "CM1", Active: true},
		{ID: "Y1", Title: "CM2 Y1 deadline", Due: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), AllDay: true, Category: "CM2", Active: true},
	})
	require.NoError(t, err)
	return s
}

func newTestServer(t *testing.T, cfg config.Config, st Store) (*Server, *ratelimit.Limiter, *time.Time) {
	t.Helper()
	limiter, err := ratelimit.New(cfg.RateLimit)
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.Clock = func() time.Time { return now }

	renderer, err := feed.New(cfg.Feed)
	require.NoError(t, err)

	srv, err := New(cfg, Deps{Store: st, Limiter: limiter, Renderer: renderer, Version: "test"})
	require.NoError(t, err)
	return srv, limiter, &now
}

func get(srv *Server, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	cfg := testConfig()
	srv, _, _ := newTestServer(t, cfg, openStore(t, cfg))

	rec := get(srv, "/does-not-exist", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)

	req := httptest.NewRequest(http.MethodPost, "/calendar", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(testConfig(), Deps{})
	require.Error(t, err)
}

func TestCalendarFeedEndToEnd(t *testing.T) {
	cfg := testConfig()
	srv, _, _ := newTestServer(t, cfg, openStore(t, cfg))

	rec := get(srv, "/calendar/cm1.ics", "198.51.100.1:1000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, feed.ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="cm1.ics"`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "UID:X1@deadlines-calendar")
	assert.NotContains(t, rec.Body.String(), "UID:Y1@deadlines-calendar")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCalendarNestedAndTrailingPaths(t *testing.T) {
	cfg := testConfig()
	srv, _, _ := newTestServer(t, cfg, openStore(t, cfg))

	rec := get(srv, "/calendar/", "198.51.100.2:1000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="all.ics"`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "UID:Y1@deadlines-calendar")

	rec = get(srv, "/calendar/2026/cm1.ics", "198.51.100.3:1000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="cm1.ics"`, rec.Header().Get("Content-Disposition"))
	assert.NotContains(t, rec.Body.String(), "UID:Y1@deadlines-calendar")
}

func TestHeadCalendarHasNoBody(t *testing.T) {
	cfg := testConfig()
	srv, _, _ := newTestServer(t, cfg, openStore(t, cfg))

	req := httptest.NewRequest(http.MethodHead, "/calendar/all.ics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, feed.ContentType, rec.Header().Get("Content-Type"))
	assert.Zero(t, rec.Body.Len())
}

func TestRateLimitPerClient(t *testing.T) {
	cfg := testConfig()
	srv, _, now := newTestServer(t, cfg, openStore(t, cfg))
	base := *now

	for i := 0; i < 3; i++ {
		*now = base.Add(time.Duration(i) * time.Second)
		require.Equal(t, http.StatusOK, get(srv, "/calendar", "203.0.113.5:1234").Code)
	}

	*now = base.Add(3 * time.Second)
	rec := get(srv, "/calendar", "203.0.113.5:1234")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "57", rec.Header().Get("Retry-After"))

	// Another client is unaffected.
	assert.Equal(t, http.StatusOK, get(srv, "/calendar", "203.0.113.6:1234").Code)

	// Health and version are never limited.
	assert.Equal(t, http.StatusOK, get(srv, "/health/live", "203.0.113.5:1234").Code)
	assert.Equal(t, http.StatusOK, get(srv, "/version", "203.0.113.5:1234").Code)

	*now = base.Add(61 * time.Second)
	assert.Equal(t, http.StatusOK, get(srv, "/calendar", "203.0.113.5:1234").Code)
}

func TestRateLimitHonorsTrustProxy(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.MaxRequests = 1
	cfg.Server.TrustProxy = true
	srv, _, _ := newTestServer(t, cfg, openStore(t, cfg))

	request := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/calendar", nil)
		req.RemoteAddr = "10.0.0.1:80"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, request("198.51.100.20"))
	assert.Equal(t, http.StatusOK, request("198.51.100.21"))
	assert.Equal(t, http.StatusTooManyRequests, request("198.51.100.20, 10.0.0.1"))
}

func TestRateLimitDisabledAdmitsEverything(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: false}
	srv, _, _ := newTestServer(t, cfg, openStore(t, cfg))

	for i := 0; i < 20; i++ {
		require.Equal(t, http.StatusOK, get(srv, "/calendar", "203.0.113.5:1234").Code)
	}
}

type brokenStore struct{}

func (brokenStore) ListActive(ctx context.Context, query store.DeadlineQuery) ([]core.Deadline, error) {
	return nil, &store.StoreUnavailableError{Op: "list deadlines", Err: errors.New("database is locked")}
}

func (brokenStore) ListCategories(ctx context.Context) ([]string, error) {
	return nil, &store.StoreUnavailableError{Op: "list categories", Err: errors.New("database is locked")}
}

func (brokenStore) LastUpdated(ctx context.Context) (*time.Time, error) {
	return nil, nil
}

func (brokenStore) Ping(ctx context.Context) error {
	return &store.StoreUnavailableError{Op: "ping", Err: errors.New("database is locked")}
}

func TestStoreFailureIsServiceUnavailable(t *testing.T) {
	srv, _, _ := newTestServer(t, testConfig(), brokenStore{})

	for i, path := range []string{"/calendar", "/calendar/cm1.ics", "/", "/api/groups", "/api/deadlines", "/health/ready"} {
		rec := get(srv, path, fmt.Sprintf("192.0.2.%d:1234", i+10))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.False(t, strings.Contains(rec.Body.String(), "database is locked"), path)
	}

	assert.Equal(t, http.StatusOK, get(srv, "/health/live", "").Code)
	assert.Equal(t, http.StatusNoContent, get(srv, "/favicon.ico", "").Code)
}

func TestClosedStoreIsServiceUnavailable(t *testing.T) {
	cfg := testConfig()
	st := openStore(t, cfg)
	srv, _, _ := newTestServer(t, cfg, st)
	require.NoError(t, st.Close())

	assert.Equal(t, http.StatusServiceUnavailable, get(srv, "/calendar", "").Code)
}

func TestServeAndShutdown(t *testing.T) {
	cfg := testConfig()
	srv, _, _ := newTestServer(t, cfg, openStore(t, cfg))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	require.Eventually(t, func() bool { return srv.ListenAddr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.ListenAddr() + "/health/startup")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.ErrorIs(t, <-errCh, http.ErrServerClosed)
}
