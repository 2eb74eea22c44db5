package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID_PropagatesCallerHeader(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
}

func TestRequestID_ReplacesMalformedHeader(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLength+1))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.NotEmpty(t, seen)
	assert.Len(t, seen, 36)
}

func TestResolveClientKey(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		trustProxy bool
		expected   string
	}{
		{"remote addr host", "192.0.2.10:5555", "", false, "192.0.2.10"},
		{"forwarded ignored without trust", "192.0.2.10:5555", "198.51.100.7", false, "192.0.2.10"},
		{"left-most forwarded entry", "10.0.0.1:80", "198.51.100.7, 10.0.0.2", true, "198.51.100.7"},
		{"garbage forwarded falls back", "10.0.0.1:80", "not-an-ip", true, "10.0.0.1"},
		{"ipv6 remote", "[2001:db8::1]:443", "", false, "2001:db8::1"},
		{"remote without port", "192.0.2.10", "", false, "192.0.2.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/calendar", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.expected, ResolveClientKey(req, tt.trustProxy))
		})
	}
}

func TestClientKey_StoresKeyInContext(t *testing.T) {
	var key string
	handler := ClientKey(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = GetClientKey(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/calendar", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.9", key)
	assert.Equal(t, "", GetClientKey(req.Context()))
}

func TestRecovery_WritesEnvelope(t *testing.T) {
	handler := RequestID(Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/calendar", nil)
	req.Header.Set(RequestIDHeader, "panic-req")
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	assert.Equal(t, "panic-req", body.Error.RequestID)
}
