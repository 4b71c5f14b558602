package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chromemcp/bridge/internal/hub"
	"github.com/chromemcp/bridge/internal/pending"
	"github.com/chromemcp/bridge/internal/registry"
	"github.com/chromemcp/bridge/internal/session"
	"github.com/chromemcp/bridge/internal/tools"
)

func newTestRouter() http.Handler {
	reg := registry.New()
	tbl := pending.New()
	h := hub.New(reg, tbl)
	cat := tools.NewCatalogue(nil)
	store := session.NewStore()
	sh := session.NewHandler(store, cat, func(context.Context, string, map[string]any) (any, bool, error) {
		return nil, false, nil
	})
	return NewRouter(h, sh)
}

func TestPingReturnsOkBody(t *testing.T) {
	r := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "pong", body["message"])
}

func TestCORSAllowsExtensionOrigin(t *testing.T) {
	r := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "chrome-extension://abcdefg")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "chrome-extension://abcdefg", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	r := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflightRespondsNoContent(t *testing.T) {
	r := newTestRouter()
	req := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	req.Header.Set("Origin", "chrome-extension://abcdefg")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestMCPRouteReachesSessionHandler(t *testing.T) {
	r := newTestRouter()
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	// No session header and a body that isn't valid JSON: the session
	// handler should reject it, not chi's default 404/405.
	assert.NotEqual(t, http.StatusNotFound, rec.Code)
	assert.NotEqual(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServeBindsEphemeralPortAndSetsEnvVars(t *testing.T) {
	t.Setenv("CHROME_MCP_PORT", "")
	t.Setenv("MCP_HTTP_PORT", "")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- Serve(ctx, "127.0.0.1:0", newTestRouter())
	}()

	require.Eventually(t, func() bool {
		return os.Getenv("CHROME_MCP_PORT") != ""
	}, 2*time.Second, 10*time.Millisecond)

	port := os.Getenv("CHROME_MCP_PORT")
	assert.NotEmpty(t, port)
	assert.Equal(t, port, os.Getenv("MCP_HTTP_PORT"), "both env vars must agree on the actual bound port")

	cancel()
	require.NoError(t, <-errCh)
}
