// Package httpapi mounts the bridge's HTTP surface: the MCP transports, the
// websocket bus endpoint, and a liveness probe, behind a CORS policy scoped
// to extension origins.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chromemcp/bridge/pkg/logger"

	"github.com/chromemcp/bridge/internal/hub"
	"github.com/chromemcp/bridge/internal/session"
)

const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// NewRouter builds the chi router mounting every route named in spec.md §6:
// the websocket bus, the streamable-HTTP and legacy-SSE MCP transports, and
// a health probe.
func NewRouter(h *hub.Hub, sh *session.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Timeout(middlewareTimeout),
		cors,
	)

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "message": "pong"})
	})

	r.HandleFunc("/ws", h.ServeHTTP)

	r.HandleFunc("/mcp", sh.HandleMCP)
	r.Get("/sse", sh.HandleSSE)
	r.Post("/messages", sh.HandleMessages)

	return r
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully. It is assumed the caller sets up signal handling that
// cancels ctx (spec.md §6.5).
//
// address is listened on directly (rather than handed to
// http.Server.ListenAndServe) so the actual bound port is known once the
// listen succeeds; spec.md §6.4 requires CHROME_MCP_PORT and MCP_HTTP_PORT
// both be set in-process to that port afterward, which callers that only
// read the port from config (e.g. an ephemeral ":0" bind) depend on.
func Serve(ctx context.Context, address string, handler http.Handler) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		boundPort := strconv.Itoa(tcpAddr.Port)
		_ = os.Setenv("CHROME_MCP_PORT", boundPort)
		_ = os.Setenv("MCP_HTTP_PORT", boundPort)
	}

	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("starting http server on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Infof("http server stopped")
	return nil
}
