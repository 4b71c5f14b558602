// Handler implements the MCP session layer's two HTTP-facing transports:
// streamable-HTTP (/mcp) and legacy SSE (/sse, /messages), per spec.md §4.7.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	bridgeerrors "github.com/chromemcp/bridge/pkg/errors"
	"github.com/chromemcp/bridge/pkg/logger"

	"github.com/chromemcp/bridge/internal/tools"
)

const sessionHeader = "Mcp-Session-Id"

// Handler serves the MCP session layer's HTTP surface. CallTool is injected
// as a function value rather than a concrete dispatcher type because
// internal/dispatcher already imports this package for the ambient-session
// helpers; a direct import back would cycle.
type Handler struct {
	Store     *Store
	Catalogue *tools.Catalogue
	CallTool  func(ctx context.Context, name string, arguments map[string]any) (result any, isError bool, err error)
}

// NewHandler wires a Handler against a session store, tool catalogue, and
// dispatcher call function.
func NewHandler(store *Store, cat *tools.Catalogue, callTool func(ctx context.Context, name string, arguments map[string]any) (any, bool, error)) *Handler {
	return &Handler{Store: store, Catalogue: cat, CallTool: callTool}
}

// HandleMCP serves POST/GET/DELETE /mcp.
func (h *Handler) HandleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleStream(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeHTTPError(w, bridgeerrors.NewInvalidArgumentError("malformed JSON-RPC body", err))
		return
	}

	sessionID := r.Header.Get(sessionHeader)

	if sessionID == "" {
		if req.Method != "initialize" {
			writeHTTPError(w, bridgeerrors.NewInvalidSessionError("missing "+sessionHeader+" header", nil))
			return
		}
		sessionID = uuid.NewString()
		h.Store.CreateSession(sessionID)

		var params initializeParams
		_ = json.Unmarshal(req.Params, &params)
		instanceID := ResolveInstanceID(params.InstanceID, r.Header.Get("X-Instance-Id"), r.URL.Query().Get("instanceId"))
		if instanceID == "" {
			logger.Warnf("session %s initialized with no instance-id source", sessionID)
		}
		h.Store.Bind(sessionID, instanceID)

		w.Header().Set(sessionHeader, sessionID)
		writeJSON(w, resultResponse(req.ID, initializeResult()))
		return
	}

	if !h.Store.Exists(sessionID) {
		writeHTTPError(w, bridgeerrors.NewInvalidSessionError("unknown session "+sessionID, nil))
		return
	}

	ctx := WithSessionID(r.Context(), sessionID)
	w.Header().Set(sessionHeader, sessionID)
	h.dispatch(w, r.WithContext(ctx), sessionID, req)
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, sessionID string, req Request) {
	switch req.Method {
	case "tools/list":
		instanceID, _ := h.Store.InstanceID(sessionID)
		list := h.Catalogue.List(r.Context(), instanceID)
		writeJSON(w, resultResponse(req.ID, map[string]any{"tools": list}))
	case "tools/call":
		var params toolsCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSON(w, errorResponse(req.ID, CodeInvalidParams, "invalid tools/call params"))
			return
		}
		result, _, err := h.CallTool(r.Context(), params.Name, params.Arguments)
		if err != nil {
			writeJSON(w, errorResponse(req.ID, CodeInternalError, err.Error()))
			return
		}
		writeJSON(w, resultResponse(req.ID, result))
	default:
		writeJSON(w, errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method)))
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" || !h.Store.Exists(sessionID) {
		writeHTTPError(w, bridgeerrors.NewInvalidSessionError("unknown or missing session", nil))
		return
	}
	h.Store.Delete(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handleStream serves GET /mcp, the streamable-HTTP server-to-client leg.
// This bridge never pushes unsolicited server notifications, so the stream
// just holds the connection open until the client disconnects.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" || !h.Store.Exists(sessionID) {
		writeHTTPError(w, bridgeerrors.NewInvalidSessionError("unknown or missing session", nil))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeHTTPError(w, bridgeerrors.NewInternalError("streaming unsupported", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	<-r.Context().Done()
}

// HandleSSE serves GET /sse, the legacy transport's event stream. It mints
// a session the same way "initialize" does over streamable-HTTP, then
// announces the POST endpoint clients must use to send messages.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeHTTPError(w, bridgeerrors.NewInternalError("streaming unsupported", nil))
		return
	}

	sessionID := uuid.NewString()
	h.Store.CreateSession(sessionID)
	instanceID := ResolveInstanceID("", r.Header.Get("X-Instance-Id"), r.URL.Query().Get("instanceId"))
	if instanceID == "" {
		logger.Warnf("SSE session %s established with no instance-id source", sessionID)
	}
	h.Store.Bind(sessionID, instanceID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: endpoint\ndata: /messages?sessionId=%s\n\n", sessionID)
	flusher.Flush()

	<-r.Context().Done()
	h.Store.Delete(sessionID)
}

// HandleMessages serves POST /messages?sessionId=, the legacy transport's
// client-to-server leg.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" || !h.Store.Exists(sessionID) {
		writeHTTPError(w, bridgeerrors.NewInvalidSessionError("unknown or missing sessionId", nil))
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeHTTPError(w, bridgeerrors.NewInvalidArgumentError("malformed JSON-RPC body", err))
		return
	}

	ctx := WithSessionID(r.Context(), sessionID)
	h.dispatch(w, r.WithContext(ctx), sessionID, req)
}

func initializeResult() map[string]any {
	return map[string]any{
		"protocolVersion": "2024-11-05",
		"serverInfo":      map[string]any{"name": "chrome-mcp-bridge", "version": "1"},
		"capabilities":    map[string]any{"tools": map[string]any{}},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeHTTPError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(bridgeerrors.Code(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
