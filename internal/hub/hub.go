// Package hub implements the websocket side of the bus: accepting
// connections from extension instances, running their per-connection
// read/write pumps, and routing decoded envelopes to the instance registry
// or the pending-request table (spec.md §4.4).
package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	bridgeerrors "github.com/chromemcp/bridge/pkg/errors"
	"github.com/chromemcp/bridge/pkg/logger"

	"github.com/chromemcp/bridge/internal/envelope"
	"github.com/chromemcp/bridge/internal/pending"
	"github.com/chromemcp/bridge/internal/registry"
)

// connState is the per-connection state machine (spec.md §4.4).
type connState int32

const (
	stateAccepted connState = iota
	stateUnregistered
	stateRegistered
	stateClosed
)

const writeQueueDepth = 32

var upgrader = websocket.Upgrader{
	// The websocket upgrade accepts any origin; the CORS middleware in front
	// of this handler only sets response headers and rejects no request.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Connection wraps one instance's websocket with a serialised writer queue,
// satisfying registry.Conn.
type Connection struct {
	ws    *websocket.Conn
	state atomic.Int32
	send  chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// Close implements registry.Conn. It is safe to call multiple times and
// from multiple goroutines.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(stateClosed))
		close(c.closed)
		_ = c.ws.Close()
	})
	return nil
}

// shutdown sends a normal-close control frame before tearing the connection
// down, used for graceful server shutdown (spec.md §6.5) in place of the
// abrupt TCP close that Close alone performs.
func (c *Connection) shutdown() {
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down"), deadline)
	_ = c.Close()
}

// Send enqueues an envelope for the writer pump. It never blocks on I/O
// itself; if the writer queue is full the connection is considered
// unhealthy and is closed.
func (c *Connection) Send(e *envelope.Envelope) error {
	data, err := envelope.Encode(e)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return bridgeerrors.NewSendFailedError("connection closed", nil)
	default:
		logger.Warnw("write queue full, closing connection", "instanceId", e.InstanceID)
		_ = c.Close()
		return bridgeerrors.NewSendFailedError("write queue full", nil)
	}
}

// Hub owns the registry and pending table and dispatches decoded envelopes
// between the two sets of connections: instances, and the HTTP-facing
// dispatcher that calls SendRequest (internal/bus) on the same registry.
type Hub struct {
	Registry *registry.Registry
	Pending  *pending.Table
}

// New creates a Hub over the given registry and pending table.
func New(reg *registry.Registry, tbl *pending.Table) *Hub {
	return &Hub{Registry: reg, Pending: tbl}
}

// Shutdown closes every registered connection with a normal-close frame and
// fails every pending request with ShuttingDown (spec.md §6.5). Intended to
// be called once, as the process begins graceful termination. Pending
// entries are failed before any socket is closed: closing a connection
// races the read pump's own onClose/FailAllForInstance against this method,
// and failing here first guarantees every waiter observes ShuttingDown
// rather than a racing ConnectionLost.
func (h *Hub) Shutdown() {
	h.Pending.FailAll(bridgeerrors.NewShuttingDownError("server is shutting down", nil))

	for _, id := range h.Registry.InstanceIDs() {
		if conn := h.Registry.GetConnection(id); conn != nil {
			if c, ok := conn.(*Connection); ok {
				c.shutdown()
			} else {
				_ = conn.Close()
			}
		}
		h.Registry.Unregister(id)
	}
}

// ServeHTTP upgrades the request to a websocket and runs the connection's
// read/write pumps until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("websocket upgrade failed: %v", err)
		return
	}

	conn := &Connection{
		ws:     ws,
		send:   make(chan []byte, writeQueueDepth),
		closed: make(chan struct{}),
	}
	conn.state.Store(int32(stateAccepted))

	go h.writePump(conn)

	// "On Accepted, the server immediately emits a PONG as a connection
	// confirmation" (spec.md §4.4).
	_ = conn.Send(&envelope.Envelope{Type: envelope.TypePong})
	conn.state.Store(int32(stateUnregistered))

	h.readPump(conn)
}

func (h *Hub) writePump(c *Connection) {
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Warnf("write failed, closing connection: %v", err)
				_ = c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (h *Hub) readPump(c *Connection) {
	defer h.onClose(c)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		e, err := envelope.Decode(data)
		if err != nil {
			logger.Warnf("protocol error decoding envelope: %v", err)
			_ = c.Send(&envelope.Envelope{Type: envelope.TypeError, Error: err.Error()})
			return
		}

		h.Registry.TouchActivity(c)
		h.handle(c, e)

		if connState(c.state.Load()) == stateClosed {
			return
		}
	}
}

func (h *Hub) handle(c *Connection, e *envelope.Envelope) {
	switch connState(c.state.Load()) {
	case stateUnregistered:
		h.handleUnregistered(c, e)
	case stateRegistered:
		h.handleRegistered(c, e)
	default:
		// Accepted/Closed should not reach here; ignore defensively.
	}
}

func (h *Hub) handleUnregistered(c *Connection, e *envelope.Envelope) {
	switch e.Type {
	case envelope.TypeInstanceRegister:
		var payload envelope.InstanceRegisterPayload
		_ = json.Unmarshal(e.Payload, &payload)

		id := h.Registry.Register(c, e.InstanceID)
		c.state.Store(int32(stateRegistered))

		body, _ := json.Marshal(envelope.InstanceRegisteredPayload{
			InstanceID: id,
			ServerInfo: envelope.ServerInfo{
				Version:   "1",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			},
		})
		_ = c.Send(&envelope.Envelope{
			Type:       envelope.TypeInstanceRegistered,
			InstanceID: id,
			Payload:    body,
		})
	case envelope.TypePing:
		_ = c.Send(&envelope.Envelope{Type: envelope.TypePong})
	default:
		logger.Warnf("protocol error: unregistered connection sent %s", e.Type)
		_ = c.Send(&envelope.Envelope{
			Type:  envelope.TypeError,
			Error: "must INSTANCE_REGISTER before sending other envelope types",
		})
		_ = c.Close()
	}
}

func (h *Hub) handleRegistered(c *Connection, e *envelope.Envelope) {
	switch {
	case e.Type == envelope.TypePing:
		_ = c.Send(&envelope.Envelope{Type: envelope.TypePong})
	case e.Type == envelope.TypeInstanceUnregister:
		_ = c.Close()
	case envelope.IsResponse(e.Type):
		h.handleResponse(c, e)
	case envelope.IsRequest(e.Type):
		// "the server side initiates all request/response pairs except
		// registration and heartbeat" (spec.md §4.4).
		logger.Warnf("protocol error: instance-originated request envelope %s", e.Type)
		_ = c.Send(&envelope.Envelope{
			Type:                envelope.TypeError,
			ResponseToRequestID: e.RequestID,
			Error:               "server is always the initiator for " + string(e.Type),
		})
	case e.Type == envelope.TypeError:
		logger.Warnf("instance %s reported error: %s", h.Registry.GetInstanceID(c), e.Error)
	default:
		logger.Warnf("unhandled envelope type %s from registered instance", e.Type)
	}
}

func (h *Hub) handleResponse(c *Connection, e *envelope.Envelope) {
	if e.ResponseToRequestID == "" {
		logger.Warnf("protocol error: response envelope %s missing responseToRequestId", e.Type)
		return
	}

	if envelope.RequiresInstanceID(e.Type) && e.InstanceID == "" {
		logger.Warnf("protocol error: response envelope %s missing instanceId", e.Type)
		h.Pending.Fail(e.ResponseToRequestID, bridgeerrors.NewProtocolError("response envelope missing instanceId", nil))
		return
	}

	if e.Type == envelope.TypeCallToolResponse {
		var resp envelope.CallToolResponsePayload
		if err := json.Unmarshal(e.Payload, &resp); err == nil && resp.Status == "error" {
			h.Pending.Fail(e.ResponseToRequestID, bridgeerrors.NewInternalError(resp.Error, nil))
			return
		}
	}

	if e.Error != "" {
		h.Pending.Fail(e.ResponseToRequestID, bridgeerrors.NewInternalError(e.Error, nil))
		return
	}

	h.Pending.Complete(e.ResponseToRequestID, e.Payload)
}

func (h *Hub) onClose(c *Connection) {
	_ = c.Close()
	instanceID := h.Registry.GetInstanceID(c)
	h.Registry.UnregisterByConnection(c)
	if instanceID != "" {
		h.Pending.FailAllForInstance(instanceID, bridgeerrors.NewConnectionLostError("connection to instance closed", nil))
	}
}
