package hub

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/chromemcp/bridge/internal/envelope"
	"github.com/chromemcp/bridge/internal/pending"
	"github.com/chromemcp/bridge/internal/registry"
)

func newTestServer(t *testing.T) (*Hub, *httptest.Server, *websocket.Conn) {
	t.Helper()

	h := New(registry.New(), pending.New())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	return h, srv, ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) *envelope.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	e, err := envelope.Decode(data)
	require.NoError(t, err)
	return e
}

func TestConnectReceivesInitialPong(t *testing.T) {
	_, _, ws := newTestServer(t)
	e := readEnvelope(t, ws)
	require.Equal(t, envelope.TypePong, e.Type)
}

func TestRegisterHandshake(t *testing.T) {
	h, _, ws := newTestServer(t)
	readEnvelope(t, ws) // initial PONG

	reg, _ := envelope.Encode(&envelope.Envelope{
		Type:       envelope.TypeInstanceRegister,
		InstanceID: "i1",
	})
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, reg))

	e := readEnvelope(t, ws)
	require.Equal(t, envelope.TypeInstanceRegistered, e.Type)

	var payload envelope.InstanceRegisteredPayload
	require.NoError(t, json.Unmarshal(e.Payload, &payload))
	require.Equal(t, "i1", payload.InstanceID)

	require.Eventually(t, func() bool { return h.Registry.Has("i1") }, time.Second, 10*time.Millisecond)
}

func TestUnregisteredConnectionRejectsOtherEnvelopes(t *testing.T) {
	_, _, ws := newTestServer(t)
	readEnvelope(t, ws) // initial PONG

	bad, _ := envelope.Encode(&envelope.Envelope{Type: envelope.TypeCallToolResponse})
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, bad))

	e := readEnvelope(t, ws)
	require.Equal(t, envelope.TypeError, e.Type)
}

func TestCallToolResponseResolvesPendingEntry(t *testing.T) {
	h, _, ws := newTestServer(t)
	readEnvelope(t, ws) // initial PONG

	reg, _ := envelope.Encode(&envelope.Envelope{Type: envelope.TypeInstanceRegister, InstanceID: "i1"})
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, reg))
	readEnvelope(t, ws) // INSTANCE_REGISTERED

	w := h.Pending.Enroll("r1", "i1", time.Now().Add(time.Second))

	resp, _ := envelope.Encode(&envelope.Envelope{
		Type:                envelope.TypeCallToolResponse,
		ResponseToRequestID: "r1",
		InstanceID:          "i1",
		Payload:             json.RawMessage(`{"status":"success","data":{"ok":true}}`),
	})
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, resp))

	payload, err := w.Wait(context.Background())
	require.NoError(t, err)
	require.Contains(t, string(payload), "status")
}

func TestShutdownClosesConnectionsAndFailsPending(t *testing.T) {
	h, _, ws := newTestServer(t)
	readEnvelope(t, ws) // initial PONG

	reg, _ := envelope.Encode(&envelope.Envelope{Type: envelope.TypeInstanceRegister, InstanceID: "i1"})
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, reg))
	readEnvelope(t, ws) // INSTANCE_REGISTERED

	w := h.Pending.Enroll("r1", "i1", time.Now().Add(time.Minute))

	h.Shutdown()

	_, err := w.Wait(context.Background())
	require.Error(t, err)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, readErr := ws.ReadMessage()
	require.Error(t, readErr, "server should have closed the socket")
	require.False(t, h.Registry.Has("i1"), "instance should no longer be registered after shutdown")
}

func TestConnectionCloseFailsPendingRequests(t *testing.T) {
	h, _, ws := newTestServer(t)
	readEnvelope(t, ws) // initial PONG

	reg, _ := envelope.Encode(&envelope.Envelope{Type: envelope.TypeInstanceRegister, InstanceID: "i1"})
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, reg))
	readEnvelope(t, ws) // INSTANCE_REGISTERED

	w := h.Pending.Enroll("r1", "i1", time.Now().Add(time.Minute))

	require.NoError(t, ws.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := w.Wait(ctx)
	require.Error(t, err)
}
