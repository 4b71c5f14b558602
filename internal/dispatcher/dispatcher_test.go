package dispatcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerrors "github.com/chromemcp/bridge/pkg/errors"

	"github.com/chromemcp/bridge/internal/bus"
	"github.com/chromemcp/bridge/internal/envelope"
	"github.com/chromemcp/bridge/internal/pending"
	"github.com/chromemcp/bridge/internal/registry"
	"github.com/chromemcp/bridge/internal/session"
	"github.com/chromemcp/bridge/internal/tools"
)

type fakeSender struct {
	sent []*envelope.Envelope
}

func (f *fakeSender) Close() error { return nil }

func (f *fakeSender) Send(e *envelope.Envelope) error {
	f.sent = append(f.sent, e)
	return nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *registry.Registry, *pending.Table, *fakeSender) {
	t.Helper()
	reg := registry.New()
	tbl := pending.New()
	b := bus.New(reg, tbl)
	cat := tools.NewCatalogue(b)
	store := session.NewStore()

	sender := &fakeSender{}
	reg.Register(sender, "i1")

	return New(store, cat, b), reg, tbl, sender
}

func TestCallWithoutAmbientSessionErrors(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)
	_, err := d.Call(context.Background(), "foo", nil)
	require.Error(t, err)
}

func TestCallWithUnboundSessionReturnsMissingInstanceResult(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)
	d.Store.CreateSession("s1")
	ctx := session.WithSessionID(context.Background(), "s1")

	result, err := d.Call(ctx, "foo", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCallStaticToolDispatchesAndStripsInstanceID(t *testing.T) {
	d, _, tbl, sender := newTestDispatcher(t)
	d.Store.CreateSession("s1")
	d.Store.Bind("s1", "i1")
	ctx := session.WithSessionID(context.Background(), "s1")

	done := make(chan struct{})
	var result *CallResult
	var callErr error
	go func() {
		result, callErr = d.Call(ctx, "foo", map[string]any{"x": 1.0, "instanceId": "bogus"})
		close(done)
	}()

	require.Eventually(t, func() bool { return len(sender.sent) == 1 }, time.Second, time.Millisecond)
	sent := sender.sent[0]

	var payload envelope.CallToolPayload
	require.NoError(t, json.Unmarshal(sent.Payload, &payload))
	assert.Equal(t, "foo", payload.Name)
	_, hasInstanceID := payload.Args["instanceId"]
	assert.False(t, hasInstanceID, "instanceId must be stripped from forwarded arguments")

	respBody, _ := json.Marshal(envelope.CallToolResponsePayload{
		Status: "success",
		Data:   map[string]any{"content": []any{map[string]any{"type": "text", "text": "ok"}}, "isError": false},
	})
	tbl.Complete(sent.RequestID, respBody)

	<-done
	require.NoError(t, callErr)
	assert.False(t, result.IsError)
}

func TestCallTimeoutSurfacesTimeoutLabel(t *testing.T) {
	d, _, tbl, sender := newTestDispatcher(t)
	d.Store.CreateSession("s1")
	d.Store.Bind("s1", "i1")
	ctx := session.WithSessionID(context.Background(), "s1")

	done := make(chan struct{})
	var result *CallResult
	go func() {
		result, _ = d.Call(ctx, "does-not-exist", map[string]any{})
		close(done)
	}()

	require.Eventually(t, func() bool { return len(sender.sent) == 1 }, time.Second, time.Millisecond)
	requestID := sender.sent[0].RequestID

	// Simulate the sweeper firing before the instance ever replies, rather
	// than waiting out the real 120s deadline.
	tbl.Fail(requestID, bridgeerrors.NewTimeoutError("request timed out", nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher call did not return after simulated timeout")
	}

	require.True(t, result.IsError)
	m := result.Result.(map[string]any)
	content := m["content"].([]any)
	text := content[0].(map[string]any)["text"].(string)
	assert.Equal(t, "Error calling tool: Timeout", text)
}

func TestCallUnknownFlowToolFails(t *testing.T) {
	d, _, tbl, sender := newTestDispatcher(t)
	d.Store.CreateSession("s1")
	d.Store.Bind("s1", "i1")
	ctx := session.WithSessionID(context.Background(), "s1")

	done := make(chan struct{})
	var result *CallResult
	go func() {
		result, _ = d.Call(ctx, "flow.nonexistent", map[string]any{})
		close(done)
	}()

	require.Eventually(t, func() bool { return len(sender.sent) == 1 }, time.Second, time.Millisecond)
	listReq := sender.sent[0]
	require.Equal(t, envelope.TypeListPublishedFlows, listReq.Type)

	body, _ := json.Marshal(envelope.ListPublishedFlowsResponsePayload{Status: "success", Items: nil})
	tbl.Complete(listReq.RequestID, body)

	<-done
	assert.True(t, result.IsError)
}
