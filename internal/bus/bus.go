// Package bus implements the server→instance send-and-wait primitive used
// by the dispatcher, the dynamic-tool lister, and file operations
// (spec.md §4.5).
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	bridgeerrors "github.com/chromemcp/bridge/pkg/errors"

	"github.com/chromemcp/bridge/internal/envelope"
	"github.com/chromemcp/bridge/internal/pending"
	"github.com/chromemcp/bridge/internal/registry"
)

// Sender is the subset of internal/hub.Connection the bus needs: a way to
// enqueue an outbound envelope on top of registry.Conn's Close.
type Sender interface {
	registry.Conn
	Send(*envelope.Envelope) error
}

// Bus resolves instance ids to live connections and performs the
// send-and-wait round trip through the pending table.
type Bus struct {
	Registry *registry.Registry
	Pending  *pending.Table
}

// New creates a Bus over the given registry and pending table.
func New(reg *registry.Registry, tbl *pending.Table) *Bus {
	return &Bus{Registry: reg, Pending: tbl}
}

// SendRequest performs the algorithm in spec.md §4.5: resolve instanceID to
// a connection, enroll a fresh requestId with a deadline, write the
// envelope, and suspend on the waiter until it resolves, ctx is cancelled,
// or the table's sweeper times it out.
func (b *Bus) SendRequest(ctx context.Context, instanceID string, envType envelope.Type, payload any, timeout time.Duration) (json.RawMessage, error) {
	conn := b.Registry.GetConnection(instanceID)
	if conn == nil {
		return nil, bridgeerrors.NewUnknownInstanceError("no such instance: "+instanceID, nil)
	}
	sender, ok := conn.(Sender)
	if !ok {
		return nil, bridgeerrors.NewInternalError("connection cannot send envelopes", nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, bridgeerrors.NewInternalError("failed to marshal payload", err)
	}

	requestID := uuid.NewString()
	waiter := b.Pending.Enroll(requestID, instanceID, time.Now().Add(timeout))

	e := &envelope.Envelope{
		Type:       envType,
		RequestID:  requestID,
		InstanceID: instanceID,
		Payload:    body,
	}

	// The connection handle was captured above; no lock is held across this
	// write (spec.md §4.5's "never held locks around I/O").
	if err := sender.Send(e); err != nil {
		b.Pending.Fail(requestID, bridgeerrors.NewSendFailedError("failed to write to instance socket", err))
		return nil, bridgeerrors.NewSendFailedError("failed to write to instance socket", err)
	}

	result, err := waiter.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, bridgeerrors.NewTimeoutError("request cancelled", ctx.Err())
		}
		return nil, err
	}
	return result, nil
}
