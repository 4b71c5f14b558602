// Package dispatcher resolves an MCP tools/call against the instance bound
// to the request's ambient session, including dynamic-tool alias
// resolution (spec.md §4.8).
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	bridgeerrors "github.com/chromemcp/bridge/pkg/errors"

	"github.com/chromemcp/bridge/internal/bus"
	"github.com/chromemcp/bridge/internal/envelope"
	"github.com/chromemcp/bridge/internal/pending"
	"github.com/chromemcp/bridge/internal/session"
	"github.com/chromemcp/bridge/internal/tools"
)

// CallResult is the outcome of a tools/call, shaped to drop straight into
// an MCP CallToolResult-like JSON-RPC result object.
type CallResult struct {
	IsError bool
	Result  any
}

// Dispatcher wires the session store, tool catalogue, and bus together.
type Dispatcher struct {
	Store     *session.Store
	Catalogue *tools.Catalogue
	Bus       *bus.Bus
}

// New creates a Dispatcher.
func New(store *session.Store, cat *tools.Catalogue, b *bus.Bus) *Dispatcher {
	return &Dispatcher{Store: store, Catalogue: cat, Bus: b}
}

// Call implements the tools/call contract of spec.md §4.8. It reads the
// ambient session id from ctx (set by the HTTP handler for the duration of
// this request) rather than taking it as a parameter, so tool-call sites
// never have to thread it through by hand.
func (d *Dispatcher) Call(ctx context.Context, name string, arguments map[string]any) (*CallResult, error) {
	sessionID, ok := session.SessionIDFromContext(ctx)
	if !ok {
		return nil, bridgeerrors.NewInternalError("no ambient session on this request", nil)
	}

	instanceID, bound := d.Store.InstanceID(sessionID)
	if !bound {
		return errorResult("instance not bound"), nil
	}

	args := stripInstanceID(arguments)

	toolName := name
	if strings.HasPrefix(name, "flow.") {
		flowID, found := d.Catalogue.ResolveFlow(ctx, instanceID, name)
		if !found {
			return errorResult(fmt.Sprintf("flow not found for tool %s", name)), nil
		}
		toolName = tools.ToolRecordReplayFlowRun
		args = map[string]any{"flowId": flowID, "args": args}
	}

	payload := envelope.CallToolPayload{Name: toolName, Args: args, InstanceID: instanceID}
	raw, err := d.Bus.SendRequest(ctx, instanceID, envelope.TypeCallTool, payload, pending.DefaultToolCallTimeout)
	if err != nil {
		return errorResult("Error calling tool: " + busErrorLabel(err)), nil
	}

	var resp envelope.CallToolResponsePayload
	if jsonErr := json.Unmarshal(raw, &resp); jsonErr != nil {
		return errorResult("malformed response from instance"), nil
	}
	if resp.Status == "error" {
		return errorResult(resp.Error), nil
	}

	if tools.IsFlowMutating(toolName) {
		d.Catalogue.BumpEpoch(instanceID)
	}

	if resp.Data == nil {
		return &CallResult{IsError: false, Result: map[string]any{"content": []any{}, "isError": false}}, nil
	}
	return &CallResult{IsError: false, Result: resp.Data}, nil
}

// stripInstanceID returns a copy of arguments with any instanceId field
// removed; the authoritative binding is always the session→instance map,
// never a client-supplied argument (spec.md §9).
func stripInstanceID(arguments map[string]any) map[string]any {
	if arguments == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(arguments))
	for k, v := range arguments {
		if k == "instanceId" {
			continue
		}
		out[k] = v
	}
	return out
}

func errorResult(message string) *CallResult {
	return &CallResult{
		IsError: true,
		Result: map[string]any{
			"content": []any{map[string]any{"type": "text", "text": message}},
			"isError": true,
		},
	}
}

// busErrorLabel renders a bus error the way spec.md §7/§8's scenarios
// expect it to read in a tool-call error message (e.g. "Timeout").
func busErrorLabel(err error) string {
	var e *bridgeerrors.Error
	if errors.As(err, &e) {
		switch e.Type {
		case bridgeerrors.ErrTimeout:
			return "Timeout"
		case bridgeerrors.ErrConnectionLost:
			return "connection to instance closed"
		case bridgeerrors.ErrUnknownInstance:
			return "instance not bound"
		case bridgeerrors.ErrSendFailed:
			return "failed to send to instance"
		default:
			return e.Message
		}
	}
	return err.Error()
}
