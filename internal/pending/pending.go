// Package pending correlates asynchronous bus responses with the request
// that originated them (spec.md §4.3).
package pending

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	bridgeerrors "github.com/chromemcp/bridge/pkg/errors"
)

// entry is one in-flight request awaiting a response.
type entry struct {
	instanceID string
	deadline   time.Time
	done       chan struct{}
	once       sync.Once
	payload    json.RawMessage
	err        error
}

func (e *entry) resolve(payload json.RawMessage, err error) {
	e.once.Do(func() {
		e.payload = payload
		e.err = err
		close(e.done)
	})
}

// Waiter is handed to the caller of Enroll; it blocks until the request
// resolves or the caller's context is cancelled.
type Waiter struct {
	e *entry
}

// Wait blocks until the request completes, times out, fails, or ctx is
// cancelled, whichever happens first. A ctx cancellation does not remove
// the underlying pending entry: it stays in the table until a late
// Complete/Fail or a Sweep removes it, and the result delivered then has
// no reader.
func (w *Waiter) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-w.e.done:
		return w.e.payload, w.e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Table is the concurrency-safe pending-request table.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty Table.
func New() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Enroll records a new pending request and returns a Waiter for it.
func (t *Table) Enroll(requestID, instanceID string, deadline time.Time) *Waiter {
	e := &entry{
		instanceID: instanceID,
		deadline:   deadline,
		done:       make(chan struct{}),
	}

	t.mu.Lock()
	t.entries[requestID] = e
	t.mu.Unlock()

	return &Waiter{e: e}
}

// Complete delivers a successful result to the waiter enrolled under
// requestID. It is a no-op if no such entry exists (a late reply, or one
// already resolved by Sweep/FailAllForInstance).
func (t *Table) Complete(requestID string, payload json.RawMessage) {
	t.resolve(requestID, payload, nil)
}

// Fail delivers an error to the waiter enrolled under requestID. Same
// no-op-on-absence semantics as Complete.
func (t *Table) Fail(requestID string, err error) {
	t.resolve(requestID, nil, err)
}

func (t *Table) resolve(requestID string, payload json.RawMessage, err error) {
	t.mu.Lock()
	e, ok := t.entries[requestID]
	if ok {
		delete(t.entries, requestID)
	}
	t.mu.Unlock()

	if ok {
		e.resolve(payload, err)
	}
}

// FailAllForInstance resolves every pending request bound to instanceID
// with err, used when that instance's connection drops.
func (t *Table) FailAllForInstance(instanceID string, err error) {
	t.mu.Lock()
	var toFail []*entry
	for id, e := range t.entries {
		if e.instanceID == instanceID {
			toFail = append(toFail, e)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	for _, e := range toFail {
		e.resolve(nil, err)
	}
}

// FailAll resolves every currently pending request with err, regardless of
// instance. Used during graceful shutdown (spec.md §6.5), when every
// outstanding call must fail rather than wait out its own deadline.
func (t *Table) FailAll(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*entry)
	t.mu.Unlock()

	for _, e := range entries {
		e.resolve(nil, err)
	}
}

// Sweep removes and fails every entry whose deadline has elapsed. Intended
// to be invoked periodically by a background task.
func (t *Table) Sweep() {
	now := time.Now()

	t.mu.Lock()
	var expired []*entry
	for id, e := range t.entries {
		if now.After(e.deadline) {
			expired = append(expired, e)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	for _, e := range expired {
		e.resolve(nil, bridgeerrors.NewTimeoutError("request timed out", nil))
	}
}

// Len reports the number of currently pending entries. Exposed for tests
// and diagnostics only.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Default timeouts by operation class (spec.md §4.3).
const (
	DefaultToolCallTimeout    = 120 * time.Second
	DefaultListFlowsTimeout   = 20 * time.Second
	DefaultProcessDataTimeout = 20 * time.Second
	DefaultFileOpTimeout      = 30 * time.Second
)
