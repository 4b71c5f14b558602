// Package registry is the single source of truth mapping an extension
// instance id to its live websocket connection (spec.md §4.2).
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conn is the minimal surface the registry needs from a connection: enough
// to close it on rebind or eviction. internal/hub's connection type
// satisfies this.
type Conn interface {
	Close() error
}

// record is the in-memory instance record (spec.md §3).
type record struct {
	conn         Conn
	registeredAt time.Time
	lastActivity time.Time
}

// Registry is a concurrency-safe directory of registered instances.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*record
	byConn    map[Conn]string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		instances: make(map[string]*record),
		byConn:    make(map[Conn]string),
	}
}

// Register binds conn to providedId if given, closing the connection
// previously bound to that id if it differs; otherwise it mints a fresh id. If conn was already bound to a
// different instanceId, that binding is removed first. Returns the
// instanceId now bound to conn.
func (r *Registry) Register(conn Conn, providedID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	// If this connection already owns a different binding, drop it first.
	if existingID, ok := r.byConn[conn]; ok && existingID != providedID {
		delete(r.instances, existingID)
		delete(r.byConn, conn)
	}

	id := providedID
	if id == "" {
		id = uuid.NewString()
	}

	var toClose Conn
	if existing, ok := r.instances[id]; ok && existing.conn != conn {
		toClose = existing.conn
		delete(r.byConn, existing.conn)
	}

	r.instances[id] = &record{conn: conn, registeredAt: now, lastActivity: now}
	r.byConn[conn] = id

	if toClose != nil {
		// Close outside nothing special is held besides the map mutex; the
		// caller of SendRequest-style code never calls Register while
		// holding this lock itself, so a synchronous close here is safe and
		// keeps "previous connection closed before new one is associated"
		// atomic from the perspective of concurrent lookups.
		_ = toClose.Close()
	}

	return id
}

// Unregister removes the record for instanceId. The caller is responsible
// for closing the socket. Returns false if no such record existed.
func (r *Registry) Unregister(instanceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.instances[instanceID]
	if !ok {
		return false
	}
	delete(r.instances, instanceID)
	if r.byConn[rec.conn] == instanceID {
		delete(r.byConn, rec.conn)
	}
	return true
}

// UnregisterByConnection removes whatever record is bound to conn.
func (r *Registry) UnregisterByConnection(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byConn[conn]
	if !ok {
		return false
	}
	delete(r.byConn, conn)
	delete(r.instances, id)
	return true
}

// GetConnection returns the live connection for instanceId, or nil.
func (r *Registry) GetConnection(instanceID string) Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.instances[instanceID]
	if !ok {
		return nil
	}
	return rec.conn
}

// GetInstanceID returns the instanceId bound to conn, or "" if none.
func (r *Registry) GetInstanceID(conn Conn) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[conn]
}

// InstanceIDs returns a snapshot of every currently registered instanceId.
func (r *Registry) InstanceIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	return ids
}

// Has reports whether instanceId has a live record.
func (r *Registry) Has(instanceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.instances[instanceID]
	return ok
}

// TouchActivity updates lastActivity for the instance bound to conn. It is
// a no-op if conn is not currently registered.
func (r *Registry) TouchActivity(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byConn[conn]
	if !ok {
		return
	}
	if rec, ok := r.instances[id]; ok {
		rec.lastActivity = time.Now()
	}
}

// EvictIdle removes every record whose lastActivity precedes
// now - idleCutoff, closing their connections, and returns the evicted
// instance ids.
func (r *Registry) EvictIdle(idleCutoff time.Duration) []string {
	r.mu.Lock()
	cutoff := time.Now().Add(-idleCutoff)
	var evicted []string
	var toClose []Conn
	for id, rec := range r.instances {
		if rec.lastActivity.Before(cutoff) {
			evicted = append(evicted, id)
			toClose = append(toClose, rec.conn)
			delete(r.instances, id)
			delete(r.byConn, rec.conn)
		}
	}
	r.mu.Unlock()

	for _, c := range toClose {
		_ = c.Close()
	}
	return evicted
}
