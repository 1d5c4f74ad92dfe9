// Package registry implements the host's process-wide connection registry
// (spec.md Section 5): a set of live WebSocket connections guarded by a
// mutex with a bounded wait, so a stuck lock holder degrades one operation
// to a non-fatal failure instead of stalling every worker goroutine behind
// it. This is explicitly NOT part of the protocol engine core — it depends
// on package websocket, never the other way around (spec.md Section 9).
package registry

import (
	"time"

	"github.com/google/uuid"

	"github.com/sullewarehouse/iiswebsocketserver/websocket"
)

// ConnID identifies one registered connection. Grounded on the pack's
// google/uuid dependency rather than an incrementing counter, so IDs stay
// stable across registries and are safe to log or hand to a client.
type ConnID = uuid.UUID

// lockWait is the reference's 3-second bounded wait (spec.md Section 5).
const lockWait = 3 * time.Second

// Registry tracks the set of currently-upgraded connections. Every
// operation is bounded by lockWait: if the internal lock cannot be acquired
// in time, the operation returns false (Count returns -1, Broadcast 0)
// instead of blocking the caller
// indefinitely. The reference calls this non-fatal — the worker proceeds,
// it just failed to register or unregister this one connection.
type Registry struct {
	mu      chan struct{} // size-1 buffered channel used as a try-lock
	clients map[ConnID]*websocket.Conn
}

// New returns an empty, ready-to-use Registry.
func New() *Registry {
	r := &Registry{
		mu:      make(chan struct{}, 1),
		clients: make(map[ConnID]*websocket.Conn),
	}
	r.mu <- struct{}{}
	return r
}

// tryLock acquires the registry's lock, waiting up to lockWait. It reports
// false, never blocking past the deadline, if the lock is held elsewhere.
func (r *Registry) tryLock() bool {
	select {
	case <-r.mu:
		return true
	case <-time.After(lockWait):
		return false
	}
}

func (r *Registry) unlock() {
	r.mu <- struct{}{}
}

// Add registers c under id. It returns false, without registering, if the
// lock could not be acquired within lockWait or if id is already present.
func (r *Registry) Add(id ConnID, c *websocket.Conn) bool {
	if !r.tryLock() {
		return false
	}
	defer r.unlock()

	if _, exists := r.clients[id]; exists {
		return false
	}
	r.clients[id] = c
	return true
}

// RemoveByID removes the connection registered under id, if any.
func (r *Registry) RemoveByID(id ConnID) bool {
	if !r.tryLock() {
		return false
	}
	defer r.unlock()

	if _, exists := r.clients[id]; !exists {
		return false
	}
	delete(r.clients, id)
	return true
}

// RemoveByIdentity scans for and removes c by pointer identity, for callers
// that did not retain the ConnID they registered under.
func (r *Registry) RemoveByIdentity(c *websocket.Conn) bool {
	if !r.tryLock() {
		return false
	}
	defer r.unlock()

	for id, candidate := range r.clients {
		if candidate == c {
			delete(r.clients, id)
			return true
		}
	}
	return false
}

// Count returns the number of currently registered connections, or -1 if
// the lock could not be acquired within lockWait.
func (r *Registry) Count() int {
	if !r.tryLock() {
		return -1
	}
	defer r.unlock()
	return len(r.clients)
}

// Broadcast sends payload as bufferType to every currently registered
// connection, skipping (and logging nothing about) any whose Send fails —
// the caller decides whether a failed peer should be unregistered, usually
// from the same read loop that will observe its next Receive error.
func (r *Registry) Broadcast(bufferType websocket.BufferType, payload []byte) int {
	if !r.tryLock() {
		return 0
	}
	snapshot := make([]*websocket.Conn, 0, len(r.clients))
	for _, c := range r.clients {
		snapshot = append(snapshot, c)
	}
	r.unlock()

	sent := 0
	for _, c := range snapshot {
		if err := c.Send(bufferType, payload); err == nil {
			sent++
		}
	}
	return sent
}
