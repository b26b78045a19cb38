// Package ack bridges the fire-and-forget transport into request/reply
// semantics: it hands out correlation ids and resolves the pending waiter
// when the matching reply frame arrives.
package ack

import (
	"sync"

	"github.com/avalongame/realtime"
)

// Correlator allocates monotonically increasing correlation ids and tracks
// the pending reply channel for each outstanding request. Ids never repeat
// within the lifetime of the owning session.
type Correlator struct {
	mu      sync.Mutex
	next    uint64
	pending map[uint64]chan realtime.Args
}

// New returns an empty correlator.
func New() *Correlator {
	return &Correlator{pending: make(map[uint64]chan realtime.Args)}
}

// Register allocates the next correlation id and a reply channel with room
// for exactly one resolution. The id must be registered before the request is
// sent or queued, so a reply racing the send still finds its entry.
func (c *Correlator) Register() (uint64, <-chan realtime.Args) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.next
	c.next++

	ch := make(chan realtime.Args, 1)
	c.pending[id] = ch
	return id, ch
}

// Resolve delivers reply data to the waiter for id and removes the entry
// atomically, guaranteeing exactly one resolution. A stray reply whose id has
// no pending entry returns false and has no other effect.
func (c *Correlator) Resolve(id uint64, data realtime.Args) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- data
	return true
}

// Forget removes a pending entry without resolving it. Used by a waiter that
// timed out.
func (c *Correlator) Forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Reset abandons every pending entry without resolving it. Waiters run into
// their own timeouts; replies for abandoned ids are discarded as stray. The
// id counter keeps counting so ids stay unique across a credential change.
func (c *Correlator) Reset() {
	c.mu.Lock()
	c.pending = make(map[uint64]chan realtime.Args)
	c.mu.Unlock()
}

// Pending returns the number of outstanding requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
