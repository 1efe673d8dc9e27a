package peer

import (
	"net"
	"sync"

	"github.com/ventosilenzioso/moduled-net-go/internal/wire"
)

// Registry is the session manager's concurrent peer table: ID allocation,
// add/remove, and iteration for relay/broadcast fan-out. A send to a
// departed peer must be a no-op, never a race with Remove.
type Registry struct {
	mu      sync.RWMutex
	byID    map[byte]*Peer
	byAddr  map[string]*Peer
	maxSize int
}

// NewRegistry creates an empty registry capped at maxSize connected peers.
func NewRegistry(maxSize int) *Registry {
	return &Registry{
		byID:    make(map[byte]*Peer),
		byAddr:  make(map[string]*Peer),
		maxSize: maxSize,
	}
}

// Len returns the current connected-peer count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// AtCapacity reports whether accepting one more peer would exceed
// maxSize.
func (r *Registry) AtCapacity() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID) >= r.maxSize
}

// nextFreeID returns the lowest unused ID >= MinPeerID. Callers must hold
// r.mu for writing.
func (r *Registry) nextFreeID() (byte, bool) {
	for id := MinPeerID; id < 255; id++ {
		if _, used := r.byID[id]; !used {
			return id, true
		}
	}
	return 0, false
}

// Add allocates the lowest free peer ID, registers a new peer under it, and
// returns that peer. Returns false if the registry is at capacity or has
// no free ID left.
func (r *Registry) Add(addr *net.UDPAddr, username string, color wire.Color) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.byID) >= r.maxSize {
		return nil, false
	}
	id, ok := r.nextFreeID()
	if !ok {
		return nil, false
	}

	p := New(id, addr, username, color)
	r.byID[id] = p
	r.byAddr[addr.String()] = p
	return p, true
}

// Remove deletes the peer with the given ID, if present, atomically with
// respect to Lookup/ByAddr/Range so a racing send observes either the full
// peer or none at all, never a half-removed one.
func (r *Registry) Remove(id byte) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)
	delete(r.byAddr, p.Addr.String())
	return p, true
}

// Lookup returns the peer with the given ID, if connected.
func (r *Registry) Lookup(id byte) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// ByAddr returns the peer at the given address, if connected.
func (r *Registry) ByAddr(addr *net.UDPAddr) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byAddr[addr.String()]
	return p, ok
}

// Range calls fn for every connected peer, in no particular order. fn must
// not call back into the registry (Add/Remove) from within the callback.
func (r *Registry) Range(fn func(*Peer)) {
	r.mu.RLock()
	peers := make([]*Peer, 0, len(r.byID))
	for _, p := range r.byID {
		peers = append(peers, p)
	}
	r.mu.RUnlock()

	for _, p := range peers {
		fn(p)
	}
}

// RangeExcept calls fn for every connected peer other than except.
func (r *Registry) RangeExcept(except byte, fn func(*Peer)) {
	r.Range(func(p *Peer) {
		if p.ID != except {
			fn(p)
		}
	})
}
