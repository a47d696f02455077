package transport

import (
	"fmt"

	"github.com/arjunv/dctx/pkg/dctx/dlist"
	"github.com/arjunv/dctx/pkg/dctx/types"
)

// Registry is the chief-side connection bookkeeping from spec.md section
// 4.3: every accepted socket starts on the preinit list, untyped by rank,
// and is promoted into the peers array by index once its INIT message
// validates. Workers never need a Registry; they hold a single
// Connection to the chief directly.
type Registry struct {
	preinit *dlist.List
	peers   []*Connection
	npeers  int
}

// NewRegistry allocates a registry sized for a group of the given size
// (peers[0] is unused; the chief does not connect to itself).
func NewRegistry(size int) *Registry {
	return &Registry{
		preinit: dlist.New(),
		peers:   make([]*Connection, size),
	}
}

// AddPreinit links a freshly accepted connection onto the preinit list.
func (r *Registry) AddPreinit(c *Connection) {
	c.elem = r.preinit.PushBack(c)
}

// RemovePreinit unlinks a connection from the preinit list, e.g. because
// it closed before ever sending INIT.
func (r *Registry) RemovePreinit(c *Connection) {
	if c.elem != nil {
		r.preinit.Remove(c.elem)
		c.elem = nil
	}
}

// Promote validates and installs rank on c, moving it off the preinit
// list and into the peers array. It is the only place rank-range and
// duplicate-rank checks happen (spec.md section 4.3/8 edge cases).
func (r *Registry) Promote(c *Connection, rank types.Rank) error {
	if rank < 0 || int(rank) >= len(r.peers) {
		return fmt.Errorf("dctx: rank %d out of range [0,%d)", rank, len(r.peers))
	}
	if rank == 0 {
		return fmt.Errorf("dctx: rank 0 is the chief, refusing peer INIT with rank 0")
	}
	if r.peers[rank] != nil {
		return fmt.Errorf("dctx: duplicate INIT for rank %d", rank)
	}
	r.RemovePreinit(c)
	c.Rank = rank
	r.peers[rank] = c
	r.npeers++
	return nil
}

// RemovePeer drops a ranked connection, e.g. on close.
func (r *Registry) RemovePeer(rank types.Rank) {
	if int(rank) >= 0 && int(rank) < len(r.peers) && r.peers[rank] != nil {
		r.peers[rank] = nil
		r.npeers--
	}
}

// Peer returns the connection for rank, or nil if it has not (yet, or
// any longer) been promoted.
func (r *Registry) Peer(rank types.Rank) *Connection {
	if int(rank) < 0 || int(rank) >= len(r.peers) {
		return nil
	}
	return r.peers[rank]
}

// PreinitCount and PeerCount feed the preinit/peer connection gauges.
func (r *Registry) PreinitCount() int { return r.preinit.Len() }
func (r *Registry) PeerCount() int    { return r.npeers }

// EachPreinit visits every connection still awaiting INIT.
func (r *Registry) EachPreinit(fn func(*Connection)) {
	r.preinit.Each(func(e *dlist.Elem) { fn(e.Value.(*Connection)) })
}

// EachPeer visits every promoted connection, in rank order.
func (r *Registry) EachPeer(fn func(types.Rank, *Connection)) {
	for rank, c := range r.peers {
		if c != nil {
			fn(types.Rank(rank), c)
		}
	}
}
