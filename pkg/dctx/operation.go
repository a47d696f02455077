package dctx

import (
	"time"

	"github.com/arjunv/dctx/pkg/dctx/dlist"
	"github.com/arjunv/dctx/pkg/dctx/transport"
	"github.com/arjunv/dctx/pkg/dctx/types"
	"github.com/arjunv/dctx/pkg/dctx/wire"
)

// Operation is a handle to one in-progress or completed collective call
// (spec.md section 3). It lives on exactly one of its Context's inflight
// or complete lists at any time; its kind-specific state is mutated only
// by the I/O thread, except for the brief, mutex-held bookkeeping the
// submit path performs before handing it off.
type Operation struct {
	ctx    *Context
	id     types.OpID
	kind   types.Kind
	series string

	ok    bool
	ready bool

	elem *dlist.Elem

	gatherChief     *gatherChiefState
	gatherWorker    *gatherWorkerState
	broadcastChief  *broadcastChiefState
	broadcastWorker *broadcastWorkerState
	allgatherChief  *allgatherChiefState
	allgatherWorker *allgatherWorkerState
}

type gatherChiefState struct {
	recvd  [][]byte
	nrecvd int
}

type gatherWorkerState struct {
	payload      []byte
	headerQueued bool
	bodyQueued   bool
}

type broadcastChiefState struct {
	data         []byte
	headerQueued bool
	nsent        int
}

type broadcastWorkerState struct {
	called bool
	recvd  []byte
}

type allgatherChiefState struct {
	recvd        [][]byte
	nrecvd       int
	writeStarted bool
	nsent        int
}

type allgatherWorkerState struct {
	payload      []byte
	headerQueued bool
	bodyQueued   bool
	recvd        [][]byte
	nrecvd       int
}

// newOperation allocates an Operation of the given kind/series, wiring
// up only the per-kind state relevant to this process's role, and
// assigns it a stable OpID so the transport layer can reference it from
// a write-completion descriptor without holding a pointer into the
// engine (spec.md section 9).
func (c *Context) newOperation(kind types.Kind, series string) *Operation {
	c.nextOpID++
	op := &Operation{ctx: c, id: c.nextOpID, kind: kind, series: series}

	isChief := c.cfg.Role() == types.RoleChief
	switch kind {
	case types.KindGather:
		if isChief {
			op.gatherChief = &gatherChiefState{recvd: make([][]byte, c.cfg.Size)}
		} else {
			op.gatherWorker = &gatherWorkerState{}
		}
	case types.KindBroadcast:
		if isChief {
			op.broadcastChief = &broadcastChiefState{}
		} else {
			op.broadcastWorker = &broadcastWorkerState{}
		}
	case types.KindAllgather:
		if isChief {
			op.allgatherChief = &allgatherChiefState{recvd: make([][]byte, c.cfg.Size)}
		} else {
			op.allgatherWorker = &allgatherWorkerState{recvd: make([][]byte, c.cfg.Size)}
		}
	}

	c.opsByID[op.id] = op
	return op
}

// markOpCompleted implements spec.md section 4.5: unlink from inflight,
// append to complete, flip ready monotonically, wake every waiter.
func (c *Context) markOpCompleted(op *Operation) {
	if op.ready {
		return
	}
	if op.elem != nil {
		c.inflight.Remove(op.elem)
	}
	op.ready = true
	op.elem = c.complete.PushBack(op)
	c.met.Inflight.Set(float64(c.inflight.Len()))
	c.met.Complete.Set(float64(c.complete.Len()))
	c.met.OpsCompleted.WithLabelValues(op.kind.String(), okLabel(op.ok)).Inc()
	c.cond.Broadcast()
}

func okLabel(ok bool) string {
	if ok {
		return "true"
	}
	return "false"
}

// advanceState is advance_state from spec.md section 4.6: honour close,
// check readiness, then give every inflight operation a chance to
// perform pending sends. Must be called with mu held.
func (c *Context) advanceState() {
	if c.status != types.StatusRunning {
		return
	}
	if !c.ready() {
		return
	}
	for e := c.inflight.Front(); e != nil; {
		next := e.Next()
		op := e.Value.(*Operation)
		c.advanceOperation(op)
		e = next
	}
	c.sendKeepalives()
}

// sendKeepalives implements SPEC_FULL.md's "Keepalive framing": a ranked
// connection with no inflight or pending write that has been idle for
// keepaliveIdle gets a single KEEPALIVE write, purely to give the peer's
// OS-level idle timers something to notice a half-open socket with.
func (c *Context) sendKeepalives() {
	now := time.Now()
	if c.cfg.Role() == types.RoleChief {
		c.registry.EachPeer(func(_ types.Rank, conn *transport.Connection) {
			c.maybeSendKeepalive(conn, now)
		})
		return
	}
	if c.chiefConn != nil {
		c.maybeSendKeepalive(c.chiefConn, now)
	}
}

func (c *Context) maybeSendKeepalive(conn *transport.Connection, now time.Time) {
	if !conn.WriteIdle() || now.Sub(conn.LastActivity) < keepaliveIdle {
		return
	}
	buf := wire.EncodeKeepalive()
	c.submitWrite(conn, buf, types.WriteDescriptor{Kind: types.DescFree, Buffer: buf})
}

// ready mirrors spec.md section 4.6: chief waits for every peer slot to
// be filled, a worker waits to be connected.
func (c *Context) ready() bool {
	if c.cfg.Role() == types.RoleChief {
		return c.registry.PeerCount()+1 == c.cfg.Size
	}
	return c.chiefConn != nil
}

func (c *Context) advanceOperation(op *Operation) {
	switch op.kind {
	case types.KindGather:
		if c.cfg.Role() == types.RoleChief {
			c.advanceGatherChief(op)
		} else {
			c.advanceGatherWorker(op)
		}
	case types.KindBroadcast:
		if c.cfg.Role() == types.RoleChief {
			c.advanceBroadcastChief(op)
		} else {
			c.advanceBroadcastWorker(op)
		}
	case types.KindAllgather:
		if c.cfg.Role() == types.RoleChief {
			c.advanceAllgatherChief(op)
		} else {
			c.advanceAllgatherWorker(op)
		}
	}
}

// onOpWriteComplete is invoked when a DescOp write-completion descriptor
// referencing op finishes. seq distinguishes which of possibly several
// shared-descriptor writes completed (broadcast/allgather on the chief).
func (c *Context) onOpWriteComplete(op *Operation, seq int) {
	switch op.kind {
	case types.KindGather:
		if c.cfg.Role() == types.RoleWorker {
			op.ok = true
			c.markOpCompleted(op)
		}
	case types.KindBroadcast:
		if c.cfg.Role() == types.RoleChief {
			st := op.broadcastChief
			st.nsent++
			if st.nsent == c.registry.PeerCount() {
				op.ok = true
				c.markOpCompleted(op)
			}
		}
	case types.KindAllgather:
		if c.cfg.Role() == types.RoleChief {
			st := op.allgatherChief
			st.nsent++
			if st.nsent == c.cfg.Size*c.registry.PeerCount() {
				op.ok = true
				c.markOpCompleted(op)
			}
		} else {
			// Worker's own contribution finished sending; completion is
			// driven by advanceAllgatherWorker's nrecvd count instead.
		}
	}
}

// --- Gather ---

func (c *Context) advanceGatherChief(op *Operation) {
	st := op.gatherChief
	if st.nrecvd == c.cfg.Size {
		op.ok = true
		c.markOpCompleted(op)
	}
}

func (c *Context) advanceGatherWorker(op *Operation) {
	st := op.gatherWorker
	if st.bodyQueued {
		return
	}
	conn := c.chiefConn
	if conn == nil {
		return
	}
	series := []byte(op.series)
	header := wire.EncodeGatherHeader(series, len(st.payload))
	c.submitWrite(conn, header, types.WriteDescriptor{Kind: types.DescFree, Buffer: header})
	st.headerQueued = true
	c.submitWrite(conn, st.payload, types.WriteDescriptor{Kind: types.DescOp, Op: op.id, Buffer: st.payload})
	st.bodyQueued = true
}

// --- Broadcast ---

func (c *Context) advanceBroadcastChief(op *Operation) {
	st := op.broadcastChief
	if st.headerQueued {
		return
	}
	st.headerQueued = true
	npeers := c.registry.PeerCount()
	if npeers == 0 {
		op.ok = true
		c.markOpCompleted(op)
		return
	}
	series := []byte(op.series)
	seq := 0
	c.registry.EachPeer(func(_ types.Rank, conn *transport.Connection) {
		header := wire.EncodeBroadcastHeader(series, len(st.data))
		c.submitWrite(conn, header, types.WriteDescriptor{Kind: types.DescFree, Buffer: header})
		c.submitWrite(conn, st.data, types.WriteDescriptor{Kind: types.DescOp, Op: op.id, Seq: seq, Buffer: st.data})
		seq++
	})
}

func (c *Context) advanceBroadcastWorker(op *Operation) {
	st := op.broadcastWorker
	if st.called && st.recvd != nil {
		op.ok = true
		c.markOpCompleted(op)
	}
}

// --- Allgather ---

func (c *Context) advanceAllgatherChief(op *Operation) {
	st := op.allgatherChief
	if st.writeStarted || st.nrecvd != c.cfg.Size {
		return
	}
	st.writeStarted = true
	npeers := c.registry.PeerCount()
	if npeers == 0 {
		op.ok = true
		c.markOpCompleted(op)
		return
	}
	series := []byte(op.series)
	seq := 0
	for j := 0; j < c.cfg.Size; j++ {
		body := st.recvd[j]
		c.registry.EachPeer(func(_ types.Rank, conn *transport.Connection) {
			header := wire.EncodeAllgatherHeader(series, uint32(j), len(body))
			c.submitWrite(conn, header, types.WriteDescriptor{Kind: types.DescFree, Buffer: header})
			c.submitWrite(conn, body, types.WriteDescriptor{Kind: types.DescOp, Op: op.id, Seq: seq, Buffer: body})
			seq++
		})
	}
}

func (c *Context) advanceAllgatherWorker(op *Operation) {
	st := op.allgatherWorker
	if !st.bodyQueued {
		conn := c.chiefConn
		if conn == nil {
			return
		}
		series := []byte(op.series)
		header := wire.EncodeAllgatherHeader(series, uint32(c.cfg.Rank), len(st.payload))
		c.submitWrite(conn, header, types.WriteDescriptor{Kind: types.DescFree, Buffer: header})
		st.headerQueued = true
		c.submitWrite(conn, st.payload, types.WriteDescriptor{Kind: types.DescOp, Op: op.id, Buffer: st.payload})
		st.bodyQueued = true
	}
	if st.nrecvd == c.cfg.Size {
		op.ok = true
		c.markOpCompleted(op)
	}
}
