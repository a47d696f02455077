package dctx

import (
	"fmt"

	"github.com/arjunv/dctx/pkg/dctx/transport"
	"github.com/arjunv/dctx/pkg/dctx/types"
	"github.com/arjunv/dctx/pkg/dctx/wire"
)

// getOpForRecv implements spec.md section 4.5's receive-side matching:
// scan inflight for an operation of (kind, series) whose slot for this
// sender is still empty, creating a fresh one if none matches. The
// first-empty-slot rule is what lets interleaved series stay independent
// while per-sender contributions land in order.
func (c *Context) getOpForRecv(kind types.Kind, series string, rank types.Rank) *Operation {
	for e := c.inflight.Front(); e != nil; e = e.Next() {
		op := e.Value.(*Operation)
		if op.kind != kind || op.series != series {
			continue
		}
		switch kind {
		case types.KindGather:
			if op.gatherChief != nil && op.gatherChief.recvd[rank] == nil {
				return op
			}
		case types.KindBroadcast:
			if op.broadcastWorker != nil && op.broadcastWorker.recvd == nil {
				return op
			}
		case types.KindAllgather:
			if op.allgatherChief != nil && op.allgatherChief.recvd[rank] == nil {
				return op
			}
			if op.allgatherWorker != nil && op.allgatherWorker.recvd[rank] == nil {
				return op
			}
		}
	}
	op := c.newOperation(kind, series)
	op.elem = c.inflight.PushBack(op)
	c.met.Inflight.Set(float64(c.inflight.Len()))
	return op
}

// getOpForCall implements spec.md section 4.5's call-side matching. Only
// chief gather and worker broadcast may reuse an inflight operation that
// has already received messages but not yet been called; every other
// combination always starts a fresh operation.
func (c *Context) getOpForCall(kind types.Kind, series string) *Operation {
	isChief := c.cfg.Role() == types.RoleChief
	reusable := (kind == types.KindGather && isChief) || (kind == types.KindBroadcast && !isChief)
	if reusable {
		for e := c.inflight.Front(); e != nil; e = e.Next() {
			op := e.Value.(*Operation)
			if op.kind != kind || op.series != series {
				continue
			}
			switch kind {
			case types.KindGather:
				if op.gatherChief != nil && op.gatherChief.recvd[0] == nil {
					return op
				}
			case types.KindBroadcast:
				if op.broadcastWorker != nil {
					// First inflight match wins; ambiguous under unusual
					// submit ordering if the caller issues two calls for
					// the same series before either is received, as
					// spec.md section 9 notes.
					return op
				}
			}
		}
	}
	op := c.newOperation(kind, series)
	op.elem = c.inflight.PushBack(op)
	c.met.Inflight.Set(float64(c.inflight.Len()))
	return op
}

// onMessage dispatches a fully-decoded frame from conn to the matching
// logic. It runs on the I/O thread, under mu, as part of Decoder.Feed.
func (c *Context) onMessage(conn *transport.Connection, m wire.Message) error {
	switch m.Tag {
	case wire.TagInit:
		return c.onInit(conn, m)
	case wire.TagKeepalive:
		return nil
	case wire.TagGather:
		return c.onGather(conn, m)
	case wire.TagBroadcast:
		return c.onBroadcast(conn, m)
	case wire.TagAllgather:
		return c.onAllgather(conn, m)
	default:
		return fmt.Errorf("dctx: unrecognized wire tag %v", m.Tag)
	}
}

func (c *Context) onInit(conn *transport.Connection, m wire.Message) error {
	if c.cfg.Role() != types.RoleChief {
		return fmt.Errorf("dctx: worker received unexpected INIT")
	}
	if conn.Rank >= 0 {
		return fmt.Errorf("dctx: duplicate INIT on an already-promoted connection")
	}
	if err := c.registry.Promote(conn, types.Rank(m.Rank)); err != nil {
		return err
	}
	c.met.PreinitConns.Set(float64(c.registry.PreinitCount()))
	c.met.PeerConns.Set(float64(c.registry.PeerCount()))
	return nil
}

func (c *Context) onGather(conn *transport.Connection, m wire.Message) error {
	if c.cfg.Role() != types.RoleChief {
		return fmt.Errorf("dctx: worker received GATHER, a protocol violation")
	}
	if conn.Rank < 0 {
		return fmt.Errorf("dctx: GATHER received on a preinit connection")
	}
	op := c.getOpForRecv(types.KindGather, string(m.Series), conn.Rank)
	st := op.gatherChief
	st.recvd[conn.Rank] = m.Body
	st.nrecvd++
	return nil
}

func (c *Context) onBroadcast(conn *transport.Connection, m wire.Message) error {
	if c.cfg.Role() != types.RoleWorker {
		return fmt.Errorf("dctx: chief received BROADCAST, a protocol violation")
	}
	op := c.getOpForRecv(types.KindBroadcast, string(m.Series), 0)
	op.broadcastWorker.recvd = m.Body
	return nil
}

func (c *Context) onAllgather(conn *transport.Connection, m wire.Message) error {
	if c.cfg.Role() == types.RoleChief {
		if conn.Rank < 0 {
			return fmt.Errorf("dctx: ALLGATHER received on a preinit connection")
		}
		op := c.getOpForRecv(types.KindAllgather, string(m.Series), conn.Rank)
		st := op.allgatherChief
		st.recvd[conn.Rank] = m.Body
		st.nrecvd++
		return nil
	}
	op := c.getOpForRecv(types.KindAllgather, string(m.Series), types.Rank(m.Rank))
	st := op.allgatherWorker
	st.recvd[m.Rank] = m.Body
	st.nrecvd++
	return nil
}
