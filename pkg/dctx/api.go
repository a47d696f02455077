package dctx

import (
	"fmt"

	"github.com/arjunv/dctx/pkg/dctx/types"
)

const maxBodyLen = 0xFFFFFFFF

func validateSubmit(series string, bodyLen int) error {
	if len(series) > types.MaxSeriesLen {
		return fmt.Errorf("dctx: series length %d exceeds %d", len(series), types.MaxSeriesLen)
	}
	if bodyLen < 0 || uint64(bodyLen) > maxBodyLen {
		return fmt.Errorf("dctx: body length %d out of range", bodyLen)
	}
	return nil
}

// submit is the common path behind every public entry point: validate,
// fill in this process's own contribution under the context mutex (the
// one mutation the submit path is allowed to make directly, per spec.md
// section 3's invariants), then wake the I/O thread to do the rest.
func (c *Context) submit(kind types.Kind, series string, body []byte, mode types.OwnershipMode) (*Operation, error) {
	if err := validateSubmit(series, len(body)); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != types.StatusRunning {
		return nil, fmt.Errorf("dctx: context is not running")
	}

	payload := body
	if mode == types.OwnershipCopy {
		payload = append([]byte(nil), body...)
	}

	op := c.getOpForCall(kind, series)
	c.met.OpsSubmitted.WithLabelValues(kind.String()).Inc()

	isChief := c.cfg.Role() == types.RoleChief
	switch kind {
	case types.KindGather:
		if isChief {
			op.gatherChief.recvd[0] = payload
			op.gatherChief.nrecvd++
		} else {
			op.gatherWorker.payload = payload
		}
	case types.KindBroadcast:
		if isChief {
			op.broadcastChief.data = payload
		} else {
			op.broadcastWorker.called = true
		}
	case types.KindAllgather:
		if isChief {
			op.allgatherChief.recvd[0] = payload
			op.allgatherChief.nrecvd++
		} else {
			op.allgatherWorker.payload = payload
		}
	}

	c.wake()
	return op, nil
}

// GatherMove submits body as this process's gather contribution, taking
// ownership: the caller must not touch body again.
func (c *Context) GatherMove(series string, body []byte) (*Operation, error) {
	return c.submit(types.KindGather, series, body, types.OwnershipMove)
}

// GatherCopy submits a copy of body, leaving the caller free to reuse it
// immediately.
func (c *Context) GatherCopy(series string, body []byte) (*Operation, error) {
	return c.submit(types.KindGather, series, body, types.OwnershipCopy)
}

// GatherBorrow submits body without copying it; the caller must not
// mutate or release it until the returned Operation's Await returns
// (spec.md section 4.4.1's nofree contract).
func (c *Context) GatherBorrow(series string, body []byte) (*Operation, error) {
	return c.submit(types.KindGather, series, body, types.OwnershipBorrow)
}

// Broadcast submits body as the chief's payload for series; a worker's
// body argument is ignored (broadcast workers only receive). The chief's
// payload is always copied, matching spec.md section 4.4.2.
func (c *Context) Broadcast(series string, body []byte) (*Operation, error) {
	return c.submit(types.KindBroadcast, series, body, types.OwnershipCopy)
}

// AllgatherMove submits body as this process's allgather contribution,
// taking ownership.
func (c *Context) AllgatherMove(series string, body []byte) (*Operation, error) {
	return c.submit(types.KindAllgather, series, body, types.OwnershipMove)
}

// AllgatherCopy submits a copy of body.
func (c *Context) AllgatherCopy(series string, body []byte) (*Operation, error) {
	return c.submit(types.KindAllgather, series, body, types.OwnershipCopy)
}

// AllgatherBorrow submits body without copying it, under the same
// nofree contract as GatherBorrow.
func (c *Context) AllgatherBorrow(series string, body []byte) (*Operation, error) {
	return c.submit(types.KindAllgather, series, body, types.OwnershipBorrow)
}

// Await blocks until op completes or its Context terminates, returning
// an owned Result (spec.md section 4.5). Calling Await twice on the same
// Operation is not supported, matching the source's single-await, then-
// free lifecycle.
func (op *Operation) Await() *Result {
	c := op.ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	for !op.ready && c.status == types.StatusRunning {
		c.cond.Wait()
	}

	delete(c.opsByID, op.id)
	if !op.ready {
		if op.elem != nil {
			c.inflight.Remove(op.elem)
			c.met.Inflight.Set(float64(c.inflight.Len()))
		}
		return notOkResult
	}
	if op.elem != nil {
		c.complete.Remove(op.elem)
		c.met.Complete.Set(float64(c.complete.Len()))
	}
	if !op.ok {
		return notOkResult
	}
	return c.resultFor(op)
}

// resultFor builds the Result a completed, ok Operation hands back,
// per the per-kind/role Count rules in spec.md section 8.
func (c *Context) resultFor(op *Operation) *Result {
	isChief := c.cfg.Role() == types.RoleChief
	switch op.kind {
	case types.KindGather:
		if isChief {
			bufs := make([][]byte, len(op.gatherChief.recvd))
			copy(bufs, op.gatherChief.recvd)
			return newResult(true, bufs)
		}
		return okEmptyResult
	case types.KindBroadcast:
		if isChief {
			return newResult(true, [][]byte{op.broadcastChief.data})
		}
		return newResult(true, [][]byte{op.broadcastWorker.recvd})
	case types.KindAllgather:
		if isChief {
			bufs := make([][]byte, len(op.allgatherChief.recvd))
			copy(bufs, op.allgatherChief.recvd)
			return newResult(true, bufs)
		}
		bufs := make([][]byte, len(op.allgatherWorker.recvd))
		copy(bufs, op.allgatherWorker.recvd)
		return newResult(true, bufs)
	}
	return notOkResult
}
