package dctx

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arjunv/dctx/pkg/dctx/dlist"
	"github.com/arjunv/dctx/pkg/dctx/metrics"
	"github.com/arjunv/dctx/pkg/dctx/types"
)

// newBareContext builds a Context with just enough state for the
// matching logic to run against, without opening any socket.
func newBareContext(cfg types.Configuration) *Context {
	c := &Context{
		cfg:      cfg,
		inflight: dlist.New(),
		complete: dlist.New(),
		opsByID:  make(map[types.OpID]*Operation),
		status:   types.StatusRunning,
		met:      metrics.New(strconv.Itoa(int(cfg.Rank))),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func chiefCfg(size int) types.Configuration {
	return types.Configuration{Rank: 0, Size: size, ChiefHost: "h", ChiefSvc: "1"}
}

func workerCfg(rank, size int) types.Configuration {
	return types.Configuration{Rank: types.Rank(rank), Size: size, ChiefHost: "h", ChiefSvc: "1"}
}

func TestGetOpForRecv_Gather_FirstEmptySlotWins(t *testing.T) {
	c := newBareContext(chiefCfg(3))

	op1 := c.getOpForRecv(types.KindGather, "s", 1)
	op1.gatherChief.recvd[1] = []byte("r1")
	op1.gatherChief.nrecvd++

	op2 := c.getOpForRecv(types.KindGather, "s", 1)
	require.NotSame(t, op1, op2, "rank 1's slot is already full, a new operation must be created")

	op3 := c.getOpForRecv(types.KindGather, "s", 2)
	require.Same(t, op1, op3, "rank 2's slot on op1, the first inflight op, is still empty, it should be reused")
}

func TestGetOpForRecv_InterleavedSeriesAreIndependent(t *testing.T) {
	c := newBareContext(chiefCfg(3))

	a := c.getOpForRecv(types.KindGather, "a", 1)
	b := c.getOpForRecv(types.KindGather, "b", 1)
	require.NotSame(t, a, b)
	require.Equal(t, 2, c.inflight.Len())
}

func TestGetOpForCall_ChiefGather_FilledSlotZeroNotReused(t *testing.T) {
	c := newBareContext(chiefCfg(3))

	op1 := c.getOpForCall(types.KindGather, "s")
	op1.gatherChief.recvd[0] = []byte("chief")
	op1.gatherChief.nrecvd++

	op2 := c.getOpForCall(types.KindGather, "s")
	require.NotSame(t, op1, op2, "slot 0 already filled, must not be reused for a second chief call")
}

func TestGetOpForCall_ChiefGather_ReceivedButUncalledOpIsReused(t *testing.T) {
	c := newBareContext(chiefCfg(3))

	recvOp := c.getOpForRecv(types.KindGather, "s", 1)
	recvOp.gatherChief.recvd[1] = []byte("w1")
	recvOp.gatherChief.nrecvd++

	callOp := c.getOpForCall(types.KindGather, "s")
	require.Same(t, recvOp, callOp, "an inflight op with contributions but an empty slot 0 should be reused")
}

// TestGetOpForCall_WorkerBroadcastFirstWins pins down the open-question
// behavior from spec.md section 9: a worker that calls broadcast twice
// for the same series before either is received gets the same
// (first-found) inflight operation both times.
func TestGetOpForCall_WorkerBroadcastFirstWins(t *testing.T) {
	c := newBareContext(workerCfg(1, 3))

	op1 := c.getOpForCall(types.KindBroadcast, "x")
	op2 := c.getOpForCall(types.KindBroadcast, "x")
	require.Same(t, op1, op2)
	require.Equal(t, 1, c.inflight.Len())
}

func TestGetOpForCall_ChiefBroadcast_NeverReused(t *testing.T) {
	c := newBareContext(chiefCfg(3))

	op1 := c.getOpForCall(types.KindBroadcast, "x")
	op2 := c.getOpForCall(types.KindBroadcast, "x")
	require.NotSame(t, op1, op2)
}

func TestGetOpForCall_WorkerGather_NeverReused(t *testing.T) {
	c := newBareContext(workerCfg(1, 3))

	op1 := c.getOpForCall(types.KindGather, "x")
	op2 := c.getOpForCall(types.KindGather, "x")
	require.NotSame(t, op1, op2)
}

func TestGetOpForCall_Allgather_NeverReused(t *testing.T) {
	chief := newBareContext(chiefCfg(3))
	require.NotSame(t, chief.getOpForCall(types.KindAllgather, "x"), chief.getOpForCall(types.KindAllgather, "x"))

	worker := newBareContext(workerCfg(1, 3))
	require.NotSame(t, worker.getOpForCall(types.KindAllgather, "x"), worker.getOpForCall(types.KindAllgather, "x"))
}

func TestMarkOpCompleted_MovesListsAndIsIdempotent(t *testing.T) {
	c := newBareContext(chiefCfg(3))

	op := c.getOpForRecv(types.KindGather, "s", 1)
	require.Equal(t, 1, c.inflight.Len())
	require.Equal(t, 0, c.complete.Len())

	op.ok = true
	c.markOpCompleted(op)
	require.True(t, op.ready)
	require.Equal(t, 0, c.inflight.Len())
	require.Equal(t, 1, c.complete.Len())

	// Calling again must be a no-op: ready is monotone false->true once.
	c.markOpCompleted(op)
	require.Equal(t, 1, c.complete.Len())
}
