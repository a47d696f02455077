// Package e2e runs the collective operations against real loopback TCP
// connections end to end, mirroring spec.md section 8's named scenarios:
// A-C use one chief and two workers, E opens a lone chief. Scenario D, a
// decoder-only check, lives in pkg/dctx/wire/decoder_test.go.
package e2e

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/arjunv/dctx/internal/dctxtest"
	"github.com/arjunv/dctx/pkg/dctx"
	"github.com/arjunv/dctx/pkg/dctx/types"
)

func TestScenarioA_TwoInterleavedGathers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cl, err := dctxtest.OpenCluster(3)
	require.NoError(t, err)
	defer cl.Close()

	chiefA, err := cl.Chief.GatherCopy("a", []byte("chief"))
	require.NoError(t, err)
	w1A, err := cl.Workers[0].GatherCopy("a", []byte("worker1"))
	require.NoError(t, err)
	w2A, err := cl.Workers[1].GatherCopy("a", []byte("worker 2"))
	require.NoError(t, err)

	chiefB, err := cl.Chief.GatherCopy("b", []byte("CHIEF"))
	require.NoError(t, err)
	w1B, err := cl.Workers[0].GatherCopy("b", []byte("WORKER1"))
	require.NoError(t, err)
	w2B, err := cl.Workers[1].GatherCopy("b", []byte("WORKER 2"))
	require.NoError(t, err)

	ra := chiefA.Await()
	require.True(t, ra.Ok())
	require.Equal(t, 3, ra.Count())
	require.Equal(t, "chief", string(ra.Peek(0)))
	require.Equal(t, "worker1", string(ra.Peek(1)))
	require.Equal(t, "worker 2", string(ra.Peek(2)))

	rb := chiefB.Await()
	require.True(t, rb.Ok())
	require.Equal(t, "CHIEF", string(rb.Peek(0)))
	require.Equal(t, "WORKER1", string(rb.Peek(1)))
	require.Equal(t, "WORKER 2", string(rb.Peek(2)))

	for _, op := range []*dctx.Operation{w1A, w2A, w1B, w2B} {
		r := op.Await()
		require.True(t, r.Ok())
		require.Equal(t, 0, r.Count())
	}
}

func TestScenarioB_Broadcast(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cl, err := dctxtest.OpenCluster(3)
	require.NoError(t, err)
	defer cl.Close()

	chiefOp, err := cl.Chief.Broadcast("x", []byte("bchief"))
	require.NoError(t, err)
	w1Op, err := cl.Workers[0].Broadcast("x", nil)
	require.NoError(t, err)
	w2Op, err := cl.Workers[1].Broadcast("x", nil)
	require.NoError(t, err)

	for _, op := range []*dctx.Operation{chiefOp, w1Op, w2Op} {
		r := op.Await()
		require.True(t, r.Ok())
		require.Equal(t, 1, r.Count())
		require.Equal(t, "bchief", string(r.Peek(0)))
	}
}

func TestScenarioC_Allgather(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cl, err := dctxtest.OpenCluster(3)
	require.NoError(t, err)
	defer cl.Close()

	chiefOp, err := cl.Chief.AllgatherCopy("x", []byte("ag0"))
	require.NoError(t, err)
	w1Op, err := cl.Workers[0].AllgatherCopy("x", []byte("ag1"))
	require.NoError(t, err)
	w2Op, err := cl.Workers[1].AllgatherCopy("x", []byte("ag2"))
	require.NoError(t, err)

	want := []string{"ag0", "ag1", "ag2"}
	for _, op := range []*dctx.Operation{chiefOp, w1Op, w2Op} {
		r := op.Await()
		require.True(t, r.Ok())
		require.Equal(t, 3, r.Count())
		for i, w := range want {
			require.Equal(t, w, string(r.Peek(i)))
		}
	}
}

func TestScenarioE_CloseRacesSubmission(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c, err := dctx.Open(types.Configuration{
		Rank: 0, Size: 2,
		ChiefHost: "127.0.0.1", ChiefSvc: "0",
	})
	require.NoError(t, err)

	op, err := c.GatherCopy("s", []byte("x"))
	require.NoError(t, err)
	c.Close()

	done := make(chan *dctx.Result, 1)
	go func() { done <- op.Await() }()

	select {
	case r := <-done:
		require.False(t, r.Ok())
	case <-time.After(2 * time.Second):
		t.Fatal("Await hung instead of returning a not-ok Result")
	}
}
