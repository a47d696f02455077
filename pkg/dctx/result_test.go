package dctx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResult_TakeTransfersOwnershipOnce(t *testing.T) {
	r := newResult(true, [][]byte{[]byte("a"), []byte("b")})
	require.Equal(t, 2, r.Count())
	require.Equal(t, "a", string(r.Peek(0)))

	got := r.Take(0)
	require.Equal(t, "a", string(got))
	require.Nil(t, r.Take(0))
	require.Nil(t, r.Peek(0))
	require.Equal(t, 0, r.Len(0))

	require.Equal(t, "b", string(r.Peek(1)))
}

func TestResult_FreeIsIdempotent(t *testing.T) {
	r := newResult(true, [][]byte{[]byte("a")})
	r.Free()
	r.Free()
	require.Nil(t, r.Peek(0))
}

func TestResult_Sentinels_FreeRepeatedlyIsSafe(t *testing.T) {
	require.False(t, notOkResult.Ok())
	require.Equal(t, 0, notOkResult.Count())
	notOkResult.Free()
	notOkResult.Free()

	require.True(t, okEmptyResult.Ok())
	require.Equal(t, 0, okEmptyResult.Count())
	okEmptyResult.Free()
}

func TestResult_NilResult_SafeReads(t *testing.T) {
	var r *Result
	require.False(t, r.Ok())
	require.Equal(t, 0, r.Count())
	require.Nil(t, r.Peek(0))
	require.Nil(t, r.Take(0))
	r.Free()
}
