package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncode_SeriesBoundary(t *testing.T) {
	require.NotPanics(t, func() { EncodeGatherHeader(bytes.Repeat([]byte{'a'}, 0), 0) })
	require.NotPanics(t, func() { EncodeGatherHeader(bytes.Repeat([]byte{'a'}, 255), 0) })
	require.Panics(t, func() { EncodeGatherHeader(bytes.Repeat([]byte{'a'}, 256), 0) })
}

func TestEncode_BodyLenBoundary(t *testing.T) {
	require.NotPanics(t, func() { EncodeGatherHeader(nil, 0) })
	require.NotPanics(t, func() { EncodeGatherHeader(nil, 0xFFFFFFFF) })
	require.Panics(t, func() { EncodeGatherHeader(nil, 0x100000000) })
	require.Panics(t, func() { EncodeGatherHeader(nil, -1) })
}

func TestEncode_HeaderDoesNotCopyBody(t *testing.T) {
	// The header encoder only ever receives the body's length, never the
	// body bytes themselves -- verified structurally: EncodeGatherHeader's
	// signature takes an int, not a []byte, for the payload.
	h := EncodeGatherHeader([]byte("abc"), 4)
	require.Equal(t, byte(TagGather), h[0])
	require.Equal(t, byte(3), h[1])
	require.Equal(t, "abc", string(h[2:5]))
}
