package wire

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, frame []byte, chunker func([]byte) [][]byte) []Message {
	t.Helper()
	var got []Message
	dec := NewDecoder(func(m Message) error {
		got = append(got, m)
		return nil
	})
	for _, chunk := range chunker(frame) {
		require.NoError(t, dec.Feed(chunk))
	}
	return got
}

func wholeChunk(b []byte) [][]byte { return [][]byte{b} }

func byteAtATime(b []byte) [][]byte {
	chunks := make([][]byte, len(b))
	for i, c := range b {
		chunks[i] = []byte{c}
	}
	return chunks
}

func randomChunks(seed int64) func([]byte) [][]byte {
	return func(b []byte) [][]byte {
		r := rand.New(rand.NewSource(seed))
		var chunks [][]byte
		for len(b) > 0 {
			n := 1 + r.Intn(len(b))
			chunks = append(chunks, b[:n])
			b = b[n:]
		}
		return chunks
	}
}

// TestDecoder_GatherFrame_ChunkedOneByteAtATime is spec.md Scenario D.
func TestDecoder_GatherFrame_ChunkedOneByteAtATime(t *testing.T) {
	frame := []byte("g\x03ser\x00\x00\x00\x04abcd")
	got := collect(t, frame, byteAtATime)
	require.Len(t, got, 1)
	require.Equal(t, TagGather, got[0].Tag)
	require.Equal(t, "ser", string(got[0].Series))
	require.Equal(t, "abcd", string(got[0].Body))
}

func TestDecoder_RoundTrip_AnyPartition(t *testing.T) {
	cases := []struct {
		name  string
		frame []byte
		want  Message
	}{
		{"init", EncodeInit(7), Message{Tag: TagInit, Rank: 7}},
		{"gather-empty-series-empty-body", frameOf(EncodeGatherHeader(nil, 0), nil), Message{Tag: TagGather, Series: []byte{}, Body: []byte{}}},
		{"gather", frameOf(EncodeGatherHeader([]byte("abc"), 3), []byte("xyz")), Message{Tag: TagGather, Series: []byte("abc"), Body: []byte("xyz")}},
		{"broadcast", frameOf(EncodeBroadcastHeader([]byte("s"), 5), []byte("hello")), Message{Tag: TagBroadcast, Series: []byte("s"), Body: []byte("hello")}},
		{"allgather", frameOf(EncodeAllgatherHeader([]byte("ag"), 3, 4), []byte("data")), Message{Tag: TagAllgather, Series: []byte("ag"), Rank: 3, Body: []byte("data")}},
		{"series-255", frameOf(EncodeGatherHeader(bytes.Repeat([]byte{'z'}, 255), 0), nil), Message{Tag: TagGather, Series: bytes.Repeat([]byte{'z'}, 255), Body: []byte{}}},
	}

	chunkers := map[string]func([]byte) [][]byte{
		"whole":   wholeChunk,
		"byte":    byteAtATime,
		"random1": randomChunks(1),
		"random2": randomChunks(42),
	}

	for _, tc := range cases {
		for chunkerName, chunker := range chunkers {
			t.Run(tc.name+"/"+chunkerName, func(t *testing.T) {
				got := collect(t, tc.frame, chunker)
				require.Len(t, got, 1)
				require.Equal(t, tc.want.Tag, got[0].Tag)
				require.Equal(t, tc.want.Rank, got[0].Rank)
				require.True(t, bytes.Equal(tc.want.Series, got[0].Series))
				require.True(t, bytes.Equal(tc.want.Body, got[0].Body))
			})
		}
	}
}

func frameOf(header, body []byte) []byte {
	return append(append([]byte{}, header...), body...)
}

func TestDecoder_StreamedConcatenation_Order(t *testing.T) {
	var frames []byte
	frames = append(frames, EncodeInit(1)...)
	frames = append(frames, frameOf(EncodeGatherHeader([]byte("a"), 2), []byte("hi"))...)
	frames = append(frames, EncodeKeepalive()...)
	frames = append(frames, frameOf(EncodeBroadcastHeader([]byte("b"), 1), []byte("x"))...)

	got := collect(t, frames, randomChunks(99))
	require.Len(t, got, 3)
	require.Equal(t, TagInit, got[0].Tag)
	require.Equal(t, TagGather, got[1].Tag)
	require.Equal(t, TagBroadcast, got[2].Tag)
}

func TestDecoder_UnknownTag_Fatal(t *testing.T) {
	dec := NewDecoder(func(Message) error { return nil })
	err := dec.Feed([]byte{'z'})
	require.ErrorIs(t, err, ErrUnknownTag)
}

func TestDecoder_MaxSeriesLenOnWire_Accepted(t *testing.T) {
	// slen is a single byte, so 255 is both the wire's and MaxSeriesLen's
	// ceiling; the 256-byte rejection boundary is enforced at encode time
	// instead, see TestEncode_SeriesBoundary.
	dec := NewDecoder(func(Message) error { return nil })
	require.NoError(t, dec.Feed([]byte{byte(TagGather), 255}))
}

func TestDecoder_KeepaliveNeverCallsBack(t *testing.T) {
	calls := 0
	dec := NewDecoder(func(Message) error { calls++; return nil })
	require.NoError(t, dec.Feed(EncodeKeepalive()))
	require.NoError(t, dec.Feed(EncodeKeepalive()))
	require.Equal(t, 0, calls)
}

func TestDecoder_OnMessageError_Propagates(t *testing.T) {
	boom := bytes.ErrTooLarge
	dec := NewDecoder(func(Message) error { return boom })
	err := dec.Feed(EncodeInit(0))
	require.ErrorIs(t, err, boom)
}
