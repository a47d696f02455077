package wire

import (
	"encoding/binary"
	"fmt"
)

// EncodeInit returns the full INIT frame; it has no separate body segment.
func EncodeInit(rank uint32) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(TagInit)
	binary.BigEndian.PutUint32(buf[1:], rank)
	return buf
}

// EncodeKeepalive returns the full (one-byte) KEEPALIVE frame.
func EncodeKeepalive() []byte {
	return []byte{byte(TagKeepalive)}
}

// EncodeGatherHeader returns the header bytes for a GATHER frame
// (tag+slen+series+len); the body is written as a separate segment by the
// caller so the payload is never copied into this buffer. It panics if
// series/bodyLen violate the wire bounds — spec.md section 4.1 treats
// either as a send-time bug, not a runtime condition to recover from.
func EncodeGatherHeader(series []byte, bodyLen int) []byte {
	return encodeHeader(TagGather, series, 0, bodyLen, false)
}

// EncodeBroadcastHeader mirrors EncodeGatherHeader for BROADCAST frames.
func EncodeBroadcastHeader(series []byte, bodyLen int) []byte {
	return encodeHeader(TagBroadcast, series, 0, bodyLen, false)
}

// EncodeAllgatherHeader mirrors EncodeGatherHeader for ALLGATHER frames,
// which additionally carry the sender's rank.
func EncodeAllgatherHeader(series []byte, rank uint32, bodyLen int) []byte {
	return encodeHeader(TagAllgather, series, rank, bodyLen, true)
}

func encodeHeader(tag Tag, series []byte, rank uint32, bodyLen int, withRank bool) []byte {
	if len(series) > MaxSeriesLen {
		// Sending an over-long series is a programming bug, not a runtime
		// condition (spec.md section 4.1: "slen > 256 at send time is a
		// bug (abort)"). MaxSeriesLen is capped at 255 here, the largest
		// value the one-byte slen field can carry without wrapping.
		panic(fmt.Sprintf("wire: series length %d exceeds %d", len(series), MaxSeriesLen))
	}
	if bodyLen < 0 || uint64(bodyLen) > 0xFFFFFFFF {
		panic(fmt.Sprintf("wire: body length %d out of range", bodyLen))
	}

	headerLen := 1 + 1 + len(series) + 4
	if withRank {
		headerLen += 4
	}
	buf := make([]byte, headerLen)
	i := 0
	buf[i] = byte(tag)
	i++
	buf[i] = byte(len(series))
	i++
	i += copy(buf[i:], series)
	if withRank {
		binary.BigEndian.PutUint32(buf[i:], rank)
		i += 4
	}
	binary.BigEndian.PutUint32(buf[i:], uint32(bodyLen))
	i += 4
	return buf[:i]
}
