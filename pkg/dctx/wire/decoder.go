package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnknownTag is fatal (spec.md section 4.1/7): a connection that sends an
// unrecognized tag must be torn down.
var ErrUnknownTag = errors.New("wire: unknown message tag")

// ErrSeriesTooLong is fatal at decode time, mirroring the send-time bound.
var ErrSeriesTooLong = errors.New("wire: series name exceeds 255 bytes")

// MaxSeriesLen bounds the series field, matching types.MaxSeriesLen. Kept
// as its own constant so wire has no dependency on the types package. The
// one-byte slen field can represent at most 255.
const MaxSeriesLen = 255

type decState int

const (
	decTag decState = iota
	decInitRank
	decSlen
	decSeries
	decAllgatherRank
	decBodyLen
	decBody
)

// Decoder is a resumable, streaming parser for the wire format. Feed may be
// called with arbitrary byte slices — including one byte at a time — and
// the sequence of callbacks it produces is identical regardless of how the
// underlying stream was chunked (spec.md section 4.1/8).
//
// A Decoder is not safe for concurrent use; spec.md ties one decoder to one
// connection (or to the worker's single main socket), always driven by the
// one I/O thread that owns that socket.
type Decoder struct {
	onMessage func(Message) error

	st decState

	tag Tag

	// fixed-size field scratch, reused across InitRank/Slen/AllgatherRank/BodyLen.
	fixed    [4]byte
	fixedLen int // target size for the field currently occupying `fixed`
	fixedN   int // bytes filled so far

	slen    int
	series  []byte
	seriesN int

	allgatherRank uint32

	bodyLen uint32
	body    []byte
	bodyN   int
}

// NewDecoder creates a Decoder that invokes onMessage for every completed
// INIT/GATHER/BROADCAST/ALLGATHER frame. onMessage is never called for
// KEEPALIVE. A non-nil error returned from onMessage aborts Feed, which
// propagates it to the caller (the transport layer treats this as a fatal
// protocol error on that connection).
func NewDecoder(onMessage func(Message) error) *Decoder {
	return &Decoder{onMessage: onMessage, st: decTag}
}

func (d *Decoder) armFixed(n int) {
	d.fixedLen = n
	d.fixedN = 0
}

// fillFixed copies from data into the fixed scratch buffer, returning the
// number of bytes consumed. The caller must check doneFixed() afterwards.
func (d *Decoder) fillFixed(data []byte) int {
	n := copy(d.fixed[d.fixedN:d.fixedLen], data)
	d.fixedN += n
	return n
}

func (d *Decoder) doneFixed() bool {
	return d.fixedN == d.fixedLen
}

func (d *Decoder) reset() {
	d.st = decTag
	d.tag = 0
	d.fixedN, d.fixedLen = 0, 0
	d.slen = 0
	d.series = nil
	d.seriesN = 0
	d.allgatherRank = 0
	d.bodyLen = 0
	d.body = nil
	d.bodyN = 0
}

// Feed advances the decoder with the next chunk of bytes from the stream,
// invoking onMessage zero or more times along the way.
func (d *Decoder) Feed(data []byte) error {
	for {
		switch d.st {
		case decTag:
			if len(data) == 0 {
				return nil
			}
			tag := Tag(data[0])
			data = data[1:]
			if !tag.valid() {
				return fmt.Errorf("%w: %q", ErrUnknownTag, byte(tag))
			}
			d.tag = tag
			switch tag {
			case TagKeepalive:
				// No payload; nothing to do but stay ready for the next tag.
				continue
			case TagInit:
				d.armFixed(4)
				d.st = decInitRank
			case TagGather, TagBroadcast, TagAllgather:
				d.armFixed(1)
				d.st = decSlen
			}

		case decInitRank:
			data = data[d.fillFixed(data):]
			if !d.doneFixed() {
				return nil
			}
			rank := binary.BigEndian.Uint32(d.fixed[:4])
			msg := Message{Tag: TagInit, Rank: rank}
			d.reset()
			if err := d.onMessage(msg); err != nil {
				return err
			}

		case decSlen:
			data = data[d.fillFixed(data):]
			if !d.doneFixed() {
				return nil
			}
			d.slen = int(d.fixed[0])
			if d.slen > MaxSeriesLen {
				return ErrSeriesTooLong
			}
			d.series = make([]byte, d.slen)
			d.seriesN = 0
			d.st = decSeries

		case decSeries:
			n := copy(d.series[d.seriesN:], data)
			d.seriesN += n
			data = data[n:]
			if d.seriesN != d.slen {
				return nil
			}
			if d.tag == TagAllgather {
				d.armFixed(4)
				d.st = decAllgatherRank
			} else {
				d.armFixed(4)
				d.st = decBodyLen
			}

		case decAllgatherRank:
			data = data[d.fillFixed(data):]
			if !d.doneFixed() {
				return nil
			}
			d.allgatherRank = binary.BigEndian.Uint32(d.fixed[:4])
			d.armFixed(4)
			d.st = decBodyLen

		case decBodyLen:
			data = data[d.fillFixed(data):]
			if !d.doneFixed() {
				return nil
			}
			d.bodyLen = binary.BigEndian.Uint32(d.fixed[:4])
			d.body = make([]byte, d.bodyLen)
			d.bodyN = 0
			d.st = decBody

		case decBody:
			n := copy(d.body[d.bodyN:], data)
			d.bodyN += n
			data = data[n:]
			if uint32(d.bodyN) != d.bodyLen {
				return nil
			}
			msg := Message{Tag: d.tag, Series: d.series, Body: d.body}
			if d.tag == TagAllgather {
				msg.Rank = d.allgatherRank
			}
			d.reset()
			if err := d.onMessage(msg); err != nil {
				return err
			}
		}
	}
}
