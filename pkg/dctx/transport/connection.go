package transport

import (
	"net"
	"time"

	"github.com/arjunv/dctx/pkg/dctx/dlist"
	"github.com/arjunv/dctx/pkg/dctx/types"
	"github.com/arjunv/dctx/pkg/dctx/wire"
)

// readBufSize is the chunk size handed to the transport driver for each
// outstanding read. The framing decoder is chunk-size agnostic (spec.md
// section 4.1/8 scenario D), so this is a throughput knob, not a
// correctness one.
const readBufSize = 64 * 1024

// pendingWrite is one queued write for a Connection whose socket is
// currently busy with another asynchronous write. gaio serializes
// concurrent writes to the same conn internally, but the engine still
// needs FIFO ordering of payload bytes on the wire, so writes are queued
// here and drained one at a time as each completes.
type pendingWrite struct {
	buf  []byte
	desc types.WriteDescriptor
}

// Connection is one TCP socket the transport driver owns, plus the
// decoder state threaded through its reads and the write queue threaded
// through its writes. Chief-side, a Connection starts with Rank == -1
// (preinit) until an INIT message promotes it; worker-side, a Connection
// is always opened already knowing the chief's rank (0).
type Connection struct {
	Rank types.Rank
	Conn net.Conn

	Decoder *wire.Decoder
	readBuf []byte

	// elem links this Connection into a Registry's preinit list. Once
	// promoted it is nil; the peers array indexes by rank instead.
	elem *dlist.Elem

	writeBusy bool
	writeQ    []pendingWrite

	// LastActivity is the last time a read completed or a write was
	// submitted on this connection; the engine compares it against
	// keepaliveIdle to decide when to nudge an otherwise-silent peer.
	LastActivity time.Time

	closed bool
}

// NewConnection wraps conn with a decoder that invokes onMessage for each
// fully-framed message.
func NewConnection(conn net.Conn, onMessage func(wire.Message) error) *Connection {
	return &Connection{
		Rank:         -1,
		Conn:         conn,
		Decoder:      wire.NewDecoder(onMessage),
		readBuf:      make([]byte, readBufSize),
		LastActivity: time.Now(),
	}
}

// WriteIdle reports whether this connection has no write currently in
// flight and nothing queued behind one.
func (c *Connection) WriteIdle() bool {
	return !c.writeBusy && len(c.writeQ) == 0
}

// ReadBuf returns the buffer the driver should read into next.
func (c *Connection) ReadBuf() []byte {
	return c.readBuf
}

// enqueueWrite appends a write to the queue and reports whether the
// caller must submit it itself because the socket is idle.
func (c *Connection) enqueueWrite(buf []byte, desc types.WriteDescriptor) (pendingWrite, bool) {
	pw := pendingWrite{buf: buf, desc: desc}
	if c.writeBusy {
		c.writeQ = append(c.writeQ, pw)
		return pendingWrite{}, false
	}
	c.writeBusy = true
	return pw, true
}

// nextWrite pops the next queued write, if any, marking the socket idle
// when the queue is empty.
func (c *Connection) nextWrite() (pendingWrite, bool) {
	if len(c.writeQ) == 0 {
		c.writeBusy = false
		return pendingWrite{}, false
	}
	pw := c.writeQ[0]
	c.writeQ = c.writeQ[1:]
	return pw, true
}

// SubmitWrite enqueues buf/desc for this connection, returning the write
// the caller must hand to the driver immediately (ready == true) or
// nothing if the socket is already mid-write (it will be returned later
// by PopWrite once the in-flight write completes).
func (c *Connection) SubmitWrite(buf []byte, desc types.WriteDescriptor) (queued []byte, queuedDesc types.WriteDescriptor, ready bool) {
	c.LastActivity = time.Now()
	pw, ready := c.enqueueWrite(buf, desc)
	return pw.buf, pw.desc, ready
}

// PopWrite dequeues the next write queued behind a just-completed one.
func (c *Connection) PopWrite() (buf []byte, desc types.WriteDescriptor, ok bool) {
	pw, ok := c.nextWrite()
	return pw.buf, pw.desc, ok
}

// Close closes the underlying socket; the decoder is left untouched. A
// second call is a no-op that returns nil.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Conn.Close()
}
