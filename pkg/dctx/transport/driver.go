// Package transport owns every socket a Context touches: the chief's
// listener and its accepted-but-not-yet-ranked connections, a worker's
// single connection to the chief, and the asynchronous read/write
// machinery both sides drive through a single gaio.Watcher. Nothing in
// this package knows what a Gather or Broadcast is; it moves framed
// messages and write-completion descriptors and leaves interpreting them
// to the engine.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/xtaci/gaio"

	"github.com/arjunv/dctx/pkg/dctx/definition"
	"github.com/arjunv/dctx/pkg/dctx/metrics"
	"github.com/arjunv/dctx/pkg/dctx/types"
)

// watcherBufSize sizes gaio's internal staging buffer; it bounds how much
// a single WaitIO batch can move per conn, not the framing codec, which
// is chunk-size agnostic.
const watcherBufSize = 1 << 20

// EventKind tags a Driver event so the engine's single I/O-thread
// goroutine can switch on it without this package needing to know the
// engine's Operation type.
type EventKind int

const (
	EventRead EventKind = iota
	EventWrite
	EventError
)

// Event is what the Driver hands back to the engine for every completed
// or failed I/O. Context carries whatever the caller passed to ReadStart
// or Write: a *Connection for reads, a WriteTag for writes.
type Event struct {
	Kind    EventKind
	Conn    net.Conn
	Context interface{}
	N       int
	Err     error
}

// Driver wraps a gaio.Watcher and funnels its completions onto a Go
// channel, so the engine's event loop can select over it alongside
// accept/connect/wakeup channels instead of calling WaitIO directly.
type Driver struct {
	watcher *gaio.Watcher
	log     definition.Logger
	metrics *metrics.Registry

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewDriver starts the pump goroutine that turns watcher.WaitIO results
// into Events. The pump does no state mutation of its own: it is plumbing
// feeding the engine's single owning goroutine, not a second actor.
func NewDriver(log definition.Logger, reg *metrics.Registry) (*Driver, error) {
	w, err := gaio.NewWatcherSize(watcherBufSize)
	if err != nil {
		return nil, fmt.Errorf("dctx: creating watcher: %w", err)
	}
	d := &Driver{
		watcher: w,
		log:     log,
		metrics: reg,
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.pump()
	return d, nil
}

// Events is the channel the engine selects on for transport completions.
func (d *Driver) Events() <-chan Event {
	return d.events
}

func (d *Driver) pump() {
	defer d.wg.Done()
	for {
		results, err := d.watcher.WaitIO()
		if err != nil {
			select {
			case d.events <- Event{Kind: EventError, Err: err}:
			case <-d.done:
			}
			return
		}
		for _, r := range results {
			ev := Event{Conn: r.Conn, Context: r.Context, N: r.Size, Err: r.Error}
			switch r.Operation {
			case gaio.OpRead:
				ev.Kind = EventRead
			case gaio.OpWrite:
				ev.Kind = EventWrite
			default:
				ev.Kind = EventError
			}
			select {
			case d.events <- ev:
			case <-d.done:
				return
			}
		}
	}
}

// ReadStart arms (or re-arms) an asynchronous read on conn. gaio's reads
// are one-shot: this must be called again after every completion for the
// connection to keep receiving data.
func (d *Driver) ReadStart(conn net.Conn, c *Connection) error {
	return d.watcher.Read(c, conn, c.ReadBuf())
}

// WriteTag travels with an asynchronous write as gaio's opaque context and
// is handed back unchanged on completion, giving the engine both which
// Connection the write belongs to (to drain its write queue) and the
// write-completion descriptor (to resolve the borrow or notify an
// operation) without a second lookup.
type WriteTag struct {
	Conn *Connection
	Desc types.WriteDescriptor
}

// Write submits an asynchronous write tagged with tag, which the engine
// receives back unchanged on the Events channel once the write finishes
// or fails.
func (d *Driver) Write(conn net.Conn, buf []byte, tag WriteTag) error {
	if d.metrics != nil {
		d.metrics.BytesSent.Add(float64(len(buf)))
	}
	return d.watcher.Write(tag, conn, buf)
}

// Free releases gaio's bookkeeping for a connection the engine is
// discarding without a pending read or write, e.g. a preinit connection
// that closed before sending INIT.
func (d *Driver) Free(conn net.Conn) error {
	return d.watcher.Free(conn)
}

// Close stops the pump and releases the underlying watcher. It blocks
// until the pump goroutine has actually exited, so callers can rely on
// Close returning meaning no Driver goroutine remains live.
func (d *Driver) Close() error {
	close(d.done)
	err := d.watcher.Close()
	d.wg.Wait()
	return err
}

// Listen resolves host and binds the first address that accepts a
// listener, per spec.md section 4.2's "bind first bindable address"
// chief startup behavior.
func Listen(host, svc string) (net.Listener, error) {
	addrs, err := net.DefaultResolver.LookupHost(context.Background(), host)
	if err != nil {
		return nil, fmt.Errorf("dctx: resolving %s: %w", host, err)
	}
	var lastErr error
	for _, addr := range addrs {
		ln, err := net.Listen("tcp", net.JoinHostPort(addr, svc))
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses resolved for %s", host)
	}
	return nil, fmt.Errorf("dctx: listen %s:%s: %w", host, svc, lastErr)
}

// ConnectWithRetry resolves host and dials each resolved address in turn;
// if every address is refused or unreachable it waits backoff and starts
// over, until ctx is done. This is the worker-side "chief may not have
// started listening yet" retry loop from spec.md section 4.2/6.
func ConnectWithRetry(ctx context.Context, host, svc string, backoff time.Duration) (net.Conn, error) {
	for {
		addrs, err := net.DefaultResolver.LookupHost(ctx, host)
		if err == nil {
			for _, addr := range addrs {
				d := net.Dialer{}
				conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(addr, svc))
				if err == nil {
					if err := disableNagle(conn); err != nil {
						conn.Close()
						return nil, fmt.Errorf("dctx: disabling Nagle: %w", err)
					}
					return conn, nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// AcceptLoop runs net.Listener.Accept in a loop, pushing each accepted
// connection (with Nagle disabled) onto ch, until the listener is closed.
// It owns no state the engine cares about; it is plumbing feeding the
// engine's single I/O-thread goroutine, same as the pump.
func AcceptLoop(ln net.Listener, ch chan<- net.Conn, log definition.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			close(ch)
			return
		}
		if err := disableNagle(conn); err != nil && log != nil {
			log.Warnf("dctx: disabling Nagle on accepted conn: %v", err)
		}
		ch <- conn
	}
}
