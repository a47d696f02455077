// Package dctx implements a small MPI-style collective-operation runtime
// over TCP: one chief (rank 0) and N-1 workers exchange gather,
// broadcast and allgather calls through a single I/O thread per process.
package dctx

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/arjunv/dctx/pkg/dctx/definition"
	"github.com/arjunv/dctx/pkg/dctx/dlist"
	"github.com/arjunv/dctx/pkg/dctx/metrics"
	"github.com/arjunv/dctx/pkg/dctx/transport"
	"github.com/arjunv/dctx/pkg/dctx/types"
	"github.com/arjunv/dctx/pkg/dctx/wire"
)

// connectOutcome carries the result of a worker's connect-with-retry
// goroutine back to the I/O thread.
type connectOutcome struct {
	conn net.Conn
	err  error
}

// keepaliveIdle is how long a ranked connection must have no pending or
// inflight write before advanceState nudges it with a KEEPALIVE, so a
// half-open peer is found by the OS's own idle/keepalive timers instead
// of sitting silent indefinitely (SPEC_FULL.md "Keepalive framing").
// keepaliveCheckInterval paces the ticker that wakes the I/O thread to
// re-check idle connections; it does not gate anything by itself.
const (
	keepaliveIdle          = 30 * time.Second
	keepaliveCheckInterval = 5 * time.Second
)

// Context is the process-wide handle for one participant in a
// collective group (spec.md section 3). Everything under the hood is
// driven by a single goroutine, reached via run(); application
// goroutines only ever touch mu/cond and the inflight/complete lists
// under lock.
type Context struct {
	cfg types.Configuration
	log definition.Logger
	met *metrics.Registry

	mu   sync.Mutex
	cond *sync.Cond

	status  types.Status
	failed  bool
	closing bool
	openErr error

	inflight *dlist.List
	complete *dlist.List

	opsByID  map[types.OpID]*Operation
	nextOpID types.OpID

	driver *transport.Driver

	// chief-only
	listener net.Listener
	registry *transport.Registry

	// worker-only
	chiefConn  *transport.Connection
	dialCancel context.CancelFunc

	wakeup    chan struct{}
	acceptCh  chan net.Conn
	connectCh chan connectOutcome
	closeCh   chan struct{}

	wg sync.WaitGroup
}

// Option customizes a Context at Open time.
type Option func(*Context)

// WithLogger overrides the DefaultLogger fallback.
func WithLogger(l definition.Logger) Option {
	return func(c *Context) { c.log = l }
}

// WithMetrics supplies a pre-built metrics registry, e.g. to share a
// process's Prometheus registerer across several Contexts in a test.
func WithMetrics(m *metrics.Registry) Option {
	return func(c *Context) { c.met = m }
}

// Open constructs, starts and waits for the I/O thread to leave PRESTART
// (spec.md section 4.6). It returns an error if the configuration is
// invalid or the chief fails to bind its listener.
func Open(cfg types.Configuration, opts ...Option) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Context{
		cfg:       cfg,
		inflight:  dlist.New(),
		complete:  dlist.New(),
		opsByID:   make(map[types.OpID]*Operation),
		wakeup:    make(chan struct{}, 1),
		acceptCh:  make(chan net.Conn, 8),
		connectCh: make(chan connectOutcome, 1),
		closeCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = definition.NewDefaultLogger()
	}
	if c.met == nil {
		c.met = metrics.New(strconv.Itoa(int(cfg.Rank)))
	}
	c.cond = sync.NewCond(&c.mu)

	driver, err := transport.NewDriver(c.log, c.met)
	if err != nil {
		return nil, fmt.Errorf("dctx: opening transport: %w", err)
	}
	c.driver = driver

	if cfg.Role() == types.RoleChief {
		c.registry = transport.NewRegistry(cfg.Size)
	}

	c.wg.Add(1)
	go c.run()

	c.mu.Lock()
	for c.status == types.StatusPrestart {
		c.cond.Wait()
	}
	openErr := c.openErr
	c.mu.Unlock()

	if openErr != nil {
		c.wg.Wait()
		return nil, openErr
	}
	return c, nil
}

// Close idempotently tears the Context down: it signals the I/O thread,
// waits for it to join, then releases lists, the listener and the
// driver (spec.md section 4.6).
func (c *Context) Close() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.mu.Unlock()

	close(c.closeCh)
	select {
	case c.wakeup <- struct{}{}:
	default:
	}
	if c.dialCancel != nil {
		c.dialCancel()
	}
	// The listener must close before waiting on wg: AcceptLoop only
	// returns once Accept fails, which closing the listener forces.
	if c.listener != nil {
		c.listener.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.drainList(c.inflight)
	c.drainList(c.complete)
	c.mu.Unlock()

	c.driver.Close()
}

func (c *Context) drainList(l *dlist.List) {
	for {
		e := l.Front()
		if e == nil {
			return
		}
		l.Remove(e)
	}
}

// run is the I/O thread: the only goroutine that ever touches sockets,
// the decoder state inside a Connection, or an Operation's kind-specific
// fields, outside of the submit path's brief, mutex-held bookkeeping.
func (c *Context) run() {
	defer c.wg.Done()

	if c.cfg.Role() == types.RoleChief {
		if err := c.startChief(); err != nil {
			c.finishPrestart(err)
			return
		}
	} else {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.dialChief()
		}()
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.keepaliveTicker()
	}()

	c.finishPrestart(nil)

	for {
		select {
		case <-c.closeCh:
			c.mu.Lock()
			c.status = types.StatusDone
			c.cond.Broadcast()
			c.mu.Unlock()
			return

		case <-c.wakeup:
			c.mu.Lock()
			c.advanceState()
			c.mu.Unlock()

		case conn, ok := <-c.acceptCh:
			if !ok {
				// The listener closed (shutdown or fatal); stop selecting
				// on this channel instead of spinning on its now-permanent
				// ready-to-receive zero value.
				c.acceptCh = nil
				continue
			}
			c.mu.Lock()
			c.handleAccept(conn)
			c.advanceState()
			c.mu.Unlock()

		case res := <-c.connectCh:
			c.mu.Lock()
			c.handleConnected(res)
			c.advanceState()
			c.mu.Unlock()

		case ev, ok := <-c.driver.Events():
			if !ok {
				continue
			}
			c.mu.Lock()
			c.handleTransportEvent(ev)
			c.advanceState()
			c.mu.Unlock()
		}
	}
}

func (c *Context) finishPrestart(err error) {
	c.mu.Lock()
	c.openErr = err
	if err != nil {
		c.status = types.StatusDone
		c.failed = true
	} else {
		c.status = types.StatusRunning
	}
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Context) startChief() error {
	ln, err := transport.Listen(c.cfg.ChiefHost, c.cfg.ChiefSvc)
	if err != nil {
		return err
	}
	c.listener = ln
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		transport.AcceptLoop(ln, c.acceptCh, c.log)
	}()
	return nil
}

// keepaliveTicker periodically wakes the I/O thread so advanceState gets
// a chance to notice an idle ranked connection even when nothing else is
// happening. It owns no state of its own; like the transport package's
// pump and accept-loop goroutines, it is plumbing feeding the single
// event-loop goroutine.
func (c *Context) keepaliveTicker() {
	t := time.NewTicker(keepaliveCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-c.closeCh:
			return
		case <-t.C:
			c.mu.Lock()
			c.wake()
			c.mu.Unlock()
		}
	}
}

func (c *Context) dialChief() {
	dialCtx, cancel := context.WithCancel(context.Background())
	c.dialCancel = cancel
	conn, err := transport.ConnectWithRetry(dialCtx, c.cfg.ChiefHost, c.cfg.ChiefSvc, time.Second)
	select {
	case c.connectCh <- connectOutcome{conn: conn, err: err}:
	case <-c.closeCh:
		if conn != nil {
			conn.Close()
		}
	}
}

// newConnection wraps raw in a *transport.Connection whose decoder
// callback routes decoded messages back through onMessage.
func (c *Context) newConnection(raw net.Conn) *transport.Connection {
	var conn *transport.Connection
	conn = transport.NewConnection(raw, func(m wire.Message) error {
		return c.onMessage(conn, m)
	})
	return conn
}

func (c *Context) handleAccept(raw net.Conn) {
	if c.status != types.StatusRunning {
		raw.Close()
		return
	}
	conn := c.newConnection(raw)
	c.registry.AddPreinit(conn)
	c.met.PreinitConns.Set(float64(c.registry.PreinitCount()))
	if err := c.driver.ReadStart(raw, conn); err != nil {
		c.log.Warnf("dctx: arming read on accepted connection: %v", err)
		c.registry.RemovePreinit(conn)
		conn.Close()
	}
}

func (c *Context) handleConnected(res connectOutcome) {
	if res.err != nil {
		c.fatal(res.err)
		return
	}
	conn := c.newConnection(res.conn)
	conn.Rank = 0
	c.chiefConn = conn
	if err := c.driver.ReadStart(conn.Conn, conn); err != nil {
		c.fatal(err)
		return
	}
	init := wire.EncodeInit(uint32(c.cfg.Rank))
	c.submitWrite(conn, init, types.WriteDescriptor{Kind: types.DescFree, Buffer: init})
}

func (c *Context) handleTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventRead:
		conn, _ := ev.Context.(*transport.Connection)
		c.onReadComplete(conn, ev)
	case transport.EventWrite:
		tag, _ := ev.Context.(transport.WriteTag)
		c.onWriteComplete(tag, ev.Err)
	case transport.EventError:
		c.fatal(ev.Err)
	}
}

func (c *Context) onReadComplete(conn *transport.Connection, ev transport.Event) {
	if conn == nil {
		return
	}
	if ev.Err != nil || ev.N == 0 {
		c.onBrokenConnection(conn, ev.Err)
		return
	}
	c.met.BytesReceived.Add(float64(ev.N))
	conn.LastActivity = time.Now()
	if err := conn.Decoder.Feed(conn.ReadBuf()[:ev.N]); err != nil {
		c.fatal(err)
		return
	}
	if c.status != types.StatusRunning {
		return
	}
	if err := c.driver.ReadStart(conn.Conn, conn); err != nil {
		c.fatal(err)
	}
}

// submitWrite enqueues buf/desc on conn's write queue, handing it to the
// driver immediately if the socket is idle.
func (c *Context) submitWrite(conn *transport.Connection, buf []byte, desc types.WriteDescriptor) {
	qbuf, qdesc, ready := conn.SubmitWrite(buf, desc)
	if !ready {
		return
	}
	if err := c.driver.Write(conn.Conn, qbuf, transport.WriteTag{Conn: conn, Desc: qdesc}); err != nil {
		c.onWriteFailed(conn, qdesc, err)
	}
}

func (c *Context) onWriteComplete(tag transport.WriteTag, err error) {
	conn := tag.Conn
	if err != nil {
		c.onWriteFailed(conn, tag.Desc, err)
		return
	}
	if tag.Desc.Kind == types.DescOp {
		if op, ok := c.opsByID[tag.Desc.Op]; ok {
			c.onOpWriteComplete(op, tag.Desc.Seq)
		}
	}
	if conn == nil {
		return
	}
	if buf, desc, ok := conn.PopWrite(); ok {
		if err := c.driver.Write(conn.Conn, buf, transport.WriteTag{Conn: conn, Desc: desc}); err != nil {
			c.onWriteFailed(conn, desc, err)
		}
	}
}

func (c *Context) onWriteFailed(conn *transport.Connection, desc types.WriteDescriptor, err error) {
	c.log.Errorf("dctx: write failed: %v", err)
	if conn != nil {
		c.onBrokenConnection(conn, err)
	}
}

// onBrokenConnection implements the Broken-Peer error class (spec.md
// section 7): before promotion this just drops the offending preinit
// connection; after promotion any break is fatal to the whole context.
func (c *Context) onBrokenConnection(conn *transport.Connection, cause error) {
	if conn == nil {
		return
	}
	if conn.Rank < 0 {
		if c.registry != nil {
			c.registry.RemovePreinit(conn)
			c.met.PreinitConns.Set(float64(c.registry.PreinitCount()))
		}
		conn.Close()
		return
	}
	if cause == nil {
		c.met.BrokenClean.Inc()
	} else {
		c.met.BrokenReset.Inc()
	}
	c.fatal(fmt.Errorf("dctx: broken connection for rank %d: %v", conn.Rank, cause))
}

// fatal implements close_everything (spec.md section 5/7): it marks the
// context failed, fails every outstanding operation and tears down every
// socket. Must be called with mu held.
func (c *Context) fatal(err error) {
	if c.failed {
		return
	}
	c.failed = true
	c.log.Errorf("dctx: fatal: %v", err)

	for e := c.inflight.Front(); e != nil; {
		next := e.Next()
		op := e.Value.(*Operation)
		c.inflight.Remove(e)
		op.ok = false
		op.ready = true
		delete(c.opsByID, op.id)
		op.elem = c.complete.PushBack(op)
		e = next
	}
	c.met.Inflight.Set(float64(c.inflight.Len()))
	c.met.Complete.Set(float64(c.complete.Len()))

	if c.registry != nil {
		c.registry.EachPreinit(func(conn *transport.Connection) { conn.Close() })
		c.registry.EachPeer(func(_ types.Rank, conn *transport.Connection) { conn.Close() })
	}
	if c.chiefConn != nil {
		c.chiefConn.Close()
	}
	if c.listener != nil {
		c.listener.Close()
	}
	c.status = types.StatusStopping
	c.cond.Broadcast()
}

// ListenAddr returns the chief's bound listener address. Only meaningful
// on a chief Context, and only safe to call after Open has returned
// (the happens-before relation comes from the PRESTART wait/broadcast
// pair in Open, which the listener write strictly precedes).
func (c *Context) ListenAddr() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// wake asks the I/O thread to run advanceState soon. Must be called with
// mu held, before it is released, per spec.md section 5's ordering
// guarantee.
func (c *Context) wake() {
	select {
	case c.wakeup <- struct{}{}:
	default:
	}
}
