package loom

import (
	"net"
	"sync"
	"time"

	"github.com/kashari/golog"
)

// config bundles the Builder's tunables into the plain value reactorCore
// reads from.
type config struct {
	addr              string
	readBufferSize    int
	maxReadLoops      int
	maxFrameLen       uint64
	checkOrigin       func(*HttpRequest) bool
	dispatcherFactory DispatcherFactory
	pollTimeout       time.Duration
}

func defaultConfig() config {
	return config{
		readBufferSize:    defaultReadBufferSize,
		maxReadLoops:      defaultMaxReadLoops,
		maxFrameLen:       defaultGrowCap,
		dispatcherFactory: OnReadThreadDispatcher,
		pollTimeout:       50 * time.Millisecond,
	}
}

// task is one closure posted onto the reactor's inbox from another
// goroutine. The selector is mutated only by tasks submitted to and
// executed on the single reactor thread.
type task func()

// reactorCore drives one accept loop goroutine plus exactly one reactor
// goroutine that owns the selector, every Connection, and the route
// table. It is the untyped engine; Reactor[S] below is the public generic
// wrapper that attaches a concrete session type.
type reactorCore struct {
	cfg      config
	router   *router
	sel      selector
	listener net.Listener

	nextID uint64

	conns map[uint64]*Connection

	inboxMu sync.Mutex
	inbox   []task

	accepted chan net.Conn
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}

	newSession func(remoteAddr string) any
}

func newReactorCore(cfg config, r *router, newSession func(remoteAddr string) any) *reactorCore {
	return &reactorCore{
		cfg:        cfg,
		router:     r,
		conns:      make(map[uint64]*Connection),
		accepted:   make(chan net.Conn, 64),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		newSession: newSession,
	}
}

// post submits fn to run on the reactor goroutine. Safe to call from any
// goroutine, including the reactor's own (it will simply run on the next
// inbox drain).
func (rc *reactorCore) post(fn task) {
	rc.inboxMu.Lock()
	rc.inbox = append(rc.inbox, fn)
	rc.inboxMu.Unlock()
}

func (rc *reactorCore) drainInbox() {
	rc.inboxMu.Lock()
	pending := rc.inbox
	rc.inbox = nil
	rc.inboxMu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

// serve starts the accept loop and runs the reactor loop on the calling
// goroutine until Close.
func (rc *reactorCore) serve() error {
	ln, err := net.Listen("tcp", rc.cfg.addr)
	if err != nil {
		return err
	}
	rc.listener = ln

	sel, err := newSelector()
	if err != nil {
		_ = ln.Close()
		return err
	}
	rc.sel = sel

	golog.Info("loom: listening on {}", rc.cfg.addr)
	go rc.acceptLoop()
	rc.run()
	return nil
}

func (rc *reactorCore) acceptLoop() {
	for {
		conn, err := rc.listener.Accept()
		if err != nil {
			select {
			case <-rc.stopCh:
				return
			default:
				golog.Warn("loom: accept error: {}", err)
				return
			}
		}
		select {
		case rc.accepted <- conn:
		case <-rc.stopCh:
			_ = conn.Close()
			return
		}
	}
}

// run is the single reactor goroutine: drain newly accepted connections,
// poll the selector, drain posted tasks, repeat.
func (rc *reactorCore) run() {
	defer close(rc.doneCh)
	for {
		select {
		case <-rc.stopCh:
			rc.shutdown()
			return
		default:
		}

		rc.drainAccepted()

		err := rc.sel.poll(rc.cfg.pollTimeout, rc.onReady)
		if err != nil {
			golog.Error("loom: selector poll error: {}", err)
		}

		rc.drainInbox()
	}
}

func (rc *reactorCore) drainAccepted() {
	for {
		select {
		case conn := <-rc.accepted:
			rc.onAccept(conn)
		default:
			return
		}
	}
}

func (rc *reactorCore) onAccept(nc net.Conn) {
	sock, err := newRawSocket(nc)
	if err != nil {
		golog.Warn("loom: failed to adapt accepted connection: {}", err)
		_ = nc.Close()
		return
	}

	rc.nextID++
	id := rc.nextID

	c := &Connection{
		id:         id,
		sock:       sock,
		remoteAddr: nc.RemoteAddr().String(),
		reactor:    rc,
		buf:        make([]byte, rc.cfg.readBufferSize),
		state:      stateRequestLine,
	}
	c.writer = newConnWriter(c, sock, rc)
	c.dispatcher = rc.cfg.dispatcherFactory()
	if rc.newSession != nil {
		c.session = rc.newSession(c.remoteAddr)
	}

	rc.conns[id] = c
	if err := rc.sel.add(c); err != nil {
		golog.Warn("loom: failed to register connection {}: {}", id, err)
		delete(rc.conns, id)
		_ = sock.close()
		return
	}
}

// onReady is the selector's per-connection readiness callback, invoked
// synchronously inside sel.poll on the reactor goroutine.
func (rc *reactorCore) onReady(c *Connection, readable, writable bool) {
	if writable {
		c.writer.drainOnWritable()
	}
	if c.state == stateClosed {
		rc.finishClose(c, nil)
		return
	}
	if readable {
		rc.drive(c)
	}
}

// drive reads available bytes and feeds the state machine, bounded by
// maxReadLoops so one very chatty connection cannot starve the others
// sharing the single reactor goroutine.
func (rc *reactorCore) drive(c *Connection) {
	tmp := make([]byte, rc.cfg.readBufferSize)
	for loops := 0; loops < rc.cfg.maxReadLoops; loops++ {
		n, wouldBlock, err := c.sock.read(tmp)
		if err != nil {
			rc.finishClose(c, err)
			return
		}
		if n > 0 {
			if err := c.appendData(tmp[:n]); err != nil {
				rc.finishClose(c, err)
				return
			}
		}

		for {
			progressed, err := c.step()
			if err != nil {
				rc.finishClose(c, err)
				return
			}
			if c.state == stateClosed {
				rc.finishClose(c, nil)
				return
			}
			if !progressed {
				break
			}
		}

		if wouldBlock {
			return
		}
		if n == 0 {
			return
		}
	}
}

// registerWritable / deregisterWritable / requestClose implement
// writeRegistrar; connWriter calls these from whatever goroutine a sender
// runs on, and they only ever touch the selector via a posted task.
func (rc *reactorCore) registerWritable(c *Connection) {
	rc.post(func() {
		if _, ok := rc.conns[c.id]; !ok {
			return
		}
		_ = rc.sel.setWritable(c, true)
	})
}

func (rc *reactorCore) deregisterWritable(c *Connection) {
	rc.post(func() {
		if _, ok := rc.conns[c.id]; !ok {
			return
		}
		_ = rc.sel.setWritable(c, false)
	})
}

func (rc *reactorCore) requestClose(c *Connection, cause error) {
	c.requestClose(cause)
}

// finishClose runs on the reactor goroutine only: it deregisters c from
// the selector, closes its writer and socket if requestClose has not
// already done so, disposes its WebSocket disposables and dispatcher,
// fires OnClose exactly once, and removes c from the connection table.
func (rc *reactorCore) finishClose(c *Connection, cause error) {
	if _, ok := rc.conns[c.id]; !ok {
		return
	}
	delete(rc.conns, c.id)
	_ = rc.sel.remove(c)
	c.closeOnce.Do(func() {
		c.writer.markClosed()
		_ = c.sock.close()
	})

	if c.ws != nil && !c.ws.disposables.isClosed() {
		c.ws.disposables.closeAndDrain()
		if c.wsHandler != nil && c.wsHandler.onClose != nil {
			func() {
				defer c.recoverWSPanic(nil)
				c.wsHandler.onClose(c.ws, c.wsState)
			}()
		}
		c.dispatcher.disposeOnClose()
	}

	if cause != nil {
		golog.Debug("loom: connection {} closed: {}", c.id, cause)
	}
}

func (rc *reactorCore) shutdown() {
	for _, c := range rc.conns {
		_ = c.sock.close()
	}
	rc.conns = make(map[uint64]*Connection)
	if rc.sel != nil {
		_ = rc.sel.close()
	}
	if rc.listener != nil {
		_ = rc.listener.Close()
	}
}

func (rc *reactorCore) close() {
	rc.stopOnce.Do(func() {
		close(rc.stopCh)
	})
	<-rc.doneCh
}

// Reactor is the public, generic handle returned by Builder.Build: the
// concrete session type S never leaks into reactorCore, only into the
// adapters installed at registration time.
type Reactor[S any] struct {
	core *reactorCore
}

// Serve blocks running the accept and reactor loops until Close is called
// from another goroutine.
func (r *Reactor[S]) Serve() error {
	return r.core.serve()
}

// Close stops the accept loop and the reactor loop, closing every open
// connection's socket without running their OnClose callbacks (a forced
// shutdown, distinct from the per-connection close protocol).
func (r *Reactor[S]) Close() {
	r.core.close()
}
