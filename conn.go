package loom

import (
	"strings"
	"sync"

	"github.com/kashari/golog"
)

// Connection owns one non-blocking byte-stream socket, one read buffer,
// one read state, one writer, one optional session state, and (after a
// successful upgrade) a WebSocketConnection facade.
type Connection struct {
	id        uint64
	sock      rawSocket
	remoteAddr string
	reactor   *reactorCore
	writer    *connWriter
	dispatcher *Dispatcher
	session   any

	closeOnce sync.Once

	// read buffer: buf[readPos:writePos] holds unconsumed bytes.
	buf      []byte
	readPos  int
	writePos int

	state readStateKind

	// pending HTTP parse state, valid while state is stateHeaders or
	// stateHTTPBody.
	pendingMethod  string
	pendingURI     string
	pendingVersion string
	pendingHeaders []Header
	pendingEntry   routeEntry
	pendingHasRoute bool
	pendingRemaining int64
	pendingBody    []byte

	// WebSocket state, valid once ws != nil.
	ws          *WebSocketConnection
	wsHandler   *wsHandlerAdapter
	wsState     any
	wsHeader    *WsFrameHeader
	wsPayload   []byte
	wsFragBuf    []byte
	wsFragOpcode byte
	wsFragmenting bool

	// fallback selector's write-interest flag; unused by the epoll
	// selector, which tracks interest in the kernel instead.
	wantWrite bool
}

// pending returns the unconsumed bytes currently in the read buffer.
func (c *Connection) pending() []byte {
	return c.buf[c.readPos:c.writePos]
}

// advance marks n bytes of the pending slice as consumed.
func (c *Connection) advance(n int) {
	c.readPos += n
}

// appendData grows the read buffer as needed (compacting first) and
// copies data onto the end of it.
func (c *Connection) appendData(data []byte) error {
	need := c.writePos + len(data)
	if need > len(c.buf) {
		if c.readPos > 0 {
			copy(c.buf, c.buf[c.readPos:c.writePos])
			c.writePos -= c.readPos
			c.readPos = 0
			need = c.writePos + len(data)
		}
		if need > len(c.buf) {
			newCap := len(c.buf)
			if newCap == 0 {
				newCap = c.reactor.cfg.readBufferSize
			}
			for newCap < need {
				newCap *= 2
				if uint64(newCap) > c.reactor.cfg.maxFrameLen {
					return errHeaderTooLarge
				}
			}
			grown := make([]byte, newCap)
			copy(grown, c.buf[:c.writePos])
			c.buf = grown
		}
	}
	copy(c.buf[c.writePos:], data)
	c.writePos += len(data)
	return nil
}

// requestClose is safe to call from any goroutine (the WebSocket facade's
// Close, a failed send or drain, or a received close frame). The socket is
// shut down synchronously; selector deregistration and user callbacks are
// deferred onto the reactor thread. The reactor's own read/parse error
// paths call reactorCore.finishClose directly instead.
func (c *Connection) requestClose(cause error) {
	c.closeOnce.Do(func() {
		c.writer.markClosed()
		_ = c.sock.close()
		c.reactor.post(func() { c.reactor.finishClose(c, cause) })
	})
}

// step runs one iteration of the read state machine against the
// currently-pending bytes. progressed is false when more bytes are needed
// before the current state can produce anything (the drive loop then
// stops early rather than spinning).
func (c *Connection) step() (progressed bool, err error) {
	switch c.state {
	case stateRequestLine:
		return c.stepRequestLine()
	case stateHeaders:
		return c.stepHeaders()
	case stateHTTPBody:
		return c.stepHTTPBody()
	case stateWsHeader:
		return c.stepWsHeader()
	case stateWsPayload:
		return c.stepWsPayload()
	default:
		return false, nil
	}
}

func (c *Connection) stepRequestLine() (bool, error) {
	line, consumed, ok := splitCRLFLine(c.pending(), 0)
	if !ok {
		return false, nil
	}
	method, uri, version, err := parseRequestLine(line)
	if err != nil {
		return false, err
	}
	c.advance(consumed)
	c.pendingMethod = method
	c.pendingURI = uri
	c.pendingVersion = version
	c.pendingHeaders = nil
	c.state = stateHeaders
	return true, nil
}

func (c *Connection) stepHeaders() (bool, error) {
	line, consumed, ok := splitCRLFLine(c.pending(), 0)
	if !ok {
		return false, nil
	}
	c.advance(consumed)

	if len(line) == 0 {
		return true, c.finishHeaders()
	}

	h, err := parseHeaderLine(line)
	if err != nil {
		return false, err
	}
	c.pendingHeaders = append(c.pendingHeaders, h)
	return true, nil
}

// finishHeaders runs once the blank line terminating the header block has
// been consumed: it looks up the route and decides between the WebSocket
// handshake path and the ordinary HTTP dispatch path.
func (c *Connection) finishHeaders() error {
	req := &HttpRequest{
		Method:   c.pendingMethod,
		URI:      c.pendingURI,
		Version:  c.pendingVersion,
		headers:  c.pendingHeaders,
		RemoteIP: c.remoteAddr,
	}

	entry, found := c.reactor.router.lookup(routePath(req.URI))

	if found && entry.kind == routeWS {
		return c.handleUpgrade(req, entry)
	}

	if !found {
		c.respondHTTP(req, nil)
		return nil
	}

	cl, err := contentLength(req)
	if err != nil {
		return err
	}
	c.pendingEntry = entry
	c.pendingHasRoute = true
	if cl == 0 {
		c.respondHTTP(req, nil)
		return nil
	}
	c.pendingRemaining = cl
	c.pendingBody = make([]byte, 0, cl)
	c.state = stateHTTPBody
	return nil
}

func (c *Connection) stepHTTPBody() (bool, error) {
	avail := c.pending()
	if len(avail) == 0 {
		return false, nil
	}
	n := int64(len(avail))
	if n > c.pendingRemaining {
		n = c.pendingRemaining
	}
	c.pendingBody = append(c.pendingBody, avail[:n]...)
	c.advance(int(n))
	c.pendingRemaining -= n
	if c.pendingRemaining > 0 {
		return true, nil
	}

	req := &HttpRequest{
		Method:   c.pendingMethod,
		URI:      c.pendingURI,
		Version:  c.pendingVersion,
		headers:  c.pendingHeaders,
		RemoteIP: c.remoteAddr,
	}
	c.respondHTTP(req, c.pendingBody)
	return true, nil
}

// routePath strips any query string, since the router keys exact-match
// routes by path alone.
func routePath(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}
	return uri
}

// respondHTTP runs the matched (or default) HTTP handler through the
// session dispatcher, then decides keep-alive vs. close.
func (c *Connection) respondHTTP(req *HttpRequest, body []byte) {
	entry := c.pendingEntry
	hasRoute := c.pendingHasRoute
	c.pendingHasRoute = false
	c.pendingBody = nil
	req.Body = body

	w := &ResponseWriter{conn: c}
	rf := &ReadFiber{dispatcher: c.dispatcher}

	run := func() {
		defer c.recoverHTTPPanic(w)
		if hasRoute {
			entry.http(rf, req, w, c.session)
		} else {
			c.reactor.router.defaultHandler(req, w)
		}
		w.flush()
	}

	c.dispatcher.dispatchHTTP(run)
	c.dispatcher.disposeAfterHTTP()

	if c.state == stateClosed {
		return
	}
	if shouldKeepAlive(req) {
		c.state = stateRequestLine
	} else {
		c.state = stateClosed
	}
}

func (c *Connection) recoverHTTPPanic(w *ResponseWriter) {
	if r := recover(); r != nil {
		golog.Error("loom: http handler panic on connection {}: {}", c.id, r)
		w.status = 500
		w.headers = nil
		w.body.Reset()
		w.body.WriteString("500 Internal Server Error")
		w.flush()
	}
}

func shouldKeepAlive(req *HttpRequest) bool {
	conn := strings.ToLower(req.Header("Connection"))
	if conn == "close" {
		return false
	}
	if req.Version == "HTTP/1.0" {
		return conn == "keep-alive"
	}
	return true
}

// handleUpgrade performs the WebSocket handshake: validates required
// headers via isUpgradeRequest (answering 400 when they are missing),
// computes Sec-WebSocket-Accept, and on success switches the connection
// into WebSocket frame mode.
func (c *Connection) handleUpgrade(req *HttpRequest, entry routeEntry) error {
	if !isUpgradeRequest(req.headers) {
		c.writer.send(buildResponsePreamble(400, "Bad Request", "text/plain", len("not a websocket handshake")))
		c.writer.send([]byte("not a websocket handshake"))
		c.state = stateClosed
		return nil
	}
	if c.reactor.cfg.checkOrigin != nil && !c.reactor.cfg.checkOrigin(req) {
		body := []byte("origin not allowed")
		c.writer.send(buildResponsePreamble(400, "Bad Request", "text/plain", len(body)))
		c.writer.send(body)
		c.state = stateClosed
		return nil
	}

	key := req.Header("Sec-WebSocket-Key")
	accept := wsAcceptKey(key)
	res := c.writer.send(buildUpgradeResponse(accept))
	if res == SendFailed || res == SendClosed {
		c.state = stateClosed
		return nil
	}

	ws := &WebSocketConnection{conn: c, disposables: newDisposableSet(), dispatcher: c.dispatcher}
	c.ws = ws
	c.wsHandler = entry.ws

	var state any
	if entry.ws.onOpen != nil {
		func() {
			defer c.recoverWSPanic(nil)
			state = entry.ws.onOpen(ws, req, c.session)
		}()
	}
	c.wsState = state
	c.state = stateWsHeader
	return nil
}

func (c *Connection) stepWsHeader() (bool, error) {
	hdr, n, ok, err := decodeWsHeader(c.pending(), c.reactor.cfg.maxFrameLen)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	c.advance(n)
	hdrCopy := hdr
	c.wsHeader = &hdrCopy
	c.wsPayload = make([]byte, 0, hdr.PayloadLen)
	c.state = stateWsPayload
	return true, nil
}

func (c *Connection) stepWsPayload() (bool, error) {
	hdr := c.wsHeader
	need := hdr.PayloadLen - uint64(len(c.wsPayload))
	avail := c.pending()
	take := uint64(len(avail))
	if take > need {
		take = need
	}
	if take > 0 {
		c.wsPayload = append(c.wsPayload, avail[:take]...)
		c.advance(int(take))
	}
	if uint64(len(c.wsPayload)) < hdr.PayloadLen {
		return take > 0, nil
	}

	payload := c.wsPayload
	if hdr.Masked {
		unmaskInPlace(payload, hdr.MaskKey)
	}
	c.wsHeader = nil
	c.wsPayload = nil
	c.state = stateWsHeader

	c.deliverFrame(*hdr, payload)
	return true, nil
}

// deliverFrame dispatches one complete WebSocket frame according to its
// opcode.
func (c *Connection) deliverFrame(hdr WsFrameHeader, payload []byte) {
	h := c.wsHandler
	switch hdr.Opcode {
	case OpText, OpBinary:
		if !hdr.Fin {
			c.wsFragOpcode = hdr.Opcode
			c.wsFragmenting = true
			c.wsDefragAppend(payload)
			return
		}
		c.deliverComplete(hdr.Opcode, payload)

	case OpContinuation:
		c.wsDefragAppend(payload)
		if hdr.Fin {
			msg := c.wsDefragTake()
			c.deliverComplete(c.wsFragOpcode, msg)
			c.wsFragmenting = false
		}

	case OpPing:
		c.writer.send(encodeWsFrame(OpPong, payload, nil))
		if h.onPing != nil {
			c.runWSCallback(func() { h.onPing(c.ws, c.wsState, payload) })
		}

	case OpPong:
		if h.onPong != nil {
			c.runWSCallback(func() { h.onPong(c.ws, c.wsState, payload) })
		}

	case OpClose:
		c.writer.send(encodeWsFrame(OpClose, nil, nil))
		c.state = stateClosed
		c.requestClose(nil)

	default:
		golog.Warn("loom: connection {} received unsupported opcode {}", c.id, hdr.Opcode)
	}
}

// wsDefragAppend accumulates continuation-frame payloads into wsFragBuf; it
// is not guarded by a mutex because only the reactor thread ever touches
// it, and reads are strictly sequential per connection.
func (c *Connection) wsDefragAppend(payload []byte) {
	c.wsFragBuf = append(c.wsFragBuf, payload...)
}

func (c *Connection) wsDefragTake() []byte {
	msg := c.wsFragBuf
	c.wsFragBuf = nil
	return msg
}

func (c *Connection) deliverComplete(opcode byte, payload []byte) {
	h := c.wsHandler
	switch opcode {
	case OpText:
		if h.onMessage != nil {
			text := string(payload)
			c.runWSCallback(func() { h.onMessage(c.ws, c.wsState, text) })
		}
	case OpBinary:
		if h.onBinaryMessage != nil {
			c.runWSCallback(func() { h.onBinaryMessage(c.ws, c.wsState, payload) })
		}
	}
}

// runWSCallback submits fn to the session dispatcher. Copying any
// caller-owned mutable bytes isn't needed here because payload slices are
// already freshly allocated per frame: stepWsPayload appends into a new
// slice each time.
func (c *Connection) runWSCallback(fn func()) {
	wrapped := func() {
		defer c.recoverWSPanic(nil)
		fn()
	}
	c.dispatcher.dispatchWS(wrapped)
}

func (c *Connection) recoverWSPanic(extra any) {
	if r := recover(); r != nil {
		h := c.wsHandler
		if h != nil && h.onException != nil {
			if err, ok := r.(error); ok {
				h.onException(c.ws, c.wsState, err)
				return
			}
		}
		if h != nil && h.onUnknownException != nil {
			h.onUnknownException(r, c.ws)
			return
		}
		golog.Error("loom: unhandled websocket panic on connection {}: {}", c.id, r)
	}
}
