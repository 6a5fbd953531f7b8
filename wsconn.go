package loom

import "time"

// WebSocketConnection is the handler-facing facade for an upgraded
// connection. All methods are safe to call from any goroutine; sends go
// through the connection's connWriter, and close follows the requestClose
// protocol shared with reactor-detected errors.
type WebSocketConnection struct {
	conn        *Connection
	disposables *disposableSet
	dispatcher  *Dispatcher
}

// Send writes a single complete (unfragmented) frame of the given opcode.
func (c *WebSocketConnection) Send(opcode byte, payload []byte) SendResult {
	return c.conn.writer.send(encodeWsFrame(opcode, payload, nil))
}

// SendText sends one text frame.
func (c *WebSocketConnection) SendText(text string) SendResult {
	return c.Send(OpText, []byte(text))
}

// SendBinary sends one binary frame.
func (c *WebSocketConnection) SendBinary(data []byte) SendResult {
	return c.Send(OpBinary, data)
}

// SendPing sends a ping frame; the peer's pong auto-reply (if any) surfaces
// through OnPong.
func (c *WebSocketConnection) SendPing(data []byte) SendResult {
	return c.Send(OpPing, data)
}

// SendPong sends an unsolicited pong frame.
func (c *WebSocketConnection) SendPong(data []byte) SendResult {
	return c.Send(OpPong, data)
}

// Close sends a close frame and tears down the connection. OnClose fires
// exactly once regardless of whether the peer or this call initiated the
// close.
func (c *WebSocketConnection) Close() {
	c.conn.writer.send(encodeWsFrame(OpClose, nil, nil))
	c.conn.requestClose(nil)
}

// RemoteAddr returns the peer address captured at accept time.
func (c *WebSocketConnection) RemoteAddr() string {
	return c.conn.remoteAddr
}

// Execute submits fn to this connection's dispatch policy.
func (c *WebSocketConnection) Execute(fn func()) {
	c.dispatcher.dispatchWS(fn)
}

// runIfActive is the guard every scheduled task body passes through: once
// the connection's disposable set has closed (onClose has run, or is about
// to), no scheduled task body executes again.
func (c *WebSocketConnection) runIfActive(fn func()) {
	if c.disposables.isClosed() {
		return
	}
	c.Execute(fn)
}

// Schedule runs fn once after delay, unless the connection closes first.
func (c *WebSocketConnection) Schedule(delay time.Duration, fn func()) Disposable {
	timer := time.AfterFunc(delay, func() { c.runIfActive(fn) })
	d := newDisposable(func() { timer.Stop() })
	return c.disposables.add(d)
}

// ScheduleAtFixedRate runs fn repeatedly every period, starting after
// initial, until the connection closes or the returned Disposable fires.
func (c *WebSocketConnection) ScheduleAtFixedRate(initial, period time.Duration, fn func()) Disposable {
	return c.scheduleRepeating(initial, period, fn)
}

// ScheduleWithFixedDelay is an alias for call sites that want the same
// fixed-period semantics under this name. loom does not measure handler
// execution time, so both scheduling modes behave identically.
func (c *WebSocketConnection) ScheduleWithFixedDelay(initial, period time.Duration, fn func()) Disposable {
	return c.scheduleRepeating(initial, period, fn)
}

func (c *WebSocketConnection) scheduleRepeating(initial, period time.Duration, fn func()) Disposable {
	stop := make(chan struct{})
	var timer *time.Timer
	var tick func()
	tick = func() {
		select {
		case <-stop:
			return
		default:
		}
		c.runIfActive(fn)
		select {
		case <-stop:
		default:
			timer = time.AfterFunc(period, tick)
		}
	}
	timer = time.AfterFunc(initial, tick)
	d := newDisposable(func() {
		close(stop)
		timer.Stop()
	})
	return c.disposables.add(d)
}

// Add registers target for disposal when this connection closes, without
// scheduling anything itself. It is a direct hook for handler-owned
// resources.
func (c *WebSocketConnection) Add(target Disposable) Disposable {
	return c.disposables.add(target)
}

// Size returns the number of disposables currently registered on this
// connection (tests and diagnostics).
func (c *WebSocketConnection) Size() int {
	return c.disposables.size()
}
