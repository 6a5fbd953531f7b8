package loom

import "sync"

// bufferedWrite is the per-connection queue of bytes awaiting
// write-readiness. At most one exists per connection at any time.
type bufferedWrite struct {
	queue []byte
}

// writeRegistrar is how connWriter asks the reactor, the only thread
// allowed to mutate selector registrations, to register or deregister
// this connection for write-readiness, or to close it outright.
type writeRegistrar interface {
	registerWritable(c *Connection)
	deregisterWritable(c *Connection)
	requestClose(c *Connection, cause error)
}

// connWriter is the per-connection, thread-safe writer. Its mutex
// serializes every application sender and the reactor's write-readiness
// drain callback for the same socket.
type connWriter struct {
	mu       sync.Mutex
	sock     rawSocket
	owner    *Connection
	reg      writeRegistrar
	buffered *bufferedWrite
	closed   bool
}

func newConnWriter(owner *Connection, sock rawSocket, reg writeRegistrar) *connWriter {
	return &connWriter{owner: owner, sock: sock, reg: reg}
}

// send writes payload, buffering whatever the socket does not accept
// immediately and registering for write-readiness.
func (w *connWriter) send(payload []byte) SendResult {
	// requestClose marks this writer closed under w.mu, so it runs only
	// after the mutex has been released.
	var failure error
	defer func() {
		if failure != nil {
			w.reg.requestClose(w.owner, failure)
		}
	}()
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return SendClosed
	}

	if w.buffered != nil {
		w.buffered.queue = append(w.buffered.queue, payload...)
		return SendBuffered
	}

	n, err := w.writeInlineLocked(payload)
	if err != nil {
		w.closed = true
		failure = err
		return SendFailed
	}

	if n == len(payload) {
		return SendSuccess
	}

	w.buffered = &bufferedWrite{queue: append([]byte(nil), payload[n:]...)}
	w.reg.registerWritable(w.owner)
	return SendBuffered
}

// writeInlineLocked repeatedly writes to the socket while it accepts at
// least one byte and payload remains, returning the number of bytes that
// made it onto the wire.
func (w *connWriter) writeInlineLocked(payload []byte) (int, error) {
	written := 0
	for written < len(payload) {
		n, wouldBlock, err := w.sock.write(payload[written:])
		if err != nil {
			return written, err
		}
		written += n
		if wouldBlock || n == 0 {
			break
		}
	}
	return written, nil
}

// drainOnWritable is invoked by the reactor thread when the socket becomes
// writable again. It empties as much of the buffered queue as the kernel
// will currently accept, under the same mutex that guards sender calls.
// When the queue empties it clears the buffered slot, allowing the next
// inline send to bypass the selector entirely.
func (w *connWriter) drainOnWritable() {
	var failure error
	defer func() {
		if failure != nil {
			w.reg.requestClose(w.owner, failure)
		}
	}()
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buffered == nil || w.closed {
		return
	}

	n, err := w.writeInlineLocked(w.buffered.queue)
	if err != nil {
		w.closed = true
		w.buffered = nil
		w.reg.deregisterWritable(w.owner)
		failure = err
		return
	}

	w.buffered.queue = w.buffered.queue[n:]
	if len(w.buffered.queue) == 0 {
		w.buffered = nil
		w.reg.deregisterWritable(w.owner)
	}
}

// hasBufferedWrite reports whether a write is currently queued.
func (w *connWriter) hasBufferedWrite() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buffered != nil
}

// markClosed marks the writer closed without touching the socket;
// Connection.requestClose calls it just before closing the socket.
func (w *connWriter) markClosed() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}
