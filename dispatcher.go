package loom

// DispatcherFlags selects which traffic classes a FiberSession dispatcher
// hands off to its per-session fiber; the other class still runs on the
// reactor thread.
type DispatcherFlags struct {
	UseForHTTP      bool
	UseForWebsocket bool
}

type dispatcherKind int

const (
	dispatchOnReadThread dispatcherKind = iota
	dispatchFiberSession
)

// Dispatcher is either OnReadThread (handler callbacks run synchronously on
// the reactor) or FiberSession (callbacks are submitted to an owned
// sequential executor). Match is by kind rather than virtual dispatch,
// since this sits on the hot per-frame path.
type Dispatcher struct {
	kind  dispatcherKind
	flags DispatcherFlags
	fiber *fiberExecutor
}

// DispatcherFactory builds one Dispatcher per accepted connection.
type DispatcherFactory func() *Dispatcher

// OnReadThreadDispatcher is the default dispatcher factory: every handler
// callback runs on the reactor thread, with no owned resources.
func OnReadThreadDispatcher() *Dispatcher {
	return &Dispatcher{kind: dispatchOnReadThread}
}

// NewFiberSessionDispatcher creates a fiber-backed dispatcher. The fiber's
// single worker goroutine starts immediately, when the session is accepted.
func NewFiberSessionDispatcher(flags DispatcherFlags) *Dispatcher {
	return &Dispatcher{
		kind:  dispatchFiberSession,
		flags: flags,
		fiber: newFiberExecutor(),
	}
}

// dispatchHTTP runs fn according to the HTTP policy: inline for
// OnReadThread, or for FiberSession only when UseForHTTP is set (otherwise
// HTTP still runs inline; the flags toggle independently for HTTP and
// WebSocket traffic).
func (d *Dispatcher) dispatchHTTP(fn func()) {
	if d.kind == dispatchFiberSession && d.flags.UseForHTTP {
		d.fiber.submit(fn)
		return
	}
	fn()
}

// dispatchWS runs fn according to the WebSocket policy, symmetric to
// dispatchHTTP.
func (d *Dispatcher) dispatchWS(fn func()) {
	if d.kind == dispatchFiberSession && d.flags.UseForWebsocket {
		d.fiber.submit(fn)
		return
	}
	fn()
}

// disposeAfterHTTP tears down the dispatcher's owned resources once an HTTP
// response completes, if this dispatcher is fiber-backed and configured
// for HTTP.
func (d *Dispatcher) disposeAfterHTTP() {
	if d.kind == dispatchFiberSession && d.flags.UseForHTTP && d.fiber != nil {
		d.fiber.dispose()
	}
}

// disposeOnClose tears down the dispatcher's owned resources when a
// WebSocket connection's onClose fires.
func (d *Dispatcher) disposeOnClose() {
	if d.kind == dispatchFiberSession && d.fiber != nil {
		d.fiber.dispose()
	}
}
