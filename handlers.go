package loom

// HttpHandler handles a fully-parsed HTTP request. rf gives the handler
// access to the session's dispatch target (reactor thread or fiber) for
// any follow-up scheduling.
type HttpHandler[S any] func(rf *ReadFiber, req *HttpRequest, w *ResponseWriter, session S)

// Decorator wraps the router's dispatch for a single route, e.g. to
// short-circuit on authentication failure. The identity decorator (no-op)
// is the default.
type Decorator[S any] func(next HttpHandler[S]) HttpHandler[S]

// DefaultHandlerFunc serves requests with no matching route; the default
// is a 404 echoing the request URI.
type DefaultHandlerFunc func(req *HttpRequest, w *ResponseWriter)

// SessionFactory builds per-connection session state S on accept.
type SessionFactory[S any] func(remoteAddr string) S

// WebSocketHandler is the callback set a handler registers for one
// WebSocket route. OnOpen returns a per-connection state T threaded
// through every subsequent callback for that connection.
type WebSocketHandler[S any, T any] struct {
	OnOpen              func(conn *WebSocketConnection, req *HttpRequest, session S) T
	OnMessage           func(conn *WebSocketConnection, state T, text string)
	OnBinaryMessage     func(conn *WebSocketConnection, state T, data []byte)
	OnPing              func(conn *WebSocketConnection, state T, data []byte)
	OnPong              func(conn *WebSocketConnection, state T, data []byte)
	OnClose             func(conn *WebSocketConnection, state T)
	OnError             func(conn *WebSocketConnection, state T, reason string)
	OnException         func(conn *WebSocketConnection, state T, err error)
	OnUnknownException  func(cause any, conn *WebSocketConnection)
}

// httpHandlerAdapter is the type-erased form of HttpHandler[S] stored in
// the route table; Builder[S] closes over the concrete S when converting.
type httpHandlerAdapter func(rf *ReadFiber, req *HttpRequest, w *ResponseWriter, session any)

// decoratorAdapter is the type-erased form of Decorator[S].
type decoratorAdapter func(next httpHandlerAdapter) httpHandlerAdapter

// wsHandlerAdapter is the type-erased form of WebSocketHandler[S, T].
type wsHandlerAdapter struct {
	onOpen             func(conn *WebSocketConnection, req *HttpRequest, session any) any
	onMessage          func(conn *WebSocketConnection, state any, text string)
	onBinaryMessage    func(conn *WebSocketConnection, state any, data []byte)
	onPing             func(conn *WebSocketConnection, state any, data []byte)
	onPong             func(conn *WebSocketConnection, state any, data []byte)
	onClose            func(conn *WebSocketConnection, state any)
	onError            func(conn *WebSocketConnection, state any, reason string)
	onException        func(conn *WebSocketConnection, state any, err error)
	onUnknownException func(cause any, conn *WebSocketConnection)
}

func adaptHTTPHandler[S any](h HttpHandler[S]) httpHandlerAdapter {
	return func(rf *ReadFiber, req *HttpRequest, w *ResponseWriter, session any) {
		h(rf, req, w, session.(S))
	}
}

func adaptDecorator[S any](d Decorator[S]) decoratorAdapter {
	return func(next httpHandlerAdapter) httpHandlerAdapter {
		typedNext := func(rf *ReadFiber, req *HttpRequest, w *ResponseWriter, session S) {
			next(rf, req, w, session)
		}
		wrapped := d(typedNext)
		return adaptHTTPHandler(wrapped)
	}
}

func adaptWSHandler[S any, T any](h WebSocketHandler[S, T]) *wsHandlerAdapter {
	a := &wsHandlerAdapter{}
	if h.OnOpen != nil {
		a.onOpen = func(conn *WebSocketConnection, req *HttpRequest, session any) any {
			return h.OnOpen(conn, req, session.(S))
		}
	}
	if h.OnMessage != nil {
		a.onMessage = func(conn *WebSocketConnection, state any, text string) {
			h.OnMessage(conn, state.(T), text)
		}
	}
	if h.OnBinaryMessage != nil {
		a.onBinaryMessage = func(conn *WebSocketConnection, state any, data []byte) {
			h.OnBinaryMessage(conn, state.(T), data)
		}
	}
	if h.OnPing != nil {
		a.onPing = func(conn *WebSocketConnection, state any, data []byte) {
			h.OnPing(conn, state.(T), data)
		}
	}
	if h.OnPong != nil {
		a.onPong = func(conn *WebSocketConnection, state any, data []byte) {
			h.OnPong(conn, state.(T), data)
		}
	}
	if h.OnClose != nil {
		a.onClose = func(conn *WebSocketConnection, state any) {
			h.OnClose(conn, state.(T))
		}
	}
	if h.OnError != nil {
		a.onError = func(conn *WebSocketConnection, state any, reason string) {
			h.OnError(conn, state.(T), reason)
		}
	}
	if h.OnException != nil {
		a.onException = func(conn *WebSocketConnection, state any, err error) {
			h.OnException(conn, state.(T), err)
		}
	}
	if h.OnUnknownException != nil {
		a.onUnknownException = h.OnUnknownException
	}
	return a
}
