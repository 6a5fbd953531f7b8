package loom

// Builder assembles a Reactor[S] via a fluent configuration surface. The
// zero value is not usable; call NewBuilder.
type Builder[S any] struct {
	cfg        config
	router     *router
	sessionNew SessionFactory[S]
}

// NewBuilder starts a Builder for session type S. sessionFactory builds
// one S per accepted connection; pass nil if S is a type whose zero value
// suffices (e.g. struct{}).
func NewBuilder[S any](sessionFactory SessionFactory[S]) *Builder[S] {
	return &Builder[S]{
		cfg:        defaultConfig(),
		router:     newRouter(),
		sessionNew: sessionFactory,
	}
}

// WithReadBufferSize overrides the initial per-connection read buffer
// capacity.
func (b *Builder[S]) WithReadBufferSize(n int) *Builder[S] {
	b.cfg.readBufferSize = n
	return b
}

// WithMaxReadLoops overrides the bound on read/parse iterations per
// readiness notification.
func (b *Builder[S]) WithMaxReadLoops(n int) *Builder[S] {
	b.cfg.maxReadLoops = n
	return b
}

// WithMaxFrameSize overrides the ceiling past which a growing header
// block or WebSocket frame is treated as a protocol error.
func (b *Builder[S]) WithMaxFrameSize(n uint64) *Builder[S] {
	b.cfg.maxFrameLen = n
	return b
}

// WithDefaultHandler overrides the handler used for requests matching no
// registered route (default: a 404 echoing the URI).
func (b *Builder[S]) WithDefaultHandler(h DefaultHandlerFunc) *Builder[S] {
	b.router.defaultHandler = h
	return b
}

// WithDecorator installs a Decorator applied to every HTTP route added
// after this call.
func (b *Builder[S]) WithDecorator(d Decorator[S]) *Builder[S] {
	b.router.decorator = adaptDecorator(d)
	return b
}

// WithDispatcherFactory overrides the per-connection Dispatcher factory
// (default: OnReadThreadDispatcher).
func (b *Builder[S]) WithDispatcherFactory(f DispatcherFactory) *Builder[S] {
	b.cfg.dispatcherFactory = f
	return b
}

// WithCheckOrigin installs a hook consulted during the WebSocket
// handshake; returning false rejects the upgrade with 400.
func (b *Builder[S]) WithCheckOrigin(fn func(*HttpRequest) bool) *Builder[S] {
	b.cfg.checkOrigin = fn
	return b
}

// WithFileLogging redirects golog's output to path.
func (b *Builder[S]) WithFileLogging(path string) *Builder[S] {
	initFileLogging(path)
	return b
}

// Add registers an HTTP handler at an exact path.
func (b *Builder[S]) Add(path string, h HttpHandler[S]) *Builder[S] {
	b.router.addHTTP(path, adaptHTTPHandler(h))
	return b
}

// AddWebSocket registers a WebSocket handler at an exact path. It is a
// package-level function rather than a Builder method because Go methods
// cannot introduce a type parameter (T) beyond the receiver's own (S).
func AddWebSocket[S any, T any](b *Builder[S], path string, h WebSocketHandler[S, T]) *Builder[S] {
	b.router.addWS(path, adaptWSHandler[S, T](h))
	return b
}

// Build finalizes the configuration and returns a Reactor bound to addr.
// The reactor does not start listening until Serve is called.
func (b *Builder[S]) Build(addr string) (*Reactor[S], error) {
	b.cfg.addr = addr
	var newSession func(string) any
	if b.sessionNew != nil {
		factory := b.sessionNew
		newSession = func(remoteAddr string) any { return factory(remoteAddr) }
	} else {
		newSession = func(string) any {
			var zero S
			return zero
		}
	}
	core := newReactorCore(b.cfg, b.router, newSession)
	return &Reactor[S]{core: core}, nil
}
