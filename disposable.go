package loom

import "sync"

// Disposable is a handle whose Dispose cancels a scheduled task or releases
// a resource exactly once.
type Disposable interface {
	Dispose()
}

// disposableFunc adapts a plain func to Disposable.
type disposableFunc struct {
	once sync.Once
	fn   func()
}

func (d *disposableFunc) Dispose() {
	d.once.Do(d.fn)
}

func newDisposable(fn func()) Disposable {
	return &disposableFunc{fn: fn}
}

// disposableSet tracks the disposables registered on a single WebSocket
// connection facade. Once closed is set, any further add disposes
// immediately instead of registering, so no scheduled task body executes
// after onClose.
type disposableSet struct {
	mu     sync.Mutex
	items  map[*registeredDisposable]struct{}
	closed bool
}

// registeredDisposable is the handle returned to callers of add; disposing
// it both disposes the underlying resource and removes it from the set,
// at most once however many times Dispose is called.
type registeredDisposable struct {
	set    *disposableSet
	target Disposable
	once   sync.Once
}

func (r *registeredDisposable) Dispose() {
	r.once.Do(func() {
		r.set.remove(r)
		r.target.Dispose()
	})
}

func newDisposableSet() *disposableSet {
	return &disposableSet{items: make(map[*registeredDisposable]struct{})}
}

// add registers target for disposal when the connection closes. If the set
// is already closed, target is disposed immediately and the returned
// handle is a no-op on further Dispose calls (it has already run).
func (s *disposableSet) add(target Disposable) *registeredDisposable {
	h := &registeredDisposable{set: s, target: target}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		h.Dispose()
		return h
	}
	s.items[h] = struct{}{}
	s.mu.Unlock()
	return h
}

func (s *disposableSet) remove(h *registeredDisposable) {
	s.mu.Lock()
	delete(s.items, h)
	s.mu.Unlock()
}

// size returns the number of disposables currently registered.
func (s *disposableSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// closeAndDrain marks the set closed and disposes a snapshot of the
// currently registered disposables exactly once each.
func (s *disposableSet) closeAndDrain() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	snapshot := make([]*registeredDisposable, 0, len(s.items))
	for h := range s.items {
		snapshot = append(snapshot, h)
	}
	s.items = make(map[*registeredDisposable]struct{})
	s.mu.Unlock()

	for _, h := range snapshot {
		h.Dispose()
	}
}

// isClosed reports whether closeAndDrain has already run.
func (s *disposableSet) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
