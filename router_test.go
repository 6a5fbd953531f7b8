package loom

import "testing"

func TestRouterLookupExactMatch(t *testing.T) {
	r := newRouter()
	called := false
	r.addHTTP("/hello", func(rf *ReadFiber, req *HttpRequest, w *ResponseWriter, session any) {
		called = true
	})

	entry, ok := r.lookup("/hello")
	if !ok {
		t.Fatal("expected /hello to be registered")
	}
	entry.http(nil, nil, nil, nil)
	if !called {
		t.Fatal("expected handler to run")
	}

	if _, ok := r.lookup("/hel"); ok {
		t.Fatal("router must not match on a path prefix")
	}
	if _, ok := r.lookup("/hello/world"); ok {
		t.Fatal("router must not match a longer path")
	}
}

func TestRouterDecoratorAppliesAtRegistration(t *testing.T) {
	r := newRouter()
	var seen []string
	r.decorator = func(next httpHandlerAdapter) httpHandlerAdapter {
		return func(rf *ReadFiber, req *HttpRequest, w *ResponseWriter, session any) {
			seen = append(seen, "decorated")
			next(rf, req, w, session)
		}
	}
	r.addHTTP("/a", func(rf *ReadFiber, req *HttpRequest, w *ResponseWriter, session any) {
		seen = append(seen, "handler")
	})

	// Changing the decorator after registration must not retroactively
	// affect an already-registered route.
	r.decorator = nil
	r.addHTTP("/b", func(rf *ReadFiber, req *HttpRequest, w *ResponseWriter, session any) {
		seen = append(seen, "plain")
	})

	a, _ := r.lookup("/a")
	a.http(nil, nil, nil, nil)
	b, _ := r.lookup("/b")
	b.http(nil, nil, nil, nil)

	want := []string{"decorated", "handler", "plain"}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v, want %v", seen, want)
		}
	}
}

func TestDefault404Handler(t *testing.T) {
	conn := &Connection{}
	w := &ResponseWriter{conn: conn}
	default404Handler(&HttpRequest{URI: "/missing"}, w)
	if w.status != 404 {
		t.Fatalf("got status %d, want 404", w.status)
	}
	if w.body.String() == "" {
		t.Fatal("expected a body explaining the 404")
	}
}
