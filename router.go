package loom

import "github.com/kashari/loom/tree"

// routeKind tags a registered route as HTTP or WebSocket, since both share
// the same exact-match path table.
type routeKind int

const (
	routeHTTP routeKind = iota
	routeWS
)

// routeEntry is what the radix tree stores per path.
type routeEntry struct {
	kind routeKind
	http httpHandlerAdapter
	ws   *wsHandlerAdapter
}

// router is loom's exact-match route table, built on a radix tree
// narrowed to exact full-path lookups only; it never needs prefix or
// parameterized matching (see tree/radix.go).
type router struct {
	routes         *tree.Tree
	defaultHandler DefaultHandlerFunc
	decorator      decoratorAdapter
}

func newRouter() *router {
	return &router{
		routes:         tree.New(),
		defaultHandler: default404Handler,
	}
}

// addHTTP registers an HTTP route, running it through the router's
// decorator (if any) exactly once at registration time: decorators apply
// at Add-time, not retroactively.
func (r *router) addHTTP(path string, h httpHandlerAdapter) {
	if r.decorator != nil {
		h = r.decorator(h)
	}
	r.routes.Insert(path, routeEntry{kind: routeHTTP, http: h})
}

func (r *router) addWS(path string, h *wsHandlerAdapter) {
	r.routes.Insert(path, routeEntry{kind: routeWS, ws: h})
}

func (r *router) lookup(path string) (routeEntry, bool) {
	v, ok := r.routes.Get(path)
	if !ok {
		return routeEntry{}, false
	}
	return v.(routeEntry), true
}

// default404Handler is the router's default: a 404 echoing the request
// URI.
func default404Handler(req *HttpRequest, w *ResponseWriter) {
	w.Status(404)
	w.WriteString("404 not found: ")
	w.WriteString(req.URI)
}
