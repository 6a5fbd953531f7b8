package loom

import "bytes"

// ResponseWriter accumulates a handler's status, headers, and body; the
// whole response is rendered and sent as one buffer once the handler
// returns. There is no streaming response body.
type ResponseWriter struct {
	conn        *Connection
	status      int
	contentType string
	headers     []Header
	body        bytes.Buffer
	sent        bool
}

// Status sets the response status code; the default is 200.
func (w *ResponseWriter) Status(code int) *ResponseWriter {
	w.status = code
	return w
}

// Header appends a response header.
func (w *ResponseWriter) Header(name, value string) *ResponseWriter {
	w.headers = append(w.headers, Header{Name: name, Value: value})
	return w
}

// ContentType sets the Content-Type header rendered alongside the body.
func (w *ResponseWriter) ContentType(ct string) *ResponseWriter {
	w.contentType = ct
	return w
}

// Write appends bytes to the response body.
func (w *ResponseWriter) Write(p []byte) (int, error) {
	return w.body.Write(p)
}

// WriteString appends a string to the response body.
func (w *ResponseWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

// flush renders the preamble and body and sends them as one buffer. It is
// idempotent: a handler that never writes still gets an empty 200.
func (w *ResponseWriter) flush() {
	if w.sent {
		return
	}
	w.sent = true
	status := w.status
	if status == 0 {
		status = 200
	}
	ct := w.contentType
	if ct == "" {
		ct = "text/plain; charset=utf-8"
	}
	preamble := buildResponsePreamble(status, statusReason(status), ct, w.body.Len(), w.headers...)
	out := make([]byte, 0, len(preamble)+w.body.Len())
	out = append(out, preamble...)
	out = append(out, w.body.Bytes()...)
	w.conn.writer.send(out)
}

// statusReason maps the handful of status codes loom's own handlers and
// default 404 ever emit; anything else falls back to "Unknown".
func statusReason(code int) string {
	switch code {
	case 200:
		return "OK"
	case 204:
		return "No Content"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 429:
		return "Too Many Requests"
	case 500:
		return "Internal Server Error"
	default:
		return "Unknown"
	}
}

// ReadFiber is the handle passed to every HttpHandler; it exposes the
// connection's dispatch target for follow-up scheduling.
type ReadFiber struct {
	dispatcher *Dispatcher
}

// Execute submits fn to the same dispatch policy governing this
// connection's HTTP traffic.
func (rf *ReadFiber) Execute(fn func()) {
	rf.dispatcher.dispatchHTTP(fn)
}
