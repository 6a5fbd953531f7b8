package loom

import (
	"strconv"
	"strings"
	"testing"
)

func newTestConnection(r *router) (*Connection, *fakeSocket) {
	rc := newReactorCore(defaultConfig(), r, nil)
	sock := &fakeSocket{}
	c := &Connection{
		id:         1,
		sock:       sock,
		remoteAddr: "127.0.0.1:9999",
		reactor:    rc,
		buf:        make([]byte, defaultReadBufferSize),
		state:      stateRequestLine,
	}
	c.writer = newConnWriter(c, sock, rc)
	c.dispatcher = OnReadThreadDispatcher()
	rc.conns[1] = c
	return c, sock
}

// driveTest feeds data into the connection's buffer and runs step() until
// it stops progressing, mirroring reactorCore.drive without the real
// selector/accept-loop machinery.
func driveTest(t *testing.T, c *Connection, data []byte) {
	t.Helper()
	if err := c.appendData(data); err != nil {
		t.Fatalf("appendData: %v", err)
	}
	for i := 0; i < 1000; i++ {
		progressed, err := c.step()
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if !progressed {
			return
		}
	}
	t.Fatal("state machine never stopped progressing")
}

func TestConnectionHandlesSimpleGET(t *testing.T) {
	r := newRouter()
	r.addHTTP("/hello", func(rf *ReadFiber, req *HttpRequest, w *ResponseWriter, session any) {
		w.WriteString("hi")
	})
	c, sock := newTestConnection(r)

	driveTest(t, c, []byte("GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"))

	out := string(sock.written)
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("unexpected response: %q", out)
	}
	if !strings.HasSuffix(out, "\r\n\r\nhi") {
		t.Fatalf("unexpected body: %q", out)
	}
	if c.state != stateRequestLine {
		t.Fatalf("expected keep-alive to reset to stateRequestLine, got %v", c.state)
	}
}

func TestConnectionHandlesPostWithBody(t *testing.T) {
	r := newRouter()
	var gotBody string
	r.addHTTP("/echo", func(rf *ReadFiber, req *HttpRequest, w *ResponseWriter, session any) {
		gotBody = string(req.Body)
		w.WriteString(gotBody)
	})
	c, _ := newTestConnection(r)

	body := "payload"
	req := "POST /echo HTTP/1.1\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n" + body
	driveTest(t, c, []byte(req))

	if gotBody != body {
		t.Fatalf("got body %q, want %q", gotBody, body)
	}
}

func TestConnectionUnmatchedRouteUsesDefault404(t *testing.T) {
	r := newRouter()
	c, sock := newTestConnection(r)

	driveTest(t, c, []byte("GET /nope HTTP/1.1\r\nHost: x\r\n\r\n"))

	out := string(sock.written)
	if !strings.HasPrefix(out, "HTTP/1.1 404 Not Found\r\n") {
		t.Fatalf("unexpected response: %q", out)
	}
}

func TestConnectionConnectionCloseHeaderClosesState(t *testing.T) {
	r := newRouter()
	r.addHTTP("/x", func(rf *ReadFiber, req *HttpRequest, w *ResponseWriter, session any) {})
	c, _ := newTestConnection(r)

	driveTest(t, c, []byte("GET /x HTTP/1.1\r\nConnection: close\r\n\r\n"))

	if c.state != stateClosed {
		t.Fatalf("expected stateClosed, got %v", c.state)
	}
}

func TestConnectionMalformedRequestLineErrors(t *testing.T) {
	r := newRouter()
	c, _ := newTestConnection(r)

	if err := c.appendData([]byte("NOT A VALID REQUEST LINE\r\n")); err != nil {
		t.Fatalf("appendData: %v", err)
	}
	if _, err := c.step(); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestConnectionWebSocketHandshakeAndMessage(t *testing.T) {
	r := newRouter()
	var gotText string
	r.addWS("/chat", adaptWSHandler[any, any](WebSocketHandler[any, any]{
		OnOpen: func(conn *WebSocketConnection, req *HttpRequest, session any) any {
			return nil
		},
		OnMessage: func(conn *WebSocketConnection, state any, text string) {
			gotText = text
		},
	}))
	c, sock := newTestConnection(r)

	handshake := "GET /chat HTTP/1.1\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"
	driveTest(t, c, []byte(handshake))

	out := string(sock.written)
	if !strings.Contains(out, "101 Switching Protocols") {
		t.Fatalf("expected a 101 response, got %q", out)
	}
	if !strings.Contains(out, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=") {
		t.Fatalf("expected the matching accept key, got %q", out)
	}
	if c.state != stateWsHeader {
		t.Fatalf("expected stateWsHeader after handshake, got %v", c.state)
	}

	key := [4]byte{1, 2, 3, 4}
	frame := encodeWsFrame(OpText, []byte("hi"), &key)
	driveTest(t, c, frame)

	if gotText != "hi" {
		t.Fatalf("got %q, want %q", gotText, "hi")
	}
}

func TestConnectionWebSocketPingAutoReply(t *testing.T) {
	r := newRouter()
	r.addWS("/chat", adaptWSHandler[any, any](WebSocketHandler[any, any]{
		OnOpen: func(conn *WebSocketConnection, req *HttpRequest, session any) any { return nil },
	}))
	c, sock := newTestConnection(r)

	handshake := "GET /chat HTTP/1.1\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"
	driveTest(t, c, []byte(handshake))
	sock.written = nil

	key := [4]byte{9, 9, 9, 9}
	ping := encodeWsFrame(OpPing, []byte("ping-data"), &key)
	driveTest(t, c, ping)

	hdr, n, ok, err := decodeWsHeader(sock.written, defaultGrowCap)
	if err != nil || !ok {
		t.Fatalf("expected a decodable pong frame, ok=%v err=%v", ok, err)
	}
	if hdr.Opcode != OpPong {
		t.Fatalf("got opcode %d, want OpPong", hdr.Opcode)
	}
	if string(sock.written[n:n+int(hdr.PayloadLen)]) != "ping-data" {
		t.Fatalf("expected the pong to echo the ping payload")
	}
}

