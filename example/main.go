package main

import (
	"time"

	"github.com/kashari/golog"
	"github.com/kashari/loom"
)

// session is the per-connection state threaded through every HTTP handler
// on this reactor.
type session struct {
	remoteAddr string
	connectedAt time.Time
}

// chatState is the per-WebSocket-connection state returned by OnOpen and
// threaded through every subsequent callback for that connection.
type chatState struct {
	nickname string
	messages int
}

func main() {
	builder := loom.NewBuilder(func(remoteAddr string) *session {
		return &session{remoteAddr: remoteAddr, connectedAt: time.Now()}
	}).
		WithReadBufferSize(4096).
		WithDispatcherFactory(func() *loom.Dispatcher {
			return loom.NewFiberSessionDispatcher(loom.DispatcherFlags{UseForWebsocket: true})
		}).
		WithCheckOrigin(func(req *loom.HttpRequest) bool {
			return true
		}).
		WithDecorator(loom.RateLimitDecorator[*session](50, time.Second))

	builder.Add("/", func(rf *loom.ReadFiber, req *loom.HttpRequest, w *loom.ResponseWriter, s *session) {
		w.ContentType("text/plain; charset=utf-8")
		w.WriteString("loom echo server\n")
	})

	builder.Add("/echo", func(rf *loom.ReadFiber, req *loom.HttpRequest, w *loom.ResponseWriter, s *session) {
		w.JSON(map[string]any{
			"method":    req.Method,
			"uri":       req.URI,
			"remote":    s.remoteAddr,
			"bodyBytes": len(req.Body),
		})
	})

	loom.AddWebSocket(builder, "/chat", loom.WebSocketHandler[*session, *chatState]{
		OnOpen: func(conn *loom.WebSocketConnection, req *loom.HttpRequest, s *session) *chatState {
			nick := req.Query("nick")
			if nick == "" {
				nick = "anon"
			}
			golog.Info("loom: chat connection opened from {} as {}", s.remoteAddr, nick)
			conn.SendText("welcome, " + nick)
			return &chatState{nickname: nick}
		},
		OnMessage: func(conn *loom.WebSocketConnection, st *chatState, text string) {
			st.messages++
			conn.SendText(st.nickname + ": " + text)
		},
		OnBinaryMessage: func(conn *loom.WebSocketConnection, st *chatState, data []byte) {
			conn.SendBinary(data)
		},
		OnClose: func(conn *loom.WebSocketConnection, st *chatState) {
			golog.Info("loom: {} disconnected after {} messages", st.nickname, st.messages)
		},
		OnException: func(conn *loom.WebSocketConnection, st *chatState, err error) {
			golog.Error("loom: chat handler error for {}: {}", st.nickname, err)
		},
	})

	reactor, err := builder.Build(":8080")
	if err != nil {
		golog.Error("loom: failed to build reactor: {}", err)
		return
	}

	if err := reactor.Serve(); err != nil {
		golog.Error("loom: reactor exited: {}", err)
	}
}
