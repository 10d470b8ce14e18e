package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/protocol"
)

// wsTransport adapts a websocket connection to registry.Transport. Frames
// are written only by the registry's writer goroutine; pings go through
// WriteControl, which gorilla allows concurrently with it.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closed       chan struct{}
}

func newTransport(conn *websocket.Conn, writeTimeout time.Duration) *wsTransport {
	return &wsTransport{conn: conn, writeTimeout: writeTimeout, closed: make(chan struct{})}
}

func (t *wsTransport) Write(frame []byte) error {
	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close sends a close frame and releases the connection. It unblocks the
// read loop, which then unregisters the connection.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		deadline := time.Now().Add(time.Second)
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	t := newTransport(conn, s.config.WriteTimeout)
	id := s.deps.Registry.Register(t, func() []byte {
		snap := s.deps.Store.Snapshot()
		return protocol.DocumentSync(snap.Content, snap.Version)
	})
	log := s.log.With().Str("conn", id).Logger()
	log.Info().Str("remote", r.RemoteAddr).Msg("client connected")

	go t.pingLoop(s.config.PongWait * 9 / 10)
	s.readLoop(id, t)

	s.deps.Registry.Unregister(id)
	t.Close()
	log.Info().Msg("client disconnected")
}

func (s *Server) readLoop(id string, t *wsTransport) {
	conn := t.conn
	conn.SetReadLimit(s.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Str("conn", id).Msg("read failed")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
		s.deps.Dispatcher.Dispatch(s.ctx, id, data)
	}
}
