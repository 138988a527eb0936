// Package signaling is the WebSocket transport in front of the relay core.
// It owns connection upgrade, framing, read limits, idle/keepalive handling
// and per-connection rate limiting; the relay never sees any of that, only
// open/message/close events and a Conn it can send to.
package signaling

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicelink/signaling-relay/internal/config"
	"github.com/voicelink/signaling-relay/internal/metrics"
	"github.com/voicelink/signaling-relay/internal/ratelimit"
	"github.com/voicelink/signaling-relay/internal/relay"
)

const wsWriteWait = 1 * time.Second

// WebSocketServer upgrades HTTP requests and pumps transport events into the
// relay. One goroutine per connection runs the read loop; a second one sends
// keepalive pings.
type WebSocketServer struct {
	cfg      config.Config
	log      *slog.Logger
	relay    *relay.Relay
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func NewWebSocketServer(cfg config.Config, logger *slog.Logger, r *relay.Relay, m *metrics.Metrics) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketServer{
		cfg:     cfg,
		log:     logger,
		relay:   r,
		metrics: m,
		upgrader: websocket.Upgrader{
			// Origin checks are enforced by the outer httpserver origin
			// middleware; unit tests hit this handler directly.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	wc := newWSConn(conn)
	s.log.Debug("connection opened", "remote_addr", conn.RemoteAddr().String())
	s.relay.HandleOpen(wc)

	stopPing := make(chan struct{})
	go s.pingLoop(wc, stopPing)

	s.readLoop(wc)

	close(stopPing)
	wc.markClosed()
	s.relay.HandleClose(wc)
	_ = conn.Close()
	s.log.Debug("connection closed", "remote_addr", conn.RemoteAddr().String())
}

func (s *WebSocketServer) readLoop(wc *wsConn) {
	conn := wc.conn
	conn.SetReadLimit(s.cfg.MaxMessageBytes)

	resetDeadline := func() {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))
	}
	resetDeadline()
	conn.SetPongHandler(func(string) error {
		resetDeadline()
		return nil
	})

	limiter := ratelimit.NewTokenBucket(ratelimit.RealClock{}, int64(s.cfg.MaxMessagesPerSecond))

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		resetDeadline()

		// Apply the rate limit after reading so bytes already in the TCP
		// receive buffer are consumed; closing with unread data can turn into
		// an abortive close and hide the close reason from the client.
		if !limiter.Allow() {
			s.metrics.Inc(metrics.WSRateLimited)
			wc.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		if msgType != websocket.TextMessage {
			s.metrics.Inc(metrics.WSBinaryDropped)
			continue
		}

		s.relay.HandleMessage(wc, data)
	}
}

func (s *WebSocketServer) pingLoop(wc *wsConn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.WSPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := wc.ping(); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// wsConn adapts a gorilla connection to relay.Conn: serialized writes with a
// deadline, an open flag the relay checks before sending, and a close that
// tries to deliver a close frame first.
type wsConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	open    atomic.Bool

	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	wc := &wsConn{conn: conn}
	wc.open.Store(true)
	return wc
}

func (wc *wsConn) Send(data []byte) error {
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	_ = wc.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return wc.conn.WriteMessage(websocket.TextMessage, data)
}

func (wc *wsConn) Open() bool {
	return wc.open.Load()
}

// Close force-closes the connection; used by the relay on login takeover.
// The read loop observes the closed socket and reports the close event.
func (wc *wsConn) Close() error {
	wc.closeWith(websocket.CloseNormalClosure, "signed in from another connection")
	return nil
}

func (wc *wsConn) closeWith(code int, reason string) {
	wc.closeOnce.Do(func() {
		wc.open.Store(false)
		wc.writeMu.Lock()
		_ = wc.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
		wc.writeMu.Unlock()
		_ = wc.conn.Close()
	})
}

func (wc *wsConn) markClosed() {
	wc.open.Store(false)
}

func (wc *wsConn) ping() error {
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	return wc.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsWriteWait))
}
