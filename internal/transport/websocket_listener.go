// File: internal/transport/websocket_listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WebSocket transport. Each unit travels as one binary WebSocket message.
// The listener serves a single path through a chi router.

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
)

// WSConn adapts a gorilla connection to Conn.
type WSConn struct {
	conn *websocket.Conn
	once sync.Once
}

// NewWSConn wraps c. maxSize <= 0 selects DefaultMaxMessageSize.
func NewWSConn(c *websocket.Conn, maxSize int) *WSConn {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	c.SetReadLimit(int64(maxSize))
	return &WSConn{conn: c}
}

// ReadMessage returns the next binary message. Text messages are a
// protocol violation.
func (w *WSConn) ReadMessage() ([]byte, error) {
	kind, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if kind != websocket.BinaryMessage {
		return nil, fmt.Errorf("transport: websocket message type %d: %w", kind, api.ErrProtocolViolation)
	}
	return data, nil
}

func (w *WSConn) WriteMessage(b []byte) error {
	return w.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (w *WSConn) SetDeadline(t time.Time) error {
	if err := w.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return w.conn.SetWriteDeadline(t)
}

func (w *WSConn) RemoteAddr() string { return w.conn.RemoteAddr().String() }

// Close sends a close frame on a best-effort basis, then drops the socket.
func (w *WSConn) Close() error {
	var err error
	w.once.Do(func() {
		deadline := time.Now().Add(100 * time.Millisecond)
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = w.conn.Close()
	})
	return err
}

var _ Conn = (*WSConn)(nil)

// WSListener upgrades HTTP requests on one path to WebSocket connections.
type WSListener struct {
	ln       net.Listener
	srv      *http.Server
	endpoint Endpoint
	log      *zap.Logger
	done     chan struct{}
	once     sync.Once
}

// ListenWS binds ep and serves upgrades in the background. accept runs on
// the request goroutine and may block until the connection is handed off.
func ListenWS(ep Endpoint, maxSize int, accept func(Conn), log *zap.Logger) (*WSListener, error) {
	ln, err := net.Listen("tcp", ep.Address())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", ep, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	l := &WSListener{
		ln:       ln,
		endpoint: ep.Resolve(ln.Addr()),
		log:      log,
		done:     make(chan struct{}),
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	r := chi.NewRouter()
	r.Get(ep.Path, func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			l.log.Debug("websocket upgrade failed", zap.Stringer("endpoint", l.endpoint), zap.Error(err))
			return
		}
		accept(NewWSConn(conn, maxSize))
	})
	l.srv = &http.Server{Handler: r, ReadHeaderTimeout: DefaultHandshakeTimeout}
	go func() {
		defer close(l.done)
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Warn("websocket listener stopped", zap.Stringer("endpoint", l.endpoint), zap.Error(err))
		}
	}()
	return l, nil
}

// Endpoint returns the resolved endpoint.
func (l *WSListener) Endpoint() Endpoint { return l.endpoint }

// Close stops the HTTP server. Upgraded connections are hijacked and stay
// open until their owner closes them.
func (l *WSListener) Close() error {
	var err error
	l.once.Do(func() {
		err = l.srv.Close()
		<-l.done
	})
	return err
}

// DialWS opens a WebSocket connection to ep.
func DialWS(ctx context.Context, ep Endpoint, maxSize int) (*WSConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ep.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep, err)
	}
	return NewWSConn(conn, maxSize), nil
}

var (
	_ Listener = (*TCPListener)(nil)
	_ Listener = (*WSListener)(nil)
)
