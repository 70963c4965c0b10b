// File: internal/transport/tcp_listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Listener is a bound endpoint accepting peers in the background.
type Listener interface {
	Endpoint() Endpoint
	Close() error
}

// TCPListener accepts raw TCP connections and hands them to a callback.
type TCPListener struct {
	ln       net.Listener
	endpoint Endpoint
	accept   func(net.Conn)
	log      *zap.Logger
	done     chan struct{}
	once     sync.Once
}

// ListenTCP binds ep and starts the accept loop. accept runs on the accept
// goroutine and must not block.
func ListenTCP(ep Endpoint, accept func(net.Conn), log *zap.Logger) (*TCPListener, error) {
	ln, err := net.Listen("tcp", ep.Address())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", ep, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	l := &TCPListener{
		ln:       ln,
		endpoint: ep.Resolve(ln.Addr()),
		accept:   accept,
		log:      log,
		done:     make(chan struct{}),
	}
	go l.acceptLoop()
	return l, nil
}

func (l *TCPListener) acceptLoop() {
	defer close(l.done)
	backoff := 5 * time.Millisecond
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Warn("accept failed", zap.Stringer("endpoint", l.endpoint), zap.Error(err))
			time.Sleep(backoff)
			if backoff < time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = 5 * time.Millisecond
		l.accept(conn)
	}
}

// Endpoint returns the resolved endpoint, with the concrete port.
func (l *TCPListener) Endpoint() Endpoint { return l.endpoint }

// Close stops accepting and waits for the accept loop to exit.
// Already accepted connections are not touched.
func (l *TCPListener) Close() error {
	var err error
	l.once.Do(func() {
		err = l.ln.Close()
		<-l.done
	})
	return err
}

// DialTCP connects to ep.
func DialTCP(ctx context.Context, ep Endpoint) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep, err)
	}
	return conn, nil
}
