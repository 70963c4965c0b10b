// File: mq/session.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Network side of pipes. A session pumps one connection: its reader decodes
// units into the pipe's inbound queue and its writer encodes the outbound
// queue onto the wire. Dialers re-establish lost connections after the
// reconnect interval; accepted connections die with their peer.

package mq

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/internal/transport"
	"github.com/momentics/hioload-mq/msg"
)

var errStreamClose = errors.New("mq: stream close requested")

// peerParams is the snapshot of socket settings background goroutines use.
type peerParams struct {
	greet   transport.Greeting
	snd     int
	rcv     int
	timeout time.Duration
	maxSize int
	ivl     time.Duration
}

func (s *Socket) peerParams() peerParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return peerParams{
		greet:   transport.Greeting{Type: s.typ, Identity: cloneBytes(s.opts.identity)},
		snd:     s.opts.sndHWM,
		rcv:     s.opts.rcvHWM,
		timeout: s.ctx.cfg.HandshakeTimeout,
		maxSize: s.ctx.cfg.MaxMessageSize,
		ivl:     s.opts.reconnectIvl,
	}
}

// routesByIdentity reports patterns whose pipes are keyed by the peer and
// therefore recreated, not reused, on reconnect.
func routesByIdentity(t api.SocketType) bool {
	return t == api.ROUTER || t == api.SERVER || t == api.STREAM
}

type binding struct {
	endpoint transport.Endpoint
	key      string
	params   peerParams
	listener transport.Listener
	closed   atomic.Bool

	mu          sync.Mutex
	handshaking map[transport.Conn]struct{}
}

func (b *binding) currentKey() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.key
}

func (b *binding) track(c transport.Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return false
	}
	if b.handshaking == nil {
		b.handshaking = make(map[transport.Conn]struct{})
	}
	b.handshaking[c] = struct{}{}
	return true
}

func (b *binding) untrack(c transport.Conn) {
	b.mu.Lock()
	delete(b.handshaking, c)
	b.mu.Unlock()
}

func (b *binding) close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	if b.listener != nil {
		_ = b.listener.Close()
	}
	b.mu.Lock()
	for c := range b.handshaking {
		_ = c.Close()
	}
	b.handshaking = nil
	b.mu.Unlock()
}

type connection struct {
	endpoint transport.Endpoint
	key      string
	dialer   *dialer
	closed   atomic.Bool
}

func (c *connection) close() {
	c.closed.Store(true)
	if c.dialer != nil {
		c.dialer.stop()
	}
}

// halt cancels reconnects but leaves the live session to drain.
func (c *connection) halt() {
	c.closed.Store(true)
	if c.dialer != nil {
		c.dialer.cancel()
	}
}

func (s *Socket) listen(b *binding) error {
	b.params = s.peerParams()
	var (
		l   transport.Listener
		err error
	)
	switch b.endpoint.Scheme {
	case transport.SchemeTCP:
		l, err = transport.ListenTCP(b.endpoint, func(c net.Conn) { s.accepted(b, c) }, s.log)
	case transport.SchemeWS:
		l, err = transport.ListenWS(b.endpoint, b.params.maxSize, func(c transport.Conn) { s.acceptedConn(b, c) }, s.log)
	default:
		return api.ErrNotSupported
	}
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.listener = l
	b.mu.Unlock()
	return nil
}

func (s *Socket) accepted(b *binding, c net.Conn) {
	if s.typ == api.STREAM {
		s.startStream(b.currentKey(), transport.NewStreamConn(c, nil), b.params, nil, b.closed.Load)
		return
	}
	s.acceptedConn(b, transport.NewFramedConn(c, b.params.maxSize))
}

// acceptedConn greets an accepted peer on its own goroutine, so a dialer
// handshaking from an executor worker of the same Context never waits on
// that worker.
func (s *Socket) acceptedConn(b *binding, c transport.Conn) {
	if !b.track(c) {
		_ = c.Close()
		return
	}
	go func() {
		defer b.untrack(c)
		peer, err := transport.Handshake(c, b.params.greet, b.params.timeout)
		if err != nil {
			s.log.Debug("handshake failed", zap.String("remote", c.RemoteAddr()), zap.Error(err))
			_ = c.Close()
			return
		}
		p := newNetPipe(b.endpoint.Scheme, b.currentKey(), peer, false, b.params)
		sess := newSession(s, p, c, false)
		p.onTerm = sess.close
		sess.lost = func(error) { p.peerGone() }
		sess.start()
		s.deliver(p, b.closed.Load)
	}()
}

func newNetPipe(scheme, key string, peer transport.Greeting, connector bool, pp peerParams) *pipe {
	capacity := hwmSum(pp.snd, pp.rcv)
	p := newPipe(newPipeQueue(capacity), newPipeQueue(capacity), scheme, key)
	p.connector = connector
	p.peerType = peer.Type
	p.identity = cloneBytes(peer.Identity)
	return p
}

// streamNotice is the empty frame STREAM sockets report on connect and
// disconnect.
func streamNotice() *msg.Message {
	m := msg.New()
	m.AppendMem(nil)
	return m
}

func (s *Socket) startStream(key string, c transport.Conn, pp peerParams, d *dialer, stale func() bool) {
	p := newNetPipe(transport.SchemeTCP, key, transport.Greeting{Type: api.STREAM}, d != nil, pp)
	_ = p.in.push(streamNotice(), true)
	sess := newSession(s, p, c, true)
	p.onTerm = sess.close
	sess.lost = func(error) {
		_ = p.in.push(streamNotice(), true)
		p.peerGone()
		if d != nil {
			d.reconnect()
		}
	}
	if d != nil {
		d.setSession(sess)
	}
	sess.start()
	s.deliver(p, stale)
}

// session pumps one connection in both directions.
type session struct {
	sock    *Socket
	pipe    *pipe
	conn    transport.Conn
	raw     bool
	rsig    signal
	wsig    signal
	stopCh  chan struct{}
	once    sync.Once
	stopped atomic.Bool
	// lost runs once when the connection fails on its own.
	lost func(error)
}

func newSession(s *Socket, p *pipe, c transport.Conn, raw bool) *session {
	return &session{
		sock:   s,
		pipe:   p,
		conn:   c,
		raw:    raw,
		rsig:   newSignal(),
		wsig:   newSignal(),
		stopCh: make(chan struct{}),
	}
}

func (ss *session) start() {
	ss.pipe.out.setReader(ss.wsig)
	ss.pipe.in.setWriter(ss.rsig)
	go ss.readLoop()
	go ss.writeLoop()
}

// close ends the session on the owner's request.
func (ss *session) close() {
	ss.stopped.Store(true)
	ss.shutdown(nil)
}

func (ss *session) shutdown(err error) {
	ss.once.Do(func() {
		close(ss.stopCh)
		_ = ss.conn.Close()
		if ss.stopped.Load() || ss.lost == nil {
			return
		}
		ss.sock.log.Debug("connection lost", zap.String("remote", ss.conn.RemoteAddr()), zap.Error(err))
		ss.lost(err)
	})
}

func (ss *session) readLoop() {
	for {
		data, err := ss.conn.ReadMessage()
		if err != nil {
			ss.shutdown(err)
			return
		}
		var m *msg.Message
		if ss.raw {
			m = msg.New()
			m.AppendMem(data)
		} else if m, err = msg.Decode(data); err != nil {
			ss.sock.log.Warn("malformed message from peer", zap.String("remote", ss.conn.RemoteAddr()), zap.Error(err))
			ss.shutdown(err)
			return
		}
		if !ss.enqueue(m) {
			return
		}
	}
}

// enqueue waits for room in the inbound queue, applying backpressure to
// the peer by not reading further.
func (ss *session) enqueue(m *msg.Message) bool {
	for {
		switch ss.pipe.in.push(m, false) {
		case nil:
			return true
		case errPipeClosed:
			return false
		}
		select {
		case <-ss.rsig:
		case <-ss.stopCh:
			return false
		}
	}
}

func (ss *session) writeLoop() {
	var buf []byte
	for {
		m := ss.pipe.out.take()
		if m == nil {
			if ss.pipe.out.isClosed() {
				return
			}
			select {
			case <-ss.wsig:
				continue
			case <-ss.stopCh:
				return
			}
		}
		var err error
		buf, err = ss.write(m, buf[:0])
		ss.pipe.out.settle()
		if err != nil {
			ss.shutdown(err)
			return
		}
	}
}

// write sends m on the connection, reusing buf for the encoding.
func (ss *session) write(m *msg.Message, buf []byte) ([]byte, error) {
	if ss.raw {
		for _, f := range m.Frames() {
			buf = append(buf, f.Data()...)
		}
		if len(buf) == 0 {
			return buf, errStreamClose
		}
		return buf, ss.conn.WriteMessage(buf)
	}
	buf, err := m.AppendEncoded(buf)
	if err != nil {
		ss.sock.log.Warn("dropping unencodable message", zap.Error(err))
		return buf, nil
	}
	return buf, ss.conn.WriteMessage(buf)
}

// dialer keeps one connect alive.
type dialer struct {
	sock   *Socket
	conn   *connection
	params peerParams
	raw    bool
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	pipe *pipe
	sess *session
	// served is set once the persistent pipe has had a session.
	served bool
}

func (s *Socket) dial(conn *connection) error {
	d := &dialer{
		sock:   s,
		conn:   conn,
		params: s.peerParams(),
		raw:    s.typ == api.STREAM,
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	conn.dialer = d
	if !routesByIdentity(s.typ) {
		p := newNetPipe(conn.endpoint.Scheme, conn.key, transport.Greeting{}, true, d.params)
		p.onTerm = d.stop
		d.pipe = p
		s.attach(p)
	}
	d.schedule(0)
	return nil
}

func (d *dialer) schedule(delay time.Duration) {
	if d.ctx.Err() != nil {
		return
	}
	run := func() {
		if d.ctx.Err() != nil {
			return
		}
		if err := d.sock.ctx.submit(d.attempt); err != nil {
			if errors.Is(err, api.ErrTerminated) {
				return
			}
			d.sock.log.Warn("connect attempt deferred", zap.String("endpoint", d.conn.key), zap.Error(err))
			d.schedule(d.params.ivl)
		}
	}
	if delay <= 0 {
		run()
		return
	}
	time.AfterFunc(delay, run)
}

func (d *dialer) reconnect() {
	d.sock.ctx.metrics.Reconnect(d.conn.endpoint.Scheme)
	d.schedule(d.params.ivl)
}

func (d *dialer) setSession(sess *session) {
	d.mu.Lock()
	d.sess = sess
	d.mu.Unlock()
}

func (d *dialer) attempt() {
	if d.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(d.ctx, d.params.timeout)
	defer cancel()
	ep := d.conn.endpoint
	var (
		c   transport.Conn
		err error
	)
	switch ep.Scheme {
	case transport.SchemeTCP:
		var nc net.Conn
		if nc, err = transport.DialTCP(ctx, ep); err == nil {
			if d.raw {
				c = transport.NewStreamConn(nc, nil)
			} else {
				c = transport.NewFramedConn(nc, d.params.maxSize)
			}
		}
	case transport.SchemeWS:
		c, err = transport.DialWS(ctx, ep, d.params.maxSize)
	}
	if err != nil {
		d.sock.log.Debug("connect failed", zap.String("endpoint", d.conn.key), zap.Error(err))
		d.reconnect()
		return
	}
	if d.raw {
		d.sock.startStream(d.conn.key, c, d.params, d, d.conn.closed.Load)
		return
	}
	peer, err := transport.Handshake(c, d.params.greet, d.params.timeout)
	if err != nil {
		_ = c.Close()
		d.sock.log.Warn("handshake failed", zap.String("endpoint", d.conn.key), zap.Error(err))
		d.reconnect()
		return
	}

	d.mu.Lock()
	if d.ctx.Err() != nil {
		d.mu.Unlock()
		_ = c.Close()
		return
	}
	p := d.pipe
	fresh := p == nil
	if fresh {
		p = newNetPipe(ep.Scheme, d.conn.key, peer, true, d.params)
	} else if p.terminated.Load() {
		d.mu.Unlock()
		_ = c.Close()
		return
	}
	sess := newSession(d.sock, p, c, false)
	if fresh {
		p.onTerm = sess.close
		sess.lost = func(error) {
			p.peerGone()
			d.reconnect()
		}
	} else {
		sess.lost = func(error) { d.reconnect() }
	}
	d.sess = sess
	replay := !fresh && d.served
	d.served = true
	d.mu.Unlock()

	if h, ok := d.sock.pat.(reconnectHook); ok && replay {
		h.reconnected(p)
	}
	sess.start()
	if fresh {
		d.sock.deliver(p, d.conn.closed.Load)
	}
	d.sock.log.Debug("connected", zap.String("endpoint", d.conn.key), zap.Stringer("peer", peer.Type))
}

// stop cancels reconnects and closes the live session.
func (d *dialer) stop() {
	d.cancel()
	d.mu.Lock()
	sess := d.sess
	d.sess = nil
	d.mu.Unlock()
	if sess != nil {
		sess.close()
	}
}
