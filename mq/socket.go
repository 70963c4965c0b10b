// File: mq/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket is the queued, pattern-specific endpoint applications send and
// receive whole messages through. Pipes attached by background goroutines
// are parked in an incoming list and adopted by the owner at the start of
// its next operation, so pattern state is only touched under opMu.

package mq

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/internal/transport"
	"github.com/momentics/hioload-mq/msg"
)

// Socket is not safe for concurrent use; distinct sockets are independent.
type Socket struct {
	ctx    *Context
	handle Handle
	typ    api.SocketType
	pat    pattern
	log    *zap.Logger

	// opMu serialises public operations. Blocking waits release it.
	opMu          sync.Mutex
	pipes         []*pipe
	nextRoutingID uint32
	partialOut    *msg.Message
	partialIn     *msg.Message

	state atomic.Int32

	// mu guards the fields below and option writes.
	mu           sync.Mutex
	opts         socketOptions
	incoming     []*pipe
	bound        map[string]*binding
	connected    map[string]*connection
	lastEndpoint string
	mechanism    string
	secMeta      map[string]string

	sig      signal
	watchMu  sync.Mutex
	watchers map[signal]struct{}
}

// NewSocket creates a socket of the given pattern.
func (c *Context) NewSocket(t api.SocketType, opts ...SocketOption) (*Socket, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("mq: socket type %d: %w", int(t), api.ErrInvalidArgument)
	}
	s := &Socket{
		ctx:       c,
		typ:       t,
		bound:     make(map[string]*binding),
		connected: make(map[string]*connection),
		sig:       newSignal(),
		watchers:  make(map[signal]struct{}),
		opts: socketOptions{
			sndHWM:       c.cfg.SndHWM,
			rcvHWM:       c.cfg.RcvHWM,
			linger:       c.cfg.Linger,
			sndTimeo:     -1,
			rcvTimeo:     -1,
			reconnectIvl: c.cfg.ReconnectIvl,
			blocking:     true,
		},
	}
	for _, o := range opts {
		o(s)
	}
	if err := checkIdentity(s.opts.identity); err != nil {
		return nil, err
	}
	s.pat = newPattern(s)
	h, err := c.register(s)
	if err != nil {
		return nil, err
	}
	s.handle = h
	s.log = c.log.With(zap.Stringer("socket", t), zap.Stringer("handle", h))
	c.metrics.SocketOpened(t.String())
	s.log.Debug("socket opened")
	return s, nil
}

// Type returns the socket pattern.
func (s *Socket) Type() api.SocketType { return s.typ }

// Handle returns the socket's slot handle in its Context.
func (s *Socket) Handle() Handle { return s.handle }

// Context returns the owning Context.
func (s *Socket) Context() *Context { return s.ctx }

// State returns the lifecycle state.
func (s *Socket) State() api.SocketState { return api.SocketState(s.state.Load()) }

// LastEndpoint returns the most recent endpoint bound or connected, with
// ephemeral ports resolved.
func (s *Socket) LastEndpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEndpoint
}

// Endpoints lists bound and connected endpoints, sorted.
func (s *Socket) Endpoints() (bound, connected []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.bound {
		bound = append(bound, k)
	}
	for k := range s.connected {
		connected = append(connected, k)
	}
	sort.Strings(bound)
	sort.Strings(connected)
	return bound, connected
}

// SetSecurity records the security mechanism a SecurityApplier chose.
func (s *Socket) SetSecurity(mechanism string, metadata map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mechanism = mechanism
	s.secMeta = make(map[string]string, len(metadata))
	for k, v := range metadata {
		s.secMeta[k] = v
	}
}

// Security returns the recorded mechanism and a copy of its metadata.
func (s *Socket) Security() (string, map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta := make(map[string]string, len(s.secMeta))
	for k, v := range s.secMeta {
		meta[k] = v
	}
	return s.mechanism, meta
}

// ApplySecurity lets applier configure the socket from cert.
func (s *Socket) ApplySecurity(applier api.SecurityApplier, cert api.Certificate) error {
	if applier == nil || cert == nil {
		return fmt.Errorf("mq: apply security: %w", api.ErrInvalidArgument)
	}
	if err := applier.Apply(cert, s); err != nil {
		return fmt.Errorf("mq: apply %s certificate: %w", cert.Mechanism(), err)
	}
	return nil
}

var _ api.SecureSocket = (*Socket)(nil)

func (s *Socket) checkOpen() error {
	if api.SocketState(s.state.Load()) >= api.SocketClosing {
		return fmt.Errorf("mq: %s socket: %w", s.typ, api.ErrClosed)
	}
	return nil
}

func (s *Socket) activate() {
	s.state.CompareAndSwap(int32(api.SocketCreated), int32(api.SocketActive))
}

// Bind listens on endpoint. Binding an endpoint already bound is a no-op,
// except for ephemeral ports which always bind anew.
func (s *Socket) Bind(endpoint string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	ep, err := transport.ParseEndpoint(endpoint)
	if err != nil {
		return err
	}
	key := ep.String()
	s.mu.Lock()
	_, dup := s.bound[key]
	s.mu.Unlock()
	if dup && !ep.Ephemeral() {
		return nil
	}
	if s.typ == api.STREAM && ep.Scheme != transport.SchemeTCP {
		return fmt.Errorf("mq: STREAM over %s: %w", ep.Scheme, api.ErrNotSupported)
	}

	b := &binding{endpoint: ep, key: key}
	resolved := key
	switch ep.Scheme {
	case transport.SchemeInproc:
		waiting, err := s.ctx.bindInproc(s, ep.Name)
		if err != nil {
			return err
		}
		s.adoptPending(waiting, key)
	default:
		if err := s.listen(b); err != nil {
			return err
		}
		resolved = b.listener.Endpoint().String()
		if ep.Ephemeral() {
			key = resolved
			b.mu.Lock()
			b.key = key
			b.mu.Unlock()
		}
	}
	s.mu.Lock()
	s.bound[key] = b
	s.lastEndpoint = resolved
	s.mu.Unlock()
	s.activate()
	s.log.Info("bound", zap.String("endpoint", resolved))
	return nil
}

// adoptPending attaches inproc connects that were waiting for this bind.
func (s *Socket) adoptPending(waiting []*pendingConnect, key string) {
	snd, rcv := s.hwm()
	for _, pc := range waiting {
		if !s.typ.Compatible(pc.connector.typ) {
			s.log.Warn("rejecting incompatible inproc peer",
				zap.Stringer("peer", pc.connector.typ), zap.String("endpoint", key))
			pc.remote.terminate()
			continue
		}
		peerSnd, peerRcv := pc.connector.hwm()
		pc.local.out.setCapacity(hwmSum(peerSnd, rcv))
		pc.remote.out.setCapacity(hwmSum(snd, peerRcv))
		pc.remote.endpoint = key
		s.attach(pc.remote)
	}
}

// Unbind stops listening on endpoint and drops the peers accepted on it.
func (s *Socket) Unbind(endpoint string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	b, err := s.takeBinding(endpoint)
	if err != nil {
		return err
	}
	s.closeBinding(b)
	s.processCommands()
	s.dropPipes(func(p *pipe) bool { return !p.connector && p.endpoint == b.key })
	s.log.Info("unbound", zap.String("endpoint", b.key))
	return nil
}

func (s *Socket) takeBinding(endpoint string) (*binding, error) {
	key := endpoint
	if ep, err := transport.ParseEndpoint(endpoint); err == nil {
		key = ep.String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range []string{key, endpoint} {
		if b, ok := s.bound[k]; ok {
			delete(s.bound, k)
			return b, nil
		}
	}
	for k, b := range s.bound {
		if b.listener != nil && b.listener.Endpoint().String() == endpoint {
			delete(s.bound, k)
			return b, nil
		}
	}
	return nil, fmt.Errorf("mq: unbind %s: %w", endpoint, api.ErrNotFound)
}

func (s *Socket) closeBinding(b *binding) {
	b.close()
	if b.endpoint.Scheme == transport.SchemeInproc {
		s.ctx.unbindInproc(s, b.endpoint.Name)
	}
}

// Connect starts connecting to endpoint and returns at once. Messages sent
// before the peer appears queue up to the high-water mark.
func (s *Socket) Connect(endpoint string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	ep, err := transport.ParseEndpoint(endpoint)
	if err != nil {
		return err
	}
	if ep.Scheme != transport.SchemeInproc && (ep.Ephemeral() || ep.Host == "") {
		return fmt.Errorf("mq: connect needs a concrete address, got %s: %w", endpoint, api.ErrInvalidArgument)
	}
	if s.typ == api.STREAM && ep.Scheme != transport.SchemeTCP {
		return fmt.Errorf("mq: STREAM over %s: %w", ep.Scheme, api.ErrNotSupported)
	}
	key := ep.String()
	s.mu.Lock()
	if _, dup := s.connected[key]; dup {
		s.mu.Unlock()
		return nil
	}
	conn := &connection{endpoint: ep, key: key}
	s.connected[key] = conn
	s.mu.Unlock()

	if ep.Scheme == transport.SchemeInproc {
		err = s.connectInproc(conn)
	} else {
		err = s.dial(conn)
	}
	if err != nil {
		s.mu.Lock()
		delete(s.connected, key)
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.lastEndpoint = key
	s.mu.Unlock()
	s.activate()
	s.log.Info("connecting", zap.String("endpoint", key))
	return nil
}

func (s *Socket) connectInproc(conn *connection) error {
	local, err := s.ctx.connectInproc(s, conn)
	if err != nil {
		return err
	}
	s.attach(local)
	return nil
}

// Disconnect stops connecting to endpoint and drops the pipes it created.
func (s *Socket) Disconnect(endpoint string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := endpoint
	if ep, err := transport.ParseEndpoint(endpoint); err == nil {
		key = ep.String()
	}
	s.mu.Lock()
	conn, ok := s.connected[key]
	delete(s.connected, key)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("mq: disconnect %s: %w", endpoint, api.ErrNotFound)
	}
	s.closeConnection(conn)
	s.processCommands()
	s.dropPipes(func(p *pipe) bool { return p.connector && p.endpoint == key })
	s.log.Info("disconnected", zap.String("endpoint", key))
	return nil
}

func (s *Socket) closeConnection(conn *connection) {
	conn.close()
	if conn.endpoint.Scheme == transport.SchemeInproc {
		s.ctx.cancelPending(s, conn.endpoint.Name)
	}
}

// Send queues m atomically and leaves it empty on success. On failure m is
// unchanged. See SendContext.
func (s *Socket) Send(m *msg.Message) error {
	return s.SendContext(context.Background(), m)
}

// SendContext is Send that also gives up with ErrTerminated when ctx ends.
// A full high-water mark blocks, or fails with ErrResourceExhausted on a
// non-blocking socket; a send timeout turns the wait into ErrTimeout.
func (s *Socket) SendContext(ctx context.Context, m *msg.Message) error {
	if m == nil {
		return fmt.Errorf("mq: send nil message: %w", api.ErrInvalidArgument)
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	frames, size := m.FrameCount(), m.ContentSize()
	m.SetMoreFlags()
	deadline := deadlineFor(s.opts.sndTimeo)
	for {
		s.processCommands()
		err := s.pat.send(m)
		if err == nil {
			s.ctx.metrics.MessageSent(s.typ.String(), frames, size)
			return nil
		}
		if err != errAgain {
			return err
		}
		switch {
		case !s.hasEndpoints():
			return fmt.Errorf("mq: %s send: %w", s.typ, api.ErrNotConnected)
		case !s.opts.blocking && len(s.pipes) > 0:
			return fmt.Errorf("mq: %s send: high-water mark reached: %w", s.typ, api.ErrResourceExhausted)
		case !s.opts.blocking, s.opts.sndTimeo == 0:
			return api.ErrWouldBlock
		}
		if err := s.waitLocked(ctx, deadline); err != nil {
			return err
		}
	}
}

// Recv returns the next whole message. See RecvContext.
func (s *Socket) Recv() (*msg.Message, error) {
	return s.RecvContext(context.Background())
}

// RecvContext waits for a message until the receive timeout, ctx or the
// Context interrupt ends the wait.
func (s *Socket) RecvContext(ctx context.Context) (*msg.Message, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	deadline := deadlineFor(s.opts.rcvTimeo)
	for {
		s.processCommands()
		m, err := s.pat.recv()
		if err == nil {
			s.ctx.metrics.MessageReceived(s.typ.String(), m.ContentSize())
			return m, nil
		}
		if err != errAgain {
			return nil, err
		}
		if !s.hasEndpoints() {
			return nil, fmt.Errorf("mq: %s recv: %w", s.typ, api.ErrNotConnected)
		}
		if s.opts.rcvTimeo == 0 {
			return nil, api.ErrWouldBlock
		}
		if err := s.waitLocked(ctx, deadline); err != nil {
			return nil, err
		}
	}
}

func deadlineFor(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// waitLocked releases opMu until the socket is woken, the deadline passes
// or the wait is cancelled.
func (s *Socket) waitLocked(ctx context.Context, deadline time.Time) error {
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return api.ErrTimeout
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}
	s.opMu.Unlock()
	defer s.opMu.Lock()
	select {
	case <-s.sig:
	case <-s.ctx.term:
		return api.ErrTerminated
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", api.ErrTerminated, ctx.Err())
	case <-timeout:
		return api.ErrTimeout
	}
	if api.SocketState(s.state.Load()) >= api.SocketClosing {
		return fmt.Errorf("mq: socket closed while waiting: %w", api.ErrTerminated)
	}
	return nil
}

func (s *Socket) hasEndpoints() bool {
	if len(s.pipes) > 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bound) > 0 || len(s.connected) > 0 || len(s.incoming) > 0
}

// SendString sends one frame per string.
func (s *Socket) SendString(parts ...string) error {
	return s.Send(msg.NewFromStrings(parts...))
}

// RecvString receives a message and returns its first frame as a string.
func (s *Socket) RecvString() (string, error) {
	m, err := s.Recv()
	if err != nil {
		return "", err
	}
	str, _ := m.PopString()
	return str, nil
}

// SendFrame stages f. A frame with the more flag is held until a frame
// without it completes the message, which is then sent atomically.
func (s *Socket) SendFrame(f *msg.Frame) error {
	if f == nil {
		return fmt.Errorf("mq: send nil frame: %w", api.ErrInvalidArgument)
	}
	s.opMu.Lock()
	if s.partialOut == nil {
		s.partialOut = msg.New()
	}
	more := f.More()
	_ = s.partialOut.PushBack(f)
	if more {
		s.opMu.Unlock()
		return nil
	}
	m := s.partialOut
	s.partialOut = nil
	s.opMu.Unlock()
	return s.Send(m)
}

// RecvFrame returns the next frame of the current message, receiving a new
// message when the previous one is exhausted. More reports whether frames
// of the same message follow.
func (s *Socket) RecvFrame() (*msg.Frame, error) {
	s.opMu.Lock()
	if s.partialIn != nil && s.partialIn.FrameCount() > 0 {
		f := s.partialIn.PopFront()
		s.opMu.Unlock()
		return f, nil
	}
	s.opMu.Unlock()
	m, err := s.Recv()
	if err != nil {
		return nil, err
	}
	m.SetMoreFlags()
	f := m.PopFront()
	if f == nil {
		f = msg.NewFrame(nil)
	}
	s.opMu.Lock()
	s.partialIn = m
	s.opMu.Unlock()
	return f, nil
}

// Signal sends a one-frame signal message carrying status.
func (s *Socket) Signal(status byte) error {
	return s.Send(msg.NewSignal(status))
}

// WaitSignal discards messages until a signal arrives and returns its status.
func (s *Socket) WaitSignal() (byte, error) {
	for {
		m, err := s.Recv()
		if err != nil {
			return 0, err
		}
		if status, ok := m.Signal(); ok {
			return status, nil
		}
	}
}

// Close stops every bind and connect, waits up to linger for queued
// messages to leave, then drops all pipes. It is idempotent.
func (s *Socket) Close() error {
	s.opMu.Lock()
	s.mu.Lock()
	if api.SocketState(s.state.Load()) >= api.SocketClosing {
		s.mu.Unlock()
		s.opMu.Unlock()
		return nil
	}
	s.state.Store(int32(api.SocketClosing))
	bound, connected := s.bound, s.connected
	s.bound, s.connected = make(map[string]*binding), make(map[string]*connection)
	incoming := s.incoming
	s.incoming = nil
	s.mu.Unlock()

	for _, b := range bound {
		s.closeBinding(b)
	}
	for _, p := range incoming {
		p.terminate()
	}
	// Dialers and parked inproc connects stay live so linger can still
	// reach a peer that shows up late.
	s.lingerLocked()
	for _, c := range connected {
		c.halt()
		if c.endpoint.Scheme == transport.SchemeInproc {
			s.ctx.cancelPending(s, c.endpoint.Name)
		}
	}
	dropped := 0
	for _, p := range s.pipes {
		s.pat.detach(p)
		dropped += p.terminate()
		s.ctx.metrics.PipeDetached(p.transport)
	}
	s.pipes = nil
	if dropped > 0 {
		s.log.Debug("discarded queued messages", zap.Int("count", dropped))
		for i := 0; i < dropped; i++ {
			s.ctx.metrics.DroppedMessage(s.typ.String(), control.DropLinger)
		}
	}
	s.state.Store(int32(api.SocketClosed))
	s.opMu.Unlock()

	s.ctx.release(s.handle)
	s.ctx.metrics.SocketClosed(s.typ.String())
	s.wake()
	s.log.Debug("socket closed")
	return nil
}

// lingerLocked waits for outbound queues to drain according to linger.
func (s *Socket) lingerLocked() {
	linger := s.opts.linger
	if linger == 0 {
		return
	}
	var expired <-chan time.Time
	if linger > 0 {
		t := time.NewTimer(linger)
		defer t.Stop()
		expired = t.C
	}
	for {
		s.processCommandsClosing()
		pending := false
		for _, p := range s.pipes {
			if !p.out.isClosed() && p.out.pending() > 0 {
				pending = true
				break
			}
		}
		if !pending {
			return
		}
		select {
		case <-s.sig:
		case <-expired:
			return
		case <-s.ctx.term:
			return
		}
	}
}

// processCommands adopts pipes attached from other goroutines and detaches
// the ones whose peer went away.
func (s *Socket) processCommands() {
	s.mu.Lock()
	incoming := s.incoming
	s.incoming = nil
	s.mu.Unlock()
	for _, p := range incoming {
		s.attach(p)
	}
	s.processCommandsClosing()
}

// processCommandsClosing only reaps; it is safe while closing.
func (s *Socket) processCommandsClosing() {
	for i := 0; i < len(s.pipes); {
		p := s.pipes[i]
		if !p.dead() {
			i++
			continue
		}
		s.detach(p)
		if p.connector && p.transport == "inproc" {
			s.repend(p.endpoint)
		}
	}
}

// repend parks a fresh inproc connect after the binder went away.
func (s *Socket) repend(key string) {
	if api.SocketState(s.state.Load()) >= api.SocketClosing {
		return
	}
	s.mu.Lock()
	conn, ok := s.connected[key]
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.connectInproc(conn); err != nil {
		s.log.Warn("inproc reconnect failed", zap.String("endpoint", key), zap.Error(err))
	}
}

func (s *Socket) attach(p *pipe) {
	if p.terminated.Load() {
		return
	}
	p.in.setReader(s)
	p.out.setWriter(s)
	if !s.pat.attach(p) {
		s.log.Warn("peer rejected", zap.Uint64("pipe", p.id), zap.String("endpoint", p.endpoint))
		p.terminate()
		return
	}
	s.pipes = append(s.pipes, p)
	s.ctx.metrics.PipeAttached(p.transport)
	s.log.Debug("pipe attached", zap.Uint64("pipe", p.id), zap.String("endpoint", p.endpoint))
}

func (s *Socket) detach(p *pipe) {
	s.pipes = removePipe(s.pipes, p)
	s.pat.detach(p)
	p.terminate()
	s.ctx.metrics.PipeDetached(p.transport)
	s.log.Debug("pipe detached", zap.Uint64("pipe", p.id), zap.String("endpoint", p.endpoint))
}

func (s *Socket) dropPipes(match func(*pipe) bool) {
	for i := 0; i < len(s.pipes); {
		if p := s.pipes[i]; match(p) {
			s.detach(p)
			continue
		}
		i++
	}
}

// deliver hands a pipe from a background goroutine to the owner. The pipe
// is terminated if the socket is closing or stale reports true.
func (s *Socket) deliver(p *pipe, stale func() bool) {
	s.mu.Lock()
	if api.SocketState(s.state.Load()) >= api.SocketClosing || (stale != nil && stale()) {
		s.mu.Unlock()
		p.terminate()
		return
	}
	s.incoming = append(s.incoming, p)
	s.mu.Unlock()
	s.wake()
}

// wake notifies a blocked owner and every poller watching the socket.
func (s *Socket) wake() {
	s.sig.wake()
	s.watchMu.Lock()
	for w := range s.watchers {
		w.wake()
	}
	s.watchMu.Unlock()
}

func (s *Socket) addWatcher(w signal) {
	s.watchMu.Lock()
	s.watchers[w] = struct{}{}
	s.watchMu.Unlock()
}

func (s *Socket) removeWatcher(w signal) {
	s.watchMu.Lock()
	delete(s.watchers, w)
	s.watchMu.Unlock()
}

// pollIn reports whether Recv would return a message without waiting.
func (s *Socket) pollIn() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if api.SocketState(s.state.Load()) >= api.SocketClosing {
		return false
	}
	s.processCommands()
	if s.partialIn != nil && s.partialIn.FrameCount() > 0 {
		return true
	}
	return s.pat.hasIn()
}

// pollOut reports whether Send would accept a message without waiting.
func (s *Socket) pollOut() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if api.SocketState(s.state.Load()) >= api.SocketClosing {
		return false
	}
	s.processCommands()
	return s.pat.hasOut()
}

func (s *Socket) summary() map[string]any {
	bound, connected := s.Endpoints()
	s.mu.Lock()
	incoming := len(s.incoming)
	s.mu.Unlock()
	return map[string]any{
		"handle":    s.handle.String(),
		"type":      s.typ.String(),
		"state":     s.State().String(),
		"bound":     bound,
		"connected": connected,
		"incoming":  incoming,
	}
}

func (s *Socket) String() string {
	return fmt.Sprintf("%s[%s]", s.typ, s.handle)
}
