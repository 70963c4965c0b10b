// File: mq/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package mq

import (
	"fmt"
	"time"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/internal/transport"
)

// socketOptions are written by the owning goroutine under Socket.mu and
// read without the lock by the owner only.
type socketOptions struct {
	sndHWM          int
	rcvHWM          int
	linger          time.Duration
	sndTimeo        time.Duration
	rcvTimeo        time.Duration
	identity        []byte
	routerMandatory bool
	reconnectIvl    time.Duration
	blocking        bool
}

// SocketOption customizes a socket at creation.
type SocketOption func(*Socket)

// WithSendHWM bounds queued outbound messages per peer, 0 = unlimited.
func WithSendHWM(n int) SocketOption {
	return func(s *Socket) { s.opts.sndHWM = n }
}

// WithRecvHWM bounds queued inbound messages per peer, 0 = unlimited.
func WithRecvHWM(n int) SocketOption {
	return func(s *Socket) { s.opts.rcvHWM = n }
}

// WithSocketLinger overrides the Context default linger.
func WithSocketLinger(d time.Duration) SocketOption {
	return func(s *Socket) { s.opts.linger = d }
}

// WithSendTimeout bounds blocking sends; negative waits forever, zero
// never waits.
func WithSendTimeout(d time.Duration) SocketOption {
	return func(s *Socket) { s.opts.sndTimeo = d }
}

// WithRecvTimeout bounds blocking receives; negative waits forever, zero
// never waits.
func WithRecvTimeout(d time.Duration) SocketOption {
	return func(s *Socket) { s.opts.rcvTimeo = d }
}

// WithIdentity sets the identity peers route by. NewSocket rejects
// identities longer than 255 bytes.
func WithIdentity(id []byte) SocketOption {
	return func(s *Socket) { s.opts.identity = cloneBytes(id) }
}

// WithRouterMandatory makes ROUTER sends to unknown or full peers fail
// instead of dropping.
func WithRouterMandatory(on bool) SocketOption {
	return func(s *Socket) { s.opts.routerMandatory = on }
}

// WithReconnectInterval sets the delay between connect attempts.
func WithReconnectInterval(d time.Duration) SocketOption {
	return func(s *Socket) { s.opts.reconnectIvl = d }
}

// WithBlocking selects whether a send at the high-water mark blocks (true,
// the default) or fails with ErrResourceExhausted.
func WithBlocking(on bool) SocketOption {
	return func(s *Socket) { s.opts.blocking = on }
}

func (s *Socket) setOption(fn func(*socketOptions)) {
	s.mu.Lock()
	fn(&s.opts)
	s.mu.Unlock()
}

// SetSendHWM changes the send mark for pipes created afterwards.
func (s *Socket) SetSendHWM(n int) { s.setOption(func(o *socketOptions) { o.sndHWM = n }) }

// SetRecvHWM changes the receive mark for pipes created afterwards.
func (s *Socket) SetRecvHWM(n int) { s.setOption(func(o *socketOptions) { o.rcvHWM = n }) }

// SetLinger changes how long Close waits for queued messages.
func (s *Socket) SetLinger(d time.Duration) { s.setOption(func(o *socketOptions) { o.linger = d }) }

// SetSendTimeout changes the blocking send bound, as WithSendTimeout.
func (s *Socket) SetSendTimeout(d time.Duration) { s.setOption(func(o *socketOptions) { o.sndTimeo = d }) }

// SetRecvTimeout changes the blocking receive bound, as WithRecvTimeout.
func (s *Socket) SetRecvTimeout(d time.Duration) { s.setOption(func(o *socketOptions) { o.rcvTimeo = d }) }

// SetIdentity takes effect for connections made afterwards.
func (s *Socket) SetIdentity(id []byte) error {
	if err := checkIdentity(id); err != nil {
		return err
	}
	s.setOption(func(o *socketOptions) { o.identity = cloneBytes(id) })
	return nil
}

// checkIdentity rejects identities the greeting cannot carry.
func checkIdentity(id []byte) error {
	if len(id) > transport.MaxIdentitySize {
		return fmt.Errorf("mq: identity of %d bytes exceeds %d: %w", len(id), transport.MaxIdentitySize, api.ErrInvalidArgument)
	}
	return nil
}

// SetRouterMandatory toggles failing ROUTER sends to unknown peers.
func (s *Socket) SetRouterMandatory(on bool) {
	s.setOption(func(o *socketOptions) { o.routerMandatory = on })
}

// SetReconnectInterval applies to connects made afterwards.
func (s *Socket) SetReconnectInterval(d time.Duration) {
	s.setOption(func(o *socketOptions) { o.reconnectIvl = d })
}

// SetBlocking selects blocking or failing sends at the high-water mark.
func (s *Socket) SetBlocking(on bool) { s.setOption(func(o *socketOptions) { o.blocking = on }) }

// SendHWM returns the current send mark.
func (s *Socket) SendHWM() int {
	snd, _ := s.hwm()
	return snd
}

// RecvHWM returns the current receive mark.
func (s *Socket) RecvHWM() int {
	_, rcv := s.hwm()
	return rcv
}

// Linger returns the close linger.
func (s *Socket) Linger() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.linger
}

// SendTimeout returns the blocking send bound.
func (s *Socket) SendTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.sndTimeo
}

// RecvTimeout returns the blocking receive bound.
func (s *Socket) RecvTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.rcvTimeo
}

// Identity returns a copy of the socket identity.
func (s *Socket) Identity() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneBytes(s.opts.identity)
}

func (s *Socket) identity() []byte { return s.Identity() }

func (s *Socket) hwm() (snd, rcv int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.sndHWM, s.opts.rcvHWM
}
