// File: mq/poller.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Poller waits until one of a set of sockets has a message to receive.
// Sockets notify the poller through a shared wakeup signal; closed sockets
// are skipped, so closing a watched socket is safe. Watched sockets may
// belong to different Contexts: Interrupt wakes every socket of its
// Context, so the shared signal also reports termination.

package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/momentics/hioload-mq/api"
)

// Poller is not safe for concurrent Wait calls.
type Poller struct {
	mu         sync.Mutex
	socks      []*Socket
	sig        signal
	roundRobin bool
	start      int
	expired    bool
	terminated bool
}

// NewPoller returns a poller watching socks, in order.
func NewPoller(socks ...*Socket) *Poller {
	p := &Poller{sig: newSignal()}
	for _, s := range socks {
		_ = p.Add(s)
	}
	return p
}

// Add watches s. Adding a socket twice is a no-op.
func (p *Poller) Add(s *Socket) error {
	if s == nil {
		return fmt.Errorf("mq: poller add: %w", api.ErrInvalidArgument)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, x := range p.socks {
		if x == s {
			return nil
		}
	}
	p.socks = append(p.socks, s)
	s.addWatcher(p.sig)
	p.sig.wake()
	return nil
}

// Remove stops watching s. Removing an unknown socket is a no-op.
func (p *Poller) Remove(s *Socket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, x := range p.socks {
		if x == s {
			p.socks = append(p.socks[:i], p.socks[i+1:]...)
			if p.start >= len(p.socks) {
				p.start = 0
			}
			s.removeWatcher(p.sig)
			return
		}
	}
}

// Len returns the number of watched sockets.
func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.socks)
}

// SetRoundRobin rotates the scan start after each hit so one busy socket
// cannot starve the rest. By default the lowest index wins.
func (p *Poller) SetRoundRobin(on bool) {
	p.mu.Lock()
	p.roundRobin = on
	p.start = 0
	p.mu.Unlock()
}

// Expired reports whether the last Wait timed out.
func (p *Poller) Expired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expired
}

// Terminated reports whether the last Wait was interrupted.
func (p *Poller) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// Wait returns the first ready socket. A zero timeout never blocks and a
// negative one waits indefinitely. It fails with ErrTimeout when the
// timeout elapses and ErrTerminated when a watched socket's Context is
// interrupted.
func (p *Poller) Wait(timeout time.Duration) (*Socket, error) {
	return p.WaitContext(context.Background(), timeout)
}

// WaitContext is Wait that also ends with ErrTerminated when ctx is done.
func (p *Poller) WaitContext(ctx context.Context, timeout time.Duration) (*Socket, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		s, err := p.scan()
		if s != nil || err != nil {
			return s, err
		}
		if timeout == 0 {
			return nil, p.finish(true, false, api.ErrTimeout)
		}
		select {
		case <-p.sig:
		case <-ctx.Done():
			return nil, p.finish(false, true, fmt.Errorf("%w: %v", api.ErrTerminated, ctx.Err()))
		case <-expired:
			return nil, p.finish(true, false, api.ErrTimeout)
		}
	}
}

// scan checks every socket once.
func (p *Poller) scan() (*Socket, error) {
	p.mu.Lock()
	socks := append([]*Socket(nil), p.socks...)
	start := p.start
	p.mu.Unlock()

	n := len(socks)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		s := socks[idx]
		if s.State() >= api.SocketClosing {
			continue
		}
		if s.ctx.Interrupted() {
			return nil, p.finish(false, true, api.ErrTerminated)
		}
		if s.pollIn() {
			p.mu.Lock()
			p.expired, p.terminated = false, false
			if p.roundRobin && len(p.socks) > 0 {
				p.start = (idx + 1) % len(p.socks)
			}
			p.mu.Unlock()
			return s, nil
		}
	}
	return nil, nil
}

func (p *Poller) finish(expired, terminated bool, err error) error {
	p.mu.Lock()
	p.expired, p.terminated = expired, terminated
	p.mu.Unlock()
	return err
}

// Destroy stops watching every socket.
func (p *Poller) Destroy() {
	p.mu.Lock()
	socks := p.socks
	p.socks = nil
	p.mu.Unlock()
	for _, s := range socks {
		s.removeWatcher(p.sig)
	}
}
