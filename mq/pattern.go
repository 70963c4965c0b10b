// File: mq/pattern.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pattern behaviour is a closed set of variants behind one interface. All
// methods run on the socket owner with opMu held.

package mq

import (
	"fmt"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/msg"
)

// pattern routes messages between the socket and its pipes. send either
// consumes m or leaves it untouched; errAgain means retry once a pipe
// changes.
type pattern interface {
	attach(p *pipe) bool
	detach(p *pipe)
	send(m *msg.Message) error
	recv() (*msg.Message, error)
	hasIn() bool
	hasOut() bool
}

// reconnectHook is implemented by patterns that restate per-peer state when
// a connector pipe is reused for a new connection. It runs on the dialer's
// goroutine, before the new session starts writing.
type reconnectHook interface {
	reconnected(p *pipe)
}

func newPattern(s *Socket) pattern {
	switch s.typ {
	case api.PAIR:
		return &pairPattern{}
	case api.PUSH:
		return &pushPattern{}
	case api.PULL:
		return &pullPattern{}
	case api.DEALER:
		return &dealerPattern{}
	case api.CLIENT:
		return &clientPattern{}
	case api.SERVER:
		return newServerPattern(s)
	case api.ROUTER:
		return newRouterPattern(s, false)
	case api.STREAM:
		return newRouterPattern(s, true)
	case api.REQ:
		return &reqPattern{s: s}
	case api.REP:
		return &repPattern{s: s}
	case api.PUB:
		return newPubPattern(s, false)
	case api.XPUB:
		return newPubPattern(s, true)
	case api.SUB:
		return newSubPattern(s, false)
	case api.XSUB:
		return newSubPattern(s, true)
	}
	panic(fmt.Sprintf("mq: no pattern for %s", s.typ))
}

func notSupported(op string, t api.SocketType) error {
	return fmt.Errorf("mq: %s on %s: %w", op, t, api.ErrNotSupported)
}

// pushOne maps a single-pipe push onto the pattern error contract.
func pushOne(p *pipe, m *msg.Message) error {
	if p == nil {
		return errAgain
	}
	switch err := p.out.push(m, false); err {
	case nil:
		return nil
	case errPipeFull, errPipeClosed:
		return errAgain
	default:
		return err
	}
}

// loadBalancer sends each message to the next pipe with room, round robin.
type loadBalancer struct {
	pipes []*pipe
	next  int
}

func (lb *loadBalancer) add(p *pipe) {
	lb.pipes = append(lb.pipes, p)
}

func (lb *loadBalancer) remove(p *pipe) {
	for i, x := range lb.pipes {
		if x == p {
			lb.pipes = removePipe(lb.pipes, p)
			if lb.next > i {
				lb.next--
			}
			if lb.next >= len(lb.pipes) {
				lb.next = 0
			}
			return
		}
	}
}

// send returns the pipe that took m.
func (lb *loadBalancer) send(m *msg.Message) (*pipe, error) {
	n := len(lb.pipes)
	for i := 0; i < n; i++ {
		idx := (lb.next + i) % n
		p := lb.pipes[idx]
		if p.out.push(m, false) == nil {
			lb.next = (idx + 1) % n
			return p, nil
		}
	}
	return nil, errAgain
}

func (lb *loadBalancer) hasOut() bool {
	for _, p := range lb.pipes {
		if !p.out.full() {
			return true
		}
	}
	return false
}

// fairQueue reads pipes in turn so one busy peer cannot starve the others.
type fairQueue struct {
	pipes []*pipe
	next  int
}

func (fq *fairQueue) add(p *pipe) {
	fq.pipes = append(fq.pipes, p)
}

func (fq *fairQueue) remove(p *pipe) {
	for i, x := range fq.pipes {
		if x == p {
			fq.pipes = removePipe(fq.pipes, p)
			if fq.next > i {
				fq.next--
			}
			if fq.next >= len(fq.pipes) {
				fq.next = 0
			}
			return
		}
	}
}

func (fq *fairQueue) recv() (*msg.Message, *pipe) {
	n := len(fq.pipes)
	for i := 0; i < n; i++ {
		idx := (fq.next + i) % n
		p := fq.pipes[idx]
		if m := p.in.pop(); m != nil {
			fq.next = (idx + 1) % n
			return m, p
		}
	}
	return nil, nil
}

func (fq *fairQueue) hasIn() bool {
	for _, p := range fq.pipes {
		if p.in.length() > 0 {
			return true
		}
	}
	return false
}
