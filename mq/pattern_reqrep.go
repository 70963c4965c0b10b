// File: mq/pattern_reqrep.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package mq

import (
	"fmt"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/msg"
)

// reqPattern prepends an empty delimiter to each request and accepts the
// reply only from the pipe the request went out on.
type reqPattern struct {
	s         *Socket
	lb        loadBalancer
	fq        fairQueue
	replyPipe *pipe
	awaiting  bool
}

func (rp *reqPattern) attach(p *pipe) bool {
	rp.lb.add(p)
	rp.fq.add(p)
	return true
}

func (rp *reqPattern) detach(p *pipe) {
	rp.lb.remove(p)
	rp.fq.remove(p)
	if rp.replyPipe == p {
		rp.replyPipe = nil
	}
}

func (rp *reqPattern) send(m *msg.Message) error {
	if rp.awaiting {
		return fmt.Errorf("mq: REQ send while a reply is pending: %w", api.ErrProtocolViolation)
	}
	m.PushMem(nil)
	m.SetMoreFlags()
	p, err := rp.lb.send(m)
	if err != nil {
		m.PopFront()
		return err
	}
	rp.replyPipe = p
	rp.awaiting = true
	return nil
}

func (rp *reqPattern) recv() (*msg.Message, error) {
	if !rp.awaiting {
		return nil, fmt.Errorf("mq: REQ recv before send: %w", api.ErrProtocolViolation)
	}
	rp.discardStray()
	if rp.replyPipe == nil {
		return nil, errAgain
	}
	for {
		m := rp.replyPipe.in.pop()
		if m == nil {
			return nil, errAgain
		}
		if delim := m.PopFront(); delim == nil || !delim.IsEmpty() {
			rp.s.ctx.metrics.DroppedMessage(api.REQ.String(), control.DropMalformed)
			continue
		}
		rp.awaiting = false
		rp.replyPipe = nil
		return m, nil
	}
}

// discardStray drops anything sent by peers other than the reply pipe.
func (rp *reqPattern) discardStray() {
	for _, p := range rp.fq.pipes {
		if p == rp.replyPipe {
			continue
		}
		for m := p.in.pop(); m != nil; m = p.in.pop() {
			rp.s.ctx.metrics.DroppedMessage(api.REQ.String(), control.DropUnroutable)
		}
	}
}

func (rp *reqPattern) hasIn() bool {
	return rp.awaiting && rp.replyPipe != nil && rp.replyPipe.in.length() > 0
}

func (rp *reqPattern) hasOut() bool { return !rp.awaiting && rp.lb.hasOut() }

// repPattern strips the routing envelope off each request and replays it
// on the reply.
type repPattern struct {
	s         *Socket
	fq        fairQueue
	envelope  *msg.Message
	replyPipe *pipe
	pending   bool
}

func (rp *repPattern) attach(p *pipe) bool {
	rp.fq.add(p)
	return true
}

func (rp *repPattern) detach(p *pipe) {
	rp.fq.remove(p)
	if rp.replyPipe == p {
		rp.replyPipe = nil
	}
}

func (rp *repPattern) recv() (*msg.Message, error) {
	if rp.pending {
		return nil, fmt.Errorf("mq: REP recv before replying: %w", api.ErrProtocolViolation)
	}
	for {
		m, p := rp.fq.recv()
		if m == nil {
			return nil, errAgain
		}
		env, ok := splitEnvelope(m)
		if !ok {
			rp.s.ctx.metrics.DroppedMessage(api.REP.String(), control.DropMalformed)
			continue
		}
		rp.envelope = env
		rp.replyPipe = p
		rp.pending = true
		return m, nil
	}
}

// splitEnvelope moves the frames up to and including the first empty one
// out of m.
func splitEnvelope(m *msg.Message) (*msg.Message, bool) {
	env := msg.New()
	for {
		f := m.PopFront()
		if f == nil {
			return nil, false
		}
		_ = env.PushBack(f)
		if f.IsEmpty() {
			return env, true
		}
	}
}

func (rp *repPattern) send(m *msg.Message) error {
	if !rp.pending {
		return fmt.Errorf("mq: REP send without a request: %w", api.ErrProtocolViolation)
	}
	if rp.replyPipe == nil {
		rp.s.ctx.metrics.DroppedMessage(api.REP.String(), control.DropUnroutable)
		rp.finish()
		m.Destroy()
		return nil
	}
	n := rp.envelope.FrameCount()
	for i := n - 1; i >= 0; i-- {
		_ = m.PushFront(rp.envelope.At(i).Dup())
	}
	m.SetMoreFlags()
	switch rp.replyPipe.out.push(m, false) {
	case nil:
		rp.finish()
		return nil
	case errPipeClosed:
		rp.s.ctx.metrics.DroppedMessage(api.REP.String(), control.DropUnroutable)
		rp.finish()
		m.Destroy()
		return nil
	}
	for i := 0; i < n; i++ {
		m.PopFront()
	}
	return errAgain
}

func (rp *repPattern) finish() {
	rp.pending = false
	rp.envelope = nil
	rp.replyPipe = nil
}

func (rp *repPattern) hasIn() bool  { return !rp.pending && rp.fq.hasIn() }
func (rp *repPattern) hasOut() bool { return rp.pending }
