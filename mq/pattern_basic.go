// File: mq/pattern_basic.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package mq

import (
	"fmt"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/msg"
)

// pairPattern talks to exactly one peer; later peers are refused.
type pairPattern struct {
	peer *pipe
}

func (pp *pairPattern) attach(p *pipe) bool {
	if pp.peer != nil {
		return false
	}
	pp.peer = p
	return true
}

func (pp *pairPattern) detach(p *pipe) {
	if pp.peer == p {
		pp.peer = nil
	}
}

func (pp *pairPattern) send(m *msg.Message) error { return pushOne(pp.peer, m) }

func (pp *pairPattern) recv() (*msg.Message, error) {
	if pp.peer == nil {
		return nil, errAgain
	}
	if m := pp.peer.in.pop(); m != nil {
		return m, nil
	}
	return nil, errAgain
}

func (pp *pairPattern) hasIn() bool  { return pp.peer != nil && pp.peer.in.length() > 0 }
func (pp *pairPattern) hasOut() bool { return pp.peer != nil && !pp.peer.out.full() }

type pushPattern struct {
	lb loadBalancer
}

func (pp *pushPattern) attach(p *pipe) bool { pp.lb.add(p); return true }
func (pp *pushPattern) detach(p *pipe)      { pp.lb.remove(p) }

func (pp *pushPattern) send(m *msg.Message) error {
	_, err := pp.lb.send(m)
	return err
}

func (pp *pushPattern) recv() (*msg.Message, error) { return nil, notSupported("recv", api.PUSH) }
func (pp *pushPattern) hasIn() bool                 { return false }
func (pp *pushPattern) hasOut() bool                { return pp.lb.hasOut() }

type pullPattern struct {
	fq fairQueue
}

func (pp *pullPattern) attach(p *pipe) bool { pp.fq.add(p); return true }
func (pp *pullPattern) detach(p *pipe)      { pp.fq.remove(p) }

func (pp *pullPattern) send(*msg.Message) error { return notSupported("send", api.PULL) }

func (pp *pullPattern) recv() (*msg.Message, error) {
	if m, _ := pp.fq.recv(); m != nil {
		return m, nil
	}
	return nil, errAgain
}

func (pp *pullPattern) hasIn() bool  { return pp.fq.hasIn() }
func (pp *pullPattern) hasOut() bool { return false }

// dealerPattern load-balances outbound and fair-queues inbound.
type dealerPattern struct {
	lb loadBalancer
	fq fairQueue
}

func (dp *dealerPattern) attach(p *pipe) bool {
	dp.lb.add(p)
	dp.fq.add(p)
	return true
}

func (dp *dealerPattern) detach(p *pipe) {
	dp.lb.remove(p)
	dp.fq.remove(p)
}

func (dp *dealerPattern) send(m *msg.Message) error {
	_, err := dp.lb.send(m)
	return err
}

func (dp *dealerPattern) recv() (*msg.Message, error) {
	if m, _ := dp.fq.recv(); m != nil {
		return m, nil
	}
	return nil, errAgain
}

func (dp *dealerPattern) hasIn() bool  { return dp.fq.hasIn() }
func (dp *dealerPattern) hasOut() bool { return dp.lb.hasOut() }

// clientPattern is a DEALER restricted to single-frame messages.
type clientPattern struct {
	dealerPattern
}

func (cp *clientPattern) send(m *msg.Message) error {
	if m.FrameCount() != 1 {
		return fmt.Errorf("mq: CLIENT sends single-frame messages, got %d frames: %w", m.FrameCount(), api.ErrInvalidArgument)
	}
	return cp.dealerPattern.send(m)
}
