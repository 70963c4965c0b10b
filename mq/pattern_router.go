// File: mq/pattern_router.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Identity-routed patterns. ROUTER and STREAM address peers by an identity
// frame; SERVER by the routing id carried on the message.

package mq

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/msg"
)

type routerPattern struct {
	s      *Socket
	raw    bool
	fq     fairQueue
	byID   map[string]*pipe
}

func newRouterPattern(s *Socket, raw bool) *routerPattern {
	return &routerPattern{s: s, raw: raw, byID: make(map[string]*pipe)}
}

// attach keys p by its peer identity. Peers without one, STREAM peers and
// duplicates get a generated identity: a zero byte then a UUID.
func (rp *routerPattern) attach(p *pipe) bool {
	id := p.identity
	if _, taken := rp.byID[string(id)]; rp.raw || len(id) == 0 || taken {
		id = append([]byte{0}, rp.s.ctx.ids.GenerateUUID()...)
		p.identity = id
	}
	rp.byID[string(id)] = p
	rp.fq.add(p)
	return true
}

func (rp *routerPattern) detach(p *pipe) {
	if rp.byID[string(p.identity)] == p {
		delete(rp.byID, string(p.identity))
	}
	rp.fq.remove(p)
}

func (rp *routerPattern) recv() (*msg.Message, error) {
	m, p := rp.fq.recv()
	if m == nil {
		return nil, errAgain
	}
	m.PushMem(p.identity)
	m.SetMoreFlags()
	return m, nil
}

// send consumes the identity frame and forwards the rest. Unroutable
// messages are dropped unless the socket is mandatory, in which case the
// identity frame is restored and the caller sees the failure.
func (rp *routerPattern) send(m *msg.Message) error {
	if m.FrameCount() < 2 {
		return fmt.Errorf("mq: %s message needs an identity frame and a body: %w", rp.s.typ, api.ErrInvalidArgument)
	}
	idFrame := m.PopFront()
	p, ok := rp.byID[string(idFrame.Data())]
	mandatory := rp.raw || rp.s.opts.routerMandatory
	if !ok {
		if mandatory {
			_ = m.PushFront(idFrame)
			return fmt.Errorf("mq: %s peer %s: %w", rp.s.typ, idFrame.StrHex(), api.ErrNotFound)
		}
		rp.drop(m, control.DropUnroutable, idFrame)
		return nil
	}
	err := p.out.push(m, false)
	switch {
	case err == nil:
		return nil
	case mandatory && err == errPipeFull:
		_ = m.PushFront(idFrame)
		return errAgain
	case mandatory:
		_ = m.PushFront(idFrame)
		return fmt.Errorf("mq: %s peer %s gone: %w", rp.s.typ, idFrame.StrHex(), api.ErrNotFound)
	}
	reason := control.DropHWM
	if err == errPipeClosed {
		reason = control.DropUnroutable
	}
	rp.drop(m, reason, idFrame)
	return nil
}

func (rp *routerPattern) drop(m *msg.Message, reason string, idFrame *msg.Frame) {
	rp.s.log.Debug("dropping message", zap.String("reason", reason), zap.String("peer", idFrame.StrHex()))
	rp.s.ctx.metrics.DroppedMessage(rp.s.typ.String(), reason)
	m.Destroy()
}

func (rp *routerPattern) hasIn() bool  { return rp.fq.hasIn() }
func (rp *routerPattern) hasOut() bool { return true }

// serverPattern routes single-frame messages by a numeric routing id the
// socket assigns to each peer.
type serverPattern struct {
	s    *Socket
	fq   fairQueue
	byID map[uint32]*pipe
}

func newServerPattern(s *Socket) *serverPattern {
	return &serverPattern{s: s, byID: make(map[uint32]*pipe)}
}

func (sp *serverPattern) attach(p *pipe) bool {
	sp.s.nextRoutingID++
	if sp.s.nextRoutingID == 0 {
		sp.s.nextRoutingID++
	}
	p.routingID = sp.s.nextRoutingID
	sp.byID[p.routingID] = p
	sp.fq.add(p)
	return true
}

func (sp *serverPattern) detach(p *pipe) {
	delete(sp.byID, p.routingID)
	sp.fq.remove(p)
}

func (sp *serverPattern) recv() (*msg.Message, error) {
	m, p := sp.fq.recv()
	if m == nil {
		return nil, errAgain
	}
	m.SetRoutingID(p.routingID)
	if f := m.First(); f != nil {
		f.SetRoutingID(p.routingID)
	}
	return m, nil
}

func (sp *serverPattern) send(m *msg.Message) error {
	if m.FrameCount() != 1 {
		return fmt.Errorf("mq: SERVER sends single-frame messages, got %d frames: %w", m.FrameCount(), api.ErrInvalidArgument)
	}
	id := m.RoutingID()
	if id == 0 {
		id = m.First().RoutingID()
	}
	p, ok := sp.byID[id]
	if !ok {
		return fmt.Errorf("mq: SERVER routing id %d: %w", id, api.ErrNotFound)
	}
	return pushOne(p, m)
}

func (sp *serverPattern) hasIn() bool  { return sp.fq.hasIn() }
func (sp *serverPattern) hasOut() bool { return true }
