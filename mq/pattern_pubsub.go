// File: mq/pattern_pubsub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Publish/subscribe. Subscribers send subscription commands upstream and
// publishers filter per subscriber by topic prefix. A publisher never
// blocks: a subscriber at its high-water mark misses the message.

package mq

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/msg"
)

type pubPattern struct {
	s     *Socket
	xpub  bool
	pipes []*pipe
	// all counts subscribing pipes per topic.
	all     *topicSet
	notices []*msg.Message
}

func newPubPattern(s *Socket, xpub bool) *pubPattern {
	return &pubPattern{s: s, xpub: xpub, all: newTopicSet()}
}

func (pp *pubPattern) attach(p *pipe) bool {
	p.subs = newTopicSet()
	pp.pipes = append(pp.pipes, p)
	return true
}

func (pp *pubPattern) detach(p *pipe) {
	pp.pipes = removePipe(pp.pipes, p)
	if p.subs == nil {
		return
	}
	p.subs.each(func(topic string) {
		if pp.all.remove(topic) && pp.xpub {
			pp.notices = append(pp.notices, subscriptionMessage(unsubscribeCmd, topic))
		}
	})
	p.subs = nil
}

// processSubscriptions applies the commands subscribers sent since the
// last call. XPUB queues a notice when a topic gains its first or loses its
// last subscriber.
func (pp *pubPattern) processSubscriptions() {
	for _, p := range pp.pipes {
		for m := p.in.pop(); m != nil; m = p.in.pop() {
			f := m.First()
			if m.FrameCount() != 1 || f.Size() == 0 || f.Data()[0] > subscribeCmd {
				pp.s.ctx.metrics.DroppedMessage(pp.s.typ.String(), control.DropMalformed)
				continue
			}
			data := f.Data()
			topic := string(data[1:])
			switch data[0] {
			case subscribeCmd:
				if p.subs.add(topic) && pp.all.add(topic) && pp.xpub {
					pp.notices = append(pp.notices, m)
				}
			case unsubscribeCmd:
				if p.subs.remove(topic) && pp.all.remove(topic) && pp.xpub {
					pp.notices = append(pp.notices, m)
				}
			}
		}
	}
}

// send delivers a copy to every subscriber whose topics prefix the first
// frame. It always consumes m.
func (pp *pubPattern) send(m *msg.Message) error {
	pp.processSubscriptions()
	var topic []byte
	if f := m.First(); f != nil {
		topic = f.Data()
	}
	for _, p := range pp.pipes {
		if !p.subs.matches(topic) {
			continue
		}
		if err := p.out.push(m.Dup(), false); err != nil {
			pp.s.log.Debug("subscriber missed message", zap.Uint64("pipe", p.id), zap.Error(err))
			pp.s.ctx.metrics.DroppedMessage(pp.s.typ.String(), control.DropHWM)
		}
	}
	m.Destroy()
	return nil
}

func (pp *pubPattern) recv() (*msg.Message, error) {
	if !pp.xpub {
		return nil, notSupported("recv", api.PUB)
	}
	pp.processSubscriptions()
	if len(pp.notices) == 0 {
		return nil, errAgain
	}
	m := pp.notices[0]
	pp.notices[0] = nil
	pp.notices = pp.notices[1:]
	return m, nil
}

func (pp *pubPattern) hasIn() bool {
	if !pp.xpub {
		return false
	}
	pp.processSubscriptions()
	return len(pp.notices) > 0
}

func (pp *pubPattern) hasOut() bool { return true }

// subPattern keeps the local subscription set and replays it to every new
// publisher, including a connector pipe that reconnects. SUB filters
// inbound traffic; XSUB delivers everything and lets the application send
// raw subscription commands.
type subPattern struct {
	s    *Socket
	xsub bool
	fq   fairQueue
	// mu orders topic changes with the commands queued for them, against
	// replays from dialer goroutines. The owner reads topics without it.
	mu     sync.Mutex
	topics *topicSet
}

func newSubPattern(s *Socket, xsub bool) *subPattern {
	return &subPattern{s: s, xsub: xsub, topics: newTopicSet()}
}

func (sp *subPattern) attach(p *pipe) bool {
	sp.fq.add(p)
	sp.mu.Lock()
	sp.replay(p)
	sp.mu.Unlock()
	return true
}

// reconnected restates the subscription set to the new peer behind p.
// Queued commands are already reflected in the set, so they are replaced.
func (sp *subPattern) reconnected(p *pipe) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	p.out.drop(isSubscriptionCommand)
	sp.replay(p)
}

func (sp *subPattern) replay(p *pipe) {
	sp.topics.each(func(topic string) {
		_ = p.out.push(subscriptionMessage(subscribeCmd, topic), true)
	})
}

func (sp *subPattern) detach(p *pipe) { sp.fq.remove(p) }

func (sp *subPattern) upstream(m *msg.Message) {
	for _, p := range sp.fq.pipes {
		_ = p.out.push(m.Dup(), true)
	}
}

func (sp *subPattern) subscribe(topic string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.topics.add(topic) {
		sp.upstream(subscriptionMessage(subscribeCmd, topic))
	}
}

func (sp *subPattern) unsubscribe(topic string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.topics.remove(topic) {
		sp.upstream(subscriptionMessage(unsubscribeCmd, topic))
	}
}

// send is only valid on XSUB. Subscription commands update the replayed
// set; other messages travel upstream unchanged.
func (sp *subPattern) send(m *msg.Message) error {
	if !sp.xsub {
		return notSupported("send", api.SUB)
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if isSubscriptionCommand(m) {
		data := m.First().Data()
		topic := string(data[1:])
		if data[0] == subscribeCmd {
			sp.topics.add(topic)
		} else {
			sp.topics.remove(topic)
		}
	}
	sp.upstream(m)
	m.Destroy()
	return nil
}

func (sp *subPattern) accepts(m *msg.Message) bool {
	if sp.xsub {
		return true
	}
	var topic []byte
	if f := m.First(); f != nil {
		topic = f.Data()
	}
	return sp.topics.matches(topic)
}

func (sp *subPattern) recv() (*msg.Message, error) {
	for {
		m, _ := sp.fq.recv()
		if m == nil {
			return nil, errAgain
		}
		if sp.accepts(m) {
			return m, nil
		}
		sp.s.ctx.metrics.DroppedMessage(sp.s.typ.String(), control.DropUnsubscribed)
	}
}

// hasIn discards unwanted messages at the head of each queue so readiness
// reflects a message Recv would actually return.
func (sp *subPattern) hasIn() bool {
	for _, p := range sp.fq.pipes {
		for {
			m := p.in.peek()
			if m == nil {
				break
			}
			if sp.accepts(m) {
				return true
			}
			p.in.pop()
			sp.s.ctx.metrics.DroppedMessage(sp.s.typ.String(), control.DropUnsubscribed)
		}
	}
	return false
}

func (sp *subPattern) hasOut() bool { return sp.xsub }

// Subscribe adds a topic prefix on a SUB or XSUB socket. The empty topic
// matches every message.
func (s *Socket) Subscribe(topic string) error {
	return s.subscription(topic, true)
}

// Unsubscribe removes one reference to a topic prefix.
func (s *Socket) Unsubscribe(topic string) error {
	return s.subscription(topic, false)
}

func (s *Socket) subscription(topic string, on bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	sp, ok := s.pat.(*subPattern)
	if !ok {
		return fmt.Errorf("mq: subscribe on %s: %w", s.typ, api.ErrNotSupported)
	}
	s.processCommands()
	if on {
		sp.subscribe(topic)
	} else {
		sp.unsubscribe(topic)
	}
	return nil
}
