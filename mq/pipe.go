// File: mq/pipe.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A pipe is one end of a bidirectional message channel between a socket and
// a peer: another socket (inproc) or a network session. Each direction is a
// pipeQueue bounded by the sender's send mark plus the receiver's receive
// mark. Queues wake whoever waits on the other side after every change.

package mq

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/msg"
)

var (
	errAgain      = errors.New("mq: try again")
	errPipeFull   = errors.New("mq: pipe full")
	errPipeClosed = errors.New("mq: pipe closed")
)

// waker is notified when a queue it watches changes.
type waker interface {
	wake()
}

// signal is a level-triggered wakeup with a single buffered slot, so a wake
// that races with the check before a wait is never lost.
type signal chan struct{}

func newSignal() signal { return make(signal, 1) }

func (s signal) wake() {
	select {
	case s <- struct{}{}:
	default:
	}
}

// hwmSum returns the pipe capacity for a sender/receiver mark pair. Zero on
// either side means unlimited.
func hwmSum(snd, rcv int) int {
	if snd <= 0 || rcv <= 0 {
		return 0
	}
	return snd + rcv
}

type pipeQueue struct {
	mu       sync.Mutex
	items    *queue.Queue
	capacity int
	closed   bool
	// taken counts messages handed to a session and not yet written.
	taken  int
	reader waker
	writer   waker
}

func newPipeQueue(capacity int) *pipeQueue {
	return &pipeQueue{items: queue.New(), capacity: capacity}
}

// push moves m's frames into the queue. m is untouched on failure. force
// ignores the capacity, for control traffic such as subscriptions.
func (q *pipeQueue) push(m *msg.Message, force bool) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errPipeClosed
	}
	if !force && q.capacity > 0 && q.items.Length() >= q.capacity {
		q.mu.Unlock()
		return errPipeFull
	}
	q.items.Add(m.Move())
	r := q.reader
	q.mu.Unlock()
	if r != nil {
		r.wake()
	}
	return nil
}

// pop returns the head message, nil when empty.
func (q *pipeQueue) pop() *msg.Message {
	q.mu.Lock()
	if q.items.Length() == 0 {
		q.mu.Unlock()
		return nil
	}
	m := q.items.Remove().(*msg.Message)
	w := q.writer
	q.mu.Unlock()
	if w != nil {
		w.wake()
	}
	return m
}

// take pops like pop, but the message stays pending until settle.
func (q *pipeQueue) take() *msg.Message {
	q.mu.Lock()
	if q.items.Length() == 0 {
		q.mu.Unlock()
		return nil
	}
	m := q.items.Remove().(*msg.Message)
	q.taken++
	w := q.writer
	q.mu.Unlock()
	if w != nil {
		w.wake()
	}
	return m
}

func (q *pipeQueue) settle() {
	q.mu.Lock()
	q.taken--
	w := q.writer
	q.mu.Unlock()
	if w != nil {
		w.wake()
	}
}

// pending counts queued messages plus taken ones still being written.
func (q *pipeQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length() + q.taken
}

// drop removes the queued messages fn matches and returns how many went.
func (q *pipeQueue) drop(fn func(*msg.Message) bool) int {
	q.mu.Lock()
	kept := queue.New()
	n := 0
	for q.items.Length() > 0 {
		m := q.items.Remove().(*msg.Message)
		if fn(m) {
			n++
			continue
		}
		kept.Add(m)
	}
	q.items = kept
	w := q.writer
	q.mu.Unlock()
	if n > 0 && w != nil {
		w.wake()
	}
	return n
}

// peek returns the head message without removing it. The caller must not
// mutate it.
func (q *pipeQueue) peek() *msg.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Length() == 0 {
		return nil
	}
	return q.items.Peek().(*msg.Message)
}

func (q *pipeQueue) length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

func (q *pipeQueue) full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed || (q.capacity > 0 && q.items.Length() >= q.capacity)
}

func (q *pipeQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// dead reports a closed queue with nothing left to read.
func (q *pipeQueue) dead() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && q.items.Length() == 0
}

// close refuses further pushes. With discard, queued messages are dropped
// and their count returned.
func (q *pipeQueue) close(discard bool) int {
	q.mu.Lock()
	q.closed = true
	dropped := 0
	if discard {
		dropped = q.items.Length()
		q.items = queue.New()
	}
	r, w := q.reader, q.writer
	q.mu.Unlock()
	if r != nil {
		r.wake()
	}
	if w != nil {
		w.wake()
	}
	return dropped
}

func (q *pipeQueue) setCapacity(n int) {
	q.mu.Lock()
	q.capacity = n
	w := q.writer
	q.mu.Unlock()
	if w != nil {
		w.wake()
	}
}

func (q *pipeQueue) setReader(w waker) {
	q.mu.Lock()
	q.reader = w
	q.mu.Unlock()
}

func (q *pipeQueue) setWriter(w waker) {
	q.mu.Lock()
	q.writer = w
	q.mu.Unlock()
}

var pipeSeq atomic.Uint64

// pipe is the end of a channel held by one socket.
type pipe struct {
	id        uint64
	in        *pipeQueue
	out       *pipeQueue
	transport string
	// endpoint is the key of the bind or connect that created the pipe.
	endpoint  string
	connector bool
	peerType  api.SocketType
	// identity names the peer for ROUTER and STREAM routing.
	identity  []byte
	routingID uint32
	// subs holds the peer's subscriptions on PUB and XPUB sockets.
	subs *topicSet

	onTerm     func()
	terminated atomic.Bool
}

func newPipe(in, out *pipeQueue, transport, endpoint string) *pipe {
	return &pipe{
		id:        pipeSeq.Add(1),
		in:        in,
		out:       out,
		transport: transport,
		endpoint:  endpoint,
	}
}

// newPipePair links two ends over a pair of queues. capAB bounds traffic
// from a to b.
func newPipePair(capAB, capBA int, transport, endpoint string) (a, b *pipe) {
	ab, ba := newPipeQueue(capAB), newPipeQueue(capBA)
	return newPipe(ba, ab, transport, endpoint), newPipe(ab, ba, transport, endpoint)
}

// terminate closes both directions and drops what is queued. It returns the
// number of outbound messages discarded.
func (p *pipe) terminate() int {
	if !p.terminated.CompareAndSwap(false, true) {
		return 0
	}
	dropped := p.out.close(true)
	p.in.close(true)
	if p.onTerm != nil {
		p.onTerm()
	}
	return dropped
}

// peerGone is called when the remote side vanished. Messages already
// received stay readable; nothing more can be sent.
func (p *pipe) peerGone() {
	p.out.close(true)
	p.in.close(false)
}

// dead reports a pipe the owner can detach.
func (p *pipe) dead() bool {
	return p.in.dead()
}

func removePipe(list []*pipe, p *pipe) []*pipe {
	for i, x := range list {
		if x == p {
			copy(list[i:], list[i+1:])
			list[len(list)-1] = nil
			return list[:len(list)-1]
		}
	}
	return list
}

// topicSet is a reference-counted set of subscription prefixes.
type topicSet struct {
	topics map[string]int
}

func newTopicSet() *topicSet {
	return &topicSet{topics: make(map[string]int)}
}

// add reports whether topic was not subscribed before.
func (t *topicSet) add(topic string) bool {
	t.topics[topic]++
	return t.topics[topic] == 1
}

// remove reports whether the last reference to topic went away. Removing an
// unknown topic is a no-op.
func (t *topicSet) remove(topic string) bool {
	n, ok := t.topics[topic]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(t.topics, topic)
		return true
	}
	t.topics[topic] = n - 1
	return false
}

// matches reports whether any subscription is a prefix of data.
func (t *topicSet) matches(data []byte) bool {
	for topic := range t.topics {
		if len(topic) <= len(data) && string(data[:len(topic)]) == topic {
			return true
		}
	}
	return false
}

func (t *topicSet) each(fn func(topic string)) {
	for topic := range t.topics {
		fn(topic)
	}
}

func (t *topicSet) len() int { return len(t.topics) }

// Subscription commands travel upstream as single-frame messages whose
// first byte is subscribeCmd or unsubscribeCmd followed by the topic.
const (
	unsubscribeCmd = 0
	subscribeCmd   = 1
)

func subscriptionMessage(cmd byte, topic string) *msg.Message {
	data := make([]byte, 0, 1+len(topic))
	data = append(data, cmd)
	data = append(data, topic...)
	m := msg.New()
	m.AppendMem(data)
	return m
}

// isSubscriptionCommand reports whether m is a subscribe or unsubscribe
// command.
func isSubscriptionCommand(m *msg.Message) bool {
	if m.FrameCount() != 1 {
		return false
	}
	f := m.First()
	return f.Size() > 0 && f.Data()[0] <= subscribeCmd
}
