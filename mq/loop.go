// File: mq/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loop is a single-goroutine reactor over socket readers and timers.
// Timers live in a min-heap ordered by due time; due timers are collected
// into a FIFO batch before any handler runs, so handlers may add or remove
// timers freely.

package mq

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
)

// ReaderFunc handles a readable socket. Returning an error ends Run.
type ReaderFunc func(l *Loop, s *Socket) error

// TimerFunc handles a timer expiry. Returning an error ends Run.
type TimerFunc func(l *Loop, id int) error

// ErrLoopStopped is returned by Run after Stop.
var ErrLoopStopped = errors.New("mq: loop stopped")

type loopTimer struct {
	id       int
	interval time.Duration
	times    int
	due      time.Time
	fn       TimerFunc
	index    int
}

type timerHeap []*loopTimer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].due.Before(h[j].due) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*loopTimer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Loop is created with NewLoop and driven by Run.
type Loop struct {
	c      *Context
	log    *zap.Logger
	poller *Poller

	mu      sync.Mutex
	readers map[*Socket]ReaderFunc
	timers  timerHeap
	byID    map[int]*loopTimer
	nextID  int
	wakeup  signal
	stopped bool
	cancel  context.CancelFunc
}

// NewLoop returns a loop whose Run ends when c is interrupted.
func NewLoop(c *Context) *Loop {
	return &Loop{
		c:       c,
		log:     c.log.Named("loop"),
		poller:  NewPoller(),
		readers: make(map[*Socket]ReaderFunc),
		byID:    make(map[int]*loopTimer),
		wakeup:  newSignal(),
	}
}

// AddReader calls fn whenever s has a message. Registering s again
// replaces its handler.
func (l *Loop) AddReader(s *Socket, fn ReaderFunc) error {
	if s == nil || fn == nil {
		return fmt.Errorf("mq: loop reader: %w", api.ErrInvalidArgument)
	}
	l.mu.Lock()
	l.readers[s] = fn
	l.mu.Unlock()
	return l.poller.Add(s)
}

// RemoveReader stops watching s.
func (l *Loop) RemoveReader(s *Socket) {
	l.mu.Lock()
	delete(l.readers, s)
	l.mu.Unlock()
	l.poller.Remove(s)
}

// AddTimer calls fn every interval, times times or forever when times is
// zero. It returns the timer id.
func (l *Loop) AddTimer(interval time.Duration, times int, fn TimerFunc) (int, error) {
	if interval <= 0 || times < 0 || fn == nil {
		return 0, fmt.Errorf("mq: loop timer: %w", api.ErrInvalidArgument)
	}
	l.mu.Lock()
	l.nextID++
	t := &loopTimer{
		id:       l.nextID,
		interval: interval,
		times:    times,
		due:      time.Now().Add(interval),
		fn:       fn,
	}
	heap.Push(&l.timers, t)
	l.byID[t.id] = t
	l.mu.Unlock()
	l.wakeup.wake()
	return t.id, nil
}

// RemoveTimer cancels a timer. Unknown ids are ignored.
func (l *Loop) RemoveTimer(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.byID[id]
	if !ok {
		return
	}
	delete(l.byID, id)
	if t.index >= 0 {
		heap.Remove(&l.timers, t.index)
	}
}

// Stop makes Run return ErrLoopStopped once the current handler finishes.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run dispatches readers and timers until a handler fails, ctx is done or
// the Context is interrupted (ErrTerminated). With nothing registered it
// returns nil at once.
func (l *Loop) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.c.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	l.mu.Lock()
	l.stopped = false
	l.cancel = cancel
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.cancel = nil
		l.mu.Unlock()
	}()

	for {
		if err := l.fireTimers(); err != nil {
			return err
		}
		wait, idle, stopped := l.nextWait()
		if stopped {
			return ErrLoopStopped
		}
		if idle {
			return nil
		}
		if l.poller.Len() == 0 {
			if err := l.sleep(ctx, wait); err != nil {
				return l.stopErr(err)
			}
			continue
		}
		s, err := l.poller.WaitContext(ctx, wait)
		switch {
		case errors.Is(err, api.ErrTimeout):
			continue
		case err != nil:
			return l.stopErr(err)
		}
		l.mu.Lock()
		fn := l.readers[s]
		l.mu.Unlock()
		if fn == nil {
			continue
		}
		if err := fn(l, s); err != nil {
			l.log.Debug("reader ended loop", zap.Stringer("socket", s), zap.Error(err))
			return err
		}
	}
}

func (l *Loop) stopErr(err error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return ErrLoopStopped
	}
	return err
}

// nextWait returns the time until the earliest timer, -1 without timers.
func (l *Loop) nextWait() (wait time.Duration, idle, stopped bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return 0, false, true
	}
	if len(l.timers) == 0 {
		return -1, len(l.readers) == 0, false
	}
	wait = time.Until(l.timers[0].due)
	if wait <= 0 {
		wait = time.Nanosecond
	}
	return wait, false, false
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) error {
	var expired <-chan time.Time
	if d >= 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-expired:
	case <-l.wakeup:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", api.ErrTerminated, ctx.Err())
	}
	return nil
}

// fireTimers runs every due timer in due order.
func (l *Loop) fireTimers() error {
	now := time.Now()
	due := queue.New()
	l.mu.Lock()
	for len(l.timers) > 0 && !l.timers[0].due.After(now) {
		t := heap.Pop(&l.timers).(*loopTimer)
		due.Add(t)
		if t.times > 0 {
			t.times--
			if t.times == 0 {
				delete(l.byID, t.id)
				continue
			}
		}
		t.due = t.due.Add(t.interval)
		if !t.due.After(now) {
			t.due = now.Add(t.interval)
		}
		heap.Push(&l.timers, t)
	}
	l.mu.Unlock()

	for due.Length() > 0 {
		t := due.Remove().(*loopTimer)
		if err := t.fn(l, t.id); err != nil {
			l.log.Debug("timer ended loop", zap.Int("timer", t.id), zap.Error(err))
			return err
		}
	}
	return nil
}
