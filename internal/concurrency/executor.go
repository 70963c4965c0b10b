// File: internal/concurrency/executor.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches tasks across worker goroutines using bounded lock-free
// local queues. Idle workers steal from their neighbours. A full pool refuses
// work instead of blocking the submitter.
//

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"
)

type TaskFunc func()

// Executor manages a pool of worker goroutines.
type Executor struct {
	queues    atomic.Pointer[[]*LockFreeQueue[TaskFunc]]
	workers   []*worker
	queueSize int
	wake      chan struct{}
	closeCh   chan struct{}
	closed    atomic.Bool
	next      atomic.Uint64
	mu        sync.Mutex
	wg        sync.WaitGroup
	onPanic   atomic.Pointer[func(any)]
}

// NewExecutor creates a new Executor with the given number of workers, each
// owning a queue of queueSize slots.
func NewExecutor(numWorkers, queueSize int) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	e := &Executor{
		queueSize: queueSize,
		wake:      make(chan struct{}, 64),
		closeCh:   make(chan struct{}),
	}
	queues := make([]*LockFreeQueue[TaskFunc], 0, numWorkers)
	e.queues.Store(&queues)
	e.mu.Lock()
	e.addWorkers(numWorkers)
	e.mu.Unlock()
	return e
}

// OnPanic installs a hook receiving values recovered from panicking tasks.
func (e *Executor) OnPanic(fn func(any)) {
	e.onPanic.Store(&fn)
}

// Submit enqueues a task. It fails with ErrExecutorClosed after Close and
// with ErrExecutorSaturated when every queue is full.
func (e *Executor) Submit(task TaskFunc) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}
	queues := *e.queues.Load()
	n := len(queues)
	if n == 0 {
		return ErrExecutorClosed
	}
	start := int(e.next.Add(1) % uint64(n))
	for i := 0; i < n; i++ {
		if queues[(start+i)%n].Enqueue(task) {
			select {
			case e.wake <- struct{}{}:
			default:
			}
			return nil
		}
	}
	return ErrExecutorSaturated
}

// Resize dynamically scales the worker pool. Tasks queued on removed workers
// are handed to the survivors.
func (e *Executor) Resize(newCount int) error {
	if newCount <= 0 {
		return ErrInvalidWorkerCount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return ErrExecutorClosed
	}
	current := len(e.workers)
	switch {
	case newCount > current:
		e.addWorkers(newCount - current)
	case newCount < current:
		removed := e.workers[newCount:]
		for _, w := range removed {
			close(w.stopCh)
		}
		for _, w := range removed {
			<-w.stoppedCh
		}
		e.workers = e.workers[:newCount]
		queues := make([]*LockFreeQueue[TaskFunc], newCount)
		for i, w := range e.workers {
			queues[i] = w.localQueue
		}
		e.queues.Store(&queues)
		for _, w := range removed {
			for {
				task, ok := w.localQueue.Dequeue()
				if !ok {
					break
				}
				if !queues[0].Enqueue(task) {
					go w.safeExecute(task)
				}
			}
		}
	}
	return nil
}

// addWorkers must be called with e.mu held.
func (e *Executor) addWorkers(count int) {
	queues := append([]*LockFreeQueue[TaskFunc](nil), *e.queues.Load()...)
	for i := 0; i < count; i++ {
		w := &worker{
			id:         len(e.workers),
			executor:   e,
			localQueue: NewLockFreeQueue[TaskFunc](e.queueSize),
			stopCh:     make(chan struct{}),
			stoppedCh:  make(chan struct{}),
		}
		e.workers = append(e.workers, w)
		queues = append(queues, w.localQueue)
		e.wg.Add(1)
		go w.run(&e.wg)
	}
	e.queues.Store(&queues)
}

// Close shuts down the executor, waiting for workers to finish. Queued
// tasks that have not started are dropped.
func (e *Executor) Close() {
	if e.closed.CompareAndSwap(false, true) {
		close(e.closeCh)
		e.mu.Lock()
		for _, w := range e.workers {
			close(w.stopCh)
		}
		e.mu.Unlock()
		e.wg.Wait()
	}
}

// NumWorkers returns active worker count.
func (e *Executor) NumWorkers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

// Pending returns an approximate count of queued tasks.
func (e *Executor) Pending() int {
	total := 0
	for _, q := range *e.queues.Load() {
		total += q.Len()
	}
	return total
}

// worker runs tasks from its own queue, stealing from others when idle.
type worker struct {
	id         int
	executor   *Executor
	localQueue *LockFreeQueue[TaskFunc]
	stopCh     chan struct{}
	stoppedCh  chan struct{}
}

func (w *worker) run(wg *sync.WaitGroup) {
	defer func() {
		wg.Done()
		close(w.stoppedCh)
	}()
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}
		if task, ok := w.next(); ok {
			w.safeExecute(task)
			continue
		}
		select {
		case <-w.stopCh:
			return
		case <-w.executor.wake:
		}
	}
}

func (w *worker) next() (TaskFunc, bool) {
	if task, ok := w.localQueue.Dequeue(); ok {
		return task, true
	}
	for _, q := range *w.executor.queues.Load() {
		if task, ok := q.Dequeue(); ok {
			return task, true
		}
	}
	return nil, false
}

func (w *worker) safeExecute(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			if hook := w.executor.onPanic.Load(); hook != nil && *hook != nil {
				(*hook)(r)
			}
		}
	}()
	task()
}
