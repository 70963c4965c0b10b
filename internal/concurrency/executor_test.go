package concurrency

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/hioload-mq/api"
)

func TestExecutorRunsTasks(t *testing.T) {
	e := NewExecutor(2, 16)
	defer e.Close()

	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		for {
			err := e.Submit(func() {
				count.Add(1)
				wg.Done()
			})
			if err == nil {
				break
			}
			time.Sleep(time.Millisecond)
		}
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("only %d tasks ran", count.Load())
	}
}

func TestExecutorSaturation(t *testing.T) {
	e := NewExecutor(1, 2)
	defer e.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	if err := e.Submit(func() { close(started); <-block }); err != nil {
		t.Fatal(err)
	}
	<-started
	var err error
	for i := 0; i < 8 && err == nil; i++ {
		err = e.Submit(func() {})
	}
	close(block)
	if !errors.Is(err, api.ErrResourceExhausted) {
		t.Errorf("expected ErrResourceExhausted, got %v", err)
	}
}

func TestExecutorClosedAndPanics(t *testing.T) {
	e := NewExecutor(1, 4)
	recovered := make(chan any, 1)
	e.OnPanic(func(v any) { recovered <- v })
	if err := e.Submit(func() { panic("boom") }); err != nil {
		t.Fatal(err)
	}
	select {
	case v := <-recovered:
		if v != "boom" {
			t.Errorf("recovered %v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("panic hook not called")
	}
	e.Close()
	if err := e.Submit(func() {}); !errors.Is(err, api.ErrTerminated) {
		t.Errorf("expected terminated error after close, got %v", err)
	}
}

func TestExecutorResize(t *testing.T) {
	e := NewExecutor(2, 8)
	defer e.Close()
	if err := e.Resize(4); err != nil {
		t.Fatal(err)
	}
	if e.NumWorkers() != 4 {
		t.Errorf("workers %d, want 4", e.NumWorkers())
	}
	if err := e.Resize(1); err != nil {
		t.Fatal(err)
	}
	if e.NumWorkers() != 1 {
		t.Errorf("workers %d, want 1", e.NumWorkers())
	}
	if err := e.Resize(0); !errors.Is(err, ErrInvalidWorkerCount) {
		t.Errorf("expected ErrInvalidWorkerCount, got %v", err)
	}
	ran := make(chan struct{})
	if err := e.Submit(func() { close(ran) }); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task not run after shrink")
	}
}
