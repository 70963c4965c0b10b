package mq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/mq"
)

func TestProxyForwardsAndCaptures(t *testing.T) {
	c := newContext(t)
	front, client := pair(t, c, api.PULL, api.PUSH, "inproc://proxy-front")
	back, worker := pair(t, c, api.PUSH, api.PULL, "inproc://proxy-back")
	captured, capture := pair(t, c, api.PULL, api.PUSH, "inproc://proxy-capture")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mq.Proxy(ctx, front, back, capture) }()

	for _, s := range []string{"one", "two"} {
		mustSend(t, client, "job", s)
	}
	for _, want := range []string{"one", "two"} {
		m := mustRecv(t, worker)
		if m.FrameCount() != 2 || string(m.At(1).Data()) != want {
			t.Errorf("worker got %s", m)
		}
		cm := mustRecv(t, captured)
		if string(cm.At(1).Data()) != want {
			t.Errorf("capture got %s", cm)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, api.ErrTerminated) {
			t.Errorf("proxy returned %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("proxy did not stop")
	}
}

func TestProxyPubSub(t *testing.T) {
	c := newContext(t)
	xsub := newSocket(t, c, api.XSUB)
	xpub := newSocket(t, c, api.XPUB)
	_ = xsub.Bind("inproc://proxy-xsub")
	_ = xpub.Bind("inproc://proxy-xpub")
	pub := newSocket(t, c, api.PUB)
	_ = pub.Connect("inproc://proxy-xsub")
	sub := newSocket(t, c, api.SUB)
	_ = sub.Connect("inproc://proxy-xpub")
	_ = sub.Subscribe("news")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = mq.Proxy(ctx, xsub, xpub, nil) }()

	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		mustSend(t, pub, "news", "flash")
		sub.SetRecvTimeout(20 * time.Millisecond)
		m, err := sub.Recv()
		if err == nil {
			if string(m.At(1).Data()) != "flash" {
				t.Fatalf("sub got %s", m)
			}
			return
		}
	}
	t.Fatal("subscription never propagated through the proxy")
}

func TestProxyNilSocket(t *testing.T) {
	if err := mq.Proxy(context.Background(), nil, nil, nil); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}
