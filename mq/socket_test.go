package mq_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/mq"
	"github.com/momentics/hioload-mq/msg"
)

const testTimeout = 2 * time.Second

func newContext(t *testing.T, opts ...mq.ContextOption) *mq.Context {
	t.Helper()
	c, err := mq.NewContext(opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newSocket(t *testing.T, c *mq.Context, typ api.SocketType, opts ...mq.SocketOption) *mq.Socket {
	t.Helper()
	opts = append([]mq.SocketOption{mq.WithRecvTimeout(testTimeout)}, opts...)
	s, err := c.NewSocket(typ, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustRecv(t *testing.T, s *mq.Socket) *msg.Message {
	t.Helper()
	m, err := s.Recv()
	if err != nil {
		t.Fatalf("%s recv: %v", s, err)
	}
	return m
}

func mustSend(t *testing.T, s *mq.Socket, parts ...string) {
	t.Helper()
	if err := s.SendString(parts...); err != nil {
		t.Fatalf("%s send: %v", s, err)
	}
}

func TestPushPullHello(t *testing.T) {
	c := newContext(t)
	pull := newSocket(t, c, api.PULL)
	push := newSocket(t, c, api.PUSH)
	if err := pull.Bind("inproc://hello"); err != nil {
		t.Fatal(err)
	}
	if err := push.Connect("inproc://hello"); err != nil {
		t.Fatal(err)
	}
	mustSend(t, push, "hello")
	got, err := pull.RecvString()
	if err != nil || got != "hello" {
		t.Fatalf("received %q, %v", got, err)
	}
}

func TestFIFOAndAtomicity(t *testing.T) {
	c := newContext(t)
	pull := newSocket(t, c, api.PULL)
	push := newSocket(t, c, api.PUSH)
	_ = pull.Bind("inproc://fifo")
	_ = push.Connect("inproc://fifo")

	const n = 200
	for i := 0; i < n; i++ {
		m := msg.New()
		for k := 0; k <= i%5; k++ {
			m.AppendString(fmt.Sprintf("%d-%d", i, k))
		}
		if err := push.Send(m); err != nil {
			t.Fatal(err)
		}
		if m.FrameCount() != 0 {
			t.Fatal("sent message not emptied")
		}
	}
	for i := 0; i < n; i++ {
		m := mustRecv(t, pull)
		if m.FrameCount() != i%5+1 {
			t.Fatalf("message %d has %d frames, want %d", i, m.FrameCount(), i%5+1)
		}
		if !m.First().StrEqual(fmt.Sprintf("%d-0", i)) {
			t.Fatalf("message %d out of order: %s", i, m)
		}
	}
}

func TestEmptyMessagesStayDistinct(t *testing.T) {
	c := newContext(t)
	pull := newSocket(t, c, api.PULL)
	push := newSocket(t, c, api.PUSH)
	_ = pull.Bind("inproc://empty")
	_ = push.Connect("inproc://empty")

	if err := push.Send(msg.New()); err != nil {
		t.Fatal(err)
	}
	mustSend(t, push, "")
	if m := mustRecv(t, pull); m.FrameCount() != 0 {
		t.Errorf("zero-frame message arrived with %d frames", m.FrameCount())
	}
	if m := mustRecv(t, pull); m.FrameCount() != 1 || m.First().Size() != 0 {
		t.Errorf("single empty frame arrived as %s", m)
	}
}

func TestBindTwiceIsNoop(t *testing.T) {
	c := newContext(t)
	s := newSocket(t, c, api.PULL)
	for i := 0; i < 2; i++ {
		if err := s.Bind("inproc://dup"); err != nil {
			t.Fatalf("bind %d: %v", i, err)
		}
	}
	bound, _ := s.Endpoints()
	if len(bound) != 1 {
		t.Errorf("endpoints %v", bound)
	}
	other := newSocket(t, c, api.PULL)
	if err := other.Bind("inproc://dup"); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("second owner bind: %v", err)
	}
}

func TestUnbindDisconnectUnknown(t *testing.T) {
	c := newContext(t)
	s := newSocket(t, c, api.PUSH)
	if err := s.Unbind("inproc://none"); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("unbind: %v", err)
	}
	if err := s.Disconnect("inproc://none"); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("disconnect: %v", err)
	}
}

func TestBadEndpoints(t *testing.T) {
	c := newContext(t)
	s := newSocket(t, c, api.PUSH)
	for _, ep := range []string{"", "nowhere", "udp://1.2.3.4:5"} {
		if err := s.Bind(ep); err == nil {
			t.Errorf("bind %q succeeded", ep)
		}
	}
	if err := s.Connect("tcp://*:5555"); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("connect to wildcard: %v", err)
	}
}

func TestIdentityLengthLimit(t *testing.T) {
	c := newContext(t)
	long := bytes.Repeat([]byte("x"), 256)
	if _, err := c.NewSocket(api.DEALER, mq.WithIdentity(long)); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("256-byte identity: %v", err)
	}
	s := newSocket(t, c, api.DEALER, mq.WithIdentity(long[:255]))
	if got := len(s.Identity()); got != 255 {
		t.Errorf("identity length %d", got)
	}
	if err := s.SetIdentity(long); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("SetIdentity accepted 256 bytes: %v", err)
	}
	if got := len(s.Identity()); got != 255 {
		t.Errorf("rejected identity replaced the old one, length %d", got)
	}
}

func TestConnectBeforeBind(t *testing.T) {
	c := newContext(t)
	push := newSocket(t, c, api.PUSH)
	if err := push.Connect("inproc://later"); err != nil {
		t.Fatal(err)
	}
	mustSend(t, push, "queued")
	pull := newSocket(t, c, api.PULL)
	if err := pull.Bind("inproc://later"); err != nil {
		t.Fatal(err)
	}
	if got, err := pull.RecvString(); err != nil || got != "queued" {
		t.Fatalf("received %q, %v", got, err)
	}
}

func TestIncompatibleInprocPeer(t *testing.T) {
	c := newContext(t)
	pull := newSocket(t, c, api.PULL)
	_ = pull.Bind("inproc://typed")
	pub := newSocket(t, c, api.PUB)
	if err := pub.Connect("inproc://typed"); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("PUB connected to PULL: %v", err)
	}
}

func TestSendWithoutPeers(t *testing.T) {
	c := newContext(t)
	push := newSocket(t, c, api.PUSH)
	if err := push.SendString("x"); !errors.Is(err, api.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	pull := newSocket(t, c, api.PULL)
	if _, err := pull.Recv(); !errors.Is(err, api.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestRecvTimeout(t *testing.T) {
	c := newContext(t)
	pull := newSocket(t, c, api.PULL, mq.WithRecvTimeout(30*time.Millisecond))
	_ = pull.Bind("inproc://quiet")
	start := time.Now()
	_, err := pull.Recv()
	if !errors.Is(err, api.ErrTimeout) || !errors.Is(err, api.ErrWouldBlock) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Error("returned before the timeout")
	}
	pull.SetRecvTimeout(0)
	if _, err := pull.Recv(); !errors.Is(err, api.ErrWouldBlock) {
		t.Errorf("zero timeout: %v", err)
	}
}

func TestHighWaterMark(t *testing.T) {
	c := newContext(t)
	pull := newSocket(t, c, api.PULL, mq.WithRecvHWM(1))
	push := newSocket(t, c, api.PUSH, mq.WithSendHWM(1), mq.WithBlocking(false))
	_ = pull.Bind("inproc://hwm")
	_ = push.Connect("inproc://hwm")

	for i := 0; i < 2; i++ {
		mustSend(t, push, "fill")
	}
	m := msg.NewFromStrings("over")
	if err := push.Send(m); !errors.Is(err, api.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
	if m.FrameCount() != 1 {
		t.Error("failed send consumed the message")
	}

	push.SetBlocking(true)
	push.SetSendTimeout(20 * time.Millisecond)
	if err := push.Send(m); !errors.Is(err, api.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	mustRecv(t, pull)
	if err := push.Send(m); err != nil {
		t.Fatalf("send after drain: %v", err)
	}
}

func TestBlockingSendResumes(t *testing.T) {
	c := newContext(t)
	pull := newSocket(t, c, api.PULL, mq.WithRecvHWM(1))
	push := newSocket(t, c, api.PUSH, mq.WithSendHWM(1))
	_ = pull.Bind("inproc://resume")
	_ = push.Connect("inproc://resume")
	mustSend(t, push, "1")
	mustSend(t, push, "2")

	done := make(chan error, 1)
	go func() { done <- push.SendString("3") }()
	select {
	case err := <-done:
		t.Fatalf("send did not block: %v", err)
	case <-time.After(30 * time.Millisecond):
	}
	mustRecv(t, pull)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(testTimeout):
		t.Fatal("blocked send never resumed")
	}
}

func TestSendFrameRecvFrame(t *testing.T) {
	c := newContext(t)
	pull := newSocket(t, c, api.PULL)
	push := newSocket(t, c, api.PUSH)
	_ = pull.Bind("inproc://frames")
	_ = push.Connect("inproc://frames")

	first := msg.NewFrameString("a")
	first.SetMore(true)
	if err := push.SendFrame(first); err != nil {
		t.Fatal(err)
	}
	if err := push.SendFrame(msg.NewFrameString("b")); err != nil {
		t.Fatal(err)
	}
	f, err := pull.RecvFrame()
	if err != nil || !f.StrEqual("a") || !f.More() {
		t.Fatalf("first frame %v more=%v err=%v", f, f != nil && f.More(), err)
	}
	f, err = pull.RecvFrame()
	if err != nil || !f.StrEqual("b") || f.More() {
		t.Fatalf("second frame %v err=%v", f, err)
	}
}

func TestSignalRoundTrip(t *testing.T) {
	c := newContext(t)
	a := newSocket(t, c, api.PAIR)
	b := newSocket(t, c, api.PAIR)
	_ = a.Bind("inproc://sig")
	_ = b.Connect("inproc://sig")
	mustSend(t, a, "noise")
	if err := a.Signal(3); err != nil {
		t.Fatal(err)
	}
	status, err := b.WaitSignal()
	if err != nil || status != 3 {
		t.Fatalf("status %d, %v", status, err)
	}
}

func TestPairRefusesSecondPeer(t *testing.T) {
	c := newContext(t)
	a := newSocket(t, c, api.PAIR)
	_ = a.Bind("inproc://pair")
	b := newSocket(t, c, api.PAIR)
	_ = b.Connect("inproc://pair")
	late := newSocket(t, c, api.PAIR, mq.WithSendTimeout(0))
	_ = late.Connect("inproc://pair")

	mustSend(t, b, "first")
	if got, _ := a.RecvString(); got != "first" {
		t.Fatalf("got %q", got)
	}
	mustSend(t, a, "reply")
	if got, _ := b.RecvString(); got != "reply" {
		t.Errorf("reply went to the wrong peer: %q", got)
	}
}

func TestClosedSocket(t *testing.T) {
	c := newContext(t)
	s, err := c.NewSocket(api.PUSH)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Error("second close failed")
	}
	if err := s.SendString("x"); !errors.Is(err, api.ErrClosed) {
		t.Errorf("send on closed socket: %v", err)
	}
	if s.State() != api.SocketClosed {
		t.Errorf("state %s", s.State())
	}
}

func TestLingerDrainsOnClose(t *testing.T) {
	c := newContext(t)
	pull := newSocket(t, c, api.PULL)
	push, err := c.NewSocket(api.PUSH, mq.WithSocketLinger(testTimeout))
	if err != nil {
		t.Fatal(err)
	}
	_ = pull.Bind("inproc://linger")
	_ = push.Connect("inproc://linger")
	for i := 0; i < 3; i++ {
		mustSend(t, push, "m")
	}
	closed := make(chan struct{})
	go func() {
		_ = push.Close()
		close(closed)
	}()
	for i := 0; i < 3; i++ {
		mustRecv(t, pull)
	}
	select {
	case <-closed:
	case <-time.After(testTimeout):
		t.Fatal("close did not return after the queue drained")
	}
}

func TestLingerReachesLateInprocBind(t *testing.T) {
	c := newContext(t)
	push, err := c.NewSocket(api.PUSH, mq.WithSocketLinger(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if err := push.Connect("inproc://late"); err != nil {
		t.Fatal(err)
	}
	mustSend(t, push, "queued")
	closed := make(chan struct{})
	go func() {
		_ = push.Close()
		close(closed)
	}()
	time.Sleep(100 * time.Millisecond)
	pull := newSocket(t, c, api.PULL)
	if err := pull.Bind("inproc://late"); err != nil {
		t.Fatal(err)
	}
	if got, err := pull.RecvString(); err != nil || got != "queued" {
		t.Fatalf("received %q, %v", got, err)
	}
	select {
	case <-closed:
	case <-time.After(testTimeout):
		t.Fatal("close did not return after the queue drained")
	}
}

func TestInterruptEndsRecv(t *testing.T) {
	c := newContext(t)
	pull := newSocket(t, c, api.PULL, mq.WithRecvTimeout(-1))
	_ = pull.Bind("inproc://intr")
	errc := make(chan error, 1)
	go func() {
		_, err := pull.Recv()
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	c.Interrupt()
	select {
	case err := <-errc:
		if !errors.Is(err, api.ErrTerminated) {
			t.Errorf("expected ErrTerminated, got %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("interrupt did not end the wait")
	}
	if !c.Interrupted() {
		t.Error("context not reported interrupted")
	}
}

func TestContextCloseAndHandles(t *testing.T) {
	c, err := mq.NewContext(mq.WithMaxSockets(2))
	if err != nil {
		t.Fatal(err)
	}
	a, _ := c.NewSocket(api.PUSH)
	b, _ := c.NewSocket(api.PULL)
	if _, err := c.NewSocket(api.PAIR); !errors.Is(err, api.ErrResourceExhausted) {
		t.Errorf("socket beyond the cap: %v", err)
	}
	h := a.Handle()
	if s, ok := c.Lookup(h); !ok || s != a {
		t.Fatal("lookup failed")
	}
	_ = a.Close()
	if _, ok := c.Lookup(h); ok {
		t.Error("closed socket still resolvable")
	}
	d, err := c.NewSocket(api.PAIR)
	if err != nil {
		t.Fatal(err)
	}
	if d.Handle().Index == h.Index && d.Handle().Gen == h.Gen {
		t.Error("reused slot kept the old generation")
	}
	if _, ok := c.Lookup(h); ok {
		t.Error("stale handle resolved to the new socket")
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if b.State() != api.SocketClosed || d.State() != api.SocketClosed {
		t.Error("context close left sockets open")
	}
	if _, err := c.NewSocket(api.PAIR); !errors.Is(err, api.ErrTerminated) {
		t.Errorf("socket on closed context: %v", err)
	}
}

func TestSetIOThreads(t *testing.T) {
	c, err := mq.NewContext()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetIOThreads(4); err != nil || c.IOThreads() != 4 {
		t.Fatalf("resize to 4: %v, workers %d", err, c.IOThreads())
	}
	if err := c.SetIOThreads(0); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("zero workers: %v", err)
	}
	_ = c.Close()
	if err := c.SetIOThreads(2); !errors.Is(err, api.ErrTerminated) {
		t.Errorf("resize after close: %v", err)
	}
}

func TestAttachSyntax(t *testing.T) {
	c := newContext(t)
	pull, err := c.NewPull("inproc://a, @inproc://b")
	if err != nil {
		t.Fatal(err)
	}
	defer pull.Close()
	bound, connected := pull.Endpoints()
	if len(bound) != 2 || len(connected) != 0 {
		t.Fatalf("bound %v connected %v", bound, connected)
	}
	push, err := c.NewPush(">inproc://a,>inproc://b")
	if err != nil {
		t.Fatal(err)
	}
	defer push.Close()
	if _, connected := push.Endpoints(); len(connected) != 2 {
		t.Errorf("connected %v", connected)
	}
	if err := push.Attach("@", false); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("bare marker: %v", err)
	}
	if err := push.Attach("", true); err != nil {
		t.Errorf("empty list: %v", err)
	}
}

func TestLastEndpointEphemeral(t *testing.T) {
	c := newContext(t)
	s := newSocket(t, c, api.PULL)
	if err := s.Bind("tcp://127.0.0.1:*"); err != nil {
		t.Fatal(err)
	}
	last := s.LastEndpoint()
	if last == "" || last == "tcp://127.0.0.1:*" || last == "tcp://127.0.0.1:0" {
		t.Fatalf("unresolved endpoint %q", last)
	}
	if err := s.Unbind(last); err != nil {
		t.Errorf("unbind resolved endpoint: %v", err)
	}
}

func TestMetricsCountTraffic(t *testing.T) {
	c := newContext(t)
	pull := newSocket(t, c, api.PULL)
	push := newSocket(t, c, api.PUSH)
	_ = pull.Bind("inproc://metrics")
	_ = push.Connect("inproc://metrics")
	mustSend(t, push, "a", "bb")
	mustRecv(t, pull)

	families, err := c.Metrics().Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil {
				found[mf.GetName()] += m.GetCounter().GetValue()
			}
		}
	}
	if found["hioload_mq_messages_sent_total"] != 1 || found["hioload_mq_messages_received_total"] != 1 {
		t.Errorf("counters %v", found)
	}
	if found["hioload_mq_bytes_sent_total"] != 3 {
		t.Errorf("bytes sent %v", found["hioload_mq_bytes_sent_total"])
	}
}

func TestDumpState(t *testing.T) {
	c := newContext(t)
	s := newSocket(t, c, api.PULL)
	_ = s.Bind("inproc://dump")
	state := c.DumpState()
	if state["sockets.open"] != 1 {
		t.Errorf("sockets.open = %v", state["sockets.open"])
	}
	socks, ok := state["sockets"].([]map[string]any)
	if !ok || len(socks) != 1 || socks[0]["type"] != "PULL" {
		t.Errorf("sockets summary %v", state["sockets"])
	}
}
