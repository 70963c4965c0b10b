package mq

import (
	"testing"

	"github.com/momentics/hioload-mq/msg"
)

func TestPipeQueueCapacity(t *testing.T) {
	q := newPipeQueue(2)
	for i := 0; i < 2; i++ {
		if err := q.push(msg.NewFromStrings("x"), false); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	m := msg.NewFromStrings("overflow")
	if err := q.push(m, false); err != errPipeFull {
		t.Fatalf("expected errPipeFull, got %v", err)
	}
	if m.FrameCount() != 1 {
		t.Error("failed push modified the message")
	}
	if err := q.push(m, true); err != nil {
		t.Fatalf("forced push: %v", err)
	}
	if m.FrameCount() != 0 {
		t.Error("successful push must leave the message empty")
	}
	if q.length() != 3 {
		t.Errorf("length %d, want 3", q.length())
	}
}

func TestPipeQueueUnlimited(t *testing.T) {
	q := newPipeQueue(hwmSum(0, 1000))
	for i := 0; i < 5000; i++ {
		if err := q.push(msg.NewFromStrings("x"), false); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
}

func TestPipeQueueWakesPeers(t *testing.T) {
	q := newPipeQueue(0)
	reader, writer := newSignal(), newSignal()
	q.setReader(reader)
	q.setWriter(writer)
	_ = q.push(msg.NewFromStrings("a"), false)
	select {
	case <-reader:
	default:
		t.Error("push did not wake the reader")
	}
	q.pop()
	select {
	case <-writer:
	default:
		t.Error("pop did not wake the writer")
	}
}

func TestPipeQueueTakenStaysPending(t *testing.T) {
	q := newPipeQueue(0)
	writer := newSignal()
	q.setWriter(writer)
	_ = q.push(msg.NewFromStrings("a"), false)
	if q.take() == nil {
		t.Fatal("take returned nothing")
	}
	<-writer
	if q.length() != 0 || q.pending() != 1 {
		t.Fatalf("length %d pending %d after take", q.length(), q.pending())
	}
	q.settle()
	select {
	case <-writer:
	default:
		t.Error("settle did not wake the writer")
	}
	if q.pending() != 0 {
		t.Errorf("pending %d after settle", q.pending())
	}
}

func TestPipeTerminate(t *testing.T) {
	a, b := newPipePair(10, 10, "inproc", "inproc://x")
	_ = a.out.push(msg.NewFromStrings("1"), false)
	_ = a.out.push(msg.NewFromStrings("2"), false)
	var termed bool
	a.onTerm = func() { termed = true }
	if n := a.terminate(); n != 2 {
		t.Errorf("discarded %d, want 2", n)
	}
	if !termed {
		t.Error("onTerm not called")
	}
	if a.terminate() != 0 {
		t.Error("second terminate must be a no-op")
	}
	if !b.dead() {
		t.Error("peer should see a dead pipe")
	}
}

func TestPeerGoneKeepsInbound(t *testing.T) {
	a, b := newPipePair(10, 10, "tcp", "tcp://x:1")
	_ = b.out.push(msg.NewFromStrings("late"), false)
	a.peerGone()
	if a.dead() {
		t.Fatal("pipe dead while a message is still queued")
	}
	if m := a.in.pop(); m == nil {
		t.Fatal("queued message lost")
	}
	if !a.dead() {
		t.Error("drained pipe should be dead")
	}
	if err := a.out.push(msg.NewFromStrings("x"), false); err != errPipeClosed {
		t.Errorf("expected errPipeClosed, got %v", err)
	}
}

func TestTopicSetPrefix(t *testing.T) {
	ts := newTopicSet()
	if ts.matches([]byte("anything")) {
		t.Error("empty set matched")
	}
	ts.add("wea")
	if !ts.matches([]byte("weather")) || ts.matches([]byte("we")) {
		t.Error("prefix matching wrong")
	}
	ts.add("")
	if !ts.matches(nil) {
		t.Error("empty topic must match an empty message")
	}
	ts.add("wea")
	if ts.remove("wea") {
		t.Error("first remove of a doubly added topic must keep it")
	}
	if !ts.remove("wea") {
		t.Error("last remove must report removal")
	}
	if ts.remove("missing") {
		t.Error("unknown topic removal reported true")
	}
}

func TestSubscriptionMessage(t *testing.T) {
	m := subscriptionMessage(subscribeCmd, "abc")
	if m.FrameCount() != 1 {
		t.Fatalf("frames %d", m.FrameCount())
	}
	data := m.First().Data()
	if data[0] != 1 || string(data[1:]) != "abc" {
		t.Errorf("unexpected encoding % x", data)
	}
}

func TestSubReconnectRestatesTopics(t *testing.T) {
	sp := newSubPattern(nil, true)
	a, _ := newPipePair(0, 0, "tcp", "tcp://127.0.0.1:1")
	sp.attach(a)
	sp.subscribe("x")
	sp.subscribe("x")
	sp.subscribe("y")
	sp.unsubscribe("y")
	_ = sp.send(msg.NewFromStrings("payload", "frame"))
	if a.out.length() != 4 {
		t.Fatalf("queued %d commands before reconnect", a.out.length())
	}
	sp.reconnected(a)
	var subs []string
	var other int
	for m := a.out.pop(); m != nil; m = a.out.pop() {
		if !isSubscriptionCommand(m) {
			other++
			continue
		}
		data := m.First().Data()
		if data[0] != subscribeCmd {
			t.Errorf("replayed an unsubscribe for %q", data[1:])
		}
		subs = append(subs, string(data[1:]))
	}
	if len(subs) != 1 || subs[0] != "x" {
		t.Errorf("replayed %v, want [x]", subs)
	}
	if other != 1 {
		t.Errorf("%d application messages kept, want 1", other)
	}
}

func TestLoadBalancerRoundRobin(t *testing.T) {
	var lb loadBalancer
	a, _ := newPipePair(0, 0, "inproc", "a")
	b, _ := newPipePair(0, 0, "inproc", "b")
	lb.add(a)
	lb.add(b)
	for i := 0; i < 4; i++ {
		if _, err := lb.send(msg.NewFromStrings("m")); err != nil {
			t.Fatal(err)
		}
	}
	if a.out.length() != 2 || b.out.length() != 2 {
		t.Errorf("uneven distribution %d/%d", a.out.length(), b.out.length())
	}
	lb.remove(a)
	if p, _ := lb.send(msg.NewFromStrings("m")); p != b {
		t.Error("removed pipe still selected")
	}
}

func TestFairQueueAlternates(t *testing.T) {
	var fq fairQueue
	a, ap := newPipePair(0, 0, "inproc", "a")
	b, bp := newPipePair(0, 0, "inproc", "b")
	fq.add(a)
	fq.add(b)
	for i := 0; i < 3; i++ {
		_ = ap.out.push(msg.NewFromStrings("a"), false)
		_ = bp.out.push(msg.NewFromStrings("b"), false)
	}
	var got []string
	for {
		m, _ := fq.recv()
		if m == nil {
			break
		}
		s, _ := m.PopString()
		got = append(got, s)
	}
	want := "ababab"
	var joined string
	for _, s := range got {
		joined += s
	}
	if joined != want {
		t.Errorf("fair queue order %q, want %q", joined, want)
	}
}
