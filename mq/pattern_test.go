package mq_test

import (
	"errors"
	"testing"
	"time"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/mq"
	"github.com/momentics/hioload-mq/msg"
)

func pair(t *testing.T, c *mq.Context, bindType, connType api.SocketType, endpoint string, opts ...mq.SocketOption) (bound, conn *mq.Socket) {
	t.Helper()
	bound = newSocket(t, c, bindType)
	conn = newSocket(t, c, connType, opts...)
	if err := bound.Bind(endpoint); err != nil {
		t.Fatal(err)
	}
	if err := conn.Connect(endpoint); err != nil {
		t.Fatal(err)
	}
	return bound, conn
}

func TestReqRep(t *testing.T) {
	c := newContext(t)
	rep, req := pair(t, c, api.REP, api.REQ, "inproc://reqrep")

	if _, err := req.Recv(); !errors.Is(err, api.ErrProtocolViolation) {
		t.Errorf("REQ recv first: %v", err)
	}
	if err := rep.SendString("x"); !errors.Is(err, api.ErrProtocolViolation) {
		t.Errorf("REP send first: %v", err)
	}
	for i := 0; i < 3; i++ {
		mustSend(t, req, "ping")
		if err := req.SendString("again"); !errors.Is(err, api.ErrProtocolViolation) {
			t.Errorf("second REQ send: %v", err)
		}
		m := mustRecv(t, rep)
		if m.FrameCount() != 1 || !m.First().StrEqual("ping") {
			t.Fatalf("REP got %s", m)
		}
		if _, err := rep.Recv(); !errors.Is(err, api.ErrProtocolViolation) {
			t.Errorf("second REP recv: %v", err)
		}
		mustSend(t, rep, "pong")
		m = mustRecv(t, req)
		if m.FrameCount() != 1 || !m.First().StrEqual("pong") {
			t.Fatalf("REQ got %s", m)
		}
	}
}

func TestDealerRouterIdentity(t *testing.T) {
	c := newContext(t)
	router, dealer := pair(t, c, api.ROUTER, api.DEALER, "inproc://dr", mq.WithIdentity([]byte("D1")))
	anon := newSocket(t, c, api.DEALER)
	_ = anon.Connect("inproc://dr")

	mustSend(t, dealer, "hi")
	m := mustRecv(t, router)
	if m.FrameCount() != 2 || !m.First().StrEqual("D1") {
		t.Fatalf("router got %s", m)
	}
	mustSend(t, router, "D1", "back")
	if got, _ := dealer.RecvString(); got != "back" {
		t.Errorf("dealer got %q", got)
	}

	mustSend(t, anon, "anon")
	m = mustRecv(t, router)
	id := m.First().Data()
	if len(id) != 17 || id[0] != 0 {
		t.Fatalf("generated identity % x", id)
	}
	reply := msg.New()
	reply.AppendMem(id)
	reply.AppendString("yours")
	if err := router.Send(reply); err != nil {
		t.Fatal(err)
	}
	if got, _ := anon.RecvString(); got != "yours" {
		t.Errorf("anonymous dealer got %q", got)
	}
}

func TestRouterUnroutable(t *testing.T) {
	c := newContext(t)
	router := newSocket(t, c, api.ROUTER)
	_ = router.Bind("inproc://unroutable")
	m := msg.NewFromStrings("nobody", "x")
	if err := router.Send(m); err != nil {
		t.Fatalf("silent drop failed: %v", err)
	}
	if m.FrameCount() != 0 {
		t.Error("dropped message not consumed")
	}

	router.SetRouterMandatory(true)
	m = msg.NewFromStrings("nobody", "x")
	if err := router.Send(m); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("mandatory send: %v", err)
	}
	if m.FrameCount() != 2 || !m.First().StrEqual("nobody") {
		t.Errorf("message not restored: %s", m)
	}
	if err := router.SendString("only-id"); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("identity without body: %v", err)
	}
}

func TestDealerToRepEnvelope(t *testing.T) {
	c := newContext(t)
	rep, dealer := pair(t, c, api.REP, api.DEALER, "inproc://envelope")
	mustSend(t, dealer, "", "request")
	if got, _ := rep.RecvString(); got != "request" {
		t.Fatalf("rep got %q", got)
	}
	mustSend(t, rep, "reply")
	m := mustRecv(t, dealer)
	if m.FrameCount() != 2 || m.First().Size() != 0 || !m.Last().StrEqual("reply") {
		t.Errorf("dealer got %s", m)
	}
}

func TestPubSubFiltering(t *testing.T) {
	c := newContext(t)
	pub, sub := pair(t, c, api.PUB, api.SUB, "inproc://news", mq.WithRecvTimeout(50*time.Millisecond))
	if err := sub.Subscribe("weather"); err != nil {
		t.Fatal(err)
	}
	mustSend(t, pub, "sports", "goal")
	mustSend(t, pub, "weather.paris", "rain")
	m := mustRecv(t, sub)
	if !m.First().StrEqual("weather.paris") {
		t.Fatalf("sub got %s", m)
	}
	if _, err := sub.Recv(); !errors.Is(err, api.ErrTimeout) {
		t.Errorf("unsubscribed topic delivered: %v", err)
	}
	if err := sub.Unsubscribe("weather"); err != nil {
		t.Fatal(err)
	}
	mustSend(t, pub, "weather.rome", "sun")
	if _, err := sub.Recv(); !errors.Is(err, api.ErrTimeout) {
		t.Errorf("message after unsubscribe: %v", err)
	}
	if _, err := pub.Recv(); !errors.Is(err, api.ErrNotSupported) {
		t.Errorf("recv on PUB: %v", err)
	}
	if err := sub.SendString("x"); !errors.Is(err, api.ErrNotSupported) {
		t.Errorf("send on SUB: %v", err)
	}
}

func TestPubNeverBlocks(t *testing.T) {
	c := newContext(t)
	pub := newSocket(t, c, api.PUB, mq.WithSendHWM(1))
	sub := newSocket(t, c, api.SUB, mq.WithRecvHWM(1))
	_ = pub.Bind("inproc://flood")
	_ = sub.Connect("inproc://flood")
	_ = sub.Subscribe("")
	for i := 0; i < 50; i++ {
		mustSend(t, pub, "tick")
	}
	received := 0
	sub.SetRecvTimeout(0)
	for {
		if _, err := sub.Recv(); err != nil {
			break
		}
		received++
	}
	if received == 0 || received > 2 {
		t.Errorf("subscriber received %d messages", received)
	}
}

func TestXPubSubscriptionNotices(t *testing.T) {
	c := newContext(t)
	xpub := newSocket(t, c, api.XPUB)
	_ = xpub.Bind("inproc://xpub")
	s1 := newSocket(t, c, api.SUB)
	s2 := newSocket(t, c, api.SUB)
	_ = s1.Connect("inproc://xpub")
	_ = s2.Connect("inproc://xpub")

	_ = s1.Subscribe("a")
	_ = s2.Subscribe("a")
	m := mustRecv(t, xpub)
	if d := m.First().Data(); d[0] != 1 || string(d[1:]) != "a" {
		t.Fatalf("notice % x", d)
	}
	xpub.SetRecvTimeout(30 * time.Millisecond)
	if _, err := xpub.Recv(); !errors.Is(err, api.ErrTimeout) {
		t.Errorf("second subscriber produced a notice: %v", err)
	}
	_ = s1.Unsubscribe("a")
	if _, err := xpub.Recv(); !errors.Is(err, api.ErrTimeout) {
		t.Errorf("unsubscribe with a remaining subscriber produced a notice: %v", err)
	}
	_ = s2.Unsubscribe("a")
	xpub.SetRecvTimeout(testTimeout)
	m = mustRecv(t, xpub)
	if d := m.First().Data(); d[0] != 0 || string(d[1:]) != "a" {
		t.Fatalf("unsubscribe notice % x", d)
	}
}

func TestXSubForwardsSubscriptions(t *testing.T) {
	c := newContext(t)
	pub, xsub := pair(t, c, api.PUB, api.XSUB, "inproc://xsub")
	sub := msg.New()
	sub.AppendMem([]byte{1, 'k'})
	if err := xsub.Send(sub); err != nil {
		t.Fatal(err)
	}
	mustSend(t, pub, "k1")
	mustSend(t, pub, "z1")
	if got, _ := xsub.RecvString(); got != "k1" {
		t.Errorf("xsub got %q", got)
	}
}

func TestSubscribeBeforeConnect(t *testing.T) {
	c := newContext(t)
	sub := newSocket(t, c, api.SUB)
	if err := sub.Subscribe("t"); err != nil {
		t.Fatal(err)
	}
	pub := newSocket(t, c, api.PUB)
	_ = pub.Bind("inproc://late-pub")
	_ = sub.Connect("inproc://late-pub")
	mustSend(t, pub, "t1")
	if got, _ := sub.RecvString(); got != "t1" {
		t.Errorf("sub got %q", got)
	}
	if err := pub.Subscribe("x"); !errors.Is(err, api.ErrNotSupported) {
		t.Errorf("subscribe on PUB: %v", err)
	}
}

func TestServerClient(t *testing.T) {
	c := newContext(t)
	server, client := pair(t, c, api.SERVER, api.CLIENT, "inproc://sc")
	if err := client.SendString("a", "b"); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("multi-frame client send: %v", err)
	}
	mustSend(t, client, "hello")
	m := mustRecv(t, server)
	id := m.RoutingID()
	if id == 0 || m.First().RoutingID() != id {
		t.Fatalf("routing id %d / %d", id, m.First().RoutingID())
	}
	reply := msg.NewFromStrings("world")
	reply.SetRoutingID(id)
	if err := server.Send(reply); err != nil {
		t.Fatal(err)
	}
	if got, _ := client.RecvString(); got != "world" {
		t.Errorf("client got %q", got)
	}
	lost := msg.NewFromStrings("x")
	lost.SetRoutingID(id + 100)
	if err := server.Send(lost); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("unknown routing id: %v", err)
	}
}
