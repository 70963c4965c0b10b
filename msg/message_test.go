package msg_test

import (
	"errors"
	"testing"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/msg"
)

func TestMessagePushPopOrder(t *testing.T) {
	m := msg.New()
	m.AppendString("b")
	m.AppendString("c")
	m.PushString("a")
	if m.FrameCount() != 3 {
		t.Fatalf("expected 3 frames, got %d", m.FrameCount())
	}
	for _, want := range []string{"a", "b", "c"} {
		got, ok := m.PopString()
		if !ok || got != want {
			t.Fatalf("expected %q, got %q (ok=%v)", want, got, ok)
		}
	}
	if m.FrameCount() != 0 || m.ContentSize() != 0 {
		t.Errorf("message not empty after pops: %d frames, %d bytes", m.FrameCount(), m.ContentSize())
	}
}

func TestPopStringOnEmptyMessage(t *testing.T) {
	m := msg.New()
	s, ok := m.PopString()
	if ok {
		t.Fatalf("expected absent value, got %q", s)
	}
	if f := m.PopFront(); f != nil {
		t.Error("PopFront on empty message returned a frame")
	}

	m.AppendString("")
	s, ok = m.PopString()
	if !ok || s != "" {
		t.Errorf("empty string frame must pop as present empty string, got %q ok=%v", s, ok)
	}
}

func TestContentSizeMaintained(t *testing.T) {
	m := msg.New()
	m.AppendMem([]byte("abc"))
	m.PushMem([]byte("de"))
	if m.ContentSize() != 5 {
		t.Fatalf("content size %d, want 5", m.ContentSize())
	}
	f := m.First()
	f.Reset([]byte("0123456789"))
	if m.ContentSize() != 13 {
		t.Errorf("content size after reset %d, want 13", m.ContentSize())
	}
	m.PopBack()
	if m.ContentSize() != 10 {
		t.Errorf("content size after pop %d, want 10", m.ContentSize())
	}
}

func TestFrameMovesBetweenMessages(t *testing.T) {
	a := msg.NewFromStrings("x", "y")
	b := msg.New()
	f := a.First()
	if err := b.PushBack(f); err != nil {
		t.Fatal(err)
	}
	if a.FrameCount() != 1 || a.ContentSize() != 1 {
		t.Errorf("source still holds moved frame: %d frames", a.FrameCount())
	}
	if b.FrameCount() != 1 || !b.First().StrEqual("x") {
		t.Error("destination did not receive frame")
	}
	if a.Remove(f) {
		t.Error("frame removed from a message that no longer owns it")
	}
}

func TestPushNilFrame(t *testing.T) {
	m := msg.New()
	if err := m.PushFront(nil); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestManyPrependsKeepOrder(t *testing.T) {
	m := msg.New()
	const n = 1000
	for i := 0; i < n; i++ {
		m.PushMem([]byte{byte(i)})
	}
	for i := n - 1; i >= 0; i-- {
		f := m.PopFront()
		if f == nil || f.Data()[0] != byte(i) {
			t.Fatalf("frame %d out of order", i)
		}
	}
}

func TestIterationAndRemove(t *testing.T) {
	m := msg.NewFromStrings("a", "b", "c")
	var seen []string
	for f := m.First(); f != nil; f = m.Next() {
		seen = append(seen, string(f.Data()))
	}
	if len(seen) != 3 || seen[2] != "c" {
		t.Fatalf("iteration returned %v", seen)
	}
	mid := m.At(1)
	if !m.Remove(mid) {
		t.Fatal("remove failed")
	}
	if m.FrameCount() != 2 || !m.Last().StrEqual("c") {
		t.Errorf("unexpected layout after remove: %s", m)
	}
}

func TestDupAndEqual(t *testing.T) {
	m := msg.NewFromStrings("hello", "", "world")
	d := m.Dup()
	if !m.Equal(d) {
		t.Fatal("dup not equal")
	}
	d.First().Reset([]byte("HELLO"))
	if m.Equal(d) {
		t.Error("dup shares storage with original")
	}
}

func TestMoveLeavesSourceEmpty(t *testing.T) {
	m := msg.NewFromStrings("a", "b")
	moved := m.Move()
	if m.FrameCount() != 0 {
		t.Error("source not empty after move")
	}
	if moved.FrameCount() != 2 {
		t.Errorf("moved message has %d frames", moved.FrameCount())
	}
	m.AppendString("c")
	if moved.FrameCount() != 2 {
		t.Error("source and moved message share storage")
	}
}

func TestSubmessages(t *testing.T) {
	outer := msg.New()
	inner := msg.NewFromStrings("x", "yy")
	if err := outer.AddMsg(inner); err != nil {
		t.Fatal(err)
	}
	if inner.FrameCount() != 0 {
		t.Error("submessage not consumed")
	}
	got, err := outer.PopMsg()
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(msg.NewFromStrings("x", "yy")) {
		t.Errorf("submessage mismatch: %s", got)
	}
	if empty, err := outer.PopMsg(); empty != nil || err != nil {
		t.Error("PopMsg on empty message must return nil, nil")
	}
}

func TestSignalMessages(t *testing.T) {
	s := msg.NewSignal(7)
	status, ok := s.Signal()
	if !ok || status != 7 {
		t.Errorf("signal status %d ok=%v", status, ok)
	}
	if _, ok := msg.NewFromStrings("12345678").Signal(); ok {
		t.Error("ordinary message detected as signal")
	}
}

func TestFrameString(t *testing.T) {
	if got := msg.NewFrameString("hello").String(); got != "[005] hello" {
		t.Errorf("unexpected dump %q", got)
	}
	if got := msg.NewFrame([]byte{0x00, 0xAB}).String(); got != "[002] 00AB" {
		t.Errorf("unexpected binary dump %q", got)
	}
}
