package msg_test

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/msg"
)

func TestEncodeDecodeScenario(t *testing.T) {
	m := msg.NewFromStrings("a", "", "bbb")
	buf, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{1, 'a', 0, 3, 'b', 'b', 'b'}
	if !bytes.Equal(buf, want) {
		t.Fatalf("encoding % x, want % x", buf, want)
	}
	got, err := msg.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.FrameCount() != 3 || got.ContentSize() != 4 {
		t.Fatalf("decoded %d frames / %d bytes", got.FrameCount(), got.ContentSize())
	}
	if !got.Equal(m) {
		t.Error("decoded frames differ")
	}
	if !got.At(0).More() || !got.At(1).More() || got.At(2).More() {
		t.Error("more flags not reconstructed")
	}
}

func TestEncodeLongFrames(t *testing.T) {
	for _, size := range []int{254, 255, 256, 70000} {
		m := msg.New()
		m.AppendMem(bytes.Repeat([]byte{'x'}, size))
		buf, err := m.Encode()
		if err != nil {
			t.Fatal(err)
		}
		if size < 255 {
			if buf[0] != byte(size) || len(buf) != size+1 {
				t.Errorf("size %d: short header not used", size)
			}
		} else if buf[0] != msg.LongLengthMarker || len(buf) != size+5 {
			t.Errorf("size %d: long header not used", size)
		}
		got, err := msg.Decode(buf)
		if err != nil {
			t.Fatal(err)
		}
		if got.At(0).Size() != size {
			t.Errorf("size %d decoded as %d", size, got.At(0).Size())
		}
	}
}

func TestRoundTripLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		m := msg.New()
		frames := rng.Intn(10)
		for i := 0; i < frames; i++ {
			data := make([]byte, rng.Intn(600))
			rng.Read(data)
			m.AppendMem(data)
		}
		buf, err := m.Encode()
		if err != nil {
			t.Fatal(err)
		}
		if len(buf) != m.EncodedSize() {
			t.Fatalf("EncodedSize %d, actual %d", m.EncodedSize(), len(buf))
		}
		got, err := msg.Decode(buf)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(m) {
			t.Fatalf("iteration %d: round trip mismatch", iter)
		}
	}
}

func TestDecodeEmptyBuffer(t *testing.T) {
	m, err := msg.Decode(nil)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.FrameCount() != 0 {
		t.Error("empty buffer must decode to an empty message")
	}
}

func TestDecodeTruncated(t *testing.T) {
	cases := [][]byte{
		{3, 'a'},
		{0xFF, 0, 0},
		{0xFF, 0, 0, 1, 0, 'x'},
	}
	for _, c := range cases {
		if _, err := msg.Decode(c); !errors.Is(err, api.ErrInvalidArgument) {
			t.Errorf("decode % x: expected ErrInvalidArgument, got %v", c, err)
		}
	}
}

func TestSaveLoad(t *testing.T) {
	var buf bytes.Buffer
	first := msg.NewFromStrings("one", "two")
	second := msg.NewFromStrings("three")
	if err := first.Save(&buf); err != nil {
		t.Fatal(err)
	}
	if err := second.Save(&buf); err != nil {
		t.Fatal(err)
	}
	for _, want := range []*msg.Message{first, second} {
		got, err := msg.Load(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(want) {
			t.Errorf("loaded %s, want %s", got, want)
		}
	}
	if _, err := msg.Load(&buf); err != io.EOF {
		t.Errorf("expected io.EOF at end, got %v", err)
	}
}

func TestReadFrameAbsentSource(t *testing.T) {
	if _, err := msg.ReadFrame(nil, 3); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	f, err := msg.ReadFrame(bytes.NewReader([]byte("abcdef")), 3)
	if err != nil || !f.StrEqual("abc") {
		t.Errorf("ReadFrame returned %v, %v", f, err)
	}
}
