// File: msg/message.go
// Package msg
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Message is an ordered container of frames with move semantics. Frames are
// stored in a double-ended buffer so both ends mutate in amortized O(1).

package msg

import (
	"fmt"
	"strings"

	"github.com/momentics/hioload-mq/api"
)

// Message owns an ordered sequence of frames. It is not safe for
// concurrent use.
type Message struct {
	buf         []*Frame
	head        int
	n           int
	contentSize int
	cursor      int
	routingID   uint32
}

// New returns an empty message.
func New() *Message {
	return &Message{}
}

// NewFromStrings builds a message with one frame per string.
func NewFromStrings(parts ...string) *Message {
	m := New()
	for _, p := range parts {
		m.AppendString(p)
	}
	return m
}

// FrameCount returns the number of frames.
func (m *Message) FrameCount() int {
	return m.n
}

// ContentSize returns the sum of all frame lengths.
func (m *Message) ContentSize() int {
	return m.contentSize
}

// RoutingID returns the SERVER/CLIENT routing id.
func (m *Message) RoutingID() uint32 {
	return m.routingID
}

// SetRoutingID sets the routing id a SERVER socket uses to pick the peer.
func (m *Message) SetRoutingID(id uint32) {
	m.routingID = id
}

// PushFront takes ownership of f and places it first.
func (m *Message) PushFront(f *Frame) error {
	if err := m.adopt(f); err != nil {
		return err
	}
	if m.head == 0 {
		m.grow()
	}
	m.head--
	m.buf[m.head] = f
	m.n++
	return nil
}

// PushBack takes ownership of f and places it last.
func (m *Message) PushBack(f *Frame) error {
	if err := m.adopt(f); err != nil {
		return err
	}
	if m.head+m.n == len(m.buf) {
		m.grow()
	}
	m.buf[m.head+m.n] = f
	m.n++
	return nil
}

// Append is PushBack.
func (m *Message) Append(f *Frame) error {
	return m.PushBack(f)
}

// PushMem prepends a frame holding a copy of data.
func (m *Message) PushMem(data []byte) {
	_ = m.PushFront(NewFrame(data))
}

// AppendMem appends a frame holding a copy of data.
func (m *Message) AppendMem(data []byte) {
	_ = m.PushBack(NewFrame(data))
}

// PushString prepends a UTF-8 string frame.
func (m *Message) PushString(s string) {
	_ = m.PushFront(NewFrameString(s))
}

// AppendString appends a UTF-8 string frame.
func (m *Message) AppendString(s string) {
	_ = m.PushBack(NewFrameString(s))
}

// PopFront removes the first frame and hands it to the caller.
// It returns nil when the message has no frames.
func (m *Message) PopFront() *Frame {
	if m.n == 0 {
		return nil
	}
	f := m.buf[m.head]
	m.buf[m.head] = nil
	m.head++
	m.n--
	if m.cursor > 0 {
		m.cursor--
	}
	m.release(f)
	return f
}

// PopBack removes the last frame, nil when empty.
func (m *Message) PopBack() *Frame {
	if m.n == 0 {
		return nil
	}
	idx := m.head + m.n - 1
	f := m.buf[idx]
	m.buf[idx] = nil
	m.n--
	m.release(f)
	return f
}

// PopString pops the first frame as a string. ok is false when the message
// is empty, which is distinct from an empty string frame.
func (m *Message) PopString() (s string, ok bool) {
	f := m.PopFront()
	if f == nil {
		return "", false
	}
	return string(f.data), true
}

// Remove detaches f from the message without destroying it.
// It reports whether f was found.
func (m *Message) Remove(f *Frame) bool {
	if f == nil || f.owner != m {
		return false
	}
	for i := 0; i < m.n; i++ {
		if m.buf[m.head+i] != f {
			continue
		}
		copy(m.buf[m.head+i:], m.buf[m.head+i+1:m.head+m.n])
		m.buf[m.head+m.n-1] = nil
		m.n--
		if i < m.cursor {
			m.cursor--
		}
		m.release(f)
		return true
	}
	return false
}

// At returns the frame at index i, nil when out of range.
func (m *Message) At(i int) *Frame {
	if i < 0 || i >= m.n {
		return nil
	}
	return m.buf[m.head+i]
}

// First resets the cursor and returns the first frame.
func (m *Message) First() *Frame {
	m.cursor = 0
	return m.At(0)
}

// Next advances the cursor set by First.
func (m *Message) Next() *Frame {
	m.cursor++
	return m.At(m.cursor)
}

// Last returns the last frame without moving the cursor.
func (m *Message) Last() *Frame {
	return m.At(m.n - 1)
}

// Frames returns a snapshot of the frame handles, still owned by m.
func (m *Message) Frames() []*Frame {
	out := make([]*Frame, m.n)
	copy(out, m.buf[m.head:m.head+m.n])
	return out
}

// Move transfers every frame into a new message and leaves m empty.
func (m *Message) Move() *Message {
	out := &Message{
		buf:         m.buf,
		head:        m.head,
		n:           m.n,
		contentSize: m.contentSize,
		routingID:   m.routingID,
	}
	for i := 0; i < out.n; i++ {
		out.buf[out.head+i].owner = out
	}
	*m = Message{}
	return out
}

// Dup returns a deep copy.
func (m *Message) Dup() *Message {
	d := New()
	for i := 0; i < m.n; i++ {
		_ = d.PushBack(m.buf[m.head+i].Dup())
	}
	d.routingID = m.routingID
	return d
}

// Equal compares frame count and frame contents in order.
func (m *Message) Equal(other *Message) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.n != other.n || m.contentSize != other.contentSize {
		return false
	}
	for i := 0; i < m.n; i++ {
		if !m.At(i).Equal(other.At(i)) {
			return false
		}
	}
	return true
}

// Destroy drops every frame; the message stays usable and empty.
func (m *Message) Destroy() {
	for i := 0; i < m.n; i++ {
		f := m.buf[m.head+i]
		f.owner = nil
		f.data = nil
	}
	*m = Message{}
}

// AddMsg encodes sub as a single frame appended to m. sub is consumed.
func (m *Message) AddMsg(sub *Message) error {
	if sub == nil {
		return fmt.Errorf("msg: add submessage: %w", api.ErrInvalidArgument)
	}
	buf, err := sub.Encode()
	if err != nil {
		return err
	}
	sub.Destroy()
	return m.PushBack(wrapFrame(buf))
}

// PopMsg pops the first frame and decodes it as a submessage.
// It returns nil, nil when m is empty.
func (m *Message) PopMsg() (*Message, error) {
	f := m.PopFront()
	if f == nil {
		return nil, nil
	}
	return Decode(f.data)
}

// String dumps the message one frame per line.
func (m *Message) String() string {
	var sb strings.Builder
	sb.WriteString("--------------------------------------\n")
	for i := 0; i < m.n; i++ {
		sb.WriteString(m.buf[m.head+i].String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// SetMoreFlags marks every frame but the last as more-to-come, the layout
// frames have while staged on the wire.
func (m *Message) SetMoreFlags() {
	for i := 0; i < m.n; i++ {
		m.buf[m.head+i].more = i < m.n-1
	}
}

func (m *Message) adopt(f *Frame) error {
	if f == nil {
		return fmt.Errorf("msg: nil frame: %w", api.ErrInvalidArgument)
	}
	if f.owner != nil {
		f.owner.Remove(f)
	}
	f.owner = m
	m.contentSize += len(f.data)
	return nil
}

func (m *Message) release(f *Frame) {
	f.owner = nil
	m.contentSize -= len(f.data)
	if m.n == 0 {
		m.head = len(m.buf) / 2
		m.cursor = 0
	}
}

// grow re-centers the live window, doubling storage when more than half full.
func (m *Message) grow() {
	size := len(m.buf)
	if m.n >= size/2 {
		size *= 2
	}
	if size < 8 {
		size = 8
	}
	nb := make([]*Frame, size)
	newHead := (size - m.n) / 2
	copy(nb[newHead:], m.buf[m.head:m.head+m.n])
	m.buf = nb
	m.head = newHead
}
