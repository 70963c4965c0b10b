// File: msg/frame.go
// Package msg
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Frame is one discrete binary unit of a multipart message.

package msg

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/momentics/hioload-mq/api"
)

// Hex formats binary frame content for dumps. Replaceable by callers that
// bring their own armouring service.
var Hex api.HexFormatter = api.UpperHex{}

// Frame holds a byte buffer of fixed length and a more-to-come flag.
// A Frame owned by a Message belongs to that Message only.
type Frame struct {
	data      []byte
	more      bool
	routingID uint32
	owner     *Message
}

// NewFrame returns a frame owning a copy of data. A nil slice yields an
// empty frame.
func NewFrame(data []byte) *Frame {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Frame{data: buf}
}

// NewFrameString returns a frame holding the UTF-8 bytes of s.
func NewFrameString(s string) *Frame {
	return &Frame{data: []byte(s)}
}

// ReadFrame builds a frame of exactly size bytes read from r.
func ReadFrame(r io.Reader, size int) (*Frame, error) {
	if r == nil || size < 0 {
		return nil, fmt.Errorf("msg: read frame: %w", api.ErrInvalidArgument)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("msg: read frame: %w", err)
	}
	return &Frame{data: buf}, nil
}

// wrapFrame adopts buf without copying; internal to decoders.
func wrapFrame(buf []byte) *Frame {
	return &Frame{data: buf}
}

// Size returns the byte length.
func (f *Frame) Size() int {
	return len(f.data)
}

// Data returns a read-only view of the content. Callers must not modify it.
func (f *Frame) Data() []byte {
	return f.data
}

// IsEmpty reports a zero-length frame.
func (f *Frame) IsEmpty() bool {
	return len(f.data) == 0
}

// More reports whether another frame follows on the wire.
func (f *Frame) More() bool {
	return f.more
}

// SetMore sets the more-to-come flag. Only meaningful while the frame is
// staged for the wire; a Message tracks boundaries itself.
func (f *Frame) SetMore(more bool) {
	f.more = more
}

// RoutingID returns the SERVER/CLIENT routing id, 0 if unset.
func (f *Frame) RoutingID() uint32 {
	return f.routingID
}

// SetRoutingID sets the routing id used by SERVER sockets.
func (f *Frame) SetRoutingID(id uint32) {
	f.routingID = id
}

// Reset replaces the whole buffer with a copy of data.
func (f *Frame) Reset(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	if f.owner != nil {
		f.owner.contentSize += len(buf) - len(f.data)
	}
	f.data = buf
}

// Dup returns an unowned deep copy, flags included.
func (f *Frame) Dup() *Frame {
	d := NewFrame(f.data)
	d.more = f.more
	d.routingID = f.routingID
	return d
}

// Equal compares content only.
func (f *Frame) Equal(other *Frame) bool {
	if f == nil || other == nil {
		return f == other
	}
	return bytes.Equal(f.data, other.data)
}

// StrEqual compares content with a string.
func (f *Frame) StrEqual(s string) bool {
	return string(f.data) == s
}

// StrHex returns the content as upper-case hex.
func (f *Frame) StrHex() string {
	return Hex.FormatHex(f.data)
}

// String renders the frame the way message dumps show it: printable text
// as-is, anything else as hex, long content truncated.
func (f *Frame) String() string {
	const maxShown = 35
	content := f.data
	ellipsis := ""
	if len(content) > maxShown {
		content = content[:maxShown]
		ellipsis = "..."
	}
	if isPrintable(f.data) {
		return fmt.Sprintf("[%03d] %s%s", len(f.data), content, ellipsis)
	}
	return fmt.Sprintf("[%03d] %s%s", len(f.data), Hex.FormatHex(content), ellipsis)
}

func isPrintable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if r < 32 || r == 127 {
			return false
		}
	}
	return true
}
