// File: msg/signal.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package msg

import "encoding/binary"

// signalBase marks an 8-byte signal frame; the low byte carries the status.
const signalBase uint64 = 0x7766554433221100

// NewSignal returns a single-frame signal message carrying status.
func NewSignal(status byte) *Message {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], signalBase+uint64(status))
	m := New()
	_ = m.PushBack(wrapFrame(buf[:]))
	return m
}

// Signal returns the status of a signal message. ok is false for any other
// message.
func (m *Message) Signal() (status byte, ok bool) {
	if m.n != 1 {
		return 0, false
	}
	data := m.At(0).data
	if len(data) != 8 {
		return 0, false
	}
	v := binary.BigEndian.Uint64(data)
	if v&^0xFF != signalBase {
		return 0, false
	}
	return byte(v & 0xFF), true
}
