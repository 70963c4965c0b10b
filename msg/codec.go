// File: msg/codec.go
// Package msg
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Flat encoding of a multipart message. Each frame is written as a
// discriminated length followed by its bytes:
//
//	len < 255:  [len:1][bytes]
//	otherwise:  [0xFF][len:4 big-endian][bytes]

package msg

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/momentics/hioload-mq/api"
)

// LongLengthMarker introduces a 4-byte big-endian frame length.
const LongLengthMarker = 0xFF

// MaxFrameSize is the largest frame the encoding can describe.
const MaxFrameSize = math.MaxUint32

// EncodedSize returns the exact length Encode will produce.
func (m *Message) EncodedSize() int {
	size := 0
	for i := 0; i < m.n; i++ {
		size += headerSize(m.buf[m.head+i].Size()) + m.buf[m.head+i].Size()
	}
	return size
}

func headerSize(n int) int {
	if n < LongLengthMarker {
		return 1
	}
	return 5
}

// Encode flattens the frames into one self-describing buffer.
func (m *Message) Encode() ([]byte, error) {
	return m.AppendEncoded(make([]byte, 0, m.EncodedSize()))
}

// AppendEncoded appends the encoding to dst and returns the extended slice.
func (m *Message) AppendEncoded(dst []byte) ([]byte, error) {
	for i := 0; i < m.n; i++ {
		data := m.buf[m.head+i].data
		size := len(data)
		switch {
		case size < LongLengthMarker:
			dst = append(dst, byte(size))
		case uint64(size) <= MaxFrameSize:
			dst = append(dst, LongLengthMarker)
			dst = binary.BigEndian.AppendUint32(dst, uint32(size))
		default:
			return nil, fmt.Errorf("msg: frame %d of %d bytes exceeds encodable size: %w", i, size, api.ErrInvalidArgument)
		}
		dst = append(dst, data...)
	}
	return dst, nil
}

// Decode is the exact inverse of Encode. Frames are copied out of buf, and
// every frame but the last carries the more flag.
func Decode(buf []byte) (*Message, error) {
	m := New()
	offset := 0
	for offset < len(buf) {
		size := int(buf[offset])
		offset++
		if size == LongLengthMarker {
			if len(buf)-offset < 4 {
				m.Destroy()
				return nil, fmt.Errorf("msg: truncated long length at offset %d: %w", offset, api.ErrInvalidArgument)
			}
			size64 := uint64(binary.BigEndian.Uint32(buf[offset:]))
			offset += 4
			if size64 > uint64(len(buf)-offset) {
				m.Destroy()
				return nil, fmt.Errorf("msg: frame of %d bytes truncated: %w", size64, api.ErrInvalidArgument)
			}
			size = int(size64)
		}
		if size > len(buf)-offset {
			m.Destroy()
			return nil, fmt.Errorf("msg: frame of %d bytes truncated: %w", size, api.ErrInvalidArgument)
		}
		_ = m.PushBack(NewFrame(buf[offset : offset+size]))
		offset += size
	}
	m.SetMoreFlags()
	return m, nil
}

// Save writes the message to w as a 4-byte big-endian length followed by
// its encoding.
func (m *Message) Save(w io.Writer) error {
	if w == nil {
		return fmt.Errorf("msg: save: %w", api.ErrInvalidArgument)
	}
	size := m.EncodedSize()
	if uint64(size) > MaxFrameSize {
		return fmt.Errorf("msg: save: %d bytes: %w", size, api.ErrInvalidArgument)
	}
	buf := make([]byte, 4, 4+size)
	binary.BigEndian.PutUint32(buf, uint32(size))
	buf, err := m.AppendEncoded(buf)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Load reads one message written by Save. It returns io.EOF when r is
// exhausted before a new message starts.
func Load(r io.Reader) (*Message, error) {
	if r == nil {
		return nil, fmt.Errorf("msg: load: %w", api.ErrInvalidArgument)
	}
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("msg: load header: %w", err)
		}
		return nil, err
	}
	body := make([]byte, binary.BigEndian.Uint32(hdr[:]))
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("msg: load body: %w", err)
	}
	return Decode(body)
}
