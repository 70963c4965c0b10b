// File: internal/transport/transport.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Message-oriented connections. A FramedConn prefixes every unit with a
// 4-byte big-endian length; a StreamConn passes raw bytes through as they
// arrive, for STREAM sockets talking to non-framing peers.

package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/pool"
)

// DefaultMaxMessageSize bounds a single framed unit read from a peer.
const DefaultMaxMessageSize = 64 << 20

// ErrConnClosed is returned by operations on a closed connection.
var ErrConnClosed = fmt.Errorf("transport: connection closed: %w", api.ErrClosed)

// Conn carries discrete units of bytes between two peers.
// ReadMessage and WriteMessage may be called from two different goroutines.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(b []byte) error
	SetDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// FramedConn is a length-prefixed Conn over a net.Conn.
type FramedConn struct {
	conn    net.Conn
	r       *bufio.Reader
	maxSize int
	wbuf    []byte
	once    sync.Once
}

// NewFramedConn wraps c. maxSize <= 0 selects DefaultMaxMessageSize.
func NewFramedConn(c net.Conn, maxSize int) *FramedConn {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &FramedConn{conn: c, r: bufio.NewReader(c), maxSize: maxSize}
}

// ReadMessage reads one length-prefixed unit.
func (f *FramedConn) ReadMessage() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(f.r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if uint64(size) > uint64(f.maxSize) {
		return nil, fmt.Errorf("transport: unit of %d bytes exceeds limit %d: %w", size, f.maxSize, api.ErrProtocolViolation)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(f.r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// WriteMessage writes b with its length prefix in a single write.
func (f *FramedConn) WriteMessage(b []byte) error {
	if uint64(len(b)) > 0xFFFFFFFF {
		return fmt.Errorf("transport: unit of %d bytes: %w", len(b), api.ErrInvalidArgument)
	}
	f.wbuf = binary.BigEndian.AppendUint32(f.wbuf[:0], uint32(len(b)))
	f.wbuf = append(f.wbuf, b...)
	_, err := f.conn.Write(f.wbuf)
	if cap(f.wbuf) > 1<<20 {
		f.wbuf = nil
	}
	return err
}

func (f *FramedConn) SetDeadline(t time.Time) error { return f.conn.SetDeadline(t) }

func (f *FramedConn) RemoteAddr() string { return f.conn.RemoteAddr().String() }

// Close is idempotent.
func (f *FramedConn) Close() error {
	var err error
	f.once.Do(func() { err = f.conn.Close() })
	return err
}

// StreamConn exposes a net.Conn as chunks of whatever bytes are available.
type StreamConn struct {
	conn net.Conn
	pool *pool.BytePool
	once sync.Once
}

// NewStreamConn wraps c; reads borrow scratch buffers from p.
func NewStreamConn(c net.Conn, p *pool.BytePool) *StreamConn {
	if p == nil {
		p = pool.DefaultBytePool()
	}
	return &StreamConn{conn: c, pool: p}
}

// ReadMessage returns the next chunk of bytes, never empty.
func (s *StreamConn) ReadMessage() ([]byte, error) {
	buf := s.pool.GetBuffer()
	defer s.pool.PutBuffer(buf)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, buf[:n])
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// WriteMessage writes b verbatim.
func (s *StreamConn) WriteMessage(b []byte) error {
	_, err := s.conn.Write(b)
	return err
}

func (s *StreamConn) SetDeadline(t time.Time) error { return s.conn.SetDeadline(t) }

func (s *StreamConn) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// Close is idempotent.
func (s *StreamConn) Close() error {
	var err error
	s.once.Do(func() { err = s.conn.Close() })
	return err
}

var (
	_ Conn = (*FramedConn)(nil)
	_ Conn = (*StreamConn)(nil)
)
