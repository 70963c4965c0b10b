// File: internal/transport/greeting.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Greeting layout, sent as the first unit in each direction:
//
//	"HMQ" | version:1 | socket type:1 | identity length:1 | identity

package transport

import (
	"fmt"
	"time"

	"github.com/momentics/hioload-mq/api"
)

const (
	greetingMagic = "HMQ"
	// GreetingVersion is the only version this package speaks.
	GreetingVersion = 1
	// MaxIdentitySize bounds the identity carried in a greeting.
	MaxIdentitySize = 255
)

// DefaultHandshakeTimeout bounds the greeting exchange.
const DefaultHandshakeTimeout = 5 * time.Second

// Greeting announces a peer's socket type and identity.
type Greeting struct {
	Type     api.SocketType
	Identity []byte
}

// Marshal encodes g. Identities longer than MaxIdentitySize are rejected.
func (g Greeting) Marshal() ([]byte, error) {
	if len(g.Identity) > MaxIdentitySize {
		return nil, fmt.Errorf("transport: identity of %d bytes: %w", len(g.Identity), api.ErrInvalidArgument)
	}
	out := make([]byte, 0, len(greetingMagic)+3+len(g.Identity))
	out = append(out, greetingMagic...)
	out = append(out, GreetingVersion, byte(g.Type), byte(len(g.Identity)))
	return append(out, g.Identity...), nil
}

// ParseGreeting decodes a greeting unit.
func ParseGreeting(b []byte) (Greeting, error) {
	if len(b) < len(greetingMagic)+3 || string(b[:len(greetingMagic)]) != greetingMagic {
		return Greeting{}, fmt.Errorf("transport: malformed greeting: %w", api.ErrProtocolViolation)
	}
	b = b[len(greetingMagic):]
	if b[0] != GreetingVersion {
		return Greeting{}, fmt.Errorf("transport: greeting version %d: %w", b[0], api.ErrProtocolViolation)
	}
	g := Greeting{Type: api.SocketType(b[1])}
	if !g.Type.Valid() {
		return Greeting{}, fmt.Errorf("transport: greeting socket type %d: %w", b[1], api.ErrProtocolViolation)
	}
	idLen := int(b[2])
	if len(b)-3 != idLen {
		return Greeting{}, fmt.Errorf("transport: greeting identity length mismatch: %w", api.ErrProtocolViolation)
	}
	if idLen > 0 {
		g.Identity = append([]byte(nil), b[3:]...)
	}
	return g, nil
}

// Handshake sends local, reads the peer greeting and checks that the two
// socket types may talk. The deadline is cleared on success.
func Handshake(c Conn, local Greeting, timeout time.Duration) (Greeting, error) {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	out, err := local.Marshal()
	if err != nil {
		return Greeting{}, err
	}
	if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
		return Greeting{}, err
	}
	if err := c.WriteMessage(out); err != nil {
		return Greeting{}, fmt.Errorf("transport: send greeting: %w", err)
	}
	in, err := c.ReadMessage()
	if err != nil {
		return Greeting{}, fmt.Errorf("transport: read greeting: %w", err)
	}
	peer, err := ParseGreeting(in)
	if err != nil {
		return Greeting{}, err
	}
	if !local.Type.Compatible(peer.Type) {
		return Greeting{}, api.NewError(api.ErrCodeProtocolViolation, "transport: incompatible peer").
			WithContext("local", local.Type.String()).
			WithContext("peer", peer.Type.String()).
			WithContext("remote", c.RemoteAddr())
	}
	return peer, c.SetDeadline(time.Time{})
}
