// File: api/collaborators.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Narrow contracts for services the engine consumes but does not own:
// security mechanisms, identifiers, hex formatting, route matching and
// watch event sources.

package api

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// ContextLifecycle brackets use of a shared process-wide resource.
type ContextLifecycle interface {
	Acquire() error
	Release() error
}

// Certificate carries the public material of a security mechanism.
type Certificate interface {
	Mechanism() string
	Metadata() map[string]string
}

// SecureSocket is the part of a socket a SecurityApplier may configure.
type SecureSocket interface {
	Type() SocketType
	SetSecurity(mechanism string, metadata map[string]string)
}

// SecurityApplier applies a certificate to a socket before it binds or connects.
type SecurityApplier interface {
	Apply(cert Certificate, socket SecureSocket) error
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	GenerateUUID() []byte
}

// HexFormatter renders bytes for diagnostics.
type HexFormatter interface {
	FormatHex(b []byte) string
}

// RouteMatcher is consumed by routing layers built atop sockets.
type RouteMatcher interface {
	Matches(path string) (params map[string]string, ok bool)
}

// WatchEventSource delivers events (e.g. directory changes) as messages
// over a pipe socket that the caller can poll.
type WatchEventSource interface {
	Endpoint() string
	Close() error
}

// UUIDGenerator is the default IDGenerator backed by random (v4) UUIDs.
type UUIDGenerator struct{}

// GenerateUUID returns 16 random bytes.
func (UUIDGenerator) GenerateUUID() []byte {
	id := uuid.New()
	return id[:]
}

// UpperHex is the default HexFormatter, upper-case like the toolkit dumps.
type UpperHex struct{}

// FormatHex encodes b as upper-case hex.
func (UpperHex) FormatHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
