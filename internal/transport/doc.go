// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Network plumbing for sockets: endpoint parsing, message-oriented
// connections over TCP (length-prefixed) and WebSocket (one binary message
// per unit), raw byte streams, listeners and the greeting handshake that
// peers exchange before any traffic.

package transport
