// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations: socket patterns and lifecycle states.

package api

import "strings"

// SocketType enumerates the messaging pattern of a socket.
// The pattern is fixed at creation.
type SocketType int

const (
	PAIR SocketType = iota
	PUB
	SUB
	REQ
	REP
	DEALER
	ROUTER
	PULL
	PUSH
	XPUB
	XSUB
	STREAM
	SERVER
	CLIENT
)

var socketTypeNames = [...]string{
	PAIR:   "PAIR",
	PUB:    "PUB",
	SUB:    "SUB",
	REQ:    "REQ",
	REP:    "REP",
	DEALER: "DEALER",
	ROUTER: "ROUTER",
	PULL:   "PULL",
	PUSH:   "PUSH",
	XPUB:   "XPUB",
	XSUB:   "XSUB",
	STREAM: "STREAM",
	SERVER: "SERVER",
	CLIENT: "CLIENT",
}

func (t SocketType) String() string {
	if t < 0 || int(t) >= len(socketTypeNames) {
		return "UNKNOWN"
	}
	return socketTypeNames[t]
}

// Valid reports whether t names a known pattern.
func (t SocketType) Valid() bool {
	return t >= PAIR && t <= CLIENT
}

// ParseSocketType maps a case-insensitive name like "push" to its SocketType.
func ParseSocketType(name string) (SocketType, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range socketTypeNames {
		if n == upper {
			return SocketType(i), nil
		}
	}
	return -1, NewError(ErrCodeInvalidArgument, "unknown socket type").WithContext("name", name)
}

// Compatible reports whether a socket of type t may exchange messages with
// a peer of type peer.
func (t SocketType) Compatible(peer SocketType) bool {
	switch t {
	case PAIR:
		return peer == PAIR
	case PUB, XPUB:
		return peer == SUB || peer == XSUB
	case SUB, XSUB:
		return peer == PUB || peer == XPUB
	case REQ:
		return peer == REP || peer == ROUTER
	case REP:
		return peer == REQ || peer == DEALER
	case DEALER:
		return peer == REP || peer == DEALER || peer == ROUTER
	case ROUTER:
		return peer == REQ || peer == DEALER || peer == ROUTER
	case PULL:
		return peer == PUSH
	case PUSH:
		return peer == PULL
	case SERVER:
		return peer == CLIENT
	case CLIENT:
		return peer == SERVER
	case STREAM:
		return peer == STREAM
	}
	return false
}

// SocketState enumerates the lifecycle of a socket.
type SocketState int32

const (
	SocketCreated SocketState = iota
	SocketActive
	SocketClosing
	SocketClosed
)

func (s SocketState) String() string {
	switch s {
	case SocketCreated:
		return "created"
	case SocketActive:
		return "active"
	case SocketClosing:
		return "closing"
	case SocketClosed:
		return "closed"
	default:
		return "unknown"
	}
}
