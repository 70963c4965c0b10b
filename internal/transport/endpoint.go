// File: internal/transport/endpoint.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/momentics/hioload-mq/api"
)

// Supported endpoint schemes.
const (
	SchemeInproc = "inproc"
	SchemeTCP    = "tcp"
	SchemeWS     = "ws"
)

// Endpoint is a parsed "scheme://address" string.
type Endpoint struct {
	Scheme string
	// Name is the inproc endpoint name.
	Name string
	// Host is empty for the wildcard "*".
	Host string
	// Port is "0" for an ephemeral port ("*" or "0").
	Port string
	// Path is the ws request path, "/" by default.
	Path string
}

// ParseEndpoint validates and splits an endpoint string.
func ParseEndpoint(raw string) (Endpoint, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || rest == "" {
		return Endpoint{}, fmt.Errorf("endpoint %q: %w", raw, api.ErrInvalidArgument)
	}
	ep := Endpoint{Scheme: strings.ToLower(scheme)}
	switch ep.Scheme {
	case SchemeInproc:
		ep.Name = rest
		return ep, nil
	case SchemeTCP:
	case SchemeWS:
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			ep.Path = rest[i:]
			rest = rest[:i]
		}
		if ep.Path == "" {
			ep.Path = "/"
		}
	default:
		return Endpoint{}, fmt.Errorf("endpoint %q: unknown transport %q: %w", raw, scheme, api.ErrNotSupported)
	}
	host, port, err := net.SplitHostPort(rest)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint %q: %v: %w", raw, err, api.ErrInvalidArgument)
	}
	if host == "*" {
		host = ""
	}
	if port == "*" {
		port = "0"
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return Endpoint{}, fmt.Errorf("endpoint %q: bad port %q: %w", raw, port, api.ErrInvalidArgument)
	}
	ep.Host, ep.Port = host, port
	return ep, nil
}

// Address is the host:port form handed to net.Listen and net.Dial.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, e.Port)
}

// Ephemeral reports whether the port is chosen by the OS at bind time.
func (e Endpoint) Ephemeral() bool {
	return e.Port == "0"
}

// Resolve returns a copy of e carrying the concrete address a listener got.
func (e Endpoint) Resolve(addr net.Addr) Endpoint {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return e
	}
	out := e
	out.Port = strconv.Itoa(tcp.Port)
	if out.Host == "" {
		if tcp.IP.IsUnspecified() {
			out.Host = "0.0.0.0"
		} else {
			out.Host = tcp.IP.String()
		}
	}
	return out
}

// URL is the ws:// form of the endpoint for dialing.
func (e Endpoint) URL() string {
	return "ws://" + e.Address() + e.Path
}

// String renders the endpoint canonically. A wildcard host renders as "*".
func (e Endpoint) String() string {
	switch e.Scheme {
	case SchemeInproc:
		return SchemeInproc + "://" + e.Name
	case SchemeWS:
		return SchemeWS + "://" + e.hostPort() + e.Path
	default:
		return e.Scheme + "://" + e.hostPort()
	}
}

func (e Endpoint) hostPort() string {
	host := e.Host
	if host == "" {
		host = "*"
	}
	return net.JoinHostPort(host, e.Port)
}
