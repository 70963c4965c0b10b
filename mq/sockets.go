// File: mq/sockets.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Typed constructors. Each takes an endpoint list in Attach syntax and
// binds or connects by the pattern's usual role.

package mq

import (
	"fmt"
	"strings"

	"github.com/momentics/hioload-mq/api"
)

// Attach binds or connects a comma-separated endpoint list. An endpoint
// starting with '@' is bound, one starting with '>' is connected and a bare
// one is bound when serverish is true. An empty list does nothing.
func (s *Socket) Attach(endpoints string, serverish bool) error {
	for _, raw := range strings.Split(endpoints, ",") {
		ep := strings.TrimSpace(raw)
		if ep == "" {
			continue
		}
		bind := serverish
		switch ep[0] {
		case '@':
			bind, ep = true, ep[1:]
		case '>':
			bind, ep = false, ep[1:]
		}
		if ep == "" {
			return fmt.Errorf("mq: attach %q: %w", raw, api.ErrInvalidArgument)
		}
		var err error
		if bind {
			err = s.Bind(ep)
		} else {
			err = s.Connect(ep)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) newAttached(t api.SocketType, endpoints string, serverish bool, opts []SocketOption) (*Socket, error) {
	s, err := c.NewSocket(t, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Attach(endpoints, serverish); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// NewPub binds a PUB socket by default.
func (c *Context) NewPub(endpoints string, opts ...SocketOption) (*Socket, error) {
	return c.newAttached(api.PUB, endpoints, true, opts)
}

// NewSub connects a SUB socket and subscribes to topic.
func (c *Context) NewSub(endpoints, topic string, opts ...SocketOption) (*Socket, error) {
	s, err := c.newAttached(api.SUB, endpoints, false, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Subscribe(topic); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// NewReq connects a REQ socket by default.
func (c *Context) NewReq(endpoints string, opts ...SocketOption) (*Socket, error) {
	return c.newAttached(api.REQ, endpoints, false, opts)
}

// NewRep binds a REP socket by default.
func (c *Context) NewRep(endpoints string, opts ...SocketOption) (*Socket, error) {
	return c.newAttached(api.REP, endpoints, true, opts)
}

// NewDealer connects a DEALER socket by default.
func (c *Context) NewDealer(endpoints string, opts ...SocketOption) (*Socket, error) {
	return c.newAttached(api.DEALER, endpoints, false, opts)
}

// NewRouter binds a ROUTER socket by default.
func (c *Context) NewRouter(endpoints string, opts ...SocketOption) (*Socket, error) {
	return c.newAttached(api.ROUTER, endpoints, true, opts)
}

// NewPush connects a PUSH socket by default.
func (c *Context) NewPush(endpoints string, opts ...SocketOption) (*Socket, error) {
	return c.newAttached(api.PUSH, endpoints, false, opts)
}

// NewPull binds a PULL socket by default.
func (c *Context) NewPull(endpoints string, opts ...SocketOption) (*Socket, error) {
	return c.newAttached(api.PULL, endpoints, true, opts)
}

// NewXPub binds an XPUB socket by default.
func (c *Context) NewXPub(endpoints string, opts ...SocketOption) (*Socket, error) {
	return c.newAttached(api.XPUB, endpoints, true, opts)
}

// NewXSub connects an XSUB socket by default.
func (c *Context) NewXSub(endpoints string, opts ...SocketOption) (*Socket, error) {
	return c.newAttached(api.XSUB, endpoints, false, opts)
}

// NewPair connects a PAIR socket by default.
func (c *Context) NewPair(endpoints string, opts ...SocketOption) (*Socket, error) {
	return c.newAttached(api.PAIR, endpoints, false, opts)
}

// NewStream connects a STREAM socket by default. Only tcp endpoints
// are accepted.
func (c *Context) NewStream(endpoints string, opts ...SocketOption) (*Socket, error) {
	return c.newAttached(api.STREAM, endpoints, false, opts)
}

// NewServer binds a SERVER socket by default.
func (c *Context) NewServer(endpoints string, opts ...SocketOption) (*Socket, error) {
	return c.newAttached(api.SERVER, endpoints, true, opts)
}

// NewClient connects a CLIENT socket by default.
func (c *Context) NewClient(endpoints string, opts ...SocketOption) (*Socket, error) {
	return c.newAttached(api.CLIENT, endpoints, false, opts)
}
