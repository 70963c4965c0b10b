// File: mq/actor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Actor runs a function in its own goroutine, talking to its creator over
// an inproc PAIR pipe. The function must call Signal(0) on its pipe once
// it is ready and should return when it receives "$TERM".

package mq

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
)

// ActorTerm is the command Close sends to the actor.
const ActorTerm = "$TERM"

// ActorFunc is the body of an actor.
type ActorFunc func(pipe *Socket, args any)

// Actor is the creator's handle on a running actor.
type Actor struct {
	sock *Socket
	done chan struct{}
	log  *zap.Logger
}

// NewActor starts fn and blocks until it signals readiness.
func NewActor(c *Context, fn ActorFunc, args any) (*Actor, error) {
	if fn == nil {
		return nil, fmt.Errorf("mq: actor: %w", api.ErrInvalidArgument)
	}
	endpoint := "inproc://actor-" + uuid.NewString()
	front, err := c.NewSocket(api.PAIR)
	if err != nil {
		return nil, err
	}
	if err := front.Bind(endpoint); err != nil {
		_ = front.Close()
		return nil, err
	}
	// The back end lingers so the exit signal survives its close, but never
	// longer than the creator waits for it.
	wait := actorWait(c)
	back, err := c.NewSocket(api.PAIR, WithSocketLinger(wait))
	if err != nil {
		_ = front.Close()
		return nil, err
	}
	if err := back.Connect(endpoint); err != nil {
		_ = back.Close()
		_ = front.Close()
		return nil, err
	}

	a := &Actor{sock: front, done: make(chan struct{}), log: c.log.With(zap.String("actor", endpoint))}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.log.Error("actor panicked", zap.Any("panic", r))
			}
			back.SetSendTimeout(wait)
			_ = back.Signal(0)
			close(a.done)
			_ = back.Close()
		}()
		fn(back, args)
	}()

	if _, err := front.WaitSignal(); err != nil {
		_ = front.Close()
		return nil, fmt.Errorf("mq: actor did not start: %w", err)
	}
	a.log.Debug("actor started")
	return a, nil
}

// Socket returns the creator's end of the pipe, for Send, Recv and polling.
func (a *Actor) Socket() *Socket { return a.sock }

// SendString forwards a command to the actor.
func (a *Actor) SendString(parts ...string) error { return a.sock.SendString(parts...) }

// Done is closed when the actor function has returned.
func (a *Actor) Done() <-chan struct{} { return a.done }

// Close asks the actor to finish, waits for its exit signal and releases
// the pipe. It is safe to call after the actor already returned.
func (a *Actor) Close() error {
	select {
	case <-a.done:
	default:
		a.sock.SetSendTimeout(0)
		a.sock.SetRecvTimeout(actorWait(a.sock.ctx))
		if err := a.sock.SendString(ActorTerm); err != nil {
			a.log.Debug("actor term not delivered", zap.Error(err))
		}
		if _, err := a.sock.WaitSignal(); err != nil {
			a.log.Debug("actor exit signal lost", zap.Error(err))
		}
		select {
		case <-a.done:
		case <-a.sock.ctx.Done():
		case <-time.After(actorWait(a.sock.ctx)):
			a.log.Warn("actor did not exit")
		}
	}
	return a.sock.Close()
}

func actorWait(c *Context) time.Duration {
	if d := c.cfg.HandshakeTimeout; d > 0 {
		return d
	}
	return time.Second
}
