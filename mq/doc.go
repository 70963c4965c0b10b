// File: mq/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package mq is the messaging engine: a Context owns sockets, each socket
// implements one messaging pattern over pipes to its peers, and pipes
// carry whole multipart messages over inproc, tcp and ws transports.
//
// A minimal pipeline:
//
//	ctx, _ := mq.NewContext()
//	defer ctx.Close()
//	pull, _ := ctx.NewPull("inproc://work")
//	push, _ := ctx.NewPush("inproc://work")
//	_ = push.SendString("hello")
//	s, _ := pull.RecvString()
//
// Sockets are not safe for concurrent use. Blocking calls end with
// api.ErrTerminated when the Context is interrupted.
package mq
