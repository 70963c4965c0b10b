// File: mq/proxy.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package mq

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
)

// Proxy moves whole messages between frontend and backend in both
// directions until ctx ends or the Context is interrupted, which it reports
// as ErrTerminated. When capture is not nil it receives a copy of every
// message. Subscription traffic between XSUB and XPUB passes through
// unchanged.
func Proxy(ctx context.Context, frontend, backend, capture *Socket) error {
	if frontend == nil || backend == nil {
		return fmt.Errorf("mq: proxy: %w", api.ErrInvalidArgument)
	}
	log := frontend.ctx.log.Named("proxy")
	poller := NewPoller(frontend, backend)
	defer poller.Destroy()
	poller.SetRoundRobin(true)
	for {
		src, err := poller.WaitContext(ctx, -1)
		if err != nil {
			return err
		}
		dst := backend
		if src == backend {
			dst = frontend
		}
		m, err := src.RecvContext(ctx)
		if err != nil {
			if errors.Is(err, api.ErrWouldBlock) {
				continue
			}
			return err
		}
		if capture != nil {
			if err := capture.Send(m.Dup()); err != nil {
				log.Debug("capture dropped message", zap.Error(err))
			}
		}
		if err := dst.SendContext(ctx, m); err != nil {
			if errors.Is(err, api.ErrTerminated) {
				return err
			}
			log.Warn("proxy dropped message", zap.Stringer("to", dst), zap.Error(err))
		}
	}
}
