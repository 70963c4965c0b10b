// File: cmd/hioload-mq/proxy.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/mq"
)

// proxyModes maps a mode name to its frontend and backend socket types.
var proxyModes = map[string][2]api.SocketType{
	"queue":     {api.ROUTER, api.DEALER},
	"forwarder": {api.XSUB, api.XPUB},
	"streamer":  {api.PULL, api.PUSH},
}

func proxyCmd(a *app) *cobra.Command {
	var (
		mode    string
		capture string
	)
	cmd := &cobra.Command{
		Use:   "proxy FRONTEND BACKEND",
		Short: "Run a message proxy between two endpoint lists",
		Long: `Shuttle messages between FRONTEND and BACKEND until interrupted.

Modes:
  queue      ROUTER frontend, DEALER backend (request/reply broker)
  forwarder  XSUB frontend, XPUB backend (pub/sub relay)
  streamer   PULL frontend, PUSH backend (pipeline relay)

Both sides bind unless an endpoint is prefixed with '>'.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context) error {
				types, ok := proxyModes[mode]
				if !ok {
					return fmt.Errorf("unknown proxy mode %q", mode)
				}
				front, err := attached(a.mctx, types[0], args[0])
				if err != nil {
					return err
				}
				defer front.Close()
				back, err := attached(a.mctx, types[1], args[1])
				if err != nil {
					return err
				}
				defer back.Close()
				var tap *mq.Socket
				if capture != "" {
					if tap, err = a.mctx.NewPush(capture); err != nil {
						return err
					}
					defer tap.Close()
				}
				a.log.Info("proxy running",
					zap.String("mode", mode),
					zap.String("frontend", front.LastEndpoint()),
					zap.String("backend", back.LastEndpoint()))
				return mq.Proxy(ctx, front, back, tap)
			})
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "queue", "queue, forwarder or streamer")
	cmd.Flags().StringVar(&capture, "capture", "", "PUSH a copy of every message to these endpoints")
	return cmd
}

func attached(c *mq.Context, t api.SocketType, endpoints string) (*mq.Socket, error) {
	s, err := c.NewSocket(t)
	if err != nil {
		return nil, err
	}
	if err := s.Attach(endpoints, true); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
