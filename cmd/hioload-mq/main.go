// File: cmd/hioload-mq/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// hioload-mq is a command line peer for the messaging engine: it can play
// any end of push/pull, pub/sub and req/rep, run a proxy, and convert
// messages to and from the flat encoding.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-mq/api"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hioload-mq: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "hioload-mq",
		Short: "Brokerless messaging from the command line",
		Long: `hioload-mq talks to hioload-mq sockets over inproc, tcp and ws.

Endpoints use the attach syntax: a comma separated list where '@' binds
and '>' connects, e.g. "@tcp://*:5555" or ">tcp://host:5555,>tcp://other:5555".
Without a prefix each command uses its natural default.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.teardown()
		},
	}
	f := root.PersistentFlags()
	f.StringVarP(&a.cfgPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&a.metricsAddr, "metrics-addr", "", "serve /metrics and /debug/state on this address")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "development logging at debug level")

	root.AddCommand(
		pushCmd(a),
		pullCmd(a),
		pubCmd(a),
		subCmd(a),
		reqCmd(a),
		repCmd(a),
		proxyCmd(a),
		encodeCmd(),
		decodeCmd(),
		versionCmd(),
	)
	return root
}

// signalContext ends on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// quiet maps the errors an interrupted command ends with to success.
func quiet(err error) error {
	if errors.Is(err, api.ErrTerminated) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
