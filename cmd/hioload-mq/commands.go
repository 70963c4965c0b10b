// File: cmd/hioload-mq/commands.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/mq"
	"github.com/momentics/hioload-mq/msg"
)

// ioFlags are shared by the sending and receiving commands.
type ioFlags struct {
	separator string
	dump      bool
	count     int
	sndhwm    int
	rcvhwm    int
}

func (f *ioFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.separator, "separator", "", "split input lines into frames on this string")
	cmd.Flags().BoolVar(&f.dump, "dump", false, "print received messages frame by frame")
	cmd.Flags().IntVarP(&f.count, "count", "n", 0, "stop after this many messages (0 = unlimited)")
	cmd.Flags().IntVar(&f.sndhwm, "sndhwm", -1, "send high-water mark (-1 = configured default)")
	cmd.Flags().IntVar(&f.rcvhwm, "rcvhwm", -1, "receive high-water mark (-1 = configured default)")
}

// lineMessage turns one input line into a message.
func (f *ioFlags) lineMessage(line string) *msg.Message {
	if f.separator == "" {
		return msg.NewFromStrings(line)
	}
	return msg.NewFromStrings(strings.Split(line, f.separator)...)
}

func (f *ioFlags) print(w io.Writer, m *msg.Message) {
	if f.dump {
		fmt.Fprint(w, m.String())
		return
	}
	sep := f.separator
	if sep == "" {
		sep = "\t"
	}
	parts := make([]string, 0, m.FrameCount())
	for _, fr := range m.Frames() {
		parts = append(parts, string(fr.Data()))
	}
	fmt.Fprintln(w, strings.Join(parts, sep))
}

// sendLines sends each line of r as one message.
func (f *ioFlags) sendLines(ctx context.Context, s *mq.Socket, r io.Reader, prefix ...string) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	sent := 0
	for sc.Scan() {
		m := f.lineMessage(sc.Text())
		for i := len(prefix) - 1; i >= 0; i-- {
			m.PushString(prefix[i])
		}
		if err := s.SendContext(ctx, m); err != nil {
			return err
		}
		sent++
		if f.count > 0 && sent >= f.count {
			break
		}
	}
	return sc.Err()
}

// recvLoop prints messages until the count is reached or ctx ends.
func (f *ioFlags) recvLoop(ctx context.Context, s *mq.Socket, w io.Writer) error {
	for got := 0; f.count == 0 || got < f.count; got++ {
		m, err := s.RecvContext(ctx)
		if err != nil {
			return err
		}
		f.print(w, m)
	}
	return nil
}

func pushCmd(a *app) *cobra.Command {
	var f ioFlags
	cmd := &cobra.Command{
		Use:   "push ENDPOINTS [FRAME...]",
		Short: "Send messages down a pipeline",
		Long: `Send one message made of FRAME arguments, or one message per line of
standard input when no frames are given. Connects by default.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context) error {
				s, err := a.mctx.NewPush(args[0], a.socketOptions(f.sndhwm, f.rcvhwm)...)
				if err != nil {
					return err
				}
				defer s.Close()
				if len(args) > 1 {
					return s.SendContext(ctx, msg.NewFromStrings(args[1:]...))
				}
				return f.sendLines(ctx, s, cmd.InOrStdin())
			})
		},
	}
	f.register(cmd)
	return cmd
}

func pullCmd(a *app) *cobra.Command {
	var f ioFlags
	cmd := &cobra.Command{
		Use:   "pull ENDPOINTS",
		Short: "Receive messages from a pipeline",
		Long:  `Print every message received. Binds by default.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context) error {
				s, err := a.mctx.NewPull(args[0], a.socketOptions(f.sndhwm, f.rcvhwm)...)
				if err != nil {
					return err
				}
				defer s.Close()
				a.log.Info("pulling", zap.String("endpoint", s.LastEndpoint()))
				return f.recvLoop(ctx, s, cmd.OutOrStdout())
			})
		},
	}
	f.register(cmd)
	return cmd
}

func pubCmd(a *app) *cobra.Command {
	var (
		f        ioFlags
		delay    time.Duration
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "pub ENDPOINTS TOPIC [FRAME...]",
		Short: "Publish messages under a topic",
		Long: `Publish TOPIC followed by FRAME arguments, or by each line of standard
input when no frames are given. With --interval the argument message is
repeated until interrupted or --count is reached. Binds by default.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context) error {
				s, err := a.mctx.NewPub(args[0], a.socketOptions(f.sndhwm, f.rcvhwm)...)
				if err != nil {
					return err
				}
				defer s.Close()
				// Subscribers need a moment to connect before anything is published.
				if err := sleepContext(ctx, delay); err != nil {
					return err
				}
				if len(args) == 2 {
					return f.sendLines(ctx, s, cmd.InOrStdin(), args[1])
				}
				for sent := 0; ; {
					if err := s.SendContext(ctx, msg.NewFromStrings(args[1:]...)); err != nil {
						return err
					}
					sent++
					if interval <= 0 || (f.count > 0 && sent >= f.count) {
						return nil
					}
					if err := sleepContext(ctx, interval); err != nil {
						return err
					}
				}
			})
		},
	}
	f.register(cmd)
	cmd.Flags().DurationVar(&delay, "delay", 200*time.Millisecond, "wait before the first message")
	cmd.Flags().DurationVar(&interval, "interval", 0, "repeat the message at this interval")
	return cmd
}

func subCmd(a *app) *cobra.Command {
	var f ioFlags
	cmd := &cobra.Command{
		Use:   "sub ENDPOINTS [TOPIC...]",
		Short: "Print messages matching topic prefixes",
		Long:  `Subscribe to every TOPIC, or to everything when none is given. Connects by default.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context) error {
				first := ""
				if len(args) > 1 {
					first = args[1]
				}
				s, err := a.mctx.NewSub(args[0], first, a.socketOptions(f.sndhwm, f.rcvhwm)...)
				if err != nil {
					return err
				}
				defer s.Close()
				for _, topic := range args[min(2, len(args)):] {
					if err := s.Subscribe(topic); err != nil {
						return err
					}
				}
				return f.recvLoop(ctx, s, cmd.OutOrStdout())
			})
		},
	}
	f.register(cmd)
	return cmd
}

func reqCmd(a *app) *cobra.Command {
	var (
		f       ioFlags
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "req ENDPOINTS [FRAME...]",
		Short: "Send requests and print the replies",
		Long: `Send FRAME arguments as one request, or each line of standard input as
a request, printing every reply. Connects by default.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context) error {
				opts := append(a.socketOptions(f.sndhwm, f.rcvhwm), mq.WithRecvTimeout(timeout))
				s, err := a.mctx.NewReq(args[0], opts...)
				if err != nil {
					return err
				}
				defer s.Close()
				roundTrip := func(m *msg.Message) error {
					if err := s.SendContext(ctx, m); err != nil {
						return err
					}
					reply, err := s.RecvContext(ctx)
					if err != nil {
						return fmt.Errorf("waiting for reply: %w", err)
					}
					f.print(cmd.OutOrStdout(), reply)
					return nil
				}
				if len(args) > 1 {
					return roundTrip(msg.NewFromStrings(args[1:]...))
				}
				sc := bufio.NewScanner(cmd.InOrStdin())
				for n := 0; sc.Scan(); n++ {
					if f.count > 0 && n >= f.count {
						break
					}
					if err := roundTrip(f.lineMessage(sc.Text())); err != nil {
						return err
					}
				}
				return sc.Err()
			})
		},
	}
	f.register(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "reply timeout (negative waits forever)")
	return cmd
}

func repCmd(a *app) *cobra.Command {
	var (
		f      ioFlags
		prefix string
	)
	cmd := &cobra.Command{
		Use:   "rep ENDPOINTS",
		Short: "Answer requests by echoing them",
		Long: `Print each request and send it back as the reply, with --prefix
prepended as an extra frame when set. Binds by default.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context) error {
				s, err := a.mctx.NewRep(args[0], a.socketOptions(f.sndhwm, f.rcvhwm)...)
				if err != nil {
					return err
				}
				defer s.Close()
				for served := 0; f.count == 0 || served < f.count; served++ {
					m, err := s.RecvContext(ctx)
					if err != nil {
						return err
					}
					f.print(cmd.OutOrStdout(), m)
					if prefix != "" {
						m.PushString(prefix)
					}
					if err := s.SendContext(ctx, m); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&prefix, "prefix", "", "frame prepended to each reply")
	return cmd
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
