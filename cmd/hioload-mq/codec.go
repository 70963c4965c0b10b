// File: cmd/hioload-mq/codec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-mq/msg"
)

func encodeCmd() *cobra.Command {
	var asHex bool
	cmd := &cobra.Command{
		Use:   "encode FRAME...",
		Short: "Write the flat encoding of a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := msg.NewFromStrings(args...).Encode()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asHex {
				_, err = fmt.Fprintln(out, hex.EncodeToString(buf))
				return err
			}
			_, err = out.Write(buf)
			return err
		},
	}
	cmd.Flags().BoolVar(&asHex, "hex", false, "print the encoding as hex")
	return cmd
}

func decodeCmd() *cobra.Command {
	var asHex bool
	cmd := &cobra.Command{
		Use:   "decode [HEX]",
		Short: "Dump a flat-encoded message",
		Long: `Decode HEX, or standard input when no argument is given (read as hex
with --hex, raw bytes otherwise), and print the frames.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				buf []byte
				err error
			)
			switch {
			case len(args) == 1:
				buf, err = hex.DecodeString(strings.TrimSpace(args[0]))
			case asHex:
				var raw []byte
				if raw, err = io.ReadAll(cmd.InOrStdin()); err == nil {
					buf, err = hex.DecodeString(strings.TrimSpace(string(raw)))
				}
			default:
				buf, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}
			m, err := msg.Decode(buf)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), m.String())
			return err
		},
	}
	cmd.Flags().BoolVar(&asHex, "hex", false, "read standard input as hex")
	return cmd
}
