// File: mq/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package mq

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
)

// Config holds Context-wide settings. Socket defaults are copied into every
// socket at creation and may be overridden per socket.
type Config struct {
	IOThreads        int           `mapstructure:"io_threads"`        // executor workers for dials and handshakes
	ExecutorQueue    int           `mapstructure:"executor_queue"`    // task slots per worker
	MaxSockets       int           `mapstructure:"max_sockets"`       // live sockets allowed at once
	Linger           time.Duration `mapstructure:"linger"`            // default socket linger, negative waits forever
	SndHWM           int           `mapstructure:"sndhwm"`            // default send high-water mark, 0 = unlimited
	RcvHWM           int           `mapstructure:"rcvhwm"`            // default receive high-water mark, 0 = unlimited
	ReconnectIvl     time.Duration `mapstructure:"reconnect_ivl"`     // delay between connect attempts
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"` // bound on the greeting exchange
	MaxMessageSize   int           `mapstructure:"max_message_size"`  // largest unit accepted from a network peer

	Logger    *zap.Logger          `mapstructure:"-"`
	Metrics   *control.Metrics     `mapstructure:"-"`
	IDs       api.IDGenerator      `mapstructure:"-"`
	Lifecycle api.ContextLifecycle `mapstructure:"-"`
}

// DefaultConfig returns sensible defaults. Linger is zero: pending messages
// are discarded when a socket closes unless the socket asks otherwise.
func DefaultConfig() *Config {
	return &Config{
		IOThreads:        1,
		ExecutorQueue:    256,
		MaxSockets:       1024,
		Linger:           0,
		SndHWM:           1000,
		RcvHWM:           1000,
		ReconnectIvl:     100 * time.Millisecond,
		HandshakeTimeout: 5 * time.Second,
		MaxMessageSize:   64 << 20,
	}
}

// ContextOption customizes Context initialization.
type ContextOption func(*Config)

// WithIOThreads sets the number of background workers.
func WithIOThreads(n int) ContextOption {
	return func(c *Config) { c.IOThreads = n }
}

// WithMaxSockets caps the number of live sockets.
func WithMaxSockets(n int) ContextOption {
	return func(c *Config) { c.MaxSockets = n }
}

// WithLinger sets the default linger of new sockets.
func WithLinger(d time.Duration) ContextOption {
	return func(c *Config) { c.Linger = d }
}

// WithDefaultHWM sets the default send and receive high-water marks.
func WithDefaultHWM(snd, rcv int) ContextOption {
	return func(c *Config) { c.SndHWM, c.RcvHWM = snd, rcv }
}

// WithContextLogger gives the Context its own logger.
func WithContextLogger(l *zap.Logger) ContextOption {
	return func(c *Config) { c.Logger = l }
}

// WithMetrics shares a metrics set, e.g. one served by an HTTP endpoint.
func WithMetrics(m *control.Metrics) ContextOption {
	return func(c *Config) { c.Metrics = m }
}

// WithIDGenerator replaces the identity generator.
func WithIDGenerator(g api.IDGenerator) ContextOption {
	return func(c *Config) { c.IDs = g }
}

// WithLifecycle brackets the Context with Acquire/Release of a shared resource.
func WithLifecycle(l api.ContextLifecycle) ContextOption {
	return func(c *Config) { c.Lifecycle = l }
}
