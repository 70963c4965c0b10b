// File: internal/config/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loader for the YAML settings file. Values come, in rising priority, from
// built-in defaults, the file and HIOLOAD_MQ_* environment variables
// (nested keys joined by underscores, e.g. HIOLOAD_MQ_MQ_SNDHWM).

package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/momentics/hioload-mq/mq"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HIOLOAD_MQ"

// Settings is everything the CLI reads from configuration.
type Settings struct {
	MQ          mq.Config `mapstructure:"mq"`
	LogLevel    string    `mapstructure:"log_level"`
	MetricsAddr string    `mapstructure:"metrics_addr"`
}

// Loader wraps one viper instance bound to an optional file.
type Loader struct {
	v    *viper.Viper
	path string
	mu   sync.Mutex
}

// New prepares a loader. An empty path means defaults and environment only.
func New(path string) *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := mq.DefaultConfig()
	v.SetDefault("mq.io_threads", d.IOThreads)
	v.SetDefault("mq.executor_queue", d.ExecutorQueue)
	v.SetDefault("mq.max_sockets", d.MaxSockets)
	v.SetDefault("mq.linger", d.Linger)
	v.SetDefault("mq.sndhwm", d.SndHWM)
	v.SetDefault("mq.rcvhwm", d.RcvHWM)
	v.SetDefault("mq.reconnect_ivl", d.ReconnectIvl)
	v.SetDefault("mq.handshake_timeout", d.HandshakeTimeout)
	v.SetDefault("mq.max_message_size", d.MaxMessageSize)
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", "")

	if path != "" {
		v.SetConfigFile(path)
	}
	return &Loader{v: v, path: path}
}

// Load reads the file, when one was given, and decodes the result.
func (l *Loader) Load() (*Settings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", l.path, err)
		}
	}
	return l.decodeLocked()
}

func (l *Loader) decodeLocked() (*Settings, error) {
	var s Settings
	if err := l.v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &s, nil
}

// Watch calls fn with freshly decoded settings whenever the file changes.
// It does nothing without a file.
func (l *Loader) Watch(fn func(*Settings, error)) {
	if l.path == "" || fn == nil {
		return
	}
	l.v.OnConfigChange(func(fsnotify.Event) {
		l.mu.Lock()
		s, err := l.decodeLocked()
		l.mu.Unlock()
		fn(s, err)
	})
	l.v.WatchConfig()
}

// Load is shorthand for New(path).Load().
func Load(path string) (*Settings, error) {
	return New(path).Load()
}
