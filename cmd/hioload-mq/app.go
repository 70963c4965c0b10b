// File: cmd/hioload-mq/app.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/internal/config"
	"github.com/momentics/hioload-mq/mq"
)

// app carries what every subcommand shares.
type app struct {
	cfgPath     string
	metricsAddr string
	verbose     bool

	settings *config.Settings
	level    zap.AtomicLevel
	log      *zap.Logger
	store    *control.ConfigStore
	metrics  *control.Metrics
	mctx     *mq.Context
	srv      *http.Server
}

func (a *app) setup() error {
	loader := config.New(a.cfgPath)
	settings, err := loader.Load()
	if err != nil {
		return err
	}
	a.settings = settings
	if a.metricsAddr == "" {
		a.metricsAddr = settings.MetricsAddr
	}

	if err := a.buildLogger(settings.LogLevel); err != nil {
		return err
	}
	mq.SetLogger(a.log)

	a.metrics = control.NewMetrics(control.MetricsConfig{})
	cfg := settings.MQ
	cfg.Logger = a.log
	cfg.Metrics = a.metrics
	a.mctx, err = mq.NewContextFromConfig(&cfg)
	if err != nil {
		return err
	}

	a.store = control.NewConfigStore()
	mctx := a.mctx
	a.store.OnReload(func(snap map[string]any) {
		a.applyLogLevel(snap)
		applyIOThreads(mctx, snap, a.log)
	})
	loader.Watch(func(s *config.Settings, err error) {
		if err != nil {
			a.log.Warn("config reload failed", zap.Error(err))
			return
		}
		a.store.SetConfig(map[string]any{
			"log_level":    s.LogLevel,
			"metrics_addr": s.MetricsAddr,
			"io_threads":   s.MQ.IOThreads,
		})
	})
	if a.metricsAddr != "" {
		a.serveMetrics()
	}
	return nil
}

func (a *app) applyLogLevel(snap map[string]any) {
	lvl, _ := snap["log_level"].(string)
	if lvl == "" || a.verbose {
		return
	}
	if lvl == a.level.Level().String() {
		return
	}
	if err := a.level.UnmarshalText([]byte(lvl)); err != nil {
		a.log.Warn("ignoring log level", zap.String("level", lvl), zap.Error(err))
		return
	}
	a.log.Info("log level changed", zap.String("level", lvl))
}

// applyIOThreads resizes the worker pool when a reload changes io_threads.
func applyIOThreads(mctx *mq.Context, snap map[string]any, log *zap.Logger) {
	n, ok := snap["io_threads"].(int)
	if !ok || n == mctx.IOThreads() {
		return
	}
	if err := mctx.SetIOThreads(n); err != nil {
		log.Warn("ignoring io_threads", zap.Int("io_threads", n), zap.Error(err))
	}
}

func (a *app) buildLogger(level string) error {
	var zc zap.Config
	if a.verbose {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if level != "" {
			if err := zc.Level.UnmarshalText([]byte(level)); err != nil {
				return err
			}
		}
	}
	zc.OutputPaths = []string{"stderr"}
	l, err := zc.Build()
	if err != nil {
		return err
	}
	a.level = zc.Level
	a.log = l
	return nil
}

// router exposes Prometheus metrics and the Context's debug probes.
func (a *app) router() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", a.metrics.Handler())
	r.Get("/debug/state", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(a.mctx.DumpState()); err != nil {
			a.log.Debug("debug state write failed", zap.Error(err))
		}
	})
	return r
}

func (a *app) serveMetrics() {
	a.srv = &http.Server{
		Addr:              a.metricsAddr,
		Handler:           a.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.log.Info("metrics listening", zap.String("addr", a.metricsAddr))
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// teardown may run twice: once when run returns and again from the root's
// post-run hook.
func (a *app) teardown() {
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.srv.Shutdown(ctx)
		cancel()
		a.srv = nil
	}
	if a.mctx != nil {
		_ = a.mctx.Close()
		a.mctx = nil
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// run executes fn with a signal-aware context; the messaging Context is
// interrupted when the signal arrives so blocked calls return.
func (a *app) run(parent context.Context, fn func(ctx context.Context) error) error {
	defer a.teardown()
	ctx, stop := signalContext(parent)
	defer stop()
	mctx := a.mctx
	go func() {
		select {
		case <-ctx.Done():
			mctx.Interrupt()
		case <-mctx.Done():
		}
	}()
	return quiet(fn(ctx))
}

func (a *app) socketOptions(sndhwm, rcvhwm int) []mq.SocketOption {
	var opts []mq.SocketOption
	if sndhwm >= 0 {
		opts = append(opts, mq.WithSendHWM(sndhwm))
	}
	if rcvhwm >= 0 {
		opts = append(opts, mq.WithRecvHWM(rcvhwm))
	}
	return opts
}
