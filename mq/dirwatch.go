// File: mq/dirwatch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// DirWatcher is an actor that reports filesystem changes as two-frame
// messages [op][path] on its socket.

package mq

import (
	"errors"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
)

// DirWatchError is the op frame of a watcher error report.
const DirWatchError = "ERROR"

const dirWatchTick = 50 * time.Millisecond

// DirWatcher watches directories and files.
type DirWatcher struct {
	actor    *Actor
	endpoint string
}

var _ api.WatchEventSource = (*DirWatcher)(nil)

// NewDirWatcher starts watching paths. Events are read from Socket().
func NewDirWatcher(c *Context, paths ...string) (*DirWatcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("mq: dir watcher needs a path: %w", api.ErrInvalidArgument)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("mq: dir watcher: %w", err)
	}
	for _, p := range paths {
		if err := w.Add(p); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("mq: watch %s: %w", p, err)
		}
	}
	a, err := NewActor(c, runDirWatch, w)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	bound, _ := a.Socket().Endpoints()
	dw := &DirWatcher{actor: a}
	if len(bound) > 0 {
		dw.endpoint = bound[0]
	}
	return dw, nil
}

func runDirWatch(pipe *Socket, args any) {
	w := args.(*fsnotify.Watcher)
	defer w.Close()
	log := pipe.ctx.log.Named("dirwatch")
	pipe.SetRecvTimeout(0)
	if err := pipe.Signal(0); err != nil {
		return
	}
	tick := time.NewTicker(dirWatchTick)
	defer tick.Stop()
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if err := pipe.SendString(ev.Op.String(), ev.Name); err != nil {
				log.Debug("dropping watch event", zap.String("path", ev.Name), zap.Error(err))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			_ = pipe.SendString(DirWatchError, err.Error())
		case <-tick.C:
			cmd, err := pipe.RecvString()
			switch {
			case err == nil && cmd == ActorTerm:
				return
			case err != nil && !errors.Is(err, api.ErrWouldBlock):
				return
			}
		}
	}
}

// Socket returns the socket events arrive on.
func (d *DirWatcher) Socket() *Socket { return d.actor.Socket() }

// Endpoint names the inproc pipe the events travel over.
func (d *DirWatcher) Endpoint() string { return d.endpoint }

// Close stops watching.
func (d *DirWatcher) Close() error { return d.actor.Close() }
