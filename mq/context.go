// File: mq/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Context owns everything sockets share: the slot arena that tracks live
// sockets, the executor running dials and handshakes, the inproc endpoint
// namespace and the interrupt channel that ends blocking calls.

package mq

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/internal/concurrency"
	"github.com/momentics/hioload-mq/pool"
)

// Handle addresses a socket slot. A stale handle (slot reused) never
// resolves to the newer socket.
type Handle struct {
	Index int
	Gen   uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.Index, h.Gen)
}

type slot struct {
	sock *Socket
	gen  uint32
}

// pendingConnect is an inproc connect waiting for its bind.
type pendingConnect struct {
	connector *Socket
	conn      *connection
	local     *pipe
	remote    *pipe
}

// Context tracks sockets and the resources they share. Create one with
// NewContext and Close it after its sockets.
type Context struct {
	cfg      Config
	log      *zap.Logger
	metrics  *control.Metrics
	probes   *control.DebugProbes
	executor *concurrency.Executor
	ids      api.IDGenerator

	mu    sync.Mutex
	slots []slot
	free  []int
	live  int

	inprocMu sync.Mutex
	binds    map[string]*Socket
	pending  map[string][]*pendingConnect

	term     chan struct{}
	termOnce sync.Once
	closed   atomic.Bool
}

// NewContext builds a Context from DefaultConfig and opts.
func NewContext(opts ...ContextOption) (*Context, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return NewContextFromConfig(cfg)
}

// NewContextFromConfig builds a Context from an explicit configuration,
// typically one loaded from a file.
func NewContextFromConfig(cfg *Config) (*Context, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.IOThreads <= 0 || cfg.MaxSockets <= 0 {
		return nil, fmt.Errorf("mq: io threads %d, max sockets %d: %w", cfg.IOThreads, cfg.MaxSockets, api.ErrInvalidArgument)
	}
	if cfg.Lifecycle != nil {
		if err := cfg.Lifecycle.Acquire(); err != nil {
			return nil, fmt.Errorf("mq: acquire context resources: %w", err)
		}
	}
	c := &Context{
		cfg:     *cfg,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		ids:     cfg.IDs,
		probes:  control.NewDebugProbes(),
		binds:   make(map[string]*Socket),
		pending: make(map[string][]*pendingConnect),
		term:    make(chan struct{}),
	}
	if c.log == nil {
		c.log = Logger()
	}
	c.log = c.log.With(zap.String("component", "mq"))
	if c.metrics == nil {
		c.metrics = control.NewMetrics(control.MetricsConfig{})
	}
	if c.ids == nil {
		c.ids = api.UUIDGenerator{}
	}
	c.executor = concurrency.NewExecutor(cfg.IOThreads, cfg.ExecutorQueue)
	c.executor.OnPanic(func(r any) {
		c.log.Error("background task panicked", zap.Any("panic", r))
	})
	c.registerProbes()
	return c, nil
}

func (c *Context) registerProbes() {
	control.RegisterPlatformProbes(c.probes)
	c.probes.RegisterProbe("sockets.open", func() any { return c.NumSockets() })
	c.probes.RegisterProbe("inproc.endpoints", func() any {
		c.inprocMu.Lock()
		defer c.inprocMu.Unlock()
		names := make([]string, 0, len(c.binds))
		for name := range c.binds {
			names = append(names, name)
		}
		sort.Strings(names)
		return names
	})
	c.probes.RegisterProbe("executor.workers", func() any { return c.executor.NumWorkers() })
	c.probes.RegisterProbe("executor.pending", func() any { return c.executor.Pending() })
	c.probes.RegisterProbe("pool.read_buffers", func() any { return pool.DefaultBytePool().Allocated() })
}

// Config returns a copy of the active configuration.
func (c *Context) Config() Config { return c.cfg }

// Metrics returns the Context's collectors.
func (c *Context) Metrics() *control.Metrics { return c.metrics }

// Probes returns the debug probe registry, for adding custom probes.
func (c *Context) Probes() *control.DebugProbes { return c.probes }

// Log returns the Context's logger.
func (c *Context) Log() *zap.Logger { return c.log }

// Interrupt makes every blocking call on this Context's sockets and pollers
// return ErrTerminated, now and in the future.
func (c *Context) Interrupt() {
	c.termOnce.Do(func() {
		close(c.term)
		c.log.Debug("context interrupted")
	})
	for _, s := range c.sockets() {
		s.wake()
	}
}

// Interrupted reports whether Interrupt (or Close) was called.
func (c *Context) Interrupted() bool {
	select {
	case <-c.term:
		return true
	default:
		return false
	}
}

// Done is closed when the Context is interrupted.
func (c *Context) Done() <-chan struct{} { return c.term }

// NumSockets returns the number of live sockets.
func (c *Context) NumSockets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// Lookup resolves a handle to its socket.
func (c *Context) Lookup(h Handle) (*Socket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.Index < 0 || h.Index >= len(c.slots) {
		return nil, false
	}
	sl := c.slots[h.Index]
	if sl.sock == nil || sl.gen != h.Gen {
		return nil, false
	}
	return sl.sock, true
}

// DumpState returns every probe result plus a summary of each socket.
func (c *Context) DumpState() map[string]any {
	out := c.probes.DumpState()
	socks := c.sockets()
	summaries := make([]map[string]any, 0, len(socks))
	for _, s := range socks {
		summaries = append(summaries, s.summary())
	}
	out["sockets"] = summaries
	return out
}

// SetIOThreads resizes the background worker pool. Tasks queued on
// retired workers move to the survivors.
func (c *Context) SetIOThreads(n int) error {
	if err := c.executor.Resize(n); err != nil {
		if errors.Is(err, concurrency.ErrExecutorClosed) {
			return fmt.Errorf("mq: resize workers: %w", api.ErrTerminated)
		}
		return fmt.Errorf("mq: %d io threads: %w", n, api.ErrInvalidArgument)
	}
	c.log.Info("io threads resized", zap.Int("workers", n))
	return nil
}

// IOThreads returns the current number of background workers.
func (c *Context) IOThreads() int { return c.executor.NumWorkers() }

// Close closes every socket still open, honouring each socket's linger,
// then interrupts the Context and stops its workers. It is idempotent.
func (c *Context) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, s := range c.sockets() {
		if err := s.Close(); err != nil {
			c.log.Warn("socket close during teardown failed", zap.Stringer("handle", s.handle), zap.Error(err))
		}
	}
	c.Interrupt()
	c.executor.Close()
	c.log.Debug("context terminated")
	if c.cfg.Lifecycle != nil {
		return c.cfg.Lifecycle.Release()
	}
	return nil
}

// register places s in a free slot.
func (c *Context) register(s *Socket) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return Handle{}, fmt.Errorf("mq: context closed: %w", api.ErrTerminated)
	}
	if c.live >= c.cfg.MaxSockets {
		return Handle{}, fmt.Errorf("mq: %d sockets open: %w", c.live, api.ErrResourceExhausted)
	}
	var idx int
	if n := len(c.free); n > 0 {
		idx = c.free[n-1]
		c.free = c.free[:n-1]
	} else {
		idx = len(c.slots)
		c.slots = append(c.slots, slot{})
	}
	c.slots[idx].sock = s
	c.slots[idx].gen++
	c.live++
	return Handle{Index: idx, Gen: c.slots[idx].gen}, nil
}

// release frees the slot of a closed socket.
func (c *Context) release(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.Index < 0 || h.Index >= len(c.slots) || c.slots[h.Index].gen != h.Gen || c.slots[h.Index].sock == nil {
		return
	}
	c.slots[h.Index].sock = nil
	c.free = append(c.free, h.Index)
	c.live--
}

func (c *Context) sockets() []*Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Socket, 0, c.live)
	for _, sl := range c.slots {
		if sl.sock != nil {
			out = append(out, sl.sock)
		}
	}
	return out
}

// submit runs task on the executor.
func (c *Context) submit(task func()) error {
	if err := c.executor.Submit(task); err != nil {
		return fmt.Errorf("mq: schedule background task: %w", err)
	}
	return nil
}

// bindInproc registers s under name and hands back the connects that were
// waiting for it.
func (c *Context) bindInproc(s *Socket, name string) ([]*pendingConnect, error) {
	c.inprocMu.Lock()
	defer c.inprocMu.Unlock()
	if owner, ok := c.binds[name]; ok && owner != s {
		return nil, fmt.Errorf("mq: inproc://%s already bound: %w", name, api.ErrInvalidArgument)
	}
	c.binds[name] = s
	waiting := c.pending[name]
	delete(c.pending, name)
	return waiting, nil
}

// unbindInproc removes the registration if s owns it.
func (c *Context) unbindInproc(s *Socket, name string) bool {
	c.inprocMu.Lock()
	defer c.inprocMu.Unlock()
	if c.binds[name] != s {
		return false
	}
	delete(c.binds, name)
	return true
}

// connectInproc links connector to the socket bound at name, or parks the
// connect until a bind appears. It returns the connector's pipe end.
func (c *Context) connectInproc(connector *Socket, conn *connection) (*pipe, error) {
	name := conn.endpoint.Name
	c.inprocMu.Lock()
	defer c.inprocMu.Unlock()
	binder := c.binds[name]
	if binder != nil && !connector.typ.Compatible(binder.typ) {
		return nil, fmt.Errorf("mq: %s cannot connect to %s at inproc://%s: %w", connector.typ, binder.typ, name, api.ErrInvalidArgument)
	}
	snd, rcv := connector.hwm()
	// Until the bind appears the peer is assumed to use the same marks.
	peerSnd, peerRcv := snd, rcv
	if binder != nil {
		peerSnd, peerRcv = binder.hwm()
	}
	local, remote := newPipePair(hwmSum(snd, peerRcv), hwmSum(peerSnd, rcv), "inproc", conn.key)
	local.connector = true
	remote.peerType = connector.typ
	remote.identity = connector.identity()
	if binder != nil {
		local.peerType = binder.typ
		local.identity = binder.identity()
		binder.deliver(remote, nil)
		return local, nil
	}
	c.pending[name] = append(c.pending[name], &pendingConnect{
		connector: connector,
		conn:      conn,
		local:     local,
		remote:    remote,
	})
	return local, nil
}

// cancelPending drops the connects s parked on name.
func (c *Context) cancelPending(s *Socket, name string) {
	c.inprocMu.Lock()
	defer c.inprocMu.Unlock()
	list := c.pending[name]
	kept := list[:0]
	for _, pc := range list {
		if pc.connector == s {
			pc.remote.terminate()
			continue
		}
		kept = append(kept, pc)
	}
	if len(kept) == 0 {
		delete(c.pending, name)
	} else {
		c.pending[name] = kept
	}
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
