// Package runtime owns the process-level state machine: it starts one
// Server per capability, fans server/session shutdown out
// concurrently with bounded deadlines, and signals onReady hooks and
// awaitTermination callers. Grounded on coreengine/kernel/kernel.go's
// Shutdown (ShutdownError aggregation over a process list, generalized
// here to a server list) and coreengine/grpc/server.go's
// StartBackground/GracefulServer pattern for forking a listener and
// reporting errors asynchronously.
package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/halimchaibi/cheshire-core/internal/cherr"
	"github.com/halimchaibi/cheshire-core/internal/eventbus"
	"github.com/halimchaibi/cheshire-core/internal/logging"
)

// State is the runtime's process-level lifecycle state.
type State string

const (
	StateNew      State = "NEW"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
	StateStopped  State = "STOPPED"
	StateFailed   State = "FAILED"
)

var validTransitions = map[State]map[State]bool{
	StateNew:      {StateStarting: true, StateFailed: true},
	StateStarting: {StateRunning: true, StateFailed: true},
	StateRunning:  {StateStopping: true, StateFailed: true},
	StateStopping: {StateStopped: true, StateFailed: true},
	StateStopped:  {},
	StateFailed:   {},
}

// Server is the external collaborator bound to one capability's
// transport. Start/Stop must be idempotent and safe to call once each.
type Server interface {
	Capability() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Session is stopped alongside every server when the runtime shuts
// down.
type Session interface {
	Stop() error
}

const defaultStopDeadline = 30 * time.Second

// Runtime owns the set of running Servers and the Session backing
// them.
type Runtime struct {
	mu           sync.Mutex
	state        State
	servers      map[string]Server
	session      Session
	bus          *eventbus.Bus
	logger       logging.Logger
	stopDeadline time.Duration
	readyHooks   []func()
	readyFired   bool
	terminated   chan struct{}
}

// New creates a Runtime in state NEW, backed by session and publishing
// lifecycle transitions onto bus.
func New(session Session, bus *eventbus.Bus, logger logging.Logger) *Runtime {
	return &Runtime{
		state:        StateNew,
		servers:      make(map[string]Server),
		session:      session,
		bus:          bus,
		logger:       logger,
		stopDeadline: defaultStopDeadline,
		terminated:   make(chan struct{}),
	}
}

// Expose registers server under its capability name so Start/StartCapability
// can fork it.
func (r *Runtime) Expose(server Server) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[server.Capability()] = server
}

// WithStopDeadline overrides the default 30 second bound on Stop's
// server/session fan-out.
func (r *Runtime) WithStopDeadline(d time.Duration) *Runtime {
	r.stopDeadline = d
	return r
}

// State returns the runtime's current state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runtime) transition(to State) error {
	if _, ok := validTransitions[r.state]; !ok || !validTransitions[r.state][to] {
		return cherr.New(cherr.KindLifecycle, "invalid runtime transition from %s to %s", r.state, to)
	}
	r.state = to
	return nil
}

// Start forks every exposed server's Start concurrently, waits for all
// to succeed (fail-fast), and on success transitions to RUNNING,
// publishes a lifecycle event, and fires ready hooks.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if err := r.transition(StateStarting); err != nil {
		r.mu.Unlock()
		return err
	}
	servers := make([]Server, 0, len(r.servers))
	for _, s := range r.servers {
		servers = append(servers, s)
	}
	r.mu.Unlock()

	if err := r.forkStart(ctx, servers); err != nil {
		r.mu.Lock()
		_ = r.transition(StateFailed)
		r.mu.Unlock()
		close(r.terminated)
		return err
	}

	r.mu.Lock()
	err := r.transition(StateRunning)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if r.bus != nil {
		r.bus.PublishAsync(ctx, eventbus.Event{Topic: "runtime.running", Data: nil})
	}
	r.fireReady()
	return nil
}

// StartCapability starts only the server registered for capability.
func (r *Runtime) StartCapability(ctx context.Context, capability string) error {
	r.mu.Lock()
	server, ok := r.servers[capability]
	r.mu.Unlock()
	if !ok {
		return cherr.New(cherr.KindBadRequest, "no server exposed for capability %q", capability)
	}
	return r.forkStart(ctx, []Server{server})
}

func (r *Runtime) forkStart(ctx context.Context, servers []Server) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(servers))
	for _, s := range servers {
		wg.Add(1)
		go func(srv Server) {
			defer wg.Done()
			if err := srv.Start(ctx); err != nil {
				errCh <- cherr.Wrap(cherr.KindLifecycle, "capability="+srv.Capability(), err)
			}
		}(s)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		return err
	}
	return nil
}

// OnReady registers hook to fire exactly once on the RUNNING
// transition, or immediately if the runtime is already RUNNING.
func (r *Runtime) OnReady(hook func()) {
	r.mu.Lock()
	if r.readyFired {
		r.mu.Unlock()
		hook()
		return
	}
	r.readyHooks = append(r.readyHooks, hook)
	r.mu.Unlock()
}

func (r *Runtime) fireReady() {
	r.mu.Lock()
	if r.readyFired {
		r.mu.Unlock()
		return
	}
	r.readyFired = true
	hooks := r.readyHooks
	r.mu.Unlock()
	for _, hook := range hooks {
		hook()
	}
}

// Stop transitions to STOPPING, forks every server's Stop and the
// session's Stop concurrently with a bounded deadline, then finalizes
// to STOPPED. This reference session executes every request
// synchronously, so there is no separate in-process task runner queue
// to drain once the fan-out above returns. Individual failures
// accumulate but never abort the sequence.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if err := r.transition(StateStopping); err != nil {
		r.mu.Unlock()
		return err
	}
	servers := make([]Server, 0, len(r.servers))
	for _, s := range r.servers {
		servers = append(servers, s)
	}
	session := r.session
	r.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, r.stopDeadline)
	defer cancel()

	var merr cherr.MultiError
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, s := range servers {
		wg.Add(1)
		go func(srv Server) {
			defer wg.Done()
			if err := srv.Stop(stopCtx); err != nil {
				mu.Lock()
				merr.Add(cherr.Wrap(cherr.KindLifecycle, "capability="+srv.Capability(), err))
				mu.Unlock()
			}
		}(s)
	}
	if session != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := session.Stop(); err != nil {
				mu.Lock()
				merr.Add(cherr.Wrap(cherr.KindLifecycle, "session", err))
				mu.Unlock()
			}
		}()
	}
	r.waitBounded(&wg, r.stopDeadline)

	r.mu.Lock()
	err := r.transition(StateStopped)
	r.mu.Unlock()
	if err != nil {
		merr.Add(err)
	}

	close(r.terminated)
	if r.bus != nil {
		r.bus.PublishAsync(ctx, eventbus.Event{Topic: "runtime.stopped", Data: nil})
	}
	return merr.ErrOrNil()
}

func (r *Runtime) waitBounded(wg *sync.WaitGroup, deadline time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(deadline):
		r.logger.Warn("runtime stop deadline exceeded, continuing shutdown", "deadline", deadline)
	}
}

// AwaitTermination blocks until the runtime reaches STOPPED or FAILED,
// or ctx is cancelled first.
func (r *Runtime) AwaitTermination(ctx context.Context) error {
	select {
	case <-r.terminated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
