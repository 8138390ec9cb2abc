// Package lifecycle implements the phased startup/shutdown
// coordinator: components register against a numbered phase, every
// phase runs to completion before the next begins, and components
// within a phase fork and initialize in parallel. Grounded on
// coreengine/kernel/lifecycle.go's validTransitions state-transition
// table and container/heap priorityQueue, generalized from per-request
// process scheduling to one-time component bring-up/tear-down.
package lifecycle

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/halimchaibi/cheshire-core/internal/cherr"
	"github.com/halimchaibi/cheshire-core/internal/logging"
)

// Phase is a numbered startup phase; components registered at a lower
// phase number finish initializing before any component of a higher
// phase number begins.
type Phase int

const (
	PhasePreInit         Phase = 0
	PhaseBootstrap       Phase = 10
	PhaseSourceProviders Phase = 20
	PhaseQueryEngines    Phase = 30
	PhaseCapabilities    Phase = 40
	PhasePipelines       Phase = 50
	PhasePostInit        Phase = 100
)

// State is the coordinator's own lifecycle state.
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

// IsValidTransition reports whether from→to is an allowed transition.
func IsValidTransition(from, to State) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Component is a unit the coordinator brings up and tears down.
type Component interface {
	Name() string
	Init(ctx context.Context) error
	Shutdown() error
}

type registration struct {
	component Component
	phase     Phase
	priority  int
	seq       int // global registration order, for reverse-order shutdown
	index     int // heap index
}

// phaseQueue is a min-heap over registrations ordering by (priority,
// seq) within one phase — lower priority value runs first, ties
// broken by registration order, mirroring the teacher's priorityItem
// heap.
type phaseQueue []*registration

func (q phaseQueue) Len() int { return len(q) }
func (q phaseQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}
func (q phaseQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}
func (q *phaseQueue) Push(x any) {
	r := x.(*registration)
	r.index = len(*q)
	*q = append(*q, r)
}
func (q *phaseQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// Coordinator runs every registered Component through its phase at
// startup and, in reverse global registration order, at shutdown.
type Coordinator struct {
	mu          sync.Mutex
	state       State
	byPhase     map[Phase]*phaseQueue
	all         []*registration
	nextSeq     int
	gracePeriod time.Duration
	logger      logging.Logger
}

// NewCoordinator creates a Coordinator in state NEW with the default
// 5 second shutdown grace period.
func NewCoordinator(logger logging.Logger) *Coordinator {
	return &Coordinator{
		state:       StateNew,
		byPhase:     make(map[Phase]*phaseQueue),
		gracePeriod: 5 * time.Second,
		logger:      logger,
	}
}

// WithGracePeriod overrides the default 5 second shutdown grace period.
func (c *Coordinator) WithGracePeriod(d time.Duration) *Coordinator {
	c.gracePeriod = d
	return c
}

// State returns the coordinator's current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Register enrolls component into phase with the given priority
// (lower is launched earlier within the phase; all Inits of a phase
// still run concurrently). Registration order is preserved globally
// for shutdown.
func (c *Coordinator) Register(phase Phase, priority int, component Component) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := &registration{component: component, phase: phase, priority: priority, seq: c.nextSeq}
	c.nextSeq++
	q, ok := c.byPhase[phase]
	if !ok {
		q = &phaseQueue{}
		heap.Init(q)
		c.byPhase[phase] = q
	}
	heap.Push(q, r)
	c.all = append(c.all, r)
}

func (c *Coordinator) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !IsValidTransition(c.state, to) {
		return cherr.New(cherr.KindLifecycle, "invalid transition from %s to %s", c.state, to)
	}
	c.state = to
	return nil
}

func (c *Coordinator) sortedPhases() []Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	phases := make([]Phase, 0, len(c.byPhase))
	for p := range c.byPhase {
		phases = append(phases, p)
	}
	for i := 1; i < len(phases); i++ {
		for j := i; j > 0 && phases[j-1] > phases[j]; j-- {
			phases[j-1], phases[j] = phases[j], phases[j-1]
		}
	}
	return phases
}

func (c *Coordinator) componentsFor(phase Phase) []*registration {
	c.mu.Lock()
	q, ok := c.byPhase[phase]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	cp := make(phaseQueue, len(*q))
	copy(cp, *q)
	c.mu.Unlock()

	ordered := make([]*registration, 0, len(cp))
	for cp.Len() > 0 {
		ordered = append(ordered, heap.Pop(&cp).(*registration))
	}
	return ordered
}

// Start runs every registered phase in ascending order; within a
// phase every component's Init is forked in parallel, and the
// coordinator waits for all to finish before moving to the next
// phase. The first error observed in a phase cancels that phase's
// context, fails the whole start, and transitions the coordinator to
// FAILED.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.transition(StateStarting); err != nil {
		return err
	}

	for _, phase := range c.sortedPhases() {
		comps := c.componentsFor(phase)
		if len(comps) == 0 {
			continue
		}
		if err := c.runPhase(ctx, comps); err != nil {
			_ = c.transition(StateFailed)
			return err
		}
	}

	return c.transition(StateRunning)
}

func (c *Coordinator) runPhase(ctx context.Context, comps []*registration) error {
	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(comps))
	for _, reg := range comps {
		wg.Add(1)
		go func(r *registration) {
			defer wg.Done()
			if err := r.component.Init(phaseCtx); err != nil {
				errCh <- cherr.Wrap(cherr.KindLifecycle, "component="+r.component.Name(), err)
				cancel()
			}
		}(reg)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

// Stop tears down every registered component in reverse global
// registration order, independent of phase. Each component gets up to
// the configured grace period to finish Shutdown; a component that
// exceeds it is abandoned (logged, not awaited) so the sequence still
// completes. Individual failures are accumulated, not fatal — the
// coordinator always reaches STOPPED unless it was never RUNNING.
func (c *Coordinator) Stop(ctx context.Context) error {
	if err := c.transition(StateStopping); err != nil {
		return err
	}

	c.mu.Lock()
	all := append([]*registration(nil), c.all...)
	c.mu.Unlock()

	var merr cherr.MultiError
	for i := len(all) - 1; i >= 0; i-- {
		reg := all[i]
		done := make(chan error, 1)
		go func(r *registration) { done <- r.component.Shutdown() }(reg)

		select {
		case err := <-done:
			if err != nil {
				merr.Add(cherr.Wrap(cherr.KindLifecycle, "component="+reg.component.Name(), err))
				c.logger.Warn("component shutdown failed", "component", reg.component.Name(), "error", err)
			}
		case <-time.After(c.gracePeriod):
			merr.Add(cherr.New(cherr.KindLifecycle, "component %q shutdown exceeded grace period %s", reg.component.Name(), c.gracePeriod))
			c.logger.Warn("component shutdown timed out, forcing", "component", reg.component.Name(), "gracePeriod", c.gracePeriod)
		}
	}

	if err := c.transition(StateStopped); err != nil {
		merr.Add(err)
	}
	return merr.ErrOrNil()
}
