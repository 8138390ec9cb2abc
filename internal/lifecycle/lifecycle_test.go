package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halimchaibi/cheshire-core/internal/logging"
)

type recordingComponent struct {
	name    string
	mu      sync.Mutex
	started time.Time
	done    time.Time
	initErr error
	stopErr error
	delay   time.Duration
}

func (c *recordingComponent) Name() string { return c.name }

func (c *recordingComponent) Init(ctx context.Context) error {
	c.mu.Lock()
	c.started = time.Now()
	c.mu.Unlock()
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	c.done = time.Now()
	c.mu.Unlock()
	return c.initErr
}

func (c *recordingComponent) Shutdown() error {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.stopErr
}

func TestStartRunsPhasesInOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(name string) *recordingComponent {
		return &recordingComponent{name: name, delay: 0}
	}
	co := NewCoordinator(logging.Noop())

	a := record("sources")
	b := record("engines")
	co.Register(PhaseSourceProviders, 0, trackingComponent{a, &mu, &order})
	co.Register(PhaseQueryEngines, 0, trackingComponent{b, &mu, &order})

	require.NoError(t, co.Start(context.Background()))
	assert.Equal(t, StateRunning, co.State())
	assert.Equal(t, []string{"sources", "engines"}, order)
}

// trackingComponent wraps a recordingComponent to additionally append
// its name to a shared, mutex-guarded slice on Init, so tests can
// assert cross-phase ordering without racing on timestamps.
type trackingComponent struct {
	*recordingComponent
	mu    *sync.Mutex
	order *[]string
}

func (t trackingComponent) Init(ctx context.Context) error {
	err := t.recordingComponent.Init(ctx)
	t.mu.Lock()
	*t.order = append(*t.order, t.Name())
	t.mu.Unlock()
	return err
}

func TestStartFailsFastAndTransitionsToFailed(t *testing.T) {
	co := NewCoordinator(logging.Noop())
	co.Register(PhaseSourceProviders, 0, &recordingComponent{name: "bad", initErr: assertErr})

	err := co.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, co.State())
}

func TestSamePhaseComponentsRunConcurrently(t *testing.T) {
	co := NewCoordinator(logging.Noop())
	a := &recordingComponent{name: "a", delay: 50 * time.Millisecond}
	b := &recordingComponent{name: "b", delay: 50 * time.Millisecond}
	co.Register(PhaseCapabilities, 0, a)
	co.Register(PhaseCapabilities, 0, b)

	start := time.Now()
	require.NoError(t, co.Start(context.Background()))
	elapsed := time.Since(start)
	assert.Less(t, elapsed, 90*time.Millisecond)
}

func TestStopRunsInReverseRegistrationOrderAndAccumulates(t *testing.T) {
	co := NewCoordinator(logging.Noop())
	var order []string
	var mu sync.Mutex

	makeComp := func(name string, stopErr error) Component {
		c := &recordingComponent{name: name, stopErr: stopErr}
		return shutdownTracker{c, &mu, &order}
	}

	co.Register(PhaseSourceProviders, 0, makeComp("first", nil))
	co.Register(PhaseQueryEngines, 0, makeComp("second", assertErr))

	require.NoError(t, co.Start(context.Background()))
	err := co.Stop(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateStopped, co.State())
	assert.Equal(t, []string{"second", "first"}, order)
}

type shutdownTracker struct {
	*recordingComponent
	mu    *sync.Mutex
	order *[]string
}

func (s shutdownTracker) Shutdown() error {
	s.mu.Lock()
	*s.order = append(*s.order, s.Name())
	s.mu.Unlock()
	return s.recordingComponent.Shutdown()
}

func TestStopTimesOutSlowComponentButStillCompletes(t *testing.T) {
	co := NewCoordinator(logging.Noop()).WithGracePeriod(20 * time.Millisecond)
	co.Register(PhaseSourceProviders, 0, &recordingComponent{name: "slow", delay: 200 * time.Millisecond})

	require.NoError(t, co.Start(context.Background()))
	start := time.Now()
	err := co.Stop(context.Background())
	elapsed := time.Since(start)
	require.Error(t, err)
	assert.Equal(t, StateStopped, co.State())
	assert.Less(t, elapsed, 100*time.Millisecond)
}

func TestIsValidTransitionTable(t *testing.T) {
	assert.True(t, IsValidTransition(StateNew, StateStarting))
	assert.True(t, IsValidTransition(StateRunning, StateFailed))
	assert.False(t, IsValidTransition(StateStopped, StateRunning))
	assert.False(t, IsValidTransition(StateNew, StateRunning))
}

var assertErr = &stubError{"boom"}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }
