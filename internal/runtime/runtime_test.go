package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halimchaibi/cheshire-core/internal/logging"
)

type fakeServer struct {
	capability string
	startErr   error
	stopErr    error
	started    bool
	stopped    bool
	delay      time.Duration
}

func (f *fakeServer) Capability() string { return f.capability }
func (f *fakeServer) Start(ctx context.Context) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.started = true
	return f.startErr
}
func (f *fakeServer) Stop(ctx context.Context) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.stopped = true
	return f.stopErr
}

type fakeSession struct {
	stopped bool
	stopErr error
}

func (f *fakeSession) Stop() error {
	f.stopped = true
	return f.stopErr
}

func TestStartFansOutAndTransitionsRunning(t *testing.T) {
	rt := New(&fakeSession{}, nil, logging.Noop())
	a := &fakeServer{capability: "blog"}
	b := &fakeServer{capability: "catalog"}
	rt.Expose(a)
	rt.Expose(b)

	require.NoError(t, rt.Start(context.Background()))
	assert.Equal(t, StateRunning, rt.State())
	assert.True(t, a.started)
	assert.True(t, b.started)
}

func TestStartFailsFastAndTransitionsFailed(t *testing.T) {
	rt := New(&fakeSession{}, nil, logging.Noop())
	rt.Expose(&fakeServer{capability: "blog", startErr: assertErr})

	err := rt.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, rt.State())
}

func TestStartCapabilityStartsOnlyOneServer(t *testing.T) {
	rt := New(&fakeSession{}, nil, logging.Noop())
	a := &fakeServer{capability: "blog"}
	b := &fakeServer{capability: "catalog"}
	rt.Expose(a)
	rt.Expose(b)

	require.NoError(t, rt.StartCapability(context.Background(), "blog"))
	assert.True(t, a.started)
	assert.False(t, b.started)
}

func TestOnReadyFiresOnceOnRunningTransition(t *testing.T) {
	rt := New(&fakeSession{}, nil, logging.Noop())
	rt.Expose(&fakeServer{capability: "blog"})

	var mu sync.Mutex
	count := 0
	rt.OnReady(func() {
		mu.Lock()
		count++
		mu.Unlock()
	})

	require.NoError(t, rt.Start(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestOnReadyFiresImmediatelyWhenAlreadyRunning(t *testing.T) {
	rt := New(&fakeSession{}, nil, logging.Noop())
	rt.Expose(&fakeServer{capability: "blog"})
	require.NoError(t, rt.Start(context.Background()))

	fired := false
	rt.OnReady(func() { fired = true })
	assert.True(t, fired)
}

func TestStopStopsServersAndSessionAndTransitionsStopped(t *testing.T) {
	a := &fakeServer{capability: "blog"}
	sess := &fakeSession{}
	rt := New(sess, nil, logging.Noop())
	rt.Expose(a)
	require.NoError(t, rt.Start(context.Background()))

	require.NoError(t, rt.Stop(context.Background()))
	assert.Equal(t, StateStopped, rt.State())
	assert.True(t, a.stopped)
	assert.True(t, sess.stopped)
}

func TestStopAccumulatesServerFailuresButStillStops(t *testing.T) {
	sess := &fakeSession{}
	rt := New(sess, nil, logging.Noop())
	rt.Expose(&fakeServer{capability: "blog", stopErr: assertErr})
	require.NoError(t, rt.Start(context.Background()))

	err := rt.Stop(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateStopped, rt.State())
}

func TestAwaitTerminationUnblocksOnStop(t *testing.T) {
	sess := &fakeSession{}
	rt := New(sess, nil, logging.Noop())
	rt.Expose(&fakeServer{capability: "blog"})
	require.NoError(t, rt.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- rt.AwaitTermination(context.Background()) }()

	require.NoError(t, rt.Stop(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("AwaitTermination did not unblock")
	}
}

func TestStopWithDeadlineStillReachesStoppedWhenServerHangsLong(t *testing.T) {
	sess := &fakeSession{}
	rt := New(sess, nil, logging.Noop()).WithStopDeadline(20 * time.Millisecond)
	rt.Expose(&fakeServer{capability: "blog", delay: 200 * time.Millisecond})
	require.NoError(t, rt.Start(context.Background()))

	start := time.Now()
	_ = rt.Stop(context.Background())
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, StateStopped, rt.State())
}

var assertErr = &stubErr{"boom"}

type stubErr struct{ msg string }

func (e *stubErr) Error() string { return e.msg }
