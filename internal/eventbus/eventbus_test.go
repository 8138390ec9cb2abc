package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (r *recordingLogger) Warn(msg string, kv ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warns = append(r.warns, msg)
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New(nil)
	var mu sync.Mutex
	var got []string

	b.Subscribe("lifecycle.transition", func(ctx context.Context, evt Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, "a")
		return nil
	})
	b.Subscribe("lifecycle.transition", func(ctx context.Context, evt Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, "b")
		return nil
	})

	b.Publish(context.Background(), Event{Topic: "lifecycle.transition"})

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b"}, got)
}

func TestSubscriberErrorDoesNotStopOthers(t *testing.T) {
	logger := &recordingLogger{}
	b := New(logger)
	var ran int32
	var mu sync.Mutex

	b.Subscribe("health.transition", func(ctx context.Context, evt Event) error {
		return errors.New("boom")
	})
	b.Subscribe("health.transition", func(ctx context.Context, evt Event) error {
		mu.Lock()
		ran++
		mu.Unlock()
		return nil
	})

	b.Publish(context.Background(), Event{Topic: "health.transition"})

	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 1, ran)
	logger.mu.Lock()
	defer logger.mu.Unlock()
	assert.Len(t, logger.warns, 1)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New(nil)
	var calls int
	unsub := b.Subscribe("capability.registered", func(ctx context.Context, evt Event) error {
		calls++
		return nil
	})

	unsub()
	unsub()

	b.Publish(context.Background(), Event{Topic: "capability.registered"})
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, b.SubscriberCount("capability.registered"))
}

func TestOnceFiresExactlyOnce(t *testing.T) {
	b := New(nil)
	var calls int32
	var mu sync.Mutex

	b.Once("runtime.ready", func(ctx context.Context, evt Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	b.Publish(context.Background(), Event{Topic: "runtime.ready"})
	b.Publish(context.Background(), Event{Topic: "runtime.ready"})

	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 1, calls)
}

func TestPublishAsyncDoesNotBlockCaller(t *testing.T) {
	b := New(nil)
	release := make(chan struct{})
	b.Subscribe("slow", func(ctx context.Context, evt Event) error {
		<-release
		return nil
	})

	start := time.Now()
	b.PublishAsync(context.Background(), Event{Topic: "slow"})
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	close(release)
}
