package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckAllowsUnderLimit(t *testing.T) {
	l := NewLimiter(Config{PerMinute: 5})
	for i := 0; i < 5; i++ {
		res := l.Check("user-1", "blog", "ping")
		assert.True(t, res.Allowed)
	}
}

func TestCheckBlocksOverLimit(t *testing.T) {
	l := NewLimiter(Config{PerMinute: 2})
	l.Check("user-1", "blog", "ping")
	l.Check("user-1", "blog", "ping")
	res := l.Check("user-1", "blog", "ping")
	assert.False(t, res.Allowed)
	assert.Equal(t, "minute", res.LimitType)
}

func TestCheckIsPerCallerAndAction(t *testing.T) {
	l := NewLimiter(Config{PerMinute: 1})
	res1 := l.Check("user-1", "blog", "ping")
	res2 := l.Check("user-2", "blog", "ping")
	res3 := l.Check("user-1", "blog", "list")
	assert.True(t, res1.Allowed)
	assert.True(t, res2.Allowed)
	assert.True(t, res3.Allowed)
}

func TestCapabilityOverrideTakesPrecedence(t *testing.T) {
	l := NewLimiter(Config{PerMinute: 1000})
	l.SetCapabilityLimits("blog", Config{PerMinute: 1})

	res1 := l.Check("user-1", "blog", "ping")
	res2 := l.Check("user-1", "blog", "ping")
	assert.True(t, res1.Allowed)
	assert.False(t, res2.Allowed)
}

func TestZeroLimitDisablesWindow(t *testing.T) {
	l := NewLimiter(Config{PerMinute: 0, PerHour: 0})
	for i := 0; i < 100; i++ {
		res := l.Check("user-1", "blog", "ping")
		assert.True(t, res.Allowed)
	}
}
