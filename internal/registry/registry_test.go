package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := New[int](nil)
	require.NoError(t, r.Register("a", 1))

	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := New[int](nil)
	require.NoError(t, r.Register("a", 1))
	err := r.Register("a", 2)
	require.Error(t, err)
}

func TestRegisterEmptyNameFails(t *testing.T) {
	r := New[int](nil)
	err := r.Register("", 1)
	require.Error(t, err)
}

func TestNamesPreservesInsertionOrder(t *testing.T) {
	r := New[int](nil)
	require.NoError(t, r.Register("c", 1))
	require.NoError(t, r.Register("a", 2))
	require.NoError(t, r.Register("b", 3))

	assert.Equal(t, []string{"c", "a", "b"}, r.Names())
}

func TestUnregisterRemovesFromOrder(t *testing.T) {
	r := New[int](nil)
	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Register("b", 2))

	assert.True(t, r.Unregister("a"))
	assert.False(t, r.Unregister("a"))
	assert.Equal(t, []string{"b"}, r.Names())
}

func TestShutdownRunsInReverseOrderAndAccumulatesErrors(t *testing.T) {
	var stopped []string
	r := New[string](func(name string) error {
		stopped = append(stopped, name)
		if name == "b" {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, r.Register("a", "a"))
	require.NoError(t, r.Register("b", "b"))
	require.NoError(t, r.Register("c", "c"))

	err := r.Shutdown()
	require.Error(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, stopped)
	assert.Equal(t, 0, r.Len())
}

func TestShutdownWithNilHookClears(t *testing.T) {
	r := New[int](nil)
	require.NoError(t, r.Register("a", 1))
	assert.NoError(t, r.Shutdown())
	assert.Equal(t, 0, r.Len())
}
