package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSet(t *testing.T) {
	c := New[string](time.Minute)
	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Set("k", "v")
	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestExpiry(t *testing.T) {
	c := New[int](5 * time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Set("k", 42)
	_, ok := c.Get("k")
	assert.True(t, ok)

	c.now = func() time.Time { return base.Add(5*time.Minute + time.Second) }
	_, ok = c.Get("k")
	assert.False(t, ok)

	// The expired entry is evicted, not just hidden.
	assert.Equal(t, 0, c.Stats().Size)
}

func TestSetResetsTTL(t *testing.T) {
	c := New[int](time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("k", 1)

	c.now = func() time.Time { return base.Add(50 * time.Second) }
	c.Set("k", 2)

	c.now = func() time.Time { return base.Add(100 * time.Second) }
	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestDeleteAndClear(t *testing.T) {
	c := New[string](time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestGetOrSet(t *testing.T) {
	c := New[string](time.Minute)
	calls := 0
	fetch := func() (string, error) {
		calls++
		return "fetched", nil
	}

	v, err := c.GetOrSet("k", fetch)
	require.NoError(t, err)
	assert.Equal(t, "fetched", v)

	v, err = c.GetOrSet("k", fetch)
	require.NoError(t, err)
	assert.Equal(t, "fetched", v)
	assert.Equal(t, 1, calls)
}

func TestGetOrSet_FetchErrorNotCached(t *testing.T) {
	c := New[string](time.Minute)
	boom := errors.New("boom")
	_, err := c.GetOrSet("k", func() (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestStats(t *testing.T) {
	c := New[int](time.Minute)
	c.Set("k", 1)
	c.Get("k")
	c.Get("missing")

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, 1, s.Size)
}
