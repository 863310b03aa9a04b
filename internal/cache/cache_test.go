package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestCache_SetGet(t *testing.T) {
	clock := newFakeClock()
	c := New(clock.Now)

	c.Set("k", "v", 100*time.Millisecond)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
	assert.True(t, c.Has("k"))
}

func TestCache_LazyExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New(clock.Now)

	c.Set("k", "v", 100*time.Millisecond)
	clock.Advance(101 * time.Millisecond)

	// Still held until touched.
	assert.Equal(t, 1, c.Stats().ItemCount)

	got, ok := c.Get("k")
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.False(t, c.Has("k"))
	assert.Equal(t, 0, c.Stats().ItemCount)
}

func TestCache_HasExpiresEntry(t *testing.T) {
	clock := newFakeClock()
	c := New(clock.Now)

	c.Set("k", 1, time.Second)
	clock.Advance(time.Second)

	assert.False(t, c.Has("k"))
	assert.Equal(t, 0, c.Stats().ItemCount)
}

func TestCache_RealClockExpiry(t *testing.T) {
	c := New(nil)
	c.Set("k", "v", 100*time.Millisecond)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	time.Sleep(150 * time.Millisecond)

	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.False(t, c.Has("k"))
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := New(newFakeClock().Now)
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Set("c", 3, time.Minute)

	c.Delete("a")
	assert.False(t, c.Has("a"))
	assert.True(t, c.Has("b"))

	c.Clear()
	assert.False(t, c.Has("b"))
	assert.False(t, c.Has("c"))
	assert.Equal(t, 0, c.Stats().ItemCount)
}

func TestCache_NonPositiveTTL(t *testing.T) {
	c := New(newFakeClock().Now)
	c.Set("k", "v", time.Minute)
	c.Set("k", "v2", 0)

	assert.False(t, c.Has("k"))
}

func TestCache_Stats(t *testing.T) {
	clock := newFakeClock()
	c := New(clock.Now)

	c.Set("b", "hello", time.Minute)  // "hello" -> 7 bytes
	c.Set("a", []int{1, 2}, time.Hour) // [1,2] -> 5 bytes

	stats := c.Stats()
	assert.Equal(t, 2, stats.ItemCount)
	assert.Equal(t, 12, stats.TotalSize)
	require.Len(t, stats.Items, 2)
	assert.Equal(t, "a", stats.Items[0].Key)
	assert.Equal(t, 5, stats.Items[0].SizeBytes)
	assert.Equal(t, clock.Now().Add(time.Hour), stats.Items[0].ExpiresAt)
	assert.Equal(t, "b", stats.Items[1].Key)
}

func TestCache_Overwrite(t *testing.T) {
	clock := newFakeClock()
	c := New(clock.Now)

	c.Set("k", "old", 10*time.Millisecond)
	c.Set("k", "new", time.Minute)
	clock.Advance(20 * time.Millisecond)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", got)
}
