package delayfifo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushRespectsMaxSize(t *testing.T) {
	f := New[string](2)
	now := time.Unix(0, 0)

	assert.True(t, f.Push("a", 10*time.Millisecond, now))
	assert.True(t, f.Push("b", 10*time.Millisecond, now))
	assert.False(t, f.Push("c", 10*time.Millisecond, now))
	assert.Equal(t, 2, f.CurrentSize())
}

func TestSetMaxSizeRefusesToShrinkBelowOccupancy(t *testing.T) {
	f := New[string](5)
	now := time.Unix(0, 0)
	f.Push("a", time.Millisecond, now)
	f.Push("b", time.Millisecond, now)

	assert.False(t, f.SetMaxSize(1))
	assert.True(t, f.SetMaxSize(2))
}

func TestPopReadyRespectsExitTime(t *testing.T) {
	f := New[string](10)
	now := time.Unix(0, 0)
	f.Push("early", 5*time.Millisecond, now)
	f.Push("late", 50*time.Millisecond, now)

	_, ok := f.PopReady(now.Add(1 * time.Millisecond))
	assert.False(t, ok, "nothing should be ready yet")

	v, ok := f.PopReady(now.Add(10 * time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, "early", v)

	_, ok = f.PopReady(now.Add(10 * time.Millisecond))
	assert.False(t, ok, "late element not due yet")
}

func TestDrainReadyReturnsInExitOrder(t *testing.T) {
	f := New[int](10)
	now := time.Unix(0, 0)
	f.Push(3, 30*time.Millisecond, now)
	f.Push(1, 10*time.Millisecond, now)
	f.Push(2, 20*time.Millisecond, now)

	drained := f.DrainReady(now.Add(25 * time.Millisecond))
	assert.Equal(t, []int{1, 2}, drained)
	assert.Equal(t, 1, f.CurrentSize())
}

func TestFlushDiscardsEverything(t *testing.T) {
	f := New[int](10)
	now := time.Unix(0, 0)
	f.Push(1, time.Millisecond, now)
	f.Push(2, time.Millisecond, now)

	f.Flush()

	assert.Equal(t, 0, f.CurrentSize())
	assert.Empty(t, f.DrainReady(now.Add(time.Hour)))
}

func TestSnapshotIsNonDestructiveAndOrdered(t *testing.T) {
	f := New[int](10)
	now := time.Unix(0, 0)
	f.Push(2, 20*time.Millisecond, now)
	f.Push(1, 10*time.Millisecond, now)

	snap := f.Snapshot()
	assert.Equal(t, []int{1, 2}, snap)
	assert.Equal(t, 2, f.CurrentSize(), "snapshot must not remove elements")
}
