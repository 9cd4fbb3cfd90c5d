package macfifo

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CNES/opensand-sub007/internal/cerr"
	"github.com/CNES/opensand-sub007/internal/telemetry"
)

func TestPushRefusesWhenFull(t *testing.T) {
	f := New[int](0, 0, "test", "ACM", 2, nil)
	now := time.Unix(0, 0)

	require.NoError(t, f.Push(1, 100, now))
	require.NoError(t, f.Push(2, 100, now))

	err := f.Push(3, 100, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, cerr.ErrFifoFull)
	assert.Equal(t, 2, f.Len())
}

func TestPushIncrementsMetricsOnDrop(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)
	f := New[int](0, 0, "gw0", "ACM", 1, m)
	now := time.Unix(0, 0)

	require.NoError(t, f.Push(1, 50, now))
	require.Error(t, f.Push(2, 80, now))

	assert.Equal(t, uint64(1), f.Stats().DropPackets)
	assert.Equal(t, uint64(80), f.Stats().DropBytes)
}

func TestPopInFIFOOrder(t *testing.T) {
	f := New[int](0, 0, "test", "ACM", 10, nil)
	now := time.Unix(0, 0)
	f.Push(1, 10, now)
	f.Push(2, 10, now)

	e, ok := f.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, e.Packet)

	e, ok = f.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, e.Packet)

	_, ok = f.Pop()
	assert.False(t, ok)
}

func TestResetNewBytesClearsAccumulator(t *testing.T) {
	f := New[int](0, 0, "test", "ACM", 10, nil)
	now := time.Unix(0, 0)
	f.Push(1, 40, now)
	f.Push(2, 60, now)

	assert.Equal(t, uint64(100), f.ResetNewBytes())
	assert.Equal(t, uint64(0), f.ResetNewBytes())
}

func TestCursorEraseKeepsRemainingElements(t *testing.T) {
	f := New[int](0, 0, "test", "ACM", 10, nil)
	now := time.Unix(0, 0)
	f.Push(1, 10, now)
	f.Push(2, 10, now)
	f.Push(3, 10, now)

	c := f.Cursor()
	var seen []int
	for {
		e, ok := c.Next()
		if !ok {
			break
		}
		seen = append(seen, e.Packet)
		if e.Packet == 2 {
			c.Erase()
		}
	}

	assert.Equal(t, []int{1, 2, 3}, seen)
	require.Equal(t, 2, f.Len())

	remaining := []int{}
	for {
		e, ok := f.Pop()
		if !ok {
			break
		}
		remaining = append(remaining, e.Packet)
	}
	assert.Equal(t, []int{1, 3}, remaining)
}

func TestCursorReplaceOverwritesInPlace(t *testing.T) {
	f := New[int](0, 0, "test", "ACM", 10, nil)
	now := time.Unix(0, 0)
	f.Push(10, 100, now)

	c := f.Cursor()
	e, ok := c.Next()
	require.True(t, ok)
	require.Equal(t, 10, e.Packet)
	c.Replace(Element[int]{Packet: 99, Length: 5, TickIn: now})

	got, ok := f.Peek()
	require.True(t, ok)
	assert.Equal(t, 99, got.Packet)
	assert.Equal(t, 5, got.Length)
}
