// Package delayfifo implements a time-keyed bounded queue used to
// emulate propagation/processing delay: an element pushed now becomes
// ready to leave the queue only once its hold duration has elapsed.
// Grounded on common/DelayFifo.cpp/.h, whose std::map<time_point_t,...>
// ordering is reproduced here with a container/heap min-heap, since Go
// has no ordered-map equivalent in the standard library.
package delayfifo

import (
	"container/heap"
	"sort"
	"sync"
	"time"
)

type entry[T any] struct {
	payload T
	exitAt  time.Time
}

type entryHeap[T any] []entry[T]

func (h entryHeap[T]) Len() int            { return len(h) }
func (h entryHeap[T]) Less(i, j int) bool  { return h[i].exitAt.Before(h[j].exitAt) }
func (h entryHeap[T]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap[T]) Push(x interface{}) { *h = append(*h, x.(entry[T])) }
func (h *entryHeap[T]) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Fifo is a bounded, time-ordered queue of elements of type T. It is
// safe for concurrent use.
type Fifo[T any] struct {
	mu      sync.Mutex
	maxSize int
	heap    entryHeap[T]
}

// New builds a Fifo with the given maximum element count.
func New[T any](maxSizePkt int) *Fifo[T] {
	return &Fifo[T]{maxSize: maxSizePkt}
}

// CurrentSize returns the number of elements currently queued.
func (f *Fifo[T]) CurrentSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.heap)
}

// SetMaxSize changes the bound, refusing to shrink below the current
// occupancy.
func (f *Fifo[T]) SetMaxSize(maxSizePkt int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.heap) > maxSizePkt {
		return false
	}
	f.maxSize = maxSizePkt
	return true
}

// MaxSize returns the configured bound.
func (f *Fifo[T]) MaxSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSize
}

// Push enqueues payload, due to leave the fifo after duration has
// elapsed from now. Returns false if the fifo is at capacity.
func (f *Fifo[T]) Push(payload T, duration time.Duration, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.heap) >= f.maxSize {
		return false
	}
	heap.Push(&f.heap, entry[T]{payload: payload, exitAt: now.Add(duration)})
	return true
}

// PopReady removes and returns the earliest-due element if its exit
// time has passed, matching the destructive forward iterator that
// stops once the head element's tick-out time is still in the future.
func (f *Fifo[T]) PopReady(now time.Time) (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var zero T
	if len(f.heap) == 0 || f.heap[0].exitAt.After(now) {
		return zero, false
	}
	e := heap.Pop(&f.heap).(entry[T])
	return e.payload, true
}

// DrainReady removes and returns every element whose exit time has
// passed, in exit-time order, the batch form of the destructive
// iterator (`for elem := range fifo { ... }` in the source).
func (f *Fifo[T]) DrainReady(now time.Time) []T {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []T
	for len(f.heap) > 0 && !f.heap[0].exitAt.After(now) {
		out = append(out, heap.Pop(&f.heap).(entry[T]).payload)
	}
	return out
}

// Flush empties the fifo and resets it, discarding every element
// regardless of exit time.
func (f *Fifo[T]) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heap = nil
}

// Snapshot returns every queued element in exit-time order without
// removing them, the non-destructive iterator_wrapper equivalent used
// for stats and for peeking at upcoming departures.
func (f *Fifo[T]) Snapshot() []T {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(entryHeap[T], len(f.heap))
	copy(cp, f.heap)
	sort.Slice(cp, func(i, j int) bool { return cp[i].exitAt.Before(cp[j].exitAt) })

	out := make([]T, len(cp))
	for i, e := range cp {
		out[i] = e.payload
	}
	return out
}
