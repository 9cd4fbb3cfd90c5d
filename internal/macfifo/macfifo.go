// Package macfifo implements the per-QoS MAC FIFOs that sit between the
// upper-layer encapsulation stack and the schedulers: bounded queues of
// opaque packets with drop/overflow accounting and a cursor that can
// erase or replace an element mid-scan without invalidating the scan.
// Grounded on FifoElement.cpp/.h and DvbFifoTypes.h's fifos_t map, with
// the C++ raw-iterator invalidation problem avoided by an index-based
// cursor rather than a language iterator.
package macfifo

import (
	"fmt"
	"time"

	"github.com/CNES/opensand-sub007/internal/cerr"
	"github.com/CNES/opensand-sub007/internal/telemetry"
	"github.com/CNES/opensand-sub007/internal/timeunit"
)

// AccessType names the DAMA category a FIFO's traffic is billed under
// (e.g. "ACM", "VCM0"). The schedulers and the DAMA agent read it to
// decide carrier admission, Slotted-Aloha skipping and RBDC/VBDC billing.
type AccessType string

// Element holds one opaque upper-layer packet plus the timestamps
// needed for delay statistics.
type Element[T any] struct {
	Packet T
	Length int // bytes, for per-FIFO byte accounting
	TickIn time.Time
}

// Stats is a snapshot of a FIFO's cumulative counters.
type Stats struct {
	CurrentSizePkt int
	MaxSizePkt     int
	InPackets      uint64
	InBytes        uint64
	OutPackets     uint64
	OutBytes       uint64
	DropPackets    uint64
	DropBytes      uint64
	NewBytes       uint64 // accumulated since the last DAMA SAC build
}

// Fifo is a bounded FIFO of Elements for one QoS class.
type Fifo[T any] struct {
	QoS        timeunit.QoS
	Priority   int
	Name       string
	AccessType AccessType

	maxSizePkt int
	queue      []Element[T]

	metrics *telemetry.Metrics

	inPackets, inBytes   uint64
	outPackets, outBytes uint64
	dropPackets, dropBytes uint64
	newBytes             uint64
}

// New builds an empty FIFO. metrics may be nil, in which case drop
// counters are tracked locally only (used in tests).
func New[T any](qos timeunit.QoS, priority int, name string, access AccessType, maxSizePkt int, metrics *telemetry.Metrics) *Fifo[T] {
	return &Fifo[T]{
		QoS:        qos,
		Priority:   priority,
		Name:       name,
		AccessType: access,
		maxSizePkt: maxSizePkt,
		metrics:    metrics,
	}
}

// Len returns the current occupancy in packets.
func (f *Fifo[T]) Len() int { return len(f.queue) }

// MaxSizePkt returns the configured bound.
func (f *Fifo[T]) MaxSizePkt() int { return f.maxSizePkt }

// SetMaxSizePkt changes the bound; it is never refused, a shrink below
// current occupancy simply means future pushes are refused until the
// backlog drains (the source lets max_size_pkt be reconfigured freely).
func (f *Fifo[T]) SetMaxSizePkt(n int) { f.maxSizePkt = n }

// Push enqueues a packet of the given byte length, failing with a
// cerr FifoFull when the FIFO is at max_size_pkt. A successful push adds
// length to the "new bytes" counter consumed by the next SAC build; a
// refused push is counted as a drop instead.
func (f *Fifo[T]) Push(pkt T, length int, now time.Time) error {
	if len(f.queue) >= f.maxSizePkt {
		f.dropPackets++
		f.dropBytes += uint64(length)
		if f.metrics != nil {
			f.metrics.QueueLossPackets.WithLabelValues(f.Name).Inc()
			f.metrics.QueueLossRate.WithLabelValues(f.Name).Add(float64(length))
		}
		return cerr.New(cerr.FifoFull, fmt.Sprintf("fifo %q at max_size_pkt=%d", f.Name, f.maxSizePkt))
	}
	f.queue = append(f.queue, Element[T]{Packet: pkt, Length: length, TickIn: now})
	f.inPackets++
	f.inBytes += uint64(length)
	f.newBytes += uint64(length)
	return nil
}

// Pop removes and returns the head element, the destructive drain used
// by the schedulers.
func (f *Fifo[T]) Pop() (Element[T], bool) {
	if len(f.queue) == 0 {
		var zero Element[T]
		return zero, false
	}
	e := f.queue[0]
	f.queue = f.queue[1:]
	f.outPackets++
	f.outBytes += uint64(e.Length)
	return e, true
}

// PushFront reinserts an element at the head of the FIFO without
// touching the in/out counters, used by a scheduler that consumed only
// part of a packet and must put the remainder back for the next pass.
func (f *Fifo[T]) PushFront(e Element[T]) {
	f.queue = append([]Element[T]{e}, f.queue...)
}

// Peek returns the head element without removing it.
func (f *Fifo[T]) Peek() (*Element[T], bool) {
	if len(f.queue) == 0 {
		return nil, false
	}
	return &f.queue[0], true
}

// ResetNewBytes reads and clears the "new bytes" counter; the DAMA
// agent calls this once per SAC build so each report reflects only
// traffic enqueued since the previous one.
func (f *Fifo[T]) ResetNewBytes() uint64 {
	n := f.newBytes
	f.newBytes = 0
	return n
}

// NewBytes peeks the "new bytes" counter without clearing it.
func (f *Fifo[T]) NewBytes() uint64 { return f.newBytes }

// CurrentLengthBytes sums the byte length of every packet currently
// queued, the outstanding-backlog figure a DAMA agent reports in a
// capacity request.
func (f *Fifo[T]) CurrentLengthBytes() int {
	total := 0
	for _, e := range f.queue {
		total += e.Length
	}
	return total
}

// Stats returns a snapshot of cumulative counters.
func (f *Fifo[T]) Stats() Stats {
	return Stats{
		CurrentSizePkt: len(f.queue),
		MaxSizePkt:     f.maxSizePkt,
		InPackets:      f.inPackets,
		InBytes:        f.inBytes,
		OutPackets:     f.outPackets,
		OutBytes:       f.outBytes,
		DropPackets:    f.dropPackets,
		DropBytes:      f.dropBytes,
		NewBytes:       f.newBytes,
	}
}

// Cursor is an index-based, non-destructive scan position into a Fifo
// that supports safe in-place erase and replace: both mutate the
// backing slice without disturbing the cursor's next Next() call.
type Cursor[T any] struct {
	fifo *Fifo[T]
	pos  int
}

// Cursor starts a new scan at the head of the FIFO.
func (f *Fifo[T]) Cursor() *Cursor[T] { return &Cursor[T]{fifo: f, pos: -1} }

// Next advances the cursor and returns a pointer to the element now
// under it, or ok=false once the scan is exhausted. The returned
// pointer aliases the FIFO's backing slice and is invalidated by the
// next Erase, Replace, Push, or Pop call.
func (c *Cursor[T]) Next() (*Element[T], bool) {
	c.pos++
	if c.pos >= len(c.fifo.queue) {
		return nil, false
	}
	return &c.fifo.queue[c.pos], true
}

// Erase removes the element under the cursor (the one last returned by
// Next) and rewinds the cursor so the following Next() sees the element
// that slid into its place.
func (c *Cursor[T]) Erase() {
	if c.pos < 0 || c.pos >= len(c.fifo.queue) {
		return
	}
	c.fifo.queue = append(c.fifo.queue[:c.pos], c.fifo.queue[c.pos+1:]...)
	c.pos--
}

// Replace overwrites the element under the cursor in place, used when
// the scheduler consumes only part of a packet and must requeue the
// remainder at the same position.
func (c *Cursor[T]) Replace(e Element[T]) {
	if c.pos < 0 || c.pos >= len(c.fifo.queue) {
		return
	}
	c.fifo.queue[c.pos] = e
}
