package s2sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CNES/opensand-sub007/internal/carrier"
	"github.com/CNES/opensand-sub007/internal/dvbframe"
	"github.com/CNES/opensand-sub007/internal/encap"
	"github.com/CNES/opensand-sub007/internal/macfifo"
	"github.com/CNES/opensand-sub007/internal/modcod"
	"github.com/CNES/opensand-sub007/internal/timeunit"
)

var zeroTime = time.Unix(0, 0)

type fakeLookup struct {
	current map[timeunit.TerminalID]timeunit.FmtID
	lowest  timeunit.TerminalID
	hasLow  bool
}

func (f *fakeLookup) CurrentModcod(tal timeunit.TerminalID) (timeunit.FmtID, bool) {
	id, ok := f.current[tal]
	return id, ok
}

func (f *fakeLookup) TerminalWithLowestModcod() (timeunit.TerminalID, bool) {
	return f.lowest, f.hasLow
}

func buildTable() *modcod.Table {
	t := modcod.NewTable()
	t.Add(modcod.Definition{ID: 4, ModulationName: "QPSK", CodingRate: "1/2", SpectralEfficiency: 1.0})
	t.Add(modcod.Definition{ID: 8, ModulationName: "8PSK", CodingRate: "3/4", SpectralEfficiency: 2.0})
	return t
}

func TestScheduleSingleCarrierACM(t *testing.T) {
	table := buildTable()
	group := carrier.NewGroup(1, []timeunit.FmtID{4, 8}, 1, 1000, carrier.ACM)
	group.SetCapacity(100000)
	cat := carrier.NewCategory("standard", group)
	cat.ResetCapacity(1)

	lookup := &fakeLookup{current: map[timeunit.TerminalID]timeunit.FmtID{5: 4}}
	sched := New(encap.NewRawHandler(), table, cat, lookup, 0, nil, nil)

	fifo := packetFifoPkt(Packet{DstTalID: 5, Data: []byte("hello world")})
	frames, err := sched.Schedule(1, []*macfifo.Fifo[Packet]{fifo})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, dvbframe.BBFrameType, frames[0].MessageType())
}

func packetFifoPkt(packets ...Packet) *macfifo.Fifo[Packet] {
	fifo := macfifo.New[Packet](0, 0, "acm", acmAccessType, 100, nil)
	for _, p := range packets {
		_ = fifo.Push(p, len(p.Data), zeroTime)
	}
	return fifo
}

func TestScheduleVCMAdmissionFiltersNonMatchingFifo(t *testing.T) {
	table := buildTable()
	group := carrier.NewGroup(2, nil, 1, 1000, carrier.VCM)
	group.AddVCM([]timeunit.FmtID{4}, 1)
	group.AddVCM([]timeunit.FmtID{8}, 1)
	group.SetCapacity(100000)
	cat := carrier.NewCategory("vcm-cat", group)
	cat.ResetCapacity(1)

	lookup := &fakeLookup{current: map[timeunit.TerminalID]timeunit.FmtID{5: 4}}
	sched := New(encap.NewRawHandler(), table, cat, lookup, 0, nil, nil)

	acmFifo := packetFifoPkt(Packet{DstTalID: 5, Data: []byte("should be skipped")})
	frames, err := sched.Schedule(1, []*macfifo.Fifo[Packet]{acmFifo})
	require.NoError(t, err)
	assert.Empty(t, frames, "ACM-tagged fifo must not be admitted onto a multi-VCM carrier")
	assert.Equal(t, 1, acmFifo.Len())
}

func TestScheduleBroadcastRoutesToLowestModcodTerminal(t *testing.T) {
	table := buildTable()
	group := carrier.NewGroup(1, []timeunit.FmtID{4, 8}, 1, 1000, carrier.ACM)
	group.SetCapacity(100000)
	cat := carrier.NewCategory("standard", group)
	cat.ResetCapacity(1)

	lookup := &fakeLookup{
		current: map[timeunit.TerminalID]timeunit.FmtID{7: 4},
		lowest:  7,
		hasLow:  true,
	}
	sched := New(encap.NewRawHandler(), table, cat, lookup, 0, nil, nil)

	fifo := packetFifoPkt(Packet{DstTalID: timeunit.BroadcastTalID, Data: []byte("broadcast payload")})
	frames, err := sched.Schedule(1, []*macfifo.Fifo[Packet]{fifo})
	require.NoError(t, err)
	require.Len(t, frames, 1)
}

func TestScheduleDropsPacketForUnregisteredTerminal(t *testing.T) {
	table := buildTable()
	group := carrier.NewGroup(1, []timeunit.FmtID{4, 8}, 1, 1000, carrier.ACM)
	group.SetCapacity(100000)
	cat := carrier.NewCategory("standard", group)
	cat.ResetCapacity(1)

	lookup := &fakeLookup{current: map[timeunit.TerminalID]timeunit.FmtID{}}
	sched := New(encap.NewRawHandler(), table, cat, lookup, 0, nil, nil)

	fifo := packetFifoPkt(Packet{DstTalID: 9, Data: []byte("nobody home")})
	frames, err := sched.Schedule(1, []*macfifo.Fifo[Packet]{fifo})
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Equal(t, 0, fifo.Len(), "dropped packet must still be consumed from the fifo")
}

func TestSchedulePendingCarriesOverWhenBBFrameDoesNotFit(t *testing.T) {
	table := modcod.NewTable()
	// spectral efficiency chosen so BBFrameSymbols() = 4026*8/8 = 4026 sym,
	// deliberately larger than the tiny capacity granted below.
	table.Add(modcod.Definition{ID: 4, ModulationName: "QPSK", CodingRate: "1/2", SpectralEfficiency: 8})

	group := carrier.NewGroup(1, []timeunit.FmtID{4}, 1, 1000, carrier.ACM)
	group.SetCapacity(10) // far smaller than one BBFrame's symbol cost
	cat := carrier.NewCategory("standard", group)
	cat.ResetCapacity(1)

	lookup := &fakeLookup{current: map[timeunit.TerminalID]timeunit.FmtID{5: 4}}
	sched := New(encap.NewRawHandler(), table, cat, lookup, 0, nil, nil)

	fifo := packetFifoPkt(Packet{DstTalID: 5, Data: []byte("x")})
	frames, err := sched.Schedule(1, []*macfifo.Fifo[Packet]{fifo})
	require.NoError(t, err)
	assert.Empty(t, frames, "a BBFrame bigger than capacity must be deferred, not emitted")
	assert.Len(t, sched.pending, 1)

	// next superframe: same tiny capacity still won't fit, frame stays pending.
	cat.ResetCapacity(2)
	frames2, err := sched.Schedule(2, []*macfifo.Fifo[Packet]{packetFifoPkt()})
	require.NoError(t, err)
	assert.Empty(t, frames2)
	assert.Len(t, sched.pending, 1)
}
