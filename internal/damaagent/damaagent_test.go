package damaagent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CNES/opensand-sub007/internal/dvbframe"
	"github.com/CNES/opensand-sub007/internal/encap"
	"github.com/CNES/opensand-sub007/internal/macfifo"
	"github.com/CNES/opensand-sub007/internal/modcod"
	"github.com/CNES/opensand-sub007/internal/rcs2sched"
	"github.com/CNES/opensand-sub007/internal/timeunit"
)

func buildTable() *modcod.Table {
	t := modcod.NewTable()
	t.Add(modcod.Definition{ID: 4, ModulationName: "QPSK", CodingRate: "1/2", SpectralEfficiency: 2.0})
	return t
}

func buildAgent(cfg Config) *Agent {
	table := buildTable()
	conv := timeunit.NewFixedSymbolLength(cfg.FrameDurationMs, 1000)
	sched := rcs2sched.New(encap.NewRawHandler(), nil)
	return New(cfg, table, conv, sched, 4, nil, nil)
}

func TestHereIsSOFRollsAllocationForward(t *testing.T) {
	a := buildAgent(Config{TalID: 5, FrameDurationMs: 10})
	a.allocatedKb = 50
	a.HereIsSOF(1)
	assert.Equal(t, timeunit.Kilobits(50), a.dynamicAllocationKb)
	assert.Equal(t, timeunit.Kilobits(0), a.allocatedKb)
	assert.Equal(t, uint32(1), a.rbdcTimerSf)
}

func TestHereIsTTPIgnoresMismatchedGroup(t *testing.T) {
	a := buildAgent(Config{TalID: 5, GroupID: 1, FrameDurationMs: 10})
	err := a.HereIsTTP(dvbframe.TtpBody{GroupID: 2}, []dvbframe.TimePlan{{FmtID: 4, AssignmentCountKb: 10}})
	require.NoError(t, err)
	assert.Equal(t, timeunit.Kilobits(0), a.allocatedKb)
}

func TestHereIsTTPSumsAssignments(t *testing.T) {
	a := buildAgent(Config{TalID: 5, GroupID: 1, FrameDurationMs: 10})
	err := a.HereIsTTP(dvbframe.TtpBody{GroupID: 1}, []dvbframe.TimePlan{
		{FmtID: 4, AssignmentCountKb: 10},
		{FmtID: 4, AssignmentCountKb: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, timeunit.Kilobits(15), a.allocatedKb)
}

func TestOnFrameTickFailsForUnknownModcod(t *testing.T) {
	a := buildAgent(Config{TalID: 5, FrameDurationMs: 10})
	a.modcodID = 99
	err := a.OnFrameTick(1)
	assert.Error(t, err)
}

func TestOnFrameTickComputesBurstLength(t *testing.T) {
	a := buildAgent(Config{TalID: 5, FrameDurationMs: 10})
	a.converter.SetModulationEfficiency(2.0)
	err := a.OnFrameTick(1)
	require.NoError(t, err)
	assert.Greater(t, int64(a.burstLengthB), int64(0))
}

func TestBuildSACEmptyWhenNoBacklog(t *testing.T) {
	a := buildAgent(Config{TalID: 5, RbdcEnabled: true, VbdcEnabled: true, MslSf: 50, SyncPeriodSf: 10, FrameDurationMs: 10})
	fifo := macfifo.New[[]byte](0, 0, "rbdc", "RBDC", 100, nil)
	_, empty := a.BuildSAC([]*macfifo.Fifo[[]byte]{fifo}, -5)
	assert.True(t, empty)
}

func TestBuildSACSendsVBDCWhenBacklogged(t *testing.T) {
	a := buildAgent(Config{TalID: 5, VbdcEnabled: true, FrameDurationMs: 10})
	fifo := macfifo.New[[]byte](0, 0, "vbdc", vbdcAccessType, 100, nil)
	require.NoError(t, fifo.Push([]byte("backlog"), 5000, time.Unix(0, 0)))

	body, empty := a.BuildSAC([]*macfifo.Fifo[[]byte]{fifo}, 0)
	assert.False(t, empty)
	require.Len(t, body.Requests, 1)
	assert.Equal(t, dvbframe.VBDC, body.Requests[0].Kind)
	assert.Greater(t, body.Requests[0].Value, uint16(0))
}

func TestBuildSACClampsVBDCToSACMax(t *testing.T) {
	a := buildAgent(Config{TalID: 5, VbdcEnabled: true, FrameDurationMs: 10})
	fifo := macfifo.New[[]byte](0, 0, "vbdc", vbdcAccessType, 100, nil)
	require.NoError(t, fifo.Push([]byte("huge"), 10_000_000, time.Unix(0, 0)))

	body, empty := a.BuildSAC([]*macfifo.Fifo[[]byte]{fifo}, 0)
	assert.False(t, empty)
	assert.Equal(t, uint16(maxVbdcKb), body.Requests[0].Value)
}

func TestReturnScheduleStampsModcodAndDebitsAllocation(t *testing.T) {
	a := buildAgent(Config{TalID: 5, FrameDurationMs: 10})
	a.burstLengthB = 400
	a.remainingAllocationB = 100000
	a.modcodID = 4

	fifo := macfifo.New[[]byte](0, 0, "vbdc", "ACM", 10, nil)
	require.NoError(t, fifo.Push([]byte("payload"), 7, time.Unix(0, 0)))

	frames := a.ReturnSchedule(1, 0, 5, []*macfifo.Fifo[[]byte]{fifo})
	require.Len(t, frames, 1)
	body, ok := frames[0].Payload.(dvbframe.DvbRcs2FrameBody)
	require.True(t, ok)
	assert.Equal(t, timeunit.FmtID(4), body.ModcodID)
	assert.Equal(t, timeunit.Bits(100000-80), a.remainingAllocationB, "10-byte frame debits 80 bits")
}
