package terminal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CNES/opensand-sub007/internal/damaagent"
	"github.com/CNES/opensand-sub007/internal/dvbframe"
	"github.com/CNES/opensand-sub007/internal/encap"
	"github.com/CNES/opensand-sub007/internal/macfifo"
	"github.com/CNES/opensand-sub007/internal/modcod"
	"github.com/CNES/opensand-sub007/internal/rcs2sched"
	"github.com/CNES/opensand-sub007/internal/timeunit"
)

const testFmtID timeunit.FmtID = 4

func buildTable() *modcod.Table {
	t := modcod.NewTable()
	t.Add(modcod.Definition{ID: testFmtID, ModulationName: "QPSK", CodingRate: "1/2", SpectralEfficiency: 2.0})
	return t
}

type fakeSender struct {
	mu     sync.Mutex
	frames []*dvbframe.Frame
}

func (s *fakeSender) Send(_ context.Context, f *dvbframe.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSender) snapshot() []*dvbframe.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*dvbframe.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

func buildTerminal(t *testing.T, cfg Config) (*Terminal, *damaagent.Agent, *fakeSender) {
	t.Helper()
	table := buildTable()
	conv := timeunit.NewFixedSymbolLength(10, 100)
	sched := rcs2sched.New(encap.NewRawHandler(), nil)

	agent := damaagent.New(damaagent.Config{
		TalID:           5,
		GroupID:         0,
		RbdcEnabled:     true,
		VbdcEnabled:     true,
		MslSf:           10,
		SyncPeriodSf:    1,
		FrameDurationMs: 10,
	}, table, conv, sched, testFmtID, nil, nil)

	fifo := macfifo.New[[]byte](0, 0, "nm", "RBDC", 100, nil)
	fifos := []*macfifo.Fifo[[]byte]{fifo}

	sender := &fakeSender{}
	if cfg.FrameDurationMs == 0 {
		cfg.FrameDurationMs = 10
	}
	term := New(cfg, agent, fifos, sender, nil)
	return term, agent, sender
}

func TestHandleFrameTTPAppliesAllocation(t *testing.T) {
	term, agent, _ := buildTerminal(t, Config{})

	ttp := dvbframe.TtpBody{GroupID: 0, Plans: []dvbframe.TimePlan{{FmtID: testFmtID, AssignmentCountKb: 5}}}
	err := term.HandleFrame(&dvbframe.Frame{Payload: ttp, SpotID: 0})
	require.NoError(t, err)

	require.NoError(t, agent.OnFrameTick(1))
}

func TestHandleFrameSOFAdvancesAgent(t *testing.T) {
	term, _, _ := buildTerminal(t, Config{})
	err := term.HandleFrame(&dvbframe.Frame{Payload: dvbframe.SofBody{SuperframeIndex: 3}})
	assert.NoError(t, err)
}

func TestOnFrameTickEmitsNoSACWhenFifosEmpty(t *testing.T) {
	term, _, sender := buildTerminal(t, Config{})
	term.onFrameTick()
	assert.Empty(t, sender.snapshot())
}

func TestRunReleasesQueuedFramesAfterPropagationDelay(t *testing.T) {
	term, agent, sender := buildTerminal(t, Config{
		FrameDurationMs:    5,
		PropagationDelay:   1 * time.Millisecond,
		DelayRefreshPeriod: 2 * time.Millisecond,
	})

	require.NoError(t, agent.HereIsTTP(dvbframe.TtpBody{GroupID: 0}, []dvbframe.TimePlan{{FmtID: testFmtID, AssignmentCountKb: 5}}))
	require.NoError(t, term.fifos[0].Push([]byte("backlog"), 7, time.Now()))

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	err := term.Run(ctx)
	assert.NoError(t, err)
	assert.NotEmpty(t, sender.snapshot(), "the SAC queued for the RBDC backlog is released after the propagation delay")
}
