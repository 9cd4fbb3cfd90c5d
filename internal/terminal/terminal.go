// Package terminal implements the peer terminal's orchestration loop: the
// frame-tick timer driving the DAMA agent, inbound SOF/TTP handling,
// return-burst scheduling and transmission, and periodic SAC reporting.
// It is the terminal-side counterpart of internal/ncc, grounded on the
// same BlockDvbTal.cpp Downward/Upward split GroundPhysicalChannel.cpp's
// delay-FIFO pattern serves on the gateway side.
package terminal

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/CNES/opensand-sub007/internal/damaagent"
	"github.com/CNES/opensand-sub007/internal/delayfifo"
	"github.com/CNES/opensand-sub007/internal/dvbframe"
	"github.com/CNES/opensand-sub007/internal/macfifo"
	"github.com/CNES/opensand-sub007/internal/timeunit"
)

// Sender transmits a frame already queued past the delay FIFO onto the
// uplink carrier. Implemented by the terminal's transport layer.
type Sender interface {
	Send(ctx context.Context, f *dvbframe.Frame) error
}

// CNISource supplies the terminal's current downlink CNI estimate for
// the next SAC, the ACM feedback-loop injection hook.
type CNISource func() float64

// Config is the terminal orchestrator's static configuration.
type Config struct {
	SpotID    timeunit.SpotID
	CarrierID timeunit.CarrierID

	FrameDurationMs timeunit.Milliseconds
	// PropagationDelay is the hold duration applied to every frame
	// pushed through the outbound delay FIFO.
	PropagationDelay time.Duration
	// DelayRefreshPeriod is how often the delay FIFO is drained.
	DelayRefreshPeriod time.Duration

	CNI CNISource

	// OutboxMaxSize bounds the propagation-delay FIFO; 0 falls back to
	// a generous default.
	OutboxMaxSize int
}

// Terminal wires one damaagent.Agent into a frame-tick loop.
type Terminal struct {
	cfg    Config
	agent  *damaagent.Agent
	fifos  []*macfifo.Fifo[[]byte]
	outbox *delayfifo.Fifo[*dvbframe.Frame]
	sender Sender
	log    *zap.Logger

	sfIndex timeunit.SuperframeIndex
}

// New builds a Terminal. log may be nil, as in tests.
func New(cfg Config, agent *damaagent.Agent, fifos []*macfifo.Fifo[[]byte], sender Sender, log *zap.Logger) *Terminal {
	maxSize := cfg.OutboxMaxSize
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Terminal{
		cfg:    cfg,
		agent:  agent,
		fifos:  fifos,
		outbox: delayfifo.New[*dvbframe.Frame](maxSize),
		sender: sender,
		log:    log,
	}
}

// Run starts the frame-tick loop and the delay-release loop and blocks
// until ctx is cancelled. Grounded on BlockDvbTal::Downward's frame
// timer, reproduced without the source's single-threaded RtChannel.
func (t *Terminal) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- t.runFrameLoop(ctx) }()
	go func() { errCh <- t.runDelayLoop(ctx) }()

	select {
	case <-ctx.Done():
		<-errCh
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (t *Terminal) runFrameLoop(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.FrameDurationMs.ToDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.sfIndex = t.sfIndex.Next()
			t.onFrameTick()
		}
	}
}

// onFrameTick is BlockDvbTal::Downward's per-frame sequence: advance the
// allocation window, drain the return FIFOs under it, send any SAC this
// frame warrants.
func (t *Terminal) onFrameTick() {
	if err := t.agent.OnFrameTick(t.sfIndex); err != nil {
		if t.log != nil {
			t.log.Warn("frame tick rejected", zap.Error(err))
		}
		return
	}

	for _, f := range t.agent.ReturnSchedule(t.sfIndex, t.cfg.SpotID, t.cfg.CarrierID, t.fifos) {
		t.enqueueOutbound(f)
	}

	var cni float64
	if t.cfg.CNI != nil {
		cni = t.cfg.CNI()
	}
	if body, empty := t.agent.BuildSAC(t.fifos, cni); !empty {
		t.enqueueOutbound(dvbframe.NewSac(t.cfg.SpotID, t.cfg.CarrierID, body.TalID, body.AcmCniDB, body.Requests))
	}
}

func (t *Terminal) runDelayLoop(ctx context.Context) error {
	period := t.cfg.DelayRefreshPeriod
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, f := range t.outbox.DrainReady(time.Now()) {
				if t.sender == nil {
					continue
				}
				if err := t.sender.Send(ctx, f); err != nil && t.log != nil {
					t.log.Error("frame send failed", zap.Error(err))
				}
			}
		}
	}
}

func (t *Terminal) enqueueOutbound(f *dvbframe.Frame) {
	if !t.outbox.Push(f, t.cfg.PropagationDelay, time.Now()) {
		if t.log != nil {
			t.log.Error("delay fifo full, dropping frame", zap.String("message_type", f.MessageType().String()))
		}
	}
}

// HandleFrame dispatches one inbound frame from the gateway, the
// terminal-side analogue of Upward::onEvent's switch(msg_type).
func (t *Terminal) HandleFrame(f *dvbframe.Frame) error {
	switch body := f.Payload.(type) {
	case dvbframe.TtpBody:
		return t.agent.HereIsTTP(body, body.Plans)
	default:
		if f.MessageType() == dvbframe.Sof {
			t.agent.HereIsSOF(t.sfIndex)
			return nil
		}
		if t.log != nil {
			t.log.Debug("frame not handled by the dama agent", zap.String("message_type", f.MessageType().String()))
		}
		return nil
	}
}
