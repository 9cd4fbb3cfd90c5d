// Package ncc implements the gateway-side orchestration loop (component
// C10): the frame/forward-frame/delay timers, DVB frame dispatch by
// message type, upper-layer traffic fan-out into per-category forward
// FIFOs, and the PEP/SVNO external command listeners. Grounded on
// BlockDvbNcc.cpp's Downward/Upward onEvent split and
// GroundPhysicalChannel.cpp's delay FIFO boundary.
package ncc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/CNES/opensand-sub007/internal/damactrl"
	"github.com/CNES/opensand-sub007/internal/delayfifo"
	"github.com/CNES/opensand-sub007/internal/dvbframe"
	"github.com/CNES/opensand-sub007/internal/macfifo"
	"github.com/CNES/opensand-sub007/internal/s2sched"
	"github.com/CNES/opensand-sub007/internal/telemetry"
	"github.com/CNES/opensand-sub007/internal/timeunit"

	"github.com/google/uuid"
)

// Sender transmits a frame already queued past the delay FIFO onto the
// carrier it is addressed to. Implemented by the spot's transport layer.
type Sender interface {
	Send(ctx context.Context, f *dvbframe.Frame) error
}

// CNIProvider supplies each terminal's current reported MODCOD ahead of
// a superframe's DAMA pass, the CNI-extension injection hook: in
// production this reads the ACM loop's estimate, in a test or a replay
// run it can return a fixed map.
type CNIProvider func() map[timeunit.TerminalID]timeunit.FmtID

// Config is the orchestrator's static configuration.
type Config struct {
	SpotID timeunit.SpotID

	FrameDurationMs timeunit.Milliseconds
	// FwdFrameDurationMs is the forward-link scheduling period; the
	// source lets it differ from the return superframe period.
	FwdFrameDurationMs time.Duration
	// DelayRefreshPeriod is how often the delay FIFO is drained,
	// GroundPhysicalChannel's "fifo_timer".
	DelayRefreshPeriod time.Duration
	// PropagationDelay is the hold duration applied to every frame
	// pushed through the delay FIFO.
	PropagationDelay time.Duration

	// PEPListenAddr/SVNOListenAddr, when non-empty, start a TCP
	// listener accepting newline-delimited JSON commands. Empty
	// disables the listener, as when no PEP/SVNO component is deployed.
	PEPListenAddr  string
	SVNOListenAddr string

	CNI CNIProvider

	// OutboxMaxSize bounds the propagation-delay FIFO every outbound
	// frame passes through; 0 falls back to a generous default rather
	// than the delay FIFO's own zero-means-full behaviour.
	OutboxMaxSize int
}

// NCC is the gateway's DAMA controller plus forward scheduler(s) wired
// together by one cooperative event loop per BlockDvbNcc's Downward/
// Upward channel split.
type NCC struct {
	cfg     Config
	ctrl    *damactrl.Controller
	sched   map[string]*s2sched.Scheduler
	fifos   map[string][]*macfifo.Fifo[s2sched.Packet]
	outbox  *delayfifo.Fifo[*dvbframe.Frame]
	sender  Sender
	log     *zap.Logger
	metrics *telemetry.Metrics

	sfIndex timeunit.SuperframeIndex
}

// New builds an NCC. sched and fifos are keyed by category label and
// must share the same key set. log and metrics may be nil, as in
// tests.
func New(cfg Config, ctrl *damactrl.Controller, sched map[string]*s2sched.Scheduler, fifos map[string][]*macfifo.Fifo[s2sched.Packet], sender Sender, log *zap.Logger, metrics *telemetry.Metrics) *NCC {
	maxSize := cfg.OutboxMaxSize
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &NCC{
		cfg:     cfg,
		ctrl:    ctrl,
		sched:   sched,
		fifos:   fifos,
		outbox:  delayfifo.New[*dvbframe.Frame](maxSize),
		sender:  sender,
		log:     log,
		metrics: metrics,
	}
}

// Run starts the frame timer, forward-frame timer, delay-release
// timer, and (if configured) the PEP/SVNO listeners, all under one
// cancellable group, and blocks until ctx is cancelled or one loop
// fails. Grounded on BlockDvbNcc's per-direction timer set, reproduced
// with golang.org/x/sync/errgroup rather than the source's single-
// threaded RtChannel event loop.
func (n *NCC) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return n.runFrameLoop(ctx) })
	g.Go(func() error { return n.runForwardLoop(ctx) })
	g.Go(func() error { return n.runDelayLoop(ctx) })

	if n.cfg.PEPListenAddr != "" {
		g.Go(func() error { return n.runCommandListener(ctx, n.cfg.PEPListenAddr, n.handlePEPCommand) })
	}
	if n.cfg.SVNOListenAddr != "" {
		g.Go(func() error { return n.runCommandListener(ctx, n.cfg.SVNOListenAddr, n.handleSVNOCommand) })
	}

	return g.Wait()
}

// runFrameLoop is BlockDvbNcc::Downward's frame_timer handler: send the
// SOF, run the DAMA pass, send the resulting TTP.
func (n *NCC) runFrameLoop(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.FrameDurationMs.ToDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.sfIndex = n.sfIndex.Next()

			n.enqueueOutbound(dvbframe.NewSof(n.cfg.SpotID, 0, n.sfIndex))

			var cni map[timeunit.TerminalID]timeunit.FmtID
			if n.cfg.CNI != nil {
				cni = n.cfg.CNI()
			}
			plans := n.ctrl.RunOnSuperframeChange(n.sfIndex, cni)
			n.enqueueOutbound(dvbframe.NewTtp(n.cfg.SpotID, 0, uint16(n.sfIndex), 0, plans))
		}
	}
}

// runForwardLoop is BlockDvbNcc::Downward's fwd_timer handler: run each
// category's forward scheduler and queue whatever BBFrames it emits.
func (n *NCC) runForwardLoop(ctx context.Context) error {
	period := n.cfg.FwdFrameDurationMs
	if period <= 0 {
		period = n.cfg.FrameDurationMs.ToDuration()
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for label, sched := range n.sched {
				frames, err := sched.Schedule(n.sfIndex, n.fifos[label])
				if err != nil {
					if n.log != nil {
						n.log.Error("forward scheduling failed", zap.String("category", label), zap.Error(err))
					}
					continue
				}
				for _, f := range frames {
					n.enqueueOutbound(f)
				}
			}
		}
	}
}

// runDelayLoop is GroundPhysicalChannel's fifo_timer handler:
// periodically release every frame whose propagation delay has
// elapsed and hand it to the transport sender.
func (n *NCC) runDelayLoop(ctx context.Context) error {
	period := n.cfg.DelayRefreshPeriod
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
			for _, f := range n.outbox.DrainReady(time.Now()) {
				if n.sender == nil {
					continue
				}
				if err := n.sender.Send(ctx, f); err != nil && n.log != nil {
					n.log.Error("frame send failed", zap.Error(err))
				}
			}
		}
	}
}

// enqueueOutbound pushes f through the propagation-delay FIFO rather
// than handing it straight to the sender, reproducing
// GroundPhysicalChannel::pushPacket's delay emulation for every frame
// this gateway emits.
func (n *NCC) enqueueOutbound(f *dvbframe.Frame) {
	if !n.outbox.Push(f, n.cfg.PropagationDelay, time.Now()) {
		if n.log != nil {
			n.log.Error("delay fifo full, dropping frame", zap.String("message_type", f.MessageType().String()))
		}
	}
}

// HandleFrame dispatches one inbound DVB frame by message type, the Go
// analogue of Upward::onEvent's switch(msg_type). Control frames update
// the DAMA controller directly; data frames are the caller's
// responsibility to route into the forward FIFOs via EnqueueForward.
func (n *NCC) HandleFrame(f *dvbframe.Frame) error {
	switch body := f.Payload.(type) {
	case dvbframe.SacBody:
		n.ctrl.HereIsSAC(body)
		return nil
	case dvbframe.LogonReqBody:
		if err := n.ctrl.HereIsLogon(body); err != nil {
			return err
		}
		n.enqueueOutbound(dvbframe.NewLogonResp(n.cfg.SpotID, 0, dvbframe.LogonRespBody{TalID: body.TalID, Granted: true}))
		return nil
	case dvbframe.LogoffBody:
		n.ctrl.HereIsLogoff(body.TalID)
		return nil
	default:
		if n.log != nil {
			n.log.Debug("frame not handled by the dama controller", zap.String("message_type", f.MessageType().String()))
		}
		return nil
	}
}

// EnqueueForward pushes pkt into the category's first forward FIFO, the
// Go analogue of Downward::onEvent's NetBurst-to-MAC-FIFO routing. When
// that FIFO is full the push fails with FifoFull; no other FIFO is tried.
func (n *NCC) EnqueueForward(category string, pkt s2sched.Packet) error {
	fifos, ok := n.fifos[category]
	if !ok || len(fifos) == 0 {
		return fmt.Errorf("ncc: no forward fifo for category %q", category)
	}
	return fifos[0].Push(pkt, len(pkt.Data), time.Now())
}

// EnqueueForwardBroadcast fans pkt out to every configured category's
// forward FIFOs, reproducing Downward::onEvent's "inject to every spot"
// behaviour for a packet with no single destination category.
func (n *NCC) EnqueueForwardBroadcast(pkt s2sched.Packet) error {
	var firstErr error
	for label := range n.fifos {
		if err := n.EnqueueForward(label, pkt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// pepCommand is the wire shape of one newline-delimited JSON PEP
// request: raise or restore a terminal's CRA/max-RBDC envelope.
type pepCommand struct {
	TalID       timeunit.TerminalID `json:"tal_id"`
	Release     bool                `json:"release"`
	CraKbps     timeunit.Kbps       `json:"cra_kbps"`
	MaxRbdcKbps timeunit.Kbps       `json:"max_rbdc_kbps"`
}

// svnoCommand is the wire shape of one newline-delimited JSON SVNO
// request, mirroring SvnoRequest.h's spot/type/band/label/new_rate_kbps
// shape (spot and band are implicit: one listener serves one spot's
// return band).
type svnoCommand struct {
	Release       bool    `json:"release"`
	CategoryLabel string  `json:"category"`
	RateKbps      float64 `json:"rate_kbps"`
}

func (n *NCC) handlePEPCommand(line []byte) error {
	var cmd pepCommand
	if err := json.Unmarshal(line, &cmd); err != nil {
		return err
	}
	if cmd.Release {
		n.ctrl.ApplyPEPRelease(cmd.TalID, cmd.CraKbps, cmd.MaxRbdcKbps)
		return nil
	}
	n.ctrl.RequestPEPAllocate(n.sfIndex, damactrl.PEPAllocateRequest{
		CommandID:   uuid.New(),
		TalID:       cmd.TalID,
		CraKbps:     cmd.CraKbps,
		MaxRbdcKbps: cmd.MaxRbdcKbps,
	})
	return nil
}

func (n *NCC) handleSVNOCommand(line []byte) error {
	var cmd svnoCommand
	if err := json.Unmarshal(line, &cmd); err != nil {
		return err
	}
	rate := cmd.RateKbps
	if cmd.Release {
		rate = 0
	}
	return n.ctrl.ApplySVNO(damactrl.SVNORequest{
		CommandID:     uuid.New(),
		CategoryLabel: cmd.CategoryLabel,
		RateKbps:      rate,
	})
}

// runCommandListener accepts connections on addr and feeds each
// newline-delimited message to handle, logging (never crashing the
// loop on) a malformed command, matching the source's "reject one bad
// request, keep the channel open" PEP/SVNO daemon behaviour.
func (n *NCC) runCommandListener(ctx context.Context, addr string, handle func([]byte) error) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("ncc: listen %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go n.serveCommandConn(conn, handle)
	}
}

func (n *NCC) serveCommandConn(conn net.Conn, handle func([]byte) error) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := handle(line); err != nil && n.log != nil {
			n.log.Warn("rejected external command", zap.Error(err), zap.String("remote", conn.RemoteAddr().String()))
		}
	}
}
