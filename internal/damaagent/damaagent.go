// Package damaagent implements the terminal-side DAMA agent (component
// C8): per-frame tick bookkeeping, SOF/TTP handling, RBDC/VBDC capacity
// request generation, and handing scheduled frames off to the
// return-link scheduler. Grounded on DamaAgentRcs2.cpp /
// DamaAgentRcs2Legacy.cpp.
package damaagent

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/CNES/opensand-sub007/internal/cerr"
	"github.com/CNES/opensand-sub007/internal/dvbframe"
	"github.com/CNES/opensand-sub007/internal/macfifo"
	"github.com/CNES/opensand-sub007/internal/modcod"
	"github.com/CNES/opensand-sub007/internal/rcs2sched"
	"github.com/CNES/opensand-sub007/internal/telemetry"
	"github.com/CNES/opensand-sub007/internal/timeunit"
)

// maxRbdcKbps and maxVbdcKb are the CR field's wire-size limits: a
// request larger than these is clamped before being sent.
const (
	maxRbdcKbps timeunit.Kbps     = 16320
	maxVbdcKb   timeunit.Kilobits = 4080
)

// rbdcAccessType / vbdcAccessType name the access-type label MAC FIFOs
// must carry to be billed under RBDC or VBDC respectively.
const (
	rbdcAccessType macfifo.AccessType = "RBDC"
	vbdcAccessType macfifo.AccessType = "VBDC"
)

// circularBuffer is a fixed-capacity ring of the last N RBDC requests,
// used to compute the sum sent during the last MSL (Mean Sampling
// Lapse) window. Capacity 0 degenerates to "sum is always 0", matching
// the source's behavior for an MSL shorter than one sync period.
type circularBuffer struct {
	values   []timeunit.Kbps
	pos      int
	previous timeunit.Kbps
}

func newCircularBuffer(capacity int) *circularBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &circularBuffer{values: make([]timeunit.Kbps, capacity)}
}

func (c *circularBuffer) Update(v timeunit.Kbps) {
	c.previous = v
	if len(c.values) == 0 {
		return
	}
	c.values[c.pos] = v
	c.pos = (c.pos + 1) % len(c.values)
}

func (c *circularBuffer) Sum() timeunit.Kbps {
	var sum timeunit.Kbps
	for _, v := range c.values {
		sum += v
	}
	return sum
}

func (c *circularBuffer) PreviousValue() timeunit.Kbps { return c.previous }

// Config holds the terminal's static DAMA parameters, set at logon.
type Config struct {
	TalID          timeunit.TerminalID
	GroupID        timeunit.GroupID
	RbdcEnabled    bool
	VbdcEnabled    bool
	MslSf          uint32
	SyncPeriodSf   uint32
	FrameDurationMs timeunit.Milliseconds
}

// Agent is the terminal-side DAMA state machine.
type Agent struct {
	cfg Config

	retModcod *modcod.Table
	converter *timeunit.Converter
	scheduler *rcs2sched.Scheduler
	log       *zap.Logger
	metrics   *telemetry.Metrics

	rbdcRequestBuffer *circularBuffer

	modcodID              timeunit.FmtID
	rbdcTimerSf           uint32
	allocatedKb           timeunit.Kilobits
	dynamicAllocationKb   timeunit.Kilobits
	remainingAllocationB  timeunit.Bits
	burstLengthB          timeunit.Bits
	vbdcCreditKb          timeunit.Kilobits
}

// New builds a DAMA agent for one terminal. defaultModcodID is the
// return-link MODCOD assumed before the first TTP arrives (typically
// the table's highest id).
func New(cfg Config, retModcod *modcod.Table, converter *timeunit.Converter, scheduler *rcs2sched.Scheduler, defaultModcodID timeunit.FmtID, log *zap.Logger, metrics *telemetry.Metrics) *Agent {
	var buf *circularBuffer
	if cfg.RbdcEnabled {
		capacity := 0
		if cfg.SyncPeriodSf > 0 {
			capacity = int(cfg.MslSf / cfg.SyncPeriodSf)
		}
		buf = newCircularBuffer(capacity)
	}
	return &Agent{
		cfg:               cfg,
		retModcod:         retModcod,
		converter:         converter,
		scheduler:         scheduler,
		log:               log,
		metrics:           metrics,
		rbdcRequestBuffer: buf,
		modcodID:          defaultModcodID,
	}
}

// OnFrameTick prepares the agent for a new frame: the allocation
// granted via the last TTP becomes this frame's budget, and the burst
// length in bits is recomputed for the MODCOD currently in effect.
func (a *Agent) OnFrameTick(sf timeunit.SuperframeIndex) error {
	a.remainingAllocationB = timeunit.Bits(a.dynamicAllocationKb) * 1000

	def, ok := a.retModcod.Get(a.modcodID)
	if !ok {
		if a.log != nil {
			a.log.Warn("no modcod found for return link", zap.Uint32("sf", uint32(sf)), zap.Uint8("modcod_id", uint8(a.modcodID)))
		}
		return cerr.New(cerr.ModcodNotServable, "return modcod not found").WithTalID(uint16(a.cfg.TalID))
	}

	withFec := a.converter.GetPacketBitLength()
	a.burstLengthB = timeunit.Bits(def.RemoveFec(float64(withFec)))
	return nil
}

// HereIsSOF advances the per-superframe RBDC timer and rolls the
// allocation granted via the previous TTP into this superframe's
// dynamic allocation.
func (a *Agent) HereIsSOF(timeunit.SuperframeIndex) {
	a.rbdcTimerSf++
	a.dynamicAllocationKb = a.allocatedKb
	a.allocatedKb = 0
}

// HereIsTTP applies this terminal's time plan entries from a TTP: sums
// their granted kilobits into the allocation for the next frame tick,
// and updates the modulation efficiency in effect for the MODCOD it
// carries. ttp.GroupID must match the agent's configured group, else
// the TTP is ignored (not an error: other groups' TTPs pass through
// the same multicast channel).
func (a *Agent) HereIsTTP(ttp dvbframe.TtpBody, plans []dvbframe.TimePlan) error {
	if ttp.GroupID != a.cfg.GroupID {
		if a.log != nil {
			a.log.Error("ttp with mismatched group_id", zap.Uint8("group_id", uint8(ttp.GroupID)))
		}
		return nil
	}

	a.allocatedKb = 0
	for _, plan := range plans {
		a.modcodID = plan.FmtID
		def, ok := a.retModcod.Get(a.modcodID)
		if !ok {
			a.converter.SetModulationEfficiency(0)
			continue
		}
		a.converter.SetModulationEfficiency(def.SpectralEfficiency)
		a.allocatedKb += timeunit.Kilobits(plan.AssignmentCountKb)
	}

	if a.metrics != nil {
		allocKbps := a.converter.PerFrameToPerSecond(float64(a.allocatedKb))
		a.metrics.TerminalCRAAlloc.WithLabelValues(talIDLabel(a.cfg.TalID)).Set(allocKbps)
	}
	return nil
}

// ReturnSchedule drains the return-link MAC FIFOs into DVB-RCS2 frames
// under this frame's allocation, stamping every frame with the
// currently-granted MODCOD.
func (a *Agent) ReturnSchedule(sf timeunit.SuperframeIndex, spot timeunit.SpotID, carrierID timeunit.CarrierID, fifos []*macfifo.Fifo[[]byte]) []*dvbframe.Frame {
	a.scheduler.SetMaxBurstLength(a.burstLengthB)

	frames, remaining := a.scheduler.Schedule(sf, spot, carrierID, a.modcodID, fifos, a.remainingAllocationB)
	a.remainingAllocationB = remaining

	if a.metrics != nil && len(frames) > 0 {
		a.metrics.SentModcod.WithLabelValues(talIDLabel(a.cfg.TalID), "return").Set(float64(a.modcodID))
	}
	return frames
}

// BuildSAC computes RBDC/VBDC requests from current FIFO backlog and
// assembles a SAC body, or reports empty=true if neither request is
// worth sending this superframe.
func (a *Agent) BuildSAC(fifos []*macfifo.Fifo[[]byte], cniDB float64) (body dvbframe.SacBody, empty bool) {
	body.TalID = a.cfg.TalID
	body.AcmCniDB = cniDB

	var sendRbdc, sendVbdc bool
	var rbdcKbps timeunit.Kbps
	var vbdcKb timeunit.Kilobits

	if a.cfg.RbdcEnabled {
		rbdcKbps = a.computeRbdcRequest(fifos)
		if rbdcKbps > 0 {
			sendRbdc = true
		} else if rbdcKbps != a.rbdcRequestBuffer.PreviousValue() {
			sendRbdc = true
		}
	}

	if a.cfg.VbdcEnabled {
		vbdcKb = a.computeVbdcRequest(fifos)
		if vbdcKb > 0 {
			sendVbdc = true
		}
	}

	if !sendRbdc && !sendVbdc {
		return body, true
	}

	if sendRbdc {
		body.Requests = append(body.Requests, dvbframe.CapacityRequest{Kind: dvbframe.RBDC, Value: uint16(rbdcKbps)})
		a.rbdcTimerSf = 0
		a.rbdcRequestBuffer.Update(rbdcKbps)
		for _, fifo := range fifos {
			if fifo.AccessType == rbdcAccessType {
				fifo.ResetNewBytes()
			}
		}
		if a.metrics != nil {
			a.metrics.RBDCRequestCount.Inc()
		}
	} else if a.cfg.RbdcEnabled {
		a.rbdcRequestBuffer.Update(0)
	}

	if sendVbdc {
		body.Requests = append(body.Requests, dvbframe.CapacityRequest{Kind: dvbframe.VBDC, Value: uint16(vbdcKb)})
		if a.metrics != nil {
			a.metrics.VBDCRequestCount.Inc()
		}
	}

	return body, false
}

// computeRbdcRequest mirrors DamaAgentRcs2Legacy::computeRbdcRequest:
// the rate needed to drain the RBDC backlog within one MSL, plus the
// rate needed to cover packets that arrived since the last request.
func (a *Agent) computeRbdcRequest(fifos []*macfifo.Fifo[[]byte]) timeunit.Kbps {
	rbdcLengthBits := macBufferLengthBits(fifos, rbdcAccessType)
	rbdcArrivalBits := macBufferArrivalBits(fifos, rbdcAccessType)

	frameDurationMs := float64(a.cfg.FrameDurationMs)
	prevMslKbps := a.rbdcRequestBuffer.Sum()

	var reqKbps timeunit.Kbps
	grantedMs := float64(a.rbdcTimerSf) * float64(prevMslKbps) * frameDurationMs
	lengthMs := float64(rbdcLengthBits)
	if grantedMs < lengthMs && a.cfg.MslSf > 0 {
		reqKbps = timeunit.Kbps((lengthMs - grantedMs) / (float64(a.cfg.MslSf) * frameDurationMs))
	}

	var rbdcKbps timeunit.Kbps
	if a.rbdcTimerSf != 0 {
		rbdcKbps = timeunit.Kbps(float64(rbdcArrivalBits)/(float64(a.rbdcTimerSf)*frameDurationMs)) + reqKbps
	} else {
		rbdcKbps = reqKbps
	}

	if rbdcKbps > maxRbdcKbps {
		rbdcKbps = maxRbdcKbps
	}
	if rbdcKbps < 0 {
		rbdcKbps = 0
	}
	return rbdcKbps
}

// computeVbdcRequest mirrors DamaAgentRcs2Legacy::computeVbdcRequest.
// vbdc_credit is reset to 0 every call: the source notes it is never
// actually decremented against granted allocation, so it never
// suppresses a request in practice. Kept as-is rather than "fixed",
// since correcting it would change the allocation algorithm's behavior
// beyond what this port is meant to change.
func (a *Agent) computeVbdcRequest(fifos []*macfifo.Fifo[[]byte]) timeunit.Kilobits {
	a.vbdcCreditKb = 0

	lengthBits := macBufferLengthBits(fifos, vbdcAccessType)
	neededKb := timeunit.Kilobits((lengthBits + 999) / 1000)

	vbdcKb := neededKb - a.vbdcCreditKb
	if vbdcKb < 0 {
		vbdcKb = 0
	}
	if vbdcKb > maxVbdcKb {
		vbdcKb = maxVbdcKb
	}

	a.vbdcCreditKb += vbdcKb
	return vbdcKb
}

func macBufferLengthBits(fifos []*macfifo.Fifo[[]byte], access macfifo.AccessType) timeunit.Bits {
	var total timeunit.Bits
	for _, fifo := range fifos {
		if fifo.AccessType == access {
			total += timeunit.Bits(fifo.CurrentLengthBytes() * 8)
		}
	}
	return total
}

func macBufferArrivalBits(fifos []*macfifo.Fifo[[]byte], access macfifo.AccessType) timeunit.Bits {
	var total timeunit.Bits
	for _, fifo := range fifos {
		if fifo.AccessType == access {
			total += timeunit.Bits(fifo.NewBytes() * 8)
		}
	}
	return total
}

func talIDLabel(id timeunit.TerminalID) string {
	return strconv.Itoa(int(id))
}
