// Package damactrl implements the gateway-side DAMA controller (component
// C9): terminal logon/logoff bookkeeping, per-superframe MODCOD
// reassignment, the CRA -> RBDC -> VBDC -> FCA allocation pipeline, TTP
// construction, and PEP/SVNO external command handling. Grounded on
// DamaCtrlRcs2.cpp/.h and DamaCtrlRcs2Legacy.cpp.
package damactrl

import (
	"sort"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CNES/opensand-sub007/internal/carrier"
	"github.com/CNES/opensand-sub007/internal/cerr"
	"github.com/CNES/opensand-sub007/internal/dvbframe"
	"github.com/CNES/opensand-sub007/internal/modcod"
	"github.com/CNES/opensand-sub007/internal/telemetry"
	"github.com/CNES/opensand-sub007/internal/timeunit"
)

// TerminalContext is one logged-on terminal's DAMA state: category
// assignment, current MODCOD/carrier, configured envelopes, the latest
// reported requests, and this superframe's allocation. Grounded on
// TerminalContextDamaRcs.
type TerminalContext struct {
	TalID    timeunit.TerminalID
	Category string

	RequiredFmt timeunit.FmtID
	Fmt         timeunit.FmtID
	CarrierID   timeunit.CarrierID

	CraKbps       timeunit.Kbps
	MaxRbdcKbps   timeunit.Kbps
	MaxVbdcKb     timeunit.Kilobits
	RbdcTimeoutSf uint16

	RbdcRequestKbps timeunit.Kbps
	VbdcRequestKb   timeunit.Kilobits

	CraAllocation  timeunit.Kbps
	RbdcAllocation timeunit.Kbps
	RbdcCreditKbps timeunit.Kbps
	VbdcAllocation timeunit.Kilobits
	FcaAllocation  timeunit.Kbps
}

// pendingPEP is a PEP Allocate command delayed until its target
// superframe, since pep_allocation_delay_sf only applies to Allocate,
// never to Release.
type pendingPEP struct {
	applyAtSF timeunit.SuperframeIndex
	talID     timeunit.TerminalID
	craKbps   timeunit.Kbps
	maxRbdc   timeunit.Kbps
	cmdID     uuid.UUID
}

// Config is the controller's static configuration: the terminal
// categories it arbitrates, the tal_id -> category assignment, the FCA
// rate cap, and the PEP allocation delay.
type Config struct {
	Categories           map[string]*carrier.Category
	DefaultCategory      string
	TalCategory          map[timeunit.TerminalID]string
	FcaKbps              timeunit.Kbps
	PepAllocationDelaySf timeunit.SuperframeIndex
}

// Controller is the gateway-side DAMA controller running the
// RCS2-Legacy algorithm.
type Controller struct {
	cfg       Config
	table     *modcod.Table
	converter *timeunit.Converter
	log       *zap.Logger
	metrics   *telemetry.Metrics

	terminals map[timeunit.TerminalID]*TerminalContext
	pending   []pendingPEP
	simulator RequestSimulator
}

// SetSimulator attaches a simulated-request source (FileSimulator is the
// only implementation).
// Its due events are applied at the top of every RunOnSuperframeChange,
// ahead of the real PEP/MODCOD/allocation pipeline, so a simulated logon
// is visible to the same frame's CRA pass. A nil simulator (the default)
// disables simulated terminals entirely.
func (c *Controller) SetSimulator(s RequestSimulator) {
	c.simulator = s
}

// New builds a Controller. log and metrics may be nil, as in tests.
func New(cfg Config, table *modcod.Table, converter *timeunit.Converter, log *zap.Logger, metrics *telemetry.Metrics) *Controller {
	return &Controller{
		cfg:       cfg,
		table:     table,
		converter: converter,
		log:       log,
		metrics:   metrics,
		terminals: make(map[timeunit.TerminalID]*TerminalContext),
	}
}

// HereIsLogon registers a terminal under its configured category (or
// the default), warning if its CRA exceeds the category's capacity.
// Duplicate logons are a no-op, matching here_is_logon's idempotence.
func (c *Controller) HereIsLogon(req dvbframe.LogonReqBody) error {
	if _, ok := c.terminals[req.TalID]; ok {
		return nil
	}
	label, ok := c.cfg.TalCategory[req.TalID]
	if !ok {
		label = c.cfg.DefaultCategory
	}
	cat, ok := c.cfg.Categories[label]
	if !ok {
		return cerr.New(cerr.NoCategory, "no category configured for terminal").WithTalID(uint16(req.TalID))
	}

	ctx := &TerminalContext{
		TalID:         req.TalID,
		Category:      label,
		CraKbps:       timeunit.Kbps(req.CraKbps),
		MaxRbdcKbps:   timeunit.Kbps(req.MaxRbdcKbps),
		MaxVbdcKb:     timeunit.Kilobits(req.MaxVbdcKb),
		RbdcTimeoutSf: req.RbdcTimeoutSf,
	}
	c.terminals[req.TalID] = ctx

	if capKbps := c.categoryCapacityKbps(cat); capKbps > 0 && ctx.CraKbps > capKbps {
		if c.log != nil {
			c.log.Warn("terminal CRA exceeds category capacity",
				zap.Uint16("tal_id", uint16(req.TalID)),
				zap.Float64("cra_kbps", float64(ctx.CraKbps)),
				zap.Float64("category_capacity_kbps", float64(capKbps)))
		}
	}
	return nil
}

// HereIsLogoff removes a terminal from its category.
func (c *Controller) HereIsLogoff(talID timeunit.TerminalID) {
	delete(c.terminals, talID)
}

// HereIsSAC records a terminal's latest reported CNI and capacity
// requests, consumed on the next RunOnSuperframeChange. RBDC requests
// replace the previous rate; VBDC requests accumulate onto the pending
// balance, since the agent's own request already nets out any credit.
func (c *Controller) HereIsSAC(sac dvbframe.SacBody) {
	ctx, ok := c.terminals[sac.TalID]
	if !ok {
		return
	}
	for _, req := range sac.Requests {
		switch req.Kind {
		case dvbframe.RBDC:
			ctx.RbdcRequestKbps = timeunit.Kbps(req.Value)
		case dvbframe.VBDC:
			ctx.VbdcRequestKb += timeunit.Kilobits(req.Value)
		}
	}
}

func (c *Controller) categoryCapacityKbps(cat *carrier.Category) timeunit.Kbps {
	maxID := c.table.MaxID()
	if maxID == 0 {
		return 0
	}
	kbPerFrame := c.table.SymToKbits(maxID, cat.TotalCapacitySym())
	return timeunit.Kbps(c.converter.PerFrameToPerSecond(float64(kbPerFrame)))
}

// RunOnSuperframeChange runs one full DAMA pass: applies any due PEP
// commands, resets carrier capacity, reassigns each terminal's
// MODCOD/carrier, allocates CRA -> RBDC -> VBDC -> FCA in that order,
// and returns one TimePlan per logged-on terminal for the TTP the
// caller emits. Grounded on DamaCtrlRcs2Legacy::runOnSuperframeChange.
func (c *Controller) RunOnSuperframeChange(sf timeunit.SuperframeIndex, cni map[timeunit.TerminalID]timeunit.FmtID) []dvbframe.TimePlan {
	c.applySimulatedEvents(sf)
	c.applyDuePEP(sf)

	for _, ctx := range c.terminals {
		ctx.CraAllocation = 0
		ctx.RbdcAllocation = 0
		ctx.VbdcAllocation = 0
		ctx.FcaAllocation = 0
	}

	for _, cat := range c.cfg.Categories {
		cat.ResetCapacity(sf)
	}

	c.updateModcod(cni)

	c.allocateCRA()
	c.allocateRBDC()
	c.allocateVBDC()
	if c.cfg.FcaKbps > 0 {
		c.allocateFCA()
	}

	return c.buildTimePlans()
}

// applySimulatedEvents drains every event due at sf from the attached
// simulator and dispatches it into the same handlers a real terminal's
// logon/SAC/logoff frame would reach, matching FileSimulator::simulation's
// injection of synthesized DvbFrames into the controller's normal message
// path rather than a bypass of it.
func (c *Controller) applySimulatedEvents(sf timeunit.SuperframeIndex) {
	if c.simulator == nil {
		return
	}
	for _, ev := range c.simulator.Next(sf) {
		switch ev.Kind {
		case SimulatedLogon:
			if err := c.HereIsLogon(dvbframe.LogonReqBody{
				TalID:         ev.TalID,
				CraKbps:       ev.CraKbps,
				MaxRbdcKbps:   ev.MaxRbdcKbps,
				RbdcTimeoutSf: ev.RbdcTimeoutSf,
				MaxVbdcKb:     ev.MaxVbdcKb,
			}); err != nil && c.log != nil {
				c.log.Warn("simulated logon rejected",
					zap.Uint16("tal_id", uint16(ev.TalID)), zap.Error(err))
			}
		case SimulatedCR:
			c.HereIsSAC(dvbframe.SacBody{
				TalID: ev.TalID,
				Requests: []dvbframe.CapacityRequest{
					{Kind: ev.RequestKind, Value: uint16(ev.RequestValue)},
				},
			})
		case SimulatedLogoff:
			c.HereIsLogoff(ev.TalID)
		}
	}
}

// updateModcod implements step 2 of run_on_superframe_change: pick,
// per terminal, the first carrier in its category whose nearest
// supported MODCOD is >= the required one; fall back to the carrier
// whose nearest id is largest below it; 0 if none qualifies.
func (c *Controller) updateModcod(cni map[timeunit.TerminalID]timeunit.FmtID) {
	for _, ctx := range c.terminals {
		if required, ok := cni[ctx.TalID]; ok {
			ctx.RequiredFmt = required
		}
		cat, ok := c.cfg.Categories[ctx.Category]
		if !ok {
			ctx.Fmt, ctx.CarrierID = 0, 0
			continue
		}
		group, fmtID := cat.SelectCarrierForFmt(ctx.RequiredFmt)
		if group == nil {
			ctx.Fmt, ctx.CarrierID = 0, 0
			continue
		}
		ctx.Fmt = fmtID
		ctx.CarrierID = group.ID
	}
}

func (c *Controller) sortedCategories() []*carrier.Category {
	labels := make([]string, 0, len(c.cfg.Categories))
	for l := range c.cfg.Categories {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	cats := make([]*carrier.Category, 0, len(labels))
	for _, l := range labels {
		cats = append(cats, c.cfg.Categories[l])
	}
	return cats
}

// termsInGroup returns the terminals update_modcod assigned to this
// carrier group this superframe, excluding unservable ones (fmt == 0).
func (c *Controller) termsInGroup(label string, groupID timeunit.CarrierID) []*TerminalContext {
	var out []*TerminalContext
	for _, ctx := range c.terminals {
		if ctx.Category == label && ctx.CarrierID == groupID && ctx.Fmt != 0 {
			out = append(out, ctx)
		}
	}
	return out
}

// representativeFmt is the carrier group's first supported MODCOD, used
// only to translate its symbol-based capacity ledger (internal/carrier)
// into the packets-per-frame ("timeslot") view the allocation functions
// share; per-terminal conversions always use the terminal's own MODCOD.
func (c *Controller) representativeFmt(group *carrier.Group) (modcod.Definition, bool) {
	if len(group.FmtIDs) == 0 {
		return modcod.Definition{}, false
	}
	return c.table.Get(group.FmtIDs[0])
}

func (c *Controller) remainingPktpf(group *carrier.Group) timeunit.PktPerFrame {
	def, ok := c.representativeFmt(group)
	if !ok {
		return 0
	}
	c.converter.SetModulationEfficiency(def.SpectralEfficiency)
	return timeunit.PktPerFrame(c.converter.SymToPkt(group.RemainingCapacity()))
}

func (c *Controller) setRemainingPktpf(group *carrier.Group, n timeunit.PktPerFrame) {
	def, ok := c.representativeFmt(group)
	if !ok {
		return
	}
	c.converter.SetModulationEfficiency(def.SpectralEfficiency)
	group.SetRemainingCapacity(c.converter.PktToSym(timeunit.Packets(n)))
}

// slotKbps is the kbit/s value of a single timeslot under def, after
// removing FEC: DamaCtrlRcs2Legacy's "slot_kbps = removeFec(pktpfToKbps(1))".
func (c *Controller) slotKbps(def modcod.Definition) timeunit.Kbps {
	c.converter.SetModulationEfficiency(def.SpectralEfficiency)
	return timeunit.Kbps(def.RemoveFec(float64(c.converter.PktpfToKbps(1))))
}

// allocateCRA implements computeDamaCraPerCarrier for every category and
// carrier group: each terminal's CRA is timeslot-quantised with its own
// MODCOD and decremented from the group's pktpf pool; a terminal whose
// CRA no longer fits gets nothing this frame (logged, not fatal).
func (c *Controller) allocateCRA() {
	for _, cat := range c.sortedCategories() {
		for _, group := range cat.Groups {
			remaining := c.remainingPktpf(group)
			for _, ctx := range c.termsInGroup(cat.Label, group.ID) {
				def, ok := c.table.Get(ctx.Fmt)
				if !ok {
					continue
				}
				c.converter.SetModulationEfficiency(def.SpectralEfficiency)
				craPktpf := c.converter.KbpsToPktpf(timeunit.Kbps(def.AddFec(float64(ctx.CraKbps))))
				if craPktpf > remaining {
					if c.log != nil {
						c.log.Error("cannot serve full CRA this frame",
							zap.Uint16("tal_id", uint16(ctx.TalID)),
							zap.Float64("cra_kbps", float64(ctx.CraKbps)))
					}
					continue
				}
				remaining -= craPktpf
				ctx.CraAllocation = timeunit.Kbps(def.RemoveFec(float64(c.converter.PktpfToKbps(craPktpf))))
				if c.metrics != nil {
					c.metrics.TerminalCRAAlloc.WithLabelValues(talLabel(ctx.TalID)).Set(float64(ctx.CraAllocation))
				}
			}
			c.setRemainingPktpf(group, remaining)
		}
	}
}

type rbdcEntry struct {
	ctx      *TerminalContext
	def      modcod.Definition
	reqPktpf timeunit.PktPerFrame
}

// allocateRBDC implements computeDamaRbdcPerCarrier's two-pass
// fair-share algorithm: an integer-slot pass divides remaining capacity
// proportionally to each terminal's request, then (only when demand
// exceeds supply) a second pass hands out leftover single timeslots to
// the terminals with the largest accumulated fractional credit.
func (c *Controller) allocateRBDC() {
	for _, cat := range c.sortedCategories() {
		for _, group := range cat.Groups {
			remaining := c.remainingPktpf(group)
			if remaining <= 0 {
				continue
			}

			var entries []rbdcEntry
			var totalReqPktpf timeunit.PktPerFrame
			for _, ctx := range c.termsInGroup(cat.Label, group.ID) {
				def, ok := c.table.Get(ctx.Fmt)
				if !ok {
					continue
				}
				c.converter.SetModulationEfficiency(def.SpectralEfficiency)
				reqPktpf := c.converter.KbpsToPktpf(timeunit.Kbps(def.AddFec(float64(ctx.RbdcRequestKbps))))
				entries = append(entries, rbdcEntry{ctx: ctx, def: def, reqPktpf: reqPktpf})
				totalReqPktpf += reqPktpf
			}
			if totalReqPktpf == 0 {
				continue
			}

			fairShare := float64(totalReqPktpf) / float64(remaining)
			if fairShare < 1.0 {
				fairShare = 1.0
			}

			for _, e := range entries {
				fairPktpf := float64(e.reqPktpf) / fairShare
				allocPktpf := timeunit.PktPerFrame(fairPktpf)
				c.converter.SetModulationEfficiency(e.def.SpectralEfficiency)
				e.ctx.RbdcAllocation = timeunit.Kbps(e.def.RemoveFec(float64(c.converter.PktpfToKbps(allocPktpf))))
				remaining -= allocPktpf
				if fairShare > 1.0 {
					fractional := fairPktpf - float64(allocPktpf)
					e.ctx.RbdcCreditKbps += timeunit.Kbps(fractional) * c.slotKbps(e.def)
				}
			}

			if fairShare > 1.0 {
				sort.SliceStable(entries, func(i, j int) bool {
					return entries[i].ctx.RbdcCreditKbps > entries[j].ctx.RbdcCreditKbps
				})
				for _, e := range entries {
					if remaining <= 0 {
						break
					}
					slot := c.slotKbps(e.def)
					if e.ctx.RbdcCreditKbps < slot {
						continue
					}
					if e.ctx.MaxRbdcKbps-e.ctx.CraAllocation-e.ctx.RbdcAllocation < slot {
						continue
					}
					e.ctx.RbdcAllocation += slot
					e.ctx.RbdcCreditKbps -= slot
					remaining--
				}
			}

			for _, e := range entries {
				if c.metrics != nil {
					c.metrics.TerminalRBDCAlloc.WithLabelValues(talLabel(e.ctx.TalID)).Set(float64(e.ctx.RbdcAllocation))
				}
			}
			c.setRemainingPktpf(group, remaining)
		}
	}
}

// allocateVBDC implements computeDamaVbdcPerCarrier: terminals are
// served FCFS in descending order of pending request, each assignment
// decreasing that terminal's pending balance by the amount granted.
func (c *Controller) allocateVBDC() {
	for _, cat := range c.sortedCategories() {
		for _, group := range cat.Groups {
			remaining := c.remainingPktpf(group)
			terms := c.termsInGroup(cat.Label, group.ID)
			sort.SliceStable(terms, func(i, j int) bool {
				return terms[i].VbdcRequestKb > terms[j].VbdcRequestKb
			})
			for _, ctx := range terms {
				if remaining <= 0 {
					break
				}
				def, ok := c.table.Get(ctx.Fmt)
				if !ok {
					continue
				}
				c.converter.SetModulationEfficiency(def.SpectralEfficiency)
				reqPkt := c.converter.KbitsToPkt(timeunit.Kilobits(def.AddFec(float64(ctx.VbdcRequestKb))))
				if reqPkt <= 0 {
					continue
				}
				allocPkt := reqPkt
				if timeunit.PktPerFrame(allocPkt) > remaining {
					allocPkt = timeunit.Packets(remaining)
				}
				remaining -= timeunit.PktPerFrame(allocPkt)
				allocKb := timeunit.Kilobits(def.RemoveFec(float64(c.converter.PktToKbits(allocPkt))))
				ctx.VbdcAllocation = allocKb
				ctx.VbdcRequestKb -= allocKb
				if ctx.VbdcRequestKb < 0 {
					ctx.VbdcRequestKb = 0
				}
				if c.metrics != nil {
					c.metrics.TerminalVBDCAlloc.WithLabelValues(talLabel(ctx.TalID)).Set(float64(allocKb))
				}
			}
			c.setRemainingPktpf(group, remaining)
		}
	}
}

// allocateFCA implements computeDamaFcaPerCarrier: a flat per-terminal
// rate cap handed out, highest remaining-RBDC-credit first, "a random
// but logical choice" per the source's own comment.
func (c *Controller) allocateFCA() {
	for _, cat := range c.sortedCategories() {
		for _, group := range cat.Groups {
			remaining := c.remainingPktpf(group)
			terms := c.termsInGroup(cat.Label, group.ID)
			sort.SliceStable(terms, func(i, j int) bool {
				return terms[i].RbdcCreditKbps > terms[j].RbdcCreditKbps
			})
			for _, ctx := range terms {
				if remaining <= 0 {
					break
				}
				def, ok := c.table.Get(ctx.Fmt)
				if !ok {
					continue
				}
				c.converter.SetModulationEfficiency(def.SpectralEfficiency)
				fcaPktpf := c.converter.KbpsToPktpf(timeunit.Kbps(def.AddFec(float64(c.cfg.FcaKbps))))
				var allocPktpf timeunit.PktPerFrame
				if remaining > fcaPktpf {
					allocPktpf = fcaPktpf
					remaining -= fcaPktpf
				} else {
					allocPktpf = remaining
					remaining = 0
				}
				ctx.FcaAllocation = timeunit.Kbps(def.RemoveFec(float64(c.converter.PktpfToKbps(allocPktpf))))
				if c.metrics != nil {
					c.metrics.TerminalFCAAlloc.WithLabelValues(talLabel(ctx.TalID)).Set(float64(ctx.FcaAllocation))
				}
			}
			c.setRemainingPktpf(group, remaining)
		}
	}
}

// buildTimePlans implements build_ttp: one TimePlan per logged-on
// terminal, its assignment_count summing CRA+RBDC+FCA (rates, scaled to
// a per-frame kbit volume) and VBDC (already a volume).
func (c *Controller) buildTimePlans() []dvbframe.TimePlan {
	frameMs := c.converter.GetFrameDuration()

	ids := make([]timeunit.TerminalID, 0, len(c.terminals))
	for id := range c.terminals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	plans := make([]dvbframe.TimePlan, 0, len(ids))
	for _, id := range ids {
		ctx := c.terminals[id]
		rateKbps := ctx.CraAllocation + ctx.RbdcAllocation + ctx.FcaAllocation
		kbPerFrame := timeunit.Kilobits(float64(rateKbps) * float64(frameMs) / 1000)
		total := kbPerFrame + ctx.VbdcAllocation
		plans = append(plans, dvbframe.TimePlan{
			TalID:             ctx.TalID,
			AssignmentCountKb: uint32(total),
			FmtID:             ctx.Fmt,
		})
	}
	return plans
}

// PEPAllocateRequest is an external PEP command raising a terminal's
// CRA/max-RBDC envelope, applied pep_allocation_delay_sf superframes
// after sf.
// Grounded on SvnoRequest.h's PEP request shape.
type PEPAllocateRequest struct {
	CommandID   uuid.UUID
	TalID       timeunit.TerminalID
	CraKbps     timeunit.Kbps
	MaxRbdcKbps timeunit.Kbps
}

// RequestPEPAllocate queues req for application cfg.PepAllocationDelaySf
// superframes after sf.
func (c *Controller) RequestPEPAllocate(sf timeunit.SuperframeIndex, req PEPAllocateRequest) {
	if req.CommandID == uuid.Nil {
		req.CommandID = uuid.New()
	}
	c.pending = append(c.pending, pendingPEP{
		applyAtSF: sf + c.cfg.PepAllocationDelaySf,
		talID:     req.TalID,
		craKbps:   req.CraKbps,
		maxRbdc:   req.MaxRbdcKbps,
		cmdID:     req.CommandID,
	})
}

// ApplyPEPRelease restores a terminal's envelope immediately; Release
// commands are never delayed.
func (c *Controller) ApplyPEPRelease(talID timeunit.TerminalID, craKbps, maxRbdcKbps timeunit.Kbps) {
	ctx, ok := c.terminals[talID]
	if !ok {
		return
	}
	ctx.CraKbps = craKbps
	ctx.MaxRbdcKbps = maxRbdcKbps
}

func (c *Controller) applyDuePEP(sf timeunit.SuperframeIndex) {
	var remaining []pendingPEP
	for _, p := range c.pending {
		if p.applyAtSF > sf {
			remaining = append(remaining, p)
			continue
		}
		if ctx, ok := c.terminals[p.talID]; ok {
			ctx.CraKbps = p.craKbps
			ctx.MaxRbdcKbps = p.maxRbdc
			if c.log != nil {
				c.log.Info("applied PEP allocate",
					zap.String("command_id", p.cmdID.String()),
					zap.Uint16("tal_id", uint16(p.talID)))
			}
		}
	}
	c.pending = remaining
}

// SVNORequest adjusts a category's total return-link capacity.
// Grounded on SvnoRequest.h; only the return direction is modelled here
// since forward-link capacity belongs to internal/s2sched.
type SVNORequest struct {
	CommandID     uuid.UUID
	CategoryLabel string
	RateKbps      float64
}

// ApplySVNO rescales every carrier group in the named category so their
// total capacity sums to req.RateKbps, preserving each group's existing
// ratio (the same redistribution carrier.Group.SetCapacity already
// performs for VCM children).
func (c *Controller) ApplySVNO(req SVNORequest) error {
	cat, ok := c.cfg.Categories[req.CategoryLabel]
	if !ok {
		return cerr.New(cerr.NoCategory, "unknown category for SVNO request")
	}
	maxID := c.table.MaxID()
	def, ok := c.table.Get(maxID)
	if !ok {
		return cerr.New(cerr.ModcodNotServable, "no modcod table for SVNO capacity conversion")
	}
	c.converter.SetModulationEfficiency(def.SpectralEfficiency)
	targetSym := timeunit.Symbols(req.RateKbps * float64(c.converter.GetFrameDuration()) / def.SpectralEfficiency)

	var totalRatio uint
	for _, g := range cat.Groups {
		totalRatio += g.Ratio
	}
	if totalRatio == 0 {
		return nil
	}
	for _, g := range cat.Groups {
		g.SetCapacity(timeunit.Symbols(float64(g.Ratio) / float64(totalRatio) * float64(targetSym)))
	}
	if c.log != nil {
		c.log.Info("applied SVNO capacity change",
			zap.String("command_id", req.CommandID.String()),
			zap.String("category", req.CategoryLabel),
			zap.Float64("rate_kbps", req.RateKbps))
	}
	return nil
}

func talLabel(id timeunit.TerminalID) string { return strconv.Itoa(int(id)) }

// CurrentModcod returns the MODCOD a logged-on terminal is assigned
// this superframe, the forward-scheduler's ModcodLookup half. A
// terminal with fmt == 0 (unservable this frame) reports not-ok, so the
// forward scheduler drops a packet destined to it rather than sending
// it unreadable.
func (c *Controller) CurrentModcod(tal timeunit.TerminalID) (timeunit.FmtID, bool) {
	ctx, ok := c.terminals[tal]
	if !ok || ctx.Fmt == 0 {
		return 0, false
	}
	return ctx.Fmt, true
}

// TerminalWithLowestModcod returns the logged-on terminal whose
// assigned MODCOD id is weakest, used to pick a servable MODCOD for a
// broadcast forward packet (the source broadcasts at the MODCOD every
// registered terminal can decode).
func (c *Controller) TerminalWithLowestModcod() (timeunit.TerminalID, bool) {
	var best *TerminalContext
	for _, ctx := range c.terminals {
		if ctx.Fmt == 0 {
			continue
		}
		if best == nil || ctx.Fmt < best.Fmt || (ctx.Fmt == best.Fmt && ctx.TalID < best.TalID) {
			best = ctx
		}
	}
	if best == nil {
		return 0, false
	}
	return best.TalID, true
}
