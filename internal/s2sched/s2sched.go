// Package s2sched implements the gateway-side forward-link DVB-S2
// BBFrame scheduler (component C7): per-MODCOD BBFrame assembly, VCM /
// ACM / CCM carrier admission, pending-frame carry-over across
// superframes, and broadcast-to-lowest-MODCOD. Grounded on
// ForwardSchedulingS2.cpp (schedule, scheduleEncapPackets,
// schedulePacket, schedulePending, createIncompleteBBFrame,
// addCompleteBBFrame) — the single largest algorithm in the corpus.
package s2sched

import (
	"go.uber.org/zap"

	"github.com/CNES/opensand-sub007/internal/carrier"
	"github.com/CNES/opensand-sub007/internal/cerr"
	"github.com/CNES/opensand-sub007/internal/dvbframe"
	"github.com/CNES/opensand-sub007/internal/encap"
	"github.com/CNES/opensand-sub007/internal/macfifo"
	"github.com/CNES/opensand-sub007/internal/modcod"
	"github.com/CNES/opensand-sub007/internal/telemetry"
	"github.com/CNES/opensand-sub007/internal/timeunit"
)

// acmAccessType names the access-type label a MAC FIFO must carry to be
// eligible on an ACM (single-carrier) group; on a VCM (multi-carrier)
// group a FIFO must carry vcmAccessType followed by the sub-carrier's
// index ("VCM0", "VCM1", ...).
const (
	acmAccessType macfifo.AccessType = "ACM"
	vcmAccessType macfifo.AccessType = "VCM"
)

// Packet is one upper-layer packet awaiting forward-link scheduling,
// tagged with its destination terminal so the scheduler can pick the
// right MODCOD (or the lowest registered one, for a broadcast packet).
type Packet struct {
	DstTalID timeunit.TerminalID
	Data     []byte
}

// ModcodLookup resolves a terminal's currently reported MODCOD, and the
// terminal using the weakest MODCOD registered on this spot — used to
// pick a servable MODCOD for a broadcast packet. Implemented by the
// DAMA controller's terminal registry.
type ModcodLookup interface {
	CurrentModcod(tal timeunit.TerminalID) (timeunit.FmtID, bool)
	TerminalWithLowestModcod() (timeunit.TerminalID, bool)
}

type bbframeBuilder struct {
	modcodID  timeunit.FmtID
	maxBytes  int
	usedBytes int
	packets   [][]byte
}

func (b *bbframeBuilder) freeSpace() int { return b.maxBytes - b.usedBytes }
func (b *bbframeBuilder) packetsCount() int { return len(b.packets) }
func (b *bbframeBuilder) add(chunk []byte) {
	b.packets = append(b.packets, chunk)
	b.usedBytes += len(chunk)
}

// Scheduler assembles DVB-S2 BBFrames for one terminal category.
type Scheduler struct {
	handler  encap.PacketHandler
	table    *modcod.Table
	category *carrier.Category
	lookup   ModcodLookup
	spot     timeunit.SpotID
	log      *zap.Logger
	metrics  *telemetry.Metrics

	incomplete      map[timeunit.FmtID]*bbframeBuilder
	incompleteOrder []timeunit.FmtID
	pending         []*bbframeBuilder
}

// New builds a forward-link scheduler for one category on one spot.
func New(handler encap.PacketHandler, table *modcod.Table, category *carrier.Category, lookup ModcodLookup, spot timeunit.SpotID, log *zap.Logger, metrics *telemetry.Metrics) *Scheduler {
	return &Scheduler{
		handler:    handler,
		table:      table,
		category:   category,
		lookup:     lookup,
		spot:       spot,
		log:        log,
		metrics:    metrics,
		incomplete: make(map[timeunit.FmtID]*bbframeBuilder),
	}
}

// Schedule runs one invocation of the forward scheduler over every
// carrier group (and VCM sub-carrier) of the category, draining fifos
// in priority order. Capacity accounting on each carrier group must
// already have been reset for sf by the caller (carrier.Category.
// ResetCapacity), which folds "total + previous" into RemainingCapacity
// the way this scheduler expects to find it.
func (s *Scheduler) Schedule(sf timeunit.SuperframeIndex, fifos []*macfifo.Fifo[Packet]) ([]*dvbframe.Frame, error) {
	var completed []*dvbframe.Frame

	for _, group := range s.category.Groups {
		vcmGroups := group.VCMCarriers()
		multiVCM := len(vcmGroups) > 1
		targets := vcmGroups
		if len(targets) == 0 {
			targets = []*carrier.Group{group}
		}

		for vcmID, vc := range targets {
			initCapacity := vc.TotalCapacity()
			capacitySym := vc.RemainingCapacity()

			for _, fifo := range fifos {
				if !s.fifoEligible(fifo, multiVCM, vcmID) {
					continue
				}

				if err := s.scheduleEncapPackets(fifo, sf, vc, &capacitySym, initCapacity, &completed); err != nil {
					return nil, err
				}
				if fifo.Len() > 0 {
					// lower-priority FIFOs wait for a future invocation
					break
				}
			}

			vc.SetPreviousCapacity(capacitySym, sf.Next())

			for len(s.incompleteOrder) > 0 {
				if capacitySym <= 0 {
					break
				}
				modcodID := s.incompleteOrder[0]
				bb := s.incomplete[modcodID]
				status, err := s.addCompleteBBFrame(bb, &capacitySym, &completed)
				if err != nil {
					return nil, err
				}
				delete(s.incomplete, modcodID)
				s.incompleteOrder = s.incompleteOrder[1:]
				if status == statusOK {
					continue
				}
				// statusFull: the carrier's remaining capacity can't take it
				// this round, carry it over to be retried next superframe.
				s.pending = append(s.pending, bb)
				vc.SetPreviousCapacity(minSym(capacitySym, initCapacity), sf.Next())
				break
			}

			vc.SetRemainingCapacity(minSym(capacitySym, initCapacity))
			if s.metrics != nil {
				s.metrics.CarrierAvailableCapacity.WithLabelValues(s.category.Label, fmtCarrierID(vc.ID)).Set(float64(initCapacity))
				s.metrics.CarrierRemainingCapacity.WithLabelValues(s.category.Label, fmtCarrierID(vc.ID)).Set(float64(vc.RemainingCapacity()))
			}
		}
	}

	if s.metrics != nil {
		s.metrics.BBFrameCount.Add(float64(len(completed)))
	}
	return completed, nil
}

func (s *Scheduler) fifoEligible(fifo *macfifo.Fifo[Packet], multiVCM bool, vcmID int) bool {
	if !multiVCM {
		return fifo.AccessType == acmAccessType
	}
	return fifo.AccessType == vcmAccessType+macfifo.AccessType(string(rune('0'+vcmID)))
}

func (s *Scheduler) scheduleEncapPackets(fifo *macfifo.Fifo[Packet], sf timeunit.SuperframeIndex, group *carrier.Group, capacitySym *timeunit.Symbols, initCapacity timeunit.Symbols, completed *[]*dvbframe.Frame) error {
	if err := s.schedulePending(group.FmtIDs, capacitySym, completed); err != nil {
		return err
	}
	if len(s.incomplete) == 0 {
		*capacitySym = minSym(initCapacity, *capacitySym)
	}
	if fifo.Len() == 0 {
		return nil
	}

	cur := fifo.Cursor()
	for {
		e, ok := cur.Next()
		if !ok {
			break
		}
		rem, full, err := s.schedulePacket(sf, group, capacitySym, e.Packet, completed)
		if err != nil {
			return err
		}
		if rem != nil {
			cur.Replace(macfifo.Element[Packet]{
				Packet: Packet{DstTalID: e.Packet.DstTalID, Data: rem},
				Length: len(rem),
				TickIn: e.TickIn,
			})
		} else {
			cur.Erase()
		}
		if full {
			break
		}
	}
	return nil
}

// schedulePacket places as much of pkt as capacity allows, possibly
// spanning several BBFrames (one per encapNextPacket fragment). It
// returns a remainder to requeue at the FIFO front when capacity runs
// out mid-packet.
func (s *Scheduler) schedulePacket(sf timeunit.SuperframeIndex, group *carrier.Group, capacitySym *timeunit.Symbols, pkt Packet, completed *[]*dvbframe.Frame) ([]byte, bool, error) {
	data := pkt.Data

	for len(data) > 0 {
		target := pkt.DstTalID
		if target == timeunit.BroadcastTalID {
			t, ok := s.lookup.TerminalWithLowestModcod()
			if !ok {
				if s.log != nil {
					s.log.Warn("broadcast packet dropped: no registered terminal")
				}
				return nil, false, nil
			}
			target = t
		}

		desired, ok := s.lookup.CurrentModcod(target)
		if !ok {
			if s.log != nil {
				s.log.Warn("packet dropped: destination terminal not registered", zap.Uint16("tal_id", uint16(target)))
			}
			return nil, false, nil
		}

		modcodID := group.NearestFmt(desired)
		if modcodID == 0 {
			if s.log != nil {
				s.log.Warn("packet dropped: no carrier serves required modcod",
					zap.Uint16("tal_id", uint16(target)), zap.Uint8("desired_modcod", uint8(desired)))
			}
			return nil, false, nil
		}

		bb, err := s.getOrCreateIncomplete(modcodID)
		if err != nil {
			return nil, false, err
		}

		chunk, remainder, err := s.handler.EncapNextPacket(data, bb.freeSpace(), bb.packetsCount() == 0)
		if err != nil {
			if s.log != nil {
				s.log.Error("encapsulation failed, dropping packet", zap.Error(err))
			}
			return nil, false, nil
		}
		if chunk != nil {
			bb.add(chunk)
		}
		partial := remainder != nil

		if bb.freeSpace() <= 0 || partial {
			status, err := s.addCompleteBBFrame(bb, capacitySym, completed)
			if err != nil {
				return nil, false, err
			}
			delete(s.incomplete, modcodID)
			s.removeFromOrder(modcodID)
			if status == statusFull {
				group.SetPreviousCapacity(*capacitySym, sf.Next())
				s.pending = append(s.pending, bb)
				return remainder, true, nil
			}
		}

		if !partial {
			return nil, false, nil
		}
		data = remainder
	}
	return nil, false, nil
}

func (s *Scheduler) getOrCreateIncomplete(modcodID timeunit.FmtID) (*bbframeBuilder, error) {
	if bb, ok := s.incomplete[modcodID]; ok {
		return bb, nil
	}
	def, ok := s.table.Get(modcodID)
	if !ok {
		return nil, cerr.New(cerr.ModcodNotServable, "no modcod definition").WithCarrier(0)
	}
	bb := &bbframeBuilder{modcodID: modcodID, maxBytes: def.PayloadBytes()}
	s.incomplete[modcodID] = bb
	s.incompleteOrder = append(s.incompleteOrder, modcodID)
	return bb, nil
}

func (s *Scheduler) removeFromOrder(modcodID timeunit.FmtID) {
	for i, id := range s.incompleteOrder {
		if id == modcodID {
			s.incompleteOrder = append(s.incompleteOrder[:i], s.incompleteOrder[i+1:]...)
			return
		}
	}
}

type bbStatus int

const (
	statusOK bbStatus = iota
	statusFull
)

// addCompleteBBFrame finalises bb: if it fits in the carrier's
// remaining symbol budget, emits it and debits the budget; otherwise
// leaves it untouched for the caller to carry over as pending.
func (s *Scheduler) addCompleteBBFrame(bb *bbframeBuilder, capacitySym *timeunit.Symbols, completed *[]*dvbframe.Frame) (bbStatus, error) {
	def, ok := s.table.Get(bb.modcodID)
	if !ok {
		return statusOK, cerr.New(cerr.ModcodNotServable, "no modcod definition for pending bbframe")
	}
	sizeSym := def.BBFrameSymbols()

	if *capacitySym < sizeSym {
		return statusFull, nil
	}

	*completed = append(*completed, dvbframe.NewBBFrame(s.spot, carrierIDFor(bb.modcodID), bb.modcodID, bb.usedBytes, bb.packets))
	*capacitySym -= sizeSym
	if s.metrics != nil {
		s.metrics.SentModcod.WithLabelValues("", "forward").Set(float64(bb.modcodID))
	}
	return statusOK, nil
}

// schedulePending re-attempts every carried-over BBFrame whose MODCOD
// this carrier group still supports, keeping in the pending list
// whatever doesn't fit or isn't supported here.
func (s *Scheduler) schedulePending(supported []timeunit.FmtID, capacitySym *timeunit.Symbols, completed *[]*dvbframe.Frame) error {
	if len(s.pending) == 0 {
		return nil
	}

	var keep []*bbframeBuilder
	for _, bb := range s.pending {
		if !containsFmt(supported, bb.modcodID) {
			keep = append(keep, bb)
			continue
		}
		status, err := s.addCompleteBBFrame(bb, capacitySym, completed)
		if err != nil {
			if s.log != nil {
				s.log.Error("dropping pending bbframe, modcod no longer resolves", zap.Uint8("modcod_id", uint8(bb.modcodID)), zap.Error(err))
			}
			continue
		}
		if status == statusFull {
			keep = append(keep, bb)
		}
	}
	s.pending = keep
	return nil
}

func containsFmt(ids []timeunit.FmtID, target timeunit.FmtID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func minSym(a, b timeunit.Symbols) timeunit.Symbols {
	if a < b {
		return a
	}
	return b
}

// carrierIDFor returns carrier id 0 for every MODCOD, so every emitted
// BBFrame envelope carries carrier id 0; internal/ncc sends the frames
// as they are, without stamping another id.
func carrierIDFor(timeunit.FmtID) timeunit.CarrierID { return 0 }

func fmtCarrierID(id timeunit.CarrierID) string {
	return string(rune('0' + id%10))
}
