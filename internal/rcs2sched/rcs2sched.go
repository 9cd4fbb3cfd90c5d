// Package rcs2sched implements the terminal-side return-link scheduler
// (component C6): it drains MAC FIFOs into fixed-length DVB-RCS2 bursts
// up to the granted per-frame symbol/bit budget. Grounded on
// ReturnSchedulingRcs2.cpp/.h, with the source's explicit state machine
// (state_next_fifo/state_get_chunk/...) folded into plain nested loops.
package rcs2sched

import (
	"go.uber.org/zap"

	"github.com/CNES/opensand-sub007/internal/dvbframe"
	"github.com/CNES/opensand-sub007/internal/encap"
	"github.com/CNES/opensand-sub007/internal/macfifo"
	"github.com/CNES/opensand-sub007/internal/timeunit"
)

// salohaAccessType marks a FIFO as carrying random-access traffic,
// which this scheduler (DAMA-assigned bursts only) must skip.
const salohaAccessType macfifo.AccessType = "SALOHA"

// Scheduler builds return-link DVB-RCS2 frames from a set of MAC FIFOs.
type Scheduler struct {
	handler       encap.PacketHandler
	log           *zap.Logger
	burstMaxBytes int
}

// New builds a return-link scheduler.
func New(handler encap.PacketHandler, log *zap.Logger) *Scheduler {
	return &Scheduler{handler: handler, log: log}
}

// SetMaxBurstLength sets the per-burst byte budget from a bit length,
// mirroring ReturnSchedulingRcs2::setMaxBurstLength.
func (s *Scheduler) SetMaxBurstLength(length timeunit.Bits) {
	s.burstMaxBytes = int(length) / 8
}

// MaxBurstLength returns the configured per-burst byte budget in bits.
func (s *Scheduler) MaxBurstLength() timeunit.Bits {
	return timeunit.Bits(s.burstMaxBytes * 8)
}

// Schedule drains fifos, in the order given (MAC FIFO priority order),
// into DVB-RCS2 frames addressed to spot/carrier under modcod, until
// remainingAllocationBits is exhausted or every FIFO is empty. It
// returns the completed frames and the allocation left unused.
func (s *Scheduler) Schedule(
	sf timeunit.SuperframeIndex,
	spot timeunit.SpotID,
	carrier timeunit.CarrierID,
	modcod timeunit.FmtID,
	fifos []*macfifo.Fifo[[]byte],
	remainingAllocationBits timeunit.Bits,
) ([]*dvbframe.Frame, timeunit.Bits) {
	if s.burstMaxBytes <= 0 {
		if s.log != nil {
			s.log.Debug("max burst length does not allow sending data", zap.Uint32("sf", uint32(sf)))
		}
		return nil, remainingAllocationBits
	}

	var frames []*dvbframe.Frame
	var packets [][]byte
	frameBytes := 0

	finalize := func() {
		if len(packets) == 0 {
			return
		}
		frames = append(frames, dvbframe.NewDvbRcs2Frame(spot, carrier, modcod, frameBytes, packets))
		remainingAllocationBits -= timeunit.Bits(frameBytes * 8)
		if remainingAllocationBits < 0 {
			remainingAllocationBits = 0
		}
		packets = nil
		frameBytes = 0
	}

fifoLoop:
	for _, fifo := range fifos {
		if fifo.AccessType == salohaAccessType {
			continue
		}

		for fifo.Len() > 0 {
			if remainingAllocationBits <= 0 {
				break fifoLoop
			}

			elem, ok := fifo.Pop()
			if !ok {
				break
			}

			freeSpace := s.burstMaxBytes - frameBytes
			chunk, remainder, err := s.handler.EncapNextPacket(elem.Packet, freeSpace, len(packets) == 0)
			if err != nil {
				if s.log != nil {
					s.log.Error("encapsulation failed, dropping packet", zap.Error(err))
				}
				continue
			}

			if remainder != nil {
				fifo.PushFront(macfifo.Element[[]byte]{Packet: remainder, Length: len(remainder), TickIn: elem.TickIn})
			}

			if chunk == nil {
				finalize()
				continue
			}

			packets = append(packets, chunk)
			frameBytes += len(chunk)

			if frameBytes >= s.burstMaxBytes || remainingAllocationBits <= timeunit.Bits(frameBytes*8) {
				finalize()
			}
		}
	}

	finalize()
	return frames, remainingAllocationBits
}
