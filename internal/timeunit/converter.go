package timeunit

// Kind distinguishes the two unit converter flavors: fixed-bit-length
// (classic DVB-RCS, a constant bit length per packet) and
// fixed-symbol-length (DVB-RCS2, a constant burst length in symbols
// combined with the current MODCOD's modulation efficiency).
type Kind int

const (
	FixedBitLength Kind = iota
	FixedSymbolLength
)

// Converter converts between rates/volumes expressed in kbit/s, symbols,
// packets and packets-per-frame. It is not safe for concurrent use
// without external synchronisation — callers (the DAMA agent, the
// return scheduler) run single-threaded per superframe and set the
// modulation efficiency just before using the converter, matching the
// source's UnitConverter::setModulationEfficiency contract.
type Converter struct {
	kind                 Kind
	frameDurationMs      Milliseconds
	fixedBitLength       Bits    // valid when kind == FixedBitLength
	fixedSymbolLength    Symbols // valid when kind == FixedSymbolLength
	modulationEfficiency float64
}

// NewFixedBitLength builds a converter for the classic DVB-RCS case
// where every packet occupies a constant number of bits.
func NewFixedBitLength(frameDurationMs Milliseconds, bitLength Bits) *Converter {
	return &Converter{
		kind:                 FixedBitLength,
		frameDurationMs:      frameDurationMs,
		fixedBitLength:       bitLength,
		modulationEfficiency: 1,
	}
}

// NewFixedSymbolLength builds a converter for DVB-RCS2 where every burst
// occupies a constant number of symbols and the bit length varies with
// the MODCOD in effect.
func NewFixedSymbolLength(frameDurationMs Milliseconds, burstLengthSym Symbols) *Converter {
	return &Converter{
		kind:                 FixedSymbolLength,
		frameDurationMs:      frameDurationMs,
		fixedSymbolLength:    burstLengthSym,
		modulationEfficiency: 1,
	}
}

// SetModulationEfficiency must be called with the MODCOD in effect
// before any conversion. A zero efficiency marks "no MODCOD available"
// and conversions relying on it return zero rather than dividing by
// zero.
func (c *Converter) SetModulationEfficiency(e float64) { c.modulationEfficiency = e }

// GetModulationEfficiency returns the efficiency currently in effect.
func (c *Converter) GetModulationEfficiency() float64 { return c.modulationEfficiency }

// GetFrameDuration returns the configured frame duration.
func (c *Converter) GetFrameDuration() Milliseconds { return c.frameDurationMs }

// GetPacketBitLength returns the bit length of one packet/burst under
// the current MODCOD.
func (c *Converter) GetPacketBitLength() Bits {
	switch c.kind {
	case FixedBitLength:
		return c.fixedBitLength
	case FixedSymbolLength:
		if c.modulationEfficiency <= 0 {
			return 0
		}
		return Bits(float64(c.fixedSymbolLength) * c.modulationEfficiency)
	default:
		return 0
	}
}

// GetPacketSymbolLength returns the symbol length of one packet/burst
// under the current MODCOD.
func (c *Converter) GetPacketSymbolLength() Symbols {
	switch c.kind {
	case FixedSymbolLength:
		return c.fixedSymbolLength
	case FixedBitLength:
		if c.modulationEfficiency <= 0 {
			return 0
		}
		return Symbols(float64(c.fixedBitLength) / c.modulationEfficiency)
	default:
		return 0
	}
}

// KbpsToPktpf converts a rate in kbit/s to packets-per-frame, flooring
// (the rate->volume direction always quantises down).
func (c *Converter) KbpsToPktpf(r Kbps) PktPerFrame {
	bitLen := c.GetPacketBitLength()
	if bitLen <= 0 {
		return 0
	}
	return PktPerFrame(float64(r) * float64(c.frameDurationMs) / float64(bitLen))
}

// PktpfToKbps is the exact inverse direction. Note that the round trip
// kbps->pktpf->kbps is a contraction, not an identity: KbpsToPktpf
// floors.
func (c *Converter) PktpfToKbps(n PktPerFrame) Kbps {
	if c.frameDurationMs <= 0 {
		return 0
	}
	bitLen := c.GetPacketBitLength()
	return Kbps(float64(n) * float64(bitLen) / float64(c.frameDurationMs))
}

// SymToPkt converts a symbol volume to a packet count, flooring.
func (c *Converter) SymToPkt(s Symbols) Packets {
	bitLen := c.GetPacketBitLength()
	if bitLen <= 0 {
		return 0
	}
	return Packets(float64(s) * c.modulationEfficiency / float64(bitLen))
}

// PktToSym converts a packet count to a symbol volume.
func (c *Converter) PktToSym(n Packets) Symbols {
	if c.modulationEfficiency <= 0 {
		return 0
	}
	bitLen := c.GetPacketBitLength()
	return Symbols(float64(n) * float64(bitLen) / c.modulationEfficiency)
}

// PktpfToSymps converts a per-frame packet allocation to the symbols it
// occupies, the per-frame counterpart of PktToSym.
func (c *Converter) PktpfToSymps(n PktPerFrame) Symbols {
	return c.PktToSym(Packets(n))
}

// KbitsToPkt converts a raw kilobit volume (not a rate) to a packet
// count, flooring. Used for VBDC requests which are expressed as a
// volume rather than a rate.
func (c *Converter) KbitsToPkt(kb Kilobits) Packets {
	bitLen := c.GetPacketBitLength()
	if bitLen <= 0 {
		return 0
	}
	return Packets(float64(kb) * 1000 / float64(bitLen))
}

// PktToKbits is the inverse of KbitsToPkt.
func (c *Converter) PktToKbits(n Packets) Kilobits {
	bitLen := c.GetPacketBitLength()
	return Kilobits(float64(n) * float64(bitLen) / 1000)
}

// PerFrameToPerSecond scales a per-frame quantity to a per-second rate.
func (c *Converter) PerFrameToPerSecond(perFrame float64) float64 {
	if c.frameDurationMs <= 0 {
		return 0
	}
	return perFrame * 1000 / float64(c.frameDurationMs)
}
