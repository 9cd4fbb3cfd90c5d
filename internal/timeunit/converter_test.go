package timeunit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKbpsToPktpfIsContraction(t *testing.T) {
	// frame_ms=26.5ms-ish rounded to 27 for integer arithmetic simplicity;
	// bit length of 536 bits (one ATM cell payload, a common RCS burst size).
	c := NewFixedBitLength(27, 536)

	pktpf := c.KbpsToPktpf(100)
	back := c.PktpfToKbps(pktpf)

	// kbps -> pktpf -> kbps must never exceed the original (quantises down).
	assert.LessOrEqual(t, float64(back), 100.0+1e-9)
}

func TestPktpfToKbpsToPktpfIsIdentity(t *testing.T) {
	c := NewFixedBitLength(27, 536)

	for n := PktPerFrame(0); n < 50; n++ {
		kbps := c.PktpfToKbps(n)
		back := c.KbpsToPktpf(kbps)
		require.Equal(t, n, back, "pktpf=%d", n)
	}
}

func TestFixedSymbolLengthDerivesBitLengthFromEfficiency(t *testing.T) {
	c := NewFixedSymbolLength(10, 1000) // 1000 symbol bursts
	c.SetModulationEfficiency(2.0)      // QPSK-ish: 2 bits/symbol

	assert.Equal(t, Bits(2000), c.GetPacketBitLength())
	assert.Equal(t, Symbols(1000), c.GetPacketSymbolLength())
}

func TestZeroModulationEfficiencyIsSafe(t *testing.T) {
	c := NewFixedSymbolLength(10, 1000)
	c.SetModulationEfficiency(0)

	assert.Equal(t, Bits(0), c.GetPacketBitLength())
	assert.Equal(t, PktPerFrame(0), c.KbpsToPktpf(1000))
	assert.Equal(t, Packets(0), c.SymToPkt(500))
}

func TestSymToPktRoundTrip(t *testing.T) {
	c := NewFixedBitLength(27, 536)
	c.SetModulationEfficiency(2.0)

	for n := Packets(0); n < 20; n++ {
		sym := c.PktToSym(n)
		back := c.SymToPkt(sym)
		require.Equal(t, n, back)
	}
}

func TestKbitsToPktRoundTrip(t *testing.T) {
	c := NewFixedBitLength(27, 536)

	for kb := Kilobits(0); kb < 100; kb += 7 {
		pkt := c.KbitsToPkt(kb)
		back := c.PktToKbits(pkt)
		assert.LessOrEqual(t, float64(back), float64(kb)+1e-9)
	}
}
