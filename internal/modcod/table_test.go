package modcod

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CNES/opensand-sub007/internal/timeunit"
)

func TestPayloadBytesTable5a(t *testing.T) {
	d := Definition{CodingRate: "3/4"}
	assert.Equal(t, 6051, d.PayloadBytes())

	unknown := Definition{CodingRate: "7/11"}
	assert.Equal(t, defaultPayloadBytes, unknown.PayloadBytes())
}

func TestAddRemoveFecRoundTrip(t *testing.T) {
	d := Definition{CodingRate: "2/3"}
	x := 300.0
	withFec := d.AddFec(x)
	back := d.RemoveFec(withFec)
	assert.InDelta(t, x, back, 1e-9)
}

func TestBBFrameSymbols(t *testing.T) {
	d := Definition{CodingRate: "1/2", SpectralEfficiency: 1.0}
	// payload 4026 bytes * 8 bits / 1.0 = 32208 symbols
	assert.Equal(t, timeunit.Symbols(32208), d.BBFrameSymbols())
}

func TestNearestInSet(t *testing.T) {
	ids := []timeunit.FmtID{4, 8, 12, 16}

	assert.Equal(t, timeunit.FmtID(8), NearestInSet(ids, 6))
	assert.Equal(t, timeunit.FmtID(4), NearestInSet(ids, 4))
	assert.Equal(t, timeunit.FmtID(16), NearestInSet(ids, 16))
	// above every supported id: fall back to the largest id below it
	assert.Equal(t, timeunit.FmtID(16), NearestInSet(ids, 20))
	assert.Equal(t, timeunit.FmtID(0), NearestInSet(nil, 5))
}

func TestTableMaxIDAndSymToKbits(t *testing.T) {
	tbl := NewTable()
	tbl.Add(Definition{ID: 1, SpectralEfficiency: 1.0})
	tbl.Add(Definition{ID: 28, SpectralEfficiency: 4.0})

	require.Equal(t, timeunit.FmtID(28), tbl.MaxID())
	// 1000 symbols * 4 bits/symbol / 1000 = 4 kbit
	assert.Equal(t, timeunit.Kilobits(4), tbl.SymToKbits(28, 1000))
	assert.Equal(t, timeunit.Kilobits(0), tbl.SymToKbits(99, 1000))
}
