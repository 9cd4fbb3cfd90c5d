package carrier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CNES/opensand-sub007/internal/timeunit"
)

func TestVCMCapacityRedistributesByRatio(t *testing.T) {
	g := NewGroup(1, []timeunit.FmtID{4}, 1, 1e6, ACM)
	g.AddVCM([]timeunit.FmtID{4}, 1) // first child, ratio already reflected
	g.AddVCM([]timeunit.FmtID{8}, 3) // second child, adds 3 to parent ratio

	require.Equal(t, uint(4), g.Ratio)

	g.SetCapacity(1000)

	children := g.VCMCarriers()
	require.Len(t, children, 2)
	assert.Equal(t, timeunit.Symbols(250), children[0].TotalCapacity())
	assert.Equal(t, timeunit.Symbols(750), children[1].TotalCapacity())
}

func TestPreviousCapacityOnlyValidForMatchingSuperframe(t *testing.T) {
	g := NewGroup(1, []timeunit.FmtID{4}, 1, 1e6, CCM)

	g.SetPreviousCapacity(42, 10)
	assert.Equal(t, timeunit.Symbols(42), g.PreviousCapacity(10))
	assert.Equal(t, timeunit.Symbols(0), g.PreviousCapacity(11))
}

func TestResetCapacityIsIdempotent(t *testing.T) {
	g := NewGroup(1, []timeunit.FmtID{4}, 1, 1e6, CCM)
	g.SetCapacity(100)
	g.SetPreviousCapacity(5, 7)

	g.ResetCapacity(7)
	first := g.RemainingCapacity()
	g.ResetCapacity(7)
	second := g.RemainingCapacity()

	assert.Equal(t, timeunit.Symbols(105), first)
	assert.Equal(t, first, second)
}

func TestResetCapacityCascadesToVCMChildren(t *testing.T) {
	g := NewGroup(1, []timeunit.FmtID{4}, 1, 1e6, ACM)
	child := g.AddVCM([]timeunit.FmtID{8}, 1)
	g.SetCapacity(100)
	child.SetPreviousCapacity(10, 3)

	g.ResetCapacity(3)

	assert.Equal(t, timeunit.Symbols(110), child.RemainingCapacity())
}

func TestNearestFmtPerGroup(t *testing.T) {
	g := NewGroup(1, []timeunit.FmtID{4, 8, 12}, 1, 1e6, CCM)
	assert.Equal(t, timeunit.FmtID(8), g.NearestFmt(5))
	assert.Equal(t, timeunit.FmtID(0), NewGroup(2, nil, 1, 1e6, CCM).NearestFmt(5))
}

func TestSelectCarrierForFmtPrefersFirstQualifying(t *testing.T) {
	low := NewGroup(1, []timeunit.FmtID{2, 4}, 1, 1e6, CCM)
	high := NewGroup(2, []timeunit.FmtID{10, 12}, 1, 1e6, CCM)
	cat := NewCategory("standard", low, high)

	g, fmtID := cat.SelectCarrierForFmt(9)
	assert.Same(t, high, g)
	assert.Equal(t, timeunit.FmtID(10), fmtID)
}

func TestSelectCarrierForFmtFallsBackToBestBelow(t *testing.T) {
	low := NewGroup(1, []timeunit.FmtID{2, 4}, 1, 1e6, CCM)
	mid := NewGroup(2, []timeunit.FmtID{6}, 1, 1e6, CCM)
	cat := NewCategory("standard", low, mid)

	g, fmtID := cat.SelectCarrierForFmt(20)
	assert.Same(t, mid, g)
	assert.Equal(t, timeunit.FmtID(6), fmtID)
}

func TestSelectCarrierForFmtUnservable(t *testing.T) {
	empty := NewGroup(1, nil, 1, 1e6, CCM)
	cat := NewCategory("standard", empty)

	g, fmtID := cat.SelectCarrierForFmt(5)
	assert.Nil(t, g)
	assert.Equal(t, timeunit.FmtID(0), fmtID)
}

func TestCategoryTotalCapacitySym(t *testing.T) {
	a := NewGroup(1, []timeunit.FmtID{4}, 1, 1e6, CCM)
	a.SetCapacity(100)
	b := NewGroup(2, []timeunit.FmtID{4}, 1, 1e6, CCM)
	b.SetCapacity(50)
	cat := NewCategory("standard", a, b)

	assert.Equal(t, timeunit.Symbols(150), cat.TotalCapacitySym())
}
