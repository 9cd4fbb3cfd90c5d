// Package carrier implements the carrier model: terminal categories,
// carrier groups, VCM sub-carriers, and the remaining/previous capacity
// ledger. Grounded on CarriersGroupDama.cpp/.h and
// TerminalCategoryDama.cpp/.h.
package carrier

import (
	"github.com/CNES/opensand-sub007/internal/modcod"
	"github.com/CNES/opensand-sub007/internal/timeunit"
)

// AccessType distinguishes how a carrier group's MODCOD is driven.
type AccessType int

const (
	// CCM: constant coding/modulation, a single fixed MODCOD.
	CCM AccessType = iota
	// ACM: adaptive coding/modulation, MODCOD chosen per destination.
	ACM
	// VCM: variable coding/modulation, multiple ratio-weighted
	// sub-carriers each with their own MODCOD set.
	VCM
)

// Group is a carrier group: a set of physical carriers sharing a
// supported MODCOD set, a symbol rate, and a capacity ledger. A group
// with VCM sub-carriers distributes its capacity across them by ratio.
type Group struct {
	ID             timeunit.CarrierID
	FmtIDs         []timeunit.FmtID // ordered supported MODCOD set
	Ratio          uint
	SymbolRateSymps float64
	CarrierCount   uint
	AccessType     AccessType

	totalCapacity timeunit.Symbols
	remaining     timeunit.Symbols
	previous      timeunit.Symbols
	previousSF    timeunit.SuperframeIndex
	hasPrevious   bool

	vcm []*Group
}

// NewGroup builds a carrier group with no VCM sub-carriers.
func NewGroup(id timeunit.CarrierID, fmtIDs []timeunit.FmtID, ratio uint, symbolRate float64, access AccessType) *Group {
	return &Group{
		ID:              id,
		FmtIDs:          append([]timeunit.FmtID(nil), fmtIDs...),
		Ratio:           ratio,
		SymbolRateSymps: symbolRate,
		AccessType:      access,
	}
}

// AddVCM adds a VCM sub-carrier, accumulating its ratio into the
// parent's total ratio, mirroring CarriersGroupDama::addVcm: the first
// sub-carrier's ratio is assumed already reflected in the parent's
// ratio; every subsequent one adds to it.
func (g *Group) AddVCM(fmtIDs []timeunit.FmtID, ratio uint) *Group {
	if len(g.vcm) > 0 {
		g.Ratio += ratio
	}
	child := NewGroup(g.ID, fmtIDs, ratio, g.SymbolRateSymps, VCM)
	g.vcm = append(g.vcm, child)
	g.AccessType = VCM
	return child
}

// VCMCarriers returns the VCM sub-carriers of this group, or nil if it
// has none (an ACM/CCM group).
func (g *Group) VCMCarriers() []*Group { return g.vcm }

// SetCapacity sets the group's total per-frame capacity and, if it has
// VCM children, redistributes it proportionally to their ratios,
// flooring, matching CarriersGroupDama::setCapacity.
func (g *Group) SetCapacity(capacitySym timeunit.Symbols) {
	g.totalCapacity = capacitySym
	if len(g.vcm) == 0 || g.Ratio == 0 {
		return
	}
	for _, child := range g.vcm {
		child.SetCapacity(timeunit.Symbols(float64(child.Ratio) * float64(capacitySym) / float64(g.Ratio)))
	}
}

// TotalCapacity returns the group's configured total per-frame capacity.
func (g *Group) TotalCapacity() timeunit.Symbols { return g.totalCapacity }

// SetRemainingCapacity mutates the scheduling ledger.
func (g *Group) SetRemainingCapacity(v timeunit.Symbols) { g.remaining = v }

// RemainingCapacity returns the current scheduling ledger value.
func (g *Group) RemainingCapacity() timeunit.Symbols { return g.remaining }

// SetPreviousCapacity records unused capacity carried over to
// superframe sf (a one-frame carry-over, never longer).
func (g *Group) SetPreviousCapacity(v timeunit.Symbols, sf timeunit.SuperframeIndex) {
	g.previous = v
	g.previousSF = sf
	g.hasPrevious = true
}

// PreviousCapacity returns the carried-over capacity valid for sf, or 0
// if the carry-over was recorded for a different superframe: it is
// non-zero only immediately after scheduling carried unused capacity
// over from the previous superframe.
func (g *Group) PreviousCapacity(sf timeunit.SuperframeIndex) timeunit.Symbols {
	if !g.hasPrevious || g.previousSF != sf {
		return 0
	}
	return g.previous
}

// ResetCapacity implements reset_carriers_capacity() for a single group:
// remaining = total + previous_if_this_sf, else total. Idempotent: two
// calls for the same sf produce the same remaining value. VCM children
// are reset too since the forward scheduler schedules against them
// directly.
func (g *Group) ResetCapacity(sf timeunit.SuperframeIndex) {
	g.remaining = g.totalCapacity + g.PreviousCapacity(sf)
	for _, child := range g.vcm {
		child.ResetCapacity(sf)
	}
}

// NearestFmt implements get_nearest_fmt: the smallest supported MODCOD
// id >= requested; if none, the largest id < requested; 0 if this group
// supports no MODCOD at all.
func (g *Group) NearestFmt(requested timeunit.FmtID) timeunit.FmtID {
	return modcod.NearestInSet(g.FmtIDs, requested)
}

// Category owns one or more carrier groups for a class of terminals
// (e.g. "standard", "pro"), scanned in configuration order by the DAMA
// controller when assigning a terminal's carrier/MODCOD.
type Category struct {
	Label  string
	Groups []*Group
}

// NewCategory builds a category with the given carrier groups, in scan
// order.
func NewCategory(label string, groups ...*Group) *Category {
	return &Category{Label: label, Groups: groups}
}

// ResetCapacity resets every carrier group owned by this category.
func (c *Category) ResetCapacity(sf timeunit.SuperframeIndex) {
	for _, g := range c.Groups {
		g.ResetCapacity(sf)
	}
}

// TotalCapacitySym sums each group's total capacity, in symbols; the
// caller converts to packets-per-frame with the converter in effect for
// each group's MODCOD, since that conversion is MODCOD-dependent.
func (c *Category) TotalCapacitySym() timeunit.Symbols {
	var total timeunit.Symbols
	for _, g := range c.Groups {
		total += g.TotalCapacity()
	}
	return total
}

// SelectCarrierForFmt scans this category's carriers in order and
// picks the first one whose
// nearest-fmt is >= required; if none qualifies, fall back to the
// carrier whose nearest-fmt (necessarily < required) is the largest
// among all carriers; if that nearest id is still 0, the terminal is
// unservable this frame (returns nil, 0).
func (c *Category) SelectCarrierForFmt(required timeunit.FmtID) (*Group, timeunit.FmtID) {
	var bestBelow *Group
	var bestBelowID timeunit.FmtID

	for _, g := range c.Groups {
		nearest := g.NearestFmt(required)
		if nearest == 0 {
			continue
		}
		if nearest >= required {
			return g, nearest
		}
		if nearest > bestBelowID {
			bestBelowID = nearest
			bestBelow = g
		}
	}
	if bestBelow == nil {
		return nil, 0
	}
	return bestBelow, bestBelowID
}
