// Package modcod implements the MODCOD table: id -> coding rate /
// spectral efficiency / Es/N0 / BBFrame payload bytes, FEC scaling, and
// symbol<->kbit conversion. Grounded on the FmtDefinition/
// FmtDefinitionTable classes referenced throughout
// opensand-core/src/dvb/dama, and on ForwardSchedulingS2.cpp's
// getPayloadSize (ETSI EN 302 307 v1.2.1 Table 5a).
package modcod

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/CNES/opensand-sub007/internal/timeunit"
)

// defaultPayloadBytes is used for a coding rate not present in Table 5a.
const defaultPayloadBytes = 8100

var table5a = map[string]int{
	"1/4":  2001,
	"1/3":  2676,
	"2/5":  3216,
	"1/2":  4026,
	"3/5":  4836,
	"2/3":  5380,
	"3/4":  6051,
	"4/5":  6456,
	"5/6":  6730,
	"8/9":  7184,
	"9/10": 7274,
}

// Definition describes one MODCOD entry.
type Definition struct {
	ID                 timeunit.FmtID
	ModulationName     string
	CodingRate         string // e.g. "3/4"
	SpectralEfficiency float64
	RequiredEsN0dB     float64
}

// codingRateValue parses "num/denom" into a fraction in (0,1]. An
// unparsable string yields 1 (no FEC scaling), matching a defensive
// fallback rather than a panic on malformed config.
func (d Definition) codingRateValue() float64 {
	num, den, ok := parseFraction(d.CodingRate)
	if !ok || den == 0 {
		return 1
	}
	return num / den
}

func parseFraction(s string) (num, den float64, ok bool) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	n, err1 := strconv.ParseFloat(parts[0], 64)
	d, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return n, d, true
}

// PayloadBytes returns the BBFrame payload size for this coding rate per
// ETSI EN 302 307 v1.2.1 Table 5a, or the default of 8100 bytes for an
// unrecognised coding rate.
func (d Definition) PayloadBytes() int {
	if b, ok := table5a[d.CodingRate]; ok {
		return b
	}
	return defaultPayloadBytes
}

// AddFec scales an information-rate-or-volume quantity up to the
// on-the-wire quantity that includes FEC redundancy.
func (d Definition) AddFec(k float64) float64 {
	rate := d.codingRateValue()
	if rate <= 0 {
		return k
	}
	return k / rate
}

// RemoveFec is the inverse of AddFec; remove_fec(add_fec(x)) == x
// within 1-bit rounding for a valid coding rate.
func (d Definition) RemoveFec(k float64) float64 {
	return k * d.codingRateValue()
}

// BBFrameSymbols returns the number of symbols a BBFrame using this
// MODCOD occupies: payload_bytes*8/spectral_efficiency, rounded down.
func (d Definition) BBFrameSymbols() timeunit.Symbols {
	if d.SpectralEfficiency <= 0 {
		return 0
	}
	return timeunit.Symbols(float64(d.PayloadBytes()) * 8 / d.SpectralEfficiency)
}

// Table is an ordered collection of Definitions keyed by id.
type Table struct {
	defs map[timeunit.FmtID]Definition
}

// NewTable builds an empty table.
func NewTable() *Table {
	return &Table{defs: make(map[timeunit.FmtID]Definition)}
}

// Add registers a MODCOD definition, overwriting any prior definition
// with the same id.
func (t *Table) Add(d Definition) { t.defs[d.ID] = d }

// Get returns the definition for id, if known.
func (t *Table) Get(id timeunit.FmtID) (Definition, bool) {
	d, ok := t.defs[id]
	return d, ok
}

// MaxID returns the largest registered MODCOD id, or 0 if the table is
// empty.
func (t *Table) MaxID() timeunit.FmtID {
	var max timeunit.FmtID
	for id := range t.defs {
		if id > max {
			max = id
		}
	}
	return max
}

// IDs returns every registered id in ascending order.
func (t *Table) IDs() []timeunit.FmtID {
	ids := make([]timeunit.FmtID, 0, len(t.defs))
	for id := range t.defs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SymToKbits converts a symbol volume to a kilobit volume using the
// spectral efficiency of the given MODCOD.
func (t *Table) SymToKbits(id timeunit.FmtID, sym timeunit.Symbols) timeunit.Kilobits {
	d, ok := t.defs[id]
	if !ok {
		return 0
	}
	return timeunit.Kilobits(float64(sym) * d.SpectralEfficiency / 1000)
}

// NearestInSet implements get_nearest_fmt: the smallest id in ids that
// is >= requested; if none, the largest id < requested; 0 if ids is
// empty. ids need not be sorted.
func NearestInSet(ids []timeunit.FmtID, requested timeunit.FmtID) timeunit.FmtID {
	if len(ids) == 0 {
		return 0
	}
	sorted := append([]timeunit.FmtID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for _, id := range sorted {
		if id >= requested {
			return id
		}
	}
	// none >= requested: largest id < requested, i.e. the last one.
	return sorted[len(sorted)-1]
}

// String is used for log messages that need a human-readable MODCOD
// description.
func (d Definition) String() string {
	return fmt.Sprintf("modcod#%d(%s %s)", d.ID, d.ModulationName, d.CodingRate)
}
