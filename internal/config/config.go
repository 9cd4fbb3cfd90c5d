// Package config loads and validates the YAML document that drives
// one gateway or terminal process: the time base, the DAMA parameters,
// the return/forward carrier plan, terminal categories and envelopes,
// MAC FIFO instantiation, and the external PEP/SVNO listener
// addresses. Grounded on OpenSandModelConf.h's key surface; strict
// decoding mirrors the teacher's StrictUnmarshalJSON philosophy of
// rejecting configuration it does not recognise rather than silently
// ignoring it.
package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/CNES/opensand-sub007/internal/cerr"
	"github.com/CNES/opensand-sub007/internal/modcod"
	"github.com/CNES/opensand-sub007/internal/timeunit"
)

// ModcodEntry is one `modcod_table[i]` entry: a single MODCOD
// definition, the config-driven analogue of the FmtDefinitionTable the
// source loads from a separate simulation file rather than its main
// XML configuration.
type ModcodEntry struct {
	ID                 uint8   `yaml:"id"`
	ModulationName     string  `yaml:"modulation"`
	CodingRate         string  `yaml:"coding_rate"`
	SpectralEfficiency float64 `yaml:"spectral_efficiency"`
	RequiredEsN0dB     float64 `yaml:"required_es_n0_db"`
}

// TimeBase is the superframe/frame structure every component's unit
// converter is built from.
type TimeBase struct {
	FrameDurationMs    int64   `yaml:"frame_duration_ms"`
	SuperframePerFrame int     `yaml:"superframe_per_frame"`
	Rcs2BurstLengthSym float64 `yaml:"rcs2_burst_length_sym"`
}

// Dama is the gateway DAMA controller's static parameters.
type Dama struct {
	Algorithm            string `yaml:"dama_algorithm"`
	FcaKbps              uint32 `yaml:"fca_kbps"`
	SyncPeriodSf         uint16 `yaml:"sync_period_sf"`
	AcmRefreshPeriodMs   int64  `yaml:"acm_refresh_period_ms"`
	PepAllocationDelaySf uint16 `yaml:"pep_allocation_delay_sf"`
}

// Delay is the propagation-delay FIFO's size and poll period,
// GroundPhysicalChannel's delay_buffer/delay_timer.
type Delay struct {
	BufferSizePkt int   `yaml:"delay_buffer"`
	TimerMs       int64 `yaml:"delay_timer"`
}

// CarrierGroup is one return or forward carrier group: the MODCODs it
// serves, its share of the category's total capacity, its symbol rate,
// and its access discipline.
type CarrierGroup struct {
	ID         uint16   `yaml:"id"`
	FmtIDs     []uint8  `yaml:"fmt_ids"`
	Ratio      uint     `yaml:"ratio"`
	SymbolRate float64  `yaml:"symbol_rate"`
	AccessType string   `yaml:"access_type"` // CCM, ACM, VCM
	VCM        []uint16 `yaml:"vcm_fmt_ids,omitempty"`
}

// Category groups one or more carriers under a label terminals and
// forward FIFOs are assigned to.
type Category struct {
	Label      string         `yaml:"label"`
	CarrierIDs []uint16       `yaml:"carrier_ids"`
	Carriers   []CarrierGroup `yaml:"carriers"`
}

// Terminal is one statically provisioned terminal's category
// assignment and DAMA envelope.
type Terminal struct {
	TalID         uint16 `yaml:"tal_id"`
	Category      string `yaml:"category"`
	CraKbps       uint32 `yaml:"cra_kbps"`
	MaxRbdcKbps   uint32 `yaml:"max_rbdc_kbps"`
	MaxVbdcKb     uint32 `yaml:"max_vbdc_kb"`
	RbdcTimeoutSf uint16 `yaml:"rbdc_timeout_sf"`
}

// Fifo is one gw_fifos[i] entry: a MAC FIFO instantiation.
type Fifo struct {
	Priority    int    `yaml:"priority"`
	Name        string `yaml:"name"`
	CapacityPkt int    `yaml:"capacity"`
	AccessType  string `yaml:"access_type"` // ACM, VCM0..VCM3
}

// QosClass maps a QoS identifier onto the FIFO it is billed to.
type QosClass struct {
	QoS  uint8  `yaml:"qos"`
	Fifo string `yaml:"fifo"`
}

// Simulation selects the return-link request source used when no real
// terminal agents are driving traffic.
type Simulation struct {
	Mode     string `yaml:"mode"` // None, File, Random
	FilePath string `yaml:"file_path,omitempty"`
}

// Root is the top-level configuration document.
type Root struct {
	TimeBase       TimeBase      `yaml:"time_base"`
	ModcodTable    []ModcodEntry `yaml:"modcod_table"`
	Dama           Dama          `yaml:"dama"`
	Delay          Delay         `yaml:"delay"`
	Categories     []Category    `yaml:"categories"`
	Terminals      []Terminal    `yaml:"terminals"`
	GwFifos        []Fifo        `yaml:"gw_fifos"`
	QosClasses     []QosClass    `yaml:"qos_classes"`
	Simulation     Simulation    `yaml:"simulation"`
	PEPListenAddr  string        `yaml:"pep_listen_addr,omitempty"`
	SVNOListenAddr string        `yaml:"svno_listen_addr,omitempty"`
}

// Load reads and strictly decodes the YAML document at path, rejecting
// unknown keys the way the teacher's config loader rejects unknown
// JSON fields, then validates it. Any failure is a cerr.ConfigInvalid,
// matching spec.md §7's "fatal at init" rule.
func Load(path string) (*Root, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, cerr.New(cerr.ConfigInvalid, fmt.Sprintf("open %s: %v", path, err))
	}
	defer f.Close()
	return Decode(f)
}

// Decode strictly decodes a YAML document from r and validates it.
func Decode(r io.Reader) (*Root, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var root Root
	if err := dec.Decode(&root); err != nil {
		return nil, cerr.New(cerr.ConfigInvalid, fmt.Sprintf("decode: %v", err))
	}
	if err := root.Validate(); err != nil {
		return nil, err
	}
	return &root, nil
}

// Validate checks the cross-field invariants a plain YAML schema
// cannot express: the DAMA algorithm is the one variant this core
// implements, every terminal/FIFO category reference resolves, and
// every configured simulation mode is recognised.
func (r *Root) Validate() error {
	if r.TimeBase.FrameDurationMs <= 0 {
		return cerr.New(cerr.ConfigInvalid, "time_base.frame_duration_ms must be positive")
	}
	if r.Dama.Algorithm != "" && r.Dama.Algorithm != "Legacy" {
		return cerr.New(cerr.ConfigInvalid, fmt.Sprintf("unsupported dama_algorithm %q: only \"Legacy\" is implemented", r.Dama.Algorithm))
	}

	labels := make(map[string]bool, len(r.Categories))
	for _, c := range r.Categories {
		if c.Label == "" {
			return cerr.New(cerr.ConfigInvalid, "category with empty label")
		}
		if len(c.Carriers) == 0 {
			return cerr.New(cerr.ConfigInvalid, fmt.Sprintf("category %q has no carriers", c.Label))
		}
		labels[c.Label] = true
	}

	seen := make(map[uint16]bool, len(r.Terminals))
	for _, t := range r.Terminals {
		if seen[t.TalID] {
			return cerr.New(cerr.ConfigInvalid, fmt.Sprintf("duplicate tal_id %d", t.TalID))
		}
		seen[t.TalID] = true
		if t.Category != "" && !labels[t.Category] {
			return cerr.New(cerr.ConfigInvalid, fmt.Sprintf("terminal %d references unknown category %q", t.TalID, t.Category))
		}
	}

	for _, q := range r.QosClasses {
		found := false
		for _, f := range r.GwFifos {
			if f.Name == q.Fifo {
				found = true
				break
			}
		}
		if !found {
			return cerr.New(cerr.ConfigInvalid, fmt.Sprintf("qos_classes entry references unknown fifo %q", q.Fifo))
		}
	}

	if len(r.ModcodTable) == 0 {
		return cerr.New(cerr.ConfigInvalid, "modcod_table must list at least one entry")
	}
	seenFmt := make(map[uint8]bool, len(r.ModcodTable))
	for _, m := range r.ModcodTable {
		if seenFmt[m.ID] {
			return cerr.New(cerr.ConfigInvalid, fmt.Sprintf("duplicate modcod id %d", m.ID))
		}
		seenFmt[m.ID] = true
	}

	switch r.Simulation.Mode {
	case "", "None", "File", "Random":
	default:
		return cerr.New(cerr.ConfigInvalid, fmt.Sprintf("unknown simulation mode %q", r.Simulation.Mode))
	}
	if r.Simulation.Mode == "File" && r.Simulation.FilePath == "" {
		return cerr.New(cerr.ConfigInvalid, "simulation.file_path required when mode is \"File\"")
	}

	return nil
}

// BuildModcodTable turns the configured modcod_table entries into a
// runtime modcod.Table.
func (r *Root) BuildModcodTable() *modcod.Table {
	t := modcod.NewTable()
	for _, m := range r.ModcodTable {
		t.Add(modcod.Definition{
			ID:                 timeunit.FmtID(m.ID),
			ModulationName:     m.ModulationName,
			CodingRate:         m.CodingRate,
			SpectralEfficiency: m.SpectralEfficiency,
			RequiredEsN0dB:     m.RequiredEsN0dB,
		})
	}
	return t
}

// CategoryByLabel returns the named category, if configured.
func (r *Root) CategoryByLabel(label string) (Category, bool) {
	for _, c := range r.Categories {
		if c.Label == label {
			return c, true
		}
	}
	return Category{}, false
}
