// Package bootstrap turns a decoded config.Root into the runtime
// object graph cmd/opensand-ncc and cmd/opensand-terminal each need:
// the shared MODCOD table and carrier-category plan, plus the
// gateway's damactrl.Controller/s2sched.Scheduler set or a single
// terminal's damaagent.Agent/rcs2sched.Scheduler. It is the Go
// equivalent of the source's OpenSandModelConf-to-runtime-object wiring
// performed by BlockDvbNcc::onInit/BlockDvbTal::onInit.
package bootstrap

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/CNES/opensand-sub007/internal/carrier"
	"github.com/CNES/opensand-sub007/internal/cerr"
	"github.com/CNES/opensand-sub007/internal/config"
	"github.com/CNES/opensand-sub007/internal/damaagent"
	"github.com/CNES/opensand-sub007/internal/damactrl"
	"github.com/CNES/opensand-sub007/internal/encap"
	"github.com/CNES/opensand-sub007/internal/macfifo"
	"github.com/CNES/opensand-sub007/internal/modcod"
	"github.com/CNES/opensand-sub007/internal/ncc"
	"github.com/CNES/opensand-sub007/internal/rcs2sched"
	"github.com/CNES/opensand-sub007/internal/s2sched"
	"github.com/CNES/opensand-sub007/internal/telemetry"
	"github.com/CNES/opensand-sub007/internal/terminal"
	"github.com/CNES/opensand-sub007/internal/timeunit"
)

func parseAccessType(s string) (carrier.AccessType, error) {
	switch s {
	case "", "CCM":
		return carrier.CCM, nil
	case "ACM":
		return carrier.ACM, nil
	case "VCM":
		return carrier.VCM, nil
	default:
		return 0, cerr.New(cerr.ConfigInvalid, fmt.Sprintf("unknown carrier access_type %q", s))
	}
}

// buildCategories turns every config.Category into a *carrier.Category,
// resetting each carrier group's capacity for superframe 0 so the
// first scheduling pass has a populated ledger even before the first
// SOF-driven reset.
func buildCategories(cfg *config.Root) (map[string]*carrier.Category, error) {
	frameSec := float64(cfg.TimeBase.FrameDurationMs) / 1000

	out := make(map[string]*carrier.Category, len(cfg.Categories))
	for _, c := range cfg.Categories {
		groups := make([]*carrier.Group, 0, len(c.Carriers))
		for _, cg := range c.Carriers {
			access, err := parseAccessType(cg.AccessType)
			if err != nil {
				return nil, err
			}
			fmtIDs := make([]timeunit.FmtID, len(cg.FmtIDs))
			for i, id := range cg.FmtIDs {
				fmtIDs[i] = timeunit.FmtID(id)
			}
			group := carrier.NewGroup(timeunit.CarrierID(cg.ID), fmtIDs, cg.Ratio, cg.SymbolRate, access)
			group.SetCapacity(timeunit.Symbols(cg.SymbolRate * frameSec))
			group.ResetCapacity(0)
			groups = append(groups, group)
		}
		if len(groups) == 0 {
			return nil, cerr.New(cerr.ConfigInvalid, fmt.Sprintf("category %q has no carriers", c.Label))
		}
		out[c.Label] = carrier.NewCategory(c.Label, groups...)
	}
	return out, nil
}

// talCategoryMap builds the tal_id -> category label index
// damactrl.Config.TalCategory expects.
func talCategoryMap(cfg *config.Root) map[timeunit.TerminalID]string {
	out := make(map[timeunit.TerminalID]string, len(cfg.Terminals))
	for _, t := range cfg.Terminals {
		if t.Category != "" {
			out[timeunit.TerminalID(t.TalID)] = t.Category
		}
	}
	return out
}

// NCC is the gateway's fully wired runtime graph.
type NCC struct {
	Table      *modcod.Table
	Categories map[string]*carrier.Category
	Controller *damactrl.Controller
	Scheduler  map[string]*s2sched.Scheduler
	Fifos      map[string][]*macfifo.Fifo[s2sched.Packet]
}

// BuildNCC wires a gateway runtime graph (damactrl.Controller plus one
// s2sched.Scheduler and forward MAC FIFO per category) out of cfg.
func BuildNCC(cfg *config.Root, log *zap.Logger, metrics *telemetry.Metrics) (*NCC, error) {
	table := cfg.BuildModcodTable()
	categories, err := buildCategories(cfg)
	if err != nil {
		return nil, err
	}

	defaultCategory := ""
	if len(cfg.Categories) > 0 {
		defaultCategory = cfg.Categories[0].Label
	}

	ctrl := damactrl.New(damactrl.Config{
		Categories:           categories,
		DefaultCategory:      defaultCategory,
		TalCategory:          talCategoryMap(cfg),
		FcaKbps:              timeunit.Kbps(cfg.Dama.FcaKbps),
		PepAllocationDelaySf: timeunit.SuperframeIndex(cfg.Dama.PepAllocationDelaySf),
	}, table, timeunit.NewFixedSymbolLength(timeunit.Milliseconds(cfg.TimeBase.FrameDurationMs), timeunit.Symbols(cfg.TimeBase.Rcs2BurstLengthSym)), log, metrics)

	if err := attachSimulator(ctrl, cfg, log); err != nil {
		return nil, err
	}

	access, accessCapacity := defaultFwdFifoShape(cfg)

	sched := make(map[string]*s2sched.Scheduler, len(categories))
	fifos := make(map[string][]*macfifo.Fifo[s2sched.Packet], len(categories))
	for label, cat := range categories {
		catLog := log
		if log != nil {
			catLog = telemetry.Named(log, "s2sched", zap.String("category", label))
		}
		sched[label] = s2sched.New(encap.NewRawHandler(), table, cat, ctrl, 0, catLog, metrics)
		fifos[label] = []*macfifo.Fifo[s2sched.Packet]{
			macfifo.New[s2sched.Packet](0, 0, label+"-fwd", access, accessCapacity, metrics),
		}
	}

	return &NCC{Table: table, Categories: categories, Controller: ctrl, Scheduler: sched, Fifos: fifos}, nil
}

// attachSimulator opens cfg.Simulation.FilePath and wires a
// damactrl.FileSimulator into ctrl when simulation.mode is "File". "None"
// (the default) and "Random" (not implemented, see DESIGN.md) leave the
// controller without a simulator.
func attachSimulator(ctrl *damactrl.Controller, cfg *config.Root, log *zap.Logger) error {
	if cfg.Simulation.Mode != "File" {
		return nil
	}
	f, err := os.Open(cfg.Simulation.FilePath)
	if err != nil {
		return cerr.New(cerr.ConfigInvalid, fmt.Sprintf("open simulation file: %v", err))
	}
	defer f.Close()

	sim, err := damactrl.NewFileSimulator(f)
	if err != nil {
		return cerr.New(cerr.ConfigInvalid, fmt.Sprintf("parse simulation file: %v", err))
	}
	ctrl.SetSimulator(sim)
	if log != nil {
		log.Info("simulated terminals enabled", zap.String("file", cfg.Simulation.FilePath))
	}
	return nil
}

// defaultFwdFifoShape picks the access type/capacity for the
// per-category forward FIFO bootstrap builds, from the first
// configured gw_fifos entry if any, else a permissive ACM default.
func defaultFwdFifoShape(cfg *config.Root) (macfifo.AccessType, int) {
	if len(cfg.GwFifos) == 0 {
		return "ACM", 10000
	}
	f := cfg.GwFifos[0]
	capacity := f.CapacityPkt
	if capacity <= 0 {
		capacity = 10000
	}
	return macfifo.AccessType(f.AccessType), capacity
}

// RunNCC starts the orchestration loop for a built NCC runtime graph.
func RunNCC(cfg *config.Root, built *NCC, sender ncc.Sender, log *zap.Logger, metrics *telemetry.Metrics) *ncc.NCC {
	nccCfg := ncc.Config{
		SpotID:             0,
		FrameDurationMs:    timeunit.Milliseconds(cfg.TimeBase.FrameDurationMs),
		FwdFrameDurationMs: timeunit.Milliseconds(cfg.TimeBase.FrameDurationMs).ToDuration(),
		DelayRefreshPeriod: timeunit.Milliseconds(cfg.Delay.TimerMs).ToDuration(),
		PropagationDelay:   timeunit.Milliseconds(cfg.Delay.TimerMs).ToDuration(),
		PEPListenAddr:      cfg.PEPListenAddr,
		SVNOListenAddr:     cfg.SVNOListenAddr,
	}
	return ncc.New(nccCfg, built.Controller, built.Scheduler, built.Fifos, sender, log, metrics)
}

// Terminal is one terminal's fully wired runtime graph.
type Terminal struct {
	Table *modcod.Table
	Agent *damaagent.Agent
	Fifos []*macfifo.Fifo[[]byte]
}

// BuildTerminal wires a terminal runtime graph for talID out of cfg.
// It returns an error if talID is not present in cfg.Terminals.
func BuildTerminal(cfg *config.Root, talID timeunit.TerminalID, log *zap.Logger, metrics *telemetry.Metrics) (*Terminal, error) {
	var term *config.Terminal
	for i := range cfg.Terminals {
		if timeunit.TerminalID(cfg.Terminals[i].TalID) == talID {
			term = &cfg.Terminals[i]
			break
		}
	}
	if term == nil {
		return nil, cerr.New(cerr.ConfigInvalid, fmt.Sprintf("terminal %d not found in configuration", talID)).WithTalID(uint16(talID))
	}

	table := cfg.BuildModcodTable()
	converter := timeunit.NewFixedSymbolLength(timeunit.Milliseconds(cfg.TimeBase.FrameDurationMs), timeunit.Symbols(cfg.TimeBase.Rcs2BurstLengthSym))
	scheduler := rcs2sched.New(encap.NewRawHandler(), log)

	agent := damaagent.New(damaagent.Config{
		TalID:           talID,
		GroupID:         0,
		RbdcEnabled:     term.MaxRbdcKbps > 0,
		VbdcEnabled:     term.MaxVbdcKb > 0,
		MslSf:           uint32(cfg.Dama.SyncPeriodSf) * 2,
		SyncPeriodSf:    uint32(cfg.Dama.SyncPeriodSf),
		FrameDurationMs: timeunit.Milliseconds(cfg.TimeBase.FrameDurationMs),
	}, table, converter, scheduler, table.MaxID(), log, metrics)

	access, capacity := defaultFwdFifoShape(cfg)
	fifos := []*macfifo.Fifo[[]byte]{
		macfifo.New[[]byte](0, 0, "return", access, capacity, metrics),
	}

	return &Terminal{Table: table, Agent: agent, Fifos: fifos}, nil
}

// RunTerminal starts the orchestration loop for a built terminal
// runtime graph.
func RunTerminal(cfg *config.Root, built *Terminal, sender terminal.Sender, log *zap.Logger) *terminal.Terminal {
	termCfg := terminal.Config{
		SpotID:             0,
		CarrierID:          0,
		FrameDurationMs:    timeunit.Milliseconds(cfg.TimeBase.FrameDurationMs),
		PropagationDelay:   timeunit.Milliseconds(cfg.Delay.TimerMs).ToDuration(),
		DelayRefreshPeriod: timeunit.Milliseconds(cfg.Delay.TimerMs).ToDuration(),
	}
	return terminal.New(termCfg, built.Agent, built.Fifos, sender, log)
}
