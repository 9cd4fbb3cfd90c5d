package damactrl

import (
	"bufio"
	"io"
	"regexp"
	"strconv"

	"github.com/CNES/opensand-sub007/internal/dvbframe"
	"github.com/CNES/opensand-sub007/internal/timeunit"
)

// SimulatedEventKind identifies which controller handler a simulated event
// dispatches to, mirroring RequestSimulator.h's EventType.
type SimulatedEventKind uint8

const (
	SimulatedLogon SimulatedEventKind = iota
	SimulatedCR
	SimulatedLogoff
)

// SimulatedEvent is one parsed trace-file (or generated) entry, injected
// into the controller's normal handlers at its target superframe. Grounded
// on FileSimulator.cpp's EventType switch in RequestSimulator::simulation.
type SimulatedEvent struct {
	SF   timeunit.SuperframeIndex
	Kind SimulatedEventKind
	TalID timeunit.TerminalID

	CraKbps       uint32
	MaxRbdcKbps   uint32
	MaxVbdcKb     uint32
	RbdcTimeoutSf uint16

	RequestKind  dvbframe.RequestKind
	RequestValue uint32
}

// RequestSimulator is the interface a simulated-request source satisfies
// (FileSimulator is the only implementation), grounded on
// RequestSimulator.h's pure-virtual simulation() shared base.
type RequestSimulator interface {
	// Next returns every simulated event scheduled exactly at sf, advancing
	// past (and discarding) any earlier, already-missed entries.
	Next(sf timeunit.SuperframeIndex) []SimulatedEvent

	// Done reports whether the source is exhausted (EOF for a trace file).
	Done() bool
}

var (
	reCR     = regexp.MustCompile(`^SF(\d+) CR st(\d+) cr=(\d+) type=(\d+)$`)
	reLogon  = regexp.MustCompile(`^SF(\d+) LOGON st(\d+) rt=(\d+) rbdc=(\d+) vbdc=(\d+)$`)
	reLogoff = regexp.MustCompile(`^SF(\d+) LOGOFF st(\d+)$`)
)

// FileSimulator replays the trace grammar of spec.md §6 ("SFn CR/LOGON/
// LOGOFF") from a line-oriented text source, one event per line. It is the
// Go counterpart of FileSimulator.cpp, minus the stdin special-case (the
// io.Reader the caller hands in already covers that).
type FileSimulator struct {
	events []SimulatedEvent
	pos    int
}

// NewFileSimulator parses every line of r as a trace entry. A line matching
// none of the three grammars is skipped, matching simulation()'s
// EventType::none fallthrough (FileSimulator.cpp:145-149). Terminal ids at
// or below BROADCAST_TAL_ID are rejected, matching the source's reserved-id
// guard (FileSimulator.cpp:154-160).
func NewFileSimulator(r io.Reader) (*FileSimulator, error) {
	var events []SimulatedEvent
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		ev, ok, err := parseTraceLine(line)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if ev.TalID <= timeunit.BroadcastTalID {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &FileSimulator{events: events}, nil
}

func parseTraceLine(line string) (SimulatedEvent, bool, error) {
	if m := reCR.FindStringSubmatch(line); m != nil {
		sf, talID, value, kind, err := parseCRFields(m)
		if err != nil {
			return SimulatedEvent{}, false, err
		}
		reqKind := dvbframe.RBDC
		if kind != 0 {
			reqKind = dvbframe.VBDC
		}
		return SimulatedEvent{
			SF:           sf,
			Kind:         SimulatedCR,
			TalID:        talID,
			RequestKind:  reqKind,
			RequestValue: value,
		}, true, nil
	}
	if m := reLogon.FindStringSubmatch(line); m != nil {
		sf, talID, rt, rbdc, vbdc, err := parseLogonFields(m)
		if err != nil {
			return SimulatedEvent{}, false, err
		}
		return SimulatedEvent{
			SF:          sf,
			Kind:        SimulatedLogon,
			TalID:       talID,
			CraKbps:     rt,
			MaxRbdcKbps: rbdc,
			MaxVbdcKb:   vbdc,
		}, true, nil
	}
	if m := reLogoff.FindStringSubmatch(line); m != nil {
		sf, talID, err := parseLogoffFields(m)
		if err != nil {
			return SimulatedEvent{}, false, err
		}
		return SimulatedEvent{SF: sf, Kind: SimulatedLogoff, TalID: talID}, true, nil
	}
	return SimulatedEvent{}, false, nil
}

func parseCRFields(m []string) (timeunit.SuperframeIndex, timeunit.TerminalID, uint32, uint8, error) {
	sf, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	tal, err := strconv.ParseUint(m[2], 10, 16)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	value, err := strconv.ParseUint(m[3], 10, 32)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	kind, err := strconv.ParseUint(m[4], 10, 8)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return timeunit.SuperframeIndex(sf), timeunit.TerminalID(tal), uint32(value), uint8(kind), nil
}

func parseLogonFields(m []string) (timeunit.SuperframeIndex, timeunit.TerminalID, uint32, uint32, uint32, error) {
	sf, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return 0, 0, 0, 0, 0, err
	}
	tal, err := strconv.ParseUint(m[2], 10, 16)
	if err != nil {
		return 0, 0, 0, 0, 0, err
	}
	rt, err := strconv.ParseUint(m[3], 10, 32)
	if err != nil {
		return 0, 0, 0, 0, 0, err
	}
	rbdc, err := strconv.ParseUint(m[4], 10, 32)
	if err != nil {
		return 0, 0, 0, 0, 0, err
	}
	vbdc, err := strconv.ParseUint(m[5], 10, 32)
	if err != nil {
		return 0, 0, 0, 0, 0, err
	}
	return timeunit.SuperframeIndex(sf), timeunit.TerminalID(tal), uint32(rt), uint32(rbdc), uint32(vbdc), nil
}

func parseLogoffFields(m []string) (timeunit.SuperframeIndex, timeunit.TerminalID, error) {
	sf, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return 0, 0, err
	}
	tal, err := strconv.ParseUint(m[2], 10, 16)
	if err != nil {
		return 0, 0, err
	}
	return timeunit.SuperframeIndex(sf), timeunit.TerminalID(tal), nil
}

// Next returns every buffered event whose SF equals sf, discarding (without
// emitting) any earlier entries the caller never asked for — the file
// cursor never runs backwards, matching FileSimulator::simulation's single
// forward pass over simu_buffer.
func (f *FileSimulator) Next(sf timeunit.SuperframeIndex) []SimulatedEvent {
	var out []SimulatedEvent
	for f.pos < len(f.events) && f.events[f.pos].SF <= sf {
		if f.events[f.pos].SF == sf {
			out = append(out, f.events[f.pos])
		}
		f.pos++
	}
	return out
}

// Done reports whether every trace line has been consumed.
func (f *FileSimulator) Done() bool {
	return f.pos >= len(f.events)
}
