// Package timeunit implements the superframe/frame time base and the
// fixed-bit-length / fixed-symbol-length unit converters, grounded on
// the UnitConverter family used throughout opensand-core/src/dvb/dama.
package timeunit

import "time"

// Microseconds is a duration expressed in microseconds (time_us_t).
type Microseconds int64

// Milliseconds is a duration expressed in milliseconds (time_ms_t).
type Milliseconds int64

// ToDuration converts to a stdlib time.Duration.
func (m Milliseconds) ToDuration() time.Duration { return time.Duration(m) * time.Millisecond }

// SuperframeIndex is a wrapping superframe counter (time_sf_t).
type SuperframeIndex uint32

// Next returns the following superframe index, wrapping per the type's
// width as the source's time_sf_t does.
func (s SuperframeIndex) Next() SuperframeIndex { return s + 1 }

// FrameIndex is a frame counter inside a superframe (time_frame_t).
type FrameIndex uint32

// Symbols is a volume of symbols (vol_sym_t).
type Symbols int64

// Bits is a volume of bits (vol_b_t).
type Bits int64

// Bytes is a volume of bytes (vol_bytes_t).
type Bytes int64

// Kilobits is a volume of kilobits (vol_kb_t).
type Kilobits int64

// Packets is a volume of packets (vol_pkt_t).
type Packets int64

// SymbolsPerSec is a rate in symbols/second (rate_symps_t).
type SymbolsPerSec float64

// Kbps is a rate in kilobits/second (rate_kbps_t).
type Kbps float64

// PktPerFrame is a rate in packets-per-frame (rate_pktpf_t).
type PktPerFrame int64

// TerminalID identifies a terminal (tal_id_t). BroadcastTalID is
// reserved: values <= it are emulated terminals, values > it are
// simulated.
type TerminalID uint16

// BroadcastTalID is the reserved terminal id used for broadcast
// destinations.
const BroadcastTalID TerminalID = 31

// IsSimulated reports whether this id denotes a simulated terminal.
func (t TerminalID) IsSimulated() bool { return t > BroadcastTalID }

// GroupID identifies a carrier/category group.
type GroupID uint8

// SpotID identifies a coverage spot.
type SpotID uint8

// CarrierID identifies a physical carrier.
type CarrierID uint8

// QoS identifies a quality-of-service class (qos_t).
type QoS uint8

// FmtID identifies a MODCOD (fmt_id_t). Zero means "unservable".
type FmtID uint8
