// Package encap defines the external encapsulation packet-handler
// contract the forward/return schedulers consume to pack and unpack
// DVB frame payloads, plus a raw length-prefixed default implementation
// used where no ATM/AAL5, MPEG2-TS, GSE or ROHC plugin is wired in.
// Those plugins are out of scope; only the contract they must satisfy
// lives here.
package encap

import (
	"encoding/binary"
	"fmt"

	"github.com/CNES/opensand-sub007/internal/cerr"
)

// PacketHandler emplaces upper-layer packets into a frame payload and
// reverses the operation on receive.
type PacketHandler interface {
	// EncapNextPacket emplaces as much of packet as fits in
	// freeSpaceBytes. It returns an encoded chunk, a remainder, or
	// both — both nil is a precondition violation the caller must
	// treat as an EncapFailure.
	EncapNextPacket(packet []byte, freeSpaceBytes int, isFirstInFrame bool) (chunk, remainder []byte, err error)

	// GetEncapsulatedPackets parses a frame payload back into whole
	// packets. trailing holds the payload bytes (header already
	// stripped) of an incomplete fragment at the end of payload, to be
	// joined with the continuation fragment parsed from the next frame;
	// nil when the payload ended on a packet boundary.
	GetEncapsulatedPackets(payload []byte) (packets [][]byte, trailing []byte, err error)
}

// header is the 3-byte framing this default handler prefixes to every
// chunk: a "more fragments follow" flag plus the chunk's payload
// length.
const headerLen = 3

type header struct {
	more bool
	size uint16
}

func encodeHeader(h header) []byte {
	buf := make([]byte, headerLen)
	if h.more {
		buf[0] = 1
	}
	binary.BigEndian.PutUint16(buf[1:], h.size)
	return buf
}

func decodeHeader(buf []byte) header {
	return header{more: buf[0] != 0, size: binary.BigEndian.Uint16(buf[1:3])}
}

// RawHandler is a minimal PacketHandler: packets are opaque byte
// slices, fragmented across frame boundaries with a 3-byte header when
// they don't fit whole. It exists so the schedulers can be exercised
// without wiring a concrete link-layer plugin.
type RawHandler struct{}

// NewRawHandler builds the default handler.
func NewRawHandler() *RawHandler { return &RawHandler{} }

// EncapNextPacket implements PacketHandler.
func (RawHandler) EncapNextPacket(packet []byte, freeSpaceBytes int, isFirstInFrame bool) ([]byte, []byte, error) {
	if freeSpaceBytes <= headerLen {
		if isFirstInFrame {
			return nil, nil, cerr.New(cerr.EncapFailure, fmt.Sprintf("free space %d too small to start a fragment", freeSpaceBytes))
		}
		return nil, packet, nil
	}

	available := freeSpaceBytes - headerLen
	if available >= len(packet) {
		chunk := append(encodeHeader(header{more: false, size: uint16(len(packet))}), packet...)
		return chunk, nil, nil
	}

	head := packet[:available]
	tail := packet[available:]
	chunk := append(encodeHeader(header{more: true, size: uint16(len(head))}), head...)
	return chunk, tail, nil
}

// GetEncapsulatedPackets implements PacketHandler.
func (RawHandler) GetEncapsulatedPackets(payload []byte) ([][]byte, []byte, error) {
	var packets [][]byte
	var pending []byte

	for len(payload) > 0 {
		if len(payload) < headerLen {
			return nil, nil, cerr.New(cerr.EncapFailure, "truncated chunk header")
		}
		h := decodeHeader(payload[:headerLen])
		payload = payload[headerLen:]
		if int(h.size) > len(payload) {
			return nil, nil, cerr.New(cerr.EncapFailure, "chunk length exceeds remaining payload")
		}
		chunk := payload[:h.size]
		payload = payload[h.size:]

		pending = append(pending, chunk...)
		if !h.more {
			packets = append(packets, pending)
			pending = nil
		}
	}

	return packets, pending, nil
}
