// Package dvbframe models the DVB frame exchanged between gateway and
// terminal: a tagged union over the message kinds carried on a spot's
// carriers. It replaces the source's polymorphic DvbFrame hierarchy
// (DvbRcsFrame, BBFrame, Sof, Ttp, Sac, ...) with a single envelope
// struct plus a closed set of payload types, dispatched by MessageType
// the way the orchestration layer dispatches on it rather than on a
// vtable.
package dvbframe

import "github.com/CNES/opensand-sub007/internal/timeunit"

// MessageType is the wire discriminator carried by every frame.
type MessageType uint8

const (
	Sof MessageType = 0x01 + iota
	BBFrameType
	DvbBurstType
	SacType
	TtpType
	SessionLogonReq
	SessionLogonResp
	SessionLogoff
	SalohaDataType
	SalohaCtrlType
)

func (m MessageType) String() string {
	switch m {
	case Sof:
		return "SOF"
	case BBFrameType:
		return "BB_FRAME"
	case DvbBurstType:
		return "DVB_BURST"
	case SacType:
		return "SAC"
	case TtpType:
		return "TTP"
	case SessionLogonReq:
		return "SESSION_LOGON_REQ"
	case SessionLogonResp:
		return "SESSION_LOGON_RESP"
	case SessionLogoff:
		return "SESSION_LOGOFF"
	case SalohaDataType:
		return "SALOHA_DATA"
	case SalohaCtrlType:
		return "SALOHA_CTRL"
	default:
		return "UNKNOWN"
	}
}

// Payload is implemented by each frame variant's body.
type Payload interface {
	messageType() MessageType
}

// Frame is the common envelope every variant rides in: message type,
// spot, carrier, corruption flag, plus the variant-specific Payload.
type Frame struct {
	SpotID      timeunit.SpotID
	CarrierID   timeunit.CarrierID
	IsCorrupted bool
	Payload     Payload
}

// MessageType returns the envelope's discriminator, taken from the
// payload riding inside it.
func (f *Frame) MessageType() MessageType {
	if f.Payload == nil {
		return 0
	}
	return f.Payload.messageType()
}

// SofBody marks the start of a superframe.
type SofBody struct {
	SuperframeIndex timeunit.SuperframeIndex
}

func (SofBody) messageType() MessageType { return Sof }

// NewSof builds a SOF frame for the given spot/carrier.
func NewSof(spot timeunit.SpotID, carrier timeunit.CarrierID, sfn timeunit.SuperframeIndex) *Frame {
	return &Frame{SpotID: spot, CarrierID: carrier, Payload: SofBody{SuperframeIndex: sfn}}
}

// BBFrameBody is a forward-link DVB-S2 baseband frame: a MODCOD, the
// payload byte budget it was built for, and the encapsulated packets it
// carries.
type BBFrameBody struct {
	ModcodID     timeunit.FmtID
	PayloadBytes int
	Packets      [][]byte
}

func (BBFrameBody) messageType() MessageType { return BBFrameType }

// NewBBFrame builds a forward-link BBFrame frame.
func NewBBFrame(spot timeunit.SpotID, carrier timeunit.CarrierID, modcod timeunit.FmtID, payloadBytes int, packets [][]byte) *Frame {
	return &Frame{SpotID: spot, CarrierID: carrier, Payload: BBFrameBody{ModcodID: modcod, PayloadBytes: payloadBytes, Packets: packets}}
}

// DvbRcs2FrameBody is a return-link DVB-RCS2 burst.
type DvbRcs2FrameBody struct {
	ModcodID     timeunit.FmtID
	PayloadBytes int
	Packets      [][]byte
}

func (DvbRcs2FrameBody) messageType() MessageType { return DvbBurstType }

// NewDvbRcs2Frame builds a return-link DVB-RCS2 burst frame.
func NewDvbRcs2Frame(spot timeunit.SpotID, carrier timeunit.CarrierID, modcod timeunit.FmtID, payloadBytes int, packets [][]byte) *Frame {
	return &Frame{SpotID: spot, CarrierID: carrier, Payload: DvbRcs2FrameBody{ModcodID: modcod, PayloadBytes: payloadBytes, Packets: packets}}
}

// TimePlan is one terminal's slot within a TTP: the frame it may burst
// in, its offset within that frame, its granted volume, the MODCOD it
// must use, and its scheduling priority.
type TimePlan struct {
	TalID            timeunit.TerminalID
	FrameID          timeunit.FrameIndex
	Offset           uint32
	AssignmentCountKb uint32
	FmtID            timeunit.FmtID
	Priority         uint8
}

// TtpBody is the Terminal burst-Time Plan the gateway sends each
// superframe, built from CRA+RBDC+VBDC+FCA allocation (the Legacy DAMA
// emits exactly one TimePlan per terminal).
type TtpBody struct {
	SuperframeCount uint16
	GroupID         timeunit.GroupID
	Plans           []TimePlan
}

func (TtpBody) messageType() MessageType { return TtpType }

// NewTtp builds a TTP frame.
func NewTtp(spot timeunit.SpotID, carrier timeunit.CarrierID, sfCount uint16, group timeunit.GroupID, plans []TimePlan) *Frame {
	return &Frame{SpotID: spot, CarrierID: carrier, Payload: TtpBody{SuperframeCount: sfCount, GroupID: group, Plans: plans}}
}

// RequestKind distinguishes a capacity request's DAMA category.
type RequestKind uint8

const (
	RBDC RequestKind = iota
	VBDC
)

func (k RequestKind) String() string {
	if k == VBDC {
		return "VBDC"
	}
	return "RBDC"
}

// CapacityRequest is one entry in a SAC's request list.
type CapacityRequest struct {
	Priority uint8
	Kind     RequestKind
	Value    uint16
}

// SacBody is the Satellite Access Control message a terminal sends the
// gateway: its current CNI estimate plus any RBDC/VBDC requests.
type SacBody struct {
	TalID       timeunit.TerminalID
	AcmCniDB    float64
	Requests    []CapacityRequest
}

func (SacBody) messageType() MessageType { return SacType }

// NewSac builds a SAC frame.
func NewSac(spot timeunit.SpotID, carrier timeunit.CarrierID, talID timeunit.TerminalID, cniDB float64, requests []CapacityRequest) *Frame {
	return &Frame{SpotID: spot, CarrierID: carrier, Payload: SacBody{TalID: talID, AcmCniDB: cniDB, Requests: requests}}
}

// LogonReqBody is a terminal's request to join the network.
type LogonReqBody struct {
	TalID         timeunit.TerminalID
	CraKbps       uint32
	MaxRbdcKbps   uint32
	RbdcTimeoutSf uint16
	MaxVbdcKb     uint32
}

func (LogonReqBody) messageType() MessageType { return SessionLogonReq }

// NewLogonReq builds a logon-request frame.
func NewLogonReq(spot timeunit.SpotID, carrier timeunit.CarrierID, body LogonReqBody) *Frame {
	return &Frame{SpotID: spot, CarrierID: carrier, Payload: body}
}

// LogonRespBody is the gateway's reply to a logon request.
type LogonRespBody struct {
	TalID   timeunit.TerminalID
	Granted bool
	GroupID timeunit.GroupID
}

func (LogonRespBody) messageType() MessageType { return SessionLogonResp }

// NewLogonResp builds a logon-response frame.
func NewLogonResp(spot timeunit.SpotID, carrier timeunit.CarrierID, body LogonRespBody) *Frame {
	return &Frame{SpotID: spot, CarrierID: carrier, Payload: body}
}

// LogoffBody notifies the gateway a terminal is leaving the network.
type LogoffBody struct {
	TalID timeunit.TerminalID
}

func (LogoffBody) messageType() MessageType { return SessionLogoff }

// NewLogoff builds a logoff frame.
func NewLogoff(spot timeunit.SpotID, carrier timeunit.CarrierID, talID timeunit.TerminalID) *Frame {
	return &Frame{SpotID: spot, CarrierID: carrier, Payload: LogoffBody{TalID: talID}}
}

// SalohaDataBody carries a Slotted-Aloha random-access burst's raw
// payload; full contention-resolution semantics are out of scope, the
// frame is modelled only so the orchestration layer can route it.
type SalohaDataBody struct {
	TalID   timeunit.TerminalID
	Payload []byte
}

func (SalohaDataBody) messageType() MessageType { return SalohaDataType }

// NewSalohaData builds a Slotted-Aloha data frame.
func NewSalohaData(spot timeunit.SpotID, carrier timeunit.CarrierID, talID timeunit.TerminalID, payload []byte) *Frame {
	return &Frame{SpotID: spot, CarrierID: carrier, Payload: SalohaDataBody{TalID: talID, Payload: payload}}
}

// SalohaCtrlBody carries Slotted-Aloha acknowledgements back to the
// terminals that sent random-access bursts.
type SalohaCtrlBody struct {
	Acked []timeunit.TerminalID
}

func (SalohaCtrlBody) messageType() MessageType { return SalohaCtrlType }

// NewSalohaCtrl builds a Slotted-Aloha control frame.
func NewSalohaCtrl(spot timeunit.SpotID, carrier timeunit.CarrierID, acked []timeunit.TerminalID) *Frame {
	return &Frame{SpotID: spot, CarrierID: carrier, Payload: SalohaCtrlBody{Acked: acked}}
}

// CarrierRole names the function a carrier-id's last digit designates
// within a spot: 0..3 control/logon in, 4 control out to ST, 5/6 return
// data, 7 control in from GW, 8 data out to GW.
type CarrierRole int

const (
	RoleUnknown CarrierRole = iota
	RoleControlLogonIn
	RoleControlOutToST
	RoleReturnData
	RoleControlInFromGW
	RoleDataOutToGW
)

// RoleForCarrier classifies a carrier id by its last decimal digit.
func RoleForCarrier(id timeunit.CarrierID) CarrierRole {
	switch id % 10 {
	case 0, 1, 2, 3:
		return RoleControlLogonIn
	case 4:
		return RoleControlOutToST
	case 5, 6:
		return RoleReturnData
	case 7:
		return RoleControlInFromGW
	case 8:
		return RoleDataOutToGW
	default:
		return RoleUnknown
	}
}

// IsInputCarrier reports whether id is an input carrier (even last
// digit); outputs always sit at the next odd id.
func IsInputCarrier(id timeunit.CarrierID) bool {
	return id%2 == 0
}
