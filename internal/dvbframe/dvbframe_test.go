package dvbframe

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/CNES/opensand-sub007/internal/timeunit"
)

func TestFrameMessageTypeTracksPayload(t *testing.T) {
	sof := NewSof(1, 0, 42)
	assert.Equal(t, Sof, sof.MessageType())

	bb := NewBBFrame(1, 8, 12, 4026, nil)
	assert.Equal(t, BBFrameType, bb.MessageType())

	ttp := NewTtp(1, 4, 42, 0, nil)
	assert.Equal(t, TtpType, ttp.MessageType())
}

func TestNilPayloadIsHandledSafely(t *testing.T) {
	var f Frame
	assert.Equal(t, MessageType(0), f.MessageType())
}

func TestMessageTypeStringIsHumanReadable(t *testing.T) {
	assert.Equal(t, "SOF", Sof.String())
	assert.Equal(t, "BB_FRAME", BBFrameType.String())
	assert.Equal(t, "UNKNOWN", MessageType(255).String())
}

func TestRoleForCarrierFollowsLastDigitConvention(t *testing.T) {
	assert.Equal(t, RoleControlLogonIn, RoleForCarrier(2))
	assert.Equal(t, RoleControlOutToST, RoleForCarrier(4))
	assert.Equal(t, RoleReturnData, RoleForCarrier(5))
	assert.Equal(t, RoleReturnData, RoleForCarrier(6))
	assert.Equal(t, RoleControlInFromGW, RoleForCarrier(7))
	assert.Equal(t, RoleDataOutToGW, RoleForCarrier(8))
	assert.Equal(t, RoleUnknown, RoleForCarrier(9))

	// the convention repeats per spot: carrier ids beyond the first
	// decade still classify by their last digit.
	assert.Equal(t, RoleReturnData, RoleForCarrier(16))
}

func TestIsInputCarrierIsEvenParity(t *testing.T) {
	assert.True(t, IsInputCarrier(4))
	assert.False(t, IsInputCarrier(5))
}

func TestRequestKindString(t *testing.T) {
	assert.Equal(t, "RBDC", RBDC.String())
	assert.Equal(t, "VBDC", VBDC.String())
}

func TestSacCarriesRequestsAndCNI(t *testing.T) {
	f := NewSac(1, 7, timeunit.TerminalID(5), -3.2, []CapacityRequest{
		{Priority: 0, Kind: RBDC, Value: 500},
	})
	sac, ok := f.Payload.(SacBody)
	assert.True(t, ok)
	assert.Equal(t, timeunit.TerminalID(5), sac.TalID)
	assert.Len(t, sac.Requests, 1)
}
