package apdu

import (
	"fmt"

	kapdu "github.com/status-im/keycard-go/apdu"
)

// Status is a typed view of Response.Sw (SW1 << 8 | SW2).
type Status uint16

const (
	// SwOK indicates the command completed successfully.
	SwOK Status = kapdu.SwOK

	// SwWrongLength indicates Lc or the data length is wrong.
	SwWrongLength Status = 0x6700

	// SwSecurityConditionNotSatisfied indicates a failed cryptogram, MAC or
	// pairing check.
	SwSecurityConditionNotSatisfied Status = 0x6982

	// SwAuthenticationMethodBlocked indicates the PIN or PUK is blocked.
	SwAuthenticationMethodBlocked Status = 0x6983

	// SwConditionsNotSatisfied indicates the applet is in the wrong state
	// for the command (no secure channel, PIN not verified, no key).
	SwConditionsNotSatisfied Status = 0x6985

	// SwWrongData indicates the command data is invalid.
	SwWrongData Status = 0x6A80

	// SwFunctionNotSupported indicates the applet does not support the function.
	SwFunctionNotSupported Status = 0x6A81

	// SwNoAvailableSlots indicates every pairing slot is in use.
	SwNoAvailableSlots Status = 0x6A84

	// SwIncorrectP1P2 indicates P1 or P2 is invalid (e.g. unknown pairing index).
	SwIncorrectP1P2 Status = 0x6A86

	// SwReferencedDataNotFound indicates the referenced object does not exist.
	SwReferencedDataNotFound Status = 0x6A88

	// SwInsNotSupported indicates the instruction byte is unknown.
	SwInsNotSupported Status = 0x6D00

	// SwClaNotSupported indicates the class byte is unknown.
	SwClaNotSupported Status = 0x6E00

	// SwUnknown indicates an internal applet error.
	SwUnknown Status = 0x6F00

	// SwWrongPIN is the base of the wrong-PIN family; the low nibble holds
	// the number of remaining attempts.
	SwWrongPIN Status = 0x63C0
)

// NewStatus builds a status word from its two bytes.
func NewStatus(sw1, sw2 byte) Status {
	return Status(uint16(sw1)<<8 | uint16(sw2))
}

// SW1 returns the high byte.
func (s Status) SW1() byte { return byte(s >> 8) }

// SW2 returns the low byte.
func (s Status) SW2() byte { return byte(s) }

// IsOK returns true if the status indicates success.
func (s Status) IsOK() bool {
	return s == SwOK
}

// RetriesLeft returns the remaining attempts for a 0x63Cx status.
// The second return value is false for any other status.
func (s Status) RetriesLeft() (int, bool) {
	if s&0xFFF0 != SwWrongPIN {
		return 0, false
	}
	return int(s & 0x000F), true
}

// String returns the status name.
func (s Status) String() string {
	if n, ok := s.RetriesLeft(); ok {
		return fmt.Sprintf("WRONG_PIN(%d left)", n)
	}
	switch s {
	case SwOK:
		return "OK"
	case SwWrongLength:
		return "WRONG_LENGTH"
	case SwSecurityConditionNotSatisfied:
		return "SECURITY_CONDITION_NOT_SATISFIED"
	case SwAuthenticationMethodBlocked:
		return "AUTHENTICATION_METHOD_BLOCKED"
	case SwConditionsNotSatisfied:
		return "CONDITIONS_NOT_SATISFIED"
	case SwWrongData:
		return "WRONG_DATA"
	case SwFunctionNotSupported:
		return "FUNCTION_NOT_SUPPORTED"
	case SwNoAvailableSlots:
		return "NO_AVAILABLE_SLOTS"
	case SwIncorrectP1P2:
		return "INCORRECT_P1P2"
	case SwReferencedDataNotFound:
		return "REFERENCED_DATA_NOT_FOUND"
	case SwInsNotSupported:
		return "INS_NOT_SUPPORTED"
	case SwClaNotSupported:
		return "CLA_NOT_SUPPORTED"
	case SwUnknown:
		return "UNKNOWN_ERROR"
	default:
		return fmt.Sprintf("0x%04X", uint16(s))
	}
}
