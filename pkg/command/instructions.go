package command

// Class bytes.
const (
	ClaISO7816 byte = 0x00
	ClaWallet  byte = 0x80
)

// Instruction bytes.
const (
	InsSelect               byte = 0xA4
	InsInit                 byte = 0xFE
	InsPair                 byte = 0x12
	InsOpenSecureChannel    byte = 0x10
	InsMutuallyAuthenticate byte = 0x11
	InsUnpair               byte = 0x13
	InsGetStatus            byte = 0xF2
	InsVerifyPIN            byte = 0x20
	InsGenerateKey          byte = 0xD4
	InsLoadKey              byte = 0xD0
	InsDeriveKey            byte = 0xD1
	InsSign                 byte = 0xC0
)

// Parameter values.
const (
	P1SelectByName   byte = 0x04
	P1PairFirstStep  byte = 0x00
	P1PairFinalStep  byte = 0x01
	P1LoadKeySeed    byte = 0x03
	P1DeriveAbsolute byte = 0x00
	P1SignCurrentKey byte = 0x00
	P2SignECDSA      byte = 0x01
)

// WalletAID is the wallet applet identifier.
var WalletAID = []byte{0xA0, 0x00, 0x00, 0x08, 0x04, 0x00, 0x01, 0x01, 0x01}

// Name returns the command name for an instruction byte.
func Name(ins byte) string {
	switch ins {
	case InsSelect:
		return "SELECT"
	case InsInit:
		return "INIT"
	case InsPair:
		return "PAIR"
	case InsOpenSecureChannel:
		return "OPEN_SECURE_CHANNEL"
	case InsMutuallyAuthenticate:
		return "MUTUALLY_AUTHENTICATE"
	case InsUnpair:
		return "UNPAIR"
	case InsGetStatus:
		return "GET_STATUS"
	case InsVerifyPIN:
		return "VERIFY_PIN"
	case InsGenerateKey:
		return "GENERATE_KEY"
	case InsLoadKey:
		return "LOAD_KEY"
	case InsDeriveKey:
		return "DERIVE_KEY"
	case InsSign:
		return "SIGN"
	default:
		return "UNKNOWN"
	}
}
