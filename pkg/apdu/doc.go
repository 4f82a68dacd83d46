// Package apdu implements ISO/IEC 7816-4 command and response frames.
//
// # Frames
//
// A command APDU is a four byte header followed by an optional body:
//
//	CLA INS P1 P2 [Lc data] [Le]
//
// A response APDU is an optional body followed by the two byte status word:
//
//	[data] SW1 SW2
//
// Only short APDUs are supported (at most 255 bytes of command data). The
// wallet applet never needs extended length.
//
// # Status Words
//
// A status word of 0x9000 is the only success value. The 0x63Cx family
// reports a failed verification where x is the number of attempts left.
// Everything else is a rejection that the session layer surfaces unchanged
// to the caller.
package apdu
