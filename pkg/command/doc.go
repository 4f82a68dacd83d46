// Package command encodes wallet applet operations as APDUs and decodes
// their responses.
//
// A CommandSet is bound to one transport.Channel for one token presence.
// After OpenSecureChannel succeeds every later command is wrapped by the
// secure channel and every response unwrapped; SELECT drops the channel.
//
// Each operation returns the decoded response (status word plus payload) and
// an error. Errors are either *transport.Error, for failures of the link, or
// decoding failures such as a bad MAC, a malformed frame or a cryptogram
// mismatch. A non-OK status word is not an error at this layer.
//
// # Instructions
//
//	SELECT                00 A4 04 00  AID
//	INIT                  80 FE 00 00  one-shot encrypted PIN||PUK||token
//	PAIR                  80 12 P1     P1 0 = challenge, 1 = final cryptogram
//	OPEN SECURE CHANNEL   80 10 idx    host ephemeral key
//	MUTUALLY AUTHENTICATE 80 11 00 00  32 random bytes
//	GET STATUS            80 F2 P1     P1 0 = application, 1 = key path
//	VERIFY PIN            80 20
//	GENERATE KEY          80 D4
//	LOAD KEY              80 D0 03     BIP-39 seed
//	DERIVE KEY            80 D1 00     path from master
//	SIGN                  80 C0 00 01  32-byte hash
//	UNPAIR                80 13 idx
package command
