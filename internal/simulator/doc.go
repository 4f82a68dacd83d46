// Package simulator implements a software wallet applet that speaks the same
// APDU protocol as a physical token.
//
// A Token keeps persistent applet state (credentials, retry counters,
// pairing slots, master key, current path) across presences. Transient state
// (applet selection, pending pairing, secure channel, PIN verification) is
// cleared by Reset, which models a power cycle when the token leaves the
// field.
//
// Tap returns an in-memory transport.Channel for one presence. For bridge
// use, Token.Process is a transport.FrameHandler.
package simulator
