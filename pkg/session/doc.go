// Package session implements the lifecycle state machine for one token
// presence and the controller that admits presences one at a time.
//
// # States
//
//	DISCONNECTED -> CONNECTED -> APPLET_SELECTED -> INITIALIZED | ALREADY_INITIALIZED
//	  -> PAIRED -> SECURE_CHANNEL_OPEN -> AUTHENTICATED -> TERMINATED
//
// FAILED is reachable from every non-terminal state and absorbs.
//
// # Guards
//
//	Select              CONNECTED, APPLET_SELECTED
//	Initialize          APPLET_SELECTED (token uninitialized, valid secrets)
//	Pair, UsePairing    INITIALIZED, ALREADY_INITIALIZED (free slot for Pair)
//	OpenSecureChannel   PAIRED
//	GetStatus           SECURE_CHANNEL_OPEN, AUTHENTICATED
//	GetKeyPath          SECURE_CHANNEL_OPEN, AUTHENTICATED
//	VerifyPIN           SECURE_CHANNEL_OPEN, AUTHENTICATED (PIN not blocked)
//	GenerateKey         AUTHENTICATED (no master key)
//	LoadSeed            AUTHENTICATED (no master key, 64-byte seed)
//	DeriveKey           AUTHENTICATED (master key, valid path)
//	Sign                AUTHENTICATED (key selected, 32-byte hash)
//	UnpairOthers        AUTHENTICATED
//	Unpair              AUTHENTICATED -> TERMINATED
//
// A failed guard returns *ProtocolMisuseError, sends nothing and keeps the
// state. A failed exchange returns *TransportError, *StatusError or
// *MalformedResponseError and moves the session to FAILED. Nothing is
// retried.
//
// # Controller
//
// Controller reads transport.Event values from a channel. A Gate admits one
// session at a time; connect events that arrive while busy are ignored. A
// disconnect of the active presence cancels the session context, so the
// in-flight exchange fails with a transport error. Each admitted presence
// yields exactly one Outcome.
package session
