// Package transport moves APDU frames between the session controller and a
// token, and reports token presence.
//
// The controller only sees two abstractions:
//
//   - Channel: a half-duplex request/response pipe for exactly one token
//     presence. Exchanges are never pipelined and never retried. Once an
//     exchange fails the channel is revoked and every later call fails.
//   - Event: presence notifications (Connected, Disconnected) delivered on a
//     Go channel owned by a Monitor.
//
// # Bridge
//
// Real contactless readers are reached through a TCP bridge. Each accepted
// connection is one token presence; closing it removes the token. Frames on
// the bridge are length-prefixed:
//
//	┌──────────────────┬──────────────────┐
//	│ length (4B, BE)  │ APDU bytes       │
//	└──────────────────┴──────────────────┘
//
// The token side of the bridge (a reader daemon or the simulator) dials the
// host with exponential backoff and answers frames with ServeFrames.
package transport
