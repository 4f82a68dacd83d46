// Package persistence stores pairing material between token presences.
//
// A PairingFile keeps one JSON document with an entry per token, keyed by
// the hex instance UID. It satisfies session.PairingStore.
package persistence
