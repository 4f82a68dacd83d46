package session

import (
	"encoding/hex"
	"time"

	"github.com/hwlite/hwlite-go/pkg/wallet"
)

// Outcome is the single terminal report of a session.
type Outcome struct {
	SessionID  string
	PresenceID string
	State      State

	Descriptor *wallet.ApplicationDescriptor
	Status     *wallet.StatusDescriptor

	// Pairing is the material still valid at the end of the session, nil
	// after Unpair. NewPairing is set when this session created it.
	Pairing    *wallet.PairingMaterial
	NewPairing bool

	Path       wallet.DerivationPath
	Signatures []*wallet.RecoverableSignature

	// Err is the failure that ended the session, nil on success.
	Err error

	StartedAt time.Time
	EndedAt   time.Time
}

// Success reports whether the session terminated without failure.
func (o Outcome) Success() bool {
	return o.State == StateTerminated && o.Err == nil
}

// Kind classifies the failure. It returns false on success.
func (o Outcome) Kind() (Kind, bool) {
	if o.Err == nil {
		return 0, false
	}
	return KindOf(o.Err)
}

// TokenID returns the hex instance UID, or "" before SELECT.
func (o Outcome) TokenID() string {
	if o.Descriptor == nil {
		return ""
	}
	return hex.EncodeToString(o.Descriptor.InstanceUID())
}

// Duration returns how long the session ran.
func (o Outcome) Duration() time.Duration {
	if o.EndedAt.IsZero() {
		return 0
	}
	return o.EndedAt.Sub(o.StartedAt)
}
