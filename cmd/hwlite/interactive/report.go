package interactive

import (
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/hwlite/hwlite-go/pkg/session"
)

// WriteReport prints a multi-line session report.
func WriteReport(w io.Writer, o session.Outcome) {
	result := "OK"
	if !o.Success() {
		result = "FAILED"
		if kind, ok := o.Kind(); ok {
			result += " (" + kind.String() + ")"
		}
	}

	fmt.Fprintf(w, "Session %s: %s\n", o.SessionID, result)
	fmt.Fprintf(w, "  State:    %s\n", o.State)
	fmt.Fprintf(w, "  Duration: %s\n", o.Duration().Round(time.Millisecond))
	if o.Err != nil {
		fmt.Fprintf(w, "  Error:    %v\n", o.Err)
	}

	if d := o.Descriptor; d != nil {
		fmt.Fprintf(w, "  Token:    %s (applet %s)\n", o.TokenID(), d.VersionString())
		if d.Initialized() {
			fmt.Fprintf(w, "  Slots:    %d free at select\n", d.FreePairingSlots())
		}
	}
	if s := o.Status; s != nil {
		fmt.Fprintf(w, "  Retries:  PIN %d, PUK %d\n", s.PINRetryCount, s.PUKRetryCount)
	}
	if p := o.Pairing; p != nil {
		state := "reused"
		if o.NewPairing {
			state = "new"
		}
		fmt.Fprintf(w, "  Pairing:  slot %d (%s)\n", p.Index, state)
	} else if o.NewPairing {
		fmt.Fprintln(w, "  Pairing:  removed")
	}
	if len(o.Path) > 0 {
		fmt.Fprintf(w, "  Path:     %s\n", o.Path)
	}
	for i, sig := range o.Signatures {
		fmt.Fprintf(w, "  Sig %d:    recId=%d r=%s s=%s\n", i, sig.RecID(),
			hex.EncodeToString(sig.R()), hex.EncodeToString(sig.S()))
		if i == 0 {
			fmt.Fprintf(w, "  Key:      %s\n", hex.EncodeToString(sig.PublicKey()))
		}
	}
}

// Summary returns a one-line outcome description.
func Summary(o session.Outcome) string {
	if o.Success() {
		return fmt.Sprintf("session %.8s token=%s signatures=%d duration=%s",
			o.SessionID, o.TokenID(), len(o.Signatures), o.Duration().Round(time.Millisecond))
	}
	return fmt.Sprintf("session %.8s token=%s state=%s error=%v",
		o.SessionID, o.TokenID(), o.State, o.Err)
}
