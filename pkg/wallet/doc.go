// Package wallet provides typed views over wallet applet response payloads.
//
// Every parser in this package is a pure function: it either returns a fully
// populated immutable value or an error wrapping ErrMalformedResponse. A
// partially decoded value is never returned.
//
// # Payloads
//
//   - SELECT          -> ApplicationDescriptor (template 0xA4, or bare 0x80
//     public key for an uninitialized token)
//   - GET STATUS      -> StatusDescriptor (template 0xA3)
//   - GET STATUS path -> DerivationPath (concatenated 4-byte components)
//   - PAIR            -> PairingMaterial (index || key)
//   - SIGN            -> RecoverableSignature (template 0xA0)
//
// # Derivation Paths
//
// Paths use BIP-32 notation. A trailing ' or h marks a hardened segment:
//
//	m/44'/0'/0'/0/0
package wallet
