// Package securechannel implements the wallet applet's pairing and secure
// messaging cryptography.
//
// # Pairing
//
// A pairing password is stretched into a 32-byte token with PBKDF2-SHA256.
// Host and token prove knowledge of the token with challenge cryptograms and
// derive the pairing key as SHA-256(token || salt).
//
// # Secure Messaging
//
// Opening a channel runs secp256k1 ECDH between a host ephemeral key and the
// token's secure channel key. Session keys are derived as
//
//	SHA-512(sharedSecret || pairingKey || salt) = encKey || macKey
//
// Every command and response is AES-256-CBC encrypted with ISO 9797-1 method 2
// padding and authenticated with AES-CBC-MAC. The MAC of each message becomes
// the IV of the next one, so a Session must see every exchange in order.
//
// The primitives (ECDH, key derivation, padding, encryption and MAC) are
// keycard-go's crypto package, so the host side speaks the same wire format
// as keycard-go's own SecureChannel.
//
// A Session has two roles: the host side uses ProtectCommand and OpenResponse,
// the token side uses OpenCommand and ProtectResponse.
package securechannel
