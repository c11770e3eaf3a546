// Package trust pins gateway certificate fingerprints, trust-on-first-use.
//
// The first successful handshake against an endpoint pins the SHA-256
// fingerprint of its certificate. Every later connect must present the same
// fingerprint; a mismatch fails closed and stays failed until the user
// explicitly approves the new fingerprint. There is no implicit re-pin and
// no automatic downgrade from rejected.
//
// First-use behavior is configurable: pin optimistically (surfacing a
// one-time notice) or stage the pin and refuse traffic until confirmation.
package trust
