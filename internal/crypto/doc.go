// Package crypto exposes the minimal primitives shared by the protocol
// packages.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie–Hellman (GenerateX25519,
//     PublicFromPrivate, DH)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519)
//   - HKDF-SHA256 expansion (HKDF)
//   - Sealing of persisted state under a pickle key (Seal, Open)
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// Key material uses the fixed-size array types from internal/domain. Callers
// should treat returned secrets as sensitive and rely on Wipe when practical.
package crypto
