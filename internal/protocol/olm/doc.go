// Package olm is the reference cipher library behind the session layer.
//
// Pairwise sessions bootstrap with a triple Diffie–Hellman over a claimed
// one-time key (internal/protocol/x3dh) and continue on the Double Ratchet
// (internal/protocol/ratchet). Group sessions come from
// internal/protocol/megolm. Library adapts both to the domain contracts.
//
// # Messages
//
// A pairwise message body is unpadded base64 of a JSON object. Normal
// messages carry the ratchet header and ciphertext. Prekey messages wrap a
// normal message together with the sender's identity key, the ephemeral key
// and the claimed one-time key, so that the receiver can derive the session.
// The initiator keeps sending prekey messages until it first decrypts a
// reply.
//
// All state pickles are JSON sealed with XChaCha20-Poly1305 under the
// caller's pickle key.
package olm
