// Package megolm implements the group ratchet: one sender key per session,
// constant encryption cost regardless of group size, and a strictly
// advancing message index.
//
// # Ratchet
//
// The ratchet value is four 32-byte parts R0..R3 and a 32-bit counter. Part
// Ri is rehashed every 2^(8*(3-i)) messages and reseeds the parts after it,
// so a receiver can jump forward to any index with at most 1020 hash
// operations but can never go back.
//
// # Wire formats
//
// Both formats are unpadded base64.
//
//	message:     version(1)=3 | index(4) | ciphertext | ed25519 sig(64)
//	session key: version(1)=2 | index(4) | R0..R3(128) | signing pub(32) | ed25519 sig(64)
//
// The session id is the base64 signing public key.
package megolm
