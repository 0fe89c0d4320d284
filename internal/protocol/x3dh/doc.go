// Package x3dh implements the triple Diffie–Hellman agreement that
// bootstraps a pairwise ratchet session from a claimed one-time key.
//
// # Overview
//
// The initiator holds a long-term identity key IKa and creates an ephemeral
// key EKa. The responder publishes a long-term identity key IKb and a set of
// one-time keys; the initiator claims one of them, OTKb.
//
// # Flows
//
// Initiator:
//  1. Optionally verify the one-time key signature against the responder's
//     Ed25519 signing key.
//  2. Compute DH(IKa, OTKb), DH(EKa, IKb), DH(EKa, OTKb).
//  3. HKDF over the concatenated transcript to produce the root key.
//
// Responder:
//  1. Receive the prekey message carrying IKa, EKa and the OTKb public.
//  2. Look up the OTKb private half.
//  3. Compute DH(OTKb, IKa), DH(IKb, EKa), DH(OTKb, EKa) and the same HKDF.
//
// # Security notes
//
// Only public material is sent over the wire. The one-time key must be
// removed by the responder once the session is established.
package x3dh
