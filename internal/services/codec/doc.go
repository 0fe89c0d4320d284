// Package codec is the session layer's entry point. It picks pairwise or
// group encryption for an outgoing message, dispatches incoming payloads on
// their algorithm, and imports group session keys shared by other devices.
//
// Decrypt never returns a Go error. Every failure is reported in the
// DecryptResult so a single bad message cannot abort processing of a batch.
package codec
