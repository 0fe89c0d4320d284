package types

import "errors"

var (
	// ErrPrekeyUnavailable is returned when no one-time prekey could be
	// claimed for a device that has no pairwise session yet. Callers may retry.
	ErrPrekeyUnavailable = errors.New("prekey unavailable")

	// ErrNoSessionFound is returned when the key material needed to decrypt a
	// message is not stored locally.
	ErrNoSessionFound = errors.New("no session found")

	// ErrReplayedMessage is returned when a group message index has already
	// been consumed.
	ErrReplayedMessage = errors.New("replayed message")

	// ErrMalformedPayload is returned for unknown algorithms and payloads
	// missing a required field.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrDecryptionFailed wraps any failure reported by the cipher library.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrAccountNotReady is returned when an operation needs the local
	// account before one has been provisioned.
	ErrAccountNotReady = errors.New("account not ready")
)
