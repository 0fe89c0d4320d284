package types

import (
	"context"
	"time"
)

// ClaimedPrekey is a one-time prekey handed out by the prekey claim service.
type ClaimedPrekey struct {
	KeyID     string           `json:"key_id"`
	PublicKey Curve25519Public `json:"public_key"`
	// Signature is the device's Ed25519 signature over PublicKey, if any.
	Signature []byte `json:"signature,omitempty"`
}

// ClaimPrekeyFunc claims a one-time prekey for a remote device. A nil
// prekey with a nil error means none was available.
type ClaimPrekeyFunc func(ctx context.Context, user UserID, device DeviceID) (*ClaimedPrekey, error)

// OneTimeKey is one of the local account's published or pending one-time keys.
type OneTimeKey struct {
	KeyID     string           `json:"key_id"`
	PublicKey Curve25519Public `json:"public_key"`
	Signature []byte           `json:"signature"`
}

// SessionShareEnvelope is the plaintext wrapped inside a session share.
type SessionShareEnvelope struct {
	SessionID  SessionID `json:"sessionId"`
	SessionKey string    `json:"sessionKey"`
}

// SessionSharePayload carries a group session key to one recipient device,
// encrypted through the pairwise session with that device.
type SessionSharePayload struct {
	RecipientUserID   UserID
	RecipientDeviceID DeviceID
	ConversationID    ConversationID
	SessionID         SessionID
	Payload           OlmPayload
}

// GroupSessionRecord is the stored state of a conversation's group sessions.
type GroupSessionRecord struct {
	// OutboundID and Outbound are empty until this device first sends.
	OutboundID        SessionID
	Outbound          Pickle
	MessageCount      int
	OutboundCreatedAt time.Time
	Inbound           map[SessionID]Pickle
}

// HasOutbound reports whether the record carries an outbound session.
func (r GroupSessionRecord) HasOutbound() bool { return len(r.Outbound) > 0 }
