package types

// UserID identifies the owner of one or more devices.
type UserID string

// String returns the string form of the user identifier.
func (u UserID) String() string { return string(u) }

// DeviceID identifies a single device. Pairwise sessions are keyed by it.
type DeviceID string

// String returns the string form of the device identifier.
func (d DeviceID) String() string { return string(d) }

// ConversationID identifies a conversation (direct or group).
type ConversationID string

// String returns the string form of the conversation identifier.
func (id ConversationID) String() string { return string(id) }

// SessionID identifies a pairwise or group ratchet session.
type SessionID string

// String returns the string form of the session identifier.
func (id SessionID) String() string { return string(id) }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// ConversationKind describes the shape of a conversation.
type ConversationKind string

const (
	// ConversationDirect is a one-to-one conversation.
	ConversationDirect ConversationKind = "direct"
	// ConversationGroup is a conversation with any number of members.
	ConversationGroup ConversationKind = "group"
)

// RecipientDevice is a remote device a message is encrypted for.
type RecipientDevice struct {
	UserID      UserID           `json:"user_id"`
	DeviceID    DeviceID         `json:"device_id"`
	IdentityKey Curve25519Public `json:"identity_key"`
	// SigningKey is optional. When set, claimed one-time keys carrying a
	// signature are verified against it.
	SigningKey Ed25519Public `json:"signing_key"`
}
