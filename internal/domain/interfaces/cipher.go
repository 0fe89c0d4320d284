package interfaces

import domaintypes "sealchat/internal/domain/types"

// CipherLibrary constructs and restores the ratchet primitives. Every
// pickle operation takes the key supplied by a PickleKeyProvider.
type CipherLibrary interface {
	NewAccount() (Account, error)
	AccountFromPickle(key domaintypes.PickleKey, p domaintypes.Pickle) (Account, error)
	SessionFromPickle(key domaintypes.PickleKey, p domaintypes.Pickle) (Session, error)
	NewGroupSession() (GroupSession, error)
	GroupSessionFromPickle(key domaintypes.PickleKey, p domaintypes.Pickle) (GroupSession, error)
	// NewInboundGroupSession imports a session key shared by the device
	// whose identity key is sender.
	NewInboundGroupSession(sessionKey string, sender domaintypes.Curve25519Public) (InboundGroupSession, error)
	InboundGroupSessionFromPickle(key domaintypes.PickleKey, p domaintypes.Pickle) (InboundGroupSession, error)
}

// Account is the device's long-term identity and one-time key material.
type Account interface {
	IdentityKey() domaintypes.Curve25519Public
	SigningKey() domaintypes.Ed25519Public

	// CreateOutboundSession starts a pairwise session using a one-time key
	// claimed from the peer.
	CreateOutboundSession(
		theirIdentity domaintypes.Curve25519Public,
		theirOneTimeKey domaintypes.Curve25519Public,
	) (Session, error)

	// CreateInboundSession derives a session from a prekey message body and
	// returns it along with the decrypted plaintext.
	CreateInboundSession(
		theirIdentity domaintypes.Curve25519Public,
		body string,
	) (Session, []byte, error)

	// RemoveOneTimeKeys drops the one-time key consumed by an inbound session.
	RemoveOneTimeKeys(s Session) error

	GenerateOneTimeKeys(n int) error
	// OneTimeKeys returns the signed one-time keys not yet published.
	OneTimeKeys() []domaintypes.OneTimeKey
	MarkKeysAsPublished()

	Pickle(key domaintypes.PickleKey) (domaintypes.Pickle, error)
}

// Session is a pairwise ratchet session with one remote device.
type Session interface {
	ID() domaintypes.SessionID
	Encrypt(plaintext []byte) (domaintypes.OlmMessageType, string, error)
	// Decrypt leaves the session unchanged when it returns an error.
	Decrypt(t domaintypes.OlmMessageType, body string) ([]byte, error)
	// MatchesInbound reports whether a prekey message body was produced for
	// this session.
	MatchesInbound(body string) bool
	// Index counts every successful encrypt and decrypt.
	Index() uint64
	// RemoteIdentity is the identity key of the device on the other end.
	RemoteIdentity() domaintypes.Curve25519Public
	Pickle(key domaintypes.PickleKey) (domaintypes.Pickle, error)
}

// GroupSession is this device's outbound group session for a conversation.
type GroupSession interface {
	ID() domaintypes.SessionID
	// SessionKey exports the ratchet at the current message index.
	SessionKey() string
	MessageIndex() uint32
	Encrypt(plaintext []byte) (string, error)
	Pickle(key domaintypes.PickleKey) (domaintypes.Pickle, error)
}

// InboundGroupSession decrypts one sender's group messages.
type InboundGroupSession interface {
	ID() domaintypes.SessionID
	// SenderKey is the identity key of the device that shared the session.
	SenderKey() domaintypes.Curve25519Public
	// FirstKnownIndex is the lowest message index the session can still
	// decrypt. Everything below it has been consumed or was never shared.
	FirstKnownIndex() uint32
	// MessageIndex reads the index of a ciphertext without decrypting it.
	MessageIndex(ciphertext string) (uint32, error)
	Decrypt(ciphertext string) ([]byte, uint32, error)
	Pickle(key domaintypes.PickleKey) (domaintypes.Pickle, error)
}

// PickleKeyProvider supplies the key that seals persisted state.
type PickleKeyProvider interface {
	Key() (domaintypes.PickleKey, error)
}
