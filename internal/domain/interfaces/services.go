package interfaces

import (
	"context"

	domaintypes "sealchat/internal/domain/types"
)

// PairwiseManager owns the pairwise session with every remote device.
type PairwiseManager interface {
	// IdentityKey returns the local account's Curve25519 identity key.
	IdentityKey(ctx context.Context) (domaintypes.Curve25519Public, error)
	GetOrCreateOutbound(
		ctx context.Context,
		device domaintypes.RecipientDevice,
		claim domaintypes.ClaimPrekeyFunc,
	) (Session, error)
	// EncryptTo encrypts and persists the advanced session while holding the
	// device's lock.
	EncryptTo(
		ctx context.Context,
		device domaintypes.RecipientDevice,
		claim domaintypes.ClaimPrekeyFunc,
		plaintext []byte,
	) (domaintypes.OlmPayload, error)
	ProcessInbound(
		ctx context.Context,
		sender domaintypes.DeviceID,
		senderIdentity domaintypes.Curve25519Public,
		t domaintypes.OlmMessageType,
		body string,
	) ([]byte, error)
}

// GroupManager owns a conversation's outbound and inbound group sessions.
type GroupManager interface {
	GetOrCreateOutbound(ctx context.Context, conv domaintypes.ConversationID) (GroupSession, bool, error)
	Encrypt(ctx context.Context, conv domaintypes.ConversationID, plaintext []byte) (domaintypes.GroupCiphertext, error)
	IncrementMessageCount(ctx context.Context, conv domaintypes.ConversationID) (int, error)
	// ImportInbound binds the imported session to sender, the identity key
	// of the device that shared it.
	ImportInbound(
		ctx context.Context,
		conv domaintypes.ConversationID,
		id domaintypes.SessionID,
		sessionKey string,
		sender domaintypes.Curve25519Public,
	) error
	// Decrypt fails unless sender matches the device the session came from.
	Decrypt(
		ctx context.Context,
		conv domaintypes.ConversationID,
		id domaintypes.SessionID,
		sender domaintypes.Curve25519Public,
		ciphertext string,
	) ([]byte, uint32, error)
}

// KeyDistributor fans a new group session key out to recipient devices.
type KeyDistributor interface {
	ShareSessionKey(
		ctx context.Context,
		conv domaintypes.ConversationID,
		id domaintypes.SessionID,
		sessionKey string,
		recipients []domaintypes.RecipientDevice,
		claim domaintypes.ClaimPrekeyFunc,
	) ([]domaintypes.SessionSharePayload, []domaintypes.ShareFailure)
}

// PrekeyDirectory publishes local one-time keys and claims remote ones.
type PrekeyDirectory interface {
	Upload(ctx context.Context, user domaintypes.UserID, device domaintypes.RecipientDevice, keys []domaintypes.OneTimeKey) error
	Claim(ctx context.Context, user domaintypes.UserID, device domaintypes.DeviceID) (*domaintypes.ClaimedPrekey, error)
	Devices(ctx context.Context, user domaintypes.UserID) ([]domaintypes.RecipientDevice, error)
}
