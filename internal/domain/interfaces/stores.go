package interfaces

import (
	"context"

	domaintypes "sealchat/internal/domain/types"
)

// SessionStore persists sealed account and session state for the local
// device. Writes are atomic per key. Reads return ok=false, not an error,
// when nothing is stored.
type SessionStore interface {
	GetAccount(ctx context.Context) (domaintypes.Pickle, bool, error)
	PutAccount(ctx context.Context, p domaintypes.Pickle) error

	GetPairwiseSession(ctx context.Context, device domaintypes.DeviceID) (domaintypes.Pickle, bool, error)
	PutPairwiseSession(ctx context.Context, device domaintypes.DeviceID, p domaintypes.Pickle) error

	GetGroupSession(ctx context.Context, conv domaintypes.ConversationID) (domaintypes.GroupSessionRecord, bool, error)
	// PutGroupSession replaces the outbound fields and upserts every inbound
	// entry in rec. Inbound entries missing from rec are kept.
	PutGroupSession(ctx context.Context, conv domaintypes.ConversationID, rec domaintypes.GroupSessionRecord) error
	AddInboundGroupSession(ctx context.Context, conv domaintypes.ConversationID, id domaintypes.SessionID, p domaintypes.Pickle) error
	// IncrementGroupMessageCount returns the count after the increment.
	IncrementGroupMessageCount(ctx context.Context, conv domaintypes.ConversationID) (int, error)
}

// Locker serialises work on a single key. The returned func releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
