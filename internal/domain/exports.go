package domain

import (
	interfaces "sealchat/internal/domain/interfaces"
	types "sealchat/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	UserID               = types.UserID
	DeviceID             = types.DeviceID
	ConversationID       = types.ConversationID
	ConversationKind     = types.ConversationKind
	SessionID            = types.SessionID
	Fingerprint          = types.Fingerprint
	Curve25519Public     = types.Curve25519Public
	Curve25519Private    = types.Curve25519Private
	Ed25519Public        = types.Ed25519Public
	Ed25519Private       = types.Ed25519Private
	PickleKey            = types.PickleKey
	Pickle               = types.Pickle
	RecipientDevice      = types.RecipientDevice
	ClaimedPrekey        = types.ClaimedPrekey
	ClaimPrekeyFunc      = types.ClaimPrekeyFunc
	OneTimeKey           = types.OneTimeKey
	Algorithm            = types.Algorithm
	OlmMessageType       = types.OlmMessageType
	Payload              = types.Payload
	OlmPayload           = types.OlmPayload
	MegolmPayload        = types.MegolmPayload
	SessionShareEnvelope = types.SessionShareEnvelope
	SessionSharePayload  = types.SessionSharePayload
	ShareFailure         = types.ShareFailure
	GroupSessionRecord   = types.GroupSessionRecord
	GroupCiphertext      = types.GroupCiphertext
)

const (
	ConversationDirect = types.ConversationDirect
	ConversationGroup  = types.ConversationGroup
	AlgorithmOlm       = types.AlgorithmOlm
	AlgorithmMegolm    = types.AlgorithmMegolm
	OlmPrekey          = types.OlmPrekey
	OlmNormal          = types.OlmNormal
)

var (
	ErrPrekeyUnavailable = types.ErrPrekeyUnavailable
	ErrNoSessionFound    = types.ErrNoSessionFound
	ErrReplayedMessage   = types.ErrReplayedMessage
	ErrMalformedPayload  = types.ErrMalformedPayload
	ErrDecryptionFailed  = types.ErrDecryptionFailed
	ErrAccountNotReady   = types.ErrAccountNotReady

	MarshalPayload        = types.MarshalPayload
	UnmarshalPayload      = types.UnmarshalPayload
	ParseCurve25519Public = types.ParseCurve25519Public
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	CipherLibrary       = interfaces.CipherLibrary
	Account             = interfaces.Account
	Session             = interfaces.Session
	GroupSession        = interfaces.GroupSession
	InboundGroupSession = interfaces.InboundGroupSession
	PickleKeyProvider   = interfaces.PickleKeyProvider
	SessionStore        = interfaces.SessionStore
	Locker              = interfaces.Locker
	PairwiseManager     = interfaces.PairwiseManager
	GroupManager        = interfaces.GroupManager
	KeyDistributor      = interfaces.KeyDistributor
	PrekeyDirectory     = interfaces.PrekeyDirectory
)
