package types

// ShareFailure records a recipient device the group session key could not
// be delivered to.
type ShareFailure struct {
	UserID   UserID
	DeviceID DeviceID
	Err      error
}

// GroupCiphertext is the result of encrypting through a conversation's
// outbound group session.
type GroupCiphertext struct {
	SessionID  SessionID
	Ciphertext string
	// IsNew is set when the outbound session was created by this call.
	// SessionKey is only populated in that case.
	IsNew      bool
	SessionKey string
}
