package keylock

import "sealchat/internal/domain"

// AccountKey guards the local account pickle. It is always taken after any
// device key, never before.
const AccountKey = "account"

// DeviceKey guards the pairwise session with device.
func DeviceKey(device domain.DeviceID) string { return "olm:" + string(device) }

// ConversationKey guards every group session of conv.
func ConversationKey(conv domain.ConversationID) string { return "group:" + string(conv) }
