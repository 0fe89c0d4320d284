package olm

import (
	"encoding/base64"
	"encoding/json"
	"errors"

	"sealchat/internal/domain"
	"sealchat/internal/protocol/ratchet"
)

// ErrBadMessage is returned for message bodies that cannot be decoded.
var ErrBadMessage = errors.New("olm: malformed message")

type normalMessage struct {
	Header     ratchet.Header `json:"h"`
	Ciphertext []byte         `json:"ct"`
}

type prekeyMessage struct {
	IdentityKey domain.Curve25519Public `json:"ik"`
	BaseKey     domain.Curve25519Public `json:"ek"`
	OneTimeKey  domain.Curve25519Public `json:"otk"`
	Message     normalMessage           `json:"m"`
}

func encodeBody(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(b), nil
}

func decodeBody(body string, v any) error {
	b, err := base64.RawStdEncoding.DecodeString(body)
	if err != nil {
		return ErrBadMessage
	}
	if err := json.Unmarshal(b, v); err != nil {
		return ErrBadMessage
	}
	return nil
}

func decodePrekey(body string) (prekeyMessage, error) {
	var m prekeyMessage
	if err := decodeBody(body, &m); err != nil {
		return m, err
	}
	if m.IdentityKey.IsZero() || m.BaseKey.IsZero() || m.OneTimeKey.IsZero() {
		return m, ErrBadMessage
	}
	return m, nil
}
