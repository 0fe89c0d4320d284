package types

import (
	"encoding/json"
	"fmt"
)

// Algorithm is the wire discriminator of an encrypted message payload.
type Algorithm string

const (
	AlgorithmOlm    Algorithm = "olm.v1"
	AlgorithmMegolm Algorithm = "megolm.v1"
)

// OlmMessageType distinguishes session-establishing messages from
// continuation messages on a pairwise session.
type OlmMessageType int

const (
	// OlmPrekey messages carry enough material for the receiver to derive a
	// new inbound session.
	OlmPrekey OlmMessageType = 0
	// OlmNormal messages require an existing session.
	OlmNormal OlmMessageType = 1
)

func (t OlmMessageType) String() string {
	switch t {
	case OlmPrekey:
		return "prekey"
	case OlmNormal:
		return "normal"
	default:
		return fmt.Sprintf("OlmMessageType(%d)", int(t))
	}
}

// Payload is an encrypted message as it appears on the wire. It is
// implemented only by OlmPayload and MegolmPayload.
type Payload interface {
	Algorithm() Algorithm
	Sender() (DeviceID, Curve25519Public)
	isPayload()
}

// OlmPayload is a message encrypted through a pairwise session.
type OlmPayload struct {
	SenderDeviceID    DeviceID
	SenderIdentityKey Curve25519Public
	MessageType       OlmMessageType
	Ciphertext        string
}

// MegolmPayload is a message encrypted through an outbound group session.
type MegolmPayload struct {
	SenderDeviceID    DeviceID
	SenderIdentityKey Curve25519Public
	SessionID         SessionID
	Ciphertext        string
}

func (OlmPayload) Algorithm() Algorithm    { return AlgorithmOlm }
func (MegolmPayload) Algorithm() Algorithm { return AlgorithmMegolm }

func (p OlmPayload) Sender() (DeviceID, Curve25519Public) {
	return p.SenderDeviceID, p.SenderIdentityKey
}

func (p MegolmPayload) Sender() (DeviceID, Curve25519Public) {
	return p.SenderDeviceID, p.SenderIdentityKey
}

func (OlmPayload) isPayload()    {}
func (MegolmPayload) isPayload() {}

// wirePayload is the JSON shape shared by both variants.
type wirePayload struct {
	Algorithm         Algorithm       `json:"algorithm"`
	SenderDeviceID    DeviceID        `json:"senderDeviceId"`
	SenderIdentityKey string          `json:"senderIdentityKey"`
	Ciphertext        string          `json:"ciphertext"`
	OlmMessageType    *OlmMessageType `json:"olmMessageType,omitempty"`
	SessionID         SessionID       `json:"sessionId,omitempty"`
}

// MarshalPayload encodes p with its algorithm discriminator.
func MarshalPayload(p Payload) ([]byte, error) {
	var w wirePayload
	switch v := p.(type) {
	case OlmPayload:
		mt := v.MessageType
		w = wirePayload{
			Algorithm:         AlgorithmOlm,
			SenderDeviceID:    v.SenderDeviceID,
			SenderIdentityKey: v.SenderIdentityKey.String(),
			Ciphertext:        v.Ciphertext,
			OlmMessageType:    &mt,
		}
	case MegolmPayload:
		w = wirePayload{
			Algorithm:         AlgorithmMegolm,
			SenderDeviceID:    v.SenderDeviceID,
			SenderIdentityKey: v.SenderIdentityKey.String(),
			Ciphertext:        v.Ciphertext,
			SessionID:         v.SessionID,
		}
	default:
		return nil, fmt.Errorf("%w: unsupported payload %T", ErrMalformedPayload, p)
	}
	return json.Marshal(w)
}

// UnmarshalPayload decodes a payload, rejecting unknown algorithms and
// payloads that lack a field their algorithm requires.
func UnmarshalPayload(b []byte) (Payload, error) {
	var w wirePayload
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	ik, ok := ParseCurve25519Public(w.SenderIdentityKey)
	if !ok {
		return nil, fmt.Errorf("%w: bad senderIdentityKey", ErrMalformedPayload)
	}
	if w.Ciphertext == "" {
		return nil, fmt.Errorf("%w: missing ciphertext", ErrMalformedPayload)
	}

	switch w.Algorithm {
	case AlgorithmOlm:
		if w.OlmMessageType == nil {
			return nil, fmt.Errorf("%w: missing olmMessageType", ErrMalformedPayload)
		}
		mt := *w.OlmMessageType
		if mt != OlmPrekey && mt != OlmNormal {
			return nil, fmt.Errorf("%w: unknown olmMessageType %d", ErrMalformedPayload, int(mt))
		}
		return OlmPayload{
			SenderDeviceID:    w.SenderDeviceID,
			SenderIdentityKey: ik,
			MessageType:       mt,
			Ciphertext:        w.Ciphertext,
		}, nil
	case AlgorithmMegolm:
		// A missing sessionId is reported by the codec so that it can be
		// counted against the megolm algorithm.
		return MegolmPayload{
			SenderDeviceID:    w.SenderDeviceID,
			SenderIdentityKey: ik,
			SessionID:         w.SessionID,
			Ciphertext:        w.Ciphertext,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrMalformedPayload, w.Algorithm)
	}
}
