package megolm

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"sealchat/internal/crypto"
	"sealchat/internal/domain"
)

const (
	messageVersion    = 3
	sessionKeyVersion = 2

	keyInfo = "MEGOLM_KEYS"

	outboundKind = "megolm-outbound"
	inboundKind  = "megolm-inbound"

	signatureSize = ed25519.SignatureSize
	headerSize    = 1 + 4
	sessionKeyLen = headerSize + ratchetLength + ed25519.PublicKeySize + signatureSize
)

var (
	// ErrIndexTooOld is returned when a message index is behind the
	// inbound session's ratchet.
	ErrIndexTooOld = errors.New("megolm: message index already consumed")
	// ErrBadSignature is returned for messages or session keys whose
	// signature does not verify.
	ErrBadSignature = errors.New("megolm: bad signature")
	// ErrBadMessage is returned for undecodable messages.
	ErrBadMessage = errors.New("megolm: malformed message")
	// ErrBadSessionKey is returned for undecodable session keys.
	ErrBadSessionKey = errors.New("megolm: malformed session key")
)

// OutboundSession encrypts this device's messages to a conversation.
type OutboundSession struct {
	Ratchet    Ratchet               `json:"ratchet"`
	SigningKey domain.Ed25519Private `json:"signing_key"`
}

// NewOutboundSession creates a session with a random ratchet and signing key.
func NewOutboundSession() (*OutboundSession, error) {
	s := &OutboundSession{}
	for i := range s.Ratchet.Data {
		if _, err := rand.Read(s.Ratchet.Data[i][:]); err != nil {
			return nil, err
		}
	}
	priv, _, err := crypto.GenerateEd25519()
	if err != nil {
		return nil, err
	}
	s.SigningKey = priv
	return s, nil
}

func (s *OutboundSession) publicKey() domain.Ed25519Public {
	var pub domain.Ed25519Public
	copy(pub[:], ed25519.PrivateKey(s.SigningKey[:]).Public().(ed25519.PublicKey))
	return pub
}

// ID returns the session id.
func (s *OutboundSession) ID() domain.SessionID {
	return sessionID(s.publicKey())
}

// MessageIndex returns the index the next message will use.
func (s *OutboundSession) MessageIndex() uint32 { return s.Ratchet.Counter }

// SessionKey exports the ratchet at its current index, signed.
func (s *OutboundSession) SessionKey() string {
	pub := s.publicKey()
	out := make([]byte, 0, sessionKeyLen)
	out = append(out, sessionKeyVersion)
	out = binary.BigEndian.AppendUint32(out, s.Ratchet.Counter)
	out = append(out, s.Ratchet.bytes()...)
	out = append(out, pub[:]...)
	out = append(out, crypto.SignEd25519(s.SigningKey, out)...)
	return base64.RawStdEncoding.EncodeToString(out)
}

// Encrypt encrypts plaintext at the current index and advances the ratchet.
func (s *OutboundSession) Encrypt(plaintext []byte) (string, error) {
	key, nonce, err := messageKeys(&s.Ratchet)
	if err != nil {
		return "", err
	}
	defer crypto.Wipe(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", err
	}
	out := make([]byte, 0, headerSize+len(plaintext)+aead.Overhead()+signatureSize)
	out = append(out, messageVersion)
	out = binary.BigEndian.AppendUint32(out, s.Ratchet.Counter)
	out = aead.Seal(out, nonce, plaintext, out[:headerSize])
	out = append(out, crypto.SignEd25519(s.SigningKey, out)...)

	s.Ratchet.Advance()
	return base64.RawStdEncoding.EncodeToString(out), nil
}

// Pickle seals the session under key.
func (s *OutboundSession) Pickle(key domain.PickleKey) (domain.Pickle, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(raw)
	return crypto.Seal(key, outboundKind, raw)
}

// OutboundFromPickle restores a pickled outbound session.
func OutboundFromPickle(key domain.PickleKey, p domain.Pickle) (*OutboundSession, error) {
	raw, err := crypto.Open(key, outboundKind, p)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(raw)
	var s OutboundSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode outbound session: %w", err)
	}
	return &s, nil
}

// InboundSession decrypts one sender's messages. It keeps only its current
// ratchet, so indices it has already passed can never be decrypted again.
// Sender is the identity key of the device that shared the session key.
type InboundSession struct {
	Ratchet    Ratchet                 `json:"ratchet"`
	SigningKey domain.Ed25519Public    `json:"signing_key"`
	Sender     domain.Curve25519Public `json:"sender_key"`
}

// NewInboundSession imports an exported session key.
func NewInboundSession(sessionKey string) (*InboundSession, error) {
	b, err := base64.RawStdEncoding.DecodeString(sessionKey)
	if err != nil || len(b) != sessionKeyLen || b[0] != sessionKeyVersion {
		return nil, ErrBadSessionKey
	}
	signed, sig := b[:len(b)-signatureSize], b[len(b)-signatureSize:]

	s := &InboundSession{}
	s.Ratchet.Counter = binary.BigEndian.Uint32(b[1:headerSize])
	off := headerSize
	for i := range s.Ratchet.Data {
		copy(s.Ratchet.Data[i][:], b[off:off+ratchetPartSize])
		off += ratchetPartSize
	}
	copy(s.SigningKey[:], b[off:off+ed25519.PublicKeySize])

	if !crypto.VerifyEd25519(s.SigningKey, signed, sig) {
		return nil, ErrBadSignature
	}
	return s, nil
}

// ID returns the session id.
func (s *InboundSession) ID() domain.SessionID { return sessionID(s.SigningKey) }

// SenderKey returns the identity key of the device the session came from.
func (s *InboundSession) SenderKey() domain.Curve25519Public { return s.Sender }

// FirstKnownIndex returns the lowest index the session can still decrypt.
func (s *InboundSession) FirstKnownIndex() uint32 { return s.Ratchet.Counter }

// MessageIndex reads the index of a message without verifying it.
func (s *InboundSession) MessageIndex(message string) (uint32, error) {
	b, err := decodeMessage(message)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[1:headerSize]), nil
}

// Decrypt verifies and decrypts message. On success the ratchet moves past
// the message index. The session is unchanged on error.
func (s *InboundSession) Decrypt(message string) ([]byte, uint32, error) {
	b, err := decodeMessage(message)
	if err != nil {
		return nil, 0, err
	}
	index := binary.BigEndian.Uint32(b[1:headerSize])
	signed, sig := b[:len(b)-signatureSize], b[len(b)-signatureSize:]
	if !crypto.VerifyEd25519(s.SigningKey, signed, sig) {
		return nil, index, ErrBadSignature
	}
	if index < s.Ratchet.Counter {
		return nil, index, ErrIndexTooOld
	}

	r := s.Ratchet
	r.AdvanceTo(index)
	key, nonce, err := messageKeys(&r)
	if err != nil {
		return nil, index, err
	}
	defer crypto.Wipe(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, index, err
	}
	pt, err := aead.Open(nil, nonce, signed[headerSize:], signed[:headerSize])
	if err != nil {
		return nil, index, fmt.Errorf("megolm: open: %w", err)
	}

	r.Advance()
	s.Ratchet.wipe()
	s.Ratchet = r
	return pt, index, nil
}

// Pickle seals the session under key.
func (s *InboundSession) Pickle(key domain.PickleKey) (domain.Pickle, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(raw)
	return crypto.Seal(key, inboundKind, raw)
}

// InboundFromPickle restores a pickled inbound session.
func InboundFromPickle(key domain.PickleKey, p domain.Pickle) (*InboundSession, error) {
	raw, err := crypto.Open(key, inboundKind, p)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(raw)
	var s InboundSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode inbound session: %w", err)
	}
	return &s, nil
}

func sessionID(pub domain.Ed25519Public) domain.SessionID {
	return domain.SessionID(base64.RawStdEncoding.EncodeToString(pub[:]))
}

func decodeMessage(message string) ([]byte, error) {
	b, err := base64.RawStdEncoding.DecodeString(message)
	if err != nil || len(b) < headerSize+chacha20poly1305.Overhead+signatureSize || b[0] != messageVersion {
		return nil, ErrBadMessage
	}
	return b, nil
}

// messageKeys derives the AEAD key and nonce for the ratchet's current index.
func messageKeys(r *Ratchet) (key, nonce []byte, err error) {
	ikm := r.bytes()
	defer crypto.Wipe(ikm)
	key = make([]byte, chacha20poly1305.KeySize)
	nonce = make([]byte, chacha20poly1305.NonceSize)
	if err := crypto.HKDF(ikm, nil, keyInfo, key, nonce); err != nil {
		return nil, nil, err
	}
	return key, nonce, nil
}
