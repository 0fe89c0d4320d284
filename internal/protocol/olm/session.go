package olm

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"sealchat/internal/crypto"
	"sealchat/internal/domain"
	"sealchat/internal/protocol/ratchet"
)

const sessionKind = "olm-session"

// ErrSessionMismatch is returned when a prekey message was produced for a
// different session.
var ErrSessionMismatch = errors.New("olm: prekey message does not match session")

// sessionState is the pickled form of a session.
type sessionState struct {
	// Triple that identifies the session: initiator identity, base key and
	// the responder's one-time key.
	InitiatorIdentity domain.Curve25519Public `json:"initiator_identity"`
	BaseKey           domain.Curve25519Public `json:"base_key"`
	OneTimeKey        domain.Curve25519Public `json:"one_time_key"`

	Outbound bool `json:"outbound"`
	// Received is set once an outbound session has decrypted a reply. Until
	// then it keeps emitting prekey messages.
	Received bool   `json:"received"`
	Index    uint64 `json:"index"`
	AD       []byte `json:"ad"`

	Ratchet ratchet.State `json:"ratchet"`
}

// Session is a pairwise ratchet session.
type Session struct {
	st sessionState
}

var _ domain.Session = (*Session)(nil)

// ID derives the session id from the bootstrap triple. Both sides compute
// the same value.
func (s *Session) ID() domain.SessionID {
	h := sha256.New()
	h.Write(s.st.InitiatorIdentity[:])
	h.Write(s.st.BaseKey[:])
	h.Write(s.st.OneTimeKey[:])
	return domain.SessionID(base64.RawStdEncoding.EncodeToString(h.Sum(nil)))
}

// Index counts successful encrypts and decrypts.
func (s *Session) Index() uint64 { return s.st.Index }

// RemoteIdentity returns the peer's identity key: the responder half of the
// associated data for an outbound session, the initiator for an inbound one.
func (s *Session) RemoteIdentity() domain.Curve25519Public {
	if !s.st.Outbound {
		return s.st.InitiatorIdentity
	}
	var k domain.Curve25519Public
	if len(s.st.AD) == 2*len(k) {
		copy(k[:], s.st.AD[len(k):])
	}
	return k
}

// Encrypt encrypts plaintext. The message is a prekey message until the
// session has received a reply.
func (s *Session) Encrypt(plaintext []byte) (domain.OlmMessageType, string, error) {
	h, ct, err := ratchet.Encrypt(&s.st.Ratchet, s.st.AD, plaintext)
	if err != nil {
		return 0, "", err
	}
	msg := normalMessage{Header: h, Ciphertext: ct}

	if s.st.Outbound && !s.st.Received {
		body, err := encodeBody(prekeyMessage{
			IdentityKey: s.st.InitiatorIdentity,
			BaseKey:     s.st.BaseKey,
			OneTimeKey:  s.st.OneTimeKey,
			Message:     msg,
		})
		if err != nil {
			return 0, "", err
		}
		s.st.Index++
		return domain.OlmPrekey, body, nil
	}

	body, err := encodeBody(msg)
	if err != nil {
		return 0, "", err
	}
	s.st.Index++
	return domain.OlmNormal, body, nil
}

// Decrypt decrypts a message for this session. A failed decrypt leaves the
// session unchanged.
func (s *Session) Decrypt(t domain.OlmMessageType, body string) ([]byte, error) {
	var msg normalMessage
	switch t {
	case domain.OlmPrekey:
		pm, err := decodePrekey(body)
		if err != nil {
			return nil, err
		}
		if !s.matches(pm) {
			return nil, ErrSessionMismatch
		}
		msg = pm.Message
	case domain.OlmNormal:
		if err := decodeBody(body, &msg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("olm: unknown message type %d", int(t))
	}

	work := s.st.Ratchet.Clone()
	pt, err := ratchet.Decrypt(&work, s.st.AD, msg.Header, msg.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("olm: decrypt: %w", err)
	}
	s.st.Ratchet = work
	s.st.Index++
	if s.st.Outbound {
		s.st.Received = true
	}
	return pt, nil
}

// MatchesInbound reports whether a prekey message body belongs to this
// session.
func (s *Session) MatchesInbound(body string) bool {
	pm, err := decodePrekey(body)
	if err != nil {
		return false
	}
	return s.matches(pm)
}

func (s *Session) matches(pm prekeyMessage) bool {
	return pm.IdentityKey == s.st.InitiatorIdentity &&
		pm.BaseKey == s.st.BaseKey &&
		pm.OneTimeKey == s.st.OneTimeKey
}

// Pickle seals the session under key.
func (s *Session) Pickle(key domain.PickleKey) (domain.Pickle, error) {
	raw, err := json.Marshal(s.st)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(raw)
	return crypto.Seal(key, sessionKind, raw)
}

func sessionFromPickle(key domain.PickleKey, p domain.Pickle) (*Session, error) {
	raw, err := crypto.Open(key, sessionKind, p)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(raw)
	var st sessionState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &Session{st: st}, nil
}

// associatedData binds both identities to every message.
func associatedData(initiator, responder domain.Curve25519Public) []byte {
	ad := make([]byte, 0, 64)
	ad = append(ad, initiator[:]...)
	return append(ad, responder[:]...)
}
