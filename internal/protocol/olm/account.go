package olm

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"sealchat/internal/crypto"
	"sealchat/internal/domain"
	"sealchat/internal/protocol/ratchet"
	"sealchat/internal/protocol/x3dh"
)

const accountKind = "olm-account"

var (
	// ErrUnknownOneTimeKey is returned when a prekey message names a
	// one-time key the account does not hold.
	ErrUnknownOneTimeKey = errors.New("olm: unknown one-time key")
	// ErrIdentityMismatch is returned when a prekey message was sent by a
	// different identity than the caller expected.
	ErrIdentityMismatch = errors.New("olm: sender identity mismatch")
)

type oneTimeKey struct {
	Priv      domain.Curve25519Private `json:"priv"`
	Pub       domain.Curve25519Public  `json:"pub"`
	Published bool                     `json:"published"`
}

type accountState struct {
	IdentityPriv domain.Curve25519Private `json:"identity_priv"`
	IdentityPub  domain.Curve25519Public  `json:"identity_pub"`
	SigningPriv  domain.Ed25519Private    `json:"signing_priv"`
	SigningPub   domain.Ed25519Public     `json:"signing_pub"`
	NextKeyID    uint32                   `json:"next_key_id"`
	OneTimeKeys  map[string]oneTimeKey    `json:"one_time_keys"`
}

// Account holds the device identity and its one-time keys.
type Account struct {
	st accountState
}

var _ domain.Account = (*Account)(nil)

// NewAccount generates fresh identity and signing keys.
func NewAccount() (*Account, error) {
	idPriv, idPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}
	sigPriv, sigPub, err := crypto.GenerateEd25519()
	if err != nil {
		return nil, err
	}
	return &Account{st: accountState{
		IdentityPriv: idPriv,
		IdentityPub:  idPub,
		SigningPriv:  sigPriv,
		SigningPub:   sigPub,
		OneTimeKeys:  make(map[string]oneTimeKey),
	}}, nil
}

func (a *Account) IdentityKey() domain.Curve25519Public { return a.st.IdentityPub }
func (a *Account) SigningKey() domain.Ed25519Public     { return a.st.SigningPub }

// CreateOutboundSession starts a session with a device whose one-time key
// has been claimed.
func (a *Account) CreateOutboundSession(
	theirIdentity domain.Curve25519Public,
	theirOneTimeKey domain.Curve25519Public,
) (domain.Session, error) {
	basePriv, basePub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}
	root, err := x3dh.InitiatorRootKey(a.st.IdentityPriv, basePriv, theirIdentity, theirOneTimeKey)
	crypto.Wipe(basePriv[:])
	if err != nil {
		return nil, err
	}
	rs, err := ratchet.InitAsInitiator(root, theirIdentity)
	crypto.Wipe(root)
	if err != nil {
		return nil, err
	}
	return &Session{st: sessionState{
		InitiatorIdentity: a.st.IdentityPub,
		BaseKey:           basePub,
		OneTimeKey:        theirOneTimeKey,
		Outbound:          true,
		AD:                associatedData(a.st.IdentityPub, theirIdentity),
		Ratchet:           rs,
	}}, nil
}

// CreateInboundSession derives a session from a prekey message and decrypts
// the message it carries. The one-time key is not removed.
func (a *Account) CreateInboundSession(
	theirIdentity domain.Curve25519Public,
	body string,
) (domain.Session, []byte, error) {
	pm, err := decodePrekey(body)
	if err != nil {
		return nil, nil, err
	}
	if pm.IdentityKey != theirIdentity {
		return nil, nil, ErrIdentityMismatch
	}
	_, otk, ok := a.findOneTimeKey(pm.OneTimeKey)
	if !ok {
		return nil, nil, ErrUnknownOneTimeKey
	}

	root, err := x3dh.ResponderRootKey(a.st.IdentityPriv, otk.Priv, theirIdentity, pm.BaseKey)
	if err != nil {
		return nil, nil, err
	}
	rs, err := ratchet.InitAsResponder(root, a.st.IdentityPriv, pm.Message.Header.DHPub)
	crypto.Wipe(root)
	if err != nil {
		return nil, nil, err
	}
	s := &Session{st: sessionState{
		InitiatorIdentity: theirIdentity,
		BaseKey:           pm.BaseKey,
		OneTimeKey:        pm.OneTimeKey,
		AD:                associatedData(theirIdentity, a.st.IdentityPub),
		Ratchet:           rs,
	}}
	pt, err := s.Decrypt(domain.OlmPrekey, body)
	if err != nil {
		return nil, nil, err
	}
	return s, pt, nil
}

// RemoveOneTimeKeys drops the one-time key used by an inbound session.
func (a *Account) RemoveOneTimeKeys(s domain.Session) error {
	sess, ok := s.(*Session)
	if !ok {
		return fmt.Errorf("olm: foreign session type %T", s)
	}
	id, _, ok := a.findOneTimeKey(sess.st.OneTimeKey)
	if !ok {
		return ErrUnknownOneTimeKey
	}
	delete(a.st.OneTimeKeys, id)
	return nil
}

// GenerateOneTimeKeys adds n unpublished one-time keys.
func (a *Account) GenerateOneTimeKeys(n int) error {
	if a.st.OneTimeKeys == nil {
		a.st.OneTimeKeys = make(map[string]oneTimeKey)
	}
	for i := 0; i < n; i++ {
		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return err
		}
		a.st.NextKeyID++
		a.st.OneTimeKeys[strconv.FormatUint(uint64(a.st.NextKeyID), 10)] = oneTimeKey{Priv: priv, Pub: pub}
	}
	return nil
}

// OneTimeKeys returns the unpublished one-time keys, signed, ordered by id.
func (a *Account) OneTimeKeys() []domain.OneTimeKey {
	out := make([]domain.OneTimeKey, 0, len(a.st.OneTimeKeys))
	for id, k := range a.st.OneTimeKeys {
		if k.Published {
			continue
		}
		out = append(out, domain.OneTimeKey{
			KeyID:     id,
			PublicKey: k.Pub,
			Signature: x3dh.SignOneTimeKey(a.st.SigningPriv, k.Pub),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		ni, _ := strconv.ParseUint(out[i].KeyID, 10, 32)
		nj, _ := strconv.ParseUint(out[j].KeyID, 10, 32)
		return ni < nj
	})
	return out
}

// MarkKeysAsPublished flags every current one-time key as published.
func (a *Account) MarkKeysAsPublished() {
	for id, k := range a.st.OneTimeKeys {
		k.Published = true
		a.st.OneTimeKeys[id] = k
	}
}

// Pickle seals the account under key.
func (a *Account) Pickle(key domain.PickleKey) (domain.Pickle, error) {
	raw, err := json.Marshal(a.st)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(raw)
	return crypto.Seal(key, accountKind, raw)
}

func accountFromPickle(key domain.PickleKey, p domain.Pickle) (*Account, error) {
	raw, err := crypto.Open(key, accountKind, p)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(raw)
	var st accountState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if st.OneTimeKeys == nil {
		st.OneTimeKeys = make(map[string]oneTimeKey)
	}
	return &Account{st: st}, nil
}

func (a *Account) findOneTimeKey(pub domain.Curve25519Public) (string, oneTimeKey, bool) {
	for id, k := range a.st.OneTimeKeys {
		if k.Pub == pub {
			return id, k, true
		}
	}
	return "", oneTimeKey{}, false
}
