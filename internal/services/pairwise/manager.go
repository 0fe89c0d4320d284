package pairwise

import (
	"context"
	"fmt"
	"sync"

	"github.com/decred/slog"

	"sealchat/internal/crypto"
	"sealchat/internal/domain"
	"sealchat/internal/keylock"
)

// Config holds a Manager's dependencies.
type Config struct {
	Store  domain.SessionStore
	Cipher domain.CipherLibrary
	Keys   domain.PickleKeyProvider

	// Locker defaults to a process-local lock table.
	Locker domain.Locker
	Log    slog.Logger

	// DeviceID is this device. It is stamped on every outgoing payload.
	DeviceID domain.DeviceID
}

// Manager implements domain.PairwiseManager.
type Manager struct {
	store  domain.SessionStore
	cipher domain.CipherLibrary
	keys   domain.PickleKeyProvider
	locker domain.Locker
	log    slog.Logger
	device domain.DeviceID

	mtx      sync.Mutex
	identity domain.Curve25519Public
}

var _ domain.PairwiseManager = (*Manager)(nil)

// New returns a Manager.
func New(cfg Config) *Manager {
	m := &Manager{
		store:  cfg.Store,
		cipher: cfg.Cipher,
		keys:   cfg.Keys,
		locker: cfg.Locker,
		log:    cfg.Log,
		device: cfg.DeviceID,
	}
	if m.locker == nil {
		m.locker = keylock.New()
	}
	if m.log == nil {
		m.log = slog.Disabled
	}
	return m
}

// IdentityKey returns the local identity key. It is read from the stored
// account once and cached.
func (m *Manager) IdentityKey(ctx context.Context) (domain.Curve25519Public, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if !m.identity.IsZero() {
		return m.identity, nil
	}
	key, err := m.keys.Key()
	if err != nil {
		return domain.Curve25519Public{}, err
	}
	acct, err := m.loadAccount(ctx, key)
	if err != nil {
		return domain.Curve25519Public{}, err
	}
	m.identity = acct.IdentityKey()
	return m.identity, nil
}

// GetOrCreateOutbound returns the stored session with device, or claims a
// one-time key and creates one. A new session is persisted before it is
// returned.
func (m *Manager) GetOrCreateOutbound(
	ctx context.Context,
	device domain.RecipientDevice,
	claim domain.ClaimPrekeyFunc,
) (domain.Session, error) {
	unlock, err := m.locker.Lock(ctx, keylock.DeviceKey(device.DeviceID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	key, err := m.keys.Key()
	if err != nil {
		return nil, err
	}
	return m.getOrCreateLocked(ctx, key, device, claim)
}

// EncryptTo encrypts plaintext for device and persists the advanced session
// without releasing the device lock in between.
func (m *Manager) EncryptTo(
	ctx context.Context,
	device domain.RecipientDevice,
	claim domain.ClaimPrekeyFunc,
	plaintext []byte,
) (domain.OlmPayload, error) {
	ik, err := m.IdentityKey(ctx)
	if err != nil {
		return domain.OlmPayload{}, err
	}

	unlock, err := m.locker.Lock(ctx, keylock.DeviceKey(device.DeviceID))
	if err != nil {
		return domain.OlmPayload{}, err
	}
	defer unlock()

	key, err := m.keys.Key()
	if err != nil {
		return domain.OlmPayload{}, err
	}
	sess, err := m.getOrCreateLocked(ctx, key, device, claim)
	if err != nil {
		return domain.OlmPayload{}, err
	}

	t, body, err := sess.Encrypt(plaintext)
	if err != nil {
		return domain.OlmPayload{}, fmt.Errorf("olm encrypt to %s: %w", device.DeviceID, err)
	}
	if err := m.putSession(ctx, key, device.DeviceID, sess); err != nil {
		return domain.OlmPayload{}, err
	}
	m.log.Tracef("Encrypted %s message %d to %s/%s", t, sess.Index(),
		device.UserID, device.DeviceID)

	return domain.OlmPayload{
		SenderDeviceID:    m.device,
		SenderIdentityKey: ik,
		MessageType:       t,
		Ciphertext:        body,
	}, nil
}

// ProcessInbound decrypts an Olm message from sender. A prekey message that
// does not belong to the stored session creates a new inbound session and
// consumes the one-time key it was addressed to.
func (m *Manager) ProcessInbound(
	ctx context.Context,
	sender domain.DeviceID,
	senderIdentity domain.Curve25519Public,
	t domain.OlmMessageType,
	body string,
) ([]byte, error) {
	if t != domain.OlmPrekey && t != domain.OlmNormal {
		return nil, fmt.Errorf("%w: olm message type %d", domain.ErrMalformedPayload, t)
	}

	unlock, err := m.locker.Lock(ctx, keylock.DeviceKey(sender))
	if err != nil {
		return nil, err
	}
	defer unlock()

	key, err := m.keys.Key()
	if err != nil {
		return nil, err
	}
	sess, ok, err := m.getSession(ctx, key, sender)
	if err != nil {
		return nil, err
	}
	if ok && sess.RemoteIdentity() != senderIdentity {
		m.log.Warnf("Rejecting olm message from %s: identity %s does not match session %s",
			sender, senderIdentity, sess.ID())
		return nil, fmt.Errorf("%w: %s sent with identity %s, session is with %s",
			domain.ErrDecryptionFailed, sender, senderIdentity, sess.RemoteIdentity())
	}

	if ok && (t == domain.OlmNormal || sess.MatchesInbound(body)) {
		plaintext, err := sess.Decrypt(t, body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrDecryptionFailed, err)
		}
		if err := m.putSession(ctx, key, sender, sess); err != nil {
			return nil, err
		}
		return plaintext, nil
	}
	if t == domain.OlmNormal {
		return nil, fmt.Errorf("%w: no olm session with %s", domain.ErrNoSessionFound, sender)
	}

	return m.createInbound(ctx, key, sender, senderIdentity, body)
}

func (m *Manager) createInbound(
	ctx context.Context,
	key domain.PickleKey,
	sender domain.DeviceID,
	senderIdentity domain.Curve25519Public,
	body string,
) ([]byte, error) {
	unlock, err := m.locker.Lock(ctx, keylock.AccountKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	acct, err := m.loadAccount(ctx, key)
	if err != nil {
		return nil, err
	}
	sess, plaintext, err := acct.CreateInboundSession(senderIdentity, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDecryptionFailed, err)
	}
	if err := acct.RemoveOneTimeKeys(sess); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDecryptionFailed, err)
	}

	if err := m.putSession(ctx, key, sender, sess); err != nil {
		return nil, err
	}
	p, err := acct.Pickle(key)
	if err != nil {
		return nil, err
	}
	if err := m.store.PutAccount(ctx, p); err != nil {
		return nil, fmt.Errorf("persist account: %w", err)
	}

	m.log.Debugf("Created inbound olm session %s with %s", sess.ID(), sender)
	return plaintext, nil
}

func (m *Manager) getOrCreateLocked(
	ctx context.Context,
	key domain.PickleKey,
	device domain.RecipientDevice,
	claim domain.ClaimPrekeyFunc,
) (domain.Session, error) {
	sess, ok, err := m.getSession(ctx, key, device.DeviceID)
	if err != nil {
		return nil, err
	}
	if ok {
		if sess.RemoteIdentity() == device.IdentityKey {
			return sess, nil
		}
		m.log.Warnf("Stored olm session %s with %s is for identity %s, not %s: replacing it",
			sess.ID(), device.DeviceID, sess.RemoteIdentity(), device.IdentityKey)
	}

	acct, err := m.loadAccount(ctx, key)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, fmt.Errorf("%w: no claim func for %s", domain.ErrPrekeyUnavailable, device.DeviceID)
	}
	prekey, err := claim(ctx, device.UserID, device.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: claim for %s: %w", domain.ErrPrekeyUnavailable, device.DeviceID, err)
	}
	if prekey == nil {
		return nil, fmt.Errorf("%w: %s has no one-time keys", domain.ErrPrekeyUnavailable, device.DeviceID)
	}
	if !device.SigningKey.IsZero() {
		if len(prekey.Signature) == 0 {
			return nil, fmt.Errorf("%w: key %s for %s is unsigned",
				domain.ErrPrekeyUnavailable, prekey.KeyID, device.DeviceID)
		}
		if !crypto.VerifyEd25519(device.SigningKey, prekey.PublicKey.Slice(), prekey.Signature) {
			return nil, fmt.Errorf("%w: bad signature on key %s for %s",
				domain.ErrPrekeyUnavailable, prekey.KeyID, device.DeviceID)
		}
	}

	sess, err = acct.CreateOutboundSession(device.IdentityKey, prekey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("create olm session with %s: %w", device.DeviceID, err)
	}
	if err := m.putSession(ctx, key, device.DeviceID, sess); err != nil {
		return nil, err
	}

	m.log.Debugf("Created outbound olm session %s with %s/%s using key %s",
		sess.ID(), device.UserID, device.DeviceID, prekey.KeyID)
	return sess, nil
}

func (m *Manager) getSession(ctx context.Context, key domain.PickleKey,
	device domain.DeviceID) (domain.Session, bool, error) {

	p, ok, err := m.store.GetPairwiseSession(ctx, device)
	if err != nil || !ok {
		return nil, false, err
	}
	sess, err := m.cipher.SessionFromPickle(key, p)
	if err != nil {
		return nil, false, fmt.Errorf("unpickle olm session with %s: %w", device, err)
	}
	return sess, true, nil
}

func (m *Manager) putSession(ctx context.Context, key domain.PickleKey,
	device domain.DeviceID, sess domain.Session) error {

	p, err := sess.Pickle(key)
	if err != nil {
		return err
	}
	if err := m.store.PutPairwiseSession(ctx, device, p); err != nil {
		return fmt.Errorf("persist olm session with %s: %w", device, err)
	}
	return nil
}

func (m *Manager) loadAccount(ctx context.Context, key domain.PickleKey) (domain.Account, error) {
	p, ok, err := m.store.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrAccountNotReady
	}
	return m.cipher.AccountFromPickle(key, p)
}
