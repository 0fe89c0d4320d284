package group

import (
	"context"
	"fmt"
	"time"

	"github.com/decred/slog"

	"sealchat/internal/domain"
	"sealchat/internal/keylock"
	"sealchat/internal/metrics"
)

const (
	// DefaultRotationMessages is how many messages an outbound session
	// encrypts before it is replaced.
	DefaultRotationMessages = 100

	// DefaultRotationAge is how long an outbound session lives before it is
	// replaced.
	DefaultRotationAge = 7 * 24 * time.Hour
)

// IdentitySource supplies the local identity key.
type IdentitySource interface {
	IdentityKey(ctx context.Context) (domain.Curve25519Public, error)
}

// Config holds a Manager's dependencies and rotation policy.
type Config struct {
	Store  domain.SessionStore
	Cipher domain.CipherLibrary
	Keys   domain.PickleKeyProvider
	// Identity binds our own inbound copies to the local device.
	Identity IdentitySource

	Locker  domain.Locker
	Log     slog.Logger
	Metrics *metrics.Metrics

	// RotationMessages and RotationAge default to DefaultRotationMessages
	// and DefaultRotationAge when zero.
	RotationMessages int
	RotationAge      time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager implements domain.GroupManager.
type Manager struct {
	store   domain.SessionStore
	cipher  domain.CipherLibrary
	keys    domain.PickleKeyProvider
	self    IdentitySource
	locker  domain.Locker
	log     slog.Logger
	metrics *metrics.Metrics

	rotateAfter int
	maxAge      time.Duration
	now         func() time.Time
}

var _ domain.GroupManager = (*Manager)(nil)

// New returns a Manager.
func New(cfg Config) *Manager {
	m := &Manager{
		store:       cfg.Store,
		cipher:      cfg.Cipher,
		keys:        cfg.Keys,
		self:        cfg.Identity,
		locker:      cfg.Locker,
		log:         cfg.Log,
		metrics:     cfg.Metrics,
		rotateAfter: cfg.RotationMessages,
		maxAge:      cfg.RotationAge,
		now:         cfg.Now,
	}
	if m.locker == nil {
		m.locker = keylock.New()
	}
	if m.log == nil {
		m.log = slog.Disabled
	}
	if m.rotateAfter <= 0 {
		m.rotateAfter = DefaultRotationMessages
	}
	if m.maxAge <= 0 {
		m.maxAge = DefaultRotationAge
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// GetOrCreateOutbound returns the conversation's outbound session, creating
// a new one when none exists or the current one is due for rotation. The
// bool reports whether the session was created by this call.
func (m *Manager) GetOrCreateOutbound(ctx context.Context, conv domain.ConversationID) (domain.GroupSession, bool, error) {
	unlock, err := m.locker.Lock(ctx, keylock.ConversationKey(conv))
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	key, err := m.keys.Key()
	if err != nil {
		return nil, false, err
	}
	sess, _, isNew, err := m.outboundLocked(ctx, key, conv)
	return sess, isNew, err
}

// Encrypt encrypts plaintext with the conversation's outbound session,
// persists the advanced session and bumps its message count, all under the
// conversation lock. When the session is new, the returned SessionKey is the
// key exported before this message was encrypted.
func (m *Manager) Encrypt(ctx context.Context, conv domain.ConversationID, plaintext []byte) (domain.GroupCiphertext, error) {
	unlock, err := m.locker.Lock(ctx, keylock.ConversationKey(conv))
	if err != nil {
		return domain.GroupCiphertext{}, err
	}
	defer unlock()

	key, err := m.keys.Key()
	if err != nil {
		return domain.GroupCiphertext{}, err
	}
	sess, rec, isNew, err := m.outboundLocked(ctx, key, conv)
	if err != nil {
		return domain.GroupCiphertext{}, err
	}

	out := domain.GroupCiphertext{SessionID: sess.ID(), IsNew: isNew}
	if isNew {
		out.SessionKey = sess.SessionKey()
	}
	if out.Ciphertext, err = sess.Encrypt(plaintext); err != nil {
		return domain.GroupCiphertext{}, fmt.Errorf("megolm encrypt in %s: %w", conv, err)
	}

	if rec.Outbound, err = sess.Pickle(key); err != nil {
		return domain.GroupCiphertext{}, err
	}
	rec.Inbound = nil
	if err := m.store.PutGroupSession(ctx, conv, rec); err != nil {
		return domain.GroupCiphertext{}, fmt.Errorf("persist outbound session for %s: %w", conv, err)
	}
	if _, err := m.store.IncrementGroupMessageCount(ctx, conv); err != nil {
		return domain.GroupCiphertext{}, fmt.Errorf("count message in %s: %w", conv, err)
	}
	return out, nil
}

// IncrementMessageCount records one more message sent with the current
// outbound session and returns the new count.
func (m *Manager) IncrementMessageCount(ctx context.Context, conv domain.ConversationID) (int, error) {
	unlock, err := m.locker.Lock(ctx, keylock.ConversationKey(conv))
	if err != nil {
		return 0, err
	}
	defer unlock()
	return m.store.IncrementGroupMessageCount(ctx, conv)
}

// ImportInbound stores an inbound session built from a session key shared
// by sender. When the session is already known, the copy with the higher
// first known index is kept so a replayed share never rewinds the ratchet.
// A known session is never rebound to a different sender.
func (m *Manager) ImportInbound(ctx context.Context, conv domain.ConversationID, id domain.SessionID,
	sessionKey string, sender domain.Curve25519Public) error {

	in, err := m.cipher.NewInboundGroupSession(sessionKey, sender)
	if err != nil {
		return fmt.Errorf("%w: session key: %w", domain.ErrMalformedPayload, err)
	}
	if in.ID() != id {
		return fmt.Errorf("%w: session key is for %s, not %s", domain.ErrMalformedPayload, in.ID(), id)
	}

	unlock, err := m.locker.Lock(ctx, keylock.ConversationKey(conv))
	if err != nil {
		return err
	}
	defer unlock()

	key, err := m.keys.Key()
	if err != nil {
		return err
	}
	cur, ok, err := m.inboundLocked(ctx, key, conv, id)
	if err != nil {
		return err
	}
	if ok && cur.SenderKey() != sender {
		m.log.Warnf("Rejecting share of %s in %s from %s: session belongs to %s",
			id, conv, sender, cur.SenderKey())
		return fmt.Errorf("%w: session %s was shared by %s, not %s",
			domain.ErrDecryptionFailed, id, cur.SenderKey(), sender)
	}
	if ok && cur.FirstKnownIndex() >= in.FirstKnownIndex() {
		m.log.Debugf("Ignoring share of %s in %s at index %d: have index %d",
			id, conv, in.FirstKnownIndex(), cur.FirstKnownIndex())
		return nil
	}

	p, err := in.Pickle(key)
	if err != nil {
		return err
	}
	if err := m.store.AddInboundGroupSession(ctx, conv, id, p); err != nil {
		return fmt.Errorf("persist inbound session %s: %w", id, err)
	}
	m.log.Debugf("Imported inbound session %s in %s at index %d", id, conv, in.FirstKnownIndex())
	return nil
}

// Decrypt decrypts a group message claimed to come from sender and persists
// the advanced inbound session. Messages at an index the session has already
// moved past are rejected with ErrReplayedMessage.
func (m *Manager) Decrypt(ctx context.Context, conv domain.ConversationID, id domain.SessionID,
	sender domain.Curve25519Public, ciphertext string) ([]byte, uint32, error) {

	unlock, err := m.locker.Lock(ctx, keylock.ConversationKey(conv))
	if err != nil {
		return nil, 0, err
	}
	defer unlock()

	key, err := m.keys.Key()
	if err != nil {
		return nil, 0, err
	}
	in, ok, err := m.inboundLocked(ctx, key, conv, id)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, fmt.Errorf("%w: group session %s in %s", domain.ErrNoSessionFound, id, conv)
	}
	if in.SenderKey() != sender {
		return nil, 0, fmt.Errorf("%w: session %s belongs to %s, message claims %s",
			domain.ErrDecryptionFailed, id, in.SenderKey(), sender)
	}

	idx, err := in.MessageIndex(ciphertext)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", domain.ErrDecryptionFailed, err)
	}
	if idx < in.FirstKnownIndex() {
		return nil, 0, fmt.Errorf("%w: index %d of %s, next is %d",
			domain.ErrReplayedMessage, idx, id, in.FirstKnownIndex())
	}

	plaintext, idx, err := in.Decrypt(ciphertext)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", domain.ErrDecryptionFailed, err)
	}
	p, err := in.Pickle(key)
	if err != nil {
		return nil, 0, err
	}
	if err := m.store.AddInboundGroupSession(ctx, conv, id, p); err != nil {
		return nil, 0, fmt.Errorf("persist inbound session %s: %w", id, err)
	}
	return plaintext, idx, nil
}

// outboundLocked must be called with the conversation lock held.
func (m *Manager) outboundLocked(ctx context.Context, key domain.PickleKey,
	conv domain.ConversationID) (domain.GroupSession, domain.GroupSessionRecord, bool, error) {

	rec, ok, err := m.store.GetGroupSession(ctx, conv)
	if err != nil {
		return nil, rec, false, err
	}
	if ok && rec.HasOutbound() {
		switch {
		case rec.MessageCount >= m.rotateAfter:
			m.log.Debugf("Rotating %s in %s after %d messages", rec.OutboundID, conv, rec.MessageCount)
		case m.now().Sub(rec.OutboundCreatedAt) >= m.maxAge:
			m.log.Debugf("Rotating %s in %s created %s", rec.OutboundID, conv,
				rec.OutboundCreatedAt.Format(time.RFC3339))
		default:
			sess, err := m.cipher.GroupSessionFromPickle(key, rec.Outbound)
			if err != nil {
				return nil, rec, false, fmt.Errorf("unpickle outbound session for %s: %w", conv, err)
			}
			return sess, rec, false, nil
		}
	}

	if m.self == nil {
		return nil, rec, false, fmt.Errorf("%w: no local identity", domain.ErrAccountNotReady)
	}
	ik, err := m.self.IdentityKey(ctx)
	if err != nil {
		return nil, rec, false, err
	}
	sess, err := m.cipher.NewGroupSession()
	if err != nil {
		return nil, rec, false, err
	}
	// Keep our own inbound copy so we can read our messages back.
	own, err := m.cipher.NewInboundGroupSession(sess.SessionKey(), ik)
	if err != nil {
		return nil, rec, false, err
	}
	outP, err := sess.Pickle(key)
	if err != nil {
		return nil, rec, false, err
	}
	inP, err := own.Pickle(key)
	if err != nil {
		return nil, rec, false, err
	}

	rec = domain.GroupSessionRecord{
		OutboundID:        sess.ID(),
		Outbound:          outP,
		OutboundCreatedAt: m.now(),
		Inbound:           map[domain.SessionID]domain.Pickle{sess.ID(): inP},
	}
	if err := m.store.PutGroupSession(ctx, conv, rec); err != nil {
		return nil, rec, false, fmt.Errorf("persist new outbound session for %s: %w", conv, err)
	}
	m.metrics.Rotated()
	m.log.Infof("Created outbound group session %s for %s", sess.ID(), conv)
	return sess, rec, true, nil
}

func (m *Manager) inboundLocked(ctx context.Context, key domain.PickleKey,
	conv domain.ConversationID, id domain.SessionID) (domain.InboundGroupSession, bool, error) {

	rec, ok, err := m.store.GetGroupSession(ctx, conv)
	if err != nil || !ok {
		return nil, false, err
	}
	p, ok := rec.Inbound[id]
	if !ok {
		return nil, false, nil
	}
	in, err := m.cipher.InboundGroupSessionFromPickle(key, p)
	if err != nil {
		return nil, false, fmt.Errorf("unpickle inbound session %s: %w", id, err)
	}
	return in, true, nil
}
