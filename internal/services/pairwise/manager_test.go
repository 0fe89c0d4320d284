package pairwise_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealchat/internal/domain"
	"sealchat/internal/picklekey"
	"sealchat/internal/protocol/olm"
	"sealchat/internal/services/pairwise"
	"sealchat/internal/store"
	"sealchat/internal/testutils"
)

type device struct {
	id    domain.DeviceID
	store *store.MemoryStore
	acct  domain.Account
	mgr   *pairwise.Manager
}

func (d *device) recipient() domain.RecipientDevice {
	return domain.RecipientDevice{
		UserID:      domain.UserID("user-" + d.id),
		DeviceID:    d.id,
		IdentityKey: d.acct.IdentityKey(),
		SigningKey:  d.acct.SigningKey(),
	}
}

func newDevice(t *testing.T, id domain.DeviceID, prekeys *testutils.Prekeys, n int) *device {
	t.Helper()
	lib := olm.New()
	keys := picklekey.NewStatic(domain.PickleKey{1, 2, 3})

	acct, err := lib.NewAccount()
	require.NoError(t, err)
	if prekeys != nil {
		prekeys.Publish(t, id, acct, n)
	}
	k, _ := keys.Key()
	p, err := acct.Pickle(k)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	require.NoError(t, st.PutAccount(context.Background(), p))

	return &device{
		id:    id,
		store: st,
		acct:  acct,
		mgr: pairwise.New(pairwise.Config{
			Store:    st,
			Cipher:   lib,
			Keys:     keys,
			Log:      testutils.TestLoggerSys(t, "OLMS"),
			DeviceID: id,
		}),
	}
}

func TestEncryptTo_FirstMessageIsPrekeyAndPersisted(t *testing.T) {
	ctx := context.Background()
	prekeys := testutils.NewPrekeys()
	alice := newDevice(t, "alice", prekeys, 0)
	bob := newDevice(t, "bob", prekeys, 2)

	payload, err := alice.mgr.EncryptTo(ctx, bob.recipient(), prekeys.Claim, []byte("hello bob"))
	require.NoError(t, err)
	assert.Equal(t, domain.OlmPrekey, payload.MessageType)
	assert.Equal(t, alice.id, payload.SenderDeviceID)
	assert.Equal(t, alice.acct.IdentityKey(), payload.SenderIdentityKey)

	_, ok, err := alice.store.GetPairwiseSession(ctx, bob.id)
	require.NoError(t, err)
	assert.True(t, ok)

	pt, err := bob.mgr.ProcessInbound(ctx, alice.id, alice.acct.IdentityKey(),
		payload.MessageType, payload.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", string(pt))

	_, ok, err = bob.store.GetPairwiseSession(ctx, alice.id)
	require.NoError(t, err)
	assert.True(t, ok)

	// The session is reused: no second claim.
	_, err = alice.mgr.EncryptTo(ctx, bob.recipient(), prekeys.Claim, []byte("again"))
	require.NoError(t, err)
	assert.Equal(t, 1, prekeys.Claims())
}

func TestEncryptTo_NoPrekeyPersistsNothing(t *testing.T) {
	ctx := context.Background()
	alice := newDevice(t, "alice", nil, 0)
	bob := newDevice(t, "bob", nil, 0)

	_, err := alice.mgr.EncryptTo(ctx, bob.recipient(), testutils.NoPrekeys, []byte("x"))
	require.ErrorIs(t, err, domain.ErrPrekeyUnavailable)

	_, ok, err := alice.store.GetPairwiseSession(ctx, bob.id)
	require.NoError(t, err)
	assert.False(t, ok)

	claimErr := errors.New("directory offline")
	_, err = alice.mgr.GetOrCreateOutbound(ctx, bob.recipient(),
		func(context.Context, domain.UserID, domain.DeviceID) (*domain.ClaimedPrekey, error) {
			return nil, claimErr
		})
	require.ErrorIs(t, err, domain.ErrPrekeyUnavailable)
	require.ErrorIs(t, err, claimErr)
}

func TestEncryptTo_RejectsBadPrekeySignature(t *testing.T) {
	ctx := context.Background()
	prekeys := testutils.NewPrekeys()
	alice := newDevice(t, "alice", nil, 0)
	bob := newDevice(t, "bob", prekeys, 1)
	mallory := newDevice(t, "mallory", nil, 0)

	// Claimed key is Bob's, but the recipient claims Mallory's signing key.
	rcpt := bob.recipient()
	rcpt.SigningKey = mallory.acct.SigningKey()

	_, err := alice.mgr.GetOrCreateOutbound(ctx, rcpt, prekeys.Claim)
	require.ErrorIs(t, err, domain.ErrPrekeyUnavailable)
}

func TestEncryptTo_RejectsUnsignedPrekey(t *testing.T) {
	ctx := context.Background()
	prekeys := testutils.NewPrekeys()
	alice := newDevice(t, "alice", nil, 0)
	bob := newDevice(t, "bob", prekeys, 2)

	stripped := func(ctx context.Context, u domain.UserID, d domain.DeviceID) (*domain.ClaimedPrekey, error) {
		k, err := prekeys.Claim(ctx, u, d)
		if k != nil {
			k.Signature = nil
		}
		return k, err
	}

	_, err := alice.mgr.GetOrCreateOutbound(ctx, bob.recipient(), stripped)
	require.ErrorIs(t, err, domain.ErrPrekeyUnavailable)
	_, ok, err := alice.store.GetPairwiseSession(ctx, bob.id)
	require.NoError(t, err)
	assert.False(t, ok)

	// Without a known signing key there is nothing to check against.
	rcpt := bob.recipient()
	rcpt.SigningKey = domain.Ed25519Public{}
	_, err = alice.mgr.GetOrCreateOutbound(ctx, rcpt, stripped)
	require.NoError(t, err)
}

func TestProcessInbound_RejectsOtherIdentityForKnownDevice(t *testing.T) {
	ctx := context.Background()
	prekeys := testutils.NewPrekeys()
	alice := newDevice(t, "alice", nil, 0)
	bob := newDevice(t, "bob", prekeys, 2)
	mallory := newDevice(t, "mallory", nil, 0)

	p, err := alice.mgr.EncryptTo(ctx, bob.recipient(), prekeys.Claim, []byte("hi bob"))
	require.NoError(t, err)
	_, err = bob.mgr.ProcessInbound(ctx, alice.id, alice.acct.IdentityKey(), p.MessageType, p.Ciphertext)
	require.NoError(t, err)

	// Mallory holds a valid one-time key of Bob's and claims to be Alice.
	mp, err := mallory.mgr.EncryptTo(ctx, bob.recipient(), prekeys.Claim, []byte("evil"))
	require.NoError(t, err)
	_, err = bob.mgr.ProcessInbound(ctx, alice.id, mallory.acct.IdentityKey(), mp.MessageType, mp.Ciphertext)
	require.ErrorIs(t, err, domain.ErrDecryptionFailed)
	_, err = bob.mgr.ProcessInbound(ctx, alice.id, mallory.acct.IdentityKey(), domain.OlmNormal, "e30")
	require.ErrorIs(t, err, domain.ErrDecryptionFailed)

	// Bob's session with Alice is untouched.
	r, err := bob.mgr.EncryptTo(ctx, alice.recipient(), prekeys.Claim, []byte("reply"))
	require.NoError(t, err)
	pt, err := alice.mgr.ProcessInbound(ctx, bob.id, bob.acct.IdentityKey(), r.MessageType, r.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "reply", string(pt))
	assert.Equal(t, 2, prekeys.Claims())
}

func TestEncryptTo_ReplacesSessionWithOtherIdentity(t *testing.T) {
	ctx := context.Background()
	prekeys := testutils.NewPrekeys()
	alice := newDevice(t, "alice", prekeys, 1)
	bob := newDevice(t, "bob", prekeys, 1)
	mallory := newDevice(t, "mallory", nil, 0)

	// Mallory reaches Alice first under Bob's device id.
	mp, err := mallory.mgr.EncryptTo(ctx, alice.recipient(), prekeys.Claim, []byte("it's bob"))
	require.NoError(t, err)
	_, err = alice.mgr.ProcessInbound(ctx, bob.id, mallory.acct.IdentityKey(), mp.MessageType, mp.Ciphertext)
	require.NoError(t, err)

	// Encrypting to Bob's real identity starts a fresh session with Bob.
	p, err := alice.mgr.EncryptTo(ctx, bob.recipient(), prekeys.Claim, []byte("secret for bob"))
	require.NoError(t, err)
	assert.Equal(t, domain.OlmPrekey, p.MessageType)
	assert.Equal(t, 2, prekeys.Claims())

	_, err = mallory.mgr.ProcessInbound(ctx, alice.id, alice.acct.IdentityKey(), p.MessageType, p.Ciphertext)
	require.Error(t, err)
	pt, err := bob.mgr.ProcessInbound(ctx, alice.id, alice.acct.IdentityKey(), p.MessageType, p.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "secret for bob", string(pt))
}

func TestProcessInbound_ConsumesOneTimeKey(t *testing.T) {
	ctx := context.Background()
	prekeys := testutils.NewPrekeys()
	alice := newDevice(t, "alice", prekeys, 0)
	bob := newDevice(t, "bob", prekeys, 1)

	payload, err := alice.mgr.EncryptTo(ctx, bob.recipient(), prekeys.Claim, []byte("hi"))
	require.NoError(t, err)
	_, err = bob.mgr.ProcessInbound(ctx, alice.id, alice.acct.IdentityKey(),
		payload.MessageType, payload.Ciphertext)
	require.NoError(t, err)

	// A third device replaying the same prekey message cannot create a new
	// session: the one-time key is gone from the stored account.
	_, err = bob.mgr.ProcessInbound(ctx, "carol", alice.acct.IdentityKey(),
		payload.MessageType, payload.Ciphertext)
	require.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestProcessInbound_Errors(t *testing.T) {
	ctx := context.Background()
	alice := newDevice(t, "alice", nil, 0)
	bob := newDevice(t, "bob", nil, 0)

	_, err := bob.mgr.ProcessInbound(ctx, alice.id, alice.acct.IdentityKey(), domain.OlmNormal, "e30")
	require.ErrorIs(t, err, domain.ErrNoSessionFound)

	_, err = bob.mgr.ProcessInbound(ctx, alice.id, alice.acct.IdentityKey(), 7, "e30")
	require.ErrorIs(t, err, domain.ErrMalformedPayload)

	_, err = bob.mgr.ProcessInbound(ctx, alice.id, alice.acct.IdentityKey(), domain.OlmPrekey, "not base64!")
	require.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestManager_AccountNotReady(t *testing.T) {
	mgr := pairwise.New(pairwise.Config{
		Store:  store.NewMemoryStore(),
		Cipher: olm.New(),
		Keys:   picklekey.NewProvider(),
	})
	_, err := mgr.IdentityKey(context.Background())
	require.ErrorIs(t, err, domain.ErrAccountNotReady)
}

func TestConversation_ForwardProgress(t *testing.T) {
	ctx := context.Background()
	prekeys := testutils.NewPrekeys()
	alice := newDevice(t, "alice", prekeys, 0)
	bob := newDevice(t, "bob", prekeys, 1)

	send := func(from, to *device, msg string) {
		t.Helper()
		p, err := from.mgr.EncryptTo(ctx, to.recipient(), prekeys.Claim, []byte(msg))
		require.NoError(t, err)
		pt, err := to.mgr.ProcessInbound(ctx, from.id, from.acct.IdentityKey(), p.MessageType, p.Ciphertext)
		require.NoError(t, err)
		require.Equal(t, msg, string(pt))
	}

	send(alice, bob, "1")
	send(bob, alice, "2")
	send(alice, bob, "3")
	send(alice, bob, "4")
	send(bob, alice, "5")

	// After a reply, Alice's messages are normal messages.
	p, err := alice.mgr.EncryptTo(ctx, bob.recipient(), prekeys.Claim, []byte("6"))
	require.NoError(t, err)
	assert.Equal(t, domain.OlmNormal, p.MessageType)
}

func TestEncryptTo_ConcurrentCallsSerialise(t *testing.T) {
	ctx := context.Background()
	prekeys := testutils.NewPrekeys()
	alice := newDevice(t, "alice", prekeys, 0)
	bob := newDevice(t, "bob", prekeys, 5)

	const n = 20
	payloads := make([]domain.OlmPayload, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := alice.mgr.EncryptTo(ctx, bob.recipient(), prekeys.Claim, []byte{byte(i)})
			assert.NoError(t, err)
			payloads[i] = p
		}(i)
	}
	wg.Wait()

	// Exactly one session was created and every message decrypts through it.
	assert.Equal(t, 1, prekeys.Claims())
	for i, p := range payloads {
		pt, err := bob.mgr.ProcessInbound(ctx, alice.id, alice.acct.IdentityKey(), p.MessageType, p.Ciphertext)
		require.NoError(t, err, "message %d", i)
		require.Len(t, pt, 1)
	}
}
