package group_test

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealchat/internal/domain"
	"sealchat/internal/metrics"
	"sealchat/internal/picklekey"
	"sealchat/internal/protocol/olm"
	"sealchat/internal/services/group"
	"sealchat/internal/store"
	"sealchat/internal/testutils"
)

const conv = domain.ConversationID("room")

type clock struct {
	mtx sync.Mutex
	t   time.Time
}

func (c *clock) Now() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.t
}

func (c *clock) Add(d time.Duration) {
	c.mtx.Lock()
	c.t = c.t.Add(d)
	c.mtx.Unlock()
}

type identity domain.Curve25519Public

func (id identity) IdentityKey(context.Context) (domain.Curve25519Public, error) {
	return domain.Curve25519Public(id), nil
}

type fixture struct {
	ik      domain.Curve25519Public
	store   *store.MemoryStore
	mgr     *group.Manager
	clock   *clock
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   store.NewMemoryStore(),
		clock:   &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		metrics: metrics.New(),
	}
	_, err := rand.Read(f.ik[:])
	require.NoError(t, err)
	f.mgr = group.New(group.Config{
		Store:    f.store,
		Cipher:   olm.New(),
		Keys:     picklekey.NewStatic(domain.PickleKey{9}),
		Identity: identity(f.ik),
		Log:      testutils.TestLoggerSys(t, "MGLM"),
		Metrics:  f.metrics,
		Now:      f.clock.Now,
	})
	return f
}

func TestEncrypt_FirstCallCreatesAndSharesFromIndexZero(t *testing.T) {
	ctx := context.Background()
	alice, bob := newFixture(t), newFixture(t)

	gc, err := alice.mgr.Encrypt(ctx, conv, []byte("first"))
	require.NoError(t, err)
	require.True(t, gc.IsNew)
	require.NotEmpty(t, gc.SessionKey)

	rec, ok, err := alice.store.GetGroupSession(ctx, conv)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, gc.SessionID, rec.OutboundID)
	assert.Equal(t, 1, rec.MessageCount)
	assert.Contains(t, rec.Inbound, gc.SessionID)

	require.NoError(t, bob.mgr.ImportInbound(ctx, conv, gc.SessionID, gc.SessionKey, alice.ik))
	pt, idx, err := bob.mgr.Decrypt(ctx, conv, gc.SessionID, alice.ik, gc.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "first", string(pt))
	assert.Equal(t, uint32(0), idx)

	gc2, err := alice.mgr.Encrypt(ctx, conv, []byte("second"))
	require.NoError(t, err)
	assert.False(t, gc2.IsNew)
	assert.Empty(t, gc2.SessionKey)
	assert.Equal(t, gc.SessionID, gc2.SessionID)

	// Alice reads her own messages through her inbound copy.
	pt, _, err = alice.mgr.Decrypt(ctx, conv, gc.SessionID, alice.ik, gc.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "first", string(pt))
}

func TestDecrypt_ForwardProgressAndReplay(t *testing.T) {
	ctx := context.Background()
	alice, bob := newFixture(t), newFixture(t)

	var cts []domain.GroupCiphertext
	for i := 0; i < 5; i++ {
		gc, err := alice.mgr.Encrypt(ctx, conv, []byte(fmt.Sprint(i)))
		require.NoError(t, err)
		cts = append(cts, gc)
	}
	require.NoError(t, bob.mgr.ImportInbound(ctx, conv, cts[0].SessionID, cts[0].SessionKey, alice.ik))

	// Skip ahead to index 3.
	pt, idx, err := bob.mgr.Decrypt(ctx, conv, cts[3].SessionID, alice.ik, cts[3].Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "3", string(pt))
	assert.Equal(t, uint32(3), idx)

	for _, i := range []int{3, 1} {
		_, _, err = bob.mgr.Decrypt(ctx, conv, cts[i].SessionID, alice.ik, cts[i].Ciphertext)
		require.ErrorIs(t, err, domain.ErrReplayedMessage, "index %d", i)
	}

	pt, _, err = bob.mgr.Decrypt(ctx, conv, cts[4].SessionID, alice.ik, cts[4].Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "4", string(pt))
}

func TestDecrypt_Errors(t *testing.T) {
	ctx := context.Background()
	alice, bob := newFixture(t), newFixture(t)

	gc, err := alice.mgr.Encrypt(ctx, conv, []byte("x"))
	require.NoError(t, err)

	_, _, err = bob.mgr.Decrypt(ctx, conv, gc.SessionID, alice.ik, gc.Ciphertext)
	require.ErrorIs(t, err, domain.ErrNoSessionFound)

	require.NoError(t, bob.mgr.ImportInbound(ctx, conv, gc.SessionID, gc.SessionKey, alice.ik))
	_, _, err = bob.mgr.Decrypt(ctx, conv, gc.SessionID, alice.ik, "garbage")
	require.ErrorIs(t, err, domain.ErrDecryptionFailed)

	// Flip a byte in the middle of the ciphertext.
	b := []byte(gc.Ciphertext)
	if i := len(b) / 2; b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	_, _, err = bob.mgr.Decrypt(ctx, conv, gc.SessionID, alice.ik, string(b))
	require.ErrorIs(t, err, domain.ErrDecryptionFailed)
}

func TestImportInbound_Idempotent(t *testing.T) {
	ctx := context.Background()
	alice, bob := newFixture(t), newFixture(t)

	gc, err := alice.mgr.Encrypt(ctx, conv, []byte("0"))
	require.NoError(t, err)
	gc1, err := alice.mgr.Encrypt(ctx, conv, []byte("1"))
	require.NoError(t, err)

	require.NoError(t, bob.mgr.ImportInbound(ctx, conv, gc.SessionID, gc.SessionKey, alice.ik))
	_, _, err = bob.mgr.Decrypt(ctx, conv, gc.SessionID, alice.ik, gc.Ciphertext)
	require.NoError(t, err)

	// Re-importing the same key must not rewind the ratchet.
	require.NoError(t, bob.mgr.ImportInbound(ctx, conv, gc.SessionID, gc.SessionKey, alice.ik))
	_, _, err = bob.mgr.Decrypt(ctx, conv, gc.SessionID, alice.ik, gc.Ciphertext)
	require.ErrorIs(t, err, domain.ErrReplayedMessage)

	pt, _, err := bob.mgr.Decrypt(ctx, conv, gc1.SessionID, alice.ik, gc1.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "1", string(pt))
}

func TestImportInbound_RejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	alice, bob := newFixture(t), newFixture(t)

	gc, err := alice.mgr.Encrypt(ctx, conv, []byte("0"))
	require.NoError(t, err)

	err = bob.mgr.ImportInbound(ctx, conv, "other-session", gc.SessionKey, alice.ik)
	require.ErrorIs(t, err, domain.ErrMalformedPayload)
	err = bob.mgr.ImportInbound(ctx, conv, gc.SessionID, "AAAA", alice.ik)
	require.ErrorIs(t, err, domain.ErrMalformedPayload)

	_, ok, err := bob.store.GetGroupSession(ctx, conv)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInboundSessionsAreBoundToSharer(t *testing.T) {
	ctx := context.Background()
	alice, bob, mallory := newFixture(t), newFixture(t), newFixture(t)

	gc, err := alice.mgr.Encrypt(ctx, conv, []byte("from alice"))
	require.NoError(t, err)
	require.NoError(t, bob.mgr.ImportInbound(ctx, conv, gc.SessionID, gc.SessionKey, alice.ik))

	_, _, err = bob.mgr.Decrypt(ctx, conv, gc.SessionID, mallory.ik, gc.Ciphertext)
	require.ErrorIs(t, err, domain.ErrDecryptionFailed)

	// A second share of the same session from someone else is refused.
	err = bob.mgr.ImportInbound(ctx, conv, gc.SessionID, gc.SessionKey, mallory.ik)
	require.ErrorIs(t, err, domain.ErrDecryptionFailed)

	pt, _, err := bob.mgr.Decrypt(ctx, conv, gc.SessionID, alice.ik, gc.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "from alice", string(pt))

	// Mallory shares her own session. Her messages cannot be passed off
	// as Alice's.
	mc, err := mallory.mgr.Encrypt(ctx, conv, []byte("from alice, honest"))
	require.NoError(t, err)
	require.NoError(t, bob.mgr.ImportInbound(ctx, conv, mc.SessionID, mc.SessionKey, mallory.ik))
	_, _, err = bob.mgr.Decrypt(ctx, conv, mc.SessionID, alice.ik, mc.Ciphertext)
	require.ErrorIs(t, err, domain.ErrDecryptionFailed)
	pt, _, err = bob.mgr.Decrypt(ctx, conv, mc.SessionID, mallory.ik, mc.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "from alice, honest", string(pt))
}

func TestEncrypt_RequiresLocalIdentity(t *testing.T) {
	mgr := group.New(group.Config{
		Store:  store.NewMemoryStore(),
		Cipher: olm.New(),
		Keys:   picklekey.NewStatic(domain.PickleKey{9}),
	})
	_, err := mgr.Encrypt(context.Background(), conv, []byte("x"))
	require.ErrorIs(t, err, domain.ErrAccountNotReady)
}

func TestEncrypt_RotatesAfterMessageLimit(t *testing.T) {
	ctx := context.Background()
	alice := newFixture(t)

	first, err := alice.mgr.Encrypt(ctx, conv, []byte("0"))
	require.NoError(t, err)
	for i := 1; i < group.DefaultRotationMessages; i++ {
		gc, err := alice.mgr.Encrypt(ctx, conv, []byte("m"))
		require.NoError(t, err)
		require.False(t, gc.IsNew, "message %d", i)
	}

	gc, err := alice.mgr.Encrypt(ctx, conv, []byte("101st"))
	require.NoError(t, err)
	assert.True(t, gc.IsNew)
	assert.NotEqual(t, first.SessionID, gc.SessionID)
	assert.Equal(t, 2.0, testutil.ToFloat64(alice.metrics.RotationCounter()))

	rec, _, err := alice.store.GetGroupSession(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.MessageCount)
	// The retired session's inbound copy stays readable.
	assert.Contains(t, rec.Inbound, first.SessionID)
	assert.Contains(t, rec.Inbound, gc.SessionID)
}

func TestEncrypt_RotatesAfterMaxAge(t *testing.T) {
	ctx := context.Background()
	alice := newFixture(t)

	first, err := alice.mgr.Encrypt(ctx, conv, []byte("0"))
	require.NoError(t, err)

	alice.clock.Add(group.DefaultRotationAge - time.Second)
	gc, err := alice.mgr.Encrypt(ctx, conv, []byte("1"))
	require.NoError(t, err)
	assert.False(t, gc.IsNew)

	alice.clock.Add(time.Second)
	gc, err = alice.mgr.Encrypt(ctx, conv, []byte("2"))
	require.NoError(t, err)
	assert.True(t, gc.IsNew)
	assert.NotEqual(t, first.SessionID, gc.SessionID)
}

func TestGetOrCreateOutbound_ReportsNew(t *testing.T) {
	ctx := context.Background()
	alice := newFixture(t)

	s1, isNew, err := alice.mgr.GetOrCreateOutbound(ctx, conv)
	require.NoError(t, err)
	assert.True(t, isNew)

	s2, isNew, err := alice.mgr.GetOrCreateOutbound(ctx, conv)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, s1.ID(), s2.ID())

	n, err := alice.mgr.IncrementMessageCount(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEncrypt_ConcurrentIndicesAreUnique(t *testing.T) {
	ctx := context.Background()
	alice, bob := newFixture(t), newFixture(t)

	const n = 30
	cts := make([]domain.GroupCiphertext, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			gc, err := alice.mgr.Encrypt(ctx, conv, []byte{byte(i)})
			assert.NoError(t, err)
			cts[i] = gc
		}(i)
	}
	wg.Wait()

	var shared domain.GroupCiphertext
	newCount := 0
	for _, gc := range cts {
		if gc.IsNew {
			shared = gc
			newCount++
		}
	}
	require.Equal(t, 1, newCount)
	require.NoError(t, bob.mgr.ImportInbound(ctx, conv, shared.SessionID, shared.SessionKey, alice.ik))

	seen := make(map[uint32]bool)
	byIndex := make(map[uint32]domain.GroupCiphertext)
	for _, gc := range cts {
		in, err := olm.New().NewInboundGroupSession(shared.SessionKey, alice.ik)
		require.NoError(t, err)
		idx, err := in.MessageIndex(gc.Ciphertext)
		require.NoError(t, err)
		require.False(t, seen[idx], "index %d reused", idx)
		seen[idx] = true
		byIndex[idx] = gc
	}

	rec, _, err := alice.store.GetGroupSession(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, n, rec.MessageCount)

	for i := uint32(0); i < n; i++ {
		_, idx, err := bob.mgr.Decrypt(ctx, conv, byIndex[i].SessionID, alice.ik, byIndex[i].Ciphertext)
		require.NoError(t, err)
		require.Equal(t, i, idx)
	}
}
