package olm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sealchat/internal/domain"
	"sealchat/internal/protocol/olm"
	"sealchat/internal/protocol/x3dh"
)

var lib = olm.New()

// newPair returns Alice's outbound session to Bob and Bob's account, with
// Bob holding one unpublished one-time key.
func newPair(t *testing.T) (alice, bob domain.Account, out domain.Session) {
	t.Helper()
	alice, err := lib.NewAccount()
	require.NoError(t, err)
	bob, err = lib.NewAccount()
	require.NoError(t, err)
	require.NoError(t, bob.GenerateOneTimeKeys(1))

	keys := bob.OneTimeKeys()
	require.Len(t, keys, 1)
	require.NoError(t, x3dh.VerifyOneTimeKey(bob.SigningKey(), keys[0].PublicKey, keys[0].Signature))

	out, err = alice.CreateOutboundSession(bob.IdentityKey(), keys[0].PublicKey)
	require.NoError(t, err)
	return alice, bob, out
}

func TestSession_PrekeyUntilReply(t *testing.T) {
	alice, bob, out := newPair(t)

	mt, body, err := out.Encrypt([]byte("hi"))
	require.NoError(t, err)
	require.Equal(t, domain.OlmPrekey, mt)

	in, pt, err := bob.CreateInboundSession(alice.IdentityKey(), body)
	require.NoError(t, err)
	require.Equal(t, "hi", string(pt))
	require.Equal(t, out.ID(), in.ID())
	require.True(t, in.MatchesInbound(body))

	// Still a prekey message: Alice has not heard back yet.
	mt, body2, err := out.Encrypt([]byte("again"))
	require.NoError(t, err)
	require.Equal(t, domain.OlmPrekey, mt)
	pt, err = in.Decrypt(mt, body2)
	require.NoError(t, err)
	require.Equal(t, "again", string(pt))

	mt, reply, err := in.Encrypt([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, domain.OlmNormal, mt)
	pt, err = out.Decrypt(mt, reply)
	require.NoError(t, err)
	require.Equal(t, "hello", string(pt))

	mt, _, err = out.Encrypt([]byte("now normal"))
	require.NoError(t, err)
	require.Equal(t, domain.OlmNormal, mt)
}

func TestSession_IndexStrictlyIncreases(t *testing.T) {
	alice, bob, out := newPair(t)
	_, body, err := out.Encrypt([]byte("0"))
	require.NoError(t, err)
	in, _, err := bob.CreateInboundSession(alice.IdentityKey(), body)
	require.NoError(t, err)

	last := out.Index()
	for i := 0; i < 5; i++ {
		mt, b, err := in.Encrypt([]byte("ping"))
		require.NoError(t, err)
		_, err = out.Decrypt(mt, b)
		require.NoError(t, err)
		require.Greater(t, out.Index(), last)
		last = out.Index()

		mt, b, err = out.Encrypt([]byte("pong"))
		require.NoError(t, err)
		require.Greater(t, out.Index(), last)
		last = out.Index()
		_, err = in.Decrypt(mt, b)
		require.NoError(t, err)
	}
}

func TestSession_FailedDecryptLeavesStateUnchanged(t *testing.T) {
	alice, bob, out := newPair(t)
	_, body, err := out.Encrypt([]byte("0"))
	require.NoError(t, err)
	in, _, err := bob.CreateInboundSession(alice.IdentityKey(), body)
	require.NoError(t, err)

	mt, b, err := out.Encrypt([]byte("1"))
	require.NoError(t, err)

	before := in.Index()
	_, err = in.Decrypt(domain.OlmNormal, "not base64!")
	require.Error(t, err)
	require.Equal(t, before, in.Index())

	pt, err := in.Decrypt(mt, b)
	require.NoError(t, err)
	require.Equal(t, "1", string(pt))
}

func TestAccount_RemoveOneTimeKeys(t *testing.T) {
	alice, bob, out := newPair(t)
	_, body, err := out.Encrypt([]byte("hi"))
	require.NoError(t, err)

	in, _, err := bob.CreateInboundSession(alice.IdentityKey(), body)
	require.NoError(t, err)
	require.NoError(t, bob.RemoveOneTimeKeys(in))
	require.Empty(t, bob.OneTimeKeys())

	// The key is gone, so a second session cannot be derived from it.
	_, _, err = bob.CreateInboundSession(alice.IdentityKey(), body)
	require.ErrorIs(t, err, olm.ErrUnknownOneTimeKey)
}

func TestAccount_IdentityMismatch(t *testing.T) {
	_, bob, out := newPair(t)
	_, body, err := out.Encrypt([]byte("hi"))
	require.NoError(t, err)

	mallory, err := lib.NewAccount()
	require.NoError(t, err)
	_, _, err = bob.CreateInboundSession(mallory.IdentityKey(), body)
	require.ErrorIs(t, err, olm.ErrIdentityMismatch)
}

func TestAccount_PublishAndPickle(t *testing.T) {
	var key domain.PickleKey
	key[0] = 1

	acct, err := lib.NewAccount()
	require.NoError(t, err)
	require.NoError(t, acct.GenerateOneTimeKeys(3))
	require.Len(t, acct.OneTimeKeys(), 3)
	require.Equal(t, "1", acct.OneTimeKeys()[0].KeyID)

	acct.MarkKeysAsPublished()
	require.Empty(t, acct.OneTimeKeys())

	p, err := acct.Pickle(key)
	require.NoError(t, err)
	restored, err := lib.AccountFromPickle(key, p)
	require.NoError(t, err)
	require.Equal(t, acct.IdentityKey(), restored.IdentityKey())
	require.Equal(t, acct.SigningKey(), restored.SigningKey())

	require.NoError(t, restored.GenerateOneTimeKeys(1))
	keys := restored.OneTimeKeys()
	require.Len(t, keys, 1)
	require.Equal(t, "4", keys[0].KeyID)

	_, err = lib.SessionFromPickle(key, p)
	require.Error(t, err, "account pickle must not restore as a session")
}

func TestSession_PickleRoundTrip(t *testing.T) {
	var key domain.PickleKey
	key[5] = 5

	alice, bob, out := newPair(t)
	_, body, err := out.Encrypt([]byte("hi"))
	require.NoError(t, err)
	in, _, err := bob.CreateInboundSession(alice.IdentityKey(), body)
	require.NoError(t, err)

	p, err := in.Pickle(key)
	require.NoError(t, err)
	restored, err := lib.SessionFromPickle(key, p)
	require.NoError(t, err)
	require.Equal(t, in.ID(), restored.ID())
	require.Equal(t, in.Index(), restored.Index())

	mt, b, err := out.Encrypt([]byte("after pickle"))
	require.NoError(t, err)
	pt, err := restored.Decrypt(mt, b)
	require.NoError(t, err)
	require.Equal(t, "after pickle", string(pt))
}
