package relay_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealchat/internal/domain"
	"sealchat/internal/protocol/olm"
	"sealchat/internal/protocol/x3dh"
	"sealchat/internal/relay"
	"sealchat/internal/testutils"
)

func TestClient_UploadClaimDevices(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(relay.Handler(relay.NewDirectory(), testutils.TestLoggerSys(t, "RLYD")))
	t.Cleanup(srv.Close)
	c := relay.NewHTTP(srv.URL+"/", testutils.TestLoggerSys(t, "RLAY"))

	acct, err := olm.New().NewAccount()
	require.NoError(t, err)
	require.NoError(t, acct.GenerateOneTimeKeys(2))
	keys := acct.OneTimeKeys()

	self := domain.RecipientDevice{
		DeviceID:    "phone",
		IdentityKey: acct.IdentityKey(),
		SigningKey:  acct.SigningKey(),
	}
	require.NoError(t, c.Upload(ctx, "alice", self, keys))
	// Re-uploading the same keys does not duplicate them.
	require.NoError(t, c.Upload(ctx, "alice", self, keys))

	devs, err := c.Devices(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, domain.UserID("alice"), devs[0].UserID)
	assert.Equal(t, acct.IdentityKey(), devs[0].IdentityKey)
	assert.Equal(t, acct.SigningKey(), devs[0].SigningKey)

	claim := c.ClaimFunc()
	for _, want := range keys {
		got, err := claim(ctx, "alice", "phone")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want.KeyID, got.KeyID)
		assert.Equal(t, want.PublicKey, got.PublicKey)
		require.NoError(t, x3dh.VerifyOneTimeKey(devs[0].SigningKey, got.PublicKey, got.Signature))
	}

	got, err := claim(ctx, "alice", "phone")
	require.NoError(t, err)
	assert.Nil(t, got)

	devs, err = c.Devices(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, devs)
}

func TestClient_RejectsIncompleteDevice(t *testing.T) {
	srv := httptest.NewServer(relay.Handler(relay.NewDirectory(), nil))
	t.Cleanup(srv.Close)
	c := relay.NewHTTP(srv.URL, nil)

	err := c.Upload(context.Background(), "alice", domain.RecipientDevice{DeviceID: "phone"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
