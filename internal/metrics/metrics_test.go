package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"sealchat/internal/metrics"
)

func TestMetrics_Counts(t *testing.T) {
	m := metrics.New()
	m.Encrypted("olm.v1")
	m.Encrypted("olm.v1")
	m.Decrypted("megolm.v1", "replayed_message")
	m.Rotated()
	m.ShareFailed(2)
	m.ShareFailed(0)

	require.Equal(t, 2.0, testutil.ToFloat64(m.EncryptCounter("olm.v1")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.DecryptCounter("megolm.v1", "replayed_message")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RotationCounter()))
	require.Equal(t, 2.0, testutil.ToFloat64(m.ShareFailureCounter()))

	n, err := testutil.GatherAndCount(m.Registry(), "sealchat_codec_encrypt_total")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.Encrypted("olm.v1")
	m.Decrypted("olm.v1", "ok")
	m.Rotated()
	m.ShareFailed(1)
	require.Nil(t, m.Registry())
}
