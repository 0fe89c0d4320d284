// Package metrics holds the session layer's prometheus counters. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks codec outcomes, group rotations and failed key shares.
type Metrics struct {
	reg *prometheus.Registry

	encrypts      *prometheus.CounterVec
	decrypts      *prometheus.CounterVec
	rotations     prometheus.Counter
	shareFailures prometheus.Counter
}

// New registers the counters on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,

		encrypts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sealchat_codec_encrypt_total",
			Help: "Messages encrypted, by algorithm",
		}, []string{"algorithm"}),
		decrypts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sealchat_codec_decrypt_total",
			Help: "Decrypt attempts, by algorithm and result",
		}, []string{"algorithm", "result"}),
		rotations: f.NewCounter(prometheus.CounterOpts{
			Name: "sealchat_group_rotations_total",
			Help: "Outbound group sessions created, including the first one per conversation",
		}),
		shareFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "sealchat_distributor_share_failures_total",
			Help: "Recipient devices a group session key could not be shared with",
		}),
	}
}

// Registry returns the registry holding the counters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Encrypted(algorithm string) {
	if m == nil {
		return
	}
	m.encrypts.WithLabelValues(algorithm).Inc()
}

// Decrypted records a decrypt attempt. result is "ok" or an error kind.
func (m *Metrics) Decrypted(algorithm, result string) {
	if m == nil {
		return
	}
	m.decrypts.WithLabelValues(algorithm, result).Inc()
}

func (m *Metrics) Rotated() {
	if m == nil {
		return
	}
	m.rotations.Inc()
}

func (m *Metrics) ShareFailed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.shareFailures.Add(float64(n))
}

// EncryptCounter returns the encrypt counter for algorithm.
func (m *Metrics) EncryptCounter(algorithm string) prometheus.Counter {
	return m.encrypts.WithLabelValues(algorithm)
}

// DecryptCounter returns the decrypt counter for algorithm and result.
func (m *Metrics) DecryptCounter(algorithm, result string) prometheus.Counter {
	return m.decrypts.WithLabelValues(algorithm, result)
}

// RotationCounter returns the rotation counter.
func (m *Metrics) RotationCounter() prometheus.Counter { return m.rotations }

// ShareFailureCounter returns the share failure counter.
func (m *Metrics) ShareFailureCounter() prometheus.Counter { return m.shareFailures }
