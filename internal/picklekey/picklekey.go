// Package picklekey supplies the symmetric key that seals persisted account
// and session state.
package picklekey

import (
	"crypto/rand"
	"sync"

	"sealchat/internal/domain"
)

// Provider lazily generates a random pickle key on first use and keeps it in
// memory for its lifetime. It never persists the key.
type Provider struct {
	once sync.Once
	key  domain.PickleKey
	err  error
}

var _ domain.PickleKeyProvider = (*Provider)(nil)

// NewProvider returns a provider with no key yet.
func NewProvider() *Provider { return &Provider{} }

// Key returns the process-lifetime key, generating it on first call.
func (p *Provider) Key() (domain.PickleKey, error) {
	p.once.Do(func() {
		_, p.err = rand.Read(p.key[:])
	})
	return p.key, p.err
}

// Static returns a fixed key, typically one loaded from a keystore.
type Static domain.PickleKey

var _ domain.PickleKeyProvider = Static{}

// NewStatic wraps key.
func NewStatic(key domain.PickleKey) Static { return Static(key) }

func (s Static) Key() (domain.PickleKey, error) { return domain.PickleKey(s), nil }
