package testutils

import (
	"context"
	"sync"
	"testing"

	"sealchat/internal/domain"
)

// Prekeys is an in-memory one-time key directory for tests. Each claimed key
// is handed out once.
type Prekeys struct {
	mtx    sync.Mutex
	keys   map[domain.DeviceID][]domain.OneTimeKey
	claims int
}

func NewPrekeys() *Prekeys {
	return &Prekeys{keys: make(map[domain.DeviceID][]domain.OneTimeKey)}
}

// Publish generates n one-time keys on acct and makes them claimable for
// device.
func (p *Prekeys) Publish(t testing.TB, device domain.DeviceID, acct domain.Account, n int) {
	if err := acct.GenerateOneTimeKeys(n); err != nil {
		t.Fatal(err)
	}
	keys := acct.OneTimeKeys()
	acct.MarkKeysAsPublished()

	p.mtx.Lock()
	p.keys[device] = append(p.keys[device], keys...)
	p.mtx.Unlock()
}

// Claim pops one key for device. It returns nil when none are left.
func (p *Prekeys) Claim(_ context.Context, _ domain.UserID, device domain.DeviceID) (*domain.ClaimedPrekey, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.claims++
	keys := p.keys[device]
	if len(keys) == 0 {
		return nil, nil
	}
	k := keys[0]
	p.keys[device] = keys[1:]
	return &domain.ClaimedPrekey{KeyID: k.KeyID, PublicKey: k.PublicKey, Signature: k.Signature}, nil
}

// Claims returns how many times Claim was called.
func (p *Prekeys) Claims() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.claims
}

// NoPrekeys is a claim func for a device with an exhausted directory entry.
func NoPrekeys(context.Context, domain.UserID, domain.DeviceID) (*domain.ClaimedPrekey, error) {
	return nil, nil
}
