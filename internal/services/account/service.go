package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/decred/slog"

	"sealchat/internal/crypto"
	"sealchat/internal/domain"
	"sealchat/internal/keylock"
)

// ErrAccountExists is returned by Create when an account is already stored.
var ErrAccountExists = errors.New("account already exists")

// Info is the public half of the local account.
type Info struct {
	IdentityKey domain.Curve25519Public
	SigningKey  domain.Ed25519Public
	Fingerprint domain.Fingerprint
}

type Config struct {
	Store  domain.SessionStore
	Cipher domain.CipherLibrary
	Keys   domain.PickleKeyProvider
	Locker domain.Locker
	Log    slog.Logger
}

// Service creates the account and keeps its one-time keys topped up. Every
// change is made under the account lock shared with the pairwise manager.
type Service struct {
	store  domain.SessionStore
	cipher domain.CipherLibrary
	keys   domain.PickleKeyProvider
	locker domain.Locker
	log    slog.Logger
}

func New(cfg Config) *Service {
	s := &Service{
		store:  cfg.Store,
		cipher: cfg.Cipher,
		keys:   cfg.Keys,
		locker: cfg.Locker,
		log:    cfg.Log,
	}
	if s.locker == nil {
		s.locker = keylock.New()
	}
	if s.log == nil {
		s.log = slog.Disabled
	}
	return s
}

// Create generates and stores a new account.
func (s *Service) Create(ctx context.Context) (Info, error) {
	var info Info
	err := s.update(ctx, func(acct domain.Account, exists bool) (domain.Account, error) {
		if exists {
			return nil, ErrAccountExists
		}
		acct, err := s.cipher.NewAccount()
		if err != nil {
			return nil, err
		}
		info = infoOf(acct)
		return acct, nil
	})
	if err != nil {
		return Info{}, err
	}
	s.log.Infof("Created account with identity fingerprint %s", info.Fingerprint)
	return info, nil
}

// Info returns the public keys of the stored account.
func (s *Service) Info(ctx context.Context) (Info, error) {
	acct, err := s.load(ctx)
	if err != nil {
		return Info{}, err
	}
	return infoOf(acct), nil
}

// UnpublishedKeys returns the one-time keys not yet handed to a directory.
func (s *Service) UnpublishedKeys(ctx context.Context) ([]domain.OneTimeKey, error) {
	acct, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return acct.OneTimeKeys(), nil
}

// GenerateOneTimeKeys adds n unpublished one-time keys and returns every
// unpublished key.
func (s *Service) GenerateOneTimeKeys(ctx context.Context, n int) ([]domain.OneTimeKey, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid one-time key count %d", n)
	}
	var keys []domain.OneTimeKey
	err := s.update(ctx, func(acct domain.Account, exists bool) (domain.Account, error) {
		if !exists {
			return nil, domain.ErrAccountNotReady
		}
		if err := acct.GenerateOneTimeKeys(n); err != nil {
			return nil, err
		}
		keys = acct.OneTimeKeys()
		return acct, nil
	})
	return keys, err
}

// Publish uploads every unpublished one-time key to dir and marks them
// published once the upload succeeds.
func (s *Service) Publish(
	ctx context.Context,
	dir domain.PrekeyDirectory,
	user domain.UserID,
	device domain.DeviceID,
) (int, error) {
	var n int
	err := s.update(ctx, func(acct domain.Account, exists bool) (domain.Account, error) {
		if !exists {
			return nil, domain.ErrAccountNotReady
		}
		keys := acct.OneTimeKeys()
		self := domain.RecipientDevice{
			UserID:      user,
			DeviceID:    device,
			IdentityKey: acct.IdentityKey(),
			SigningKey:  acct.SigningKey(),
		}
		if err := dir.Upload(ctx, user, self, keys); err != nil {
			return nil, fmt.Errorf("upload one-time keys: %w", err)
		}
		acct.MarkKeysAsPublished()
		n = len(keys)
		return acct, nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Infof("Published %d one-time keys for %s/%s", n, user, device)
	return n, nil
}

// update loads the account under the account lock, applies fn and stores
// the account fn returns.
func (s *Service) update(ctx context.Context, fn func(acct domain.Account, exists bool) (domain.Account, error)) error {
	unlock, err := s.locker.Lock(ctx, keylock.AccountKey)
	if err != nil {
		return err
	}
	defer unlock()

	key, err := s.keys.Key()
	if err != nil {
		return err
	}
	p, ok, err := s.store.GetAccount(ctx)
	if err != nil {
		return err
	}
	var acct domain.Account
	if ok {
		if acct, err = s.cipher.AccountFromPickle(key, p); err != nil {
			return fmt.Errorf("unpickle account: %w", err)
		}
	}

	acct, err = fn(acct, ok)
	if err != nil {
		return err
	}
	if p, err = acct.Pickle(key); err != nil {
		return err
	}
	return s.store.PutAccount(ctx, p)
}

func (s *Service) load(ctx context.Context) (domain.Account, error) {
	key, err := s.keys.Key()
	if err != nil {
		return nil, err
	}
	p, ok, err := s.store.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrAccountNotReady
	}
	return s.cipher.AccountFromPickle(key, p)
}

func infoOf(acct domain.Account) Info {
	ik := acct.IdentityKey()
	return Info{
		IdentityKey: ik,
		SigningKey:  acct.SigningKey(),
		Fingerprint: crypto.Fingerprint(ik.Slice()),
	}
}
