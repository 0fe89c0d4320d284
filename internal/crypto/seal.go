package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"

	"sealchat/internal/domain"
)

// ErrBadPickle is returned when a pickle fails authentication, which means
// either the wrong pickle key or a corrupted record.
var ErrBadPickle = errors.New("pickle authentication failed")

// Seal encrypts raw under key with XChaCha20-Poly1305. The random nonce is
// prepended to the ciphertext. kind is bound as associated data so a pickle
// of one object type cannot be restored as another.
func Seal(key domain.PickleKey, kind string, raw []byte) (domain.Pickle, error) {
	aead, err := chacha20poly1305.NewX(key.Slice())
	if err != nil {
		return nil, err
	}
	out := make([]byte, aead.NonceSize(), aead.NonceSize()+len(raw)+aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, err
	}
	return aead.Seal(out, out, raw, []byte(kind)), nil
}

// Open reverses Seal.
func Open(key domain.PickleKey, kind string, p domain.Pickle) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key.Slice())
	if err != nil {
		return nil, err
	}
	if len(p) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrBadPickle
	}
	nonce, ct := p[:aead.NonceSize()], p[aead.NonceSize():]
	raw, err := aead.Open(nil, nonce, ct, []byte(kind))
	if err != nil {
		return nil, ErrBadPickle
	}
	return raw, nil
}
