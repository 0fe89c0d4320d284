package store

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"sealchat/internal/domain"
)

const (
	// The current supported version of the encrypted blob format stored on disk.
	keystoreFormatVersion = 1
)

var (
	// ErrWrongPassphrase is returned when the passphrase is incorrect or the
	// keystore has been modified or corrupted.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted keystore")
	// ErrNoKeystore is returned when no keystore exists at the path.
	ErrNoKeystore = errors.New("keystore not found")
)

// blob is the on‑disk JSON structure holding the ciphertext and KDF parameters.
type blob struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Cipher []byte `json:"cipher"`
}

// ScryptParams tunes the keystore key derivation.
type ScryptParams struct{ N, R, P int }

// DefaultScryptParams are used by the CLI.
var DefaultScryptParams = ScryptParams{N: 1 << 15, R: 8, P: 1}

// SavePickleKey seals key under passphrase and writes it to path.
func SavePickleKey(path, passphrase string, key domain.PickleKey, params ScryptParams) error {
	b, err := encrypt(passphrase, key.Slice(), params)
	if err != nil {
		return err
	}
	return writeFile(path, b, 0o600)
}

// LoadPickleKey reads and opens the keystore at path.
func LoadPickleKey(path, passphrase string) (domain.PickleKey, error) {
	var key domain.PickleKey
	b, err := readFile(path)
	if err != nil {
		return key, err
	}
	if b == nil {
		return key, ErrNoKeystore
	}
	raw, err := decrypt(passphrase, b)
	if err != nil {
		return key, err
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("keystore holds %d bytes, want %d", len(raw), len(key))
	}
	copy(key[:], raw)
	return key, nil
}

// KeystoreExists reports whether a keystore file is present at path.
func KeystoreExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// encrypt derives a key from passphrase and seals raw into a JSON blob.
func encrypt(passphrase string, raw []byte, params ScryptParams) ([]byte, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), salt[:], params.N, params.R, params.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte // zero nonce; salt‑bound key guarantees uniqueness
	ct := aead.Seal(nil, nonce[:], raw, salt[:])

	return json.Marshal(blob{
		V:      keystoreFormatVersion,
		Salt:   salt[:],
		N:      params.N,
		R:      params.R,
		P:      params.P,
		Cipher: ct,
	})
}

// decrypt opens the JSON blob using a key derived from passphrase.
func decrypt(passphrase string, b []byte) ([]byte, error) {
	var bl blob
	if err := json.Unmarshal(b, &bl); err != nil {
		return nil, err
	}
	if bl.V > keystoreFormatVersion {
		return nil, fmt.Errorf("unsupported keystore version %d", bl.V)
	}

	key, err := scrypt.Key([]byte(passphrase), bl.Salt, bl.N, bl.R, bl.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], bl.Cipher, bl.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}
