package types

import (
	"encoding/base64"
	"fmt"
)

// Curve25519Public is a Curve25519 public key.
type Curve25519Public [32]byte

// Slice returns the key as a []byte.
func (p Curve25519Public) Slice() []byte { return p[:] }

// String returns the unpadded base64 form used on the wire.
func (p Curve25519Public) String() string { return base64.RawStdEncoding.EncodeToString(p[:]) }

// IsZero reports whether the key is unset.
func (p Curve25519Public) IsZero() bool { return p == Curve25519Public{} }

// MarshalText encodes the key as unpadded base64.
func (p Curve25519Public) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText decodes an unpadded base64 key.
func (p *Curve25519Public) UnmarshalText(b []byte) error {
	return decodeKey(p[:], b, "curve25519")
}

// Curve25519Private is a Curve25519 private key.
type Curve25519Private [32]byte

// Slice returns the key as a []byte.
func (k Curve25519Private) Slice() []byte { return k[:] }

// Ed25519Public is an Ed25519 signing public key.
type Ed25519Public [32]byte

// Slice returns the key as a []byte.
func (p Ed25519Public) Slice() []byte { return p[:] }

// IsZero reports whether the key is unset.
func (p Ed25519Public) IsZero() bool { return p == Ed25519Public{} }

// String returns the unpadded base64 form used on the wire.
func (p Ed25519Public) String() string { return base64.RawStdEncoding.EncodeToString(p[:]) }

// MarshalText encodes the key as unpadded base64.
func (p Ed25519Public) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText decodes an unpadded base64 key.
func (p *Ed25519Public) UnmarshalText(b []byte) error {
	return decodeKey(p[:], b, "ed25519")
}

// Ed25519Private is an Ed25519 signing private key.
type Ed25519Private [64]byte

// Slice returns the key as a []byte.
func (k Ed25519Private) Slice() []byte { return k[:] }

// PickleKey is the symmetric key used to seal persisted session state.
type PickleKey [32]byte

// Slice returns the key as a []byte.
func (k PickleKey) Slice() []byte { return k[:] }

// Pickle is sealed (authenticated-encrypted) session or account state. It is
// opaque to everything except the cipher library that produced it.
type Pickle []byte

// ParseCurve25519Public decodes an unpadded base64 public key.
func ParseCurve25519Public(s string) (Curve25519Public, bool) {
	var out Curve25519Public
	b, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil || len(b) != len(out) {
		return out, false
	}
	copy(out[:], b)
	return out, true
}

func decodeKey(dst, text []byte, kind string) error {
	if len(text) == 0 {
		return nil
	}
	b, err := base64.RawStdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("%s public key: %w", kind, err)
	}
	if len(b) != len(dst) {
		return fmt.Errorf("%s public key: want %d bytes, got %d", kind, len(dst), len(b))
	}
	copy(dst, b)
	return nil
}
