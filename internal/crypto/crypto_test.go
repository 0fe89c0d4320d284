package crypto_test

import (
	"bytes"
	"errors"
	"testing"

	"sealchat/internal/crypto"
	"sealchat/internal/domain"
)

func TestDH_Agrees(t *testing.T) {
	aPriv, aPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	bPriv, bPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	ab, err := crypto.DH(aPriv, bPub)
	if err != nil {
		t.Fatalf("DH: %v", err)
	}
	ba, err := crypto.DH(bPriv, aPub)
	if err != nil {
		t.Fatalf("DH: %v", err)
	}
	if ab != ba {
		t.Fatal("shared secrets differ")
	}
}

func TestSeal_RoundTripAndTamper(t *testing.T) {
	var key domain.PickleKey
	key[0] = 7

	p, err := crypto.Seal(key, "session", []byte("state"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	raw, err := crypto.Open(key, "session", p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(raw, []byte("state")) {
		t.Fatalf("got %q", raw)
	}

	if _, err := crypto.Open(key, "account", p); !errors.Is(err, crypto.ErrBadPickle) {
		t.Fatalf("want ErrBadPickle for wrong kind, got %v", err)
	}
	var other domain.PickleKey
	if _, err := crypto.Open(other, "session", p); !errors.Is(err, crypto.ErrBadPickle) {
		t.Fatalf("want ErrBadPickle for wrong key, got %v", err)
	}
	p[len(p)-1] ^= 1
	if _, err := crypto.Open(key, "session", p); !errors.Is(err, crypto.ErrBadPickle) {
		t.Fatalf("want ErrBadPickle for tampered pickle, got %v", err)
	}
}

func TestSignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	sig := crypto.SignEd25519(priv, []byte("otk"))
	if !crypto.VerifyEd25519(pub, []byte("otk"), sig) {
		t.Fatal("valid signature rejected")
	}
	if crypto.VerifyEd25519(pub, []byte("other"), sig) {
		t.Fatal("signature over other message accepted")
	}
	if crypto.VerifyEd25519(pub, []byte("otk"), nil) {
		t.Fatal("empty signature accepted")
	}
}

func TestFingerprint_Grouped(t *testing.T) {
	fp := crypto.Fingerprint(make([]byte, 32)).String()
	// sha256 of 32 zero bytes starts 66687aadf862bd776c8f.
	if want := "6668 7aad f862 bd77 6c8f"; fp != want {
		t.Fatalf("Fingerprint = %q, want %q", fp, want)
	}
}

func TestWipe(t *testing.T) {
	a, b := []byte{1, 2, 3}, []byte{4}
	crypto.Wipe(a, b, nil)
	if !bytes.Equal(a, []byte{0, 0, 0}) || b[0] != 0 {
		t.Fatalf("buffers not wiped: %v %v", a, b)
	}
}
