package x3dh_test

import (
	"bytes"
	"errors"
	"testing"

	"sealchat/internal/crypto"
	"sealchat/internal/domain"
	"sealchat/internal/protocol/x3dh"
)

// makeKeyPair creates a fresh X25519 pair.
func makeKeyPair(t *testing.T) (domain.Curve25519Private, domain.Curve25519Public) {
	t.Helper()
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	return priv, pub
}

func TestInitiatorAndResponderRoot_Agree(t *testing.T) {
	// Alice is initiator, Bob is responder.
	aliceIKPriv, aliceIK := makeKeyPair(t)
	aliceEKPriv, aliceEK := makeKeyPair(t)
	bobIKPriv, bobIK := makeKeyPair(t)
	bobOTKPriv, bobOTK := makeKeyPair(t)

	rootInitiator, err := x3dh.InitiatorRootKey(aliceIKPriv, aliceEKPriv, bobIK, bobOTK)
	if err != nil {
		t.Fatalf("InitiatorRootKey: %v", err)
	}
	rootResponder, err := x3dh.ResponderRootKey(bobIKPriv, bobOTKPriv, aliceIK, aliceEK)
	if err != nil {
		t.Fatalf("ResponderRootKey: %v", err)
	}
	if !bytes.Equal(rootInitiator, rootResponder) {
		t.Fatal("root keys differ")
	}
	if len(rootInitiator) != 32 {
		t.Fatalf("want 32-byte root, got %d", len(rootInitiator))
	}
}

func TestRoot_DiffersPerOneTimeKey(t *testing.T) {
	aliceIKPriv, _ := makeKeyPair(t)
	aliceEKPriv, _ := makeKeyPair(t)
	_, bobIK := makeKeyPair(t)
	_, otk1 := makeKeyPair(t)
	_, otk2 := makeKeyPair(t)

	r1, err := x3dh.InitiatorRootKey(aliceIKPriv, aliceEKPriv, bobIK, otk1)
	if err != nil {
		t.Fatalf("InitiatorRootKey: %v", err)
	}
	r2, err := x3dh.InitiatorRootKey(aliceIKPriv, aliceEKPriv, bobIK, otk2)
	if err != nil {
		t.Fatalf("InitiatorRootKey: %v", err)
	}
	if bytes.Equal(r1, r2) {
		t.Fatal("distinct one-time keys produced the same root")
	}
}

func TestVerifyOneTimeKey(t *testing.T) {
	edPriv, edPub, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	_, otk := makeKeyPair(t)
	sig := x3dh.SignOneTimeKey(edPriv, otk)

	if err := x3dh.VerifyOneTimeKey(edPub, otk, sig); err != nil {
		t.Fatalf("VerifyOneTimeKey: %v", err)
	}
	_, other := makeKeyPair(t)
	if err := x3dh.VerifyOneTimeKey(edPub, other, sig); !errors.Is(err, x3dh.ErrBadOneTimeKey) {
		t.Fatalf("want ErrBadOneTimeKey, got %v", err)
	}
}
