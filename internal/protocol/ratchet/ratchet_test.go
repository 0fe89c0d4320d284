package ratchet_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"sealchat/internal/crypto"
	"sealchat/internal/domain"
	"sealchat/internal/protocol/ratchet"
)

// makeIdentity returns a fresh X25519 identity pair.
func makeIdentity(t *testing.T) (domain.Curve25519Private, domain.Curve25519Public) {
	t.Helper()
	p, P, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	return p, P
}

type message struct {
	h  ratchet.Header
	ct []byte
}

func pair(t *testing.T) (a, b ratchet.State, first message) {
	t.Helper()
	// Shared root key from a prior 3DH (simulate).
	rk := bytes.Repeat([]byte{0x42}, 32)
	bPriv, bPub := makeIdentity(t)

	a, err := ratchet.InitAsInitiator(rk, bPub)
	if err != nil {
		t.Fatalf("InitAsInitiator: %v", err)
	}
	b, err = ratchet.InitAsResponder(rk, bPriv, a.DHPub)
	if err != nil {
		t.Fatalf("InitAsResponder: %v", err)
	}
	h, ct, err := ratchet.Encrypt(&a, nil, []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return a, b, message{h, ct}
}

func send(t *testing.T, st *ratchet.State, pt string) message {
	t.Helper()
	h, ct, err := ratchet.Encrypt(st, nil, []byte(pt))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return message{h, ct}
}

func recv(t *testing.T, st *ratchet.State, m message, want string) {
	t.Helper()
	pt, err := ratchet.Decrypt(st, nil, m.h, m.ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != want {
		t.Fatalf("got %q, want %q", pt, want)
	}
}

func TestDoubleRatchet_OneRoundTrip(t *testing.T) {
	a, b, first := pair(t)
	recv(t, &b, first, "hello")

	reply := send(t, &b, "hi")
	recv(t, &a, reply, "hi")

	again := send(t, &a, "again")
	recv(t, &b, again, "again")
}

func TestDoubleRatchet_OutOfOrderWithinChain(t *testing.T) {
	a, b, first := pair(t)
	m2 := send(t, &a, "two")
	m3 := send(t, &a, "three")

	recv(t, &b, m3, "three")
	recv(t, &b, first, "hello")
	recv(t, &b, m2, "two")

	// The receive counter must not move backwards after using skipped keys.
	if b.Nr != 3 {
		t.Fatalf("Nr = %d, want 3", b.Nr)
	}
	m4 := send(t, &a, "four")
	recv(t, &b, m4, "four")
}

func TestDoubleRatchet_ReplayRejected(t *testing.T) {
	_, b, first := pair(t)
	recv(t, &b, first, "hello")

	if _, err := ratchet.Decrypt(&b, nil, first.h, first.ct); err == nil {
		t.Fatal("replayed message decrypted")
	}
}

func TestDoubleRatchet_TamperedFailsAndCloneIsUntouched(t *testing.T) {
	_, b, first := pair(t)
	before, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	bad := append([]byte(nil), first.ct...)
	bad[0] ^= 1
	work := b.Clone()
	if _, err := ratchet.Decrypt(&work, nil, first.h, bad); err == nil {
		t.Fatal("tampered ciphertext decrypted")
	}
	after, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatal("original state changed by a failed decrypt on a clone")
	}
	recv(t, &b, first, "hello")
}

func TestState_JSONRoundTrip(t *testing.T) {
	a, b, first := pair(t)
	m2 := send(t, &a, "two")
	recv(t, &b, m2, "two") // leaves a skipped key for first

	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var restored ratchet.State
	if err := json.Unmarshal(raw, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	recv(t, &restored, first, "hello")
}
