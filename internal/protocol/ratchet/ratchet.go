package ratchet

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"sealchat/internal/crypto"
	"sealchat/internal/domain"
)

const (
	aeadKeySize  = 32
	nonceSize    = chacha20poly1305.NonceSize
	maxSkippedMK = 1000
)

var (
	ErrSkippedKeyNotFound = errors.New("skipped message key not found")
	ErrTooManySkipped     = errors.New("too many skipped messages")
	errChainUninitialised = errors.New("ratchet chain key is uninitialised")
)

// Header is sent in the clear alongside every ratchet ciphertext.
type Header struct {
	DHPub domain.Curve25519Public `json:"dh"`
	PN    uint32                  `json:"pn"`
	N     uint32                  `json:"n"`
}

// State is one side of a Double Ratchet conversation.
type State struct {
	RootKey   []byte                   `json:"rk"`
	DHPriv    domain.Curve25519Private `json:"dh_priv"`
	DHPub     domain.Curve25519Public  `json:"dh_pub"`
	PeerDHPub domain.Curve25519Public  `json:"peer_dh_pub"`
	SendCK    []byte                   `json:"send_ck,omitempty"`
	RecvCK    []byte                   `json:"recv_ck,omitempty"`
	Ns        uint32                   `json:"ns"`
	Nr        uint32                   `json:"nr"`
	PN        uint32                   `json:"pn"`
	// Skipped maps hex(peer ratchet pub || n) to the message key.
	Skipped map[string][]byte `json:"skipped,omitempty"`
}

// InitAsInitiator seeds the sending chain from root using a fresh ratchet key
// and the peer identity pub.
func InitAsInitiator(root []byte, peerIdentity domain.Curve25519Public) (State, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return State{}, err
	}
	dh, err := crypto.DH(priv, peerIdentity)
	if err != nil {
		return State{}, err
	}
	newRK, sendCK := kdfRK(root, dh[:])
	crypto.Wipe(dh[:])

	return State{
		RootKey:   newRK,
		DHPriv:    priv,
		DHPub:     pub,
		PeerDHPub: peerIdentity, // placeholder until first remote ratchet pub arrives
		SendCK:    sendCK,
		Skipped:   make(map[string][]byte),
	}, nil
}

// InitAsResponder seeds the receiving chain from root using our identity priv
// and the sender ratchet pub.
func InitAsResponder(root []byte, ourIDPriv domain.Curve25519Private, senderRatchetPub domain.Curve25519Public) (State, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return State{}, err
	}
	dh, err := crypto.DH(ourIDPriv, senderRatchetPub)
	if err != nil {
		return State{}, err
	}
	newRK, recvCK := kdfRK(root, dh[:])
	crypto.Wipe(dh[:])

	return State{
		RootKey:   newRK,
		DHPriv:    priv,
		DHPub:     pub,
		PeerDHPub: senderRatchetPub,
		RecvCK:    recvCK,
		Skipped:   make(map[string][]byte),
	}, nil
}

// Clone returns a deep copy of st.
func (st State) Clone() State {
	out := st
	out.RootKey = append([]byte(nil), st.RootKey...)
	out.SendCK = append([]byte(nil), st.SendCK...)
	out.RecvCK = append([]byte(nil), st.RecvCK...)
	out.Skipped = make(map[string][]byte, len(st.Skipped))
	for k, v := range st.Skipped {
		out.Skipped[k] = append([]byte(nil), v...)
	}
	return out
}

// Encrypt produces a header and ciphertext, auto-stepping the DH ratchet on
// the first send after responding.
func Encrypt(st *State, ad, plaintext []byte) (Header, []byte, error) {
	// SendCK is empty on the responder's first send.
	if len(st.SendCK) == 0 {
		newPriv, newPub, err := crypto.GenerateX25519()
		if err != nil {
			return Header{}, nil, err
		}
		dh, err := crypto.DH(newPriv, st.PeerDHPub)
		if err != nil {
			return Header{}, nil, err
		}
		rk2, sendCK := kdfRK(st.RootKey, dh[:])
		crypto.Wipe(dh[:])

		st.PN = st.Ns
		st.Ns = 0
		st.RootKey = rk2
		st.DHPriv, st.DHPub = newPriv, newPub
		st.SendCK = sendCK
	}

	mk, err := kdfCKSend(st)
	if err != nil {
		return Header{}, nil, err
	}
	h := Header{DHPub: st.DHPub, PN: st.PN, N: st.Ns}

	ct, err := seal(mk, h, ad, plaintext)
	crypto.Wipe(mk)
	if err != nil {
		return Header{}, nil, err
	}
	st.Ns++
	return h, ct, nil
}

// Decrypt handles skipped keys, does a DH ratchet step on new remote pubs,
// then opens the message. st may be partially advanced when an error is
// returned, so callers decrypt on a Clone.
func Decrypt(st *State, ad []byte, header Header, ciphertext []byte) ([]byte, error) {
	// A message from an earlier point of a known chain.
	if mk, ok := st.Skipped[skippedKeyID(header.DHPub, header.N)]; ok {
		pt, err := open(mk, header, ad, ciphertext)
		if err != nil {
			return nil, err
		}
		delete(st.Skipped, skippedKeyID(header.DHPub, header.N))
		crypto.Wipe(mk)
		return pt, nil
	}

	if st.PeerDHPub == header.DHPub {
		if header.N < st.Nr {
			return nil, ErrSkippedKeyNotFound
		}
	} else {
		// New DH pub: advance receiving and then sending chains.
		if len(st.RecvCK) > 0 {
			if err := skipUntil(st, header.PN); err != nil {
				return nil, err
			}
		}

		dh, err := crypto.DH(st.DHPriv, header.DHPub)
		if err != nil {
			return nil, err
		}
		rk2, recvCK := kdfRK(st.RootKey, dh[:])
		crypto.Wipe(dh[:])

		newPriv, newPub, err := crypto.GenerateX25519()
		if err != nil {
			return nil, err
		}
		dh2, err := crypto.DH(newPriv, header.DHPub)
		if err != nil {
			return nil, err
		}
		rk3, sendCK := kdfRK(rk2, dh2[:])
		crypto.Wipe(dh2[:])

		st.PN = st.Ns
		st.Ns, st.Nr = 0, 0
		st.RootKey = rk3
		st.DHPriv, st.DHPub = newPriv, newPub
		st.PeerDHPub = header.DHPub
		st.SendCK, st.RecvCK = sendCK, recvCK
	}

	if err := skipUntil(st, header.N); err != nil {
		return nil, err
	}
	mk, err := kdfCKRecv(st)
	if err != nil {
		return nil, err
	}
	pt, err := open(mk, header, ad, ciphertext)
	crypto.Wipe(mk)
	if err != nil {
		return nil, err
	}
	st.Nr++
	return pt, nil
}

// --- helpers ---

func seal(mk []byte, header Header, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:aeadKeySize])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce(header), plaintext, associated(ad, header)), nil
}

func open(mk []byte, header Header, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:aeadKeySize])
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce(header), ciphertext, associated(ad, header))
}

func nonce(h Header) []byte {
	n := make([]byte, nonceSize)
	binary.BigEndian.PutUint32(n[nonceSize-4:], h.N)
	return n
}

func associated(ad []byte, h Header) []byte {
	out := make([]byte, 0, len(ad)+len(h.DHPub)+8)
	out = append(out, ad...)
	out = append(out, h.DHPub[:]...)
	out = binary.BigEndian.AppendUint32(out, h.PN)
	out = binary.BigEndian.AppendUint32(out, h.N)
	return out
}

// HKDF-based KDFs with labels.
func kdfRK(rk, dh []byte) (newRK, ck []byte) {
	newRK = make([]byte, 32)
	ck = make([]byte, 32)
	_ = crypto.HKDF(dh, rk, "DR|rk", newRK, ck)
	return
}

func kdfCK(ck []byte) (nextCK, mk []byte) {
	nextCK = make([]byte, 32)
	mk = make([]byte, 32)
	_ = crypto.HKDF(ck, nil, "DR|ck", nextCK, mk)
	return
}

func kdfCKSend(st *State) ([]byte, error) {
	if len(st.SendCK) == 0 {
		return nil, errChainUninitialised
	}
	nextCK, mk := kdfCK(st.SendCK)
	st.SendCK = nextCK
	return mk, nil
}

func kdfCKRecv(st *State) ([]byte, error) {
	if len(st.RecvCK) == 0 {
		return nil, errChainUninitialised
	}
	nextCK, mk := kdfCK(st.RecvCK)
	st.RecvCK = nextCK
	return mk, nil
}

func skippedKeyID(peer domain.Curve25519Public, n uint32) string {
	b := make([]byte, 0, 32+4)
	b = append(b, peer[:]...)
	b = binary.BigEndian.AppendUint32(b, n)
	return hex.EncodeToString(b)
}

// skipUntil derives and stores message keys up to n with a hard cap.
func skipUntil(st *State, n uint32) error {
	if n < st.Nr {
		return nil
	}
	if n-st.Nr > maxSkippedMK {
		return fmt.Errorf("%w: %d", ErrTooManySkipped, n-st.Nr)
	}
	if st.Skipped == nil {
		st.Skipped = make(map[string][]byte)
	}
	for st.Nr < n {
		mk, err := kdfCKRecv(st)
		if err != nil {
			return err
		}
		if len(st.Skipped) >= maxSkippedMK {
			for k := range st.Skipped {
				delete(st.Skipped, k)
				break
			}
		}
		st.Skipped[skippedKeyID(st.PeerDHPub, st.Nr)] = mk
		st.Nr++
	}
	return nil
}
