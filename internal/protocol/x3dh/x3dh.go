package x3dh

import (
	"errors"

	"sealchat/internal/crypto"
	"sealchat/internal/domain"
)

const rootInfo = "sealchat-3dh"

// ErrBadOneTimeKey is returned when a claimed one-time key carries a
// signature that does not verify.
var ErrBadOneTimeKey = errors.New("one-time key signature invalid")

// InitiatorRootKey derives the root key for the side that claimed theirOTK.
func InitiatorRootKey(
	ourIdentity domain.Curve25519Private,
	ourEphemeral domain.Curve25519Private,
	theirIdentity domain.Curve25519Public,
	theirOTK domain.Curve25519Public,
) ([]byte, error) {
	return rootKey(
		ourIdentity, theirOTK, // DH(IKa, OTKb)
		ourEphemeral, theirIdentity, // DH(EKa, IKb)
		ourEphemeral, theirOTK, // DH(EKa, OTKb)
	)
}

// ResponderRootKey derives the same root key on the side that owns the
// one-time key.
func ResponderRootKey(
	ourIdentity domain.Curve25519Private,
	ourOTK domain.Curve25519Private,
	theirIdentity domain.Curve25519Public,
	theirEphemeral domain.Curve25519Public,
) ([]byte, error) {
	return rootKey(
		ourOTK, theirIdentity, // DH(OTKb, IKa)
		ourIdentity, theirEphemeral, // DH(IKb, EKa)
		ourOTK, theirEphemeral, // DH(OTKb, EKa)
	)
}

// VerifyOneTimeKey checks a one-time key signature made by the owning device.
func VerifyOneTimeKey(signing domain.Ed25519Public, otk domain.Curve25519Public, sig []byte) error {
	if !crypto.VerifyEd25519(signing, otk.Slice(), sig) {
		return ErrBadOneTimeKey
	}
	return nil
}

// SignOneTimeKey signs a one-time key for publication.
func SignOneTimeKey(signing domain.Ed25519Private, otk domain.Curve25519Public) []byte {
	return crypto.SignEd25519(signing, otk.Slice())
}

func rootKey(
	p1 domain.Curve25519Private, q1 domain.Curve25519Public,
	p2 domain.Curve25519Private, q2 domain.Curve25519Public,
	p3 domain.Curve25519Private, q3 domain.Curve25519Public,
) ([]byte, error) {
	transcript := make([]byte, 0, 32*3)
	for _, pair := range []struct {
		priv domain.Curve25519Private
		pub  domain.Curve25519Public
	}{{p1, q1}, {p2, q2}, {p3, q3}} {
		s, err := crypto.DH(pair.priv, pair.pub)
		if err != nil {
			crypto.Wipe(transcript)
			return nil, err
		}
		transcript = append(transcript, s[:]...)
		crypto.Wipe(s[:])
	}

	root := make([]byte, 32)
	err := crypto.HKDF(transcript, nil, rootInfo, root)
	crypto.Wipe(transcript)
	if err != nil {
		return nil, err
	}
	return root, nil
}
