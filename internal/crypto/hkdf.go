package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF derives len(outs) consecutive outputs from ikm, filling each slice in
// order.
func HKDF(ikm, salt []byte, info string, outs ...[]byte) error {
	r := hkdf.New(sha256.New, ikm, salt, []byte(info))
	for _, o := range outs {
		if _, err := io.ReadFull(r, o); err != nil {
			return err
		}
	}
	return nil
}
