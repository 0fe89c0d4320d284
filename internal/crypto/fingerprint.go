package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"sealchat/internal/domain"
)

const fingerprintBytes = 10

// Fingerprint is the first 10 bytes of SHA-256(pub) in hex, split into
// groups of four characters for reading aloud, e.g. "3f1a 09c2 ...".
func Fingerprint(pub []byte) domain.Fingerprint {
	sum := sha256.Sum256(pub)
	h := hex.EncodeToString(sum[:fingerprintBytes])

	var sb strings.Builder
	for i := 0; i < len(h); i += 4 {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(h[i:min(i+4, len(h))])
	}
	return domain.Fingerprint(sb.String())
}
