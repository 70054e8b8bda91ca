package secure

import (
	"encoding/hex"
	"strings"

	"lukechampine.com/blake3"
)

// FingerprintSize is the digest length in bytes.
const FingerprintSize = 16

// Fingerprint returns a colon-grouped hex digest of pub for out-of-band
// comparison, for example "3f2a:91c0:...".
func Fingerprint(pub []byte) string {
	sum := blake3.Sum256(pub)
	h := hex.EncodeToString(sum[:FingerprintSize])

	var b strings.Builder
	for i := 0; i < len(h); i += 4 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(h[i : i+4])
	}
	return b.String()
}
