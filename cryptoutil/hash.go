package cryptoutil

import (
	"crypto/sha256"
	"strings"
)

// SHA256 returns the 32-byte SHA-256 digest of data.
func SHA256(data ...[]byte) [32]byte {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SHA256Hex returns the uppercase hex encoding of SHA256(data...).
func SHA256Hex(data ...[]byte) string {
	sum := SHA256(data...)
	return strings.ToUpper(BytesToHex(sum[:]))
}
