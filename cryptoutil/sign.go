package cryptoutil

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"

	"github.com/pkg/errors"
)

// Sign signs msg with the given RSA private key using SHA-256 and
// PKCS#1 v1.5 padding: the pairing phase-4 verification is defined
// only as a generic digest-verify, and PKCS#1 v1.5 is the default for
// the SHA256WithRSA certificates this host issues and expects.
func Sign(msg []byte, key *rsa.PrivateKey) ([]byte, error) {
	digest := sha256.Sum256(msg)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, errors.Wrap(err, "cryptoutil: sign")
	}
	return sig, nil
}

// Verify reports whether sig is a valid PKCS#1 v1.5/SHA-256 signature
// of msg under pub.
func Verify(msg, sig []byte, pub *rsa.PublicKey) bool {
	digest := sha256.Sum256(msg)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
}
