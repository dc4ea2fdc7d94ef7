package cryptoutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"time"

	"github.com/pkg/errors"
)

// HostCertValidity matches the 20-year self-signed validity window the
// original host issues for itself.
const HostCertValidity = 20 * 365 * 24 * time.Hour

// GenerateHostIdentity produces a self-signed RSA key pair and
// certificate with the subject the protocol expects of the host:
// C=IT, O=GamesOnWhales, CN=localhost, serial 1, signed with SHA-256.
// This is used for first-run bootstrap; on-disk persistence of the
// result is an external collaborator's job.
func GenerateHostIdentity(bits int) (*rsa.PrivateKey, *x509.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cryptoutil: generate RSA key")
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Country:      []string{"IT"},
			Organization: []string{"GamesOnWhales"},
			CommonName:   "localhost",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(HostCertValidity),
		SignatureAlgorithm:    x509.SHA256WithRSA,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cryptoutil: create certificate")
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cryptoutil: parse generated certificate")
	}
	return key, cert, nil
}

// X509FromPEM parses a single PEM-encoded certificate.
func X509FromPEM(pemBytes []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("cryptoutil: not a PEM certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "cryptoutil: parse certificate")
	}
	return cert, nil
}

// PEMFromX509 encodes cert as a PEM CERTIFICATE block.
func PEMFromX509(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

// PEMFromKey encodes key as a PEM RSA PRIVATE KEY block.
func PEMFromKey(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

// KeyFromPEM parses a PEM-encoded RSA private key (PKCS#1 or PKCS#8).
func KeyFromPEM(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("cryptoutil: not a PEM block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	generic, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "cryptoutil: parse private key")
	}
	key, ok := generic.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("cryptoutil: private key is not RSA")
	}
	return key, nil
}

// X509Signature returns the certificate's raw ASN.1 signature bits.
// The protocol uses these bytes verbatim as a cryptographic identity
// fingerprint during pairing rather than a subject-key
// fingerprint.
func X509Signature(cert *x509.Certificate) []byte {
	return cert.Signature
}
