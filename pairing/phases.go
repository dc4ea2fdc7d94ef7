package pairing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"

	"github.com/pkg/errors"

	"github.com/gowolf/streamhost/cryptoutil"
)

// ErrPairingCheckFailed is returned by any phase that fails a
// cryptographic or protocol check. It never reveals which step failed;
// callers translate it uniformly into paired=0 and evict the cache
// entry.
var ErrPairingCheckFailed = errors.New("pairing: check failed")

// ErrPairingCancelled is returned from Phase1 when the PIN wait is
// resolved with the distinguished cancelled value.
var ErrPairingCancelled = errors.New("pairing: cancelled")

// zeroIV is the fixed all-zero 16-byte IV the pairing handshake's
// unpadded AES-CBC exchanges use; every interoperating implementation
// of this handshake uses it.
var zeroIV = make([]byte, cryptoutil.IVSize)

// Machine runs the four-phase pairing handshake against a Store
// and Cache, using the host's own signing identity.
type Machine struct {
	store      *Store
	cache      *Cache
	serverKey  *rsa.PrivateKey
	serverCert *x509.Certificate
	serverPEM  []byte
}

// NewMachine builds a Machine. serverCert/serverKey are the host's own
// identity; serverPEM is its PEM encoding, returned verbatim to
// clients in phase 1.
func NewMachine(store *Store, cache *Cache, serverKey *rsa.PrivateKey, serverCert *x509.Certificate) *Machine {
	return &Machine{
		store:      store,
		cache:      cache,
		serverKey:  serverKey,
		serverCert: serverCert,
		serverPEM:  cryptoutil.PEMFromX509(serverCert),
	}
}

// Phase1 handles GetServerCert. It blocks the calling goroutine until
// a PIN is supplied via the management API or the wait is cancelled;
// this is the protocol's one semantically unbounded suspension point.
// Callers on a context-aware transport should run this in its
// own goroutine and select on ctx.Done() for external cancellation.
func (m *Machine) Phase1(clientIP, saltHex, clientCertHex string) (serverCertHex string, err error) {
	key := clientIP
	certPEM := cryptoutil.HexToBytes(clientCertHex, false)
	clientCert, perr := cryptoutil.X509FromPEM(certPEM)
	if perr != nil {
		return "", ErrPairingCheckFailed
	}

	e := m.cache.beginPhase1(key, clientCertHex)

	result := <-e.pinCh
	if result.Cancelled {
		m.cache.evict(key)
		return "", ErrPairingCancelled
	}

	salt := cryptoutil.HexToBytes(saltHex, false)
	keyHash := cryptoutil.SHA256(salt, []byte(result.PIN))

	secret := make([]byte, cryptoutil.KeySize)
	if _, err := rand.Read(secret); err != nil {
		m.cache.evict(key)
		return "", errors.Wrap(err, "pairing: generate server secret")
	}

	e.pin = result.PIN
	e.aesKey = keyHash[:cryptoutil.KeySize]
	e.clientCert = certPEM
	e.serverSecret = secret
	_ = clientCert // parsed only to validate the client's PEM up front

	return cryptoutil.BytesToHex(m.serverPEM), nil
}

// Phase2 handles ClientChallenge.
func (m *Machine) Phase2(clientIP, clientChallengeHex string) (challengeResponseHex string, err error) {
	e, ok := m.cache.get(clientIP)
	if !ok || e.aesKey == nil {
		return "", ErrPairingCheckFailed
	}

	encChallenge := cryptoutil.HexToBytes(clientChallengeHex, false)
	decrypted, derr := cryptoutil.DecryptCBC(encChallenge, e.aesKey, zeroIV, false)
	if derr != nil {
		m.cache.evict(clientIP)
		return "", ErrPairingCheckFailed
	}

	serverSig := cryptoutil.X509Signature(m.serverCert)
	hash := cryptoutil.SHA256(decrypted, serverSig, e.serverSecret)

	serverChallenge := make([]byte, cryptoutil.KeySize)
	if _, rerr := rand.Read(serverChallenge); rerr != nil {
		m.cache.evict(clientIP)
		return "", errors.Wrap(rerr, "pairing: generate server challenge")
	}

	e.serverChallenge = serverChallenge

	sigPrefix := serverSig
	if len(sigPrefix) > 16 {
		sigPrefix = sigPrefix[:16]
	}

	plaintext := make([]byte, 0, len(hash[:])+len(sigPrefix)+len(serverChallenge))
	plaintext = append(plaintext, hash[:]...)
	plaintext = append(plaintext, sigPrefix...)
	plaintext = append(plaintext, serverChallenge...)

	encResponse, eerr := cryptoutil.EncryptCBC(plaintext, e.aesKey, zeroIV, false)
	if eerr != nil {
		m.cache.evict(clientIP)
		return "", errors.Wrap(eerr, "pairing: encrypt challenge response")
	}

	return cryptoutil.BytesToHex(encResponse), nil
}

// Phase3 handles ServerChallengeResp.
func (m *Machine) Phase3(clientIP, serverChallengeRespHex string) (pairingSecretHex string, err error) {
	e, ok := m.cache.get(clientIP)
	if !ok || e.aesKey == nil || e.serverChallenge == nil {
		return "", ErrPairingCheckFailed
	}

	encResp := cryptoutil.HexToBytes(serverChallengeRespHex, false)
	clientHash, derr := cryptoutil.DecryptCBC(encResp, e.aesKey, zeroIV, false)
	if derr != nil {
		m.cache.evict(clientIP)
		return "", ErrPairingCheckFailed
	}
	e.clientHash = clientHash

	sig, serr := cryptoutil.Sign(e.serverSecret, m.serverKey)
	if serr != nil {
		m.cache.evict(clientIP)
		return "", errors.Wrap(serr, "pairing: sign server secret")
	}

	out := make([]byte, 0, len(e.serverSecret)+len(sig))
	out = append(out, e.serverSecret...)
	out = append(out, sig...)
	return cryptoutil.BytesToHex(out), nil
}

// Phase4 handles ClientPairingSecret. On success, the client
// certificate is added to the persisted Store and true is returned.
func (m *Machine) Phase4(clientIP, clientPairingSecretHex string, settings ClientSettings, stateDir string) (paired bool, err error) {
	e, ok := m.cache.get(clientIP)
	if !ok || e.clientHash == nil {
		return false, ErrPairingCheckFailed
	}

	raw := cryptoutil.HexToBytes(clientPairingSecretHex, false)
	if len(raw) <= cryptoutil.KeySize {
		m.cache.evict(clientIP)
		return false, ErrPairingCheckFailed
	}
	clientSecret := raw[:cryptoutil.KeySize]
	clientSignature := raw[cryptoutil.KeySize:]

	clientCert, cerr := cryptoutil.X509FromPEM(e.clientCert)
	if cerr != nil {
		m.cache.evict(clientIP)
		return false, ErrPairingCheckFailed
	}
	clientPub, ok := clientCert.PublicKey.(*rsa.PublicKey)
	if !ok {
		m.cache.evict(clientIP)
		return false, ErrPairingCheckFailed
	}

	if !cryptoutil.Verify(clientSecret, clientSignature, clientPub) {
		m.cache.evict(clientIP)
		return false, ErrPairingCheckFailed
	}

	clientSig := cryptoutil.X509Signature(clientCert)
	expected := cryptoutil.SHA256(e.serverChallenge, clientSig, clientSecret)

	if subtle.ConstantTimeCompare(expected[:], e.clientHash) != 1 {
		m.cache.evict(clientIP)
		return false, ErrPairingCheckFailed
	}

	m.store.Add(PairedClient{
		CertPEM:  string(e.clientCert),
		Cert:     clientCert,
		StateDir: stateDir,
		Settings: settings,
	})
	m.cache.evict(clientIP)
	return true, nil
}
