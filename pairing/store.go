// Package pairing implements the PIN-based mutual authentication state
// machine: the persisted PairedClient set, the ephemeral
// per-client PairCache, and the four-phase protocol itself.
package pairing

import (
	"crypto/x509"
	"sync"
	"sync/atomic"

	"github.com/gowolf/streamhost/cryptoutil"
)

// ClientSettings carries the per-client overrides persisted alongside
// a PairedClient: run user/group ids, per-axis input scaling, and
// overridden controller personalities.
type ClientSettings struct {
	RunUID    int
	RunGID    int
	AxisScale map[string]float64
	Overrides []string
}

// PairedClient is a persisted, paired client. A client is
// "paired" iff its PEM parses and its signature verifies against an
// entry in the Store.
type PairedClient struct {
	CertPEM  string
	Cert     *x509.Certificate
	StateDir string
	Settings ClientSettings
}

// signatureKey derives the lookup key for a PairedClient: the
// certificate's raw ASN.1 signature bytes, hex-encoded.
func signatureKey(cert *x509.Certificate) string {
	return cryptoutil.BytesToHex(cryptoutil.X509Signature(cert))
}

// Store is the persisted paired-client set. Readers take a
// copy-on-write snapshot; the single writer (pairing completion) swaps
// the whole map atomically.
type Store struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[map[string]PairedClient]
}

// NewStore builds an empty Store.
func NewStore() *Store {
	s := &Store{}
	empty := map[string]PairedClient{}
	s.snapshot.Store(&empty)
	return s
}

// LoadAll replaces the store's contents, e.g. from on-disk
// configuration at startup.
func (s *Store) LoadAll(clients []PairedClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]PairedClient, len(clients))
	for _, c := range clients {
		if c.Cert == nil {
			continue
		}
		next[signatureKey(c.Cert)] = c
	}
	s.snapshot.Store(&next)
}

// Add adds (or replaces) a paired client.
func (s *Store) Add(client PairedClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := *s.snapshot.Load()
	next := make(map[string]PairedClient, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[signatureKey(client.Cert)] = client
	s.snapshot.Store(&next)
}

// IsPaired reports whether cert's signature matches a persisted
// PairedClient.
func (s *Store) IsPaired(cert *x509.Certificate) bool {
	_, ok := s.Lookup(cert)
	return ok
}

// Lookup returns the PairedClient matching cert's signature, if any.
func (s *Store) Lookup(cert *x509.Certificate) (PairedClient, bool) {
	current := *s.snapshot.Load()
	c, ok := current[signatureKey(cert)]
	return c, ok
}

// All returns every persisted PairedClient.
func (s *Store) All() []PairedClient {
	current := *s.snapshot.Load()
	out := make([]PairedClient, 0, len(current))
	for _, c := range current {
		out = append(out, c)
	}
	return out
}
