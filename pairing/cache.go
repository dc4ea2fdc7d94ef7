package pairing

import (
	"sync"

	"github.com/google/uuid"
)

// PinResult is sent on a cache entry's pin channel by the management
// API to unblock a phase-1 request that's waiting on a human-entered
// PIN. Cancelled is the distinguished value used for cancellation
// instead of closing the channel out from under the blocked handler
// goroutine.
type PinResult struct {
	PIN       string
	Cancelled bool
}

// entry holds one client's in-flight pairing state across phases 1-4.
type entry struct {
	// PairSecret is the opaque token the management API uses to address
	// this pending pairing request.
	PairSecret string
	ClientIP   string

	pinCh chan PinResult
	pin   string // set once the PIN arrives

	aesKey           []byte // 16 bytes, derived once the PIN is known
	clientCertHex    string
	clientCert       []byte // raw PEM bytes, hex-decoded

	serverSecret    []byte // 16 bytes, phase 1
	serverChallenge []byte // 16 bytes, generated in phase 2
	clientHash      []byte // phase 3
}

// Cache is the ephemeral PairCache, keyed by client IP (or, for
// requests that arrive over the loopback-only management path, by a
// secret pair_secret nonce).
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewCache builds an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// beginPhase1 creates (or replaces) the cache entry for key. A
// phase-1 request for an already-known client evicts the old entry and
// restarts the state machine; any existing entry for key, paired or
// not, is discarded.
func (c *Cache) beginPhase1(key, clientCertHex string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry{
		PairSecret:    uuid.NewString(),
		ClientIP:      key,
		clientCertHex: clientCertHex,
		pinCh:         make(chan PinResult, 1),
	}
	c.entries[key] = e
	return e
}

func (c *Cache) get(key string) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// evict removes key's cache entry; every handshake failure lands
// here.
func (c *Cache) evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// ResolvePIN fulfills the pending phase-1 wait for the cache entry
// identified by pairSecret, supplying pin. Returns false if no pending
// entry matches (already resolved, evicted, or unknown secret).
func (c *Cache) ResolvePIN(pairSecret, pin string) bool {
	c.mu.Lock()
	var target *entry
	for _, e := range c.entries {
		if e.PairSecret == pairSecret {
			target = e
			break
		}
	}
	c.mu.Unlock()

	if target == nil {
		return false
	}
	select {
	case target.pinCh <- PinResult{PIN: pin}:
		return true
	default:
		return false
	}
}

// CancelPIN resolves a pending phase-1 wait with the distinguished
// cancelled value, e.g. on process shutdown or client revocation.
func (c *Cache) CancelPIN(pairSecret string) bool {
	c.mu.Lock()
	var target *entry
	for _, e := range c.entries {
		if e.PairSecret == pairSecret {
			target = e
			break
		}
	}
	c.mu.Unlock()

	if target == nil {
		return false
	}
	select {
	case target.pinCh <- PinResult{Cancelled: true}:
		return true
	default:
		return false
	}
}

// Pending describes one phase-1 request awaiting a PIN, for the
// management API's GET /api/v1/pair/pending.
type Pending struct {
	PairSecret string
	ClientIP   string
}

// ListPending returns every cache entry still waiting for a PIN.
func (c *Cache) ListPending() []Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Pending, 0, len(c.entries))
	for _, e := range c.entries {
		if e.pin == "" {
			out = append(out, Pending{PairSecret: e.PairSecret, ClientIP: e.ClientIP})
		}
	}
	return out
}
