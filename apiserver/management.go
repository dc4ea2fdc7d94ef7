package apiserver

import (
	"encoding/json"
	"net"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/gowolf/streamhost/eventbus"
	"github.com/gowolf/streamhost/pairing"
)

// ManagementServer is the loopback-only control surface: a plain HTTP mux over a Unix-domain socket, used
// by the host UI / CLI to list pending pairing requests, supply PINs,
// and watch lifecycle events.
type ManagementServer struct {
	cache   *pairing.Cache
	bus     *eventbus.Bus
	metrics http.Handler
}

// NewManagementServer builds the management mux over cache and bus.
// metrics, if non-nil, is mounted at /metrics.
func NewManagementServer(cache *pairing.Cache, bus *eventbus.Bus, metrics http.Handler) *ManagementServer {
	return &ManagementServer{cache: cache, bus: bus, metrics: metrics}
}

// Listen binds the Unix-domain socket at path, replacing any stale
// socket file a crashed previous process left behind.
func (m *ManagementServer) Listen(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "management: remove stale socket")
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrap(err, "management: bind socket")
	}
	return ln, nil
}

// Handler is the management mux.
func (m *ManagementServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/pair/pending", m.pendingHandler)
	mux.HandleFunc("/api/v1/pair/client", m.pairClientHandler)
	mux.HandleFunc("/api/v1/events", m.eventsHandler)
	if m.metrics != nil {
		mux.Handle("/metrics", m.metrics)
	}
	return mux
}

// Serve runs the management HTTP server on ln until ln is closed.
func (m *ManagementServer) Serve(ln net.Listener) error {
	srv := &http.Server{Handler: m.Handler()}
	return srv.Serve(ln)
}

type pendingPairJSON struct {
	PairSecret string `json:"pair_secret"`
	PinOrIP    string `json:"pin_or_ip"`
}

func (m *ManagementServer) pendingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pending := m.cache.ListPending()
	out := make([]pendingPairJSON, 0, len(pending))
	for _, p := range pending {
		out = append(out, pendingPairJSON{PairSecret: p.PairSecret, PinOrIP: p.ClientIP})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

type pairClientJSON struct {
	PairSecret string `json:"pair_secret"`
	PIN        string `json:"pin"`
}

func (m *ManagementServer) pairClientHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req pairClientJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !m.cache.ResolvePIN(req.PairSecret, req.PIN) {
		http.Error(w, "no pending pair request for secret", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// eventJSON is the serialized lifecycle event streamed to management
// clients.
type eventJSON struct {
	Kind      string `json:"kind"`
	SessionID uint32 `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// eventsHandler streams lifecycle events as newline-delimited JSON
// until the client hangs up.
func (m *ManagementServer) eventsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan eventbus.Event, 64)
	unsubscribe := m.bus.Subscribe(func(ev eventbus.Event) {
		select {
		case events <- ev:
		default:
			// A slow management client must not stall publishers.
		}
	})
	defer unsubscribe()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			if err := enc.Encode(eventJSON{Kind: ev.Kind.String(), SessionID: ev.SessionID, Reason: ev.Reason}); err != nil {
				log.Debug().Err(err).Msg("management: event stream closed")
				return
			}
			flusher.Flush()
		}
	}
}
