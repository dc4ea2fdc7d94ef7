package apiserver

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/gowolf/streamhost/catalog"
	"github.com/gowolf/streamhost/config"
	"github.com/gowolf/streamhost/eventbus"
	"github.com/gowolf/streamhost/pairing"
	"github.com/gowolf/streamhost/session"
)

// ErrUnpairedClient marks a request to a paired-only endpoint from a
// client whose certificate is not in the Store. Handlers
// translate it into the in-body 401 envelope, never an HTTP-level 401.
var ErrUnpairedClient = errors.New("apiserver: client not paired")

// Server owns both HTTP listeners (plain at base_port, TLS at
// base_port-5) and the shared protocol state every handler touches.
type Server struct {
	cfg      *config.Config
	ports    config.Ports
	store    *pairing.Store
	cache    *pairing.Cache
	machine  *pairing.Machine
	registry *session.Registry
	catalog  *catalog.Catalog
	bus      *eventbus.Bus

	serverKey  *rsa.PrivateKey
	serverCert *x509.Certificate

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewServer wires the HTTP(S) surface over its collaborators.
func NewServer(cfg *config.Config, store *pairing.Store, cache *pairing.Cache, machine *pairing.Machine,
	registry *session.Registry, cat *catalog.Catalog, bus *eventbus.Bus,
	serverKey *rsa.PrivateKey, serverCert *x509.Certificate) *Server {
	return &Server{
		cfg:        cfg,
		ports:      config.DerivePorts(cfg.BasePort),
		store:      store,
		cache:      cache,
		machine:    machine,
		registry:   registry,
		catalog:    cat,
		bus:        bus,
		serverKey:  serverKey,
		serverCert: serverCert,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// TLSConfig builds the mTLS listener configuration: the handshake
// demands a client certificate but never fails on it; authorization happens
// per-request against the paired set instead.
func (s *Server) TLSConfig() *tls.Config {
	cert := tls.Certificate{
		Certificate: [][]byte{s.serverCert.Raw},
		PrivateKey:  s.serverKey,
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAnyClientCert,
		// Self-signed client certs can never chain to a CA pool;
		// skipping verification here is the protocol's contract, with
		// the signature lookup in requirePaired as the real gate.
		VerifyPeerCertificate: func([][]byte, [][]*x509.Certificate) error { return nil },
	}
}

// HTTPHandler is the mux for the plain listener: /serverinfo and the
// unauthenticated pairing phases.
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/serverinfo", s.ServerInfoHandler)
	mux.HandleFunc("/pair", s.PairHandler)
	return mux
}

// HTTPSHandler is the mux for the TLS listener: everything, with the
// paired-only endpoints wrapped in the per-request cert check.
func (s *Server) HTTPSHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/serverinfo", s.ServerInfoHandler)
	mux.HandleFunc("/pair", s.PairHandler)
	mux.HandleFunc("/applist", s.requirePaired(s.AppListHandler))
	mux.HandleFunc("/launch", s.requirePaired(s.LaunchHandler))
	mux.HandleFunc("/resume", s.requirePaired(s.ResumeHandler))
	mux.HandleFunc("/cancel", s.requirePaired(s.CancelHandler))
	mux.HandleFunc("/appasset", s.requirePaired(s.AppAssetHandler))
	return mux
}

// clientCertFromRequest extracts the TLS peer certificate, if the
// request arrived over the TLS listener with one presented.
func (s *Server) clientCertFromRequest(r *http.Request) (*x509.Certificate, bool) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return nil, false
	}
	return r.TLS.PeerCertificates[0], true
}

// clientIPFromRequest parses the peer IP out of RemoteAddr.
func clientIPFromRequest(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

// requirePaired gates a handler on the peer certificate's signature
// being in the persisted paired set. Unauthorized requests get the
// in-body 401 envelope over HTTP 200.
func (s *Server) requirePaired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cert, ok := s.clientCertFromRequest(r)
		if !ok || !s.store.IsPaired(cert) {
			writeXML(w, StatusUnauthorized, struct{}{})
			return
		}
		next(w, r)
	}
}

// pairLimiter returns the per-IP token bucket bounding /pair attempts,
// a brute-force mitigation for the 4-digit PIN space.
func (s *Server) pairLimiter(ip string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	lim, ok := s.limiters[ip]
	if !ok {
		perMinute := s.cfg.PairRateLimitPerMinute
		if perMinute <= 0 {
			perMinute = 6
		}
		lim = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		s.limiters[ip] = lim
	}
	return lim
}
