package apiserver

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/gowolf/streamhost/pairing"
)

// pairResponseXML carries the phase-specific fields of a /pair reply.
// Every phase that does not set a field leaves it out of the XML.
type pairResponseXML struct {
	Paired            int    `xml:"paired"`
	PlainCert         string `xml:"plaincert,omitempty"`
	ChallengeResponse string `xml:"challengeresponse,omitempty"`
	PairingSecret     string `xml:"pairingsecret,omitempty"`
}

// PairHandler serves GET /pair, dispatching to the four handshake
// phases by which query parameter is present. Failures are
// uniform: paired=0, cache evicted, no hint of which check failed.
func (s *Server) PairHandler(w http.ResponseWriter, r *http.Request) {
	clientIP := clientIPFromRequest(r)
	ipKey := ""
	if clientIP != nil {
		ipKey = clientIP.String()
	}

	if !s.pairLimiter(ipKey).Allow() {
		log.Warn().Str("client", ipKey).Msg("apiserver: pair attempt rate limited")
		writeXML(w, StatusOK, pairResponseXML{Paired: 0})
		return
	}

	q := r.URL.Query()
	switch {
	case q.Get("clientcert") != "":
		s.pairPhase1(w, r, ipKey)
	case q.Get("clientchallenge") != "":
		s.pairPhase2(w, ipKey, q.Get("clientchallenge"))
	case q.Get("serverchallengeresp") != "":
		s.pairPhase3(w, ipKey, q.Get("serverchallengeresp"))
	case q.Get("clientpairingsecret") != "":
		s.pairPhase4(w, ipKey, q.Get("clientpairingsecret"), q.Get("uniqueid"))
	default:
		writeXML(w, StatusOK, pairResponseXML{Paired: 0})
	}
}

func (s *Server) pairPhase1(w http.ResponseWriter, r *http.Request, ipKey string) {
	q := r.URL.Query()
	certHex, err := s.machine.Phase1(ipKey, q.Get("salt"), q.Get("clientcert"))
	if err != nil {
		if err == pairing.ErrPairingCancelled {
			log.Info().Str("client", ipKey).Msg("apiserver: pairing cancelled")
		}
		writeXML(w, StatusOK, pairResponseXML{Paired: 0})
		return
	}
	writeXML(w, StatusOK, pairResponseXML{Paired: 1, PlainCert: certHex})
}

func (s *Server) pairPhase2(w http.ResponseWriter, ipKey, clientChallengeHex string) {
	resp, err := s.machine.Phase2(ipKey, clientChallengeHex)
	if err != nil {
		writeXML(w, StatusOK, pairResponseXML{Paired: 0})
		return
	}
	writeXML(w, StatusOK, pairResponseXML{Paired: 1, ChallengeResponse: resp})
}

func (s *Server) pairPhase3(w http.ResponseWriter, ipKey, serverChallengeRespHex string) {
	secret, err := s.machine.Phase3(ipKey, serverChallengeRespHex)
	if err != nil {
		writeXML(w, StatusOK, pairResponseXML{Paired: 0})
		return
	}
	writeXML(w, StatusOK, pairResponseXML{Paired: 1, PairingSecret: secret})
}

func (s *Server) pairPhase4(w http.ResponseWriter, ipKey, clientPairingSecretHex, uniqueID string) {
	paired, err := s.machine.Phase4(ipKey, clientPairingSecretHex,
		pairing.ClientSettings{}, s.clientStateDir(uniqueID))
	if err != nil || !paired {
		writeXML(w, StatusOK, pairResponseXML{Paired: 0})
		return
	}
	log.Info().Str("client", ipKey).Msg("apiserver: client paired")
	writeXML(w, StatusOK, pairResponseXML{Paired: 1})
}

// clientStateDir derives the per-client opaque state directory
// from the 32-bit string hash of the client's uniqueid.
func (s *Server) clientStateDir(uniqueID string) string {
	return filepath.Join(s.cfg.StateDir, fmt.Sprintf("%d", stringHash32(uniqueID)))
}
