package apiserver

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/gowolf/streamhost/cryptoutil"
)

type launchResponseXML struct {
	SessionURL0 string `xml:"sessionUrl0"`
	GameSession uint32 `xml:"gamesession"`
	RTSPPort    int    `xml:"rtspport"`
}

type cancelResponseXML struct {
	Cancel int `xml:"cancel"`
}

// streamKeyFromQuery recovers the session AES key and IV the client
// agreed during pairing and re-supplies on launch: rikey is the key
// hex, rikeyid a 32-bit IV seed carried big-endian in the first four
// IV bytes, remainder zero.
func streamKeyFromQuery(q url.Values) (key, iv [16]byte, ok bool) {
	raw := cryptoutil.HexToBytes(q.Get("rikey"), false)
	if len(raw) != 16 {
		return key, iv, false
	}
	copy(key[:], raw)

	var seed uint32
	if _, err := fmt.Sscanf(q.Get("rikeyid"), "%d", &seed); err != nil {
		return key, iv, false
	}
	binary.BigEndian.PutUint32(iv[:4], seed)
	return key, iv, true
}

// rtspURL renders the sessionUrl0 value for the host the client
// reached us at.
func (s *Server) rtspURL(r *http.Request) string {
	host := s.cfg.LocalIP
	if host == "" {
		if h, _, err := net.SplitHostPort(r.Host); err == nil {
			host = h
		} else {
			host = r.Host
		}
	}
	return fmt.Sprintf("rtsp://%s:%d", host, s.ports.RTSP)
}

// LaunchHandler serves GET /launch: creates the StreamSession with
// freshly allocated ports and hands back the RTSP rendezvous. A client
// with a session already live gets the in-body 503.
func (s *Server) LaunchHandler(w http.ResponseWriter, r *http.Request) {
	clientIP := clientIPFromRequest(r)
	if _, exists := s.registry.LookupByIP(clientIP); exists {
		writeXML(w, StatusBusy, struct{}{})
		return
	}

	q := r.URL.Query()
	app, ok := s.catalog.Lookup(q.Get("appid"))
	if !ok {
		writeXML(w, 404, struct{}{})
		return
	}

	key, iv, ok := streamKeyFromQuery(q)
	if !ok {
		writeXML(w, 404, struct{}{})
		return
	}

	sess := s.registry.Create(app, clientIP, key, iv)
	log.Info().Uint32("session", sess.ID).Str("app", app.ID).
		Str("client", clientIP.String()).Msg("apiserver: session launched")

	writeXML(w, StatusOK, launchResponseXML{
		SessionURL0: s.rtspURL(r),
		GameSession: sess.ID,
		RTSPPort:    s.ports.RTSP,
	})
}

// ResumeHandler serves GET /resume: re-attaches the client to its
// existing session, refreshing the stream key material the client
// re-supplies on every connection.
func (s *Server) ResumeHandler(w http.ResponseWriter, r *http.Request) {
	clientIP := clientIPFromRequest(r)
	sess, ok := s.registry.LookupByIP(clientIP)
	if !ok {
		writeXML(w, 404, struct{}{})
		return
	}

	if key, iv, ok := streamKeyFromQuery(r.URL.Query()); ok {
		sess.AESKey = key
		sess.AESIV = iv
	}

	writeXML(w, StatusOK, launchResponseXML{
		SessionURL0: s.rtspURL(r),
		GameSession: sess.ID,
		RTSPPort:    s.ports.RTSP,
	})
}

// CancelHandler serves GET /cancel: terminates the client's session.
func (s *Server) CancelHandler(w http.ResponseWriter, r *http.Request) {
	clientIP := clientIPFromRequest(r)
	if sess, ok := s.registry.LookupByIP(clientIP); ok {
		s.registry.Remove(sess.ID)
	}
	writeXML(w, StatusOK, cancelResponseXML{Cancel: 1})
}
