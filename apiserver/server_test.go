package apiserver

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gowolf/streamhost/catalog"
	"github.com/gowolf/streamhost/config"
	"github.com/gowolf/streamhost/cryptoutil"
	"github.com/gowolf/streamhost/eventbus"
	"github.com/gowolf/streamhost/pairing"
	"github.com/gowolf/streamhost/session"
)

func testIdentity(t *testing.T, cn string) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:       big.NewInt(1),
		Subject:            pkix.Name{CommonName: cn},
		NotBefore:          time.Now(),
		NotAfter:           time.Now().Add(24 * time.Hour),
		SignatureAlgorithm: x509.SHA256WithRSA,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

func testServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	serverKey, serverCert := testIdentity(t, "localhost")
	bus := &eventbus.Bus{}
	store := pairing.NewStore()
	cache := pairing.NewCache()
	machine := pairing.NewMachine(store, cache, serverKey, serverCert)
	registry := session.NewRegistry(config.DerivePorts(cfg.BasePort), bus)
	cat := catalog.New(catalog.FromConfig(cfg.Apps, cfg.Gstreamer))
	return NewServer(cfg, store, cache, machine, registry, cat, bus, serverKey, serverCert)
}

// serverinfo content for a configured host with two display modes and
// no paired clients.
func TestServerInfoContent(t *testing.T) {
	cfg := config.Default()
	cfg.Hostname = "test_wolf"
	cfg.UUID = "uid-12345"
	cfg.BasePort = 3000
	cfg.ExternalIP = "192.168.99.1"
	cfg.LocalIP = "192.168.1.1"
	cfg.MAC = "AA:BB:CC:DD"
	cfg.DisplayModes = []config.DisplayModeConfig{
		{Width: 1920, Height: 1080, RefreshRate: 60},
		{Width: 1024, Height: 768, RefreshRate: 30},
	}
	s := testServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/serverinfo?uniqueid=001122", nil)
	req.RemoteAddr = "192.168.1.77:40000"
	w := httptest.NewRecorder()
	s.ServerInfoHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/xml", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, `status_code="200"`)
	assert.Contains(t, body, "<hostname>test_wolf</hostname>")
	assert.Contains(t, body, "<HttpsPort>2995</HttpsPort>")
	assert.Contains(t, body, "<ExternalPort>3000</ExternalPort>")
	assert.Contains(t, body, "<mac>AA:BB:CC:DD</mac>")
	assert.Contains(t, body, "<ExternalIP>192.168.99.1</ExternalIP>")
	assert.Contains(t, body, "<LocalIP>192.168.1.1</LocalIP>")
	assert.Contains(t, body, "<PairStatus>0</PairStatus>")
	assert.Contains(t, body, "<state>SUNSHINE_SERVER_FREE</state>")

	first := strings.Index(body, "<Width>1920</Width>")
	second := strings.Index(body, "<Width>1024</Width>")
	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, second)
	assert.Less(t, first, second, "display modes must keep config order")
}

// An unpaired client hitting a paired-only endpoint gets the in-body
// 401 envelope over HTTP 200.
func TestPairedEndpointRejectsUnpaired(t *testing.T) {
	s := testServer(t, config.Default())

	req := httptest.NewRequest(http.MethodGet, "/applist", nil)
	req.RemoteAddr = "10.1.2.3:5000"
	w := httptest.NewRecorder()
	s.HTTPSHandler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `status_code="401"`)
}

func launchQuery(appID string) string {
	return "/launch?appid=" + appID +
		"&rikey=000102030405060708090A0B0C0D0E0F&rikeyid=1&uniqueid=0123456789ABCDEF"
}

func TestLaunchCreatesSessionAndSecondLaunchIsBusy(t *testing.T) {
	cfg := config.Default()
	cfg.BasePort = 3000
	cfg.LocalIP = "192.168.1.1"
	cfg.Apps = []config.AppConfig{{ID: "1", Title: "Desktop", RunnerKind: "command", Command: "sway"}}
	s := testServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, launchQuery("1"), nil)
	req.RemoteAddr = "10.0.0.9:4242"
	w := httptest.NewRecorder()
	s.LaunchHandler(w, req)

	body := w.Body.String()
	assert.Contains(t, body, `status_code="200"`)
	assert.Contains(t, body, "<sessionUrl0>rtsp://192.168.1.1:3021</sessionUrl0>")
	assert.Contains(t, body, "<rtspport>3021</rtspport>")

	sessions := s.registry.All()
	require.Len(t, sessions, 1)
	assert.Equal(t, [16]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, sessions[0].AESKey)
	assert.Equal(t, byte(1), sessions[0].AESIV[3], "rikeyid is the big-endian IV seed")

	// Same client again while streaming: in-body 503.
	w2 := httptest.NewRecorder()
	s.LaunchHandler(w2, req)
	assert.Contains(t, w2.Body.String(), `status_code="503"`)

	// Cancel tears the session down.
	w3 := httptest.NewRecorder()
	s.CancelHandler(w3, req)
	assert.Contains(t, w3.Body.String(), "<cancel>1</cancel>")
	assert.Empty(t, s.registry.All())
}

func TestResumeReattachesExistingSession(t *testing.T) {
	cfg := config.Default()
	cfg.BasePort = 3000
	cfg.LocalIP = "192.168.1.1"
	cfg.Apps = []config.AppConfig{{ID: "1", Title: "Desktop", RunnerKind: "command", Command: "sway"}}
	s := testServer(t, cfg)

	launch := httptest.NewRequest(http.MethodGet, launchQuery("1"), nil)
	launch.RemoteAddr = "10.0.0.9:4242"
	s.LaunchHandler(httptest.NewRecorder(), launch)
	require.Len(t, s.registry.All(), 1)

	resume := httptest.NewRequest(http.MethodGet, "/resume?rikey=FFFEFDFCFBFAF9F8F7F6F5F4F3F2F1F0&rikeyid=7", nil)
	resume.RemoteAddr = "10.0.0.9:5555"
	w := httptest.NewRecorder()
	s.ResumeHandler(w, resume)

	assert.Contains(t, w.Body.String(), "<sessionUrl0>rtsp://192.168.1.1:3021</sessionUrl0>")
	sess := s.registry.All()[0]
	assert.Equal(t, byte(0xFF), sess.AESKey[0], "resume refreshes the stream key")
	assert.Equal(t, byte(7), sess.AESIV[3])
}

func TestAppListContent(t *testing.T) {
	cfg := config.Default()
	cfg.Apps = []config.AppConfig{
		{ID: "1", Title: "Desktop", RunnerKind: "command", Command: "sway"},
		{ID: "2", Title: "Steam", HDR: true, RunnerKind: "container", Container: "steam:latest"},
	}
	s := testServer(t, cfg)

	w := httptest.NewRecorder()
	s.AppListHandler(w, httptest.NewRequest(http.MethodGet, "/applist", nil))

	body := w.Body.String()
	assert.Contains(t, body, "<AppTitle>Desktop</AppTitle>")
	assert.Contains(t, body, "<AppTitle>Steam</AppTitle>")
	assert.Contains(t, body, "<IsHdrSupported>1</IsHdrSupported>")
}

// Full /pair flow over the HTTP handlers, with the PIN arriving via
// the management API the way the host UI supplies it.
func TestPairHandlerPhase1WithManagementPIN(t *testing.T) {
	cfg := config.Default()
	s := testServer(t, cfg)
	mgmt := NewManagementServer(s.cache, s.bus, nil)

	_, clientCert := testIdentity(t, "client")
	clientCertHex := cryptoutil.BytesToHex(cryptoutil.PEMFromX509(clientCert))
	saltHex := cryptoutil.BytesToHex([]byte("0123456789abcdef"))

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		req := httptest.NewRequest(http.MethodGet,
			"/pair?uniqueid=001122&salt="+saltHex+"&clientcert="+clientCertHex, nil)
		req.RemoteAddr = "172.16.5.5:6000"
		w := httptest.NewRecorder()
		s.PairHandler(w, req)
		done <- w
	}()

	// Poll the management API until the pending request surfaces.
	var secret string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && secret == "" {
		w := httptest.NewRecorder()
		mgmt.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/pair/pending", nil))
		body := w.Body.String()
		if idx := strings.Index(body, `"pair_secret":"`); idx >= 0 {
			rest := body[idx+len(`"pair_secret":"`):]
			secret = rest[:strings.Index(rest, `"`)]
		}
		time.Sleep(time.Millisecond)
	}
	require.NotEmpty(t, secret, "pending pair request never surfaced")

	w := httptest.NewRecorder()
	mgmt.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/pair/client",
		strings.NewReader(`{"pair_secret":"`+secret+`","pin":"4321"}`)))
	require.Equal(t, http.StatusOK, w.Code)

	resp := <-done
	body := resp.Body.String()
	assert.Contains(t, body, "<paired>1</paired>")
	assert.Contains(t, body, "<plaincert>")
}

// Murmur2 known-answer vector.
func TestStringHash32(t *testing.T) {
	assert.Equal(t, uint32(3248653424), stringHash32("input"))
}
