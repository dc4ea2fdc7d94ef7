package apiserver

import (
	"net/http"
)

const (
	appVersion = "7.1.431.0"
	gfeVersion = "3.23.0.74"

	serverStateFree = "SUNSHINE_SERVER_FREE"
	serverStateBusy = "SUNSHINE_SERVER_BUSY"
)

type displayModeXML struct {
	Width       int `xml:"Width"`
	Height      int `xml:"Height"`
	RefreshRate int `xml:"RefreshRate"`
}

type serverInfoXML struct {
	Hostname               string           `xml:"hostname"`
	AppVersion             string           `xml:"appversion"`
	GfeVersion             string           `xml:"GfeVersion"`
	UniqueID               string           `xml:"uniqueid"`
	MaxLumaPixelsHEVC      int              `xml:"MaxLumaPixelsHEVC"`
	ServerCodecModeSupport string           `xml:"ServerCodecModeSupport"`
	HTTPSPort              int              `xml:"HttpsPort"`
	ExternalPort           int              `xml:"ExternalPort"`
	MAC                    string           `xml:"mac"`
	ExternalIP             string           `xml:"ExternalIP"`
	LocalIP                string           `xml:"LocalIP"`
	DisplayModes           []displayModeXML `xml:"SupportedDisplayMode>DisplayMode"`
	PairStatus             int              `xml:"PairStatus"`
	CurrentGame            string           `xml:"currentgame"`
	State                  string           `xml:"state"`
}

// maxLumaPixelsHEVC is the fixed value Moonlight hosts advertise for
// 4K HEVC support.
const maxLumaPixelsHEVC = 1869449984

// ServerInfoHandler serves GET /serverinfo: pair status, app/codec
// metadata, ports, and advertised display modes. Pair status comes from
// the TLS client certificate checked against the store; the supplied
// uniqueid is only echoed back and is not looked up, so a request
// without a client certificate (plain HTTP) reports PairStatus 0.
func (s *Server) ServerInfoHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uniqueID := q.Get("uniqueid")
	currentGame := q.Get("currentgame")

	pairStatus := 0
	if len(s.store.All()) > 0 {
		if cert, ok := s.clientCertFromRequest(r); ok {
			if s.store.IsPaired(cert) {
				pairStatus = 1
			}
		}
	}

	state := serverStateFree
	if _, ok := s.registry.LookupByIP(clientIPFromRequest(r)); ok {
		state = serverStateBusy
	}

	modes := make([]displayModeXML, 0, len(s.cfg.DisplayModes))
	for _, m := range s.cfg.DisplayModes {
		modes = append(modes, displayModeXML{Width: m.Width, Height: m.Height, RefreshRate: m.RefreshRate})
	}

	codecSupport := "1"
	if s.cfg.SupportHEVC {
		codecSupport = "3"
	}
	if s.cfg.SupportAV1 {
		codecSupport = "7"
	}

	info := serverInfoXML{
		Hostname:               s.cfg.Hostname,
		AppVersion:             appVersion,
		GfeVersion:             gfeVersion,
		UniqueID:               uniqueID,
		MaxLumaPixelsHEVC:      maxLumaPixelsHEVC,
		ServerCodecModeSupport: codecSupport,
		HTTPSPort:              s.ports.HTTPS,
		ExternalPort:           s.cfg.BasePort,
		MAC:                    s.cfg.MAC,
		ExternalIP:             s.cfg.ExternalIP,
		LocalIP:                s.cfg.LocalIP,
		DisplayModes:           modes,
		PairStatus:             pairStatus,
		CurrentGame:            currentGame,
		State:                  state,
	}
	writeXML(w, StatusOK, info)
}
