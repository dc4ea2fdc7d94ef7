// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package config holds the on-disk configuration shape for the host
// daemon and its flags-then-file override loader.
package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// GstreamerPipeline carries the opaque encoder pipeline descriptors
// consumed by the out-of-scope media components.
type GstreamerPipeline struct {
	Video string `json:"video" mapstructure:"video"`
	Audio string `json:"audio" mapstructure:"audio"`
}

// Config is the full internal configuration object for the daemon.
type Config struct {
	Hostname         string       `json:"hostname"`
	UUID             string       `json:"uuid"`
	BasePort         int          `json:"base_port"`
	SupportHEVC      bool         `json:"support_hevc"`
	SupportAV1       bool         `json:"support_av1"`
	ExternalIP       string       `json:"external_ip"`
	LocalIP          string       `json:"local_ip"`
	MAC              string       `json:"mac"`
	CertPath         string       `json:"cert_path"`
	KeyPath          string       `json:"key_path"`
	StateDir         string       `json:"state_dir"`
	ManagementSocket string       `json:"management_socket"`

	PairedClients []PairedClientConfig `json:"paired_clients"`
	Apps          []AppConfig          `json:"apps"`
	Gstreamer     GstreamerPipeline    `json:"gstreamer"`
	DisplayModes  []DisplayModeConfig  `json:"display_modes"`

	// PairRateLimitPerMinute bounds /pair attempts per client IP,
	// limiting brute force over the 4-digit PIN space.
	PairRateLimitPerMinute int `json:"pair_rate_limit_per_minute"`
}

// PairedClientConfig is the persisted form of pairing.PairedClient.
type PairedClientConfig struct {
	CertPEM   string               `json:"cert_pem"`
	StateDir  string               `json:"state_dir"`
	RunUID    int                  `json:"run_uid"`
	RunGID    int                  `json:"run_gid"`
	AxisScale map[string]float64   `json:"axis_scale"`
	Overrides []string             `json:"controller_overrides"`
}

// AppConfig is the persisted form of catalog.App.
type AppConfig struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	HDR      bool   `json:"hdr"`
	IconPath string `json:"icon_path"`

	RunnerKind string `json:"runner_kind"` // "command" | "container" | "child_session"
	Command    string `json:"command,omitempty"`
	Container  string `json:"container,omitempty"`
	ChildApp   string `json:"child_app,omitempty"`
}

// DisplayModeConfig is one advertised width/height/refresh triple.
type DisplayModeConfig struct {
	Width       int `json:"width"`
	Height      int `json:"height"`
	RefreshRate int `json:"refresh_rate"`
}

// Default returns the defaults the CLI flags fall back to when no
// -c config.json is given.
func Default() *Config {
	return &Config{
		Hostname:               "gowolf",
		BasePort:               47989,
		PairRateLimitPerMinute: 6,
	}
}

// Load reads path as JSON and overrides the fields of cfg in place:
// fields absent from the file keep cfg's existing (CLI-flag-derived)
// values.
func Load(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "config: open")
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return errors.Wrap(err, "config: decode")
	}
	return nil
}

// Ports is the derived port layout, all fixed offsets from BasePort.
type Ports struct {
	HTTPS   int
	HTTP    int
	Video   int
	Control int
	Audio   int
	RTSP    int
}

// DerivePorts computes the fixed offset layout for a given base port.
func DerivePorts(basePort int) Ports {
	return Ports{
		HTTPS:   basePort - 5,
		HTTP:    basePort,
		Video:   basePort + 9,
		Control: basePort + 10,
		Audio:   basePort + 11,
		RTSP:    basePort + 21,
	}
}
