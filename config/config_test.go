package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverridesOnlyFieldsPresentInFile(t *testing.T) {
	cfg := Default()
	cfg.Hostname = "from-flags"
	cfg.BasePort = 50000

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"hostname":"from-file","support_hevc":true}`), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Load(cfg, path); err != nil {
		t.Fatal(err)
	}
	if cfg.Hostname != "from-file" {
		t.Fatalf("hostname: want from-file got %s", cfg.Hostname)
	}
	if !cfg.SupportHEVC {
		t.Fatal("support_hevc must be overridden to true")
	}
	if cfg.BasePort != 50000 {
		t.Fatalf("base_port absent from file must keep flag value, got %d", cfg.BasePort)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg := Default()
	if err := Load(cfg, filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("want error for missing config file")
	}
}

func TestDerivePortsOffsets(t *testing.T) {
	p := DerivePorts(47989)
	if p.HTTPS != 47984 || p.HTTP != 47989 || p.Video != 47998 ||
		p.Control != 47999 || p.Audio != 48000 || p.RTSP != 48010 {
		t.Fatalf("wrong port layout: %+v", p)
	}
}
