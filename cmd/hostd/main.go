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

package main

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/gowolf/streamhost/apiserver"
	"github.com/gowolf/streamhost/catalog"
	"github.com/gowolf/streamhost/config"
	"github.com/gowolf/streamhost/control"
	"github.com/gowolf/streamhost/cryptoutil"
	"github.com/gowolf/streamhost/eventbus"
	"github.com/gowolf/streamhost/pairing"
	"github.com/gowolf/streamhost/rtsp"
	"github.com/gowolf/streamhost/session"
	"github.com/gowolf/streamhost/wirestats"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		// Enable timestamps + file:line to simplify debugging self-built binaries.
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "hostd"
	myApp.Usage = "game-streaming host daemon"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "hostname",
			Value: "gowolf",
			Usage: "hostname advertised to clients in /serverinfo",
		},
		cli.StringFlag{
			Name:  "uuid",
			Value: "",
			Usage: "host uuid, generated when empty",
		},
		cli.IntFlag{
			Name:  "baseport,p",
			Value: 47989,
			Usage: "base port; HTTPS/RTP/control/RTSP ports derive from fixed offsets",
		},
		cli.StringFlag{
			Name:  "cert",
			Value: "",
			Usage: "path to the host PEM certificate, self-signed one generated when empty",
		},
		cli.StringFlag{
			Name:  "key",
			Value: "",
			Usage: "path to the host PEM private key",
		},
		cli.StringFlag{
			Name:  "statedir",
			Value: ".",
			Usage: "directory for per-client state",
		},
		cli.StringFlag{
			Name:  "management-socket,m",
			Value: "/tmp/hostd.sock",
			Usage: "unix-domain socket path for the management API",
		},
		cli.IntFlag{
			Name:  "statsperiod",
			Value: 60,
			Usage: "seconds between wire-counter log flushes, 0 to disable",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config file in json format, flags are overridden by file fields",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		cfg := config.Default()
		cfg.Hostname = c.String("hostname")
		cfg.UUID = c.String("uuid")
		cfg.BasePort = c.Int("baseport")
		cfg.CertPath = c.String("cert")
		cfg.KeyPath = c.String("key")
		cfg.StateDir = c.String("statedir")
		cfg.ManagementSocket = c.String("management-socket")

		if c.String("c") != "" {
			// Only JSON configuration files are supported at the moment.
			err := config.Load(cfg, c.String("c"))
			checkError(err)
		}

		if cfg.UUID == "" {
			cfg.UUID = fmt.Sprintf("%08x", time.Now().UnixNano())
		}

		serverKey, serverCert, err := loadOrGenerateIdentity(cfg)
		checkError(err)

		ports := config.DerivePorts(cfg.BasePort)
		log.Println("version:", VERSION)
		log.Println("hostname:", cfg.Hostname)
		log.Println("uuid:", cfg.UUID)
		log.Println("http port:", ports.HTTP)
		log.Println("https port:", ports.HTTPS)
		log.Println("rtsp port:", ports.RTSP)
		log.Println("control port:", ports.Control)
		log.Println("video/audio ports:", ports.Video, ports.Audio)
		log.Println("management socket:", cfg.ManagementSocket)

		bus := &eventbus.Bus{}

		store := pairing.NewStore()
		store.LoadAll(pairedClientsFromConfig(cfg))
		cache := pairing.NewCache()
		machine := pairing.NewMachine(store, cache, serverKey, serverCert)

		cat := catalog.New(catalog.FromConfig(cfg.Apps, cfg.Gstreamer))
		registry := session.NewRegistry(ports, bus)

		stats := wirestats.New()
		defer stats.Attach(bus)()

		api := apiserver.NewServer(cfg, store, cache, machine, registry, cat, bus, serverKey, serverCert)

		httpLn, err := net.Listen("tcp", fmt.Sprintf(":%d", ports.HTTP))
		checkError(err)
		httpsLn, err := tls.Listen("tcp", fmt.Sprintf(":%d", ports.HTTPS), api.TLSConfig())
		checkError(err)
		rtspLn, err := net.Listen("tcp", fmt.Sprintf(":%d", ports.RTSP))
		checkError(err)
		controlConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: ports.Control})
		checkError(err)

		mgmt := apiserver.NewManagementServer(cache, bus, stats.Handler())
		mgmtLn, err := mgmt.Listen(cfg.ManagementSocket)
		checkError(err)

		controlReg := control.NewRegistry()
		controlLst := control.NewListener(controlConn, controlReg, bus)
		rtspSrv := rtsp.NewServer(rtspLn, registry, bus, cfg.SupportHEVC)

		// ControlSessionOpening from the RTSP negotiator binds the
		// session's control peer; StreamStop unbinds it.
		bus.Subscribe(func(ev eventbus.Event) {
			switch ev.Kind {
			case eventbus.ControlSessionOpening:
				if sess, ok := registry.LookupByID(ev.SessionID); ok {
					controlLst.NewSessionPeer(sess)
				}
			case eventbus.StreamStop:
				controlReg.Unbind(ev.SessionID)
			}
		})

		stop := make(chan struct{})
		go stats.LogLoop(time.Duration(c.Int("statsperiod"))*time.Second, stop)

		errCh := make(chan error, 4)
		go func() { errCh <- http.Serve(httpLn, api.HTTPHandler()) }()
		go func() { errCh <- http.Serve(httpsLn, api.HTTPSHandler()) }()
		go func() { errCh <- rtspSrv.Serve() }()
		go func() { errCh <- mgmt.Serve(mgmtLn) }()
		go controlLst.Serve()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case s := <-sig:
			log.Println("signal:", s)
		case err := <-errCh:
			color.Red("listener failed: %v", err)
		}

		// Cascade shutdown: stop every live session, then close the
		// listeners so the serve loops drain within the recv timeout.
		for _, sess := range registry.All() {
			registry.Remove(sess.ID)
		}
		close(stop)
		controlLst.Stop()
		httpLn.Close()
		httpsLn.Close()
		rtspLn.Close()
		controlConn.Close()
		mgmtLn.Close()
		os.Remove(cfg.ManagementSocket)
		return nil
	}
	myApp.Run(os.Args)
}

// loadOrGenerateIdentity loads the host key pair from the configured
// paths or mints a fresh self-signed identity when none is configured,
// warning that pairings will not survive a restart without persisted
// certs.
func loadOrGenerateIdentity(cfg *config.Config) (*rsa.PrivateKey, *x509.Certificate, error) {
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		color.Yellow("no cert/key configured, generating an ephemeral host identity; paired clients will not survive a restart")
		return cryptoutil.GenerateHostIdentity(2048)
	}

	certPEM, err := os.ReadFile(cfg.CertPath)
	if err != nil {
		return nil, nil, err
	}
	keyPEM, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, nil, err
	}
	cert, err := cryptoutil.X509FromPEM(certPEM)
	if err != nil {
		return nil, nil, err
	}
	key, err := cryptoutil.KeyFromPEM(keyPEM)
	if err != nil {
		return nil, nil, err
	}
	return key, cert, nil
}

// pairedClientsFromConfig parses the persisted paired-client PEMs,
// skipping entries whose certificate no longer parses.
func pairedClientsFromConfig(cfg *config.Config) []pairing.PairedClient {
	clients := make([]pairing.PairedClient, 0, len(cfg.PairedClients))
	for _, pc := range cfg.PairedClients {
		cert, err := cryptoutil.X509FromPEM([]byte(pc.CertPEM))
		if err != nil {
			color.Yellow("skipping paired client with unparseable certificate: %v", err)
			continue
		}
		clients = append(clients, pairing.PairedClient{
			CertPEM:  pc.CertPEM,
			Cert:     cert,
			StateDir: pc.StateDir,
			Settings: pairing.ClientSettings{
				RunUID:    pc.RunUID,
				RunGID:    pc.RunGID,
				AxisScale: pc.AxisScale,
				Overrides: pc.Overrides,
			},
		})
	}
	return clients
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
