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

package control

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gowolf/streamhost/eventbus"
	"github.com/gowolf/streamhost/session"
)

// DefaultMaxPeers is the default number of concurrently connected
// control peers the listener accepts.
const DefaultMaxPeers = 20

// recvTimeout bounds how long the accept loop blocks on a single
// ReadFrom call, so a StopStreamEvent can make every bound task drain
// and exit within a bounded time on shutdown.
const recvTimeout = 1 * time.Second

// Listener accepts control datagrams for every live session on one
// shared UDP socket, dispatching each to the Peer bound to the
// originating session's registry entry.
type Listener struct {
	conn     net.PacketConn
	registry *Registry
	bus      *eventbus.Bus
	maxPeers int

	stop chan struct{}
	once sync.Once
}

// Registry resolves an incoming datagram's session, by source IP, to
// its Peer. session.Registry doesn't itself know control.Peer (which
// would make session depend on control), so cmd/hostd wires
// StreamSession IDs to Peers through this small adapter.
type Registry struct {
	mu    sync.Mutex
	peers map[uint32]*Peer
	byIP  map[string]uint32
}

// NewRegistry builds an empty control-peer registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[uint32]*Peer), byIP: make(map[string]uint32)}
}

// Bind associates sessionID (and its client IP) with peer, called once
// the RTSP negotiation finishes ANNOUNCE and the control session is
// ready to accept traffic.
func (r *Registry) Bind(sessionID uint32, clientIP net.IP, peer *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[sessionID] = peer
	r.byIP[clientIP.String()] = sessionID
}

// Unbind removes a session's peer, e.g. on termination.
func (r *Registry) Unbind(sessionID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, sessionID)
	for ip, id := range r.byIP {
		if id == sessionID {
			delete(r.byIP, ip)
		}
	}
}

func (r *Registry) peerForIP(ip net.IP) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byIP[ip.String()]
	if !ok {
		return nil
	}
	return r.peers[id]
}

// NewListener wraps conn, dispatching datagrams to peers bound to reg.
func NewListener(conn net.PacketConn, reg *Registry, bus *eventbus.Bus) *Listener {
	return &Listener{conn: conn, registry: reg, bus: bus, maxPeers: DefaultMaxPeers, stop: make(chan struct{})}
}

// Serve runs the accept loop until Stop is called. One task services
// this loop; individual session work fans out to each Peer's
// HandleIncoming, which is safe to call concurrently per Peer.
func (l *Listener) Serve() {
	buf := make([]byte, 2048)
	for {
		select {
		case <-l.stop:
			return
		default:
		}

		if dl, ok := l.conn.(interface{ SetReadDeadline(time.Time) error }); ok {
			dl.SetReadDeadline(time.Now().Add(recvTimeout))
		}

		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			log.Debug().Err(err).Msg("control: recv error")
			continue
		}

		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		peer := l.registry.peerForIP(udpAddr.IP)
		if peer == nil {
			continue
		}

		datagram := append([]byte(nil), buf[:n]...)
		go peer.HandleIncoming(datagram, addr)
	}
}

// Stop terminates Serve.
func (l *Listener) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// NewSessionPeer is a convenience constructor wiring a fresh Peer for
// sess into reg, bound to this listener's socket for replies. It returns
// nil without binding when maxPeers other sessions are already bound.
func (l *Listener) NewSessionPeer(sess *session.StreamSession) *Peer {
	l.registry.mu.Lock()
	_, rebinding := l.registry.peers[sess.ID]
	full := !rebinding && len(l.registry.peers) >= l.maxPeers
	l.registry.mu.Unlock()
	if full {
		log.Warn().Uint32("session", sess.ID).Int("max_peers", l.maxPeers).Msg("control: peer limit reached, session not bound")
		return nil
	}
	peer := NewPeer(sess, l.bus, l.conn)
	l.registry.Bind(sess.ID, sess.ClientIP, peer)
	return peer
}
