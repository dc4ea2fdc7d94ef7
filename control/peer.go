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

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/gowolf/streamhost/eventbus"
	"github.com/gowolf/streamhost/session"
)

// ErrSequenceExhausted is returned by Peer.Send once the control
// channel's 32-bit GCM sequence has wrapped.
var ErrSequenceExhausted = errors.New("control: GCM sequence exhausted, session terminated")

// errPeerNotBound is returned by Peer.Send before any datagram has
// been received from the client, so no destination address is known
// yet.
var errPeerNotBound = errors.New("control: peer address not yet known")

// Peer is the live wire state of one session's control channel:
// current peer address, last-received sequence,
// and the session's key material.
type Peer struct {
	sess *session.StreamSession
	bus  *eventbus.Bus
	conn net.PacketConn

	mu          sync.Mutex
	addr        net.Addr
	hasIncoming bool
	lastIn      uint32
	hasOutgoing bool
	lastOut     uint32
	fatal       bool
}

// NewPeer builds a Peer bound to sess, publishing lifecycle events on
// bus and sending replies over conn.
func NewPeer(sess *session.StreamSession, bus *eventbus.Bus, conn net.PacketConn) *Peer {
	return &Peer{sess: sess, bus: bus, conn: conn}
}

// Bind records the peer's observed source address, e.g. on first
// receipt, and publishes SessionConnected.
func (p *Peer) Bind(addr net.Addr) {
	p.mu.Lock()
	fresh := p.addr == nil
	p.addr = addr
	p.mu.Unlock()
	if fresh {
		p.bus.Publish(eventbus.Event{Kind: eventbus.SessionConnected, SessionID: p.sess.ID})
	}
}

// HandleIncoming decrypts and dispatches one datagram. Packets whose
// tag fails to verify are dropped; packets
// with an unknown inner type are dropped likewise; packets whose
// sequence is not strictly newer than the last accepted one are
// dropped as duplicates.
func (p *Peer) HandleIncoming(raw []byte, from net.Addr) {
	p.Bind(from)

	frame, err := DecodeFrame(raw, p.sess.AESKey[:])
	if err != nil {
		log.Warn().Uint32("session", p.sess.ID).Err(err).Msg("control: dropping packet")
		return
	}

	p.mu.Lock()
	if p.hasIncoming && frame.Seq <= p.lastIn {
		p.mu.Unlock()
		log.Debug().Uint32("session", p.sess.ID).Uint32("seq", frame.Seq).Msg("control: duplicate packet dropped")
		return
	}
	p.hasIncoming = true
	p.lastIn = frame.Seq
	p.mu.Unlock()

	p.dispatch(frame)
}

func (p *Peer) dispatch(frame DecodedFrame) {
	switch frame.InnerType {
	case PacketInputData:
		ev, err := DecodeInputPacket(frame.Payload)
		if err != nil {
			log.Warn().Uint32("session", p.sess.ID).Err(err).Msg("control: malformed input packet")
			return
		}
		p.bus.Publish(eventbus.Event{Kind: eventbus.InputReceived, SessionID: p.sess.ID, Payload: ev})
	case PacketLossStats:
		p.bus.Publish(eventbus.Event{Kind: eventbus.LossStats, SessionID: p.sess.ID, Payload: frame.Payload})
	case PacketFrameStats:
		p.bus.Publish(eventbus.Event{Kind: eventbus.FrameStats, SessionID: p.sess.ID, Payload: frame.Payload})
	case PacketTermination:
		p.bus.Publish(eventbus.Event{Kind: eventbus.StreamStop, SessionID: p.sess.ID})
	case PacketPeriodicPing:
		// no-op keepalive
	case PacketStartA, PacketStartB:
		p.bus.Publish(eventbus.Event{Kind: eventbus.SessionConnected, SessionID: p.sess.ID})
	}
}

// Send encrypts and transmits one application message to the peer,
// using the session's own monotonic GCM sequence counter. If the
// 32-bit sequence has just wrapped, the send is refused and a
// SessionFatal event is published instead.
func (p *Peer) Send(innerType uint16, payload []byte) error {
	seq := p.sess.NextControlSeq()

	p.mu.Lock()
	if p.hasOutgoing && seq < p.lastOut {
		p.fatal = true
		p.mu.Unlock()
		p.bus.Publish(eventbus.Event{Kind: eventbus.SessionFatal, SessionID: p.sess.ID, Reason: "control GCM sequence wrapped"})
		return ErrSequenceExhausted
	}
	if p.fatal {
		p.mu.Unlock()
		return ErrSequenceExhausted
	}
	p.hasOutgoing = true
	p.lastOut = seq
	addr := p.addr
	p.mu.Unlock()

	if addr == nil {
		return errPeerNotBound
	}

	frame, err := EncodeFrame(p.sess.AESKey[:], seq, innerType, payload)
	if err != nil {
		return err
	}
	_, err = p.conn.WriteTo(frame, addr)
	return err
}
