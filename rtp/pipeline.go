package rtp

import (
	"net"

	"github.com/rs/zerolog/log"
)

// Packetizer is the shared shape of the video and audio packetizers:
// one encoded frame in, one or more RTP datagrams out through send.
type Packetizer interface {
	PacketizeFrame(frame []byte, send Sender) error
}

// UDPSender emits each packet as a datagram to a fixed client
// endpoint.
type UDPSender struct {
	Conn *net.UDPConn
	Dst  *net.UDPAddr
}

// Send writes pkt to the sender's destination.
func (u UDPSender) Send(pkt []byte) error {
	_, err := u.Conn.WriteToUDP(pkt, u.Dst)
	return err
}

// Pipeline is one stream's long-lived send task: it drains encoded
// frames from the external encoder's output channel and packetizes
// each one, until the frame channel closes or stop is signalled. One
// Pipeline runs per session per stream kind.
type Pipeline struct {
	SessionID uint32
	Packetize Packetizer
	Send      Sender
}

// Run blocks until frames closes or stop is closed. Per-frame errors
// are logged and the frame dropped; transient send failures must not
// kill the stream.
func (p *Pipeline) Run(frames <-chan []byte, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := p.Packetize.PacketizeFrame(frame, p.Send); err != nil {
				log.Debug().Uint32("session", p.SessionID).Err(err).Msg("rtp: frame dropped")
			}
		}
	}
}
