package control

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gowolf/streamhost/eventbus"
	"github.com/gowolf/streamhost/session"
)

// fakePacketConn records written datagrams; reads are unused in these
// tests.
type fakePacketConn struct {
	mu     sync.Mutex
	writes [][]byte
}

func (f *fakePacketConn) ReadFrom(p []byte) (int, net.Addr, error) { select {} }
func (f *fakePacketConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}
func (f *fakePacketConn) Close() error                       { return nil }
func (f *fakePacketConn) LocalAddr() net.Addr                { return &net.UDPAddr{} }
func (f *fakePacketConn) SetDeadline(t time.Time) error      { return nil }
func (f *fakePacketConn) SetReadDeadline(t time.Time) error  { return nil }
func (f *fakePacketConn) SetWriteDeadline(t time.Time) error { return nil }

func testPeer(t *testing.T) (*Peer, *session.StreamSession, *eventbus.Bus, *fakePacketConn) {
	t.Helper()
	bus := &eventbus.Bus{}
	sess := &session.StreamSession{ID: 1, ClientIP: net.ParseIP("10.0.0.1")}
	for i := range sess.AESKey {
		sess.AESKey[i] = byte(i)
	}
	conn := &fakePacketConn{}
	return NewPeer(sess, bus, conn), sess, bus, conn
}

func TestHandleIncomingDropsDuplicateSeq(t *testing.T) {
	peer, sess, bus, _ := testPeer(t)

	var pings, stops int
	bus.Subscribe(func(ev eventbus.Event) {
		switch ev.Kind {
		case eventbus.StreamStop:
			stops++
		case eventbus.SessionConnected:
			pings++
		}
	})

	from := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 40000}
	frame, err := EncodeFrame(sess.AESKey[:], 5, PacketTermination, nil)
	if err != nil {
		t.Fatal(err)
	}
	peer.HandleIncoming(frame, from)
	peer.HandleIncoming(frame, from)

	if stops != 1 {
		t.Fatalf("duplicate seq must dispatch once, got %d StreamStop events", stops)
	}
	if pings != 1 {
		t.Fatalf("first datagram must bind the peer and publish SessionConnected once, got %d", pings)
	}
}

func TestHandleIncomingDropsBadTag(t *testing.T) {
	peer, sess, bus, _ := testPeer(t)

	dispatched := false
	bus.Subscribe(func(ev eventbus.Event) {
		if ev.Kind == eventbus.StreamStop {
			dispatched = true
		}
	})

	from := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 40000}
	frame, err := EncodeFrame(sess.AESKey[:], 0, PacketTermination, nil)
	if err != nil {
		t.Fatal(err)
	}
	frame[len(frame)-1] ^= 0xFF
	peer.HandleIncoming(frame, from)

	if dispatched {
		t.Fatal("tampered frame must be dropped")
	}
}

func TestSendFramesWithMonotonicSeq(t *testing.T) {
	peer, sess, _, conn := testPeer(t)
	peer.Bind(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 40000})

	if err := peer.Send(PacketPeriodicPing, nil); err != nil {
		t.Fatal(err)
	}
	if err := peer.Send(PacketPeriodicPing, nil); err != nil {
		t.Fatal(err)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.writes) != 2 {
		t.Fatalf("want 2 datagrams, got %d", len(conn.writes))
	}
	for i, raw := range conn.writes {
		frame, err := DecodeFrame(raw, sess.AESKey[:])
		if err != nil {
			t.Fatalf("datagram %d: %v", i, err)
		}
		if frame.Seq != uint32(i) {
			t.Fatalf("datagram %d: want seq %d got %d", i, i, frame.Seq)
		}
		if frame.InnerType != PacketPeriodicPing {
			t.Fatalf("datagram %d: wrong inner type %04x", i, frame.InnerType)
		}
	}
}

func TestSendBeforeBindFails(t *testing.T) {
	peer, _, _, _ := testPeer(t)
	if err := peer.Send(PacketPeriodicPing, nil); err == nil {
		t.Fatal("send without a bound peer address must fail")
	}
}
