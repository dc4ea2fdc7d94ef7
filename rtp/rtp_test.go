package rtp

import (
	"encoding/binary"
	"testing"

	"github.com/gowolf/streamhost/cryptoutil"
	"github.com/gowolf/streamhost/fec"
)

func TestHeaderMarshal(t *testing.T) {
	h := Header{PacketType: PayloadTypeVideo, Sequence: 7, Timestamp: 1000}
	buf := h.Marshal()
	if len(buf) != HeaderSize {
		t.Fatalf("want %d bytes got %d", HeaderSize, len(buf))
	}
	if buf[0] != 0x80 || buf[1] != PayloadTypeVideo {
		t.Fatalf("unexpected flags/type: %x", buf[:2])
	}
	if binary.BigEndian.Uint16(buf[2:4]) != 7 {
		t.Fatalf("want seq 7 got %d", binary.BigEndian.Uint16(buf[2:4]))
	}
	if binary.BigEndian.Uint32(buf[4:8]) != 1000 {
		t.Fatalf("want ts 1000 got %d", binary.BigEndian.Uint32(buf[4:8]))
	}
}

func TestDerivePacketIV(t *testing.T) {
	var sessionIV [16]byte
	sessionIV[0], sessionIV[1], sessionIV[2], sessionIV[3] = 0, 0, 0, 5
	iv := DerivePacketIV(sessionIV, 3)
	if got := binary.BigEndian.Uint32(iv[0:4]); got != 8 {
		t.Fatalf("want base+seq=8 got %d", got)
	}
	for _, b := range iv[4:] {
		if b != 0 {
			t.Fatalf("expected zero-padded tail, got %x", iv)
		}
	}
}

type sinkSender struct {
	packets [][]byte
}

func (s *sinkSender) Send(pkt []byte) error {
	s.packets = append(s.packets, append([]byte(nil), pkt...))
	return nil
}

func TestVideoPacketizeFrameFragmentsAndFEC(t *testing.T) {
	var key, iv [16]byte
	for i := range key {
		key[i] = byte(i)
		iv[i] = byte(i * 2)
	}
	seq := uint16(0)
	next := func() uint16 { v := seq; seq++; return v }

	cfg := VideoPipelineConfig{PayloadSize: 16, FECPercentage: 20, MinRequiredFECPackets: 1}
	p := NewVideoPacketizer(cfg, key, iv, next)

	frame := make([]byte, 50) // 4 data shards at payload size 16
	for i := range frame {
		frame[i] = byte(i)
	}

	sink := &sinkSender{}
	if err := p.PacketizeFrame(frame, sink); err != nil {
		t.Fatalf("packetize: %v", err)
	}

	wantData := 4
	wantFEC := fec.VideoFECShards(wantData, cfg.MinRequiredFECPackets, cfg.FECPercentage)
	if len(sink.packets) != wantData+wantFEC {
		t.Fatalf("want %d packets got %d", wantData+wantFEC, len(sink.packets))
	}
	for _, pkt := range sink.packets {
		if len(pkt) < HeaderSize+reservedRegionSize {
			t.Fatalf("packet too short: %d", len(pkt))
		}
		if pkt[1] != PayloadTypeVideo {
			t.Fatalf("want payload type %d got %d", PayloadTypeVideo, pkt[1])
		}
	}
}

func TestAudioPacketizerEmitsFECEveryFourthPacket(t *testing.T) {
	var key, iv [16]byte
	for i := range key {
		key[i] = byte(i + 1)
		iv[i] = byte(i + 2)
	}
	seq := uint16(0)
	next := func() uint16 { v := seq; seq++; return v }

	p, err := NewAudioPacketizer(AudioPipelineConfig{PacketDurationMS: 5}, key, iv, next)
	if err != nil {
		t.Fatalf("new packetizer: %v", err)
	}

	sink := &sinkSender{}
	frame := make([]byte, 20)
	for i := 0; i < 3; i++ {
		if err := p.PacketizeFrame(frame, sink); err != nil {
			t.Fatalf("packetize %d: %v", i, err)
		}
	}
	if len(sink.packets) != 3 {
		t.Fatalf("want 3 data-only packets after 3 frames, got %d", len(sink.packets))
	}

	if err := p.PacketizeFrame(frame, sink); err != nil {
		t.Fatalf("packetize 4th: %v", err)
	}
	// After data seq 0,1,2,3 the 4th frame's emission is the
	// data packet plus 2 FEC packets.
	if len(sink.packets) != 6 {
		t.Fatalf("want 6 total packets (4 data + 2 FEC) got %d", len(sink.packets))
	}
	last := sink.packets[len(sink.packets)-1]
	if last[1] != PayloadTypeAudioFEC {
		t.Fatalf("want last packet payload type %d got %d", PayloadTypeAudioFEC, last[1])
	}
	secondLast := sink.packets[len(sink.packets)-2]
	if secondLast[1] != PayloadTypeAudioFEC {
		t.Fatalf("want second-to-last packet payload type %d got %d", PayloadTypeAudioFEC, secondLast[1])
	}

	// The first FEC packet (seq=4, shard 0) carries the 12-byte FEC
	// header before the parity bytes: shard index, payload type, base
	// sequence 0 and base timestamp 0*duration, ssrc 0.
	plain, err := cryptoutil.DecryptCBC(secondLast[HeaderSize:], key[:], DerivePacketIV(iv, 4), true)
	if err != nil {
		t.Fatalf("decrypt FEC payload: %v", err)
	}
	wantHeader := []byte{0, PayloadTypeAudioFEC, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	if len(plain) < len(wantHeader) {
		t.Fatalf("FEC payload too short: %d bytes", len(plain))
	}
	for i, b := range wantHeader {
		if plain[i] != b {
			t.Fatalf("FEC header byte %d: want %#x got %#x", i, b, plain[i])
		}
	}
}

func TestAudioDataPacketDecryptsRoundTrip(t *testing.T) {
	var key, iv [16]byte
	for i := range key {
		key[i] = byte(i)
	}
	seq := uint16(0)
	next := func() uint16 { v := seq; seq++; return v }
	p, err := NewAudioPacketizer(AudioPipelineConfig{PacketDurationMS: 5}, key, iv, next)
	if err != nil {
		t.Fatal(err)
	}
	sink := &sinkSender{}
	frame := []byte("0123456789abcdef")
	if err := p.PacketizeFrame(frame, sink); err != nil {
		t.Fatal(err)
	}
	pkt := sink.packets[0]
	ciphertext := pkt[HeaderSize:]
	packetIV := DerivePacketIV(iv, 0)
	plain, err := cryptoutil.DecryptCBC(ciphertext, key[:], packetIV, true)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(plain) != string(frame) {
		t.Fatalf("want %q got %q", frame, plain)
	}
}
