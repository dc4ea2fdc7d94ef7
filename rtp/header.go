// Package rtp implements the video and audio RTP packetizer:
// fragmentation, FEC shard insertion, the 12-byte RTP header shared by
// both pipelines, per-packet IV derivation and AES-CBC payload
// encryption.
package rtp

import "encoding/binary"

// HeaderSize is the fixed 12-byte RTP header size.
const HeaderSize = 12

// Payload type values used on the wire.
const (
	PayloadTypeVideo    = 97
	PayloadTypeAudio    = 97
	PayloadTypeAudioFEC = 127
)

// Header is the 12-byte RTP header shared by both pipelines: flags
// 0x80, packetType, sequence (big-endian u16), timestamp (big-endian
// u32), ssrc=0.
type Header struct {
	PacketType byte
	Sequence   uint16
	Timestamp  uint32
}

// Marshal renders h as the 12-byte on-wire RTP header.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = 0x80
	buf[1] = h.PacketType
	binary.BigEndian.PutUint16(buf[2:4], h.Sequence)
	binary.BigEndian.PutUint32(buf[4:8], h.Timestamp)
	// buf[8:12] ssrc, left zero.
	return buf
}

// Sender abstracts the UDP transmit step so tests can substitute an
// in-memory sink for a live socket.
type Sender interface {
	Send(pkt []byte) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(pkt []byte) error

// Send implements Sender.
func (f SenderFunc) Send(pkt []byte) error { return f(pkt) }

// DerivePacketIV builds the 16-byte AES-CBC IV used to encrypt one
// RTP packet's payload: the first 4 bytes of the session's AES
// IV, interpreted as a big-endian u32, plus the current sequence
// number, re-serialized big-endian and zero-padded to 16 bytes.
func DerivePacketIV(sessionIV [16]byte, curSeqNumber uint32) []byte {
	base := binary.BigEndian.Uint32(sessionIV[0:4])
	sum := base + curSeqNumber

	iv := make([]byte, 16)
	binary.BigEndian.PutUint32(iv[0:4], sum)
	return iv
}
