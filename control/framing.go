// Package control implements the reliable-UDP control channel:
// wire framing and AES-GCM encryption/decryption of every application
// message, sequence-based duplicate rejection, the ten known packet
// types, and INPUT_DATA subtype decoding. The outer framing and
// per-seq IV derivation here are this protocol's own minimal ack-free
// layer; see DESIGN.md for why a kcp-go/smux-style ARQ stack was not
// reused for this channel.
package control

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gowolf/streamhost/cryptoutil"
)

// Outer frame type tag ("type: u16 little-endian (= 0x0001,
// ENCRYPTED)").
const FrameTypeEncrypted uint16 = 0x0001

// Inner packet types.
const (
	PacketInvalidateRefFrames uint16 = 0x0301
	PacketLossStats           uint16 = 0x0201
	PacketFrameStats          uint16 = 0x0204
	PacketInputData           uint16 = 0x0206
	PacketRumbleData          uint16 = 0x010b
	PacketTermination         uint16 = 0x0100
	PacketPeriodicPing        uint16 = 0x0200
	PacketIDRFrame            uint16 = 0x0302
	PacketStartA              uint16 = 0x0305
	PacketStartB              uint16 = 0x0307
)

// knownPacketTypes is the full ten-entry set any decrypted inner type
// must belong to.
var knownPacketTypes = map[uint16]bool{
	PacketStartA:              true,
	PacketStartB:              true,
	PacketInvalidateRefFrames: true,
	PacketLossStats:           true,
	PacketFrameStats:          true,
	PacketInputData:           true,
	PacketRumbleData:          true,
	PacketTermination:         true,
	PacketPeriodicPing:        true,
	PacketIDRFrame:            true,
}

// IsKnownPacketType reports whether t is one of the ten packet types
// this protocol defines.
func IsKnownPacketType(t uint16) bool {
	return knownPacketTypes[t]
}

// ErrMalformedPacket is returned when a frame's length fields don't
// match its actual size.
var ErrMalformedPacket = errors.New("control: malformed packet")

// ErrUnknownPacketType is returned when a decrypted inner type is not
// one of the ten known codes.
var ErrUnknownPacketType = errors.New("control: unknown inner packet type")

const (
	outerHeaderSize = 2 + 2 + 4 // type + length + seq
	innerHeaderSize = 2 + 2     // type + length
)

// deriveIV builds the 16-byte GCM IV for a given sequence number: the
// first 4 bytes are seq little-endian, the remaining 12 are zero.
func deriveIV(seq uint32) []byte {
	iv := make([]byte, cryptoutil.IVSize)
	binary.LittleEndian.PutUint32(iv[0:4], seq)
	return iv
}

// EncodeFrame builds one outer ENCRYPTED frame carrying innerType/
// payload, encrypted under key with the IV derived from seq.
func EncodeFrame(key []byte, seq uint32, innerType uint16, payload []byte) ([]byte, error) {
	inner := make([]byte, innerHeaderSize+len(payload))
	binary.LittleEndian.PutUint16(inner[0:2], innerType)
	binary.LittleEndian.PutUint16(inner[2:4], uint16(len(payload)))
	copy(inner[4:], payload)

	iv := deriveIV(seq)
	ciphertext, tag, err := cryptoutil.EncryptGCM(inner, key, iv, cryptoutil.GCMTagSize)
	if err != nil {
		return nil, errors.Wrap(err, "control: encrypt frame")
	}

	length := 4 + cryptoutil.GCMTagSize + len(ciphertext)
	frame := make([]byte, 4+length)
	binary.LittleEndian.PutUint16(frame[0:2], FrameTypeEncrypted)
	binary.LittleEndian.PutUint16(frame[2:4], uint16(length))
	binary.LittleEndian.PutUint32(frame[4:8], seq)
	copy(frame[8:8+cryptoutil.GCMTagSize], tag)
	copy(frame[8+cryptoutil.GCMTagSize:], ciphertext)
	return frame, nil
}

// DecodedFrame is the result of successfully decrypting and parsing an
// incoming outer frame.
type DecodedFrame struct {
	Seq       uint32
	InnerType uint16
	Payload   []byte
}

// DecodeFrame verifies and decrypts raw under key, returning
// ErrMalformedPacket for framing errors, cryptoutil.ErrBadTag on
// authentication failure, and ErrUnknownPacketType if the decrypted
// inner type is not one of the ten known codes.
func DecodeFrame(raw []byte, key []byte) (DecodedFrame, error) {
	if len(raw) < outerHeaderSize {
		return DecodedFrame{}, ErrMalformedPacket
	}
	frameType := binary.LittleEndian.Uint16(raw[0:2])
	if frameType != FrameTypeEncrypted {
		return DecodedFrame{}, ErrMalformedPacket
	}
	length := int(binary.LittleEndian.Uint16(raw[2:4]))
	if len(raw) < 4+length || length < 4+cryptoutil.GCMTagSize {
		return DecodedFrame{}, ErrMalformedPacket
	}
	seq := binary.LittleEndian.Uint32(raw[4:8])
	tag := raw[8 : 8+cryptoutil.GCMTagSize]
	ciphertext := raw[8+cryptoutil.GCMTagSize : 4+length]

	iv := deriveIV(seq)
	plaintext, err := cryptoutil.DecryptGCM(ciphertext, key, tag, iv, cryptoutil.GCMTagSize)
	if err != nil {
		return DecodedFrame{}, err // cryptoutil.ErrBadTag
	}

	if len(plaintext) < innerHeaderSize {
		return DecodedFrame{}, ErrMalformedPacket
	}
	innerType := binary.LittleEndian.Uint16(plaintext[0:2])
	innerLen := int(binary.LittleEndian.Uint16(plaintext[2:4]))
	if len(plaintext) < innerHeaderSize+innerLen {
		return DecodedFrame{}, ErrMalformedPacket
	}
	if !IsKnownPacketType(innerType) {
		return DecodedFrame{}, ErrUnknownPacketType
	}

	return DecodedFrame{
		Seq:       seq,
		InnerType: innerType,
		Payload:   plaintext[innerHeaderSize : innerHeaderSize+innerLen],
	}, nil
}
