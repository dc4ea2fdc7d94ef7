package rtp

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gowolf/streamhost/cryptoutil"
	"github.com/gowolf/streamhost/fec"
)

// audioFECHeaderSize is the secondary 12-byte header a parity packet
// carries between the RTP header and the shard bytes: fecShardIndex,
// payloadType, baseSequenceNumber, baseTimestamp, ssrc. The outer RTP
// header has nowhere to carry the protected group's base sequence and
// timestamp, so the receiver parses them from here.
const audioFECHeaderSize = 1 + 1 + 2 + 4 + 4

// audioFECHeader identifies which of the two FEC shards a parity
// packet carries and the packet group it protects.
type audioFECHeader struct {
	FECShardIndex      byte
	PayloadType        byte
	BaseSequenceNumber uint16
	BaseTimestamp      uint32
	SSRC               uint32
}

func (h audioFECHeader) marshal() []byte {
	buf := make([]byte, audioFECHeaderSize)
	buf[0] = h.FECShardIndex
	buf[1] = h.PayloadType
	binary.BigEndian.PutUint16(buf[2:4], h.BaseSequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], h.BaseTimestamp)
	binary.BigEndian.PutUint32(buf[8:12], h.SSRC)
	return buf
}

// AudioPipelineConfig carries the per-session audio packet duration
// negotiated at ANNOUNCE time.
type AudioPipelineConfig struct {
	// PacketDurationMS is the encoded duration of one audio packet in
	// milliseconds, used to derive each packet's RTP timestamp.
	PacketDurationMS uint32
}

// AudioPacketizer emits one RTP packet per encoded audio frame and,
// every fec.AudioDataShards packets, fec.AudioFECShards parity packets
// covering the preceding group.
type AudioPacketizer struct {
	cfg        AudioPipelineConfig
	sessionKey [16]byte
	sessionIV  [16]byte
	nextSeq    func() uint16

	enc   *fec.Encoder
	group [fec.AudioDataShards][]byte
	inGrp int
	base  uint16
}

// NewAudioPacketizer builds a packetizer for one session's audio
// stream. nextSeq should be bound to session.StreamSession.NextAudioSeq.
func NewAudioPacketizer(cfg AudioPipelineConfig, sessionKey, sessionIV [16]byte, nextSeq func() uint16) (*AudioPacketizer, error) {
	enc, err := fec.NewAudioEncoder()
	if err != nil {
		return nil, err
	}
	return &AudioPacketizer{cfg: cfg, sessionKey: sessionKey, sessionIV: sessionIV, nextSeq: nextSeq, enc: enc}, nil
}

// PacketizeFrame sends one encoded audio frame's data packet and, once
// every fec.AudioDataShards frames have accumulated, the FEC parity
// packets covering that group.
func (p *AudioPacketizer) PacketizeFrame(frame []byte, send Sender) error {
	seq := p.nextSeq()
	if p.inGrp == 0 {
		p.base = seq
	}

	shardSize := len(frame)
	for _, s := range p.group {
		if s != nil && len(s) > shardSize {
			shardSize = len(s)
		}
	}
	shard := fec.PadShard(frame, shardSize)
	p.group[p.inGrp] = shard
	p.inGrp++

	if err := p.sendDataPacket(seq, frame, send); err != nil {
		return err
	}

	if p.inGrp < fec.AudioDataShards {
		return nil
	}

	if err := p.emitFEC(shardSize, send); err != nil {
		return err
	}
	p.inGrp = 0
	for i := range p.group {
		p.group[i] = nil
	}
	return nil
}

func (p *AudioPacketizer) sendDataPacket(seq uint16, payload []byte, send Sender) error {
	iv := DerivePacketIV(p.sessionIV, uint32(seq))
	encrypted, err := cryptoutil.EncryptCBC(payload, p.sessionKey[:], iv, true)
	if err != nil {
		return errors.Wrap(err, "rtp: encrypt audio payload")
	}
	header := Header{PacketType: PayloadTypeAudio, Sequence: seq, Timestamp: uint32(seq) * p.cfg.PacketDurationMS}
	packet := append(header.Marshal(), encrypted...)
	return errors.Wrap(send.Send(packet), "rtp: send audio packet")
}

func (p *AudioPacketizer) emitFEC(shardSize int, send Sender) error {
	allShards := make([][]byte, fec.AudioTotalShards)
	copy(allShards[:fec.AudioDataShards], p.group[:])
	for i := fec.AudioDataShards; i < fec.AudioTotalShards; i++ {
		allShards[i] = make([]byte, shardSize)
	}
	if err := p.enc.Encode(allShards); err != nil {
		return errors.Wrap(err, "rtp: encode audio FEC shards")
	}

	for i := 0; i < fec.AudioFECShards; i++ {
		fecHeader := audioFECHeader{
			FECShardIndex:      byte(i),
			PayloadType:        PayloadTypeAudioFEC,
			BaseSequenceNumber: p.base,
			BaseTimestamp:      uint32(p.base) * p.cfg.PacketDurationMS,
		}
		plaintext := append(fecHeader.marshal(), allShards[fec.AudioDataShards+i]...)

		seq := p.nextSeq()
		iv := DerivePacketIV(p.sessionIV, uint32(seq))
		encrypted, err := cryptoutil.EncryptCBC(plaintext, p.sessionKey[:], iv, true)
		if err != nil {
			return errors.Wrap(err, "rtp: encrypt audio FEC shard")
		}

		header := Header{PacketType: PayloadTypeAudioFEC, Sequence: seq, Timestamp: uint32(p.base) * p.cfg.PacketDurationMS}
		packet := append(header.Marshal(), encrypted...)
		if err := send.Send(packet); err != nil {
			return errors.Wrap(err, "rtp: send audio FEC packet")
		}
	}
	return nil
}
