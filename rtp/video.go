package rtp

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gowolf/streamhost/cryptoutil"
	"github.com/gowolf/streamhost/fec"
)

// Video packet flags.
const (
	FlagFirstPacket byte = 1 << 0
	FlagLastPacket  byte = 1 << 1
	FlagContainsFEC byte = 1 << 2
)

// nvVideoPacketSize is this host's NV_VIDEO_PACKET header: 4-byte
// streamPacketIndex + 4-byte frameIndex + 1-byte flags + 3-byte
// reserved + 4-byte multiFecFlags + 4-byte multiFecBlocks + 4-byte
// fecInfo, little-endian.
const nvVideoPacketSize = 4 + 4 + 1 + 3 + 4 + 4 + 4

// reservedRegionSize is the Moonlight-specific 4-byte reserved region
// between the RTP header and the NV_VIDEO_PACKET header.
const reservedRegionSize = 4

// nvVideoPacketHeader is the Moonlight-specific per-shard metadata
// carried after the RTP header and reserved region.
type nvVideoPacketHeader struct {
	StreamPacketIndex uint32
	FrameIndex        uint32
	Flags             byte
	MultiFECFlags     uint32
	MultiFECBlocks    uint32
	FECInfo           uint32
}

func (h nvVideoPacketHeader) marshal() []byte {
	buf := make([]byte, nvVideoPacketSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.StreamPacketIndex)
	binary.LittleEndian.PutUint32(buf[4:8], h.FrameIndex)
	buf[8] = h.Flags
	// buf[9:12] reserved, left zero.
	binary.LittleEndian.PutUint32(buf[12:16], h.MultiFECFlags)
	binary.LittleEndian.PutUint32(buf[16:20], h.MultiFECBlocks)
	binary.LittleEndian.PutUint32(buf[20:24], h.FECInfo)
	return buf
}

// packFECInfo encodes (shardIndex, dataShards, fecShards) into a
// single u32.
func packFECInfo(shardIndex, dataShards, fecShards int) uint32 {
	return uint32(shardIndex) | uint32(dataShards)<<8 | uint32(fecShards)<<16
}

// VideoPipelineConfig carries the per-session parameters ANNOUNCE
// negotiates.
type VideoPipelineConfig struct {
	PayloadSize           int
	FECPercentage         int
	MinRequiredFECPackets int
}

// VideoPacketizer fragments encoded frames into RTP packets with FEC
// parity, encrypting each shard's payload under the session key.
type VideoPacketizer struct {
	cfg        VideoPipelineConfig
	sessionKey [16]byte
	sessionIV  [16]byte
	nextSeq    func() uint16
	frameIndex uint32
}

// NewVideoPacketizer builds a packetizer for one session's video
// stream. nextSeq should be bound to session.StreamSession.NextVideoSeq.
func NewVideoPacketizer(cfg VideoPipelineConfig, sessionKey, sessionIV [16]byte, nextSeq func() uint16) *VideoPacketizer {
	return &VideoPacketizer{cfg: cfg, sessionKey: sessionKey, sessionIV: sessionIV, nextSeq: nextSeq}
}

// PacketizeFrame fragments one encoded frame (a full NAL-unit-bearing
// access unit) into data shards, computes FEC parity, and emits every
// shard as an encrypted RTP packet via send.
func (p *VideoPacketizer) PacketizeFrame(frame []byte, send Sender) error {
	if p.cfg.PayloadSize <= 0 {
		return errors.New("rtp: video payload size must be positive")
	}
	frameIdx := p.frameIndex
	p.frameIndex++

	dataShards := (len(frame) + p.cfg.PayloadSize - 1) / p.cfg.PayloadSize
	if dataShards == 0 {
		dataShards = 1
	}
	fecShards := fec.VideoFECShards(dataShards, p.cfg.MinRequiredFECPackets, p.cfg.FECPercentage)

	shards := fec.SplitIntoShards(frame, dataShards, p.cfg.PayloadSize)
	allShards := make([][]byte, dataShards+fecShards)
	copy(allShards, shards)
	for i := dataShards; i < dataShards+fecShards; i++ {
		allShards[i] = make([]byte, p.cfg.PayloadSize)
	}

	if fecShards > 0 {
		enc, err := fec.NewEncoder(dataShards, fecShards)
		if err != nil {
			return errors.Wrap(err, "rtp: build video FEC encoder")
		}
		if err := enc.Encode(allShards); err != nil {
			return errors.Wrap(err, "rtp: encode video FEC shards")
		}
	}

	for i, shard := range allShards {
		var flags byte
		if i == 0 {
			flags |= FlagFirstPacket
		}
		if i == len(allShards)-1 {
			flags |= FlagLastPacket
		}
		if i >= dataShards {
			flags |= FlagContainsFEC
		}

		seq := p.nextSeq()

		nv := nvVideoPacketHeader{
			StreamPacketIndex: uint32(seq),
			FrameIndex:        frameIdx,
			Flags:             flags,
			MultiFECFlags:     0,
			MultiFECBlocks:    uint32(dataShards)<<8 | uint32(fecShards),
			FECInfo:           packFECInfo(i, dataShards, fecShards),
		}

		plaintext := append(nv.marshal(), shard...)
		iv := DerivePacketIV(p.sessionIV, uint32(seq))
		encrypted, err := cryptoutil.EncryptCBC(plaintext, p.sessionKey[:], iv, true)
		if err != nil {
			return errors.Wrap(err, "rtp: encrypt video shard")
		}

		rtpHeader := Header{PacketType: PayloadTypeVideo, Sequence: seq, Timestamp: frameIdx}
		packet := make([]byte, 0, HeaderSize+reservedRegionSize+len(encrypted))
		packet = append(packet, rtpHeader.Marshal()...)
		packet = append(packet, make([]byte, reservedRegionSize)...)
		packet = append(packet, encrypted...)

		if err := send.Send(packet); err != nil {
			return errors.Wrap(err, "rtp: send video packet")
		}
	}
	return nil
}
