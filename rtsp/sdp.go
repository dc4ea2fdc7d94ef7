package rtsp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/gowolf/streamhost/session"
)

// AnnounceParams is the set of a=X:Y attributes ANNOUNCE's payload
// carries. Struct tags name the literal attribute key; unknown
// attributes are ignored.
type AnnounceParams struct {
	VideoWidth      int    `mapstructure:"x-nv-video[0].clientViewportWd"`
	VideoHeight     int    `mapstructure:"x-nv-video[0].clientViewportHt"`
	RefreshRate     int    `mapstructure:"x-nv-video[0].maxFPS"`
	Bitrate         int    `mapstructure:"x-nv-vqos[0].bitrate"`
	FECPercentage   int    `mapstructure:"x-nv-vqos[0].fec.percentage"`
	MinRequiredFEC  int    `mapstructure:"x-nv-vqos[0].fec.minRequiredFecPackets"`
	PacketSize      int    `mapstructure:"x-nv-video[0].packetSize"`
	InvalidRefFrame int    `mapstructure:"x-nv-vqos[0].framesWithInvalidRefThreshold"`
	SlicesPerFrame  int    `mapstructure:"x-nv-video[0].numSlices"`
	ColorRange      int    `mapstructure:"x-nv-color.range"`
	ColorSpace      int    `mapstructure:"x-nv-color.colorspace"`
	PacketDuration  int    `mapstructure:"x-nv-aqos.packetDuration"`
	UseReliableUDP  int    `mapstructure:"x-nv-general.useReliableUdp"`
	AudioChannels   int    `mapstructure:"x-nv-audio.surround.numChannels"`
	AudioStreams    int    `mapstructure:"x-nv-audio.surround.numStreams"`
	AudioCoupled    int    `mapstructure:"x-nv-audio.surround.channelMask"`
}

// ParseAnnounceBody parses ANNOUNCE's blank-line-delimited SDP payload
// into a flat attribute map, then decodes it into
// AnnounceParams with weakly-typed conversion since every SDP value
// arrives as a string.
func ParseAnnounceBody(body string) (AnnounceParams, error) {
	raw := map[string]interface{}{}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, "a=") {
			continue
		}
		rest := line[len("a="):]
		idx := strings.Index(rest, ":")
		if idx < 0 {
			continue
		}
		raw[rest[:idx]] = rest[idx+1:]
	}

	var params AnnounceParams
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &params,
	})
	if err != nil {
		return params, errors.Wrap(err, "rtsp: build ANNOUNCE decoder")
	}
	if err := dec.Decode(raw); err != nil {
		return params, errors.Wrap(err, "rtsp: decode ANNOUNCE body")
	}
	return params, nil
}

// speakerDigits renders a session's speaker map as the per-channel
// digit sequence the DESCRIBE response's surround-params attribute
// requires.
func speakerDigits(speakerMap []int) string {
	var b strings.Builder
	for _, s := range speakerMap {
		fmt.Fprintf(&b, "%X", s&0xF)
	}
	return b.String()
}

// BuildDescribeBody renders the SDP-like attribute lines DESCRIBE
// replies with, including the HEVC SPS marker and surround-params
// attribute the session's negotiated audio mode dictates.
func BuildDescribeBody(sess *session.StreamSession, supportHEVC bool) string {
	var b strings.Builder
	b.WriteString("v=0\r\n")
	b.WriteString("o=android 0 0 IN IP4 0.0.0.0\r\n")
	b.WriteString("s=NVIDIA Streaming Client\r\n")
	if supportHEVC {
		b.WriteString("a=sprop-parameter-sets=AAAAAU\r\n")
	}
	fmt.Fprintf(&b, "a=fmtp:97 surround-params=%d%d%d%s\r\n",
		sess.Audio.Channels, sess.Audio.Streams, sess.Audio.CoupledStreams, speakerDigits(sess.Audio.SpeakerMap))
	return b.String()
}

// formatInt is a small helper kept local to avoid importing strconv in
// callers that only need this one conversion.
func formatInt(v int) string { return strconv.Itoa(v) }
