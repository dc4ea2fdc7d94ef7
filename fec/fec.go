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

// Package fec implements the Reed-Solomon shard coding used by both
// the audio and video RTP pipelines. It wraps
// github.com/klauspost/reedsolomon directly rather than going through
// kcp-go's ARQ-window FEC wrapper, because this protocol applies FEC
// per-video-frame and per-four-audio-packets, not per send window.
package fec

import (
	"github.com/klauspost/reedsolomon"

	"github.com/pkg/errors"
)

// AudioDataShards and AudioFECShards are the fixed 4-data/2-parity
// layout the audio stream uses, matching Moonlight's
// published 4x2 generator matrix byte-for-byte via reedsolomon's
// standard Vandermonde-based construction.
const (
	AudioDataShards = 4
	AudioFECShards  = 2
	AudioTotalShards = AudioDataShards + AudioFECShards
)

// maxTotalShards is the GF(2^8) ceiling reedsolomon enforces.
const maxTotalShards = 255

// Encoder produces parity shards for a fixed (data, parity) layout.
type Encoder struct {
	dataShards, fecShards int
	rs                    reedsolomon.Encoder
}

// NewEncoder builds a Reed-Solomon encoder for the given shard counts.
func NewEncoder(dataShards, fecShards int) (*Encoder, error) {
	if dataShards <= 0 || fecShards < 0 {
		return nil, errors.New("fec: invalid shard counts")
	}
	if dataShards+fecShards > maxTotalShards {
		return nil, errors.Errorf("fec: %d data + %d parity shards exceeds GF(2^8) limit of %d", dataShards, fecShards, maxTotalShards)
	}
	if fecShards == 0 {
		return &Encoder{dataShards: dataShards, fecShards: 0}, nil
	}
	rs, err := reedsolomon.New(dataShards, fecShards)
	if err != nil {
		return nil, errors.Wrap(err, "fec: new reedsolomon encoder")
	}
	return &Encoder{dataShards: dataShards, fecShards: fecShards, rs: rs}, nil
}

// DataShards reports the configured data shard count.
func (e *Encoder) DataShards() int { return e.dataShards }

// FECShards reports the configured parity shard count.
func (e *Encoder) FECShards() int { return e.fecShards }

// Encode fills the trailing e.FECShards() entries of shards in place.
// Every shard (data and parity) must already be allocated to the same
// length (shard size); data shards must be zero-padded by the caller.
func (e *Encoder) Encode(shards [][]byte) error {
	if len(shards) != e.dataShards+e.fecShards {
		return errors.Errorf("fec: expected %d shards, got %d", e.dataShards+e.fecShards, len(shards))
	}
	if e.fecShards == 0 {
		return nil
	}
	if err := e.rs.Encode(shards); err != nil {
		return errors.Wrap(err, "fec: encode")
	}
	return nil
}

// NewAudioEncoder returns the fixed 4/2 audio layout encoder.
func NewAudioEncoder() (*Encoder, error) {
	return NewEncoder(AudioDataShards, AudioFECShards)
}

// VideoFECShards computes a frame's parity shard count:
// ceil(dataShards*pct/100), floored at
// minRequired, capped so the total stays within the GF(2^8) shard
// limit reedsolomon enforces.
func VideoFECShards(dataShards, minRequired, fecPercentage int) int {
	computed := (dataShards*fecPercentage + 99) / 100
	if computed < minRequired {
		computed = minRequired
	}
	if dataShards+computed > maxTotalShards {
		computed = maxTotalShards - dataShards
	}
	if computed < 0 {
		computed = 0
	}
	return computed
}

// PadShard zero-pads data to size, returning a new slice of exactly
// size bytes (data must not be longer than size).
func PadShard(data []byte, size int) []byte {
	out := make([]byte, size)
	copy(out, data)
	return out
}

// SplitIntoShards splits payload into shardCount equal shards of
// shardSize bytes each, zero-padding the final shard. The caller is
// responsible for choosing shardSize large enough that
// shardCount*shardSize >= len(payload).
func SplitIntoShards(payload []byte, shardCount, shardSize int) [][]byte {
	shards := make([][]byte, shardCount)
	for i := 0; i < shardCount; i++ {
		start := i * shardSize
		end := start + shardSize
		if start >= len(payload) {
			shards[i] = make([]byte, shardSize)
			continue
		}
		if end > len(payload) {
			end = len(payload)
		}
		shards[i] = PadShard(payload[start:end], shardSize)
	}
	return shards
}
