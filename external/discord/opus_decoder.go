//go:build opus

package discord

import (
	"github.com/hraban/opus"
)

const (
	sampleRate      = 48000
	channels        = 2
	frameSizeMs     = 20
	samplesPerFrame = sampleRate * frameSizeMs * channels / 1000
)

type opusDecoder struct {
	dec *opus.Decoder
	buf []int16
}

func newFrameDecoder() (frameDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	return &opusDecoder{dec: dec, buf: make([]int16, samplesPerFrame)}, nil
}

// Decode returns interleaved stereo samples for one packet.
func (d *opusDecoder) Decode(packet []byte) ([]int16, error) {
	n, err := d.dec.Decode(packet, d.buf)
	if err != nil {
		return nil, err
	}
	total := n * channels
	if total > samplesPerFrame {
		total = samplesPerFrame
	}
	frame := make([]int16, total)
	copy(frame, d.buf[:total])
	return frame, nil
}
