package audio

import "encoding/binary"

// Discord delivers 48 kHz interleaved stereo; the transcription backend takes 16 kHz mono.
const (
	SourceSampleRate = 48000
	SourceChannels   = 2
	TargetSampleRate = 16000

	// groupSamples raw samples make up one output sample: 3 stereo groups, left channel only.
	groupSamples = SourceChannels * SourceSampleRate / TargetSampleRate
)

// Resample converts one decoded frame into little-endian 16-bit mono bytes.
// Each output sample is the mean of raw samples 0, 2 and 4 of a 6-sample chunk.
// A trailing chunk shorter than 6 samples is dropped.
func Resample(pcm []int16) []byte {
	n := len(pcm) / groupSamples
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		g := pcm[i*groupSamples : (i+1)*groupSamples]
		avg := (int64(g[0]) + int64(g[2]) + int64(g[4])) / 3
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(avg)))
	}
	return out
}
