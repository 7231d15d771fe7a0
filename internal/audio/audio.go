package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Buffer is a decoded clip: interleaved stereo int16 PCM at SampleRate.
// A Buffer belongs to the playback invocation that decoded it.
type Buffer struct {
	Samples []int16
}

// Frames returns the number of 20ms frames, counting a partial final frame.
func (b *Buffer) Frames() int {
	if b == nil {
		return 0
	}
	return (len(b.Samples) + FrameSamples - 1) / FrameSamples
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil {
		return 0
	}
	perChannel := len(b.Samples) / Channels
	return time.Duration(perChannel) * time.Second / SampleRate
}

// Frame returns frame i. The final frame is zero padded to FrameSamples.
func (b *Buffer) Frame(i int) []int16 {
	start := i * FrameSamples
	end := start + FrameSamples
	if end <= len(b.Samples) {
		return b.Samples[start:end]
	}
	frame := make([]int16, FrameSamples)
	if start < len(b.Samples) {
		copy(frame, b.Samples[start:])
	}
	return frame
}
