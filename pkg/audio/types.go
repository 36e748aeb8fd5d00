package audio

import "time"

// Frame is a single window of raw PCM samples read from the capture device.
// Frames are the atomic unit of level monitoring — each one is consumed by the
// voice activity detector during the tick that produced it and not retained.
type Frame struct {
	// Data is little-endian 16-bit PCM.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for speech capture).
	SampleRate int

	// Channels: 1 for mono capture.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples decodes the frame's PCM payload into float64 amplitudes normalised
// to [-1, 1]. A trailing odd byte, if any, is ignored.
func (f Frame) Samples() []float64 {
	n := len(f.Data) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		s := int16(f.Data[2*i]) | int16(f.Data[2*i+1])<<8
		out[i] = float64(s) / 32768.0
	}
	return out
}
