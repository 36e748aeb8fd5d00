package audio

import "encoding/binary"

// streamSize is the placeholder chunk size used in streaming WAV headers
// where the final length is unknown at write time. Decoders (including
// ffmpeg and browsers) read until EOF when they see it.
const streamSize = 0xFFFFFFFF

// WAVHeader returns a 44-byte RIFF/WAVE header for a little-endian 16-bit
// PCM stream of unknown length. Emit it as the first fragment of a recording
// so the concatenated chunk sequence forms a decodable WAV stream.
func WAVHeader(sampleRate, channels int) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	h := make([]byte, 44)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], streamSize)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // PCM format tag
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], streamSize)
	return h
}
