// Package audio defines the interfaces and types for audio capture and
// playback within voxloop.
//
// The three primary abstractions are:
//
//   - [Device] — acquires the microphone and returns a [Source].
//   - [Source] — the live capture handle, giving callers a continuous raw
//     PCM frame stream for level monitoring plus per-utterance [Recording]s.
//   - [Player] — plays synthesized reply audio and reports completion.
//
// Implementations are provided by adapter packages (e.g., audio/ffmpeg) and
// by audio/mock for tests. The interfaces are intentionally narrow to keep
// the turn controller decoupled from device details.
//
// This package lives under pkg/ because external code (alternative capture
// backends) is expected to implement [Device] and [Player].
package audio

import "context"

// Device is the entry point for a microphone backend.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Acquire opens the capture device and returns the live [Source].
	// Acquire is idempotent: repeated calls return the same Source without
	// re-opening the underlying device. The supplied ctx governs the
	// acquisition attempt only; once acquired, the Source remains alive
	// until [Source.Close] is called.
	Acquire(ctx context.Context) (Source, error)
}

// Source is an acquired capture handle. A Source delivers raw PCM frames
// continuously for level monitoring and opens encoded recordings on demand.
//
// A Source is owned by a single consumer goroutine; implementations need not
// support concurrent readers of the frame stream.
type Source interface {
	// Frames returns the continuous raw PCM frame stream. The channel stays
	// open for the lifetime of the Source; frames that find no ready
	// receiver are dropped rather than blocking the device.
	Frames() <-chan Frame

	// StartRecording opens a new encoded recording. At most one recording
	// may be open per Source at a time; callers must stop the previous
	// recording before opening another.
	StartRecording() (Recording, error)

	// Close releases the device. After Close the frame channel is closed
	// and StartRecording returns an error. Closing twice is a no-op.
	Close() error
}

// Recording is one open utterance capture. Encoded fragments stream on
// Chunks while the recording is open; Stop finalises the encoded sequence.
type Recording interface {
	// Chunks delivers encoded audio fragments as they are produced. The
	// channel is closed after Stop once all remaining fragments have been
	// flushed.
	Chunks() <-chan []byte

	// Stop finalises the recording. Any buffered fragments are flushed to
	// the Chunks channel before it closes. Stopping twice is a no-op.
	Stop() error
}
