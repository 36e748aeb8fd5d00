package audio

import "context"

// Player plays synthesized reply audio fetched from a URL.
//
// Implementations must be safe for concurrent use: Stop may be called from a
// different goroutine than Play.
type Player interface {
	// Play fetches the audio at url and plays it, blocking until playback
	// finishes or ctx is cancelled. A cancelled ctx returns ctx.Err();
	// other errors indicate the audio could not be fetched or decoded.
	Play(ctx context.Context, url string) error

	// Stop halts any in-progress playback immediately and clears the
	// source. Stop on an idle player is a no-op.
	Stop()
}

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when the data from a streaming channel
// is not needed (e.g., the tail of a discarded recording).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
