package turn

// UtteranceBuffer accumulates the encoded fragments of the currently open
// recording. It is owned by the Machine goroutine and needs no locking.
//
// The lifecycle is strict: Reset on recording open, Append while chunks
// arrive, Bytes exactly once at close. After close the buffer is never
// appended to again; the next recording starts from a Reset.
type UtteranceBuffer struct {
	frags [][]byte
	size  int
}

// NewUtteranceBuffer returns an empty buffer.
func NewUtteranceBuffer() *UtteranceBuffer {
	return &UtteranceBuffer{}
}

// Append copies frag into the buffer. Empty fragments are dropped.
func (b *UtteranceBuffer) Append(frag []byte) {
	if len(frag) == 0 {
		return
	}
	cp := make([]byte, len(frag))
	copy(cp, frag)
	b.frags = append(b.frags, cp)
	b.size += len(cp)
}

// Len returns the total byte count across all fragments.
func (b *UtteranceBuffer) Len() int { return b.size }

// Bytes concatenates the fragments into a single slice. The result does not
// alias the buffer's storage.
func (b *UtteranceBuffer) Bytes() []byte {
	out := make([]byte, 0, b.size)
	for _, f := range b.frags {
		out = append(out, f...)
	}
	return out
}

// Reset discards all fragments. A fresh backing slice is allocated so the
// previous utterance's bytes become collectable immediately.
func (b *UtteranceBuffer) Reset() {
	b.frags = nil
	b.size = 0
}
