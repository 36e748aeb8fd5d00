package turn

import (
	"bytes"
	"testing"
)

func TestUtteranceBufferAccumulates(t *testing.T) {
	t.Parallel()

	b := NewUtteranceBuffer()
	b.Append([]byte("RIFF"))
	b.Append(nil)
	b.Append([]byte("data"))

	if b.Len() != 8 {
		t.Errorf("Len = %d, want 8", b.Len())
	}
	if got := b.Bytes(); !bytes.Equal(got, []byte("RIFFdata")) {
		t.Errorf("Bytes = %q", got)
	}
}

func TestUtteranceBufferCopiesFragments(t *testing.T) {
	t.Parallel()

	frag := []byte("abcd")
	b := NewUtteranceBuffer()
	b.Append(frag)
	frag[0] = 'z'

	if got := b.Bytes(); !bytes.Equal(got, []byte("abcd")) {
		t.Errorf("Bytes = %q, caller mutation leaked into the buffer", got)
	}
}

func TestUtteranceBufferReset(t *testing.T) {
	t.Parallel()

	b := NewUtteranceBuffer()
	b.Append([]byte("old utterance"))
	b.Reset()

	if b.Len() != 0 || len(b.Bytes()) != 0 {
		t.Errorf("Len = %d after Reset, want 0", b.Len())
	}

	b.Append([]byte("new"))
	if got := b.Bytes(); !bytes.Equal(got, []byte("new")) {
		t.Errorf("Bytes = %q after Reset and Append", got)
	}
}
