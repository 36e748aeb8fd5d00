package transcript

import (
	"fmt"
	"testing"
	"time"
)

func TestLogEvictsBySize(t *testing.T) {
	t.Parallel()

	l := NewLog(3, time.Hour)
	for i := 0; i < 5; i++ {
		l.Add(Entry{Transcript: fmt.Sprintf("u%d", i), Reply: "r"})
	}

	got := l.Entries()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Transcript != "u2" || got[2].Transcript != "u4" {
		t.Errorf("kept %v, want the three most recent", got)
	}
}

func TestLogEvictsByAge(t *testing.T) {
	t.Parallel()

	base := time.Unix(5000, 0)
	now := base
	l := NewLog(10, time.Minute, WithClock(func() time.Time { return now }))

	l.Add(Entry{Transcript: "old"})
	now = now.Add(2 * time.Minute)
	l.Add(Entry{Transcript: "new"})

	got := l.Entries()
	if len(got) != 1 || got[0].Transcript != "new" {
		t.Errorf("entries = %v, want only the fresh one", got)
	}
}

func TestLogRecentWindow(t *testing.T) {
	t.Parallel()

	base := time.Unix(5000, 0)
	now := base
	l := NewLog(10, time.Minute, WithClock(func() time.Time { return now }))

	for i := 0; i < 4; i++ {
		l.Add(Entry{Transcript: fmt.Sprintf("u%d", i)})
		now = now.Add(10 * time.Second)
	}

	got := l.Recent(2)
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d entries", len(got))
	}
	// Chronological order, most recent two.
	if got[0].Transcript != "u2" || got[1].Transcript != "u3" {
		t.Errorf("Recent = %v", got)
	}
}

func TestLogFillsTimestamp(t *testing.T) {
	t.Parallel()

	fixed := time.Unix(7000, 0)
	l := NewLog(5, time.Hour, WithClock(func() time.Time { return fixed }))
	l.Add(Entry{Transcript: "hello"})

	if got := l.Entries()[0].Timestamp; !got.Equal(fixed) {
		t.Errorf("timestamp = %v, want %v", got, fixed)
	}
}
