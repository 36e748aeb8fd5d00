// Package mock provides test doubles for the audio package interfaces.
//
// Use Device to verify acquisition idempotency, Source to feed scripted PCM
// frames into the pipeline, Recording to script encoded chunks, and Player
// to inspect playback requests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/voxloop/voxloop/pkg/audio"
)

// Device is a mock implementation of audio.Device.
type Device struct {
	mu sync.Mutex

	// Source is returned by Acquire. If nil, Acquire creates one default
	// Source on first use and returns it on every subsequent call.
	Source audio.Source

	// AcquireErr, if non-nil, is returned by every Acquire call.
	AcquireErr error

	// AcquireCallCount is the number of times Acquire was called.
	AcquireCallCount int
}

// Acquire records the call and returns Source, AcquireErr. Like a real
// device, the same Source is returned on repeated calls.
func (d *Device) Acquire(_ context.Context) (audio.Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.AcquireCallCount++
	if d.AcquireErr != nil {
		return nil, d.AcquireErr
	}
	if d.Source == nil {
		d.Source = NewSource(64)
	}
	return d.Source, nil
}

// Acquisitions returns how many times Acquire was called.
func (d *Device) Acquisitions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.AcquireCallCount
}

// Ensure Device implements audio.Device at compile time.
var _ audio.Device = (*Device)(nil)

// Source is a mock implementation of audio.Source. Frames pushed via Push
// are delivered to the consumer; recordings are scripted via NextRecording.
type Source struct {
	mu sync.Mutex

	frames chan audio.Frame
	closed bool

	// NextRecording is returned by the next StartRecording call. If nil, a
	// fresh default Recording is created and returned.
	NextRecording *Recording

	// StartRecordingErr, if non-nil, is returned by StartRecording.
	StartRecordingErr error

	// Recordings lists every recording handed out, in order.
	Recordings []*Recording

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSource creates a mock Source whose frame channel holds up to buf frames.
func NewSource(buf int) *Source {
	return &Source{frames: make(chan audio.Frame, buf)}
}

// Push makes frame available on the Frames channel. It blocks if the buffer
// is full, so tests can rely on delivery ordering.
func (s *Source) Push(frame audio.Frame) {
	s.frames <- frame
}

// Frames returns the scripted frame channel.
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// StartRecording records the call and returns NextRecording (or a fresh
// default) unless StartRecordingErr is set.
func (s *Source) StartRecording() (audio.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("mock: source closed")
	}
	if s.StartRecordingErr != nil {
		return nil, s.StartRecordingErr
	}
	rec := s.NextRecording
	s.NextRecording = nil
	if rec == nil {
		rec = NewRecording()
	}
	s.Recordings = append(s.Recordings, rec)
	return rec, nil
}

// Close records the call and closes the frame channel once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// RecordingCount returns how many recordings were handed out.
func (s *Source) RecordingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Recordings)
}

// RecordingAt returns the i-th recording handed out, or nil.
func (s *Source) RecordingAt(i int) *Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.Recordings) {
		return nil
	}
	return s.Recordings[i]
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)

// Recording is a mock implementation of audio.Recording. Chunks pushed via
// PushChunk stream to the consumer; Stop flushes and closes the channel.
type Recording struct {
	mu sync.Mutex

	chunks  chan []byte
	stopped bool

	// StopErr, if non-nil, is returned by the first Stop call.
	StopErr error

	// StopCallCount is the number of times Stop was called.
	StopCallCount int
}

// NewRecording creates a mock Recording with a buffered chunk channel.
func NewRecording() *Recording {
	return &Recording{chunks: make(chan []byte, 64)}
}

// PushChunk makes an encoded fragment available on the Chunks channel.
// Pushing after Stop is ignored.
func (r *Recording) PushChunk(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	r.chunks <- cp
}

// Chunks returns the scripted chunk channel.
func (r *Recording) Chunks() <-chan []byte { return r.chunks }

// Stop records the call, closes the chunk channel once, and returns StopErr.
func (r *Recording) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StopCallCount++
	if r.stopped {
		return nil
	}
	r.stopped = true
	close(r.chunks)
	return r.StopErr
}

// Ensure Recording implements audio.Recording at compile time.
var _ audio.Recording = (*Recording)(nil)

// PlayCall records a single invocation of Player.Play.
type PlayCall struct {
	// URL is the audio URL passed to Play.
	URL string
}

// Player is a mock implementation of audio.Player. By default Play returns
// immediately; set Block to make Play wait for Release or ctx cancellation,
// simulating long playback.
type Player struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by every Play call.
	PlayErr error

	// Block makes Play wait until Release is called or ctx is cancelled.
	Block bool

	// PlayCalls records every call to Play in order.
	PlayCalls []PlayCall

	// StopCallCount is the number of times Stop was called.
	StopCallCount int

	release chan struct{}
}

// Play records the call and returns PlayErr, optionally blocking first.
func (p *Player) Play(ctx context.Context, url string) error {
	p.mu.Lock()
	p.PlayCalls = append(p.PlayCalls, PlayCall{URL: url})
	block := p.Block
	if block && p.release == nil {
		p.release = make(chan struct{})
	}
	release := p.release
	err := p.PlayErr
	p.mu.Unlock()

	if block {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Stop records the call and releases a blocked Play.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StopCallCount++
	if p.release != nil {
		close(p.release)
		p.release = nil
	}
}

// Release unblocks a Play call that is waiting because Block is set.
func (p *Player) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.release != nil {
		close(p.release)
		p.release = nil
	}
}

// Plays returns a snapshot of the recorded Play calls.
func (p *Player) Plays() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlayCall, len(p.PlayCalls))
	copy(out, p.PlayCalls)
	return out
}

// Stops returns how many times Stop was called.
func (p *Player) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.StopCallCount
}

// Ensure Player implements audio.Player at compile time.
var _ audio.Player = (*Player)(nil)
