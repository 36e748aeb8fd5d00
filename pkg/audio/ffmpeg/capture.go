// Package ffmpeg provides audio.Device and audio.Player implementations that
// shell out to the ffmpeg and ffplay binaries. It is the default capture and
// playback backend on desktop systems where no native audio bindings are
// available.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/voxloop/voxloop/pkg/audio"
)

const (
	defaultSampleRate = 16000
	defaultChannels   = 1
	defaultFrameDur   = 20 * time.Millisecond

	// frameChanBuf bounds the raw frame stream; frames beyond it are
	// dropped so a slow consumer can never stall the capture process.
	frameChanBuf = 32

	// chunkChanBuf bounds the encoded chunk stream before fragments spill
	// into the recording's overflow queue.
	chunkChanBuf = 256
)

// Option is a functional option for configuring a Device.
type Option func(*Device)

// WithBinary overrides the ffmpeg executable path. Default: "ffmpeg".
func WithBinary(path string) Option {
	return func(d *Device) { d.binary = path }
}

// WithSampleRate sets the capture sample rate in Hz. Default: 16000.
func WithSampleRate(rate int) Option {
	return func(d *Device) { d.sampleRate = rate }
}

// WithFrameDuration sets the duration of each monitoring frame.
// Default: 20ms, well under the sub-50ms cadence the detector needs.
func WithFrameDuration(dur time.Duration) Option {
	return func(d *Device) { d.frameDur = dur }
}

// WithInput overrides the ffmpeg input format and device. Defaults are
// chosen per platform (alsa on Linux, avfoundation on macOS, dshow on
// Windows); an empty value keeps the corresponding default.
func WithInput(format, device string) Option {
	return func(d *Device) {
		if format != "" {
			d.inputFormat = format
		}
		if device != "" {
			d.inputDevice = device
		}
	}
}

// Device implements audio.Device by spawning an ffmpeg process that streams
// raw little-endian 16-bit PCM from the default microphone.
//
// Acquire is idempotent: the capture process is started once and the same
// [audio.Source] is returned on every subsequent call.
type Device struct {
	binary      string
	sampleRate  int
	channels    int
	frameDur    time.Duration
	inputFormat string
	inputDevice string

	mu  sync.Mutex
	src *source
}

// NewDevice creates an ffmpeg-backed capture device.
func NewDevice(opts ...Option) *Device {
	d := &Device{
		binary:     "ffmpeg",
		sampleRate: defaultSampleRate,
		channels:   defaultChannels,
		frameDur:   defaultFrameDur,
	}
	d.inputFormat, d.inputDevice = platformInput()
	for _, o := range opts {
		o(d)
	}
	return d
}

// platformInput returns the default ffmpeg input format and device name for
// the current operating system.
func platformInput() (format, device string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", ":0"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "alsa", "default"
	}
}

// Acquire starts the capture process on first use and returns the live
// source. Subsequent calls return the same source without touching the
// device again.
func (d *Device) Acquire(ctx context.Context) (audio.Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.src != nil {
		return d.src, nil
	}

	// The process lifetime is tied to Source.Close, not to ctx; ctx only
	// bounds the acquisition attempt itself.
	cmd := exec.Command(d.binary,
		"-hide_banner", "-loglevel", "error",
		"-f", d.inputFormat, "-i", d.inputDevice,
		"-ac", fmt.Sprint(d.channels),
		"-ar", fmt.Sprint(d.sampleRate),
		"-f", "s16le", "-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start capture: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("ffmpeg: acquire: %w", err)
	}

	src := &source{
		cmd:        cmd,
		stdout:     stdout,
		sampleRate: d.sampleRate,
		channels:   d.channels,
		frameDur:   d.frameDur,
		frames:     make(chan audio.Frame, frameChanBuf),
	}
	go src.readLoop()
	d.src = src
	return src, nil
}

// Ensure Device implements audio.Device at compile time.
var _ audio.Device = (*Device)(nil)

// source wraps the running ffmpeg capture process.
type source struct {
	cmd        *exec.Cmd
	stdout     io.ReadCloser
	sampleRate int
	channels   int
	frameDur   time.Duration
	frames     chan audio.Frame

	mu     sync.Mutex
	rec    *recording
	closed bool
}

// readLoop slices the PCM stream into fixed-duration frames, feeding the
// monitoring channel and any open recording. It exits when the process
// stdout closes.
func (s *source) readLoop() {
	defer close(s.frames)

	frameBytes := s.sampleRate * s.channels * 2 * int(s.frameDur.Milliseconds()) / 1000
	var ts time.Duration

	for {
		buf := make([]byte, frameBytes)
		if _, err := io.ReadFull(s.stdout, buf); err != nil {
			return
		}

		frame := audio.Frame{
			Data:       buf,
			SampleRate: s.sampleRate,
			Channels:   s.channels,
			Timestamp:  ts,
		}
		ts += s.frameDur

		// Drop the frame rather than block the capture process.
		select {
		case s.frames <- frame:
		default:
		}

		s.mu.Lock()
		if s.rec != nil {
			s.rec.append(buf)
		}
		s.mu.Unlock()
	}
}

func (s *source) Frames() <-chan audio.Frame { return s.frames }

// StartRecording opens a new recording fed by the capture stream. The first
// fragment is a streaming WAV header so the chunk sequence decodes as WAV.
func (s *source) StartRecording() (audio.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("ffmpeg: source closed")
	}
	if s.rec != nil && !s.rec.isStopped() {
		return nil, errors.New("ffmpeg: recording already open")
	}

	rec := newRecording(func() {
		s.mu.Lock()
		s.rec = nil
		s.mu.Unlock()
	})
	rec.append(audio.WAVHeader(s.sampleRate, s.channels))
	s.rec = rec
	return rec, nil
}

// Close terminates the capture process. The frame channel closes once the
// read loop observes EOF.
func (s *source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("ffmpeg: stop capture: %w", err)
	}
	go func() { _ = s.cmd.Wait() }()
	return nil
}

// Ensure source implements audio.Source at compile time.
var _ audio.Source = (*source)(nil)

// recording streams encoded fragments to the consumer. Fragments that do not
// fit in the channel buffer queue in overflow and are flushed on Stop, so the
// capture read loop is never blocked by a slow consumer.
type recording struct {
	mu       sync.Mutex
	chunks   chan []byte
	overflow [][]byte
	stopped  bool
	detach   func()
}

func newRecording(detach func()) *recording {
	return &recording{
		chunks: make(chan []byte, chunkChanBuf),
		detach: detach,
	}
}

// append delivers one fragment. Once any fragment has spilled to overflow,
// all later fragments follow it to preserve ordering.
func (r *recording) append(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if len(r.overflow) == 0 {
		select {
		case r.chunks <- chunk:
			return
		default:
		}
	}
	r.overflow = append(r.overflow, chunk)
}

func (r *recording) Chunks() <-chan []byte { return r.chunks }

// Stop detaches the recording from the capture stream, flushes the overflow
// queue, and closes the chunk channel.
func (r *recording) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	overflow := r.overflow
	r.overflow = nil
	r.mu.Unlock()

	r.detach()

	// The consumer drains Chunks after Stop returns, so flush on a
	// separate goroutine to avoid blocking on a full channel.
	go func() {
		for _, c := range overflow {
			r.chunks <- c
		}
		close(r.chunks)
	}()
	return nil
}

func (r *recording) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Ensure recording implements audio.Recording at compile time.
var _ audio.Recording = (*recording)(nil)
