// Package vad implements voice activity detection for utterance
// segmentation: a loudness threshold with a sustained-speech gate, a
// debounced silence hold, and a no-speech timeout.
//
// The Detector is deliberately synchronous and timer-free. It is fed one
// loudness reading per monitoring tick together with the current time, and
// evaluates its deadlines at the top of each tick. This keeps detection
// deterministic under test and equivalent to callback timers within one tick
// at any sub-50ms cadence.
//
// A Detector tracks a single recording; it is owned by the turn controller's
// goroutine and is not safe for concurrent use.
package vad

import "time"

// Default thresholds, calibrated against a [-1, 1] normalised signal at a
// 60 Hz monitoring cadence.
const (
	// DefaultVolumeThreshold is the RMS level above which a tick counts as
	// active signal.
	DefaultVolumeThreshold = 0.006

	// DefaultMinSpeechFrames is the number of consecutive active ticks
	// (~130ms at 60 Hz) required before speech is credited. Rejects clicks
	// and breaths as speech starts.
	DefaultMinSpeechFrames = 8

	// DefaultSilenceHold is how long the signal must stay quiet after
	// credited speech before the utterance is declared over. Long enough to
	// ride out mid-sentence pauses.
	DefaultSilenceHold = 1350 * time.Millisecond

	// DefaultMaxWaitForSpeech bounds how long a recording may stay open
	// without any credited speech.
	DefaultMaxWaitForSpeech = 2 * time.Second
)

// Config holds the detection thresholds. Zero-value fields are replaced with
// the package defaults.
type Config struct {
	// VolumeThreshold is the RMS level above which a tick is active.
	VolumeThreshold float64

	// MinSpeechFrames is the consecutive-active-tick gate before speech is
	// credited and the silence hold is first armed.
	MinSpeechFrames int

	// SilenceHold is the debounce window after the last qualifying loud
	// tick before end-of-utterance fires.
	SilenceHold time.Duration

	// MaxWaitForSpeech is the no-speech timeout armed once per recording.
	MaxWaitForSpeech time.Duration
}

// withDefaults returns cfg with zero-value fields replaced.
func (c Config) withDefaults() Config {
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = DefaultVolumeThreshold
	}
	if c.MinSpeechFrames <= 0 {
		c.MinSpeechFrames = DefaultMinSpeechFrames
	}
	if c.SilenceHold <= 0 {
		c.SilenceHold = DefaultSilenceHold
	}
	if c.MaxWaitForSpeech <= 0 {
		c.MaxWaitForSpeech = DefaultMaxWaitForSpeech
	}
	return c
}

// EventType classifies the outcome of processing one loudness reading.
type EventType int

const (
	// EventNone means the recording stays open.
	EventNone EventType = iota

	// EventSpeechStart fires once per recording, when the sustained-speech
	// gate is first passed.
	EventSpeechStart

	// EventUtteranceEnd fires when the silence hold expires after credited
	// speech. The utterance carries real content.
	EventUtteranceEnd

	// EventNoSpeech fires when the no-speech timeout expires with no
	// credited speech. The utterance is degenerate.
	EventNoSpeech
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventNone:
		return "NONE"
	case EventSpeechStart:
		return "SPEECH_START"
	case EventUtteranceEnd:
		return "UTTERANCE_END"
	case EventNoSpeech:
		return "NO_SPEECH"
	default:
		return "UNKNOWN"
	}
}

// Event is the detection result for a single monitoring tick.
type Event struct {
	// Type is the detection outcome.
	Type EventType

	// RMS is the loudness reading that produced this event.
	RMS float64
}

// Detector is the per-recording speech state: the consecutive-active-frame
// counter, the hasSpoken flag, and the two deadlines. Reset must be called
// at every recording open.
type Detector struct {
	cfg Config

	open            bool
	speechFrames    int
	hasSpoken       bool
	silenceDeadline time.Time
	noSpeechBy      time.Time
}

// NewDetector creates a Detector with the given thresholds. The detector is
// inert until the first Reset.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Reset arms the detector for a new recording opened at now: the frame
// counter and hasSpoken flag are cleared, any armed silence hold is
// discarded, and the no-speech timeout is armed.
func (d *Detector) Reset(now time.Time) {
	d.open = true
	d.speechFrames = 0
	d.hasSpoken = false
	d.silenceDeadline = time.Time{}
	d.noSpeechBy = now.Add(d.cfg.MaxWaitForSpeech)
}

// Process consumes one loudness reading taken at now and returns the
// resulting event. Deadlines are checked before the reading is applied, so
// an expired hold fires even if the current tick is loud.
//
// After EventUtteranceEnd or EventNoSpeech the detector closes and returns
// EventNone until the next Reset.
func (d *Detector) Process(rms float64, now time.Time) Event {
	if !d.open {
		return Event{Type: EventNone, RMS: rms}
	}

	if d.hasSpoken {
		if !now.Before(d.silenceDeadline) {
			d.open = false
			return Event{Type: EventUtteranceEnd, RMS: rms}
		}
	} else if !now.Before(d.noSpeechBy) {
		d.open = false
		return Event{Type: EventNoSpeech, RMS: rms}
	}

	if rms > d.cfg.VolumeThreshold {
		d.speechFrames++
		if d.hasSpoken {
			// Every loud tick after the gate rearms the hold.
			d.silenceDeadline = now.Add(d.cfg.SilenceHold)
		} else if d.speechFrames >= d.cfg.MinSpeechFrames {
			d.hasSpoken = true
			d.silenceDeadline = now.Add(d.cfg.SilenceHold)
			return Event{Type: EventSpeechStart, RMS: rms}
		}
	} else {
		// Quiet ticks break the gate but never cancel an armed hold.
		d.speechFrames = 0
	}

	return Event{Type: EventNone, RMS: rms}
}

// HasSpoken reports whether sustained speech was credited since the last
// Reset.
func (d *Detector) HasSpoken() bool { return d.hasSpoken }

// SpeechFrames returns the current consecutive-active-tick count.
func (d *Detector) SpeechFrames() int { return d.speechFrames }

// SilenceArmed reports whether a silence hold is currently armed.
func (d *Detector) SilenceArmed() bool { return !d.silenceDeadline.IsZero() }
