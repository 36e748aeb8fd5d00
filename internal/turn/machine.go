// Package turn implements the conversational turn controller: the single
// goroutine that owns the microphone session, segments speech into
// utterances, submits them for inference, applies the returned directives,
// and drives reply playback.
//
// All state transitions happen on the Machine's Run goroutine. External
// inputs (user toggles, server directives, inference and playback
// completions) arrive as events on an internal channel, so no locking is
// needed beyond the snapshot mutex.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxloop/voxloop/internal/inference"
	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/vad"
	"github.com/voxloop/voxloop/pkg/audio"
)

// DefaultMinUtteranceBytes is the floor below which a closed utterance is
// discarded rather than submitted. Filters out recordings that are header
// and container overhead with no usable signal.
const DefaultMinUtteranceBytes = 1500

// defaultControlTimeout bounds the fire-and-forget unpause ping.
const defaultControlTimeout = 10 * time.Second

// Config holds the turn controller's tunables. Zero values select defaults.
type Config struct {
	// VAD configures utterance segmentation.
	VAD vad.Config

	// MinUtteranceBytes is the minimum encoded size for a submission.
	MinUtteranceBytes int

	// ControlTimeout bounds the unpause control ping.
	ControlTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinUtteranceBytes <= 0 {
		c.MinUtteranceBytes = DefaultMinUtteranceBytes
	}
	if c.ControlTimeout <= 0 {
		c.ControlTimeout = defaultControlTimeout
	}
	return c
}

// eventKind discriminates the Machine's internal events.
type eventKind int

const (
	evToggle eventKind = iota
	evDirective
	evInference
	evPlayback
)

// event is one external input delivered to the Run goroutine.
type event struct {
	kind  eventKind
	pause bool // evDirective
	gen   uint64
	res   *inference.Result // evInference
	err   error             // evInference, evPlayback
}

// Option is a functional option for configuring the Machine.
type Option func(*Machine)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.log = l }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithStatusFunc registers a callback invoked on the Run goroutine for every
// emitted status signal. The callback must not block.
func WithStatusFunc(fn func(Status)) Option {
	return func(m *Machine) { m.statusFn = fn }
}

// WithExchangeFunc registers a callback invoked on the Run goroutine for
// every completed exchange. The callback must not block.
func WithExchangeFunc(fn func(Exchange)) Option {
	return func(m *Machine) { m.exchangeFn = fn }
}

// WithMetrics wires metric instruments into the controller.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Machine) { m.metrics = met }
}

// Machine is the turn controller. Create one per process with NewMachine,
// run it with Run, and feed it inputs through ToggleMic and Directive.
type Machine struct {
	device    audio.Device
	player    audio.Player
	client    inference.Client
	sessionID string
	cfg       Config

	log        *slog.Logger
	now        func() time.Time
	statusFn   func(Status)
	exchangeFn func(Exchange)
	metrics    *observe.Metrics

	events chan event

	// Owned by the Run goroutine.
	source   audio.Source
	rec      audio.Recording
	det      *vad.Detector
	buf      *UtteranceBuffer
	speaking bool
	genInf   uint64 // inference generation; bumped to orphan in-flight calls
	genPlay  uint64 // playback generation

	openedAt    time.Time // recording open, for the utterance histogram
	submittedAt time.Time
	playStart   time.Time

	mu    sync.Mutex
	state State
}

// NewMachine creates a turn controller over the given device, player, and
// inference client. sessionID identifies this installation on every
// submission.
func NewMachine(device audio.Device, player audio.Player, client inference.Client, sessionID string, cfg Config, opts ...Option) *Machine {
	m := &Machine{
		device:    device,
		player:    player,
		client:    client,
		sessionID: sessionID,
		cfg:       cfg.withDefaults(),
		log:       slog.Default(),
		now:       time.Now,
		events:    make(chan event, 16),
		buf:       NewUtteranceBuffer(),
	}
	m.det = vad.NewDetector(m.cfg.VAD)
	for _, o := range opts {
		o(m)
	}
	return m
}

// ToggleMic delivers the user's microphone toggle: start the session when
// idle, unpause when paused, otherwise pause.
func (m *Machine) ToggleMic() {
	m.events <- event{kind: evToggle}
}

// Directive delivers a server-pushed pause or unpause, equivalent to the
// corresponding command arriving in an inference result.
func (m *Machine) Directive(pause bool) {
	m.events <- event{kind: evDirective, pause: pause}
}

// Snapshot returns a copy of the current flag set. Safe to call from any
// goroutine.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Phase returns the derived conversational phase.
func (m *Machine) Phase() Phase {
	st := m.Snapshot()
	switch {
	case !st.Listening:
		return PhaseIdle
	case st.Processing:
		return PhaseProcessing
	default:
		m.mu.Lock()
		speaking := m.speaking
		m.mu.Unlock()
		if speaking {
			return PhaseSpeaking
		}
		return PhaseListening
	}
}

// Run drives the controller until ctx is cancelled. It must be called
// exactly once; all transitions execute on this goroutine.
func (m *Machine) Run(ctx context.Context) error {
	defer m.shutdown()

	for {
		var frames <-chan audio.Frame
		if m.source != nil {
			frames = m.source.Frames()
		}
		var chunks <-chan []byte
		if m.rec != nil {
			chunks = m.rec.Chunks()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-m.events:
			m.handle(ctx, ev)

		case f, ok := <-frames:
			if !ok {
				// Device stream died underneath us.
				m.log.Warn("capture stream closed unexpectedly")
				m.source = nil
				m.abortSession()
				continue
			}
			m.onFrame(ctx, f)

		case c, ok := <-chunks:
			if !ok {
				// A recording's channel only closes after Stop, which we
				// always follow with a synchronous drain. Seeing it here
				// means the backend ended the recording on its own.
				m.rec = nil
				if m.canRecord() {
					m.openRecording(ctx)
				}
				continue
			}
			m.buf.Append(c)
		}
	}
}

// handle dispatches one external event.
func (m *Machine) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evToggle:
		m.onToggle(ctx)
	case evDirective:
		m.onDirective(ctx, ev.pause)
	case evInference:
		m.onInferenceDone(ctx, ev)
	case evPlayback:
		m.onPlaybackDone(ctx, ev)
	}
}

// onToggle implements the three-way toggle: idle starts the session, paused
// resumes it, anything else pauses.
func (m *Machine) onToggle(ctx context.Context) {
	st := m.Snapshot()
	switch {
	case !st.Listening:
		m.startSession(ctx)

	case st.Paused:
		m.log.Info("unpaused by user")
		m.setPaused(false)
		m.cancelTurn()
		m.pingUnpause(ctx)
		m.openRecording(ctx)

	default:
		m.log.Info("paused by user")
		m.setPaused(true)
		if m.metrics != nil {
			m.metrics.RecordPause(ctx, observe.PauseSourceUser)
		}
		m.cancelTurn()
		m.openRecording(ctx)
		m.emit(Status{Kind: StatusPaused})
	}
}

// onDirective applies a server-pushed pause state change.
func (m *Machine) onDirective(ctx context.Context, pause bool) {
	st := m.Snapshot()
	if !st.Listening || st.Paused == pause {
		return
	}
	m.setPaused(pause)
	m.cancelTurn()
	m.openRecording(ctx)
	if pause {
		m.log.Info("paused by server directive")
		if m.metrics != nil {
			m.metrics.RecordPause(ctx, observe.PauseSourceServer)
		}
		m.emit(Status{Kind: StatusPaused})
	} else {
		m.log.Info("unpaused by server directive")
	}
}

// startSession acquires the device and opens the first recording.
func (m *Machine) startSession(ctx context.Context) {
	src, err := m.device.Acquire(ctx)
	if err != nil {
		m.log.Error("microphone acquisition failed", "error", err)
		m.emit(Status{Kind: StatusMicError, Detail: err.Error()})
		return
	}
	m.source = src
	m.setListening(true)
	if m.metrics != nil {
		m.metrics.Listening.Add(ctx, 1)
	}
	m.log.Info("microphone session started", "session_id", m.sessionID)
	m.openRecording(ctx)
}

// abortSession drops back to idle after an unrecoverable capture failure.
func (m *Machine) abortSession() {
	m.discardRecording()
	m.stopPlayback()
	m.setListening(false)
	m.setProcessing(false)
	m.setPaused(false)
	m.genInf++
	m.emit(Status{Kind: StatusMicError, Detail: "capture stream closed"})
	m.emit(Status{Kind: StatusIdle})
}

// canRecord reports whether a fresh recording should be open right now.
func (m *Machine) canRecord() bool {
	st := m.Snapshot()
	return st.Listening && !st.Processing && !m.speaking && m.source != nil
}

// openRecording discards any open recording, clears the utterance buffer,
// and starts a fresh one with a rearmed detector.
func (m *Machine) openRecording(ctx context.Context) {
	m.discardRecording()
	if m.source == nil {
		return
	}

	m.buf.Reset()
	rec, err := m.source.StartRecording()
	if err != nil {
		m.log.Error("recording restart failed", "error", err)
		m.setListening(false)
		if m.metrics != nil {
			m.metrics.Listening.Add(ctx, -1)
		}
		m.emit(Status{Kind: StatusMicError, Detail: err.Error()})
		return
	}
	m.rec = rec
	now := m.now()
	m.openedAt = now
	m.det.Reset(now)

	if !m.Snapshot().Paused {
		m.emit(Status{Kind: StatusListening})
	}
}

// discardRecording stops and drains an open recording without keeping its
// bytes.
func (m *Machine) discardRecording() {
	if m.rec == nil {
		return
	}
	if err := m.rec.Stop(); err != nil {
		m.log.Warn("recording stop failed", "error", err)
	}
	audio.Drain(m.rec.Chunks())
	m.rec = nil
}

// onFrame feeds one monitoring tick through the detector.
func (m *Machine) onFrame(ctx context.Context, f audio.Frame) {
	if m.rec == nil {
		// Monitoring only runs against an open recording.
		return
	}

	ev := m.det.Process(vad.RMS(f), m.now())
	switch ev.Type {
	case vad.EventSpeechStart:
		m.log.Debug("speech detected", "rms", ev.RMS)
		if !m.Snapshot().Paused {
			m.emit(Status{Kind: StatusHearing})
		}
	case vad.EventUtteranceEnd:
		m.finishUtterance(ctx, true)
	case vad.EventNoSpeech:
		m.finishUtterance(ctx, false)
	}
}

// finishUtterance closes the open recording and either submits its bytes or
// silently restarts listening when the utterance is degenerate.
func (m *Machine) finishUtterance(ctx context.Context, spoke bool) {
	if m.rec == nil {
		return
	}
	if err := m.rec.Stop(); err != nil {
		m.log.Warn("recording stop failed", "error", err)
	}
	// Synchronous drain: every flushed fragment lands in the buffer before
	// the size check.
	for c := range m.rec.Chunks() {
		m.buf.Append(c)
	}
	m.rec = nil

	if m.metrics != nil {
		m.metrics.UtteranceDuration.Record(ctx, m.now().Sub(m.openedAt).Seconds())
	}

	switch {
	case !spoke:
		m.log.Debug("no speech in window, restarting", "bytes", m.buf.Len())
		if m.metrics != nil {
			m.metrics.RecordUtterance(ctx, observe.OutcomeNoSpeech)
		}
		m.openRecording(ctx)

	case m.buf.Len() < m.cfg.MinUtteranceBytes:
		m.log.Debug("utterance below size floor, restarting",
			"bytes", m.buf.Len(), "floor", m.cfg.MinUtteranceBytes)
		if m.metrics != nil {
			m.metrics.RecordUtterance(ctx, observe.OutcomeTooShort)
		}
		m.openRecording(ctx)

	default:
		m.submit(ctx, m.buf.Bytes())
	}
}

// submit ships the utterance on a worker goroutine. The processing flag
// guarantees at most one outstanding call; its completion is matched against
// the generation captured here.
func (m *Machine) submit(ctx context.Context, data []byte) {
	m.setProcessing(true)
	m.genInf++
	gen := m.genInf
	m.submittedAt = m.now()

	m.log.Info("submitting utterance", "bytes", len(data))
	if m.metrics != nil {
		m.metrics.RecordUtterance(ctx, observe.OutcomeSubmitted)
	}
	if !m.Snapshot().Paused {
		m.emit(Status{Kind: StatusProcessing})
	}

	go func() {
		res, err := m.client.Submit(ctx, data, m.sessionID)
		select {
		case m.events <- event{kind: evInference, gen: gen, res: res, err: err}:
		case <-ctx.Done():
		}
	}()
}

// onInferenceDone applies a completed inference call, unless the turn it
// belonged to was cancelled in the meantime.
func (m *Machine) onInferenceDone(ctx context.Context, ev event) {
	if ev.gen != m.genInf || !m.Snapshot().Processing {
		m.log.Debug("dropping stale inference result")
		return
	}
	m.setProcessing(false)
	if m.metrics != nil {
		m.metrics.InferenceDuration.Record(ctx, m.now().Sub(m.submittedAt).Seconds())
	}

	if ev.err != nil {
		m.log.Error("inference failed", "error", ev.err)
		if m.metrics != nil {
			m.metrics.InferenceErrors.Add(ctx, 1)
		}
		m.emit(Status{Kind: StatusServerError, Detail: ev.err.Error()})
		m.openRecording(ctx)
		return
	}

	m.applyResult(ctx, ev.res)
}

// applyResult interprets one inference result. Directive precedence is
// fixed: skip, then pause command, then unpause command, then the ambient
// paused flag, then content.
func (m *Machine) applyResult(ctx context.Context, res *inference.Result) {
	switch {
	case res.Skip:
		m.log.Debug("reply skipped by service")
		if m.metrics != nil {
			m.metrics.RecordReply(ctx, observe.ReplySkip)
		}
		m.openRecording(ctx)

	case res.Command == inference.CommandPause:
		m.log.Info("paused by service command")
		m.setPaused(true)
		if m.metrics != nil {
			m.metrics.RecordReply(ctx, observe.ReplyPause)
			m.metrics.RecordPause(ctx, observe.PauseSourceServer)
		}
		m.openRecording(ctx)
		m.emit(Status{Kind: StatusPaused})

	case res.Command == inference.CommandUnpause:
		m.log.Info("unpaused by service command")
		m.setPaused(false)
		if m.metrics != nil {
			m.metrics.RecordReply(ctx, observe.ReplyUnpause)
		}
		m.openRecording(ctx)

	case res.Paused:
		m.log.Debug("service reports paused, holding")
		m.setPaused(true)
		if m.metrics != nil {
			m.metrics.RecordReply(ctx, observe.ReplyPaused)
		}
		m.openRecording(ctx)
		m.emit(Status{Kind: StatusPaused})

	default:
		// Content clears any lingering pause.
		m.setPaused(false)
		if m.metrics != nil {
			m.metrics.RecordReply(ctx, observe.ReplyContent)
		}
		if m.exchangeFn != nil && (res.Transcript != "" || res.Reply != "") {
			m.exchangeFn(Exchange{Transcript: res.Transcript, Reply: res.Reply})
		}
		if res.AudioURL != "" {
			m.startPlayback(ctx, res.AudioURL)
		} else {
			m.openRecording(ctx)
		}
	}
}

// startPlayback plays the reply audio on a worker goroutine. No recording is
// open while speaking.
func (m *Machine) startPlayback(ctx context.Context, url string) {
	m.mu.Lock()
	m.speaking = true
	m.mu.Unlock()
	m.genPlay++
	gen := m.genPlay
	m.playStart = m.now()

	m.log.Info("playing reply", "url", url)
	m.emit(Status{Kind: StatusSpeaking})

	go func() {
		err := m.player.Play(ctx, url)
		select {
		case m.events <- event{kind: evPlayback, gen: gen, err: err}:
		case <-ctx.Done():
		}
	}()
}

// onPlaybackDone resumes listening after playback, unless the playback was
// superseded by a stop.
func (m *Machine) onPlaybackDone(ctx context.Context, ev event) {
	if ev.gen != m.genPlay || !m.speaking {
		return
	}
	m.mu.Lock()
	m.speaking = false
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.PlaybackDuration.Record(ctx, m.now().Sub(m.playStart).Seconds())
	}

	if ev.err != nil {
		m.log.Error("playback failed", "error", ev.err)
		m.emit(Status{Kind: StatusPlaybackError, Detail: ev.err.Error()})
	}
	m.openRecording(ctx)
}

// cancelTurn abandons the turn in progress: the processing flag is cleared,
// any in-flight inference call is orphaned, and playback is stopped.
func (m *Machine) cancelTurn() {
	if m.Snapshot().Processing {
		m.setProcessing(false)
		m.genInf++
	}
	m.stopPlayback()
}

// stopPlayback interrupts reply audio, orphaning its completion event.
func (m *Machine) stopPlayback() {
	m.mu.Lock()
	speaking := m.speaking
	m.speaking = false
	m.mu.Unlock()
	if !speaking {
		return
	}
	m.genPlay++
	m.player.Stop()
}

// pingUnpause tells the service to clear its pause state, fire and forget.
func (m *Machine) pingUnpause(ctx context.Context) {
	timeout := m.cfg.ControlTimeout
	go func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := m.client.SubmitControl(pctx, m.sessionID, true); err != nil {
			m.log.Warn("unpause ping failed", "error", err)
		}
	}()
}

// shutdown releases everything the Run goroutine owns.
func (m *Machine) shutdown() {
	m.discardRecording()
	m.stopPlayback()
	if m.source != nil {
		if err := m.source.Close(); err != nil {
			m.log.Warn("source close failed", "error", err)
		}
		m.source = nil
	}
	m.setListening(false)
	m.setProcessing(false)
	m.log.Info("turn controller stopped")
}

func (m *Machine) setListening(v bool) {
	m.mu.Lock()
	m.state.Listening = v
	m.mu.Unlock()
}

func (m *Machine) setProcessing(v bool) {
	m.mu.Lock()
	m.state.Processing = v
	m.mu.Unlock()
}

func (m *Machine) setPaused(v bool) {
	m.mu.Lock()
	m.state.Paused = v
	m.mu.Unlock()
}

// emit forwards a status signal to the registered callback and logs it.
func (m *Machine) emit(s Status) {
	m.log.Debug("status", "kind", s.Kind.String(), "detail", s.Detail)
	if m.statusFn != nil {
		m.statusFn(s)
	}
}

// String implements fmt.Stringer over the snapshot for log convenience.
func (m *Machine) String() string {
	st := m.Snapshot()
	return fmt.Sprintf("turn.Machine{listening=%t processing=%t paused=%t}",
		st.Listening, st.Processing, st.Paused)
}
