package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxloop/voxloop/internal/inference"
	infmock "github.com/voxloop/voxloop/internal/inference/mock"
	"github.com/voxloop/voxloop/pkg/audio"
	audiomock "github.com/voxloop/voxloop/pkg/audio/mock"
)

const tick = 16 * time.Millisecond

// fakeClock is a manually advanced time source safe for cross-goroutine use.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// pcmFrame builds a 20ms mono frame where every sample has the given value.
func pcmFrame(val int16) audio.Frame {
	data := make([]byte, 640)
	for i := 0; i < len(data); i += 2 {
		data[i] = byte(uint16(val))
		data[i+1] = byte(uint16(val) >> 8)
	}
	return audio.Frame{Data: data, SampleRate: 16000, Channels: 1}
}

func loudFrame() audio.Frame  { return pcmFrame(1000) }
func quietFrame() audio.Frame { return pcmFrame(0) }

// fixture wires a Machine to mocks and runs it on its own goroutine.
type fixture struct {
	t         *testing.T
	clock     *fakeClock
	dev       *audiomock.Device
	src       *audiomock.Source
	player    *audiomock.Player
	client    *infmock.Client
	machine   *Machine
	statuses  chan Status
	exchanges chan Exchange
}

func newFixture(t *testing.T, results ...*inference.Result) *fixture {
	t.Helper()

	f := &fixture{
		t:         t,
		clock:     &fakeClock{t: time.Unix(1000, 0)},
		src:       audiomock.NewSource(0),
		player:    &audiomock.Player{},
		client:    &infmock.Client{Results: results},
		statuses:  make(chan Status, 64),
		exchanges: make(chan Exchange, 16),
	}
	f.dev = &audiomock.Device{Source: f.src}

	f.machine = NewMachine(f.dev, f.player, f.client, "sess-test", Config{},
		WithClock(f.clock.Now),
		WithStatusFunc(func(s Status) {
			select {
			case f.statuses <- s:
			default:
			}
		}),
		WithExchangeFunc(func(e Exchange) {
			select {
			case f.exchanges <- e:
			default:
			}
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.machine.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("machine did not stop")
		}
	})
	return f
}

// waitStatus drains emitted statuses until kind appears.
func (f *fixture) waitStatus(kind StatusKind) Status {
	f.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-f.statuses:
			if s.Kind == kind {
				return s
			}
		case <-deadline:
			f.t.Fatalf("timed out waiting for status %v", kind)
			return Status{}
		}
	}
}

// waitFor polls cond until it holds.
func (f *fixture) waitFor(desc string, cond func() bool) {
	f.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	f.t.Fatalf("timed out waiting for %s", desc)
}

// waitRecording waits until the n-th recording (1-based) is open and
// returns it.
func (f *fixture) waitRecording(n int) *audiomock.Recording {
	f.t.Helper()
	f.waitFor("recording", func() bool { return f.src.RecordingCount() >= n })
	return f.src.RecordingAt(n - 1)
}

func (f *fixture) submits() []infmock.SubmitCall {
	subs, _ := f.client.Calls()
	return subs
}

// speak pushes enough sustained loud ticks to pass the speech gate.
func (f *fixture) speak() {
	for i := 0; i < 12; i++ {
		f.clock.Advance(tick)
		f.src.Push(loudFrame())
	}
}

// fallSilent pushes quiet ticks until the silence hold (or no-speech
// timeout) must have expired.
func (f *fixture) fallSilent(ticks int) {
	for i := 0; i < ticks; i++ {
		f.clock.Advance(tick)
		f.src.Push(quietFrame())
	}
}

// utter runs one complete spoken utterance carrying bytes encoded chunk
// bytes, through speech and the trailing silence.
func (f *fixture) utter(rec *audiomock.Recording, bytes int) {
	f.t.Helper()
	rec.PushChunk(make([]byte, bytes))
	f.speak()
	f.fallSilent(120)
}

func TestMachineStartSession(t *testing.T) {
	f := newFixture(t)

	f.machine.ToggleMic()
	f.waitStatus(StatusListening)
	f.waitRecording(1)

	if got := f.dev.Acquisitions(); got != 1 {
		t.Errorf("device acquired %d times, want 1", got)
	}
	st := f.machine.Snapshot()
	if !st.Listening || st.Processing || st.Paused {
		t.Errorf("state = %+v, want listening only", st)
	}
}

func TestMachineSubmitsUtterance(t *testing.T) {
	f := newFixture(t, &inference.Result{Transcript: "hello", Reply: "hi there"})

	f.machine.ToggleMic()
	rec := f.waitRecording(1)

	f.utter(rec, 2000)
	f.waitStatus(StatusHearing)

	f.waitFor("submission", func() bool { return len(f.submits()) == 1 })
	sub := f.submits()[0]
	if len(sub.Utterance) != 2000 {
		t.Errorf("submitted %d bytes, want 2000", len(sub.Utterance))
	}
	if sub.SessionID != "sess-test" {
		t.Errorf("session_id = %q, want sess-test", sub.SessionID)
	}

	select {
	case ex := <-f.exchanges:
		if ex.Transcript != "hello" || ex.Reply != "hi there" {
			t.Errorf("exchange = %+v", ex)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no exchange emitted")
	}

	// Listening resumes on a fresh recording.
	f.waitRecording(2)
	f.waitStatus(StatusListening)
}

func TestMachineNoSpeechTimeout(t *testing.T) {
	f := newFixture(t)

	f.machine.ToggleMic()
	rec := f.waitRecording(1)
	rec.PushChunk(make([]byte, 4000))

	// 150 quiet ticks is well past the 2s no-speech window.
	f.fallSilent(150)

	f.waitRecording(2)
	if got := len(f.submits()); got != 0 {
		t.Errorf("%d submissions for a silent window, want 0", got)
	}
}

func TestMachineDiscardsShortUtterance(t *testing.T) {
	f := newFixture(t)

	f.machine.ToggleMic()
	rec := f.waitRecording(1)

	// Real speech, but the encoded payload is below the submission floor.
	f.utter(rec, 900)

	f.waitRecording(2)
	if got := len(f.submits()); got != 0 {
		t.Errorf("%d submissions below the size floor, want 0", got)
	}
}

func TestMachineSkipReply(t *testing.T) {
	f := newFixture(t, &inference.Result{Skip: true})

	f.machine.ToggleMic()
	rec := f.waitRecording(1)
	f.utter(rec, 2000)

	f.waitRecording(2)
	select {
	case ex := <-f.exchanges:
		t.Fatalf("exchange %+v emitted for a skipped reply", ex)
	case <-time.After(50 * time.Millisecond):
	}
	if st := f.machine.Snapshot(); st.Paused {
		t.Error("skip must not pause the conversation")
	}
}

func TestMachinePauseCommandAndUnpauseToggle(t *testing.T) {
	f := newFixture(t, &inference.Result{Command: inference.CommandPause})

	f.machine.ToggleMic()
	rec := f.waitRecording(1)
	f.utter(rec, 2000)

	f.waitStatus(StatusPaused)
	f.waitFor("paused state", func() bool { return f.machine.Snapshot().Paused })
	// Recording continues under pause.
	f.waitRecording(2)

	// The toggle now unpauses and pings the service.
	f.machine.ToggleMic()
	f.waitStatus(StatusListening)
	f.waitFor("unpause ping", func() bool {
		_, ctrls := f.client.Calls()
		return len(ctrls) == 1
	})
	_, ctrls := f.client.Calls()
	if !ctrls[0].ForceUnpause || ctrls[0].SessionID != "sess-test" {
		t.Errorf("control call = %+v", ctrls[0])
	}
	if f.machine.Snapshot().Paused {
		t.Error("still paused after unpause toggle")
	}
	if got := f.dev.Acquisitions(); got != 1 {
		t.Errorf("device acquired %d times across toggles, want 1", got)
	}
}

func TestMachineAmbientPausedThenContent(t *testing.T) {
	f := newFixture(t,
		&inference.Result{Paused: true},
		&inference.Result{Transcript: "back", Reply: "welcome back"},
	)

	f.machine.ToggleMic()
	rec := f.waitRecording(1)
	f.utter(rec, 2000)
	f.waitStatus(StatusPaused)

	// Utterances keep flowing while paused; a content reply clears the pause.
	rec2 := f.waitRecording(2)
	f.utter(rec2, 2000)

	f.waitFor("second submission", func() bool { return len(f.submits()) == 2 })
	select {
	case ex := <-f.exchanges:
		if ex.Reply != "welcome back" {
			t.Errorf("exchange = %+v", ex)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no exchange after content reply")
	}
	f.waitStatus(StatusListening)
	if f.machine.Snapshot().Paused {
		t.Error("content reply must clear the pause")
	}
}

func TestMachinePlaysReplyAudio(t *testing.T) {
	f := newFixture(t, &inference.Result{
		Transcript: "question", Reply: "answer", AudioURL: "http://svc/reply.mp3",
	})
	f.player.Block = true

	f.machine.ToggleMic()
	rec := f.waitRecording(1)
	f.utter(rec, 2000)

	f.waitStatus(StatusSpeaking)
	f.waitFor("playback start", func() bool { return len(f.player.Plays()) == 1 })
	if url := f.player.Plays()[0].URL; url != "http://svc/reply.mp3" {
		t.Errorf("played %q", url)
	}
	// No recording is open while the reply plays.
	if got := f.src.RecordingCount(); got != 1 {
		t.Errorf("recording opened during playback: count = %d", got)
	}

	f.player.Release()
	f.waitRecording(2)
	f.waitStatus(StatusListening)
}

func TestMachineToggleDuringPlayback(t *testing.T) {
	f := newFixture(t, &inference.Result{Reply: "long answer", AudioURL: "http://svc/a.mp3"})
	f.player.Block = true

	f.machine.ToggleMic()
	rec := f.waitRecording(1)
	f.utter(rec, 2000)
	f.waitStatus(StatusSpeaking)

	f.machine.ToggleMic()
	f.waitStatus(StatusPaused)
	f.waitFor("player stop", func() bool { return f.player.Stops() >= 1 })
	f.waitRecording(2)
	if !f.machine.Snapshot().Paused {
		t.Error("toggle during playback must pause")
	}
}

func TestMachineInferenceError(t *testing.T) {
	f := newFixture(t)
	f.client.SubmitErr = errors.New("service unavailable")

	f.machine.ToggleMic()
	rec := f.waitRecording(1)
	f.utter(rec, 2000)

	f.waitStatus(StatusServerError)
	f.waitStatus(StatusListening)
	f.waitRecording(2)
	if st := f.machine.Snapshot(); st.Processing {
		t.Error("processing flag stuck after a failed call")
	}
}

func TestMachineMicAcquisitionFailure(t *testing.T) {
	f := newFixture(t)
	f.dev.AcquireErr = errors.New("no capture device")

	f.machine.ToggleMic()
	f.waitStatus(StatusMicError)
	if st := f.machine.Snapshot(); st.Listening {
		t.Error("listening after a failed acquisition")
	}
	if got := f.src.RecordingCount(); got != 0 {
		t.Errorf("%d recordings opened without a device", got)
	}
}

func TestMachineServerDirectives(t *testing.T) {
	f := newFixture(t)

	f.machine.ToggleMic()
	f.waitRecording(1)
	f.waitStatus(StatusListening)

	f.machine.Directive(true)
	f.waitStatus(StatusPaused)
	f.waitFor("paused", func() bool { return f.machine.Snapshot().Paused })

	f.machine.Directive(false)
	f.waitStatus(StatusListening)
	f.waitFor("resumed", func() bool { return !f.machine.Snapshot().Paused })
}

func TestMachineSingleInFlightCall(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t,
		&inference.Result{Transcript: "one", Reply: "r1"},
		&inference.Result{Transcript: "two", Reply: "r2"},
	)
	f.client.Gate = gate

	f.machine.ToggleMic()
	rec := f.waitRecording(1)
	f.utter(rec, 2000)

	f.waitFor("first submission", func() bool { return len(f.submits()) == 1 })
	f.waitFor("processing", func() bool { return f.machine.Snapshot().Processing })

	// While the call is held in flight, no new recording opens and nothing
	// else can be submitted.
	time.Sleep(50 * time.Millisecond)
	if got := f.src.RecordingCount(); got != 1 {
		t.Errorf("recording opened while processing: count = %d", got)
	}

	// Pausing abandons the turn; the held call's result must be discarded.
	f.machine.ToggleMic()
	f.waitStatus(StatusPaused)
	close(gate)

	select {
	case ex := <-f.exchanges:
		t.Fatalf("stale result surfaced as exchange %+v", ex)
	case <-time.After(100 * time.Millisecond):
	}

	// Unpause and speak again: the next turn proceeds normally.
	f.machine.ToggleMic()
	f.waitStatus(StatusListening)
	f.waitFor("fresh recording", func() bool { return f.src.RecordingCount() >= 3 })
	rec3 := f.src.RecordingAt(f.src.RecordingCount() - 1)
	f.utter(rec3, 2000)

	f.waitFor("second submission", func() bool { return len(f.submits()) == 2 })
	select {
	case ex := <-f.exchanges:
		if ex.Transcript != "two" {
			t.Errorf("exchange = %+v, want the second turn's result", ex)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second turn produced no exchange")
	}
}
