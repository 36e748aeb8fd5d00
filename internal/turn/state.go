package turn

// State is the conversation-wide flag set. It is created once at startup
// with all flags false and lives for the process lifetime. Only the
// [Machine] goroutine mutates it; other components observe it through
// [Machine.Snapshot] or react to [Status] signals.
type State struct {
	// Listening is true once the microphone session is active. When false,
	// no recording may be open.
	Listening bool

	// Processing is true while exactly one inference call is in flight.
	// The Machine's gate guarantees it is never true for two calls at once.
	Processing bool

	// Paused marks the server- or user-initiated pause mode. While paused
	// the microphone keeps running, but the service withholds replies until
	// unpaused.
	Paused bool
}

// Phase is the derived conversational phase, for status display and logs.
type Phase int

const (
	// PhaseIdle: microphone session not started.
	PhaseIdle Phase = iota

	// PhaseListening: recording open, awaiting speech or silence.
	PhaseListening

	// PhaseProcessing: inference call in flight.
	PhaseProcessing

	// PhaseSpeaking: reply audio playing.
	PhaseSpeaking
)

// String returns the human-readable name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseProcessing:
		return "processing"
	case PhaseSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}
