package turn

// StatusKind enumerates the signals the Machine emits toward the user
// surface. Listening-phase signals overwrite each other; error signals are
// informational and immediately followed by the recovery signal.
type StatusKind int

const (
	// StatusIdle: microphone session not started.
	StatusIdle StatusKind = iota

	// StatusListening: a fresh recording is open, waiting for speech.
	StatusListening

	// StatusHearing: speech confirmed in the open recording.
	StatusHearing

	// StatusProcessing: utterance submitted, awaiting the reply.
	StatusProcessing

	// StatusSpeaking: reply audio is playing.
	StatusSpeaking

	// StatusPaused: the conversation is paused; the microphone stays on.
	StatusPaused

	// StatusMicError: the capture device could not be acquired or restarted.
	StatusMicError

	// StatusServerError: the inference call failed.
	StatusServerError

	// StatusPlaybackError: reply audio could not be played.
	StatusPlaybackError
)

// String returns the signal name used in logs.
func (k StatusKind) String() string {
	switch k {
	case StatusIdle:
		return "idle"
	case StatusListening:
		return "listening"
	case StatusHearing:
		return "hearing"
	case StatusProcessing:
		return "processing"
	case StatusSpeaking:
		return "speaking"
	case StatusPaused:
		return "paused"
	case StatusMicError:
		return "mic_error"
	case StatusServerError:
		return "server_error"
	case StatusPlaybackError:
		return "playback_error"
	default:
		return "unknown"
	}
}

// Status is one emitted signal. Detail carries the error text for the error
// kinds and is empty otherwise.
type Status struct {
	Kind   StatusKind
	Detail string
}

// Exchange is one completed conversational turn: what the user said and what
// the service replied.
type Exchange struct {
	Transcript string
	Reply      string
}
