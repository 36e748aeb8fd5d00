// Package config provides the configuration schema and loader for the
// voxloop client.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voxloop/voxloop/internal/vad"
)

// LogLevel controls log verbosity for the voxloop client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration with YAML decoding from strings like "1350ms".
type Duration time.Duration

// UnmarshalYAML decodes a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for voxloop.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Remote   RemoteConfig   `yaml:"remote"`
	Audio    AudioConfig    `yaml:"audio"`
	VAD      VADConfig      `yaml:"vad"`
	Session  SessionConfig  `yaml:"session"`
	Feedback FeedbackConfig `yaml:"feedback"`
}

// ServerConfig holds the local HTTP endpoint (health and metrics) and
// logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the local endpoint listens on
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// RemoteConfig describes the remote inference service.
type RemoteConfig struct {
	// BaseURL is the service root (e.g., "https://voice.example.com").
	BaseURL string `yaml:"base_url"`

	// ControlURL is the WebSocket endpoint for server-pushed directives.
	// Empty disables the control channel.
	ControlURL string `yaml:"control_url"`

	// HealthPath is the service health endpoint, joined to BaseURL.
	HealthPath string `yaml:"health_path"`

	// RequestTimeout bounds each inference call.
	RequestTimeout Duration `yaml:"request_timeout"`

	// HealthInterval is the poll cadence for the service health check.
	HealthInterval Duration `yaml:"health_interval"`

	// Breaker configures the circuit breaker in front of the service.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the inference circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the consecutive-failure count that opens the circuit.
	MaxFailures int `yaml:"max_failures"`

	// Cooldown is how long the circuit stays open before a probe.
	Cooldown Duration `yaml:"cooldown"`
}

// AudioConfig holds capture and playback settings.
type AudioConfig struct {
	// FFmpegBinary is the capture binary. Default: "ffmpeg".
	FFmpegBinary string `yaml:"ffmpeg_binary"`

	// FFplayBinary is the playback binary. Default: "ffplay".
	FFplayBinary string `yaml:"ffplay_binary"`

	// InputFormat overrides the ffmpeg input format (e.g., "alsa",
	// "avfoundation").
	InputFormat string `yaml:"input_format"`

	// InputDevice overrides the platform default capture device.
	InputDevice string `yaml:"input_device"`

	// SampleRate is the capture rate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// Volume is the playback volume in percent [0, 100]. Default: 100.
	Volume int `yaml:"volume"`
}

// VADConfig holds utterance segmentation thresholds.
type VADConfig struct {
	// VolumeThreshold is the RMS level above which a tick counts as signal.
	VolumeThreshold float64 `yaml:"volume_threshold"`

	// MinSpeechFrames is the consecutive-loud-tick gate before speech is
	// credited.
	MinSpeechFrames int `yaml:"min_speech_frames"`

	// SilenceHold is the quiet window after speech that ends the utterance.
	SilenceHold Duration `yaml:"silence_hold"`

	// MaxWaitForSpeech bounds how long a recording stays open with no
	// credited speech.
	MaxWaitForSpeech Duration `yaml:"max_wait_for_speech"`

	// MinUtteranceBytes is the minimum encoded size for a submission.
	MinUtteranceBytes int `yaml:"min_utterance_bytes"`
}

// Detector converts the YAML block to the detector's config. Zero fields
// fall through to the detector defaults.
func (v VADConfig) Detector() vad.Config {
	return vad.Config{
		VolumeThreshold:  v.VolumeThreshold,
		MinSpeechFrames:  v.MinSpeechFrames,
		SilenceHold:      v.SilenceHold.Std(),
		MaxWaitForSpeech: v.MaxWaitForSpeech.Std(),
	}
}

// SessionConfig holds the durable session identity settings.
type SessionConfig struct {
	// Path is the file where the session ID is persisted.
	Path string `yaml:"path"`
}

// FeedbackConfig holds user feedback submission settings.
type FeedbackConfig struct {
	// Endpoint is the feedback submission URL. Empty disables feedback.
	Endpoint string `yaml:"endpoint"`

	// SpoolPath is the local file where failed submissions are spooled.
	SpoolPath string `yaml:"spool_path"`
}
