package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Load] for fields left empty.
const (
	DefaultListenAddr     = ":8080"
	DefaultHealthPath     = "/api/health"
	DefaultRequestTimeout = 30 * time.Second
	DefaultHealthInterval = 30 * time.Second
	DefaultSampleRate     = 16000
	DefaultVolume         = 100
	DefaultSessionPath    = "voxloop.session"
	DefaultSpoolPath      = "feedback.spool.jsonl"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills empty fields in place.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Remote.HealthPath == "" {
		cfg.Remote.HealthPath = DefaultHealthPath
	}
	if cfg.Remote.RequestTimeout <= 0 {
		cfg.Remote.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if cfg.Remote.HealthInterval <= 0 {
		cfg.Remote.HealthInterval = Duration(DefaultHealthInterval)
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.Volume == 0 {
		cfg.Audio.Volume = DefaultVolume
	}
	if cfg.Session.Path == "" {
		cfg.Session.Path = DefaultSessionPath
	}
	if cfg.Feedback.SpoolPath == "" {
		cfg.Feedback.SpoolPath = DefaultSpoolPath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Remote service
	if cfg.Remote.BaseURL == "" {
		errs = append(errs, errors.New("remote.base_url is required"))
	} else if u, err := url.Parse(cfg.Remote.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("remote.base_url %q must be an http(s) URL", cfg.Remote.BaseURL))
	}
	if cfg.Remote.ControlURL != "" {
		if u, err := url.Parse(cfg.Remote.ControlURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("remote.control_url %q must be a ws(s) URL", cfg.Remote.ControlURL))
		}
	} else {
		slog.Warn("remote.control_url is empty; server-pushed pause directives are disabled")
	}
	if cfg.Remote.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("remote.breaker.max_failures %d must not be negative", cfg.Remote.Breaker.MaxFailures))
	}
	if cfg.Remote.Breaker.Cooldown < 0 {
		errs = append(errs, errors.New("remote.breaker.cooldown must not be negative"))
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Volume < 0 || cfg.Audio.Volume > 100 {
		errs = append(errs, fmt.Errorf("audio.volume %d is out of range [0, 100]", cfg.Audio.Volume))
	}

	// VAD
	if cfg.VAD.VolumeThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad.volume_threshold %.4f must not be negative", cfg.VAD.VolumeThreshold))
	}
	if cfg.VAD.VolumeThreshold >= 1 {
		errs = append(errs, fmt.Errorf("vad.volume_threshold %.4f must be below 1.0 (RMS of a normalised signal)", cfg.VAD.VolumeThreshold))
	}
	if cfg.VAD.MinSpeechFrames < 0 {
		errs = append(errs, fmt.Errorf("vad.min_speech_frames %d must not be negative", cfg.VAD.MinSpeechFrames))
	}
	if cfg.VAD.SilenceHold < 0 {
		errs = append(errs, errors.New("vad.silence_hold must not be negative"))
	}
	if cfg.VAD.MaxWaitForSpeech < 0 {
		errs = append(errs, errors.New("vad.max_wait_for_speech must not be negative"))
	}
	if cfg.VAD.MinUtteranceBytes < 0 {
		errs = append(errs, fmt.Errorf("vad.min_utterance_bytes %d must not be negative", cfg.VAD.MinUtteranceBytes))
	}

	// Feedback
	if cfg.Feedback.Endpoint == "" {
		slog.Warn("feedback.endpoint is empty; user feedback submission is disabled")
	} else if u, err := url.Parse(cfg.Feedback.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("feedback.endpoint %q must be an http(s) URL", cfg.Feedback.Endpoint))
	}

	return errors.Join(errs...)
}
