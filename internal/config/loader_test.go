package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
remote:
  base_url: https://voice.example.com
  control_url: wss://voice.example.com/api/control
  request_timeout: 20s
  health_interval: 10s
  breaker:
    max_failures: 5
    cooldown: 30s
audio:
  input_device: "hw:1"
  sample_rate: 48000
  volume: 80
vad:
  volume_threshold: 0.01
  min_speech_frames: 6
  silence_hold: 1350ms
  max_wait_for_speech: 2s
  min_utterance_bytes: 2000
session:
  path: /tmp/voxloop.session
feedback:
  endpoint: https://voice.example.com/api/feedback
  spool_path: /tmp/feedback.jsonl
`

func TestLoadFromReaderValid(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Remote.RequestTimeout.Std() != 20*time.Second {
		t.Errorf("request_timeout = %v", cfg.Remote.RequestTimeout.Std())
	}
	if cfg.VAD.SilenceHold.Std() != 1350*time.Millisecond {
		t.Errorf("silence_hold = %v", cfg.VAD.SilenceHold.Std())
	}
	if cfg.VAD.MinUtteranceBytes != 2000 {
		t.Errorf("min_utterance_bytes = %d", cfg.VAD.MinUtteranceBytes)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("sample_rate = %d", cfg.Audio.SampleRate)
	}

	det := cfg.VAD.Detector()
	if det.VolumeThreshold != 0.01 || det.MinSpeechFrames != 6 {
		t.Errorf("Detector() = %+v", det)
	}
}

func TestLoadFromReaderDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader("remote:\n  base_url: http://localhost:3000\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("listen_addr = %q, want default", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Remote.HealthPath != DefaultHealthPath {
		t.Errorf("health_path = %q, want default", cfg.Remote.HealthPath)
	}
	if cfg.Remote.RequestTimeout.Std() != DefaultRequestTimeout {
		t.Errorf("request_timeout = %v, want default", cfg.Remote.RequestTimeout.Std())
	}
	if cfg.Audio.SampleRate != DefaultSampleRate || cfg.Audio.Volume != DefaultVolume {
		t.Errorf("audio defaults = %+v", cfg.Audio)
	}
	if cfg.Session.Path != DefaultSessionPath {
		t.Errorf("session path = %q, want default", cfg.Session.Path)
	}
}

func TestLoadFromReaderRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "remote:\n  base_url: http://x\n  shout: true\n",
			want: "decode yaml",
		},
		{
			name: "missing base url",
			yaml: "server:\n  log_level: info\n",
			want: "remote.base_url is required",
		},
		{
			name: "bad base url scheme",
			yaml: "remote:\n  base_url: ftp://voice.example.com\n",
			want: "must be an http(s) URL",
		},
		{
			name: "bad control url scheme",
			yaml: "remote:\n  base_url: http://x\n  control_url: http://x/control\n",
			want: "must be a ws(s) URL",
		},
		{
			name: "bad log level",
			yaml: "server:\n  log_level: loud\nremote:\n  base_url: http://x\n",
			want: "server.log_level",
		},
		{
			name: "volume out of range",
			yaml: "remote:\n  base_url: http://x\naudio:\n  volume: 150\n",
			want: "out of range",
		},
		{
			name: "threshold above one",
			yaml: "remote:\n  base_url: http://x\nvad:\n  volume_threshold: 1.5\n",
			want: "below 1.0",
		},
		{
			name: "malformed duration",
			yaml: "remote:\n  base_url: http://x\nvad:\n  silence_hold: fast\n",
			want: "parse duration",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("want error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Server: ServerConfig{LogLevel: "loud"},
		Audio:  AudioConfig{Volume: 200},
		VAD:    VADConfig{VolumeThreshold: -1},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("want joined error, got nil")
	}
	for _, frag := range []string{"server.log_level", "remote.base_url", "audio.volume", "vad.volume_threshold"} {
		if !strings.Contains(err.Error(), frag) {
			t.Errorf("joined error missing %q: %v", frag, err)
		}
	}
}
