// Package app wires all voxloop subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes them until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithDevice, WithPlayer, WithClient). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/control"
	"github.com/voxloop/voxloop/internal/feedback"
	"github.com/voxloop/voxloop/internal/health"
	"github.com/voxloop/voxloop/internal/inference"
	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/resilience"
	"github.com/voxloop/voxloop/internal/session"
	"github.com/voxloop/voxloop/internal/transcript"
	"github.com/voxloop/voxloop/internal/turn"
	"github.com/voxloop/voxloop/pkg/audio"
	audioffmpeg "github.com/voxloop/voxloop/pkg/audio/ffmpeg"
)

// Transcript retention for the in-memory conversation log.
const (
	transcriptMaxEntries = 50
	transcriptMaxAge     = time.Hour
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	log *slog.Logger

	sessionID string
	device    audio.Device
	player    audio.Player
	client    inference.Client
	metrics   *observe.Metrics

	machine  *turn.Machine
	poller   *health.Poller
	listener *control.Listener   // nil when the control channel is disabled
	reporter *feedback.Submitter // nil when feedback is disabled
	log2     *transcript.Log
	httpSrv  *http.Server

	lastStatus statusCell

	// closers are called in order during Shutdown.
	closers []func(ctx context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// statusCell holds the most recent turn status for the state endpoint.
type statusCell struct {
	mu sync.Mutex
	s  turn.Status
}

func (c *statusCell) set(s turn.Status) {
	c.mu.Lock()
	c.s = s
	c.mu.Unlock()
}

func (c *statusCell) get() turn.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevice injects a capture device instead of the ffmpeg backend.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithPlayer injects a player instead of the ffplay backend.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithClient injects an inference client instead of the HTTP one.
func WithClient(c inference.Client) Option {
	return func(a *App) { a.client = c }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics overrides the metric instruments, for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together: session identity,
// inference client behind its circuit breaker, capture and playback
// backends, the turn controller, the remote health poller, the optional
// control channel and feedback submitter, and the local HTTP surface.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// Session identity.
	id, err := session.LoadOrCreate(cfg.Session.Path)
	if err != nil {
		return nil, fmt.Errorf("app: session identity: %w", err)
	}
	a.sessionID = id

	// Inference client behind the circuit breaker.
	if a.client == nil {
		var bopts []resilience.Option
		if cfg.Remote.Breaker.MaxFailures > 0 {
			bopts = append(bopts, resilience.WithMaxFailures(cfg.Remote.Breaker.MaxFailures))
		}
		if cfg.Remote.Breaker.Cooldown > 0 {
			bopts = append(bopts, resilience.WithCooldown(cfg.Remote.Breaker.Cooldown.Std()))
		}
		breaker := resilience.NewBreaker("inference", bopts...)

		client, err := inference.New(cfg.Remote.BaseURL,
			inference.WithTimeout(cfg.Remote.RequestTimeout.Std()),
			inference.WithBreaker(breaker),
		)
		if err != nil {
			return nil, fmt.Errorf("app: inference client: %w", err)
		}
		a.client = client
	}

	// Audio backends.
	if a.device == nil {
		var dopts []audioffmpeg.Option
		if cfg.Audio.FFmpegBinary != "" {
			dopts = append(dopts, audioffmpeg.WithBinary(cfg.Audio.FFmpegBinary))
		}
		if cfg.Audio.InputFormat != "" || cfg.Audio.InputDevice != "" {
			dopts = append(dopts, audioffmpeg.WithInput(cfg.Audio.InputFormat, cfg.Audio.InputDevice))
		}
		if cfg.Audio.SampleRate > 0 {
			dopts = append(dopts, audioffmpeg.WithSampleRate(cfg.Audio.SampleRate))
		}
		a.device = audioffmpeg.NewDevice(dopts...)
	}
	if a.player == nil {
		var popts []audioffmpeg.PlayerOption
		if cfg.Audio.FFplayBinary != "" {
			popts = append(popts, audioffmpeg.WithPlayerBinary(cfg.Audio.FFplayBinary))
		}
		popts = append(popts, audioffmpeg.WithVolume(cfg.Audio.Volume))
		a.player = audioffmpeg.NewPlayer(popts...)
	}

	// Conversation log.
	a.log2 = transcript.NewLog(transcriptMaxEntries, transcriptMaxAge)

	// Turn controller.
	a.machine = turn.NewMachine(a.device, a.player, a.client, a.sessionID,
		turn.Config{
			VAD:               cfg.VAD.Detector(),
			MinUtteranceBytes: cfg.VAD.MinUtteranceBytes,
		},
		turn.WithLogger(a.log),
		turn.WithMetrics(a.metrics),
		turn.WithStatusFunc(a.lastStatus.set),
		turn.WithExchangeFunc(func(e turn.Exchange) {
			a.log2.Add(transcript.Entry{Transcript: e.Transcript, Reply: e.Reply})
			a.log.Info("exchange", "transcript", e.Transcript, "reply", e.Reply)
		}),
	)

	// Remote service health poller.
	a.poller = health.NewPoller(cfg.Remote.BaseURL+cfg.Remote.HealthPath,
		cfg.Remote.HealthInterval.Std(),
		health.WithLogger(a.log),
	)

	// Control channel (optional).
	if cfg.Remote.ControlURL != "" {
		listener, err := control.NewListener(cfg.Remote.ControlURL, a.sessionID,
			a.machine.Directive, control.WithLogger(a.log))
		if err != nil {
			return nil, fmt.Errorf("app: control listener: %w", err)
		}
		a.listener = listener
	}

	// Feedback submitter (optional).
	if cfg.Feedback.Endpoint != "" {
		reporter, err := feedback.NewSubmitter(cfg.Feedback.Endpoint, cfg.Feedback.SpoolPath,
			feedback.WithUserAgent("voxloop"))
		if err != nil {
			return nil, fmt.Errorf("app: feedback submitter: %w", err)
		}
		a.reporter = reporter
		a.closers = append(a.closers, reporter.Flush)
	}

	// Local HTTP surface.
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return a, nil
}

// SessionID returns the durable session identity.
func (a *App) SessionID() string { return a.sessionID }

// ToggleMic forwards the user's microphone toggle to the turn controller.
func (a *App) ToggleMic() { a.machine.ToggleMic() }

// Run starts all subsystem goroutines and blocks until ctx is cancelled or
// one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.machine.Run(gctx) })
	g.Go(func() error { return a.poller.Run(gctx) })
	if a.listener != nil {
		g.Go(func() error { return a.listener.Run(gctx) })
	}

	g.Go(func() error {
		err := a.httpSrv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(sctx)
	})

	a.log.Info("voxloop running",
		"session_id", a.sessionID,
		"listen_addr", a.cfg.Server.ListenAddr,
		"remote", a.cfg.Remote.BaseURL,
	)
	return g.Wait()
}

// Shutdown tears down remaining subsystems. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
