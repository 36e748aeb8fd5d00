package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// probeTimeout bounds a single health probe.
const probeTimeout = 5 * time.Second

// Poller periodically probes the remote service health endpoint and tracks
// whether the service is reachable. Transitions are logged and reported to
// the optional change callback; the current state feeds the local readiness
// probe through [Poller.Checker].
type Poller struct {
	url      string
	interval time.Duration
	httpc    *http.Client
	log      *slog.Logger
	onChange func(online bool)

	online atomic.Bool
	probed atomic.Bool
}

// PollerOption is a functional option for configuring the Poller.
type PollerOption func(*Poller)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(c *http.Client) PollerOption {
	return func(p *Poller) { p.httpc = c }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) { p.log = l }
}

// WithOnChange registers a callback invoked on every online/offline
// transition. The callback runs on the poller goroutine and must not block.
func WithOnChange(fn func(online bool)) PollerOption {
	return func(p *Poller) { p.onChange = fn }
}

// NewPoller creates a Poller that probes url every interval.
func NewPoller(url string, interval time.Duration, opts ...PollerOption) *Poller {
	p := &Poller{
		url:      url,
		interval: interval,
		httpc:    &http.Client{Timeout: probeTimeout},
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run probes immediately and then on every interval tick until ctx is
// cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

// Online reports the result of the most recent probe. Before the first probe
// completes it returns false.
func (p *Poller) Online() bool { return p.online.Load() }

// Checker returns a readiness check that fails while the service is
// unreachable.
func (p *Poller) Checker() Checker {
	return Checker{
		Name: "remote",
		Check: func(context.Context) error {
			if !p.probed.Load() {
				return errors.New("remote service not yet probed")
			}
			if !p.online.Load() {
				return errors.New("remote service offline")
			}
			return nil
		},
	}
}

// probe performs one health check and records the transition, if any.
func (p *Poller) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := p.check(pctx)
	nowOnline := err == nil

	first := !p.probed.Swap(true)
	wasOnline := p.online.Swap(nowOnline)
	if !first && wasOnline == nowOnline {
		return
	}

	if nowOnline {
		p.log.Info("remote service online", "url", p.url)
	} else {
		p.log.Warn("remote service offline", "url", p.url, "error", err)
	}
	if p.onChange != nil {
		p.onChange(nowOnline)
	}
}

// check performs the HTTP probe itself.
func (p *Poller) check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
