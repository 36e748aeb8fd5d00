// Package control maintains the WebSocket control channel to the remote
// service. The service pushes pause and unpause directives over it, letting
// operators mute a conversation without waiting for the next submission.
//
// The channel is advisory: when it is down, directives still arrive inline
// with inference results, so the listener reconnects quietly in the
// background with capped exponential backoff.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/coder/websocket"

	"github.com/voxloop/voxloop/internal/inference"
)

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// directive is the wire format of one pushed message.
type directive struct {
	Command string `json:"command"`
}

// Listener connects to the control endpoint and forwards directives to the
// handler. Create with [NewListener] and drive with [Run].
type Listener struct {
	url       string
	sessionID string
	handler   func(pause bool)
	log       *slog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option is a functional option for configuring the Listener.
type Option func(*Listener)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(ls *Listener) { ls.log = l }
}

// WithBackoff overrides the reconnect backoff bounds.
func WithBackoff(initial, max time.Duration) Option {
	return func(ls *Listener) {
		ls.initialBackoff = initial
		ls.maxBackoff = max
	}
}

// NewListener creates a Listener for the given ws(s) endpoint. handler is
// invoked on the listener goroutine for every directive and must not block.
func NewListener(endpoint, sessionID string, handler func(pause bool), opts ...Option) (*Listener, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("control: endpoint must not be empty")
	}
	if handler == nil {
		return nil, fmt.Errorf("control: handler must not be nil")
	}
	l := &Listener{
		url:            endpoint,
		sessionID:      sessionID,
		handler:        handler,
		log:            slog.Default(),
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Run connects and listens until ctx is cancelled, reconnecting with capped
// exponential backoff. The backoff resets after every successful dial.
func (l *Listener) Run(ctx context.Context) error {
	backoff := l.initialBackoff
	for {
		conn, _, err := websocket.Dial(ctx, l.dialURL(), nil)
		if err == nil {
			backoff = l.initialBackoff
			l.log.Info("control channel connected", "url", l.url)
			err = l.readLoop(ctx, conn)
			conn.Close(websocket.StatusNormalClosure, "listener stopped")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.log.Warn("control channel disconnected", "error", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, l.maxBackoff)
	}
}

// dialURL appends the session identity so the service can route directives.
func (l *Listener) dialURL() string {
	return l.url + "?session_id=" + url.QueryEscape(l.sessionID)
}

// readLoop receives JSON directives until the connection fails.
func (l *Listener) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var d directive
		if err := json.Unmarshal(msg, &d); err != nil {
			l.log.Warn("undecodable control message", "error", err)
			continue
		}
		switch d.Command {
		case inference.CommandPause:
			l.handler(true)
		case inference.CommandUnpause:
			l.handler(false)
		default:
			l.log.Debug("ignoring unknown control command", "command", d.Command)
		}
	}
}
