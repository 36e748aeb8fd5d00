// Package inference provides the client for the remote inference service.
//
// One utterance (or a zero-audio control ping) is shipped per call as a
// multipart submission; the service answers with a structured JSON result
// carrying either conversation content (transcript, reply, reply audio URL)
// or a directive (skip, pause/unpause command, ambient paused flag).
//
// The client performs no retries and surfaces every failure — transport
// error, non-2xx status, open circuit breaker — as one generic error. The
// turn controller must not distinguish failure causes beyond "recoverable";
// exclusivity (at most one outstanding Submit) is likewise enforced by the
// controller's processing gate, not here.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/voxloop/voxloop/internal/resilience"
)

// Directive command values the service may return.
const (
	CommandPause   = "pause"
	CommandUnpause = "unpause"
)

const (
	conversePath   = "/api/converse"
	defaultTimeout = 30 * time.Second
)

// Result is the parsed response to one submission. At most one of the
// directive fields (Skip, Command, Paused) or the content fields
// (Transcript, Reply, AudioURL) is authoritative; the turn controller
// applies them in its documented precedence order.
type Result struct {
	// Transcript is the service's transcription of the submitted utterance.
	Transcript string `json:"transcript"`

	// Reply is the assistant's textual reply.
	Reply string `json:"reply"`

	// AudioURL points at the synthesized reply audio, when available.
	AudioURL string `json:"audio_url"`

	// Command is an explicit pause/unpause directive.
	Command string `json:"command"`

	// Paused is the ambient server-side pause flag, distinct from an
	// explicit Command.
	Paused bool `json:"paused"`

	// Skip tells the client to drop this turn without any output.
	Skip bool `json:"skip"`
}

// Client is the interface the turn controller talks to. It exists so tests
// can substitute the mock subpackage.
type Client interface {
	// Submit ships one utterance and returns the parsed result.
	Submit(ctx context.Context, utterance []byte, sessionID string) (*Result, error)

	// SubmitControl sends a zero-audio control ping, used to clear
	// server-side pause state after a manual unpause.
	SubmitControl(ctx context.Context, sessionID string, forceUnpause bool) error
}

// Option is a functional option for configuring the HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.httpc = c }
}

// WithTimeout sets the per-call timeout. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(h *HTTPClient) { h.httpc.Timeout = d }
}

// WithBreaker routes calls through a circuit breaker. When the breaker is
// open, calls fail fast without touching the network.
func WithBreaker(b *resilience.Breaker) Option {
	return func(h *HTTPClient) { h.breaker = b }
}

// HTTPClient implements [Client] against the service's multipart endpoint.
// It is safe for concurrent use, though the turn controller never overlaps
// Submit calls.
type HTTPClient struct {
	baseURL string
	httpc   *http.Client
	breaker *resilience.Breaker
}

// New creates an HTTPClient for the service at baseURL. baseURL must be
// non-empty; a trailing slash is tolerated.
func New(baseURL string, opts ...Option) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("inference: baseURL must not be empty")
	}
	h := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Submit posts the utterance bytes and session ID as a multipart form and
// parses the JSON result.
func (h *HTTPClient) Submit(ctx context.Context, utterance []byte, sessionID string) (*Result, error) {
	var res *Result
	err := h.execute(ctx, func(ctx context.Context) error {
		var callErr error
		res, callErr = h.post(ctx, utterance, sessionID, false)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SubmitControl posts a zero-audio ping. The result body is discarded; only
// transport success matters.
func (h *HTTPClient) SubmitControl(ctx context.Context, sessionID string, forceUnpause bool) error {
	return h.execute(ctx, func(ctx context.Context) error {
		_, callErr := h.post(ctx, nil, sessionID, forceUnpause)
		return callErr
	})
}

// execute runs fn through the breaker when one is configured.
func (h *HTTPClient) execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if h.breaker == nil {
		return fn(ctx)
	}
	return h.breaker.Execute(ctx, fn)
}

// post builds the multipart submission, performs the request, and decodes
// the response.
func (h *HTTPClient) post(ctx context.Context, utterance []byte, sessionID string, forceUnpause bool) (*Result, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	fw, err := mw.CreateFormFile("audio", "utterance.wav")
	if err != nil {
		return nil, fmt.Errorf("inference: build form: %w", err)
	}
	if _, err := fw.Write(utterance); err != nil {
		return nil, fmt.Errorf("inference: build form: %w", err)
	}
	if err := mw.WriteField("session_id", sessionID); err != nil {
		return nil, fmt.Errorf("inference: build form: %w", err)
	}
	if forceUnpause {
		if err := mw.WriteField("force_unpause", "1"); err != nil {
			return nil, fmt.Errorf("inference: build form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("inference: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+conversePath, body)
	if err != nil {
		return nil, fmt.Errorf("inference: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := h.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference: submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little for connection reuse; the body content is not
		// part of the contract on failure.
		_, _ = io.CopyN(io.Discard, resp.Body, 512)
		return nil, fmt.Errorf("inference: submit: unexpected status %d", resp.StatusCode)
	}

	res := &Result{}
	if err := json.NewDecoder(resp.Body).Decode(res); err != nil {
		return nil, fmt.Errorf("inference: decode response: %w", err)
	}
	return res, nil
}

// Ensure HTTPClient implements Client at compile time.
var _ Client = (*HTTPClient)(nil)
