// Package mock provides a test double for the inference.Client interface.
//
// Script responses by appending to Results; each Submit call pops the next
// entry. Inspect SubmitCalls and ControlCalls to verify what was sent.
package mock

import (
	"context"
	"sync"

	"github.com/voxloop/voxloop/internal/inference"
)

// SubmitCall records a single invocation of Client.Submit.
type SubmitCall struct {
	// Utterance is a copy of the bytes passed to Submit.
	Utterance []byte

	// SessionID is the session identifier passed to Submit.
	SessionID string
}

// ControlCall records a single invocation of Client.SubmitControl.
type ControlCall struct {
	// SessionID is the session identifier passed to SubmitControl.
	SessionID string

	// ForceUnpause is the directive flag passed to SubmitControl.
	ForceUnpause bool
}

// Client is a mock implementation of inference.Client.
type Client struct {
	mu sync.Mutex

	// Results are returned by successive Submit calls in order. When the
	// queue is exhausted, Submit returns an empty Result.
	Results []*inference.Result

	// SubmitErr, if non-nil, is returned by every Submit call.
	SubmitErr error

	// ControlErr, if non-nil, is returned by every SubmitControl call.
	ControlErr error

	// Gate, if non-nil, makes Submit block (after recording the call) until
	// the channel is closed or the context is cancelled. Useful for holding a
	// call in flight.
	Gate <-chan struct{}

	// SubmitCalls records every call to Submit in order.
	SubmitCalls []SubmitCall

	// ControlCalls records every call to SubmitControl in order.
	ControlCalls []ControlCall
}

// Submit records the call, optionally blocks on Gate, and pops the next
// scripted result.
func (c *Client) Submit(ctx context.Context, utterance []byte, sessionID string) (*inference.Result, error) {
	c.mu.Lock()
	cp := make([]byte, len(utterance))
	copy(cp, utterance)
	c.SubmitCalls = append(c.SubmitCalls, SubmitCall{Utterance: cp, SessionID: sessionID})

	gate := c.Gate
	submitErr := c.SubmitErr
	var res *inference.Result
	if len(c.Results) > 0 {
		res = c.Results[0]
		c.Results = c.Results[1:]
	}
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if submitErr != nil {
		return nil, submitErr
	}
	if res == nil {
		return &inference.Result{}, nil
	}
	return res, nil
}

// SubmitControl records the call and returns ControlErr.
func (c *Client) SubmitControl(_ context.Context, sessionID string, forceUnpause bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ControlCalls = append(c.ControlCalls, ControlCall{SessionID: sessionID, ForceUnpause: forceUnpause})
	return c.ControlErr
}

// Calls returns snapshots of the recorded submit and control calls.
func (c *Client) Calls() ([]SubmitCall, []ControlCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := make([]SubmitCall, len(c.SubmitCalls))
	copy(subs, c.SubmitCalls)
	ctrls := make([]ControlCall, len(c.ControlCalls))
	copy(ctrls, c.ControlCalls)
	return subs, ctrls
}

// Ensure Client implements inference.Client at compile time.
var _ inference.Client = (*Client)(nil)
