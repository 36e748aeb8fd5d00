// Package feedback submits user feedback to the remote service. Submissions
// that fail are spooled as append-only JSON lines in a local file and retried
// on the next submission attempt, so reports survive offline periods.
package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// Report is a single feedback entry.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Feedback  string    `json:"feedback"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// Submitter ships feedback reports to an HTTP endpoint, spooling failures to
// a local file. Thread-safe for concurrent use.
type Submitter struct {
	endpoint  string
	spoolPath string
	userAgent string
	httpc     *http.Client
	now       func() time.Time

	mu sync.Mutex
}

// Option is a functional option for configuring the Submitter.
type Option func(*Submitter)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Submitter) { s.httpc = c }
}

// WithUserAgent sets the user_agent field attached to every report.
func WithUserAgent(ua string) Option {
	return func(s *Submitter) { s.userAgent = ua }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Submitter) { s.now = now }
}

// NewSubmitter creates a Submitter posting to endpoint and spooling failed
// reports at spoolPath.
func NewSubmitter(endpoint, spoolPath string, opts ...Option) (*Submitter, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("feedback: endpoint must not be empty")
	}
	s := &Submitter{
		endpoint:  endpoint,
		spoolPath: spoolPath,
		httpc:     &http.Client{Timeout: 15 * time.Second},
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Submit ships one feedback report. Spooled reports from earlier failures
// are flushed first; if the new report cannot be delivered it is appended to
// the spool and the error is returned.
func (s *Submitter) Submit(ctx context.Context, sessionID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flushLocked(ctx); err != nil {
		// The service is unreachable; spool the new report behind the rest.
		r := s.newReport(sessionID, text)
		if serr := s.spoolLocked(r); serr != nil {
			return fmt.Errorf("feedback: submit: %w (spool also failed: %v)", err, serr)
		}
		return fmt.Errorf("feedback: submit: %w", err)
	}

	r := s.newReport(sessionID, text)
	if err := s.post(ctx, r); err != nil {
		if serr := s.spoolLocked(r); serr != nil {
			return fmt.Errorf("feedback: submit: %w (spool also failed: %v)", err, serr)
		}
		return fmt.Errorf("feedback: submit: %w", err)
	}
	return nil
}

// Flush retries every spooled report, removing the spool on success.
func (s *Submitter) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// Pending returns the number of spooled reports awaiting delivery.
func (s *Submitter) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	reports, err := s.readSpool()
	if err != nil {
		return 0
	}
	return len(reports)
}

func (s *Submitter) newReport(sessionID, text string) Report {
	return Report{
		Timestamp: s.now().UTC(),
		SessionID: sessionID,
		Feedback:  text,
		UserAgent: s.userAgent,
	}
}

// flushLocked delivers spooled reports in order. On the first failure the
// undelivered remainder is written back. Must be called with s.mu held.
func (s *Submitter) flushLocked(ctx context.Context) error {
	reports, err := s.readSpool()
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		return nil
	}

	for i, r := range reports {
		if err := s.post(ctx, r); err != nil {
			if werr := s.writeSpool(reports[i:]); werr != nil {
				return fmt.Errorf("flush spool: %w (rewrite also failed: %v)", err, werr)
			}
			return fmt.Errorf("flush spool: %w", err)
		}
	}
	return os.Remove(s.spoolPath)
}

// spoolLocked appends one report to the spool file. Must be called with
// s.mu held.
func (s *Submitter) spoolLocked(r Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(s.spoolPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write spool: %w", err)
	}
	return nil
}

// readSpool loads all spooled reports. A missing spool file is empty, not an
// error.
func (s *Submitter) readSpool() ([]Report, error) {
	data, err := os.ReadFile(s.spoolPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read spool: %w", err)
	}

	var reports []Report
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var r Report
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("decode spool: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// writeSpool replaces the spool file with the given reports.
func (s *Submitter) writeSpool(reports []Report) error {
	if len(reports) == 0 {
		return os.Remove(s.spoolPath)
	}
	buf := &bytes.Buffer{}
	for _, r := range reports {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return os.WriteFile(s.spoolPath, buf.Bytes(), 0o644)
}

// post delivers one report as JSON.
func (s *Submitter) post(ctx context.Context, r Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
