package inference

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/voxloop/voxloop/internal/resilience"
)

// received captures what the test server saw in the last request.
type received struct {
	audio        []byte
	sessionID    string
	forceUnpause string
}

// newTestServer returns a server that answers body and records the parsed
// multipart fields into rec.
func newTestServer(t *testing.T, status int, body string, rec *received) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if f, _, err := r.FormFile("audio"); err == nil {
			rec.audio, _ = io.ReadAll(f)
			f.Close()
		}
		rec.sessionID = r.FormValue("session_id")
		rec.forceUnpause = r.FormValue("force_unpause")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	rec := &received{}
	srv := newTestServer(t, http.StatusOK,
		`{"transcript":"hello there","reply":"hi!","audio_url":"http://example.com/reply.mp3"}`, rec)
	defer srv.Close()

	client, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := client.Submit(context.Background(), []byte("RIFF-audio-bytes"), "sess-42")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if string(rec.audio) != "RIFF-audio-bytes" {
		t.Errorf("audio field = %q, want the utterance bytes", rec.audio)
	}
	if rec.sessionID != "sess-42" {
		t.Errorf("session_id = %q, want sess-42", rec.sessionID)
	}
	if rec.forceUnpause != "" {
		t.Errorf("force_unpause sent on a plain submit: %q", rec.forceUnpause)
	}
	if res.Transcript != "hello there" || res.Reply != "hi!" {
		t.Errorf("result = %+v, want parsed transcript and reply", res)
	}
	if res.AudioURL != "http://example.com/reply.mp3" {
		t.Errorf("audio_url = %q", res.AudioURL)
	}
}

func TestSubmitDirectives(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want func(*Result) bool
	}{
		{"skip", `{"skip":true}`, func(r *Result) bool { return r.Skip }},
		{"pause command", `{"command":"pause"}`, func(r *Result) bool { return r.Command == CommandPause }},
		{"unpause command", `{"command":"unpause"}`, func(r *Result) bool { return r.Command == CommandUnpause }},
		{"ambient paused", `{"paused":true}`, func(r *Result) bool { return r.Paused }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := &received{}
			srv := newTestServer(t, http.StatusOK, tt.body, rec)
			defer srv.Close()

			client, err := New(srv.URL)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			res, err := client.Submit(context.Background(), []byte("x"), "sess")
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if !tt.want(res) {
				t.Fatalf("result = %+v, directive not parsed", res)
			}
		})
	}
}

func TestSubmitControl(t *testing.T) {
	t.Parallel()

	rec := &received{}
	srv := newTestServer(t, http.StatusOK, `{}`, rec)
	defer srv.Close()

	client, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := client.SubmitControl(context.Background(), "sess-7", true); err != nil {
		t.Fatalf("SubmitControl: %v", err)
	}
	if len(rec.audio) != 0 {
		t.Errorf("control ping carried %d audio bytes, want 0", len(rec.audio))
	}
	if rec.sessionID != "sess-7" {
		t.Errorf("session_id = %q, want sess-7", rec.sessionID)
	}
	if rec.forceUnpause != "1" {
		t.Errorf("force_unpause = %q, want \"1\"", rec.forceUnpause)
	}
}

func TestSubmitFailures(t *testing.T) {
	t.Parallel()

	t.Run("non-2xx status", func(t *testing.T) {
		t.Parallel()
		rec := &received{}
		srv := newTestServer(t, http.StatusInternalServerError, `boom`, rec)
		defer srv.Close()

		client, err := New(srv.URL)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := client.Submit(context.Background(), []byte("x"), "sess"); err == nil {
			t.Fatalf("want error on 500 response")
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		t.Parallel()
		client, err := New("http://127.0.0.1:1", WithTimeout(200*time.Millisecond))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := client.Submit(context.Background(), []byte("x"), "sess"); err == nil {
			t.Fatalf("want error on unreachable host")
		}
	})

	t.Run("malformed response body", func(t *testing.T) {
		t.Parallel()
		rec := &received{}
		srv := newTestServer(t, http.StatusOK, `not json`, rec)
		defer srv.Close()

		client, err := New(srv.URL)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := client.Submit(context.Background(), []byte("x"), "sess"); err == nil {
			t.Fatalf("want error on undecodable body")
		}
	})

	t.Run("empty base URL", func(t *testing.T) {
		t.Parallel()
		if _, err := New(""); err == nil {
			t.Fatalf("want error for empty baseURL")
		}
	})
}

func TestSubmitThroughBreaker(t *testing.T) {
	t.Parallel()

	rec := &received{}
	srv := newTestServer(t, http.StatusBadGateway, ``, rec)
	defer srv.Close()

	breaker := resilience.NewBreaker("inference", resilience.WithMaxFailures(2))
	client, err := New(srv.URL, WithBreaker(breaker))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	_, _ = client.Submit(ctx, []byte("x"), "sess")
	_, _ = client.Submit(ctx, []byte("x"), "sess")

	// Breaker is now open: the call fails fast without reaching the server.
	_, err = client.Submit(ctx, []byte("x"), "sess")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("want ErrCircuitOpen, got %v", err)
	}
}
