package app

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxloop/voxloop/internal/health"
	"github.com/voxloop/voxloop/internal/transcript"
)

// transcriptLimit caps the number of exchanges returned by the state
// endpoint.
const transcriptLimit = 20

// stateResponse is the JSON body of GET /api/state.
type stateResponse struct {
	SessionID    string             `json:"session_id"`
	Phase        string             `json:"phase"`
	Listening    bool               `json:"listening"`
	Processing   bool               `json:"processing"`
	Paused       bool               `json:"paused"`
	Status       string             `json:"status"`
	Detail       string             `json:"detail,omitempty"`
	RemoteOnline bool               `json:"remote_online"`
	Transcript   []transcript.Entry `json:"transcript,omitempty"`
}

// feedbackRequest is the JSON body of POST /api/feedback.
type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

// routes builds the local HTTP surface: health probes, Prometheus metrics,
// and a small JSON API for state inspection, mic toggling, and feedback.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	health.New(a.poller.Checker()).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/state", a.handleState)
	mux.HandleFunc("POST /api/toggle", a.handleToggle)
	mux.HandleFunc("POST /api/feedback", a.handleFeedback)

	return mux
}

func (a *App) handleState(w http.ResponseWriter, _ *http.Request) {
	snap := a.machine.Snapshot()
	status := a.lastStatus.get()

	writeJSON(w, http.StatusOK, stateResponse{
		SessionID:    a.sessionID,
		Phase:        a.machine.Phase().String(),
		Listening:    snap.Listening,
		Processing:   snap.Processing,
		Paused:       snap.Paused,
		Status:       status.Kind.String(),
		Detail:       status.Detail,
		RemoteOnline: a.poller.Online(),
		Transcript:   a.log2.Recent(transcriptLimit),
	})
}

func (a *App) handleToggle(w http.ResponseWriter, _ *http.Request) {
	a.machine.ToggleMic()
	// The toggle is applied asynchronously by the turn controller; poll
	// /api/state for the resulting phase.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *App) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if a.reporter == nil {
		http.Error(w, "feedback disabled", http.StatusNotFound)
		return
	}

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Feedback == "" {
		http.Error(w, "feedback must not be empty", http.StatusBadRequest)
		return
	}

	if err := a.reporter.Submit(r.Context(), a.sessionID, req.Feedback); err != nil {
		// The report is spooled locally and retried later.
		a.log.Warn("feedback delivery failed, spooled", "error", err)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "spooled"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
