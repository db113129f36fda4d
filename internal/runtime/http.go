package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-translate/internal/notify"
	"github.com/loqalabs/loqa-translate/internal/pipeline"
	"github.com/loqalabs/loqa-translate/internal/status"
	"github.com/loqalabs/loqa-translate/internal/translate"
)

type stateResponse struct {
	State     string   `json:"state"`
	RunID     string   `json:"run_id,omitempty"`
	Available bool     `json:"available"`
	Error     string   `json:"error,omitempty"`
	Languages []string `json:"languages"`
}

type eventsResponse struct {
	Events []notify.Record `json:"events"`
	Cursor int64           `json:"cursor"`
}

func (r *Runtime) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.metrics != nil {
		mux.Handle("/metrics", r.metrics)
	}
	mux.HandleFunc("POST /v1/start", r.handleStart)
	mux.HandleFunc("POST /v1/stop", r.handleStop)
	mux.HandleFunc("GET /v1/state", r.handleState)
	mux.HandleFunc("GET /v1/events", r.handleEvents)
	mux.HandleFunc("GET /v1/runs", r.handleRuns)
	mux.HandleFunc("GET /v1/runs/{id}/events", r.handleRunEvents)
	mux.HandleFunc("GET /v1/nodes", r.handleNodes)
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !r.healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unhealthy"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleStart(w http.ResponseWriter, req *http.Request) {
	lang := strings.ToLower(strings.TrimSpace(req.URL.Query().Get("lang")))
	if lang != "" && !r.prompts.Supports(lang) {
		r.writeState(w, http.StatusBadRequest, "", fmt.Errorf("unsupported language %q, choose one of %s",
			lang, strings.Join(r.prompts.Languages(), ", ")))
		return
	}
	runID, err := r.controller.Start(lang)
	var cfgErr *translate.ConfigurationError
	switch {
	case err == nil:
		r.writeState(w, http.StatusAccepted, runID, nil)
	case errors.Is(err, pipeline.ErrBusy):
		r.writeState(w, http.StatusConflict, "", err)
	case errors.As(err, &cfgErr), errors.Is(err, pipeline.ErrClosed):
		r.writeState(w, http.StatusServiceUnavailable, "", err)
	default:
		r.writeState(w, http.StatusInternalServerError, "", err)
	}
}

func (r *Runtime) handleStop(w http.ResponseWriter, _ *http.Request) {
	err := r.controller.Stop()
	switch {
	case err == nil:
		r.writeState(w, http.StatusAccepted, "", nil)
	case errors.Is(err, pipeline.ErrNotRunning):
		r.writeState(w, http.StatusConflict, "", err)
	default:
		r.writeState(w, http.StatusInternalServerError, "", err)
	}
}

func (r *Runtime) handleState(w http.ResponseWriter, _ *http.Request) {
	r.writeState(w, http.StatusOK, "", nil)
}

func (r *Runtime) writeState(w http.ResponseWriter, code int, runID string, err error) {
	state, active := r.controller.Snapshot()
	if runID == "" {
		runID = active
	}
	resp := stateResponse{
		State:     state.String(),
		RunID:     runID,
		Available: r.controller.Available() == nil,
		Languages: r.prompts.Languages(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, code, resp)
}

func (r *Runtime) handleEvents(w http.ResponseWriter, req *http.Request) {
	var since int64
	if raw := req.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			http.Error(w, "since must be a non-negative integer", http.StatusBadRequest)
			return
		}
		since = parsed
	}
	records := r.history.Since(since)
	cursor := since
	if n := len(records); n > 0 {
		cursor = records[n-1].Cursor
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: records, Cursor: cursor})
}

func (r *Runtime) handleRuns(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	runs, err := r.store.RecentRuns(req.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "persisted": r.store.Enabled()})
}

func (r *Runtime) handleRunEvents(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	events, err := r.store.ListRunEvents(req.Context(), req.PathValue("id"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "persisted": r.store.Enabled()})
}

func (r *Runtime) handleNodes(w http.ResponseWriter, _ *http.Request) {
	nodes := []status.Node{}
	if a := r.announcer.Load(); a != nil {
		nodes = a.Nodes()
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
