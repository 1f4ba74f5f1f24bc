// Package api serves the bot's trigger endpoint, its run history, health
// and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/robotmk/ebooks/internal/metrics"
	"github.com/robotmk/ebooks/internal/pipeline"
	"github.com/robotmk/ebooks/internal/storage"
)

// Trigger starts a run or joins the one in flight.
type Trigger interface {
	Do(ctx context.Context) (rep pipeline.Report, shared bool, err error)
}

// History reads the run journal.
type History interface {
	ListRuns(limit int) ([]storage.Run, error)
	GetRun(id string) (storage.Run, error)
	ListAttempts(runID string) ([]storage.Attempt, error)
}

type Deps struct {
	Trigger Trigger
	History History // nil when the journal is disabled
	Token   string
}

// NewHandler returns the server's routes. /health and /metrics are open;
// everything else requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(countRequests)

	r.Get("/health", handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/run", handleRun(deps))
		r.Get("/history", handleListHistory(deps))
		r.Get("/history/{id}", handleGetHistory(deps))
	})
	return r
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type runResponse struct {
	Report pipeline.Report `json:"report"`
	Shared bool            `json:"shared"`
	Error  string          `json:"error,omitempty"`
}

func handleRun(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, shared, err := deps.Trigger.Do(r.Context())
		resp := runResponse{Report: rep, Shared: shared}
		code := http.StatusOK
		if err != nil {
			slog.Warn("triggered run failed", "run", rep.RunID, "error", err)
			resp.Error = err.Error()
			code = http.StatusInternalServerError
		}
		writeJSON(w, code, resp)
	}
}

type runView struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Debug      bool          `json:"debug"`
	Awake      bool          `json:"awake"`
	Decision   any           `json:"decision,omitempty"`
	Outcome    string        `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	Attempts   []attemptView `json:"attempts,omitempty"`
}

type attemptView struct {
	Kind     string `json:"kind"`
	TargetID string `json:"target_id,omitempty"`
	Text     string `json:"text,omitempty"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	PostID   string `json:"post_id,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

func viewRun(run storage.Run, attempts []storage.Attempt) runView {
	v := runView{
		ID:         run.ID,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Debug:      run.Debug,
		Awake:      run.Awake,
		Outcome:    run.Outcome,
		Error:      run.Error,
	}
	if run.Decision != "" {
		v.Decision = json.RawMessage(run.Decision)
	}
	for _, a := range attempts {
		v.Attempts = append(v.Attempts, attemptView{
			Kind:     a.Kind,
			TargetID: a.TargetID,
			Text:     a.Text,
			Status:   a.Status,
			Reason:   a.Reason,
			PostID:   a.PostID,
			Fallback: a.Fallback,
		})
	}
	return v
}

func handleListHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			httpError(w, http.StatusNotFound, "not_found", "run journal is disabled")
			return
		}
		limit := parseIntParam(r, "limit", 20, 200)

		runs, err := deps.History.ListRuns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}
		views := make([]runView, 0, len(runs))
		for _, run := range runs {
			views = append(views, viewRun(run, nil))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleGetHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			httpError(w, http.StatusNotFound, "not_found", "run journal is disabled")
			return
		}
		id := chi.URLParam(r, "id")

		run, err := deps.History.GetRun(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
			return
		}
		attempts, err := deps.History.ListAttempts(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list attempts: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, viewRun(run, attempts))
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
