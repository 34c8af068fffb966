package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ai-oracle/server/logging"
	"ai-oracle/server/oracle"
	"ai-oracle/server/sim"
	"ai-oracle/server/store"
)

type predictRequest struct {
	Question   string `json:"question"`
	Iterations int    `json:"iterations"`
}

func Router(svc *oracle.Service, log *logging.Logger) http.Handler {
	log = log.Named("http")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Post("/api/predict", func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
			return
		}
		p, err := svc.Predict(r.Context(), req.Question, req.Iterations, nil)
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	})

	// Server-sent events: one `progress` event per chunk, then `result` or `error`.
	r.Get("/api/predict/stream", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		iterations := 0
		if s := q.Get("iterations"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				writeError(w, http.StatusBadRequest, "bad iterations")
				return
			}
			iterations = n
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "stream unsupported")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		send := func(name string, v any) {
			b, _ := json.Marshal(v)
			w.Write([]byte("event: " + name + "\n"))
			w.Write([]byte("data: "))
			w.Write(b)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		}
		p, err := svc.Predict(r.Context(), q.Get("question"), iterations, func(pr sim.Progress) {
			send("progress", pr)
		})
		if err != nil {
			if r.Context().Err() == nil {
				send("error", map[string]any{"error": err.Error(), "status": statusFor(err)})
			}
			return
		}
		send("result", p)
	})

	r.Get("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		h := svc.History()
		if h == nil {
			writeServiceError(w, log, oracle.ErrNoHistory)
			return
		}
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "bad limit")
				return
			}
			limit = n
		}
		runs, err := h.ListRuns(r.Context(), limit)
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		out := make([]*oracle.Prediction, 0, len(runs))
		for _, run := range runs {
			out = append(out, oracle.FromRun(run))
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/api/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := runID(w, r)
		if !ok {
			return
		}
		h := svc.History()
		if h == nil {
			writeServiceError(w, log, oracle.ErrNoHistory)
			return
		}
		run, err := h.GetRun(r.Context(), id)
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, oracle.FromRun(run))
	})

	r.Post("/api/runs/{id}/rerun", func(w http.ResponseWriter, r *http.Request) {
		id, ok := runID(w, r)
		if !ok {
			return
		}
		var req predictRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
				return
			}
		}
		p, err := svc.Rerun(r.Context(), id, req.Iterations, nil)
		if err != nil {
			writeServiceError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	})

	return r
}

func runID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad id")
		return 0, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sim.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, oracle.ErrNoHistory):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, log *logging.Logger, err error) {
	status := statusFor(err)
	if status >= 500 {
		log.Error("request failed", map[string]any{"error": err})
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(msg)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func requestLogger(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request", map[string]any{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"took_ms":    time.Since(start).Milliseconds(),
				"request_id": middleware.GetReqID(r.Context()),
			})
		})
	}
}
