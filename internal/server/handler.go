package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

const readyTimeout = 2 * time.Second

type handler struct {
	mux   *http.ServeMux
	log   *slog.Logger
	ready ReadyFunc // optional
}

func newHandler(log *slog.Logger, metrics http.Handler, ready ReadyFunc) *handler {
	mux := http.NewServeMux()
	h := &handler{mux: mux, log: log, ready: ready}

	mux.HandleFunc("GET /health", h.GetHealth)
	mux.HandleFunc("GET /ready", h.GetReady)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// GetHealth reports that the process is up.
func (h *handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w, http.StatusOK, statusResponse{Status: "ok"})
}

// GetReady reports whether the worker's dependencies respond.
func (h *handler) GetReady(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		if err := h.ready(ctx); err != nil {
			h.log.Warn("didn't pass readiness check", "error", err)
			h.writeStatus(w, http.StatusServiceUnavailable, statusResponse{Status: "unavailable", Error: err.Error()})
			return
		}
	}
	h.writeStatus(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (h *handler) writeStatus(w http.ResponseWriter, code int, resp statusResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("didn't write response", "error", err)
	}
}
