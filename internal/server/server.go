// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the batch run over HTTP: POST /api/send triggers a
// run and answers with the run's status/body pair.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bcem/chatdm/internal/dispatch"
	"github.com/bcem/chatdm/internal/models"
)

// Runner executes one batch run. Implemented by dispatch.Runner.
type Runner interface {
	Run(ctx context.Context) (*models.RunSummary, error)
}

// History lists past runs. Implemented by the ledger backends.
type History interface {
	RecentRuns(ctx context.Context, limit int) ([]models.RunSummary, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Config configures the HTTP handler.
type Config struct {
	Runner  Runner
	History History // optional
	Health  []HealthCheck
}

// Handler serves the HTTP surface. Only one run executes at a time per
// process; concurrent triggers get 409.
type Handler struct {
	runner  Runner
	history History
	health  []HealthCheck
	running sync.Mutex
}

// NewHandler creates the HTTP handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		runner:  cfg.Runner,
		history: cfg.History,
		health:  cfg.Health,
	}
}

// Routes returns the mux with every endpoint registered.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/send", h.ServeSend)
	mux.HandleFunc("/api/runs", h.ServeRuns)
	mux.HandleFunc("/health", h.ServeHealth)
	return mux
}

// ServeSend runs the batch synchronously and writes the status/body pair.
func (h *Handler) ServeSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.running.TryLock() {
		slog.Warn("run already in progress, rejecting trigger")
		http.Error(w, "Error: a run is already in progress", http.StatusConflict)
		return
	}
	defer h.running.Unlock()

	slog.Info("run triggered over HTTP", "remote", r.RemoteAddr)

	// A client hanging up must not abandon the workbook flush.
	summary, err := h.runner.Run(context.WithoutCancel(r.Context()))
	status, body := dispatch.Response(summary, err)
	if err != nil {
		slog.Error("run failed", "kind", dispatch.KindOf(err), "error", err)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// ServeRuns lists recent runs from the ledger.
func (h *Handler) ServeRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.history == nil {
		http.Error(w, "ledger not configured", http.StatusNotFound)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, 200)
	}

	runs, err := h.history.RecentRuns(r.Context(), limit)
	if err != nil {
		slog.Error("list runs failed", "error", err)
		http.Error(w, "ledger unavailable", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.RunSummary{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"runs": runs})
}

// ServeHealth checks every configured dependency.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	for _, hc := range h.health {
		if err := hc.Check(r.Context()); err != nil {
			http.Error(w, hc.Name+" unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "healthy"}`))
}

// Serve starts the HTTP server on the given port and stops it when ctx is
// cancelled. It binds the port immediately and signals readiness via the
// returned channel; the error channel yields the server's exit error.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, <-chan error, error) {
	server := &http.Server{
		Handler:     handler.Routes(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /api/send holds the connection for the whole run.
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, fmt.Errorf("bind port %d: %w", port, err)
	}

	ready := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		<-ctx.Done()
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	go func() {
		slog.Info("server listening", "port", port)
		close(ready)
		err := server.Serve(ln)
		if err == http.ErrServerClosed {
			err = nil
		}
		done <- err
	}()

	return ready, done, nil
}
