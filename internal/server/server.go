/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package server exposes the orchestrator's HTTP surface: the
// OpenAI-style chat completion endpoint, worker fleet management, the
// worker progress callback, and the out-of-band telemetry feed.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/aggregator"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/costmodel"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/dispatch"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/registry"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/store"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/workqueue"
)

// workerTokenHeader carries the worker credential on every
// worker-originated call.
const workerTokenHeader = "Worker-Token"

// Server wires the HTTP handlers to the orchestrator components.
type Server struct {
	store      store.Store
	registry   *registry.Registry
	aggregator *aggregator.Aggregator
	dispatcher *dispatch.Client
	queue      *workqueue.Queue
	latency    *costmodel.LatencyEstimator
	inflight   *semaphore.Weighted
	maxChoices int
	promReg    *prometheus.Registry
	log        logr.Logger
}

// Options configures the server.
type Options struct {
	Store                    store.Store
	Registry                 *registry.Registry
	Aggregator               *aggregator.Aggregator
	Dispatcher               *dispatch.Client
	Queue                    *workqueue.Queue
	Latency                  *costmodel.LatencyEstimator
	MaxConcurrentCompletions int64
	MaxChoices               int
	PromRegistry             *prometheus.Registry
	Log                      logr.Logger
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.MaxConcurrentCompletions <= 0 {
		opts.MaxConcurrentCompletions = 256
	}
	if opts.MaxChoices <= 0 {
		opts.MaxChoices = 16
	}
	if opts.PromRegistry == nil {
		opts.PromRegistry = prometheus.NewRegistry()
	}
	return &Server{
		store:      opts.Store,
		registry:   opts.Registry,
		aggregator: opts.Aggregator,
		dispatcher: opts.Dispatcher,
		queue:      opts.Queue,
		latency:    opts.Latency,
		inflight:   semaphore.NewWeighted(opts.MaxConcurrentCompletions),
		maxChoices: opts.MaxChoices,
		promReg:    opts.PromRegistry,
		log:        opts.Log,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/register_worker", s.handleRegisterWorker)
	mux.HandleFunc("/deregister_worker", s.withWorkerAuth(s.handleDeregisterWorker))
	mux.HandleFunc("/list_workers", s.handleListWorkers)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/update_task", s.withWorkerAuth(s.handleUpdateTask))
	mux.HandleFunc("/report_stats", s.withWorkerAuth(s.handleReportStats))
	mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// withWorkerAuth verifies the worker credential and passes the subject
// worker id to the wrapped handler. Invalid or missing credentials are
// rejected at the boundary with no record mutation.
func (s *Server) withWorkerAuth(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workerID, err := s.registry.Verify(r.Header.Get(workerTokenHeader))
		if err != nil {
			writeError(w, http.StatusForbidden, "Invalid authentication credentials.")
			return
		}
		next(w, r, workerID)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return false
	}
	return true
}
