package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	apiv1 "github.com/llm-d-incubation/llm-d-inference-orchestrator/api/v1"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/store"
)

func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req apiv1.RegisterWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body.")
		return
	}
	worker, token, err := s.registry.Register(r.Context(), req.WorkerURL, req.GPUType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Info("Worker registered", "worker", worker.ID, "endpoint", worker.Endpoint)
	writeJSON(w, http.StatusOK, apiv1.WorkerToken{
		AccessToken: token,
		TokenType:   "bearer",
	})
}

func (s *Server) handleDeregisterWorker(w http.ResponseWriter, r *http.Request, workerID string) {
	if !requirePost(w, r) {
		return
	}
	if err := s.registry.Deregister(r.Context(), workerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Worker not registered.")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info("Worker deregistered", "worker", workerID)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	workers, err := s.registry.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]apiv1.WorkerInfo, 0, len(workers))
	for _, wk := range workers {
		out = append(out, apiv1.WorkerInfo{
			ID:           wk.ID,
			Endpoint:     wk.Endpoint,
			RegisteredAt: wk.RegisteredAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReportStats(w http.ResponseWriter, r *http.Request, workerID string) {
	if !requirePost(w, r) {
		return
	}
	var req apiv1.ReportStatsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body.")
		return
	}
	now := time.Now().UTC()
	ctx := r.Context()
	for _, g := range req.GPU {
		_ = s.store.AppendGPUSample(ctx, store.GPUSample{
			WorkerID:          workerID,
			Nickname:          g.Nickname,
			GPUType:           g.GPUType,
			AvailableMemBytes: int64(g.AvailableMemInMB * 1024 * 1024),
			At:                now,
		})
	}
	for _, c := range req.Conn {
		_ = s.store.AppendLatencySample(ctx, store.LatencySample{
			FromWorker: workerID,
			ToWorker:   c.ToWorkerID,
			Ms:         c.LatencyInMs,
			At:         now,
		})
		if s.latency != nil {
			s.latency.Observe(workerID, c.ToWorkerID, c.LatencyInMs)
		}
	}
	for _, c := range req.Compute {
		_ = s.store.AppendComputeSample(ctx, store.ComputeSample{
			WorkerID: workerID,
			StepType: c.StepType,
			Ms:       c.StepTimeInMs,
			At:       now,
		})
	}
	w.WriteHeader(http.StatusOK)
}
