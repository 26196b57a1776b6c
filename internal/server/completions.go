package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	apiv1 "github.com/llm-d-incubation/llm-d-inference-orchestrator/api/v1"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/aggregator"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/composer"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/costmodel"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/dispatch"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/store"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/tokenizer"
)

// handleChatCompletions validates the request, creates the session,
// hands it to the scheduling domain, and drains the aggregated event
// stream back to the client in the requested mode.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req apiv1.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body.")
		return
	}
	if req.N <= 0 {
		req.N = 1
	}
	if req.N > s.maxChoices {
		writeError(w, http.StatusBadRequest, "Too many choices requested.")
		return
	}

	// Input validation happens before any record is written: a
	// rejected request leaves no side effects.
	if !costmodel.Supported(req.Model) {
		writeError(w, http.StatusBadRequest, "Unsupported model.")
		return
	}
	fam, err := tokenizer.ForModel(req.Model)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unsupported model.")
		return
	}
	if err := dispatch.ValidateDialog(fam, req.Messages); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if err := s.inflight.Acquire(ctx, 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Server is shutting down.")
		return
	}
	defer s.inflight.Release(1)

	sess := store.ChatSession{
		ID:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		Status:    store.SessionPending,
		Stream:    req.Stream,
		Model:     req.Model,
		Messages:  req.Messages,
		N:         req.N,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	events, err := s.aggregator.StartSession(sess)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.queue.Put(ctx, sess.ID); err != nil {
		s.aggregator.Fail(sess.ID)
		_ = s.store.TransitionSession(ctx, sess.ID, store.SessionError(err.Error()))
		writeError(w, http.StatusServiceUnavailable, "Scheduler unavailable.")
		return
	}

	if req.Stream {
		s.streamCompletion(ctx, w, sess, events)
		return
	}
	s.bufferedCompletion(ctx, w, sess, events)
}

func (s *Server) streamCompletion(ctx context.Context, w http.ResponseWriter, sess store.ChatSession, events <-chan aggregator.Event) {
	if err := composer.StreamIncremental(ctx, w, sess, events); err != nil {
		// Streaming already started; the disconnect or write error
		// leaves nothing to send back. Detach so later callbacks
		// become no-ops and request best-effort termination.
		s.log.V(1).Info("Stream ended early", "session", sess.ID, "error", err.Error())
		s.aggregator.Abort(sess.ID)
		s.terminateSession(context.WithoutCancel(ctx), sess.ID)
	}
}

func (s *Server) bufferedCompletion(ctx context.Context, w http.ResponseWriter, sess store.ChatSession, events <-chan aggregator.Event) {
	resp, err := composer.ComposeBuffered(ctx, sess, events, func(termCtx context.Context) {
		s.aggregator.Abort(sess.ID)
		s.terminateSession(termCtx, sess.ID)
	})
	if err != nil {
		switch {
		case errors.Is(err, composer.ErrClientDisconnected):
			writeError(w, http.StatusBadRequest, "Client disconnected.")
		case errors.Is(err, composer.ErrStreamFailed):
			detail := "Session failed."
			if cur, gerr := s.store.GetSession(ctx, sess.ID); gerr == nil {
				detail = string(cur.Status)
			}
			writeError(w, http.StatusInternalServerError, detail)
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// terminateSession requests best-effort termination of a session's
// task and records the terminal state. Safe to call repeatedly; a
// session already terminal is left untouched.
func (s *Server) terminateSession(ctx context.Context, sessionID string) {
	if err := s.store.TransitionSession(ctx, sessionID, store.SessionError("client disconnected")); err != nil {
		return
	}
	task, err := s.store.TaskForSession(ctx, sessionID)
	if err != nil {
		return
	}
	_ = s.store.TransitionTask(ctx, task.ID, store.TaskError)
	s.dispatcher.Terminate(ctx, task)
}

// handleUpdateTask ingests one authenticated worker progress callback.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request, workerID string) {
	if !requirePost(w, r) {
		return
	}
	var req apiv1.TaskUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body.")
		return
	}
	if err := s.aggregator.Ingest(r.Context(), workerID, req); err != nil {
		switch {
		case errors.Is(err, aggregator.ErrWorkerMismatch):
			writeError(w, http.StatusForbidden, "Credential subject does not match task worker.")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Unknown task.")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	w.WriteHeader(http.StatusOK)
}
