package placement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	apiv1 "github.com/llm-d-incubation/llm-d-inference-orchestrator/api/v1"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/dispatch"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/logging"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/metrics"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/store"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/tokenizer"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/workqueue"
)

// StreamFailer ends a session's event stream after a scheduling or
// dispatch failure has been recorded. Implemented by the progress
// aggregator.
type StreamFailer interface {
	Fail(sessionID string)
}

// Forwarder issues the first-stage forward call. Implemented by the
// dispatch client.
type Forwarder interface {
	Forward(ctx context.Context, task store.Task, plan []apiv1.PlanStage, prompt []int) error
}

// Scheduler is the scheduling domain: a single consumer draining the
// work queue of session ids, one placement at a time, so that no two
// placements race over a capacity snapshot.
type Scheduler struct {
	queue    *workqueue.Queue
	store    store.Store
	strategy Strategy
	client   Forwarder
	streams  StreamFailer
	log      logr.Logger
}

// NewScheduler wires the scheduling loop.
func NewScheduler(q *workqueue.Queue, st store.Store, strategy Strategy, client Forwarder, streams StreamFailer, log logr.Logger) *Scheduler {
	return &Scheduler{
		queue:    q,
		store:    st,
		strategy: strategy,
		client:   client,
		streams:  streams,
		log:      log,
	}
}

// Run drains the queue until shutdown or context cancellation. Ids for
// sessions that no longer exist are no-ops.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("Scheduler started")
	for {
		id, ok := s.queue.Get(ctx)
		if !ok {
			s.log.Info("Scheduler stopped")
			return
		}
		sess, err := s.store.GetSession(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.log.V(logging.DEBUG).Info("Skipping unknown session", "session", id)
				continue
			}
			s.log.Error(err, "Failed to load session", "session", id)
			continue
		}
		if err := s.schedule(ctx, sess); err != nil {
			s.failSession(ctx, sess.ID, err)
		}
	}
}

// schedule computes a plan for one session, records the transition,
// and dispatches the rendered prompt to the first-stage worker.
func (s *Scheduler) schedule(ctx context.Context, sess store.ChatSession) error {
	roster, err := s.store.ListWorkers(ctx)
	if err != nil {
		return fmt.Errorf("roster snapshot: %w", err)
	}
	plan, err := s.strategy.Place(ctx, sess, roster)
	if err != nil {
		return err
	}

	fam, err := tokenizer.ForModel(sess.Model)
	if err != nil {
		return err
	}
	prompt, err := dispatch.RenderPrompt(fam, sess.Messages)
	if err != nil {
		return err
	}

	serialized, err := json.Marshal(plan.Stages)
	if err != nil {
		return fmt.Errorf("serialize plan: %w", err)
	}
	if err := s.store.TransitionSession(ctx, sess.ID, store.SessionScheduled); err != nil {
		return err
	}
	task := store.Task{
		ID:            strings.ReplaceAll(uuid.NewString(), "-", ""),
		Status:        store.TaskCreated,
		SessionID:     sess.ID,
		Plan:          string(serialized),
		PlanStepCount: len(plan.Stages),
		CurrentStep:   -1,
		CurrentRound:  0,
		WorkerID:      plan.WorkerIDs[0],
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return err
	}
	s.log.V(logging.DEBUG).Info("Session scheduled",
		"session", sess.ID, "task", task.ID,
		"stages", len(plan.Stages), "estimatedLatencyMs", plan.EstimatedLatencyMs)

	if err := s.client.Forward(ctx, task, plan.Stages, prompt); err != nil {
		if terr := s.store.TransitionTask(ctx, task.ID, store.TaskError); terr != nil {
			s.log.Error(terr, "Failed to record task error", "task", task.ID)
		}
		return err
	}
	return nil
}

// failSession records the terminal error status and ends the stream.
// Error states are never retried or transitioned out of.
func (s *Scheduler) failSession(ctx context.Context, sessionID string, cause error) {
	s.log.Error(cause, "Scheduling failed", "session", sessionID)
	metrics.RecordPlacementFailure()
	metrics.RecordSession("error")
	if err := s.store.TransitionSession(ctx, sessionID, store.SessionError(cause.Error())); err != nil {
		s.log.Error(err, "Failed to record session error", "session", sessionID)
	}
	if s.streams != nil {
		s.streams.Fail(sessionID)
	}
}
