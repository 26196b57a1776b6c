package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	apiv1 "github.com/llm-d-incubation/llm-d-inference-orchestrator/api/v1"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/logging"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/metrics"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/store"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/tokenizer"
)

var (
	// ErrWorkerMismatch is returned when a callback's credential
	// subject is not the task's assigned worker.
	ErrWorkerMismatch = errors.New("callback worker does not match task assignment")
	// ErrSessionActive is returned when streaming is started twice for
	// one session.
	ErrSessionActive = errors.New("session already has an active stream")
)

// EventType discriminates the three event kinds of a session stream.
type EventType string

const (
	EventRole    EventType = "role"
	EventContent EventType = "content"
	EventFinish  EventType = "finish"
)

// Event is one element of a session's ordered event stream.
type Event struct {
	Type         EventType
	Index        int
	Role         apiv1.Role
	Content      string
	FinishReason string
}

// defaultBuffer is the per-session channel headroom beyond the n role
// events emitted up front.
const defaultBuffer = 256

type session struct {
	id  string
	n   int
	fam tokenizer.Family

	ch   chan Event
	done chan struct{}

	// ingestMu serializes every emit and every close of ch for this
	// session, so teardown cannot race a send.
	ingestMu  sync.Mutex
	fulfilled []bool
	remaining int
}

// emit delivers an event unless the session has been torn down. The
// done signal is checked with priority: once it is closed no send is
// attempted. Combined with the rule that ch is only ever closed under
// ingestMu (and, for Fail, only after done), no emit can write to a
// closed channel.
func (s *session) emit(ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Aggregator owns the per-session stream registry and the ingestion
// entry point for worker progress callbacks.
type Aggregator struct {
	mu       sync.RWMutex
	sessions map[string]*session

	store store.Store
	log   logr.Logger
}

// New creates an Aggregator backed by the given record store.
func New(st store.Store, log logr.Logger) *Aggregator {
	return &Aggregator{
		sessions: make(map[string]*session),
		store:    st,
		log:      log,
	}
}

// StartSession allocates the session's event channel and fulfillment
// vector and emits the role-announcement event for every choice index.
// These announcements are structural: they always precede any content
// event regardless of worker timing. Returns the read side of the
// stream for the composer.
func (a *Aggregator) StartSession(sess store.ChatSession) (<-chan Event, error) {
	fam, err := tokenizer.ForModel(sess.Model)
	if err != nil {
		return nil, err
	}
	s := &session{
		id:        sess.ID,
		n:         sess.N,
		fam:       fam,
		ch:        make(chan Event, sess.N+defaultBuffer),
		done:      make(chan struct{}),
		fulfilled: make([]bool, sess.N),
		remaining: sess.N,
	}

	a.mu.Lock()
	if _, exists := a.sessions[sess.ID]; exists {
		a.mu.Unlock()
		return nil, fmt.Errorf("session %q: %w", sess.ID, ErrSessionActive)
	}
	a.sessions[sess.ID] = s
	a.mu.Unlock()

	s.ingestMu.Lock()
	for i := 0; i < sess.N; i++ {
		s.emit(Event{Type: EventRole, Index: i, Role: apiv1.RoleAssistant})
	}
	s.ingestMu.Unlock()
	metrics.StreamStarted()
	return s.ch, nil
}

// Ingest is the /update_task entry point. The caller has already
// authenticated the credential; Ingest additionally checks that its
// subject matches the task's assigned worker, appends one TaskProgress
// audit row per choice update, advances the fulfillment vector, and
// pushes events onto the session's channel. Callbacks for already
// fulfilled indices are no-ops, so duplicate and replayed terminal
// callbacks have no observable effect.
func (a *Aggregator) Ingest(ctx context.Context, workerID string, req apiv1.TaskUpdateRequest) error {
	task, err := a.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return err
	}
	if task.WorkerID != workerID {
		return fmt.Errorf("task %q assigned to %q, callback from %q: %w",
			task.ID, task.WorkerID, workerID, ErrWorkerMismatch)
	}
	metrics.RecordProgressCallback()

	a.mu.RLock()
	s, ok := a.sessions[task.SessionID]
	a.mu.RUnlock()
	if !ok {
		// Stream already fulfilled or aborted; late callback.
		a.log.V(logging.DEBUG).Info("Dropping callback for inactive session",
			"task", task.ID, "session", task.SessionID)
		return nil
	}

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	for _, upd := range req.Updates {
		if upd.Index < 0 || upd.Index >= s.n {
			return fmt.Errorf("choice index %d out of range [0,%d)", upd.Index, s.n)
		}
		if s.fulfilled[upd.Index] {
			continue
		}
		if err := a.applyUpdate(ctx, s, task, upd); err != nil {
			return err
		}
	}

	if s.remaining == 0 {
		a.fulfill(ctx, s, task)
	}
	return nil
}

// applyUpdate processes one per-choice token batch: audit row, content
// events, and the terminal event if the batch carries the EOS token.
func (a *Aggregator) applyUpdate(ctx context.Context, s *session, task store.Task, upd apiv1.ChoiceUpdate) error {
	eos := s.fam.Tokenizer.EOSToken()

	var deltas []string
	finish := ""
	for _, tok := range upd.Tokens {
		if tok == eos {
			finish = "stop"
			break
		}
		deltas = append(deltas, s.fam.Tokenizer.Decode([]int{tok}))
	}

	row := store.TaskProgress{
		ID:           strings.ReplaceAll(uuid.NewString(), "-", ""),
		TaskID:       task.ID,
		Index:        upd.Index,
		Delta:        strings.Join(deltas, ""),
		FinishReason: finish,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.AppendProgress(ctx, row); err != nil {
		return err
	}

	for _, d := range deltas {
		s.emit(Event{Type: EventContent, Index: upd.Index, Content: d})
	}
	if finish != "" {
		s.fulfilled[upd.Index] = true
		s.remaining--
		s.emit(Event{Type: EventFinish, Index: upd.Index, FinishReason: finish})
	}
	return nil
}

// fulfill tears the session down exactly once: terminal status for the
// task and session, channel close, registry removal. Runs under the
// session's ingestMu, so no send can race the close.
func (a *Aggregator) fulfill(ctx context.Context, s *session, task store.Task) {
	a.mu.Lock()
	if _, ok := a.sessions[s.id]; !ok {
		a.mu.Unlock()
		return
	}
	delete(a.sessions, s.id)
	a.mu.Unlock()

	if err := a.store.TransitionTask(ctx, task.ID, store.TaskCompleted); err != nil {
		a.log.Error(err, "Failed to complete task", "task", task.ID)
	}
	if err := a.store.TransitionSession(ctx, s.id, store.SessionCompleted); err != nil {
		a.log.Error(err, "Failed to complete session", "session", s.id)
	}
	metrics.RecordSession("completed")
	metrics.StreamEnded()
	close(s.ch)
	a.log.V(logging.DEBUG).Info("Session fulfilled", "session", s.id, "choices", s.n)
}

// Fail ends a session's stream without fulfillment, after the caller
// has recorded the error state on the session. The done signal must be
// closed before taking the ingestion lock: an ingestion parked on a
// full event channel holds that lock and needs the signal to unpark,
// so locking first would deadlock the scheduling loop behind a slow
// consumer. Idempotent: failing an unknown or already torn-down
// session is a no-op.
func (a *Aggregator) Fail(sessionID string) {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	if ok {
		delete(a.sessions, sessionID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	close(s.done)
	s.ingestMu.Lock()
	close(s.ch)
	s.ingestMu.Unlock()
	metrics.StreamEnded()
}

// Abort detaches a session whose consumer is gone (client disconnect).
// The channel is left open for any in-flight ingestion, which unblocks
// through the done signal; subsequent callbacks become no-ops.
func (a *Aggregator) Abort(sessionID string) {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	if ok {
		delete(a.sessions, sessionID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	close(s.done)
	metrics.StreamEnded()
}

// Active reports whether a session currently has a registry entry.
func (a *Aggregator) Active(sessionID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.sessions[sessionID]
	return ok
}
