package placement

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiv1 "github.com/llm-d-incubation/llm-d-inference-orchestrator/api/v1"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/costmodel"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/logging"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/store"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/workqueue"
)

type fakeForwarder struct {
	mu    sync.Mutex
	calls []store.Task
	err   error
}

func (f *fakeForwarder) Forward(_ context.Context, task store.Task, _ []apiv1.PlanStage, prompt []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, task)
	return f.err
}

func (f *fakeForwarder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeFailer struct {
	mu     sync.Mutex
	failed []string
}

func (f *fakeFailer) Fail(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, sessionID)
}

func (f *fakeFailer) sessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.failed...)
}

func pendingSession(t *testing.T, st store.Store, id string) store.ChatSession {
	t.Helper()
	sess := store.ChatSession{
		ID:     id,
		Model:  "llama-2-7b-chat-slice",
		N:      1,
		Status: store.SessionPending,
		Messages: []apiv1.ChatMessage{
			{Role: apiv1.RoleUser, Content: "hello"},
		},
	}
	require.NoError(t, st.CreateSession(context.Background(), sess))
	return sess
}

func newTestScheduler(st store.Store, fw *fakeForwarder, ff *fakeFailer) (*Scheduler, *workqueue.Queue) {
	q := workqueue.New(16)
	strategy := &RandomSingleWorker{rand: rand.New(rand.NewSource(1))}
	return NewScheduler(q, st, strategy, fw, ff, logging.NewTestLogger()), q
}

func TestSchedulerDispatchesSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	fw := &fakeForwarder{}
	ff := &fakeFailer{}
	sched, q := newTestScheduler(st, fw, ff)

	require.NoError(t, st.AddWorker(ctx, worker("w1", costmodel.GPUTypeA10G)))
	sess := pendingSession(t, st, "s1")

	done := make(chan struct{})
	go func() { defer close(done); sched.Run(ctx) }()
	require.NoError(t, q.Put(ctx, sess.ID))
	q.Shutdown()
	<-done

	got, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.SessionScheduled, got.Status)

	require.Equal(t, 1, fw.count())
	task := fw.calls[0]
	assert.Equal(t, "s1", task.SessionID)
	assert.Equal(t, "w1", task.WorkerID)
	assert.Equal(t, -1, task.CurrentStep)
	assert.Equal(t, 0, task.CurrentRound)
	assert.Equal(t, 1, task.PlanStepCount)
	assert.NotContains(t, task.ID, "-")

	var stages []apiv1.PlanStage
	require.NoError(t, json.Unmarshal([]byte(task.Plan), &stages))
	require.Len(t, stages, 1)
	assert.Equal(t, "http://w1:8080", stages[0].WorkerURL)

	stored, err := st.TaskForSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.TaskCreated, stored.Status)
	assert.Empty(t, ff.sessions())
}

func TestSchedulerEmptyRosterFailsSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	fw := &fakeForwarder{}
	ff := &fakeFailer{}
	sched, q := newTestScheduler(st, fw, ff)

	sess := pendingSession(t, st, "s1")

	done := make(chan struct{})
	go func() { defer close(done); sched.Run(ctx) }()
	require.NoError(t, q.Put(ctx, sess.ID))
	q.Shutdown()
	<-done

	got, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal())
	assert.True(t, strings.HasPrefix(string(got.Status), "error: "))
	assert.Contains(t, string(got.Status), ErrEmptyRoster.Error())

	assert.Equal(t, 0, fw.count(), "no forward call without a plan")
	assert.Equal(t, []string{"s1"}, ff.sessions())

	_, err = st.TaskForSession(ctx, "s1")
	assert.True(t, errors.Is(err, store.ErrNotFound), "no task is created for a failed placement")
}

func TestSchedulerForwardFailureMarksTaskError(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	fw := &fakeForwarder{err: errors.New("connection refused")}
	ff := &fakeFailer{}
	sched, q := newTestScheduler(st, fw, ff)

	require.NoError(t, st.AddWorker(ctx, worker("w1", costmodel.GPUTypeA10G)))
	sess := pendingSession(t, st, "s1")

	done := make(chan struct{})
	go func() { defer close(done); sched.Run(ctx) }()
	require.NoError(t, q.Put(ctx, sess.ID))
	q.Shutdown()
	<-done

	task, err := st.TaskForSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.TaskError, task.Status)

	got, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal())
	assert.Equal(t, []string{"s1"}, ff.sessions())
}

func TestSchedulerSkipsUnknownSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	fw := &fakeForwarder{}
	ff := &fakeFailer{}
	sched, q := newTestScheduler(st, fw, ff)

	done := make(chan struct{})
	go func() { defer close(done); sched.Run(ctx) }()
	require.NoError(t, q.Put(ctx, "ghost"))
	q.Shutdown()
	<-done

	assert.Equal(t, 0, fw.count())
	assert.Empty(t, ff.sessions())
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	st := store.NewMemStore()
	sched, _ := newTestScheduler(st, &fakeForwarder{}, &fakeFailer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); sched.Run(ctx) }()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on context cancellation")
	}
}
