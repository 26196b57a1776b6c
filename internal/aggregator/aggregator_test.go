package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiv1 "github.com/llm-d-incubation/llm-d-inference-orchestrator/api/v1"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/logging"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/store"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/tokenizer"
)

const testModel = "llama-2-7b-chat-slice"

// eosToken resolves the terminal token for the test model's family.
func eosToken(t *testing.T) int {
	t.Helper()
	fam, err := tokenizer.ForModel(testModel)
	require.NoError(t, err)
	return fam.Tokenizer.EOSToken()
}

func newSession(t *testing.T, st store.Store, a *Aggregator, id string, n int) <-chan Event {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateSession(ctx, store.ChatSession{
		ID: id, Model: testModel, N: n, Status: store.SessionPending,
	}))
	events, err := a.StartSession(store.ChatSession{ID: id, Model: testModel, N: n})
	require.NoError(t, err)
	return events
}

func newTask(t *testing.T, st store.Store, taskID, sessionID, workerID string) {
	t.Helper()
	require.NoError(t, st.CreateTask(context.Background(), store.Task{
		ID: taskID, SessionID: sessionID, WorkerID: workerID, Status: store.TaskCreated,
	}))
}

// drain collects every event until the stream closes.
func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestStartSessionEmitsRoleEventsFirst(t *testing.T) {
	st := store.NewMemStore()
	a := New(st, logging.NewTestLogger())
	events := newSession(t, st, a, "s1", 3)

	for i := 0; i < 3; i++ {
		ev := <-events
		assert.Equal(t, EventRole, ev.Type)
		assert.Equal(t, i, ev.Index)
		assert.Equal(t, apiv1.RoleAssistant, ev.Role)
	}
}

func TestStartSessionRejectsDuplicate(t *testing.T) {
	st := store.NewMemStore()
	a := New(st, logging.NewTestLogger())
	newSession(t, st, a, "s1", 1)

	_, err := a.StartSession(store.ChatSession{ID: "s1", Model: testModel, N: 1})
	assert.True(t, errors.Is(err, ErrSessionActive))
}

func TestStartSessionUnknownModel(t *testing.T) {
	st := store.NewMemStore()
	a := New(st, logging.NewTestLogger())
	_, err := a.StartSession(store.ChatSession{ID: "s1", Model: "gpt-4", N: 1})
	assert.Error(t, err)
}

func TestIngestSingleChoiceToCompletion(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	a := New(st, logging.NewTestLogger())
	events := newSession(t, st, a, "s1", 1)
	newTask(t, st, "t1", "s1", "w1")

	eos := eosToken(t)
	err := a.Ingest(ctx, "w1", apiv1.TaskUpdateRequest{
		TaskID: "t1",
		Updates: []apiv1.ChoiceUpdate{
			{Index: 0, Tokens: []int{'h', 'i', eos}},
		},
	})
	require.NoError(t, err)

	got := drain(t, events)
	require.Len(t, got, 4)
	assert.Equal(t, EventRole, got[0].Type)
	assert.Equal(t, Event{Type: EventContent, Index: 0, Content: "h"}, got[1])
	assert.Equal(t, Event{Type: EventContent, Index: 0, Content: "i"}, got[2])
	assert.Equal(t, Event{Type: EventFinish, Index: 0, FinishReason: "stop"}, got[3])

	sess, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, sess.Status)

	task, err := st.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, store.TaskCompleted, task.Status)

	assert.False(t, a.Active("s1"))
}

func TestIngestOutOfOrderChoices(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	a := New(st, logging.NewTestLogger())
	events := newSession(t, st, a, "s1", 2)
	newTask(t, st, "t1", "s1", "w1")

	eos := eosToken(t)

	// Choice 1 finishes before choice 0 ever reports.
	require.NoError(t, a.Ingest(ctx, "w1", apiv1.TaskUpdateRequest{
		TaskID:  "t1",
		Updates: []apiv1.ChoiceUpdate{{Index: 1, Tokens: []int{'b', eos}}},
	}))
	require.NoError(t, a.Ingest(ctx, "w1", apiv1.TaskUpdateRequest{
		TaskID:  "t1",
		Updates: []apiv1.ChoiceUpdate{{Index: 0, Tokens: []int{'a', eos}}},
	}))

	got := drain(t, events)
	// 2 role + 2 content + 2 finish.
	require.Len(t, got, 6)

	// Per-index ordering holds even though indices interleave.
	var perIndex [2][]Event
	for _, ev := range got {
		perIndex[ev.Index] = append(perIndex[ev.Index], ev)
	}
	for i, evs := range perIndex {
		require.Len(t, evs, 3, "index %d", i)
		assert.Equal(t, EventRole, evs[0].Type)
		assert.Equal(t, EventContent, evs[1].Type)
		assert.Equal(t, EventFinish, evs[2].Type)
	}
}

func TestIngestDuplicateTerminalCallbackIsNoOp(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	a := New(st, logging.NewTestLogger())
	events := newSession(t, st, a, "s1", 2)
	newTask(t, st, "t1", "s1", "w1")

	eos := eosToken(t)
	final := apiv1.TaskUpdateRequest{
		TaskID:  "t1",
		Updates: []apiv1.ChoiceUpdate{{Index: 0, Tokens: []int{'x', eos}}},
	}
	require.NoError(t, a.Ingest(ctx, "w1", final))
	// Replayed terminal callback: no new audit rows, no new events.
	require.NoError(t, a.Ingest(ctx, "w1", final))

	rows, err := st.ListProgress(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	// Finish the other choice so the channel closes.
	require.NoError(t, a.Ingest(ctx, "w1", apiv1.TaskUpdateRequest{
		TaskID:  "t1",
		Updates: []apiv1.ChoiceUpdate{{Index: 1, Tokens: []int{eos}}},
	}))

	got := drain(t, events)
	var finishes int
	for _, ev := range got {
		if ev.Type == EventFinish && ev.Index == 0 {
			finishes++
		}
	}
	assert.Equal(t, 1, finishes, "exactly one terminal event per index")
}

func TestIngestWorkerMismatch(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	a := New(st, logging.NewTestLogger())
	newSession(t, st, a, "s1", 1)
	newTask(t, st, "t1", "s1", "w1")

	err := a.Ingest(ctx, "intruder", apiv1.TaskUpdateRequest{
		TaskID:  "t1",
		Updates: []apiv1.ChoiceUpdate{{Index: 0, Tokens: []int{'x'}}},
	})
	assert.True(t, errors.Is(err, ErrWorkerMismatch))

	rows, err := st.ListProgress(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, rows, "rejected callback leaves no audit trail")
}

func TestIngestUnknownTask(t *testing.T) {
	st := store.NewMemStore()
	a := New(st, logging.NewTestLogger())
	err := a.Ingest(context.Background(), "w1", apiv1.TaskUpdateRequest{TaskID: "ghost"})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestIngestChoiceIndexOutOfRange(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	a := New(st, logging.NewTestLogger())
	newSession(t, st, a, "s1", 1)
	newTask(t, st, "t1", "s1", "w1")

	err := a.Ingest(ctx, "w1", apiv1.TaskUpdateRequest{
		TaskID:  "t1",
		Updates: []apiv1.ChoiceUpdate{{Index: 5, Tokens: []int{'x'}}},
	})
	assert.Error(t, err)
}

func TestIngestAfterFulfillmentIsNoOp(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	a := New(st, logging.NewTestLogger())
	events := newSession(t, st, a, "s1", 1)
	newTask(t, st, "t1", "s1", "w1")

	eos := eosToken(t)
	require.NoError(t, a.Ingest(ctx, "w1", apiv1.TaskUpdateRequest{
		TaskID:  "t1",
		Updates: []apiv1.ChoiceUpdate{{Index: 0, Tokens: []int{eos}}},
	}))
	drain(t, events)

	// Late callback after teardown is dropped, not an error.
	err := a.Ingest(ctx, "w1", apiv1.TaskUpdateRequest{
		TaskID:  "t1",
		Updates: []apiv1.ChoiceUpdate{{Index: 0, Tokens: []int{'z'}}},
	})
	assert.NoError(t, err)
}

func TestFailClosesStreamWithoutFulfillment(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	a := New(st, logging.NewTestLogger())
	events := newSession(t, st, a, "s1", 1)

	a.Fail("s1")
	got := drain(t, events)
	for _, ev := range got {
		assert.NotEqual(t, EventFinish, ev.Type)
	}
	assert.False(t, a.Active("s1"))

	// Session status is the caller's responsibility; Fail leaves it alone.
	sess, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.SessionPending, sess.Status)

	// Idempotent.
	a.Fail("s1")
	a.Fail("unknown")
}

func TestFailUnblocksParkedIngestion(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	a := New(st, logging.NewTestLogger())
	events := newSession(t, st, a, "s1", 1)
	newTask(t, st, "t1", "s1", "w1")

	// More content tokens than the event channel can buffer, so the
	// ingestion parks mid-emit while holding the session's ingestion
	// lock. Fail must still complete: it is invoked from the single
	// scheduler goroutine, and blocking it would freeze all placements.
	tokens := make([]int, 600)
	for i := range tokens {
		tokens[i] = 'x'
	}
	ingested := make(chan error, 1)
	go func() {
		ingested <- a.Ingest(ctx, "w1", apiv1.TaskUpdateRequest{
			TaskID:  "t1",
			Updates: []apiv1.ChoiceUpdate{{Index: 0, Tokens: tokens}},
		})
	}()
	time.Sleep(50 * time.Millisecond)

	failed := make(chan struct{})
	go func() {
		a.Fail("s1")
		close(failed)
	}()
	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("Fail blocked behind an ingestion parked on a full channel")
	}
	select {
	case err := <-ingested:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("parked ingestion was never released")
	}

	// The stream is closed and carries no terminal event.
	got := drain(t, events)
	for _, ev := range got {
		assert.NotEqual(t, EventFinish, ev.Type)
	}
	assert.False(t, a.Active("s1"))
}

func TestAbortDetachesSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	a := New(st, logging.NewTestLogger())
	newSession(t, st, a, "s1", 1)
	newTask(t, st, "t1", "s1", "w1")

	a.Abort("s1")
	assert.False(t, a.Active("s1"))

	// Callbacks after abort are tolerated no-ops.
	err := a.Ingest(ctx, "w1", apiv1.TaskUpdateRequest{
		TaskID:  "t1",
		Updates: []apiv1.ChoiceUpdate{{Index: 0, Tokens: []int{'x'}}},
	})
	assert.NoError(t, err)

	a.Abort("s1")
}
