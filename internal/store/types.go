package store

import (
	"errors"
	"strings"
	"time"

	apiv1 "github.com/llm-d-incubation/llm-d-inference-orchestrator/api/v1"
)

var (
	// ErrNotFound is returned when an entity id has no record.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a mutation targets a record in a
	// terminal state.
	ErrConflict = errors.New("record is in a terminal state")
)

// SessionStatus is the lifecycle status of a ChatSession.
// Error statuses carry their reason: "error: <msg>".
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionScheduled SessionStatus = "scheduled"
	SessionCompleted SessionStatus = "completed"

	sessionErrorPrefix = "error: "
)

// SessionError builds a terminal error status carrying a reason.
func SessionError(reason string) SessionStatus {
	return SessionStatus(sessionErrorPrefix + reason)
}

// Terminal reports whether the status permits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || strings.HasPrefix(string(s), sessionErrorPrefix)
}

// TaskStatus is the lifecycle status of a Task.
type TaskStatus string

const (
	TaskCreated   TaskStatus = "created"
	TaskCompleted TaskStatus = "completed"
	TaskError     TaskStatus = "error"
)

// Terminal reports whether the status permits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskError
}

// ChatSession is a client's chat-completion request and its lifecycle
// record. Never deleted; retained as an audit record.
type ChatSession struct {
	ID        string
	Status    SessionStatus
	Stream    bool
	Model     string
	Messages  []apiv1.ChatMessage
	N         int
	CreatedAt time.Time
}

// Task is one scheduled execution attempt for a session. One task per
// session in the current design; the back-reference leaves room for
// retries.
type Task struct {
	ID            string
	Status        TaskStatus
	SessionID     string
	Plan          string // serialized []apiv1.PlanStage
	PlanStepCount int
	CurrentStep   int
	CurrentRound  int
	// WorkerID is the first-stage worker the plan was dispatched to;
	// progress callbacks must originate from it.
	WorkerID  string
	CreatedAt time.Time
}

// TaskProgress is one audited progress callback fragment. Append-only.
type TaskProgress struct {
	ID           string
	TaskID       string
	Index        int
	Delta        string
	FinishReason string
	CreatedAt    time.Time
}

// Worker is one registered fleet member.
type Worker struct {
	ID           string
	Endpoint     string
	GPUType      string
	RegisteredAt time.Time
}

// GPUSample is an out-of-band GPU memory availability report.
type GPUSample struct {
	WorkerID          string
	Nickname          string
	GPUType           string
	AvailableMemBytes int64
	At                time.Time
}

// LatencySample is an out-of-band inter-worker latency report.
type LatencySample struct {
	FromWorker string
	ToWorker   string
	Ms         float64
	At         time.Time
}

// ComputeSample is an out-of-band per-step compute time report.
type ComputeSample struct {
	WorkerID string
	StepType string
	Ms       float64
	At       time.Time
}
