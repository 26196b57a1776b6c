package store

import "context"

// Reader provides read access to the record store.
type Reader interface {
	// GetSession returns a session by id, or ErrNotFound.
	GetSession(ctx context.Context, id string) (ChatSession, error)

	// GetTask returns a task by id, or ErrNotFound.
	GetTask(ctx context.Context, id string) (Task, error)

	// TaskForSession returns the task scheduled for a session, or
	// ErrNotFound if none has been created yet.
	TaskForSession(ctx context.Context, sessionID string) (Task, error)

	// GetWorker returns a worker by id, or ErrNotFound.
	GetWorker(ctx context.Context, id string) (Worker, error)

	// ListWorkers returns the current roster snapshot in registration
	// order.
	ListWorkers(ctx context.Context) ([]Worker, error)

	// ListProgress returns the audit trail of a task in append order.
	ListProgress(ctx context.Context, taskID string) ([]TaskProgress, error)
}

// Writer provides write access to the record store. Each method is one
// transaction: it commits entirely or not at all.
type Writer interface {
	// CreateSession persists a new session record.
	CreateSession(ctx context.Context, s ChatSession) error

	// TransitionSession moves a session to the given status, enforcing
	// the one-way state machine. A session already in a terminal state
	// returns ErrConflict.
	TransitionSession(ctx context.Context, id string, to SessionStatus) error

	// CreateTask persists a new task record.
	CreateTask(ctx context.Context, t Task) error

	// TransitionTask moves a task to the given status under the same
	// terminal-state rules as sessions.
	TransitionTask(ctx context.Context, id string, to TaskStatus) error

	// AppendProgress appends one audit row. Rows are never mutated or
	// deleted afterwards.
	AppendProgress(ctx context.Context, p TaskProgress) error

	// AddWorker persists a new roster member.
	AddWorker(ctx context.Context, w Worker) error

	// RemoveWorker removes a roster member, or ErrNotFound.
	RemoveWorker(ctx context.Context, id string) error

	// AppendGPUSample, AppendLatencySample, and AppendComputeSample
	// record out-of-band worker telemetry.
	AppendGPUSample(ctx context.Context, s GPUSample) error
	AppendLatencySample(ctx context.Context, s LatencySample) error
	AppendComputeSample(ctx context.Context, s ComputeSample) error
}

// Store is the full record store contract.
type Store interface {
	Reader
	Writer
}
