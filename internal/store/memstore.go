package store

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is the in-process reference implementation of Store. A
// single RWMutex is the transaction boundary: every Writer method
// commits entirely under one critical section.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]ChatSession
	tasks    map[string]Task
	progress map[string][]TaskProgress
	workers  map[string]Worker
	order    []string // worker registration order

	gpuSamples     []GPUSample
	latencySamples []LatencySample
	computeSamples []ComputeSample
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]ChatSession),
		tasks:    make(map[string]Task),
		progress: make(map[string][]TaskProgress),
		workers:  make(map[string]Worker),
	}
}

var _ Store = (*MemStore)(nil)

func (m *MemStore) GetSession(_ context.Context, id string) (ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return ChatSession{}, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return s, nil
}

func (m *MemStore) GetTask(_ context.Context, id string) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %q: %w", id, ErrNotFound)
	}
	return t, nil
}

func (m *MemStore) TaskForSession(_ context.Context, sessionID string) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tasks {
		if t.SessionID == sessionID {
			return t, nil
		}
	}
	return Task{}, fmt.Errorf("no task for session %q: %w", sessionID, ErrNotFound)
}

func (m *MemStore) GetWorker(_ context.Context, id string) (Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[id]
	if !ok {
		return Worker{}, fmt.Errorf("worker %q: %w", id, ErrNotFound)
	}
	return w, nil
}

func (m *MemStore) ListWorkers(_ context.Context) ([]Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Worker, 0, len(m.workers))
	for _, id := range m.order {
		if w, ok := m.workers[id]; ok {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *MemStore) ListProgress(_ context.Context, taskID string) ([]TaskProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.progress[taskID]
	out := make([]TaskProgress, len(rows))
	copy(out, rows)
	return out, nil
}

func (m *MemStore) CreateSession(_ context.Context, s ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("session %q already exists: %w", s.ID, ErrConflict)
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *MemStore) TransitionSession(_ context.Context, id string, to SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if s.Status.Terminal() {
		return fmt.Errorf("session %q is %q: %w", id, s.Status, ErrConflict)
	}
	s.Status = to
	m.sessions[id] = s
	return nil
}

func (m *MemStore) CreateTask(_ context.Context, t Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[t.ID]; exists {
		return fmt.Errorf("task %q already exists: %w", t.ID, ErrConflict)
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *MemStore) TransitionTask(_ context.Context, id string, to TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %q: %w", id, ErrNotFound)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("task %q is %q: %w", id, t.Status, ErrConflict)
	}
	t.Status = to
	m.tasks[id] = t
	return nil
}

func (m *MemStore) AppendProgress(_ context.Context, p TaskProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[p.TaskID]; !ok {
		return fmt.Errorf("task %q: %w", p.TaskID, ErrNotFound)
	}
	m.progress[p.TaskID] = append(m.progress[p.TaskID], p)
	return nil
}

func (m *MemStore) AddWorker(_ context.Context, w Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.workers[w.ID]; exists {
		return fmt.Errorf("worker %q already exists: %w", w.ID, ErrConflict)
	}
	m.workers[w.ID] = w
	m.order = append(m.order, w.ID)
	return nil
}

func (m *MemStore) RemoveWorker(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workers[id]; !ok {
		return fmt.Errorf("worker %q: %w", id, ErrNotFound)
	}
	delete(m.workers, id)
	return nil
}

func (m *MemStore) AppendGPUSample(_ context.Context, s GPUSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gpuSamples = append(m.gpuSamples, s)
	return nil
}

func (m *MemStore) AppendLatencySample(_ context.Context, s LatencySample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencySamples = append(m.latencySamples, s)
	return nil
}

func (m *MemStore) AppendComputeSample(_ context.Context, s ComputeSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.computeSamples = append(m.computeSamples, s)
	return nil
}
