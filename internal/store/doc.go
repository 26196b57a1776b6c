// Package store holds the durable entity records of the orchestrator
// (ChatSession, Task, TaskProgress, Worker, and the out-of-band worker
// telemetry samples) together with the state-machine rules that guard
// their status transitions.
//
// The physical record store is an external collaborator assumed to be
// transactional and keyed by entity id; MemStore is the in-process
// reference implementation of that contract. All transitions are
// one-way: a session or task observed in a terminal state rejects
// further mutation with ErrConflict, never silently re-processes.
// Sessions and progress rows are never deleted; they are the audit
// trail.
package store
