// Package aggregator is the concurrency core of the orchestrator. It
// ingests asynchronous per-choice progress callbacks from workers,
// multiplexes them into one ordered event stream per chat session, and
// tracks per-choice fulfillment so that session teardown happens
// exactly once, when every choice index has observed its terminal
// token.
//
// Ownership rules:
//
//   - The session registry (event channel + fulfillment vector per
//     in-flight session) is owned by the Aggregator. Entries are
//     created when streaming starts and removed exactly once on full
//     fulfillment, never left as ambient global state.
//   - Ingest is the only writer of a session's fulfillment vector; the
//     Response Composer only reads the event channel, never the vector.
//
// Ordering guarantees within a session: role-announcement events for
// all indices precede any content event; content events for one index
// are delivered in callback ingestion order; a terminal event is the
// last event for its index. No ordering is guaranteed across indices.
package aggregator
