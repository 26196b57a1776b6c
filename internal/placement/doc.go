// Package placement turns a chat session and a worker roster snapshot
// into an execution plan: an ordered sequence of (worker, layer
// subset) stages covering every layer of the requested model exactly
// once.
//
// Strategies are swappable behind the Strategy interface at a single
// seam, selected through NewStrategy:
//
//   - KindRandomSingleWorker places the whole model on one uniformly
//     random roster member without consulting the cost model. It is the
//     conformance placeholder, kept selectable, never the hard-coded
//     default behavior of callers.
//   - KindCostAware partitions layers contiguously across workers,
//     rejecting any stage whose memory footprint exceeds the worker's
//     GPU capacity and preferring the feasible plan with the lowest
//     estimated end-to-end latency, ties broken by fewest stages, then
//     by lowest total network latency.
//
// The Scheduler is the single consumer of the scheduling domain: it
// drains the work queue serially so that no two placements race over
// the same capacity snapshot, and records scheduling failures as
// terminal error states on the session. Failures are not retried.
package placement
