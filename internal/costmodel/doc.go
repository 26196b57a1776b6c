// Package costmodel holds the static cost tables that drive placement:
// per-layer memory footprints, per-(layer, GPU type) load and inference
// times, per-GPU-type total capacity, and inter-GPU-type network
// latency.
//
// All lookups are pure and fail closed: an unknown model, layer, or GPU
// type returns ErrNotSupported rather than a default, because a silent
// fallback would corrupt placement decisions downstream. The tables are
// extended by adding rows, never by changing call sites.
//
// Workers additionally feed latency samples out of band; the
// LatencyEstimator smooths those samples and, when present, overrides
// the static pair table. The cost model only reads that feed, it never
// produces telemetry itself.
package costmodel
