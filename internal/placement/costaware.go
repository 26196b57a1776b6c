package placement

import (
	"context"
	"fmt"
	"math"

	apiv1 "github.com/llm-d-incubation/llm-d-inference-orchestrator/api/v1"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/costmodel"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/store"
)

// DefaultExpectedGenerationLength is the decode length assumed for
// latency estimation when none is configured.
const DefaultExpectedGenerationLength = 256

// maxSolverWorkers bounds the roster the partition solver considers:
// its used-worker set is a uint64 bitmask, and indices past 63 would
// alias into it. Larger rosters are considered in registration order.
const maxSolverWorkers = 64

// CostAware partitions the model's layers contiguously across workers
// under per-worker GPU capacity constraints, minimizing estimated
// end-to-end latency. Each worker hosts at most one stage.
type CostAware struct {
	genLen  int
	latency *costmodel.LatencyEstimator
}

var _ Strategy = (*CostAware)(nil)

// NewCostAware creates the cost-aware partitioner.
func NewCostAware(opts Options) *CostAware {
	genLen := opts.ExpectedGenerationLength
	if genLen <= 0 {
		genLen = DefaultExpectedGenerationLength
	}
	return &CostAware{genLen: genLen, latency: opts.Latency}
}

// candidate scores one partial or complete assignment.
type candidate struct {
	latencyMs float64
	stages    int
	networkMs float64
}

func (c candidate) better(o candidate) bool {
	if c.latencyMs != o.latencyMs {
		return c.latencyMs < o.latencyMs
	}
	if c.stages != o.stages {
		return c.stages < o.stages
	}
	return c.networkMs < o.networkMs
}

type workerCost struct {
	worker    store.Worker
	gpu       costmodel.GPUType
	capacity  int64
	inferMs   []float64 // prefix sums of per-layer inference time
	memBytes  []int64   // prefix sums of weight+transient bytes, shared
}

// Place computes the minimum-latency feasible contiguous partition.
// Any cost-model lookup miss (unsupported model or GPU type) is a
// scheduling failure, not a crash.
func (c *CostAware) Place(ctx context.Context, sess store.ChatSession, roster []store.Worker) (*Plan, error) {
	if len(roster) == 0 {
		return nil, ErrEmptyRoster
	}
	if len(roster) > maxSolverWorkers {
		roster = roster[:maxSolverWorkers]
	}
	layers, err := costmodel.ModelLayers(sess.Model)
	if err != nil {
		return nil, err
	}

	// Shared prefix sums of per-layer memory.
	memPrefix := make([]int64, len(layers)+1)
	for i, layer := range layers {
		fp, err := costmodel.LayerMemory(layer)
		if err != nil {
			return nil, err
		}
		memPrefix[i+1] = memPrefix[i] + fp.WeightBytes + fp.TransientBytes
	}

	workers := make([]workerCost, 0, len(roster))
	for _, w := range roster {
		gpu := costmodel.GPUType(w.GPUType)
		capBytes, err := costmodel.Capacity(gpu)
		if err != nil {
			return nil, err
		}
		infer := make([]float64, len(layers)+1)
		for i, layer := range layers {
			step, err := costmodel.StepTime(layer, gpu)
			if err != nil {
				return nil, err
			}
			infer[i+1] = infer[i] + step.InferMs
		}
		workers = append(workers, workerCost{
			worker:   w,
			gpu:      gpu,
			capacity: capBytes,
			inferMs:  infer,
			memBytes: memPrefix,
		})
	}

	solver := &partitionSolver{
		layers:  layers,
		workers: workers,
		genLen:  float64(c.genLen),
		latency: c.latency,
		memo:    make(map[solverKey]solverResult),
	}
	best, assignment := solver.solve(0, 0, -1)
	if assignment == nil {
		return nil, fmt.Errorf("model %q: %w", sess.Model, ErrNoFeasiblePlan)
	}

	plan := &Plan{EstimatedLatencyMs: best.latencyMs}
	start := 0
	for _, seg := range assignment {
		w := workers[seg.worker].worker
		plan.Stages = append(plan.Stages, apiv1.PlanStage{
			WorkerURL: w.Endpoint,
			Layers:    append([]string(nil), layers[start:start+seg.count]...),
		})
		plan.WorkerIDs = append(plan.WorkerIDs, w.ID)
		start += seg.count
	}
	return plan, nil
}

type segment struct {
	worker int
	count  int
}

type solverKey struct {
	layer int
	mask  uint64
	last  int
}

type solverResult struct {
	cand       candidate
	assignment []segment
	feasible   bool
}

type partitionSolver struct {
	layers  []string
	workers []workerCost
	genLen  float64
	latency *costmodel.LatencyEstimator
	memo    map[solverKey]solverResult
}

// solve finds the best assignment of layers[layer:] given the set of
// already used workers and the previous stage's worker index.
func (s *partitionSolver) solve(layer int, mask uint64, last int) (candidate, []segment) {
	if layer == len(s.layers) {
		return candidate{}, []segment{}
	}
	key := solverKey{layer: layer, mask: mask, last: last}
	if r, ok := s.memo[key]; ok {
		if !r.feasible {
			return candidate{}, nil
		}
		return r.cand, r.assignment
	}

	best := candidate{latencyMs: math.Inf(1)}
	var bestAssign []segment
	for wi := range s.workers {
		if mask&(1<<uint(wi)) != 0 {
			continue
		}
		w := s.workers[wi]
		hop := 0.0
		if last >= 0 {
			hop = s.hopLatency(last, wi)
			if math.IsInf(hop, 1) {
				continue
			}
		}
		for count := 1; layer+count <= len(s.layers); count++ {
			mem := w.memBytes[layer+count] - w.memBytes[layer]
			if mem > w.capacity {
				break
			}
			stageMs := (w.inferMs[layer+count] - w.inferMs[layer]) * s.genLen
			rest, restAssign := s.solve(layer+count, mask|1<<uint(wi), wi)
			if restAssign == nil {
				continue
			}
			cand := candidate{
				latencyMs: stageMs + hop*s.genLen + rest.latencyMs,
				stages:    1 + rest.stages,
				networkMs: hop + rest.networkMs,
			}
			if cand.better(best) {
				best = cand
				bestAssign = append([]segment{{worker: wi, count: count}}, restAssign...)
			}
		}
	}

	s.memo[key] = solverResult{cand: best, assignment: bestAssign, feasible: bestAssign != nil}
	if bestAssign == nil {
		return candidate{}, nil
	}
	return best, bestAssign
}

// hopLatency is the activation hand-off latency between two stage
// workers, preferring smoothed telemetry over the static pair table.
func (s *partitionSolver) hopLatency(from, to int) float64 {
	fw, tw := s.workers[from], s.workers[to]
	if s.latency != nil {
		if ms, ok := s.latency.Estimate(fw.worker.ID, tw.worker.ID); ok {
			return ms
		}
	}
	ms, err := costmodel.NetworkLatency(fw.gpu, tw.gpu)
	if err != nil {
		return math.Inf(1)
	}
	return ms
}
