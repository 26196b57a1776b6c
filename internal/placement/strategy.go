package placement

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	apiv1 "github.com/llm-d-incubation/llm-d-inference-orchestrator/api/v1"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/costmodel"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/store"
)

var (
	// ErrEmptyRoster is returned when no workers are registered.
	ErrEmptyRoster = errors.New("no worker exists")
	// ErrNoFeasiblePlan is returned when no stage assignment satisfies
	// every worker's capacity constraint.
	ErrNoFeasiblePlan = errors.New("no feasible plan for roster")
)

// Plan is an ordered partition of model layers across workers for
// pipeline execution. Once dispatched it is immutable.
type Plan struct {
	Stages []apiv1.PlanStage
	// WorkerIDs holds the worker id of each stage, aligned with
	// Stages. The first entry is the dispatch target and the expected
	// origin of progress callbacks.
	WorkerIDs []string
	// EstimatedLatencyMs is the strategy's latency estimate used for
	// plan selection; zero for strategies that do not estimate.
	EstimatedLatencyMs float64
}

// Strategy computes an execution plan for a session from a roster
// snapshot.
type Strategy interface {
	// Place returns a plan covering every layer of the session's model
	// exactly once, or an error when scheduling is infeasible.
	Place(ctx context.Context, sess store.ChatSession, roster []store.Worker) (*Plan, error)
}

// Kind is an enumeration of the available placement strategies.
type Kind string

const (
	KindRandomSingleWorker Kind = "random-single-worker"
	KindCostAware          Kind = "cost-aware"
)

// Options tunes strategy behavior.
type Options struct {
	// ExpectedGenerationLength is the decode length assumed when
	// estimating end-to-end latency.
	ExpectedGenerationLength int
	// Latency optionally overrides the static pair table with smoothed
	// telemetry estimates.
	Latency *costmodel.LatencyEstimator
	// Rand is the randomness source of the placeholder strategy; nil
	// uses the global source.
	Rand *rand.Rand
}

// NewStrategy is the factory selecting a placement strategy.
func NewStrategy(kind Kind, opts Options) (Strategy, error) {
	switch kind {
	case KindRandomSingleWorker:
		return &RandomSingleWorker{rand: opts.Rand}, nil
	case KindCostAware:
		return NewCostAware(opts), nil
	default:
		return nil, fmt.Errorf("unsupported placement strategy: %q", kind)
	}
}

// RandomSingleWorker is the conformance placeholder: the entire model
// on one uniformly random worker, with no feasibility check against
// the cost model.
type RandomSingleWorker struct {
	rand *rand.Rand
}

var _ Strategy = (*RandomSingleWorker)(nil)

// Place picks one random roster member and assigns it every layer.
func (s *RandomSingleWorker) Place(_ context.Context, sess store.ChatSession, roster []store.Worker) (*Plan, error) {
	if len(roster) == 0 {
		return nil, ErrEmptyRoster
	}
	layers, err := costmodel.ModelLayers(sess.Model)
	if err != nil {
		return nil, err
	}
	var idx int
	if s.rand != nil {
		idx = s.rand.Intn(len(roster))
	} else {
		idx = rand.Intn(len(roster))
	}
	w := roster[idx]
	return &Plan{
		Stages:    []apiv1.PlanStage{{WorkerURL: w.Endpoint, Layers: layers}},
		WorkerIDs: []string{w.ID},
	}, nil
}
