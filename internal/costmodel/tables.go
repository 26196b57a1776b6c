package costmodel

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotSupported is returned for any model, layer, or GPU type missing
// from the tables.
var ErrNotSupported = errors.New("not supported by cost model")

// GPUType identifies a GPU class with uniform capacity and timing.
type GPUType string

const (
	GPUTypeA10G GPUType = "A10G"
	GPUTypeA100 GPUType = "A100"
)

// MemoryFootprint is the memory cost of hosting one layer.
type MemoryFootprint struct {
	// WeightBytes is the resident size of the layer weights.
	WeightBytes int64
	// TransientBytes is the additional scratch memory used during a
	// forward pass through the layer.
	TransientBytes int64
}

// StepCost is the time cost of one layer on a given GPU type.
type StepCost struct {
	// LoadMs is the one-time weight loading cost, bound by disk speed.
	LoadMs float64
	// InferMs is the per-token forward cost.
	InferMs float64
}

type layerClass string

const (
	classEmbeddings layerClass = "tok_embeddings"
	classBlock      layerClass = "layers"
	classNorm       layerClass = "norm"
	classOutput     layerClass = "output"
)

type modelSpec struct {
	blocks int
	memory map[layerClass]MemoryFootprint
	steps  map[GPUType]map[layerClass]StepCost
}

// The per-layer numbers are measured values for the sliced llama-2
// checkpoints served by the fleet.
var models = map[string]modelSpec{
	"llama-2-7b-chat-slice": {
		blocks: 32,
		memory: map[layerClass]MemoryFootprint{
			classEmbeddings: {WeightBytes: 262144000},
			classBlock:      {WeightBytes: 404750336, TransientBytes: 8388608},
			classNorm:       {WeightBytes: 8866},
			classOutput:     {WeightBytes: 262144000},
		},
		steps: map[GPUType]map[layerClass]StepCost{
			GPUTypeA10G: {
				classEmbeddings: {LoadMs: 144.695, InferMs: 0.095},
				classBlock:      {LoadMs: 220.949, InferMs: 1.02},
				classNorm:       {LoadMs: 0.543, InferMs: 0.124},
				classOutput:     {LoadMs: 152.412, InferMs: 0.648},
			},
			GPUTypeA100: {
				classEmbeddings: {LoadMs: 164.065, InferMs: 0.074},
				classBlock:      {LoadMs: 265.658, InferMs: 0.675},
				classNorm:       {LoadMs: 0.936, InferMs: 0.113},
				classOutput:     {LoadMs: 166.615, InferMs: 0.203},
			},
		},
	},
	"llama-2-70b-chat-slice": {
		blocks: 80,
		memory: map[layerClass]MemoryFootprint{
			classEmbeddings: {WeightBytes: 524288000},
			classBlock:      {WeightBytes: 1711276032, TransientBytes: 2097152},
			classNorm:       {WeightBytes: 17058},
			classOutput:     {WeightBytes: 524288000},
		},
		steps: map[GPUType]map[layerClass]StepCost{
			GPUTypeA10G: {
				classEmbeddings: {LoadMs: 279.545, InferMs: 0.098},
				classBlock:      {LoadMs: 864.465, InferMs: 3.748},
				classNorm:       {LoadMs: 0.534941, InferMs: 0.134},
				classOutput:     {LoadMs: 277.843, InferMs: 1.159},
			},
			GPUTypeA100: {
				classEmbeddings: {LoadMs: 330.723, InferMs: 0.074},
				classBlock:      {LoadMs: 749.449, InferMs: 1.211},
				classNorm:       {LoadMs: 0.942, InferMs: 0.124},
				classOutput:     {LoadMs: 188.085, InferMs: 0.347},
			},
		},
	},
}

var capacities = map[GPUType]int64{
	GPUTypeA10G: 23827316736,
	GPUTypeA100: 84986691584,
}

// Static pair latency in ms, keyed by (from, to) GPU type.
var pairLatencies = map[[2]GPUType]float64{
	{GPUTypeA10G, GPUTypeA10G}: 1.0,
	{GPUTypeA100, GPUTypeA100}: 1.0,
	{GPUTypeA10G, GPUTypeA100}: 2.0,
	{GPUTypeA100, GPUTypeA10G}: 2.0,
}

// ModelLayers returns the ordered full layer list of a model, each as
// "<model>/<layer>".
func ModelLayers(model string) ([]string, error) {
	spec, ok := models[model]
	if !ok {
		return nil, fmt.Errorf("model %q: %w", model, ErrNotSupported)
	}
	layers := make([]string, 0, spec.blocks+3)
	layers = append(layers, model+"/tok_embeddings")
	for i := 0; i < spec.blocks; i++ {
		layers = append(layers, fmt.Sprintf("%s/layers.%d", model, i))
	}
	layers = append(layers, model+"/norm", model+"/output")
	return layers, nil
}

func splitLayer(fullLayer string) (model string, class layerClass, err error) {
	parts := strings.SplitN(fullLayer, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("layer %q: malformed name: %w", fullLayer, ErrNotSupported)
	}
	switch {
	case parts[1] == "tok_embeddings":
		return parts[0], classEmbeddings, nil
	case strings.HasPrefix(parts[1], "layers."):
		return parts[0], classBlock, nil
	case parts[1] == "norm":
		return parts[0], classNorm, nil
	case parts[1] == "output":
		return parts[0], classOutput, nil
	}
	return "", "", fmt.Errorf("layer %q: unknown layer: %w", fullLayer, ErrNotSupported)
}

// LayerMemory returns the memory footprint of one layer.
func LayerMemory(fullLayer string) (MemoryFootprint, error) {
	model, class, err := splitLayer(fullLayer)
	if err != nil {
		return MemoryFootprint{}, err
	}
	spec, ok := models[model]
	if !ok {
		return MemoryFootprint{}, fmt.Errorf("model %q: %w", model, ErrNotSupported)
	}
	return spec.memory[class], nil
}

// StepTime returns the load and inference time of one layer on a GPU
// type.
func StepTime(fullLayer string, gpu GPUType) (StepCost, error) {
	model, class, err := splitLayer(fullLayer)
	if err != nil {
		return StepCost{}, err
	}
	spec, ok := models[model]
	if !ok {
		return StepCost{}, fmt.Errorf("model %q: %w", model, ErrNotSupported)
	}
	steps, ok := spec.steps[gpu]
	if !ok {
		return StepCost{}, fmt.Errorf("gpu type %q: %w", gpu, ErrNotSupported)
	}
	return steps[class], nil
}

// Capacity returns the total memory of a GPU type in bytes.
func Capacity(gpu GPUType) (int64, error) {
	c, ok := capacities[gpu]
	if !ok {
		return 0, fmt.Errorf("gpu type %q: %w", gpu, ErrNotSupported)
	}
	return c, nil
}

// NetworkLatency returns the activation hand-off latency in ms between
// two GPU types.
func NetworkLatency(from, to GPUType) (float64, error) {
	l, ok := pairLatencies[[2]GPUType{from, to}]
	if !ok {
		return 0, fmt.Errorf("gpu pair %q->%q: %w", from, to, ErrNotSupported)
	}
	return l, nil
}

// Supported reports whether a model has cost tables.
func Supported(model string) bool {
	_, ok := models[model]
	return ok
}
