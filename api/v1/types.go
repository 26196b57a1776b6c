/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package v1 defines the wire types of the orchestrator API: the
// OpenAI-style chat completion surface exposed to clients and the
// forward/update protocol spoken with inference workers.
package v1

// Role is a dialog message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of a chat dialog.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the client-facing request body of
// /v1/chat/completions.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	N        int           `json:"n,omitempty"`
	Stream   bool          `json:"stream,omitempty"`
}

// UsageInfo carries token accounting for a buffered completion.
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChoice is one fully assembled choice of a buffered
// completion response.
type ChatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// ChatCompletionResponse is the buffered (non-streaming) response body.
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   UsageInfo              `json:"usage"`
}

// DeltaMessage is the incremental payload of one streamed event.
type DeltaMessage struct {
	Role    Role   `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChatCompletionStreamChoice is one streamed event for one choice index.
type ChatCompletionStreamChoice struct {
	Index        int          `json:"index"`
	Delta        DeltaMessage `json:"delta"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

// ChatCompletionStreamResponse frames one server-sent event of a
// streaming completion.
type ChatCompletionStreamResponse struct {
	ID      string                       `json:"id"`
	Object  string                       `json:"object"`
	Created int64                        `json:"created"`
	Model   string                       `json:"model"`
	Choices []ChatCompletionStreamChoice `json:"choices"`
}

// Object discriminators.
const (
	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"
)

// RegisterWorkerRequest is sent by a worker joining the fleet. GPUType
// must name a GPU class the cost model has tables for.
type RegisterWorkerRequest struct {
	WorkerURL string `json:"worker_url"`
	GPUType   string `json:"gpu_type"`
}

// WorkerToken is the credential handed back on registration.
type WorkerToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// WorkerInfo is one roster entry returned by /list_workers.
type WorkerInfo struct {
	ID           string `json:"id"`
	Endpoint     string `json:"endpoint"`
	RegisteredAt int64  `json:"registered_at"`
}

// PlanStage is one (worker, layer subset) stage of an execution plan on
// the wire. Layers are ordered and contiguous within the model.
type PlanStage struct {
	WorkerURL string   `json:"worker_url"`
	Layers    []string `json:"layers"`
}

// ForwardRequest is the core-to-worker call starting (or advancing) a
// task through the pipeline.
type ForwardRequest struct {
	TaskID    string      `json:"task_id"`
	IsNewTask bool        `json:"is_new_task"`
	Plan      []PlanStage `json:"plan"`
	Step      int         `json:"step"`
	Round     int         `json:"round"`
	Payload   [][]int     `json:"payload"`
}

// ChoiceUpdate is one per-choice token batch inside a task update.
type ChoiceUpdate struct {
	Index  int   `json:"index"`
	Tokens []int `json:"tokens"`
}

// TaskUpdateRequest is the worker-to-core progress callback body.
type TaskUpdateRequest struct {
	TaskID  string         `json:"task_id"`
	Updates []ChoiceUpdate `json:"updates"`
}

// GPUStat reports available GPU memory on a worker.
type GPUStat struct {
	Nickname         string  `json:"nickname"`
	GPUType          string  `json:"gpu_type"`
	AvailableMemInMB float64 `json:"gpu_available_mem_in_mb"`
}

// ConnStat reports an observed network latency sample to another worker.
type ConnStat struct {
	ToWorkerID  string  `json:"to_w_id"`
	LatencyInMs float64 `json:"latency_in_ms"`
}

// CompStat reports an observed per-step compute time sample.
type CompStat struct {
	StepType     string  `json:"step_type"`
	StepTimeInMs float64 `json:"step_time_in_ms"`
}

// ReportStatsRequest is the out-of-band telemetry feed from workers.
type ReportStatsRequest struct {
	GPU     []GPUStat  `json:"gpu,omitempty"`
	Conn    []ConnStat `json:"conn,omitempty"`
	Compute []CompStat `json:"compute,omitempty"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
