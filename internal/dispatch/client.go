package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	apiv1 "github.com/llm-d-incubation/llm-d-inference-orchestrator/api/v1"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/logging"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/store"
)

// ErrDispatchFailed is returned on any non-success worker reply. It is
// unrecoverable for the task; the caller surfaces it to the session as
// an error state without retrying.
var ErrDispatchFailed = errors.New("forward call to worker failed")

// Client issues forward and cancel calls to workers. Worker endpoints
// come from the record store, so the destination is untrusted data:
// every call is bounded by the configured timeout.
type Client struct {
	http *http.Client
	log  logr.Logger
}

// NewClient creates a dispatch client with the given per-call timeout.
func NewClient(timeout time.Duration, log logr.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// Forward sends the initial forward call for a task: the full plan and
// the rendered prompt, at step 0 round 0.
func (c *Client) Forward(ctx context.Context, task store.Task, plan []apiv1.PlanStage, prompt []int) error {
	if len(plan) == 0 {
		return fmt.Errorf("empty plan: %w", ErrDispatchFailed)
	}
	req := apiv1.ForwardRequest{
		TaskID:    task.ID,
		IsNewTask: true,
		Plan:      plan,
		Step:      0,
		Round:     0,
		Payload:   [][]int{prompt},
	}
	endpoint := plan[0].WorkerURL + "/forward"
	c.log.V(logging.DEBUG).Info("Dispatching task to first-stage worker",
		"task", task.ID, "endpoint", endpoint, "planStages", len(plan))
	status, err := c.post(ctx, endpoint, req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("%w: worker replied %d", ErrDispatchFailed, status)
	}
	return nil
}

// Terminate requests best-effort task termination on the first-stage
// worker. The signal is not assumed to be honored synchronously;
// failures are logged and swallowed, and repeated calls are harmless.
func (c *Client) Terminate(ctx context.Context, task store.Task) {
	var plan []apiv1.PlanStage
	if err := json.Unmarshal([]byte(task.Plan), &plan); err != nil || len(plan) == 0 {
		return
	}
	body := map[string]string{"task_id": task.ID}
	if _, err := c.post(ctx, plan[0].WorkerURL+"/cancel", body); err != nil {
		c.log.V(logging.DEBUG).Info("Task termination signal not delivered",
			"task", task.ID, "error", err.Error())
	}
}

func (c *Client) post(ctx context.Context, url string, body any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
