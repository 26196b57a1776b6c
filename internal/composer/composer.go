// Package composer consumes a session's aggregated event stream and
// produces the client-visible response: either a server-pushed
// incremental event sequence or a single buffered completion object
// with usage accounting.
package composer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	apiv1 "github.com/llm-d-incubation/llm-d-inference-orchestrator/api/v1"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/aggregator"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/store"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/tokenizer"
)

// ErrClientDisconnected is returned when the client goes away before
// the event sequence is exhausted in buffered mode.
var ErrClientDisconnected = errors.New("client disconnected")

// ErrStreamFailed is returned when the stream ends before every choice
// reported a terminal event, which happens when scheduling or dispatch
// failed the session.
var ErrStreamFailed = errors.New("session stream ended before fulfillment")

// StreamIncremental serializes each event as an SSE-framed
// chat.completion.chunk as it is produced, flushing per event, and
// terminates with the explicit [DONE] marker once the sequence is
// exhausted. No buffering beyond one event.
func StreamIncremental(ctx context.Context, w http.ResponseWriter, sess store.ChatSession, events <-chan aggregator.Event) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	created := sess.CreatedAt.Unix()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, open := <-events:
			if !open {
				if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
					return err
				}
				flusher.Flush()
				return nil
			}
			frame := apiv1.ChatCompletionStreamResponse{
				ID:      sess.ID,
				Object:  apiv1.ObjectChatCompletionChunk,
				Created: created,
				Model:   sess.Model,
				Choices: []apiv1.ChatCompletionStreamChoice{toStreamChoice(ev)},
			}
			data, err := json.Marshal(frame)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

func toStreamChoice(ev aggregator.Event) apiv1.ChatCompletionStreamChoice {
	c := apiv1.ChatCompletionStreamChoice{Index: ev.Index}
	switch ev.Type {
	case aggregator.EventRole:
		c.Delta.Role = ev.Role
	case aggregator.EventContent:
		c.Delta.Content = ev.Content
	case aggregator.EventFinish:
		c.FinishReason = ev.FinishReason
	}
	return c
}

// ComposeBuffered accumulates the whole event sequence and assembles a
// single completion response with usage accounting. If the client
// disconnects before the sequence is exhausted, onDisconnect is
// invoked to request best-effort task termination and
// ErrClientDisconnected is returned.
//
// Completion tokens per choice are counted as events-per-choice minus
// the tokenizer family's structural event discount (the role
// announcement and the finish event), matching the historical
// convention; prompt tokens are the summed encoded lengths of every
// input message.
func ComposeBuffered(ctx context.Context, sess store.ChatSession, events <-chan aggregator.Event, onDisconnect func(context.Context)) (*apiv1.ChatCompletionResponse, error) {
	fam, err := tokenizer.ForModel(sess.Model)
	if err != nil {
		return nil, err
	}

	contents := make([][]string, sess.N)
	finishReasons := make([]string, sess.N)
	eventCounts := make([]int, sess.N)

drain:
	for {
		select {
		case <-ctx.Done():
			if onDisconnect != nil {
				onDisconnect(context.WithoutCancel(ctx))
			}
			return nil, ErrClientDisconnected
		case ev, open := <-events:
			if !open {
				break drain
			}
			if ev.Index < 0 || ev.Index >= sess.N {
				continue
			}
			eventCounts[ev.Index]++
			switch ev.Type {
			case aggregator.EventContent:
				contents[ev.Index] = append(contents[ev.Index], ev.Content)
			case aggregator.EventFinish:
				finishReasons[ev.Index] = ev.FinishReason
			}
		}
	}

	for i := 0; i < sess.N; i++ {
		if finishReasons[i] == "" {
			return nil, fmt.Errorf("choice %d: %w", i, ErrStreamFailed)
		}
	}

	promptTokens := 0
	for _, m := range sess.Messages {
		promptTokens += len(fam.Tokenizer.Encode(m.Content, false, false))
	}
	completionTokens := 0
	for i := 0; i < sess.N; i++ {
		n := eventCounts[i] - fam.StructuralEventDiscount
		if n < 0 {
			n = 0
		}
		completionTokens += n
	}

	choices := make([]apiv1.ChatCompletionChoice, sess.N)
	for i := 0; i < sess.N; i++ {
		choices[i] = apiv1.ChatCompletionChoice{
			Index: i,
			Message: apiv1.ChatMessage{
				Role:    apiv1.RoleAssistant,
				Content: strings.Join(contents[i], ""),
			},
			FinishReason: finishReasons[i],
		}
	}
	return &apiv1.ChatCompletionResponse{
		ID:      sess.ID,
		Object:  apiv1.ObjectChatCompletion,
		Created: sess.CreatedAt.Unix(),
		Model:   sess.Model,
		Choices: choices,
		Usage: apiv1.UsageInfo{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}
