// Package dispatch renders validated dialogs into model-specific token
// prompts and performs the initial forward call to the first-stage
// worker of an execution plan.
package dispatch

import (
	"errors"
	"fmt"
	"strings"

	apiv1 "github.com/llm-d-incubation/llm-d-inference-orchestrator/api/v1"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/tokenizer"
)

var (
	// ErrUnsafeInput is returned when dialog content carries a
	// reserved control marker.
	ErrUnsafeInput = errors.New("special tags are not allowed as part of the prompt")
	// ErrBadDialog is returned when the role sequence is malformed.
	ErrBadDialog = errors.New("dialog roles must start with an optional system message, then alternate user/assistant, ending with user")
)

// ValidateDialog enforces the input contract before any rendering or
// dispatch: no reserved markers anywhere in message content, and after
// an optional leading system message the roles must strictly alternate
// user/assistant, beginning and ending with user.
func ValidateDialog(family tokenizer.Family, msgs []apiv1.ChatMessage) error {
	if len(msgs) == 0 {
		return fmt.Errorf("empty dialog: %w", ErrBadDialog)
	}
	for _, m := range msgs {
		for _, tag := range family.ReservedMarkers {
			if strings.Contains(m.Content, tag) {
				return fmt.Errorf("message contains %q: %w", tag, ErrUnsafeInput)
			}
		}
	}
	dialog := msgs
	if dialog[0].Role == apiv1.RoleSystem {
		dialog = dialog[1:]
	}
	if len(dialog) == 0 {
		return fmt.Errorf("dialog has only a system message: %w", ErrBadDialog)
	}
	for i, m := range dialog {
		want := apiv1.RoleUser
		if i%2 == 1 {
			want = apiv1.RoleAssistant
		}
		if m.Role != want {
			return fmt.Errorf("position %d has role %q, want %q: %w", i, m.Role, want, ErrBadDialog)
		}
	}
	if dialog[len(dialog)-1].Role != apiv1.RoleUser {
		return fmt.Errorf("last message must be from user: %w", ErrBadDialog)
	}
	return nil
}

// RenderPrompt turns a validated dialog into the model's token prompt.
// A leading system message is folded into the first user turn with the
// family's system delimiters; each answered (user, assistant) pair is
// encoded with bos and eos; the final unanswered user turn is encoded
// with bos only. Pure function of the dialog.
func RenderPrompt(family tokenizer.Family, msgs []apiv1.ChatMessage) ([]int, error) {
	if err := ValidateDialog(family, msgs); err != nil {
		return nil, err
	}
	d := family.Delims
	dialog := msgs
	if dialog[0].Role == apiv1.RoleSystem {
		folded := apiv1.ChatMessage{
			Role:    dialog[1].Role,
			Content: d.BSys + dialog[0].Content + d.ESys + dialog[1].Content,
		}
		dialog = append([]apiv1.ChatMessage{folded}, dialog[2:]...)
	}
	enc := family.Tokenizer
	var prompt []int
	for i := 0; i+1 < len(dialog); i += 2 {
		turn := fmt.Sprintf("%s %s %s %s ",
			d.BInst, strings.TrimSpace(dialog[i].Content),
			d.EInst, strings.TrimSpace(dialog[i+1].Content))
		prompt = append(prompt, enc.Encode(turn, true, true)...)
	}
	last := fmt.Sprintf("%s %s %s", d.BInst, strings.TrimSpace(dialog[len(dialog)-1].Content), d.EInst)
	prompt = append(prompt, enc.Encode(last, true, false)...)
	return prompt, nil
}
