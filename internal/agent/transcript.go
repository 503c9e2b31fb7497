// internal/agent/transcript.go
package agent

import (
	"fmt"

	"github.com/vantor-labs/concierge/api/schemas"
)

// transcript accumulates the messages of one turn: prior history, the user's
// utterance, and the assistant/tool-result exchanges of the loop.
type transcript struct {
	msgs []schemas.Message
}

func newTranscript(history []schemas.Message, userText string) *transcript {
	msgs := make([]schemas.Message, 0, len(history)+8)
	msgs = append(msgs, history...)
	msgs = append(msgs, schemas.UserText(userText))
	return &transcript{msgs: msgs}
}

func (t *transcript) append(msg schemas.Message) {
	t.msgs = append(t.msgs, msg)
}

func (t *transcript) messages() []schemas.Message {
	return t.msgs
}

// verifyPairing checks the protocol invariant before a resubmission: every
// tool_use block of the assistant message has exactly one tool_result in the
// reply, in the same order, with no orphans. A violation here is a programming
// error in the dispatch path, surfaced before it can corrupt the provider
// conversation.
func verifyPairing(assistant, results schemas.Message) error {
	uses := assistant.ToolUses()
	res := results.ToolResults()

	if len(uses) != len(res) {
		return fmt.Errorf("tool pairing violation: %d tool_use blocks but %d tool_result blocks",
			len(uses), len(res))
	}

	seen := make(map[string]bool, len(res))
	for i, r := range res {
		if r.ToolUseID != uses[i].ID {
			return fmt.Errorf("tool pairing violation: result %d answers %q, expected %q",
				i, r.ToolUseID, uses[i].ID)
		}
		if seen[r.ToolUseID] {
			return fmt.Errorf("tool pairing violation: duplicate result for %q", r.ToolUseID)
		}
		seen[r.ToolUseID] = true
	}
	return nil
}
