// internal/browser/tool.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vantor-labs/concierge/api/schemas"
)

// ToolName is the name under which the browser capability is offered to the
// model.
const ToolName = "browser"

// ToolDefinition declares the browser tool for the model. The input schema
// mirrors schemas.BrowserActionRequest.
func ToolDefinition() schemas.ToolDefinition {
	return schemas.ToolDefinition{
		Name: ToolName,
		Description: "Drive a sandboxed web browser. Navigate to public websites, click elements, " +
			"fill forms, and read page content. Every call returns a snapshot of the page: " +
			"its title, URL, visible text, form fields, and clickable elements. " +
			"The first action of a conversation turn must be \"navigate\".",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type": "string",
					"enum": []string{"navigate", "click", "type", "select", "extract", "wait", "back", "scroll"},
				},
				"url":      map[string]any{"type": "string", "description": "Target URL; required for navigate."},
				"selector": map[string]any{"type": "string", "description": "CSS selector; required for type and select, preferred for click."},
				"text":     map[string]any{"type": "string", "description": "Text to type, or for click without a selector, the visible text of the element to click."},
				"value":    map[string]any{"type": "string", "description": "Option value; required for select."},
				"milliseconds": map[string]any{
					"type":        "integer",
					"description": "Pause length for wait; capped at 5000.",
				},
				"direction": map[string]any{"type": "string", "enum": []string{"up", "down"}},
			},
			"required": []string{"action"},
		},
	}
}

// SessionHandler adapts one live session to the tool dispatcher contract. The
// agent loop constructs it per turn so all browser calls of a turn share the
// same tab.
type SessionHandler struct {
	session schemas.BrowserSession
}

// NewSessionHandler binds the handler to a session.
func NewSessionHandler(session schemas.BrowserSession) *SessionHandler {
	return &SessionHandler{session: session}
}

func (h *SessionHandler) Definition() schemas.ToolDefinition { return ToolDefinition() }

// Execute parses the model's input, runs the action, and serializes the page
// snapshot as the tool result.
func (h *SessionHandler) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var req schemas.BrowserActionRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return "", &schemas.ValidationError{Field: "input", Reason: "browser input is not valid JSON"}
	}

	state, err := h.session.Do(ctx, req)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to serialize page state: %w", err)
	}
	return string(out), nil
}
