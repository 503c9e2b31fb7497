package schemas

import (
	"encoding/json"
	"strings"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType discriminates the content-block union.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is a tagged union of the three content-block kinds the model
// exchanges with the runtime. Only the fields for the active Type are set;
// the zero values of the others are omitted on the wire.
type Block struct {
	Type BlockType `json:"type"`

	// Text is set for BlockText.
	Text string `json:"text,omitempty"`

	// ID, Name, and Input are set for BlockToolUse.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// ToolUseID, Content, and IsError are set for BlockToolResult.
	// Content is always a string for transport back to the model.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool-use request block as emitted by the model.
func ToolUseBlock(id, name string, input json.RawMessage) Block {
	return Block{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds the answer to a tool-use block. The tool_use_id must
// match the ID of exactly one tool-use block in the preceding assistant message.
func ToolResultBlock(toolUseID, content string, isError bool) Block {
	return Block{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Message is one entry in the transcript. Order matters: a message carrying
// tool-result blocks must immediately follow the assistant message whose
// tool-use blocks it answers.
type Message struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// UserText builds a plain-text user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []Block{TextBlock(text)}}
}

// AssistantText builds a plain-text assistant message.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: []Block{TextBlock(text)}}
}

// ToolUses returns the tool-use blocks of the message in emission order.
func (m Message) ToolUses() []Block {
	var uses []Block
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// ToolResults returns the tool-result blocks of the message in order.
func (m Message) ToolResults() []Block {
	var results []Block
	for _, b := range m.Content {
		if b.Type == BlockToolResult {
			results = append(results, b)
		}
	}
	return results
}

// JoinedText concatenates all text blocks of the message.
func (m Message) JoinedText() string {
	var sb strings.Builder
	for _, b := range m.Content {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToolDefinition describes a capability offered to the model. InputSchema is
// a JSON-Schema document; the runtime treats it as opaque and forwards it to
// the provider verbatim.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// StopReason is the model's signal for why generation stopped.
type StopReason string

const (
	// StopToolUse means the model is requesting one or more tool invocations
	// and expects matching tool results before it will continue.
	StopToolUse StopReason = "tool_use"
	// StopEndTurn means the model has produced its final answer.
	StopEndTurn StopReason = "end_turn"
)

// ChatRequest is the provider-neutral request shape for one LLM call.
type ChatRequest struct {
	System      string           `json:"system"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature float32          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

// ChatResponse is the provider-neutral response shape.
type ChatResponse struct {
	StopReason StopReason `json:"stop_reason"`
	Content    []Block    `json:"content"`
	Model      string     `json:"model,omitempty"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// JoinedText concatenates the text blocks of the response content.
func (r *ChatResponse) JoinedText() string {
	return Message{Content: r.Content}.JoinedText()
}

// ToolInvocation records one executed tool call within a turn. It feeds the
// fake-action guard and the audit log.
type ToolInvocation struct {
	Name      string `json:"name"`
	Target    string `json:"target,omitempty"`
	Succeeded bool   `json:"succeeded"`
}
