package schemas

import (
	"context"
	"encoding/json"
	"time"
)

// LLMClient is the provider-neutral chat transport. Implementations live in
// internal/llmclient.
type LLMClient interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// ToolHandler executes one tool invocation. Input is the raw JSON the model
// produced; the handler owns its validation. The string result is sent back to
// the model verbatim. A non-nil error becomes an is_error tool result, never a
// turn failure.
type ToolHandler interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// BrowserSession is one isolated browser context bound to a single agent-loop
// execution. Do validates, admits, executes, and returns the post-action page
// snapshot. Close is idempotent and must be called on every exit path.
type BrowserSession interface {
	Do(ctx context.Context, req BrowserActionRequest) (*PageState, error)
	Close()
}

// AuditEntry is one side-effecting tool invocation as recorded in the audit log.
type AuditEntry struct {
	TurnID     string
	CustomerID string
	Tool       string
	Target     string
	Succeeded  bool
	At         time.Time
}

// AuditSink records side-effecting invocations. Implementations must not block
// the agent loop; failures are logged, not propagated.
type AuditSink interface {
	Record(entry AuditEntry)
}

// CustomerProfile is the stable context loaded at the start of every turn.
type CustomerProfile struct {
	ID          string
	DisplayName string
	// PreferenceDocument is free-form text merged into the system prompt.
	PreferenceDocument string
}

// ProfileStore loads customer profiles from durable storage.
type ProfileStore interface {
	LoadProfile(ctx context.Context, customerID string) (*CustomerProfile, error)
}

// TurnRecord is one completed user/assistant exchange as persisted.
type TurnRecord struct {
	CustomerID  string
	UserText    string
	ReplyText   string
	Invocations []ToolInvocation
	At          time.Time
}

// HistoryStore loads and appends conversation history. LoadHistory returns
// messages in chronological order regardless of how the backend stores them.
type HistoryStore interface {
	LoadHistory(ctx context.Context, customerID string, limit int) ([]Message, error)
	SaveTurn(ctx context.Context, rec *TurnRecord) error
}
