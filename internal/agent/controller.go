// internal/agent/controller.go
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vantor-labs/concierge/api/schemas"
	"github.com/vantor-labs/concierge/internal/browser"
	"github.com/vantor-labs/concierge/internal/config"
	"github.com/vantor-labs/concierge/internal/tools"
)

// SessionFactory creates a fresh browser session for one turn. The controller
// calls it lazily on the first browser tool use.
type SessionFactory func() schemas.BrowserSession

// TurnRequest is everything the controller needs to run one user turn.
type TurnRequest struct {
	CustomerID string
	UserText   string
	System     string
	History    []schemas.Message
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	TurnID      string
	Reply       string
	Invocations []schemas.ToolInvocation
	Iterations  int
	GuardFired  bool
}

// Controller runs the agent loop: submit, dispatch tools, resubmit, until the
// model ends its turn or a budget runs out.
type Controller struct {
	llm      schemas.LLMClient
	registry *tools.Registry
	sessions SessionFactory
	audit    schemas.AuditSink
	cfg      config.AgentConfig
	logger   *zap.Logger
}

// NewController wires the loop. audit may be nil when auditing is disabled.
func NewController(llm schemas.LLMClient, registry *tools.Registry, sessions SessionFactory,
	audit schemas.AuditSink, cfg config.AgentConfig, logger *zap.Logger) *Controller {
	return &Controller{
		llm:      llm,
		registry: registry,
		sessions: sessions,
		audit:    audit,
		cfg:      cfg,
		logger:   logger.Named("agent"),
	}
}

// Run executes one turn end to end. The browser session, if one was opened,
// is closed on every exit path; the returned error is always one of the typed
// error classes or a context error.
func (c *Controller) Run(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TurnTimeout)
	defer cancel()

	turnID := uuid.NewString()
	logger := c.logger.With(zap.String("turn_id", turnID[:8]), zap.String("customer_id", req.CustomerID))

	var session schemas.BrowserSession
	defer func() {
		if session != nil {
			session.Close()
		}
	}()
	// acquireSession hands the loop one session for the whole turn.
	acquireSession := func() schemas.BrowserSession {
		if session == nil {
			session = c.sessions()
		}
		return session
	}

	defs := append(c.registry.Definitions(), browser.ToolDefinition())
	tr := newTranscript(req.History, req.UserText)

	result := &TurnResult{TurnID: turnID}
	guardUsed := false

	for iteration := 1; iteration <= c.cfg.MaxIterations; iteration++ {
		result.Iterations = iteration

		resp, err := c.llm.Chat(ctx, &schemas.ChatRequest{
			System:   req.System,
			Messages: tr.messages(),
			Tools:    defs,
		})
		if err != nil {
			return nil, fmt.Errorf("model call failed on iteration %d: %w", iteration, err)
		}

		assistant := schemas.Message{Role: schemas.RoleAssistant, Content: resp.Content}
		tr.append(assistant)

		uses := assistant.ToolUses()
		if resp.StopReason == schemas.StopToolUse && len(uses) > 0 {
			resultsMsg, invocations := c.dispatch(ctx, logger, turnID, req.CustomerID, uses, acquireSession)
			result.Invocations = append(result.Invocations, invocations...)

			if err := verifyPairing(assistant, resultsMsg); err != nil {
				return nil, err
			}
			tr.append(resultsMsg)
			continue
		}

		reply := resp.JoinedText()

		if c.cfg.GuardEnabled && !guardUsed && len(result.Invocations) == 0 && claimsCompletedAction(reply) {
			logger.Warn("Reply claims a completed action with zero tool invocations; resubmitting once")
			guardUsed = true
			result.GuardFired = true
			tr.append(schemas.UserText(guardCorrection))
			continue
		}

		if strings.TrimSpace(reply) == "" {
			// The caller must always get text or an explicit failure.
			return nil, fmt.Errorf("model ended the turn with no text on iteration %d", iteration)
		}

		result.Reply = reply
		logger.Info("Turn completed",
			zap.Int("iterations", result.Iterations),
			zap.Int("invocations", len(result.Invocations)),
			zap.Bool("guard_fired", result.GuardFired))
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, &schemas.LoopBudgetError{Iterations: c.cfg.MaxIterations}
}

// dispatch executes the model's tool requests sequentially in emission order
// and builds the tool-result message. Tool failures become is_error results;
// they never abort the turn.
func (c *Controller) dispatch(ctx context.Context, logger *zap.Logger, turnID, customerID string,
	uses []schemas.Block, acquireSession func() schemas.BrowserSession) (schemas.Message, []schemas.ToolInvocation) {

	results := make([]schemas.Block, 0, len(uses))
	invocations := make([]schemas.ToolInvocation, 0, len(uses))

	for _, use := range uses {
		var (
			content string
			execErr error
			target  string
		)

		if use.Name == browser.ToolName {
			handler := browser.NewSessionHandler(acquireSession())
			target = browserTarget(use.Input)
			content, execErr = handler.Execute(ctx, use.Input)
		} else {
			content, execErr = c.registry.Execute(ctx, use.Name, use.Input)
		}

		succeeded := execErr == nil
		if execErr != nil {
			logger.Warn("Tool invocation failed",
				zap.String("tool", use.Name), zap.Error(execErr))
			content = execErr.Error()
		}

		results = append(results, schemas.ToolResultBlock(use.ID, content, !succeeded))
		invocations = append(invocations, schemas.ToolInvocation{
			Name:      use.Name,
			Target:    target,
			Succeeded: succeeded,
		})

		if c.audit != nil {
			// Fire-and-forget: the sink must never block or fail the loop.
			c.audit.Record(schemas.AuditEntry{
				TurnID:     turnID,
				CustomerID: customerID,
				Tool:       use.Name,
				Target:     target,
				Succeeded:  succeeded,
				At:         time.Now().UTC(),
			})
		}
	}

	return schemas.Message{Role: schemas.RoleUser, Content: results}, invocations
}

// browserTarget extracts the audit target from a browser tool input without
// failing on malformed JSON; the handler reports that separately.
func browserTarget(input []byte) string {
	var req schemas.BrowserActionRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return ""
	}
	return req.Target()
}
