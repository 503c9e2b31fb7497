// internal/service/service_test.go
package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vantor-labs/concierge/api/schemas"
	"github.com/vantor-labs/concierge/internal/agent"
	"github.com/vantor-labs/concierge/internal/config"
	"github.com/vantor-labs/concierge/internal/tools"
)

// staticLLM always ends the turn with a fixed reply.
type staticLLM struct {
	reply string
	// last request seen, for asserting the assembled context.
	mu   sync.Mutex
	last *schemas.ChatRequest
}

func (s *staticLLM) Chat(_ context.Context, req *schemas.ChatRequest) (*schemas.ChatResponse, error) {
	s.mu.Lock()
	s.last = req
	s.mu.Unlock()
	return &schemas.ChatResponse{
		StopReason: schemas.StopEndTurn,
		Content:    []schemas.Block{schemas.TextBlock(s.reply)},
	}, nil
}

func (s *staticLLM) lastRequest() *schemas.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// memoryContext is an in-memory profile + history store.
type memoryContext struct {
	mu       sync.Mutex
	profiles map[string]*schemas.CustomerProfile
	history  map[string][]schemas.Message
	saved    []*schemas.TurnRecord
	saveErr  error
}

func (m *memoryContext) LoadProfile(_ context.Context, customerID string) (*schemas.CustomerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[customerID]
	if !ok {
		return nil, errors.New("customer profile not found")
	}
	return p, nil
}

func (m *memoryContext) LoadHistory(_ context.Context, customerID string, _ int) ([]schemas.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history[customerID], nil
}

func (m *memoryContext) SaveTurn(_ context.Context, rec *schemas.TurnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, rec)
	return nil
}

func newTestService(t *testing.T, llm schemas.LLMClient, store *memoryContext) *Service {
	t.Helper()
	cfg := config.NewDefaultConfig()
	logger := zaptest.NewLogger(t)

	ctrl := agent.NewController(
		llm,
		tools.NewRegistry(logger),
		func() schemas.BrowserSession { return nil },
		nil,
		cfg.Agent,
		logger,
	)
	svc := &Service{
		cfg:        cfg,
		logger:     logger,
		controller: ctrl,
	}
	if store != nil {
		svc.profiles = store
		svc.histories = store
	}
	return svc
}

func TestHandleMessage(t *testing.T) {
	llm := &staticLLM{reply: "Here are three options for Friday."}
	store := &memoryContext{
		profiles: map[string]*schemas.CustomerProfile{
			"cust-1": {ID: "cust-1", DisplayName: "Dana", PreferenceDocument: "Vegetarian."},
		},
		history: map[string][]schemas.Message{
			"cust-1": {
				schemas.UserText("earlier question"),
				schemas.AssistantText("earlier answer"),
			},
		},
	}
	svc := newTestService(t, llm, store)

	result, err := svc.HandleMessage(context.Background(), "cust-1", "find me a restaurant")
	require.NoError(t, err)
	assert.Equal(t, "Here are three options for Friday.", result.Reply)

	// Profile and history made it into the model request.
	req := llm.lastRequest()
	require.NotNil(t, req)
	assert.Contains(t, req.System, "Dana")
	assert.Contains(t, req.System, "Vegetarian")
	require.GreaterOrEqual(t, len(req.Messages), 3)
	assert.Equal(t, "earlier question", req.Messages[0].JoinedText())

	// The completed exchange was persisted.
	require.Len(t, store.saved, 1)
	assert.Equal(t, "find me a restaurant", store.saved[0].UserText)
	assert.Equal(t, result.Reply, store.saved[0].ReplyText)
	assert.False(t, store.saved[0].At.IsZero())
}

func TestHandleMessageValidation(t *testing.T) {
	svc := newTestService(t, &staticLLM{reply: "ok"}, nil)

	var vErr *schemas.ValidationError

	_, err := svc.HandleMessage(context.Background(), "cust-1", "   ")
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "text", vErr.Field)

	_, err = svc.HandleMessage(context.Background(), "", "hello")
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "customer_id", vErr.Field)
}

func TestHandleMessageWithoutDatabase(t *testing.T) {
	// No profile or history stores wired: the turn still runs with the
	// default system prompt.
	llm := &staticLLM{reply: "hello"}
	svc := newTestService(t, llm, nil)

	result, err := svc.HandleMessage(context.Background(), "cust-1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Reply)
	assert.Contains(t, llm.lastRequest().System, "concierge assistant")
}

func TestHandleMessageProfileLoadFailure(t *testing.T) {
	store := &memoryContext{profiles: map[string]*schemas.CustomerProfile{}}
	svc := newTestService(t, &staticLLM{reply: "ok"}, store)

	_, err := svc.HandleMessage(context.Background(), "ghost", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load customer context")
}

func TestHandleMessageSaveFailureDoesNotFailTurn(t *testing.T) {
	store := &memoryContext{
		profiles: map[string]*schemas.CustomerProfile{
			"cust-1": {ID: "cust-1", DisplayName: "Dana"},
		},
		saveErr: errors.New("disk full"),
	}
	svc := newTestService(t, &staticLLM{reply: "done"}, store)

	result, err := svc.HandleMessage(context.Background(), "cust-1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "done", result.Reply)
}

func TestBuildSystemPrompt(t *testing.T) {
	base := buildSystemPrompt(nil)
	assert.Contains(t, base, "Never claim an action was completed")
	assert.NotContains(t, base, "Preferences")

	withProfile := buildSystemPrompt(&schemas.CustomerProfile{
		DisplayName:        "Dana",
		PreferenceDocument: "Window seats only.",
	})
	assert.Contains(t, withProfile, "Dana")
	assert.Contains(t, withProfile, "Window seats only.")
}
