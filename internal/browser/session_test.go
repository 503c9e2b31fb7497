// internal/browser/session_test.go
package browser

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vantor-labs/concierge/api/schemas"
	"github.com/vantor-labs/concierge/internal/config"
)

// newFakeSession builds a session whose browser interactions are stubbed out,
// leaving the state machine, validation, budget, and admission logic real.
func newFakeSession(t *testing.T, cfg config.BrowserConfig) *Session {
	t.Helper()
	if cfg.MaxActions == 0 {
		cfg.MaxActions = 30
	}
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = config.NewDefaultConfig().Browser.NavigationTimeout
	}

	s := &Session{
		id:     "test-session",
		cfg:    cfg,
		logger: zaptest.NewLogger(t),
		tabCtx: context.Background(),
		tabCancel: func() {},
		resolver: staticResolver(map[string][]string{
			"example.com": {"93.184.216.34"},
		}),
	}
	s.runner = func(ctx context.Context, actions ...chromedp.Action) error { return nil }
	s.snapshotFn = func(ctx context.Context) (*schemas.PageState, error) {
		return &schemas.PageState{URL: "https://example.com/", Title: "Example"}, nil
	}
	s.locationFn = func(ctx context.Context) (string, error) {
		return "https://example.com/", nil
	}
	return s
}

func navigateReq(url string) schemas.BrowserActionRequest {
	return schemas.BrowserActionRequest{Action: schemas.ActionNavigate, URL: url}
}

func TestSessionFirstActionMustNavigate(t *testing.T) {
	s := newFakeSession(t, config.BrowserConfig{})

	_, err := s.Do(context.Background(), schemas.BrowserActionRequest{
		Action: schemas.ActionClick, Selector: "#go",
	})
	var valErr *schemas.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Reason, "navigate first")
	assert.Zero(t, s.ActionsUsed(), "rejected input must not burn budget")

	state, err := s.Do(context.Background(), navigateReq("https://example.com/"))
	require.NoError(t, err)
	assert.Equal(t, "Example", state.Title)
	assert.Equal(t, 1, s.ActionsUsed())

	// Once active, other actions are allowed.
	_, err = s.Do(context.Background(), schemas.BrowserActionRequest{
		Action: schemas.ActionClick, Selector: "#go",
	})
	require.NoError(t, err)
}

func TestSessionActionBudget(t *testing.T) {
	s := newFakeSession(t, config.BrowserConfig{MaxActions: 3})

	_, err := s.Do(context.Background(), navigateReq("https://example.com/"))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = s.Do(context.Background(), schemas.BrowserActionRequest{Action: schemas.ActionExtract})
		require.NoError(t, err)
	}

	_, err = s.Do(context.Background(), schemas.BrowserActionRequest{Action: schemas.ActionExtract})
	var limitErr *schemas.ResourceLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 3, limitErr.Limit)
	assert.Equal(t, 3, s.ActionsUsed(), "budget does not grow past the limit")
}

func TestSessionValidation(t *testing.T) {
	s := newFakeSession(t, config.BrowserConfig{})
	_, err := s.Do(context.Background(), navigateReq("https://example.com/"))
	require.NoError(t, err)

	cases := []struct {
		name string
		req  schemas.BrowserActionRequest
	}{
		{"navigate without url", schemas.BrowserActionRequest{Action: schemas.ActionNavigate}},
		{"click without selector", schemas.BrowserActionRequest{Action: schemas.ActionClick}},
		{"type without selector", schemas.BrowserActionRequest{Action: schemas.ActionType, Text: "hi"}},
		{"select without value", schemas.BrowserActionRequest{Action: schemas.ActionSelect, Selector: "#s"}},
		{"wait without duration", schemas.BrowserActionRequest{Action: schemas.ActionWait}},
		{"scroll sideways", schemas.BrowserActionRequest{Action: schemas.ActionScroll, Direction: "left"}},
		{"unknown action", schemas.BrowserActionRequest{Action: "teleport"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			used := s.ActionsUsed()
			_, err := s.Do(context.Background(), tc.req)
			var valErr *schemas.ValidationError
			require.ErrorAs(t, err, &valErr)
			assert.Equal(t, used, s.ActionsUsed())
		})
	}
}

func TestSessionRefusesBlockedNavigation(t *testing.T) {
	s := newFakeSession(t, config.BrowserConfig{})
	ran := false
	s.runner = func(ctx context.Context, actions ...chromedp.Action) error {
		ran = true
		return nil
	}

	_, err := s.Do(context.Background(), navigateReq("http://169.254.169.254/latest/meta-data/"))
	var secErr *schemas.SecurityError
	require.ErrorAs(t, err, &secErr)
	// Refused before any network activity, and the budget is untouched.
	assert.False(t, ran, "no browser action may run for a refused URL")
	assert.Zero(t, s.ActionsUsed())
}

func TestSessionClickByText(t *testing.T) {
	s := newFakeSession(t, config.BrowserConfig{})
	_, err := s.Do(context.Background(), navigateReq("https://example.com/"))
	require.NoError(t, err)

	// No selector: the click request is accepted and resolved by visible-text
	// match. The stubbed page has no matching element, which reads as a tool
	// failure that still consumed its action.
	_, err = s.Do(context.Background(), schemas.BrowserActionRequest{
		Action: schemas.ActionClick, Text: "Book now",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no clickable element")
	assert.Equal(t, 2, s.ActionsUsed())
}

func TestSessionRedirectRecheck(t *testing.T) {
	s := newFakeSession(t, config.BrowserConfig{})
	s.locationFn = func(ctx context.Context) (string, error) {
		return "http://192.168.0.10/admin", nil
	}

	_, err := s.Do(context.Background(), navigateReq("https://example.com/"))
	var secErr *schemas.SecurityError
	require.ErrorAs(t, err, &secErr)
	assert.Contains(t, secErr.Reason, "redirect target")
}

func TestSessionBackBoundedByNavigationTimeout(t *testing.T) {
	s := newFakeSession(t, config.BrowserConfig{NavigationTimeout: 2 * time.Second})
	_, err := s.Do(context.Background(), navigateReq("https://example.com/"))
	require.NoError(t, err)

	var hadDeadline bool
	s.runner = func(ctx context.Context, actions ...chromedp.Action) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	}
	_, err = s.Do(context.Background(), schemas.BrowserActionRequest{Action: schemas.ActionBack})
	require.NoError(t, err)
	assert.True(t, hadDeadline, "back must run under the navigation deadline")

	// A back that never settles reads as a navigation timeout.
	s.runner = func(ctx context.Context, actions ...chromedp.Action) error {
		return context.DeadlineExceeded
	}
	_, err = s.Do(context.Background(), schemas.BrowserActionRequest{Action: schemas.ActionBack})
	var navErr *schemas.NavigationTimeoutError
	require.ErrorAs(t, err, &navErr)
}

func TestSessionExtractTwiceIsStable(t *testing.T) {
	s := newFakeSession(t, config.BrowserConfig{})
	_, err := s.Do(context.Background(), navigateReq("https://example.com/"))
	require.NoError(t, err)

	var ran int
	s.runner = func(ctx context.Context, actions ...chromedp.Action) error {
		ran++
		return nil
	}

	first, err := s.Do(context.Background(), schemas.BrowserActionRequest{Action: schemas.ActionExtract})
	require.NoError(t, err)
	second, err := s.Do(context.Background(), schemas.BrowserActionRequest{Action: schemas.ActionExtract})
	require.NoError(t, err)

	// Extract mutates nothing, so consecutive snapshots agree on identity.
	assert.Equal(t, first.URL, second.URL)
	assert.Equal(t, first.Title, second.Title)
	assert.Zero(t, ran, "extract must not execute any page action")
}

func TestTypedInput(t *testing.T) {
	assert.Equal(t, "hello", typedInput(schemas.BrowserActionRequest{Text: "hello", Value: "ignored"}))
	assert.Equal(t, "fallback", typedInput(schemas.BrowserActionRequest{Value: "fallback"}))
	assert.Empty(t, typedInput(schemas.BrowserActionRequest{}))
}

func TestSessionClosedRejectsEverything(t *testing.T) {
	s := newFakeSession(t, config.BrowserConfig{})
	s.Close()

	_, err := s.Do(context.Background(), navigateReq("https://example.com/"))
	var valErr *schemas.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Reason, "closed")
}

func TestSessionCloseIdempotent(t *testing.T) {
	s := newFakeSession(t, config.BrowserConfig{})
	closes := 0
	s.onClose = func() { closes++ }

	s.Close()
	s.Close()
	s.Close()
	assert.Equal(t, 1, closes, "Close must release manager tracking exactly once")
}

func TestSessionHandlerExecute(t *testing.T) {
	s := newFakeSession(t, config.BrowserConfig{})
	h := NewSessionHandler(s)

	out, err := h.Execute(context.Background(), json.RawMessage(`{"action":"navigate","url":"https://example.com/"}`))
	require.NoError(t, err)

	var state schemas.PageState
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.Equal(t, "Example", state.Title)

	_, err = h.Execute(context.Background(), json.RawMessage(`not json`))
	var valErr *schemas.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestToolDefinitionShape(t *testing.T) {
	def := ToolDefinition()
	assert.Equal(t, ToolName, def.Name)
	props, ok := def.InputSchema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "action")
	assert.Contains(t, props, "selector")
}
