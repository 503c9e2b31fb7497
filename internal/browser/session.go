// internal/browser/session.go
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vantor-labs/concierge/api/schemas"
	"github.com/vantor-labs/concierge/internal/config"
)

type sessionState int

const (
	stateUninitialized sessionState = iota
	stateActive
	stateClosed
)

// maxWaitMillis caps the wait action so the model cannot stall a turn.
const maxWaitMillis = 5000

// Session is one isolated browser tab driven by the agent loop. It owns the
// action budget, the admission policy, and the post-action page snapshot.
// Sessions are not safe for concurrent use; the loop dispatches sequentially.
type Session struct {
	id     string
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu          sync.Mutex
	state       sessionState
	actionsUsed int

	tabCtx    context.Context
	tabCancel context.CancelFunc
	onClose   func()

	// runner, resolver, snapshotFn, and locationFn are replaceable so the
	// state machine and budget logic can be tested without a Chrome process.
	runner     func(ctx context.Context, actions ...chromedp.Action) error
	resolver   hostResolver
	snapshotFn func(ctx context.Context) (*schemas.PageState, error)
	locationFn func(ctx context.Context) (string, error)
}

func newSession(allocatorCtx context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Session {
	tabCtx, tabCancel := chromedp.NewContext(allocatorCtx)
	id := uuid.NewString()
	s := &Session{
		id:        id,
		cfg:       cfg,
		logger:    logger.Named("browser_session").With(zap.String("session_id", id[:8])),
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
		resolver:  defaultResolver,
	}
	s.runner = func(ctx context.Context, actions ...chromedp.Action) error {
		return chromedp.Run(ctx, actions...)
	}
	s.snapshotFn = s.capturePageState
	s.locationFn = s.currentLocation
	return s
}

// Do validates the request, admits it, executes it, and returns the resulting
// page snapshot. The first action must be a navigation. Budget is charged only
// once a request passes validation and admission; page-level failures
// (missing selector, timeout) still consume their action.
func (s *Session) Do(ctx context.Context, req schemas.BrowserActionRequest) (*schemas.PageState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return nil, &schemas.ValidationError{Field: "session", Reason: "session is closed"}
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}

	// Admission runs before the budget: a refused URL never reaches the
	// network and never costs an action.
	var admitted string
	if req.Action == schemas.ActionNavigate {
		u, err := admitURL(ctx, req.URL, s.resolver)
		if err != nil {
			s.logger.Warn("Navigation refused by admission policy", zap.String("url", req.URL), zap.Error(err))
			return nil, err
		}
		admitted = u.String()
	}

	if s.actionsUsed >= s.cfg.MaxActions {
		return nil, &schemas.ResourceLimitError{Resource: "browser actions", Limit: s.cfg.MaxActions}
	}
	s.actionsUsed++

	if s.state == stateUninitialized {
		if err := s.initialize(ctx); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("Executing browser action",
		zap.String("action", string(req.Action)),
		zap.String("target", req.Target()),
		zap.Int("budget_used", s.actionsUsed))

	if err := s.execute(ctx, req, admitted); err != nil {
		return nil, err
	}
	return s.snapshotFn(ctx)
}

// validate checks the per-action field requirements. It holds no browser state
// beyond the first-navigation rule.
func (s *Session) validate(req schemas.BrowserActionRequest) error {
	switch req.Action {
	case schemas.ActionNavigate:
		if req.URL == "" {
			return &schemas.ValidationError{Field: "url", Reason: "required for navigate"}
		}
	case schemas.ActionClick:
		if req.Selector == "" && req.Text == "" {
			return &schemas.ValidationError{Field: "selector", Reason: "selector or text required for click"}
		}
	case schemas.ActionType:
		if req.Selector == "" {
			return &schemas.ValidationError{Field: "selector", Reason: "required for type"}
		}
	case schemas.ActionSelect:
		if req.Selector == "" {
			return &schemas.ValidationError{Field: "selector", Reason: "required for select"}
		}
		if req.Value == "" {
			return &schemas.ValidationError{Field: "value", Reason: "required for select"}
		}
	case schemas.ActionWait:
		if req.Milliseconds <= 0 {
			return &schemas.ValidationError{Field: "milliseconds", Reason: "must be positive"}
		}
	case schemas.ActionScroll:
		if req.Direction != "" && req.Direction != "up" && req.Direction != "down" {
			return &schemas.ValidationError{Field: "direction", Reason: `must be "up" or "down"`}
		}
	case schemas.ActionExtract, schemas.ActionBack:
	default:
		return &schemas.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", req.Action)}
	}

	if s.state == stateUninitialized && req.Action != schemas.ActionNavigate {
		return &schemas.ValidationError{Field: "action", Reason: "no page loaded yet; navigate first"}
	}
	return nil
}

// initialize applies the fixed viewport and installs subresource blocking on
// the fresh tab. The session becomes Active only after this succeeds.
func (s *Session) initialize(ctx context.Context) error {
	if s.cfg.BlockSubresources {
		s.installSubresourceBlocking()
		if err := s.runner(s.tabCtx, fetch.Enable()); err != nil {
			return fmt.Errorf("failed to enable request interception: %w", err)
		}
	}
	if err := s.runner(s.tabCtx, chromedp.EmulateViewport(
		int64(s.cfg.ViewportWidth), int64(s.cfg.ViewportHeight))); err != nil {
		return fmt.Errorf("failed to set viewport: %w", err)
	}
	s.state = stateActive
	return nil
}

// installSubresourceBlocking fails image, font, stylesheet, and media requests
// at the CDP layer. The agent only reads text and structure, so these bytes
// are pure overhead.
func (s *Session) installSubresourceBlocking() {
	chromedp.ListenTarget(s.tabCtx, func(ev interface{}) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			c := chromedp.FromContext(s.tabCtx)
			ectx := cdp.WithExecutor(s.tabCtx, c.Target)
			switch paused.ResourceType {
			case network.ResourceTypeImage, network.ResourceTypeFont,
				network.ResourceTypeStylesheet, network.ResourceTypeMedia:
				_ = fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(ectx)
			default:
				_ = fetch.ContinueRequest(paused.RequestID).Do(ectx)
			}
		}()
	})
}

func (s *Session) execute(ctx context.Context, req schemas.BrowserActionRequest, admittedURL string) error {
	switch req.Action {
	case schemas.ActionNavigate:
		return s.navigate(ctx, req.URL, admittedURL)
	case schemas.ActionClick:
		if req.Selector != "" {
			return s.interact(req.Selector, chromedp.Tasks{
				chromedp.Click(req.Selector, chromedp.ByQuery),
				// Some clicks trigger a navigation; let the page settle
				// before the snapshot.
				chromedp.Sleep(500 * time.Millisecond),
			})
		}
		return s.clickByText(req.Text)
	case schemas.ActionType:
		return s.interact(req.Selector, chromedp.Tasks{
			chromedp.Clear(req.Selector, chromedp.ByQuery),
			chromedp.SendKeys(req.Selector, typedInput(req), chromedp.ByQuery),
		})
	case schemas.ActionSelect:
		return s.interact(req.Selector, chromedp.SetValue(req.Selector, req.Value, chromedp.ByQuery))
	case schemas.ActionWait:
		ms := req.Milliseconds
		if ms > maxWaitMillis {
			ms = maxWaitMillis
		}
		return s.runner(s.tabCtx, chromedp.Sleep(time.Duration(ms)*time.Millisecond))
	case schemas.ActionBack:
		return s.navigateBack()
	case schemas.ActionScroll:
		delta := "window.innerHeight * 0.8"
		if req.Direction == "up" {
			delta = "-window.innerHeight * 0.8"
		}
		var ignored any
		return s.runner(s.tabCtx, chromedp.Evaluate("window.scrollBy(0, "+delta+")", &ignored))
	case schemas.ActionExtract:
		// Snapshot only; Do takes it after execute returns.
		return nil
	}
	return nil
}

// navigate loads an already-admitted URL under the navigation deadline and
// re-checks the settled URL so a redirect cannot smuggle the session into a
// blocked address.
func (s *Session) navigate(ctx context.Context, rawURL, admittedURL string) error {
	navCtx, cancel := context.WithTimeout(s.tabCtx, s.cfg.NavigationTimeout)
	defer cancel()

	if err := s.runner(navCtx, chromedp.Navigate(admittedURL)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &schemas.NavigationTimeoutError{URL: rawURL, Timeout: s.cfg.NavigationTimeout}
		}
		return fmt.Errorf("navigation failed: %w", err)
	}

	landed, err := s.locationFn(ctx)
	if err != nil {
		return fmt.Errorf("failed to read settled location: %w", err)
	}
	if landed != "" && landed != "about:blank" {
		if _, err := admitURL(ctx, landed, s.resolver); err != nil {
			var secErr *schemas.SecurityError
			if errors.As(err, &secErr) {
				s.logger.Warn("Redirect landed on a blocked address",
					zap.String("requested", rawURL), zap.String("landed", landed))
				return &schemas.SecurityError{URL: landed, Reason: "redirect target: " + secErr.Reason}
			}
			return err
		}
	}
	return nil
}

// typedInput returns the text a type action should enter. Models sometimes
// send it as "value" instead of "text"; both are accepted.
func typedInput(req schemas.BrowserActionRequest) string {
	if req.Text != "" {
		return req.Text
	}
	return req.Value
}

// navigateBack walks the tab history one step, bounded like a forward
// navigation so a page that never settles cannot hang the turn.
func (s *Session) navigateBack() error {
	navCtx, cancel := context.WithTimeout(s.tabCtx, s.cfg.NavigationTimeout)
	defer cancel()

	if err := s.runner(navCtx, chromedp.NavigateBack()); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &schemas.NavigationTimeoutError{URL: "history back", Timeout: s.cfg.NavigationTimeout}
		}
		return fmt.Errorf("history back failed: %w", err)
	}
	return nil
}

// clickByTextJS clicks the first clickable element whose visible text contains
// the needle, case-insensitively. Returns whether anything was clicked.
const clickByTextJS = `(function(needle) {
	needle = needle.toLowerCase();
	const els = document.querySelectorAll('a, button, input[type="submit"], input[type="button"], [role="button"], [onclick]');
	for (const el of els) {
		const text = (el.innerText || el.value || '').trim().toLowerCase();
		if (text && text.includes(needle)) {
			el.click();
			return true;
		}
	}
	return false;
})(%s)`

// clickByText resolves a click target by substring match against the visible
// text of clickable elements.
func (s *Session) clickByText(text string) error {
	needle, err := json.Marshal(text)
	if err != nil {
		return fmt.Errorf("failed to encode click text: %w", err)
	}

	actCtx, cancel := context.WithTimeout(s.tabCtx, 10*time.Second)
	defer cancel()

	var clicked bool
	if err := s.runner(actCtx, chromedp.Tasks{
		chromedp.Evaluate(fmt.Sprintf(clickByTextJS, needle), &clicked),
		chromedp.Sleep(500 * time.Millisecond),
	}); err != nil {
		return fmt.Errorf("click by text failed: %w", err)
	}
	if !clicked {
		return fmt.Errorf("no clickable element with text %q", text)
	}
	return nil
}

// interact runs an element-targeted action with a short deadline so a missing
// selector reads as a tool failure, not a hung turn.
func (s *Session) interact(selector string, action chromedp.Action) error {
	actCtx, cancel := context.WithTimeout(s.tabCtx, 10*time.Second)
	defer cancel()
	if err := s.runner(actCtx, action); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("element %q not found or not interactable", selector)
		}
		return err
	}
	return nil
}

// currentLocation reads the tab's settled URL.
func (s *Session) currentLocation(ctx context.Context) (string, error) {
	locCtx, cancel := context.WithTimeout(s.tabCtx, 5*time.Second)
	defer cancel()
	var loc string
	if err := s.runner(locCtx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// capturePageState captures the observable page state after an action settles.
func (s *Session) capturePageState(ctx context.Context) (*schemas.PageState, error) {
	snapCtx, cancel := context.WithTimeout(s.tabCtx, 10*time.Second)
	defer cancel()

	var raw string
	if err := s.runner(snapCtx, chromedp.Evaluate(pageStateJS, &raw)); err != nil {
		return nil, fmt.Errorf("failed to capture page state: %w", err)
	}

	var state schemas.PageState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to decode page state: %w", err)
	}
	return &state, nil
}

// ActionsUsed reports how much of the budget the session has consumed.
func (s *Session) ActionsUsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actionsUsed
}

// CurrentURL returns the settled URL of the active page, or "" before the
// first navigation.
func (s *Session) CurrentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateActive {
		return ""
	}
	loc, err := s.locationFn(context.Background())
	if err != nil {
		return ""
	}
	return loc
}

// Close tears down the tab. It is idempotent and safe to call on every exit
// path.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return
	}
	s.state = stateClosed
	s.tabCancel()
	if s.onClose != nil {
		s.onClose()
	}
	s.logger.Debug("Browser session closed", zap.Int("actions_used", s.actionsUsed))
}
