// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/vantor-labs/concierge/internal/config"
)

// Manager handles the lifecycle of the headless browser process. One process
// serves the whole application; each agent turn gets its own isolated tab.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	// allocatorCtx manages the entire browser process. All session contexts
	// are derived from this.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// wg tracks active sessions for a graceful shutdown.
	wg sync.WaitGroup
}

// NewManager initializes the browser manager and launches the browser process.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
	}
	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

// launchBrowser prepares allocator options and starts the headless browser process.
func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator...")

	opts := m.buildAllocatorOptions()

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	m.allocatorCtx = allocCtx
	m.allocatorCancel = cancel

	// Verify the browser starts and is responsive before accepting sessions.
	testCtx, cancelTest := context.WithTimeout(allocCtx, 30*time.Second)
	testCtx, cancelTestCtx := chromedp.NewContext(testCtx)
	defer cancelTestCtx()
	defer cancelTest()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		m.allocatorCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched successfully and is responsive.")
	return nil
}

// buildAllocatorOptions assembles the flags for a quiet, configurable browser
// instance.
func (m *Manager) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		// Defaults set enable-automation; a later Flag with the same name
		// overrides it.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", m.cfg.Headless),
		chromedp.WindowSize(m.cfg.ViewportWidth, m.cfg.ViewportHeight),
		chromedp.UserAgent(m.cfg.UserAgent),
	)

	// Custom arguments from the config file.
	for _, arg := range m.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Flags required for running inside containers (e.g. Docker on Linux).
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}

// NewSession creates a new isolated browser tab bound to one agent-loop
// execution. The caller must Close it on every exit path.
func (m *Manager) NewSession() *Session {
	s := newSession(m.allocatorCtx, m.cfg, m.logger)
	m.wg.Add(1)
	s.onClose = m.wg.Done
	return s
}

// Shutdown waits for all active sessions to complete and then terminates the
// browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated. Waiting for active sessions to complete...")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All sessions have completed.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	if m.allocatorCancel != nil {
		m.logger.Info("Shutting down main browser process...")
		m.allocatorCancel()
		<-m.allocatorCtx.Done()
	}
	return nil
}
