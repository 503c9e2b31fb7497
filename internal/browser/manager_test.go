// internal/browser/manager_test.go
package browser

import (
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/vantor-labs/concierge/internal/config"
)

func TestBuildAllocatorOptions(t *testing.T) {
	m := &Manager{
		logger: zaptest.NewLogger(t),
		cfg: config.BrowserConfig{
			Headless:       true,
			UserAgent:      "test-agent",
			ViewportWidth:  1366,
			ViewportHeight: 900,
			Args:           []string{"--lang=en-US", "mute-audio"},
		},
	}

	opts := m.buildAllocatorOptions()

	// Full default set plus the automation override block and both config
	// args; linux adds its container flags on top.
	assert.GreaterOrEqual(t, len(opts), len(chromedp.DefaultExecAllocatorOptions)+9)
}
