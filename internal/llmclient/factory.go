// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vantor-labs/concierge/api/schemas"
	"github.com/vantor-labs/concierge/internal/config"
)

// NewClient is a factory function that creates an LLMClient based on the
// configuration. The returned client is paced by llm.requests_per_minute.
func NewClient(cfg *config.Config, logger *zap.Logger) (schemas.LLMClient, error) {
	var (
		client schemas.LLMClient
		err    error
	)

	switch cfg.LLM.Provider {
	case config.ProviderAnthropic:
		client, err = NewAnthropicClient(cfg.ModelFor(config.ProviderAnthropic), cfg.Network, logger)
	case config.ProviderGemini:
		client, err = NewGeminiClient(cfg.ModelFor(config.ProviderGemini), logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: %q. Supported: [%s, %s]",
			cfg.LLM.Provider, config.ProviderAnthropic, config.ProviderGemini)
	}
	if err != nil {
		return nil, err
	}

	if rpm := cfg.LLM.RequestsPerMinute; rpm > 0 {
		client = &pacedClient{
			inner:   client,
			limiter: rate.NewLimiter(rate.Limit(rpm/60.0), 1),
		}
	}
	return client, nil
}

// pacedClient throttles outbound provider calls to stay under per-minute
// request quotas. Waiting respects the caller's context.
type pacedClient struct {
	inner   schemas.LLMClient
	limiter *rate.Limiter
}

func (p *pacedClient) Chat(ctx context.Context, req *schemas.ChatRequest) (*schemas.ChatResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}
	return p.inner.Chat(ctx, req)
}
