// internal/llmclient/anthropic.go
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/vantor-labs/concierge/api/schemas"
	"github.com/vantor-labs/concierge/internal/config"
	"github.com/vantor-labs/concierge/internal/network"
)

const (
	defaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion      = "2023-06-01"
	defaultMaxTokens         = 4096
)

// AnthropicClient implements schemas.LLMClient against the Anthropic Messages
// API (non-streaming).
type AnthropicClient struct {
	apiKey     string
	endpoint   string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
	config     config.LLMModelConfig
}

// -- Anthropic wire structures (internal to this file) --

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content []schemas.Block `json:"content"`
}

type anthropicRequest struct {
	Model       string                   `json:"model"`
	Messages    []anthropicMessage       `json:"messages"`
	System      string                   `json:"system,omitempty"`
	MaxTokens   int                      `json:"max_tokens"`
	Temperature *float32                 `json:"temperature,omitempty"`
	Tools       []schemas.ToolDefinition `json:"tools,omitempty"`
}

type anthropicResponse struct {
	ID         string          `json:"id"`
	Role       string          `json:"role"`
	Content    []schemas.Block `json:"content"`
	Model      string          `json:"model"`
	StopReason string          `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewAnthropicClient initializes the client.
func NewAnthropicClient(cfg config.LLMModelConfig, netCfg config.NetworkConfig, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultAnthropicEndpoint
	}
	timeout := cfg.APITimeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	return &AnthropicClient{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		model:      cfg.Model,
		config:     cfg,
		httpClient: network.NewClient(netCfg, timeout),
		logger:     logger.Named("llmclient.anthropic"),
	}, nil
}

// Chat sends the transcript to the Messages API and returns the model's reply
// with retries on transient failures.
func (c *AnthropicClient) Chat(ctx context.Context, req *schemas.ChatRequest) (*schemas.ChatResponse, error) {
	payload := c.buildRequestPayload(req)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var out *schemas.ChatResponse

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var payload anthropicResponse
		if err := json.Unmarshal(respBody, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}
		if len(payload.Content) == 0 {
			return backoff.Permanent(fmt.Errorf("anthropic API returned empty content"))
		}

		c.logger.Info("LLM generation complete (Anthropic)",
			zap.Duration("duration", duration),
			zap.String("stop_reason", payload.StopReason),
			zap.Int("input_tokens", payload.Usage.InputTokens),
			zap.Int("output_tokens", payload.Usage.OutputTokens),
		)

		out = &schemas.ChatResponse{
			StopReason:   normalizeStopReason(payload.StopReason),
			Content:      payload.Content,
			Model:        payload.Model,
			InputTokens:  payload.Usage.InputTokens,
			OutputTokens: payload.Usage.OutputTokens,
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, &schemas.ExternalServiceError{Service: "anthropic", Err: err}
	}
	return out, nil
}

func (c *AnthropicClient) buildRequestPayload(req *schemas.ChatRequest) anthropicRequest {
	msgs := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	payload := anthropicRequest{
		Model:     c.model,
		Messages:  msgs,
		System:    req.System,
		MaxTokens: maxTokens,
		Tools:     req.Tools,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		payload.Temperature = &t
	} else if c.config.Temperature > 0 {
		t := c.config.Temperature
		payload.Temperature = &t
	}
	return payload
}

func (c *AnthropicClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Anthropic API returned error status",
		zap.Int("status", statusCode), zap.String("response", string(body)))
	err := fmt.Errorf("anthropic API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable,
		http.StatusInternalServerError, 529: // 529: Anthropic "overloaded"
		return err // Transient errors, retry.
	default:
		return backoff.Permanent(err) // Permanent errors.
	}
}

// normalizeStopReason collapses provider stop reasons into the two the agent
// loop branches on. Anything that is not a tool request ends the turn.
func normalizeStopReason(raw string) schemas.StopReason {
	if raw == string(schemas.StopToolUse) {
		return schemas.StopToolUse
	}
	return schemas.StopEndTurn
}
