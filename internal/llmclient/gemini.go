// internal/llmclient/gemini.go
package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/vantor-labs/concierge/api/schemas"
	"github.com/vantor-labs/concierge/internal/config"
)

// GeminiClient implements schemas.LLMClient on the official genai SDK, mapping
// the content-block transcript onto Gemini function calling.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
	config config.LLMModelConfig
}

// NewGeminiClient initializes the client.
func NewGeminiClient(cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		client: client,
		model:  model,
		config: cfg,
		logger: logger.Named("llmclient.gemini"),
	}, nil
}

// Chat sends the transcript to the Gemini API and returns the model's reply
// with retries on transient failures.
func (c *GeminiClient) Chat(ctx context.Context, req *schemas.ChatRequest) (*schemas.ChatResponse, error) {
	contents, err := c.buildContents(req.Messages)
	if err != nil {
		return nil, err
	}
	genCfg := c.buildGenerationConfig(req)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var out *schemas.ChatResponse

	operation := func() error {
		startTime := time.Now()
		resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genCfg)
		duration := time.Since(startTime)

		if err != nil {
			return c.classifyAPIError(err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}

		candidate := resp.Candidates[0]
		if len(candidate.Content.Parts) == 0 {
			if candidate.FinishReason == genai.FinishReasonSafety {
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("gemini API returned empty content parts (reason: %s)", candidate.FinishReason)
		}

		blocks, err := convertParts(candidate.Content.Parts)
		if err != nil {
			return backoff.Permanent(err)
		}

		stop := schemas.StopEndTurn
		for _, blk := range blocks {
			if blk.Type == schemas.BlockToolUse {
				stop = schemas.StopToolUse
				break
			}
		}

		inTokens, outTokens := 0, 0
		if resp.UsageMetadata != nil {
			inTokens = int(resp.UsageMetadata.PromptTokenCount)
			outTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}

		c.logger.Info("LLM generation complete (Gemini)",
			zap.Duration("duration", duration),
			zap.String("stop_reason", string(stop)),
			zap.Int("prompt_tokens", inTokens),
			zap.Int("completion_tokens", outTokens),
		)

		out = &schemas.ChatResponse{
			StopReason:   stop,
			Content:      blocks,
			Model:        c.model,
			InputTokens:  inTokens,
			OutputTokens: outTokens,
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, &schemas.ExternalServiceError{Service: "gemini", Err: err}
	}
	return out, nil
}

func (c *GeminiClient) buildGenerationConfig(req *schemas.ChatRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Temperature)
	} else if c.config.Temperature > 0 {
		cfg.Temperature = genai.Ptr(c.config.Temperature)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	} else if c.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.config.MaxTokens)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.InputSchema,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

// buildContents converts the transcript into Gemini contents. Tool-use blocks
// become function calls; tool results become function responses attributed
// back to the originating call by its recorded name.
func (c *GeminiClient) buildContents(messages []schemas.Message) ([]*genai.Content, error) {
	// Gemini function responses carry the function name, not the call ID, so
	// track which name each tool_use id belongs to.
	idToName := make(map[string]string)

	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.RoleUser
		if m.Role == schemas.RoleAssistant {
			role = genai.RoleModel
		}

		parts := make([]*genai.Part, 0, len(m.Content))
		for _, blk := range m.Content {
			switch blk.Type {
			case schemas.BlockText:
				parts = append(parts, &genai.Part{Text: blk.Text})
			case schemas.BlockToolUse:
				idToName[blk.ID] = blk.Name
				var args map[string]any
				if len(blk.Input) > 0 {
					if err := json.Unmarshal(blk.Input, &args); err != nil {
						return nil, fmt.Errorf("tool_use %s has non-object input: %w", blk.ID, err)
					}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   blk.ID,
					Name: blk.Name,
					Args: args,
				}})
			case schemas.BlockToolResult:
				resp := map[string]any{"output": blk.Content}
				if blk.IsError {
					resp = map[string]any{"error": blk.Content}
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       blk.ToolUseID,
					Name:     idToName[blk.ToolUseID],
					Response: resp,
				}})
			default:
				return nil, fmt.Errorf("unsupported block type %q", blk.Type)
			}
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents, nil
}

// convertParts maps a Gemini candidate's parts back onto content blocks.
// Function calls without an ID get a generated one so tool results can still
// be paired.
func convertParts(parts []*genai.Part) ([]schemas.Block, error) {
	blocks := make([]schemas.Block, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.FunctionCall != nil:
			id := p.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			input, err := json.Marshal(p.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal function call args: %w", err)
			}
			blocks = append(blocks, schemas.ToolUseBlock(id, p.FunctionCall.Name, input))
		case p.Text != "":
			blocks = append(blocks, schemas.TextBlock(p.Text))
		}
	}
	return blocks, nil
}

func (c *GeminiClient) classifyAPIError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
		return err
	}

	c.logger.Error("Gemini API returned error status",
		zap.Int("status", apiErr.Code), zap.String("message", apiErr.Message))

	switch apiErr.Code {
	case 429, 500, 503:
		return err // Transient errors, retry.
	default:
		return backoff.Permanent(err) // Permanent errors.
	}
}
