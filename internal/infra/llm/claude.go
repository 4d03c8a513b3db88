package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"

	"catchup-pipeline/internal/resilience/circuitbreaker"
)

// ClaudeConfig holds the realtime client's settings.
type ClaudeConfig struct {
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// DefaultClaudeConfig returns the realtime synthesis defaults.
func DefaultClaudeConfig() ClaudeConfig {
	return ClaudeConfig{
		Model:     string(anthropic.ModelClaudeSonnet4_5_20250929),
		MaxTokens: 1024,
		Timeout:   60 * time.Second,
	}
}

// Claude implements Client against the Anthropic API with a circuit breaker
// and provider-side prompt caching on the shared prefix.
type Claude struct {
	client         anthropic.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	cfg            ClaudeConfig
	logger         *slog.Logger
}

// NewClaude builds the client. The API key is required; a missing key is an
// auth failure surfaced on the first call by the SDK.
func NewClaude(apiKey string, cfg ClaudeConfig, logger *slog.Logger) *Claude {
	if cfg.Model == "" {
		cfg = DefaultClaudeConfig()
	}
	logger.Info("claude synthesis client initialized",
		slog.String("model", cfg.Model),
		slog.Int("max_tokens", cfg.MaxTokens))

	return &Claude{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		circuitBreaker: circuitbreaker.New(circuitbreaker.ClaudeAPIConfig()),
		cfg:            cfg,
		logger:         logger,
	}
}

func (c *Claude) ModelID() string { return c.cfg.Model }

// Synthesize performs one realtime call. Refusals, throttles, and transport
// failures come back as Response kinds; only auth failures (401/403) return
// an error.
func (c *Claude) Synthesize(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return c.doSynthesize(ctx, req, maxTokens)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			c.logger.Warn("claude circuit breaker open, request rejected",
				slog.String("state", c.circuitBreaker.State().String()))
			return &Response{Kind: KindTransient, Err: err}, nil
		}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == 401 || apiErr.StatusCode == 403) {
			return nil, fmt.Errorf("claude auth failure: %w", err)
		}
		return c.classifyError(err), nil
	}
	return result.(*Response), nil
}

func (c *Claude) doSynthesize(ctx context.Context, req Request, maxTokens int) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.CacheablePrefix != "" {
		// The shared prefix (instructions + category + tags) is marked
		// cacheable so identical prefixes across stories hit the
		// provider-side cache.
		params.System = []anthropic.TextBlockParam{{
			Text:         req.CacheablePrefix,
			CacheControl: anthropic.NewCacheControlEphemeralParam(),
		}}
	}

	start := time.Now()
	message, err := c.client.Messages.New(ctx, params)
	duration := time.Since(start)
	if err != nil {
		return nil, err
	}

	usage := Usage{
		InputTokens:       int(message.Usage.InputTokens),
		CachedInputTokens: int(message.Usage.CacheReadInputTokens),
		OutputTokens:      int(message.Usage.OutputTokens),
	}

	if message.StopReason == anthropic.StopReasonRefusal {
		return &Response{Kind: KindRefusal, Usage: usage, RefusalReason: "model refusal"}, nil
	}
	if len(message.Content) == 0 {
		return &Response{Kind: KindRefusal, Usage: usage, RefusalReason: "empty response"}, nil
	}
	textBlock, ok := message.Content[0].AsAny().(anthropic.TextBlock)
	if !ok || textBlock.Text == "" {
		return &Response{Kind: KindRefusal, Usage: usage, RefusalReason: "non-text response"}, nil
	}

	c.logger.Debug("synthesis completed",
		slog.Duration("duration", duration),
		slog.Int("input_tokens", usage.InputTokens),
		slog.Int("cached_input_tokens", usage.CachedInputTokens),
		slog.Int("output_tokens", usage.OutputTokens))

	return &Response{Kind: KindOK, Text: textBlock.Text, Usage: usage}, nil
}

// classifyError maps SDK errors onto response kinds.
func (c *Claude) classifyError(err error) *Response {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return &Response{
				Kind:       KindRateLimited,
				RetryAfter: retryAfterFrom(apiErr),
				Err:        err,
			}
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			// Auth failures are not retryable and must surface loudly.
			return &Response{Kind: KindRefusal, RefusalReason: fmt.Sprintf("auth failure: %v", err), Err: err}
		case apiErr.StatusCode >= 500:
			return &Response{Kind: KindTransient, Err: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Response{Kind: KindTransient, Err: err}
	}
	return &Response{Kind: KindTransient, Err: err}
}

func retryAfterFrom(apiErr *anthropic.Error) time.Duration {
	if apiErr.Response == nil {
		return 30 * time.Second
	}
	if header := apiErr.Response.Header.Get("Retry-After"); header != "" {
		if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 30 * time.Second
}
