package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// BatchConfig holds the batch client's settings.
type BatchConfig struct {
	Model     string
	MaxTokens int
}

// DefaultBatchConfig returns the bulk synthesis defaults. The batch path
// optimizes for cost, so it runs on a smaller model than realtime.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Model:     openai.GPT4oMini,
		MaxTokens: 1024,
	}
}

// OpenAIBatch implements BatchClient on the OpenAI batch API: prompts are
// uploaded as a JSONL file, processed asynchronously, and collected from
// the output file.
type OpenAIBatch struct {
	client *openai.Client
	cfg    BatchConfig
	logger *slog.Logger
}

func NewOpenAIBatch(apiKey string, cfg BatchConfig, logger *slog.Logger) *OpenAIBatch {
	if cfg.Model == "" {
		cfg = DefaultBatchConfig()
	}
	logger.Info("openai batch client initialized", slog.String("model", cfg.Model))
	return &OpenAIBatch{
		client: openai.NewClient(apiKey),
		cfg:    cfg,
		logger: logger,
	}
}

func (b *OpenAIBatch) ModelID() string { return b.cfg.Model }

// SubmitBatch uploads the prompts and opens a batch against the chat
// completions endpoint.
func (b *OpenAIBatch) SubmitBatch(ctx context.Context, prompts []BatchPrompt) (string, error) {
	if len(prompts) == 0 {
		return "", fmt.Errorf("empty batch")
	}

	lines := make([]openai.BatchLineItem, 0, len(prompts))
	for _, p := range prompts {
		maxTokens := p.MaxTokens
		if maxTokens <= 0 {
			maxTokens = b.cfg.MaxTokens
		}
		messages := make([]openai.ChatCompletionMessage, 0, 2)
		if p.CacheablePrefix != "" {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: p.CacheablePrefix,
			})
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: p.Prompt,
		})
		lines = append(lines, openai.BatchChatCompletionRequest{
			CustomID: p.CustomID,
			Method:   "POST",
			URL:      openai.BatchEndpointChatCompletions,
			Body: openai.ChatCompletionRequest{
				Model:     b.cfg.Model,
				MaxTokens: maxTokens,
				Messages:  messages,
			},
		})
	}

	req := openai.CreateBatchWithUploadFileRequest{
		Endpoint: openai.BatchEndpointChatCompletions,
	}
	req.FileName = "summaries.jsonl"
	req.Lines = lines

	resp, err := b.client.CreateBatchWithUploadFile(ctx, req)
	if err != nil {
		return "", fmt.Errorf("submit batch: %w", err)
	}

	b.logger.Info("batch submitted",
		slog.String("batch_id", resp.ID),
		slog.Int("items", len(prompts)))
	return resp.ID, nil
}

// PollBatch reports the batch's lifecycle state.
func (b *OpenAIBatch) PollBatch(ctx context.Context, batchID string) (BatchStatus, error) {
	resp, err := b.client.RetrieveBatch(ctx, batchID)
	if err != nil {
		return "", fmt.Errorf("poll batch %s: %w", batchID, err)
	}
	switch resp.Status {
	case "completed":
		return BatchCompleted, nil
	case "failed", "expired", "cancelled":
		return BatchFailed, nil
	default:
		return BatchInProgress, nil
	}
}

// batchOutputLine mirrors one line of the batch output file.
type batchOutputLine struct {
	CustomID string `json:"custom_id"`
	Response struct {
		StatusCode int `json:"status_code"`
		Body       struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
					Refusal string `json:"refusal"`
				} `json:"message"`
			} `json:"choices"`
			Usage struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
				PromptTokensDetails struct {
					CachedTokens int `json:"cached_tokens"`
				} `json:"prompt_tokens_details"`
			} `json:"usage"`
		} `json:"body"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// FetchBatchResults downloads and decodes the completed batch's output.
func (b *OpenAIBatch) FetchBatchResults(ctx context.Context, batchID string) ([]BatchResult, error) {
	batch, err := b.client.RetrieveBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("fetch batch %s: %w", batchID, err)
	}
	if batch.OutputFileID == nil || *batch.OutputFileID == "" {
		return nil, fmt.Errorf("batch %s has no output file", batchID)
	}

	raw, err := b.client.GetFileContent(ctx, *batch.OutputFileID)
	if err != nil {
		return nil, fmt.Errorf("fetch batch %s output: %w", batchID, err)
	}
	defer func() { _ = raw.Close() }()

	content, err := io.ReadAll(raw)
	if err != nil {
		return nil, fmt.Errorf("read batch %s output: %w", batchID, err)
	}
	return ParseBatchOutput(content)
}

// ParseBatchOutput decodes JSONL batch output into per-story results. A
// json.Decoder consumes concatenated objects directly, newline-delimited or
// not.
func ParseBatchOutput(content []byte) ([]BatchResult, error) {
	var results []BatchResult
	decoder := json.NewDecoder(bytes.NewReader(content))
	for decoder.More() {
		var line batchOutputLine
		if err := decoder.Decode(&line); err != nil {
			return nil, fmt.Errorf("decode batch output line: %w", err)
		}
		results = append(results, BatchResult{
			CustomID: line.CustomID,
			Response: lineToResponse(line),
		})
	}
	return results, nil
}

func lineToResponse(line batchOutputLine) Response {
	if line.Error != nil {
		return Response{Kind: KindTransient, Err: fmt.Errorf("batch item failed: %s", line.Error.Message)}
	}
	usage := Usage{
		InputTokens:       line.Response.Body.Usage.PromptTokens,
		CachedInputTokens: line.Response.Body.Usage.PromptTokensDetails.CachedTokens,
		OutputTokens:      line.Response.Body.Usage.CompletionTokens,
	}
	if line.Response.StatusCode == 429 {
		return Response{Kind: KindRateLimited, RetryAfter: 30 * time.Second, Usage: usage}
	}
	if line.Response.StatusCode >= 500 {
		return Response{Kind: KindTransient, Usage: usage}
	}
	if len(line.Response.Body.Choices) == 0 {
		return Response{Kind: KindRefusal, Usage: usage, RefusalReason: "empty choices"}
	}
	message := line.Response.Body.Choices[0].Message
	if message.Refusal != "" {
		return Response{Kind: KindRefusal, Usage: usage, RefusalReason: message.Refusal}
	}
	if message.Content == "" {
		return Response{Kind: KindRefusal, Usage: usage, RefusalReason: "empty content"}
	}
	return Response{Kind: KindOK, Text: message.Content, Usage: usage}
}
