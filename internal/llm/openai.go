package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultOpenAIModel is used when Config.Model is empty.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI talks to the OpenAI chat completions API, or any compatible server.
type OpenAI struct {
	model  string
	client *openai.LLM
	logger *slog.Logger
}

// NewOpenAI returns an OpenAI backend.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, openai.WithHTTPClient(cfg.HTTPClient))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: openai client: %w", err)
	}
	return &OpenAI{model: cfg.Model, client: client, logger: logger}, nil
}

// Generate implements Generator.
func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	out, err := llms.GenerateFromSinglePrompt(ctx, o.client, req.Prompt,
		llms.WithTemperature(req.Temperature),
		llms.WithTopP(req.TopP),
		llms.WithFrequencyPenalty(req.FrequencyPenalty),
		llms.WithPresencePenalty(req.PresencePenalty),
		llms.WithMaxTokens(req.MaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("llm: openai %s: %w", o.model, err)
	}
	o.logger.Debug("completion received", "provider", ProviderOpenAI, "model", o.model,
		"chars", len(out), "duration", time.Since(start))
	return out, nil
}
