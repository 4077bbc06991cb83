package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is used when Config.Model is empty.
const DefaultGeminiModel = "gemini-1.5-flash"

// GeminiMaxOutputTokens is the output ceiling of the 1.5 and 2.0 model
// families. Larger requests are clamped to it.
const GeminiMaxOutputTokens = 8192

// Gemini talks to the Google Gemini API. Frequency and presence penalties
// are not forwarded.
type Gemini struct {
	model  string
	client *genai.Client
	logger *slog.Logger
}

// NewGemini returns a Gemini backend. Close releases its connection.
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: gemini client: %w", err)
	}
	return &Gemini{model: cfg.Model, client: client, logger: logger}, nil
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	m := g.client.GenerativeModel(g.model)
	m.SetTemperature(float32(req.Temperature))
	m.SetTopP(float32(req.TopP))
	if n := outputTokens(req.MaxTokens); n > 0 {
		m.SetMaxOutputTokens(n)
	}

	resp, err := m.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", fmt.Errorf("llm: gemini %s: %w", g.model, err)
	}
	out := responseText(resp)
	g.logger.Debug("completion received", "provider", ProviderGemini, "model", g.model,
		"chars", len(out), "duration", time.Since(start))
	return out, nil
}

// Close releases the client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// outputTokens clamps a requested completion budget to GeminiMaxOutputTokens.
// Zero or less means the model default.
func outputTokens(requested int) int32 {
	if requested <= 0 {
		return 0
	}
	return int32(min(requested, GeminiMaxOutputTokens))
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}
