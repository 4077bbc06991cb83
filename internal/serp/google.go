package serp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/FranksOps/trendpress/pkg/ratelimit"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// Defaults for the Programmable Search client.
const (
	DefaultTextSuffix   = "новости сегодня"
	DefaultTextResults  = 5
	DefaultImageResults = 10
	// maxResults is the per-request ceiling of the Custom Search API.
	maxResults = 10
)

// GoogleConfig configures Google.
type GoogleConfig struct {
	APIKey string
	CX     string
	// TextSuffix is appended to text queries to bias toward fresh news.
	TextSuffix   string
	TextResults  int
	ImageResults int
	// Endpoint overrides the API base URL.
	Endpoint   string
	HTTPClient *http.Client
	Limiter    *ratelimit.Limiter
	Logger     *slog.Logger
}

// Google searches through the Custom Search JSON API.
type Google struct {
	cfg    GoogleConfig
	svc    *customsearch.Service
	logger *slog.Logger
}

var _ Provider = (*Google)(nil)

// NewGoogle builds the client. Missing credentials are not an error: the
// client then logs a warning and returns empty results on every call.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	if cfg.TextSuffix == "" {
		cfg.TextSuffix = DefaultTextSuffix
	}
	cfg.TextResults = clampResults(cfg.TextResults, DefaultTextResults)
	cfg.ImageResults = clampResults(cfg.ImageResults, DefaultImageResults)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Google{cfg: cfg, logger: logger}
	if cfg.APIKey == "" || cfg.CX == "" {
		return g, nil
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("serp: create custom search service: %w", err)
	}
	g.svc = svc
	return g, nil
}

func clampResults(n, def int) int {
	if n <= 0 {
		return def
	}
	return min(n, maxResults)
}

// Configured reports whether credentials were supplied.
func (g *Google) Configured() bool {
	return g.svc != nil
}

// SearchText implements Provider.
func (g *Google) SearchText(ctx context.Context, query string) ([]TextResult, error) {
	if !g.Configured() {
		g.logger.Warn("search credentials missing, skipping text search", "query", query)
		return nil, nil
	}
	q := strings.TrimSpace(query + " " + g.cfg.TextSuffix)
	items, err := g.list(ctx, q, g.cfg.TextResults, "")
	if err != nil {
		return nil, err
	}
	out := make([]TextResult, 0, len(items))
	for _, it := range items {
		if it.Link == "" {
			continue
		}
		out = append(out, TextResult{Title: it.Title, Link: it.Link})
	}
	return out, nil
}

// SearchImages implements Provider.
func (g *Google) SearchImages(ctx context.Context, query string) ([]ImageResult, error) {
	if !g.Configured() {
		g.logger.Warn("search credentials missing, skipping image search", "query", query)
		return nil, nil
	}
	items, err := g.list(ctx, query, g.cfg.ImageResults, "image")
	if err != nil {
		return nil, err
	}
	out := make([]ImageResult, 0, len(items))
	for _, it := range items {
		if it.Link == "" {
			continue
		}
		out = append(out, ImageResult{Link: it.Link})
	}
	return out, nil
}

func (g *Google) list(ctx context.Context, q string, num int, searchType string) ([]*customsearch.Result, error) {
	if err := g.cfg.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("serp: rate limiter: %w", err)
	}
	call := g.svc.Cse.List().Q(q).Cx(g.cfg.CX).Num(int64(num)).Context(ctx)
	if searchType != "" {
		call = call.SearchType(searchType)
	}
	res, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("serp: custom search %q: %w", q, err)
	}
	g.logger.Debug("search completed", "query", q, "type", searchType, "results", len(res.Items))
	return res.Items, nil
}
