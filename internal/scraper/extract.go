package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/sync/semaphore"
)

// Extraction modes.
const (
	ModeParagraphs  = "paragraphs"
	ModeReadability = "readability"
)

var whitespaceRun = regexp.MustCompile(`\s{2,}`)

// ExtractConfig configures an Extractor.
type ExtractConfig struct {
	Mode string
	// Concurrency bounds simultaneous extractions; default 3.
	Concurrency int64
	// Robots, when set, is consulted before loading a page as RobotsAgent.
	Robots      *RobotsTxtAuditor
	RobotsAgent string
	Logger      *slog.Logger
}

// Extractor turns a URL into the plain text of its article body.
type Extractor struct {
	renderer Renderer
	cfg      ExtractConfig
	sem      *semaphore.Weighted
	logger   *slog.Logger
}

// NewExtractor returns an Extractor loading pages through r.
func NewExtractor(r Renderer, cfg ExtractConfig) (*Extractor, error) {
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeParagraphs
	case ModeParagraphs, ModeReadability:
	default:
		return nil, fmt.Errorf("scraper: unknown extract mode %q", cfg.Mode)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.RobotsAgent == "" {
		cfg.RobotsAgent = "*"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		renderer: r,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.Concurrency),
		logger:   logger,
	}, nil
}

// Extract loads url and returns its text, or "" when nothing usable came back.
// Failures are logged, never returned.
func (e *Extractor) Extract(ctx context.Context, url string) string {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return ""
	}
	defer e.sem.Release(1)

	if e.cfg.Robots != nil {
		allowed, err := e.cfg.Robots.IsAllowed(ctx, url, e.cfg.RobotsAgent)
		if err != nil {
			e.logger.Warn("skipping page", "url", url, "err", err)
			return ""
		}
		if !allowed {
			e.logger.Info("robots.txt disallows page", "url", url)
			return ""
		}
	}

	page := e.renderer.Render(ctx, url)
	switch {
	case page.Error != "":
		e.logger.Warn("page load failed", "url", url, "err", page.Error)
		return ""
	case page.Challenge != "":
		e.logger.Warn("bot challenge served", "url", url, "source", page.Challenge)
		return ""
	case page.StatusCode < 200 || page.StatusCode > 299:
		e.logger.Warn("page returned non-success status", "url", url, "status", page.StatusCode)
		return ""
	}

	var (
		text string
		err  error
	)
	if e.cfg.Mode == ModeReadability {
		text, err = readableText(page)
	} else {
		text, err = ParagraphText(page.Body)
	}
	if err != nil {
		e.logger.Warn("text extraction failed", "url", url, "err", err)
		return ""
	}
	return text
}

// ParagraphText joins the text of every visible, non-empty <p> element with
// newlines and collapses runs of whitespace into a single space.
func ParagraphText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var parts []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if hidden(s) {
			return
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return whitespaceRun.ReplaceAllString(strings.Join(parts, "\n"), " "), nil
}

var hiddenStyle = regexp.MustCompile(`(?i)(display\s*:\s*none|visibility\s*:\s*hidden)`)

// hidden reports whether s or an ancestor is hidden by markup: the hidden
// attribute, aria-hidden="true", an inline display:none or visibility:hidden
// style, or a template/noscript container. Stylesheet rules are not evaluated.
func hidden(s *goquery.Selection) bool {
	if s.Closest("template, noscript, [hidden], [aria-hidden='true']").Length() > 0 {
		return true
	}
	for n := s; n.Length() > 0; n = n.Parent() {
		if style, ok := n.Attr("style"); ok && hiddenStyle.MatchString(style) {
			return true
		}
	}
	return false
}

func readableText(page *Page) (string, error) {
	u, err := url.Parse(page.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	article, err := readability.FromReader(bytes.NewReader(page.Body), u)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(article.TextContent), " "), nil
}
