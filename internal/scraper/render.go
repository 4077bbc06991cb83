package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/FranksOps/trendpress/internal/bypass"
	"github.com/chromedp/chromedp"
)

// Renderer loads a URL and returns the resulting document. Implementations
// record failures in Page.Error instead of returning them.
type Renderer interface {
	Render(ctx context.Context, url string) *Page
}

// HTTPRenderer renders pages with a plain GET. It is enough for server-side
// rendered news sites and is what tests use.
type HTTPRenderer struct {
	Fetcher *Fetcher
	// Settle is waited after the response arrives, mirroring the browser renderer.
	Settle time.Duration
}

// Render implements Renderer.
func (h *HTTPRenderer) Render(ctx context.Context, url string) *Page {
	page, _ := h.Fetcher.Fetch(ctx, url)
	if page.Error == "" && h.Settle > 0 {
		t := time.NewTimer(h.Settle)
		defer t.Stop()
		select {
		case <-ctx.Done():
			page.Error = fmt.Sprintf("settle interrupted: %v", ctx.Err())
		case <-t.C:
		}
	}
	return page
}

// ChromeConfig configures ChromeRenderer.
type ChromeConfig struct {
	UserAgent  string
	NavTimeout time.Duration
	Settle     time.Duration
	Headless   bool
	// ExecPath overrides the browser binary; empty means autodetect.
	ExecPath string
	Logger   *slog.Logger
}

// ChromeRenderer renders pages in headless Chrome so client-rendered content
// is present in the returned HTML. Each call starts its own browser.
type ChromeRenderer struct {
	cfg    ChromeConfig
	logger *slog.Logger
}

// NewChromeRenderer returns a ChromeRenderer with defaults applied.
func NewChromeRenderer(cfg ChromeConfig) *ChromeRenderer {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 90 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromeRenderer{cfg: cfg, logger: logger}
}

func (c *ChromeRenderer) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", c.cfg.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
	)
	if c.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.cfg.UserAgent))
	}
	if c.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.cfg.ExecPath))
	}
	return opts
}

// Render implements Renderer.
func (c *ChromeRenderer) Render(ctx context.Context, url string) *Page {
	start := time.Now()
	page := &Page{URL: url, FetchedAt: start.UTC()}
	defer func() { page.Duration = time.Since(start) }()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, c.allocatorOptions()...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			c.logger.Debug(fmt.Sprintf(format, args...), "url", url)
		}),
	)
	defer cancelBrowser()

	// The first Run owns the browser lifetime, so it gets the browser context.
	if err := chromedp.Run(browserCtx); err != nil {
		page.Error = fmt.Sprintf("browser start failed: %v", err)
		return page
	}

	navCtx, cancelNav := context.WithTimeout(browserCtx, c.cfg.NavTimeout)
	defer cancelNav()
	resp, err := chromedp.RunResponse(navCtx, chromedp.Navigate(url))
	if err != nil {
		page.Error = fmt.Sprintf("navigation failed: %v", err)
		return page
	}
	if resp != nil {
		page.StatusCode = int(resp.Status)
		page.Headers = make(http.Header, len(resp.Headers))
		for k, v := range resp.Headers {
			page.Headers.Set(k, fmt.Sprint(v))
		}
	}

	var html string
	if err := chromedp.Run(browserCtx,
		chromedp.Sleep(c.cfg.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		page.Error = fmt.Sprintf("reading document failed: %v", err)
		return page
	}
	page.Body = []byte(html)
	page.Challenge = bypass.Analyze(bypass.Response{
		StatusCode: page.StatusCode,
		Headers:    page.Headers,
		Body:       page.Body,
	}, bypass.DefaultDetectors())
	return page
}
