package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/FranksOps/trendpress/internal/bypass"
	"github.com/FranksOps/trendpress/internal/fingerprint"
	"github.com/FranksOps/trendpress/internal/metrics"
	"github.com/FranksOps/trendpress/pkg/httpclient"
	"github.com/FranksOps/trendpress/pkg/proxy"
	"github.com/FranksOps/trendpress/pkg/ratelimit"
	"github.com/FranksOps/trendpress/pkg/useragent"
)

type contextKey string

const proxyKey contextKey = "proxy_url"

// DefaultMaxBodyBytes caps how much of a response body the Fetcher keeps.
const DefaultMaxBodyBytes = 15 << 20

// DefaultAcceptLanguage prefers Russian content, then English.
const DefaultAcceptLanguage = "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7"

// Page is the outcome of loading a single URL. Transport failures are recorded
// in Error rather than returned, so callers always get a Page back.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	FetchedAt  time.Time
	Duration   time.Duration
	Error      string
	// Challenge names the bot-protection vendor when the page is an interstitial.
	Challenge string
}

// OK reports whether the page loaded with a 2xx status and no challenge.
func (p *Page) OK() bool {
	return p != nil && p.Error == "" && p.Challenge == "" &&
		p.StatusCode >= 200 && p.StatusCode < 300
}

// FetchConfig configures a Fetcher.
type FetchConfig struct {
	Timeout        time.Duration
	MaxRedirects   int
	MaxBodyBytes   int64
	UseCookieJar   bool
	AcceptLanguage string
	ProxyPool      *proxy.Pool
	UAPool         *useragent.Pool
	Fingerprint    fingerprint.Profile
	Limiter        *ratelimit.Limiter
	Logger         *slog.Logger
}

// Fetcher performs single URL fetches over plain HTTP.
type Fetcher struct {
	config    FetchConfig
	client    *httpclient.Client
	transport http.RoundTripper
	logger    *slog.Logger
}

// NewFetcher initializes a new Fetcher with the given configuration.
// A single client is held across requests so the cookie jar, when enabled,
// persists for the lifetime of the Fetcher.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 10
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = DefaultAcceptLanguage
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if string(cfg.Fingerprint) == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// The proxy is chosen per request and carried in the request context.
	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if val := req.Context().Value(proxyKey); val != nil {
			if u, ok := val.(*url.URL); ok {
				return u, nil
			}
		}
		// Keep system proxies away from local test servers.
		if req.URL.Hostname() == "127.0.0.1" || req.URL.Hostname() == "localhost" {
			return nil, nil
		}
		return http.ProxyFromEnvironment(req)
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint, proxyFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Fetcher{
		config:    cfg,
		client:    client,
		transport: transport,
		logger:    logger,
	}, nil
}

// UserAgent returns the next user agent the Fetcher would send.
func (f *Fetcher) UserAgent() string {
	return f.config.UAPool.Sequential()
}

// Fetch executes a GET request to targetURL and captures the response into a
// Page. The returned error is always nil; failures land in Page.Error.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	start := time.Now()
	page := &Page{
		URL:       targetURL,
		FetchedAt: start.UTC(),
	}

	if err := f.config.Limiter.Wait(ctx); err != nil {
		page.Error = fmt.Sprintf("rate limiter failed: %v", err)
		return page, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		page.Error = fmt.Sprintf("failed to create request: %v", err)
		page.Duration = time.Since(start)
		return page, nil
	}

	var activeProxy *url.URL
	if f.config.ProxyPool != nil {
		activeProxy = f.config.ProxyPool.Next()
		if activeProxy != nil {
			req = req.WithContext(context.WithValue(req.Context(), proxyKey, activeProxy))
		}
	}

	req.Header.Set("User-Agent", f.config.UAPool.Sequential())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", f.config.AcceptLanguage)

	resp, err := f.client.Do(req.Context(), req)
	if err != nil {
		if activeProxy != nil {
			_ = f.config.ProxyPool.MarkFailure(activeProxy)
			metrics.ProxyFailures.WithLabelValues(activeProxy.String()).Inc()
		}
		page.Error = fmt.Sprintf("request failed: %v", err)
		page.Duration = time.Since(start)
		f.record(page)
		return page, nil
	}
	defer resp.Body.Close()

	if activeProxy != nil {
		_ = f.config.ProxyPool.MarkSuccess(activeProxy)
	}

	body, err := httpclient.ReadBody(resp.Body, f.config.MaxBodyBytes)
	if err != nil {
		if errors.Is(err, httpclient.ErrBodyTooLarge) {
			f.logger.Debug("response body truncated", "url", targetURL, "limit", f.config.MaxBodyBytes)
		} else {
			page.Error = fmt.Sprintf("failed to read body: %v", err)
		}
	}

	page.StatusCode = resp.StatusCode
	page.Headers = resp.Header
	page.Body = body
	page.Duration = time.Since(start)
	page.Challenge = bypass.Analyze(bypass.Response{
		StatusCode: page.StatusCode,
		Headers:    page.Headers,
		Body:       page.Body,
	}, bypass.DefaultDetectors())

	f.record(page)
	return page, nil
}

func (f *Fetcher) record(p *Page) {
	domain := ""
	if u, err := url.Parse(p.URL); err == nil {
		domain = u.Hostname()
	}
	metrics.RecordFetch(domain, p.StatusCode, p.Error, p.Challenge, p.Duration, len(p.Body))
}
