package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/FranksOps/trendpress/internal/assets"
	"github.com/FranksOps/trendpress/internal/categorize"
	"github.com/FranksOps/trendpress/internal/config"
	"github.com/FranksOps/trendpress/internal/fingerprint"
	"github.com/FranksOps/trendpress/internal/images"
	"github.com/FranksOps/trendpress/internal/journal"
	"github.com/FranksOps/trendpress/internal/llm"
	"github.com/FranksOps/trendpress/internal/pipeline"
	"github.com/FranksOps/trendpress/internal/rewrite"
	"github.com/FranksOps/trendpress/internal/scraper"
	"github.com/FranksOps/trendpress/internal/serp"
	"github.com/FranksOps/trendpress/internal/storage"
	"github.com/FranksOps/trendpress/internal/storage/postgres"
	"github.com/FranksOps/trendpress/internal/storage/redisseen"
	"github.com/FranksOps/trendpress/internal/storage/sqlite"
	"github.com/FranksOps/trendpress/internal/trends"
	"github.com/FranksOps/trendpress/pkg/proxy"
	"github.com/FranksOps/trendpress/pkg/ratelimit"
	"github.com/FranksOps/trendpress/pkg/useragent"
)

// app holds the wired components of one command invocation.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	store    storage.Store
	seen     storage.SeenStore
	imageDir string
	pipeline *pipeline.Pipeline
	closers  []func() error
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openStores connects the relational store and the seen store.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger}

	var err error
	switch cfg.Database.Driver {
	case "postgres":
		a.store, err = postgres.New(ctx, cfg.Database.DSN)
	default:
		a.store, err = sqlite.New(cfg.Database.DSN)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	a.onClose(a.store.Close)
	a.seen = a.store

	if cfg.Redis.Addr != "" {
		rs, err := redisseen.New(ctx, redisseen.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.onClose(rs.Close)
		a.seen = rs
		logger.Info("using redis seen-query set", "addr", cfg.Redis.Addr)
	}

	if cfg.Images.Store == "local" {
		a.imageDir = cfg.Images.Dir
	}
	return a, nil
}

// newFetcher builds the shared HTTP fetcher from the fetch settings.
func newFetcher(cfg config.FetchConfig, logger *slog.Logger) (*scraper.Fetcher, func(), error) {
	profile, err := fingerprint.ParseProfile(cfg.Fingerprint)
	if err != nil {
		return nil, nil, err
	}

	var pool *proxy.Pool
	if len(cfg.Proxies) > 0 || cfg.ProxyFile != "" {
		pool = proxy.NewPool(proxy.Config{MaxFailures: cfg.ProxyMaxFailures, Cooldown: cfg.ProxyCooldown})
		if err := pool.Add(cfg.Proxies...); err != nil {
			return nil, nil, err
		}
		if cfg.ProxyFile != "" {
			if err := pool.LoadFile(cfg.ProxyFile); err != nil {
				return nil, nil, err
			}
		}
		logger.Info("proxy rotation enabled", "proxies", pool.Len())
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimit, cfg.Jitter)
	f, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:        cfg.Timeout,
		MaxRedirects:   cfg.MaxRedirects,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		UseCookieJar:   cfg.CookieJar,
		AcceptLanguage: cfg.AcceptLanguage,
		ProxyPool:      pool,
		UAPool:         useragent.NewPool(cfg.UserAgents),
		Fingerprint:    profile,
		Limiter:        limiter,
		Logger:         logger,
	})
	if err != nil {
		limiter.Stop()
		return nil, nil, err
	}
	return f, limiter.Stop, nil
}

// newGenerator builds the configured LLM backend and releases it with the app
// when the backend holds a connection.
func (a *app) newGenerator(ctx context.Context) (llm.Generator, error) {
	gen, err := llm.New(ctx, llm.Config{
		Provider: a.cfg.LLM.Provider,
		APIKey:   a.cfg.LLM.APIKey,
		Model:    a.cfg.LLM.Model,
		BaseURL:  a.cfg.LLM.BaseURL,
		Logger:   a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("build llm backend: %w", err)
	}
	if c, ok := gen.(io.Closer); ok {
		a.onClose(c.Close)
	}
	return gen, nil
}

// wirePipeline builds every pipeline component on top of the stores.
func (a *app) wirePipeline(ctx context.Context) error {
	cfg, logger := a.cfg, a.log
	if err := cfg.RequireLLM(); err != nil {
		return err
	}

	fetcher, stop, err := newFetcher(cfg.Fetch, logger)
	if err != nil {
		return fmt.Errorf("build fetcher: %w", err)
	}
	a.onClose(func() error { stop(); return nil })

	var renderer scraper.Renderer
	switch cfg.Render.Mode {
	case "http":
		renderer = &scraper.HTTPRenderer{Fetcher: fetcher, Settle: cfg.Render.Settle}
	default:
		renderer = scraper.NewChromeRenderer(scraper.ChromeConfig{
			UserAgent:  fetcher.UserAgent(),
			NavTimeout: cfg.Render.NavTimeout,
			Settle:     cfg.Render.Settle,
			Headless:   cfg.Render.Headless,
			ExecPath:   cfg.Render.ExecPath,
			Logger:     logger,
		})
	}

	var robots *scraper.RobotsTxtAuditor
	if cfg.Fetch.RespectRobots {
		robots = scraper.NewRobotsTxtAuditor(fetcher, logger)
	}
	extractor, err := scraper.NewExtractor(renderer, scraper.ExtractConfig{
		Mode:        cfg.Extract.Mode,
		Concurrency: cfg.Extract.Concurrency,
		Robots:      robots,
		RobotsAgent: "*",
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	searchLimiter := ratelimit.NewLimiter(cfg.Search.RateLimit, 0)
	a.onClose(func() error { searchLimiter.Stop(); return nil })
	search, err := serp.NewGoogle(ctx, serp.GoogleConfig{
		APIKey:       cfg.Search.APIKey,
		CX:           cfg.Search.CX,
		TextSuffix:   cfg.Search.TextSuffix,
		TextResults:  cfg.Search.TextResults,
		ImageResults: cfg.Search.ImageResults,
		Endpoint:     cfg.Search.Endpoint,
		Limiter:      searchLimiter,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("build search client: %w", err)
	}
	if !cfg.SearchConfigured() {
		logger.Warn("search credentials missing; searches will return nothing")
	}

	gen, err := a.newGenerator(ctx)
	if err != nil {
		return err
	}

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return err
	}
	rcfg := rewrite.DefaultConfig()
	rcfg.Location = loc
	rewriter := rewrite.New(gen, rcfg, logger)

	classifier := categorize.New(gen, a.store, categorize.Config{
		MaxRunes:  cfg.Categorize.MaxRunes,
		MaxTokens: cfg.Categorize.MaxTokens,
	}, logger)

	var assetStore assets.Store
	switch cfg.Images.Store {
	case "s3":
		assetStore, err = assets.NewS3(ctx, assets.S3Config{
			Bucket:    cfg.Images.S3.Bucket,
			Prefix:    cfg.Images.S3.Prefix,
			Region:    cfg.Images.S3.Region,
			Endpoint:  cfg.Images.S3.Endpoint,
			AccessKey: cfg.Images.S3.AccessKey,
			SecretKey: cfg.Images.S3.SecretKey,
			PathStyle: cfg.Images.S3.PathStyle,
		})
	default:
		assetStore, err = assets.NewLocal(cfg.Images.Dir)
	}
	if err != nil {
		return fmt.Errorf("build %s image store: %w", cfg.Images.Store, err)
	}
	acquirer := images.New(search, fetcher, assetStore, images.Config{
		Width:   cfg.Images.Width,
		Height:  cfg.Images.Height,
		Quality: cfg.Images.Quality,
	}, logger)

	var lister trends.Lister
	switch cfg.Trends.Source {
	case "feed":
		lister = &trends.FeedLister{Fetcher: fetcher, URL: cfg.Trends.URL}
	default:
		lister = &trends.PageLister{
			Renderer:      renderer,
			URL:           cfg.Trends.URL,
			ItemSelector:  cfg.Trends.ItemSelector,
			TitleSelector: cfg.Trends.TitleSelector,
		}
	}
	source := trends.NewSource(lister, a.seen, cfg.Pipeline.QueriesPerRun, logger)

	deps := pipeline.Deps{
		Trends:     source,
		Search:     search,
		Extractor:  extractor,
		Rewriter:   rewriter,
		Classifier: classifier,
		Images:     acquirer,
		Posts:      a.store,
		Seen:       a.seen,
		Logger:     logger,
	}
	if cfg.Pipeline.Journal != "" {
		j, err := journal.Open(cfg.Pipeline.Journal)
		if err != nil {
			return err
		}
		a.onClose(j.Close)
		deps.Journal = j
	}

	a.pipeline, err = pipeline.New(deps, pipeline.Config{
		QueriesPerRun:  cfg.Pipeline.QueriesPerRun,
		Concurrency:    cfg.Pipeline.Concurrency,
		SourceMaxRunes: cfg.Pipeline.SourceMaxRunes,
	})
	return err
}
