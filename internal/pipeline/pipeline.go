// Package pipeline turns new trend queries into persisted posts: search,
// extract, condense, rewrite, classify, attach an image and store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/trendpress/internal/analyzer"
	"github.com/FranksOps/trendpress/internal/journal"
	"github.com/FranksOps/trendpress/internal/metrics"
	"github.com/FranksOps/trendpress/internal/rewrite"
	"github.com/FranksOps/trendpress/internal/serp"
	"github.com/FranksOps/trendpress/internal/storage"
)

// Stage names used in outcomes and metrics.
const (
	StageDiscover = "discover"
	StageSearch   = "search"
	StageExtract  = "extract"
	StageCondense = "condense"
	StageRewrite  = "rewrite"
	StageClassify = "classify"
	StageImage    = "image"
	StagePersist  = "persist"
)

// DefaultConcurrency is how many queries a run processes at once.
const DefaultConcurrency = 2

// Discoverer yields trend queries not processed before.
type Discoverer interface {
	Discover(ctx context.Context, limit int) ([]string, error)
}

// Extractor returns the readable text of a page, or "" on any failure.
type Extractor interface {
	Extract(ctx context.Context, url string) string
}

// Rewriter produces an article from aggregated source text.
type Rewriter interface {
	Rewrite(ctx context.Context, query, source string) (*rewrite.Article, error)
}

// Classifier resolves article content to a stored category.
type Classifier interface {
	Classify(ctx context.Context, content string) (*storage.Category, error)
}

// ImageAcquirer returns a stored image filename, or "" when none was found.
type ImageAcquirer interface {
	Acquire(ctx context.Context, query string) string
}

// Deps are the collaborators of a Pipeline. Journal and Logger are optional.
type Deps struct {
	Trends     Discoverer
	Search     serp.Provider
	Extractor  Extractor
	Rewriter   Rewriter
	Classifier Classifier
	Images     ImageAcquirer
	Posts      storage.PostStore
	Seen       storage.SeenStore
	Journal    journal.Writer
	Logger     *slog.Logger
}

// Config tunes a Pipeline.
type Config struct {
	// QueriesPerRun is how many new trend queries one run processes.
	QueriesPerRun int
	// Concurrency bounds the queries processed at once (default 2).
	Concurrency int
	// SourceMaxRunes caps the aggregated source text handed to the rewriter.
	SourceMaxRunes int
}

// Result is the outcome of one run.
type Result struct {
	RunID    string
	Posts    []*storage.Post
	Outcomes []journal.Outcome
}

// Pipeline runs the content acquisition flow.
type Pipeline struct {
	d   Deps
	cfg Config
	log *slog.Logger
}

// New validates deps and returns a Pipeline.
func New(d Deps, cfg Config) (*Pipeline, error) {
	switch {
	case d.Trends == nil:
		return nil, errors.New("pipeline: trend source is required")
	case d.Search == nil:
		return nil, errors.New("pipeline: search provider is required")
	case d.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	case d.Rewriter == nil:
		return nil, errors.New("pipeline: rewriter is required")
	case d.Classifier == nil:
		return nil, errors.New("pipeline: classifier is required")
	case d.Images == nil:
		return nil, errors.New("pipeline: image acquirer is required")
	case d.Posts == nil:
		return nil, errors.New("pipeline: post store is required")
	case d.Seen == nil:
		return nil, errors.New("pipeline: seen store is required")
	}
	if cfg.QueriesPerRun < 1 {
		cfg.QueriesPerRun = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.SourceMaxRunes < 1 {
		cfg.SourceMaxRunes = analyzer.DefaultMaxRunes
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{d: d, cfg: cfg, log: log}, nil
}

// abandon ends a query without a post. It is not an error for the run.
type abandon struct {
	stage  string
	reason string
}

func (a *abandon) Error() string { return a.stage + ": " + a.reason }

// Run processes up to QueriesPerRun new trend queries. It returns an error only
// for failures that make further work pointless: the seen store or the post
// store being unavailable. Queries abandoned along the way stay marked seen.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), Posts: []*storage.Post{}, Outcomes: []journal.Outcome{}}
	log := p.log.With("run", res.RunID)
	log.Info("pipeline run started", "queries_per_run", p.cfg.QueriesPerRun)
	start := time.Now()

	queries, err := p.d.Trends.Discover(ctx, p.cfg.QueriesPerRun)
	metrics.ObserveStage(StageDiscover, time.Since(start))
	if err != nil {
		metrics.PipelineRunsTotal.WithLabelValues("failed").Inc()
		return res, fmt.Errorf("pipeline: discover trends: %w", err)
	}
	if len(queries) == 0 {
		log.Info("no new trend queries")
		metrics.PipelineRunsTotal.WithLabelValues("empty").Inc()
		return res, nil
	}

	posts := make([]*storage.Post, len(queries))
	outcomes := make([]journal.Outcome, len(queries))
	valid := make([]bool, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, q := range queries {
		g.Go(func() error {
			post, out, err := p.process(gctx, log, res.RunID, q)
			if err != nil {
				return err
			}
			posts[i], outcomes[i], valid[i] = post, out, true
			return nil
		})
	}
	err = g.Wait()

	for i := range queries {
		if !valid[i] {
			continue
		}
		res.Outcomes = append(res.Outcomes, outcomes[i])
		if posts[i] != nil {
			res.Posts = append(res.Posts, posts[i])
		}
	}

	if err != nil {
		metrics.PipelineRunsTotal.WithLabelValues("failed").Inc()
		log.Error("pipeline run failed", "err", err, "duration", time.Since(start))
		return res, err
	}
	metrics.PipelineRunsTotal.WithLabelValues("ok").Inc()
	log.Info("pipeline run finished", "queries", len(queries), "posts", len(res.Posts), "duration", time.Since(start))
	return res, nil
}

// process runs one query. Abandons are reported through the outcome; the
// returned error is fatal for the run.
func (p *Pipeline) process(ctx context.Context, log *slog.Logger, runID, query string) (*storage.Post, journal.Outcome, error) {
	log = log.With("query", query)
	out := journal.Outcome{RunID: runID, Query: query, StartedAt: time.Now().UTC()}

	post, err := p.build(ctx, log, query)
	out.Duration = time.Since(out.StartedAt)

	var ab *abandon
	switch {
	case errors.As(err, &ab):
		out.Status = journal.StatusAbandoned
		out.Stage = ab.stage
		out.Reason = ab.reason
		log.Warn("query abandoned", "stage", ab.stage, "reason", ab.reason)
	case err != nil:
		return nil, out, fmt.Errorf("pipeline: query %q: %w", query, err)
	default:
		out.Status = journal.StatusCreated
		out.Stage = StagePersist
		out.PostID = post.ID
		out.Title = post.Title
		out.Image = post.Image
		metrics.PostsCreatedTotal.Inc()
		log.Info("post created", "post_id", post.ID, "title", post.Title, "duration", out.Duration)
	}

	metrics.QueryOutcomesTotal.WithLabelValues(out.Status, out.Stage).Inc()
	p.record(ctx, log, out)
	return post, out, nil
}

func (p *Pipeline) record(ctx context.Context, log *slog.Logger, out journal.Outcome) {
	if p.d.Journal == nil {
		return
	}
	if err := p.d.Journal.Append(ctx, out); err != nil {
		log.Warn("journal append failed", "err", err)
	}
}

func (p *Pipeline) build(ctx context.Context, log *slog.Logger, query string) (*storage.Post, error) {
	source, err := p.gather(ctx, log, query)
	if err != nil {
		return nil, err
	}

	t := time.Now()
	source = analyzer.Condense(source, query, p.cfg.SourceMaxRunes)
	metrics.ObserveStage(StageCondense, time.Since(t))

	t = time.Now()
	article, err := p.d.Rewriter.Rewrite(ctx, query, source)
	metrics.ObserveStage(StageRewrite, time.Since(t))
	if err != nil {
		return nil, &abandon{StageRewrite, err.Error()}
	}
	if strings.TrimSpace(article.Title) == "" || strings.TrimSpace(article.Content) == "" {
		return nil, &abandon{StageRewrite, "empty title or content"}
	}

	t = time.Now()
	category, err := p.d.Classifier.Classify(ctx, article.Content)
	metrics.ObserveStage(StageClassify, time.Since(t))
	if err != nil {
		return nil, &abandon{StageClassify, err.Error()}
	}

	t = time.Now()
	image := p.d.Images.Acquire(ctx, query)
	metrics.ObserveStage(StageImage, time.Since(t))
	if image == "" {
		return nil, &abandon{StageImage, "no image acquired"}
	}

	t = time.Now()
	post, err := p.d.Posts.CreatePost(ctx, storage.NewPost{
		Title:      article.Title,
		Content:    article.Content,
		Image:      image,
		CategoryID: category.ID,
	})
	metrics.ObserveStage(StagePersist, time.Since(t))
	if errors.Is(err, storage.ErrDuplicate) {
		return nil, &abandon{StagePersist, "duplicate title"}
	}
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	if post.Category == nil {
		post.Category = category
	}
	return post, nil
}

// gather searches for the query and extracts every result link concurrently.
// Failed extractions contribute nothing.
func (p *Pipeline) gather(ctx context.Context, log *slog.Logger, query string) (string, error) {
	t := time.Now()
	results, err := p.d.Search.SearchText(ctx, query)
	metrics.ObserveStage(StageSearch, time.Since(t))
	if err != nil {
		log.Warn("text search failed", "err", err)
	}
	if len(results) == 0 {
		return "", &abandon{StageSearch, "no search results"}
	}

	t = time.Now()
	texts := make([]string, len(results))
	var g errgroup.Group
	for i, r := range results {
		g.Go(func() error {
			texts[i] = p.d.Extractor.Extract(ctx, r.Link)
			return nil
		})
	}
	_ = g.Wait()
	metrics.ObserveStage(StageExtract, time.Since(t))

	kept := texts[:0]
	for _, text := range texts {
		if text != "" {
			kept = append(kept, text)
		}
	}
	log.Debug("sources extracted", "links", len(results), "texts", len(kept))
	if len(kept) == 0 {
		return "", &abandon{StageExtract, "no source text recovered"}
	}
	return strings.Join(kept, "\n"), nil
}

// ClearSeenQueries forgets every processed query so trends can be picked up
// again.
func (p *Pipeline) ClearSeenQueries(ctx context.Context) error {
	if err := p.d.Seen.ClearSeen(ctx); err != nil {
		return fmt.Errorf("pipeline: clear seen queries: %w", err)
	}
	p.log.Info("seen queries cleared")
	return nil
}
