// Package images finds a picture for a trend query, crops it to the post
// banner size, transcodes it to WebP and stores it.
package images

import (
	"bytes"
	"context"
	"fmt"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/FranksOps/trendpress/internal/assets"
	"github.com/FranksOps/trendpress/internal/scraper"
	"github.com/FranksOps/trendpress/internal/serp"
	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// Defaults for the generated banner.
const (
	DefaultWidth    = 800
	DefaultHeight   = 400
	DefaultQuality  = 80
	DefaultMaxBytes = 15 << 20
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	imageExts     = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}
)

// Downloader fetches raw bytes; *scraper.Fetcher satisfies it.
type Downloader interface {
	Fetch(ctx context.Context, url string) (*scraper.Page, error)
}

// Config sizes the output image.
type Config struct {
	Width   int
	Height  int
	Quality float32
}

// Acquirer turns a query into a stored image filename.
type Acquirer struct {
	search serp.Provider
	dl     Downloader
	store  assets.Store
	cfg    Config
	stamp  func() int64
	logger *slog.Logger
}

// New returns an Acquirer.
func New(search serp.Provider, dl Downloader, store assets.Store, cfg Config, logger *slog.Logger) *Acquirer {
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.Quality <= 0 {
		cfg.Quality = DefaultQuality
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquirer{
		search: search,
		dl:     dl,
		store:  store,
		cfg:    cfg,
		stamp:  processClock.next,
		logger: logger,
	}
}

// Acquire returns the stored filename, or "" when no image could be produced.
// Only the first candidate with an image extension is attempted.
func (a *Acquirer) Acquire(ctx context.Context, query string) string {
	results, err := a.search.SearchImages(ctx, query)
	if err != nil {
		a.logger.Warn("image search failed", "query", query, "err", err)
		return ""
	}

	var candidate string
	for _, r := range results {
		if HasImageExt(r.Link) {
			candidate = r.Link
			break
		}
	}
	if candidate == "" {
		a.logger.Info("no image candidate", "query", query, "results", len(results))
		return ""
	}

	name, err := a.fetchAndStore(ctx, query, candidate)
	if err != nil {
		a.logger.Warn("image acquisition failed", "query", query, "url", candidate, "err", err)
		return ""
	}
	a.logger.Info("image stored", "query", query, "file", name)
	return name
}

func (a *Acquirer) fetchAndStore(ctx context.Context, query, link string) (string, error) {
	page, _ := a.dl.Fetch(ctx, link)
	if page.Error != "" {
		return "", fmt.Errorf("download: %s", page.Error)
	}
	if page.StatusCode >= 400 {
		return "", fmt.Errorf("download: status %d", page.StatusCode)
	}

	data, err := Transcode(page.Body, a.cfg.Width, a.cfg.Height, a.cfg.Quality)
	if err != nil {
		return "", err
	}

	name := FileName(query, a.stamp())
	if err := a.store.Put(ctx, name, data); err != nil {
		return "", fmt.Errorf("store: %w", err)
	}
	return name, nil
}

// HasImageExt reports whether the URL path ends in a supported extension.
func HasImageExt(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return imageExts[strings.ToLower(path.Ext(u.Path))]
}

// Transcode decodes src, crops it to cover width x height around the centre
// and encodes it as lossy WebP.
func Transcode(src []byte, width, height int, quality float32) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	banner := imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := webp.Encode(&buf, banner, &webp.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), nil
}

// FileName builds "<query>_<stamp>.webp" with whitespace runs turned into
// underscores and path separators removed.
func FileName(query string, stamp int64) string {
	base := whitespaceRun.ReplaceAllString(strings.TrimSpace(query), "_")
	base = strings.NewReplacer("/", "", `\`, "", "..", "").Replace(base)
	if base == "" {
		base = "image"
	}
	return fmt.Sprintf("%s_%d.webp", base, stamp)
}

// milliClock hands out strictly increasing unix-millisecond stamps.
type milliClock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

var processClock = &milliClock{now: time.Now}

func (c *milliClock) next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := c.now().UnixMilli()
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return ms
}
