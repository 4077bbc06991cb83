package trends

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/FranksOps/trendpress/internal/scraper"
	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// Defaults for the Google Trends listing.
const (
	DefaultPageURL       = "https://trends.google.com/trending?geo=KZ&sort=search-volume&hours=24"
	DefaultFeedURL       = "https://trends.google.com/trending/rss?geo=KZ"
	DefaultItemSelector  = ".enOdEe-wZVHld-xMbwt"
	DefaultTitleSelector = ".mZ3RIc"
)

// PageLister reads trends from the rendered trending page.
type PageLister struct {
	Renderer      scraper.Renderer
	URL           string
	ItemSelector  string
	TitleSelector string
}

// List implements Lister.
func (p *PageLister) List(ctx context.Context) ([]string, error) {
	target := p.URL
	if target == "" {
		target = DefaultPageURL
	}
	page := p.Renderer.Render(ctx, target)
	if err := pageErr(page); err != nil {
		return nil, err
	}
	return ParseTrendsPage(page.Body, p.ItemSelector, p.TitleSelector)
}

// ParseTrendsPage extracts item titles from trends page HTML.
func ParseTrendsPage(body []byte, itemSel, titleSel string) ([]string, error) {
	if itemSel == "" {
		itemSel = DefaultItemSelector
	}
	if titleSel == "" {
		titleSel = DefaultTitleSelector
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("trends: parse page: %w", err)
	}
	var out []string
	doc.Find(itemSel).Each(func(_ int, s *goquery.Selection) {
		if title := s.Find(titleSel).First(); title.Length() > 0 {
			out = append(out, title.Text())
		}
	})
	return out, nil
}

// FeedLister reads trends from the trending RSS feed.
type FeedLister struct {
	Fetcher *scraper.Fetcher
	URL     string
}

// List implements Lister.
func (f *FeedLister) List(ctx context.Context) ([]string, error) {
	target := f.URL
	if target == "" {
		target = DefaultFeedURL
	}
	page, _ := f.Fetcher.Fetch(ctx, target)
	if err := pageErr(page); err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("trends: parse feed %s: %w", target, err)
	}
	out := make([]string, 0, len(feed.Items))
	for _, item := range feed.Items {
		out = append(out, item.Title)
	}
	return out, nil
}

func pageErr(p *scraper.Page) error {
	switch {
	case p.Error != "":
		return fmt.Errorf("trends: load %s: %s", p.URL, p.Error)
	case p.Challenge != "":
		return fmt.Errorf("trends: load %s: blocked by %s", p.URL, p.Challenge)
	case p.StatusCode < 200 || p.StatusCode > 299:
		return fmt.Errorf("trends: load %s: status %d", p.URL, p.StatusCode)
	case len(p.Body) == 0:
		return errors.New("trends: empty listing")
	}
	return nil
}
