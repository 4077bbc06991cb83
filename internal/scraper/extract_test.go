package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/trendpress/internal/fingerprint"
)

func newTestExtractor(t *testing.T, cfg ExtractConfig) *Extractor {
	t.Helper()
	fetcher, err := NewFetcher(FetchConfig{
		Timeout:     5 * time.Second,
		Fingerprint: fingerprint.ProfileGo,
	})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	e, err := NewExtractor(&HTTPRenderer{Fetcher: fetcher}, cfg)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	return e
}

func TestParagraphText(t *testing.T) {
	html := `<html><body>
<p>Первый   абзац.</p>
<p>   </p>
<div>not a paragraph</div>
<p>Второй
	абзац.</p>
</body></html>`

	got, err := ParagraphText([]byte(html))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Первый абзац.\nВторой абзац."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestParagraphText_SkipsHidden(t *testing.T) {
	html := `<html><body>
<div id="cookie-banner" hidden><p>Мы используем cookie.</p></div>
<p aria-hidden="true">Скрытый абзац.</p>
<div style="display: none"><p>Шаблон подписки.</p></div>
<p style="VISIBILITY:hidden">Невидимый.</p>
<template><p>Шаблон.</p></template>
<noscript><p>Включите JavaScript.</p></noscript>
<article><p>В Алматы выпал снег.</p><p style="color: red">Синоптики обещают мороз.</p></article>
</body></html>`

	got, err := ParagraphText([]byte(html))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "В Алматы выпал снег.\nСиноптики обещают мороз."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestParagraphText_NoParagraphs(t *testing.T) {
	got, _ := ParagraphText([]byte("<html><body><div>x</div></body></html>"))
	if got != "" {
		t.Errorf("expected empty text, got %q", got)
	}
}

func TestExtractor_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<p>Снегопад в Алматы.</p><p>Дороги закрыты.</p>"))
	}))
	defer ts.Close()

	e := newTestExtractor(t, ExtractConfig{})
	got := e.Extract(context.Background(), ts.URL)
	if got != "Снегопад в Алматы.\nДороги закрыты." {
		t.Errorf("unexpected text %q", got)
	}
}

func TestExtractor_FailuresYieldEmpty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("<p>not found page</p>"))
	})
	mux.HandleFunc("/challenge", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-DataDome", "protected")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<p>verify you are human</p>"))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	e := newTestExtractor(t, ExtractConfig{})
	ctx := context.Background()

	for _, u := range []string{ts.URL + "/missing", ts.URL + "/challenge", "http://127.0.0.1:1/unreachable"} {
		if got := e.Extract(ctx, u); got != "" {
			t.Errorf("%s: expected empty text, got %q", u, got)
		}
	}
}

func TestExtractor_RespectsRobots(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<p>content</p>"))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	fetcher, _ := NewFetcher(FetchConfig{Fingerprint: fingerprint.ProfileGo})
	e, err := NewExtractor(&HTTPRenderer{Fetcher: fetcher}, ExtractConfig{
		Robots: NewRobotsTxtAuditor(fetcher, nil),
	})
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	ctx := context.Background()
	if got := e.Extract(ctx, ts.URL+"/private/page"); got != "" {
		t.Errorf("expected disallowed page to be skipped, got %q", got)
	}
	if got := e.Extract(ctx, ts.URL+"/public"); got != "content" {
		t.Errorf("expected allowed page text, got %q", got)
	}
}

func TestExtractor_Readability(t *testing.T) {
	body := `<html><head><title>Новости</title></head><body>
<nav><a href="/">Главная</a></nav>
<article><h1>Погода</h1>
<p>` + strings.Repeat("В Алматы ожидается сильный снегопад и понижение температуры. ", 12) + `</p>
<p>` + strings.Repeat("Синоптики советуют воздержаться от поездок за город. ", 12) + `</p>
</article>
<footer>© 2024</footer></body></html>`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	defer ts.Close()

	e := newTestExtractor(t, ExtractConfig{Mode: ModeReadability})
	got := e.Extract(context.Background(), ts.URL)
	if !strings.Contains(got, "снегопад") {
		t.Errorf("expected article text, got %q", got)
	}
	if strings.Contains(got, "  ") {
		t.Errorf("expected whitespace runs to be collapsed")
	}
}

func TestNewExtractor_UnknownMode(t *testing.T) {
	if _, err := NewExtractor(&HTTPRenderer{}, ExtractConfig{Mode: "ocr"}); err == nil {
		t.Errorf("expected error for unknown mode")
	}
}

type slowRenderer struct {
	active, peak atomic.Int32
}

func (s *slowRenderer) Render(ctx context.Context, url string) *Page {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return &Page{URL: url, StatusCode: 200, Body: []byte("<p>x</p>")}
}

func TestExtractor_ConcurrencyBound(t *testing.T) {
	r := &slowRenderer{}
	e, _ := NewExtractor(r, ExtractConfig{Concurrency: 2})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Extract(context.Background(), "http://example.test/")
		}()
	}
	wg.Wait()

	if peak := r.peak.Load(); peak > 2 {
		t.Errorf("expected at most 2 concurrent renders, saw %d", peak)
	}
}

func TestExtractor_CancelledContext(t *testing.T) {
	e, _ := NewExtractor(&slowRenderer{}, ExtractConfig{Concurrency: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Acquire fails fast on a cancelled context.
	if got := e.Extract(ctx, "http://example.test/"); got != "" {
		t.Errorf("expected empty text, got %q", got)
	}
}
