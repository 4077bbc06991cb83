package images

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/FranksOps/trendpress/internal/fingerprint"
	"github.com/FranksOps/trendpress/internal/scraper"
	"github.com/FranksOps/trendpress/internal/serp"
	"github.com/chai2010/webp"
)

type fakeSearch struct {
	images []serp.ImageResult
	err    error
}

func (f *fakeSearch) SearchText(context.Context, string) ([]serp.TextResult, error) {
	return nil, nil
}

func (f *fakeSearch) SearchImages(context.Context, string) ([]serp.ImageResult, error) {
	return f.images, f.err
}

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func (m *memStore) Put(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.files == nil {
		m.files = map[string][]byte{}
	}
	m.files[name] = data
	return nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 200, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func newFetcher(t *testing.T) *scraper.Fetcher {
	t.Helper()
	f, err := scraper.NewFetcher(scraper.FetchConfig{Fingerprint: fingerprint.ProfileGo, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	return f
}

func TestTranscode(t *testing.T) {
	out, err := Transcode(pngBytes(t, 1200, 300), 800, 400, 80)
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	cfg, err := webp.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not webp: %v", err)
	}
	if cfg.Width != 800 || cfg.Height != 400 {
		t.Errorf("expected 800x400, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestTranscode_Garbage(t *testing.T) {
	if _, err := Transcode([]byte("<html>not an image</html>"), 800, 400, 80); err == nil {
		t.Errorf("expected decode error")
	}
}

func TestHasImageExt(t *testing.T) {
	tests := map[string]bool{
		"https://x.kz/a/photo.JPG":        true,
		"https://x.kz/a/photo.jpeg?w=800": true,
		"https://x.kz/a.png":              true,
		"https://x.kz/a.webp":             true,
		"https://x.kz/a.gif":              false,
		"https://x.kz/image?id=5":         false,
		"https://x.kz/photo.jpg/view":     false,
		"::not a url":                     false,
	}
	for in, want := range tests {
		if got := HasImageExt(in); got != want {
			t.Errorf("HasImageExt(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"погода в  алматы", "погода_в_алматы_42.webp"},
		{"ac/dc концерт", "acdc_концерт_42.webp"},
		{"  ", "image_42.webp"},
		{"../../etc", "etc_42.webp"},
	}
	for _, tt := range tests {
		if got := FileName(tt.query, 42); got != tt.want {
			t.Errorf("FileName(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestMilliClock_StrictlyIncreasing(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	c := &milliClock{now: func() time.Time { return fixed }}

	seen := map[int64]bool{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := c.next()
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != 50 {
		t.Errorf("expected 50 distinct stamps, got %d", len(seen))
	}
}

func TestAcquire_Success(t *testing.T) {
	img := pngBytes(t, 400, 400)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	}))
	defer ts.Close()

	store := &memStore{}
	search := &fakeSearch{images: []serp.ImageResult{
		{Link: ts.URL + "/page.html"},
		{Link: ts.URL + "/snow.png"},
		{Link: ts.URL + "/other.jpg"},
	}}
	a := New(search, newFetcher(t), store, Config{}, nil)
	a.stamp = func() int64 { return 1710000000000 }

	name := a.Acquire(context.Background(), "погода")
	if name != "погода_1710000000000.webp" {
		t.Fatalf("unexpected name %q", name)
	}
	if _, err := webp.DecodeConfig(bytes.NewReader(store.files[name])); err != nil {
		t.Errorf("stored file is not webp: %v", err)
	}
}

func TestAcquire_SameQueryDistinctNames(t *testing.T) {
	img := pngBytes(t, 10, 10)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(img)
	}))
	defer ts.Close()

	store := &memStore{}
	a := New(&fakeSearch{images: []serp.ImageResult{{Link: ts.URL + "/a.png"}}}, newFetcher(t), store, Config{}, nil)

	first := a.Acquire(context.Background(), "погода")
	second := a.Acquire(context.Background(), "погода")
	if first == "" || second == "" || first == second {
		t.Errorf("expected two distinct names, got %q and %q", first, second)
	}
}

func TestAcquire_Failures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gone.jpg":
			w.WriteHeader(http.StatusNotFound)
		default:
			_, _ = w.Write([]byte("definitely not a jpeg"))
		}
	}))
	defer ts.Close()

	f := newFetcher(t)
	tests := []struct {
		name   string
		search *fakeSearch
		store  *memStore
	}{
		{"search error", &fakeSearch{err: errors.New("quota")}, &memStore{}},
		{"no results", &fakeSearch{}, &memStore{}},
		{"no image extension", &fakeSearch{images: []serp.ImageResult{{Link: ts.URL + "/x.gif"}}}, &memStore{}},
		// A later valid candidate is not tried after the first one fails.
		{"http 404", &fakeSearch{images: []serp.ImageResult{{Link: ts.URL + "/gone.jpg"}, {Link: ts.URL + "/ok.png"}}}, &memStore{}},
		{"undecodable", &fakeSearch{images: []serp.ImageResult{{Link: ts.URL + "/bad.jpg"}}}, &memStore{}},
		{"unreachable", &fakeSearch{images: []serp.ImageResult{{Link: "http://127.0.0.1:1/a.jpg"}}}, &memStore{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.search, f, tt.store, Config{}, nil)
			if got := a.Acquire(context.Background(), "погода"); got != "" {
				t.Errorf("expected empty name, got %q", got)
			}
			if len(tt.store.files) != 0 {
				t.Errorf("nothing should be stored")
			}
		})
	}
}

func TestAcquire_StoreError(t *testing.T) {
	img := pngBytes(t, 10, 10)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(img)
	}))
	defer ts.Close()

	a := New(&fakeSearch{images: []serp.ImageResult{{Link: ts.URL + "/a.png"}}}, newFetcher(t),
		&memStore{err: errors.New("disk full")}, Config{}, nil)
	if got := a.Acquire(context.Background(), "погода"); got != "" {
		t.Errorf("expected empty name on store failure, got %q", got)
	}
}
