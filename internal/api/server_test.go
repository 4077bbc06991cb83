package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/FranksOps/trendpress/internal/storage"
	"github.com/FranksOps/trendpress/internal/storage/sqlite"
)

var dbSeq atomic.Int64

type fixture struct {
	srv    *httptest.Server
	store  *sqlite.Store
	sport  *storage.Category
	money  *storage.Category
	posts  []*storage.Post
	images string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(fmt.Sprintf("file:api_%d?mode=memory&cache=shared", dbSeq.Add(1)))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	f := &fixture{store: store, images: t.TempDir()}
	if f.sport, err = store.FindOrCreateCategory(ctx, "спорт"); err != nil {
		t.Fatalf("category: %v", err)
	}
	if f.money, err = store.FindOrCreateCategory(ctx, "финансы"); err != nil {
		t.Fatalf("category: %v", err)
	}
	for i := 1; i <= 5; i++ {
		cat := f.sport
		if i%2 == 0 {
			cat = f.money
		}
		p, err := store.CreatePost(ctx, storage.NewPost{
			Title:      fmt.Sprintf("Пост %d", i),
			Content:    "# Пост\n\nтекст",
			Image:      fmt.Sprintf("post_%d.webp", i),
			CategoryID: cat.ID,
		})
		if err != nil {
			t.Fatalf("create post: %v", err)
		}
		f.posts = append(f.posts, p)
	}

	if err := os.WriteFile(filepath.Join(f.images, "post_1.webp"), []byte("RIFFwebp"), 0644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	f.srv = httptest.NewServer(NewRouter(store, Options{ImagesDir: f.images, AllowedOrigins: []string{"https://example.kz"}}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestViewPost_IncrementsViews(t *testing.T) {
	f := newFixture(t)
	id := f.posts[0].ID

	var post storage.Post
	for i := 1; i <= 3; i++ {
		if code := f.get(t, fmt.Sprintf("/api/posts/%d", id), &post); code != http.StatusOK {
			t.Fatalf("status %d", code)
		}
		if post.Viewed != int64(i) {
			t.Errorf("read %d: viewed = %d", i, post.Viewed)
		}
	}
	if post.Category == nil || post.Category.Name != "спорт" {
		t.Errorf("expected embedded category, got %+v", post.Category)
	}

	var top []storage.Post
	f.get(t, "/api/posts/aside", &top)
	if len(top) != 5 || top[0].ID != id {
		t.Errorf("expected viewed post first in aside, got %+v", top)
	}
}

func TestViewPost_Errors(t *testing.T) {
	f := newFixture(t)
	if code := f.get(t, "/api/posts/9999", nil); code != http.StatusNotFound {
		t.Errorf("missing post: status %d, want 404", code)
	}
	if code := f.get(t, "/api/posts/abc", nil); code != http.StatusBadRequest {
		t.Errorf("bad id: status %d, want 400", code)
	}
}

func TestPostPage(t *testing.T) {
	f := newFixture(t)

	var page storage.PostPage
	f.get(t, "/api/posts/ltd?page=1&limit=2", &page)
	if len(page.Posts) != 2 || !page.HasNextPage || page.NextPage == nil || *page.NextPage != 2 {
		t.Errorf("unexpected first page: %+v", page)
	}

	f.get(t, "/api/posts/ltd?page=3&limit=2", &page)
	if len(page.Posts) != 1 || page.HasNextPage || page.NextPage != nil {
		t.Errorf("unexpected last page: %+v", page)
	}

	f.get(t, fmt.Sprintf("/api/posts/ltd?id=%d&limit=10", f.money.ID), &page)
	if len(page.Posts) != 2 {
		t.Errorf("expected 2 finance posts, got %d", len(page.Posts))
	}
	for _, p := range page.Posts {
		if p.CategoryID != f.money.ID {
			t.Errorf("post %d in category %d", p.ID, p.CategoryID)
		}
	}

	if code := f.get(t, "/api/posts/ltd?page=x", nil); code != http.StatusBadRequest {
		t.Errorf("bad page: status %d, want 400", code)
	}
}

func TestCategoryPage(t *testing.T) {
	f := newFixture(t)

	var page storage.CategoryPage
	f.get(t, "/api/posts/cats?limit=1", &page)
	if len(page.Categories) != 1 || page.Categories[0].Name != "спорт" || !page.HasNextPage {
		t.Errorf("unexpected category page: %+v", page)
	}

	var all []storage.Category
	f.get(t, "/api/posts/category", &all)
	if len(all) != 2 {
		t.Errorf("expected 2 categories, got %d", len(all))
	}
}

func TestListings(t *testing.T) {
	f := newFixture(t)

	var all []storage.Post
	f.get(t, "/api/posts/", &all)
	if len(all) != 5 {
		t.Errorf("expected 5 posts, got %d", len(all))
	}

	var byCat []storage.Post
	f.get(t, fmt.Sprintf("/api/posts/category/%d", f.sport.ID), &byCat)
	if len(byCat) != 3 {
		t.Fatalf("expected 3 sport posts, got %d", len(byCat))
	}
	if byCat[0].ID < byCat[len(byCat)-1].ID {
		t.Errorf("expected newest first, got ids %d..%d", byCat[0].ID, byCat[len(byCat)-1].ID)
	}

	var latest []storage.Post
	f.get(t, "/api/posts/limited", &latest)
	if len(latest) != 5 {
		t.Errorf("expected 3 sport + 2 finance posts, got %d", len(latest))
	}
}

func TestJSONShape(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(fmt.Sprintf("%s/api/posts/%d", f.srv.URL, f.posts[1].ID))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"id", "title", "content", "image", "viewed", "categoryId", "createdAt", "category"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q in %v", key, raw)
		}
	}
}

func TestImagesAndOps(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/images/post_1.webp")
	if err != nil {
		t.Fatalf("GET image: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("image status %d", resp.StatusCode)
	}

	if code := f.get(t, "/images/missing.webp", nil); code != http.StatusNotFound {
		t.Errorf("missing image status %d", code)
	}
	if code := f.get(t, "/healthz", nil); code != http.StatusOK {
		t.Errorf("healthz status %d", code)
	}

	resp, err = http.Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	ct := resp.Header.Get("Content-Type")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("metrics status %d content-type %q", resp.StatusCode, ct)
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t)
	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/api/posts/category", nil)
	req.Header.Set("Origin", "https://example.kz")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://example.kz" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

type panicStore struct{ Store }

func (panicStore) ListPosts(ctx context.Context) ([]*storage.Post, error) {
	panic("boom")
}

func (panicStore) TopViewed(ctx context.Context, n int) ([]*storage.Post, error) {
	return nil, errors.New("connection reset")
}

func TestServerErrors(t *testing.T) {
	srv := httptest.NewServer(NewRouter(panicStore{}, Options{}))
	defer srv.Close()

	for path, want := range map[string]int{
		"/api/posts/":      http.StatusInternalServerError,
		"/api/posts/aside": http.StatusInternalServerError,
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("%s: status %d, want %d", path, resp.StatusCode, want)
		}
	}
}
