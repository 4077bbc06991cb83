// Package storetest is a conformance suite run against every storage.Store
// backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/FranksOps/trendpress/internal/storage"
)

// Opener returns an empty store. The suite closes it.
type Opener func(t *testing.T) storage.Store

// Run executes the suite, opening a fresh store per subtest.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(*testing.T, storage.Store)
	}{
		{"SeenIsIdempotent", testSeen},
		{"FindOrCreateCategory", testFindOrCreate},
		{"FindOrCreateCategoryConcurrent", testFindOrCreateConcurrent},
		{"CreatePostDuplicate", testCreatePostDuplicate},
		{"ViewPostIncrements", testViewPost},
		{"PagePosts", testPagePosts},
		{"PageCategories", testPageCategories},
		{"LatestPerCategory", testLatestPerCategory},
		{"TopViewed", testTopViewed},
		{"ListPostsByCategory", testListPostsByCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func mustCategory(t *testing.T, s storage.Store, name string) *storage.Category {
	t.Helper()
	c, err := s.FindOrCreateCategory(context.Background(), name)
	if err != nil {
		t.Fatalf("FindOrCreateCategory(%q): %v", name, err)
	}
	return c
}

func mustPost(t *testing.T, s storage.Store, title string, categoryID int64) *storage.Post {
	t.Helper()
	p, err := s.CreatePost(context.Background(), storage.NewPost{
		Title:      title,
		Content:    "# " + title + "\n\nтекст",
		Image:      "img_1.webp",
		CategoryID: categoryID,
	})
	if err != nil {
		t.Fatalf("CreatePost(%q): %v", title, err)
	}
	return p
}

func testSeen(t *testing.T, s storage.Store) {
	ctx := context.Background()

	isNew, err := s.MarkSeen(ctx, "погода")
	if err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if !isNew {
		t.Errorf("first MarkSeen should report new")
	}

	isNew, _ = s.MarkSeen(ctx, "погода")
	if isNew {
		t.Errorf("second MarkSeen should report seen")
	}

	if err := s.ClearSeen(ctx); err != nil {
		t.Fatalf("ClearSeen: %v", err)
	}
	isNew, _ = s.MarkSeen(ctx, "погода")
	if !isNew {
		t.Errorf("MarkSeen after ClearSeen should report new")
	}
}

func testFindOrCreate(t *testing.T, s storage.Store) {
	a := mustCategory(t, s, "спорт")
	b := mustCategory(t, s, "спорт")
	if a.ID != b.ID {
		t.Errorf("expected same id, got %d and %d", a.ID, b.ID)
	}
	if a.Name != "спорт" {
		t.Errorf("unexpected name %q", a.Name)
	}

	cats, err := s.ListCategories(context.Background())
	if err != nil {
		t.Fatalf("ListCategories: %v", err)
	}
	if len(cats) != 1 {
		t.Errorf("expected 1 category, got %d", len(cats))
	}
}

func testFindOrCreateConcurrent(t *testing.T, s storage.Store) {
	const workers = 16
	ids := make([]int64, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := s.FindOrCreateCategory(context.Background(), "экономика")
			errs[i] = err
			if c != nil {
				ids[i] = c.ID
			}
		}()
	}
	wg.Wait()

	for i := range workers {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("worker %d got id %d, want %d", i, ids[i], ids[0])
		}
	}
	cats, _ := s.ListCategories(context.Background())
	if len(cats) != 1 {
		t.Errorf("expected exactly one category row, got %d", len(cats))
	}
}

func testCreatePostDuplicate(t *testing.T, s storage.Store) {
	c := mustCategory(t, s, "погода")
	p := mustPost(t, s, "12.03.2024 - Снегопад", c.ID)
	if p.ID == 0 || p.Viewed != 0 || p.CreatedAt.IsZero() {
		t.Errorf("unexpected created post %+v", p)
	}

	_, err := s.CreatePost(context.Background(), storage.NewPost{
		Title: p.Title, Content: "другой", Image: "x.webp", CategoryID: c.ID,
	})
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	_, err = s.CreatePost(context.Background(), storage.NewPost{Title: "no image", Content: "c", CategoryID: c.ID})
	if err == nil {
		t.Errorf("expected validation error for missing image")
	}
}

func testViewPost(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := mustCategory(t, s, "наука")
	p := mustPost(t, s, "просмотры", c.ID)

	for want := int64(1); want <= 3; want++ {
		got, err := s.ViewPost(ctx, p.ID)
		if err != nil {
			t.Fatalf("ViewPost: %v", err)
		}
		if got.Viewed != want {
			t.Errorf("view %d: viewed=%d", want, got.Viewed)
		}
		if got.Category == nil || got.Category.Name != "наука" {
			t.Errorf("expected category to be populated, got %+v", got.Category)
		}
	}

	if _, err := s.ViewPost(ctx, p.ID+1000); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testPagePosts(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := mustCategory(t, s, "a")
	b := mustCategory(t, s, "b")
	for i := range 25 {
		mustPost(t, s, fmt.Sprintf("a-%02d", i), a.ID)
	}
	mustPost(t, s, "b-00", b.ID)

	page, err := s.PagePosts(ctx, storage.PostFilter{Page: 1, CategoryID: a.ID})
	if err != nil {
		t.Fatalf("PagePosts: %v", err)
	}
	if len(page.Posts) != storage.DefaultPostLimit || !page.HasNextPage || page.NextPage == nil || *page.NextPage != 2 {
		t.Errorf("page 1: got %d posts, hasNext=%v next=%v", len(page.Posts), page.HasNextPage, page.NextPage)
	}
	if page.Posts[0].Title != "a-24" {
		t.Errorf("expected newest first, got %q", page.Posts[0].Title)
	}

	page, _ = s.PagePosts(ctx, storage.PostFilter{Page: 3, Limit: 10, CategoryID: a.ID})
	if len(page.Posts) != 5 || page.HasNextPage || page.NextPage != nil {
		t.Errorf("page 3: got %d posts, hasNext=%v", len(page.Posts), page.HasNextPage)
	}

	page, _ = s.PagePosts(ctx, storage.PostFilter{Page: 0, Limit: 100})
	if len(page.Posts) != 26 || page.HasNextPage {
		t.Errorf("all categories: got %d posts, hasNext=%v", len(page.Posts), page.HasNextPage)
	}
}

func testPageCategories(t *testing.T, s storage.Store) {
	for _, n := range []string{"экономика", "авто", "политика", "спорт"} {
		mustCategory(t, s, n)
	}

	page, err := s.PageCategories(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("PageCategories: %v", err)
	}
	if len(page.Categories) != storage.DefaultCategoryLimit {
		t.Fatalf("expected %d categories, got %d", storage.DefaultCategoryLimit, len(page.Categories))
	}
	if page.Categories[0].Name != "авто" || page.Categories[1].Name != "политика" {
		t.Errorf("expected name order, got %q, %q", page.Categories[0].Name, page.Categories[1].Name)
	}
	if !page.HasNextPage || *page.NextPage != 2 {
		t.Errorf("expected a second page")
	}

	page, _ = s.PageCategories(context.Background(), 2, 3)
	if len(page.Categories) != 1 || page.HasNextPage {
		t.Errorf("page 2: got %d categories, hasNext=%v", len(page.Categories), page.HasNextPage)
	}
}

func testLatestPerCategory(t *testing.T, s storage.Store) {
	a := mustCategory(t, s, "a")
	b := mustCategory(t, s, "b")
	for i := range 5 {
		mustPost(t, s, fmt.Sprintf("a-%d", i), a.ID)
	}
	for i := range 2 {
		mustPost(t, s, fmt.Sprintf("b-%d", i), b.ID)
	}

	posts, err := s.LatestPerCategory(context.Background(), 3)
	if err != nil {
		t.Fatalf("LatestPerCategory: %v", err)
	}
	if len(posts) != 5 {
		t.Fatalf("expected 5 posts, got %d", len(posts))
	}
	perCat := map[int64]int{}
	for _, p := range posts {
		perCat[p.CategoryID]++
		if p.Title == "a-0" || p.Title == "a-1" {
			t.Errorf("old post %q should be excluded", p.Title)
		}
	}
	if perCat[a.ID] != 3 || perCat[b.ID] != 2 {
		t.Errorf("unexpected distribution %v", perCat)
	}
	if posts[0].Title != "b-1" {
		t.Errorf("expected newest first, got %q", posts[0].Title)
	}
}

func testTopViewed(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := mustCategory(t, s, "c")
	x := mustPost(t, s, "x", c.ID)
	y := mustPost(t, s, "y", c.ID)
	mustPost(t, s, "z", c.ID)

	for range 3 {
		_, _ = s.ViewPost(ctx, x.ID)
	}
	_, _ = s.ViewPost(ctx, y.ID)

	posts, err := s.TopViewed(ctx, 2)
	if err != nil {
		t.Fatalf("TopViewed: %v", err)
	}
	if len(posts) != 2 || posts[0].ID != x.ID || posts[1].ID != y.ID {
		t.Errorf("unexpected order %+v", posts)
	}
}

func testListPostsByCategory(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := mustCategory(t, s, "a")
	b := mustCategory(t, s, "b")
	mustPost(t, s, "a-old", a.ID)
	mustPost(t, s, "b-only", b.ID)
	mustPost(t, s, "a-new", a.ID)

	posts, err := s.ListPostsByCategory(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListPostsByCategory: %v", err)
	}
	if len(posts) != 2 || posts[0].Title != "a-new" {
		t.Errorf("unexpected posts %+v", posts)
	}

	all, _ := s.ListPosts(ctx)
	if len(all) != 3 {
		t.Errorf("expected 3 posts, got %d", len(all))
	}

	none, _ := s.ListPostsByCategory(ctx, 9999)
	if none == nil || len(none) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", none)
	}
}
