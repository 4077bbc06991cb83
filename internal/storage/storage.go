// Package storage defines the records the pipeline produces and the store
// contracts the relational and key-value backends implement.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when an insert collides with a unique column.
	ErrDuplicate = errors.New("storage: duplicate")
)

// Default page sizes.
const (
	DefaultPostLimit     = 10
	DefaultCategoryLimit = 3
)

// Category groups posts. Names are unique.
type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Post is a published article. Category is populated by read queries.
type Post struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Image      string    `json:"image"`
	Viewed     int64     `json:"viewed"`
	CategoryID int64     `json:"categoryId"`
	CreatedAt  time.Time `json:"createdAt"`
	Category   *Category `json:"category,omitempty"`
}

// NewPost carries the fields the pipeline supplies when persisting a post.
type NewPost struct {
	Title      string
	Content    string
	Image      string
	CategoryID int64
}

// Validate reports whether p has every field a persisted post requires.
func (p NewPost) Validate() error {
	switch {
	case p.Title == "":
		return errors.New("storage: post title is empty")
	case p.Content == "":
		return errors.New("storage: post content is empty")
	case p.Image == "":
		return errors.New("storage: post image is empty")
	case p.CategoryID <= 0:
		return errors.New("storage: post category is unset")
	}
	return nil
}

// PostFilter selects a page of posts. A zero CategoryID matches every category.
type PostFilter struct {
	Page       int
	Limit      int
	CategoryID int64
}

// PostPage is one page of posts, newest first.
type PostPage struct {
	Posts       []*Post `json:"posts"`
	HasNextPage bool    `json:"hasNextPage"`
	NextPage    *int    `json:"nextPage"`
}

// CategoryPage is one page of categories ordered by name.
type CategoryPage struct {
	Categories  []*Category `json:"categories"`
	HasNextPage bool        `json:"hasNextPage"`
	NextPage    *int        `json:"nextPage"`
}

// SeenStore records trend queries that were already processed.
type SeenStore interface {
	// MarkSeen records name and reports whether it was not recorded before.
	MarkSeen(ctx context.Context, name string) (bool, error)
	// ClearSeen forgets every recorded name.
	ClearSeen(ctx context.Context) error
}

// CategoryStore persists categories.
type CategoryStore interface {
	ListCategories(ctx context.Context) ([]*Category, error)
	// FindOrCreateCategory returns the category named name, creating it if
	// needed. Concurrent callers with the same name observe one row.
	FindOrCreateCategory(ctx context.Context, name string) (*Category, error)
	PageCategories(ctx context.Context, page, limit int) (*CategoryPage, error)
}

// PostStore persists posts.
type PostStore interface {
	CreatePost(ctx context.Context, p NewPost) (*Post, error)
	// ViewPost increments the view counter and returns the updated post.
	ViewPost(ctx context.Context, id int64) (*Post, error)
	ListPosts(ctx context.Context) ([]*Post, error)
	ListPostsByCategory(ctx context.Context, categoryID int64) ([]*Post, error)
	PagePosts(ctx context.Context, f PostFilter) (*PostPage, error)
	// LatestPerCategory returns up to n newest posts of each category.
	LatestPerCategory(ctx context.Context, n int) ([]*Post, error)
	TopViewed(ctx context.Context, n int) ([]*Post, error)
}

// Store is the full relational backend.
type Store interface {
	SeenStore
	CategoryStore
	PostStore
	Close() error
}

// Window normalizes a page request and returns the effective page, limit and
// row offset.
func Window(page, limit, defaultLimit int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	return page, limit, (page - 1) * limit
}

// NextPage computes the pagination flags for a page that returned n rows out
// of total.
func NextPage(page, offset, n int, total int64) (bool, *int) {
	if int64(offset+n) < total {
		next := page + 1
		return true, &next
	}
	return false, nil
}
