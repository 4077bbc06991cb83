// Package sqlite implements storage.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/FranksOps/trendpress/internal/storage"
	_ "modernc.org/sqlite"
)

var _ storage.Store = (*Store)(nil)

// Store is a SQLite-backed storage.Store. Timestamps are kept as unix
// nanoseconds so they order correctly as integers.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL UNIQUE,
		content TEXT NOT NULL,
		image TEXT NOT NULL,
		viewed INTEGER NOT NULL DEFAULT 0,
		category_id INTEGER NOT NULL REFERENCES categories(id),
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS posts_category_created ON posts (category_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS posts_viewed ON posts (viewed DESC)`,
}

// New opens the database at dsn and creates the schema if needed.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection serializes writers and keeps in-memory databases alive.
	db.SetMaxOpenConns(1)

	for _, stmt := range append([]string{`PRAGMA foreign_keys = ON`}, schema...) {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: schema: %w", err)
		}
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) stamp() int64 {
	return s.now().UTC().UnixNano()
}

func fromStamp(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// MarkSeen implements storage.SeenStore.
func (s *Store) MarkSeen(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO queries (name, created_at) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`,
		name, s.stamp())
	if err != nil {
		return false, fmt.Errorf("sqlite: mark seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: mark seen: %w", err)
	}
	return n == 1, nil
}

// ClearSeen implements storage.SeenStore.
func (s *Store) ClearSeen(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM queries`); err != nil {
		return fmt.Errorf("sqlite: clear seen: %w", err)
	}
	return nil
}

// ListCategories implements storage.CategoryStore.
func (s *Store) ListCategories(ctx context.Context) ([]*storage.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list categories: %w", err)
	}
	defer rows.Close()
	return scanCategories(rows)
}

// FindOrCreateCategory implements storage.CategoryStore.
func (s *Store) FindOrCreateCategory(ctx context.Context, name string) (*storage.Category, error) {
	if name == "" {
		return nil, errors.New("sqlite: category name is empty")
	}
	// The no-op update makes RETURNING yield the existing row on conflict.
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO categories (name, created_at) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET name = excluded.name
		RETURNING id, name, created_at`,
		name, s.stamp())

	var (
		c  storage.Category
		ts int64
	)
	if err := row.Scan(&c.ID, &c.Name, &ts); err != nil {
		return nil, fmt.Errorf("sqlite: find or create category: %w", err)
	}
	c.CreatedAt = fromStamp(ts)
	return &c, nil
}

// PageCategories implements storage.CategoryStore.
func (s *Store) PageCategories(ctx context.Context, page, limit int) (*storage.CategoryPage, error) {
	page, limit, offset := storage.Window(page, limit, storage.DefaultCategoryLimit)

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories`).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: count categories: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM categories ORDER BY name ASC, id ASC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: page categories: %w", err)
	}
	defer rows.Close()

	cats, err := scanCategories(rows)
	if err != nil {
		return nil, err
	}
	out := &storage.CategoryPage{Categories: cats}
	out.HasNextPage, out.NextPage = storage.NextPage(page, offset, len(cats), total)
	return out, nil
}

// CreatePost implements storage.PostStore.
func (s *Store) CreatePost(ctx context.Context, p storage.NewPost) (*storage.Post, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO posts (title, content, image, viewed, category_id, created_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT (title) DO NOTHING
		RETURNING id, created_at`,
		p.Title, p.Content, p.Image, p.CategoryID, s.stamp())

	post := &storage.Post{
		Title:      p.Title,
		Content:    p.Content,
		Image:      p.Image,
		CategoryID: p.CategoryID,
	}
	var ts int64
	if err := row.Scan(&post.ID, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlite: create post %q: %w", p.Title, storage.ErrDuplicate)
		}
		return nil, fmt.Errorf("sqlite: create post: %w", err)
	}
	post.CreatedAt = fromStamp(ts)
	return post, nil
}

const postSelect = `SELECT p.id, p.title, p.content, p.image, p.viewed, p.category_id, p.created_at,
	c.id, c.name, c.created_at
	FROM posts p JOIN categories c ON c.id = p.category_id`

// ViewPost implements storage.PostStore.
func (s *Store) ViewPost(ctx context.Context, id int64) (*storage.Post, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE posts SET viewed = viewed + 1 WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: view post: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("sqlite: view post: %w", err)
	} else if n == 0 {
		return nil, fmt.Errorf("sqlite: post %d: %w", id, storage.ErrNotFound)
	}

	posts, err := s.queryPosts(ctx, postSelect+` WHERE p.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, fmt.Errorf("sqlite: post %d: %w", id, storage.ErrNotFound)
	}
	return posts[0], nil
}

// ListPosts implements storage.PostStore.
func (s *Store) ListPosts(ctx context.Context) ([]*storage.Post, error) {
	return s.queryPosts(ctx, postSelect+` ORDER BY p.id ASC`)
}

// ListPostsByCategory implements storage.PostStore.
func (s *Store) ListPostsByCategory(ctx context.Context, categoryID int64) ([]*storage.Post, error) {
	return s.queryPosts(ctx,
		postSelect+` WHERE p.category_id = ? ORDER BY p.created_at DESC, p.id DESC`, categoryID)
}

// PagePosts implements storage.PostStore.
func (s *Store) PagePosts(ctx context.Context, f storage.PostFilter) (*storage.PostPage, error) {
	page, limit, offset := storage.Window(f.Page, f.Limit, storage.DefaultPostLimit)

	where, args := "", []any{}
	if f.CategoryID != 0 {
		where = ` WHERE p.category_id = ?`
		args = append(args, f.CategoryID)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts p`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: count posts: %w", err)
	}

	posts, err := s.queryPosts(ctx,
		postSelect+where+` ORDER BY p.created_at DESC, p.id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, err
	}
	out := &storage.PostPage{Posts: posts}
	out.HasNextPage, out.NextPage = storage.NextPage(page, offset, len(posts), total)
	return out, nil
}

// LatestPerCategory implements storage.PostStore.
func (s *Store) LatestPerCategory(ctx context.Context, n int) ([]*storage.Post, error) {
	return s.queryPosts(ctx,
		`SELECT p.id, p.title, p.content, p.image, p.viewed, p.category_id, p.created_at,
		c.id, c.name, c.created_at
		FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY category_id ORDER BY created_at DESC, id DESC) AS rn
			FROM posts
		) p JOIN categories c ON c.id = p.category_id
		WHERE p.rn <= ?
		ORDER BY p.created_at DESC, p.id DESC`, n)
}

// TopViewed implements storage.PostStore.
func (s *Store) TopViewed(ctx context.Context, n int) ([]*storage.Post, error) {
	return s.queryPosts(ctx, postSelect+` ORDER BY p.viewed DESC, p.created_at DESC LIMIT ?`, n)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) queryPosts(ctx context.Context, query string, args ...any) ([]*storage.Post, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query posts: %w", err)
	}
	defer rows.Close()

	posts := []*storage.Post{}
	for rows.Next() {
		var (
			p        storage.Post
			c        storage.Category
			pts, cts int64
		)
		if err := rows.Scan(&p.ID, &p.Title, &p.Content, &p.Image, &p.Viewed, &p.CategoryID, &pts,
			&c.ID, &c.Name, &cts); err != nil {
			return nil, fmt.Errorf("sqlite: scan post: %w", err)
		}
		p.CreatedAt = fromStamp(pts)
		c.CreatedAt = fromStamp(cts)
		p.Category = &c
		posts = append(posts, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: query posts: %w", err)
	}
	return posts, nil
}

func scanCategories(rows *sql.Rows) ([]*storage.Category, error) {
	cats := []*storage.Category{}
	for rows.Next() {
		var (
			c  storage.Category
			ts int64
		)
		if err := rows.Scan(&c.ID, &c.Name, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan category: %w", err)
		}
		c.CreatedAt = fromStamp(ts)
		cats = append(cats, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list categories: %w", err)
	}
	return cats, nil
}
