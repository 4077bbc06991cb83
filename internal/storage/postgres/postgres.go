// Package postgres implements storage.Store on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/FranksOps/trendpress/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ storage.Store = (*Store)(nil)

// Store is a Postgres-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS queries (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS categories (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS posts (
	id BIGSERIAL PRIMARY KEY,
	title TEXT NOT NULL UNIQUE,
	content TEXT NOT NULL,
	image TEXT NOT NULL,
	viewed BIGINT NOT NULL DEFAULT 0,
	category_id BIGINT NOT NULL REFERENCES categories(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);
CREATE INDEX IF NOT EXISTS posts_category_created ON posts (category_id, created_at DESC);
CREATE INDEX IF NOT EXISTS posts_viewed ON posts (viewed DESC);
`

// New connects to dsn, verifies the connection and creates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// MarkSeen implements storage.SeenStore.
func (s *Store) MarkSeen(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO queries (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return false, fmt.Errorf("postgres: mark seen: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClearSeen implements storage.SeenStore.
func (s *Store) ClearSeen(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE queries`); err != nil {
		return fmt.Errorf("postgres: clear seen: %w", err)
	}
	return nil
}

// ListCategories implements storage.CategoryStore.
func (s *Store) ListCategories(ctx context.Context) ([]*storage.Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, created_at FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list categories: %w", err)
	}
	return collectCategories(rows)
}

// FindOrCreateCategory implements storage.CategoryStore.
func (s *Store) FindOrCreateCategory(ctx context.Context, name string) (*storage.Category, error) {
	if name == "" {
		return nil, errors.New("postgres: category name is empty")
	}
	var c storage.Category
	err := s.pool.QueryRow(ctx,
		`INSERT INTO categories (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, created_at`, name).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: find or create category: %w", err)
	}
	return &c, nil
}

// PageCategories implements storage.CategoryStore.
func (s *Store) PageCategories(ctx context.Context, page, limit int) (*storage.CategoryPage, error) {
	page, limit, offset := storage.Window(page, limit, storage.DefaultCategoryLimit)

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM categories`).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres: count categories: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, created_at FROM categories ORDER BY name ASC, id ASC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: page categories: %w", err)
	}
	cats, err := collectCategories(rows)
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
	post := &storage.Post{
		Title:      p.Title,
		Content:    p.Content,
		Image:      p.Image,
		CategoryID: p.CategoryID,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO posts (title, content, image, category_id) VALUES ($1, $2, $3, $4)
		ON CONFLICT (title) DO NOTHING
		RETURNING id, created_at`,
		p.Title, p.Content, p.Image, p.CategoryID).Scan(&post.ID, &post.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: create post %q: %w", p.Title, storage.ErrDuplicate)
		}
		return nil, fmt.Errorf("postgres: create post: %w", err)
	}
	return post, nil
}

const postSelect = `SELECT p.id, p.title, p.content, p.image, p.viewed, p.category_id, p.created_at,
	c.id, c.name, c.created_at
	FROM posts p JOIN categories c ON c.id = p.category_id`

// ViewPost implements storage.PostStore.
func (s *Store) ViewPost(ctx context.Context, id int64) (*storage.Post, error) {
	posts, err := s.queryPosts(ctx,
		`WITH v AS (UPDATE posts SET viewed = viewed + 1 WHERE id = $1 RETURNING *)
		SELECT p.id, p.title, p.content, p.image, p.viewed, p.category_id, p.created_at,
		c.id, c.name, c.created_at
		FROM v p JOIN categories c ON c.id = p.category_id`, id)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, fmt.Errorf("postgres: post %d: %w", id, storage.ErrNotFound)
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
		postSelect+` WHERE p.category_id = $1 ORDER BY p.created_at DESC, p.id DESC`, categoryID)
}

// PagePosts implements storage.PostStore.
func (s *Store) PagePosts(ctx context.Context, f storage.PostFilter) (*storage.PostPage, error) {
	page, limit, offset := storage.Window(f.Page, f.Limit, storage.DefaultPostLimit)

	where, args := "", []any{}
	if f.CategoryID != 0 {
		where = ` WHERE p.category_id = $1`
		args = append(args, f.CategoryID)
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM posts p`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres: count posts: %w", err)
	}

	n := len(args)
	posts, err := s.queryPosts(ctx,
		postSelect+where+fmt.Sprintf(` ORDER BY p.created_at DESC, p.id DESC LIMIT $%d OFFSET $%d`, n+1, n+2),
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
		WHERE p.rn <= $1
		ORDER BY p.created_at DESC, p.id DESC`, n)
}

// TopViewed implements storage.PostStore.
func (s *Store) TopViewed(ctx context.Context, n int) ([]*storage.Post, error) {
	return s.queryPosts(ctx, postSelect+` ORDER BY p.viewed DESC, p.created_at DESC LIMIT $1`, n)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) queryPosts(ctx context.Context, query string, args ...any) ([]*storage.Post, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query posts: %w", err)
	}
	posts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*storage.Post, error) {
		var (
			p storage.Post
			c storage.Category
		)
		err := row.Scan(&p.ID, &p.Title, &p.Content, &p.Image, &p.Viewed, &p.CategoryID, &p.CreatedAt,
			&c.ID, &c.Name, &c.CreatedAt)
		p.Category = &c
		return &p, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan posts: %w", err)
	}
	if posts == nil {
		posts = []*storage.Post{}
	}
	return posts, nil
}

func collectCategories(rows pgx.Rows) ([]*storage.Category, error) {
	cats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*storage.Category, error) {
		var c storage.Category
		err := row.Scan(&c.ID, &c.Name, &c.CreatedAt)
		return &c, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan categories: %w", err)
	}
	if cats == nil {
		cats = []*storage.Category{}
	}
	return cats, nil
}
