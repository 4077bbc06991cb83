package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/FranksOps/trendpress/internal/storage"
)

// Fixed list sizes of the read API.
const (
	asideLimit        = 10
	latestPerCategory = 3
)

type postHandler struct {
	rs    responder
	store Store
}

// intParam parses an optional integer query parameter. Absent means 0.
func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &badRequest{field: name, msg: "must be an integer"}
	}
	return n, nil
}

func idParam(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, &badRequest{field: name, msg: "must be a positive integer"}
	}
	return id, nil
}

func pageParams(r *http.Request) (int, int, error) {
	page, err := intParam(r, "page")
	if err != nil {
		return 0, 0, err
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

// aside serves the most viewed posts.
func (h postHandler) aside(w http.ResponseWriter, r *http.Request) {
	posts, err := h.store.TopViewed(r.Context(), asideLimit)
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}
	h.rs.writeJSON(w, http.StatusOK, posts)
}

func (h postHandler) categoryPage(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageParams(r)
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}
	res, err := h.store.PageCategories(r.Context(), page, limit)
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}
	h.rs.writeJSON(w, http.StatusOK, res)
}

// postPage serves a page of posts, optionally of one category (id).
func (h postHandler) postPage(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageParams(r)
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}
	var catID int64
	if raw := r.URL.Query().Get("id"); raw != "" {
		if catID, err = idParam(raw, "id"); err != nil {
			h.rs.writeError(w, r, err)
			return
		}
	}
	res, err := h.store.PagePosts(r.Context(), storage.PostFilter{Page: page, Limit: limit, CategoryID: catID})
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}
	h.rs.writeJSON(w, http.StatusOK, res)
}

func (h postHandler) categories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.store.ListCategories(r.Context())
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}
	h.rs.writeJSON(w, http.StatusOK, cats)
}

func (h postHandler) latest(w http.ResponseWriter, r *http.Request) {
	posts, err := h.store.LatestPerCategory(r.Context(), latestPerCategory)
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}
	h.rs.writeJSON(w, http.StatusOK, posts)
}

func (h postHandler) all(w http.ResponseWriter, r *http.Request) {
	posts, err := h.store.ListPosts(r.Context())
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}
	h.rs.writeJSON(w, http.StatusOK, posts)
}

func (h postHandler) byCategory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(chi.URLParam(r, "id"), "id")
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}
	posts, err := h.store.ListPostsByCategory(r.Context(), id)
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}
	h.rs.writeJSON(w, http.StatusOK, posts)
}

// view serves one post and counts the read.
func (h postHandler) view(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(chi.URLParam(r, "id"), "id")
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}
	post, err := h.store.ViewPost(r.Context(), id)
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}
	h.rs.writeJSON(w, http.StatusOK, post)
}
