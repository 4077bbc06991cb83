// Package serp queries a web search provider for pages and images related to
// a trend query.
package serp

import "context"

// TextResult is one organic web result.
type TextResult struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// ImageResult is one image search hit. Link points at the image itself.
type ImageResult struct {
	Link string `json:"link"`
}

// Provider abstracts a search engine. A provider without credentials returns
// empty results and a nil error.
type Provider interface {
	SearchText(ctx context.Context, query string) ([]TextResult, error)
	SearchImages(ctx context.Context, query string) ([]ImageResult, error)
}
