// Package trends discovers trending search queries that have not been
// processed yet.
package trends

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/FranksOps/trendpress/internal/storage"
)

// Lister returns candidate trend terms in ranking order.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Source combines a Lister with the seen-query store.
type Source struct {
	lister       Lister
	seen         storage.SeenStore
	defaultLimit int
	logger       *slog.Logger
}

// NewSource returns a Source. defaultLimit applies when Discover is called
// with a limit below 1; it defaults to 1.
func NewSource(lister Lister, seen storage.SeenStore, defaultLimit int, logger *slog.Logger) *Source {
	if defaultLimit < 1 {
		defaultLimit = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{lister: lister, seen: seen, defaultLimit: defaultLimit, logger: logger}
}

// Discover returns up to limit trend terms never seen before, marking each as
// seen before returning it. A listing failure yields no terms and no error; a
// seen-store failure is returned.
func (s *Source) Discover(ctx context.Context, limit int) ([]string, error) {
	if limit < 1 {
		limit = s.defaultLimit
	}

	candidates, err := s.lister.List(ctx)
	if err != nil {
		s.logger.Warn("trend listing failed", "err", err)
		return []string{}, nil
	}

	fresh := make([]string, 0, limit)
	for _, c := range candidates {
		if len(fresh) >= limit {
			break
		}
		name := Normalize(c)
		if name == "" {
			continue
		}
		isNew, err := s.seen.MarkSeen(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("trends: mark %q seen: %w", name, err)
		}
		if !isNew {
			continue
		}
		fresh = append(fresh, name)
	}

	s.logger.Info("trends discovered", "candidates", len(candidates), "new", len(fresh), "queries", fresh)
	return fresh, nil
}

// Normalize trims and lower-cases a term and collapses inner whitespace.
func Normalize(term string) string {
	return strings.ToLower(strings.Join(strings.Fields(term), " "))
}
