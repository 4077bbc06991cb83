// Package categorize assigns an article to a category, inventing a new one
// when none of the existing categories fit.
package categorize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/FranksOps/trendpress/internal/llm"
	"github.com/FranksOps/trendpress/internal/storage"
)

// ErrNoCategory is returned when the model answer normalizes to nothing.
var ErrNoCategory = errors.New("categorize: no category in response")

// Defaults.
const (
	DefaultMaxRunes  = 6000
	DefaultMaxTokens = 100
)

// Config tunes the classifier.
type Config struct {
	// MaxRunes caps how much article text is embedded in the prompt.
	MaxRunes  int
	MaxTokens int
}

// Classifier picks a category with a Generator and persists it in a
// CategoryStore.
type Classifier struct {
	gen    llm.Generator
	store  storage.CategoryStore
	cfg    Config
	logger *slog.Logger
}

// New returns a Classifier.
func New(gen llm.Generator, store storage.CategoryStore, cfg Config, logger *slog.Logger) *Classifier {
	if cfg.MaxRunes <= 0 {
		cfg.MaxRunes = DefaultMaxRunes
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{gen: gen, store: store, cfg: cfg, logger: logger}
}

// Classify returns the category content belongs to.
func (c *Classifier) Classify(ctx context.Context, content string) (*storage.Category, error) {
	cats, err := c.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("categorize: list categories: %w", err)
	}
	names := make([]string, 0, len(cats))
	for _, cat := range cats {
		names = append(names, cat.Name)
	}

	answer, err := c.gen.Generate(ctx, llm.Request{
		Prompt:      Prompt(truncateRunes(content, c.cfg.MaxRunes), names),
		Temperature: 1,
		TopP:        1,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("categorize: %w", err)
	}

	name := Normalize(answer)
	if name == "" {
		return nil, fmt.Errorf("categorize: answer %q: %w", answer, ErrNoCategory)
	}

	cat, err := c.store.FindOrCreateCategory(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("categorize: %w", err)
	}
	c.logger.Debug("content classified", "category", cat.Name, "category_id", cat.ID)
	return cat, nil
}

// Prompt renders the classification instruction.
func Prompt(content string, categories []string) string {
	list := "список пуст"
	if len(categories) > 0 {
		list = strings.Join(categories, "\n")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Определи, к какой категории из списка относится текст: \"%s\".\n", content)
	b.WriteString("Если ни одна категория не подходит или список пуст, придумай самое подходящее название категории.\n")
	b.WriteString("Ответь одним словом, только названием категории, без пояснений.\n")
	b.WriteString("Примеры категорий: Спорт, Финансы, Развлечения.\n\n")
	b.WriteString("Список категорий:\n")
	b.WriteString(list)
	return b.String()
}

// Normalize reduces a model answer to a bare lower-case category name.
func Normalize(answer string) string {
	answer = strings.NewReplacer("**", "", "__", "", "`", "").Replace(answer)
	fields := strings.Fields(answer)
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if f != "" {
			return strings.ToLower(f)
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
