package categorize

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/FranksOps/trendpress/internal/llm"
	"github.com/FranksOps/trendpress/internal/storage"
)

type memCategories struct {
	mu   sync.Mutex
	cats []*storage.Category
	err  error
}

func (m *memCategories) ListCategories(context.Context) ([]*storage.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]*storage.Category(nil), m.cats...), nil
}

func (m *memCategories) FindOrCreateCategory(_ context.Context, name string) (*storage.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cats {
		if c.Name == name {
			return c, nil
		}
	}
	c := &storage.Category{ID: int64(len(m.cats) + 1), Name: name}
	m.cats = append(m.cats, c)
	return c, nil
}

func (m *memCategories) PageCategories(context.Context, int, int) (*storage.CategoryPage, error) {
	return nil, errors.New("not used")
}

func answer(s string) llm.Generator {
	return llm.Func(func(context.Context, llm.Request) (string, error) { return s, nil })
}

func TestClassify_CreatesCategory(t *testing.T) {
	store := &memCategories{}
	var prompt string
	gen := llm.Func(func(_ context.Context, req llm.Request) (string, error) {
		prompt = req.Prompt
		if req.MaxTokens != DefaultMaxTokens {
			t.Errorf("expected %d max tokens, got %d", DefaultMaxTokens, req.MaxTokens)
		}
		return "  Погода\n", nil
	})

	c := New(gen, store, Config{}, nil)
	cat, err := c.Classify(context.Background(), "В Алматы снег")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cat.Name != "погода" {
		t.Errorf("expected normalized name, got %q", cat.Name)
	}
	if !strings.Contains(prompt, "список пуст") {
		t.Errorf("empty category list must be announced in prompt")
	}
}

func TestClassify_ReusesExisting(t *testing.T) {
	store := &memCategories{cats: []*storage.Category{{ID: 1, Name: "спорт"}, {ID: 2, Name: "погода"}}}
	var prompt string
	gen := llm.Func(func(_ context.Context, req llm.Request) (string, error) {
		prompt = req.Prompt
		return "**Погода**", nil
	})

	cat, err := New(gen, store, Config{}, nil).Classify(context.Background(), "снег")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cat.ID != 2 {
		t.Errorf("expected existing category 2, got %d", cat.ID)
	}
	if !strings.Contains(prompt, "спорт\nпогода") {
		t.Errorf("prompt must list existing categories, got %q", prompt)
	}
}

func TestClassify_EmptyAnswer(t *testing.T) {
	_, err := New(answer(" \"\" "), &memCategories{}, Config{}, nil).Classify(context.Background(), "x")
	if !errors.Is(err, ErrNoCategory) {
		t.Errorf("expected ErrNoCategory, got %v", err)
	}
}

func TestClassify_StoreError(t *testing.T) {
	store := &memCategories{err: errors.New("db down")}
	if _, err := New(answer("спорт"), store, Config{}, nil).Classify(context.Background(), "x"); err == nil {
		t.Errorf("expected error")
	}
}

func TestClassify_ConcurrentSameName(t *testing.T) {
	store := &memCategories{}
	c := New(answer("Экономика"), store, Config{}, nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Classify(context.Background(), "курс тенге"); err != nil {
				t.Errorf("Classify: %v", err)
			}
		}()
	}
	wg.Wait()

	cats, _ := store.ListCategories(context.Background())
	if len(cats) != 1 {
		t.Errorf("expected one category, got %d", len(cats))
	}
}

func TestClassify_TruncatesContent(t *testing.T) {
	var prompt string
	gen := llm.Func(func(_ context.Context, req llm.Request) (string, error) {
		prompt = req.Prompt
		return "спорт", nil
	})
	long := strings.Repeat("ж", 50)
	if _, err := New(gen, &memCategories{}, Config{MaxRunes: 10}, nil).Classify(context.Background(), long); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if strings.Contains(prompt, strings.Repeat("ж", 11)) {
		t.Errorf("content was not truncated")
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"Спорт":                    "спорт",
		"  «Финансы».":             "финансы",
		"**Развлечения**":          "развлечения",
		"`Политика` — потому что…": "политика",
		"\"Погода\"\n":             "погода",
		"...":                      "",
		"":                         "",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	s := "привет мир"
	if got := truncateRunes(s, 6); got != "привет" {
		t.Errorf("got %q", got)
	}
	if got := truncateRunes(s, 100); got != s {
		t.Errorf("short strings must be kept")
	}
	if !utf8.ValidString(truncateRunes(s, 3)) {
		t.Errorf("truncation must respect rune boundaries")
	}
}
