// Package rewrite turns aggregated source text into an original Russian
// markdown article about a trend query.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/FranksOps/trendpress/internal/llm"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("rewrite: empty response")

// DateLayout is the dd.mm.yyyy date prefixed to titles.
const DateLayout = "02.01.2006"

var firstHeading = regexp.MustCompile(`(?m)^# (.+)$`)

// Article is a rewritten post body with its display title.
type Article struct {
	Title   string
	Content string
}

// Config tunes the completion request.
type Config struct {
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	MaxTokens        int
	// Location is used for the title date; defaults to time.Local.
	Location *time.Location
}

// DefaultConfig returns the sampling settings articles are written with.
func DefaultConfig() Config {
	return Config{
		Temperature:      1,
		TopP:             1,
		FrequencyPenalty: 1,
		PresencePenalty:  1,
		MaxTokens:        16384,
	}
}

// Engine rewrites source text through a Generator.
type Engine struct {
	gen    llm.Generator
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// New returns an Engine. A zero MaxTokens in cfg falls back to DefaultConfig.
func New(gen llm.Generator, cfg Config, logger *slog.Logger) *Engine {
	if cfg.MaxTokens <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{gen: gen, cfg: cfg, now: time.Now, logger: logger}
}

// Rewrite asks the model for an article about query based on source.
func (e *Engine) Rewrite(ctx context.Context, query, source string) (*Article, error) {
	out, err := e.gen.Generate(ctx, llm.Request{
		Prompt:           Prompt(query, source),
		Temperature:      e.cfg.Temperature,
		TopP:             e.cfg.TopP,
		FrequencyPenalty: e.cfg.FrequencyPenalty,
		PresencePenalty:  e.cfg.PresencePenalty,
		MaxTokens:        e.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("rewrite %q: %w", query, err)
	}

	content := strings.TrimSpace(out)
	if content == "" {
		return nil, fmt.Errorf("rewrite %q: %w", query, ErrEmptyResponse)
	}

	title := Title(e.now().In(e.cfg.Location), query, content)
	e.logger.Info("article rewritten", "query", query, "title", title, "chars", len(content))
	return &Article{Title: title, Content: content}, nil
}

// Title builds "<dd.mm.yyyy> - <heading>", using query when content has no
// level-1 heading.
func Title(now time.Time, query, content string) string {
	heading := FirstHeading(content)
	if heading == "" {
		heading = query
	}
	return now.Format(DateLayout) + " - " + heading
}

// FirstHeading returns the text of the first "# " line, or "".
func FirstHeading(content string) string {
	m := firstHeading.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// Prompt renders the instruction sent to the model.
func Prompt(query, source string) string {
	var b strings.Builder
	b.WriteString("Формат ответа: Markdown с аккуратным оформлением.\n")
	b.WriteString("Язык ответа: только русский.\n")
	b.WriteString("Объём: около 15000 токенов.\n\n")
	fmt.Fprintf(&b, "Выбери из исходного текста только сведения, относящиеся к запросу \"%s\", ", query)
	b.WriteString("и перескажи их своими словами, убрав всё лишнее. Уникальность текста должна составлять 90-100%.\n")
	b.WriteString("Ответ всегда начинай с заголовка первого уровня, например: # Погода в Алматы\n\n")
	b.WriteString("Требования к тексту:\n")
	b.WriteString("- полезность: текст отвечает на вопросы читателя;\n")
	b.WriteString("- уникальность: никаких дословных заимствований;\n")
	b.WriteString("- грамотность: без орфографических, пунктуационных и стилистических ошибок;\n")
	b.WriteString("- читаемость: короткие абзацы, списки, подзаголовки.\n\n")
	b.WriteString("Исходный текст:\n")
	b.WriteString(source)
	return b.String()
}
