package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/trendpress/internal/journal"
)

func TestGenerateSummary(t *testing.T) {
	now := time.Now()

	outcomes := []journal.Outcome{
		{
			RunID:     "r1",
			Query:     "погода",
			Status:    journal.StatusCreated,
			PostID:    7,
			Title:     "19.10.2026 - Погода",
			Image:     "погода_1.webp",
			StartedAt: now,
			Duration:  2 * time.Second,
		},
		{
			RunID:     "r1",
			Query:     "курс",
			Status:    journal.StatusAbandoned,
			Stage:     "image",
			StartedAt: now.Add(time.Second),
			Duration:  4 * time.Second,
		},
		{
			RunID:     "r2",
			Query:     "футбол",
			Status:    journal.StatusAbandoned,
			Stage:     "extract",
			StartedAt: now.Add(-time.Second),
			Duration:  time.Second,
		},
	}

	summary := GenerateSummary(outcomes)

	if summary.Runs != 2 {
		t.Errorf("expected 2 runs, got %d", summary.Runs)
	}
	if summary.Queries != 3 {
		t.Errorf("expected 3 queries, got %d", summary.Queries)
	}
	if summary.Created != 1 || summary.Abandoned != 2 {
		t.Errorf("expected 1 created / 2 abandoned, got %d / %d", summary.Created, summary.Abandoned)
	}
	if summary.AbandonedByStage["image"] != 1 || summary.AbandonedByStage["extract"] != 1 {
		t.Errorf("unexpected stage counts: %v", summary.AbandonedByStage)
	}
	if len(summary.Posts) != 1 || summary.Posts[0].ID != 7 {
		t.Errorf("unexpected posts: %+v", summary.Posts)
	}
	if summary.SlowestQuery != "курс" {
		t.Errorf("expected slowest query курс, got %q", summary.SlowestQuery)
	}
	// Window runs from the earliest start to the latest finish.
	if summary.Duration != 6*time.Second {
		t.Errorf("expected 6s duration, got %v", summary.Duration)
	}
}

func TestGenerateSummary_Empty(t *testing.T) {
	s := GenerateSummary(nil)
	if s.Queries != 0 || s.Posts == nil || s.AbandonedByStage == nil {
		t.Errorf("unexpected empty summary: %+v", s)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, Summary{Queries: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), `"queries": 5`) {
		t.Errorf("expected JSON to contain queries: 5, got %s", buf.String())
	}
}

func TestWriteText(t *testing.T) {
	summary := Summary{
		Queries:   5,
		Created:   4,
		Abandoned: 1,
		AbandonedByStage: map[string]int{
			"rewrite": 1,
		},
		Posts: []CreatedPost{{ID: 3, Title: "Погода", Image: "погода_1.webp"}},
	}
	var buf bytes.Buffer
	if err := WriteText(&buf, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Queries:    5") {
		t.Errorf("expected text to contain query count, got:\n%s", out)
	}
	if !strings.Contains(out, "rewrite: 1") {
		t.Errorf("expected text to contain rewrite: 1")
	}
	if !strings.Contains(out, "#3 Погода [погода_1.webp]") {
		t.Errorf("expected text to list the post")
	}
}

func TestWriteHTML(t *testing.T) {
	summary := Summary{
		Queries:          10,
		Abandoned:        2,
		AbandonedByStage: map[string]int{"classify": 2},
	}
	var buf bytes.Buffer
	if err := WriteHTML(&buf, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "<title>trendpress run report</title>") {
		t.Errorf("expected HTML title")
	}
	if !strings.Contains(out, "classify") {
		t.Errorf("expected HTML to contain classify")
	}
}

func TestWrite_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, "xml", Summary{}); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if err := Write(&buf, "json", Summary{}); err != nil {
		t.Fatalf("json: %v", err)
	}
}
