package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/trendpress/internal/config"
	"github.com/FranksOps/trendpress/internal/journal"
	"github.com/FranksOps/trendpress/internal/llm"
	"github.com/FranksOps/trendpress/internal/storage/sqlite"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestReportCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.ndjson")
	j, err := journal.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	_ = j.Append(ctx, journal.Outcome{RunID: "r1", Query: "погода", Status: journal.StatusCreated, PostID: 1, Title: "Погода", StartedAt: time.Now()})
	_ = j.Append(ctx, journal.Outcome{RunID: "r2", Query: "курс", Status: journal.StatusAbandoned, Stage: "image", StartedAt: time.Now()})
	j.Close()

	out, err := execute(t, "report", "--journal", path, "--format", "json")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(out, `"queries": 2`) || !strings.Contains(out, `"image": 1`) {
		t.Errorf("unexpected report:\n%s", out)
	}

	out, err = execute(t, "report", "--journal", path, "--run", "r1")
	if err != nil {
		t.Fatalf("report text: %v", err)
	}
	if !strings.Contains(out, "Queries:    1") {
		t.Errorf("unexpected text report:\n%s", out)
	}
}

func TestReportCommand_RequiresJournal(t *testing.T) {
	if _, err := execute(t, "report"); err == nil {
		t.Fatal("expected error without --journal")
	}
}

func TestClearQueriesCommand(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "trendpress.db")
	t.Setenv("TRENDPRESS_DATABASE_DSN", dsn)
	t.Setenv("TRENDPRESS_IMAGES_DIR", t.TempDir())

	store, err := sqlite.New(dsn)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	ctx := context.Background()
	if _, err := store.MarkSeen(ctx, "погода"); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	store.Close()

	out, err := execute(t, "clear-queries")
	if err != nil {
		t.Fatalf("clear-queries: %v", err)
	}
	if !strings.Contains(out, "cleared") {
		t.Errorf("unexpected output %q", out)
	}

	store, err = sqlite.New(dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	isNew, err := store.MarkSeen(ctx, "погода")
	if err != nil || !isNew {
		t.Errorf("expected query to be forgotten, isNew=%v err=%v", isNew, err)
	}
}

func TestRunCommand_RequiresLLMKey(t *testing.T) {
	t.Setenv("TRENDPRESS_DATABASE_DSN", "file:"+filepath.Join(t.TempDir(), "trendpress.db"))
	t.Setenv("TRENDPRESS_LLM_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := execute(t, "run")
	if err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestNewGenerator_RegistersClose(t *testing.T) {
	ctx := context.Background()
	for _, tt := range []struct {
		provider string
		closers  int
	}{
		{provider: llm.ProviderOpenAI, closers: 0},
		{provider: llm.ProviderGemini, closers: 1},
	} {
		cfg := &config.Config{}
		cfg.LLM.Provider = tt.provider
		cfg.LLM.APIKey = "test-key"
		a := &app{cfg: cfg, log: slog.Default()}

		if _, err := a.newGenerator(ctx); err != nil {
			t.Fatalf("%s: newGenerator: %v", tt.provider, err)
		}
		if len(a.closers) != tt.closers {
			t.Errorf("%s: %d closers registered, want %d", tt.provider, len(a.closers), tt.closers)
		}
		if err := a.Close(); err != nil {
			t.Errorf("%s: Close: %v", tt.provider, err)
		}
	}
}
