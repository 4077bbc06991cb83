package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestJournal_AppendRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.ndjson")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond).UTC()

	outcomes := []Outcome{
		{RunID: "r1", Query: "погода", Status: StatusCreated, PostID: 1, Title: "19.10.2026 - Погода", Image: "погода_1.webp", StartedAt: now.Add(-2 * time.Hour), Duration: 3 * time.Second},
		{RunID: "r1", Query: "курс доллара", Status: StatusAbandoned, Stage: "image", Reason: "no image", StartedAt: now.Add(-2 * time.Hour)},
		{RunID: "r2", Query: "футбол", Status: StatusCreated, PostID: 2, StartedAt: now.Add(-time.Hour)},
	}
	for _, o := range outcomes {
		if err := j.Append(ctx, o); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	all, err := j.Read(ctx, Filter{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(all))
	}
	if all[0].Query != "погода" || all[0].Duration != 3*time.Second || !all[0].StartedAt.Equal(now.Add(-2*time.Hour)) {
		t.Errorf("first outcome mismatch: %+v", all[0])
	}

	run1, _ := j.Read(ctx, Filter{RunID: "r1"})
	if len(run1) != 2 {
		t.Errorf("expected 2 outcomes for r1, got %d", len(run1))
	}

	abandoned, _ := j.Read(ctx, Filter{Status: StatusAbandoned})
	if len(abandoned) != 1 || abandoned[0].Stage != "image" {
		t.Errorf("unexpected abandoned outcomes: %+v", abandoned)
	}

	since := now.Add(-90 * time.Minute)
	recent, _ := j.Read(ctx, Filter{Since: &since})
	if len(recent) != 1 || recent[0].RunID != "r2" {
		t.Errorf("unexpected since result: %+v", recent)
	}

	last, _ := j.Read(ctx, Filter{Limit: 1})
	if len(last) != 1 || last[0].Query != "футбол" {
		t.Errorf("limit should keep the newest entry, got %+v", last)
	}

	// Appending after a read still lands at the end.
	if err := j.Append(ctx, Outcome{RunID: "r3", Query: "новости", Status: StatusCreated}); err != nil {
		t.Fatalf("Append after read: %v", err)
	}
	fromFile, err := ReadFile(ctx, path, Filter{})
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(fromFile) != 4 || fromFile[3].RunID != "r3" {
		t.Errorf("unexpected file contents: %+v", fromFile)
	}
}

func TestJournal_ConcurrentAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.ndjson")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = j.Append(ctx, Outcome{RunID: "r", Query: fmt.Sprintf("q%d", i), Status: StatusCreated})
		}(i)
	}
	wg.Wait()

	all, err := j.Read(ctx, Filter{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(all) != 20 {
		t.Errorf("expected 20 outcomes, got %d", len(all))
	}
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(context.Background(), filepath.Join(t.TempDir(), "absent.ndjson"), Filter{})
	if err == nil {
		t.Fatal("expected error for missing journal")
	}
}
