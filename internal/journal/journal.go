// Package journal appends per-query pipeline outcomes to an NDJSON file and
// reads them back for reporting.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Outcome statuses.
const (
	StatusCreated   = "created"
	StatusAbandoned = "abandoned"
)

// Outcome is the result of processing one query in one run.
type Outcome struct {
	RunID     string        `json:"runId"`
	Query     string        `json:"query"`
	Status    string        `json:"status"`
	Stage     string        `json:"stage,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	PostID    int64         `json:"postId,omitempty"`
	Title     string        `json:"title,omitempty"`
	Image     string        `json:"image,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// Filter narrows Read results. Zero values match everything.
type Filter struct {
	RunID  string
	Status string
	Since  *time.Time
	Limit  int
}

// Writer receives outcomes as the pipeline produces them.
type Writer interface {
	Append(ctx context.Context, o Outcome) error
}

// Journal is an append-only NDJSON outcome log safe for concurrent use.
type Journal struct {
	mu   sync.Mutex
	file *os.File
}

var _ Writer = (*Journal)(nil)

// Open opens (creating if needed) the journal at path.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{file: f}, nil
}

func (j *Journal) Append(ctx context.Context, o Outcome) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append outcome: %w", err)
	}
	return nil
}

// Read returns matching outcomes in the order they were written.
func (j *Journal) Read(ctx context.Context, filter Filter) ([]Outcome, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind journal: %w", err)
	}
	defer func() {
		_, _ = j.file.Seek(0, io.SeekEnd)
	}()

	return decode(ctx, j.file, filter)
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// ReadFile reads a journal without opening it for writing.
func ReadFile(ctx context.Context, path string, filter Filter) ([]Outcome, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()
	return decode(ctx, f, filter)
}

func decode(ctx context.Context, r io.Reader, filter Filter) ([]Outcome, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	out := []Outcome{}
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var o Outcome
		if err := json.Unmarshal(line, &o); err != nil {
			return nil, fmt.Errorf("decode outcome: %w", err)
		}

		if filter.RunID != "" && o.RunID != filter.RunID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.Since != nil && o.StartedAt.Before(*filter.Since) {
			continue
		}
		out = append(out, o)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}

	// Limit keeps the most recent entries.
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}
