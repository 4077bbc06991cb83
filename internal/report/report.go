// Package report summarises pipeline outcomes as text, JSON or HTML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/FranksOps/trendpress/internal/journal"
)

// CreatedPost is one post produced by a run.
type CreatedPost struct {
	ID    int64  `json:"id"`
	Query string `json:"query"`
	Title string `json:"title"`
	Image string `json:"image"`
}

// Summary aggregates the outcomes of one or more runs.
type Summary struct {
	Runs             int            `json:"runs"`
	Queries          int            `json:"queries"`
	Created          int            `json:"created"`
	Abandoned        int            `json:"abandoned"`
	AbandonedByStage map[string]int `json:"abandonedByStage"`
	Posts            []CreatedPost  `json:"posts"`
	StartTime        time.Time      `json:"startTime"`
	EndTime          time.Time      `json:"endTime"`
	Duration         time.Duration  `json:"duration"`
	SlowestQuery     string         `json:"slowestQuery,omitempty"`
	SlowestDuration  time.Duration  `json:"slowestDuration,omitempty"`
}

// GenerateSummary folds outcomes into a Summary.
func GenerateSummary(outcomes []journal.Outcome) Summary {
	s := Summary{
		AbandonedByStage: make(map[string]int),
		Posts:            []CreatedPost{},
	}
	if len(outcomes) == 0 {
		return s
	}

	runs := make(map[string]struct{})
	s.StartTime = outcomes[0].StartedAt
	s.EndTime = outcomes[0].StartedAt.Add(outcomes[0].Duration)

	for _, o := range outcomes {
		s.Queries++
		runs[o.RunID] = struct{}{}

		switch o.Status {
		case journal.StatusCreated:
			s.Created++
			s.Posts = append(s.Posts, CreatedPost{ID: o.PostID, Query: o.Query, Title: o.Title, Image: o.Image})
		default:
			s.Abandoned++
			s.AbandonedByStage[o.Stage]++
		}

		if o.Duration > s.SlowestDuration {
			s.SlowestDuration = o.Duration
			s.SlowestQuery = o.Query
		}

		end := o.StartedAt.Add(o.Duration)
		if o.StartedAt.Before(s.StartTime) {
			s.StartTime = o.StartedAt
		}
		if end.After(s.EndTime) {
			s.EndTime = end
		}
	}

	s.Runs = len(runs)
	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

// WriteJSON writes the summary as indented JSON.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}

const textTmpl = `trendpress run summary
----------------------
Time:       {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:   {{.Duration}}
Runs:       {{.Runs}}
Queries:    {{.Queries}}
Created:    {{.Created}}
Abandoned:  {{.Abandoned}}
{{- if .SlowestQuery}}
Slowest:    {{.SlowestQuery}} ({{.SlowestDuration}})
{{- end}}

Abandoned by stage:
{{- range $stage, $count := .AbandonedByStage}}
  {{$stage}}: {{$count}}
{{- else}}
  None
{{- end}}

Posts:
{{- range .Posts}}
  #{{.ID}} {{.Title}} [{{.Image}}]
{{- else}}
  None
{{- end}}
`

// WriteText writes a human-readable summary.
func WriteText(w io.Writer, summary Summary) error {
	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("parse text template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("render text report: %w", err)
	}
	return nil
}

const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>trendpress run report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>trendpress run report</h1>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>

  <div class="stat-card">
    <div>Queries</div>
    <div class="stat-val">{{.Queries}}</div>
  </div>
  <div class="stat-card">
    <div>Created</div>
    <div class="stat-val" style="color: green;">{{.Created}}</div>
  </div>
  <div class="stat-card">
    <div>Abandoned</div>
    <div class="stat-val" style="color: {{if gt .Abandoned 0}}red{{else}}green{{end}};">{{.Abandoned}}</div>
  </div>

  <h3>Abandoned By Stage</h3>
  <table>
    <tr><th>Stage</th><th>Count</th></tr>
    {{- range $stage, $count := .AbandonedByStage}}
    <tr><td>{{$stage}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Posts</h3>
  <table>
    <tr><th>ID</th><th>Query</th><th>Title</th><th>Image</th></tr>
    {{- range .Posts}}
    <tr><td>{{.ID}}</td><td>{{.Query}}</td><td>{{.Title}}</td><td>{{.Image}}</td></tr>
    {{- else}}
    <tr><td colspan="4">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`

// WriteHTML writes a standalone HTML report.
func WriteHTML(w io.Writer, summary Summary) error {
	t, err := template.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("parse html template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	return nil
}

// Write renders the summary in the named format: text, json or html.
func Write(w io.Writer, format string, summary Summary) error {
	switch format {
	case "", "text":
		return WriteText(w, summary)
	case "json":
		return WriteJSON(w, summary)
	case "html":
		return WriteHTML(w, summary)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}
