package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/trendpress/internal/fingerprint"
)

const newsRobots = `
User-agent: *
Disallow: /search
Disallow: /amp/
Allow: /amp/news/

User-agent: GPTBot
Disallow: /
`

func robotsServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newAuditor(t *testing.T) *RobotsTxtAuditor {
	t.Helper()
	f, err := NewFetcher(FetchConfig{Timeout: 5 * time.Second, Fingerprint: fingerprint.ProfileGo})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	return NewRobotsTxtAuditor(f, nil)
}

func TestRobotsTxtAuditor_IsAllowed(t *testing.T) {
	srv, hits := robotsServer(t, http.StatusOK, newsRobots)
	a := newAuditor(t)
	ctx := context.Background()

	tests := []struct {
		path  string
		agent string
		want  bool
	}{
		{"/news/2024/snow-almaty", "*", true},
		{"/search?q=погода", "*", false},
		{"/amp/sport/1", "*", false},
		{"/amp/news/1", "*", true},
		{"/news/2024/snow-almaty", "GPTBot", false},
		{"", "*", true},
	}
	for _, tt := range tests {
		got, err := a.IsAllowed(ctx, srv.URL+tt.path, tt.agent)
		if err != nil {
			t.Fatalf("IsAllowed(%q): %v", tt.path, err)
		}
		if got != tt.want {
			t.Errorf("IsAllowed(%q, %s) = %v, want %v", tt.path, tt.agent, got, tt.want)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("robots.txt fetched %d times, want 1 per origin", hits.Load())
	}
}

func TestRobotsTxtAuditor_MissingOrUnreachable(t *testing.T) {
	ctx := context.Background()

	srv, _ := robotsServer(t, http.StatusNotFound, "")
	if ok, err := newAuditor(t).IsAllowed(ctx, srv.URL+"/news/1", "*"); err != nil || !ok {
		t.Errorf("404 robots.txt: allowed=%v err=%v", ok, err)
	}

	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()
	if ok, err := newAuditor(t).IsAllowed(ctx, url+"/news/1", "*"); err != nil || !ok {
		t.Errorf("unreachable host: allowed=%v err=%v", ok, err)
	}
}

func TestRobotsTxtAuditor_RelativeURL(t *testing.T) {
	if _, err := newAuditor(t).IsAllowed(context.Background(), "/news/1", "*"); err == nil {
		t.Error("expected error for relative url")
	}
}
