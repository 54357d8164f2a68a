package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const jobPage = `<!DOCTYPE html>
<html>
<head><title>Careers</title><style>body { color: red }</style></head>
<body>
<nav>Home | Jobs | About</nav>
<script>trackPageView();</script>
<div>
  <h1>Senior Backend Engineer</h1>
  <p>We are looking for Go and Kubernetes experience.</p>
  <ul><li>PostgreSQL</li><li>Distributed systems</li></ul>
</div>
<footer>© Example Corp</footer>
</body>
</html>`

func TestJobPostingHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(jobPage))
	}))
	t.Cleanup(srv.Close)

	text, err := NewFetcher().JobPosting(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("JobPosting failed: %v", err)
	}

	for _, want := range []string{"Senior Backend Engineer", "Go and Kubernetes", "PostgreSQL"} {
		if !strings.Contains(text, want) {
			t.Errorf("extracted text missing %q:\n%s", want, text)
		}
	}
	for _, skip := range []string{"trackPageView", "color: red", "Home | Jobs", "Example Corp"} {
		if strings.Contains(text, skip) {
			t.Errorf("extracted text kept non-content %q:\n%s", skip, text)
		}
	}
}

func TestJobPostingPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("Backend Engineer\n\nGo required.\n"))
	}))
	t.Cleanup(srv.Close)

	text, err := NewFetcher().JobPosting(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("JobPosting failed: %v", err)
	}
	if text != "Backend Engineer\n\nGo required." {
		t.Errorf("extracted text = %q", text)
	}
}

func TestJobPostingErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	if _, err := NewFetcher().JobPosting(context.Background(), srv.URL); err == nil {
		t.Error("JobPosting on 404 succeeded")
	}
}

func TestJobPostingRejectsBadURL(t *testing.T) {
	for _, u := range []string{"ftp://example.com/job", "not a url", ""} {
		if _, err := NewFetcher().JobPosting(context.Background(), u); err == nil {
			t.Errorf("JobPosting(%q) succeeded", u)
		}
	}
}
