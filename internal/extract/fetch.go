package extract

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	defaultFetchTimeout = 15 * time.Second
	defaultMaxFetchSize = 2 << 20 // 2 MiB of job posting is plenty
)

// Fetcher pulls job postings from URLs and reduces them to plain text.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher creates a Fetcher with sane timeouts and size limits.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: defaultFetchTimeout},
		maxBytes: defaultMaxFetchSize,
	}
}

// JobPosting fetches rawURL and returns its visible text. HTML pages are
// stripped to text content; plain-text responses pass through normalized.
func (f *Fetcher) JobPosting(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("invalid job posting url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "text/html, text/plain")
	req.Header.Set("User-Agent", "resummate/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching job posting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching job posting: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return "", fmt.Errorf("reading job posting: %w", err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	var text string
	switch {
	case mediaType == "text/plain":
		text = normalize(string(body))
	default:
		text, err = htmlText(body)
		if err != nil {
			return "", err
		}
	}
	if text == "" {
		return "", fmt.Errorf("%w: page has no visible text", ErrExtractionFailed)
	}
	return text, nil
}

// blockTags are elements whose end should break the line in extracted text.
var blockTags = map[string]bool{
	"p": true, "br": true, "div": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// skipTags are elements whose subtree carries no posting content.
var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"nav": true, "header": true, "footer": true,
}

func htmlText(body []byte) (string, error) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("%w: parsing html: %v", ErrExtractionFailed, err)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		case html.ElementNode:
			if skipTags[n.Data] {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			sb.WriteByte('\n')
		}
	}
	walk(doc)
	return normalize(sb.String()), nil
}
