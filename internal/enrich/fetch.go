package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gurisko/demosite/internal/limits"
)

// DefaultUserAgent identifies the fetcher to the sites it visits
const DefaultUserAgent = "Mozilla/5.0 (compatible; demosite/1.0; +https://github.com/gurisko/demosite)"

// StatusError is a non-2xx response from the company website
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.Code)
}

// Fetcher downloads company pages with a bounded timeout and body size
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
}

// NewFetcher creates a Fetcher whose requests give up after timeout
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  DefaultUserAgent,
	}
}

// Fetch returns at most limits.HTML bytes of the page at url
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-GB,en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, limits.ErrorBody))
		return "", &StatusError{URL: url, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limits.HTML))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", url, err)
	}
	return string(body), nil
}
