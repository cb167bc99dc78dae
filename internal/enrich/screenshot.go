package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/gurisko/demosite/internal/limits"
)

// Capture is what a headless browser saw at a URL
type Capture struct {
	Status int    // HTTP status of the main document, 0 if unknown
	HTML   string // rendered DOM
	PNG    []byte
}

// Shooter renders a page and captures it
type Shooter interface {
	Shoot(ctx context.Context, url string) (*Capture, error)
}

// ChromeOptions configures a ChromeShooter
type ChromeOptions struct {
	ExecPath  string // empty finds Chrome on PATH
	UserAgent string
	Width     int
	Height    int
	Settle    time.Duration // wait after load before capturing
}

// ChromeShooter captures full-page screenshots with headless Chrome
type ChromeShooter struct {
	opts ChromeOptions
}

// NewChromeShooter creates a ChromeShooter
func NewChromeShooter(opts ChromeOptions) *ChromeShooter {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1280, 720
	}
	if opts.Settle <= 0 {
		opts.Settle = 1500 * time.Millisecond
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	return &ChromeShooter{opts: opts}
}

// Shoot launches a fresh browser, loads url and captures the rendered page.
// The caller's context bounds the whole capture.
func (s *ChromeShooter) Shoot(ctx context.Context, url string) (*Capture, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(s.opts.Width, s.opts.Height),
		chromedp.UserAgent(s.opts.UserAgent),
	)
	if s.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(s.opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	if err := chromedp.Run(browserCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "en-GB,en;q=0.9"}),
	); err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	resp, err := chromedp.RunResponse(browserCtx, chromedp.Navigate(url))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", url, err)
	}

	capture := &Capture{}
	if resp != nil {
		capture.Status = int(resp.Status)
	}
	if blockedStatus(capture.Status) {
		// no point rendering a refusal
		return capture, nil
	}

	if err := chromedp.Run(browserCtx,
		chromedp.Sleep(s.opts.Settle),
		chromedp.OuterHTML("html", &capture.HTML, chromedp.ByQuery),
		chromedp.FullScreenshot(&capture.PNG, 100),
	); err != nil {
		return nil, fmt.Errorf("failed to capture %s: %w", url, err)
	}
	if len(capture.PNG) == 0 {
		return nil, errors.New("browser returned an empty screenshot")
	}
	if len(capture.PNG) > limits.Screenshot {
		return nil, fmt.Errorf("screenshot of %s is too large (%d bytes)", url, len(capture.PNG))
	}
	return capture, nil
}
