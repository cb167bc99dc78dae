// Package enrich derives a description and screenshot for a company from its
// website. Every step is best-effort: failures degrade to a fallback and are
// logged, never returned.
package enrich

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

// Where a description came from
const (
	SourceNone    = ""
	SourceSummary = "summary"
	SourceCache   = "cache"
	SourceMeta    = "meta"
	SourceTitle   = "title"
)

// Request is one company to enrich. ID names the screenshot file.
type Request struct {
	ID   string
	Name string
	URL  string // normalized, may be empty
	Tone string
}

// Result is everything enrichment managed to find
type Result struct {
	Description       string `json:"description" yaml:"description"`
	DescriptionSource string `json:"descriptionSource,omitempty" yaml:"descriptionSource,omitempty"`
	Title             string `json:"title,omitempty" yaml:"title,omitempty"`
	ImageURL          string `json:"imageUrl,omitempty" yaml:"imageUrl,omitempty"`
	ScreenshotPath    string `json:"screenshotPath,omitempty" yaml:"screenshotPath,omitempty"` // web path for templates
	ScreenshotFile    string `json:"-" yaml:"-"`                                               // file on disk, for cleanup
	Fetched           bool   `json:"fetched" yaml:"fetched"`
	Summarized        bool   `json:"summarized" yaml:"summarized"`
	BlockedBy         string `json:"blockedBy,omitempty" yaml:"blockedBy,omitempty"`
}

// PageFetcher downloads a page's HTML
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Config wires an Enricher. Nil collaborators switch their step off.
type Config struct {
	Fetcher    PageFetcher
	Summarizer Summarizer
	Cache      *Cache
	Shooter    Shooter

	ScreenshotsDir     string // on-disk directory for PNGs
	ScreenshotsWebPath string // URL prefix the landing page uses, e.g. /assets/screenshots/

	FetchTimeout      time.Duration
	SummaryTimeout    time.Duration
	ScreenshotTimeout time.Duration
}

// Enricher runs fetch, extract, summarize and screenshot in order
type Enricher struct {
	cfg Config
}

// New creates an Enricher
func New(cfg Config) *Enricher {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 20 * time.Second
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = 3 * time.Minute
	}
	if cfg.ScreenshotTimeout <= 0 {
		cfg.ScreenshotTimeout = 45 * time.Second
	}
	return &Enricher{cfg: cfg}
}

// Enrich never fails. A missing URL yields an empty Result, and a page that
// could not be fetched gets neither a summary nor a screenshot. A block page
// keeps its meta description and title but skips both.
func (e *Enricher) Enrich(ctx context.Context, req Request) Result {
	var res Result
	if req.URL == "" {
		return res
	}

	page, ok := e.fetch(ctx, req)
	if ok {
		res.Fetched = true
		res.Title = page.Title
		res.ImageURL = page.ImageURL
		if sig := BlockedBy(page.Title + "\n" + page.Text); sig != "" {
			log.Printf("[INFO] enrich: %s served a block page (%q)", req.URL, sig)
			res.BlockedBy = sig
		}
	}

	res.Description, res.DescriptionSource = e.describe(ctx, req, page, res.BlockedBy == "")
	res.Summarized = res.DescriptionSource == SourceSummary || res.DescriptionSource == SourceCache

	// an unreachable or walled site isn't worth a browser launch
	if res.Fetched && res.BlockedBy == "" {
		e.screenshot(ctx, req, &res)
	}
	return res
}

// fetch returns the extracted page, or false if nothing usable came back
func (e *Enricher) fetch(ctx context.Context, req Request) (Page, bool) {
	if e.cfg.Fetcher == nil {
		return Page{}, false
	}
	fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	raw, err := e.cfg.Fetcher.Fetch(fctx, req.URL)
	if err != nil {
		log.Printf("[INFO] enrich: fetch failed for %s: %v", req.URL, err)
		return Page{}, false
	}
	return Extract(raw), true
}

// describe runs the summary service and falls back to the page's own
// metadata. A block page's text never reaches the summary service.
func (e *Enricher) describe(ctx context.Context, req Request, page Page, summarize bool) (string, string) {
	if summarize && e.cfg.Summarizer != nil && !page.Empty() {
		if summary, source := e.summarize(ctx, req, page); summary != "" {
			return summary, source
		}
	}
	if page.Description != "" {
		return page.Description, SourceMeta
	}
	if page.Title != "" {
		return page.Title, SourceTitle
	}
	return "", SourceNone
}

func (e *Enricher) summarize(ctx context.Context, req Request, page Page) (string, string) {
	in := SummaryInput{Name: req.Name, Website: req.URL, Tone: req.Tone, Page: page}
	key := CacheKey(e.cfg.Summarizer.Model(), in)

	if e.cfg.Cache != nil {
		summary, hit, err := e.cfg.Cache.Get(key)
		if err != nil {
			log.Printf("[WARN] enrich: %v", err)
		} else if hit {
			log.Printf("[DEBUG] enrich: summary cache hit for %s", req.ID)
			return summary, SourceCache
		}
	}

	sctx, cancel := context.WithTimeout(ctx, e.cfg.SummaryTimeout)
	defer cancel()
	summary, err := e.cfg.Summarizer.Summarize(sctx, in)
	if err != nil {
		log.Printf("[INFO] enrich: summary unavailable for %s, falling back: %v", req.ID, err)
		return "", SourceNone
	}
	if summary == "" {
		return "", SourceNone
	}

	if e.cfg.Cache != nil {
		if err := e.cfg.Cache.Put(key, e.cfg.Summarizer.Model(), summary); err != nil {
			log.Printf("[WARN] enrich: %v", err)
		}
	}
	return summary, SourceSummary
}

// screenshot captures the page and writes it only once it has passed the
// block checks
func (e *Enricher) screenshot(ctx context.Context, req Request, res *Result) {
	if e.cfg.Shooter == nil || e.cfg.ScreenshotsDir == "" || req.ID == "" {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, e.cfg.ScreenshotTimeout)
	defer cancel()

	capture, err := e.cfg.Shooter.Shoot(sctx, req.URL)
	if err != nil {
		log.Printf("[INFO] enrich: screenshot skipped for %s: %v", req.URL, err)
		return
	}
	if blockedStatus(capture.Status) {
		log.Printf("[INFO] enrich: screenshot skipped for %s: HTTP %d", req.URL, capture.Status)
		res.BlockedBy = fmt.Sprintf("HTTP %d", capture.Status)
		return
	}
	if sig := BlockedBy(capture.HTML); sig != "" {
		log.Printf("[INFO] enrich: screenshot skipped for %s: block page (%q)", req.URL, sig)
		res.BlockedBy = sig
		return
	}
	if len(capture.PNG) == 0 {
		return
	}

	file := filepath.Join(e.cfg.ScreenshotsDir, req.ID+".png")
	if err := writeFileAtomic(file, capture.PNG); err != nil {
		log.Printf("[WARN] enrich: failed to save screenshot: %v", err)
		return
	}
	res.ScreenshotFile = file
	res.ScreenshotPath = path.Join(e.webPath(), req.ID+".png")
	log.Printf("[DEBUG] enrich: saved screenshot %s (%s)", file, humanize.Bytes(uint64(len(capture.PNG))))
}

func (e *Enricher) webPath() string {
	if e.cfg.ScreenshotsWebPath == "" {
		return "/assets/screenshots/"
	}
	return e.cfg.ScreenshotsWebPath
}

// writeFileAtomic writes data next to path and renames it into place
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".shot-*.png")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync screenshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close screenshot: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("failed to set screenshot permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to save screenshot: %w", err)
	}
	return nil
}
