package cmd

import (
	"log"
	"path/filepath"
	"strings"

	"github.com/gurisko/demosite/internal/enrich"
	"github.com/gurisko/demosite/internal/folder"
	"github.com/gurisko/demosite/internal/paths"
	"github.com/gurisko/demosite/internal/pipeline"
)

// screenshotsWebPath is the URL prefix matching the configured screenshots directory
func screenshotsWebPath(layout paths.Layout) string {
	rel, err := filepath.Rel(layout.Root, layout.ScreenshotsDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return paths.ScreenshotsWebPath
	}
	return "/" + filepath.ToSlash(rel) + "/"
}

// newEnricher wires the enrichment steps the configuration enables. The
// returned func releases the summary cache.
func (a *app) newEnricher() (*enrich.Enricher, func()) {
	cfg := a.cfg
	ecfg := enrich.Config{
		Fetcher:            enrich.NewFetcher(cfg.Fetch.Timeout),
		ScreenshotsDir:     a.layout.ScreenshotsDir,
		ScreenshotsWebPath: screenshotsWebPath(a.layout),
		FetchTimeout:       cfg.Fetch.Timeout,
		SummaryTimeout:     cfg.Summary.Timeout,
		ScreenshotTimeout:  cfg.Screenshot.Timeout,
	}
	cleanup := func() {}

	if cfg.SummaryEnabled() {
		ecfg.Summarizer = enrich.NewOpenAIClient(enrich.OpenAIConfig{
			BaseURL:     cfg.Summary.BaseURL,
			APIKey:      cfg.Summary.APIKey,
			Model:       cfg.Summary.Model,
			Timeout:     cfg.Summary.Timeout,
			MaxAttempts: cfg.Summary.MaxAttempts,
		})
		if cfg.Summary.Cache {
			cache, err := enrich.OpenCache(cfg.Summary.CachePath)
			if err != nil {
				log.Printf("[WARN] summary cache disabled: %v", err)
			} else {
				ecfg.Cache = cache
				cleanup = func() {
					if err := cache.Close(); err != nil {
						log.Printf("[WARN] closing summary cache: %v", err)
					}
				}
			}
		}
	} else {
		log.Printf("[DEBUG] no summary API key; descriptions fall back to page metadata")
	}

	if cfg.Screenshot.Enabled {
		ecfg.Shooter = enrich.NewChromeShooter(enrich.ChromeOptions{
			ExecPath: cfg.Screenshot.ChromePath,
			Width:    cfg.Screenshot.Width,
			Height:   cfg.Screenshot.Height,
		})
	}
	return enrich.New(ecfg), cleanup
}

func (a *app) newPipeline(keepFolders bool) (*pipeline.Pipeline, func()) {
	enricher, cleanup := a.newEnricher()
	p := pipeline.New(pipeline.Config{
		Root:           a.layout.Root,
		ScreenshotsDir: a.layout.ScreenshotsDir,
		Store:          a.store,
		Builder:        folder.NewBuilder(a.layout.Root, a.layout.TemplateDir, a.cfg.Site.LogoBucket),
		Enricher:       enricher,
		KeepFolders:    keepFolders,
	})
	return p, cleanup
}
