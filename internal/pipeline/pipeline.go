// Package pipeline turns one issue into one registry mutation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/gurisko/demosite/internal/enrich"
	"github.com/gurisko/demosite/internal/folder"
	"github.com/gurisko/demosite/internal/intent"
	"github.com/gurisko/demosite/internal/registry"
)

// Enricher is the best-effort enrichment step
type Enricher interface {
	Enrich(ctx context.Context, req enrich.Request) enrich.Result
}

// Config wires a Pipeline
type Config struct {
	Root           string // site root holding one folder per company
	ScreenshotsDir string
	Store          *registry.Store
	Builder        *folder.Builder
	Enricher       Enricher // nil skips enrichment
	KeepFolders    bool     // leave folders and screenshots behind on delete
}

// Pipeline orchestrates parse, enrich, build and persist
type Pipeline struct {
	cfg Config
}

// New creates a Pipeline
func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Run parses issue against the current registry and applies the intent.
// It always returns a Result; failures are described in it.
func (p *Pipeline) Run(ctx context.Context, issue intent.Issue) *Result {
	res := newResult()
	res.Issue = issue.Number

	reg, err := p.cfg.Store.Load()
	if err != nil {
		return res.fail(err)
	}
	in, err := intent.Parse(issue, reg)
	if err != nil {
		return res.fail(err)
	}
	return p.apply(ctx, in, reg, res)
}

// Apply runs an already parsed intent
func (p *Pipeline) Apply(ctx context.Context, in intent.Intent) *Result {
	res := newResult()
	reg, err := p.cfg.Store.Load()
	if err != nil {
		res.Action = in.Action()
		return res.fail(err)
	}
	return p.apply(ctx, in, reg, res)
}

func (p *Pipeline) apply(ctx context.Context, in intent.Intent, reg *registry.Registry, res *Result) *Result {
	res.Action = in.Action()
	log.Printf("[INFO] pipeline %s: %s %q", res.RunID, in.Action(), in.CompanyName())

	var site *registry.Site
	var err error
	switch in := in.(type) {
	case intent.CreateCompany:
		site, err = p.create(ctx, in, reg, res)
	case intent.ArchiveCompany:
		site, err = p.cfg.Store.SetArchived(ctx, in.ID, true)
	case intent.RestoreCompany:
		site, err = p.cfg.Store.SetArchived(ctx, in.ID, false)
	case intent.DeleteCompany:
		site, err = p.delete(ctx, in, res)
	default:
		err = fmt.Errorf("unsupported intent %T", in)
	}
	if err != nil {
		return res.fail(err)
	}

	res.Site = site
	res.touch(p.cfg.Store.Path())
	return res.succeed()
}

// create runs DeriveID, Build, Enrich, Finalize and Insert. The folder and any
// screenshot are removed again unless the registry entry lands.
func (p *Pipeline) create(ctx context.Context, c intent.CreateCompany, reg *registry.Registry, res *Result) (_ *registry.Site, err error) {
	taken, err := folder.Taken(p.cfg.Root, reg)
	if err != nil {
		return nil, err
	}
	id := folder.DeriveID(c.Name, taken)
	logoURL := p.cfg.Store.LogoURL(id)
	tag := p.cfg.Store.DefaultTag()

	f, err := p.cfg.Builder.Build(ctx, id, reg, folder.Fields{
		Name:    c.Name,
		Website: c.URL,
		Tone:    c.Tone,
		Tag:     tag,
		LogoURL: logoURL,
	})
	if err != nil {
		return nil, err
	}

	var er enrich.Result
	defer func() {
		if err == nil {
			return
		}
		f.Discard()
		if er.ScreenshotFile != "" {
			if rmErr := os.Remove(er.ScreenshotFile); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Printf("[WARN] pipeline %s: failed to remove screenshot: %v", res.RunID, rmErr)
			}
		}
	}()

	if p.cfg.Enricher != nil && c.URL != "" {
		er = p.cfg.Enricher.Enrich(ctx, enrich.Request{ID: id, Name: c.Name, URL: c.URL, Tone: c.Tone})
		res.Enrichment = &er
	}

	// the page's own preview image stands in when no screenshot was taken
	shot := er.ScreenshotPath
	if shot == "" && er.BlockedBy == "" {
		shot = er.ImageURL
	}
	if err = f.Finalize(ctx, folder.Deferred{
		Description:    er.Description,
		ScreenshotPath: shot,
	}); err != nil {
		return nil, err
	}

	site, err := p.cfg.Store.Insert(ctx, registry.Site{
		ID:          id,
		Name:        c.Name,
		Description: er.Description,
		Tag:         tag,
		LogoURL:     logoURL,
	})
	if err != nil {
		return nil, err
	}

	res.touch(f.Dir())
	if er.ScreenshotFile != "" {
		res.touch(er.ScreenshotFile)
	}
	return site, nil
}

// delete drops the registry entry, then the folder and screenshot behind it
func (p *Pipeline) delete(ctx context.Context, d intent.DeleteCompany, res *Result) (*registry.Site, error) {
	site, err := p.cfg.Store.Remove(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if p.cfg.KeepFolders {
		return site, nil
	}

	dir := filepath.Join(p.cfg.Root, site.ID)
	if err := folder.Remove(p.cfg.Root, site.ID); err != nil {
		log.Printf("[WARN] pipeline %s: registry entry removed but folder was not: %v", res.RunID, err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("folder %s could not be removed: %v", site.ID, err))
	} else {
		res.touch(dir)
	}

	if p.cfg.ScreenshotsDir != "" {
		shot := filepath.Join(p.cfg.ScreenshotsDir, site.ID+".png")
		if err := os.Remove(shot); err == nil {
			res.touch(shot)
		} else if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[WARN] pipeline %s: failed to remove screenshot: %v", res.RunID, err)
		}
	}
	return site, nil
}

func newResult() *Result {
	return &Result{RunID: uuid.New().String()}
}
