// Package folder instantiates company folders from the template folder.
//
// A folder is assembled in a hidden staging directory next to its final
// location and only renamed into place once every file has been rendered, so
// a failed build never leaves a half-populated company folder behind.
package folder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gurisko/demosite/internal/failure"
	"github.com/gurisko/demosite/internal/registry"
)

// Fields are the identifying values known before enrichment
type Fields struct {
	Name    string
	Website string
	Tone    string
	Tag     string
	LogoURL string
}

// Deferred are the values that only exist once enrichment has run
type Deferred struct {
	Description    string
	ScreenshotPath string
}

// Builder copies the template folder into new company folders under root
type Builder struct {
	root        string
	templateDir string
	bucket      string
}

// NewBuilder creates a Builder. bucket names the logo bucket used in upload hints.
func NewBuilder(root, templateDir, bucket string) *Builder {
	return &Builder{root: root, templateDir: templateDir, bucket: bucket}
}

// Folder is a company folder under construction
type Folder struct {
	id        string
	stage     string
	final     string
	textFiles []string // stage-relative paths that went through substitution
	placed    bool
	discarded bool
}

// ID returns the company id the folder is built for
func (f *Folder) ID() string { return f.id }

// Dir returns where the folder currently lives
func (f *Folder) Dir() string {
	if f.placed {
		return f.final
	}
	return f.stage
}

func templateFailed(id string, err error) error {
	return fmt.Errorf("%w: %s: %v", failure.ErrTemplateInstantiationFailed, id, err)
}

// Build copies the template into a staging folder for id and substitutes the
// identifying fields. Nothing is written if id is already taken.
func (b *Builder) Build(ctx context.Context, id string, reg *registry.Registry, fields Fields) (*Folder, error) {
	if !registry.ValidID(id) {
		return nil, fmt.Errorf("%w: invalid company id %q", failure.ErrMalformedRequest, id)
	}
	final := filepath.Join(b.root, id)
	if _, err := os.Lstat(final); err == nil {
		return nil, fmt.Errorf("%w: folder %s already exists", failure.ErrDuplicateCompany, id)
	} else if !os.IsNotExist(err) {
		return nil, templateFailed(id, err)
	}
	if reg != nil && reg.Contains(id) {
		return nil, fmt.Errorf("%w: id %q is already registered", failure.ErrDuplicateCompany, id)
	}

	if st, err := os.Stat(b.templateDir); err != nil || !st.IsDir() {
		return nil, templateFailed(id, fmt.Errorf("template folder not found: %s", b.templateDir))
	}

	stage, err := os.MkdirTemp(b.root, ".stage-"+id+"-")
	if err != nil {
		return nil, templateFailed(id, err)
	}
	f := &Folder{id: id, stage: stage, final: final}

	website := fields.Website
	first := pass{
		values: map[string]string{
			TokenName:       fields.Name,
			TokenID:         id,
			TokenWebsite:    website,
			TokenTone:       fields.Tone,
			TokenTag:        fields.Tag,
			TokenLogoURL:    fields.LogoURL,
			TokenBucketHint: "s3://" + b.bucket + "/" + id + "/",
			TokenLogoHint:   id + "/logo.png",
		},
		blocks: map[string]bool{BlockWebsite: website != ""},
	}

	if err := f.copyTemplate(ctx, b.templateDir, first); err != nil {
		f.Discard()
		return nil, templateFailed(id, err)
	}
	log.Printf("[DEBUG] folder: staged %s from %s (%d text files)", id, b.templateDir, len(f.textFiles))
	return f, nil
}

func (f *Folder) copyTemplate(ctx context.Context, src string, p pass) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		dst := filepath.Join(f.stage, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(dst, info.Mode().Perm()|0o700)
		}
		if !info.Mode().IsRegular() {
			log.Printf("[WARN] folder: skipping non-regular template entry %s", rel)
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if isText(content) {
			content = []byte(p.render(string(content), isMarkup(rel)))
			f.textFiles = append(f.textFiles, rel)
		}
		return os.WriteFile(dst, content, info.Mode().Perm()|0o600)
	})
}

// Finalize renders the enrichment values into the staged text files and
// moves the folder to its final location
func (f *Folder) Finalize(ctx context.Context, d Deferred) error {
	if f.discarded {
		return templateFailed(f.id, errors.New("folder was discarded"))
	}
	if f.placed {
		return nil
	}

	second := pass{
		values: map[string]string{
			TokenSummary:     d.Description,
			TokenDescription: d.Description,
			TokenScreenshot:  d.ScreenshotPath,
		},
		blocks: map[string]bool{BlockScreenshot: d.ScreenshotPath != ""},
	}

	for _, rel := range f.textFiles {
		if err := ctx.Err(); err != nil {
			return templateFailed(f.id, err)
		}
		path := filepath.Join(f.stage, rel)
		info, err := os.Stat(path)
		if err != nil {
			return templateFailed(f.id, err)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return templateFailed(f.id, err)
		}
		rendered := second.render(string(content), isMarkup(rel))
		if err := os.WriteFile(path, []byte(rendered), info.Mode().Perm()); err != nil {
			return templateFailed(f.id, err)
		}
	}

	// rename(2) happily replaces an empty directory, so check first
	if _, err := os.Lstat(f.final); err == nil {
		return fmt.Errorf("%w: folder %s appeared while it was being built", failure.ErrDuplicateCompany, f.id)
	}
	if err := os.Rename(f.stage, f.final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: folder %s appeared while it was being built", failure.ErrDuplicateCompany, f.id)
		}
		return templateFailed(f.id, err)
	}
	f.placed = true
	log.Printf("[INFO] folder: created %s", f.final)
	return nil
}

// Discard removes the folder wherever it currently is. Safe to call twice.
func (f *Folder) Discard() {
	if f == nil || f.discarded {
		return
	}
	f.discarded = true
	if err := os.RemoveAll(f.Dir()); err != nil {
		log.Printf("[WARN] folder: failed to clean up %s: %v", f.Dir(), err)
	}
}

// Remove deletes the folder backing id. Used once its registry entry is gone.
func Remove(root, id string) error {
	if !registry.ValidID(id) {
		return fmt.Errorf("%w: invalid company id %q", failure.ErrMalformedRequest, id)
	}
	dir := filepath.Join(root, id)
	if !strings.HasPrefix(dir, filepath.Clean(root)+string(filepath.Separator)) {
		return fmt.Errorf("refusing to remove %s outside %s", dir, root)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove folder %s: %w", id, err)
	}
	return nil
}
