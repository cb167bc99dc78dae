package paths

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// Layout locates the pieces of a demo-site repository relative to its root.
type Layout struct {
	Root           string
	RegistryFile   string
	TemplateDir    string
	ScreenshotsDir string
}

// Repository-relative defaults, matching the landing page's expectations
const (
	AssetsDir          = "assets"
	RegistryFile       = "assets/sites.json"
	TemplateDir        = "company-template"
	ScreenshotsDir     = "assets/screenshots"
	ScreenshotsWebPath = "/assets/screenshots/"
	EntryPage          = "index.html"
)

// NewLayout resolves rel paths against root. Absolute paths are kept as given.
func NewLayout(root, registryFile, templateDir, screenshotsDir string) Layout {
	return Layout{
		Root:           root,
		RegistryFile:   resolve(root, registryFile, RegistryFile),
		TemplateDir:    resolve(root, templateDir, TemplateDir),
		ScreenshotsDir: resolve(root, screenshotsDir, ScreenshotsDir),
	}
}

func resolve(root, p, def string) string {
	if p == "" {
		p = def
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, filepath.FromSlash(p))
}

// CompanyDir is the on-disk folder backing the site with the given id.
func (l Layout) CompanyDir(id string) string { return filepath.Join(l.Root, id) }

// ScreenshotFile is where the screenshot for id is stored.
func (l Layout) ScreenshotFile(id string) string {
	return filepath.Join(l.ScreenshotsDir, id+".png")
}

func DefaultCacheDir() string {
	if x := os.Getenv("XDG_CACHE_HOME"); x != "" {
		return filepath.Join(x, "demosite")
	}
	home, err := homedir.Dir()
	if err != nil {
		return filepath.Join(os.TempDir(), "demosite")
	}
	return filepath.Join(home, ".cache", "demosite")
}

func DefaultSummaryCachePath() string { return filepath.Join(DefaultCacheDir(), "summaries.db") }
