// Package config provides configuration types and defaults for demosite.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/gurisko/demosite/internal/enrich"
	"github.com/gurisko/demosite/internal/paths"
	"github.com/gurisko/demosite/internal/registry"
)

// EnvPrefix prefixes every environment override, e.g. DEMOSITE_FETCH_TIMEOUT
const EnvPrefix = "DEMOSITE"

// LocalConfigFile is looked up relative to the site root
const LocalConfigFile = ".demosite/config.yaml"

// Config holds all configuration options for demosite.
type Config struct {
	Root       string           `mapstructure:"root"`
	Paths      PathsConfig      `mapstructure:"paths"`
	Site       SiteConfig       `mapstructure:"site"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Summary    SummaryConfig    `mapstructure:"summary"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Git        GitConfig        `mapstructure:"git"`
	Serve      ServeConfig      `mapstructure:"serve"`
	Watch      WatchConfig      `mapstructure:"watch"`
}

// PathsConfig locates the registry, template and screenshots. Relative
// paths are resolved against Root.
type PathsConfig struct {
	Registry    string `mapstructure:"registry"`
	Template    string `mapstructure:"template"`
	Screenshots string `mapstructure:"screenshots"`
}

// SiteConfig holds the defaults new sites get.
type SiteConfig struct {
	DefaultTag  string   `mapstructure:"default_tag"`
	LogoBaseURL string   `mapstructure:"logo_base_url"`
	LogoBucket  string   `mapstructure:"logo_bucket"` // shown in upload hints
	Exclude     []string `mapstructure:"exclude"`     // extra folders rebuild ignores
}

type FetchConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// SummaryConfig configures the summary service. An empty APIKey turns
// summarization off.
type SummaryConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Cache       bool          `mapstructure:"cache"`
	CachePath   string        `mapstructure:"cache_path"`
}

type ScreenshotConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Timeout    time.Duration `mapstructure:"timeout"`
	ChromePath string        `mapstructure:"chrome_path"`
	Width      int           `mapstructure:"width"`
	Height     int           `mapstructure:"height"`
}

// RegistryConfig tunes optimistic concurrency on sites.json.
type RegistryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryBase   time.Duration `mapstructure:"retry_base"`
	LockStale   time.Duration `mapstructure:"lock_stale"`
}

// GitConfig is the identity --commit writes as.
type GitConfig struct {
	AuthorName  string `mapstructure:"author_name"`
	AuthorEmail string `mapstructure:"author_email"`
}

type ServeConfig struct {
	Addr string `mapstructure:"addr"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	reg := registry.DefaultOptions()
	return Config{
		Paths: PathsConfig{
			Registry:    paths.RegistryFile,
			Template:    paths.TemplateDir,
			Screenshots: paths.ScreenshotsDir,
		},
		Site: SiteConfig{
			DefaultTag:  reg.DefaultTag,
			LogoBaseURL: reg.LogoBaseURL,
			LogoBucket:  "sfdcdemoimages",
		},
		Fetch: FetchConfig{Timeout: 20 * time.Second},
		Summary: SummaryConfig{
			Model:       enrich.DefaultSummaryModel,
			BaseURL:     enrich.DefaultSummaryBaseURL,
			Timeout:     60 * time.Second,
			MaxAttempts: 5,
			Cache:       true,
			CachePath:   paths.DefaultSummaryCachePath(),
		},
		Screenshot: ScreenshotConfig{
			Enabled: true,
			Timeout: 45 * time.Second,
			Width:   1280,
			Height:  720,
		},
		Registry: RegistryConfig{
			MaxAttempts: reg.MaxAttempts,
			RetryBase:   reg.RetryBase,
			LockStale:   reg.LockStale,
		},
		Git: GitConfig{
			AuthorName:  "demosite-bot",
			AuthorEmail: "demosite-bot@users.noreply.github.com",
		},
		Serve: ServeConfig{Addr: "127.0.0.1:8080"},
		Watch: WatchConfig{Debounce: 500 * time.Millisecond},
	}
}

// SetDefaults registers every default with v.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("root", d.Root)
	v.SetDefault("paths.registry", d.Paths.Registry)
	v.SetDefault("paths.template", d.Paths.Template)
	v.SetDefault("paths.screenshots", d.Paths.Screenshots)
	v.SetDefault("site.default_tag", d.Site.DefaultTag)
	v.SetDefault("site.logo_base_url", d.Site.LogoBaseURL)
	v.SetDefault("site.logo_bucket", d.Site.LogoBucket)
	v.SetDefault("site.exclude", d.Site.Exclude)
	v.SetDefault("fetch.timeout", d.Fetch.Timeout)
	v.SetDefault("summary.api_key", d.Summary.APIKey)
	v.SetDefault("summary.model", d.Summary.Model)
	v.SetDefault("summary.base_url", d.Summary.BaseURL)
	v.SetDefault("summary.timeout", d.Summary.Timeout)
	v.SetDefault("summary.max_attempts", d.Summary.MaxAttempts)
	v.SetDefault("summary.cache", d.Summary.Cache)
	v.SetDefault("summary.cache_path", d.Summary.CachePath)
	v.SetDefault("screenshot.enabled", d.Screenshot.Enabled)
	v.SetDefault("screenshot.timeout", d.Screenshot.Timeout)
	v.SetDefault("screenshot.chrome_path", d.Screenshot.ChromePath)
	v.SetDefault("screenshot.width", d.Screenshot.Width)
	v.SetDefault("screenshot.height", d.Screenshot.Height)
	v.SetDefault("registry.max_attempts", d.Registry.MaxAttempts)
	v.SetDefault("registry.retry_base", d.Registry.RetryBase)
	v.SetDefault("registry.lock_stale", d.Registry.LockStale)
	v.SetDefault("git.author_name", d.Git.AuthorName)
	v.SetDefault("git.author_email", d.Git.AuthorEmail)
	v.SetDefault("serve.addr", d.Serve.Addr)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
}

// BindEnv wires DEMOSITE_* overrides plus the bare variable names the
// summary service is conventionally configured with.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("summary.api_key", EnvPrefix+"_SUMMARY_API_KEY", "AI_SUMMARY_API_KEY", "OPENAI_API_KEY"); err != nil {
		return err
	}
	return v.BindEnv("summary.model", EnvPrefix+"_SUMMARY_MODEL", "AI_SUMMARY_MODEL", "OPENAI_MODEL")
}

// Load reads configuration into a Config. cfgFile, when set, must exist.
// Otherwise <root>/.demosite/config.yaml and then
// ~/.config/demosite/config.yaml are tried, and neither is required.
func Load(v *viper.Viper, cfgFile, root string) (Config, error) {
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return Config{}, fmt.Errorf("failed to bind environment: %w", err)
	}

	switch {
	case cfgFile != "":
		v.SetConfigFile(cfgFile)
	case fileExists(filepath.Join(root, LocalConfigFile)):
		v.SetConfigFile(filepath.Join(root, LocalConfigFile))
	default:
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "demosite"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Root == "" {
		cfg.Root = root
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings no command can work with.
func (c Config) Validate() error {
	if c.Root == "" {
		return errors.New("site root is not set")
	}
	if c.Registry.MaxAttempts < 1 {
		return fmt.Errorf("registry.max_attempts must be at least 1, got %d", c.Registry.MaxAttempts)
	}
	if c.Summary.MaxAttempts < 1 {
		return fmt.Errorf("summary.max_attempts must be at least 1, got %d", c.Summary.MaxAttempts)
	}
	for name, d := range map[string]time.Duration{
		"fetch.timeout":      c.Fetch.Timeout,
		"summary.timeout":    c.Summary.Timeout,
		"screenshot.timeout": c.Screenshot.Timeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// Layout resolves the configured paths against Root.
func (c Config) Layout() paths.Layout {
	return paths.NewLayout(c.Root, c.Paths.Registry, c.Paths.Template, c.Paths.Screenshots)
}

// StoreOptions converts the registry settings for registry.NewStore. A
// template folder sitting directly under the root is never a company.
func (c Config) StoreOptions() registry.Options {
	exclude := append([]string(nil), c.Site.Exclude...)
	if tmpl := c.Layout().TemplateDir; filepath.Dir(tmpl) == filepath.Clean(c.Root) {
		exclude = append(exclude, filepath.Base(tmpl))
	}
	return registry.Options{
		MaxAttempts: c.Registry.MaxAttempts,
		RetryBase:   c.Registry.RetryBase,
		LockStale:   c.Registry.LockStale,
		DefaultTag:  c.Site.DefaultTag,
		LogoBaseURL: strings.TrimRight(c.Site.LogoBaseURL, "/"),
		Exclude:     exclude,
	}
}

// SummaryEnabled reports whether a credential for the summary service is set.
func (c Config) SummaryEnabled() bool {
	return strings.TrimSpace(c.Summary.APIKey) != ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
