package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gurisko/demosite/internal/config"
	"github.com/gurisko/demosite/internal/failure"
	"github.com/gurisko/demosite/internal/paths"
	"github.com/gurisko/demosite/internal/registry"
	"github.com/gurisko/demosite/internal/repo"
)

var (
	cfgFile      string
	siteRoot     string
	outputFormat string
	commitFlag   bool
	quietFlag    bool
)

var rootCmd = &cobra.Command{
	Use:   "demosite",
	Short: "Demo site generator driven by issue submissions",
	Long: `demosite turns "create / archive / restore / delete company" requests into
company folders under the site root and entries in assets/sites.json.

The site root defaults to the enclosing git worktree, or the current
directory outside of one.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(os.Stderr, quietFlag)
		switch outputFormat {
		case "json", "yaml":
			return nil
		default:
			return fmt.Errorf("unknown --format %q (want json or yaml)", outputFormat)
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default <root>/.demosite/config.yaml)")
	pf.StringVar(&siteRoot, "root", "", "site root (default: git worktree or current directory)")
	pf.StringVar(&outputFormat, "format", "json", "result format: json or yaml")
	pf.BoolVar(&commitFlag, "commit", false, "commit the files a run changed")
	pf.BoolVarP(&quietFlag, "quiet", "q", false, "only log warnings")
}

func Execute() error {
	// Silence usage and errors to avoid cluttering output with Cobra defaults
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	return rootCmd.Execute()
}

// exitError reports a failure whose Result was already printed
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// ExitCode maps an error returned by Execute to a process exit code
func ExitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return failure.ExitCode(err)
}

// levelFilter drops log lines carrying any of the given level tags
type levelFilter struct {
	w    io.Writer
	drop [][]byte
}

func (f levelFilter) Write(p []byte) (int, error) {
	for _, tag := range f.drop {
		if bytes.Contains(p, tag) {
			return len(p), nil
		}
	}
	return f.w.Write(p)
}

func setupLogging(w io.Writer, quiet bool) {
	if quiet {
		w = levelFilter{w: w, drop: [][]byte{[]byte("[DEBUG]"), []byte("[INFO]")}}
	}
	log.SetOutput(w)
}

// app is everything a command needs once configuration is loaded
type app struct {
	cfg    config.Config
	layout paths.Layout
	store  *registry.Store
}

// resolveRoot picks --root, else the enclosing worktree, else the working directory
func resolveRoot() (string, error) {
	if siteRoot != "" {
		return filepath.Abs(siteRoot)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	if root, err := repo.DetectRoot(wd); err == nil {
		return root, nil
	}
	return wd, nil
}

func loadApp() (*app, error) {
	root, err := resolveRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(viper.GetViper(), cfgFile, root)
	if err != nil {
		return nil, err
	}
	layout := cfg.Layout()
	log.Printf("[DEBUG] site root %s, registry %s", layout.Root, layout.RegistryFile)
	return &app{
		cfg:    cfg,
		layout: layout,
		store:  registry.NewStore(layout.RegistryFile, cfg.StoreOptions()),
	}, nil
}
