package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gurisko/demosite/internal/registry"
	"github.com/gurisko/demosite/internal/watch"
)

var rebuildWatch bool

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Regenerate sites.json from the company folders on disk",
	Long: `Scan the site root and rewrite the registry to match it. Folders with an
index.html become sites; entries without a folder are dropped; existing
entries keep their name, description, tag, logo and archived flag.

With --watch, keep running and rebuild whenever folders change.`,
	Args: cobra.NoArgs,
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
	rebuildCmd.Flags().BoolVarP(&rebuildWatch, "watch", "w", false, "rebuild again whenever folders change")
	rebuildCmd.Flags().Duration("debounce", watch.DefaultDebounce, "quiet period before a watched rebuild")
	_ = viper.BindPFlag("watch.debounce", rebuildCmd.Flags().Lookup("debounce"))
}

// rebuildOnce rebuilds and, with --commit, commits the registry
func (a *app) rebuildOnce(ctx context.Context) (*registry.Registry, error) {
	reg, err := a.store.Rebuild(ctx, a.layout.Root)
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] registry rebuilt: %d site(s)", len(reg.Sites))
	if commitFlag {
		if err := a.commit("demosite: rebuild registry", a.store.Path()); err != nil {
			return reg, err
		}
	}
	return reg, nil
}

func runRebuild(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	reg, err := a.rebuildOnce(cmd.Context())
	if err != nil {
		return err
	}
	if !rebuildWatch {
		return writeValue(os.Stdout, outputFormat, reg)
	}

	w, err := watch.New(watch.Config{
		Root:     a.layout.Root,
		Debounce: a.cfg.Watch.Debounce,
		Ignore:   a.store.Excluded,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("[INFO] watching %s for folder changes", a.layout.Root)
	return w.Run(ctx, func(ctx context.Context) {
		if _, err := a.rebuildOnce(ctx); err != nil {
			log.Printf("[WARN] rebuild failed: %v", err)
		}
	})
}
