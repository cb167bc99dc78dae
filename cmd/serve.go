package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gurisko/demosite/internal/preview"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Preview the site root over HTTP",
	Long: `Serve the landing page and company folders locally.

Endpoints:
  /            static files from the site root (dotfiles hidden)
  /api/sites   the registry as JSON
  /health      liveness

Examples:
  demosite serve
  demosite serve --addr :9000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		s, err := preview.New(preview.Config{
			Root:  a.layout.Root,
			Addr:  a.cfg.Serve.Addr,
			Store: a.store,
		})
		if err != nil {
			return err
		}
		return s.ListenAndServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "127.0.0.1:8080", "listen address")
	_ = viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr"))
}
