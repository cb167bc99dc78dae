package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gurisko/demosite/internal/intent"
)

var (
	createWebsite    string
	createTone       string
	deleteKeepFolder bool
)

var createCmd = &cobra.Command{
	Use:   "create <company name>",
	Short: "Create a company site",
	Long: `Create a company folder from the template and register it.

Examples:
  demosite create "Acme Co" --website acme.com
  demosite create "Globex" --tone Playful --commit`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields := [][2]string{
			{intent.LabelAction, string(intent.ActionCreate)},
			{intent.LabelCompanyName, strings.Join(args, " ")},
			{intent.LabelWebsite, createWebsite},
			{intent.LabelTone, createTone},
		}
		return runCompany(cmd, fields, false)
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive <company id>",
	Short: "Hide a company site from the landing page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompany(cmd, byID(intent.ActionArchive, args[0]), false)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <company id>",
	Short: "Show an archived company site again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompany(cmd, byID(intent.ActionRestore, args[0]), false)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <company id>",
	Short: "Remove a company site and its registry entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompany(cmd, byID(intent.ActionDelete, args[0]), deleteKeepFolder)
	},
}

func init() {
	rootCmd.AddCommand(createCmd, archiveCmd, restoreCmd, deleteCmd)
	createCmd.Flags().StringVar(&createWebsite, "website", "", "company website, used for enrichment")
	createCmd.Flags().StringVar(&createTone, "tone", intent.DefaultTone, "tone for generated copy")
	deleteCmd.Flags().BoolVar(&deleteKeepFolder, "keep-folder", false, "keep the folder and screenshot on disk")
}

func byID(action intent.Action, id string) [][2]string {
	return [][2]string{
		{intent.LabelAction, string(action)},
		{intent.LabelCompanyID, id},
	}
}

// issueBody renders label/value pairs the way an issue form would, so
// command-line requests go through the same parser as submitted issues
func issueBody(fields [][2]string) string {
	var b strings.Builder
	for _, f := range fields {
		value := strings.Join(strings.Fields(f[1]), " ")
		if value == "" {
			continue
		}
		fmt.Fprintf(&b, "**%s:** %s\n", f[0], value)
	}
	return b.String()
}

func runCompany(cmd *cobra.Command, fields [][2]string, keepFolder bool) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	p, cleanup := a.newPipeline(keepFolder)
	defer cleanup()

	res := p.Run(cmd.Context(), intent.Issue{Body: issueBody(fields)})
	return a.finish(res, "")
}
